package cmd

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/workbench-tasks/internal/app"
)

// newServeCmd creates the 'serve' subcommand, which runs the HTTP API and the
// task pool until interrupted.
func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve the task API",
		Long: `Starts the HTTP API. Tasks are submitted with POST /api/tasks/{name},
cancelled with POST /api/tasks/{name}/cancel and their history is available
under /api/runs. SIGINT or SIGTERM cancels running tasks and shuts down.`,
		RunE: withApp(runServeCommand),
	}
}

func runServeCommand(cmd *cobra.Command, _ []string, appInstance *app.App) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := appInstance.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	appInstance.Logger().Info("serve command finished")
	return nil
}
