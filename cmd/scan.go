package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/workbench-tasks/internal/app"
	"github.com/JakeFAU/workbench-tasks/internal/scan"
	"github.com/JakeFAU/workbench-tasks/internal/task"
)

// newScanCmd creates the 'scan' subcommand. The scan runs on a pool worker
// while this goroutine runs the control loop that prints its notifications.
func newScanCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "scan <dir>",
		Short: "Scan a project directory in the background",
		Long: `Walks <dir> on a background worker and prints progress as it is reported.
Ctrl-C requests cooperative cancellation; the scan stops at its next check.`,
		Args: cobra.ExactArgs(1),
		RunE: withApp(runScanCommand),
	}
}

func runScanCommand(cmd *cobra.Command, args []string, appInstance *app.App) error {
	sigCtx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	out := cmd.OutOrStdout()
	loopCtx, finish := context.WithCancel(context.Background())
	defer finish()

	var outcome error
	obs := task.Callbacks{
		OnStarted: func() {
			fmt.Fprintf(out, "scanning %s\n", args[0])
		},
		OnProgress: func(value int, message string) {
			fmt.Fprintf(out, "[%3d%%] %s\n", value, message)
		},
		OnFinished: func(result any) {
			printSummary(out, result)
			finish()
		},
		OnError: func(err *task.TaskError) {
			outcome = err
			finish()
		},
		OnCancelled: func() {
			fmt.Fprintln(out, "scan cancelled")
			outcome = task.ErrCancelled
			finish()
		},
	}

	w, err := appInstance.Pool().Submit(scan.Kind, scan.Task(appInstance.Cache(), args[0]), obs)
	if err != nil {
		return err
	}
	go func() {
		select {
		case <-sigCtx.Done():
			w.Cancel()
		case <-loopCtx.Done():
		}
	}()

	if err := appInstance.Loop().Run(loopCtx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return outcome
}

func printSummary(out io.Writer, result any) {
	sum, ok := result.(scan.Summary)
	if !ok {
		fmt.Fprintf(out, "done: %v\n", result)
		return
	}
	fmt.Fprintf(out, "done: %d files, %d dirs, %d bytes under %s\n", sum.Files, sum.Dirs, sum.Bytes, sum.Root)
	if sum.Vanished > 0 {
		fmt.Fprintf(out, "%d entries vanished during the scan\n", sum.Vanished)
	}
}
