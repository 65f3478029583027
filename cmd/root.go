// Package cmd defines and implements the CLI commands for the workbench executable.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/workbench-tasks/internal/app"
	"github.com/JakeFAU/workbench-tasks/internal/config"
	"github.com/JakeFAU/workbench-tasks/internal/logging"
)

// stateKeyType is the key for storing the root state in the context.
type stateKeyType string

const stateKey stateKeyType = "root_state"

// newApp is the application factory. It's a variable so tests can inject
// their own registry or repository.
var newApp = func(ctx context.Context, cfg config.Config, logger *zap.Logger) (*app.App, error) {
	return app.New(ctx, cfg, logger)
}

type rootState struct {
	cfgFile string
	cfg     config.Config
	logger  *zap.Logger
	app     *app.App
}

// shutdown closes the App built by the pre-run hook. Later calls do nothing.
func (s *rootState) shutdown() error {
	if s.app == nil {
		return nil
	}
	appInstance := s.app
	s.app = nil
	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout())
	defer cancel()
	closeErr := appInstance.Close(ctx)
	_ = s.logger.Sync() //nolint:errcheck // best-effort flush
	return closeErr
}

// newRootCmd creates and configures the root command.
func newRootCmd() *cobra.Command {
	state := &rootState{}
	cmd := &cobra.Command{
		Use:   "workbench",
		Short: "Background task runtime for the ML workbench.",
		Long: `workbench runs long operations such as training runs, data scans and
model exports off the control loop, reporting their progress back to it and
recording every run for later inspection.`,
		SilenceUsage: true,

		// Builds the application before any subcommand runs.
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(state.cfgFile)
			if err != nil {
				return err
			}
			logger, err := logging.New(cfg.Logging.Development, cfg.Logging.Level)
			if err != nil {
				return err
			}
			zap.ReplaceGlobals(logger)
			state.cfg, state.logger = cfg, logger

			appInstance, err := newApp(cmd.Context(), cfg, logger)
			if err != nil {
				return fmt.Errorf("failed to initialize application services: %w", err)
			}
			state.app = appInstance
			cmd.SetContext(context.WithValue(cmd.Context(), stateKey, state))
			return nil
		},
	}

	cmd.PersistentFlags().StringVar(&state.cfgFile, "config", "", "config file (YAML, JSON or TOML)")

	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newScanCmd())

	return cmd
}

// withApp adapts run into a RunE that always shuts the App down afterwards.
// cobra skips post-run hooks when RunE fails, so teardown cannot live there.
func withApp(run func(cmd *cobra.Command, args []string, appInstance *app.App) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) (err error) {
		state, ok := cmd.Context().Value(stateKey).(*rootState)
		if !ok || state.app == nil {
			return errors.New("application services not initialized")
		}
		defer func() {
			err = errors.Join(err, state.shutdown())
		}()
		return run(cmd, args, state.app)
	}
}

// Execute is the main entry point.
func Execute() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
