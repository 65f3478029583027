package cmd

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/workbench-tasks/internal/app"
	"github.com/JakeFAU/workbench-tasks/internal/config"
	"github.com/JakeFAU/workbench-tasks/internal/storage/memory"
	"github.com/JakeFAU/workbench-tasks/internal/store"
)

func TestScanCommand(t *testing.T) {
	newApp = func(ctx context.Context, cfg config.Config, logger *zap.Logger) (*app.App, error) {
		return app.New(ctx, cfg, logger, app.WithRegisterer(prometheus.NewRegistry()))
	}

	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.md"), []byte("# notes"), 0o600))

	cfgPath := filepath.Join(t.TempDir(), "workbench.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte("logging:\n  development: false\n  level: error\n"), 0o600))

	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs([]string{"--config", cfgPath, "scan", dir})

	require.NoError(t, root.ExecuteContext(context.Background()))
	require.Contains(t, out.String(), "scanning "+dir)
	require.Contains(t, out.String(), "[100%] notes.md")
	require.Contains(t, out.String(), "done: 1 files, 0 dirs, 7 bytes")
}

func TestScanCommandMissingDir(t *testing.T) {
	newApp = func(ctx context.Context, cfg config.Config, logger *zap.Logger) (*app.App, error) {
		return app.New(ctx, cfg, logger, app.WithRegisterer(prometheus.NewRegistry()))
	}

	cfgPath := filepath.Join(t.TempDir(), "workbench.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte("logging:\n  development: false\n  level: error\n"), 0o600))

	root := newRootCmd()
	root.SetOut(&bytes.Buffer{})
	root.SetErr(&bytes.Buffer{})
	root.SetArgs([]string{"--config", cfgPath, "scan", filepath.Join(t.TempDir(), "absent")})

	err := root.ExecuteContext(context.Background())
	require.ErrorContains(t, err, "not a directory")
}

func TestFailedScanStillRecordsRun(t *testing.T) {
	repo := memory.NewRunStore()
	newApp = func(ctx context.Context, cfg config.Config, logger *zap.Logger) (*app.App, error) {
		return app.New(ctx, cfg, logger,
			app.WithRegisterer(prometheus.NewRegistry()),
			app.WithRunRepository(repo),
		)
	}

	cfgPath := filepath.Join(t.TempDir(), "workbench.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte("logging:\n  development: false\n  level: error\n"), 0o600))

	root := newRootCmd()
	root.SetOut(&bytes.Buffer{})
	root.SetErr(&bytes.Buffer{})
	root.SetArgs([]string{"--config", cfgPath, "scan", filepath.Join(t.TempDir(), "absent")})

	require.ErrorContains(t, root.ExecuteContext(context.Background()), "not a directory")

	runs, err := repo.ListRuns(context.Background(), nil, 10, 0)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	require.Equal(t, store.RunError, runs[0].Status)
	require.Equal(t, "scan", runs[0].Name)
	require.NotNil(t, runs[0].ErrorMessage)
	require.Contains(t, *runs[0].ErrorMessage, "not a directory")
}
