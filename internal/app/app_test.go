package app_test

import (
	"context"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/JakeFAU/workbench-tasks/internal/app"
	"github.com/JakeFAU/workbench-tasks/internal/config"
	"github.com/JakeFAU/workbench-tasks/internal/scan"
	"github.com/JakeFAU/workbench-tasks/internal/store"
	"github.com/JakeFAU/workbench-tasks/internal/task"
)

func testConfig() config.Config {
	return config.Config{
		Server:   config.ServerConfig{Port: 8080},
		Pool:     config.PoolConfig{MaxWorkers: 2},
		Progress: config.ProgressConfig{MaxBatchWaitMs: 10, SinkTimeoutMs: 1000},
		Storage:  config.StorageConfig{Provider: config.StorageMemory},
		Cache:    config.CacheConfig{MaxSize: 100, TTLSeconds: 60},
	}
}

type recordingPublisher struct {
	mu    sync.Mutex
	attrs []map[string]string
}

func (p *recordingPublisher) Publish(_ context.Context, _ []byte, attrs map[string]string) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.attrs = append(p.attrs, attrs)
	return "msg-1", nil
}

func (p *recordingPublisher) Close() error { return nil }

func newApp(t *testing.T, opts ...app.Option) *app.App {
	t.Helper()
	opts = append([]app.Option{app.WithRegisterer(prometheus.NewRegistry())}, opts...)
	a, err := app.New(context.Background(), testConfig(), zaptest.NewLogger(t), opts...)
	require.NoError(t, err)
	return a
}

func TestNewRejectsUnknownStorage(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.Storage.Provider = "s3"
	_, err := app.New(context.Background(), cfg, nil, app.WithRegisterer(prometheus.NewRegistry()))
	require.Error(t, err)
}

func TestScanThroughAPIIsRecorded(t *testing.T) {
	t.Parallel()

	pub := &recordingPublisher{}
	a := newApp(t, app.WithPublisher(pub))

	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "model.onnx"), []byte("weights"), 0o600))

	body := `{"kind":"scan","params":{"dir":"` + filepath.ToSlash(dir) + `"}}`
	req := httptest.NewRequest(http.MethodPost, "/api/tasks/project-scan", strings.NewReader(body))
	rec := httptest.NewRecorder()
	a.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	res, err := a.Pool().Result(ctx, "project-scan")
	require.NoError(t, err)
	require.Equal(t, 1, res.(scan.Summary).Files)

	w, ok := a.Pool().Worker("project-scan")
	require.True(t, ok)

	require.NoError(t, a.Close(ctx))

	run, err := a.Repository().GetRun(ctx, w.RunID())
	require.NoError(t, err)
	require.Equal(t, store.RunSuccess, run.Status)
	require.Equal(t, "project-scan", run.Name)
	require.Equal(t, 100, run.Percent)

	pub.mu.Lock()
	defer pub.mu.Unlock()
	require.Len(t, pub.attrs, 1)
}

func TestObserverNotificationsRunOnLoop(t *testing.T) {
	t.Parallel()

	a := newApp(t)
	var kinds []task.Kind
	_, err := a.Pool().Submit("observed", func(_ context.Context, p *task.Progress) (any, error) {
		p.Report(10)
		return "ok", nil
	}, task.ObserverFunc(func(n task.Notification) { kinds = append(kinds, n.Kind) }))
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, err = a.Pool().Result(ctx, "observed")
	require.NoError(t, err)

	// Delivered only when the control loop runs, here through Close.
	require.Empty(t, kinds)
	require.NoError(t, a.Close(ctx))
	require.Equal(t, []task.Kind{task.KindStarted, task.KindProgress, task.KindSucceeded}, kinds)
}

func TestServeStopsOnContextCancel(t *testing.T) {
	t.Parallel()

	a := newApp(t)
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Serve(ctx, ln) }()

	require.Eventually(t, func() bool {
		resp, err := http.Get("http://" + ln.Addr().String() + "/healthz")
		if err != nil {
			return false
		}
		defer resp.Body.Close() //nolint:errcheck // test helper
		return resp.StatusCode == http.StatusOK
	}, 2*time.Second, 20*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Serve did not return after cancel")
	}

	closeCtx, closeCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer closeCancel()
	require.NoError(t, a.Close(closeCtx))
}

func TestAuthGuardsTaskAPI(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.Auth = config.AuthConfig{Enabled: true, APIKey: "s3cret"}
	a, err := app.New(context.Background(), cfg, zaptest.NewLogger(t), app.WithRegisterer(prometheus.NewRegistry()))
	require.NoError(t, err)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		require.NoError(t, a.Close(ctx))
	})

	body := `{"kind":"scan","params":{"dir":"/"}}`
	req := httptest.NewRequest(http.MethodPost, "/api/tasks/root-scan", strings.NewReader(body))
	rec := httptest.NewRecorder()
	a.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	require.Zero(t, a.Pool().Len())

	req = httptest.NewRequest(http.MethodGet, "/api/runs", nil)
	req.Header.Set("X-API-Key", "s3cret")
	rec = httptest.NewRecorder()
	a.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestMemoryReportsReachTracker(t *testing.T) {
	t.Parallel()

	a := newApp(t)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		require.NoError(t, a.Close(ctx))
	})

	req := httptest.NewRequest(http.MethodPut, "/api/memory/tokenizer", strings.NewReader(`{"bytes": 300}`))
	rec := httptest.NewRecorder()
	a.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	require.Equal(t, int64(300), a.Memory().Total())
}
