// Package pool runs named tasks on a bounded set of worker slots.
//
// Each submitted task gets its own task.Worker and goroutine; the pool only
// bounds how many of them execute at once. A task waiting for a slot already
// counts as Running from the caller's point of view, so cancelling it while
// queued ends it as Cancelled without the task body ever running.
package pool

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"slices"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/JakeFAU/workbench-tasks/internal/metrics"
	"github.com/JakeFAU/workbench-tasks/internal/progress"
	"github.com/JakeFAU/workbench-tasks/internal/task"
)

var (
	// ErrClosed is returned by Submit after Shutdown.
	ErrClosed = errors.New("pool closed")
	// ErrUnknownTask is returned when no task was submitted under a name.
	ErrUnknownTask = errors.New("unknown task")
)

// Config bounds the pool.
type Config struct {
	// MaxWorkers caps concurrently executing tasks. Zero means 2×NumCPU.
	MaxWorkers int
}

func (c Config) withDefaults() Config {
	if c.MaxWorkers <= 0 {
		c.MaxWorkers = 2 * runtime.NumCPU()
	}
	return c
}

// Option configures a Pool.
type Option func(*Pool)

// WithLogger sets the structured logger shared with the workers.
func WithLogger(logger *zap.Logger) Option {
	return func(p *Pool) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// WithDispatcher sets the control context every worker posts notifications to.
func WithDispatcher(d task.Dispatcher) Option {
	return func(p *Pool) { p.dispatch = d }
}

// WithEmitter mirrors every worker's lifecycle into a telemetry emitter.
func WithEmitter(e progress.Emitter) Option {
	return func(p *Pool) { p.emitter = e }
}

// Pool owns a set of named workers.
type Pool struct {
	cfg      Config
	sem      *semaphore.Weighted
	logger   *zap.Logger
	dispatch task.Dispatcher
	emitter  progress.Emitter

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.Mutex
	workers map[string]*task.Worker
	closed  bool
}

// New builds a pool. Workers started by it stop when Shutdown is called.
func New(cfg Config, opts ...Option) *Pool {
	cfg = cfg.withDefaults()
	metrics.Init()
	p := &Pool{
		cfg:     cfg,
		sem:     semaphore.NewWeighted(int64(cfg.MaxWorkers)),
		logger:  zap.NewNop(),
		workers: make(map[string]*task.Worker),
	}
	for _, opt := range opts {
		opt(p)
	}
	p.ctx, p.cancel = context.WithCancel(context.Background())
	return p
}

// MaxWorkers reports the configured concurrency bound.
func (p *Pool) MaxWorkers() int {
	return p.cfg.MaxWorkers
}

// Submit starts fn under name. A task already registered under the same name
// is cancelled and replaced; its result is no longer reachable through the
// pool. obs may be nil.
func (p *Pool) Submit(name string, fn task.Func, obs task.Observer) (*task.Worker, error) {
	if fn == nil {
		return nil, task.ErrNilTask
	}
	opts := []task.Option{
		task.WithName(name),
		task.WithLogger(p.logger),
		task.WithContext(p.ctx),
	}
	if obs != nil {
		opts = append(opts, task.WithObserver(obs))
		if p.dispatch != nil {
			opts = append(opts, task.WithDispatcher(p.dispatch))
		}
	}
	if p.emitter != nil {
		opts = append(opts, task.WithEmitter(p.emitter))
	}
	w := task.New(p.gate(fn), opts...)

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil, ErrClosed
	}
	prev, replaced := p.workers[name]
	if err := w.Start(); err != nil {
		return nil, fmt.Errorf("start task %q: %w", name, err)
	}
	p.workers[name] = w
	if replaced {
		prev.Cancel()
		p.logger.Info("pool task replaced",
			zap.String("name", name),
			zap.String("previous_worker_id", prev.ID()),
			zap.String("worker_id", w.ID()),
		)
	}
	metrics.ObserveSubmitted(replaced)

	p.wg.Add(1)
	go p.track(w)
	return w, nil
}

// gate wraps fn so that it holds a semaphore slot while it executes.
func (p *Pool) gate(fn task.Func) task.Func {
	return func(ctx context.Context, prog *task.Progress) (any, error) {
		queuedAt := time.Now()
		metrics.IncQueued()
		err := p.sem.Acquire(ctx, 1)
		metrics.DecQueued()
		if err != nil {
			return nil, task.ErrCancelled
		}
		defer p.sem.Release(1)
		metrics.ObserveQueueWait(time.Since(queuedAt))

		metrics.IncRunning()
		defer metrics.DecRunning()
		return fn(ctx, prog)
	}
}

func (p *Pool) track(w *task.Worker) {
	defer p.wg.Done()
	<-w.Done()
	state := w.State()
	metrics.ObserveFinished(state.String())
	p.logger.Debug("pool task finished",
		zap.String("name", w.Name()),
		zap.String("worker_id", w.ID()),
		zap.Stringer("state", state),
	)
}

// Worker returns the current worker registered under name.
func (p *Pool) Worker(name string) (*task.Worker, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	w, ok := p.workers[name]
	return w, ok
}

// Result waits for the named task and returns its outcome. A Failed task
// yields its *task.TaskError and a Cancelled one task.ErrCancelled. ctx bounds
// the wait only; the task keeps running when it expires. Results stay
// available until the name is resubmitted.
func (p *Pool) Result(ctx context.Context, name string) (any, error) {
	w, ok := p.Worker(name)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownTask, name)
	}
	if err := w.Wait(ctx); err != nil {
		return nil, err
	}
	return w.Result()
}

// Cancel requests cancellation of the named task. It reports whether a task
// was found that had not yet finished.
func (p *Pool) Cancel(name string) bool {
	w, ok := p.Worker(name)
	if !ok || w.State().Terminal() {
		return false
	}
	w.Cancel()
	return true
}

// Names lists registered task names in lexical order.
func (p *Pool) Names() []string {
	p.mu.Lock()
	names := make([]string, 0, len(p.workers))
	for name := range p.workers {
		names = append(names, name)
	}
	p.mu.Unlock()
	slices.Sort(names)
	return names
}

// Len returns the number of registered tasks, finished ones included.
func (p *Pool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.workers)
}

// Shutdown stops accepting tasks, cancels every running one and waits for
// them to finish or for ctx to end. Later calls only wait.
func (p *Pool) Shutdown(ctx context.Context) error {
	p.mu.Lock()
	if !p.closed {
		p.closed = true
		p.logger.Info("pool shutting down", zap.Int("tasks", len(p.workers)))
	}
	p.mu.Unlock()
	p.cancel()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("pool shutdown: %w", ctx.Err())
	}
}
