package task

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/JakeFAU/workbench-tasks/internal/clock/system"
	ids "github.com/JakeFAU/workbench-tasks/internal/id/uuid"
	"github.com/JakeFAU/workbench-tasks/internal/loop"
	"github.com/JakeFAU/workbench-tasks/internal/progress"
)

// ErrNilTask is returned by Start when the worker was built without a task.
var ErrNilTask = errors.New("task func is nil")

// Func is a unit of work. ctx is cancelled once cancellation is requested;
// p reports progress and exposes the cancellation flag.
type Func func(ctx context.Context, p *Progress) (any, error)

// Clock supplies timestamps for notifications.
type Clock interface {
	Now() time.Time
}

// Option configures a Worker.
type Option func(*Worker)

// WithName attaches a human label carried by every notification.
func WithName(name string) Option {
	return func(w *Worker) { w.name = name }
}

// WithObserver sets the single observer of the worker's notifications.
func WithObserver(obs Observer) Option {
	return func(w *Worker) { w.observer = obs }
}

// WithDispatcher sets the control context notifications are marshalled to.
// Without one, a private loop goroutine delivers notifications in order.
func WithDispatcher(d Dispatcher) Option {
	return func(w *Worker) { w.dispatch = d }
}

// WithEmitter mirrors every notification into a telemetry emitter.
func WithEmitter(e progress.Emitter) Option {
	return func(w *Worker) { w.emitter = e }
}

// WithLogger sets the structured logger.
func WithLogger(logger *zap.Logger) Option {
	return func(w *Worker) {
		if logger != nil {
			w.logger = logger
		}
	}
}

// WithContext derives the task context from ctx. Cancelling ctx counts as a
// cancellation request.
func WithContext(ctx context.Context) Option {
	return func(w *Worker) {
		if ctx != nil {
			w.parent = ctx
		}
	}
}

// WithClock overrides the notification clock.
func WithClock(c Clock) Option {
	return func(w *Worker) {
		if c != nil {
			w.clock = c
		}
	}
}

// Worker is the handle of one task execution. It is owned by the caller that
// created it; the task goroutine only reports through Progress.
type Worker struct {
	id       uuid.UUID
	name     string
	fn       Func
	observer Observer
	dispatch Dispatcher
	ownLoop  *loop.Loop
	emitter  progress.Emitter
	logger   *zap.Logger
	clock    Clock

	parent context.Context
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	cancelRequested atomic.Bool
	cancelObserved  atomic.Bool

	// mu guards the lifecycle fields and serializes notification posting so
	// the dispatcher sees events in lifecycle order.
	mu        sync.Mutex
	state     State
	seq       uint64
	result    any
	err       error
	startedAt time.Time
}

// New builds an Idle worker for fn.
func New(fn Func, opts ...Option) *Worker {
	w := &Worker{
		fn:     fn,
		logger: zap.NewNop(),
		clock:  system.New(),
		parent: context.Background(),
		done:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}
	w.id = ids.New().MustRawID()
	w.ctx, w.cancel = context.WithCancel(w.parent)
	if w.observer != nil && w.dispatch == nil {
		w.ownLoop = loop.New(w.logger)
		w.dispatch = w.ownLoop
	}
	return w
}

// ID returns the worker's unique identifier.
func (w *Worker) ID() string {
	return w.id.String()
}

// RunID returns the identifier in raw form.
func (w *Worker) RunID() uuid.UUID {
	return w.id
}

// Name returns the label given with WithName.
func (w *Worker) Name() string {
	return w.name
}

// State returns the current lifecycle state.
func (w *Worker) State() State {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.state
}

// Done is closed once the worker reached a terminal state. Notifications may
// still be queued on the dispatcher at that point.
func (w *Worker) Done() <-chan struct{} {
	return w.done
}

// Result returns the task outcome. It fails with an InvalidStateError until
// the worker is terminal. A Failed worker returns its *TaskError and a
// Cancelled one returns ErrCancelled.
func (w *Worker) Result() (any, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.state.Terminal() {
		return nil, &InvalidStateError{Op: "result", State: w.state}
	}
	return w.result, w.err
}

// Start moves the worker from Idle to Running and launches the task. A worker
// runs at most once; any later call fails with an InvalidStateError.
func (w *Worker) Start() error {
	if w.fn == nil {
		return ErrNilTask
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.state != StateIdle {
		return &InvalidStateError{Op: "start", State: w.state}
	}
	w.state = StateRunning
	w.startedAt = w.clock.Now()
	if w.ownLoop != nil {
		go func() {
			_ = w.ownLoop.Run(context.Background())
		}()
	}
	w.logger.Debug("worker started", zap.String("worker_id", w.ID()), zap.String("name", w.name))
	w.deliverLocked(Notification{Kind: KindStarted})
	go w.run()
	return nil
}

// Cancel requests cooperative cancellation. It sets the flag polled through
// Progress.Cancelled and cancels the task context; the task decides when to
// stop. Cancel is idempotent and does nothing once the worker is terminal.
func (w *Worker) Cancel() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.state.Terminal() {
		return
	}
	if w.cancelRequested.CompareAndSwap(false, true) {
		w.logger.Debug("worker cancellation requested",
			zap.String("worker_id", w.ID()),
			zap.Stringer("state", w.state),
		)
	}
	w.cancel()
}

// Wait blocks until the worker is terminal or ctx ends.
func (w *Worker) Wait(ctx context.Context) error {
	select {
	case <-w.done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("wait for worker %s: %w", w.ID(), ctx.Err())
	}
}

func (w *Worker) run() {
	defer close(w.done)
	defer w.cancel()
	result, err := w.invoke()
	w.finish(result, err)
}

func (w *Worker) invoke() (result any, err error) {
	defer func() {
		if r := recover(); r != nil {
			result = nil
			err = newPanicError(r, debug.Stack())
		}
	}()
	return w.fn(w.ctx, &Progress{w: w})
}

func (w *Worker) cancelPending() bool {
	return w.cancelRequested.Load() || w.ctx.Err() != nil
}

func (w *Worker) observeCancel() bool {
	if !w.cancelPending() {
		return false
	}
	w.cancelObserved.Store(true)
	return true
}

func (w *Worker) report(value int, message string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.state != StateRunning {
		return
	}
	w.deliverLocked(Notification{Kind: KindProgress, Value: value, Message: message})
}

func (w *Worker) finish(result any, err error) {
	cancelled := w.cancelPending() && (w.cancelObserved.Load() || (err != nil && isCancellation(err)))

	w.mu.Lock()
	defer w.mu.Unlock()

	var n Notification
	switch {
	case cancelled:
		w.state = StateCancelled
		w.err = ErrCancelled
		n = Notification{Kind: KindCancelled, Err: ErrCancelled}
		w.logger.Info("worker cancelled", zap.String("worker_id", w.ID()), zap.String("name", w.name))
	case err != nil:
		te := newTaskError(err, debug.Stack())
		w.state = StateFailed
		w.err = te
		n = Notification{Kind: KindFailed, Err: te, Message: te.Message}
		w.logger.Warn("worker task failed",
			zap.String("worker_id", w.ID()),
			zap.String("name", w.name),
			zap.String("error_type", te.Type),
			zap.Bool("panicked", te.Panicked),
			zap.Error(te),
		)
	default:
		w.state = StateSucceeded
		w.result = result
		n = Notification{Kind: KindSucceeded, Result: result}
		w.logger.Debug("worker succeeded", zap.String("worker_id", w.ID()), zap.String("name", w.name))
	}
	w.deliverLocked(n)
	if w.ownLoop != nil {
		w.ownLoop.Close()
	}
}

func (w *Worker) deliverLocked(n Notification) {
	w.seq++
	n.WorkerID = w.ID()
	n.Name = w.name
	n.Seq = w.seq
	n.At = w.clock.Now()

	w.emit(n)

	if w.observer == nil {
		return
	}
	obs := w.observer
	if err := w.dispatch.Post(func() { w.notify(obs, n) }); err != nil {
		w.logger.Warn("worker notification not delivered",
			zap.String("worker_id", n.WorkerID),
			zap.String("kind", string(n.Kind)),
			zap.Uint64("seq", n.Seq),
			zap.Error(err),
		)
	}
}

func (w *Worker) notify(obs Observer, n Notification) {
	defer func() {
		if r := recover(); r != nil {
			w.logger.Error("worker observer panicked",
				zap.String("worker_id", n.WorkerID),
				zap.String("kind", string(n.Kind)),
				zap.Any("panic", r),
				zap.ByteString("stack", debug.Stack()),
			)
		}
	}()
	obs.Notify(n)
}

func (w *Worker) emit(n Notification) {
	if w.emitter == nil {
		return
	}
	evt := progress.Event{
		RunID: progress.UUIDToBytes(w.id),
		Name:  w.name,
		TS:    n.At,
		Note:  n.Message,
	}
	switch n.Kind {
	case KindStarted:
		evt.Stage = progress.StageRunStart
	case KindProgress:
		evt.Stage = progress.StageRunProgress
		evt.Percent = n.Value
	case KindSucceeded:
		evt.Stage = progress.StageRunDone
		evt.Percent = MaxProgress
	case KindFailed:
		evt.Stage = progress.StageRunError
	case KindCancelled:
		evt.Stage = progress.StageRunCancelled
	}
	if n.Kind.Terminal() {
		evt.Dur = max(n.At.Sub(w.startedAt), 0)
	}
	w.emitter.Emit(evt)
}
