// Package loop provides the control context workers report back to: a
// single-goroutine FIFO queue of functions, the headless stand-in for a UI
// event loop. Posting never blocks, and posted functions run one at a time in
// the order they were posted.
package loop

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"

	"go.uber.org/zap"
)

// ErrClosed is returned by Post after Close.
var ErrClosed = errors.New("loop closed")

// Loop is an unbounded FIFO of functions executed by whoever drives it, either
// Run on a dedicated goroutine or Drain from the owning goroutine.
type Loop struct {
	mu     sync.Mutex
	queue  []func()
	closed bool
	wake   chan struct{}
	logger *zap.Logger
}

// New creates an open Loop.
func New(logger *zap.Logger) *Loop {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Loop{
		wake:   make(chan struct{}, 1),
		logger: logger,
	}
}

// Post queues fn for execution on the loop. It never blocks.
func (l *Loop) Post(fn func()) error {
	if fn == nil {
		return nil
	}
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return ErrClosed
	}
	l.queue = append(l.queue, fn)
	l.mu.Unlock()
	l.signal()
	return nil
}

// Close stops accepting new functions. Functions already queued still run;
// Run returns once they are drained. Close is idempotent.
func (l *Loop) Close() {
	l.mu.Lock()
	l.closed = true
	l.mu.Unlock()
	l.signal()
}

// Closed reports whether Close was called.
func (l *Loop) Closed() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.closed
}

// Len returns the number of queued functions.
func (l *Loop) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.queue)
}

// Run executes queued functions until the loop is closed and drained, or ctx
// ends. Only one goroutine may drive a Loop at a time.
func (l *Loop) Run(ctx context.Context) error {
	for {
		fns, closed := l.take()
		for _, fn := range fns {
			l.call(fn)
		}
		if len(fns) > 0 {
			continue
		}
		if closed {
			return nil
		}
		select {
		case <-l.wake:
		case <-ctx.Done():
			return fmt.Errorf("loop run: %w", ctx.Err())
		}
	}
}

// Drain runs every function queued so far on the calling goroutine and
// returns how many ran. It is the non-blocking alternative to Run for
// callers that own their own turn-taking loop.
func (l *Loop) Drain() int {
	total := 0
	for {
		fns, _ := l.take()
		if len(fns) == 0 {
			return total
		}
		for _, fn := range fns {
			l.call(fn)
		}
		total += len(fns)
	}
}

func (l *Loop) take() ([]func(), bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	fns := l.queue
	l.queue = nil
	return fns, l.closed
}

func (l *Loop) signal() {
	select {
	case l.wake <- struct{}{}:
	default:
	}
}

func (l *Loop) call(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			l.logger.Error("loop function panicked",
				zap.Any("panic", r),
				zap.ByteString("stack", debug.Stack()),
			)
		}
	}()
	fn()
}
