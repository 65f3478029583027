package task

import "time"

// Kind identifies the notification channel an event belongs to.
type Kind string

// Notification kinds, in the order a worker can emit them.
const (
	KindStarted   Kind = "started"
	KindProgress  Kind = "progress"
	KindSucceeded Kind = "succeeded"
	KindFailed    Kind = "failed"
	KindCancelled Kind = "cancelled"
)

// Terminal reports whether k ends the notification stream.
func (k Kind) Terminal() bool {
	return k == KindSucceeded || k == KindFailed || k == KindCancelled
}

// Notification is a single lifecycle event delivered to the observer.
type Notification struct {
	// WorkerID names the emitting worker.
	WorkerID string
	// Name is the optional human label given to the worker.
	Name string
	Kind Kind
	// Seq increases by one per notification of a worker, starting at 1.
	Seq uint64
	// Value is the clamped progress value (0-100) for progress events.
	Value   int
	Message string
	// Result is set on KindSucceeded.
	Result any
	// Err is set on KindFailed (*TaskError) and KindCancelled.
	Err error
	At  time.Time
}

// Observer consumes notifications on the control context.
type Observer interface {
	Notify(n Notification)
}

// ObserverFunc adapts a plain function to Observer.
type ObserverFunc func(Notification)

// Notify calls f(n).
func (f ObserverFunc) Notify(n Notification) {
	f(n)
}

// Callbacks splits the notification stream into per-kind callbacks. Nil
// callbacks are skipped.
type Callbacks struct {
	OnStarted   func()
	OnProgress  func(value int, message string)
	OnFinished  func(result any)
	OnError     func(err *TaskError)
	OnCancelled func()
}

// Notify routes n to the matching callback.
func (c Callbacks) Notify(n Notification) {
	switch n.Kind {
	case KindStarted:
		if c.OnStarted != nil {
			c.OnStarted()
		}
	case KindProgress:
		if c.OnProgress != nil {
			c.OnProgress(n.Value, n.Message)
		}
	case KindSucceeded:
		if c.OnFinished != nil {
			c.OnFinished(n.Result)
		}
	case KindFailed:
		if c.OnError != nil {
			te, _ := n.Err.(*TaskError)
			c.OnError(te)
		}
	case KindCancelled:
		if c.OnCancelled != nil {
			c.OnCancelled()
		}
	}
}

// Dispatcher marshals a function onto the control context. Post must not
// block on the function's execution and must run posted functions in order.
type Dispatcher interface {
	Post(fn func()) error
}
