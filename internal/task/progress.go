package task

// Progress bounds.
const (
	MinProgress = 0
	MaxProgress = 100
)

// Progress is the handle a running task uses to report progress and to poll
// for cancellation. It is safe to use from any goroutine; reports made after
// the worker left the Running state are ignored.
type Progress struct {
	w *Worker
}

// Report publishes a progress value. Values outside [0,100] are clamped.
func (p *Progress) Report(value int) {
	p.ReportMessage(value, "")
}

// ReportMessage publishes a progress value with a short status message.
func (p *Progress) ReportMessage(value int, message string) {
	if p == nil || p.w == nil {
		return
	}
	p.w.report(Clamp(value), message)
}

// Cancelled reports whether cancellation was requested. A true result marks
// the cancellation as observed, so the worker ends Cancelled whatever the
// task returns afterwards.
func (p *Progress) Cancelled() bool {
	if p == nil || p.w == nil {
		return false
	}
	return p.w.observeCancel()
}

// Clamp limits v to [MinProgress, MaxProgress].
func Clamp(v int) int {
	return max(MinProgress, min(v, MaxProgress))
}
