// Package memtrack keeps per-component memory accounting for the workbench.
//
// Components (loaded models, cached datasets, open editors) report their own
// size; the tracker keeps the latest size per component plus a history of
// every report, and exports the latest sizes as a Prometheus gauge.
package memtrack

import (
	"errors"
	"fmt"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/JakeFAU/workbench-tasks/internal/clock/system"
)

// ErrEmptyComponent is returned when a report names no component.
var ErrEmptyComponent = errors.New("component name is empty")

// Usage is one size report.
type Usage struct {
	Component string    `json:"component"`
	Bytes     int64     `json:"bytes"`
	At        time.Time `json:"at"`
}

// Tracker records component sizes. It is safe for concurrent use.
type Tracker struct {
	gauge *prometheus.GaugeVec
	now   func() time.Time

	mu      sync.RWMutex
	sizes   map[string]int64
	history []Usage
}

// New registers the component gauge on reg and returns an empty Tracker.
func New(reg prometheus.Registerer) (*Tracker, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	gauge := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "workbench_component_memory_bytes",
		Help: "Last reported memory size per workbench component.",
	}, []string{"component"})
	if err := reg.Register(gauge); err != nil {
		return nil, fmt.Errorf("register memory collector: %w", err)
	}
	return &Tracker{
		gauge: gauge,
		now:   system.New().Now,
		sizes: make(map[string]int64),
	}, nil
}

// Track records size bytes for component, replacing its previous size.
func (t *Tracker) Track(component string, size int64) error {
	if component == "" {
		return ErrEmptyComponent
	}
	if size < 0 {
		return fmt.Errorf("component %s: negative size %d", component, size)
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.sizes[component] = size
	t.history = append(t.history, Usage{Component: component, Bytes: size, At: t.now()})
	t.gauge.WithLabelValues(component).Set(float64(size))
	return nil
}

// Total sums the latest size of every component.
func (t *Tracker) Total() int64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	var total int64
	for _, size := range t.sizes {
		total += size
	}
	return total
}

// Component returns the latest size of component, or 0 when never tracked.
func (t *Tracker) Component(component string) int64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.sizes[component]
}

// Components returns a copy of the latest sizes.
func (t *Tracker) Components() map[string]int64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return maps.Clone(t.sizes)
}

// History returns the recorded reports, oldest first.
func (t *Tracker) History() []Usage {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return slices.Clone(t.history)
}

// ClearHistory drops reports older than before. A zero before drops them
// all. Latest sizes are kept. It returns the number of reports removed.
func (t *Tracker) ClearHistory(before time.Time) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	n := len(t.history)
	if before.IsZero() {
		t.history = nil
		return n
	}
	t.history = slices.DeleteFunc(t.history, func(u Usage) bool {
		return u.At.Before(before)
	})
	return n - len(t.history)
}
