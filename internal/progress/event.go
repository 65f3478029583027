package progress

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Stage denotes the lifecycle milestone represented by an Event.
type Stage string

// Supported run stages.
const (
	StageRunStart     Stage = "RUN_START"
	StageRunProgress  Stage = "RUN_PROGRESS"
	StageRunDone      Stage = "RUN_DONE"
	StageRunError     Stage = "RUN_ERROR"
	StageRunCancelled Stage = "RUN_CANCELLED"
)

// Terminal reports whether s ends a run.
func (s Stage) Terminal() bool {
	return s == StageRunDone || s == StageRunError || s == StageRunCancelled
}

// Event is one lifecycle step of a worker run.
type Event struct {
	// RunID identifies the worker run using the 16-byte UUID form.
	RunID [16]byte
	// Name is the optional task label.
	Name string
	// TS is the timestamp recorded by the worker.
	TS time.Time
	// Stage denotes which lifecycle milestone occurred.
	Stage Stage
	// Percent is the clamped progress value, 0-100.
	Percent int
	// Dur is the wall time of the run, set on terminal stages.
	Dur time.Duration
	// Note carries the progress message or the failure text.
	Note string
}

// Validate performs coarse validation on Event payloads.
func (e Event) Validate() error {
	if e.RunID == [16]byte{} {
		return errors.New("run id is required")
	}
	if e.TS.IsZero() {
		return errors.New("timestamp is required")
	}
	switch e.Stage {
	case StageRunStart, StageRunDone, StageRunError, StageRunCancelled:
	case StageRunProgress:
		if e.Percent < 0 || e.Percent > 100 {
			return fmt.Errorf("percent %d out of range", e.Percent)
		}
	default:
		return fmt.Errorf("unknown stage %q", e.Stage)
	}
	if e.Dur < 0 {
		return errors.New("duration must be >= 0")
	}
	return nil
}

// RunUUID converts the binary run ID to uuid.UUID for repositories.
func (e Event) RunUUID() uuid.UUID {
	return uuid.UUID(e.RunID)
}

// UUIDToBytes encodes a uuid.UUID into the Event form.
func UUIDToBytes(id uuid.UUID) [16]byte {
	var dest [16]byte
	copy(dest[:], id[:])
	return dest
}
