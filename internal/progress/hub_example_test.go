package progress

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ExampleHub_Emit shows a run reporting progress through the hub to a custom sink.
func ExampleHub_Emit() {
	var last int
	sink := SinkFunc(func(_ context.Context, batch []Event) error {
		for _, evt := range batch {
			if evt.Stage == StageRunProgress {
				last = evt.Percent
			}
		}
		return nil
	})
	hub := NewHub(Config{BufferSize: 4, MaxBatchWait: time.Second}, sink)

	runID := UUIDToBytes(uuid.MustParse("00000000-0000-0000-0000-000000000001"))
	hub.Emit(Event{RunID: runID, TS: time.Unix(0, 0), Stage: StageRunStart})
	hub.Emit(Event{RunID: runID, TS: time.Unix(1, 0), Stage: StageRunProgress, Percent: 60})
	if err := hub.Close(context.Background()); err != nil {
		panic(err)
	}

	fmt.Printf("last progress: %d%%\n", last)
	// Output:
	// last progress: 60%
}
