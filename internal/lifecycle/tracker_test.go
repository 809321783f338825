package lifecycle

import (
	"sync"
	"testing"

	"github.com/google/uuid"

	"github.com/tablewise/invoice-pipeline/constants"
)

type captureSink struct {
	mu     sync.Mutex
	events []Event
}

func (c *captureSink) Emit(ev Event) {
	c.mu.Lock()
	c.events = append(c.events, ev)
	c.mu.Unlock()
}

var forwardWalk = []constants.ProcessingState{
	constants.StateRasterizing,
	constants.StatePreprocessing,
	constants.StateLayoutDetecting,
	constants.StateRecognizing,
	constants.StateExtracting,
	constants.StateValidating,
	constants.StateAligning,
	constants.StateReady,
}

func TestTrackerForwardWalk(t *testing.T) {
	sink := &captureSink{}
	tr := NewTracker(sink)
	id := uuid.New()

	if err := tr.Enqueue(id); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	for _, next := range forwardWalk {
		if err := tr.Transition(id, next, nil); err != nil {
			t.Fatalf("Transition to %s: %v", next, err)
		}
	}

	st, ok := tr.Status(id)
	if !ok || st.State != constants.StateReady {
		t.Fatalf("status = %+v ok=%v, want Ready", st, ok)
	}
	// enqueue + 8 transitions
	if len(sink.events) != 9 {
		t.Errorf("events = %d, want 9", len(sink.events))
	}
	for i := 1; i < len(sink.events); i++ {
		if sink.events[i].At.Before(sink.events[i-1].At) {
			t.Errorf("event %d timestamp regressed", i)
		}
	}
}

func TestTrackerRejectsRegression(t *testing.T) {
	tr := NewTracker(nil)
	id := uuid.New()
	_ = tr.Enqueue(id)
	_ = tr.Transition(id, constants.StateRecognizing, nil)

	if err := tr.Transition(id, constants.StateRasterizing, nil); err == nil {
		t.Error("regression Recognizing -> Rasterizing must be rejected")
	}
	if err := tr.Transition(id, constants.StateRecognizing, nil); err == nil {
		t.Error("self-transition must be rejected")
	}
}

func TestTrackerErrorFromAnyNonTerminalState(t *testing.T) {
	for _, from := range append([]constants.ProcessingState{constants.StateEnqueued}, forwardWalk[:len(forwardWalk)-1]...) {
		tr := NewTracker(nil)
		id := uuid.New()
		_ = tr.Enqueue(id)
		if from != constants.StateEnqueued {
			if err := tr.Transition(id, from, nil); err != nil {
				t.Fatalf("setup transition to %s: %v", from, err)
			}
		}
		if err := tr.Fail(id, constants.CauseTimeout, nil); err != nil {
			t.Errorf("Fail from %s: %v", from, err)
		}
		st, _ := tr.Status(id)
		if st.State != constants.StateError || st.Cause != constants.CauseTimeout {
			t.Errorf("from %s: status = %+v, want Error/TIMEOUT", from, st)
		}
	}
}

func TestTrackerTerminalStatesAreFinal(t *testing.T) {
	tr := NewTracker(nil)
	id := uuid.New()
	_ = tr.Enqueue(id)
	for _, next := range forwardWalk {
		_ = tr.Transition(id, next, nil)
	}

	if err := tr.Transition(id, constants.StateError, nil); err == nil {
		t.Error("Ready -> Error must be rejected")
	}
	if err := tr.Fail(id, constants.CauseCancelled, nil); err == nil {
		t.Error("Fail after Ready must be rejected")
	}
}

func TestTrackerReenqueueOnlyFromError(t *testing.T) {
	tr := NewTracker(nil)
	id := uuid.New()
	_ = tr.Enqueue(id)
	_ = tr.Transition(id, constants.StateRecognizing, nil)

	if err := tr.Enqueue(id); err == nil {
		t.Fatal("re-enqueue of a running document must be rejected")
	}

	_ = tr.Fail(id, constants.CauseEngineUnavailable, nil)
	if err := tr.Enqueue(id); err != nil {
		t.Fatalf("re-enqueue after Error: %v", err)
	}
	st, _ := tr.Status(id)
	if st.State != constants.StateEnqueued {
		t.Errorf("state = %s, want ENQUEUED", st.State)
	}
	if st.Cause != "" {
		t.Errorf("cause = %s, want cleared on re-enqueue", st.Cause)
	}
}

func TestTrackerCounters(t *testing.T) {
	tr := NewTracker(nil)

	queued := uuid.New()
	_ = tr.Enqueue(queued)

	active := uuid.New()
	_ = tr.Enqueue(active)
	_ = tr.Transition(active, constants.StateRecognizing, nil)

	ready := uuid.New()
	_ = tr.Enqueue(ready)
	for _, next := range forwardWalk {
		_ = tr.Transition(ready, next, nil)
	}

	errored := uuid.New()
	_ = tr.Enqueue(errored)
	_ = tr.Fail(errored, constants.CauseTimeout, nil)

	got := tr.Counters()
	want := Counters{Queued: 1, Active: 1, Ready: 1, Errored: 1}
	if got != want {
		t.Errorf("counters = %+v, want %+v", got, want)
	}
}
