package cursor

import (
	"testing"

	"eventflow/internal/model"
)

func TestTrackerMonotonicity(t *testing.T) {
	tracker := NewTracker(model.Cursor{NextBlock: 100}, nil)

	steps := []struct {
		advance uint64
		want    uint64
		moved   bool
	}{
		{advance: 101, want: 101, moved: true},
		{advance: 150, want: 150, moved: true},
		{advance: 120, want: 150, moved: false}, // out-of-order, ignored
		{advance: 150, want: 150, moved: true},  // equal is allowed
		{advance: 151, want: 151, moved: true},
	}

	for i, step := range steps {
		moved := tracker.Advance(step.advance)
		if moved != step.moved {
			t.Fatalf("step %d: moved = %v, want %v", i, moved, step.moved)
		}
		if got := tracker.Snapshot().NextBlock; got != step.want {
			t.Fatalf("step %d: next block = %d, want %d", i, got, step.want)
		}
	}
}

func TestTrackerAdvanceSetsTimestamp(t *testing.T) {
	tracker := NewTracker(model.Cursor{NextBlock: 1}, nil)
	if !tracker.Snapshot().LastAdvancedAt.IsZero() {
		t.Fatalf("fresh tracker should have zero timestamp")
	}
	tracker.Advance(2)
	if tracker.Snapshot().LastAdvancedAt.IsZero() {
		t.Fatalf("advance should stamp the cursor")
	}
}

func TestTrackerEndpoint(t *testing.T) {
	tracker := NewTracker(model.Cursor{NextBlock: 1}, nil)
	tracker.SetEndpoint("primary")
	if got := tracker.Snapshot().Endpoint; got != "primary" {
		t.Fatalf("endpoint = %s", got)
	}
}
