package prune

import (
	"testing"

	"rxsim/rx"
)

func transitions(times ...rx.SimTime) []rx.StateTransition {
	out := make([]rx.StateTransition, len(times))
	for i, t := range times {
		out[i] = rx.StateTransition{Time: t}
	}
	return out
}

func TestWatermark_NoReadersNoRetention(t *testing.T) {
	w := NewWatermark()
	obj := rx.NewObjectID()
	tr := transitions(0, 1, 2, 3, 4)

	advice := w.Advise(map[ObjectID][]rx.StateTransition{obj: tr}, map[ObjectID]rx.SimTime{obj: 4})
	if len(advice) != 1 {
		t.Fatalf("expected 1 advice, got %d", len(advice))
	}
	if advice[0].SafeBefore != 4 {
		t.Fatalf("expected safe-before 4 (no readers, no retention floor), got %d", advice[0].SafeBefore)
	}
}

func TestWatermark_ReaderFloorWins(t *testing.T) {
	w := NewWatermark()
	obj := rx.NewObjectID()
	tok := w.Track(obj, 1)
	defer w.Release(tok)

	tr := transitions(0, 1, 2, 3, 4)
	advice := w.Advise(map[ObjectID][]rx.StateTransition{obj: tr}, map[ObjectID]rx.SimTime{obj: 4})
	if advice[0].SafeBefore != 1 {
		t.Fatalf("expected safe-before 1 (reader floor), got %d", advice[0].SafeBefore)
	}
}

func TestWatermark_ReleaseRestoresFullAdvancement(t *testing.T) {
	w := NewWatermark()
	obj := rx.NewObjectID()
	tok := w.Track(obj, 1)
	w.Release(tok)

	tr := transitions(0, 1, 2, 3, 4)
	advice := w.Advise(map[ObjectID][]rx.StateTransition{obj: tr}, map[ObjectID]rx.SimTime{obj: 4})
	if advice[0].SafeBefore != 4 {
		t.Fatalf("expected safe-before 4 after release, got %d", advice[0].SafeBefore)
	}
}

func TestWatermark_RetentionFloorOverridesEagerReaders(t *testing.T) {
	w := NewWatermark()
	obj := rx.NewObjectID()
	w.SetRetention(obj, 2, 0)
	tok := w.Track(obj, 4)
	defer w.Release(tok)

	tr := transitions(0, 1, 2, 3, 4)
	advice := w.Advise(map[ObjectID][]rx.StateTransition{obj: tr}, map[ObjectID]rx.SimTime{obj: 4})
	if advice[0].SafeBefore != 3 {
		t.Fatalf("expected safe-before 3 (keep last 2 events), got %d", advice[0].SafeBefore)
	}
}

func TestWatermark_MaxAgeFloor(t *testing.T) {
	w := NewWatermark()
	obj := rx.NewObjectID()
	w.SetRetention(obj, 0, 2)

	tr := transitions(0, 1, 2, 3, 4)
	advice := w.Advise(map[ObjectID][]rx.StateTransition{obj: tr}, map[ObjectID]rx.SimTime{obj: 4})
	if advice[0].SafeBefore != 2 {
		t.Fatalf("expected safe-before 2 (max age floor, lastTime 4 - age 2), got %d", advice[0].SafeBefore)
	}
}

func TestWatermark_EmptyHistory(t *testing.T) {
	w := NewWatermark()
	obj := rx.NewObjectID()
	advice := w.Advise(map[ObjectID][]rx.StateTransition{obj: nil}, map[ObjectID]rx.SimTime{obj: 0})
	if advice[0].SafeBefore != 0 {
		t.Fatalf("expected safe-before 0 for empty history, got %d", advice[0].SafeBefore)
	}
}
