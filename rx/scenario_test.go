package rx

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// TestScenario_ProvisionalThenCommittedObservation drives ObserveState while
// a history is still growing and asserts the stream ends with exactly one
// committed value and no repeated emissions.
func TestScenario_ProvisionalThenCommittedObservation(t *testing.T) {
	obj := NewObjectID()
	seed := mustCounterEvent(t, StateID{Object: obj, Time: 0}, 0, 1)
	u := NewUniverse()
	require.NoError(t, u.AddObject(seed))

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	observeCtx, stopObserve := context.WithCancel(ctx)
	defer stopObserve()
	stream, err := u.ObserveState(observeCtx, obj, 3)
	require.NoError(t, err)

	received := make(chan []State, 1)
	go func() {
		var got []State
		for v := range stream {
			got = append(got, v)
		}
		received <- got
	}()

	for i := 0; i < 4; i++ {
		require.NoError(t, u.AdvanceState(ctx, obj))
	}

	got := <-received
	require.NotEmpty(t, got)
	for i := 1; i < len(got); i++ {
		require.False(t, stateEqual(got[i-1], got[i]), "no two consecutive emissions should be equal")
	}
	last := got[len(got)-1].(counterState)
	require.Equal(t, 3, last.value, "committed value at t=3 should be the value set at that exact tick")
}

// TestScenario_MonotonicHistoryTimes is a property check: every appended
// event's time strictly increases, across a long chain of advances.
func TestScenario_MonotonicHistoryTimes(t *testing.T) {
	obj := NewObjectID()
	seed := mustCounterEvent(t, StateID{Object: obj, Time: 0}, 0, 1)
	u := NewUniverse()
	require.NoError(t, u.AddObject(seed))

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	const ticks = 25
	for i := 0; i < ticks; i++ {
		require.NoError(t, u.AdvanceState(ctx, obj))
	}

	h, _ := u.history(obj)
	transCtx, cancelTrans := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancelTrans()

	var prev SimTime = -1
	first := true
	for tr := range h.ObserveStateTransitions(transCtx) {
		if !first {
			require.True(t, prev < tr.Time, "expected strictly increasing times, got %d then %d", prev, tr.Time)
		}
		prev, first = tr.Time, false
	}
	require.Equal(t, SimTime(ticks), prev)
}

// TestScenario_DeterminismOfComputeNextEvents re-evaluates the same event's
// transition function twice and requires byte-identical successor ids and
// times, including any freshly minted child object ids.
func TestScenario_DeterminismOfComputeNextEvents(t *testing.T) {
	parent := NewObjectID()
	id := StateID{Object: parent, Time: 0}
	seed, err := NewEvent(id, counterState{object: parent, value: 1}, nil, func(map[ObjectID]State) (map[ObjectID]*Event, error) {
		child := DeriveObjectID(id, "spawn")
		successor, _ := NewEvent(StateID{Object: parent, Time: 1}, counterState{object: parent, value: 2}, nil, nil)
		created, _ := NewEvent(StateID{Object: child, Time: 1}, counterState{object: child, value: 0}, nil, nil)
		return map[ObjectID]*Event{parent: successor, child: created}, nil
	})
	require.NoError(t, err)

	first, err := seed.ComputeNextEvents(nil)
	require.NoError(t, err)
	second, err := seed.ComputeNextEvents(nil)
	require.NoError(t, err)

	require.Equal(t, len(first), len(second))
	for objID, ev := range first {
		other, ok := second[objID]
		require.True(t, ok)
		require.Equal(t, ev.ID(), other.ID())
	}
}

// TestScenario_CancelledAdvanceLeavesHistoryUntouched checks the §5
// cancellation contract: a cancelled AdvanceState performs no mutation.
func TestScenario_CancelledAdvanceLeavesHistoryUntouched(t *testing.T) {
	a, b := NewObjectID(), NewObjectID()
	seedA := mustCounterEvent(t, StateID{Object: a, Time: 0}, 10, 0)
	seedB, err := newDependentCounterEvent(StateID{Object: b, Time: 1}, 0, a, 0)
	require.NoError(t, err)

	u := NewUniverse()
	require.NoError(t, u.AddObject(seedA))
	require.NoError(t, u.AddObject(seedB))

	// a is never advanced, so b's dependency on (a, 0) never commits and
	// AdvanceState(b) blocks until ctx is cancelled.
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_ = u.AdvanceState(ctx, b)

	h, _ := u.history(b)
	require.Equal(t, seedB, h.LastEvent(), "a cancelled advance must leave the history exactly as it was")
}
