package rx

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestUniverse_ObserveStateUnknownObjectFailsSynchronously(t *testing.T) {
	u := NewUniverse()
	_, err := u.ObserveState(context.Background(), NewObjectID(), 0)
	require.ErrorIs(t, err, ErrObjectUnknown)
}

func TestUniverse_AddObjectRejectsAbsentSeed(t *testing.T) {
	u := NewUniverse()
	obj := NewObjectID()
	seed, err := NewEvent(StateID{Object: obj, Time: 0}, nil, nil, nil)
	require.NoError(t, err)
	require.ErrorIs(t, u.AddObject(seed), ErrInvalidEventConfiguration)
}

func TestUniverse_AddObjectRejectsDuplicate(t *testing.T) {
	u := NewUniverse()
	obj := NewObjectID()
	seed := mustCounterEvent(t, StateID{Object: obj, Time: 0}, 0, 1)
	require.NoError(t, u.AddObject(seed))

	dup := mustCounterEvent(t, StateID{Object: obj, Time: 0}, 0, 1)
	require.ErrorIs(t, u.AddObject(dup), ErrObjectAlreadyExists)
}

func TestUniverse_AdvanceState_LoneObject(t *testing.T) {
	u := NewUniverse()
	obj := NewObjectID()
	seed := mustCounterEvent(t, StateID{Object: obj, Time: 0}, 0, 1)
	require.NoError(t, u.AddObject(seed))

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, u.AdvanceState(ctx, obj))

	h, ok := u.history(obj)
	require.True(t, ok)
	last := h.LastEvent()
	require.Equal(t, SimTime(1), last.ID().Time)
	require.Equal(t, 1, last.State().(counterState).value)
}

func TestUniverse_AdvanceState_TwoObjectCoupling(t *testing.T) {
	u := NewUniverse()
	a, b := NewObjectID(), NewObjectID()

	seedA := mustCounterEvent(t, StateID{Object: a, Time: 0}, 10, 0)
	seedB, err := newDependentCounterEvent(StateID{Object: b, Time: 1}, 0, a, 0)
	require.NoError(t, err)

	require.NoError(t, u.AddObject(seedA))
	require.NoError(t, u.AddObject(seedB))

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	// a must receive a bracketing event before its state at t=0 is
	// committed; otherwise b's dependency subscription never completes.
	require.NoError(t, u.AdvanceState(ctx, a))
	require.NoError(t, u.AdvanceState(ctx, b))

	hb, _ := u.history(b)
	last := hb.LastEvent()
	require.Equal(t, 10, last.State().(counterState).value, "dependent object should have observed a's committed value of 10")
}

func TestUniverse_AdvanceState_CASRace(t *testing.T) {
	u := NewUniverse()
	obj := NewObjectID()
	seed := mustCounterEvent(t, StateID{Object: obj, Time: 0}, 0, 1)
	require.NoError(t, u.AddObject(seed))

	h, ok := u.history(obj)
	require.True(t, ok)
	expected := h.LastEvent()

	next, err := expected.ComputeNextEvents(nil)
	require.NoError(t, err)
	candidate := next[obj]

	const workers = 16
	type outcome struct {
		applied bool
		err     error
	}
	results := make(chan outcome, workers)
	for i := 0; i < workers; i++ {
		go func() {
			applied, err := h.CompareAndAppend(expected, candidate)
			results <- outcome{applied: applied, err: err}
		}()
	}

	wins := 0
	for i := 0; i < workers; i++ {
		o := <-results
		require.NoError(t, o.err)
		if o.applied {
			wins++
		}
	}
	require.Equal(t, 1, wins, "exactly one concurrent CompareAndAppend against the same expected event should win")
	require.Equal(t, SimTime(1), h.LastEvent().ID().Time)
}

func TestUniverse_AdvanceState_Destruction(t *testing.T) {
	u := NewUniverse()
	obj := NewObjectID()
	seed, err := newTerminalCounterEvent(StateID{Object: obj, Time: 0}, 7)
	require.NoError(t, err)
	require.NoError(t, u.AddObject(seed))

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, u.AdvanceState(ctx, obj))

	h, _ := u.history(obj)
	require.Nil(t, h.LastEvent().State())

	// Advancing a destroyed object fails synchronously with ErrResurrection.
	err = u.AdvanceState(ctx, obj)
	var advErr *AdvanceError
	require.ErrorAs(t, err, &advErr)
	require.ErrorIs(t, advErr.Cause, ErrResurrection)
}

func TestUniverse_AdvanceState_CreationWithDeterministicChildID(t *testing.T) {
	u := NewUniverse()
	parent := NewObjectID()
	id := StateID{Object: parent, Time: 0}
	var expectedChild ObjectID

	seed, err := NewEvent(id, counterState{object: parent, value: 1}, nil, func(map[ObjectID]State) (map[ObjectID]*Event, error) {
		child := DeriveObjectID(id, "offspring")
		expectedChild = child
		successor, _ := NewEvent(StateID{Object: parent, Time: 1}, counterState{object: parent, value: 2}, nil, nil)
		created, _ := NewEvent(StateID{Object: child, Time: 1}, counterState{object: child, value: 0}, nil, nil)
		return map[ObjectID]*Event{parent: successor, child: created}, nil
	})
	require.NoError(t, err)
	require.NoError(t, u.AddObject(seed))

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, u.AdvanceState(ctx, parent))

	_, ok := u.history(expectedChild)
	require.True(t, ok, "creation event should have registered the deterministically-derived child object")

	replayChild := DeriveObjectID(id, "offspring")
	require.Equal(t, expectedChild, replayChild, "replaying the same derivation must reproduce the same id")
}

func TestUniverse_ObserveNextEvent_RejectsResurrection(t *testing.T) {
	u := NewUniverse()
	obj := NewObjectID()
	dead, err := NewEvent(StateID{Object: obj, Time: 0}, nil, nil, nil)
	require.NoError(t, err)

	_, err = u.ObserveNextEvent(context.Background(), dead)
	require.True(t, errors.Is(err, ErrResurrection))
}
