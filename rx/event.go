package rx

import (
	"fmt"
	"sort"
)

// State is the user-supplied, deeply immutable value a History tracks. A nil
// State represents an object that has been destroyed or removed; once an
// Event carries a nil State its history is sealed (§4.C). Equal must perform
// genuine value comparison — it backs the "no two consecutive emissions
// equal" rule in ObserveState, which is where consecutive duplicate states
// are coalesced (§4.B). Append does not compare states, so duplicates stay
// in the history and in ObserveStateTransitions.
type State interface {
	Equal(other State) bool
}

// TransitionFunc is the pure, deterministic function a concrete event body
// supplies. It is modeled as a closure rather than an inheritance hierarchy
// (see DESIGN.md for why), so any concrete state package can build an Event
// without this package knowing its shape. dependentStates carries only the
// dependencies the caller was able to resolve; a missing key means that
// dependency's state was absent at the requested time. The returned map must
// contain exactly one entry for the event's own object (the successor, which
// may itself be absent); any other entries mint new objects and must use ids
// derived with DeriveObjectID so that replay is deterministic.
type TransitionFunc func(dependentStates map[ObjectID]State) (map[ObjectID]*Event, error)

// Event is an immutable record of a state at a simulated time, the set of
// dependencies needed to compute the object's next event, and the pure
// function that computes it (§3).
type Event struct {
	id       StateID
	state    State
	nextDeps map[ObjectID]SimTime
	compute  TransitionFunc
}

// NewEvent constructs an Event, validating invariants 1-3: NextDeps never
// names the event's own object, every dependency timestamp strictly
// precedes the event's own time, and an absent state carries no
// dependencies. Invariant 3 additionally requires that ComputeNextEvents
// never be invoked on an absent-state event; that is enforced at call time
// by ComputeNextEvents itself, not here.
func NewEvent(id StateID, state State, nextDeps map[ObjectID]SimTime, compute TransitionFunc) (*Event, error) {
	if _, self := nextDeps[id.Object]; self {
		return nil, fmt.Errorf("%w: NextDeps for %s names its own object", ErrInvalidEventConfiguration, id)
	}
	for dep, t := range nextDeps {
		if !(t < id.Time) {
			return nil, fmt.Errorf("%w: dependency %s@%d is not strictly before %s", ErrInvalidEventConfiguration, dep, t, id)
		}
	}
	if state == nil && len(nextDeps) != 0 {
		return nil, fmt.Errorf("%w: absent-state event %s carries dependencies", ErrInvalidEventConfiguration, id)
	}
	deps := make(map[ObjectID]SimTime, len(nextDeps))
	for k, v := range nextDeps {
		deps[k] = v
	}
	return &Event{id: id, state: state, nextDeps: deps, compute: compute}, nil
}

// ID returns the event's StateID.
func (e *Event) ID() StateID { return e.id }

// State returns the event's state, or nil if the object is destroyed.
func (e *Event) State() State { return e.state }

// IsAbsent reports whether the event carries no state (destruction/removal).
func (e *Event) IsAbsent() bool { return e.state == nil }

// NextDeps returns a copy of the dependency set needed to compute the next
// event for this object.
func (e *Event) NextDeps() map[ObjectID]SimTime {
	deps := make(map[ObjectID]SimTime, len(e.nextDeps))
	for k, v := range e.nextDeps {
		deps[k] = v
	}
	return deps
}

// OrderedNextDeps returns the event's dependency object ids in the total
// order defined by StateID.Less (time-first, then object-id), giving
// deterministic subscription order for §4.D.2 step 2.
func (e *Event) OrderedNextDeps() []ObjectID {
	ids := make([]ObjectID, 0, len(e.nextDeps))
	for id := range e.nextDeps {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		si := StateID{Object: ids[i], Time: e.nextDeps[ids[i]]}
		sj := StateID{Object: ids[j], Time: e.nextDeps[ids[j]]}
		return si.Less(sj)
	})
	return ids
}

// ComputeNextEvents evaluates the event's transition function against a
// caller-supplied map of dependency states (absent dependencies simply
// omitted) and validates the result against invariant 5: the map contains
// an entry for this event's own object (the successor, whose state may be
// absent), every entry is keyed by its own object id, every other entry is
// present, and every entry's timestamp equals the successor's and is
// strictly after this event's time. Whether the other entries name
// previously-unknown objects is not checked here; Universe checks that
// against its registry before appending. A panic inside the transition function is recovered and
// returned as a *TransitionPanic error; the caller never observes a crash.
func (e *Event) ComputeNextEvents(dependentStates map[ObjectID]State) (result map[ObjectID]*Event, err error) {
	if e.IsAbsent() {
		return nil, fmt.Errorf("%w: %s", ErrResurrection, e.id)
	}
	defer func() {
		if r := recover(); r != nil {
			result, err = nil, &TransitionPanic{Recovered: r}
		}
	}()
	raw, cerr := e.compute(dependentStates)
	if cerr != nil {
		return nil, cerr
	}
	if err := validateNextEvents(e, raw); err != nil {
		return nil, err
	}
	return raw, nil
}

func validateNextEvents(self *Event, result map[ObjectID]*Event) error {
	successor, ok := result[self.id.Object]
	if !ok {
		return fmt.Errorf("%w: ComputeNextEvents for %s produced no successor entry", ErrInvalidEventConfiguration, self.id)
	}
	if successor.id.Object != self.id.Object {
		return fmt.Errorf("%w: successor entry for %s has mismatched object id %s", ErrInvalidEventConfiguration, self.id, successor.id.Object)
	}
	successorTime := successor.id.Time
	if !(successorTime > self.id.Time) {
		return fmt.Errorf("%w: successor time %d for %s is not strictly after %d", ErrInvalidEventConfiguration, successorTime, self.id.Object, self.id.Time)
	}
	for obj, ev := range result {
		if ev.id.Object != obj {
			return fmt.Errorf("%w: entry keyed %s carries event for %s", ErrInvalidEventConfiguration, obj, ev.id.Object)
		}
		if ev.id.Time != successorTime {
			return fmt.Errorf("%w: entry %s has time %d, expected successor time %d", ErrInvalidEventConfiguration, obj, ev.id.Time, successorTime)
		}
		if obj != self.id.Object && ev.IsAbsent() {
			return fmt.Errorf("%w: creation entry %s must not be absent", ErrInvalidEventConfiguration, obj)
		}
	}
	return nil
}
