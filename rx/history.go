package rx

import (
	"context"
	"fmt"
	"sync"

	"rxsim/rx/internal/stream"
)

// StateTransition pairs a simulated time with the state an object held from
// that time onward, as delivered by ObserveStateTransitions.
type StateTransition struct {
	Time  SimTime
	State State
}

// ObjectHistory is the read-only view of a per-object event sequence (§4.B).
type ObjectHistory interface {
	ObjectID() ObjectID
	Start() SimTime
	FirstEvent() *Event
	LastEvent() *Event
	// ObserveState streams zero or more provisional approximations of the
	// state at t followed by exactly one committed value, then closes.
	ObserveState(ctx context.Context, t SimTime) <-chan State
	// ObserveStateTransitions streams every appended transition in append
	// order, then any future ones as they are appended, closing once the
	// history seals or ctx is cancelled.
	ObserveStateTransitions(ctx context.Context) <-chan StateTransition
}

// ModifiableObjectHistory extends ObjectHistory with the two mutating
// operations every object's owning goroutine(s) use to record progress
// (§4.C).
type ModifiableObjectHistory interface {
	ObjectHistory
	// Append unconditionally records event, failing (no side effect) if the
	// object doesn't match, time does not strictly increase, or the history
	// is already sealed.
	Append(event *Event) error
	// CompareAndAppend applies the same validation as Append, but only
	// mutates if the current last event is identically (by pointer) the
	// expected event; otherwise it returns (false, nil) with no side effect.
	CompareAndAppend(expected, event *Event) (bool, error)
}

// History is the concrete, thread-safe ModifiableObjectHistory
// implementation. A short-held mutex guards the transition slice, matching
// the engine's stated preference for simple, short critical sections over a
// lock-free persistent chain.
type History struct {
	mu           sync.Mutex
	objectID     ObjectID
	start        SimTime
	transitions  []*Event
	sealed       bool
	broadcaster  *stream.Broadcaster
}

var _ ModifiableObjectHistory = (*History)(nil)

// NewModifiableObjectHistory creates a history seeded by the given event,
// which becomes both FirstEvent and LastEvent. seed must carry a present
// state; a history cannot begin already destroyed.
func NewModifiableObjectHistory(seed *Event) (*History, error) {
	if seed == nil {
		return nil, fmt.Errorf("%w: seed event is nil", ErrInvalidEventConfiguration)
	}
	if seed.IsAbsent() {
		return nil, fmt.Errorf("%w: seed event for %s is absent", ErrInvalidEventConfiguration, seed.id.Object)
	}
	return &History{
		objectID:    seed.id.Object,
		start:       seed.id.Time,
		transitions: []*Event{seed},
		broadcaster: stream.NewBroadcaster(),
	}, nil
}

// NewModifiableObjectHistoryFrom reconstructs a history from a persisted
// {previousStateTransitions, lastEvent} layout (§6). past entries become
// synthetic, inert events: they carry the recorded state and timestamp but
// no transition function and no further dependencies, since only the most
// recent event's transition body is required to keep advancing the object.
// last is appended as supplied, with its own live TransitionFunc intact.
func NewModifiableObjectHistoryFrom(object ObjectID, past []StateTransition, last *Event) (*History, error) {
	if last == nil {
		return nil, fmt.Errorf("%w: last event is nil", ErrInvalidEventConfiguration)
	}
	if last.id.Object != object {
		return nil, fmt.Errorf("%w: last event %s does not belong to %s", ErrWrongObject, last.id, object)
	}
	transitions := make([]*Event, 0, len(past)+1)
	prevTime := SimTime(0)
	for i, pt := range past {
		if i > 0 && !(pt.Time > prevTime) {
			return nil, fmt.Errorf("%w: persisted transition at %d is not strictly increasing", ErrNonMonotonicAppend, pt.Time)
		}
		bare := &Event{id: StateID{Object: object, Time: pt.Time}, state: pt.State}
		transitions = append(transitions, bare)
		prevTime = pt.Time
	}
	if len(transitions) > 0 && !(last.id.Time > prevTime) {
		return nil, fmt.Errorf("%w: last event %s is not strictly after persisted history", ErrNonMonotonicAppend, last.id)
	}
	transitions = append(transitions, last)
	return &History{
		objectID:    object,
		start:       transitions[0].id.Time,
		transitions: transitions,
		sealed:      last.IsAbsent(),
		broadcaster: stream.NewBroadcaster(),
	}, nil
}

// ObjectID returns the object this history tracks.
func (h *History) ObjectID() ObjectID { return h.objectID }

// Start returns the time of the first recorded event.
func (h *History) Start() SimTime { return h.start }

// FirstEvent returns the earliest recorded event.
func (h *History) FirstEvent() *Event {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.transitions[0]
}

// LastEvent returns the most recently appended event.
func (h *History) LastEvent() *Event {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.transitions[len(h.transitions)-1]
}

func (h *History) lockedValidateAppend(event *Event) error {
	if event.id.Object != h.objectID {
		return fmt.Errorf("%w: %s", ErrWrongObject, event.id)
	}
	last := h.transitions[len(h.transitions)-1]
	if !(event.id.Time > last.id.Time) {
		return fmt.Errorf("%w: %s is not strictly after %s", ErrNonMonotonicAppend, event.id, last.id)
	}
	if h.sealed {
		return fmt.Errorf("%w: %s", ErrHistorySealed, h.objectID)
	}
	return nil
}

func (h *History) lockedApply(event *Event) {
	h.transitions = append(h.transitions, event)
	if event.IsAbsent() {
		h.sealed = true
	}
	h.broadcaster.Broadcast()
}

// Append records event unconditionally.
func (h *History) Append(event *Event) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if err := h.lockedValidateAppend(event); err != nil {
		return err
	}
	h.lockedApply(event)
	return nil
}

// CompareAndAppend is the optimistic-concurrency primitive every advancement
// attempt goes through: it succeeds only if no other append has happened
// since the caller observed expected as LastEvent.
func (h *History) CompareAndAppend(expected, event *Event) (bool, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.transitions[len(h.transitions)-1] != expected {
		return false, nil
	}
	if err := h.lockedValidateAppend(event); err != nil {
		return false, err
	}
	h.lockedApply(event)
	return true, nil
}

// lockedStateAt returns the best-known state at t and whether that answer is
// committed: it is committed as soon as an event exists at a time strictly
// after t (the candidate cannot change regardless of future appends — this
// is also what makes "before the first event" resolve immediately, since the
// first event itself is > t in that case) or the history is sealed with no
// bracketing event found (the absent state persists forever after sealing).
func (h *History) lockedStateAt(t SimTime) (State, bool) {
	var candidate State
	for _, ev := range h.transitions {
		if ev.id.Time <= t {
			candidate = ev.state
			continue
		}
		return candidate, true
	}
	if h.sealed {
		return candidate, true
	}
	return candidate, false
}

func stateEqual(a, b State) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return a.Equal(b)
}

// ObserveState implements §4.B.2.
func (h *History) ObserveState(ctx context.Context, t SimTime) <-chan State {
	out := make(chan State)
	go func() {
		defer close(out)
		var last State
		sentAny := false
		for {
			h.mu.Lock()
			state, committed := h.lockedStateAt(t)
			wake := h.broadcaster.Wait()
			h.mu.Unlock()

			if !sentAny || !stateEqual(last, state) {
				select {
				case out <- state:
					last, sentAny = state, true
				case <-ctx.Done():
					return
				}
			}
			if committed {
				return
			}
			select {
			case <-wake:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out
}

// ObserveStateTransitions implements the append-order transition stream of
// §4.B.
func (h *History) ObserveStateTransitions(ctx context.Context) <-chan StateTransition {
	out := make(chan StateTransition)
	go func() {
		defer close(out)
		idx := 0
		for {
			h.mu.Lock()
			pending := append([]*Event(nil), h.transitions[idx:]...)
			sealed := h.sealed
			wake := h.broadcaster.Wait()
			h.mu.Unlock()

			for _, ev := range pending {
				select {
				case out <- StateTransition{Time: ev.id.Time, State: ev.state}:
					idx++
				case <-ctx.Done():
					return
				}
			}
			if sealed {
				return
			}
			select {
			case <-wake:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out
}
