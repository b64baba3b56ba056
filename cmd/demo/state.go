package main

import (
	"encoding/json"
	"fmt"

	"rxsim/rx"
)

// counterState is the demo's entire domain: a named integer that a handful
// of seed objects tick forward once per advance, occasionally spawning a
// child object derived from their own id. It exists purely to give the
// engine something concrete to exercise end-to-end (§1's framing of
// Game/Main/Gui as an out-of-core collaborator).
type counterState struct {
	Name  string `json:"name"`
	Value int    `json:"value"`
}

func (c counterState) Equal(other rx.State) bool {
	o, ok := other.(counterState)
	if !ok {
		return false
	}
	return c == o
}

func (c counterState) String() string {
	return fmt.Sprintf("%s=%d", c.Name, c.Value)
}

const counterCodecTag = "demo.counter"

// counterCodec implements rx.EventCodec so demo histories can round-trip
// through the persisted layout of SPEC_FULL §6 / the schema tools package.
type counterCodec struct{}

func (counterCodec) Tag() string { return counterCodecTag }

func (counterCodec) MarshalState(s rx.State) (json.RawMessage, error) {
	cs, ok := s.(counterState)
	if !ok {
		return nil, fmt.Errorf("demo: unexpected state type %T", s)
	}
	return json.Marshal(cs)
}

func (counterCodec) UnmarshalState(raw json.RawMessage) (rx.State, error) {
	var cs counterState
	if err := json.Unmarshal(raw, &cs); err != nil {
		return nil, err
	}
	return cs, nil
}

// Transition supplies the TransitionFunc for a decoded tail event. It is
// given only the state, not the event's id, so it cannot build a successor:
// the returned function always fails with an error, and a rehydrated
// counter does not advance. Spawn cadence is not part of the persisted
// state either.
func (counterCodec) Transition(s rx.State) rx.TransitionFunc {
	cs, ok := s.(counterState)
	if !ok {
		return nil
	}
	return func(map[rx.ObjectID]rx.State) (map[rx.ObjectID]*rx.Event, error) {
		return nil, fmt.Errorf("demo: rehydrated counter %s has no bound id; use newCounterEvent to resume advancing it", cs.Name)
	}
}

// newCounterEvent builds a self-advancing counter event: every tick its
// value increases by step, and every spawnEvery ticks (when positive) it
// also creates a brand-new counter object at the same successor time,
// seeded at zero and named after its parent plus the tick it was born on.
func newCounterEvent(id rx.StateID, cs counterState, step, spawnEvery int) (*rx.Event, error) {
	return rx.NewEvent(id, cs, nil, func(map[rx.ObjectID]rx.State) (map[rx.ObjectID]*rx.Event, error) {
		successorID := rx.StateID{Object: id.Object, Time: id.Time + 1}
		successor, err := newCounterEvent(successorID, counterState{Name: cs.Name, Value: cs.Value + step}, step, spawnEvery)
		if err != nil {
			return nil, err
		}
		out := map[rx.ObjectID]*rx.Event{id.Object: successor}

		if spawnEvery > 0 && (id.Time+1)%rx.SimTime(spawnEvery) == 0 {
			childID := rx.DeriveObjectID(id, "spawn")
			childName := fmt.Sprintf("%s.child[%d]", cs.Name, id.Time+1)
			child, err := newCounterEvent(rx.StateID{Object: childID, Time: id.Time + 1}, counterState{Name: childName, Value: 0}, step, 0)
			if err != nil {
				return nil, err
			}
			out[childID] = child
		}
		return out, nil
	})
}
