package rx

import "fmt"

// counterState is the trivial State used throughout this package's tests:
// an immutable integer tagged with the object it belongs to, purely for
// exercising the engine's mechanics.
type counterState struct {
	object ObjectID
	value  int
}

func (c counterState) Equal(other State) bool {
	o, ok := other.(counterState)
	if !ok {
		return false
	}
	return c.object == o.object && c.value == o.value
}

func (c counterState) String() string {
	return fmt.Sprintf("counter(%s)=%d", c.object, c.value)
}

// newCounterEvent builds a seed/successor event for a self-advancing counter
// with no dependencies.
func newCounterEvent(id StateID, value int, step int) (*Event, error) {
	var self *Event
	self, err := NewEvent(id, counterState{object: id.Object, value: value}, nil, func(_ map[ObjectID]State) (map[ObjectID]*Event, error) {
		next, err := newCounterEvent(StateID{Object: id.Object, Time: id.Time + 1}, value+step, step)
		if err != nil {
			return nil, err
		}
		return map[ObjectID]*Event{id.Object: next}, nil
	})
	return self, err
}

// newTerminalCounterEvent builds a counter event whose single transition
// destroys the object (absent successor state).
func newTerminalCounterEvent(id StateID, value int) (*Event, error) {
	return NewEvent(id, counterState{object: id.Object, value: value}, nil, func(_ map[ObjectID]State) (map[ObjectID]*Event, error) {
		successor, err := NewEvent(StateID{Object: id.Object, Time: id.Time + 1}, nil, nil, nil)
		if err != nil {
			return nil, err
		}
		return map[ObjectID]*Event{id.Object: successor}, nil
	})
}

// newDependentCounterEvent builds an event whose transition sums its own
// value with a single named dependency's counterState value, if present.
func newDependentCounterEvent(id StateID, value int, dep ObjectID, depTime SimTime) (*Event, error) {
	deps := map[ObjectID]SimTime{dep: depTime}
	return NewEvent(id, counterState{object: id.Object, value: value}, deps, func(states map[ObjectID]State) (map[ObjectID]*Event, error) {
		total := value
		if s, ok := states[dep]; ok {
			if cs, ok := s.(counterState); ok {
				total += cs.value
			}
		}
		next, err := newDependentCounterEvent(StateID{Object: id.Object, Time: id.Time + 1}, total, dep, id.Time)
		if err != nil {
			return nil, err
		}
		return map[ObjectID]*Event{id.Object: next}, nil
	})
}
