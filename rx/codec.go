package rx

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// EventCodec lets a concrete state type opt into the JSON persisted layout
// described by §6. Tag is the "class" discriminator stored alongside the
// last event so that a later process can pick the right codec back out of a
// Registry. Transition rebuilds the live TransitionFunc for a decoded
// state, since closures cannot be serialized — only the most recent event
// in a persisted history needs one, which is why NewModifiableObjectHistoryFrom
// only asks for a live *Event for the tail of the sequence.
type EventCodec interface {
	Tag() string
	MarshalState(State) (json.RawMessage, error)
	UnmarshalState(json.RawMessage) (State, error)
	Transition(State) TransitionFunc
}

// Registry resolves a persisted "class" tag back to the EventCodec that can
// decode it.
type Registry struct {
	mu     sync.RWMutex
	codecs map[string]EventCodec
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{codecs: make(map[string]EventCodec)}
}

// Register adds (or replaces) the codec for its own Tag().
func (r *Registry) Register(codec EventCodec) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.codecs[codec.Tag()] = codec
}

func (r *Registry) codecFor(tag string) (EventCodec, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	codec, ok := r.codecs[tag]
	return codec, ok
}

// PersistedEvent is the exported mirror of the persisted layout's
// "lastEvent" object (§6), public so tooling (tools/schemagen) can reflect
// over it without duplicating the struct.
type PersistedEvent struct {
	Class    string            `json:"class"`
	Time     string            `json:"time"`
	State    json.RawMessage   `json:"state,omitempty"`
	NextDeps map[string]string `json:"nextDeps,omitempty"`
}

// PersistedHistory is the exported mirror of the persisted ObjectHistory
// layout described in §6.
type PersistedHistory struct {
	Object                   string                     `json:"object"`
	PreviousStateTransitions map[string]json.RawMessage `json:"previousStateTransitions"`
	LastEvent                PersistedEvent             `json:"lastEvent"`
}

// FormatDuration renders a SimTime as an ISO-8601 duration, e.g. "PT1.5S".
func FormatDuration(t SimTime) string {
	seconds := time.Duration(t).Seconds()
	return fmt.Sprintf("PT%sS", strconv.FormatFloat(seconds, 'f', -1, 64))
}

// ParseDuration is the inverse of FormatDuration.
func ParseDuration(s string) (SimTime, error) {
	if !strings.HasPrefix(s, "PT") || !strings.HasSuffix(s, "S") {
		return 0, fmt.Errorf("rx: invalid ISO-8601 duration %q", s)
	}
	seconds, err := strconv.ParseFloat(s[2:len(s)-1], 64)
	if err != nil {
		return 0, fmt.Errorf("rx: invalid ISO-8601 duration %q: %w", s, err)
	}
	return SimTime(seconds * float64(time.Second)), nil
}

// MarshalHistory renders h in the persisted layout of §6: a set of bare
// historical state snapshots keyed by ISO-8601 duration, plus a fully
// tagged last event.
func MarshalHistory(codec EventCodec, h *History) ([]byte, error) {
	h.mu.Lock()
	transitions := append([]*Event(nil), h.transitions...)
	h.mu.Unlock()

	prev := make(map[string]json.RawMessage, len(transitions)-1)
	for _, ev := range transitions[:len(transitions)-1] {
		raw, err := codec.MarshalState(ev.state)
		if err != nil {
			return nil, fmt.Errorf("rx: marshal state at %s: %w", ev.id, err)
		}
		prev[FormatDuration(ev.id.Time)] = raw
	}

	last := transitions[len(transitions)-1]
	var lastState json.RawMessage
	if !last.IsAbsent() {
		raw, err := codec.MarshalState(last.state)
		if err != nil {
			return nil, fmt.Errorf("rx: marshal last state: %w", err)
		}
		lastState = raw
	}

	deps := make(map[string]string, len(last.nextDeps))
	for obj, t := range last.nextDeps {
		deps[obj.String()] = FormatDuration(t)
	}

	persisted := PersistedHistory{
		Object:                   last.id.Object.String(),
		PreviousStateTransitions: prev,
		LastEvent: PersistedEvent{
			Class:    codec.Tag(),
			Time:     FormatDuration(last.id.Time),
			State:    lastState,
			NextDeps: deps,
		},
	}
	return json.Marshal(persisted)
}

// UnmarshalHistory reconstructs a *History from the persisted layout of §6,
// looking up the codec named by the payload's "class" tag in reg.
func UnmarshalHistory(reg *Registry, data []byte) (*History, error) {
	var persisted PersistedHistory
	if err := json.Unmarshal(data, &persisted); err != nil {
		return nil, fmt.Errorf("rx: decode persisted history: %w", err)
	}

	objectUUID, err := uuid.Parse(persisted.Object)
	if err != nil {
		return nil, fmt.Errorf("rx: decode object id %q: %w", persisted.Object, err)
	}
	object := ObjectID(objectUUID)

	codec, ok := reg.codecFor(persisted.LastEvent.Class)
	if !ok {
		return nil, fmt.Errorf("rx: unknown persisted class %q", persisted.LastEvent.Class)
	}

	type decoded struct {
		time  SimTime
		state State
	}
	items := make([]decoded, 0, len(persisted.PreviousStateTransitions))
	for durStr, raw := range persisted.PreviousStateTransitions {
		t, err := ParseDuration(durStr)
		if err != nil {
			return nil, err
		}
		state, err := codec.UnmarshalState(raw)
		if err != nil {
			return nil, fmt.Errorf("rx: decode state at %s: %w", durStr, err)
		}
		items = append(items, decoded{time: t, state: state})
	}
	sort.Slice(items, func(i, j int) bool { return items[i].time < items[j].time })

	past := make([]StateTransition, 0, len(items))
	for _, it := range items {
		past = append(past, StateTransition{Time: it.time, State: it.state})
	}

	lastTime, err := ParseDuration(persisted.LastEvent.Time)
	if err != nil {
		return nil, err
	}
	var lastState State
	if len(persisted.LastEvent.State) > 0 {
		lastState, err = codec.UnmarshalState(persisted.LastEvent.State)
		if err != nil {
			return nil, fmt.Errorf("rx: decode last state: %w", err)
		}
	}
	nextDeps := make(map[ObjectID]SimTime, len(persisted.LastEvent.NextDeps))
	for objStr, durStr := range persisted.LastEvent.NextDeps {
		depUUID, err := uuid.Parse(objStr)
		if err != nil {
			return nil, fmt.Errorf("rx: decode dependency id %q: %w", objStr, err)
		}
		t, err := ParseDuration(durStr)
		if err != nil {
			return nil, err
		}
		nextDeps[ObjectID(depUUID)] = t
	}

	last, err := NewEvent(StateID{Object: object, Time: lastTime}, lastState, nextDeps, codec.Transition(lastState))
	if err != nil {
		return nil, err
	}

	return NewModifiableObjectHistoryFrom(object, past, last)
}
