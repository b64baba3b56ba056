// Package prune implements the external pruner the engine's design notes
// call for but deliberately omit from the core (rx keeps every event so
// that ObserveState can answer honestly for any t, however old). A
// Watermark tracks, per object, the oldest simulated time any outstanding
// ObserveState subscription might still need and reports which prefixes of
// a history are safe to discard, generalizing the count/age eviction the
// teacher's journal.Journal applies to keyframes into a per-object time
// watermark.
package prune

import (
	"sort"
	"sync"

	"rxsim/rx"
)

// Advice reports how far a single object's history can be trimmed.
type Advice struct {
	Object ObjectID
	// SafeBefore is the latest time such that every event strictly before
	// it is safe to discard: no tracked reader still depends on it.
	SafeBefore rx.SimTime
}

// ObjectID re-exports rx.ObjectID so callers of this package do not need to
// import rx solely for the type name.
type ObjectID = rx.ObjectID

// Watermark tracks the oldest simulated time any live reader has registered
// interest in, per object, plus per-object retention settings. It does not
// track the times an object's own future advancement could read as a
// dependency; only readers registered with Track hold events back. It never
// touches a
// History directly; it only computes advice for an external pruner to act
// on, matching §5's "the core exposes enough API for an external pruner"
// framing.
type Watermark struct {
	mu        sync.Mutex
	readers   map[ObjectID]map[uint64]rx.SimTime
	nextToken uint64
	retained  map[ObjectID]int
	maxAge    map[ObjectID]rx.SimTime
}

// NewWatermark returns an empty Watermark.
func NewWatermark() *Watermark {
	return &Watermark{
		readers:  make(map[ObjectID]map[uint64]rx.SimTime),
		retained: make(map[ObjectID]int),
		maxAge:   make(map[ObjectID]rx.SimTime),
	}
}

// Token identifies one registered read interest so it can later be released.
type Token struct {
	object ObjectID
	id     uint64
}

// Track registers interest in object's state at or after t: the pruner must
// not discard any event that could still answer an ObserveState(object, u)
// call for u >= t made under this token. Release the returned Token once
// the reader is done (the subscription completed or was cancelled).
func (w *Watermark) Track(object ObjectID, t rx.SimTime) Token {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.nextToken++
	id := w.nextToken
	if w.readers[object] == nil {
		w.readers[object] = make(map[uint64]rx.SimTime)
	}
	w.readers[object][id] = t
	return Token{object: object, id: id}
}

// Release removes a previously issued Token's interest.
func (w *Watermark) Release(tok Token) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if m, ok := w.readers[tok.object]; ok {
		delete(m, tok.id)
		if len(m) == 0 {
			delete(w.readers, tok.object)
		}
	}
}

// SetRetention configures a floor on how much of an object's history is
// kept regardless of reader interest: at least minEvents of the most
// recent transitions, and every transition no older than maxAge before the
// object's current LastEvent time. Neither setting ever advises discarding
// more than readers allow. Mirrors the count-then-age eviction order of the
// teacher's journal.Journal.RecordKeyframe (count first, then age).
func (w *Watermark) SetRetention(object ObjectID, minEvents int, maxAge rx.SimTime) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if minEvents > 0 {
		w.retained[object] = minEvents
	}
	if maxAge > 0 {
		w.maxAge[object] = maxAge
	}
}

// Advise computes, for each object in transitions (keyed by object id, with
// each value the object's transitions in append order and lastTime its
// LastEvent time), the prefix that is safe to discard: no registered reader
// token needs an event strictly before SafeBefore, and the configured
// retention floor is respected.
func (w *Watermark) Advise(transitions map[ObjectID][]rx.StateTransition, lastTime map[ObjectID]rx.SimTime) []Advice {
	w.mu.Lock()
	defer w.mu.Unlock()

	ids := make([]ObjectID, 0, len(transitions))
	for id := range transitions {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i].String() < ids[j].String() })

	advice := make([]Advice, 0, len(ids))
	for _, id := range ids {
		events := transitions[id]
		safe := w.safeBeforeLocked(id, events, lastTime[id])
		advice = append(advice, Advice{Object: id, SafeBefore: safe})
	}
	return advice
}

// safeBeforeLocked returns the latest time such that discarding every event
// strictly before it is safe. Three independent floors bound how
// aggressively the pruner may act, and the least aggressive of the three
// wins (the smallest time, i.e. the most conservative answer): a live
// reader's requested time, the minimum-event-count retention floor, and the
// max-age retention floor. Retention floors only ever keep more than
// readers strictly require; they never authorize discarding something a
// reader still needs.
func (w *Watermark) safeBeforeLocked(object ObjectID, events []rx.StateTransition, lastTime rx.SimTime) rx.SimTime {
	if len(events) == 0 {
		return 0
	}

	safe := events[len(events)-1].Time
	for _, t := range w.readers[object] {
		// ObserveState(t) answers with the latest event at or before t, so
		// that event is the reader's floor, not t itself.
		floor := t
		for i := len(events) - 1; i >= 0; i-- {
			if events[i].Time <= t {
				floor = events[i].Time
				break
			}
		}
		if floor < safe {
			safe = floor
		}
	}

	if keep := w.retained[object]; keep > 0 && keep < len(events) {
		if floor := events[len(events)-keep].Time; floor < safe {
			safe = floor
		}
	}

	if age := w.maxAge[object]; age > 0 {
		if floor := lastTime - age; floor < safe {
			safe = floor
		}
	}

	return safe
}
