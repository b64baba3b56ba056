package rx

import (
	"context"
	"fmt"
	"sync"

	"rxsim/rx/internal/stream"
)

// NextEvents is one candidate result of a transition function: the
// successor event for the advancing object, plus zero or more creation
// events for previously-unknown objects, all sharing the successor's
// timestamp (§3, Event invariant 5).
type NextEvents map[ObjectID]*Event

// Option configures a Universe at construction time.
type Option func(*Universe)

// WithObserver attaches an Observer that is notified of engine occurrences
// as the universe advances.
func WithObserver(o Observer) Option {
	return func(u *Universe) { u.observer = o }
}

// Universe is the registry of histories: it schedules AdvanceState by
// composing dependency observations into a next-event computation and
// compare-and-appending the result (§4.D). It owns no goroutines of its
// own — every blocking call here is driven by whatever context the caller
// supplies, matching the "library, not a process" framing of §5.
type Universe struct {
	mu       sync.RWMutex
	objects  map[ObjectID]*History
	observer Observer
}

// NewUniverse returns an empty Universe.
func NewUniverse(opts ...Option) *Universe {
	u := &Universe{objects: make(map[ObjectID]*History)}
	for _, opt := range opts {
		opt(u)
	}
	return u
}

// AddObject registers a brand-new object seeded by event. It fails if the
// object already exists or the seed event is absent.
func (u *Universe) AddObject(seed *Event) error {
	if seed == nil {
		return fmt.Errorf("%w: seed event is nil", ErrInvalidEventConfiguration)
	}
	if seed.IsAbsent() {
		return fmt.Errorf("%w: seed event for %s is absent", ErrInvalidEventConfiguration, seed.id.Object)
	}

	u.mu.Lock()
	defer u.mu.Unlock()
	if _, exists := u.objects[seed.id.Object]; exists {
		return fmt.Errorf("%w: %s", ErrObjectAlreadyExists, seed.id.Object)
	}
	h, err := NewModifiableObjectHistory(seed)
	if err != nil {
		return err
	}
	u.objects[seed.id.Object] = h
	u.notify(ObjectAdded, seed.id.Object, nil)
	return nil
}

// Objects returns a snapshot of every registered object id.
func (u *Universe) Objects() []ObjectID {
	u.mu.RLock()
	defer u.mu.RUnlock()
	ids := make([]ObjectID, 0, len(u.objects))
	for id := range u.objects {
		ids = append(ids, id)
	}
	return ids
}

func (u *Universe) history(object ObjectID) (*History, bool) {
	u.mu.RLock()
	defer u.mu.RUnlock()
	h, ok := u.objects[object]
	return h, ok
}

// ObserveState subscribes to an object's state at simulated time t, failing
// synchronously if the object is unregistered.
func (u *Universe) ObserveState(ctx context.Context, object ObjectID, t SimTime) (<-chan State, error) {
	h, ok := u.history(object)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrObjectUnknown, object)
	}
	return h.ObserveState(ctx, t), nil
}

// observeDependency is the §4.D.2 step-3 helper: an unknown dependency
// object yields a single immediate absent value rather than failing, since
// "never created" is a legitimate terminal answer for a dependency that
// simply doesn't exist (yet, or ever).
func (u *Universe) observeDependency(ctx context.Context, dep ObjectID, t SimTime) <-chan State {
	h, ok := u.history(dep)
	if !ok {
		ch := make(chan State, 1)
		ch <- nil
		close(ch)
		return ch
	}
	return h.ObserveState(ctx, t)
}

type depUpdate struct {
	dep   ObjectID
	state State
}

// ObserveNextEvent implements §4.D.2: a one-shot sequence of candidate next
// events for event's object, recomputed every time a dependency's observed
// state advances, using a latest-per-source combine over every dependency
// named in event.NextDeps. The returned channel closes once every
// dependency stream has committed (or ctx is cancelled); its final emission
// is the correct next event set.
func (u *Universe) ObserveNextEvent(ctx context.Context, event *Event) (<-chan NextEvents, error) {
	if event.IsAbsent() {
		return nil, fmt.Errorf("%w: %s", ErrResurrection, event.id)
	}

	deps := event.OrderedNextDeps()
	out := make(chan NextEvents)

	if len(deps) == 0 {
		go func() {
			defer close(out)
			next, err := event.ComputeNextEvents(map[ObjectID]State{})
			if err != nil {
				u.notify(AdvanceFailed, event.id.Object, err)
				return
			}
			select {
			case out <- next:
			case <-ctx.Done():
			}
		}()
		return out, nil
	}

	perDep := make([]<-chan depUpdate, len(deps))
	for i, dep := range deps {
		dep, t := dep, event.nextDeps[dep]
		states := u.observeDependency(ctx, dep, t)
		upd := make(chan depUpdate)
		go func() {
			defer close(upd)
			for s := range states {
				select {
				case upd <- depUpdate{dep: dep, state: s}:
				case <-ctx.Done():
					return
				}
			}
		}()
		perDep[i] = upd
	}

	merged := stream.Merge(ctx.Done(), perDep...)

	go func() {
		defer close(out)
		latest := make(map[ObjectID]State, len(deps))
		for upd := range merged {
			if upd.state == nil {
				delete(latest, upd.dep)
			} else {
				latest[upd.dep] = upd.state
			}
			present := make(map[ObjectID]State, len(latest))
			for k, v := range latest {
				present[k] = v
			}
			next, err := event.ComputeNextEvents(present)
			if err != nil {
				u.notify(AdvanceFailed, event.id.Object, err)
				return
			}
			select {
			case out <- next:
			case <-ctx.Done():
				return
			}
		}
	}()

	return out, nil
}

// AdvanceState reads object's LastEvent, subscribes to ObserveNextEvent for
// it, and attempts CompareAndAppend for every emission (including
// provisional ones) until one succeeds or the candidate stream is
// exhausted. Successful appends that mint new objects are atomically
// mirrored into the universe's registry. A cancelled AdvanceState leaves the
// history untouched.
func (u *Universe) AdvanceState(ctx context.Context, object ObjectID) error {
	h, ok := u.history(object)
	if !ok {
		return fmt.Errorf("%w: %s", ErrObjectUnknown, object)
	}

	last := h.LastEvent()
	childCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	candidates, err := u.ObserveNextEvent(childCtx, last)
	if err != nil {
		return &AdvanceError{Object: object, Cause: err}
	}

	for candidate := range candidates {
		applied, err := u.tryApply(h, object, last, candidate)
		if err != nil {
			u.notify(AdvanceFailed, object, err)
			return &AdvanceError{Object: object, Cause: err}
		}
		if applied {
			return nil
		}
	}
	// The dependency set fully committed without this attempt ever winning
	// its CAS: some other advancer moved the object forward first. Not an
	// error — the caller may re-read LastEvent and retry.
	return nil
}

// tryApply validates every creation id in candidate against the registry
// before ever touching h, so a transition that collides with an existing
// object-id (a universe-violating output per §4.D.2) is rejected with the
// history left unchanged rather than surfaced as AdvanceFailed after an
// own-object append has already landed. Only once that validation and the
// own-object CompareAndAppend both succeed are the creation entries mirrored
// into the universe's object map.
func (u *Universe) tryApply(h *History, object ObjectID, expected *Event, candidate NextEvents) (bool, error) {
	own, ok := candidate[object]
	if !ok {
		return false, fmt.Errorf("%w: candidate set missing own-object entry for %s", ErrInvalidEventConfiguration, object)
	}
	if err := u.validateCreatedObjects(object, candidate); err != nil {
		return false, err
	}

	applied, err := h.CompareAndAppend(expected, own)
	if err != nil {
		return false, err
	}
	if !applied {
		u.notify(CompareAndAppendLost, object, nil)
		return false, nil
	}
	u.notify(AppendAccepted, object, nil)
	if own.IsAbsent() {
		u.notify(HistorySealed, object, nil)
	}

	for id, ev := range candidate {
		if id == object {
			continue
		}
		if err := u.addCreatedObject(id, ev); err != nil {
			return true, err
		}
	}
	return true, nil
}

// validateCreatedObjects checks every non-own id in candidate against the
// registry up front. A collision here is rejected before the own-object
// CompareAndAppend runs; addCreatedObject's own existence check remains as a
// guard against a concurrent creator winning the race after validation.
func (u *Universe) validateCreatedObjects(object ObjectID, candidate NextEvents) error {
	u.mu.Lock()
	defer u.mu.Unlock()
	for id := range candidate {
		if id == object {
			continue
		}
		if _, exists := u.objects[id]; exists {
			return fmt.Errorf("%w: created object %s already exists", ErrObjectAlreadyExists, id)
		}
	}
	return nil
}

func (u *Universe) addCreatedObject(id ObjectID, seed *Event) error {
	u.mu.Lock()
	defer u.mu.Unlock()
	if _, exists := u.objects[id]; exists {
		return fmt.Errorf("%w: created object %s already exists", ErrObjectAlreadyExists, id)
	}
	h, err := NewModifiableObjectHistory(seed)
	if err != nil {
		return err
	}
	u.objects[id] = h
	u.notify(ObjectAdded, id, nil)
	return nil
}
