package rx

import (
	"bytes"
	"fmt"

	"github.com/google/uuid"
)

// ObjectID uniquely identifies a simulated object for the lifetime of a
// Universe. Values compare equal by value, matching uuid.UUID semantics.
type ObjectID uuid.UUID

// String renders the canonical UUID form.
func (id ObjectID) String() string {
	return uuid.UUID(id).String()
}

// NewObjectID mints a fresh, randomly-sourced object id, suitable for seed
// objects supplied by a driver. Objects created from inside ComputeNextEvents
// must use DeriveObjectID instead, so that replay reproduces the same id.
func NewObjectID() ObjectID {
	return ObjectID(uuid.New())
}

// objectIDNamespace seeds the deterministic derivation below. It has no
// meaning beyond separating this package's derived ids from any other
// uuid.NewSHA1 namespace in the process.
var objectIDNamespace = uuid.MustParse("6f7e6e1a-6e0a-4b7b-9f7a-9d2f3e6b7a10")

// DeriveObjectID computes a reproducible child object id from the StateID of
// the event that is creating it plus a caller-chosen discriminator (e.g. a
// field name or an index within ComputeNextEvents' result). Two calls with
// equal arguments always yield equal ids, satisfying Event invariant 4: a
// transition function replayed identically mints identical new objects.
func DeriveObjectID(parent StateID, discriminator string) ObjectID {
	name := fmt.Sprintf("%s@%d/%s", uuid.UUID(parent.Object), parent.Time, discriminator)
	return ObjectID(uuid.NewSHA1(objectIDNamespace, []byte(name)))
}

// ParseObjectID parses the canonical UUID string form produced by String.
func ParseObjectID(s string) (ObjectID, error) {
	id, err := uuid.Parse(s)
	if err != nil {
		return ObjectID{}, err
	}
	return ObjectID(id), nil
}

// SimTime is a signed duration, in nanoseconds, since an implicit epoch
// shared by every object in a Universe. It is totally ordered.
type SimTime int64

// Before reports whether t precedes other.
func (t SimTime) Before(other SimTime) bool { return t < other }

// StateID names a single point in an object's history: the object and the
// simulated time at which an event for it occurred.
type StateID struct {
	Object ObjectID
	Time   SimTime
}

// Less orders StateIDs by time first, then by object id, giving a total
// order usable for deterministic iteration (e.g. enumerating NextDeps).
func (id StateID) Less(other StateID) bool {
	if id.Time != other.Time {
		return id.Time < other.Time
	}
	a, b := uuid.UUID(id.Object), uuid.UUID(other.Object)
	return bytes.Compare(a[:], b[:]) < 0
}

// String renders the StateID for logging and error messages.
func (id StateID) String() string {
	return fmt.Sprintf("%s@%d", id.Object, id.Time)
}
