package rx

import "testing"

func TestDeriveObjectID_Deterministic(t *testing.T) {
	parent := StateID{Object: NewObjectID(), Time: 42}

	a := DeriveObjectID(parent, "child")
	b := DeriveObjectID(parent, "child")
	if a != b {
		t.Fatalf("expected identical derivation, got %s and %s", a, b)
	}

	c := DeriveObjectID(parent, "other")
	if a == c {
		t.Fatalf("expected different discriminators to produce different ids")
	}
}

func TestDeriveObjectID_SensitiveToParent(t *testing.T) {
	p1 := StateID{Object: NewObjectID(), Time: 1}
	p2 := StateID{Object: NewObjectID(), Time: 1}

	if DeriveObjectID(p1, "x") == DeriveObjectID(p2, "x") {
		t.Fatalf("expected different parents to derive different ids")
	}
}

func TestStateIDLess(t *testing.T) {
	a := ObjectID(NewObjectID())
	b := ObjectID(NewObjectID())
	if a == b {
		t.Fatalf("expected distinct ids from NewObjectID")
	}

	early := StateID{Object: a, Time: 1}
	late := StateID{Object: a, Time: 2}
	if !early.Less(late) || late.Less(early) {
		t.Fatalf("expected time to dominate ordering")
	}

	same := StateID{Object: a, Time: 5}
	other := StateID{Object: b, Time: 5}
	if same.Less(other) == other.Less(same) {
		t.Fatalf("expected a strict tie-break by object id")
	}
}
