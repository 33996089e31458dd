package state

import (
	"testing"

	"github.com/cuemby/pippin/pkg/commit"
	"github.com/cuemby/pippin/pkg/element"
)

func TestBlankStateValid(t *testing.T) {
	s := Blank(1)
	if err := s.Validate(); err != nil {
		t.Fatalf("blank state should be valid: %v", err)
	}
	if len(s.EltMap) != 0 || len(s.Parents) != 0 {
		t.Errorf("blank state should have no elements or parents")
	}
}

func TestMutInsertAndDiff(t *testing.T) {
	parent := Blank(1)
	m := NewMut(parent)
	id := element.NewEltId(1, 1)
	m.Insert(id, element.Text("hello"))

	diff := Diff(parent, m)
	ch, ok := diff[id]
	if !ok || ch.Kind != commit.Insert {
		t.Fatalf("expected insert change for %d, got %+v", id, diff)
	}

	next := m.ToState(nil, commit.Meta{Number: 1})
	if err := next.Validate(); err != nil {
		t.Fatalf("derived state invalid: %v", err)
	}
	if next.StateSum == parent.StateSum {
		t.Errorf("state with an element should differ from blank parent")
	}
}

func TestApplyRoundTripsWithDiff(t *testing.T) {
	parent := Blank(1)
	m := NewMut(parent)
	id1 := element.NewEltId(1, 1)
	id2 := element.NewEltId(1, 2)
	m.Insert(id1, element.Text("a"))
	m.Insert(id2, element.Text("b"))

	changes := Diff(parent, m)
	c := commit.Commit{Changes: changes, Meta: commit.Meta{Number: 1}}

	out, err := Apply(parent, c)
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if len(out) != 2 {
		t.Fatalf("expected 2 elements, got %d", len(out))
	}
	if out[id1] != element.Text("a") || out[id2] != element.Text("b") {
		t.Errorf("unexpected apply result: %+v", out)
	}
}

func TestMutRemoveNoOpDiff(t *testing.T) {
	parent := Blank(1)
	m := NewMut(parent)
	diff := Diff(parent, m)
	if len(diff) != 0 {
		t.Errorf("expected empty diff for unchanged builder, got %+v", diff)
	}
}
