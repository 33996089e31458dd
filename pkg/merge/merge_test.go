package merge

import (
	"testing"

	"github.com/cuemby/pippin/pkg/commit"
	"github.com/cuemby/pippin/pkg/element"
	"github.com/cuemby/pippin/pkg/state"
	"github.com/cuemby/pippin/pkg/sum"
)

func TestLatestCommonAncestorLinear(t *testing.T) {
	root := state.Blank(1)
	states := map[sum.Sum]state.PartState{root.StateSum: root}

	m1 := state.NewMut(root)
	m1.Insert(element.NewEltId(1, 1), element.Text("a"))
	s1 := m1.ToState([]sum.Sum{root.StateSum}, commit.Meta{Number: 1})
	states[s1.StateSum] = s1

	m2a := state.NewMut(s1)
	m2a.Insert(element.NewEltId(1, 2), element.Text("b"))
	s2a := m2a.ToState([]sum.Sum{s1.StateSum}, commit.Meta{Number: 2})
	states[s2a.StateSum] = s2a

	m2b := state.NewMut(s1)
	m2b.Insert(element.NewEltId(1, 3), element.Text("c"))
	s2b := m2b.ToState([]sum.Sum{s1.StateSum}, commit.Meta{Number: 2})
	states[s2b.StateSum] = s2b

	anc, err := LatestCommonAncestor(states, s2a.StateSum, s2b.StateSum)
	if err != nil {
		t.Fatalf("LatestCommonAncestor: %v", err)
	}
	if anc != s1.StateSum {
		t.Errorf("got %s want %s", anc, s1.StateSum)
	}
}

func TestLatestCommonAncestorDisjointFails(t *testing.T) {
	a := state.Blank(1)
	b := state.New(1, nil, map[element.EltId]element.Element{
		element.NewEltId(1, 99): element.Text("standalone"),
	}, commit.Meta{})
	states := map[sum.Sum]state.PartState{a.StateSum: a, b.StateSum: b}

	if _, err := LatestCommonAncestor(states, a.StateSum, b.StateSum); err == nil {
		t.Errorf("expected disjoint states to fail")
	}
}

func TestTakeLeftResolvesNonConflicting(t *testing.T) {
	ancestor := state.Blank(1)
	id := element.NewEltId(1, 1)

	mLeft := state.NewMut(ancestor)
	mLeft.Insert(element.NewEltId(1, 2), element.Text("left-only"))
	left := mLeft.ToState([]sum.Sum{ancestor.StateSum}, commit.Meta{Number: 1})

	mRight := state.NewMut(ancestor)
	mRight.Insert(id, element.Text("right-only"))
	right := mRight.ToState([]sum.Sum{ancestor.StateSum}, commit.Meta{Number: 1})

	changes, err := (TakeLeft{}).Resolve(Context{Ancestor: ancestor, Left: left, Right: right})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	ch, ok := changes[id]
	if !ok || ch.Kind != commit.Insert {
		t.Errorf("expected right's insert to be adopted, got %+v", changes)
	}
}
