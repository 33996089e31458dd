package replay

import (
	"testing"

	"github.com/cuemby/pippin/pkg/commit"
	"github.com/cuemby/pippin/pkg/element"
	"github.com/cuemby/pippin/pkg/state"
	"github.com/cuemby/pippin/pkg/sum"
)

func TestApplyDetectsTip(t *testing.T) {
	blank := state.Blank(1)
	states := map[sum.Sum]state.PartState{blank.StateSum: blank}
	tips := map[sum.Sum]bool{blank.StateSum: true}

	m := state.NewMut(blank)
	id := element.NewEltId(1, 1)
	m.Insert(id, element.Text("hello"))
	changes := state.Diff(blank, m)
	derived := m.ToState([]sum.Sum{blank.StateSum}, commit.Meta{Number: 1})

	c := commit.Commit{
		StateSum: derived.StateSum,
		Parents:  []sum.Sum{blank.StateSum},
		Changes:  changes,
		Meta:     commit.Meta{Number: 1},
	}

	result, err := Apply(states, tips, []commit.Commit{c})
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if result.CommitsApplied != 1 {
		t.Errorf("expected 1 commit applied, got %d", result.CommitsApplied)
	}
	if len(result.Unresolved) != 0 {
		t.Errorf("expected no unresolved commits, got %d", len(result.Unresolved))
	}
	if tips[blank.StateSum] {
		t.Errorf("parent should no longer be a tip")
	}
	if !tips[derived.StateSum] {
		t.Errorf("derived state should be the new tip")
	}
	if len(states) != 2 {
		t.Errorf("expected 2 known states, got %d", len(states))
	}
}

func TestApplyOutOfOrderDeferred(t *testing.T) {
	blank := state.Blank(1)
	states := map[sum.Sum]state.PartState{blank.StateSum: blank}
	tips := map[sum.Sum]bool{blank.StateSum: true}

	m1 := state.NewMut(blank)
	id1 := element.NewEltId(1, 1)
	m1.Insert(id1, element.Text("a"))
	c1Changes := state.Diff(blank, m1)
	s1 := m1.ToState([]sum.Sum{blank.StateSum}, commit.Meta{Number: 1})
	c1 := commit.Commit{StateSum: s1.StateSum, Parents: []sum.Sum{blank.StateSum}, Changes: c1Changes, Meta: commit.Meta{Number: 1}}

	m2 := state.NewMut(s1)
	id2 := element.NewEltId(1, 2)
	m2.Insert(id2, element.Text("b"))
	c2Changes := state.Diff(s1, m2)
	s2 := m2.ToState([]sum.Sum{s1.StateSum}, commit.Meta{Number: 2})
	c2 := commit.Commit{StateSum: s2.StateSum, Parents: []sum.Sum{s1.StateSum}, Changes: c2Changes, Meta: commit.Meta{Number: 2}}

	// feed c2 before c1: replay must defer c2 to a later pass.
	result, err := Apply(states, tips, []commit.Commit{c2, c1})
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if result.CommitsApplied != 2 {
		t.Errorf("expected both commits eventually applied, got %d", result.CommitsApplied)
	}
	if !tips[s2.StateSum] || tips[s1.StateSum] || tips[blank.StateSum] {
		t.Errorf("expected only s2 to be a tip, got %+v", tips)
	}
}

func TestApplyStatesumMismatchFails(t *testing.T) {
	blank := state.Blank(1)
	states := map[sum.Sum]state.PartState{blank.StateSum: blank}
	tips := map[sum.Sum]bool{blank.StateSum: true}

	bogus := commit.Commit{
		StateSum: sum.Calculate([]byte("not the real sum")),
		Parents:  []sum.Sum{blank.StateSum},
		Changes:  map[element.EltId]commit.Change{},
		Meta:     commit.Meta{Number: 1},
	}

	if _, err := Apply(states, tips, []commit.Commit{bogus}); err == nil {
		t.Errorf("expected statesum mismatch error")
	}
}
