package commit

import (
	"testing"

	"github.com/cuemby/pippin/pkg/element"
	"github.com/cuemby/pippin/pkg/sum"
)

func TestIsMerge(t *testing.T) {
	single := Commit{Parents: []sum.Sum{{1}}}
	if single.IsMerge() {
		t.Errorf("expected a single-parent commit not to be a merge")
	}

	merge := Commit{Parents: []sum.Sum{{1}, {2}}}
	if !merge.IsMerge() {
		t.Errorf("expected a two-parent commit to be a merge")
	}
}

func TestFirstParent(t *testing.T) {
	if got := (Commit{}).FirstParent(); got != (sum.Sum{}) {
		t.Errorf("expected zero sum.Sum for a commit with no parents, got %v", got)
	}

	want := sum.Sum{9}
	c := Commit{Parents: []sum.Sum{want, {2}}}
	if got := c.FirstParent(); got != want {
		t.Errorf("got %v want %v", got, want)
	}
}

func TestChangeConstructors(t *testing.T) {
	e := element.Text("x")

	ins := NewInsert(e)
	if ins.Kind != Insert || !ins.HasElt || ins.Elt != e {
		t.Errorf("unexpected Insert change: %+v", ins)
	}

	rep := NewReplace(e)
	if rep.Kind != Replace || !rep.HasElt {
		t.Errorf("unexpected Replace change: %+v", rep)
	}

	del := NewDelete()
	if del.Kind != Delete || del.HasElt || del.HasMove {
		t.Errorf("unexpected Delete change: %+v", del)
	}

	id := element.NewEltId(1, 5)
	out := NewMovedOut(id)
	if out.Kind != MovedOut || !out.HasMove || out.NewId != id {
		t.Errorf("unexpected MovedOut change: %+v", out)
	}

	mv := NewMoved(id)
	if mv.Kind != Moved || !mv.HasMove || mv.NewId != id {
		t.Errorf("unexpected Moved change: %+v", mv)
	}
}
