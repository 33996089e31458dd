// Package commit defines the immutable commit record: a set of
// per-element changes plus parent state-sums and metadata, whose
// application to a parent state reproduces exactly one child state.
package commit

import (
	"github.com/cuemby/pippin/pkg/element"
	"github.com/cuemby/pippin/pkg/sum"
)

// ChangeKind distinguishes the five shapes an element-level change can
// take.
type ChangeKind int

const (
	Delete ChangeKind = iota
	Insert
	Replace
	MovedOut
	Moved
)

// Change is a single element-level edit. Insert and Replace carry the new
// Element; MovedOut and Moved carry the id the element now lives under.
type Change struct {
	Kind    ChangeKind
	Elt     element.Element
	NewId   element.EltId
	HasElt  bool
	HasMove bool
}

// NewInsert builds an Insert change.
func NewInsert(e element.Element) Change {
	return Change{Kind: Insert, Elt: e, HasElt: true}
}

// NewReplace builds a Replace change.
func NewReplace(e element.Element) Change {
	return Change{Kind: Replace, Elt: e, HasElt: true}
}

// NewDelete builds a Delete change.
func NewDelete() Change {
	return Change{Kind: Delete}
}

// NewMovedOut builds a MovedOut change pointing at newID.
func NewMovedOut(newID element.EltId) Change {
	return Change{Kind: MovedOut, NewId: newID, HasMove: true}
}

// NewMoved builds a Moved change pointing at newID.
func NewMoved(newID element.EltId) Change {
	return Change{Kind: Moved, NewId: newID, HasMove: true}
}

// ExtraKind distinguishes the two tagged variants of commit metadata's
// free-form extra field.
type ExtraKind int

const (
	ExtraNone ExtraKind = iota
	ExtraText
)

// Extra is commit metadata's optional free-form payload.
type Extra struct {
	Kind ExtraKind
	Text string
}

// Meta is the fixed metadata carried by every commit.
type Meta struct {
	Number    uint32
	Timestamp int64 // seconds since epoch
	Extra     Extra
}

// Commit is an immutable record of one state transition.
type Commit struct {
	StateSum sum.Sum
	Parents  []sum.Sum
	Changes  map[element.EltId]Change
	Meta     Meta
}

// IsMerge reports whether this commit has more than one parent.
func (c Commit) IsMerge() bool {
	return len(c.Parents) > 1
}

// FirstParent returns the commit's first (or only, for non-merges)
// parent.
func (c Commit) FirstParent() sum.Sum {
	if len(c.Parents) == 0 {
		return sum.Sum{}
	}
	return c.Parents[0]
}
