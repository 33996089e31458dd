// Package state implements the immutable PartState and its mutable
// builder MutPartState: the in-memory element map a partition tracks at
// each point in its history.
package state

import (
	"encoding/binary"
	"fmt"

	"github.com/cuemby/pippin/pkg/commit"
	"github.com/cuemby/pippin/pkg/element"
	"github.com/cuemby/pippin/pkg/perr"
	"github.com/cuemby/pippin/pkg/sum"
)

// PartState is an immutable snapshot of a partition's element map at one
// point in history.
type PartState struct {
	PartId   element.PartId
	Parents  []sum.Sum
	EltMap   map[element.EltId]element.Element
	Meta     commit.Meta
	EltSum   sum.Sum
	MetaSum  sum.Sum
	StateSum sum.Sum
}

// MetaSum computes the checksum binding a commit's metadata fields,
// independent of any particular element payload.
func MetaSum(m commit.Meta) sum.Sum {
	buf := make([]byte, 0, 16+len(m.Extra.Text))
	numBuf := make([]byte, 4)
	binary.BigEndian.PutUint32(numBuf, m.Number)
	buf = append(buf, numBuf...)
	tsBuf := make([]byte, 8)
	binary.BigEndian.PutUint64(tsBuf, uint64(m.Timestamp))
	buf = append(buf, tsBuf...)
	buf = append(buf, byte(m.Extra.Kind))
	buf = append(buf, []byte(m.Extra.Text)...)
	return sum.Calculate(buf)
}

// EltSumOf XORs together the elt_sum of every element in m.
func EltSumOf(m map[element.EltId]element.Element) sum.Sum {
	var total sum.Sum
	for id, e := range m {
		total = total.XOR(e.Sum(id))
	}
	return total
}

// New builds a PartState from a finished element map, parents, and
// metadata, computing its derived checksums.
func New(partID element.PartId, parents []sum.Sum, eltMap map[element.EltId]element.Element, meta commit.Meta) PartState {
	eltSum := EltSumOf(eltMap)
	metaSum := MetaSum(meta)
	return PartState{
		PartId:   partID,
		Parents:  parents,
		EltMap:   eltMap,
		Meta:     meta,
		EltSum:   eltSum,
		MetaSum:  metaSum,
		StateSum: eltSum.XOR(metaSum),
	}
}

// Blank constructs the synthetic root state for a freshly created
// partition: no elements, no parents, and a zero meta_sum, so its
// statesum is the all-zero sum that a snapshot of an empty element map
// declares.
func Blank(partID element.PartId) PartState {
	return PartState{PartId: partID, EltMap: map[element.EltId]element.Element{}}
}

// Validate checks the PartState invariants (§3 of the data model).
func (s PartState) Validate() error {
	eltSum := EltSumOf(s.EltMap)
	if eltSum != s.EltSum {
		return perr.Newf(perr.Replay, "elt_sum mismatch: stored %s computed %s", s.EltSum, eltSum)
	}
	if s.EltSum.XOR(s.MetaSum) != s.StateSum {
		return perr.Newf(perr.Replay, "statesum invariant violated for state %s", s.StateSum)
	}
	for id := range s.EltMap {
		if id.PartId() != s.PartId {
			return perr.Newf(perr.Replay, "element %d does not belong to partition %d", id, s.PartId)
		}
	}
	seen := map[sum.Sum]bool{}
	for _, p := range s.Parents {
		if p == s.StateSum {
			return perr.New(perr.Replay, "state lists itself as a parent")
		}
		if seen[p] {
			return perr.New(perr.Replay, "duplicate parent in state")
		}
		seen[p] = true
	}
	return nil
}

// MutPartState is a builder cloned from a PartState, used to accumulate
// edits before diffing against the parent to produce a commit.
type MutPartState struct {
	partID    element.PartId
	parentSum sum.Sum
	eltMap    map[element.EltId]element.Element
	eltSum    sum.Sum
}

// NewMut clones parent into a mutable builder.
func NewMut(parent PartState) *MutPartState {
	m := make(map[element.EltId]element.Element, len(parent.EltMap))
	for k, v := range parent.EltMap {
		m[k] = v
	}
	return &MutPartState{
		partID:    parent.PartId,
		parentSum: parent.StateSum,
		eltMap:    m,
		eltSum:    parent.EltSum,
	}
}

// ParentSum returns the statesum this builder was cloned from.
func (m *MutPartState) ParentSum() sum.Sum {
	return m.parentSum
}

// EltSum returns the builder's current running elt_sum.
func (m *MutPartState) EltSum() sum.Sum {
	return m.eltSum
}

// Get returns the element currently stored at id, if any.
func (m *MutPartState) Get(id element.EltId) (element.Element, bool) {
	e, ok := m.eltMap[id]
	return e, ok
}

// Insert adds or replaces the element at id, updating the running
// elt_sum incrementally.
func (m *MutPartState) Insert(id element.EltId, e element.Element) {
	if id.PartId() != m.partID {
		panic(fmt.Sprintf("element %d does not belong to partition %d", id, m.partID))
	}
	if old, ok := m.eltMap[id]; ok {
		m.eltSum = m.eltSum.XOR(old.Sum(id))
	}
	m.eltMap[id] = e
	m.eltSum = m.eltSum.XOR(e.Sum(id))
}

// Remove deletes the element at id, if present.
func (m *MutPartState) Remove(id element.EltId) {
	if old, ok := m.eltMap[id]; ok {
		m.eltSum = m.eltSum.XOR(old.Sum(id))
		delete(m.eltMap, id)
	}
}

// ToState finalizes the builder into an immutable PartState with the
// given parents and metadata.
func (m *MutPartState) ToState(parents []sum.Sum, meta commit.Meta) PartState {
	eltMap := make(map[element.EltId]element.Element, len(m.eltMap))
	for k, v := range m.eltMap {
		eltMap[k] = v
	}
	return New(m.partID, parents, eltMap, meta)
}

// Diff computes the Change set that would transform parent into the
// builder's current element map, for use by push_state.
func Diff(parent PartState, m *MutPartState) map[element.EltId]commit.Change {
	changes := map[element.EltId]commit.Change{}
	for id, e := range m.eltMap {
		old, existed := parent.EltMap[id]
		switch {
		case !existed:
			changes[id] = commit.NewInsert(e)
		case old.Sum(id) != e.Sum(id):
			changes[id] = commit.NewReplace(e)
		}
	}
	for id := range parent.EltMap {
		if _, still := m.eltMap[id]; !still {
			changes[id] = commit.NewDelete()
		}
	}
	return changes
}

// Apply applies a commit's changes to parent, producing the resulting
// element map. MovedOut removes the source element; Moved inserts the
// element at the new id, carrying over the existing payload at the old
// id.
func Apply(parent PartState, c commit.Commit) (map[element.EltId]element.Element, error) {
	out := make(map[element.EltId]element.Element, len(parent.EltMap))
	for k, v := range parent.EltMap {
		out[k] = v
	}
	for id, ch := range c.Changes {
		switch ch.Kind {
		case commit.Delete:
			delete(out, id)
		case commit.Insert, commit.Replace:
			if !ch.HasElt {
				return nil, perr.Newf(perr.Patch, "change for element %d missing payload", id)
			}
			out[id] = ch.Elt
		case commit.MovedOut:
			if !ch.HasMove {
				return nil, perr.Newf(perr.Patch, "moved-out change for element %d missing target", id)
			}
			delete(out, id)
		case commit.Moved:
			if !ch.HasMove {
				return nil, perr.Newf(perr.Patch, "moved change for element %d missing target", id)
			}
			if e, ok := out[id]; ok {
				out[ch.NewId] = e
			}
		default:
			return nil, perr.Newf(perr.Patch, "unknown change kind for element %d", id)
		}
	}
	return out, nil
}
