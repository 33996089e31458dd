// Package merge implements common-ancestor search over a partition's
// state DAG and the pluggable three-way resolver interface used to
// reconcile divergent tips into one.
package merge

import (
	"github.com/cuemby/pippin/pkg/commit"
	"github.com/cuemby/pippin/pkg/element"
	"github.com/cuemby/pippin/pkg/perr"
	"github.com/cuemby/pippin/pkg/state"
	"github.com/cuemby/pippin/pkg/sum"
)

// Context exposes the three states a Solver reconciles: the two
// divergent tips and their latest common ancestor.
type Context struct {
	Ancestor state.PartState
	Left     state.PartState
	Right    state.PartState
}

// Solver resolves a three-way merge into the set of changes that should
// be applied on top of Left to produce the merged state.
type Solver interface {
	Resolve(ctx Context) (map[element.EltId]commit.Change, error)
}

// TakeLeft is a simple Solver that adopts Right's non-conflicting changes
// and keeps Left's version wherever both sides changed an element, used
// as a default/test resolver.
type TakeLeft struct{}

// Resolve implements Solver. It only needs to bring in elements Right
// added or changed relative to the ancestor that Left did not also
// change; true conflicts (both sides changed the same element
// differently) are resolved in Left's favor.
func (TakeLeft) Resolve(ctx Context) (map[element.EltId]commit.Change, error) {
	changes := map[element.EltId]commit.Change{}

	for id, rightElt := range ctx.Right.EltMap {
		leftElt, leftHas := ctx.Left.EltMap[id]
		ancestorElt, ancestorHas := ctx.Ancestor.EltMap[id]

		rightChanged := !ancestorHas || ancestorElt.Sum(id) != rightElt.Sum(id)
		leftSameAsAncestor := leftHas == ancestorHas && (!ancestorHas || (leftHas && ancestorElt.Sum(id) == leftElt.Sum(id)))

		switch {
		case !rightChanged:
			// right didn't touch it; nothing to bring in.
		case !leftSameAsAncestor:
			// both sides touched it: conflict, keep left's version
			// (already satisfied, no change needed).
		case !leftHas:
			changes[id] = commit.NewInsert(rightElt)
		default:
			changes[id] = commit.NewReplace(rightElt)
		}
	}

	for id, ancestorElt := range ctx.Ancestor.EltMap {
		_, rightHas := ctx.Right.EltMap[id]
		leftElt, leftHas := ctx.Left.EltMap[id]
		rightDeleted := !rightHas
		leftUnchanged := leftHas && leftElt.Sum(id) == ancestorElt.Sum(id)
		if rightDeleted && leftUnchanged {
			changes[id] = commit.NewDelete()
		}
	}

	return changes, nil
}

// LatestCommonAncestor finds the nearest statesum that is an ancestor of
// both k1 and k2, using the ancestors of k1 fully collected first, then a
// BFS of k2 returning the first hit in k1's ancestor set. Both
// traversals are bounded by the states already loaded into the states
// map; unknown parents terminate that branch silently.
func LatestCommonAncestor(states map[sum.Sum]state.PartState, k1, k2 sum.Sum) (sum.Sum, error) {
	ancestorsOf1 := collectAncestors(states, k1)

	visited := map[sum.Sum]bool{}
	queue := []sum.Sum{k2}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		if visited[cur] {
			continue
		}
		visited[cur] = true

		if ancestorsOf1[cur] {
			return cur, nil
		}

		s, ok := states[cur]
		if !ok {
			continue
		}
		queue = append(queue, s.Parents...)
	}

	return sum.Sum{}, perr.New(perr.NotFound, "no common ancestor found")
}

func collectAncestors(states map[sum.Sum]state.PartState, start sum.Sum) map[sum.Sum]bool {
	seen := map[sum.Sum]bool{start: true}
	queue := []sum.Sum{start}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		s, ok := states[cur]
		if !ok {
			continue
		}
		for _, p := range s.Parents {
			if !seen[p] {
				seen[p] = true
				queue = append(queue, p)
			}
		}
	}
	return seen
}
