// Package replay implements the log replayer: it applies a queue of
// commits to a set of known states, extending the state DAG until no
// further progress can be made.
package replay

import (
	"github.com/cuemby/pippin/pkg/commit"
	"github.com/cuemby/pippin/pkg/perr"
	"github.com/cuemby/pippin/pkg/state"
	"github.com/cuemby/pippin/pkg/sum"
)

// Result summarizes one replay run.
type Result struct {
	CommitsApplied int
	EditsApplied   int
	// Unresolved holds commits whose first parent was never found,
	// reported but not treated as fatal (they may be orphans from a
	// truncated load).
	Unresolved []commit.Commit
}

// Apply runs the commits in queue against states/tips, mutating both
// maps in place, until a full pass makes no further progress.
func Apply(states map[sum.Sum]state.PartState, tips map[sum.Sum]bool, queue []commit.Commit) (Result, error) {
	var result Result
	pending := make([]commit.Commit, len(queue))
	copy(pending, queue)

	for {
		progressed := false
		var next []commit.Commit

		for _, c := range pending {
			parent, known := states[c.FirstParent()]
			if !known {
				next = append(next, c)
				continue
			}

			if _, already := states[c.StateSum]; already {
				progressed = true
				continue
			}

			eltMap, err := state.Apply(parent, c)
			if err != nil {
				return result, perr.Wrap(perr.Replay, "applying commit", err)
			}
			derived := state.New(parent.PartId, c.Parents, eltMap, c.Meta)
			if derived.StateSum != c.StateSum {
				return result, perr.Newf(perr.Replay, "commit statesum mismatch: declared %s computed %s", c.StateSum, derived.StateSum)
			}

			states[derived.StateSum] = derived
			tips[derived.StateSum] = true
			for _, p := range c.Parents {
				delete(tips, p)
			}

			result.CommitsApplied++
			result.EditsApplied += len(c.Changes)
			progressed = true
		}

		pending = next
		if !progressed || len(pending) == 0 {
			break
		}
	}

	result.Unresolved = pending
	return result, nil
}
