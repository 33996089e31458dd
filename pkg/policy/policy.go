// Package policy implements the snapshot policy: a small stateful
// counter that decides when a partition's next write should also emit a
// snapshot.
package policy

// forcedSentinel is large enough that want_snapshot() is true on the
// very next check after Force, regardless of the configured weights.
const forcedSentinel = 1_000_000

// Policy tracks commits and edits accumulated since the last snapshot
// and decides when another snapshot is due.
type Policy struct {
	CommitWeight int
	EditWeight   int
	Threshold    int

	commits int
	edits   int
}

// Default returns the policy with the specified defaults: a snapshot is
// due once commits*5 + edits exceeds 150.
func Default() *Policy {
	return &Policy{CommitWeight: 5, EditWeight: 1, Threshold: 150}
}

// AddCommits records n additional commits since the last snapshot.
func (p *Policy) AddCommits(n int) {
	p.commits += n
}

// AddEdits records n additional element-level edits since the last
// snapshot.
func (p *Policy) AddEdits(n int) {
	p.edits += n
}

// Reset clears the counters after a snapshot has been written.
func (p *Policy) Reset() {
	p.commits = 0
	p.edits = 0
}

// Force makes the next WantSnapshot call return true regardless of the
// accumulated counters, used after loading from an older-than-latest
// snapshot.
func (p *Policy) Force() {
	p.commits = forcedSentinel
}

// WantSnapshot reports whether a snapshot is due.
func (p *Policy) WantSnapshot() bool {
	weight := p.commits*p.commitWeight() + p.edits*p.editWeight()
	return weight > p.threshold()
}

func (p *Policy) commitWeight() int {
	if p.CommitWeight == 0 {
		return 5
	}
	return p.CommitWeight
}

func (p *Policy) editWeight() int {
	if p.EditWeight == 0 {
		return 1
	}
	return p.EditWeight
}

func (p *Policy) threshold() int {
	if p.Threshold == 0 {
		return 150
	}
	return p.Threshold
}
