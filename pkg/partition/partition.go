// Package partition implements the partition engine: the orchestration
// layer owning a partition's I/O provider, its loaded state graph, tip
// set, unsaved-commit queue, and snapshot policy.
package partition

import (
	"fmt"
	"io"
	"sort"
	"strconv"
	"time"
	"unicode/utf8"

	"github.com/cuemby/pippin/pkg/codec/commitlog"
	"github.com/cuemby/pippin/pkg/codec/snapshot"
	"github.com/cuemby/pippin/pkg/commit"
	"github.com/cuemby/pippin/pkg/element"
	"github.com/cuemby/pippin/pkg/header"
	"github.com/cuemby/pippin/pkg/merge"
	"github.com/cuemby/pippin/pkg/metrics"
	"github.com/cuemby/pippin/pkg/perr"
	"github.com/cuemby/pippin/pkg/pippinio"
	"github.com/cuemby/pippin/pkg/plog"
	"github.com/cuemby/pippin/pkg/policy"
	"github.com/cuemby/pippin/pkg/replay"
	"github.com/cuemby/pippin/pkg/state"
	"github.com/cuemby/pippin/pkg/sum"
)

// maxClRetries bounds the search for a free commit-log slot before
// write() gives up, matching the original's large sentinel.
const maxClRetries = 1_000_000

// Options customizes partition construction. Every field is optional.
type Options struct {
	// Decoder reconstructs element payloads read from disk by Load;
	// element.TextDecoder is used if nil.
	Decoder element.Decoder
	// Policy overrides the snapshot policy; Default() is used if nil.
	Policy *policy.Policy
	// MakeUserData lets a caller populate each file's user-data blocks
	// from the rest of the header about to be written.
	MakeUserData func(header.Header) ([]header.UserData, error)
	// OnHeaderRead is called with every header successfully read,
	// before its repo name / PartId are checked against the
	// partition's own.
	OnHeaderRead func(header.Header) error
}

// Partition is the runtime state of one partition: its I/O provider, its
// loaded states, tips, unsaved commits, and snapshot policy.
type Partition struct {
	io       pippinio.PartIO
	partID   element.PartId
	repoName string
	ssNum    int
	hadSs    bool

	states  map[sum.Sum]state.PartState
	tips    map[sum.Sum]bool
	unsaved []commit.Commit

	policy    *policy.Policy
	opts      Options
	loaded    bool
	commitSeq uint32
}

func validateName(name string) error {
	if name == "" {
		return perr.New(perr.Arg, "repo name must not be empty")
	}
	if !utf8.ValidString(name) {
		return perr.New(perr.Arg, "repo name must be valid UTF-8")
	}
	for _, r := range name {
		if r == 0 {
			return perr.New(perr.Arg, "repo name must not contain NUL")
		}
	}
	return nil
}

// Create initializes a brand-new partition: it writes a blank snapshot
// at slot 0 and returns a fully loaded, ready partition.
func Create(io pippinio.PartIO, partID element.PartId, name string, opts Options) (*Partition, error) {
	if err := validateName(name); err != nil {
		return nil, err
	}

	p := newPartition(io, partID, opts)
	blank := state.Blank(partID)

	w, err := io.NewSs(0)
	if err != nil {
		return nil, perr.Wrap(perr.Io, "creating snapshot 0", err)
	}
	defer w.Close()

	h := header.Header{RepoName: name, PartId: partID, HasPartId: true}
	if opts.MakeUserData != nil {
		ud, err := opts.MakeUserData(h)
		if err != nil {
			return nil, fmt.Errorf("partition: make user data: %w", err)
		}
		h.UserData = ud
	}

	if err := snapshot.Write(w, h, blank); err != nil {
		return nil, perr.Wrap(perr.Io, "writing blank snapshot", err)
	}

	p.repoName = name
	p.ssNum = 0
	p.hadSs = true
	p.states[blank.StateSum] = blank
	p.tips[blank.StateSum] = true
	p.loaded = true

	plog.WithFields(map[string]any{"part_id": uint64(partID)}).Info().Str("repo", name).Msg("partition created")
	return p, nil
}

// Open constructs a partition bound to io but not yet loaded; call Load
// before any other operation.
func Open(io pippinio.PartIO, partID element.PartId, opts Options) *Partition {
	return newPartition(io, partID, opts)
}

func newPartition(io pippinio.PartIO, partID element.PartId, opts Options) *Partition {
	pol := opts.Policy
	if pol == nil {
		pol = policy.Default()
	}
	return &Partition{
		io:     io,
		partID: partID,
		states: map[sum.Sum]state.PartState{},
		tips:   map[sum.Sum]bool{},
		policy: pol,
		opts:   opts,
	}
}

func (p *Partition) checkHeader(h header.Header) error {
	if p.opts.OnHeaderRead != nil {
		if err := p.opts.OnHeaderRead(h); err != nil {
			return err
		}
	}
	if h.HasPartId && h.PartId != p.partID {
		return perr.Newf(perr.Arg, "header partition id %d does not match expected %d", h.PartId, p.partID)
	}
	if p.repoName == "" {
		p.repoName = h.RepoName
	} else if h.RepoName != p.repoName {
		return perr.Newf(perr.Arg, "header repo name %q does not match %q", h.RepoName, p.repoName)
	}
	return nil
}

// Load reads the partition's snapshots and commit logs and replays them
// into the state graph. If allHistory is true every snapshot generation
// is read from the beginning; otherwise only the most recent available
// snapshot and the logs written since it are read.
func (p *Partition) Load(allHistory bool) error {
	length := p.io.SsLen()
	if length == 0 {
		return perr.New(perr.NotFound, "partition has no snapshot generations")
	}

	var commits []commit.Commit
	startSs := 0

	if allHistory {
		for ss := 0; ss < length; ss++ {
			if p.io.SsExists(ss) {
				if err := p.loadSnapshot(ss); err != nil {
					return err
				}
			}
			logs, err := p.loadLogs(ss)
			if err != nil {
				return err
			}
			commits = append(commits, logs...)
		}
	} else {
		found := -1
		for ss := length - 1; ss >= 0; ss-- {
			if p.io.SsExists(ss) {
				found = ss
				break
			}
		}
		if found == -1 {
			p.states[state.Blank(p.partID).StateSum] = state.Blank(p.partID)
			p.tips[state.Blank(p.partID).StateSum] = true
			plog.Warn("no snapshot found; recovering with a blank root state")
		} else {
			if err := p.loadSnapshot(found); err != nil {
				return err
			}
			if found < length-1 {
				p.policy.Force()
				plog.Warn("loaded an older-than-latest snapshot; forcing a snapshot on next write")
			}
			startSs = found
		}

		for ss := startSs; ss < length; ss++ {
			logs, err := p.loadLogs(ss)
			if err != nil {
				return err
			}
			commits = append(commits, logs...)
		}
	}

	timer := metrics.NewTimer()
	result, err := replay.Apply(p.states, p.tips, commits)
	timer.ObserveDuration(metrics.ReplayDuration)
	if err != nil {
		return perr.Wrap(perr.Replay, "replaying commit log", err)
	}
	if len(result.Unresolved) > 0 {
		plog.Logger.Warn().Int("unresolved", len(result.Unresolved)).Msg("replay finished with unresolved commits")
	}
	p.policy.AddCommits(result.CommitsApplied)
	p.policy.AddEdits(result.EditsApplied)

	for _, s := range p.states {
		if s.Meta.Number > p.commitSeq {
			p.commitSeq = s.Meta.Number
		}
	}

	p.loaded = true
	return nil
}

func (p *Partition) loadSnapshot(ssNum int) error {
	r, err := p.io.ReadSs(ssNum)
	if err != nil {
		return perr.Wrap(perr.Io, "opening snapshot", err)
	}
	defer r.Close()

	h, s, err := snapshot.Read(r, p.partID, p.decoder())
	if err != nil {
		return perr.Wrap(perr.Read, fmt.Sprintf("reading snapshot %d", ssNum), err)
	}
	if err := p.checkHeader(h); err != nil {
		return err
	}

	p.states[s.StateSum] = s
	p.tips[s.StateSum] = true
	p.ssNum = ssNum
	p.hadSs = true
	return nil
}

func (p *Partition) loadLogs(ssNum int) ([]commit.Commit, error) {
	var out []commit.Commit
	clLen := p.io.SsClLen(ssNum)
	for cl := 0; cl < clLen; cl++ {
		r, err := p.io.ReadCl(ssNum, cl)
		if err != nil {
			return nil, perr.Wrap(perr.Io, "opening commit log", err)
		}
		h, commits, err := commitlog.ReadLog(r, p.decoder())
		r.Close()
		if err != nil {
			return nil, perr.Wrap(perr.Read, fmt.Sprintf("reading log (%d,%d)", ssNum, cl), err)
		}
		if err := p.checkHeader(h); err != nil {
			return nil, err
		}
		out = append(out, commits...)
	}
	return out, nil
}

func (p *Partition) decoder() element.Decoder {
	if p.opts.Decoder != nil {
		return p.opts.Decoder
	}
	return element.TextDecoder{}
}

// IsLoaded reports whether Load has completed successfully.
func (p *Partition) IsLoaded() bool {
	return p.loaded
}

// IsReady reports whether the partition has exactly one tip.
func (p *Partition) IsReady() bool {
	return len(p.tips) == 1
}

// MergeRequired reports whether more than one tip exists.
func (p *Partition) MergeRequired() bool {
	return len(p.tips) > 1
}

// RepoName returns the partition's repository name, available once it
// has been set by Create or by the first header read during Load.
func (p *Partition) RepoName() string {
	return p.repoName
}

// UnwrapIO returns the underlying I/O provider.
func (p *Partition) UnwrapIO() pippinio.PartIO {
	return p.io
}

// Tip returns the sole tip's state. It fails if the partition is not
// ready (zero or multiple tips).
func (p *Partition) Tip() (state.PartState, error) {
	if !p.IsReady() {
		return state.PartState{}, perr.New(perr.Tip, "partition is not ready: zero or multiple tips")
	}
	for s := range p.tips {
		return p.states[s], nil
	}
	panic("unreachable")
}

// StateView pairs a PartState with whether it is currently a tip.
type StateView struct {
	state.PartState
	tip bool
}

// IsTip reports whether this state is currently a tip.
func (v StateView) IsTip() bool {
	return v.tip
}

// States returns every loaded state.
func (p *Partition) States() []StateView {
	out := make([]StateView, 0, len(p.states))
	for sm, s := range p.states {
		out = append(out, StateView{PartState: s, tip: p.tips[sm]})
	}
	return out
}

// StateByPrefix looks up a loaded state by a hex prefix of its statesum.
func (p *Partition) StateByPrefix(prefix string) (state.PartState, error) {
	var matches []sum.Sum
	for sm := range p.states {
		if sm.HasPrefix(prefix) {
			matches = append(matches, sm)
		}
	}
	switch len(matches) {
	case 0:
		return state.PartState{}, perr.Wrap(perr.Match, fmt.Sprintf("prefix %q", prefix), perr.ErrNoMatches)
	case 1:
		return p.states[matches[0]], nil
	default:
		return state.PartState{}, perr.Wrap(perr.Match, fmt.Sprintf("prefix %q", prefix), perr.ErrMultiple)
	}
}

func (p *Partition) nextCommitNum() uint32 {
	p.commitSeq++
	return p.commitSeq
}

// PushState diffs mut against the parent it was cloned from and, if
// anything changed, records the difference as a new unsaved commit.
// It returns false (and does nothing) if there is nothing to commit.
func (p *Partition) PushState(mut *state.MutPartState, extra commit.Extra) (bool, error) {
	parent, ok := p.states[mut.ParentSum()]
	if !ok {
		return false, perr.New(perr.NotFound, "push_state: parent state not loaded")
	}

	changes := state.Diff(parent, mut)
	if len(changes) == 0 {
		return false, nil
	}

	meta := commit.Meta{Number: p.nextCommitNum(), Timestamp: time.Now().Unix(), Extra: extra}
	next := mut.ToState([]sum.Sum{parent.StateSum}, meta)
	c := commit.Commit{
		StateSum: next.StateSum,
		Parents:  []sum.Sum{parent.StateSum},
		Changes:  changes,
		Meta:     meta,
	}
	p.addPair(c, next)
	return true, nil
}

// PushCommit validates and applies a fully formed commit produced
// elsewhere (e.g. by a merge), failing with a Patch error on a statesum
// clash, an unknown parent, or a checksum mismatch after application.
func (p *Partition) PushCommit(c commit.Commit) error {
	if _, exists := p.states[c.StateSum]; exists {
		return perr.SumClash(c.StateSum)
	}
	if len(c.Parents) == 0 {
		return perr.New(perr.Arg, "commit has no parents")
	}
	parent, ok := p.states[c.Parents[0]]
	if !ok {
		return perr.NoParent(c.Parents[0])
	}

	eltMap, err := state.Apply(parent, c)
	if err != nil {
		return err
	}
	derived := state.New(parent.PartId, c.Parents, eltMap, c.Meta)
	if derived.StateSum != c.StateSum {
		return perr.Newf(perr.Patch, "commit produced statesum %s, declared %s", derived.StateSum, c.StateSum)
	}

	p.addPair(c, derived)
	return nil
}

func (p *Partition) addPair(c commit.Commit, s state.PartState) {
	p.unsaved = append(p.unsaved, c)
	for _, parent := range s.Parents {
		delete(p.tips, parent)
	}
	p.tips[s.StateSum] = true
	p.states[s.StateSum] = s
	p.policy.AddCommits(1)
	p.policy.AddEdits(len(c.Changes))

	label := strconv.FormatUint(uint64(p.partID), 10)
	metrics.StatesTotal.WithLabelValues(label).Set(float64(len(p.states)))
	metrics.TipsTotal.WithLabelValues(label).Set(float64(len(p.tips)))
}

func (p *Partition) header(userFields []header.UserData) (header.Header, error) {
	h := header.Header{RepoName: p.repoName, PartId: p.partID, HasPartId: true, UserData: userFields}
	if p.opts.MakeUserData != nil {
		ud, err := p.opts.MakeUserData(h)
		if err != nil {
			return h, err
		}
		h.UserData = ud
	}
	return h, nil
}

// Write flushes every unsaved commit to a new commit-log file. If fast
// is false and the partition is ready, it also writes a snapshot when
// the snapshot policy says one is due. It returns true iff any commit
// was written.
func (p *Partition) Write(fast bool, userFields []header.UserData) (bool, error) {
	wrote := false
	label := strconv.FormatUint(uint64(p.partID), 10)

	for len(p.unsaved) > 0 {
		clNum := p.io.SsClLen(p.ssNum)
		var w io.WriteCloser
		var err error
		for tries := 0; ; tries++ {
			w, err = p.io.NewSsCl(p.ssNum, clNum)
			if err == nil {
				break
			}
			clNum++
			if tries >= maxClRetries {
				return wrote, perr.Wrap(perr.Io, "finding a free commit-log slot", err)
			}
		}

		h, err := p.header(userFields)
		if err != nil {
			return wrote, err
		}
		if err := commitlog.StartLog(w, h); err != nil {
			w.Close()
			return wrote, perr.Wrap(perr.Io, "starting commit log", err)
		}

		for len(p.unsaved) > 0 {
			c := p.unsaved[0]
			if err := commitlog.WriteCommit(w, c); err != nil {
				w.Close()
				return wrote, perr.Wrap(perr.Io, "writing commit", err)
			}
			p.unsaved = p.unsaved[1:]
			wrote = true
			metrics.CommitsWrittenTotal.WithLabelValues(label).Inc()
		}
		if err := w.Close(); err != nil {
			return wrote, perr.Wrap(perr.Io, "closing commit log", err)
		}
	}

	if !fast && p.IsReady() && p.policy.WantSnapshot() {
		if err := p.WriteSnapshot(userFields); err != nil {
			return wrote, err
		}
	}

	return wrote, nil
}

// WriteSnapshot writes the current tip's full state to a new snapshot
// slot and resets the snapshot policy counters.
func (p *Partition) WriteSnapshot(userFields []header.UserData) error {
	tip, err := p.Tip()
	if err != nil {
		return err
	}

	ssNum := p.ssNum + 1
	for p.io.SsExists(ssNum) {
		ssNum++
	}

	w, err := p.io.NewSs(ssNum)
	if err != nil {
		return perr.Wrap(perr.Io, "creating snapshot", err)
	}
	h, err := p.header(userFields)
	if err != nil {
		w.Close()
		return err
	}
	if err := snapshot.Write(w, h, tip); err != nil {
		w.Close()
		return perr.Wrap(perr.Io, "writing snapshot", err)
	}
	if err := w.Close(); err != nil {
		return perr.Wrap(perr.Io, "closing snapshot", err)
	}

	// A snapshot file carries only elements, not commit metadata: its
	// declared state-sum is elt_sum alone. Reloading this file later
	// reconstructs the tip at that elt-only identity, so the in-memory
	// tip is rekeyed to match now, keeping whatever commits get pushed
	// next consistent with what a fresh load would see.
	flatSum := tip.EltSum
	if flatSum != tip.StateSum {
		flat := state.PartState{
			PartId:   tip.PartId,
			EltMap:   tip.EltMap,
			EltSum:   tip.EltSum,
			StateSum: flatSum,
		}
		delete(p.states, tip.StateSum)
		delete(p.tips, tip.StateSum)
		p.states[flatSum] = flat
		p.tips[flatSum] = true
	}

	p.ssNum = ssNum
	p.hadSs = true
	p.policy.Reset()
	metrics.SnapshotsWrittenTotal.WithLabelValues(strconv.FormatUint(uint64(p.partID), 10)).Inc()
	return nil
}

// Merge reconciles tips pairwise with solver until exactly one remains.
func (p *Partition) Merge(solver merge.Solver) error {
	for p.MergeRequired() {
		if err := p.mergeTwo(solver); err != nil {
			return err
		}
	}
	return nil
}

func (p *Partition) mergeTwo(solver merge.Solver) error {
	timer := metrics.NewTimer()
	defer timer.ObserveDuration(metrics.MergeDuration)

	var tips []sum.Sum
	for t := range p.tips {
		tips = append(tips, t)
	}
	sort.Slice(tips, func(i, j int) bool { return tips[i].String() < tips[j].String() })
	t1, t2 := tips[0], tips[1]

	ancestorSum, err := merge.LatestCommonAncestor(p.states, t1, t2)
	if err != nil {
		return perr.Wrap(perr.Tip, "merge: finding common ancestor", err)
	}

	left := p.states[t1]
	right := p.states[t2]
	ancestor := p.states[ancestorSum]

	changes, err := solver.Resolve(merge.Context{Ancestor: ancestor, Left: left, Right: right})
	if err != nil {
		return perr.Wrap(perr.Patch, "merge: resolving", err)
	}

	mut := state.NewMut(left)
	for id, ch := range changes {
		switch ch.Kind {
		case commit.Delete:
			mut.Remove(id)
		case commit.Insert, commit.Replace:
			mut.Insert(id, ch.Elt)
		}
	}

	meta := commit.Meta{Number: p.nextCommitNum(), Timestamp: time.Now().Unix()}
	next := mut.ToState([]sum.Sum{t1, t2}, meta)
	if _, collision := p.states[next.StateSum]; collision {
		return perr.Newf(perr.Patch, "merge produced a statesum already present: %s", next.StateSum)
	}

	c := commit.Commit{
		StateSum: next.StateSum,
		Parents:  []sum.Sum{t1, t2},
		Changes:  changes,
		Meta:     meta,
	}
	return p.PushCommit(c)
}
