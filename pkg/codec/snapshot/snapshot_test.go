package snapshot

import (
	"bytes"
	"crypto/sha256"
	"testing"

	"github.com/cuemby/pippin/pkg/element"
	"github.com/cuemby/pippin/pkg/header"
	"github.com/cuemby/pippin/pkg/state"
	"github.com/cuemby/pippin/pkg/sum"
)

func TestWriteReadRoundTrip(t *testing.T) {
	s := state.Blank(1)
	m := state.NewMut(s)
	id1 := element.NewEltId(1, 1)
	id2 := element.NewEltId(1, 2)
	m.Insert(id1, element.Text("hello"))
	m.Insert(id2, element.Text("world, with a longer payload to cross one 16-byte boundary"))
	next := m.ToState(nil, state.PartState{}.Meta)

	var buf bytes.Buffer
	h := header.Header{RepoName: "test"}
	if err := Write(&buf, h, next); err != nil {
		t.Fatalf("Write: %v", err)
	}

	_, got, err := Read(&buf, 1, element.TextDecoder{})
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if len(got.EltMap) != 2 {
		t.Fatalf("expected 2 elements, got %d", len(got.EltMap))
	}
	if got.EltMap[id1] != element.Text("hello") {
		t.Errorf("element 1 mismatch: %v", got.EltMap[id1])
	}
	// A snapshot carries no commit metadata, so its declared state-sum
	// is the pure element-checksum XOR, regardless of next's own
	// (meta-inclusive) state-sum.
	if got.StateSum != next.EltSum {
		t.Errorf("statesum mismatch: got %s want %s", got.StateSum, next.EltSum)
	}
}

func TestReadDetectsCorruption(t *testing.T) {
	s := state.Blank(1)
	m := state.NewMut(s)
	id := element.NewEltId(1, 1)
	m.Insert(id, element.Text("hello"))
	next := m.ToState(nil, state.PartState{}.Meta)

	var buf bytes.Buffer
	if err := Write(&buf, header.Header{RepoName: "t"}, next); err != nil {
		t.Fatalf("Write: %v", err)
	}

	data := buf.Bytes()
	// flip a byte well inside the element payload region.
	for i := len(data) / 2; i < len(data); i++ {
		if data[i] != 0 {
			data[i] ^= 0xFF
			break
		}
	}

	if _, _, err := Read(bytes.NewReader(data), 1, element.TextDecoder{}); err == nil {
		t.Errorf("expected corruption to be detected")
	}
}

// TestReadDetectsStateSumMismatch covers a file whose per-element
// checksums and whole-file trailer are both intact, but whose declared
// STATESUM does not equal the XOR of element checksums: it must still
// be rejected.
func TestReadDetectsStateSumMismatch(t *testing.T) {
	s := state.Blank(1)
	m := state.NewMut(s)
	id := element.NewEltId(1, 1)
	m.Insert(id, element.Text("hello"))
	next := m.ToState(nil, state.PartState{}.Meta)

	var buf bytes.Buffer
	if err := Write(&buf, header.Header{RepoName: "t"}, next); err != nil {
		t.Fatalf("Write: %v", err)
	}
	data := buf.Bytes()

	tag := []byte("STATESUM")
	idx := bytes.Index(data, tag)
	if idx < 0 {
		t.Fatalf("STATESUM tag not found in written snapshot")
	}
	// STATESUM tag (8) + count (8) precede the 32-byte declared sum.
	sumOff := idx + 16
	data[sumOff] ^= 0xFF

	// Recompute the trailing whole-file checksum so only the declared
	// STATESUM (not the trailer) is wrong: the per-element and
	// whole-file checks alone must not be enough to load this file.
	body := data[:len(data)-sum.Len]
	recomputed := sha256.Sum256(body)
	copy(data[len(data)-sum.Len:], recomputed[:])

	if _, _, err := Read(bytes.NewReader(data), 1, element.TextDecoder{}); err == nil {
		t.Errorf("expected a tampered STATESUM field to be detected")
	}
}
