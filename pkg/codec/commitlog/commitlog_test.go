package commitlog

import (
	"bytes"
	"io"
	"testing"

	"github.com/cuemby/pippin/pkg/commit"
	"github.com/cuemby/pippin/pkg/element"
	"github.com/cuemby/pippin/pkg/header"
	"github.com/cuemby/pippin/pkg/sum"
)

func eltID(seq uint64) element.EltId {
	return element.NewEltId(1, seq)
}

func TestWriteReadTwoCommits(t *testing.T) {
	c1 := commit.Commit{
		StateSum: sum.Calculate([]byte("state-1")),
		Parents:  []sum.Sum{sum.Calculate([]byte("root"))},
		Meta:     commit.Meta{Number: 1, Timestamp: 123456},
		Changes: map[element.EltId]commit.Change{
			eltID(3): commit.NewInsert(element.Text("three")),
			eltID(4): commit.NewInsert(element.Text("four")),
			eltID(5): commit.NewInsert(element.Text("five")),
		},
	}
	c2 := commit.Commit{
		StateSum: sum.Calculate([]byte("state-2")),
		Parents:  []sum.Sum{c1.StateSum},
		Meta: commit.Meta{
			Number:    1,
			Timestamp: 321654,
			Extra:     commit.Extra{Kind: commit.ExtraText, Text: "123"},
		},
		Changes: map[element.EltId]commit.Change{
			eltID(1): commit.NewDelete(),
			eltID(9): commit.NewReplace(element.Text("NINE!")),
			eltID(5): commit.NewInsert(element.Text("five again?")),
		},
	}

	var buf bytes.Buffer
	if err := StartLog(&buf, header.Header{RepoName: "log-test"}); err != nil {
		t.Fatalf("StartLog: %v", err)
	}
	if err := WriteCommit(&buf, c1); err != nil {
		t.Fatalf("WriteCommit c1: %v", err)
	}
	if err := WriteCommit(&buf, c2); err != nil {
		t.Fatalf("WriteCommit c2: %v", err)
	}

	_, got, err := ReadLog(&buf, element.TextDecoder{})
	if err != nil {
		t.Fatalf("ReadLog: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 commits, got %d", len(got))
	}
	if got[0].Meta.Timestamp != 123456 || got[0].Meta.Number != 1 {
		t.Errorf("c1 meta mismatch: %+v", got[0].Meta)
	}
	if len(got[0].Changes) != 3 {
		t.Errorf("c1 expected 3 changes, got %d", len(got[0].Changes))
	}
	if got[1].Meta.Extra.Kind != commit.ExtraText || got[1].Meta.Extra.Text != "123" {
		t.Errorf("c2 extra mismatch: %+v", got[1].Meta.Extra)
	}
	if ch, ok := got[1].Changes[eltID(1)]; !ok || ch.Kind != commit.Delete {
		t.Errorf("c2 expected delete for elt 1, got %+v", got[1].Changes[eltID(1)])
	}
	if ch, ok := got[1].Changes[eltID(9)]; !ok || ch.Kind != commit.Replace || ch.Elt != element.Text("NINE!") {
		t.Errorf("c2 expected replace for elt 9, got %+v", ch)
	}
}

func TestReadLogCleanEOF(t *testing.T) {
	var buf bytes.Buffer
	StartLog(&buf, header.Header{RepoName: "empty"})
	_, got, err := ReadLog(&buf, element.TextDecoder{})
	if err != nil {
		t.Fatalf("ReadLog on empty body: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("expected no commits, got %d", len(got))
	}
}

func TestReadCommitTornTailFails(t *testing.T) {
	c := commit.Commit{
		StateSum: sum.Calculate([]byte("state")),
		Parents:  []sum.Sum{sum.Calculate([]byte("root"))},
		Meta:     commit.Meta{Number: 1, Timestamp: 1},
		Changes: map[element.EltId]commit.Change{
			eltID(1): commit.NewInsert(element.Text("x")),
		},
	}
	var buf bytes.Buffer
	WriteCommit(&buf, c)
	full := buf.Bytes()
	torn := full[:len(full)-5] // chop off part of the trailing checksum

	_, err := ReadCommit(bytes.NewReader(torn), element.TextDecoder{})
	if err == nil || err == io.EOF {
		t.Errorf("expected a torn commit to fail, got %v", err)
	}
}
