package header

import (
	"bytes"
	"testing"

	"github.com/cuemby/pippin/pkg/element"
)

func TestWriteReadRoundTrip(t *testing.T) {
	h := Header{
		Magic:     MagicSnapshot,
		RepoName:  "test-repo",
		PartId:    element.PartId(7),
		HasPartId: true,
		UserData: []UserData{
			{Tag: "desc", Value: []byte("a repository for testing")},
		},
	}

	var buf bytes.Buffer
	if err := Write(&buf, h); err != nil {
		t.Fatalf("Write: %v", err)
	}

	got, err := Read(&buf)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if got.Magic != h.Magic || got.RepoName != h.RepoName || got.PartId != h.PartId || !got.HasPartId {
		t.Errorf("round trip mismatch: got %+v want %+v", got, h)
	}
	if len(got.UserData) != 1 || got.UserData[0].Tag != "desc" || string(got.UserData[0].Value) != "a repository for testing" {
		t.Errorf("user data mismatch: got %+v", got.UserData)
	}
}

func TestReadRejectsBadMagic(t *testing.T) {
	var buf bytes.Buffer
	Write(&buf, Header{Magic: MagicCommitLog, RepoName: "x"})
	data := buf.Bytes()
	data[0] = 'Z'
	if _, err := Read(bytes.NewReader(data)); err == nil {
		t.Errorf("expected error for corrupted magic")
	}
}

func TestNoPartIdOrUserData(t *testing.T) {
	h := Header{Magic: MagicSnapshot, RepoName: "bare"}
	var buf bytes.Buffer
	if err := Write(&buf, h); err != nil {
		t.Fatalf("Write: %v", err)
	}
	got, err := Read(&buf)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if got.HasPartId {
		t.Errorf("expected no PartId")
	}
	if len(got.UserData) != 0 {
		t.Errorf("expected no user data, got %v", got.UserData)
	}
}
