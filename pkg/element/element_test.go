package element

import (
	"errors"
	"testing"

	"github.com/cuemby/pippin/pkg/perr"
)

func TestEltIdPacking(t *testing.T) {
	id := NewEltId(42, 7)
	if id.PartId() != 42 {
		t.Errorf("PartId: got %d want 42", id.PartId())
	}
	if id.Seq() != 7 {
		t.Errorf("Seq: got %d want 7", id.Seq())
	}
}

func TestTextChecksumBindsID(t *testing.T) {
	payload := Text("hello")
	s1 := payload.Sum(NewEltId(1, 1))
	s2 := payload.Sum(NewEltId(1, 2))
	if s1 == s2 {
		t.Errorf("checksum must depend on element id, got equal sums")
	}
}

func TestTextDecodeRoundTrip(t *testing.T) {
	id := NewEltId(3, 5)
	payload := Text("round trip")
	expect := payload.Sum(id)

	dec := TextDecoder{}
	got, err := dec.Decode(payload.Bytes(), id, expect)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if got.(Text) != payload {
		t.Errorf("got %q want %q", got, payload)
	}
}

func TestTextDecodeChecksumMismatch(t *testing.T) {
	id := NewEltId(3, 5)
	payload := Text("round trip")
	wrongSum := Text("other").Sum(id)

	dec := TextDecoder{}
	_, err := dec.Decode(payload.Bytes(), id, wrongSum)
	if err == nil {
		t.Fatalf("expected checksum mismatch error")
	}
	var perrErr *perr.Error
	if !errors.As(err, &perrErr) || perrErr.Kind != perr.Encoding {
		t.Errorf("expected a perr.Encoding error, got %v", err)
	}
}

func TestTextDecodeInvalidUTF8(t *testing.T) {
	dec := TextDecoder{}
	id := NewEltId(1, 1)
	bad := []byte{0xff, 0xfe, 0xfd}
	_, err := dec.Decode(bad, id, [32]byte{})
	if err == nil {
		t.Fatalf("expected invalid UTF-8 error")
	}
	var perrErr *perr.Error
	if !errors.As(err, &perrErr) || perrErr.Kind != perr.Encoding {
		t.Errorf("expected a perr.Encoding error, got %v", err)
	}
}
