// Package element defines partition and element identifiers and the
// capability interface an element payload type must satisfy to be stored
// in a partition.
package element

import (
	"unicode/utf8"

	"github.com/cuemby/pippin/pkg/perr"
	"github.com/cuemby/pippin/pkg/sum"
)

// partIDBits is the number of high bits of an EltId reserved for the
// owning PartId, leaving the low bits for the intra-partition sequence.
const partIDBits = 40

// PartId identifies a partition. It is embedded in the high bits of every
// EltId belonging to that partition, so element identity stays unique
// across partitions without a global registry.
type PartId uint64

// MaxPartId is the largest representable PartId.
const MaxPartId = PartId(1)<<partIDBits - 1

// EltId identifies an element within the global element space.
type EltId uint64

// NewEltId packs a PartId and an intra-partition sequence number into an
// EltId.
func NewEltId(p PartId, seq uint64) EltId {
	return EltId(uint64(p)<<(64-partIDBits) | (seq & (1<<(64-partIDBits) - 1)))
}

// PartId extracts the owning partition from an EltId.
func (e EltId) PartId() PartId {
	return PartId(uint64(e) >> (64 - partIDBits))
}

// Seq extracts the intra-partition sequence number from an EltId.
func (e EltId) Seq() uint64 {
	return uint64(e) & (1<<(64-partIDBits) - 1)
}

// Element is the capability set the partition engine requires of any
// payload type: serialize to bytes and compute a checksum binding the
// payload to its EltId.
type Element interface {
	// Bytes returns the payload's on-disk encoding.
	Bytes() []byte
	// Sum computes elt_sum = H(id ‖ payload) for the given id.
	Sum(id EltId) sum.Sum
}

// Decoder reconstructs an Element from raw bytes, verifying the result
// against an expected checksum.
type Decoder interface {
	Decode(data []byte, id EltId, expect sum.Sum) (Element, error)
}

// Text is the UTF-8 string payload shipped as this repository's concrete
// Element implementation.
type Text string

// Bytes implements Element.
func (t Text) Bytes() []byte {
	return []byte(t)
}

// Sum implements Element.
func (t Text) Sum(id EltId) sum.Sum {
	return sumWithID(id, []byte(t))
}

func sumWithID(id EltId, payload []byte) sum.Sum {
	buf := make([]byte, 8+len(payload))
	for i := 0; i < 8; i++ {
		buf[i] = byte(uint64(id) >> (56 - 8*i))
	}
	copy(buf[8:], payload)
	return sum.Calculate(buf)
}

// TextDecoder decodes Text payloads, rejecting non-UTF-8 bytes and
// checksum mismatches.
type TextDecoder struct{}

// Decode implements Decoder.
func (TextDecoder) Decode(data []byte, id EltId, expect sum.Sum) (Element, error) {
	if !utf8.Valid(data) {
		return nil, perr.Newf(perr.Encoding, "element %d: payload is not valid UTF-8", id)
	}
	t := Text(data)
	if got := t.Sum(id); got != expect {
		return nil, perr.Newf(perr.Encoding, "element %d: checksum mismatch: got %s want %s", id, got, expect)
	}
	return t, nil
}
