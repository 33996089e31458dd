// Package snapshot implements the binary snapshot codec: a full
// serialization of a PartState, with per-element and whole-file checksum
// verification.
package snapshot

import (
	"encoding/binary"
	"fmt"
	"io"
	"time"

	"github.com/cuemby/pippin/pkg/element"
	"github.com/cuemby/pippin/pkg/header"
	"github.com/cuemby/pippin/pkg/perr"
	"github.com/cuemby/pippin/pkg/state"
	"github.com/cuemby/pippin/pkg/streamio"
	"github.com/cuemby/pippin/pkg/sum"
)

const align = 16

func pad(n int) []byte {
	if n%align == 0 {
		return nil
	}
	return make([]byte, align-n%align)
}

func writePadded(w io.Writer, data []byte) error {
	if _, err := w.Write(data); err != nil {
		return err
	}
	if p := pad(len(data)); p != nil {
		_, err := w.Write(p)
		return err
	}
	return nil
}

// Write encodes h (the file header) followed by s's full element set to
// w. The whole-file checksum trailer is computed by a streaming hasher
// covering both the header and the body.
func Write(w io.Writer, h header.Header, s state.PartState) error {
	hw := streamio.NewHashWriter(w)

	h.Magic = header.MagicSnapshot
	if err := header.Write(hw, h); err != nil {
		return fmt.Errorf("snapshot: writing header: %w", err)
	}

	date := make([]byte, 8)
	copy(date, time.Now().UTC().Format("20060102"))
	if _, err := hw.Write([]byte("SNAPSHOT")); err != nil {
		return err
	}
	if _, err := hw.Write(date); err != nil {
		return err
	}

	if _, err := hw.Write([]byte("ELEMENTS")); err != nil {
		return err
	}
	countBuf := make([]byte, 8)
	binary.BigEndian.PutUint64(countBuf, uint64(len(s.EltMap)))
	if _, err := hw.Write(countBuf); err != nil {
		return err
	}

	for id, e := range s.EltMap {
		if _, err := hw.Write([]byte("ELEMENT\x00")); err != nil {
			return err
		}
		idBuf := make([]byte, 8)
		binary.BigEndian.PutUint64(idBuf, uint64(id))
		if _, err := hw.Write(idBuf); err != nil {
			return err
		}

		payload := e.Bytes()
		if _, err := hw.Write([]byte("BYTES\x00\x00\x00")); err != nil {
			return err
		}
		lenBuf := make([]byte, 8)
		binary.BigEndian.PutUint64(lenBuf, uint64(len(payload)))
		if _, err := hw.Write(lenBuf); err != nil {
			return err
		}
		if err := writePadded(hw, payload); err != nil {
			return err
		}
		eltSum := e.Sum(id)
		if _, err := hw.Write(eltSum.Bytes()); err != nil {
			return err
		}
	}

	// A snapshot carries no commit metadata, so the declared state-sum is
	// the XOR of element checksums alone, not s.StateSum (which may include
	// a meta_sum contribution from s's last commit).
	eltSum := state.EltSumOf(s.EltMap)
	if _, err := hw.Write([]byte("STATESUM")); err != nil {
		return err
	}
	if _, err := hw.Write(countBuf); err != nil {
		return err
	}
	if _, err := hw.Write(eltSum.Bytes()); err != nil {
		return err
	}

	trailer := hw.Sum()
	_, err := w.Write(trailer.Bytes())
	return err
}

// Read decodes a snapshot file from r, verifying every element checksum,
// the elt_sum/statesum relation, and the trailing whole-file checksum.
// Decoder reconstructs element payloads from raw bytes.
func Read(r io.Reader, partID element.PartId, dec element.Decoder) (header.Header, state.PartState, error) {
	hr := streamio.NewHashReader(r)

	h, err := header.Read(hr)
	if err != nil {
		return h, state.PartState{}, perr.Wrap(perr.Read, "snapshot header", err)
	}
	if h.Magic != header.MagicSnapshot {
		return h, state.PartState{}, perr.Newf(perr.Read, "not a snapshot file: magic %q", h.Magic)
	}

	tag, err := readExact(hr, 8)
	if err != nil || string(tag) != "SNAPSHOT" {
		return h, state.PartState{}, perr.New(perr.Read, "missing SNAPSHOT marker")
	}
	if _, err := readExact(hr, 8); err != nil {
		return h, state.PartState{}, perr.Wrap(perr.Read, "snapshot date", err)
	}

	elementsTag, err := readExact(hr, 8)
	if err != nil || string(elementsTag) != "ELEMENTS" {
		return h, state.PartState{}, perr.New(perr.Read, "missing ELEMENTS marker")
	}
	countBuf, err := readExact(hr, 8)
	if err != nil {
		return h, state.PartState{}, perr.Wrap(perr.Read, "element count", err)
	}
	count := binary.BigEndian.Uint64(countBuf)

	eltMap := make(map[element.EltId]element.Element, count)
	for i := uint64(0); i < count; i++ {
		marker, err := readExact(hr, 8)
		if err != nil || string(marker) != "ELEMENT\x00" {
			return h, state.PartState{}, perr.New(perr.Read, "missing ELEMENT marker")
		}
		idBuf, err := readExact(hr, 8)
		if err != nil {
			return h, state.PartState{}, perr.Wrap(perr.Read, "element id", err)
		}
		id := element.EltId(binary.BigEndian.Uint64(idBuf))

		bytesMarker, err := readExact(hr, 8)
		if err != nil || string(bytesMarker) != "BYTES\x00\x00\x00" {
			return h, state.PartState{}, perr.New(perr.Read, "missing BYTES marker")
		}
		lenBuf, err := readExact(hr, 8)
		if err != nil {
			return h, state.PartState{}, perr.Wrap(perr.Read, "element length", err)
		}
		length := binary.BigEndian.Uint64(lenBuf)
		payload, err := readExact(hr, int(length))
		if err != nil {
			return h, state.PartState{}, perr.Wrap(perr.Read, "element payload", err)
		}
		if p := pad(int(length)); p != nil {
			if _, err := readExact(hr, len(p)); err != nil {
				return h, state.PartState{}, perr.Wrap(perr.Read, "element padding", err)
			}
		}
		checksumBuf, err := readExact(hr, sum.Len)
		if err != nil {
			return h, state.PartState{}, perr.Wrap(perr.Read, "element checksum", err)
		}
		expect, _ := sum.FromBytes(checksumBuf)

		e, err := dec.Decode(payload, id, expect)
		if err != nil {
			return h, state.PartState{}, perr.Wrap(perr.Read, "decoding element", err)
		}
		eltMap[id] = e
	}

	statesumTag, err := readExact(hr, 8)
	if err != nil || string(statesumTag) != "STATESUM" {
		return h, state.PartState{}, perr.New(perr.Read, "missing STATESUM marker")
	}
	if _, err := readExact(hr, 8); err != nil {
		return h, state.PartState{}, perr.Wrap(perr.Read, "statesum count", err)
	}
	sumBuf, err := readExact(hr, sum.Len)
	if err != nil {
		return h, state.PartState{}, perr.Wrap(perr.Read, "statesum", err)
	}
	declaredSum, _ := sum.FromBytes(sumBuf)

	computed := hr.Sum()
	trailerBuf, err := readExact(r, sum.Len)
	if err != nil {
		return h, state.PartState{}, perr.Wrap(perr.Read, "trailing checksum", err)
	}
	trailer, _ := sum.FromBytes(trailerBuf)
	if trailer != computed {
		return h, state.PartState{}, perr.New(perr.Read, "whole-file checksum mismatch")
	}

	eltSum := state.EltSumOf(eltMap)
	if eltSum != declaredSum {
		return h, state.PartState{}, perr.New(perr.Read, "state checksum mismatch")
	}

	s := state.PartState{
		PartId:   partID,
		EltMap:   eltMap,
		EltSum:   eltSum,
		StateSum: declaredSum,
	}
	return h, s, nil
}

func readExact(r io.Reader, n int) ([]byte, error) {
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, err
	}
	return buf, nil
}
