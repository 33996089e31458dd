// Package header implements the fixed-layout file header shared by every
// snapshot and commit-log file: a 16-byte magic/version preamble, a
// length-prefixed repo name, an optional PartId, and a sequence of tagged
// user-data blocks terminated by an end marker. All multi-byte integers
// are big-endian; all fields are NUL-padded to 16-byte multiples.
package header

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/cuemby/pippin/pkg/element"
)

const (
	// MagicSnapshot identifies a snapshot file.
	MagicSnapshot = "PIPPINSS"
	// MagicCommitLog identifies a commit-log file.
	MagicCommitLog = "PIPPINCL"

	// Version is the only header version this package writes or accepts.
	Version byte = 0

	align = 16
)

var endMarker = [align]byte{'E', 'N', 'D', ' ', 'H', 'E', 'A', 'D', 'E', 'R'}

// UserData is a single tagged, opaque header block, e.g. a caller-supplied
// repository description.
type UserData struct {
	Tag   string // up to 8 ASCII bytes
	Value []byte
}

// Header is the decoded preamble of a snapshot or commit-log file.
type Header struct {
	Magic     string
	RepoName  string
	PartId    element.PartId
	HasPartId bool
	UserData  []UserData
}

func padLen(n int) int {
	if n%align == 0 {
		return n
	}
	return n + (align - n%align)
}

func writeField(w io.Writer, data []byte) error {
	padded := make([]byte, padLen(len(data)))
	copy(padded, data)
	_, err := w.Write(padded)
	return err
}

// Write encodes h to w.
func Write(w io.Writer, h Header) error {
	if len(h.Magic) != 8 {
		return fmt.Errorf("header: magic must be 8 bytes, got %q", h.Magic)
	}
	preamble := make([]byte, align)
	copy(preamble, h.Magic)
	preamble[8] = Version
	if _, err := w.Write(preamble); err != nil {
		return err
	}

	nameField := make([]byte, 8, 8+len(h.RepoName))
	binary.BigEndian.PutUint64(nameField, uint64(len(h.RepoName)))
	nameField = append(nameField, h.RepoName...)
	if err := writeField(w, nameField); err != nil {
		return err
	}

	partField := make([]byte, align)
	if h.HasPartId {
		partField[0] = 1
		binary.BigEndian.PutUint64(partField[8:16], uint64(h.PartId))
	}
	if _, err := w.Write(partField); err != nil {
		return err
	}

	for _, ud := range h.UserData {
		if len(ud.Tag) > 8 {
			return fmt.Errorf("header: user data tag too long: %q", ud.Tag)
		}
		tagField := make([]byte, 8)
		copy(tagField, ud.Tag)
		lenField := make([]byte, 8)
		binary.BigEndian.PutUint64(lenField, uint64(len(ud.Value)))
		if _, err := w.Write(tagField); err != nil {
			return err
		}
		if _, err := w.Write(lenField); err != nil {
			return err
		}
		if err := writeField(w, ud.Value); err != nil {
			return err
		}
	}

	_, err := w.Write(endMarker[:])
	return err
}

func readExact(r io.Reader, n int) ([]byte, error) {
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, fmt.Errorf("header: %w", err)
	}
	return buf, nil
}

// Read decodes a Header from r.
func Read(r io.Reader) (Header, error) {
	var h Header

	preamble, err := readExact(r, align)
	if err != nil {
		return h, err
	}
	h.Magic = string(preamble[:8])
	if h.Magic != MagicSnapshot && h.Magic != MagicCommitLog {
		return h, fmt.Errorf("header: unrecognized magic %q", h.Magic)
	}
	if preamble[8] != Version {
		return h, fmt.Errorf("header: unsupported version %d", preamble[8])
	}

	lenBuf, err := readExact(r, 8)
	if err != nil {
		return h, err
	}
	nameLen := binary.BigEndian.Uint64(lenBuf)
	nameField, err := readExact(r, padLen(8+int(nameLen))-8)
	if err != nil {
		return h, err
	}
	h.RepoName = string(nameField[:nameLen])

	partField, err := readExact(r, align)
	if err != nil {
		return h, err
	}
	if partField[0] == 1 {
		h.HasPartId = true
		h.PartId = element.PartId(binary.BigEndian.Uint64(partField[8:16]))
	}

	for {
		tagField, err := readExact(r, 8)
		if err != nil {
			return h, err
		}
		if string(tagField) == string(endMarker[:8]) {
			rest, err := readExact(r, align-8)
			if err != nil {
				return h, err
			}
			if string(rest) != string(endMarker[8:]) {
				return h, fmt.Errorf("header: malformed end marker")
			}
			break
		}
		lenField, err := readExact(r, 8)
		if err != nil {
			return h, err
		}
		valLen := binary.BigEndian.Uint64(lenField)
		valField, err := readExact(r, padLen(int(valLen)))
		if err != nil {
			return h, err
		}
		tag := trimTag(tagField)
		h.UserData = append(h.UserData, UserData{Tag: tag, Value: valField[:valLen]})
	}

	return h, nil
}

func trimTag(b []byte) string {
	i := 0
	for i < len(b) && b[i] != 0 {
		i++
	}
	return string(b[:i])
}
