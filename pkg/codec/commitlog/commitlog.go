// Package commitlog implements the binary commit-log codec: an
// append-only sequence of commits, each bounded by its own streaming
// checksum so a torn tail commit is detectable without invalidating
// earlier ones.
package commitlog

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/cuemby/pippin/pkg/commit"
	"github.com/cuemby/pippin/pkg/element"
	"github.com/cuemby/pippin/pkg/header"
	"github.com/cuemby/pippin/pkg/perr"
	"github.com/cuemby/pippin/pkg/streamio"
	"github.com/cuemby/pippin/pkg/sum"
)

const align = 16

var logMarker = [align]byte{'C', 'O', 'M', 'M', 'I', 'T', ' ', 'L', 'O', 'G'}

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

// StartLog writes the file header and the commit-log marker. It must be
// called once before any WriteCommit calls on a freshly created log file.
func StartLog(w io.Writer, h header.Header) error {
	h.Magic = header.MagicCommitLog
	if err := header.Write(w, h); err != nil {
		return fmt.Errorf("commitlog: writing header: %w", err)
	}
	_, err := w.Write(logMarker[:])
	return err
}

var changeTags = map[commit.ChangeKind]string{
	commit.Delete:   "DEL\x00",
	commit.Insert:   "INS\x00",
	commit.Replace:  "REPL",
	commit.MovedOut: "MOVO",
	commit.Moved:    "MOV\x00",
}

var changeKinds = map[string]commit.ChangeKind{
	"DEL\x00": commit.Delete,
	"INS\x00": commit.Insert,
	"REPL":    commit.Replace,
	"MOVO":    commit.MovedOut,
	"MOV\x00": commit.Moved,
}

// WriteCommit appends one commit record to w, including its own trailing
// checksum covering the bytes of this record alone.
func WriteCommit(w io.Writer, c commit.Commit) error {
	hw := streamio.NewHashWriter(w)

	if c.IsMerge() {
		if len(c.Parents) > 255 {
			return perr.Newf(perr.Arg, "merge commit has too many parents: %d", len(c.Parents))
		}
		if _, err := hw.Write([]byte("MERGE")); err != nil {
			return err
		}
		if _, err := hw.Write([]byte{byte(len(c.Parents))}); err != nil {
			return err
		}
		if _, err := hw.Write([]byte("\x00U")); err != nil {
			return err
		}
	} else {
		if _, err := hw.Write([]byte("COMMIT\x00U")); err != nil {
			return err
		}
	}
	tsBuf := make([]byte, 8)
	binary.BigEndian.PutUint64(tsBuf, uint64(c.Meta.Timestamp))
	if _, err := hw.Write(tsBuf); err != nil {
		return err
	}

	if _, err := hw.Write([]byte("CNUM")); err != nil {
		return err
	}
	cnumBuf := make([]byte, 4)
	binary.BigEndian.PutUint32(cnumBuf, c.Meta.Number)
	if _, err := hw.Write(cnumBuf); err != nil {
		return err
	}
	if _, err := hw.Write([]byte("XM")); err != nil {
		return err
	}
	var extraTag []byte
	var extraPayload []byte
	switch c.Meta.Extra.Kind {
	case commit.ExtraText:
		extraTag = []byte("TT")
		extraPayload = []byte(c.Meta.Extra.Text)
	default:
		extraTag = []byte{0, 0}
	}
	if _, err := hw.Write(extraTag); err != nil {
		return err
	}
	extraLenBuf := make([]byte, 4)
	binary.BigEndian.PutUint32(extraLenBuf, uint32(len(extraPayload)))
	if _, err := hw.Write(extraLenBuf); err != nil {
		return err
	}
	if err := writePadded(hw, extraPayload); err != nil {
		return err
	}

	for _, p := range c.Parents {
		if _, err := hw.Write(p.Bytes()); err != nil {
			return err
		}
	}

	if _, err := hw.Write([]byte("ELEMENTS")); err != nil {
		return err
	}
	countBuf := make([]byte, 8)
	binary.BigEndian.PutUint64(countBuf, uint64(len(c.Changes)))
	if _, err := hw.Write(countBuf); err != nil {
		return err
	}

	for id, ch := range c.Changes {
		tag, ok := changeTags[ch.Kind]
		if !ok {
			return perr.Newf(perr.Arg, "unknown change kind for element %d", id)
		}
		if _, err := hw.Write([]byte("ELT ")); err != nil {
			return err
		}
		if _, err := hw.Write([]byte(tag)); err != nil {
			return err
		}
		idBuf := make([]byte, 8)
		binary.BigEndian.PutUint64(idBuf, uint64(id))
		if _, err := hw.Write(idBuf); err != nil {
			return err
		}

		switch ch.Kind {
		case commit.Insert, commit.Replace:
			payload := ch.Elt.Bytes()
			if _, err := hw.Write([]byte("ELT DATA")); err != nil {
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
			eltSum := ch.Elt.Sum(id)
			if _, err := hw.Write(eltSum.Bytes()); err != nil {
				return err
			}
		case commit.MovedOut, commit.Moved:
			if _, err := hw.Write([]byte("NEW ELT\x00")); err != nil {
				return err
			}
			newIDBuf := make([]byte, 8)
			binary.BigEndian.PutUint64(newIDBuf, uint64(ch.NewId))
			if _, err := hw.Write(newIDBuf); err != nil {
				return err
			}
		}
	}

	if _, err := hw.Write(c.StateSum.Bytes()); err != nil {
		return err
	}

	trailer := hw.Sum()
	_, err := w.Write(trailer.Bytes())
	return err
}

// ReadLogHeader reads and validates the file header plus the commit-log
// marker.
func ReadLogHeader(r io.Reader) (header.Header, error) {
	h, err := header.Read(r)
	if err != nil {
		return h, perr.Wrap(perr.Read, "commitlog header", err)
	}
	if h.Magic != header.MagicCommitLog {
		return h, perr.Newf(perr.Read, "not a commit-log file: magic %q", h.Magic)
	}
	marker, err := readExact(r, align)
	if err != nil {
		return h, perr.Wrap(perr.Read, "commit log marker", err)
	}
	if string(marker) != string(logMarker[:]) {
		return h, perr.New(perr.Read, "missing COMMIT LOG marker")
	}
	return h, nil
}

// ReadCommit reads one commit record from r. io.EOF (with zero bytes
// consumed) signals a clean end of log; any other error, including a
// short read partway through a record, is a corruption.
func ReadCommit(r io.Reader, dec element.Decoder) (commit.Commit, error) {
	hr := streamio.NewHashReader(r)

	first, err := readExact(hr, 8)
	if err == io.EOF {
		return commit.Commit{}, io.EOF
	}
	if err != nil {
		return commit.Commit{}, perr.Wrap(perr.Read, "commit marker", err)
	}

	var parents []sum.Sum
	var nParents int
	switch {
	case string(first) == "COMMIT\x00U":
		nParents = 1
	case string(first[:5]) == "MERGE":
		nParents = int(first[5])
		if string(first[6:8]) != "\x00U" {
			return commit.Commit{}, perr.New(perr.Read, "malformed merge marker")
		}
	default:
		return commit.Commit{}, perr.Newf(perr.Read, "unrecognized commit marker %q", first)
	}

	tsBuf, err := readExact(hr, 8)
	if err != nil {
		return commit.Commit{}, perr.Wrap(perr.Read, "commit timestamp", err)
	}
	ts := int64(binary.BigEndian.Uint64(tsBuf))

	cnumTag, err := readExact(hr, 4)
	if err != nil || string(cnumTag) != "CNUM" {
		return commit.Commit{}, perr.New(perr.Read, "missing CNUM marker")
	}
	cnumBuf, err := readExact(hr, 4)
	if err != nil {
		return commit.Commit{}, perr.Wrap(perr.Read, "commit number", err)
	}
	cnum := binary.BigEndian.Uint32(cnumBuf)

	xmTag, err := readExact(hr, 2)
	if err != nil || string(xmTag) != "XM" {
		return commit.Commit{}, perr.New(perr.Read, "missing XM marker")
	}
	extraTag, err := readExact(hr, 2)
	if err != nil {
		return commit.Commit{}, perr.Wrap(perr.Read, "extra tag", err)
	}
	extraLenBuf, err := readExact(hr, 4)
	if err != nil {
		return commit.Commit{}, perr.Wrap(perr.Read, "extra length", err)
	}
	extraLen := binary.BigEndian.Uint32(extraLenBuf)
	extraPayload, err := readExact(hr, int(extraLen))
	if err != nil {
		return commit.Commit{}, perr.Wrap(perr.Read, "extra payload", err)
	}
	if p := pad(int(extraLen)); p != nil {
		if _, err := readExact(hr, len(p)); err != nil {
			return commit.Commit{}, perr.Wrap(perr.Read, "extra padding", err)
		}
	}
	var extra commit.Extra
	switch string(extraTag) {
	case "TT":
		extra = commit.Extra{Kind: commit.ExtraText, Text: string(extraPayload)}
	case "\x00\x00":
		extra = commit.Extra{Kind: commit.ExtraNone}
	default:
		return commit.Commit{}, perr.Newf(perr.Read, "unknown extra-metadata tag %q", extraTag)
	}

	for i := 0; i < nParents; i++ {
		buf, err := readExact(hr, sum.Len)
		if err != nil {
			return commit.Commit{}, perr.Wrap(perr.Read, "parent sum", err)
		}
		p, _ := sum.FromBytes(buf)
		parents = append(parents, p)
	}

	elementsTag, err := readExact(hr, 8)
	if err != nil || string(elementsTag) != "ELEMENTS" {
		return commit.Commit{}, perr.New(perr.Read, "missing ELEMENTS marker")
	}
	countBuf, err := readExact(hr, 8)
	if err != nil {
		return commit.Commit{}, perr.Wrap(perr.Read, "change count", err)
	}
	count := binary.BigEndian.Uint64(countBuf)

	changes := make(map[element.EltId]commit.Change, count)
	for i := uint64(0); i < count; i++ {
		eltTag, err := readExact(hr, 4)
		if err != nil || string(eltTag) != "ELT " {
			return commit.Commit{}, perr.New(perr.Read, "missing ELT marker")
		}
		kindTag, err := readExact(hr, 4)
		if err != nil {
			return commit.Commit{}, perr.Wrap(perr.Read, "change kind", err)
		}
		kind, ok := changeKinds[string(kindTag)]
		if !ok {
			return commit.Commit{}, perr.Newf(perr.Read, "unknown change kind %q", kindTag)
		}
		idBuf, err := readExact(hr, 8)
		if err != nil {
			return commit.Commit{}, perr.Wrap(perr.Read, "change element id", err)
		}
		id := element.EltId(binary.BigEndian.Uint64(idBuf))

		switch kind {
		case commit.Insert, commit.Replace:
			dataTag, err := readExact(hr, 8)
			if err != nil || string(dataTag) != "ELT DATA" {
				return commit.Commit{}, perr.New(perr.Read, "missing ELT DATA marker")
			}
			lenBuf, err := readExact(hr, 8)
			if err != nil {
				return commit.Commit{}, perr.Wrap(perr.Read, "element payload length", err)
			}
			length := binary.BigEndian.Uint64(lenBuf)
			payload, err := readExact(hr, int(length))
			if err != nil {
				return commit.Commit{}, perr.Wrap(perr.Read, "element payload", err)
			}
			if p := pad(int(length)); p != nil {
				if _, err := readExact(hr, len(p)); err != nil {
					return commit.Commit{}, perr.Wrap(perr.Read, "element payload padding", err)
				}
			}
			sumBuf, err := readExact(hr, sum.Len)
			if err != nil {
				return commit.Commit{}, perr.Wrap(perr.Read, "element checksum", err)
			}
			expect, _ := sum.FromBytes(sumBuf)
			e, err := dec.Decode(payload, id, expect)
			if err != nil {
				return commit.Commit{}, perr.Wrap(perr.Read, "decoding element", err)
			}
			if kind == commit.Insert {
				changes[id] = commit.NewInsert(e)
			} else {
				changes[id] = commit.NewReplace(e)
			}
		case commit.MovedOut, commit.Moved:
			newEltTag, err := readExact(hr, 8)
			if err != nil || string(newEltTag) != "NEW ELT\x00" {
				return commit.Commit{}, perr.New(perr.Read, "missing NEW ELT marker")
			}
			newIDBuf, err := readExact(hr, 8)
			if err != nil {
				return commit.Commit{}, perr.Wrap(perr.Read, "new element id", err)
			}
			newID := element.EltId(binary.BigEndian.Uint64(newIDBuf))
			if kind == commit.MovedOut {
				changes[id] = commit.NewMovedOut(newID)
			} else {
				changes[id] = commit.NewMoved(newID)
			}
		case commit.Delete:
			changes[id] = commit.NewDelete()
		}
	}

	targetBuf, err := readExact(hr, sum.Len)
	if err != nil {
		return commit.Commit{}, perr.Wrap(perr.Read, "target statesum", err)
	}
	targetSum, _ := sum.FromBytes(targetBuf)

	computed := hr.Sum()
	trailerBuf, err := readExact(r, sum.Len)
	if err != nil {
		return commit.Commit{}, perr.Wrap(perr.Read, "commit checksum trailer", err)
	}
	trailer, _ := sum.FromBytes(trailerBuf)
	if trailer != computed {
		return commit.Commit{}, perr.New(perr.Read, "commit checksum mismatch")
	}

	return commit.Commit{
		StateSum: targetSum,
		Parents:  parents,
		Changes:  changes,
		Meta: commit.Meta{
			Number:    cnum,
			Timestamp: ts,
			Extra:     extra,
		},
	}, nil
}

// ReadLog reads the header, marker, and every commit until clean EOF.
func ReadLog(r io.Reader, dec element.Decoder) (header.Header, []commit.Commit, error) {
	h, err := ReadLogHeader(r)
	if err != nil {
		return h, nil, err
	}
	var commits []commit.Commit
	for {
		c, err := ReadCommit(r, dec)
		if err == io.EOF {
			break
		}
		if err != nil {
			return h, commits, err
		}
		commits = append(commits, c)
	}
	return h, commits, nil
}

func readExact(r io.Reader, n int) ([]byte, error) {
	if n == 0 {
		return nil, nil
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, err
	}
	return buf, nil
}
