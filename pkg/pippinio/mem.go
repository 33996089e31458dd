package pippinio

import (
	"bytes"
	"fmt"
	"io"

	"github.com/cuemby/pippin/pkg/element"
)

// MemIO is an in-memory PartIO with no persistence, used by unit tests
// that don't need real files. It mirrors the original implementation's
// dummy I/O provider used by its own internal test suite.
type MemIO struct {
	partID  element.PartId
	hasPart bool
	ss      map[int][]byte
	cl      map[int]map[int][]byte
}

// NewMemIO constructs an empty in-memory provider.
func NewMemIO() *MemIO {
	return &MemIO{
		ss: make(map[int][]byte),
		cl: make(map[int]map[int][]byte),
	}
}

// SetPartId fixes the partition identity reported by PartId.
func (m *MemIO) SetPartId(p element.PartId) {
	m.partID = p
	m.hasPart = true
}

// PartId implements PartIO.
func (m *MemIO) PartId() (element.PartId, bool) {
	return m.partID, m.hasPart
}

// SsLen implements PartIO.
func (m *MemIO) SsLen() int {
	max := -1
	for n := range m.ss {
		if n > max {
			max = n
		}
	}
	return max + 1
}

// SsExists implements PartIO.
func (m *MemIO) SsExists(ssNum int) bool {
	_, ok := m.ss[ssNum]
	return ok
}

// ReadSs implements PartIO.
func (m *MemIO) ReadSs(ssNum int) (io.ReadCloser, error) {
	data, ok := m.ss[ssNum]
	if !ok {
		return nil, fmt.Errorf("snapshot %d does not exist", ssNum)
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

// NewSs implements PartIO.
func (m *MemIO) NewSs(ssNum int) (io.WriteCloser, error) {
	if _, ok := m.ss[ssNum]; ok {
		return nil, fmt.Errorf("snapshot %d already exists", ssNum)
	}
	return &memWriter{finish: func(b []byte) { m.ss[ssNum] = b }}, nil
}

// SsClLen implements PartIO.
func (m *MemIO) SsClLen(ssNum int) int {
	gen, ok := m.cl[ssNum]
	if !ok {
		return 0
	}
	max := -1
	for n := range gen {
		if n > max {
			max = n
		}
	}
	return max + 1
}

// ReadCl implements PartIO.
func (m *MemIO) ReadCl(ssNum, clNum int) (io.ReadCloser, error) {
	gen, ok := m.cl[ssNum]
	if !ok {
		return nil, fmt.Errorf("log (%d,%d) does not exist", ssNum, clNum)
	}
	data, ok := gen[clNum]
	if !ok {
		return nil, fmt.Errorf("log (%d,%d) does not exist", ssNum, clNum)
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

// NewSsCl implements PartIO.
func (m *MemIO) NewSsCl(ssNum, clNum int) (io.WriteCloser, error) {
	gen, ok := m.cl[ssNum]
	if !ok {
		gen = make(map[int][]byte)
		m.cl[ssNum] = gen
	}
	if _, ok := gen[clNum]; ok {
		return nil, fmt.Errorf("log (%d,%d) already exists", ssNum, clNum)
	}
	return &memWriter{finish: func(b []byte) { gen[clNum] = b }}, nil
}

// memWriter buffers writes and hands the final bytes to finish on Close.
type memWriter struct {
	buf    bytes.Buffer
	finish func([]byte)
}

func (w *memWriter) Write(p []byte) (int, error) {
	return w.buf.Write(p)
}

func (w *memWriter) Close() error {
	w.finish(w.buf.Bytes())
	return nil
}
