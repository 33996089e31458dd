package pippinio

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/cuemby/pippin/pkg/element"
)

// DirIO is the default PartIO implementation: each partition lives in its
// own directory, with one file per snapshot slot and one file per log
// slot.
type DirIO struct {
	dir     string
	partID  element.PartId
	hasPart bool
}

// NewDirIO opens (without creating) a directory-backed provider rooted at
// dir. The directory must already exist.
func NewDirIO(dir string) (*DirIO, error) {
	info, err := os.Stat(dir)
	if err != nil {
		return nil, fmt.Errorf("pippinio: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("pippinio: %s is not a directory", dir)
	}
	return &DirIO{dir: dir}, nil
}

// SetPartId fixes the partition identity reported by PartId.
func (d *DirIO) SetPartId(p element.PartId) {
	d.partID = p
	d.hasPart = true
}

// PartId implements PartIO.
func (d *DirIO) PartId() (element.PartId, bool) {
	return d.partID, d.hasPart
}

func (d *DirIO) ssPath(ssNum int) string {
	return filepath.Join(d.dir, fmt.Sprintf("ss-%d.pippinss", ssNum))
}

func (d *DirIO) clPath(ssNum, clNum int) string {
	return filepath.Join(d.dir, fmt.Sprintf("ss-%d-cl-%d.pippincl", ssNum, clNum))
}

// SsLen implements PartIO.
func (d *DirIO) SsLen() int {
	max := -1
	entries, err := os.ReadDir(d.dir)
	if err != nil {
		return 0
	}
	for _, e := range entries {
		var n int
		if _, err := fmt.Sscanf(e.Name(), "ss-%d.pippinss", &n); err == nil {
			if n > max {
				max = n
			}
		}
	}
	return max + 1
}

// SsExists implements PartIO.
func (d *DirIO) SsExists(ssNum int) bool {
	_, err := os.Stat(d.ssPath(ssNum))
	return err == nil
}

// ReadSs implements PartIO.
func (d *DirIO) ReadSs(ssNum int) (io.ReadCloser, error) {
	return os.Open(d.ssPath(ssNum))
}

// NewSs implements PartIO.
func (d *DirIO) NewSs(ssNum int) (io.WriteCloser, error) {
	return os.OpenFile(d.ssPath(ssNum), os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
}

// SsClLen implements PartIO.
func (d *DirIO) SsClLen(ssNum int) int {
	max := -1
	entries, err := os.ReadDir(d.dir)
	if err != nil {
		return 0
	}
	prefix := fmt.Sprintf("ss-%d-cl-", ssNum)
	for _, e := range entries {
		name := e.Name()
		if !strings.HasPrefix(name, prefix) || !strings.HasSuffix(name, ".pippincl") {
			continue
		}
		numStr := strings.TrimSuffix(strings.TrimPrefix(name, prefix), ".pippincl")
		n, err := strconv.Atoi(numStr)
		if err != nil {
			continue
		}
		if n > max {
			max = n
		}
	}
	return max + 1
}

// ReadCl implements PartIO.
func (d *DirIO) ReadCl(ssNum, clNum int) (io.ReadCloser, error) {
	return os.Open(d.clPath(ssNum, clNum))
}

// NewSsCl implements PartIO.
func (d *DirIO) NewSsCl(ssNum, clNum int) (io.WriteCloser, error) {
	return os.OpenFile(d.clPath(ssNum, clNum), os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
}
