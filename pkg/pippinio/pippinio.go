// Package pippinio abstracts over a partition's on-disk layout: it
// enumerates snapshot and commit-log file slots and opens read and
// create streams for them. The partition engine is written entirely
// against this interface so the same code can run atop a directory of
// loose files or atop a single embedded database file.
package pippinio

import (
	"io"

	"github.com/cuemby/pippin/pkg/element"
)

// PartIO is the I/O provider contract required by the partition engine.
// Slot numbers (ss_num, cl_num) are caller-assigned monotone indices; an
// implementation only needs to track which slots are occupied.
type PartIO interface {
	// PartId returns the partition this provider serves, if known ahead
	// of the first successful load.
	PartId() (element.PartId, bool)

	// SsLen returns one past the highest ss_num that has ever been
	// written (i.e. the number of snapshot generations created so far).
	SsLen() int

	// SsExists reports whether a snapshot exists at ss_num.
	SsExists(ssNum int) bool

	// ReadSs opens the snapshot at ss_num for reading.
	ReadSs(ssNum int) (io.ReadCloser, error)

	// NewSs creates a new snapshot file at ss_num, failing if one
	// already exists.
	NewSs(ssNum int) (io.WriteCloser, error)

	// SsClLen returns one past the highest cl_num written for snapshot
	// generation ssNum.
	SsClLen(ssNum int) int

	// ReadCl opens log file (ssNum, clNum) for reading.
	ReadCl(ssNum, clNum int) (io.ReadCloser, error)

	// NewSsCl creates a new log file at (ssNum, clNum), failing if one
	// already exists.
	NewSsCl(ssNum, clNum int) (io.WriteCloser, error)
}
