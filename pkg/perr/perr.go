// Package perr defines the error kinds the partition engine reports,
// mirroring the closed error enum of the system this package is modeled
// on while fitting Go's error-wrapping idioms.
package perr

import (
	"errors"
	"fmt"
)

// Kind classifies an Error.
type Kind int

const (
	// Read is a structural or checksum failure while parsing a file.
	Read Kind = iota
	// Arg is invalid caller input.
	Arg
	// NotFound means a partition, state, or element does not exist.
	NotFound
	// Tip means an operation required a single tip but merge is
	// outstanding (or no tip exists yet).
	Tip
	// Patch is a commit/push failure: sum clash, missing parent, or
	// apply failure.
	Patch
	// Replay means log replay left unresolved commits or produced a
	// state-sum mismatch.
	Replay
	// Match is a key-prefix lookup that found zero or multiple results.
	Match
	// Io is an underlying I/O failure.
	Io
	// Encoding is payload bytes that are not valid per the element
	// type's contract.
	Encoding
)

func (k Kind) String() string {
	switch k {
	case Read:
		return "read"
	case Arg:
		return "arg"
	case NotFound:
		return "not found"
	case Tip:
		return "tip"
	case Patch:
		return "patch"
	case Replay:
		return "replay"
	case Match:
		return "match"
	case Io:
		return "io"
	case Encoding:
		return "encoding"
	default:
		return "unknown"
	}
}

// Error is the single error type returned by this module's public API.
// A Read error built with AtOffset carries a byte offset and range for
// diagnostics; errors built by the other constructors have HasPos false.
type Error struct {
	Kind    Kind
	Msg     string
	Pos     int64
	HasPos  bool
	RangeLo int64
	RangeHi int64
	Wrapped error
}

func (e *Error) Error() string {
	if e.HasPos {
		return fmt.Sprintf("%s: %s (at offset %d, range [%d,%d))", e.Kind, e.Msg, e.Pos, e.RangeLo, e.RangeHi)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
}

func (e *Error) Unwrap() error {
	return e.Wrapped
}

// New constructs an Error of the given kind.
func New(kind Kind, msg string) *Error {
	return &Error{Kind: kind, Msg: msg}
}

// Newf constructs an Error of the given kind with a formatted message.
func Newf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

// Wrap attaches kind and msg to an underlying error, preserving it for
// errors.Unwrap/errors.Is.
func Wrap(kind Kind, msg string, err error) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf("%s: %v", msg, err), Wrapped: err}
}

// AtOffset attaches a read position and byte range to a Read error.
func AtOffset(msg string, pos, rangeLo, rangeHi int64) *Error {
	return &Error{Kind: Read, Msg: msg, Pos: pos, HasPos: true, RangeLo: rangeLo, RangeHi: rangeHi}
}

// Sentinel patch and match failures, distinguishable via errors.Is
// against the Wrapped chain.
var (
	ErrSumClash  = errors.New("statesum already present")
	ErrNoParent  = errors.New("first parent not known")
	ErrMultiple  = errors.New("multiple matches for prefix")
	ErrNoMatches = errors.New("no matches for prefix")
)

// SumClash reports a push_commit collision with an existing statesum.
func SumClash(sum fmt.Stringer) *Error {
	return &Error{Kind: Patch, Msg: fmt.Sprintf("statesum %s already present", sum), Wrapped: ErrSumClash}
}

// NoParent reports a push_commit whose first parent is unknown.
func NoParent(sum fmt.Stringer) *Error {
	return &Error{Kind: Patch, Msg: fmt.Sprintf("parent %s not known", sum), Wrapped: ErrNoParent}
}
