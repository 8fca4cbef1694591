// Package errs defines the error kinds raised by the reconstruction pipeline.
// Every fatal failure carries one Kind so callers can branch with errors.Is.
package errs

import (
	"errors"
	"fmt"
)

// Kind classifies a pipeline failure.
type Kind int

const (
	// Input is a malformed or missing required metadata field.
	Input Kind = iota + 1
	// InsufficientData means fewer than two usable sections.
	InsufficientData
	// NotFound is a missing or unreadable atlas or source image file.
	NotFound
	// Geometry is a computed slice index outside the allocated volume.
	Geometry
	// Write is an output I/O failure.
	Write
)

func (k Kind) String() string {
	switch k {
	case Input:
		return "input error"
	case InsufficientData:
		return "insufficient data"
	case NotFound:
		return "not found"
	case Geometry:
		return "geometry error"
	case Write:
		return "write error"
	default:
		return "unknown error"
	}
}

// Sentinels for errors.Is comparisons.
var (
	ErrInput            = &Error{Kind: Input}
	ErrInsufficientData = &Error{Kind: InsufficientData}
	ErrNotFound         = &Error{Kind: NotFound}
	ErrGeometry         = &Error{Kind: Geometry}
	ErrWrite            = &Error{Kind: Write}
)

// Error is a classified pipeline error.
type Error struct {
	Kind Kind
	// Op names the operation or field that failed, e.g. "alignment3d.tvr_05".
	Op  string
	Err error
}

// New creates an Error of the given kind with a formatted message.
func New(kind Kind, op string, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Op: op, Err: fmt.Errorf(format, args...)}
}

// Wrap classifies err under kind. A nil err yields nil.
func Wrap(kind Kind, op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Op: op, Err: err}
}

func (e *Error) Error() string {
	switch {
	case e.Op != "" && e.Err != nil:
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Op, e.Err)
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	case e.Op != "":
		return fmt.Sprintf("%s: %s", e.Kind, e.Op)
	}
	return e.Kind.String()
}

func (e *Error) Unwrap() error { return e.Err }

// Is reports whether target is an *Error of the same kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// KindOf returns the Kind of the first *Error in err's chain, or 0.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return 0
}

// DataQualityWarning is a non-fatal finding about the input data. It is
// logged, never returned as an error.
type DataQualityWarning struct {
	Message string
}

func (w DataQualityWarning) String() string {
	return "data quality: " + w.Message
}
