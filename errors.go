package datalevin

import (
	"errors"
	"fmt"
	"strings"
)

// ErrNotOpen is reported by every operation attempted after the database
// was closed.
var ErrNotOpen = errors.New("database is closed")

// OverflowError reports that an encoded value did not fit into its
// destination buffer. Required is the measured size that would have been
// needed, so the caller can reallocate and retry.
type OverflowError struct {
	Capacity int
	Required int
}

func (e *OverflowError) Error() string {
	return fmt.Sprintf("buffer overflow: capacity %d, required %d", e.Capacity, e.Required)
}

// CodecError reports a malformed or type-mismatched encode or decode.
// Always fatal to the enclosing operation.
type CodecError struct {
	Kind Kind
	Msg  string
	Err  error
}

func codecErrf(kind Kind, err error, format string, args ...any) error {
	return &CodecError{kind, fmt.Sprintf(format, args...), err}
}

func (e *CodecError) Unwrap() error {
	return e.Err
}

func (e *CodecError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%v: %s: %v", e.Kind, e.Msg, e.Err)
	}
	return fmt.Sprintf("%v: %s", e.Kind, e.Msg)
}

// DbiError wraps an operation failure with the sub-store it addressed and
// whatever call context is known (operation name, range, type kinds).
type DbiError struct {
	Dbi       string
	Op        string
	Rng       string
	KeyKind   Kind
	ValueKind Kind
	Msg       string
	Err       error
}

func dbiErrf(dbi, op string, err error, format string, args ...any) error {
	return &DbiError{Dbi: dbi, Op: op, Msg: fmt.Sprintf(format, args...), Err: err}
}

func (e *DbiError) Unwrap() error {
	return e.Err
}

func (e *DbiError) Error() string {
	var b strings.Builder
	b.WriteString(e.Dbi)
	if e.Op != "" {
		if e.Dbi != "" {
			b.WriteByte('.')
		}
		b.WriteString(e.Op)
	}
	if e.Rng != "" {
		b.WriteByte('[')
		b.WriteString(e.Rng)
		b.WriteByte(']')
	}
	if e.KeyKind != 0 || e.ValueKind != 0 {
		fmt.Fprintf(&b, "(%v,%v)", e.KeyKind, e.ValueKind)
	}
	if e.Msg != "" {
		b.WriteString(": ")
		b.WriteString(e.Msg)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}
