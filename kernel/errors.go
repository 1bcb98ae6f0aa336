package kernel

import (
	"errors"
	"fmt"
	"strings"

	"github.com/oarkflow/synth/value"
)

// ErrorKind classifies template errors.
type ErrorKind int

const (
	// KindSyntax covers unmatched markup and broken pairings. Never recovered.
	KindSyntax ErrorKind = iota + 1
	// KindMissing covers absent variables and attributes.
	KindMissing
	// KindType covers invalid usage: non-numeric math, unknown filters or libraries.
	KindType
	// KindInternal signals a broken kernel invariant.
	KindInternal
)

// String returns the string representation of the kind
func (k ErrorKind) String() string {
	switch k {
	case KindSyntax:
		return "syntax"
	case KindMissing:
		return "missing"
	case KindType:
		return "type"
	case KindInternal:
		return "internal"
	default:
		return "unknown"
	}
}

// Error is the single error type surfaced by parsing and rendering.
type Error struct {
	Kind     ErrorKind
	Template string
	Pos      int
	Line     int
	Tag      string
	Message  string
	Cause    error
}

// Error implements the error interface
func (e *Error) Error() string {
	var sb strings.Builder
	if e.Template != "" {
		sb.WriteString(e.Template)
		if e.Line > 0 {
			fmt.Fprintf(&sb, ":%d", e.Line)
		}
		sb.WriteString(": ")
	}
	sb.WriteString(e.Kind.String())
	sb.WriteString(" error")
	if e.Tag != "" {
		fmt.Fprintf(&sb, " in %q", e.Tag)
	}
	sb.WriteString(": ")
	sb.WriteString(e.Message)
	if e.Cause != nil {
		sb.WriteString(": ")
		sb.WriteString(e.Cause.Error())
	}
	return sb.String()
}

// Unwrap returns the underlying cause
func (e *Error) Unwrap() error { return e.Cause }

// Is matches another *Error of the same kind, so errors.Is(err, &Error{Kind: KindMissing})
// works as a classifier.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && (t.Tag == "" || t.Tag == e.Tag)
}

// Errorf builds an error of the given kind.
func Errorf(kind ErrorKind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap classifies err. Value sentinels map onto kinds; an existing *Error is
// returned unchanged.
func Wrap(err error, msg string) error {
	if err == nil {
		return nil
	}
	var te *Error
	if errors.As(err, &te) {
		return err
	}
	kind := KindType
	if errors.Is(err, value.ErrMissingAttribute) {
		kind = KindMissing
	}
	return &Error{Kind: kind, Message: msg, Cause: err}
}

// KindOf returns the kind of the first *Error in the chain, or zero.
func KindOf(err error) ErrorKind {
	var te *Error
	if errors.As(err, &te) {
		return te.Kind
	}
	return 0
}

// IsSyntax reports whether err is a syntax error.
func IsSyntax(err error) bool { return KindOf(err) == KindSyntax }

// IsMissing reports whether err is a missing variable or attribute.
func IsMissing(err error) bool { return KindOf(err) == KindMissing }

// IsType reports whether err is a type or usage error.
func IsType(err error) bool { return KindOf(err) == KindType }

// IsInternal reports whether err is an internal consistency error.
func IsInternal(err error) bool { return KindOf(err) == KindInternal }

// locate annotates e with the template name and the line of pos in src.
// A line set by a lexer is kept.
func locate(err error, name, src string, pos int) error {
	var te *Error
	if !errors.As(err, &te) || te.Template != "" {
		return err
	}
	te.Template = name
	if te.Line > 0 {
		return err
	}
	te.Pos = pos
	if pos >= 0 && pos <= len(src) {
		te.Line = strings.Count(src[:pos], "\n") + 1
	}
	return err
}
