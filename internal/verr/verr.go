// Package verr defines the error taxonomy shared by every stage of the
// pre-transform pipeline. Errors carry a Kind so callers can tell a malformed
// document from a cycle or a failing transform without string matching.
package verr

import (
	"errors"
	"fmt"
)

// Kind classifies a fatal error.
type Kind int

const (
	// KindUnknown is never produced by this module; it is the zero value.
	KindUnknown Kind = iota
	KindMalformedDocument
	KindUnresolvedReference
	KindCyclicDependency
	KindTransformEvaluation
	KindState
)

func (k Kind) String() string {
	switch k {
	case KindMalformedDocument:
		return "MalformedDocument"
	case KindUnresolvedReference:
		return "UnresolvedReference"
	case KindCyclicDependency:
		return "CyclicDependency"
	case KindTransformEvaluation:
		return "TransformEvaluationError"
	case KindState:
		return "StateError"
	default:
		return "Unknown"
	}
}

// Error is a kinded error. Two *Error values match under errors.Is when their
// kinds are equal, which makes the package-level sentinels usable as targets.
type Error struct {
	Kind Kind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		if e.Msg == "" {
			return fmt.Sprintf("%s: %v", e.Kind, e.Err)
		}
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Msg, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
}

func (e *Error) Unwrap() error { return e.Err }

// Is reports kind equality against another *Error.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Kind == e.Kind
}

// Sentinels for errors.Is checks.
var (
	ErrMalformedDocument   = &Error{Kind: KindMalformedDocument, Msg: "malformed document"}
	ErrUnresolvedReference = &Error{Kind: KindUnresolvedReference, Msg: "unresolved reference"}
	ErrCyclicDependency    = &Error{Kind: KindCyclicDependency, Msg: "cyclic dependency"}
	ErrTransformEvaluation = &Error{Kind: KindTransformEvaluation, Msg: "transform evaluation failed"}
	ErrState               = &Error{Kind: KindState, Msg: "invalid state"}
)

// New builds a kinded error with a formatted message.
func New(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

// Wrap attaches a kind and message to an underlying error. A nil err yields nil.
func Wrap(kind Kind, err error, format string, args ...any) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...), Err: err}
}

// KindOf returns the kind of the first *Error in err's chain, or KindUnknown.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

func Malformed(format string, args ...any) *Error {
	return New(KindMalformedDocument, format, args...)
}

func Unresolved(format string, args ...any) *Error {
	return New(KindUnresolvedReference, format, args...)
}

func Cyclic(format string, args ...any) *Error {
	return New(KindCyclicDependency, format, args...)
}

func Transform(format string, args ...any) *Error {
	return New(KindTransformEvaluation, format, args...)
}

// Annotate prefixes the message of a kinded error while keeping its kind.
// Errors without a kind are wrapped with fallback. A nil err yields nil.
func Annotate(err error, fallback Kind, format string, args ...any) error {
	if err == nil {
		return nil
	}
	prefix := fmt.Sprintf(format, args...)
	var e *Error
	if errors.As(err, &e) {
		msg := prefix
		if e.Msg != "" {
			msg = prefix + ": " + e.Msg
		}
		return &Error{Kind: e.Kind, Msg: msg, Err: e.Err}
	}
	return &Error{Kind: fallback, Msg: prefix, Err: err}
}
