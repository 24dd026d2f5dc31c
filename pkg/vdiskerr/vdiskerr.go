// Package vdiskerr gives the abstract error taxonomy used across this
// module concrete identity, so callers can branch on error kind with
// errors.Is instead of string matching.
package vdiskerr

import "errors"

// Kind identifies the broad category of a failure, independent of the
// specific component that raised it.
type Kind int

// Kinds, in the order spec.md §7 lists them.
const (
	KindUnknown Kind = iota
	KindParse
	KindIO
	KindNotFound
	KindAlreadyExists
	KindNotSupported
	KindCorrupt
	KindBounds
)

func (k Kind) String() string {
	switch k {
	case KindParse:
		return "parse error"
	case KindIO:
		return "io error"
	case KindNotFound:
		return "not found"
	case KindAlreadyExists:
		return "already exists"
	case KindNotSupported:
		return "not supported"
	case KindCorrupt:
		return "corrupt"
	case KindBounds:
		return "bounds"
	default:
		return "unknown"
	}
}

// Sentinel errors. Wrap these with fmt.Errorf("...: %w", ErrX) to attach
// context while keeping errors.Is/Kind working.
var (
	ErrParse         = &kindError{kind: KindParse, msg: "parse error"}
	ErrIO            = &kindError{kind: KindIO, msg: "io error"}
	ErrNotFound      = &kindError{kind: KindNotFound, msg: "not found"}
	ErrAlreadyExists = &kindError{kind: KindAlreadyExists, msg: "already exists"}
	ErrNotSupported  = &kindError{kind: KindNotSupported, msg: "not supported"}
	ErrCorrupt       = &kindError{kind: KindCorrupt, msg: "corrupt"}
	ErrBounds        = &kindError{kind: KindBounds, msg: "bounds"}
)

type kindError struct {
	kind Kind
	msg  string
}

func (e *kindError) Error() string { return e.msg }

// Of returns the Kind carried by err, walking the error chain. Returns
// KindUnknown if no kindError is found.
func Of(err error) Kind {
	var ke *kindError
	if errors.As(err, &ke) {
		return ke.kind
	}
	return KindUnknown
}

// Is reports whether err's kind (anywhere in its chain) equals kind.
func Is(err error, kind Kind) bool {
	return Of(err) == kind
}
