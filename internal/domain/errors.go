package domain

import (
	"errors"
	"fmt"
)

type ErrorKind int

const (
	KindInternal ErrorKind = iota
	KindAuthentication
	KindIdentity
	KindAuthorization
	KindValidation
	KindNotFound
	KindConflict
)

func (k ErrorKind) String() string {
	switch k {
	case KindAuthentication:
		return "authentication"
	case KindIdentity:
		return "identity"
	case KindAuthorization:
		return "authorization"
	case KindValidation:
		return "validation"
	case KindNotFound:
		return "not_found"
	case KindConflict:
		return "conflict"
	default:
		return "internal"
	}
}

// Error is a classified failure. Two errors match under errors.Is when the
// target carries no message and the kinds are equal, so the Err* values
// below work as kind sentinels.
type Error struct {
	Kind ErrorKind
	Msg  string
}

func (e *Error) Error() string {
	if e.Msg == "" {
		return e.Kind.String()
	}
	return e.Msg
}

func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	if t.Msg == "" {
		return t.Kind == e.Kind
	}
	return t.Kind == e.Kind && t.Msg == e.Msg
}

var (
	ErrAuthentication = &Error{Kind: KindAuthentication}
	ErrIdentity       = &Error{Kind: KindIdentity}
	ErrAuthorization  = &Error{Kind: KindAuthorization}
	ErrValidation     = &Error{Kind: KindValidation}
	ErrNotFound       = &Error{Kind: KindNotFound}
	ErrConflict       = &Error{Kind: KindConflict}
)

func Errorf(kind ErrorKind, format string, args ...any) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

// KindOf classifies any error; unclassified errors are internal.
func KindOf(err error) ErrorKind {
	var de *Error
	if errors.As(err, &de) {
		return de.Kind
	}
	return KindInternal
}
