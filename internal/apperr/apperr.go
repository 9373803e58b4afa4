// Package apperr defines the closed error taxonomy shared by every
// component. Components never return bare errors for classified failures —
// they wrap them in *Error so the HTTP facade can map them to a status code
// without inspecting message strings.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind is a closed set of classified error kinds.
type Kind string

const (
	KindNotFound         Kind = "not_found"
	KindDuplicate        Kind = "duplicate"
	KindInvalidState     Kind = "invalid_state"
	KindData             Kind = "data"
	KindSyntax           Kind = "syntax"
	KindNotAllowed       Kind = "not_allowed"
	KindNotSupported     Kind = "not_supported"
	KindPermissionDenied Kind = "permission_denied"
)

// statusByKind is the HTTP mapping table from §7.
var statusByKind = map[Kind]int{
	KindNotFound:         http.StatusNotFound,
	KindDuplicate:        http.StatusConflict,
	KindInvalidState:     http.StatusConflict,
	KindData:             http.StatusBadRequest,
	KindSyntax:           http.StatusBadRequest,
	KindNotAllowed:       http.StatusBadRequest,
	KindNotSupported:     http.StatusBadRequest,
	KindPermissionDenied: http.StatusForbidden,
}

// Error is a classified, wire-mappable error.
type Error struct {
	Kind    Kind
	Message string
	cause   error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.cause }

// Status returns the HTTP status code for this error's kind.
func (e *Error) Status() int {
	if s, ok := statusByKind[e.Kind]; ok {
		return s
	}
	return http.StatusInternalServerError
}

// New creates a classified error with a formatted message.
func New(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap creates a classified error that carries an underlying cause.
func Wrap(kind Kind, cause error, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), cause: cause}
}

// NotFound, Duplicate, InvalidState, Data, Syntax, NotAllowed, NotSupported,
// and PermissionDenied are constructors for their respective kinds.
func NotFound(format string, args ...any) *Error {
	return New(KindNotFound, format, args...)
}

func Duplicate(format string, args ...any) *Error {
	return New(KindDuplicate, format, args...)
}

func InvalidState(format string, args ...any) *Error {
	return New(KindInvalidState, format, args...)
}

func Data(format string, args ...any) *Error {
	return New(KindData, format, args...)
}

func Syntax(format string, args ...any) *Error {
	return New(KindSyntax, format, args...)
}

// NotAllowed is always returned with the same opaque message on the wire;
// the detail is for logs only (§4.5 collapses every authorization failure).
func NotAllowed(detail string) *Error {
	return &Error{Kind: KindNotAllowed, Message: "not allowed", cause: errors.New(detail)}
}

func NotSupported(format string, args ...any) *Error {
	return New(KindNotSupported, format, args...)
}

func PermissionDenied(format string, args ...any) *Error {
	return New(KindPermissionDenied, format, args...)
}

// Status returns the HTTP status for any error, classified or not.
// Unclassified errors map to 500 without leaking detail.
func Status(err error) int {
	var e *Error
	if errors.As(err, &e) {
		return e.Status()
	}
	return http.StatusInternalServerError
}

// Message returns the wire-safe message for a classified error (never the
// wrapped cause, which may contain backend detail not meant for clients).
// Unclassified errors return a generic message.
func Message(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Message
	}
	return "an internal error occurred"
}

// Kinds reports the Kind of a classified error, and whether err is classified.
func Kinds(err error) (Kind, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind, true
	}
	return "", false
}

// Is reports whether err is a classified *Error of the given kind.
func Is(err error, kind Kind) bool {
	k, ok := Kinds(err)
	return ok && k == kind
}
