package domain

import (
	"errors"
	"fmt"
	"sort"
)

// ErrKind groups errors by how the client surfaces them.
type ErrKind string

const (
	KindValidation ErrKind = "validation" // inline field errors + toast
	KindAuth       ErrKind = "auth"       // login required / session rejected
	KindForbidden  ErrKind = "forbidden"  // authenticated but not allowed
	KindNotFound   ErrKind = "not_found"  // terminal for the current view
	KindNetwork    ErrKind = "network"    // transport failure or timeout
	KindGuest      ErrKind = "guest"      // guest session tried to mutate; warning only
	KindBusy       ErrKind = "busy"       // a request of the same kind is still outstanding
	KindInternal   ErrKind = "internal"
)

// Error is a structured client error.
// - Kind: category used for display
// - Code: stable machine code
// - Message: safe summary for the user
// - Fields: field/message pairs from validation
// - Cause: wrapped error for logs
type Error struct {
	Kind    ErrKind
	Code    string
	Message string
	Fields  []FieldError
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s (%s): %s: %v", e.Kind, e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s (%s): %s", e.Kind, e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

func New(kind ErrKind, code, msg string) *Error {
	return &Error{Kind: kind, Code: code, Message: msg}
}

func Wrap(kind ErrKind, code, msg string, cause error) *Error {
	return &Error{Kind: kind, Code: code, Message: msg, Cause: cause}
}

func ErrValidationField(field, msg string) *Error {
	return &Error{Kind: KindValidation, Code: "validation_error", Message: msg, Fields: []FieldError{{Field: field, Message: msg}}}
}

// ErrValidationMeta builds a validation error from a field->message map,
// ordered by field name so the output is stable.
func ErrValidationMeta(msg string, meta map[string]string) *Error {
	keys := make([]string, 0, len(meta))
	for k := range meta {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	fields := make([]FieldError, 0, len(keys))
	for _, k := range keys {
		fields = append(fields, FieldError{Field: k, Message: meta[k]})
	}
	return &Error{Kind: KindValidation, Code: "validation_error", Message: msg, Fields: fields}
}

func ErrValidationFields(msg string, fields []FieldError) *Error {
	return &Error{Kind: KindValidation, Code: "validation_error", Message: msg, Fields: fields}
}

var (
	ErrAuthRequired = New(KindAuth, "auth_required", "you must be logged in")
	ErrGuest        = New(KindGuest, "guest_session", "guest users cannot modify events")
	ErrBusy         = New(KindBusy, "request_in_flight", "a request is already in progress")
)

func ErrForbidden(msg string) *Error { return New(KindForbidden, "forbidden", msg) }
func ErrNotFound(msg string) *Error  { return New(KindNotFound, "not_found", msg) }

func ErrNetwork(cause error) *Error {
	return Wrap(KindNetwork, "network_error", "network request failed", cause)
}

// KindOf returns the kind of err, KindInternal for foreign errors and "" for nil.
func KindOf(err error) ErrKind {
	if err == nil {
		return ""
	}
	var de *Error
	if errors.As(err, &de) {
		return de.Kind
	}
	return KindInternal
}

func IsKind(err error, kind ErrKind) bool {
	return err != nil && KindOf(err) == kind
}

// FieldsOf returns validation field errors carried by err, if any.
func FieldsOf(err error) []FieldError {
	var de *Error
	if errors.As(err, &de) {
		return de.Fields
	}
	return nil
}
