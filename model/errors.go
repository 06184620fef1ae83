package model

import (
	"errors"
	"fmt"
)

// Kind classifies a failure for callers of the fetch and reply operations.
type Kind string

const (
	KindConnection Kind = "connection"
	KindAuth       Kind = "auth"
	KindFolder     Kind = "folder"
	KindDecode     Kind = "decode"
	KindValidation Kind = "validation"
	KindUpstream   Kind = "upstream"
	KindTransport  Kind = "transport"
)

// Error is the classified error returned across package boundaries.
// Message is safe to show to a caller; Err holds the underlying cause and
// is meant for logs only.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

// NewError builds a classified error.
func NewError(kind Kind, message string, err error) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s error: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s error: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// KindOf returns the Kind of the first *Error in err's chain.
func KindOf(err error) (Kind, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind, true
	}
	return "", false
}

// IsKind reports whether err (or any error in its chain) is an *Error of kind.
func IsKind(err error, kind Kind) bool {
	k, ok := KindOf(err)
	return ok && k == kind
}

// PublicMessage returns the caller-safe message for err. Unclassified
// errors collapse to a generic text so internals never leak.
func PublicMessage(err error) string {
	var e *Error
	if errors.As(err, &e) && e.Message != "" {
		return e.Message
	}
	return "internal error"
}
