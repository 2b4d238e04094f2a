package domain

import (
	"errors"
	"fmt"
	"strings"
)

// ErrorKind classifies a failed locale fetch.
type ErrorKind string

const (
	KindTimeout    ErrorKind = "timeout"
	KindNavigation ErrorKind = "navigation"
	KindUnexpected ErrorKind = "unexpected"
)

// ErrNotFound is returned by stores when nothing has been recorded yet.
var ErrNotFound = errors.New("not found")

// FetchError describes why a locale produced no listing.
type FetchError struct {
	Kind    ErrorKind
	Message string
	Err     error
}

func NewFetchError(kind ErrorKind, message string, err error) *FetchError {
	return &FetchError{Kind: kind, Message: message, Err: err}
}

func (e *FetchError) Error() string {
	if e.Err != nil && e.Message == "" {
		return e.Err.Error()
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *FetchError) Unwrap() error { return e.Err }

// ValidationError rejects a request before any extraction starts.
type ValidationError struct {
	Message string
	Invalid []string
}

func (e *ValidationError) Error() string {
	if len(e.Invalid) == 0 {
		return e.Message
	}
	return e.Message + ": " + strings.Join(e.Invalid, ", ")
}

// IsValidation reports whether err is a *ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}
