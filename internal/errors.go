package internal

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrNoActiveProfile is returned when a chat operation runs before a profile is selected
	ErrNoActiveProfile = errors.New("no active profile: create or select a profile first")

	// ErrProfileNotFound is returned when a profile id is not in the store
	ErrProfileNotFound = errors.New("profile not found")

	// ErrNoActiveChat is returned when a request needs a chat and none is selected
	ErrNoActiveChat = errors.New("no active chat: select or add a chat id first")

	// ErrControllerClosed is returned by operations on a closed controller
	ErrControllerClosed = errors.New("session controller is closed")
)

// StorageError represents errors reading or writing local storage
type StorageError struct {
	Path string
	Op   string // "open", "read", "write"
	Err  error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage error: %s %s: %v", e.Op, e.Path, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

// ValidationError represents malformed or incomplete profile input
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error [%s]: %s", e.Field, e.Reason)
}

// CredentialIncompleteError reports which auth fields a profile is missing
type CredentialIncompleteError struct {
	Missing []string
	Err     error // parse failure of the auth blob, if any
}

func (e *CredentialIncompleteError) Error() string {
	msg := "incomplete credentials"
	if len(e.Missing) > 0 {
		msg += ": missing " + strings.Join(e.Missing, ", ")
	}
	if e.Err != nil {
		msg += fmt.Sprintf(" (%v)", e.Err)
	}
	return msg
}

func (e *CredentialIncompleteError) Unwrap() error {
	return e.Err
}

// TransportError represents a failed backend request or stream
type TransportError struct {
	Op     string // "history", "export", "stream"
	Status int    // HTTP status, 0 when the request never got a response
	Detail string
	Err    error
}

func (e *TransportError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("%s: HTTP %d: %s", e.Op, e.Status, e.Detail)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Detail)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// ImportError represents a malformed import file
type ImportError struct {
	Err error
}

func (e *ImportError) Error() string {
	return fmt.Sprintf("import error: %v", e.Err)
}

func (e *ImportError) Unwrap() error {
	return e.Err
}
