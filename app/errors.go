package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"
)

// ErrorKind is the category a failed remote write is reported under.
type ErrorKind string

const (
	KindValidation    ErrorKind = "validation"
	KindRateLimit     ErrorKind = "rate_limit"
	KindAuthorization ErrorKind = "authorization"
	KindNetwork       ErrorKind = "network"
	KindTimeout       ErrorKind = "timeout"
	KindAborted       ErrorKind = "aborted"
	KindNotFound      ErrorKind = "not_found"
	KindInternal      ErrorKind = "internal"
)

// ErrMutationInFlight is returned under the reject policy when another
// mutation already owns the key.
var ErrMutationInFlight = errors.New("a mutation for this key is already in flight")

// FieldError is one field-level reason attached to a validation failure.
type FieldError struct {
	Field  string `json:"field"`
	Reason string `json:"reason"`
}

// RemoteError is the classified failure of a remote read or write.
type RemoteError struct {
	Kind       ErrorKind
	Message    string
	Fields     []FieldError
	RetryAfter time.Duration
	Err        error
}

func (e *RemoteError) Error() string {
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	if len(e.Fields) > 0 {
		parts := make([]string, 0, len(e.Fields))
		for _, f := range e.Fields {
			parts = append(parts, f.Field+": "+f.Reason)
		}
		msg = fmt.Sprintf("%s (%s)", msg, strings.Join(parts, "; "))
	}
	return fmt.Sprintf("%s: %s", e.Kind, msg)
}

func (e *RemoteError) Unwrap() error {
	return e.Err
}

// UserMessage is the short text shown to the person who triggered the
// mutation.
func (e *RemoteError) UserMessage() string {
	switch e.Kind {
	case KindValidation:
		if len(e.Fields) > 0 {
			return e.Fields[0].Reason
		}
		if e.Message != "" {
			return e.Message
		}
		return "The submitted data is invalid."
	case KindRateLimit:
		return "Rate limit exceeded. Please try again later."
	case KindAuthorization:
		return "You are not allowed to perform this action."
	case KindNetwork:
		return "The server could not be reached. Your change was not saved."
	case KindTimeout:
		return "The server took too long to respond. Your change was not saved."
	case KindAborted:
		return "The request was cancelled."
	case KindNotFound:
		return "The record no longer exists."
	default:
		return "Something went wrong. Your change was not saved."
	}
}

func NewValidationError(message string, fields ...FieldError) *RemoteError {
	return &RemoteError{Kind: KindValidation, Message: message, Fields: fields}
}

func NewNotFoundError(message string) *RemoteError {
	return &RemoteError{Kind: KindNotFound, Message: message}
}

// Classify turns any error from a remote call into a *RemoteError.
func Classify(err error) *RemoteError {
	if err == nil {
		return nil
	}
	var remoteErr *RemoteError
	if errors.As(err, &remoteErr) {
		return remoteErr
	}
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return &RemoteError{Kind: KindTimeout, Message: "request timed out", Err: err}
	case errors.Is(err, context.Canceled):
		return &RemoteError{Kind: KindAborted, Message: "request cancelled", Err: err}
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return &RemoteError{Kind: KindTimeout, Message: "request timed out", Err: err}
		}
		return &RemoteError{Kind: KindNetwork, Message: "network failure", Err: err}
	}
	return &RemoteError{Kind: KindInternal, Message: err.Error(), Err: err}
}

// KindOf returns the kind of err, or "" for nil.
func KindOf(err error) ErrorKind {
	if err == nil {
		return ""
	}
	return Classify(err).Kind
}
