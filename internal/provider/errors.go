package provider

import (
	"context"
	"errors"
	"fmt"
	"net"
)

// ErrorKind classifies transcription failures for retry and reporting
// decisions. Only transient errors are eligible for retry.
type ErrorKind string

const (
	KindDevice             ErrorKind = "device"
	KindTransient          ErrorKind = "transient"
	KindValidation         ErrorKind = "validation"
	KindServiceUnavailable ErrorKind = "service-unavailable"
	KindLifecycle          ErrorKind = "lifecycle"
)

// Error is a kind-aware transcription failure.
type Error struct {
	Kind    ErrorKind
	Message string
	Err     error
}

// Error formats the failure for logs and history records.
func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Unwrap exposes the underlying error for errors.Is / errors.As.
func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// Transient wraps a failure eligible for retry with backoff.
func Transient(message string, err error) *Error {
	return &Error{Kind: KindTransient, Message: message, Err: err}
}

// Validation wraps a failure that must surface immediately.
func Validation(message string, err error) *Error {
	return &Error{Kind: KindValidation, Message: message, Err: err}
}

// ServiceUnavailable marks the local provider being selected while its
// container is not running.
func ServiceUnavailable(message string) *Error {
	return &Error{Kind: KindServiceUnavailable, Message: message}
}

// Device marks a microphone failure, fatal to the session.
func Device(message string, err error) *Error {
	return &Error{Kind: KindDevice, Message: message, Err: err}
}

// Lifecycle marks a container image/build/start failure.
func Lifecycle(message string, err error) *Error {
	return &Error{Kind: KindLifecycle, Message: message, Err: err}
}

// KindOf extracts the error kind, defaulting unknown errors to
// transient so plain network failures stay retryable.
func KindOf(err error) ErrorKind {
	var perr *Error
	if errors.As(err, &perr) {
		return perr.Kind
	}
	return KindTransient
}

// IsTransient reports whether the failure should be retried.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	return KindOf(err) == KindTransient
}

// wrapHTTPFailure classifies a transport-level request error.
func wrapHTTPFailure(name string, err error) *Error {
	if errors.Is(err, context.DeadlineExceeded) {
		return Transient(name+" request timed out", err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return Transient(name+" request timed out", err)
	}
	return Transient(name+" request failed", err)
}

// classifyStatus maps an HTTP response status to an error kind:
// 5xx-class responses are retryable, 4xx-class are not.
func classifyStatus(name string, status int, body string) *Error {
	message := fmt.Sprintf("%s returned %d: %s", name, status, body)
	if status >= 500 {
		return Transient(message, nil)
	}
	return Validation(message, nil)
}
