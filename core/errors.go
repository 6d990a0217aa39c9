package core

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"syscall"
)

// ErrorKind classifies a NetworkError.
type ErrorKind int

// Failure kinds. Every NetworkError carries exactly one of these.
const (
	KindUnknown ErrorKind = iota
	KindNoConnectivity
	KindSerialization
	KindUnauthorized
	KindSessionExpired
	KindRemote
	KindRefreshInProgress
)

// String returns the kind name.
func (k ErrorKind) String() string {
	switch k {
	case KindNoConnectivity:
		return "no_connectivity"
	case KindSerialization:
		return "serialization"
	case KindUnauthorized:
		return "unauthorized"
	case KindSessionExpired:
		return "session_expired"
	case KindRemote:
		return "remote"
	case KindRefreshInProgress:
		return "refresh_in_progress"
	default:
		return "unknown"
	}
}

// Sentinel errors for classification with errors.Is.
var (
	ErrNoConnectivity    = errors.New("no connectivity")
	ErrSerialization     = errors.New("serialization failure")
	ErrUnauthorized      = errors.New("unauthorized")
	ErrSessionExpired    = errors.New("session expired")
	ErrRemote            = errors.New("remote error")
	ErrRefreshInProgress = errors.New("refresh already in progress")
	ErrUnknown           = errors.New("unknown error")
)

var kindSentinels = map[ErrorKind]error{
	KindUnknown:           ErrUnknown,
	KindNoConnectivity:    ErrNoConnectivity,
	KindSerialization:     ErrSerialization,
	KindUnauthorized:      ErrUnauthorized,
	KindSessionExpired:    ErrSessionExpired,
	KindRemote:            ErrRemote,
	KindRefreshInProgress: ErrRefreshInProgress,
}

// NetworkError is a classified failure with a display message.
type NetworkError struct {
	Kind    ErrorKind
	Status  int    // HTTP status when the server answered, otherwise 0
	Message string // human-readable, safe to show to users
	Err     error  // underlying cause, may be nil
}

func newError(kind ErrorKind, status int, message string, cause error) *NetworkError {
	return &NetworkError{Kind: kind, Status: status, Message: message, Err: cause}
}

// Error implements the error interface.
func (e *NetworkError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("%s: %s (status=%d)", e.Kind, e.Message, e.Status)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Unwrap returns the underlying cause.
func (e *NetworkError) Unwrap() error {
	return e.Err
}

// Is matches the sentinel for the error's kind.
func (e *NetworkError) Is(target error) bool {
	return kindSentinels[e.Kind] == target
}

// NewNoConnectivityError wraps a transport failure.
func NewNoConnectivityError(cause error) *NetworkError {
	return newError(KindNoConnectivity, 0, "no internet connection", cause)
}

// NewSerializationError wraps an encode or decode failure.
func NewSerializationError(cause error) *NetworkError {
	return newError(KindSerialization, 0, "could not process data", cause)
}

// NewUnauthorizedError reports a rejected or missing credential.
func NewUnauthorizedError(status int, message string) *NetworkError {
	return newError(KindUnauthorized, status, message, nil)
}

// NewSessionExpiredError reports that the session could not be renewed.
// Stored credentials have already been cleared when this is returned.
func NewSessionExpiredError(cause error) *NetworkError {
	return newError(KindSessionExpired, 401, "session expired, please sign in again", cause)
}

// NewRemoteError reports a non-success status answered by the server.
func NewRemoteError(status int, message string) *NetworkError {
	return newError(KindRemote, status, message, nil)
}

// NewRefreshInProgressError reports that another refresh is running.
func NewRefreshInProgressError() *NetworkError {
	return newError(KindRefreshInProgress, 0, "refresh already in progress", nil)
}

// NewUnknownError wraps anything that fits no other kind.
func NewUnknownError(cause error) *NetworkError {
	msg := "unknown error"
	if cause != nil {
		msg = cause.Error()
	}
	return newError(KindUnknown, 0, msg, cause)
}

// AsNetworkError extracts a *NetworkError from err's chain.
func AsNetworkError(err error) (*NetworkError, bool) {
	var ne *NetworkError
	if errors.As(err, &ne) {
		return ne, true
	}
	return nil, false
}

// classifyTransportError maps an error returned by a Transport.
func classifyTransportError(err error) *NetworkError {
	if ne, ok := AsNetworkError(err); ok {
		return ne
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return NewUnknownError(err)
	}
	var netErr net.Error
	switch {
	case errors.As(err, &netErr),
		errors.Is(err, io.ErrUnexpectedEOF),
		errors.Is(err, syscall.ECONNREFUSED),
		errors.Is(err, syscall.ECONNRESET),
		errors.Is(err, syscall.ENETUNREACH),
		errors.Is(err, syscall.EHOSTUNREACH):
		return NewNoConnectivityError(err)
	}
	return NewUnknownError(err)
}
