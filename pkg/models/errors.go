package models

import (
	"errors"
	"fmt"
)

// ErrorKind is the closed taxonomy of tagged errors filepipe reports.
type ErrorKind string

const (
	ErrRNGUnavailable    ErrorKind = "RNG_UNAVAILABLE"
	ErrBindFailed        ErrorKind = "BIND_FAILED"
	ErrMalformedFrame    ErrorKind = "MALFORMED_FRAME"
	ErrTruncatedPayload  ErrorKind = "TRUNCATED_PAYLOAD"
	ErrProtocolViolation ErrorKind = "PROTOCOL_VIOLATION"
	ErrAuthTimeout       ErrorKind = "AUTH_TIMEOUT"
	ErrInvalidCode       ErrorKind = "INVALID_CODE"
	ErrConnectRefused    ErrorKind = "CONNECT_REFUSED"
	ErrTimeout           ErrorKind = "TIMEOUT"
	ErrHostNotFound      ErrorKind = "HOST_NOT_FOUND"
	ErrIO                ErrorKind = "IO_ERROR"
	ErrAckTimeout        ErrorKind = "ACK_TIMEOUT"
	ErrPeerDisconnect    ErrorKind = "PEER_DISCONNECT"
	ErrChannelClosed     ErrorKind = "CHANNEL_CLOSED"
	// ErrRemoteError is the receiver-side fallback when an error{} frame's
	// message doesn't match the known "invalid code" text.
	ErrRemoteError ErrorKind = "REMOTE_ERROR"
)

// FilepipeError tags an underlying error with one of the ErrorKind values,
// so callers can switch on its Kind (see KindOf) instead of string-matching
// messages.
type FilepipeError struct {
	Kind ErrorKind
	Err  error
}

// NewError wraps err with the given kind. A nil err is still reported as an
// error carrying only the kind, which some kinds (e.g. ErrAuthTimeout) need.
func NewError(kind ErrorKind, err error) *FilepipeError {
	return &FilepipeError{Kind: kind, Err: err}
}

func (e *FilepipeError) Error() string {
	if e.Err == nil {
		return string(e.Kind)
	}
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *FilepipeError) Unwrap() error {
	return e.Err
}

// KindOf extracts the ErrorKind from err if it (or something it wraps) is a
// *FilepipeError, and reports whether one was found.
func KindOf(err error) (ErrorKind, bool) {
	var fe *FilepipeError
	if errors.As(err, &fe) {
		return fe.Kind, true
	}
	return "", false
}
