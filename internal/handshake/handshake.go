// Package handshake implements the local-mode authentication protocol
// a sender awaiting a single auth{code} within a bounded
// timeout, and a receiver presenting its code and awaiting the verdict.
package handshake

import (
	"context"
	"errors"
	"time"

	"github.com/arjunv/filepipe/internal/wire"
	"github.com/arjunv/filepipe/pkg/models"
)

// InvalidCodeMessage is the exact error{} text a sender sends on code
// mismatch, and the text a receiver matches to classify INVALID_CODE vs
// REMOTE_ERROR.
const InvalidCodeMessage = "Invalid connection code"

// DefaultTimeout is the hard authentication timeout.
const DefaultTimeout = 10 * time.Second

// AwaitAuth is the sender side of the authentication handshake: it blocks
// on stream until a single auth{code} record arrives, or timeout/ctx
// elapses first. On a code match it writes auth-success{} and returns
// nil — the caller then stops advertising and promotes the socket. On
// mismatch
// it writes error{} and returns ErrInvalidCode; the caller must destroy
// the socket, which is never promoted. Any other record seen before auth
// is ignored, per spec.
func AwaitAuth(ctx context.Context, stream *wire.Stream, sessionCode string, timeout time.Duration) error {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	done := make(chan error, 1)
	go func() {
		for {
			rec, err := stream.ReadControl()
			if err != nil {
				done <- err
				return
			}
			if rec.Type != models.RecordAuth {
				continue
			}
			if rec.Code == sessionCode {
				done <- stream.WriteControl(models.ControlRecord{Type: models.RecordAuthSuccess})
				return
			}
			_ = stream.WriteControl(models.ControlRecord{Type: models.RecordError, Message: InvalidCodeMessage})
			done <- models.NewError(models.ErrInvalidCode, errors.New("code mismatch"))
			return
		}
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case err := <-done:
		return err
	case <-timer.C:
		return models.NewError(models.ErrAuthTimeout, nil)
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Authenticate is the receiver side of the handshake: it writes auth{code} and
// blocks for auth-success{} or error{}, returning ErrInvalidCode or
// ErrRemoteError accordingly.
func Authenticate(ctx context.Context, stream *wire.Stream, code string) error {
	if err := stream.WriteControl(models.ControlRecord{Type: models.RecordAuth, Code: code}); err != nil {
		return err
	}

	done := make(chan error, 1)
	go func() {
		for {
			rec, err := stream.ReadControl()
			if err != nil {
				done <- err
				return
			}
			switch rec.Type {
			case models.RecordAuthSuccess:
				done <- nil
				return
			case models.RecordError:
				if rec.Message == InvalidCodeMessage {
					done <- models.NewError(models.ErrInvalidCode, errors.New(rec.Message))
				} else {
					done <- models.NewError(models.ErrRemoteError, errors.New(rec.Message))
				}
				return
			default:
				continue
			}
		}
	}()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}
