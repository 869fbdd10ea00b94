package handshake

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/arjunv/filepipe/internal/wire"
	"github.com/arjunv/filepipe/pkg/models"
)

func pipeStreams() (*wire.Stream, *wire.Stream) {
	a, b := net.Pipe()
	return wire.NewStream(a), wire.NewStream(b)
}

func TestAuthSuccess(t *testing.T) {
	senderSide, receiverSide := pipeStreams()

	senderErrs := make(chan error, 1)
	go func() {
		senderErrs <- AwaitAuth(context.Background(), senderSide, "ABC-123", time.Second)
	}()

	if err := Authenticate(context.Background(), receiverSide, "ABC-123"); err != nil {
		t.Fatalf("Authenticate: %v", err)
	}
	if err := <-senderErrs; err != nil {
		t.Fatalf("AwaitAuth: %v", err)
	}
}

func TestAuthCodeMismatch(t *testing.T) {
	senderSide, receiverSide := pipeStreams()

	senderErrs := make(chan error, 1)
	go func() {
		senderErrs <- AwaitAuth(context.Background(), senderSide, "XYZ-123", time.Second)
	}()

	err := Authenticate(context.Background(), receiverSide, "ABC-123")
	if kind, ok := models.KindOf(err); !ok || kind != models.ErrInvalidCode {
		t.Fatalf("expected ErrInvalidCode, got %v", err)
	}

	senderErr := <-senderErrs
	if kind, ok := models.KindOf(senderErr); !ok || kind != models.ErrInvalidCode {
		t.Fatalf("expected sender ErrInvalidCode, got %v", senderErr)
	}
}

func TestAuthTimeout(t *testing.T) {
	senderSide, _ := pipeStreams()

	err := AwaitAuth(context.Background(), senderSide, "ABC-123", 20*time.Millisecond)
	if kind, ok := models.KindOf(err); !ok || kind != models.ErrAuthTimeout {
		t.Fatalf("expected ErrAuthTimeout, got %v", err)
	}
}

func TestAuthIgnoresRecordsBeforeAuth(t *testing.T) {
	senderSide, receiverSide := pipeStreams()

	senderErrs := make(chan error, 1)
	go func() {
		senderErrs <- AwaitAuth(context.Background(), senderSide, "ABC-123", time.Second)
	}()

	// Send a record that is not auth{} first; sender must ignore it.
	if err := receiverSide.WriteControl(models.ControlRecord{Type: models.RecordFileEnd}); err != nil {
		t.Fatalf("WriteControl: %v", err)
	}

	if err := Authenticate(context.Background(), receiverSide, "ABC-123"); err != nil {
		t.Fatalf("Authenticate: %v", err)
	}
	if err := <-senderErrs; err != nil {
		t.Fatalf("AwaitAuth: %v", err)
	}
}
