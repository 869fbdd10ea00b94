// Package remotexfer implements the remote-mode transfer engine: a
// sliding-window chunked transfer layered over an already-reliable,
// already-ordered message channel supplied by an external peer-rendezvous
// collaborator. This package never retries or resequences at the wire
// level — that contract is the Channel's job — it only does windowed
// flow control and per-transfer chunk bookkeeping.
package remotexfer

import (
	"context"
	"encoding/json"
	"time"

	"github.com/arjunv/filepipe/pkg/models"
)

// Channel is the reliable ordered message channel remote mode runs over
// (connect/send/on/close). Recv blocks for the next message in delivery
// order; Send delivers a whole message or returns an error — never a
// partial write. Tests exercise remotexfer against an in-memory fake;
// internal/rendezvous supplies a real implementation for demos.
type Channel interface {
	Send(ctx context.Context, msg []byte) error
	Recv(ctx context.Context) ([]byte, error)
	Close() error
}

func encodeRecord(rec models.RemoteRecord) ([]byte, error) {
	return json.Marshal(rec)
}

func decodeRecord(raw []byte) (models.RemoteRecord, error) {
	var rec models.RemoteRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return models.RemoteRecord{}, models.NewError(models.ErrMalformedFrame, err)
	}
	return rec, nil
}

// Config holds the remote-mode tunables.
type Config struct {
	WindowSize int
	ChunkSize  int64
	AckTimeout time.Duration
}

const (
	defaultWindowSize = 20
	defaultChunkSize  = 256 * 1024
	defaultAckTimeout = 30 * time.Second
)

func (c *Config) normalize() {
	if c.WindowSize <= 0 {
		c.WindowSize = defaultWindowSize
	}
	if c.ChunkSize <= 0 {
		c.ChunkSize = defaultChunkSize
	}
	if c.AckTimeout <= 0 {
		c.AckTimeout = defaultAckTimeout
	}
}

// ackEvery returns how many chunks the receiver lets pass before it must
// send a chunk-ack, derived from the window size so the sender's window
// reliably slides open again before it stalls waiting on one: acking at
// half the window leaves the sender room to keep streaming with a full
// half-window of slack while the ack is in flight.
func (c Config) ackEvery() int {
	n := c.WindowSize / 2
	if n < 1 {
		n = 1
	}
	return n
}
