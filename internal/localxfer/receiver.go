package localxfer

import (
	"context"
	"fmt"
	"io"
	"log"
	"net"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/arjunv/filepipe/internal/handshake"
	"github.com/arjunv/filepipe/internal/progress"
	"github.com/arjunv/filepipe/internal/wire"
	"github.com/arjunv/filepipe/pkg/models"
)

// Receiver is the local receiver engine: it dials an advertised sender,
// authenticates, and then cycles metadata{}/payload/file-end{} per file,
// writing each to saveDir under a collision-free name.
type Receiver struct {
	cfg     Config
	logger  *log.Logger
	saveDir string

	events chan models.Event

	mu         sync.Mutex
	conn       net.Conn
	stream     *wire.Stream
	isStopping bool
}

// NewReceiver constructs a Receiver that saves incoming files under saveDir.
func NewReceiver(cfg Config, logger *log.Logger, saveDir string) *Receiver {
	cfg.normalize()
	if logger == nil {
		logger = log.Default()
	}
	return &Receiver{
		cfg:     cfg,
		logger:  logger,
		saveDir: saveDir,
		events:  make(chan models.Event, 32),
	}
}

// Events returns the channel transfer/connection events are published on.
func (r *Receiver) Events() <-chan models.Event {
	return r.events
}

func (r *Receiver) emit(ev models.Event) {
	select {
	case r.events <- ev:
	default:
		r.logger.Printf("localxfer: receiver event channel full, dropping %s", ev.Kind)
	}
}

// Connect dials address:port, authenticates with code, and — on success —
// starts the receive loop in the background. It returns once the
// handshake completes (or fails).
func (r *Receiver) Connect(ctx context.Context, address string, port int, code string) error {
	dialer := net.Dialer{Timeout: r.cfg.AuthTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", fmt.Sprintf("%s:%d", address, port))
	if err != nil {
		return models.NewError(models.ErrConnectRefused, err)
	}

	stream := wire.NewStream(conn)
	if err := handshake.Authenticate(ctx, stream, code); err != nil {
		conn.Close()
		return err
	}

	r.mu.Lock()
	r.conn = conn
	r.stream = stream
	r.mu.Unlock()

	r.emit(models.Event{Kind: models.EventConnectionStatus, Connected: true, Mode: models.ModeReceiver})

	go r.receiveLoop(stream, conn)
	return nil
}

// receiveLoop cycles metadata{} -> payload -> file-end{} until the
// connection closes, emitting file-received and transfer-progress events
// along the way.
func (r *Receiver) receiveLoop(stream *wire.Stream, conn net.Conn) {
	for {
		rec, err := stream.ReadControl()
		if err != nil {
			r.onDisconnect(conn, err)
			return
		}
		if rec.Type != models.RecordMetadata || rec.Data == nil {
			r.logger.Printf("localxfer: receiver: unexpected record %s outside metadata cycle", rec.Type)
			continue
		}

		if err := r.receiveOne(stream, *rec.Data); err != nil {
			r.logger.Printf("localxfer: receiver: %v", err)
			r.emit(models.Event{Kind: models.EventTransferError, Message: err.Error()})
			r.onDisconnect(conn, err)
			return
		}
	}
}

func (r *Receiver) receiveOne(stream *wire.Stream, meta models.TransferMetadata) error {
	if err := meta.Validate(); err != nil {
		return models.NewError(models.ErrProtocolViolation, err)
	}

	savePath, err := resolveCollisionFreeName(r.saveDir, meta.FileName)
	if err != nil {
		return models.NewError(models.ErrIO, err)
	}

	f, err := os.Create(savePath)
	if err != nil {
		return models.NewError(models.ErrIO, err)
	}
	defer f.Close()

	counter := &countingWriter{w: f}
	lastTick := time.Now()
	lastPercent := -1
	var lastRecorded int64
	speed := progress.New()

	done := make(chan error, 1)
	go func() {
		_, err := stream.ReadPayload(counter, meta.FileSize)
		done <- err
	}()

	ticker := time.NewTicker(r.cfg.ProgressInterval)
	defer ticker.Stop()
loop:
	for {
		select {
		case err := <-done:
			if err != nil {
				return err
			}
			break loop
		case <-ticker.C:
			sent := counter.count()
			speed.Record(int(sent - lastRecorded))
			lastRecorded = sent
			percent := progressPercent(sent, meta.FileSize)
			if int(percent) != lastPercent || time.Since(lastTick) >= r.cfg.ProgressInterval {
				r.emit(models.Event{
					Kind:          models.EventTransferProgress,
					FileName:      meta.FileName,
					Progress:      percent,
					ReceivedBytes: sent,
					TotalBytes:    meta.FileSize,
					CurrentFile:   meta.CurrentFile,
					TotalFiles:    meta.TotalFiles,
					SpeedBps:      speed.BytesPerSecond(),
				})
				lastTick = time.Now()
				lastPercent = int(percent)
			}
		}
	}

	r.emit(models.Event{
		Kind:          models.EventTransferProgress,
		FileName:      meta.FileName,
		Progress:      100,
		ReceivedBytes: meta.FileSize,
		TotalBytes:    meta.FileSize,
		CurrentFile:   meta.CurrentFile,
		TotalFiles:    meta.TotalFiles,
	})

	endRec, err := stream.ReadControl()
	if err != nil {
		return err
	}
	if endRec.Type != models.RecordFileEnd {
		return models.NewError(models.ErrProtocolViolation, fmt.Errorf("expected file-end, got %s", endRec.Type))
	}

	if err := stream.WriteControl(models.ControlRecord{Type: models.RecordFileSaved}); err != nil {
		return err
	}

	r.emit(models.Event{
		Kind:        models.EventFileReceived,
		FileName:    filepath.Base(savePath),
		FileSize:    meta.FileSize,
		SavePath:    savePath,
		CurrentFile: meta.CurrentFile,
		TotalFiles:  meta.TotalFiles,
	})

	if meta.CurrentFile == meta.TotalFiles {
		r.emit(models.Event{Kind: models.EventTransferComplete})
	}

	return nil
}

func (r *Receiver) onDisconnect(conn net.Conn, err error) {
	r.mu.Lock()
	if r.conn != conn {
		r.mu.Unlock()
		return
	}
	r.conn = nil
	r.stream = nil
	stopping := r.isStopping
	r.mu.Unlock()

	conn.Close()
	if stopping {
		return
	}
	reason := "peer closed connection"
	if err != nil && err != io.EOF {
		reason = err.Error()
	}
	r.emit(models.Event{Kind: models.EventConnectionLost, Mode: models.ModeReceiver, Reason: reason})
}

// Disconnect closes the active connection. Safe to call more than once.
func (r *Receiver) Disconnect() error {
	r.mu.Lock()
	r.isStopping = true
	conn := r.conn
	r.conn = nil
	r.mu.Unlock()

	if conn == nil {
		return nil
	}
	return conn.Close()
}

// resolveCollisionFreeName picks savePath = dir/name, or dir/base (k).ext
// for the least integer k >= 1 not already present on disk.
func resolveCollisionFreeName(dir, name string) (string, error) {
	candidate := filepath.Join(dir, name)
	if _, err := os.Stat(candidate); os.IsNotExist(err) {
		return candidate, nil
	} else if err != nil {
		return "", err
	}

	ext := filepath.Ext(name)
	base := strings.TrimSuffix(name, ext)
	for k := 1; ; k++ {
		candidate = filepath.Join(dir, fmt.Sprintf("%s (%d)%s", base, k, ext))
		if _, err := os.Stat(candidate); os.IsNotExist(err) {
			return candidate, nil
		} else if err != nil {
			return "", err
		}
	}
}

type countingWriter struct {
	w  io.Writer
	mu sync.Mutex
	n  int64
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.mu.Lock()
	c.n += int64(n)
	c.mu.Unlock()
	return n, err
}

func (c *countingWriter) count() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.n
}
