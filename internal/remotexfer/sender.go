package remotexfer

import (
	"context"
	"io"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/arjunv/filepipe/internal/progress"
	"github.com/arjunv/filepipe/pkg/models"
)

// Sender is the remote-mode sender: it streams files over channel as
// windowed, compressed file-chunk records, one file at a time.
type Sender struct {
	channel Channel
	cfg     Config
	logger  *log.Logger
	events  chan models.Event

	mu        sync.Mutex
	acked     int
	ackNotify chan struct{}
	completed chan struct{}
}

// NewSender builds a Sender around an already-connected channel.
func NewSender(channel Channel, cfg Config, logger *log.Logger) *Sender {
	cfg.normalize()
	if logger == nil {
		logger = log.Default()
	}
	s := &Sender{channel: channel, cfg: cfg, logger: logger, events: make(chan models.Event, 32)}
	go s.readLoop()
	return s
}

// Events returns the channel transfer/connection events are published on.
func (s *Sender) Events() <-chan models.Event {
	return s.events
}

func (s *Sender) emit(ev models.Event) {
	select {
	case s.events <- ev:
	default:
		s.logger.Printf("remotexfer: sender event channel full, dropping %s", ev.Kind)
	}
}

// readLoop drains chunk-ack and file-complete records from the channel
// for the lifetime of the Sender, sliding the send window and signalling
// per-file completion.
func (s *Sender) readLoop() {
	for {
		raw, err := s.channel.Recv(context.Background())
		if err != nil {
			s.emit(models.Event{Kind: models.EventConnectionLost, Mode: models.ModeSender, Reason: err.Error()})
			return
		}
		rec, err := decodeRecord(raw)
		if err != nil {
			s.logger.Printf("remotexfer: sender: %v", err)
			continue
		}
		switch rec.Type {
		case models.RemoteChunkAck:
			s.mu.Lock()
			s.acked = rec.ReceivedChunks
			ch := s.ackNotify
			s.mu.Unlock()
			notify(ch)
		case models.RemoteFileComplete:
			s.mu.Lock()
			ch := s.completed
			s.mu.Unlock()
			notify(ch)
		case models.RemoteDisconnect:
			s.emit(models.Event{Kind: models.EventConnectionLost, Mode: models.ModeSender, Reason: rec.Reason})
		default:
			s.logger.Printf("remotexfer: sender: unexpected record %s", rec.Type)
		}
	}
}

func notify(ch chan struct{}) {
	if ch == nil {
		return
	}
	select {
	case ch <- struct{}{}:
	default:
	}
}

// SendFiles streams paths in order, emitting transfer-complete once the
// last file's completion is confirmed by the receiver or its wait for
// that confirmation has timed out (AckTimeout).
func (s *Sender) SendFiles(ctx context.Context, paths []string) error {
	total := len(paths)
	for i, path := range paths {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := s.sendOne(ctx, path, i+1, total); err != nil {
			return err
		}
	}
	s.emit(models.Event{Kind: models.EventTransferComplete})
	return nil
}

func (s *Sender) sendOne(ctx context.Context, path string, index, total int) error {
	info, err := os.Stat(path)
	if err != nil {
		return models.NewError(models.ErrIO, err)
	}
	fileSize := info.Size()
	fileName := filepath.Base(path)
	totalChunks := int((fileSize + s.cfg.ChunkSize - 1) / s.cfg.ChunkSize)
	if totalChunks == 0 {
		totalChunks = 1 // a zero-byte file is still one (empty) chunk
	}
	transferID := uuid.NewString()

	s.mu.Lock()
	s.acked = 0
	ackNotify := make(chan struct{}, 1)
	completed := make(chan struct{}, 1)
	s.ackNotify = ackNotify
	s.completed = completed
	s.mu.Unlock()

	meta := models.RemoteRecord{
		Type:        models.RemoteFileMeta,
		FileName:    fileName,
		TransferID:  transferID,
		FileSize:    fileSize,
		TotalChunks: totalChunks,
		CurrentFile: index,
		TotalFiles:  total,
	}
	if err := s.sendRecord(ctx, meta); err != nil {
		return err
	}

	f, err := os.Open(path)
	if err != nil {
		return models.NewError(models.ErrIO, err)
	}
	defer f.Close()

	speed := progress.New()
	buf := make([]byte, s.cfg.ChunkSize)
	lastPercent := -1

	for chunkIndex := 0; chunkIndex < totalChunks; chunkIndex++ {
		if err := s.waitForWindow(ctx, chunkIndex); err != nil {
			return err
		}

		n, rerr := readFull(f, buf)
		if rerr != nil && rerr != io.EOF {
			return models.NewError(models.ErrIO, rerr)
		}

		compressed, cerr := compressChunk(buf[:n])
		if cerr != nil {
			return models.NewError(models.ErrIO, cerr)
		}

		if err := s.sendRecord(ctx, models.RemoteRecord{
			Type:       models.RemoteFileChunk,
			TransferID: transferID,
			ChunkIndex: chunkIndex,
			Chunk:      compressed,
		}); err != nil {
			return err
		}

		speed.Record(n)
		sentBytes := int64(chunkIndex+1) * s.cfg.ChunkSize
		if sentBytes > fileSize {
			sentBytes = fileSize
		}
		percent := progressPercent(sentBytes, fileSize)
		if int(percent) != lastPercent {
			s.emit(models.Event{
				Kind:        models.EventTransferProgress,
				FileName:    fileName,
				Progress:    percent,
				SentBytes:   sentBytes,
				TotalBytes:  fileSize,
				CurrentFile: index,
				TotalFiles:  total,
				SpeedBps:    speed.BytesPerSecond(),
			})
			lastPercent = int(percent)
		}
	}

	select {
	case <-completed:
	case <-time.After(s.cfg.AckTimeout):
		s.logger.Printf("remotexfer: %s: %s (file %d/%d)", models.ErrAckTimeout, fileName, index, total)
	case <-ctx.Done():
		return ctx.Err()
	}

	return nil
}

// waitForWindow blocks while chunkIndex has outrun the receiver's acks by
// more than the sliding window.
func (s *Sender) waitForWindow(ctx context.Context, chunkIndex int) error {
	for {
		s.mu.Lock()
		acked := s.acked
		ch := s.ackNotify
		s.mu.Unlock()
		if chunkIndex-acked < s.cfg.WindowSize {
			return nil
		}
		select {
		case <-ch:
		case <-time.After(s.cfg.AckTimeout):
			s.logger.Printf("remotexfer: %s waiting for window to open at chunk %d", models.ErrAckTimeout, chunkIndex)
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (s *Sender) sendRecord(ctx context.Context, rec models.RemoteRecord) error {
	raw, err := encodeRecord(rec)
	if err != nil {
		return err
	}
	if err := s.channel.Send(ctx, raw); err != nil {
		return models.NewError(models.ErrPeerDisconnect, err)
	}
	return nil
}

func progressPercent(sent, total int64) float64 {
	if total <= 0 {
		return 100
	}
	return float64(sent) / float64(total) * 100
}

func readFull(f *os.File, buf []byte) (int, error) {
	n, err := f.Read(buf)
	return n, err
}
