package remotexfer

import (
	"bufio"
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/arjunv/filepipe/internal/progress"
	"github.com/arjunv/filepipe/pkg/models"
)

// transferState is the per-transferId bookkeeping the receiver keeps
// while a file is in flight, keyed by TransferID so two same-named files
// arriving back to back never interleave their writes.
type transferState struct {
	file           *os.File
	writer         *bufio.Writer
	savePath       string
	fileName       string
	totalChunks    int
	received       int
	sinceLastAck   int
	pendingFlushed int64
	speed          *progress.Tracker
	currentFile    int
	totalFiles     int
}

const flushThreshold = 1 << 20 // 1 MiB, bounds the write-queue backpressure

// Receiver is the remote-mode receiver: it assembles file-chunk
// records into files under saveDir, one transferId at a time.
type Receiver struct {
	channel Channel
	cfg     Config
	logger  *log.Logger
	saveDir string
	events  chan models.Event

	mu        sync.Mutex
	transfers map[string]*transferState
}

// NewReceiver builds a Receiver around an already-connected channel.
func NewReceiver(channel Channel, cfg Config, logger *log.Logger, saveDir string) *Receiver {
	cfg.normalize()
	if logger == nil {
		logger = log.Default()
	}
	return &Receiver{
		channel:   channel,
		cfg:       cfg,
		logger:    logger,
		saveDir:   saveDir,
		events:    make(chan models.Event, 32),
		transfers: make(map[string]*transferState),
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
		r.logger.Printf("remotexfer: receiver event channel full, dropping %s", ev.Kind)
	}
}

// Run drains the channel until it closes or ctx is cancelled, dispatching
// file-meta/file-chunk records to per-transfer state.
func (r *Receiver) Run(ctx context.Context) error {
	for {
		raw, err := r.channel.Recv(ctx)
		if err != nil {
			r.emit(models.Event{Kind: models.EventConnectionLost, Mode: models.ModeReceiver, Reason: err.Error()})
			return err
		}
		rec, err := decodeRecord(raw)
		if err != nil {
			r.logger.Printf("remotexfer: receiver: %v", err)
			continue
		}
		if err := r.handle(ctx, rec); err != nil {
			r.logger.Printf("remotexfer: receiver: %v", err)
			r.emit(models.Event{Kind: models.EventTransferError, Message: err.Error()})
		}
	}
}

func (r *Receiver) handle(ctx context.Context, rec models.RemoteRecord) error {
	switch rec.Type {
	case models.RemoteFileMeta:
		return r.beginTransfer(rec)
	case models.RemoteFileChunk:
		return r.writeChunk(ctx, rec)
	case models.RemoteDisconnect:
		r.emit(models.Event{Kind: models.EventConnectionLost, Mode: models.ModeReceiver, Reason: rec.Reason})
		return nil
	default:
		return fmt.Errorf("unexpected record type %s", rec.Type)
	}
}

func (r *Receiver) beginTransfer(rec models.RemoteRecord) error {
	savePath, err := resolveCollisionFreeName(r.saveDir, rec.FileName)
	if err != nil {
		return models.NewError(models.ErrIO, err)
	}
	f, err := os.Create(savePath)
	if err != nil {
		return models.NewError(models.ErrIO, err)
	}

	st := &transferState{
		file:        f,
		writer:      bufio.NewWriterSize(f, flushThreshold),
		savePath:    savePath,
		fileName:    rec.FileName,
		totalChunks: rec.TotalChunks,
		speed:       progress.New(),
		currentFile: rec.CurrentFile,
		totalFiles:  rec.TotalFiles,
	}

	r.mu.Lock()
	r.transfers[rec.TransferID] = st
	r.mu.Unlock()
	return nil
}

func (r *Receiver) writeChunk(ctx context.Context, rec models.RemoteRecord) error {
	r.mu.Lock()
	st, ok := r.transfers[rec.TransferID]
	r.mu.Unlock()
	if !ok {
		return fmt.Errorf("file-chunk for unknown transfer %s", rec.TransferID)
	}

	data, err := decompressChunk(rec.Chunk)
	if err != nil {
		return models.NewError(models.ErrIO, err)
	}
	if _, err := st.writer.Write(data); err != nil {
		return models.NewError(models.ErrIO, err)
	}
	st.speed.Record(len(data))
	st.received++
	st.sinceLastAck++
	st.pendingFlushed += int64(len(data))

	if st.pendingFlushed >= flushThreshold {
		if err := st.writer.Flush(); err != nil {
			return models.NewError(models.ErrIO, err)
		}
		st.pendingFlushed = 0
	}

	isFinal := st.received >= st.totalChunks
	if isFinal || st.sinceLastAck >= r.cfg.ackEvery() {
		if err := r.sendRecord(ctx, models.RemoteRecord{
			Type:           models.RemoteChunkAck,
			TransferID:     rec.TransferID,
			ReceivedChunks: st.received,
		}); err != nil {
			return err
		}
		st.sinceLastAck = 0
	}

	if isFinal {
		return r.finishTransfer(ctx, rec.TransferID, st)
	}
	return nil
}

func (r *Receiver) finishTransfer(ctx context.Context, transferID string, st *transferState) error {
	if err := st.writer.Flush(); err != nil {
		return models.NewError(models.ErrIO, err)
	}
	if err := st.file.Close(); err != nil {
		return models.NewError(models.ErrIO, err)
	}

	r.mu.Lock()
	delete(r.transfers, transferID)
	r.mu.Unlock()

	info, statErr := os.Stat(st.savePath)
	var size int64
	if statErr == nil {
		size = info.Size()
	}

	r.emit(models.Event{
		Kind:        models.EventFileReceived,
		FileName:    filepath.Base(st.savePath),
		FileSize:    size,
		SavePath:    st.savePath,
		CurrentFile: st.currentFile,
		TotalFiles:  st.totalFiles,
	})
	if st.totalFiles > 0 && st.currentFile == st.totalFiles {
		r.emit(models.Event{Kind: models.EventTransferComplete})
	}

	return r.sendRecord(ctx, models.RemoteRecord{
		Type:       models.RemoteFileComplete,
		TransferID: transferID,
	})
}

func (r *Receiver) sendRecord(ctx context.Context, rec models.RemoteRecord) error {
	raw, err := encodeRecord(rec)
	if err != nil {
		return err
	}
	if err := r.channel.Send(ctx, raw); err != nil {
		return models.NewError(models.ErrPeerDisconnect, err)
	}
	return nil
}

// resolveCollisionFreeName mirrors localxfer's naming rule: dir/name,
// or dir/base (k).ext for the least k >= 1 not already on disk.
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

