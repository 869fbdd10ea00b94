// Package localxfer implements the local (LAN TCP) transfer engine: the
// sender side and receiver side of a direct, authenticated connection.
package localxfer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/arjunv/filepipe/internal/codegen"
	"github.com/arjunv/filepipe/internal/discovery"
	"github.com/arjunv/filepipe/internal/handshake"
	"github.com/arjunv/filepipe/internal/progress"
	"github.com/arjunv/filepipe/internal/wire"
	"github.com/arjunv/filepipe/pkg/models"
)

// Sender is the local sender engine. It accepts exactly one
// authenticated receiver at a time and streams files to it only
// when SendFiles is called.
type Sender struct {
	cfg       Config
	disc      *discovery.Service
	logger    *log.Logger
	hostname  string
	localIPv4 string

	events chan models.Event

	mu           sync.Mutex
	listener     net.Listener
	code         string
	port         int
	isStopping   bool
	acceptedConn net.Conn
	stream       *wire.Stream
	ackWait      chan struct{} // set by sendOne, signalled by the reader loop
}

// NewSender constructs a Sender. A nil logger falls back to the standard
// logger. disc is the discovery resource advertising owns.
func NewSender(cfg Config, disc *discovery.Service, logger *log.Logger, hostname string) *Sender {
	cfg.normalize()
	if logger == nil {
		logger = log.Default()
	}
	return &Sender{
		cfg:      cfg,
		disc:     disc,
		logger:   logger,
		hostname: hostname,
		events:   make(chan models.Event, 32),
	}
}

// Events returns the channel transfer/connection events are published on.
func (s *Sender) Events() <-chan models.Event {
	return s.events
}

func (s *Sender) emit(ev models.Event) {
	select {
	case s.events <- ev:
	default:
		s.logger.Printf("localxfer: sender event channel full, dropping %s", ev.Kind)
	}
}

// Start binds the listener, generates the session code, begins
// advertising, and returns the ConnectionInfo a receiver needs to
// connect. Only one session may be active at a time.
func (s *Sender) Start(ctx context.Context) (models.ConnectionInfo, error) {
	s.mu.Lock()
	if s.listener != nil {
		s.mu.Unlock()
		return models.ConnectionInfo{}, errors.New("sender already started")
	}
	s.mu.Unlock()

	code, err := codegen.Generate()
	if err != nil {
		return models.ConnectionInfo{}, err
	}

	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", s.cfg.Port))
	if err != nil {
		return models.ConnectionInfo{}, models.NewError(models.ErrBindFailed, err)
	}
	port := ln.Addr().(*net.TCPAddr).Port

	ipv4, err := localIPv4()
	if err != nil {
		ln.Close()
		return models.ConnectionInfo{}, models.NewError(models.ErrBindFailed, err)
	}

	s.mu.Lock()
	s.listener = ln
	s.code = code
	s.port = port
	s.localIPv4 = ipv4
	s.mu.Unlock()

	if _, err := s.disc.Publish(s.hostname, port, s.hostname); err != nil {
		s.logger.Printf("localxfer: advertise failed, will retry at next idle transition: %v", err)
	}

	go s.acceptLoop(ctx)

	return models.ConnectionInfo{
		Address:  ipv4,
		Port:     port,
		Code:     code,
		Hostname: s.hostname,
	}, nil
}

func (s *Sender) acceptLoop(ctx context.Context) {
	for {
		s.mu.Lock()
		stopping := s.isStopping
		ln := s.listener
		s.mu.Unlock()
		if stopping || ln == nil {
			return
		}

		conn, err := ln.Accept()
		if err != nil {
			s.mu.Lock()
			stopping = s.isStopping
			s.mu.Unlock()
			if stopping {
				return
			}
			s.logger.Printf("localxfer: accept error: %v", err)
			continue
		}

		stream := wire.NewStream(conn)
		if err := handshake.AwaitAuth(ctx, stream, s.code, s.cfg.AuthTimeout); err != nil {
			conn.Close()
			if kind, ok := models.KindOf(err); ok {
				s.logger.Printf("localxfer: handshake rejected: %s", kind)
			}
			continue
		}

		// Authenticated: stop advertising and claim this socket as the
		// single accepted client.
		if err := s.disc.Unpublish(); err != nil {
			s.logger.Printf("localxfer: unpublish on auth: %v", err)
		}

		s.mu.Lock()
		s.acceptedConn = conn
		s.stream = stream
		s.mu.Unlock()

		s.emit(models.Event{Kind: models.EventConnectionStatus, Connected: true, Mode: models.ModeSender})

		s.readerLoop(stream, conn)

		// readerLoop returned: peer is gone. Resume advertising only if the
		// supervisor hasn't asked us to stop.
		s.mu.Lock()
		stopping = s.isStopping
		port := s.port
		s.mu.Unlock()
		if !stopping {
			if _, err := s.disc.Publish(s.hostname, port, s.hostname); err != nil {
				s.logger.Printf("localxfer: re-advertise failed: %v", err)
			}
		}
	}
}

// readerLoop continuously drains control records from the authenticated
// peer (only file-saved{} is expected outside of an active sendOne) until
// the connection closes or errors, then clears accepted-client state.
func (s *Sender) readerLoop(stream *wire.Stream, conn net.Conn) {
	for {
		rec, err := stream.ReadControl()
		if err != nil {
			s.onDisconnect(conn, err)
			return
		}
		switch rec.Type {
		case models.RecordFileSaved:
			s.mu.Lock()
			ch := s.ackWait
			s.mu.Unlock()
			if ch != nil {
				select {
				case ch <- struct{}{}:
				default:
				}
			}
		default:
			s.logger.Printf("localxfer: unexpected record from receiver: %s", rec.Type)
		}
	}
}

func (s *Sender) onDisconnect(conn net.Conn, err error) {
	s.mu.Lock()
	if s.acceptedConn != conn {
		s.mu.Unlock()
		return
	}
	s.acceptedConn = nil
	s.stream = nil
	s.mu.Unlock()

	conn.Close()
	reason := "peer closed connection"
	if err != nil && !errors.Is(err, io.EOF) {
		reason = err.Error()
	}
	s.emit(models.Event{Kind: models.EventConnectionLost, Mode: models.ModeSender, Reason: reason})
}

// Stop tears down advertising, the accepted socket, and the listener. Safe
// to call more than once.
func (s *Sender) Stop() error {
	s.mu.Lock()
	if s.isStopping {
		s.mu.Unlock()
		return nil
	}
	s.isStopping = true
	conn := s.acceptedConn
	ln := s.listener
	s.acceptedConn = nil
	s.mu.Unlock()

	if err := s.disc.Unpublish(); err != nil {
		s.logger.Printf("localxfer: unpublish on stop: %v", err)
	}
	if conn != nil {
		conn.Close()
	}
	if ln != nil {
		return ln.Close()
	}
	return nil
}

// HasAuthenticatedPeer reports whether a receiver is currently accepted.
func (s *Sender) HasAuthenticatedPeer() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.acceptedConn != nil
}

// SendFiles streams paths in order to the authenticated peer, waiting for
// each file's acknowledgement before advancing, and emits
// transfer-complete once every file has been sent.
func (s *Sender) SendFiles(ctx context.Context, paths []string) error {
	s.mu.Lock()
	stream := s.stream
	s.mu.Unlock()
	if stream == nil {
		return errors.New("localxfer: no authenticated receiver")
	}

	total := len(paths)
	for i, path := range paths {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := s.sendOne(ctx, stream, path, i+1, total); err != nil {
			return err
		}
	}
	s.emit(models.Event{Kind: models.EventTransferComplete})
	return nil
}

func (s *Sender) sendOne(ctx context.Context, stream *wire.Stream, path string, index, total int) error {
	info, err := os.Stat(path)
	if err != nil {
		return models.NewError(models.ErrIO, err)
	}
	fileSize := info.Size()
	fileName := filepath.Base(path)

	meta := models.TransferMetadata{
		FileName:    fileName,
		FileSize:    fileSize,
		CurrentFile: index,
		TotalFiles:  total,
	}
	if err := stream.WriteControl(models.ControlRecord{Type: models.RecordMetadata, Data: &meta}); err != nil {
		return err
	}

	f, err := os.Open(path)
	if err != nil {
		return models.NewError(models.ErrIO, err)
	}
	defer f.Close()

	var sent int64
	lastTick := time.Now()
	lastPercent := -1
	buf := make([]byte, s.cfg.ChunkSize)
	speed := progress.New()

	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		n, rerr := f.Read(buf)
		if n > 0 {
			// A plain blocking net.Conn.Write already suspends this goroutine
			// until the kernel send buffer drains, giving read-suspend/resume
			// backpressure for free.
			if _, werr := stream.WritePayload(buf[:n]); werr != nil {
				return models.NewError(models.ErrPeerDisconnect, werr)
			}
			sent += int64(n)
			speed.Record(n)
			percent := progressPercent(sent, fileSize)
			if time.Since(lastTick) >= s.cfg.ProgressInterval || int(percent) != lastPercent {
				s.emit(models.Event{
					Kind:        models.EventTransferProgress,
					FileName:    fileName,
					Progress:    percent,
					SentBytes:   sent,
					TotalBytes:  fileSize,
					CurrentFile: index,
					TotalFiles:  total,
					SpeedBps:    speed.BytesPerSecond(),
				})
				lastTick = time.Now()
				lastPercent = int(percent)
			}
		}
		if rerr == io.EOF {
			break
		}
		if rerr != nil {
			return models.NewError(models.ErrIO, rerr)
		}
	}

	s.emit(models.Event{
		Kind:        models.EventTransferProgress,
		FileName:    fileName,
		Progress:    100,
		SentBytes:   fileSize,
		TotalBytes:  fileSize,
		CurrentFile: index,
		TotalFiles:  total,
	})

	select {
	case <-time.After(s.cfg.SettleDelay):
	case <-ctx.Done():
		return ctx.Err()
	}

	// Install the ack slot before file-end goes out, so a file-saved{} that
	// arrives immediately is not dropped by the reader loop.
	ackCh := make(chan struct{}, 1)
	s.mu.Lock()
	s.ackWait = ackCh
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		if s.ackWait == ackCh {
			s.ackWait = nil
		}
		s.mu.Unlock()
	}()

	if err := stream.WriteControl(models.ControlRecord{Type: models.RecordFileEnd}); err != nil {
		return err
	}

	select {
	case <-ackCh:
	case <-time.After(s.cfg.AckTimeout):
		s.logger.Printf("localxfer: %s: %s (file %d/%d)", models.ErrAckTimeout, fileName, index, total)
	case <-ctx.Done():
		return ctx.Err()
	}

	return nil
}

func progressPercent(sent, total int64) float64 {
	if total <= 0 {
		return 100
	}
	return float64(sent) / float64(total) * 100
}

func localIPv4() (string, error) {
	addrs, err := net.InterfaceAddrs()
	if err != nil {
		return "", err
	}
	for _, addr := range addrs {
		ipNet, ok := addr.(*net.IPNet)
		if !ok || ipNet.IP.IsLoopback() {
			continue
		}
		if v4 := ipNet.IP.To4(); v4 != nil {
			return v4.String(), nil
		}
	}
	return "127.0.0.1", nil
}
