// Package supervisor owns the single active transfer session (local or
// remote) a filepipe process may run at a time. Session state is kept
// in-memory only; nothing is persisted to disk.
package supervisor

import (
	"context"
	"errors"
	"log"
	"sync"

	"github.com/arjunv/filepipe/internal/discovery"
	"github.com/arjunv/filepipe/internal/localxfer"
	"github.com/arjunv/filepipe/internal/remotexfer"
	"github.com/arjunv/filepipe/pkg/models"
)

// ErrSessionActive is returned when a Start* method is called while a
// session is already running.
var ErrSessionActive = errors.New("supervisor: a session is already active")

// ErrNoActiveSession reports that no session is running. No Supervisor
// method returns it.
var ErrNoActiveSession = errors.New("supervisor: no active session")

// Supervisor is the long-lived per-process resource that starts, tracks,
// and tears down exactly one transfer session. It never outlives the
// process: nothing it holds is written to disk.
type Supervisor struct {
	disc   *discovery.Service
	logger *log.Logger

	mu      sync.Mutex
	kind    sessionKind
	cancel  context.CancelFunc
	local   *localActiveSession
	remote  *remoteActiveSession
}

type sessionKind int

const (
	sessionNone sessionKind = iota
	sessionLocalSend
	sessionLocalReceive
	sessionRemoteSend
	sessionRemoteReceive
)

type localActiveSession struct {
	sender   *localxfer.Sender
	receiver *localxfer.Receiver
}

type remoteActiveSession struct {
	sender   *remotexfer.Sender
	receiver *remotexfer.Receiver
	channel  remotexfer.Channel
}

// New constructs a Supervisor. disc is the discovery resource local-mode
// sessions advertise through; a nil logger falls back to the standard
// logger.
func New(disc *discovery.Service, logger *log.Logger) *Supervisor {
	if logger == nil {
		logger = log.Default()
	}
	return &Supervisor{disc: disc, logger: logger}
}

func (s *Supervisor) claim(kind sessionKind) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.kind != sessionNone {
		return ErrSessionActive
	}
	s.kind = kind
	return nil
}

// StartLocalSend begins advertising a local-mode session and returns its
// ConnectionInfo and the live Sender, whose Events channel carries the
// session's events.
func (s *Supervisor) StartLocalSend(ctx context.Context, cfg localxfer.Config, hostname string) (models.ConnectionInfo, *localxfer.Sender, error) {
	if err := s.claim(sessionLocalSend); err != nil {
		return models.ConnectionInfo{}, nil, err
	}

	ctx, cancel := context.WithCancel(ctx)
	sender := localxfer.NewSender(cfg, s.disc, s.logger, hostname)
	info, err := sender.Start(ctx)
	if err != nil {
		cancel()
		s.release()
		return models.ConnectionInfo{}, nil, err
	}

	s.mu.Lock()
	s.cancel = cancel
	s.local = &localActiveSession{sender: sender}
	s.mu.Unlock()

	return info, sender, nil
}

// StartLocalReceive dials an advertised sender and returns the live
// Receiver once authenticated.
func (s *Supervisor) StartLocalReceive(ctx context.Context, cfg localxfer.Config, address string, port int, code, saveDir string) (*localxfer.Receiver, error) {
	if err := s.claim(sessionLocalReceive); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(ctx)
	receiver := localxfer.NewReceiver(cfg, s.logger, saveDir)
	if err := receiver.Connect(ctx, address, port, code); err != nil {
		cancel()
		s.release()
		return nil, err
	}

	s.mu.Lock()
	s.cancel = cancel
	s.local = &localActiveSession{receiver: receiver}
	s.mu.Unlock()

	return receiver, nil
}

// StartRemoteSend wraps an already-connected Channel as the active
// session's sender.
func (s *Supervisor) StartRemoteSend(channel remotexfer.Channel, cfg remotexfer.Config) (*remotexfer.Sender, error) {
	if err := s.claim(sessionRemoteSend); err != nil {
		return nil, err
	}
	sender := remotexfer.NewSender(channel, cfg, s.logger)
	s.mu.Lock()
	s.remote = &remoteActiveSession{sender: sender, channel: channel}
	s.mu.Unlock()
	return sender, nil
}

// StartRemoteReceive wraps an already-connected Channel as the active
// session's receiver and starts its receive loop.
func (s *Supervisor) StartRemoteReceive(ctx context.Context, channel remotexfer.Channel, cfg remotexfer.Config, saveDir string) (*remotexfer.Receiver, error) {
	if err := s.claim(sessionRemoteReceive); err != nil {
		return nil, err
	}
	ctx, cancel := context.WithCancel(ctx)
	receiver := remotexfer.NewReceiver(channel, cfg, s.logger, saveDir)

	s.mu.Lock()
	s.cancel = cancel
	s.remote = &remoteActiveSession{receiver: receiver, channel: channel}
	s.mu.Unlock()

	go func() {
		_ = receiver.Run(ctx)
		s.Shutdown()
	}()

	return receiver, nil
}

// IsActive reports whether a session is currently running, used by
// callers that want to refuse overlapping CLI invocations before even
// reaching Start*.
func (s *Supervisor) IsActive() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.kind != sessionNone
}

func (s *Supervisor) release() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.kind = sessionNone
	s.cancel = nil
	s.local = nil
	s.remote = nil
}

// Shutdown idempotently tears down whatever session is active.
func (s *Supervisor) Shutdown() error {
	s.mu.Lock()
	kind := s.kind
	cancel := s.cancel
	local := s.local
	remote := s.remote
	s.mu.Unlock()

	if kind == sessionNone {
		return nil
	}

	var err error
	switch kind {
	case sessionLocalSend:
		if local != nil && local.sender != nil {
			err = local.sender.Stop()
		}
	case sessionLocalReceive:
		if local != nil && local.receiver != nil {
			err = local.receiver.Disconnect()
		}
	case sessionRemoteSend, sessionRemoteReceive:
		if remote != nil && remote.channel != nil {
			err = remote.channel.Close()
		}
	}
	if cancel != nil {
		cancel()
	}

	s.release()
	return err
}
