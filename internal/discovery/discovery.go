// Package discovery publishes and browses the filepipe mDNS/DNS-SD service
// Publishing and browsing are small interfaces so the lifecycle
// supervisor can be exercised in tests without a real multicast
// socket; zeroconf.go wires the production implementation to
// github.com/grandcat/zeroconf.
package discovery

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/arjunv/filepipe/pkg/models"
)

// ServiceType is the DNS-SD service type filepipe advertises under.
const ServiceType = "_file-transfer._tcp"

// DefaultWindow is the default duration a Browse call accumulates
// up/down events for before returning its snapshot.
const DefaultWindow = 3 * time.Second

// TXTVersion is the protocol version advertised in the TXT record.
const TXTVersion = "1"

// Handle represents one active mDNS advertisement. Unpublish must be safe
// to call more than once.
type Handle interface {
	Unpublish() error
}

// Publisher advertises a service instance on the local link.
type Publisher interface {
	Publish(instance string, port int, txt map[string]string) (Handle, error)
}

// Browser discovers service instances over a bounded window.
type Browser interface {
	Browse(ctx context.Context, window time.Duration) ([]models.DiscoveredService, error)
}

// Service is the long-lived discovery resource: it publishes at most one
// advertisement at a time (idempotently) and hands out browse snapshots
// on demand.
type Service struct {
	pub    Publisher
	br     Browser
	logger *log.Logger

	mu     sync.Mutex
	handle Handle
}

// New wraps the given Publisher/Browser as the active discovery resource.
// A nil logger falls back to the standard logger.
func New(pub Publisher, br Browser, logger *log.Logger) *Service {
	if logger == nil {
		logger = log.Default()
	}
	return &Service{pub: pub, br: br, logger: logger}
}

// Publish advertises instance on port with TXT keys hostname and version
// (TXTVersion). A second
// call while already published is a no-op that returns the existing
// handle.
func (s *Service) Publish(instance string, port int, hostname string) (Handle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.handle != nil {
		return s.handle, nil
	}

	txt := map[string]string{
		"hostname": hostname,
		"version":  TXTVersion,
	}
	h, err := s.pub.Publish(instance, port, txt)
	if err != nil {
		return nil, err
	}
	s.handle = h
	return h, nil
}

// Unpublish releases the current advertisement, if any. Safe to call
// during lifecycle shutdown or when nothing is published.
func (s *Service) Unpublish() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.handle == nil {
		return nil
	}
	err := s.handle.Unpublish()
	s.handle = nil
	return err
}

// IsPublishing reports whether an advertisement is currently active.
func (s *Service) IsPublishing() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.handle != nil
}

// Browse discovers peers advertising ServiceType for window (DefaultWindow
// if zero), returning the set accumulated when the window elapses or ctx
// is cancelled. Browser failures are best-effort and never propagate as a
// failure of the whole call.
func (s *Service) Browse(ctx context.Context, window time.Duration) []models.DiscoveredService {
	if window <= 0 {
		window = DefaultWindow
	}
	result, err := s.br.Browse(ctx, window)
	if err != nil {
		s.logger.Printf("discovery: browse error (returning partial set): %v", err)
	}
	return result
}
