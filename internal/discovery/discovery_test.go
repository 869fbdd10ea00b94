package discovery

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/arjunv/filepipe/pkg/models"
)

type fakeHandle struct {
	unpublished int
}

func (h *fakeHandle) Unpublish() error {
	h.unpublished++
	return nil
}

type fakePublisher struct {
	calls int
	last  map[string]string
}

func (p *fakePublisher) Publish(instance string, port int, txt map[string]string) (Handle, error) {
	p.calls++
	p.last = txt
	return &fakeHandle{}, nil
}

type fakeBrowser struct {
	result []models.DiscoveredService
	err    error
}

func (b *fakeBrowser) Browse(ctx context.Context, window time.Duration) ([]models.DiscoveredService, error) {
	return b.result, b.err
}

func TestPublishIsIdempotent(t *testing.T) {
	pub := &fakePublisher{}
	svc := New(pub, &fakeBrowser{}, nil)

	h1, err := svc.Publish("host-a", 9000, "host-a")
	if err != nil {
		t.Fatalf("Publish: %v", err)
	}
	h2, err := svc.Publish("host-a", 9000, "host-a")
	if err != nil {
		t.Fatalf("second Publish: %v", err)
	}
	if h1 != h2 {
		t.Fatalf("expected idempotent Publish to return the same handle")
	}
	if pub.calls != 1 {
		t.Fatalf("expected exactly one underlying publish call, got %d", pub.calls)
	}
	if !svc.IsPublishing() {
		t.Fatalf("expected IsPublishing() to be true after Publish")
	}
}

func TestUnpublishIsSafeWhenIdle(t *testing.T) {
	svc := New(&fakePublisher{}, &fakeBrowser{}, nil)
	if err := svc.Unpublish(); err != nil {
		t.Fatalf("Unpublish on idle service: %v", err)
	}
	if err := svc.Unpublish(); err != nil {
		t.Fatalf("second Unpublish on idle service: %v", err)
	}
}

func TestUnpublishClearsPublishingState(t *testing.T) {
	pub := &fakePublisher{}
	svc := New(pub, &fakeBrowser{}, nil)
	if _, err := svc.Publish("host-a", 9000, "host-a"); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if err := svc.Unpublish(); err != nil {
		t.Fatalf("Unpublish: %v", err)
	}
	if svc.IsPublishing() {
		t.Fatalf("expected IsPublishing() false after Unpublish")
	}
	// Re-publish should go through the publisher again, not return a stale handle.
	if _, err := svc.Publish("host-a", 9000, "host-a"); err != nil {
		t.Fatalf("re-Publish: %v", err)
	}
	if pub.calls != 2 {
		t.Fatalf("expected 2 underlying publish calls across publish/unpublish/publish, got %d", pub.calls)
	}
}

func TestBrowseReturnsPartialSetOnError(t *testing.T) {
	want := []models.DiscoveredService{{Name: "peer-1", Port: 5000}}
	br := &fakeBrowser{result: want, err: errors.New("mdns socket hiccup")}
	svc := New(&fakePublisher{}, br, nil)

	got := svc.Browse(context.Background(), time.Millisecond)
	if len(got) != 1 || got[0].Name != "peer-1" {
		t.Fatalf("expected best-effort partial set despite browse error, got %+v", got)
	}
}
