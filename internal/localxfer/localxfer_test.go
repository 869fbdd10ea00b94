package localxfer

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/arjunv/filepipe/internal/discovery"
	"github.com/arjunv/filepipe/pkg/models"
)

type fakeHandle struct{ unpublished int }

func (h *fakeHandle) Unpublish() error { h.unpublished++; return nil }

type fakePublisher struct{}

func (p *fakePublisher) Publish(instance string, port int, txt map[string]string) (discovery.Handle, error) {
	return &fakeHandle{}, nil
}

type fakeBrowser struct{}

func (fakeBrowser) Browse(ctx context.Context, window time.Duration) ([]models.DiscoveredService, error) {
	return nil, nil
}

func newTestPair(t *testing.T, saveDir string) (*Sender, *Receiver) {
	t.Helper()
	disc := discovery.New(&fakePublisher{}, fakeBrowser{}, nil)
	sender := NewSender(Config{Port: 0, ProgressInterval: 5 * time.Millisecond, SettleDelay: time.Millisecond}, disc, nil, "test-sender")
	receiver := NewReceiver(Config{ProgressInterval: 5 * time.Millisecond}, nil, saveDir)
	return sender, receiver
}

func drainEvents(ch <-chan models.Event, kind models.EventKind, timeout time.Duration) (models.Event, bool) {
	deadline := time.After(timeout)
	for {
		select {
		case ev := <-ch:
			if ev.Kind == kind {
				return ev, true
			}
		case <-deadline:
			return models.Event{}, false
		}
	}
}

func TestSendReceiveByteExactRoundTrip(t *testing.T) {
	tmp := t.TempDir()
	srcPath := filepath.Join(tmp, "payload.bin")
	content := bytes.Repeat([]byte{0xAB, 0xCD, 0xEF, 0x01}, 50000) // > one chunk
	if err := os.WriteFile(srcPath, content, 0o644); err != nil {
		t.Fatal(err)
	}
	saveDir := t.TempDir()

	sender, receiver := newTestPair(t, saveDir)
	info, err := sender.Start(context.Background())
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer sender.Stop()

	if err := receiver.Connect(context.Background(), "127.0.0.1", info.Port, info.Code); err != nil {
		t.Fatalf("Connect: %v", err)
	}

	// Sender's accept loop authenticates asynchronously; wait for it.
	deadline := time.Now().Add(2 * time.Second)
	for !sender.HasAuthenticatedPeer() {
		if time.Now().After(deadline) {
			t.Fatal("sender never saw authenticated peer")
		}
		time.Sleep(time.Millisecond)
	}

	if err := sender.SendFiles(context.Background(), []string{srcPath}); err != nil {
		t.Fatalf("SendFiles: %v", err)
	}

	if _, ok := drainEvents(receiver.Events(), models.EventFileReceived, 2*time.Second); !ok {
		t.Fatal("receiver never emitted file-received")
	}

	got, err := os.ReadFile(filepath.Join(saveDir, "payload.bin"))
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if !bytes.Equal(got, content) {
		t.Fatalf("byte mismatch: got %d bytes, want %d", len(got), len(content))
	}
}

func TestSendReceiveZeroByteFile(t *testing.T) {
	tmp := t.TempDir()
	srcPath := filepath.Join(tmp, "empty.txt")
	if err := os.WriteFile(srcPath, nil, 0o644); err != nil {
		t.Fatal(err)
	}
	saveDir := t.TempDir()

	sender, receiver := newTestPair(t, saveDir)
	info, err := sender.Start(context.Background())
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer sender.Stop()

	if err := receiver.Connect(context.Background(), "127.0.0.1", info.Port, info.Code); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	deadline := time.Now().Add(2 * time.Second)
	for !sender.HasAuthenticatedPeer() {
		if time.Now().After(deadline) {
			t.Fatal("sender never saw authenticated peer")
		}
		time.Sleep(time.Millisecond)
	}

	if err := sender.SendFiles(context.Background(), []string{srcPath}); err != nil {
		t.Fatalf("SendFiles: %v", err)
	}
	if _, ok := drainEvents(receiver.Events(), models.EventFileReceived, 2*time.Second); !ok {
		t.Fatal("receiver never emitted file-received for empty file")
	}

	info2, err := os.Stat(filepath.Join(saveDir, "empty.txt"))
	if err != nil {
		t.Fatalf("Stat: %v", err)
	}
	if info2.Size() != 0 {
		t.Fatalf("expected 0-byte file, got %d", info2.Size())
	}
}

func TestSendMultipleFilesOrderedAndComplete(t *testing.T) {
	tmp := t.TempDir()
	names := []string{"a.txt", "b.txt", "c.txt"}
	sizes := []int{10, 200_000, 500}
	var paths []string
	for i, n := range names {
		p := filepath.Join(tmp, n)
		if err := os.WriteFile(p, bytes.Repeat([]byte{byte(i + 1)}, sizes[i]), 0o644); err != nil {
			t.Fatal(err)
		}
		paths = append(paths, p)
	}
	saveDir := t.TempDir()

	sender, receiver := newTestPair(t, saveDir)
	info, err := sender.Start(context.Background())
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer sender.Stop()

	if err := receiver.Connect(context.Background(), "127.0.0.1", info.Port, info.Code); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	deadline := time.Now().Add(2 * time.Second)
	for !sender.HasAuthenticatedPeer() {
		if time.Now().After(deadline) {
			t.Fatal("sender never saw authenticated peer")
		}
		time.Sleep(time.Millisecond)
	}

	received := make(chan string, len(names))
	go func() {
		for ev := range receiver.Events() {
			if ev.Kind == models.EventFileReceived {
				received <- ev.FileName
			}
		}
	}()

	if err := sender.SendFiles(context.Background(), paths); err != nil {
		t.Fatalf("SendFiles: %v", err)
	}

	for i, want := range names {
		select {
		case got := <-received:
			if got != want {
				t.Fatalf("file %d: got %q, want %q (ordering violated)", i, got, want)
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for file %d (%s)", i, want)
		}
	}

	for i, want := range names {
		gotBytes, err := os.ReadFile(filepath.Join(saveDir, want))
		if err != nil {
			t.Fatalf("ReadFile %s: %v", want, err)
		}
		if len(gotBytes) != sizes[i] {
			t.Fatalf("file %s: got %d bytes, want %d", want, len(gotBytes), sizes[i])
		}
	}
}

func TestResolveCollisionFreeName(t *testing.T) {
	dir := t.TempDir()
	first, err := resolveCollisionFreeName(dir, "report.pdf")
	if err != nil {
		t.Fatal(err)
	}
	if filepath.Base(first) != "report.pdf" {
		t.Fatalf("expected first save to be bare name, got %s", first)
	}
	if err := os.WriteFile(first, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}

	second, err := resolveCollisionFreeName(dir, "report.pdf")
	if err != nil {
		t.Fatal(err)
	}
	if filepath.Base(second) != "report (1).pdf" {
		t.Fatalf("expected collision name 'report (1).pdf', got %s", filepath.Base(second))
	}
	if err := os.WriteFile(second, []byte("y"), 0o644); err != nil {
		t.Fatal(err)
	}

	third, err := resolveCollisionFreeName(dir, "report.pdf")
	if err != nil {
		t.Fatal(err)
	}
	if filepath.Base(third) != "report (2).pdf" {
		t.Fatalf("expected collision name 'report (2).pdf', got %s", filepath.Base(third))
	}
}

func TestReceiverDisconnectDuringTransferNotifiesSender(t *testing.T) {
	tmp := t.TempDir()
	srcPath := filepath.Join(tmp, "big.bin")
	if err := os.WriteFile(srcPath, bytes.Repeat([]byte{1}, 5_000_000), 0o644); err != nil {
		t.Fatal(err)
	}
	saveDir := t.TempDir()

	sender, receiver := newTestPair(t, saveDir)
	info, err := sender.Start(context.Background())
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer sender.Stop()

	if err := receiver.Connect(context.Background(), "127.0.0.1", info.Port, info.Code); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	deadline := time.Now().Add(2 * time.Second)
	for !sender.HasAuthenticatedPeer() {
		if time.Now().After(deadline) {
			t.Fatal("sender never saw authenticated peer")
		}
		time.Sleep(time.Millisecond)
	}

	go sender.SendFiles(context.Background(), []string{srcPath})
	time.Sleep(5 * time.Millisecond)
	if err := receiver.Disconnect(); err != nil {
		t.Fatalf("Disconnect: %v", err)
	}

	if _, ok := drainEvents(sender.Events(), models.EventConnectionLost, 2*time.Second); !ok {
		t.Fatal("sender never emitted connection-lost after receiver disconnect")
	}
}
