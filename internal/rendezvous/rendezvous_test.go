package rendezvous

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func newTestServer() *httptest.Server {
	mux := http.NewServeMux()
	NewServer(nil).RegisterRoutes(mux)
	return httptest.NewServer(mux)
}

func TestPairAssignsDistinctRoles(t *testing.T) {
	srv := newTestServer()
	defer srv.Close()

	a := NewClient(srv.URL)
	b := NewClient(srv.URL)

	if err := a.Pair(context.Background(), "room-1"); err != nil {
		t.Fatalf("pair a: %v", err)
	}
	if err := b.Pair(context.Background(), "room-1"); err != nil {
		t.Fatalf("pair b: %v", err)
	}
	if a.role == b.role {
		t.Fatalf("expected distinct roles, both got %q", a.role)
	}

	c := NewClient(srv.URL)
	if err := c.Pair(context.Background(), "room-1"); err == nil {
		t.Fatal("expected third pairing for the same room to fail")
	}
}

func TestSendRecvRoundTrip(t *testing.T) {
	srv := newTestServer()
	defer srv.Close()

	a := NewClient(srv.URL)
	b := NewClient(srv.URL)
	if err := a.Pair(context.Background(), "room-2"); err != nil {
		t.Fatalf("pair a: %v", err)
	}
	if err := b.Pair(context.Background(), "room-2"); err != nil {
		t.Fatalf("pair b: %v", err)
	}

	want := []byte("hello from a")
	if err := a.Send(context.Background(), want); err != nil {
		t.Fatalf("send: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	got, err := b.Recv(ctx)
	if err != nil {
		t.Fatalf("recv: %v", err)
	}
	if !bytes.Equal(got, want) {
		t.Fatalf("got %q, want %q", got, want)
	}
}
