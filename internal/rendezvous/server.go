// Package rendezvous is a development-only reference implementation of
// an external peer-rendezvous collaborator for remote mode: something
// that lets two processes behind NAT find each other and exchange
// messages reliably and in order. Pairing peers over the public internet
// is out of scope for the core engine, so this package exists to give
// internal/remotexfer's Channel contract a real implementation to dial
// in demos and integration tests.
package rendezvous

import (
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"sync"
	"time"
)

// room is a pairing of two peers exchanging messages by role ("a"/"b").
// Each role has an inbound mailbox fed by the other role's sends.
type room struct {
	mu       sync.Mutex
	mailbox  map[string]chan []byte
	occupied map[string]bool
	closed   bool
}

func newRoom() *room {
	return &room{
		mailbox:  map[string]chan []byte{"a": make(chan []byte, 256), "b": make(chan []byte, 256)},
		occupied: map[string]bool{},
	}
}

// otherRole returns the mailbox a message sent by role should land in.
func otherRole(role string) string {
	if role == "a" {
		return "b"
	}
	return "a"
}

// Server is the HTTP rendezvous service: pair, send, recv, close.
type Server struct {
	logger *log.Logger

	mu    sync.Mutex
	rooms map[string]*room
}

// NewServer constructs a rendezvous Server. A nil logger falls back to
// the standard logger.
func NewServer(logger *log.Logger) *Server {
	if logger == nil {
		logger = log.Default()
	}
	return &Server{logger: logger, rooms: make(map[string]*room)}
}

// RegisterRoutes wires the rendezvous HTTP API onto mux.
func (s *Server) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/api/v1/pair", s.handlePair)
	mux.HandleFunc("/api/v1/room/send", s.handleSend)
	mux.HandleFunc("/api/v1/room/recv", s.handleRecv)
	mux.HandleFunc("/api/v1/room/close", s.handleClose)
}

func (s *Server) roomFor(code string) *room {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.rooms[code]
	if !ok {
		r = newRoom()
		s.rooms[code] = r
	}
	return r
}

type pairRequest struct {
	Code string `json:"code"`
}

type pairResponse struct {
	Role string `json:"role"`
}

// handlePair assigns the caller role "a" if it's the first to arrive for
// code, else "b". A third caller for the same code is rejected.
func (s *Server) handlePair(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var req pairRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Code == "" {
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	rm := s.roomFor(req.Code)
	rm.mu.Lock()
	defer rm.mu.Unlock()

	role := ""
	if !rm.occupied["a"] {
		role = "a"
	} else if !rm.occupied["b"] {
		role = "b"
	} else {
		w.WriteHeader(http.StatusConflict)
		return
	}
	rm.occupied[role] = true

	writeJSON(w, http.StatusOK, pairResponse{Role: role})
}

func (s *Server) handleSend(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	code := r.URL.Query().Get("code")
	role := r.URL.Query().Get("role")
	if code == "" || (role != "a" && role != "b") {
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	rm := s.roomFor(code)
	rm.mu.Lock()
	closed := rm.closed
	rm.mu.Unlock()
	if closed {
		w.WriteHeader(http.StatusGone)
		return
	}

	select {
	case rm.mailbox[otherRole(role)] <- body:
		w.WriteHeader(http.StatusOK)
	default:
		w.WriteHeader(http.StatusServiceUnavailable)
	}
}

func (s *Server) handleRecv(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	code := r.URL.Query().Get("code")
	role := r.URL.Query().Get("role")
	if code == "" || (role != "a" && role != "b") {
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	rm := s.roomFor(code)
	select {
	case msg := <-rm.mailbox[role]:
		w.Header().Set("Content-Type", "application/octet-stream")
		w.WriteHeader(http.StatusOK)
		w.Write(msg)
	case <-time.After(25 * time.Second):
		w.WriteHeader(http.StatusNoContent)
	case <-r.Context().Done():
	}
}

func (s *Server) handleClose(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	code := r.URL.Query().Get("code")
	if code == "" {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	s.mu.Lock()
	rm, ok := s.rooms[code]
	delete(s.rooms, code)
	s.mu.Unlock()
	if ok {
		rm.mu.Lock()
		rm.closed = true
		rm.mu.Unlock()
	}
	w.WriteHeader(http.StatusOK)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		fmt.Fprintf(w, "encode error: %v", err)
	}
}
