// Package ingest receives RTP packets over websockets, one connection per
// participant stream.
package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/channel-io/go-voicesync/pkg/drift"
	"github.com/channel-io/go-voicesync/pkg/session"
	"github.com/channel-io/go-voicesync/pkg/store"
)

var log = logrus.WithField("component", "ingest")

const maxPacketSize = 1500

// Server exposes the session registry over HTTP:
//
//	POST   /sessions                       start a session
//	DELETE /sessions/{id}                  stop a session
//	GET    /sessions/{id}/stream?participant=ID  websocket of binary RTP packets
type Server struct {
	registry *session.Registry
	upgrader websocket.Upgrader
	mux      *http.ServeMux

	mu         sync.Mutex
	httpServer *http.Server
	conns      map[*websocket.Conn]struct{}
	closed     bool
	wg         sync.WaitGroup
}

func NewServer(registry *session.Registry) *Server {
	s := &Server{
		registry: registry,
		upgrader: websocket.Upgrader{
			ReadBufferSize: maxPacketSize,
			CheckOrigin:    func(*http.Request) bool { return true },
		},
		mux:   http.NewServeMux(),
		conns: map[*websocket.Conn]struct{}{},
	}
	s.mux.HandleFunc("POST /sessions", s.handleStart)
	s.mux.HandleFunc("DELETE /sessions/{id}", s.handleStop)
	s.mux.HandleFunc("GET /sessions/{id}/stream", s.handleStream)
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

// Serve accepts connections on l until Shutdown is called.
func (s *Server) Serve(l net.Listener) error {
	s.mu.Lock()
	s.httpServer = &http.Server{Handler: s.mux, ReadHeaderTimeout: 10 * time.Second}
	srv := s.httpServer
	s.mu.Unlock()

	log.WithField("addr", l.Addr().String()).Info("Ingest server listening")
	if err := srv.Serve(l); !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops accepting connections, closes open streams and waits for
// their handlers to return.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	srv := s.httpServer
	s.closed = true
	for c := range s.conns {
		c.Close()
	}
	s.mu.Unlock()

	var err error
	if srv != nil {
		err = srv.Shutdown(ctx)
	}
	s.wg.Wait()
	return err
}

type startResponse struct {
	SessionID string `json:"session_id"`
	Dir       string `json:"dir"`
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	var meta store.SessionMetadata
	if err := json.NewDecoder(r.Body).Decode(&meta); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	c, err := s.registry.Start(r.Context(), meta)
	if errors.Is(err, session.ErrSessionExists) {
		http.Error(w, err.Error(), http.StatusConflict)
		return
	}
	if err != nil {
		log.WithError(err).Error("Failed to start session")
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusCreated, startResponse{SessionID: c.ID(), Dir: c.Metadata().Dir})
}

type trackResult struct {
	UserID     string  `json:"user_id"`
	File       string  `json:"file"`
	DriftMs    float64 `json:"drift_ms"`
	Confidence float64 `json:"confidence"`
	Corrected  bool    `json:"corrected"`
	Error      string  `json:"error,omitempty"`
}

func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	results, err := s.registry.Stop(r.Context(), r.PathValue("id"))
	if errors.Is(err, session.ErrSessionNotFound) {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, toTrackResults(results))
}

func toTrackResults(results []drift.Result) []trackResult {
	out := make([]trackResult, 0, len(results))
	for _, res := range results {
		tr := trackResult{
			UserID:     res.Metadata.UserID,
			File:       res.File,
			DriftMs:    res.Info.DriftMs,
			Confidence: res.Info.Confidence,
			Corrected:  res.Corrected,
		}
		if res.Err != nil {
			tr.Error = res.Err.Error()
		}
		out = append(out, tr)
	}
	return out
}

func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	c, err := s.registry.Get(r.PathValue("id"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	participant := r.URL.Query().Get("participant")
	if participant == "" {
		http.Error(w, "participant is required", http.StatusBadRequest)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.WithError(err).Warn("WebSocket upgrade failed")
		return
	}
	if !s.track(conn) {
		conn.Close()
		return
	}
	defer s.untrack(conn)

	s.readPackets(conn, c, participant)
}

func (s *Server) track(conn *websocket.Conn) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.conns[conn] = struct{}{}
	s.wg.Add(1)
	return true
}

func (s *Server) untrack(conn *websocket.Conn) {
	s.mu.Lock()
	delete(s.conns, conn)
	s.mu.Unlock()
	conn.Close()
	s.wg.Done()
}

func (s *Server) readPackets(conn *websocket.Conn, c *session.Coordinator, participant string) {
	fields := logrus.Fields{"session_id": c.ID(), "user_id": participant}
	log.WithFields(fields).Info("Participant stream opened")
	defer c.EndStream(participant)

	conn.SetReadLimit(maxPacketSize)
	for {
		kind, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.WithFields(fields).WithError(err).Warn("Participant stream closed unexpectedly")
			}
			return
		}
		if kind != websocket.BinaryMessage {
			continue
		}
		// malformed packets are counted and logged by the coordinator
		_ = c.HandlePacket(participant, data, time.Now())
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.WithError(err).Warn("Failed to write response")
	}
}
