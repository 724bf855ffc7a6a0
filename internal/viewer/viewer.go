// Package viewer receives a frame stream over websocket and hands each
// frame to a renderer. One producer may be attached at a time.
package viewer

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"vdstream/internal/grid"
	"vdstream/internal/logger"
	"vdstream/internal/render"
	"vdstream/internal/stats"
	"vdstream/internal/wire"
)

// Status is the snapshot reported by the stats endpoint.
type Status struct {
	ProducerConnected bool   `json:"producer_connected"`
	FramesReceived    uint64 `json:"frames_received"`
	FramesDropped     uint64 `json:"frames_dropped"`
	BytesReceived     uint64 `json:"bytes_received"`
	StreamWidth       int    `json:"stream_width"`
	StreamHeight      int    `json:"stream_height"`
}

// Server accepts one producer connection and renders its frames.
type Server struct {
	router   *mux.Router
	renderer render.Renderer
	upgrader websocket.Upgrader
	log      *zerolog.Logger

	frameProf *stats.PeriodProfiler

	mu     sync.Mutex
	status Status
}

// NewServer creates a viewer server rendering through r.
func NewServer(r render.Renderer) *Server {
	log := logger.WithComponent("viewer")
	s := &Server{
		router:   mux.NewRouter(),
		renderer: r,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
		log:       log,
		frameProf: stats.NewPeriodProfiler("frame", log, stats.DefaultWindow),
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.router.HandleFunc("/session", s.handleSession)
	api := s.router.PathPrefix("/api").Subrouter()
	api.HandleFunc("/stats", s.handleStats).Methods("GET")
	api.HandleFunc("/health", s.handleHealth).Methods("GET")
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start serves until the listener fails.
func (s *Server) Start(port int) error {
	addr := fmt.Sprintf(":%d", port)
	s.log.Info().Str("addr", addr).Msg("Viewer listening")
	return http.ListenAndServe(addr, s.router)
}

// handleSession attaches a producer. A second concurrent producer is
// rejected before the websocket upgrade.
func (s *Server) handleSession(w http.ResponseWriter, r *http.Request) {
	if !s.attach() {
		http.Error(w, "producer already connected", http.StatusConflict)
		return
	}
	defer s.detach()

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn().Err(err).Msg("Websocket upgrade failed")
		return
	}
	defer conn.Close()

	s.log.Info().Str("remote", r.RemoteAddr).Msg("Producer connected")
	s.readFrames(conn)
	s.log.Info().Str("remote", r.RemoteAddr).Msg("Producer disconnected")
}

// readFrames consumes frames until the connection drops. A frame that fails
// to decode or render is counted and skipped; the stream stays up.
func (s *Server) readFrames(conn *websocket.Conn) {
	for {
		kind, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		if kind != websocket.BinaryMessage {
			s.drop("non-binary message", nil)
			continue
		}

		frame, err := wire.Decode(data)
		if err != nil {
			s.drop("undecodable frame", err)
			continue
		}

		if err := s.renderer.Draw(frame); err != nil {
			s.drop("render failed", err)
			continue
		}
		s.frameProf.Mark()
		s.recordFrame(len(data), frame.Geometry())
	}
}

func (s *Server) attach() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status.ProducerConnected {
		return false
	}
	s.status.ProducerConnected = true
	return true
}

func (s *Server) detach() {
	s.mu.Lock()
	s.status.ProducerConnected = false
	s.mu.Unlock()
}

func (s *Server) recordFrame(n int, g grid.Geometry) {
	s.mu.Lock()
	s.status.FramesReceived++
	s.status.BytesReceived += uint64(n)
	s.status.StreamWidth = g.Width
	s.status.StreamHeight = g.Height
	s.mu.Unlock()
}

func (s *Server) drop(reason string, err error) {
	s.mu.Lock()
	s.status.FramesDropped++
	s.mu.Unlock()
	s.log.Warn().Err(err).Str("reason", reason).Msg("Frame dropped")
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	status := s.status
	s.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(status)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{
		"status": "healthy",
		"time":   time.Now().UTC().Format(time.RFC3339),
	})
}
