// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package monitor serves the local status page API: the latest flow sample,
// pipeline counters, the last visualized frame and a websocket sample stream.
package monitor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"image/png"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/relabs-tech/flowberry/internal/imv"
	"github.com/relabs-tech/flowberry/internal/pipeline"
	"github.com/relabs-tech/flowberry/internal/telemetry"
)

const clientBuffer = 8

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // served on the vehicle LAN only
	},
}

// StatsFunc returns the current pipeline counters.
type StatsFunc func() pipeline.Stats

// Server holds the latest state published by the pipeline and serves it.
type Server struct {
	stats StatsFunc

	mu      sync.RWMutex
	latest  telemetry.FlowSample
	have    bool
	frame   *image.Gray
	clients map[chan telemetry.FlowSample]struct{}

	srv *http.Server
}

// New returns a Server listening on addr once ListenAndServe is called.
// stats may be nil.
func New(addr string, stats StatsFunc) *Server {
	s := &Server{
		stats:   stats,
		clients: make(map[chan telemetry.FlowSample]struct{}),
	}
	s.srv = &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

// Handler returns the route table.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/flow", s.handleFlow)
	mux.HandleFunc("/api/stats", s.handleStats)
	mux.HandleFunc("/api/frame.png", s.handleFrame)
	mux.HandleFunc("/ws/flow", s.handleStream)
	mux.Handle("/", http.FileServer(http.Dir("web")))
	return mux
}

// ListenAndServe blocks until the server is shut down.
func (s *Server) ListenAndServe() error {
	log.Printf("monitor: web server listening on %s", s.srv.Addr)
	if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("monitor: %w", err)
	}
	return nil
}

// Shutdown stops the listener and closes every stream.
func (s *Server) Shutdown(ctx context.Context) error {
	err := s.srv.Shutdown(ctx)
	s.mu.Lock()
	for ch := range s.clients {
		close(ch)
		delete(s.clients, ch)
	}
	s.mu.Unlock()
	return err
}

// PublishFlow stores sample and forwards it to connected streams. Slow
// clients miss samples rather than stall the pipeline.
func (s *Server) PublishFlow(sample telemetry.FlowSample) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.latest = sample
	s.have = true
	for ch := range s.clients {
		select {
		case ch <- sample:
		default:
		}
	}
}

// Show renders the frame with the field's vectors for /api/frame.png.
func (s *Server) Show(frame *pipeline.Frame, field *imv.Field, _ pipeline.Output) {
	img := Render(frame, field)
	if img == nil {
		return
	}
	s.mu.Lock()
	s.frame = img
	s.mu.Unlock()
}

// Clients returns the number of open streams.
func (s *Server) Clients() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.clients)
}

func (s *Server) handleFlow(w http.ResponseWriter, _ *http.Request) {
	s.mu.RLock()
	sample, have := s.latest, s.have
	s.mu.RUnlock()
	if !have {
		http.Error(w, "no data yet", http.StatusServiceUnavailable)
		return
	}
	writeJSON(w, sample)
}

func (s *Server) handleStats(w http.ResponseWriter, _ *http.Request) {
	if s.stats == nil {
		http.Error(w, "pipeline not running", http.StatusServiceUnavailable)
		return
	}
	stats := s.stats()
	writeJSON(w, map[string]any{
		"processed":       stats.Processed,
		"skipped":         stats.Skipped,
		"pending_vectors": stats.PendingVectors,
		"pending_frames":  stats.PendingFrames,
		"initialized":     stats.Initialized,
		"clients":         s.Clients(),
	})
}

func (s *Server) handleFrame(w http.ResponseWriter, _ *http.Request) {
	s.mu.RLock()
	img := s.frame
	s.mu.RUnlock()
	if img == nil {
		http.Error(w, "no frame yet", http.StatusServiceUnavailable)
		return
	}
	w.Header().Set("Content-Type", "image/png")
	if err := png.Encode(w, img); err != nil {
		log.Printf("monitor: png encode error: %v", err)
	}
}

func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("monitor: websocket upgrade error: %v", err)
		return
	}
	defer conn.Close()

	ch := make(chan telemetry.FlowSample, clientBuffer)
	s.mu.Lock()
	s.clients[ch] = struct{}{}
	s.mu.Unlock()
	defer s.unsubscribe(ch)

	// The reader only notices the peer going away.
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-gone:
			return
		case sample, ok := <-ch:
			if !ok {
				_ = conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutdown"))
				return
			}
			if err := conn.WriteJSON(sample); err != nil {
				log.Printf("monitor: websocket write error: %v", err)
				return
			}
		}
	}
}

func (s *Server) unsubscribe(ch chan telemetry.FlowSample) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.clients[ch]; ok {
		delete(s.clients, ch)
		close(ch)
	}
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("monitor: json encode error: %v", err)
	}
}
