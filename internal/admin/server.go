// Copyright (C) 2022 NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package admin implements the engine's operational HTTP endpoint:
// liveness, Prometheus metrics, and a JSON snapshot of every live post.
package admin

import (
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/lonelywolf1981/bench-acquisition/internal/capture"
	"github.com/lonelywolf1981/bench-acquisition/internal/coordinator"
	"github.com/lonelywolf1981/bench-acquisition/internal/decoder"
	"github.com/lonelywolf1981/bench-acquisition/internal/writer"
	"github.com/lonelywolf1981/bench-acquisition/pkg/log"
)

// SnapshotSource is the subset of the engine the Server reports on.
type SnapshotSource struct {
	Capture     *capture.Client
	Decoder     *decoder.Decoder
	Coordinator *coordinator.Coordinator
	Writer      *writer.Writer
}

// snapshotResponse is the JSON body served by GET /snapshot.
type snapshotResponse struct {
	Capture     capture.Stats          `json:"capture"`
	Decoder     decoder.Stats          `json:"decoder"`
	Writer      writer.Stats           `json:"writer"`
	Posts       []coordinator.Snapshot `json:"posts"`
	GeneratedAt time.Time              `json:"generated_at"`
}

// Server wraps the gorilla/mux router exposing /healthz, /metrics and
// /snapshot on a single listen address.
type Server struct {
	addr   string
	src    SnapshotSource
	router *mux.Router
	srv    *http.Server
	now    func() time.Time
}

// New builds an admin Server bound to addr (e.g. ":8090"). now defaults to
// time.Now; tests may override it.
func New(addr string, src SnapshotSource) *Server {
	s := &Server{addr: addr, src: src, router: mux.NewRouter(), now: time.Now}
	s.router.HandleFunc("/healthz", s.handleHealthz).Methods(http.MethodGet)
	s.router.HandleFunc("/snapshot", s.handleSnapshot).Methods(http.MethodGet)
	s.router.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)
	return s
}

func (s *Server) handleHealthz(rw http.ResponseWriter, r *http.Request) {
	rw.Header().Set("Content-Type", "text/plain; charset=utf-8")
	rw.WriteHeader(http.StatusOK)
	io.WriteString(rw, "ok\n")
}

func (s *Server) handleSnapshot(rw http.ResponseWriter, r *http.Request) {
	resp := snapshotResponse{GeneratedAt: s.now()}
	if s.src.Capture != nil {
		resp.Capture = s.src.Capture.Stats()
	}
	if s.src.Decoder != nil {
		resp.Decoder = s.src.Decoder.Stats()
	}
	if s.src.Writer != nil {
		resp.Writer = s.src.Writer.Stats()
	}
	if s.src.Coordinator != nil {
		resp.Posts = s.src.Coordinator.Snapshot()
	}

	rw.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(rw).Encode(resp); err != nil {
		log.Errorf("admin: encode snapshot: %v", err)
	}
}

// Handler returns the fully wrapped http.Handler (compression + CORS),
// useful for tests that don't need a live listener.
func (s *Server) Handler() http.Handler {
	h := handlers.CompressHandler(s.router)
	return handlers.CORS(
		handlers.AllowedMethods([]string{http.MethodGet}),
		handlers.AllowedOrigins([]string{"*"}),
	)(h)
}

// ListenAndServe starts the HTTP server and blocks until Shutdown is
// called or the server fails to bind.
func (s *Server) ListenAndServe() error {
	s.srv = &http.Server{
		Addr:         s.addr,
		Handler:      s.Handler(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
	log.Infof("admin: listening on %s", s.addr)
	err := s.srv.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown() error {
	if s.srv == nil {
		return nil
	}
	return s.srv.Close()
}
