// Copyright 2026 The Remedy Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package api

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/remedyrun/remedy/pkg/filestore"
	"github.com/remedyrun/remedy/pkg/remediation"
)

// ServerConfig configures the boundary HTTP surface (spec §4.12), grounded
// in the teacher's config.PublicAPIConfig.
type ServerConfig struct {
	ListenAddr    string
	MaxACUPerSess int
	Auth          AuthConfig
	AllowedOrigin string
}

// Server owns the *http.Server wrapping the full C12 route set: run upload,
// derived views, review mutation, and Prometheus exposition.
type Server struct {
	cfg    ServerConfig
	logger *slog.Logger
	server *http.Server

	mu sync.RWMutex
	ln net.Listener
}

// New wires Handlers, an UploadHandler, and a PromMetrics instance behind
// the shared Guardrails/WithLogging middleware chain, grounded in the
// teacher's internal/controller/publicapi.Server.
func New(cfg ServerConfig, store *filestore.Store, weights remediation.ServiceWeights, spawn SpawnFunc, metrics *PromMetrics, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}

	handlers := &Handlers{Store: store, MaxACUPerSess: cfg.MaxACUPerSess, Logger: logger}
	upload := &UploadHandler{Store: store, Weights: weights, Spawn: spawn, Logger: logger}
	if metrics == nil {
		metrics = NewPromMetrics()
	}

	guard := GuardrailConfig{Auth: cfg.Auth, RateLimiter: NewRateLimiter(), AllowedOrigin: cfg.AllowedOrigin}

	mux := http.NewServeMux()
	mux.Handle("GET /runs", Guardrails(guard, false, http.HandlerFunc(handlers.ListRuns)))
	mux.Handle("POST /runs", Guardrails(guard, true, upload))
	mux.Handle("GET /runs/{id}", Guardrails(guard, false, http.HandlerFunc(handlers.GetRun)))
	mux.Handle("POST /sessions/{id}/review", Guardrails(guard, false, http.HandlerFunc(handlers.Review)))
	mux.Handle("GET /eval", Guardrails(guard, false, http.HandlerFunc(handlers.Eval)))
	mux.Handle("GET /ops", Guardrails(guard, false, http.HandlerFunc(handlers.Ops)))
	mux.Handle("GET /status", Guardrails(guard, false, http.HandlerFunc(handlers.Status)))
	mux.Handle("GET /metrics", metrics.Handler())

	return &Server{
		cfg:    cfg,
		logger: logger,
		server: &http.Server{
			Handler:      WithLogging(logger, mux),
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 0, // uploads of large CSVs and /metrics scrapes can run long
			IdleTimeout:  60 * time.Second,
		},
	}
}

// Start listens on cfg.ListenAddr and serves until ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.ListenAddr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.cfg.ListenAddr, err)
	}
	s.mu.Lock()
	s.ln = ln
	s.mu.Unlock()

	s.logger.Info("boundary API server starting", "listen_addr", ln.Addr().String())

	errCh := make(chan error, 1)
	go func() {
		if err := s.server.Serve(ln); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		return nil
	case err := <-errCh:
		return err
	}
}

// Shutdown gracefully drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	s.logger.Info("boundary API server shutting down")
	s.server.SetKeepAlivesEnabled(false)
	if err := s.server.Shutdown(ctx); err != nil {
		s.logger.Warn("boundary API server shutdown error", "error", err)
		return err
	}
	s.logger.Info("boundary API server stopped")
	return nil
}

// Addr returns the listener's bound address, or "" before Start.
func (s *Server) Addr() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.ln == nil {
		return ""
	}
	return s.ln.Addr().String()
}
