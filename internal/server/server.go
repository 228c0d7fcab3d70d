// Package server exposes the ingest trigger endpoint called by the
// external cron scheduler.
package server

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"log"
	"net/http"

	"github.com/stablewatch/ingest/internal/ingest"
)

const secretHeader = "X-Cron-Secret"

// Runner is the ingest entry point the trigger invokes.
type Runner interface {
	Run(ctx context.Context) (ingest.RunResult, error)
}

// Server authenticates trigger requests against a shared secret and
// runs one ingest pass per request.
type Server struct {
	secret string
	runner Runner
}

func New(secret string, runner Runner) *Server {
	return &Server{secret: secret, runner: runner}
}

// Handler returns the HTTP routes: the trigger and a liveness probe.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/jobs/ingest", s.handleIngest)
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	return mux
}

type triggerResponse struct {
	OK bool `json:"ok"`
	ingest.RunResult
}

type errorResponse struct {
	OK    bool   `json:"ok"`
	Error string `json:"error"`
}

// handleIngest rejects unauthenticated callers before any work begins;
// a bad secret has no side effects at all.
func (s *Server) handleIngest(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSON(w, http.StatusMethodNotAllowed, errorResponse{Error: "method_not_allowed"})
		return
	}

	header := r.Header.Get(secretHeader)
	if s.secret == "" || header == "" ||
		subtle.ConstantTimeCompare([]byte(header), []byte(s.secret)) != 1 {
		writeJSON(w, http.StatusUnauthorized, errorResponse{Error: "unauthorized"})
		return
	}

	result, err := s.runner.Run(r.Context())
	if err != nil {
		log.Printf("[ERROR] ingest run failed: %v", err)
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "ingest_error: " + err.Error()})
		return
	}

	writeJSON(w, http.StatusOK, triggerResponse{OK: true, RunResult: result})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		log.Printf("[ERROR] write response: %v", err)
	}
}
