package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stablewatch/ingest/internal/ingest"
)

type stubRunner struct {
	calls  int
	result ingest.RunResult
	err    error
}

func (s *stubRunner) Run(_ context.Context) (ingest.RunResult, error) {
	s.calls++
	return s.result, s.err
}

func trigger(t *testing.T, srv *Server, secret string) *httptest.ResponseRecorder {
	t.Helper()

	req := httptest.NewRequest(http.MethodPost, "/api/jobs/ingest", nil)
	if secret != "" {
		req.Header.Set("X-Cron-Secret", secret)
	}
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	return rec
}

func TestTriggerRejectsMissingSecret(t *testing.T) {
	t.Parallel()

	runner := &stubRunner{}
	rec := trigger(t, New("s3cret", runner), "")

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}
	if runner.calls != 0 {
		t.Fatal("unauthenticated request must not start a run")
	}

	var body struct {
		OK    bool   `json:"ok"`
		Error string `json:"error"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body.OK || body.Error != "unauthorized" {
		t.Fatalf("unexpected body: %+v", body)
	}
}

func TestTriggerRejectsWrongSecret(t *testing.T) {
	t.Parallel()

	runner := &stubRunner{}
	rec := trigger(t, New("s3cret", runner), "guess")

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}
	if runner.calls != 0 {
		t.Fatal("wrong secret must not start a run")
	}
}

func TestTriggerRejectsAllWhenSecretUnset(t *testing.T) {
	t.Parallel()

	// An empty configured secret closes the endpoint instead of opening it.
	runner := &stubRunner{}
	rec := trigger(t, New("", runner), "anything")

	if rec.Code != http.StatusUnauthorized || runner.calls != 0 {
		t.Fatalf("unset secret must reject: status=%d calls=%d", rec.Code, runner.calls)
	}
}

func TestTriggerRunsIngest(t *testing.T) {
	t.Parallel()

	runner := &stubRunner{result: ingest.RunResult{
		InsertedArticles:    3,
		IssueUpdatesCreated: 2,
		SourcesProcessed:    5,
		StoppedEarly:        true,
	}}
	rec := trigger(t, New("s3cret", runner), "s3cret")

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if runner.calls != 1 {
		t.Fatalf("runner called %d times, want 1", runner.calls)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Fatalf("content type = %q", ct)
	}

	var body struct {
		OK                  bool `json:"ok"`
		InsertedArticles    int  `json:"inserted_articles"`
		IssueUpdatesCreated int  `json:"issue_updates_created"`
		SourcesProcessed    int  `json:"sources_processed"`
		StoppedEarly        bool `json:"stopped_early"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if !body.OK || body.InsertedArticles != 3 || body.IssueUpdatesCreated != 2 ||
		body.SourcesProcessed != 5 || !body.StoppedEarly {
		t.Fatalf("unexpected body: %+v", body)
	}
}

func TestTriggerReportsRunError(t *testing.T) {
	t.Parallel()

	runner := &stubRunner{err: errors.New("list sources: connection refused")}
	rec := trigger(t, New("s3cret", runner), "s3cret")

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", rec.Code)
	}
}

func TestTriggerMethodNotAllowed(t *testing.T) {
	t.Parallel()

	runner := &stubRunner{}
	req := httptest.NewRequest(http.MethodGet, "/api/jobs/ingest", nil)
	req.Header.Set("X-Cron-Secret", "s3cret")
	rec := httptest.NewRecorder()
	New("s3cret", runner).Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusMethodNotAllowed || runner.calls != 0 {
		t.Fatalf("GET must be rejected: status=%d calls=%d", rec.Code, runner.calls)
	}
}

func TestHealthz(t *testing.T) {
	t.Parallel()

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	New("s3cret", &stubRunner{}).Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("healthz status = %d", rec.Code)
	}
}
