package api

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/remedyrun/remedy/pkg/filestore"
	"github.com/remedyrun/remedy/pkg/remediation"
)

func seedRun(t *testing.T, store *filestore.Store, runID string) *remediation.BatchRun {
	t.Helper()
	session := &remediation.RemediationSession{
		SessionID: "sess-1",
		Finding:   remediation.Finding{ID: "f-1", Category: remediation.CategorySQLInjection},
		State:     remediation.StateWorking,
		CreatedAt: time.Now(),
	}
	run := &remediation.BatchRun{
		RunID:         runID,
		StartedAt:     time.Now(),
		Status:        remediation.RunStatusRunning,
		TotalFindings: 1,
		Waves:         []*remediation.Wave{{Number: 1, Status: remediation.WaveStatusRunning, Sessions: []*remediation.RemediationSession{session}}},
	}
	require.NoError(t, store.Persist(run, "findings.csv"))
	return run
}

func mux(h *Handlers) http.Handler {
	m := http.NewServeMux()
	m.HandleFunc("GET /runs", h.ListRuns)
	m.HandleFunc("GET /runs/{id}", h.GetRun)
	m.HandleFunc("POST /sessions/{id}/review", h.Review)
	return m
}

func TestListRuns_EmptyIndexReturnsEmptyArray(t *testing.T) {
	store := filestore.New(t.TempDir())
	h := &Handlers{Store: store}

	req := httptest.NewRequest(http.MethodGet, "/runs", nil)
	rec := httptest.NewRecorder()
	mux(h).ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `[]`, rec.Body.String())
}

func TestGetRun_RejectsMalformedID(t *testing.T) {
	store := filestore.New(t.TempDir())
	h := &Handlers{Store: store}

	req := httptest.NewRequest(http.MethodGet, "/runs/not$valid", nil)
	rec := httptest.NewRecorder()
	mux(h).ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGetRun_NotFound(t *testing.T) {
	store := filestore.New(t.TempDir())
	h := &Handlers{Store: store}

	req := httptest.NewRequest(http.MethodGet, "/runs/missing-run", nil)
	rec := httptest.NewRecorder()
	mux(h).ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestGetRun_Found(t *testing.T) {
	store := filestore.New(t.TempDir())
	seedRun(t, store, "run-1")
	h := &Handlers{Store: store}

	req := httptest.NewRequest(http.MethodGet, "/runs/run-1", nil)
	rec := httptest.NewRecorder()
	mux(h).ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"run_id":"run-1"`)
}

func TestReview_ReviewerComesFromAuthContextNotBody(t *testing.T) {
	store := filestore.New(t.TempDir())
	seedRun(t, store, "run-1")
	h := &Handlers{Store: store}

	body := `{"action":"approved","run_id":"run-1"}`
	req := httptest.NewRequest(http.MethodPost, "/sessions/sess-1/review", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	ctx := context.WithValue(req.Context(), reviewerContextKey{}, "real-reviewer")
	req = req.WithContext(ctx)

	rec := httptest.NewRecorder()
	mux(h).ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"reviewer_id":"real-reviewer"`)
}

func TestReview_UnknownSessionIsNotFound(t *testing.T) {
	store := filestore.New(t.TempDir())
	seedRun(t, store, "run-1")
	h := &Handlers{Store: store}

	body := `{"action":"approved","run_id":"run-1"}`
	req := httptest.NewRequest(http.MethodPost, "/sessions/does-not-exist/review", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	ctx := context.WithValue(req.Context(), reviewerContextKey{}, "real-reviewer")
	req = req.WithContext(ctx)

	rec := httptest.NewRecorder()
	mux(h).ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}
