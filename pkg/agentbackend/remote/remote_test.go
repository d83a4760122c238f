package remote

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/remedyrun/remedy/pkg/agentbackend"
)

func TestBackend_CreateSessionEncodesWireRequestAndAlwaysSetsIdempotent(t *testing.T) {
	var gotAuth string
	var gotBody createSessionWire

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		if r.URL.Path != "/v1/sessions" || r.Method != http.MethodPost {
			t.Errorf("unexpected request: %s %s", r.Method, r.URL.Path)
		}
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(createSessionResponse{SessionID: "sess-1", URL: "https://example.invalid/sessions/sess-1", IsNew: true})
	}))
	defer server.Close()

	b := New(Config{BaseURL: server.URL, BearerToken: "tok-123"})

	result, err := b.CreateSession(context.Background(), agentbackend.CreateSessionRequest{
		Prompt:      "fix the thing",
		PlaybookID:  "pb-1",
		Tags:        []string{"finding_id=f-1"},
		Idempotent:  false, // the wire request must always carry idempotent=true regardless of this
		MaxACULimit: 0,     // falls back to the configured cap
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.SessionID != "sess-1" || !result.IsNew {
		t.Errorf("unexpected result: %+v", result)
	}
	if gotAuth != "Bearer tok-123" {
		t.Errorf("expected bearer auth header, got %q", gotAuth)
	}
	if !gotBody.Idempotent {
		t.Error("expected idempotent=true on every create_session request, per spec §6")
	}
	if gotBody.MaxACULimit != 5 {
		t.Errorf("expected the default ACU cap (5) when the request doesn't specify one, got %d", gotBody.MaxACULimit)
	}
	if gotBody.PlaybookID != "pb-1" {
		t.Errorf("expected playbook id to round-trip, got %q", gotBody.PlaybookID)
	}
}

func TestBackend_CreateSessionHonorsExplicitACULimit(t *testing.T) {
	var gotBody createSessionWire
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		_ = json.NewEncoder(w).Encode(createSessionResponse{SessionID: "sess-1"})
	}))
	defer server.Close()

	b := New(Config{BaseURL: server.URL, MaxACUCap: 5})
	_, err := b.CreateSession(context.Background(), agentbackend.CreateSessionRequest{MaxACULimit: 12})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if gotBody.MaxACULimit != 12 {
		t.Errorf("expected explicit ACU limit to override the default, got %d", gotBody.MaxACULimit)
	}
}

func TestBackend_GetSessionDecodesStatusAndPullRequest(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/sessions/sess-1" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"status":            "finished",
			"structured_output": map[string]any{"status": "completed", "progress_pct": 100},
			"pull_request":      map[string]any{"url": "https://git.invalid/pulls/1"},
		})
	}))
	defer server.Close()

	b := New(Config{BaseURL: server.URL})
	snap, err := b.GetSession(context.Background(), "sess-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if snap.Status != agentbackend.StatusFinished {
		t.Errorf("expected finished status, got %s", snap.Status)
	}
	if snap.PullRequestURL != "https://git.invalid/pulls/1" {
		t.Errorf("expected pull request url to be decoded, got %q", snap.PullRequestURL)
	}
}

func TestBackend_GetSessionWithoutPullRequestLeavesURLEmpty(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"status": "working"})
	}))
	defer server.Close()

	b := New(Config{BaseURL: server.URL})
	snap, err := b.GetSession(context.Background(), "sess-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if snap.PullRequestURL != "" {
		t.Errorf("expected empty PR url, got %q", snap.PullRequestURL)
	}
}

func TestBackend_NonOKStatusReturnsAPIError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"error":"not found"}`))
	}))
	defer server.Close()

	b := New(Config{BaseURL: server.URL})
	_, err := b.GetSession(context.Background(), "missing")
	if err == nil {
		t.Fatal("expected an error for a non-2xx response")
	}
	status, ok := StatusCode(err)
	if !ok || status != http.StatusNotFound {
		t.Errorf("expected StatusCode to extract 404, got %d ok=%v", status, ok)
	}
	body, ok := Body(err)
	if !ok || body == "" {
		t.Errorf("expected Body to extract the response body, got %q ok=%v", body, ok)
	}
}

func TestBackend_ListSessionsEncodesTagsLimitOffset(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		if q.Get("limit") != "10" || q.Get("offset") != "5" {
			t.Errorf("unexpected limit/offset: %v", q)
		}
		if len(q["tag"]) != 2 {
			t.Errorf("expected 2 tags, got %v", q["tag"])
		}
		_ = json.NewEncoder(w).Encode(listSessionsResponse{Sessions: []struct {
			SessionID string              `json:"session_id"`
			Status    agentbackend.Status `json:"status"`
			Tags      []string            `json:"tags"`
		}{
			{SessionID: "sess-1", Status: agentbackend.StatusWorking, Tags: []string{"a", "b"}},
		}})
	}))
	defer server.Close()

	b := New(Config{BaseURL: server.URL})
	out, err := b.ListSessions(context.Background(), []string{"a", "b"}, 10, 5)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(out) != 1 || out[0].SessionID != "sess-1" {
		t.Errorf("unexpected sessions: %+v", out)
	}
}

func TestBackend_SendMessageAndTerminateSession(t *testing.T) {
	var paths []string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		paths = append(paths, r.URL.Path)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	b := New(Config{BaseURL: server.URL})
	if err := b.SendMessage(context.Background(), "sess-1", "hello"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := b.TerminateSession(context.Background(), "sess-1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(paths) != 2 || paths[0] != "/v1/sessions/sess-1/messages" || paths[1] != "/v1/sessions/sess-1/terminate" {
		t.Errorf("unexpected request paths: %v", paths)
	}
}

func TestBackend_CreateAndListPlaybooks(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/v1/playbooks":
			if r.Method == http.MethodPost {
				_ = json.NewEncoder(w).Encode(createPlaybookResponse{PlaybookID: "pb-1"})
				return
			}
			_ = json.NewEncoder(w).Encode(listPlaybooksResponse{Playbooks: []struct {
				PlaybookID string `json:"playbook_id"`
				Title      string `json:"title"`
			}{{PlaybookID: "pb-1", Title: "SQL injection fix"}}})
		default:
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
	}))
	defer server.Close()

	b := New(Config{BaseURL: server.URL})

	pb, err := b.CreatePlaybook(context.Background(), "SQL injection fix", "body")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if pb.PlaybookID != "pb-1" {
		t.Errorf("unexpected playbook: %+v", pb)
	}

	list, err := b.ListPlaybooks(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(list) != 1 || list[0].PlaybookID != "pb-1" {
		t.Errorf("unexpected playbook list: %+v", list)
	}
}
