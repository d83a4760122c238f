package simulated

import (
	"context"
	"testing"
	"time"

	"github.com/remedyrun/remedy/pkg/agentbackend"
)

func TestBackend_CreateSessionReturnsNewSession(t *testing.T) {
	b := New(Config{Seed: 1})

	result, err := b.CreateSession(context.Background(), agentbackend.CreateSessionRequest{
		Prompt: "fix it",
		Tags:   []string{"finding_id=f-1"},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.IsNew {
		t.Error("expected IsNew true for a freshly created session")
	}
	if result.SessionID == "" || result.URL == "" {
		t.Errorf("expected non-empty session id and url, got %+v", result)
	}
}

func TestBackend_StageProgressionAdvancesWithTime(t *testing.T) {
	b := New(Config{Seed: 1, StageDuration: 10 * time.Millisecond, FailureRate: 0})

	result, err := b.CreateSession(context.Background(), agentbackend.CreateSessionRequest{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	snap, err := b.GetSession(context.Background(), result.SessionID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if snap.StructuredOutput["current_step"] != "analyzing" {
		t.Errorf("expected analyzing stage immediately after creation, got %v", snap.StructuredOutput["current_step"])
	}

	time.Sleep(45 * time.Millisecond)
	snap, err = b.GetSession(context.Background(), result.SessionID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if snap.Status != agentbackend.StatusFinished {
		t.Errorf("expected finished status after 4 stage durations, got %s", snap.Status)
	}
	if snap.PullRequestURL == "" {
		t.Error("expected a synthetic PR url once finished")
	}
}

func TestBackend_FailureSessionStallsAtTestingBlocked(t *testing.T) {
	// FailureRate 1 guarantees every created session is seeded as a
	// failure, so it must stall at "testing" with a blocked status
	// instead of progressing to creating_pr/finished.
	b := New(Config{Seed: 1, StageDuration: 5 * time.Millisecond, FailureRate: 1})

	result, err := b.CreateSession(context.Background(), agentbackend.CreateSessionRequest{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	time.Sleep(40 * time.Millisecond)
	snap, err := b.GetSession(context.Background(), result.SessionID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if snap.Status != agentbackend.StatusBlocked {
		t.Errorf("expected blocked status for a seeded failure session, got %s", snap.Status)
	}
	if snap.PullRequestURL != "" {
		t.Error("a blocked failure session must never report a PR url")
	}
}

func TestBackend_FailureRateIsApproximatelySeeded(t *testing.T) {
	b := New(Config{Seed: 42, FailureRate: 0.15})

	const n = 2000
	failures := 0
	for i := 0; i < n; i++ {
		result, err := b.CreateSession(context.Background(), agentbackend.CreateSessionRequest{})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if b.sessions[result.SessionID].isFailure {
			failures++
		}
	}

	rate := float64(failures) / float64(n)
	if rate < 0.10 || rate > 0.20 {
		t.Errorf("expected failure rate near 0.15, got %v (%d/%d)", rate, failures, n)
	}
}

func TestBackend_GetSessionUnknownIDErrors(t *testing.T) {
	b := New(Config{})
	if _, err := b.GetSession(context.Background(), "does-not-exist"); err == nil {
		t.Fatal("expected an error for an unknown session id")
	}
}

func TestBackend_TerminateSessionReportsExpired(t *testing.T) {
	b := New(Config{Seed: 1, FailureRate: 0})

	result, err := b.CreateSession(context.Background(), agentbackend.CreateSessionRequest{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := b.TerminateSession(context.Background(), result.SessionID); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	snap, err := b.GetSession(context.Background(), result.SessionID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if snap.Status != agentbackend.StatusExpired {
		t.Errorf("expected expired status after termination, got %s", snap.Status)
	}
}

func TestBackend_ListSessionsFiltersByTags(t *testing.T) {
	b := New(Config{Seed: 1, FailureRate: 0})

	a, _ := b.CreateSession(context.Background(), agentbackend.CreateSessionRequest{Tags: []string{"service=checkout"}})
	_, _ = b.CreateSession(context.Background(), agentbackend.CreateSessionRequest{Tags: []string{"service=billing"}})

	out, err := b.ListSessions(context.Background(), []string{"service=checkout"}, 0, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(out) != 1 || out[0].SessionID != a.SessionID {
		t.Errorf("expected only the checkout session, got %+v", out)
	}
}

func TestBackend_CreatePlaybookAndListPlaybooks(t *testing.T) {
	b := New(Config{})
	pb, err := b.CreatePlaybook(context.Background(), "SQL injection fix", "body")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if pb.PlaybookID == "" || pb.Title != "SQL injection fix" {
		t.Errorf("unexpected playbook: %+v", pb)
	}
}
