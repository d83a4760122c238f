package review

import (
	"testing"

	"github.com/remedyrun/remedy/pkg/filestore"
	"github.com/remedyrun/remedy/pkg/remediation"
)

func seedRun(t *testing.T, store *filestore.Store, runID string) *remediation.RemediationSession {
	t.Helper()
	sess := &remediation.RemediationSession{
		SessionID: "sess-1",
		Finding:   remediation.Finding{ID: "f-1"},
		State:     remediation.StateSuccess,
	}
	run := &remediation.BatchRun{
		RunID: runID,
		Waves: []*remediation.Wave{{Number: 1, Sessions: []*remediation.RemediationSession{sess}}},
	}
	if err := store.WriteRunState(run); err != nil {
		t.Fatalf("failed to seed run state: %v", err)
	}
	return sess
}

func TestApply_ApprovesBySessionID(t *testing.T) {
	dir := t.TempDir()
	store := filestore.New(dir)
	seedRun(t, store, "run-1")

	sess, err := Apply(store, Request{RunID: "run-1", SessionID: "sess-1", Action: ActionApproved, ReviewerID: "alice"})
	if err != nil {
		t.Fatalf("Apply failed: %v", err)
	}
	if sess.ReviewStatus != remediation.ReviewApproved {
		t.Errorf("expected review status approved, got %s", sess.ReviewStatus)
	}
	if sess.ReviewerID != "alice" {
		t.Errorf("expected reviewer alice, got %s", sess.ReviewerID)
	}

	got, err := store.ReadRunState("run-1")
	if err != nil {
		t.Fatalf("ReadRunState failed: %v", err)
	}
	if got.AllSessions()[0].ReviewStatus != remediation.ReviewApproved {
		t.Error("expected the persisted state to reflect the approval")
	}
	if len(got.Timeline) != 1 || got.Timeline[0].Kind != remediation.EventReviewApproved {
		t.Errorf("expected one review_approved timeline event, got %+v", got.Timeline)
	}
}

func TestApply_MatchesByFindingID(t *testing.T) {
	dir := t.TempDir()
	store := filestore.New(dir)
	seedRun(t, store, "run-1")

	sess, err := Apply(store, Request{RunID: "run-1", SessionID: "f-1", Action: ActionRejected, ReviewerID: "bob", Reason: "needs more tests"})
	if err != nil {
		t.Fatalf("Apply failed: %v", err)
	}
	if sess.ReviewStatus != remediation.ReviewRejected {
		t.Errorf("expected review status rejected, got %s", sess.ReviewStatus)
	}
	if sess.ReviewReason != "needs more tests" {
		t.Errorf("expected reason to be recorded, got %q", sess.ReviewReason)
	}
}

func TestApply_VersionIncrementsOnEachMutation(t *testing.T) {
	dir := t.TempDir()
	store := filestore.New(dir)
	seedRun(t, store, "run-1")

	sess1, _ := Apply(store, Request{RunID: "run-1", SessionID: "sess-1", Action: ActionApproved, ReviewerID: "alice"})
	if sess1.Version != 1 {
		t.Errorf("expected version 1 after first mutation, got %d", sess1.Version)
	}

	sess2, _ := Apply(store, Request{RunID: "run-1", SessionID: "sess-1", Action: ActionRejected, ReviewerID: "bob"})
	if sess2.Version != 2 {
		t.Errorf("expected version 2 after second mutation, got %d", sess2.Version)
	}
}

func TestApply_RejectsUnknownSessionWithoutMutation(t *testing.T) {
	dir := t.TempDir()
	store := filestore.New(dir)
	seedRun(t, store, "run-1")

	_, err := Apply(store, Request{RunID: "run-1", SessionID: "nonexistent", Action: ActionApproved, ReviewerID: "alice"})
	if err == nil {
		t.Fatal("expected a not-found error for an unknown session id")
	}

	got, _ := store.ReadRunState("run-1")
	if len(got.Timeline) != 0 {
		t.Error("expected no timeline mutation for an unknown session")
	}
}

func TestApply_RejectsBadRunID(t *testing.T) {
	dir := t.TempDir()
	store := filestore.New(dir)

	_, err := Apply(store, Request{RunID: "../etc/passwd", SessionID: "sess-1", Action: ActionApproved, ReviewerID: "alice"})
	if err == nil {
		t.Fatal("expected a validation error for a path-traversal run id")
	}
}

func TestApply_RejectsBadAction(t *testing.T) {
	dir := t.TempDir()
	store := filestore.New(dir)
	seedRun(t, store, "run-1")

	_, err := Apply(store, Request{RunID: "run-1", SessionID: "sess-1", Action: "maybe", ReviewerID: "alice"})
	if err == nil {
		t.Fatal("expected a validation error for an invalid action")
	}
}

func TestApply_RejectsMissingReviewerID(t *testing.T) {
	dir := t.TempDir()
	store := filestore.New(dir)
	seedRun(t, store, "run-1")

	_, err := Apply(store, Request{RunID: "run-1", SessionID: "sess-1", Action: ActionApproved})
	if err == nil {
		t.Fatal("expected a validation error when reviewer identity is missing")
	}
}
