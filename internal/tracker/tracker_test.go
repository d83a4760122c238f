package tracker

import (
	"sync"
	"testing"
	"time"

	"github.com/remedyrun/remedy/pkg/filestore"
	"github.com/remedyrun/remedy/pkg/remediation"
)

func newTestRun() *remediation.BatchRun {
	session := &remediation.RemediationSession{
		Finding:   remediation.Finding{ID: "f-1"},
		State:     remediation.StateSuccess,
		PRUrl:     "https://git.invalid/pulls/1",
		CreatedAt: time.Now(),
	}
	return &remediation.BatchRun{
		RunID:         "run-1",
		StartedAt:     time.Now(),
		Status:        remediation.RunStatusRunning,
		TotalFindings: 1,
		Waves: []*remediation.Wave{
			{Number: 1, Status: remediation.WaveStatusCompleted, Sessions: []*remediation.RemediationSession{session}},
		},
	}
}

func TestTracker_RecordEventRecountsFromGroundTruth(t *testing.T) {
	dir := t.TempDir()
	store := filestore.New(dir)
	run := newTestRun()
	tr := New(run, store, nil)

	tr.RecordEvent(remediation.EventSessionCompleted, "session completed", nil)

	got := tr.Run()
	if got.Completed != 1 || got.Successful != 1 || got.PRsCreated != 1 {
		t.Errorf("expected recount completed=1 successful=1 prs=1, got completed=%d successful=%d prs=%d",
			got.Completed, got.Successful, got.PRsCreated)
	}
	if len(got.Timeline) != 1 {
		t.Fatalf("expected 1 timeline event, got %d", len(got.Timeline))
	}
	if got.Timeline[0].Kind != remediation.EventSessionCompleted {
		t.Errorf("unexpected event kind: %s", got.Timeline[0].Kind)
	}
}

func TestTracker_PersistsThreeFiles(t *testing.T) {
	dir := t.TempDir()
	store := filestore.New(dir)
	run := newTestRun()
	tr := New(run, store, nil)

	tr.RecordEvent(remediation.EventRunCompleted, "run completed", nil)

	if _, err := store.ReadRunState("run-1"); err != nil {
		t.Errorf("expected per-run state to be persisted: %v", err)
	}
	index, err := store.ReadIndex()
	if err != nil || len(index) != 1 {
		t.Errorf("expected index with 1 entry, got %v err=%v", index, err)
	}
}

func TestTracker_MutateSerializesWithRecordEvent(t *testing.T) {
	dir := t.TempDir()
	store := filestore.New(dir)

	const n = 16
	sessions := make([]*remediation.RemediationSession, n)
	for i := range sessions {
		sessions[i] = &remediation.RemediationSession{
			Finding:   remediation.Finding{ID: "f-" + string(rune('a'+i))},
			State:     remediation.StateWorking,
			CreatedAt: time.Now(),
		}
	}
	run := &remediation.BatchRun{
		RunID:     "run-1",
		StartedAt: time.Now(),
		Status:    remediation.RunStatusRunning,
		Waves:     []*remediation.Wave{{Number: 1, Sessions: sessions}},
	}
	tr := New(run, store, nil)

	// Concurrent session mutations interleaved with recount+marshal; the
	// shared lock must serialize them so no write tears a read.
	var wg sync.WaitGroup
	for _, sess := range sessions {
		wg.Add(1)
		go func(sess *remediation.RemediationSession) {
			defer wg.Done()
			tr.Mutate(func(*remediation.BatchRun) {
				sess.SessionID = "sess-" + sess.Finding.ID
				sess.State = remediation.StateSuccess
				sess.Version++
			})
			tr.RecordEvent(remediation.EventSessionCompleted, "session completed", nil)
		}(sess)
	}
	wg.Wait()

	got := tr.Run()
	if got.Completed != n || got.Successful != n {
		t.Errorf("expected %d completed/successful after all mutations, got %d/%d", n, got.Completed, got.Successful)
	}
	if len(got.Timeline) != n {
		t.Errorf("expected %d timeline events, got %d", n, len(got.Timeline))
	}
}

func TestTracker_SetStatus(t *testing.T) {
	dir := t.TempDir()
	store := filestore.New(dir)
	run := newTestRun()
	tr := New(run, store, nil)

	tr.SetStatus(remediation.RunStatusPaused)

	if tr.Run().Status != remediation.RunStatusPaused {
		t.Errorf("expected status paused, got %s", tr.Run().Status)
	}
}
