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

// Package scheduler implements the wave scheduler (spec §4.6), the design
// center of the run engine: it chunks scored findings into waves, dispatches
// sessions concurrently under a parallelism semaphore, polls them to a
// terminal state, gates on success rate, and retries failures.
package scheduler

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/remedyrun/remedy/pkg/agentbackend"
	"github.com/remedyrun/remedy/pkg/remediation"

	"github.com/remedyrun/remedy/internal/sessionmgr"
	"github.com/remedyrun/remedy/internal/tracker"
)

// Config tunes wave construction and per-wave execution. Zero values fall
// back to the spec's documented defaults.
type Config struct {
	WaveSize        int
	MaxParallelism  int
	MinSuccessRate  float64
	SessionTimeout  time.Duration
	PollInterval    time.Duration
	MaxRetries      int
}

func (c Config) withDefaults() Config {
	if c.WaveSize <= 0 {
		c.WaveSize = 10
	}
	if c.MaxParallelism <= 0 {
		c.MaxParallelism = 10
	}
	if c.MinSuccessRate <= 0 {
		c.MinSuccessRate = 0.7
	}
	if c.SessionTimeout <= 0 {
		c.SessionTimeout = 90 * time.Minute
	}
	if c.PollInterval <= 0 {
		c.PollInterval = 20 * time.Second
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = 2
	}
	return c
}

// Scheduler drives wave construction and execution for one run.
type Scheduler struct {
	cfg     Config
	mgr     *sessionmgr.Manager
	tracker *tracker.Tracker
	mode    remediation.DataSource
	logger  *slog.Logger
}

// New constructs a Scheduler bound to one run's session manager and tracker.
func New(cfg Config, mgr *sessionmgr.Manager, tr *tracker.Tracker, mode remediation.DataSource, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{cfg: cfg.withDefaults(), mgr: mgr, tracker: tr, mode: mode, logger: logger}
}

// BuildWaves chunks sorted findings into wave_size groups, 1-indexed, with
// all sessions starting PENDING (spec §4.6 "Wave construction").
func (s *Scheduler) BuildWaves(findings []remediation.Finding, connectedRepos []string, playbookOf func(remediation.Category) string) []*remediation.Wave {
	var waves []*remediation.Wave
	for i := 0; i < len(findings); i += s.cfg.WaveSize {
		end := i + s.cfg.WaveSize
		if end > len(findings) {
			end = len(findings)
		}
		chunk := findings[i:end]

		sessions := make([]*remediation.RemediationSession, 0, len(chunk))
		for _, f := range chunk {
			playbookID := ""
			if playbookOf != nil {
				playbookID = playbookOf(f.Category)
			}
			sessions = append(sessions, &remediation.RemediationSession{
				Finding:    f,
				PlaybookID: playbookID,
				State:      remediation.StatePending,
				WaveNumber: len(waves) + 1,
				Attempt:    1,
				DataSource: sessionmgr.SelectDataSource(s.mode, connectedRepos, f),
			})
		}

		waves = append(waves, &remediation.Wave{
			Number:   len(waves) + 1,
			Status:   remediation.WaveStatusPending,
			Sessions: sessions,
		})
	}
	return waves
}

// RunWave executes one wave to completion per spec §4.6's five steps:
// interrupt check, dispatch, poll, gate, retry. Returns true if the run
// should continue to the next wave.
func (s *Scheduler) RunWave(ctx context.Context, runID string, wave *remediation.Wave, connectedRepos []string) (proceed bool) {
	if s.tracker.Run().Status == remediation.RunStatusInterrupted {
		return false
	}

	s.tracker.Mutate(func(*remediation.BatchRun) {
		wave.Status = remediation.WaveStatusRunning
	})
	s.tracker.RecordEventNoRecount(remediation.EventWaveStarted, fmt.Sprintf("wave %d started", wave.Number), map[string]any{"wave": wave.Number, "sessions": len(wave.Sessions)})

	s.dispatchAll(ctx, runID, wave.Sessions)
	s.pollToTerminal(ctx, wave.Sessions)
	s.tracker.Mutate(func(*remediation.BatchRun) {
		recountWave(wave)
	})

	successRate := computeSuccessRate(wave.Sessions)
	if successRate < s.cfg.MinSuccessRate {
		s.tracker.Mutate(func(run *remediation.BatchRun) {
			wave.Status = remediation.WaveStatusGated
			run.Status = remediation.RunStatusPaused
		})
		s.tracker.RecordEvent(remediation.EventWaveGated, fmt.Sprintf("wave %d gated: success rate %.2f below threshold %.2f", wave.Number, successRate, s.cfg.MinSuccessRate), map[string]any{"wave": wave.Number, "success_rate": successRate})
		return false
	}

	s.retryFailed(ctx, runID, wave, connectedRepos)
	s.tracker.Mutate(func(*remediation.BatchRun) {
		recountWave(wave)
		wave.Status = remediation.WaveStatusCompleted
	})
	s.tracker.RecordEvent(remediation.EventWaveCompleted, fmt.Sprintf("wave %d completed", wave.Number), map[string]any{"wave": wave.Number})
	return true
}

// dispatchAll dispatches every PENDING session concurrently, bounded by a
// semaphore of size MaxParallelism.
func (s *Scheduler) dispatchAll(ctx context.Context, runID string, sessions []*remediation.RemediationSession) {
	sem := make(chan struct{}, s.cfg.MaxParallelism)
	var wg sync.WaitGroup

	for _, sess := range sessions {
		if sess.State != remediation.StatePending {
			continue
		}
		wg.Add(1)
		sem <- struct{}{}
		go func(sess *remediation.RemediationSession) {
			defer wg.Done()
			defer func() { <-sem }()
			s.dispatchOne(ctx, runID, sess)
		}(sess)
	}
	wg.Wait()
}

// dispatchOne runs concurrently with its siblings, so every write to the
// session goes through the tracker's lock — a sibling's RecordEvent
// recounts and marshals the whole run while this one is still mid-flight.
func (s *Scheduler) dispatchOne(ctx context.Context, runID string, sess *remediation.RemediationSession) {
	s.tracker.Mutate(func(*remediation.BatchRun) {
		sess.CreatedAt = time.Now()
	})

	result, err := s.mgr.Dispatch(ctx, runID, sess.DataSource, sess.Finding, sess.PlaybookID, sess.Attempt)
	if err != nil {
		s.tracker.Mutate(func(*remediation.BatchRun) {
			sess.State = remediation.StateFailed
			sess.ErrorMessage = err.Error()
			sess.Version++
		})
		s.tracker.RecordEvent(remediation.EventSessionFailed, fmt.Sprintf("dispatch failed for finding %s", sess.Finding.ID), map[string]any{"finding_id": sess.Finding.ID, "error": err.Error()})
		return
	}

	s.tracker.Mutate(func(*remediation.BatchRun) {
		sess.SessionID = result.SessionID
		sess.BackendURL = result.URL
		sess.State = remediation.StateDispatched
		sess.Version++
	})

	kind := remediation.EventSessionStarted
	if result.IdempotencyHit {
		kind = remediation.EventIdempotencyHit
	}
	s.tracker.RecordEvent(kind, fmt.Sprintf("session dispatched for finding %s", sess.Finding.ID), map[string]any{"finding_id": sess.Finding.ID, "session_id": result.SessionID})
}

// pollToTerminal polls every non-terminal session every PollInterval until
// all sessions in the set reach a terminal state.
func (s *Scheduler) pollToTerminal(ctx context.Context, sessions []*remediation.RemediationSession) {
	ticker := time.NewTicker(s.cfg.PollInterval)
	defer ticker.Stop()

	for {
		if allTerminal(sessions) {
			return
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.pollOnce(ctx, sessions)
		}
	}
}

func (s *Scheduler) pollOnce(ctx context.Context, sessions []*remediation.RemediationSession) {
	for _, sess := range sessions {
		if sess.State.IsTerminal() || sess.SessionID == "" {
			continue
		}

		if time.Since(sess.CreatedAt) > s.cfg.SessionTimeout {
			s.timeoutSession(ctx, sess)
			continue
		}

		snap, err := s.mgr.Poll(ctx, sess.DataSource, sess.SessionID)
		if err != nil {
			s.logger.Warn("poll failed", "session_id", sess.SessionID, "error", err)
			continue
		}

		s.mergeSnapshot(sess, snap)
	}
}

// mergeSnapshot folds a poll result into a session: it merges the
// structured output and records the PR URL on first observation even when
// the lifecycle state is unchanged, then resolves the state via
// sessionmgr.InterpretStatus. Spec §4.6's later-completed_at-wins
// tie-break only matters when two pollers race on the same session; this
// scheduler polls each session from one goroutine, so every update here
// is already ordered, but the version counter still advances on every
// observed change so a racing writer (e.g. a concurrent review mutation)
// can detect staleness.
func (s *Scheduler) mergeSnapshot(sess *remediation.RemediationSession, snap agentbackend.SessionSnapshot) {
	next := sessionmgr.InterpretStatus(snap.Status)
	stateChanged := false

	s.tracker.Mutate(func(*remediation.BatchRun) {
		changed := false
		if out := decodeStructuredOutput(snap.StructuredOutput); out != nil {
			sess.Output = out
			changed = true
		}
		if snap.PullRequestURL != "" && sess.PRUrl == "" {
			sess.PRUrl = snap.PullRequestURL
			changed = true
		}

		if next == sess.State {
			if changed {
				sess.Version++
			}
			return
		}

		sess.State = next
		sess.Version++
		stateChanged = true
		if next.IsTerminal() {
			now := time.Now()
			sess.CompletedAt = &now
		}
	})

	if !stateChanged {
		return
	}

	if next.IsTerminal() {
		kind := remediation.EventSessionCompleted
		if next != remediation.StateSuccess {
			kind = remediation.EventSessionFailed
		}
		s.tracker.RecordEvent(kind, fmt.Sprintf("session %s reached %s", sess.SessionID, next), map[string]any{"finding_id": sess.Finding.ID, "session_id": sess.SessionID, "state": string(next)})
		return
	}

	s.tracker.RecordEvent(remediation.EventSessionProgress, fmt.Sprintf("session %s now %s", sess.SessionID, next), map[string]any{"finding_id": sess.Finding.ID, "session_id": sess.SessionID, "state": string(next)})
}

func decodeStructuredOutput(raw map[string]any) *remediation.StructuredOutput {
	if raw == nil {
		return nil
	}
	b, err := json.Marshal(raw)
	if err != nil {
		return nil
	}
	var out remediation.StructuredOutput
	if err := json.Unmarshal(b, &out); err != nil {
		return nil
	}
	out.Extra = raw
	return &out
}

// timeoutSession enforces the session-timeout deadline. A BLOCKED session
// (waiting on something that will never arrive) is promoted to FAILED
// rather than TIMEOUT, since the agent itself reported it stuck rather
// than simply going quiet.
func (s *Scheduler) timeoutSession(ctx context.Context, sess *remediation.RemediationSession) {
	var final remediation.LifecycleState
	s.tracker.Mutate(func(*remediation.BatchRun) {
		now := time.Now()
		if sess.State == remediation.StateBlocked {
			sess.State = remediation.StateFailed
			sess.ErrorMessage = "session blocked past timeout"
		} else {
			sess.State = remediation.StateTimeout
			sess.ErrorMessage = "session exceeded timeout"
		}
		sess.CompletedAt = &now
		sess.Version++
		final = sess.State
	})
	_ = s.mgr.Terminate(ctx, sess.DataSource, sess.SessionID)
	s.tracker.RecordEvent(remediation.EventSessionFailed, fmt.Sprintf("session %s timed out", sess.SessionID), map[string]any{"finding_id": sess.Finding.ID, "session_id": sess.SessionID, "state": string(final)})
}

func allTerminal(sessions []*remediation.RemediationSession) bool {
	for _, s := range sessions {
		if !s.State.IsTerminal() {
			return false
		}
	}
	return true
}

// recountWave refreshes the wave's rolling success/failure counts from the
// ground-truth session states, retries included.
func recountWave(wave *remediation.Wave) {
	var successful, failed int
	for _, s := range wave.Sessions {
		switch s.State {
		case remediation.StateSuccess:
			successful++
		case remediation.StateFailed, remediation.StateTimeout:
			failed++
		}
	}
	wave.SuccessCount = successful
	wave.FailureCount = failed
}

func computeSuccessRate(sessions []*remediation.RemediationSession) float64 {
	var successful, failed int
	for _, s := range sessions {
		switch s.State {
		case remediation.StateSuccess:
			successful++
		case remediation.StateFailed, remediation.StateTimeout:
			failed++
		}
	}
	if successful+failed == 0 {
		return 1
	}
	return float64(successful) / float64(successful+failed)
}

// retryFailed retries each FAILED session with attempt < max_retries,
// using a fresh ledger key (attempt is part of the key) so the retry is
// not deduplicated against the original attempt.
func (s *Scheduler) retryFailed(ctx context.Context, runID string, wave *remediation.Wave, connectedRepos []string) {
	var retries []*remediation.RemediationSession
	for _, sess := range wave.Sessions {
		if sess.State == remediation.StateFailed && sess.Attempt < s.cfg.MaxRetries {
			retry := &remediation.RemediationSession{
				Finding:    sess.Finding,
				PlaybookID: sess.PlaybookID,
				State:      remediation.StatePending,
				WaveNumber: wave.Number,
				Attempt:    sess.Attempt + 1,
				DataSource: sessionmgr.SelectDataSource(s.mode, connectedRepos, sess.Finding),
			}
			retries = append(retries, retry)
			s.tracker.RecordEvent(remediation.EventSessionRetry, fmt.Sprintf("retrying finding %s (attempt %d)", sess.Finding.ID, retry.Attempt), map[string]any{"finding_id": sess.Finding.ID, "attempt": retry.Attempt})
		}
	}
	if len(retries) == 0 {
		return
	}

	s.tracker.Mutate(func(*remediation.BatchRun) {
		wave.Sessions = append(wave.Sessions, retries...)
	})
	s.dispatchAll(ctx, runID, retries)
	s.pollToTerminal(ctx, retries)
}
