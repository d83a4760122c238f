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

// Package supervisor is the top-level driver for one run of the engine
// (spec §4.10): it builds the BatchRun, constructs the wave list, runs
// preflight, executes waves in order, and extracts memory on completion.
package supervisor

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/remedyrun/remedy/pkg/agentbackend"
	"github.com/remedyrun/remedy/pkg/filestore"
	"github.com/remedyrun/remedy/pkg/ledger"
	"github.com/remedyrun/remedy/pkg/memory"
	"github.com/remedyrun/remedy/pkg/remediation"

	"github.com/remedyrun/remedy/internal/preflight"
	"github.com/remedyrun/remedy/internal/scheduler"
	"github.com/remedyrun/remedy/internal/sessionmgr"
	"github.com/remedyrun/remedy/internal/tracker"
)

// Config bundles everything one run needs that isn't derivable from the
// findings themselves.
type Config struct {
	RunID          string
	Mode           remediation.DataSource
	ConnectedRepos []string
	Backend        agentbackend.Backend

	// MockBackend routes mock-designated sessions in a hybrid run. Left
	// nil for live and mock runs, where Backend serves everything.
	MockBackend agentbackend.Backend

	StateDir       string
	MemoryDir      string
	PlaybookDir    string
	BackendToken   string
	UseAWSSigV4    bool
	AWSRegion      string
	MaxACU         int
	SchedulerCfg   scheduler.Config
	Logger         *slog.Logger

	// MetricsObserver, if set, is registered on the tracker and called
	// with the current run after every recounted event (additive
	// Prometheus exposition; see internal/api.PromMetrics.ObserveRun).
	MetricsObserver tracker.Observer
}

// Supervisor drives one run end to end.
type Supervisor struct {
	cfg       Config
	tracker   *tracker.Tracker
	scheduler *scheduler.Scheduler
	memory    *memory.Graph
	logger    *slog.Logger
	draining  atomic.Bool
}

// New builds a Supervisor for a not-yet-started run.
func New(cfg Config, findings []remediation.Finding) (*Supervisor, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	store := filestore.New(cfg.StateDir)
	run := &remediation.BatchRun{
		RunID:         cfg.RunID,
		StartedAt:     time.Now(),
		Status:        remediation.RunStatusPending,
		TotalFindings: len(findings),
		DataSource:    cfg.Mode,
		CSVFilename:   "findings.csv",
	}
	tr := tracker.New(run, store, logger)
	if cfg.MetricsObserver != nil {
		tr.SetObserver(cfg.MetricsObserver)
	}

	led := ledger.Load(filepath.Join(store.RunDir(cfg.RunID), "idempotency.json"))
	mem := memory.Open(cfg.MemoryDir)

	mockBackend := cfg.MockBackend
	if mockBackend == nil {
		mockBackend = cfg.Backend
	}
	mgr := sessionmgr.NewHybrid(cfg.Backend, mockBackend, led, mem, cfg.ConnectedRepos, cfg.MaxACU, logger)
	sched := scheduler.New(cfg.SchedulerCfg, mgr, tr, cfg.Mode, logger)

	return &Supervisor{cfg: cfg, tracker: tr, scheduler: sched, memory: mem, logger: logger}, nil
}

// Run executes preflight and, on success, every wave in order. An OS
// interrupt is cooperative: no further wave starts, and the run is marked
// interrupted at the next wave boundary. The cancelled context also reaches
// the wave in progress, so its polling stops early and sessions still in
// flight are persisted in their last observed state.
func (s *Supervisor) Run(ctx context.Context, findings []remediation.Finding, playbookOf func(remediation.Category) string) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := preflight.Run(ctx, preflight.Checks{
		Mode:           s.cfg.Mode,
		ConnectedRepos: s.cfg.ConnectedRepos,
		Findings:       findings,
		Backend:        s.cfg.Backend,
		PlaybookDir:    s.cfg.PlaybookDir,
		BackendToken:   s.cfg.BackendToken,
		UseAWSSigV4:    s.cfg.UseAWSSigV4,
		AWSRegion:      s.cfg.AWSRegion,
	}); err != nil {
		s.tracker.SetStatus(remediation.RunStatusInterrupted)
		return err
	}

	waves := s.scheduler.BuildWaves(findings, s.cfg.ConnectedRepos, playbookOf)
	s.tracker.Mutate(func(run *remediation.BatchRun) {
		run.Waves = waves
	})
	s.tracker.SetStatus(remediation.RunStatusRunning)
	s.tracker.RecordEventNoRecount(remediation.EventRunStarted, fmt.Sprintf("run %s started with %d waves", s.cfg.RunID, len(waves)), map[string]any{"waves": len(waves)})

	go s.watchInterrupt(ctx)

	for _, wave := range waves {
		if s.draining.Load() || ctx.Err() != nil {
			s.tracker.SetStatus(remediation.RunStatusInterrupted)
			return ctx.Err()
		}

		proceed := s.scheduler.RunWave(ctx, s.cfg.RunID, wave, s.cfg.ConnectedRepos)
		if !proceed {
			if s.tracker.Run().Status == remediation.RunStatusRunning {
				// RunWave stopped for a reason other than gating or
				// interruption (e.g. the wave's own context expired).
				s.tracker.SetStatus(remediation.RunStatusInterrupted)
			}
			return nil
		}
	}

	s.tracker.SetStatus(remediation.RunStatusCompleted)
	s.tracker.RecordEvent(remediation.EventRunCompleted, fmt.Sprintf("run %s completed", s.cfg.RunID), nil)

	s.extractMemory()
	return nil
}

// watchInterrupt flips draining once the context is cancelled (OS signal
// or caller cancellation), so the wave loop exits at the next boundary.
func (s *Supervisor) watchInterrupt(ctx context.Context) {
	<-ctx.Done()
	s.draining.Store(true)
}

// extractMemory upserts a memory item for every terminal session across
// every wave. Extraction failures are logged, never fatal (spec §4.10).
func (s *Supervisor) extractMemory() {
	if s.memory == nil {
		return
	}
	for _, sess := range s.tracker.Run().AllSessions() {
		if !sess.State.IsTerminal() {
			continue
		}
		item := sessionToMemoryItem(s.cfg.RunID, sess)
		if err := s.memory.Upsert(item); err != nil {
			s.logger.Warn("memory extraction failed", "session_id", sess.SessionID, "error", err)
		}
	}
}

func sessionToMemoryItem(runID string, sess *remediation.RemediationSession) memory.Item {
	outcome := memory.OutcomeFailure
	if sess.State == remediation.StateSuccess {
		outcome = memory.OutcomeSuccess
	}

	item := memory.Item{
		ItemID:      memory.ItemID(runID, sess.Finding.ID),
		RunID:       runID,
		FindingID:   sess.Finding.ID,
		Category:    sess.Finding.Category,
		Service:     sess.Finding.ServiceName,
		Severity:    sess.Finding.Severity,
		Outcome:     outcome,
		DataSource:  sess.DataSource,
		PRReference: sess.PRUrl,
		ErrorText:   sess.ErrorMessage,
		CreatedAt:   time.Now(),
	}
	if sess.Output != nil {
		item.FixApproach = sess.Output.FixApproach
		item.FilesModified = sess.Output.FilesModified
		item.Confidence = sess.Output.Confidence
		if sess.Output.TestsPassed != nil {
			item.TestResults = fmt.Sprintf("tests_passed=%v tests_added=%d", *sess.Output.TestsPassed, sess.Output.TestsAdded)
		}
	}
	return item
}
