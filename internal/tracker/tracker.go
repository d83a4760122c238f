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

// Package tracker implements the progress tracker (spec §4.7): the
// authoritative in-memory BatchRun, recounted from ground truth on every
// session mutation and persisted to the three target files in order.
package tracker

import (
	"log/slog"
	"sync"

	"github.com/remedyrun/remedy/pkg/filestore"
	"github.com/remedyrun/remedy/pkg/remediation"
)

// Observer receives the current run after every recounted event, for
// additive observability (e.g. Prometheus exposition) that doesn't belong
// in the tracker's own persistence responsibility.
type Observer func(run *remediation.BatchRun)

// Tracker owns one BatchRun for the lifetime of a run.
type Tracker struct {
	mu       sync.Mutex
	run      *remediation.BatchRun
	store    *filestore.Store
	logger   *slog.Logger
	observer Observer
}

// SetObserver registers fn to be called with the current run after every
// RecordEvent/SetStatus. A nil fn disables observation.
func (t *Tracker) SetObserver(fn Observer) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.observer = fn
}

// New wraps run with a Tracker that persists through store.
func New(run *remediation.BatchRun, store *filestore.Store, logger *slog.Logger) *Tracker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Tracker{run: run, store: store, logger: logger}
}

// Run returns the current BatchRun. Callers must not mutate the returned
// pointer's fields directly; writes go through Mutate or the Tracker's
// other methods.
func (t *Tracker) Run() *remediation.BatchRun {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.run
}

// Mutate runs fn while holding the tracker's lock. Every write to the
// shared BatchRun — session fields included — goes through here, so a
// concurrent dispatch goroutine's writes never race the recount and JSON
// marshal inside RecordEvent's persistence. fn must not call back into
// the Tracker.
func (t *Tracker) Mutate(fn func(run *remediation.BatchRun)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	fn(t.run)
}

// RecordEvent recounts the run from ground truth, appends kind/message/detail
// to the timeline, and persists. Persistence failures are logged, never
// fatal (spec §4.7, §7).
func (t *Tracker) RecordEvent(kind remediation.EventKind, message string, detail map[string]any) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.run.Recount()
	t.run.AppendEvent(kind, message, detail)
	t.persistLocked()
	t.observeLocked()
}

// RecordEventNoRecount appends a timeline event without recounting, for
// events (run_started, wave_started) that precede any session mutation.
func (t *Tracker) RecordEventNoRecount(kind remediation.EventKind, message string, detail map[string]any) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.run.AppendEvent(kind, message, detail)
	t.persistLocked()
}

// SetStatus transitions the run's status, recounts, and persists.
func (t *Tracker) SetStatus(status remediation.RunStatus) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.run.Status = status
	t.run.Recount()
	t.persistLocked()
	t.observeLocked()
}

func (t *Tracker) persistLocked() {
	if t.store == nil {
		return
	}
	if err := t.store.Persist(t.run, t.run.CSVFilename); err != nil {
		t.logger.Warn("failed to persist run state", "run_id", t.run.RunID, "error", err)
	}
}

func (t *Tracker) observeLocked() {
	if t.observer != nil {
		t.observer(t.run)
	}
}
