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

package filestore

import (
	"os"
	"path/filepath"
	"sync"

	"github.com/remedyrun/remedy/pkg/remediation"
	"github.com/remedyrun/remedy/pkg/remedyerr"
)

// Store is the C1 state store: it persists a BatchRun to
// runs/<run_id>/state.json, upserts a RunSummary into runs/index.json, and
// writes a legacy copy to ./state.json, each write going through the
// lock+atomic-rename protocol for any file touched by more than one writer
// (the per-run state file and the index; the legacy pointer is owned
// solely by the engine process that last ran).
type Store struct {
	root string

	// indexMu serializes this process's own index writers with the
	// cross-process file lock; the lock alone is sufficient for
	// correctness, but avoiding needless lock contention within one
	// process is cheap.
	indexMu sync.Mutex
}

// New creates a Store rooted at root (the directory containing runs/ and
// the legacy state.json).
func New(root string) *Store {
	return &Store{root: root}
}

// RunStatePath returns the path to a run's state.json.
func (s *Store) RunStatePath(runID string) string {
	return filepath.Join(s.root, "runs", runID, "state.json")
}

// RunDir returns the per-run directory.
func (s *Store) RunDir(runID string) string {
	return filepath.Join(s.root, "runs", runID)
}

// IndexPath returns the path to the run index.
func (s *Store) IndexPath() string {
	return filepath.Join(s.root, "runs", "index.json")
}

// LegacyStatePath returns the path to the legacy top-level state.json.
func (s *Store) LegacyStatePath() string {
	return filepath.Join(s.root, "state.json")
}

// WriteRunState writes run to its per-run state.json, under lock, using
// atomic rename.
func (s *Store) WriteRunState(run *remediation.BatchRun) error {
	path := s.RunStatePath(run.RunID)
	lock, err := Acquire(path, "state-store", LockOptions{})
	if err != nil {
		return remedyerr.Wrap(err, "acquiring run state lock")
	}
	defer lock.Release()

	return WriteAtomicJSON(path, run)
}

// ReadRunState reads a run's persisted state.
func (s *Store) ReadRunState(runID string) (*remediation.BatchRun, error) {
	var run remediation.BatchRun
	if err := ReadJSON(s.RunStatePath(runID), &run); err != nil {
		if os.IsNotExist(err) {
			return nil, remedyerr.Wrapf(remedyerr.ErrNotFound, "run %s", runID)
		}
		return nil, err
	}
	return &run, nil
}

// UpsertIndex appends or updates summary in the newest-last run index.
func (s *Store) UpsertIndex(summary remediation.RunSummary) error {
	s.indexMu.Lock()
	defer s.indexMu.Unlock()

	path := s.IndexPath()
	lock, err := Acquire(path, "state-store", LockOptions{})
	if err != nil {
		return remedyerr.Wrap(err, "acquiring index lock")
	}
	defer lock.Release()

	var index []remediation.RunSummary
	if err := ReadJSON(path, &index); err != nil && !os.IsNotExist(err) {
		return remedyerr.Wrap(err, "reading run index")
	}

	found := false
	for i := range index {
		if index[i].RunID == summary.RunID {
			index[i] = summary
			found = true
			break
		}
	}
	if !found {
		index = append(index, summary)
	}

	return WriteAtomicJSON(path, index)
}

// ReadIndex returns the run index, newest-last, or an empty slice if the
// index file is absent.
func (s *Store) ReadIndex() ([]remediation.RunSummary, error) {
	var index []remediation.RunSummary
	if err := ReadJSON(s.IndexPath(), &index); err != nil {
		if os.IsNotExist(err) {
			return []remediation.RunSummary{}, nil
		}
		return nil, err
	}
	return index, nil
}

// WriteLegacyPointer writes run as the legacy top-level state.json. Owned
// solely by the engine process; no lock is taken (spec §5 "Shared-resource
// policy": only the per-run state file, the index, and the memory graph
// require cross-process coordination).
func (s *Store) WriteLegacyPointer(run *remediation.BatchRun) error {
	return WriteAtomicJSON(s.LegacyStatePath(), run)
}

// Persist performs the three writes C7 requires, in order: per-run state,
// run index (under lock), legacy pointer. A failure on one write is
// returned but does not prevent the caller from continuing the run; per
// spec §4.7 persistence failures are logged, not fatal.
func (s *Store) Persist(run *remediation.BatchRun, csvFilename string) error {
	if err := s.WriteRunState(run); err != nil {
		return remedyerr.Wrap(err, "writing run state")
	}

	summary := remediation.RunSummary{
		RunID:         run.RunID,
		StartedAt:     run.StartedAt,
		Status:        run.Status,
		TotalFindings: run.TotalFindings,
		CSVFilename:   csvFilename,
		DataSource:    run.DataSource,
	}
	if err := s.UpsertIndex(summary); err != nil {
		return remedyerr.Wrap(err, "upserting run index")
	}

	if err := s.WriteLegacyPointer(run); err != nil {
		return remedyerr.Wrap(err, "writing legacy state pointer")
	}

	return nil
}
