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

// Package ledger implements the per-run idempotency ledger (spec §4.4):
// a mapping from {run_id}-{finding_id}-attempt-{attempt} to the backend
// session id created for that key, so create_session is never invoked
// twice for the same (run, finding, attempt).
package ledger

import (
	"fmt"
	"os"
	"sync"

	"github.com/remedyrun/remedy/pkg/filestore"
)

// Ledger is the in-memory, disk-backed idempotency map for one run.
type Ledger struct {
	mu   sync.Mutex
	path string
	data map[string]string
}

// Key builds the composite ledger key for (runID, findingID, attempt).
func Key(runID, findingID string, attempt int) string {
	return fmt.Sprintf("%s-%s-attempt-%d", runID, findingID, attempt)
}

// Load opens the ledger at path, creating an empty one if the file is
// missing or corrupt. A corrupt ledger is silently treated as empty per
// spec §4.4 — this must never abort the run.
func Load(path string) *Ledger {
	l := &Ledger{path: path, data: map[string]string{}}

	var onDisk map[string]string
	if err := filestore.ReadJSON(path, &onDisk); err == nil {
		l.data = onDisk
	} else if !os.IsNotExist(err) {
		// Corrupt file: keep the empty map; the next successful write
		// will repair it via atomic rename.
		l.data = map[string]string{}
	}
	if l.data == nil {
		l.data = map[string]string{}
	}
	return l
}

// Lookup returns the recorded session id for key, if any.
func (l *Ledger) Lookup(key string) (string, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	id, ok := l.data[key]
	return id, ok
}

// Upsert records sessionID for key and persists the ledger via atomic
// rename. Writes are upsert-only; existing keys are never removed within
// a run (spec §3 invariant).
func (l *Ledger) Upsert(key, sessionID string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.data[key] = sessionID
	snapshot := make(map[string]string, len(l.data))
	for k, v := range l.data {
		snapshot[k] = v
	}
	return filestore.WriteAtomicJSON(l.path, snapshot)
}

// Snapshot returns a copy of the full ledger contents, useful for
// diagnostics (e.g. `remedyctl ledger show`).
func (l *Ledger) Snapshot() map[string]string {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make(map[string]string, len(l.data))
	for k, v := range l.data {
		out[k] = v
	}
	return out
}
