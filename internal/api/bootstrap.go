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

package api

import (
	"strconv"

	"github.com/remedyrun/remedy/pkg/filestore"
)

// BootstrapStatus tracks a spawned run's process lifecycle before it has
// produced its own state.json, per spec §6's persisted layout
// (runs/<run_id>/bootstrap.json).
type BootstrapStatus string

const (
	BootstrapStarting       BootstrapStatus = "starting"
	BootstrapStarted        BootstrapStatus = "started"
	BootstrapFailedToSpawn  BootstrapStatus = "failed_to_spawn"
)

// Bootstrap is the JSON shape of runs/<run_id>/bootstrap.json.
type Bootstrap struct {
	Status    BootstrapStatus `json:"status"`
	StartedAt string          `json:"started_at"`
	RunID     string          `json:"run_id"`
	PID       int             `json:"pid,omitempty"`
	Error     string          `json:"error,omitempty"`
}

func bootstrapPath(store *filestore.Store, runID string) string {
	return store.RunDir(runID) + "/bootstrap.json"
}

func writeBootstrap(store *filestore.Store, b Bootstrap) error {
	return filestore.WriteAtomicJSON(bootstrapPath(store, b.RunID), b)
}

func readBootstrap(store *filestore.Store, runID string) (Bootstrap, error) {
	var b Bootstrap
	err := filestore.ReadJSON(bootstrapPath(store, runID), &b)
	return b, err
}

func pidPath(store *filestore.Store, runID string) string {
	return store.RunDir(runID) + "/pid"
}

func writePIDFile(store *filestore.Store, runID string, pid int) error {
	return filestore.WriteAtomicFile(pidPath(store, runID), []byte(strconv.Itoa(pid)))
}
