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
	"bytes"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/remedyrun/remedy/pkg/filestore"
	"github.com/remedyrun/remedy/pkg/remediation"
)

// maxUploadBytes is spec §6's 10 MB CSV upload cap.
const maxUploadBytes = 10 << 20

// maxUploadRows is spec §6's 5000-row CSV upload cap.
const maxUploadRows = 5000

const defaultWaveSize = 5

// SpawnFunc launches the run supervisor as a detached background process
// for runID and returns its pid. The default, Spawn, re-execs the current
// binary with worker flags, grounded in the teacher's `--controller-child`
// self-reexec pattern (cmd/conductor/main.go).
type SpawnFunc func(runID string, mode remediation.DataSource, waveSize int) (pid int, err error)

// UploadHandler implements POST /runs (spec §4.12 "Upload-and-spawn").
type UploadHandler struct {
	Store   *filestore.Store
	Weights remediation.ServiceWeights
	Spawn   SpawnFunc
	Logger  *slog.Logger
}

func (h *UploadHandler) logger() *slog.Logger {
	if h.Logger != nil {
		return h.Logger
	}
	return slog.Default()
}

type uploadResponse struct {
	RunID  string `json:"run_id"`
	Status string `json:"status"`
}

// ServeHTTP parses the multipart upload, validates it, persists the CSV,
// writes the starting bootstrap marker, and spawns the run supervisor.
func (h *UploadHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		writeError(w, http.StatusBadRequest, "upload exceeds the 10MB limit or is malformed: "+err.Error())
		return
	}

	file, _, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "missing \"file\" multipart field")
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to read upload: "+err.Error())
		return
	}

	waveSize := defaultWaveSize
	if v := r.FormValue("wave_size"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > 100 {
			writeError(w, http.StatusBadRequest, "wave_size must be an integer in [1, 100]")
			return
		}
		waveSize = n
	}

	mode := remediation.DataSource(strings.ToLower(r.FormValue("mode")))
	if mode == "" {
		mode = remediation.DataSourceMock
	}
	if mode != remediation.DataSourceMock && mode != remediation.DataSourceLive && mode != remediation.DataSourceHybrid {
		writeError(w, http.StatusBadRequest, "mode must be one of mock, live, hybrid")
		return
	}

	result, err := remediation.IngestCSV(bytes.NewReader(data), h.Weights, h.logger())
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if len(result.Findings) > maxUploadRows {
		writeError(w, http.StatusBadRequest, "CSV exceeds the 5000-row limit")
		return
	}

	runID := newRunID()
	runDir := h.Store.RunDir(runID)
	if err := os.MkdirAll(runDir, 0o755); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to create run directory")
		return
	}
	if err := filestore.WriteAtomicFile(runDir+"/findings.csv", data); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to persist uploaded CSV")
		return
	}

	bootstrap := Bootstrap{Status: BootstrapStarting, StartedAt: time.Now().UTC().Format(time.RFC3339), RunID: runID}
	if err := writeBootstrap(h.Store, bootstrap); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to write bootstrap marker")
		return
	}

	pid, spawnErr := h.Spawn(runID, mode, waveSize)
	if spawnErr != nil {
		bootstrap.Status = BootstrapFailedToSpawn
		bootstrap.Error = spawnErr.Error()
		_ = writeBootstrap(h.Store, bootstrap)
		writeError(w, http.StatusInternalServerError, "failed to spawn run: "+spawnErr.Error())
		return
	}

	bootstrap.Status = BootstrapStarted
	bootstrap.PID = pid
	_ = writeBootstrap(h.Store, bootstrap)
	_ = writePIDFile(h.Store, runID, pid)

	writeJSON(w, http.StatusCreated, uploadResponse{RunID: runID, Status: "started"})
}

// newRunID generates spec §4.12's 8-character run id from a UUID's leading
// hex digits.
func newRunID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
}

// Spawn re-execs the current binary as `<self> -worker-run <id> -mode <m>
// -wave-size <n>`, detached from this process's controlling terminal, and
// returns its pid. Grounded in the teacher's cmd/conductor self-reexec
// background-mode pattern.
func Spawn(stateDir string) SpawnFunc {
	return func(runID string, mode remediation.DataSource, waveSize int) (int, error) {
		self, err := os.Executable()
		if err != nil {
			return 0, err
		}

		cmd := exec.Command(self,
			"-worker-run", runID,
			"-mode", string(mode),
			"-wave-size", strconv.Itoa(waveSize),
			"-state-dir", stateDir,
		)
		cmd.Stdout = nil
		cmd.Stderr = nil
		cmd.Stdin = nil
		detach(cmd)

		if err := cmd.Start(); err != nil {
			return 0, err
		}
		pid := cmd.Process.Pid
		go cmd.Wait() // reap the child when it eventually exits; we don't wait on its result
		return pid, nil
	}
}
