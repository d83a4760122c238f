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
	"log/slog"
	"net/http"
	"regexp"
	"time"

	"github.com/remedyrun/remedy/internal/review"
	"github.com/remedyrun/remedy/pkg/filestore"
	"github.com/remedyrun/remedy/pkg/remediation"
	"github.com/remedyrun/remedy/pkg/remedyerr"
)

// runIDPattern is spec §6's boundary validation for GET /runs/:id: reject
// before any filesystem access.
var runIDPattern = regexp.MustCompile(`^[A-Za-z0-9-]+$`)

// Handlers bundles the read-only derived views and the review mutation
// endpoint over one Store.
type Handlers struct {
	Store         *filestore.Store
	MaxACUPerSess int
	Logger        *slog.Logger
}

func (h *Handlers) logger() *slog.Logger {
	if h.Logger != nil {
		return h.Logger
	}
	return slog.Default()
}

// ListRuns implements GET /runs: the index, newest-last, empty array if
// absent.
func (h *Handlers) ListRuns(w http.ResponseWriter, r *http.Request) {
	index, err := h.Store.ReadIndex()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to read run index")
		return
	}
	writeJSON(w, http.StatusOK, index)
}

// GetRun implements GET /runs/:id: the full BatchRun, 400 for a malformed
// id, 404 for a missing run.
func (h *Handlers) GetRun(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if !runIDPattern.MatchString(id) {
		writeError(w, http.StatusBadRequest, "run id must match ^[A-Za-z0-9-]+$")
		return
	}

	run, err := h.Store.ReadRunState(id)
	if err != nil {
		if remedyerr.Is(err, remedyerr.ErrNotFound) {
			writeError(w, http.StatusNotFound, "run not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to read run state")
		return
	}
	writeJSON(w, http.StatusOK, run)
}

// reviewRequest is POST /sessions/:id/review's JSON body.
type reviewRequest struct {
	Action string `json:"action"`
	Reason string `json:"reason,omitempty"`
	RunID  string `json:"run_id"`
}

// Review implements POST /sessions/:id/review (spec §4.11). The reviewer
// identity comes from the request's auth context, never the body.
func (h *Handlers) Review(w http.ResponseWriter, r *http.Request) {
	sessionID := r.PathValue("id")

	var body reviewRequest
	if err := decodeJSON(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "malformed JSON body: "+err.Error())
		return
	}

	reviewer := ReviewerFromContext(r.Context())
	req := review.Request{
		RunID:      body.RunID,
		SessionID:  sessionID,
		Action:     review.Action(body.Action),
		Reason:     body.Reason,
		ReviewerID: reviewer,
	}

	sess, err := review.Apply(h.Store, req)
	if err != nil {
		switch {
		case remedyerr.Is(err, remedyerr.ErrValidation):
			writeError(w, http.StatusBadRequest, err.Error())
		case remedyerr.Is(err, remedyerr.ErrNotFound):
			writeError(w, http.StatusNotFound, err.Error())
		default:
			writeError(w, http.StatusInternalServerError, err.Error())
		}
		return
	}

	writeJSON(w, http.StatusOK, sess)
}

// Eval implements GET /eval: per-category metrics from the latest run.
func (h *Handlers) Eval(w http.ResponseWriter, r *http.Request) {
	run, err := h.latestRun()
	if err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, Evaluate(run))
}

// Ops implements GET /ops: timing/throughput/budget metrics from the
// latest run.
func (h *Handlers) Ops(w http.ResponseWriter, r *http.Request) {
	run, err := h.latestRun()
	if err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, Operationalize(run, float64(h.MaxACUPerSess), time.Now()))
}

// Status implements the deprecated GET /status legacy view: the legacy
// state pointer, with a deprecation header on every response.
func (h *Handlers) Status(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Deprecation", "true")
	w.Header().Set("Link", "</runs>; rel=\"successor-version\"")

	var run any
	if err := filestore.ReadJSON(h.Store.LegacyStatePath(), &run); err != nil {
		writeError(w, http.StatusNotFound, "no run has completed yet")
		return
	}
	writeJSON(w, http.StatusOK, run)
}

// latestRun returns the newest run in the index's persisted state, used by
// the /eval and /ops aggregation endpoints.
func (h *Handlers) latestRun() (*remediation.BatchRun, error) {
	index, err := h.Store.ReadIndex()
	if err != nil {
		return nil, remedyerr.Wrap(err, "reading run index")
	}
	if len(index) == 0 {
		return nil, remedyerr.Wrap(remedyerr.ErrNotFound, "no runs have been started")
	}
	latest := index[len(index)-1]
	return h.Store.ReadRunState(latest.RunID)
}
