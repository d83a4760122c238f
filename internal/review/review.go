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

// Package review implements the review mutation path (spec §4.11): an
// out-of-process writer that records a human approve/reject decision
// against a single session inside a persisted BatchRun.
package review

import (
	"regexp"
	"time"

	"github.com/remedyrun/remedy/pkg/filestore"
	"github.com/remedyrun/remedy/pkg/remediation"
	"github.com/remedyrun/remedy/pkg/remedyerr"
)

// runIDPattern restricts run ids to a charset that cannot traverse paths
// when joined under runs/<run_id>/state.json.
var runIDPattern = regexp.MustCompile(`^[a-zA-Z0-9_-]{1,64}$`)

// Action is a reviewer's decision on a session.
type Action string

const (
	ActionApproved Action = "approved"
	ActionRejected Action = "rejected"
)

func (a Action) valid() bool {
	return a == ActionApproved || a == ActionRejected
}

// Request is one review mutation request. ReviewerID must come from the
// caller's auth context, never from request body fields the caller could
// forge.
type Request struct {
	RunID      string
	SessionID  string
	Action     Action
	Reason     string
	ReviewerID string
}

// Apply executes the lock → read → mutate → version bump → timeline
// append → atomic rename → release protocol against the run's persisted
// state. Validation failures and a not-found session return without any
// disk mutation.
func Apply(store *filestore.Store, req Request) (*remediation.RemediationSession, error) {
	if !runIDPattern.MatchString(req.RunID) {
		return nil, remedyerr.Wrap(remedyerr.ErrValidation, "invalid run id")
	}
	if req.SessionID == "" {
		return nil, remedyerr.Wrap(remedyerr.ErrValidation, "session id is required")
	}
	if !req.Action.valid() {
		return nil, remedyerr.Wrap(remedyerr.ErrValidation, "action must be approved or rejected")
	}
	if req.ReviewerID == "" {
		return nil, remedyerr.Wrap(remedyerr.ErrValidation, "reviewer identity is required")
	}

	path := store.RunStatePath(req.RunID)
	lock, err := filestore.Acquire(path, "review", filestore.LockOptions{})
	if err != nil {
		return nil, remedyerr.Wrap(err, "acquiring run state lock")
	}
	defer lock.Release()

	var run remediation.BatchRun
	if err := filestore.ReadJSON(path, &run); err != nil {
		return nil, remedyerr.Wrapf(remedyerr.ErrNotFound, "run %s", req.RunID)
	}

	sess := findSession(&run, req.SessionID)
	if sess == nil {
		return nil, remedyerr.Wrapf(remedyerr.ErrNotFound, "session %s", req.SessionID)
	}

	now := time.Now()
	switch req.Action {
	case ActionApproved:
		sess.ReviewStatus = remediation.ReviewApproved
	case ActionRejected:
		sess.ReviewStatus = remediation.ReviewRejected
	}
	sess.ReviewerID = req.ReviewerID
	sess.ReviewedAt = &now
	sess.ReviewReason = req.Reason
	sess.Version++

	kind := remediation.EventReviewApproved
	if req.Action == ActionRejected {
		kind = remediation.EventReviewRejected
	}
	run.AppendEvent(kind, "session "+req.SessionID+" "+string(req.Action)+" by "+req.ReviewerID, map[string]any{
		"session_id": req.SessionID,
		"reviewer":   req.ReviewerID,
		"reason":     req.Reason,
	})

	if err := filestore.WriteAtomicJSON(path, &run); err != nil {
		return nil, remedyerr.Wrap(err, "writing reviewed run state")
	}

	return sess, nil
}

// findSession locates a session by backend session id or, failing that,
// its owning finding id, per spec §4.11's dual-match contract.
func findSession(run *remediation.BatchRun, id string) *remediation.RemediationSession {
	for _, s := range run.AllSessions() {
		if s.MatchesID(id) {
			return s
		}
	}
	return nil
}
