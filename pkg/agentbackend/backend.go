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

// Package agentbackend defines the abstract contract for the remote coding
// agent platform (spec §4.2): a fixed operation set with two
// implementations, a real HTTP+Bearer backend and a deterministic
// simulated one, exposing identical semantics to callers.
package agentbackend

import (
	"context"
	"time"
)

// Status is the agent platform's reported session status (spec §6's wire
// protocol enum).
type Status string

const (
	StatusWorking          Status = "working"
	StatusBlocked          Status = "blocked"
	StatusExpired          Status = "expired"
	StatusFinished         Status = "finished"
	StatusSuspendRequested Status = "suspend_requested"
	StatusResumeRequested  Status = "resume_requested"
	StatusResumed          Status = "resumed"
	StatusDispatched       Status = "dispatched"
)

// CreateSessionRequest is the input to CreateSession.
type CreateSessionRequest struct {
	Prompt                 string
	PlaybookID             string
	Tags                   []string
	StructuredOutputSchema map[string]any
	MaxACULimit            int
	Idempotent             bool
}

// CreateSessionResult is the output of CreateSession.
type CreateSessionResult struct {
	SessionID string
	URL       string
	IsNew     bool
}

// SessionSnapshot is the output of GetSession: the backend's current view
// of a session, mapped onto the wire status enum. Callers translate this
// into the internal lifecycle state via spec §4.2's mapping table.
type SessionSnapshot struct {
	Status           Status
	StructuredOutput map[string]any
	PullRequestURL   string
}

// SessionSummary is one row returned by ListSessions.
type SessionSummary struct {
	SessionID string
	Status    Status
	Tags      []string
}

// Playbook identifies a per-category instruction document registered with
// the backend.
type Playbook struct {
	PlaybookID string
	Title      string
}

// Backend is the polymorphic contract every agent platform implementation
// satisfies: remote (pkg/agentbackend/remote) and simulated
// (pkg/agentbackend/simulated).
type Backend interface {
	CreateSession(ctx context.Context, req CreateSessionRequest) (CreateSessionResult, error)
	GetSession(ctx context.Context, sessionID string) (SessionSnapshot, error)
	ListSessions(ctx context.Context, tags []string, limit, offset int) ([]SessionSummary, error)
	SendMessage(ctx context.Context, sessionID, text string) error
	TerminateSession(ctx context.Context, sessionID string) error
	CreatePlaybook(ctx context.Context, title, body string) (Playbook, error)
	ListPlaybooks(ctx context.Context) ([]Playbook, error)
}

// CreatedAtOf is implemented by backends that can report a session's
// creation time without a round trip, used by the simulated backend's
// deterministic stage progression. Real backends need not implement it;
// the scheduler tracks created_at itself from the moment dispatch occurred.
type CreatedAtOf interface {
	CreatedAt(sessionID string) (time.Time, bool)
}
