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

package sessionmgr

import (
	"context"
	"log/slog"

	"github.com/remedyrun/remedy/pkg/agentbackend"
	"github.com/remedyrun/remedy/pkg/ledger"
	"github.com/remedyrun/remedy/pkg/memory"
	"github.com/remedyrun/remedy/pkg/remediation"
)

// Manager constructs prompts, memoizes create_session through the ledger,
// and interprets backend status for the wave scheduler. In hybrid mode it
// holds both backends and routes each session by its resolved data source
// (spec §4.10 "both live and simulated in hybrid").
type Manager struct {
	live           agentbackend.Backend
	mock           agentbackend.Backend
	ledger         *ledger.Ledger
	memory         *memory.Graph
	connectedRepos []string
	maxACU         int
	logger         *slog.Logger
}

// New constructs a Manager bound to one run's ledger and memory graph,
// dispatching every session against a single backend regardless of data
// source. Hybrid runs use NewHybrid instead.
func New(backend agentbackend.Backend, led *ledger.Ledger, mem *memory.Graph, connectedRepos []string, maxACU int, logger *slog.Logger) *Manager {
	return NewHybrid(backend, backend, led, mem, connectedRepos, maxACU, logger)
}

// NewHybrid constructs a Manager that routes live-designated sessions to
// live and mock-designated sessions to mock.
func NewHybrid(live, mock agentbackend.Backend, led *ledger.Ledger, mem *memory.Graph, connectedRepos []string, maxACU int, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		live:           live,
		mock:           mock,
		ledger:         led,
		memory:         mem,
		connectedRepos: connectedRepos,
		maxACU:         maxACU,
		logger:         logger,
	}
}

// backendFor routes a resolved data source to its backend.
func (m *Manager) backendFor(ds remediation.DataSource) agentbackend.Backend {
	if ds == remediation.DataSourceMock {
		return m.mock
	}
	return m.live
}

// DispatchResult is the outcome of Dispatch: either a ledger hit (session
// already exists for this key) or a freshly created session.
type DispatchResult struct {
	SessionID  string
	URL        string
	IdempotencyHit bool
	DataSource remediation.DataSource
}

// Dispatch memoizes create_session for (runID, finding, attempt) through
// the idempotency ledger, building the prompt (with memory context, when
// available) only on a ledger miss. mode may be the run-level mode or an
// already-resolved per-session data source; hybrid is re-resolved against
// the connected repo list either way.
func (m *Manager) Dispatch(ctx context.Context, runID string, mode remediation.DataSource, f remediation.Finding, playbookID string, attempt int) (DispatchResult, error) {
	key := ledger.Key(runID, f.ID, attempt)
	dataSource := SelectDataSource(mode, m.connectedRepos, f)

	if sessionID, ok := m.ledger.Lookup(key); ok {
		m.logger.Info("idempotency ledger hit", "key", key, "session_id", sessionID)
		return DispatchResult{SessionID: sessionID, IdempotencyHit: true, DataSource: dataSource}, nil
	}

	var citations []memory.Citation
	if m.memory != nil {
		citations = m.memory.Retrieve(memory.Query{Category: f.Category, Service: f.ServiceName, Severity: f.Severity}, 3)
	}
	prompt := BuildPrompt(f, citations)

	result, err := m.backendFor(dataSource).CreateSession(ctx, agentbackend.CreateSessionRequest{
		Prompt:      prompt,
		PlaybookID:  playbookID,
		Tags:        []string{"finding_id=" + f.ID, "run_id=" + runID},
		MaxACULimit: m.maxACU,
		Idempotent:  true,
	})
	if err != nil {
		return DispatchResult{}, err
	}

	if err := m.ledger.Upsert(key, result.SessionID); err != nil {
		m.logger.Warn("failed to persist idempotency ledger entry", "key", key, "error", err)
	}

	return DispatchResult{SessionID: result.SessionID, URL: result.URL, DataSource: dataSource}, nil
}

// Poll fetches the owning backend's current view of a session.
func (m *Manager) Poll(ctx context.Context, ds remediation.DataSource, sessionID string) (agentbackend.SessionSnapshot, error) {
	return m.backendFor(ds).GetSession(ctx, sessionID)
}

// Terminate issues a best-effort terminate_session call against the
// session's owning backend.
func (m *Manager) Terminate(ctx context.Context, ds remediation.DataSource, sessionID string) error {
	return m.backendFor(ds).TerminateSession(ctx, sessionID)
}

// InterpretStatus maps a backend status onto the internal lifecycle state
// per spec §4.2's mapping table. blocked maps to BLOCKED; promotion to
// FAILED on timeout is the scheduler's responsibility (it owns the
// timeout clock), not this mapping's.
func InterpretStatus(status agentbackend.Status) remediation.LifecycleState {
	switch status {
	case agentbackend.StatusWorking, agentbackend.StatusResumed, agentbackend.StatusResumeRequested, agentbackend.StatusSuspendRequested:
		return remediation.StateWorking
	case agentbackend.StatusDispatched:
		return remediation.StateDispatched
	case agentbackend.StatusFinished:
		return remediation.StateSuccess
	case agentbackend.StatusBlocked:
		return remediation.StateBlocked
	case agentbackend.StatusExpired:
		return remediation.StateTimeout
	default:
		return remediation.StateWorking
	}
}
