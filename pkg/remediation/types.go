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

// Package remediation holds the core domain model for the remediation run
// engine: findings ingested from a scanner export, the sessions dispatched
// to remediate them, and the wave/run aggregates that group sessions.
package remediation

import (
	"strconv"
	"time"
)

// Severity is the scanner-reported severity of a Finding.
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityHigh     Severity = "high"
	SeverityMedium   Severity = "medium"
	SeverityLow      Severity = "low"
)

// ValidSeverity reports whether s is a recognized severity value.
func ValidSeverity(s Severity) bool {
	switch s {
	case SeverityCritical, SeverityHigh, SeverityMedium, SeverityLow:
		return true
	}
	return false
}

// Category is the scanner-reported finding category.
type Category string

const (
	CategorySQLInjection            Category = "sql_injection"
	CategoryHardcodedSecret         Category = "hardcoded_secret"
	CategoryDependencyVulnerability Category = "dependency_vulnerability"
	CategoryPIILogging              Category = "pii_logging"
	CategoryMissingEncryption       Category = "missing_encryption"
	CategoryXSS                     Category = "xss"
	CategoryPathTraversal           Category = "path_traversal"
	CategoryAccessLogging           Category = "access_logging"
	CategoryOther                   Category = "other"
)

// ValidCategory reports whether c is a recognized category value.
func ValidCategory(c Category) bool {
	switch c {
	case CategorySQLInjection, CategoryHardcodedSecret, CategoryDependencyVulnerability,
		CategoryPIILogging, CategoryMissingEncryption, CategoryXSS,
		CategoryPathTraversal, CategoryAccessLogging, CategoryOther:
		return true
	}
	return false
}

// DataSource identifies whether a session ran against the real remote
// backend or the simulated one.
type DataSource string

const (
	DataSourceLive   DataSource = "live"
	DataSourceMock   DataSource = "mock"
	DataSourceHybrid DataSource = "hybrid"
)

// Finding is an immutable input record produced by the (external) ingest
// step. The core never mutates a Finding after construction.
type Finding struct {
	ID              string   `json:"finding_id"`
	Scanner         string   `json:"scanner"`
	Category        Category `json:"category"`
	Severity        Severity `json:"severity"`
	Title           string   `json:"title"`
	Description     string   `json:"description"`
	ServiceName     string   `json:"service_name"`
	RepoURL         string   `json:"repo_url"`
	FilePath        string   `json:"file_path"`
	LineNumber      *int     `json:"line_number,omitempty"`
	CWE             string   `json:"cwe_id,omitempty"`
	DependencyName  string   `json:"dependency_name,omitempty"`
	CurrentVersion  string   `json:"current_version,omitempty"`
	FixedVersion    string   `json:"fixed_version,omitempty"`
	Language        string   `json:"language,omitempty"`
	PriorityScore   int      `json:"priority_score"`
}

// dedupKey returns the deduplication key from spec §6:
// (service_name, file_path, line_number, category).
func (f Finding) dedupKey() string {
	line := ""
	if f.LineNumber != nil {
		line = strconv.Itoa(*f.LineNumber)
	}
	return f.ServiceName + "\x00" + f.FilePath + "\x00" + line + "\x00" + string(f.Category)
}

// LifecycleState is the internal lifecycle of one RemediationSession,
// derived from the agent backend's status via the mapping in spec §4.2.
type LifecycleState string

const (
	StatePending    LifecycleState = "PENDING"
	StateDispatched LifecycleState = "DISPATCHED"
	StateWorking    LifecycleState = "WORKING"
	StateBlocked    LifecycleState = "BLOCKED"
	StateSuccess    LifecycleState = "SUCCESS"
	StateFailed     LifecycleState = "FAILED"
	StateTimeout    LifecycleState = "TIMEOUT"
)

// IsTerminal reports whether s is one of the three terminal states.
func (s LifecycleState) IsTerminal() bool {
	switch s {
	case StateSuccess, StateFailed, StateTimeout:
		return true
	}
	return false
}

// ReviewStatus is the human review outcome recorded against a session.
type ReviewStatus string

const (
	ReviewPending  ReviewStatus = "pending"
	ReviewApproved ReviewStatus = "approved"
	ReviewRejected ReviewStatus = "rejected"
)

// StructuredOutput is the rolling status document a session emits, per the
// contract in spec §4.5. Only the documented keys are interpreted; anything
// else the backend reports is preserved in Extra.
type StructuredOutput struct {
	FindingID    string         `json:"finding_id"`
	Status       string         `json:"status"`
	ProgressPct  int            `json:"progress_pct"`
	CurrentStep  string         `json:"current_step"`
	FixApproach  string         `json:"fix_approach,omitempty"`
	FilesModified []string      `json:"files_modified,omitempty"`
	TestsPassed  *bool          `json:"tests_passed,omitempty"`
	TestsAdded   int            `json:"tests_added,omitempty"`
	PRUrl        string         `json:"pr_url,omitempty"`
	ErrorMessage string         `json:"error_message,omitempty"`
	Confidence   string         `json:"confidence,omitempty"`
	Extra        map[string]any `json:"-"`
}

// RemediationSession is the mutable per-(finding, attempt) state. It is
// created by the wave scheduler and mutated only by the scheduler (status,
// ids) and the review path (review fields, version).
type RemediationSession struct {
	SessionID    string            `json:"session_id,omitempty"`
	Finding      Finding           `json:"finding"`
	PlaybookID   string            `json:"playbook_id"`
	State        LifecycleState    `json:"state"`
	BackendURL   string            `json:"backend_url,omitempty"`
	PRUrl        string            `json:"pr_url,omitempty"`
	Output       *StructuredOutput `json:"structured_output,omitempty"`
	WaveNumber   int               `json:"wave_number"`
	Attempt      int               `json:"attempt"`
	CreatedAt    time.Time         `json:"created_at"`
	CompletedAt  *time.Time        `json:"completed_at,omitempty"`
	ErrorMessage string            `json:"error_message,omitempty"`
	DataSource   DataSource        `json:"data_source"`
	Version      int64             `json:"version"`

	ReviewStatus ReviewStatus `json:"review_status,omitempty"`
	ReviewerID   string       `json:"reviewer_id,omitempty"`
	ReviewedAt   *time.Time   `json:"reviewed_at,omitempty"`
	ReviewReason string       `json:"review_reason,omitempty"`
}

// MatchesID reports whether id names this session for the purposes of the
// review path: either its (non-empty) backend session id or its owning
// finding id.
func (s *RemediationSession) MatchesID(id string) bool {
	if s.SessionID != "" && s.SessionID == id {
		return true
	}
	return s.Finding.ID == id
}

// WaveStatus is the aggregate status of a Wave.
type WaveStatus string

const (
	WaveStatusPending   WaveStatus = "pending"
	WaveStatusRunning   WaveStatus = "running"
	WaveStatusCompleted WaveStatus = "completed"
	WaveStatusGated     WaveStatus = "gated"
)

// Wave is an ordered, 1-indexed group of sessions dispatched together.
type Wave struct {
	Number      int                    `json:"number"`
	Status      WaveStatus             `json:"status"`
	Sessions    []*RemediationSession  `json:"sessions"`
	SuccessCount int                   `json:"success_count"`
	FailureCount int                   `json:"failure_count"`
}

// RunStatus is the aggregate status of a BatchRun.
type RunStatus string

const (
	RunStatusPending     RunStatus = "pending"
	RunStatusRunning     RunStatus = "running"
	RunStatusCompleted   RunStatus = "completed"
	RunStatusPaused      RunStatus = "paused"
	RunStatusInterrupted RunStatus = "interrupted"
)

// EventKind enumerates the timeline event kinds emitted by the scheduler
// and tracker, per spec §4.6.
type EventKind string

const (
	EventRunStarted      EventKind = "run_started"
	EventWaveStarted     EventKind = "wave_started"
	EventSessionStarted  EventKind = "session_started"
	EventSessionProgress EventKind = "session_progress"
	EventSessionCompleted EventKind = "session_completed"
	EventSessionFailed   EventKind = "session_failed"
	EventSessionRetry    EventKind = "session_retry"
	EventWaveCompleted   EventKind = "wave_completed"
	EventWaveGated       EventKind = "wave_gated"
	EventRunCompleted    EventKind = "run_completed"
	EventReviewApproved  EventKind = "review_approved"
	EventReviewRejected  EventKind = "review_rejected"
	EventIdempotencyHit  EventKind = "idempotency_hit"
)

// TimelineEvent is an append-only record in a BatchRun's timeline.
type TimelineEvent struct {
	Timestamp time.Time      `json:"timestamp"`
	Kind      EventKind      `json:"kind"`
	Message   string         `json:"message"`
	Detail    map[string]any `json:"detail,omitempty"`
}

// BatchRun is the root aggregate for one run of the engine.
type BatchRun struct {
	RunID          string          `json:"run_id"`
	StartedAt      time.Time       `json:"started_at"`
	Waves          []*Wave         `json:"waves"`
	TotalFindings  int             `json:"total_findings"`
	Completed      int             `json:"completed"`
	Successful     int             `json:"successful"`
	Failed         int             `json:"failed"`
	PRsCreated     int             `json:"prs_created"`
	Status         RunStatus       `json:"status"`
	DataSource     DataSource      `json:"data_source"`
	Timeline       []TimelineEvent `json:"timeline"`
	CSVFilename    string          `json:"csv_filename,omitempty"`
}

// AllSessions returns every session across every wave, in wave/session
// order. Retried sessions (attempt > 1) appear alongside their wave.
func (b *BatchRun) AllSessions() []*RemediationSession {
	var out []*RemediationSession
	for _, w := range b.Waves {
		out = append(out, w.Sessions...)
	}
	return out
}

// Recount recomputes Completed/Successful/Failed/PRsCreated from the
// ground-truth session states, per the invariant in spec §3 and the
// tracker's "recount, don't increment" design in spec §4.7.
func (b *BatchRun) Recount() {
	var completed, successful, failed, prs int
	for _, s := range b.AllSessions() {
		if !s.State.IsTerminal() {
			continue
		}
		completed++
		switch s.State {
		case StateSuccess:
			successful++
		case StateFailed, StateTimeout:
			failed++
		}
		if s.PRUrl != "" {
			prs++
		}
	}
	b.Completed = completed
	b.Successful = successful
	b.Failed = failed
	b.PRsCreated = prs
}

// AppendEvent appends a timeline event in observation order.
func (b *BatchRun) AppendEvent(kind EventKind, message string, detail map[string]any) {
	b.Timeline = append(b.Timeline, TimelineEvent{
		Timestamp: time.Now(),
		Kind:      kind,
		Message:   message,
		Detail:    detail,
	})
}

// RunSummary is one row of the newest-last run index.
type RunSummary struct {
	RunID         string     `json:"run_id"`
	StartedAt     time.Time  `json:"started_at"`
	Status        RunStatus  `json:"status"`
	TotalFindings int        `json:"total_findings"`
	CSVFilename   string     `json:"csv_filename,omitempty"`
	DataSource    DataSource `json:"data_source"`
}
