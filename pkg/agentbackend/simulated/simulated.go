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

// Package simulated provides a deterministic fake of the agent backend
// for mock/hybrid runs (spec §4.2): given a session's creation time, it
// computes the stage the session "would" be in as wall time advances,
// without any network I/O.
package simulated

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/remedyrun/remedy/pkg/agentbackend"
	"github.com/remedyrun/remedy/pkg/remedyerr"
)

// stage is one step of the deterministic progression.
type stage struct {
	name   string
	status agentbackend.Status
	after  time.Duration // cumulative time since creation at which this stage begins
}

// Config controls the pacing of the simulated progression and the
// seeded failure rate.
type Config struct {
	// StageDuration is how long each of the four active stages
	// (analyzing, fixing, testing, creating_pr) takes before advancing.
	// Default: 5s, fast enough for tests, slow enough to observe polling.
	StageDuration time.Duration

	// FailureRate is the fraction of sessions designated as failures at
	// creation time (stall at "testing" with a blocked status). Default
	// 0.15 per spec §4.2.
	FailureRate float64

	// Seed makes the failure designation reproducible across a run.
	Seed int64
}

func (c Config) withDefaults() Config {
	if c.StageDuration <= 0 {
		c.StageDuration = 5 * time.Second
	}
	if c.FailureRate <= 0 {
		c.FailureRate = 0.15
	}
	return c
}

type session struct {
	id         string
	createdAt  time.Time
	isFailure  bool
	playbookID string
	tags       []string
	prURL      string
	terminated bool
}

// Backend is the simulated agentbackend.Backend.
type Backend struct {
	cfg Config
	rng *rand.Rand

	mu       sync.Mutex
	sessions map[string]*session
}

// New creates a simulated backend with the given configuration.
func New(cfg Config) *Backend {
	cfg = cfg.withDefaults()
	seed := cfg.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return &Backend{
		cfg:      cfg,
		rng:      rand.New(rand.NewSource(seed)),
		sessions: make(map[string]*session),
	}
}

func (b *Backend) CreateSession(_ context.Context, req agentbackend.CreateSessionRequest) (agentbackend.CreateSessionResult, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := "sim-" + uuid.NewString()
	isFailure := b.rng.Float64() < b.cfg.FailureRate

	b.sessions[id] = &session{
		id:         id,
		createdAt:  time.Now(),
		isFailure:  isFailure,
		playbookID: req.PlaybookID,
		tags:       req.Tags,
	}

	return agentbackend.CreateSessionResult{
		SessionID: id,
		URL:       fmt.Sprintf("https://sim.invalid/sessions/%s", id),
		IsNew:     true,
	}, nil
}

// stages describes the deterministic progression timeline, expressed as
// cumulative offsets from creation.
func (b *Backend) stages() []stage {
	d := b.cfg.StageDuration
	return []stage{
		{"analyzing", agentbackend.StatusWorking, 0},
		{"fixing", agentbackend.StatusWorking, d},
		{"testing", agentbackend.StatusWorking, 2 * d},
		{"creating_pr", agentbackend.StatusWorking, 3 * d},
		{"finished", agentbackend.StatusFinished, 4 * d},
	}
}

func (b *Backend) GetSession(_ context.Context, sessionID string) (agentbackend.SessionSnapshot, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	s, ok := b.sessions[sessionID]
	if !ok {
		return agentbackend.SessionSnapshot{}, remedyerr.Wrapf(remedyerr.ErrNotFound, "simulated session %s", sessionID)
	}
	return b.snapshotLocked(s), nil
}

// snapshotLocked computes s's current snapshot; b.mu must be held.
func (b *Backend) snapshotLocked(s *session) agentbackend.SessionSnapshot {
	if s.terminated {
		return agentbackend.SessionSnapshot{Status: agentbackend.StatusExpired}
	}

	elapsed := time.Since(s.createdAt)
	stages := b.stages()

	current := stages[0]
	currentIdx := 0
	for i, st := range stages {
		if elapsed >= st.after {
			current = st
			currentIdx = i
		}
	}

	// Failure sessions stall at "testing" with a blocked status instead
	// of progressing to creating_pr/finished.
	if s.isFailure && stages[currentIdx].name == "testing" {
		return agentbackend.SessionSnapshot{
			Status: agentbackend.StatusBlocked,
			StructuredOutput: map[string]any{
				"finding_id":   s.tagValue("finding_id"),
				"status":       "testing",
				"progress_pct": 60,
				"current_step": "running regression suite",
			},
		}
	}
	if s.isFailure && currentIdx > indexOfStage(stages, "testing") {
		// Past testing but marked a failure: keep reporting blocked at
		// the testing boundary rather than advancing further.
		return agentbackend.SessionSnapshot{
			Status: agentbackend.StatusBlocked,
			StructuredOutput: map[string]any{
				"finding_id":   s.tagValue("finding_id"),
				"status":       "testing",
				"progress_pct": 60,
				"current_step": "blocked: regression failures persist",
			},
		}
	}

	snap := agentbackend.SessionSnapshot{
		Status: current.status,
		StructuredOutput: map[string]any{
			"finding_id":   s.tagValue("finding_id"),
			"status":       current.name,
			"progress_pct": progressFor(current.name),
			"current_step": current.name,
		},
	}

	if current.name == "finished" {
		if s.prURL == "" {
			s.prURL = fmt.Sprintf("https://git.invalid/pulls/%s", s.id)
		}
		snap.PullRequestURL = s.prURL
		snap.StructuredOutput["pr_url"] = s.prURL
		snap.StructuredOutput["status"] = "completed"
		snap.StructuredOutput["confidence"] = "high"
		snap.StructuredOutput["tests_passed"] = true
	}

	return snap
}

func indexOfStage(stages []stage, name string) int {
	for i, s := range stages {
		if s.name == name {
			return i
		}
	}
	return -1
}

func progressFor(stageName string) int {
	switch stageName {
	case "analyzing":
		return 10
	case "fixing":
		return 40
	case "testing":
		return 60
	case "creating_pr":
		return 85
	case "finished":
		return 100
	default:
		return 0
	}
}

func (s *session) tagValue(key string) string {
	prefix := key + "="
	for _, t := range s.tags {
		if len(t) > len(prefix) && t[:len(prefix)] == prefix {
			return t[len(prefix):]
		}
	}
	return ""
}

func (b *Backend) ListSessions(_ context.Context, tags []string, limit, offset int) ([]agentbackend.SessionSummary, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	var out []agentbackend.SessionSummary
	for _, s := range b.sessions {
		if !hasAllTags(s.tags, tags) {
			continue
		}
		snap := b.snapshotLocked(s)
		out = append(out, agentbackend.SessionSummary{SessionID: s.id, Status: snap.Status, Tags: s.tags})
	}
	if offset > len(out) {
		return []agentbackend.SessionSummary{}, nil
	}
	out = out[offset:]
	if limit > 0 && limit < len(out) {
		out = out[:limit]
	}
	return out, nil
}

func hasAllTags(have, want []string) bool {
	set := make(map[string]struct{}, len(have))
	for _, t := range have {
		set[t] = struct{}{}
	}
	for _, w := range want {
		if _, ok := set[w]; !ok {
			return false
		}
	}
	return true
}

func (b *Backend) SendMessage(_ context.Context, sessionID, _ string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.sessions[sessionID]; !ok {
		return remedyerr.Wrapf(remedyerr.ErrNotFound, "simulated session %s", sessionID)
	}
	return nil
}

func (b *Backend) TerminateSession(_ context.Context, sessionID string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	s, ok := b.sessions[sessionID]
	if !ok {
		return remedyerr.Wrapf(remedyerr.ErrNotFound, "simulated session %s", sessionID)
	}
	s.terminated = true
	return nil
}

func (b *Backend) CreatePlaybook(_ context.Context, title, _ string) (agentbackend.Playbook, error) {
	return agentbackend.Playbook{PlaybookID: "sim-playbook-" + uuid.NewString(), Title: title}, nil
}

func (b *Backend) ListPlaybooks(_ context.Context) ([]agentbackend.Playbook, error) {
	return nil, nil
}

// CreatedAt implements agentbackend.CreatedAtOf.
func (b *Backend) CreatedAt(sessionID string) (time.Time, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	s, ok := b.sessions[sessionID]
	if !ok {
		return time.Time{}, false
	}
	return s.createdAt, true
}

var _ agentbackend.Backend = (*Backend)(nil)
