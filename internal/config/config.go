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

// Package config loads the run engine's tunables from environment
// variables (spec §6), following the teacher's env-override-defaults
// pattern: start from Default(), then let recognized environment
// variables override individual fields.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

// Config holds every tunable the run engine reads from its environment.
type Config struct {
	MaxParallelSessions    int
	MaxACUPerSession       int
	PollIntervalSeconds    int
	SessionTimeoutMinutes  int
	MinSuccessRate         float64
	WaveSize               int
	StateFilePath          string
	HybridMode             bool
	ConnectedRepos         []string
	CircuitBreakerThreshold int
	CircuitBreakerCooldownSeconds int

	// MaxRetries caps the hardened client's HTTP retries (spec §4.3);
	// SessionMaxRetries caps the scheduler's per-finding attempts (spec
	// §4.6). They default differently (3 vs 2) and are tuned separately.
	MaxRetries        int
	SessionMaxRetries int

	RetryJitterMaxSeconds int

	// Additions beyond the original env-var list (SPEC_FULL.md's domain
	// stack wiring): backend auth mode and credential source.
	BackendAWSSigV4 bool
	BackendToken    string
	BackendBaseURL  string
	MemoryDir       string
	PlaybookDir     string

	// C12 boundary surface (SPEC_FULL.md §4).
	ListenAddr    string
	JWTSecret     string
	JWTIssuer     string
	AuthEnabled   bool
	AllowedOrigin string
}

// Default returns the documented defaults for every tunable.
func Default() *Config {
	return &Config{
		MaxParallelSessions:           10,
		MaxACUPerSession:              5,
		PollIntervalSeconds:           20,
		SessionTimeoutMinutes:         90,
		MinSuccessRate:                0.7,
		WaveSize:                      10,
		StateFilePath:                 "state.json",
		HybridMode:                    false,
		ConnectedRepos:                nil,
		CircuitBreakerThreshold:       5,
		CircuitBreakerCooldownSeconds: 30,
		MaxRetries:                    3,
		SessionMaxRetries:             2,
		RetryJitterMaxSeconds:         1,
		BackendAWSSigV4:               false,
		BackendToken:                  "",
		MemoryDir:                     "memory",
		PlaybookDir:                   "playbooks",
		ListenAddr:                    ":8080",
		AuthEnabled:                   false,
	}
}

// Load builds a Config from Default() overridden by recognized
// environment variables. Malformed numeric/bool values are ignored,
// leaving the prior value in place, rather than aborting startup.
func Load() *Config {
	c := Default()
	c.loadFromEnv()
	return c
}

func (c *Config) loadFromEnv() {
	if v := os.Getenv("MAX_PARALLEL_SESSIONS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.MaxParallelSessions = n
		}
	}
	if v := os.Getenv("MAX_ACU_PER_SESSION"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.MaxACUPerSession = n
		}
	}
	if v := os.Getenv("POLL_INTERVAL_SECONDS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.PollIntervalSeconds = n
		}
	}
	if v := os.Getenv("SESSION_TIMEOUT_MINUTES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.SessionTimeoutMinutes = n
		}
	}
	if v := os.Getenv("MIN_SUCCESS_RATE"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			c.MinSuccessRate = f
		}
	}
	if v := os.Getenv("WAVE_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.WaveSize = n
		}
	}
	if v := os.Getenv("STATE_FILE_PATH"); v != "" {
		c.StateFilePath = v
	}
	if v := os.Getenv("HYBRID_MODE"); v != "" {
		c.HybridMode = v == "1" || strings.EqualFold(v, "true")
	}
	if v := os.Getenv("CONNECTED_REPOS"); v != "" {
		c.ConnectedRepos = splitAndTrim(v)
	}
	if v := os.Getenv("CIRCUIT_BREAKER_THRESHOLD"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.CircuitBreakerThreshold = n
		}
	}
	if v := os.Getenv("CIRCUIT_BREAKER_COOLDOWN_SECONDS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.CircuitBreakerCooldownSeconds = n
		}
	}
	if v := os.Getenv("MAX_RETRIES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.MaxRetries = n
		}
	}
	if v := os.Getenv("SESSION_MAX_RETRIES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.SessionMaxRetries = n
		}
	}
	if v := os.Getenv("RETRY_JITTER_MAX_SECONDS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.RetryJitterMaxSeconds = n
		}
	}
	if v := os.Getenv("REMEDY_BACKEND_AWS_SIGV4"); v != "" {
		c.BackendAWSSigV4 = v == "1" || strings.EqualFold(v, "true")
	}
	if v := os.Getenv("REMEDY_BACKEND_TOKEN"); v != "" {
		c.BackendToken = v
	}
	if v := os.Getenv("REMEDY_BACKEND_BASE_URL"); v != "" {
		c.BackendBaseURL = v
	}
	if v := os.Getenv("REMEDY_MEMORY_DIR"); v != "" {
		c.MemoryDir = v
	}
	if v := os.Getenv("REMEDY_PLAYBOOK_DIR"); v != "" {
		c.PlaybookDir = v
	}
	if v := os.Getenv("REMEDY_LISTEN_ADDR"); v != "" {
		c.ListenAddr = v
	}
	if v := os.Getenv("REMEDY_JWT_SECRET"); v != "" {
		c.JWTSecret = v
		c.AuthEnabled = true
	}
	if v := os.Getenv("REMEDY_JWT_ISSUER"); v != "" {
		c.JWTIssuer = v
	}
	if v := os.Getenv("REMEDY_ALLOWED_ORIGIN"); v != "" {
		c.AllowedOrigin = v
	}
}

func splitAndTrim(v string) []string {
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

// Validate rejects out-of-range tunables before a run starts.
func (c *Config) Validate() error {
	var errs []string

	if c.MaxParallelSessions <= 0 {
		errs = append(errs, "MAX_PARALLEL_SESSIONS must be positive")
	}
	if c.WaveSize <= 0 {
		errs = append(errs, "WAVE_SIZE must be positive")
	}
	if c.MinSuccessRate < 0 || c.MinSuccessRate > 1 {
		errs = append(errs, "MIN_SUCCESS_RATE must be in [0, 1]")
	}
	if c.MaxRetries < 0 {
		errs = append(errs, "MAX_RETRIES must be non-negative")
	}
	if c.SessionMaxRetries < 0 {
		errs = append(errs, "SESSION_MAX_RETRIES must be non-negative")
	}
	if c.HybridMode && len(c.ConnectedRepos) == 0 {
		errs = append(errs, "CONNECTED_REPOS must be non-empty when HYBRID_MODE is true")
	}

	if len(errs) > 0 {
		return fmt.Errorf("invalid configuration:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
