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
	"net/http"
	"strconv"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/remedyrun/remedy/pkg/remediation"
)

// PromMetrics exposes the run engine's counters/histograms over GET
// /metrics (SPEC_FULL.md §2's C7/C12 Prometheus exposition), additive to
// the JSON /eval and /ops views spec.md already specifies.
type PromMetrics struct {
	SessionsDispatched *prometheus.CounterVec
	SessionDuration    *prometheus.HistogramVec
	WaveGated          prometheus.Counter
	RetryCount         prometheus.Counter
	registry           *prometheus.Registry

	mu       sync.Mutex
	seen     map[string]struct{} // dedupes ObserveRun against sessions/waves already counted
	gatedSeen map[int]struct{}
}

// NewPromMetrics registers every collector against a fresh registry so
// repeated test construction doesn't panic on duplicate registration.
func NewPromMetrics() *PromMetrics {
	reg := prometheus.NewRegistry()

	m := &PromMetrics{
		SessionsDispatched: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "remedy_sessions_dispatched_total",
			Help: "Count of dispatched remediation sessions that reached a terminal state, by data source.",
		}, []string{"data_source"}),
		SessionDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "remedy_session_duration_minutes",
			Help:    "Session duration from dispatch to terminal state, in minutes.",
			Buckets: []float64{1, 5, 15, 30, 60, 90, 120},
		}, []string{"category", "outcome"}),
		WaveGated: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "remedy_wave_gated_total",
			Help: "Count of waves that triggered the success-rate gate.",
		}),
		RetryCount: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "remedy_session_retries_total",
			Help: "Count of sessions redispatched under a new attempt.",
		}),
		registry:  reg,
		seen:      make(map[string]struct{}),
		gatedSeen: make(map[int]struct{}),
	}

	reg.MustRegister(m.SessionsDispatched, m.SessionDuration, m.WaveGated, m.RetryCount)
	return m
}

// Handler returns the /metrics HTTP handler for this registry.
func (m *PromMetrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func sessionObservationKey(runID string, s *remediation.RemediationSession) string {
	return runID + "/" + s.Finding.ID + "/" + strconv.Itoa(s.Attempt)
}

// ObserveRun scans run's sessions and waves and records each session that
// has reached a terminal state with a completion time (its dispatch count,
// retry count and duration), and each gated wave, exactly once; sessions
// still in flight are not counted yet. This holds no matter how many times ObserveRun is called against the same
// (and growing) run — safe to call from every tracker event rather than
// only at run completion.
func (m *PromMetrics) ObserveRun(run *remediation.BatchRun) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, w := range run.Waves {
		if w.Status == remediation.WaveStatusGated {
			if _, ok := m.gatedSeen[w.Number]; !ok {
				m.gatedSeen[w.Number] = struct{}{}
				m.WaveGated.Inc()
			}
		}
		for _, s := range w.Sessions {
			key := sessionObservationKey(run.RunID, s)
			if _, ok := m.seen[key]; ok {
				continue
			}
			if !s.State.IsTerminal() || s.CompletedAt == nil {
				continue
			}
			m.seen[key] = struct{}{}

			m.SessionsDispatched.WithLabelValues(string(s.DataSource)).Inc()
			if s.Attempt > 1 {
				m.RetryCount.Inc()
			}
			outcome := "failure"
			if s.State == remediation.StateSuccess {
				outcome = "success"
			}
			m.SessionDuration.WithLabelValues(string(s.Finding.Category), outcome).
				Observe(s.CompletedAt.Sub(s.CreatedAt).Minutes())
		}
	}
}
