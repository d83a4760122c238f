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
	"math"
	"sort"
	"time"

	"github.com/remedyrun/remedy/pkg/remediation"
)

// CategoryMetrics is one row of the GET /eval response (spec §6
// "Evaluation metrics").
type CategoryMetrics struct {
	Category        remediation.Category `json:"category"`
	Total           int                  `json:"total"`
	Succeeded       int                  `json:"succeeded"`
	Failed          int                  `json:"failed"`
	PassRate        *float64             `json:"pass_rate"`
	AvgDurationMins *float64             `json:"avg_duration_minutes"`
	RetryCount      int                  `json:"retry_count"`
	AvgConfidence   *float64             `json:"avg_confidence"`
	Health          string               `json:"health"`
}

var healthSeverity = map[string]int{
	"critical":          0,
	"degraded":          1,
	"insufficient_data": 2,
	"healthy":           3,
}

// Evaluate computes per-category metrics from a run, sorted by health
// severity (critical first).
func Evaluate(run *remediation.BatchRun) []CategoryMetrics {
	byCategory := make(map[remediation.Category][]*remediation.RemediationSession)
	for _, s := range run.AllSessions() {
		byCategory[s.Finding.Category] = append(byCategory[s.Finding.Category], s)
	}

	out := make([]CategoryMetrics, 0, len(byCategory))
	for category, sessions := range byCategory {
		out = append(out, evaluateCategory(category, sessions))
	}

	sort.Slice(out, func(i, j int) bool {
		return healthSeverity[out[i].Health] < healthSeverity[out[j].Health]
	})
	return out
}

func evaluateCategory(category remediation.Category, sessions []*remediation.RemediationSession) CategoryMetrics {
	m := CategoryMetrics{Category: category, Total: len(sessions)}

	var durations []float64
	var confidenceSum float64
	var confidenceCount int

	for _, s := range sessions {
		switch s.State {
		case remediation.StateSuccess:
			m.Succeeded++
		case remediation.StateFailed, remediation.StateTimeout, remediation.StateBlocked:
			m.Failed++
		}
		if s.Attempt > 1 {
			m.RetryCount++
		}
		if s.CompletedAt != nil && !s.CreatedAt.IsZero() {
			durations = append(durations, s.CompletedAt.Sub(s.CreatedAt).Minutes())
		}
		if s.Output != nil && s.Output.Confidence != "" {
			if w, ok := confidenceWeight(s.Output.Confidence); ok {
				confidenceSum += w
				confidenceCount++
			}
		}
	}

	if m.Total > 0 {
		rate := float64(m.Succeeded) / float64(m.Total)
		m.PassRate = &rate
	}
	if len(durations) > 0 {
		avg := average(durations)
		m.AvgDurationMins = &avg
	}
	if confidenceCount > 0 {
		avg := confidenceSum / float64(confidenceCount)
		m.AvgConfidence = &avg
	}

	m.Health = healthLabel(m.Total, m.PassRate)
	return m
}

func confidenceWeight(c string) (float64, bool) {
	switch c {
	case "high":
		return 1.0, true
	case "medium":
		return 0.5, true
	case "low":
		return 0.25, true
	}
	return 0, false
}

func healthLabel(total int, passRate *float64) string {
	if total < 3 {
		return "insufficient_data"
	}
	if passRate == nil {
		return "insufficient_data"
	}
	switch {
	case *passRate >= 0.8:
		return "healthy"
	case *passRate >= 0.5:
		return "degraded"
	default:
		return "critical"
	}
}

// OpsMetrics is the GET /ops response (spec §6 "Operational metrics").
// Every field is a pointer so an empty-input metric serializes as null.
type OpsMetrics struct {
	P50DurationMins       *float64 `json:"p50_duration_minutes"`
	P95DurationMins       *float64 `json:"p95_duration_minutes"`
	AvgDurationMins       *float64 `json:"avg_duration_minutes"`
	MinDurationMins       *float64 `json:"min_duration_minutes"`
	MaxDurationMins       *float64 `json:"max_duration_minutes"`
	SessionsPerHour       *float64 `json:"sessions_per_hour"`
	ProjectedRemainingMin *float64 `json:"projected_remaining_minutes"`
	EstimatedACUUsed      *float64 `json:"estimated_compute_units_used"`
	EstimatedBudget       *float64 `json:"estimated_budget"`
	BurnRatePerHour       *float64 `json:"burn_rate_per_hour"`
	CurrentWave           *int     `json:"current_wave"`
	ElapsedMinutes        *float64 `json:"elapsed_minutes"`
}

// minElapsedGuard is the minimum elapsed time before a throughput estimate
// is considered meaningful rather than noise from a just-started run.
const minElapsedGuard = time.Minute

// Operationalize computes run-wide timing/throughput/budget metrics.
func Operationalize(run *remediation.BatchRun, maxUnitsPerSession float64, now time.Time) OpsMetrics {
	var m OpsMetrics

	var durations []float64
	var acuUsed float64
	terminalCount := 0
	for _, s := range run.AllSessions() {
		if !s.State.IsTerminal() || s.CompletedAt == nil || s.CreatedAt.IsZero() {
			continue
		}
		d := s.CompletedAt.Sub(s.CreatedAt).Minutes()
		durations = append(durations, d)
		acuUsed += d / 15
		terminalCount++
	}

	if len(durations) > 0 {
		sorted := append([]float64(nil), durations...)
		sort.Float64s(sorted)
		p50 := nearestRank(sorted, 0.50)
		p95 := nearestRank(sorted, 0.95)
		avg := average(sorted)
		min := sorted[0]
		max := sorted[len(sorted)-1]
		m.P50DurationMins = &p50
		m.P95DurationMins = &p95
		m.AvgDurationMins = &avg
		m.MinDurationMins = &min
		m.MaxDurationMins = &max
		units := acuUsed
		m.EstimatedACUUsed = &units
	}

	elapsed := now.Sub(run.StartedAt).Minutes()
	if !run.StartedAt.IsZero() {
		m.ElapsedMinutes = &elapsed
	}

	if elapsed >= minElapsedGuard.Minutes() && terminalCount > 0 {
		perHour := float64(terminalCount) / (elapsed / 60)
		m.SessionsPerHour = &perHour
		m.BurnRatePerHour = &perHour

		remaining := run.TotalFindings - run.Completed
		if remaining > 0 && perHour > 0 {
			projected := float64(remaining) / perHour * 60
			m.ProjectedRemainingMin = &projected
		}
	}

	if run.TotalFindings > 0 && maxUnitsPerSession > 0 {
		budget := float64(run.TotalFindings) * maxUnitsPerSession
		m.EstimatedBudget = &budget
	}

	if wave := currentWave(run); wave > 0 {
		m.CurrentWave = &wave
	}

	return m
}

// currentWave returns the highest wave number containing any non-pending
// session.
func currentWave(run *remediation.BatchRun) int {
	highest := 0
	for _, w := range run.Waves {
		for _, s := range w.Sessions {
			if s.State != remediation.StatePending && w.Number > highest {
				highest = w.Number
			}
		}
	}
	return highest
}

func average(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	var sum float64
	for _, x := range xs {
		sum += x
	}
	return sum / float64(len(xs))
}

// nearestRank implements the nearest-rank percentile method spec §6
// requires: index = ceil(p * n), 1-indexed, clamped to [1, n].
func nearestRank(sorted []float64, p float64) float64 {
	n := len(sorted)
	rank := int(math.Ceil(p * float64(n)))
	if rank < 1 {
		rank = 1
	}
	if rank > n {
		rank = n
	}
	return sorted[rank-1]
}
