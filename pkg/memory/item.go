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

// Package memory implements the cross-run knowledge graph (spec §4.8): a
// filesystem-backed store of narrative outcomes from terminal sessions,
// retrievable by ranked relevance to a new finding.
package memory

import (
	"time"

	"github.com/remedyrun/remedy/pkg/remediation"
)

// Outcome classifies how a terminal session resolved.
type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	OutcomeFailure Outcome = "failure"
)

// Item is a narrative record produced from one terminal session. Its id is
// {run_id}-{finding_id}, so the same finding recurring across runs produces
// distinct items rather than overwriting the prior run's record.
type Item struct {
	ItemID       string               `json:"item_id"`
	RunID        string               `json:"run_id"`
	FindingID    string               `json:"finding_id"`
	Category     remediation.Category `json:"category"`
	Service      string               `json:"service"`
	Severity     remediation.Severity `json:"severity"`
	Outcome      Outcome              `json:"outcome"`
	Confidence   string               `json:"confidence,omitempty"`
	DataSource   remediation.DataSource `json:"data_source"`
	FixApproach  string               `json:"fix_approach,omitempty"`
	FilesModified []string            `json:"files_modified,omitempty"`
	TestResults  string               `json:"test_results,omitempty"`
	PRReference  string               `json:"pr_reference,omitempty"`
	ErrorText    string               `json:"error_text,omitempty"`
	CreatedAt    time.Time            `json:"created_at"`
}

// ItemID builds the canonical id for a (run, finding) pair.
func ItemID(runID, findingID string) string {
	return runID + "-" + findingID
}

// Citation is a retrieval result's provenance, surfaced to the prompt
// builder (spec §4.5) so every injected memory item names where it came
// from and, for mock-sourced items, carries an explicit warning.
type Citation struct {
	ItemID     string  `json:"item_id"`
	RunID      string  `json:"run_id"`
	DataSource remediation.DataSource `json:"data_source"`
	Warning    string  `json:"warning,omitempty"`
	Score      float64 `json:"score"`
	Item       Item    `json:"item"`
}
