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

// Package sessionmgr implements the session manager (spec §4.5): prompt
// construction, data-source selection, ledger-backed memoization of
// create_session, and status interpretation.
package sessionmgr

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/remedyrun/remedy/pkg/memory"
	"github.com/remedyrun/remedy/pkg/remediation"
)

// structuredOutputInstructions is appended to every prompt so the agent
// knows the contract its structured output must satisfy at each report.
const structuredOutputInstructions = `At every status report, emit structured output with at minimum:
finding_id, status (one of: analyzing, fixing, testing, creating_pr, completed, failed),
progress_pct (0-100), and current_step. When available also report fix_approach,
files_modified, tests_passed, tests_added, pr_url, error_message, and confidence
(one of: high, medium, low).`

// BuildPrompt assembles the prompt for f, optionally injecting a memory
// context block built from citations retrieved from the memory store.
func BuildPrompt(f remediation.Finding, citations []memory.Citation) string {
	var b strings.Builder

	fmt.Fprintf(&b, "Finding %s\n", f.ID)
	fmt.Fprintf(&b, "Service: %s\n", f.ServiceName)
	fmt.Fprintf(&b, "Category: %s\n", f.Category)
	fmt.Fprintf(&b, "Severity: %s\n", f.Severity)

	location := f.FilePath
	if f.LineNumber != nil {
		location = f.FilePath + ":" + strconv.Itoa(*f.LineNumber)
	}
	fmt.Fprintf(&b, "Location: %s\n", location)

	if f.CWE != "" {
		fmt.Fprintf(&b, "CWE: %s\n", f.CWE)
	}
	fmt.Fprintf(&b, "Description: %s\n", f.Description)

	if f.DependencyName != "" {
		fmt.Fprintf(&b, "Dependency: %s (current %s, fixed %s)\n", f.DependencyName, f.CurrentVersion, f.FixedVersion)
	}
	if f.Language != "" {
		fmt.Fprintf(&b, "Language: %s\n", f.Language)
	}

	if len(citations) > 0 {
		b.WriteString("\nMemory context from prior sessions:\n")
		for _, c := range citations {
			fmt.Fprintf(&b, "- [%s, run %s, %s]", c.ItemID, c.RunID, c.DataSource)
			if c.Warning != "" {
				fmt.Fprintf(&b, " (%s)", c.Warning)
			}
			if c.Item.FixApproach != "" {
				fmt.Fprintf(&b, ": %s", c.Item.FixApproach)
			}
			b.WriteString("\n")
		}
	}

	b.WriteString("\n")
	b.WriteString(structuredOutputInstructions)

	return b.String()
}
