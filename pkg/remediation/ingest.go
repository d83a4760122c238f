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

package remediation

import (
	"encoding/csv"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"strconv"
	"strings"

	"github.com/remedyrun/remedy/pkg/remedyerr"
)

// requiredColumns are the columns that must be present in the CSV header,
// per spec §6.
var requiredColumns = []string{
	"finding_id", "scanner", "category", "severity", "title",
	"description", "service_name", "repo_url", "file_path",
}

// Optional columns (line_number, cwe_id, dependency_name, current_version,
// fixed_version, language) may be absent or empty; empty cells map to
// absent values via parseRow's get helper.

// IngestResult is the outcome of parsing a CSV export into Findings.
type IngestResult struct {
	Findings []Finding
	Warnings []string
}

// IngestCSV parses a scanner export per spec §6: validates the required
// column set, drops rows with an invalid category or severity (emitting a
// warning), deduplicates on (service_name, file_path, line_number,
// category) keeping the higher-severity row, computes each Finding's
// priority score, and returns the result sorted by score descending.
//
// A CSV with zero data rows after the header, or missing a required
// column, is rejected with a wrapped remedyerr.ErrValidation.
func IngestCSV(r io.Reader, services ServiceWeights, logger *slog.Logger) (*IngestResult, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1

	header, err := cr.Read()
	if err != nil {
		return nil, remedyerr.Wrap(remedyerr.ErrValidation, fmt.Sprintf("reading CSV header: %v", err))
	}

	colIndex := make(map[string]int, len(header))
	for i, h := range header {
		colIndex[strings.TrimSpace(strings.ToLower(h))] = i
	}

	for _, col := range requiredColumns {
		if _, ok := colIndex[col]; !ok {
			return nil, remedyerr.Wrapf(remedyerr.ErrValidation, "missing required column %q", col)
		}
	}

	result := &IngestResult{}
	seen := make(map[string]int) // dedup key -> index into result.Findings

	rowNum := 1
	for {
		rowNum++
		record, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			result.Warnings = append(result.Warnings, fmt.Sprintf("row %d: %v", rowNum, err))
			continue
		}

		finding, ok, warn := parseRow(record, colIndex, rowNum)
		if warn != "" {
			result.Warnings = append(result.Warnings, warn)
			if logger != nil {
				logger.Warn("dropping invalid ingest row", "row", rowNum, "reason", warn)
			}
		}
		if !ok {
			continue
		}

		finding.PriorityScore = Score(finding, services)

		key := finding.dedupKey()
		if idx, exists := seen[key]; exists {
			if severityRank(finding.Severity) > severityRank(result.Findings[idx].Severity) {
				result.Findings[idx] = finding
			}
			continue
		}
		seen[key] = len(result.Findings)
		result.Findings = append(result.Findings, finding)
	}

	if len(result.Findings) == 0 {
		return nil, remedyerr.Wrap(remedyerr.ErrValidation, "CSV has no usable data rows")
	}

	sort.SliceStable(result.Findings, func(i, j int) bool {
		return result.Findings[i].PriorityScore > result.Findings[j].PriorityScore
	})

	return result, nil
}

func severityRank(s Severity) int {
	switch s {
	case SeverityCritical:
		return 4
	case SeverityHigh:
		return 3
	case SeverityMedium:
		return 2
	case SeverityLow:
		return 1
	default:
		return 0
	}
}

func cell(record []string, idx int) string {
	if idx < 0 || idx >= len(record) {
		return ""
	}
	return strings.TrimSpace(record[idx])
}

// parseRow builds a Finding from one CSV record. The bool return is false
// when the row must be dropped (invalid category/severity); warn is
// non-empty whenever the row was dropped or a soft issue was found.
func parseRow(record []string, col map[string]int, rowNum int) (Finding, bool, string) {
	get := func(name string) string {
		idx, ok := col[name]
		if !ok {
			return ""
		}
		return cell(record, idx)
	}

	severity := Severity(strings.ToLower(get("severity")))
	category := Category(strings.ToLower(get("category")))

	if !ValidSeverity(severity) {
		return Finding{}, false, fmt.Sprintf("row %d: invalid severity %q", rowNum, get("severity"))
	}
	if !ValidCategory(category) {
		return Finding{}, false, fmt.Sprintf("row %d: invalid category %q", rowNum, get("category"))
	}

	f := Finding{
		ID:             get("finding_id"),
		Scanner:        get("scanner"),
		Category:       category,
		Severity:       severity,
		Title:          get("title"),
		Description:    get("description"),
		ServiceName:    get("service_name"),
		RepoURL:        get("repo_url"),
		FilePath:       get("file_path"),
		CWE:            get("cwe_id"),
		DependencyName: get("dependency_name"),
		CurrentVersion: get("current_version"),
		FixedVersion:   get("fixed_version"),
		Language:       get("language"),
	}

	if ln := get("line_number"); ln != "" {
		if n, err := strconv.Atoi(ln); err == nil {
			f.LineNumber = &n
		}
	}

	return f, true, ""
}
