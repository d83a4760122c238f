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

package memory

import (
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/remedyrun/remedy/pkg/filestore"
	"github.com/remedyrun/remedy/pkg/remediation"
)

// indexRow is the metadata-only record kept in graph.json for one item.
// The full narrative lives alongside as items/<item_id>.md.
type indexRow struct {
	ItemID     string                 `json:"item_id"`
	RunID      string                 `json:"run_id"`
	FindingID  string                 `json:"finding_id"`
	Category   remediation.Category   `json:"category"`
	Service    string                 `json:"service"`
	Severity   remediation.Severity   `json:"severity"`
	Outcome    Outcome                `json:"outcome"`
	Confidence string                 `json:"confidence,omitempty"`
	DataSource remediation.DataSource `json:"data_source"`
	CreatedAt  time.Time              `json:"created_at"`
}

// graphFile is the on-disk shape of graph.json.
type graphFile struct {
	Items         []indexRow          `json:"items"`
	SameCategory  map[string][]string `json:"same_category"`
	SameService   map[string][]string `json:"same_service"`
}

// Graph is the in-memory, disk-backed knowledge graph for one memory
// store directory.
type Graph struct {
	mu   sync.Mutex
	root string

	rows         map[string]indexRow
	sameCategory map[string]map[string]struct{}
	sameService  map[string]map[string]struct{}
}

func graphPath(root string) string {
	return filepath.Join(root, "graph.json")
}

func itemPath(root, itemID string) string {
	return filepath.Join(root, "items", itemID+".md")
}

// Open loads (or initializes) the memory graph rooted at dir. A malformed
// graph.json is treated as an empty graph — corruption here must never be
// fatal to a run (spec §4.8).
func Open(root string) *Graph {
	g := &Graph{
		root:         root,
		rows:         map[string]indexRow{},
		sameCategory: map[string]map[string]struct{}{},
		sameService:  map[string]map[string]struct{}{},
	}

	var onDisk graphFile
	if err := filestore.ReadJSON(graphPath(root), &onDisk); err == nil {
		for _, row := range onDisk.Items {
			if row.ItemID == "" {
				continue // malformed row, skipped without error
			}
			g.rows[row.ItemID] = row
		}
		for id, peers := range onDisk.SameCategory {
			g.sameCategory[id] = toSet(peers)
		}
		for id, peers := range onDisk.SameService {
			g.sameService[id] = toSet(peers)
		}
	}
	return g
}

func toSet(ids []string) map[string]struct{} {
	set := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		set[id] = struct{}{}
	}
	return set
}

func fromSet(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for id := range set {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// Upsert records item: writes its narrative markdown, computes
// same_category/same_service relationships against the existing index
// (both endpoints inserted, keeping the relation symmetric), and persists
// graph.json via the lock + atomic rename protocol.
func (g *Graph) Upsert(item Item) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if err := writeNarrative(g.root, item); err != nil {
		return fmt.Errorf("writing memory item narrative: %w", err)
	}

	row := indexRow{
		ItemID:     item.ItemID,
		RunID:      item.RunID,
		FindingID:  item.FindingID,
		Category:   item.Category,
		Service:    item.Service,
		Severity:   item.Severity,
		Outcome:    item.Outcome,
		Confidence: item.Confidence,
		DataSource: item.DataSource,
		CreatedAt:  item.CreatedAt,
	}

	for existingID, existing := range g.rows {
		if existingID == row.ItemID {
			continue
		}
		if existing.Category == row.Category {
			g.link(g.sameCategory, row.ItemID, existingID)
		}
		if existing.Service == row.Service {
			g.link(g.sameService, row.ItemID, existingID)
		}
	}

	g.rows[row.ItemID] = row
	return g.persist()
}

func (g *Graph) link(index map[string]map[string]struct{}, a, b string) {
	if index[a] == nil {
		index[a] = map[string]struct{}{}
	}
	if index[b] == nil {
		index[b] = map[string]struct{}{}
	}
	index[a][b] = struct{}{}
	index[b][a] = struct{}{}
}

func (g *Graph) persist() error {
	file := graphFile{
		SameCategory: map[string][]string{},
		SameService:  map[string][]string{},
	}
	for _, row := range g.rows {
		file.Items = append(file.Items, row)
	}
	sort.Slice(file.Items, func(i, j int) bool { return file.Items[i].ItemID < file.Items[j].ItemID })

	for id, peers := range g.sameCategory {
		file.SameCategory[id] = fromSet(peers)
	}
	for id, peers := range g.sameService {
		file.SameService[id] = fromSet(peers)
	}

	lock, err := filestore.Acquire(graphPath(g.root), "memory-graph", filestore.LockOptions{})
	if err != nil {
		return err
	}
	defer lock.Release()

	return filestore.WriteAtomicJSON(graphPath(g.root), file)
}

func writeNarrative(root string, item Item) error {
	if err := os.MkdirAll(filepath.Join(root, "items"), 0o755); err != nil {
		return err
	}

	var b strings.Builder
	fmt.Fprintf(&b, "# %s\n\n", item.ItemID)
	fmt.Fprintf(&b, "- run: %s\n", item.RunID)
	fmt.Fprintf(&b, "- finding: %s\n", item.FindingID)
	fmt.Fprintf(&b, "- category: %s\n", item.Category)
	fmt.Fprintf(&b, "- service: %s\n", item.Service)
	fmt.Fprintf(&b, "- severity: %s\n", item.Severity)
	fmt.Fprintf(&b, "- outcome: %s\n", item.Outcome)
	fmt.Fprintf(&b, "- confidence: %s\n", item.Confidence)
	fmt.Fprintf(&b, "- data_source: %s\n", item.DataSource)
	fmt.Fprintf(&b, "- created_at: %s\n\n", item.CreatedAt.Format(time.RFC3339))

	if item.FixApproach != "" {
		fmt.Fprintf(&b, "## Fix approach\n\n%s\n\n", item.FixApproach)
	}
	if len(item.FilesModified) > 0 {
		fmt.Fprintf(&b, "## Files modified\n\n")
		for _, f := range item.FilesModified {
			fmt.Fprintf(&b, "- %s\n", f)
		}
		b.WriteString("\n")
	}
	if item.TestResults != "" {
		fmt.Fprintf(&b, "## Test results\n\n%s\n\n", item.TestResults)
	}
	if item.PRReference != "" {
		fmt.Fprintf(&b, "## Pull request\n\n%s\n\n", item.PRReference)
	}
	if item.ErrorText != "" {
		fmt.Fprintf(&b, "## Error\n\n%s\n\n", item.ErrorText)
	}

	tmp := itemPath(root, item.ItemID) + ".tmp"
	if err := os.WriteFile(tmp, []byte(b.String()), 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, itemPath(root, item.ItemID))
}

// Query describes the finding a retrieval call is scoring candidates
// against.
type Query struct {
	Category remediation.Category
	Service  string
	Severity remediation.Severity
}

// Retrieve scores every indexed item against q per spec §4.8's formula and
// returns the top-k by score descending, each with a source citation.
// Items below the zero-relevance gate (neither category nor service
// matches) are excluded entirely.
func (g *Graph) Retrieve(q Query, k int) []Citation {
	g.mu.Lock()
	defer g.mu.Unlock()

	if k <= 0 {
		k = 3
	}

	var scored []Citation
	for _, row := range g.rows {
		categoryMatch := row.Category == q.Category
		serviceMatch := row.Service == q.Service
		if !categoryMatch && !serviceMatch {
			continue
		}

		score := 0.0
		if categoryMatch {
			score += 10
		}
		if serviceMatch {
			score += 5
		}
		if row.Severity == q.Severity {
			score += 2
		}
		switch row.Confidence {
		case "high":
			score += 3
		case "medium":
			score += 1.5
		case "low":
			score += 0.5
		}
		if row.DataSource == remediation.DataSourceLive {
			score += 2
		}
		if row.Outcome == OutcomeSuccess {
			score += 3
		}

		ageDays := time.Since(row.CreatedAt).Hours() / 24
		decay := math.Pow(0.5, ageDays/30)
		score *= decay

		citation := Citation{
			ItemID:     row.ItemID,
			RunID:      row.RunID,
			DataSource: row.DataSource,
			Score:      score,
		}
		if row.DataSource == remediation.DataSourceMock {
			citation.Warning = "sourced from a mock-mode session; not verified against a live remote"
		}
		scored = append(scored, citation)
	}

	sort.Slice(scored, func(i, j int) bool { return scored[i].Score > scored[j].Score })
	if len(scored) > k {
		scored = scored[:k]
	}

	for i := range scored {
		scored[i].Item = rowToItem(g.rows[scored[i].ItemID])
	}
	return scored
}

func rowToItem(row indexRow) Item {
	return Item{
		ItemID:     row.ItemID,
		RunID:      row.RunID,
		FindingID:  row.FindingID,
		Category:   row.Category,
		Service:    row.Service,
		Severity:   row.Severity,
		Outcome:    row.Outcome,
		Confidence: row.Confidence,
		DataSource: row.DataSource,
		CreatedAt:  row.CreatedAt,
	}
}
