package memory

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/remedyrun/remedy/pkg/remediation"
)

func TestGraph_UpsertAndRetrieve(t *testing.T) {
	dir := t.TempDir()
	g := Open(dir)

	item := Item{
		ItemID:     ItemID("run-1", "f-1"),
		RunID:      "run-1",
		FindingID:  "f-1",
		Category:   remediation.CategorySQLInjection,
		Service:    "checkout",
		Severity:   remediation.SeverityHigh,
		Outcome:    OutcomeSuccess,
		Confidence: "high",
		DataSource: remediation.DataSourceLive,
		CreatedAt:  time.Now(),
	}
	if err := g.Upsert(item); err != nil {
		t.Fatalf("upsert failed: %v", err)
	}

	results := g.Retrieve(Query{Category: remediation.CategorySQLInjection, Service: "checkout", Severity: remediation.SeverityHigh}, 5)
	if len(results) != 1 {
		t.Fatalf("expected 1 result, got %d", len(results))
	}
	if results[0].ItemID != item.ItemID {
		t.Errorf("unexpected item id: %s", results[0].ItemID)
	}
	if results[0].Score <= 0 {
		t.Errorf("expected positive score, got %v", results[0].Score)
	}
}

func TestGraph_ZeroRelevanceGateExcludes(t *testing.T) {
	dir := t.TempDir()
	g := Open(dir)

	item := Item{
		ItemID:     ItemID("run-1", "f-1"),
		RunID:      "run-1",
		FindingID:  "f-1",
		Category:   remediation.CategoryXSS,
		Service:    "checkout",
		Severity:   remediation.SeverityLow,
		Outcome:    OutcomeSuccess,
		DataSource: remediation.DataSourceLive,
		CreatedAt:  time.Now(),
	}
	if err := g.Upsert(item); err != nil {
		t.Fatalf("upsert failed: %v", err)
	}

	results := g.Retrieve(Query{Category: remediation.CategorySQLInjection, Service: "billing", Severity: remediation.SeverityLow}, 5)
	if len(results) != 0 {
		t.Fatalf("expected 0 results under zero-relevance gate, got %d", len(results))
	}
}

func TestGraph_MockSourceCarriesWarning(t *testing.T) {
	dir := t.TempDir()
	g := Open(dir)

	item := Item{
		ItemID:     ItemID("run-1", "f-1"),
		RunID:      "run-1",
		FindingID:  "f-1",
		Category:   remediation.CategoryXSS,
		Service:    "checkout",
		Outcome:    OutcomeSuccess,
		DataSource: remediation.DataSourceMock,
		CreatedAt:  time.Now(),
	}
	if err := g.Upsert(item); err != nil {
		t.Fatalf("upsert failed: %v", err)
	}

	results := g.Retrieve(Query{Category: remediation.CategoryXSS}, 5)
	if len(results) != 1 {
		t.Fatalf("expected 1 result, got %d", len(results))
	}
	if results[0].Warning == "" {
		t.Error("expected mock-sourced item to carry a warning")
	}
}

func TestGraph_SymmetricRelationships(t *testing.T) {
	dir := t.TempDir()
	g := Open(dir)

	a := Item{ItemID: "a", RunID: "run-1", FindingID: "fa", Category: remediation.CategoryXSS, Service: "checkout", Outcome: OutcomeSuccess, DataSource: remediation.DataSourceLive, CreatedAt: time.Now()}
	b := Item{ItemID: "b", RunID: "run-2", FindingID: "fb", Category: remediation.CategoryXSS, Service: "billing", Outcome: OutcomeFailure, DataSource: remediation.DataSourceLive, CreatedAt: time.Now()}

	if err := g.Upsert(a); err != nil {
		t.Fatalf("upsert a: %v", err)
	}
	if err := g.Upsert(b); err != nil {
		t.Fatalf("upsert b: %v", err)
	}

	if _, ok := g.sameCategory["a"]["b"]; !ok {
		t.Error("expected a->b same_category link")
	}
	if _, ok := g.sameCategory["b"]["a"]; !ok {
		t.Error("expected b->a same_category link (symmetric)")
	}
}

func TestGraph_CorruptIndexTreatedAsEmpty(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "graph.json"), []byte("{not valid json"), 0o644); err != nil {
		t.Fatalf("setup failed: %v", err)
	}

	g := Open(dir)
	results := g.Retrieve(Query{Category: remediation.CategoryXSS}, 5)
	if len(results) != 0 {
		t.Errorf("expected empty graph after corruption, got %d results", len(results))
	}
}

func TestGraph_FreshnessDecayLowersOlderItems(t *testing.T) {
	dir := t.TempDir()
	g := Open(dir)

	fresh := Item{ItemID: "fresh", RunID: "r1", FindingID: "f1", Category: remediation.CategoryXSS, Service: "checkout", Outcome: OutcomeSuccess, DataSource: remediation.DataSourceLive, CreatedAt: time.Now()}
	old := Item{ItemID: "old", RunID: "r2", FindingID: "f2", Category: remediation.CategoryXSS, Service: "checkout", Outcome: OutcomeSuccess, DataSource: remediation.DataSourceLive, CreatedAt: time.Now().Add(-60 * 24 * time.Hour)}

	if err := g.Upsert(fresh); err != nil {
		t.Fatalf("upsert fresh: %v", err)
	}
	if err := g.Upsert(old); err != nil {
		t.Fatalf("upsert old: %v", err)
	}

	results := g.Retrieve(Query{Category: remediation.CategoryXSS, Service: "checkout"}, 5)
	var freshScore, oldScore float64
	for _, r := range results {
		if r.ItemID == "fresh" {
			freshScore = r.Score
		}
		if r.ItemID == "old" {
			oldScore = r.Score
		}
	}
	if oldScore >= freshScore {
		t.Errorf("expected older item to score lower: fresh=%v old=%v", freshScore, oldScore)
	}
}
