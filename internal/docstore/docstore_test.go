package docstore

import (
	"os"
	"path/filepath"
	"testing"
)

func writeCorpus(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "corpus.json")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write corpus: %v", err)
	}
	return path
}

// TestLoad_ValidRecords tests loading well-formed records with split
// sections and legacy single-content records.
func TestLoad_ValidRecords(t *testing.T) {
	path := writeCorpus(t, `[
		{
			"id": "diabetes-type-2",
			"name": "Type 2 Diabetes",
			"title": "Type 2 Diabetes",
			"url": "https://example.org/conditions/diabetes-type-2",
			"category": "Endocrine",
			"overview": "A chronic condition affecting how the body processes blood sugar.",
			"symptoms": "Increased thirst, frequent urination, fatigue.",
			"causes": "Insulin resistance and insufficient insulin production.",
			"treatment": "Diet, exercise, metformin."
		},
		{
			"name": "Common Cold",
			"url": "https://example.org/conditions/common-cold",
			"content": "A mild viral infection of the nose and throat."
		}
	]`)

	store, err := Load(path, nil)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if store.Len() != 2 {
		t.Fatalf("Expected 2 documents, got %d", store.Len())
	}
	if len(store.Skipped()) != 0 {
		t.Errorf("Expected no skipped records, got %d", len(store.Skipped()))
	}

	doc, ok := store.Resolve("diabetes-type-2")
	if !ok {
		t.Fatal("Expected to resolve diabetes-type-2")
	}
	if doc.Category != "Endocrine" {
		t.Errorf("Category: expected 'Endocrine', got %q", doc.Category)
	}
	if len(doc.Fields) != 4 {
		t.Fatalf("Expected 4 fields, got %d", len(doc.Fields))
	}
	// Field order is fixed so chunk IDs stay stable across loads.
	wantOrder := []string{"overview", "symptoms", "causes", "treatment"}
	for i, want := range wantOrder {
		if doc.Fields[i].Name != want {
			t.Errorf("Field %d: expected %q, got %q", i, want, doc.Fields[i].Name)
		}
	}

	// The cold record has no ID; one must be assigned.
	cold := store.Documents()[1]
	if cold.ID == "" {
		t.Error("Expected assigned ID for record without one")
	}
	if cold.Title != "Common Cold" {
		t.Errorf("Title should fall back to name, got %q", cold.Title)
	}
	if len(cold.Fields) != 1 || cold.Fields[0].Name != "content" {
		t.Errorf("Expected single content field, got %+v", cold.Fields)
	}
}

// TestLoad_SkipsMalformedRecords tests that invalid records are reported
// and skipped without failing the whole load.
func TestLoad_SkipsMalformedRecords(t *testing.T) {
	path := writeCorpus(t, `[
		{"id": "no-title", "url": "https://example.org/a", "content": "text"},
		{"id": "no-url", "title": "Missing URL", "content": "text"},
		{"id": "no-text", "title": "Empty", "url": "https://example.org/b"},
		{"id": "ok", "title": "Valid", "url": "https://example.org/c", "content": "text"}
	]`)

	store, err := Load(path, nil)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if store.Len() != 1 {
		t.Fatalf("Expected 1 document, got %d", store.Len())
	}
	skipped := store.Skipped()
	if len(skipped) != 3 {
		t.Fatalf("Expected 3 skipped records, got %d", len(skipped))
	}
	if skipped[1].ID != "no-url" || skipped[1].Index != 1 {
		t.Errorf("Skipped record should carry ID and index, got %+v", skipped[1])
	}
	if _, ok := store.Resolve("no-url"); ok {
		t.Error("Skipped record must not be resolvable")
	}
}

// TestLoad_BadFile tests that unreadable or unparseable files are fatal.
func TestLoad_BadFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.json"), nil); err == nil {
		t.Error("Expected error for missing file")
	}

	path := writeCorpus(t, `{"not": "an array"`)
	if _, err := Load(path, nil); err == nil {
		t.Error("Expected error for malformed JSON")
	}
}

// TestLoad_WhitespaceOnlyFields tests that whitespace-only sections do not
// count as text fields.
func TestLoad_WhitespaceOnlyFields(t *testing.T) {
	path := writeCorpus(t, `[
		{"id": "ws", "title": "Whitespace", "url": "https://example.org/ws", "overview": "   \n\t  "}
	]`)

	store, err := Load(path, nil)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if store.Len() != 0 {
		t.Errorf("Expected whitespace-only record to be skipped, got %d documents", store.Len())
	}
}

// TestResolve_Unknown tests the miss path.
func TestResolve_Unknown(t *testing.T) {
	store := NewStore(nil)
	if _, ok := store.Resolve("nope"); ok {
		t.Error("Expected miss for unknown ID")
	}
}
