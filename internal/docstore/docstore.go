// Package docstore loads scraped medical records into immutable Document
// values and resolves them by ID for citation display.
package docstore

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

// ErrInvalidRecord indicates a source record that cannot be ingested.
// Invalid records are skipped and reported, never fatal for the whole load.
var ErrInvalidRecord = errors.New("invalid source record")

// Field is one named free-text section of a document.
type Field struct {
	Name string
	Text string
}

// Document is one source record: a disease/condition page scraped from the
// source site. Immutable once loaded.
type Document struct {
	ID       string
	Name     string
	Title    string
	URL      string
	Category string // optional
	Fields   []Field
}

// SkippedRecord reports a record rejected during loading.
type SkippedRecord struct {
	Index  int    // position in the source file
	ID     string // record ID if present, for targeted re-ingestion
	Reason string
}

// record mirrors the scraped JSON schema. All section fields are optional;
// older scrapes carry a single "content" blob, newer ones split sections.
type record struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Title     string `json:"title"`
	URL       string `json:"url"`
	Category  string `json:"category"`
	Content   string `json:"content"`
	Overview  string `json:"overview"`
	Symptoms  string `json:"symptoms"`
	Causes    string `json:"causes"`
	Treatment string `json:"treatment"`
}

// sectionOrder fixes the field sequence so chunk IDs stay stable across loads.
var sectionOrder = []string{"overview", "symptoms", "causes", "treatment", "content"}

// Store holds loaded documents and resolves them by ID.
type Store struct {
	docs    []Document
	byID    map[string]Document
	skipped []SkippedRecord
	logger  *slog.Logger
}

// Load reads a JSON array of scraped records from path. Malformed records
// are skipped and logged; a file that cannot be read or parsed at all is an
// error. The returned store is read-only.
func Load(path string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read data file: %w", err)
	}

	var records []record
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, fmt.Errorf("parse data file %s: %w", path, err)
	}

	s := &Store{
		byID:   make(map[string]Document, len(records)),
		logger: logger,
	}

	for i, rec := range records {
		doc, err := rec.toDocument()
		if err != nil {
			s.skipped = append(s.skipped, SkippedRecord{Index: i, ID: rec.ID, Reason: err.Error()})
			logger.Warn("skipping record", "index", i, "id", rec.ID, "error", err)
			continue
		}
		s.add(doc)
	}

	logger.Info("loaded documents", "path", path, "documents", len(s.docs), "skipped", len(s.skipped))
	return s, nil
}

// LoadPath loads a corpus from path, dispatching on its shape: a
// directory of markdown articles, a single markdown article, or a JSON
// record file.
func LoadPath(path string, logger *slog.Logger) (*Store, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("stat corpus path: %w", err)
	}
	if info.IsDir() {
		return LoadMarkdownDir(path, logger)
	}
	if strings.EqualFold(filepath.Ext(path), ".md") {
		doc, err := LoadMarkdownFile(path, fileURL(path))
		if err != nil {
			return nil, err
		}
		return NewStore([]Document{doc}), nil
	}
	return Load(path, logger)
}

// NewStore builds a store from already-constructed documents. Used by tests
// and by rebuild flows that re-ingest an in-memory document set.
func NewStore(docs []Document) *Store {
	s := &Store{byID: make(map[string]Document, len(docs))}
	for _, d := range docs {
		s.add(d)
	}
	return s
}

func (s *Store) add(doc Document) {
	s.docs = append(s.docs, doc)
	s.byID[doc.ID] = doc
}

// Documents returns all loaded documents in file order.
func (s *Store) Documents() []Document {
	return s.docs
}

// Skipped returns the records rejected during loading.
func (s *Store) Skipped() []SkippedRecord {
	return s.skipped
}

// Len returns the number of loaded documents.
func (s *Store) Len() int {
	return len(s.docs)
}

// Resolve returns the document with the given ID. The second result is
// false when the ID is unknown (e.g. a stale cache citation after a
// rebuild); callers degrade to a label rather than failing.
func (s *Store) Resolve(id string) (Document, bool) {
	doc, ok := s.byID[id]
	return doc, ok
}

// toDocument validates a raw record and converts it. Required: a title or
// name, a source URL, and at least one non-empty text field. Records
// without a stable ID get an assigned UUID.
func (r record) toDocument() (Document, error) {
	title := strings.TrimSpace(r.Title)
	name := strings.TrimSpace(r.Name)
	if title == "" && name == "" {
		return Document{}, fmt.Errorf("%w: missing title and name", ErrInvalidRecord)
	}
	if title == "" {
		title = name
	}
	if name == "" {
		name = title
	}

	url := strings.TrimSpace(r.URL)
	if url == "" {
		return Document{}, fmt.Errorf("%w: missing source URL", ErrInvalidRecord)
	}

	sections := map[string]string{
		"overview":  r.Overview,
		"symptoms":  r.Symptoms,
		"causes":    r.Causes,
		"treatment": r.Treatment,
		"content":   r.Content,
	}

	var fields []Field
	for _, sectionName := range sectionOrder {
		if text := strings.TrimSpace(sections[sectionName]); text != "" {
			fields = append(fields, Field{Name: sectionName, Text: text})
		}
	}
	if len(fields) == 0 {
		return Document{}, fmt.Errorf("%w: no text fields", ErrInvalidRecord)
	}

	id := strings.TrimSpace(r.ID)
	if id == "" {
		id = uuid.New().String()
	}

	return Document{
		ID:       id,
		Name:     name,
		Title:    title,
		URL:      url,
		Category: strings.TrimSpace(r.Category),
		Fields:   fields,
	}, nil
}
