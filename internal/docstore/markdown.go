package docstore

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/parser"
	"github.com/yuin/goldmark/text"
	"go.abhg.dev/goldmark/toc"
)

// markdownParser is configured once; goldmark parsers are safe for reuse.
var markdownParser = goldmark.New(
	goldmark.WithParserOptions(
		parser.WithAutoHeadingID(),
	),
)

// ParseMarkdown converts a markdown article into a Document. The first H1
// becomes the title; each H2 section becomes a field named after its
// heading; any text before the first H2 becomes an "overview" field. An
// article without headings becomes a single "content" field.
func ParseMarkdown(source []byte, sourceURL string) (Document, error) {
	reader := text.NewReader(source)
	root := markdownParser.Parser().Parse(reader)

	tree, err := toc.Inspect(root, source,
		toc.MinDepth(1),
		toc.MaxDepth(2),
		toc.Compact(true),
	)
	if err != nil {
		return Document{}, fmt.Errorf("inspect headings: %w", err)
	}

	// The ID is derived from the source URL so chunk IDs stay stable
	// across loads and rebuilds, like records that carry their own ID.
	doc := Document{
		ID:  uuid.NewSHA1(uuid.NameSpaceURL, []byte(sourceURL)).String(),
		URL: sourceURL,
	}

	if len(tree.Items) == 0 {
		body := strings.TrimSpace(string(source))
		if body == "" {
			return Document{}, fmt.Errorf("%w: empty markdown article", ErrInvalidRecord)
		}
		doc.Title = sourceURL
		doc.Name = sourceURL
		doc.Fields = []Field{{Name: "content", Text: body}}
		return doc, nil
	}

	// Title from the first top-level heading; sections from its children
	// when the article has a single H1, otherwise from the top level.
	items := tree.Items
	if len(items) == 1 {
		doc.Title = string(items[0].Title)
		items = items[0].Items
	} else {
		doc.Title = string(tree.Items[0].Title)
	}
	doc.Name = doc.Title

	// Preamble between the H1 and the first following heading of any level.
	if pre := sectionBody(root, source, string(tree.Items[0].ID), 6); pre != "" {
		doc.Fields = append(doc.Fields, Field{Name: "overview", Text: pre})
	}

	for _, item := range items {
		body := sectionBody(root, source, string(item.ID), 2)
		if body == "" {
			continue
		}
		doc.Fields = append(doc.Fields, Field{
			Name: fieldName(string(item.Title)),
			Text: body,
		})
	}

	if len(doc.Fields) == 0 {
		return Document{}, fmt.Errorf("%w: no text sections in markdown article", ErrInvalidRecord)
	}
	return doc, nil
}

// LoadMarkdownFile reads one markdown article from disk. The source URL is
// recorded for citations; pass a file:// URL for local-only corpora.
func LoadMarkdownFile(path, sourceURL string) (Document, error) {
	source, err := os.ReadFile(path)
	if err != nil {
		return Document{}, fmt.Errorf("read markdown file: %w", err)
	}
	return ParseMarkdown(source, sourceURL)
}

// LoadMarkdownDir loads every .md article directly under dir. Articles
// that fail to parse are skipped and reported, like malformed JSON
// records; an unreadable directory is an error.
func LoadMarkdownDir(dir string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read corpus directory: %w", err)
	}

	s := &Store{byID: make(map[string]Document), logger: logger}
	i := 0
	for _, entry := range entries {
		if entry.IsDir() || !strings.EqualFold(filepath.Ext(entry.Name()), ".md") {
			continue
		}
		path := filepath.Join(dir, entry.Name())
		doc, err := LoadMarkdownFile(path, fileURL(path))
		if err != nil {
			s.skipped = append(s.skipped, SkippedRecord{Index: i, ID: entry.Name(), Reason: err.Error()})
			logger.Warn("skipping markdown article", "path", path, "error", err)
			i++
			continue
		}
		s.add(doc)
		i++
	}

	logger.Info("loaded markdown articles", "dir", dir, "documents", len(s.docs), "skipped", len(s.skipped))
	return s, nil
}

// fileURL builds a citation URL for a local article.
func fileURL(path string) string {
	abs, err := filepath.Abs(path)
	if err != nil {
		abs = path
	}
	return "file://" + filepath.ToSlash(abs)
}

// sectionBody extracts the text between a heading and the next heading at
// or above stopLevel, excluding the heading line itself. stopLevel 6 stops
// at the first following heading of any level.
func sectionBody(root ast.Node, source []byte, headingID string, stopLevel int) string {
	heading := findHeadingByID(root, headingID)
	if heading == nil || heading.Lines().Len() == 0 {
		return ""
	}
	start := heading.Lines().At(heading.Lines().Len() - 1).Stop

	end := len(source)
	seen := false
	ast.Walk(root, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering || n.Kind() != ast.KindHeading {
			return ast.WalkContinue, nil
		}
		if !seen {
			if n == heading {
				seen = true
			}
			return ast.WalkContinue, nil
		}
		h := n.(*ast.Heading)
		if h.Level <= stopLevel && h.Lines().Len() > 0 {
			end = h.Lines().At(0).Start
			// Back up over the "## " prefix to the line start.
			for end > 0 && source[end-1] != '\n' {
				end--
			}
			return ast.WalkStop, nil
		}
		return ast.WalkContinue, nil
	})

	if start >= end {
		return ""
	}
	return strings.TrimSpace(string(source[start:end]))
}

// findHeadingByID locates a heading node by its auto-generated ID.
func findHeadingByID(root ast.Node, id string) ast.Node {
	var found ast.Node
	ast.Walk(root, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if entering && n.Kind() == ast.KindHeading {
			if attr, ok := n.AttributeString("id"); ok {
				if b, ok := attr.([]byte); ok && string(b) == id {
					found = n
					return ast.WalkStop, nil
				}
			}
		}
		return ast.WalkContinue, nil
	})
	return found
}

// fieldName normalizes a section heading into a field name:
// "Symptoms & Causes" -> "symptoms_causes".
func fieldName(title string) string {
	var b strings.Builder
	lastUnderscore := true
	for _, r := range strings.ToLower(strings.TrimSpace(title)) {
		switch {
		case r >= 'a' && r <= 'z' || r >= '0' && r <= '9':
			b.WriteRune(r)
			lastUnderscore = false
		default:
			if !lastUnderscore {
				b.WriteByte('_')
				lastUnderscore = true
			}
		}
	}
	return strings.TrimSuffix(b.String(), "_")
}
