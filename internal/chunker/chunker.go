// Package chunker splits document fields into overlapping windows sized
// for embedding. Splits prefer sentence boundaries and fall back to hard
// character cuts for oversize sentences.
package chunker

import (
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/medassist/medrag/internal/docstore"
)

const (
	// DefaultMaxSize is the maximum chunk length in bytes.
	DefaultMaxSize = 1000

	// DefaultOverlap is the number of bytes carried over from the end of
	// one chunk into the start of the next.
	DefaultOverlap = 200
)

// sentenceEnd matches runs of sentence-terminating punctuation.
var sentenceEnd = regexp.MustCompile(`[.!?]+`)

// Chunk is a contiguous slice of one document field.
//
// Text is an exact substring of the field; Overlap counts the leading
// bytes shared with the previous chunk of the same field. Stripping each
// chunk's overlap prefix and concatenating in sequence reproduces the
// field text byte-for-byte.
type Chunk struct {
	ID      string // "<docID>:<field>:<seq>", stable across rebuilds
	DocID   string
	Field   string
	Seq     int
	Text    string
	Overlap int
}

// Chunker produces deterministic chunks for a fixed configuration.
type Chunker struct {
	maxSize int
	overlap int
}

// New creates a chunker. Non-positive sizes fall back to defaults; an
// overlap at or above the chunk size is clamped to a quarter of it so the
// window always advances.
func New(maxSize, overlap int) *Chunker {
	if maxSize <= 0 {
		maxSize = DefaultMaxSize
	}
	if overlap < 0 {
		overlap = DefaultOverlap
	}
	if overlap >= maxSize {
		overlap = maxSize / 4
	}
	return &Chunker{maxSize: maxSize, overlap: overlap}
}

// ChunkDocument chunks every field of a document in order. Pure function
// of the document and the chunker configuration.
func (c *Chunker) ChunkDocument(doc docstore.Document) []Chunk {
	var chunks []Chunk
	for _, field := range doc.Fields {
		chunks = append(chunks, c.chunkField(doc.ID, field.Name, field.Text)...)
	}
	return chunks
}

// chunkField windows one field's text. Coverage boundaries partition the
// text exactly; each chunk additionally reaches back up to the configured
// overlap into the previous chunk's coverage.
func (c *Chunker) chunkField(docID, field, text string) []Chunk {
	if text == "" {
		return nil
	}

	bounds := c.cutPoints(text)

	var chunks []Chunk
	prevCoverStart := 0
	coverStart := 0
	bi := 0

	for coverStart < len(text) {
		overlapStart := coverStart - c.overlap
		if overlapStart < prevCoverStart {
			overlapStart = prevCoverStart
		}
		overlapStart = runeAlign(text, overlapStart, coverStart)

		// Extend coverage over as many units as fit in the window.
		end := -1
		for bi < len(bounds) && bounds[bi]-overlapStart <= c.maxSize {
			end = bounds[bi]
			bi++
		}
		if end == -1 {
			// The next unit alone busts the window; shrink the overlap.
			// Units never exceed maxSize, so this always fits.
			end = bounds[bi]
			bi++
			overlapStart = end - c.maxSize
			if overlapStart < prevCoverStart {
				overlapStart = prevCoverStart
			}
			if overlapStart > coverStart {
				overlapStart = coverStart
			}
			overlapStart = runeAlign(text, overlapStart, coverStart)
		}

		seq := len(chunks)
		chunks = append(chunks, Chunk{
			ID:      fmt.Sprintf("%s:%s:%d", docID, field, seq),
			DocID:   docID,
			Field:   field,
			Seq:     seq,
			Text:    text[overlapStart:end],
			Overlap: coverStart - overlapStart,
		})

		prevCoverStart = coverStart
		coverStart = end
	}

	return chunks
}

// runeAlign advances i to the next rune start, never past limit.
func runeAlign(text string, i, limit int) int {
	for i < limit && !utf8.RuneStart(text[i]) {
		i++
	}
	return i
}

// cutPoints returns strictly ascending split offsets ending at len(text).
// Offsets land after sentence punctuation; any stretch longer than maxSize
// without one is hard-cut at maxSize intervals.
func (c *Chunker) cutPoints(text string) []int {
	var bounds []int
	for _, loc := range sentenceEnd.FindAllStringIndex(text, -1) {
		end := loc[1]
		// Pull trailing closing quotes/parens into the sentence.
		for end < len(text) && strings.ContainsRune(`"')]`, rune(text[end])) {
			end++
		}
		if len(bounds) == 0 || end > bounds[len(bounds)-1] {
			bounds = append(bounds, end)
		}
	}
	if len(bounds) == 0 || bounds[len(bounds)-1] < len(text) {
		bounds = append(bounds, len(text))
	}

	// Hard-cut any unit longer than the window, backing each cut up to a
	// rune boundary so no chunk carries a torn multi-byte sequence.
	var out []int
	prev := 0
	for _, b := range bounds {
		for b-prev > c.maxSize {
			cut := prev + c.maxSize
			for cut > prev+1 && !utf8.RuneStart(text[cut]) {
				cut--
			}
			prev = cut
			out = append(out, prev)
		}
		out = append(out, b)
		prev = b
	}
	return out
}
