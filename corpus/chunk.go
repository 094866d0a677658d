// Package corpus holds the legal corpus index: statute passages with their
// embeddings, searched by a blend of semantic similarity and statute
// reference matching.
package corpus

import (
	"strings"
	"unicode"

	"github.com/brunobiangulo/titlecheck/chunker"
)

// Jurisdiction is the level of law a statute belongs to.
type Jurisdiction string

const (
	Central Jurisdiction = "central"
	State   Jurisdiction = "state"
)

// Valid reports whether j is a known jurisdiction.
func (j Jurisdiction) Valid() bool {
	return j == Central || j == State
}

// Chunk is one citable statute passage.
type Chunk struct {
	ID           string       `json:"id"`
	Jurisdiction Jurisdiction `json:"jurisdiction"`
	Act          string       `json:"act"`
	Locator      string       `json:"locator"`
	Section      string       `json:"section,omitempty"`
	Text         string       `json:"text"`
	Embedding    []float32    `json:"-"`
}

// ChunkID derives a stable chunk ID from the act, the locator and the
// passage text. The same passage always gets the same ID.
func ChunkID(act, locator, text string) string {
	return slug(act) + "/" + slug(locator) + "/" + chunker.ContentHash(text)[:12]
}

func slug(s string) string {
	var b strings.Builder
	dash := false
	for _, r := range strings.ToLower(s) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
			dash = false
			continue
		}
		if !dash && b.Len() > 0 {
			b.WriteByte('-')
			dash = true
		}
	}
	return strings.TrimSuffix(b.String(), "-")
}
