// Package chunker splits statute text into self-contained, citable
// passages at section and sub-section boundaries.
package chunker

import (
	"crypto/sha256"
	"encoding/hex"
	"math"
	"regexp"
	"strings"
)

// Config controls the chunking behaviour.
type Config struct {
	MaxTokens int // Sections above this estimate are split at sub-sections.
}

// Passage is one citable unit of statute text.
type Passage struct {
	Section string // "17", "53A"; empty for the preamble
	Locator string // "Section 17(1)"
	Text    string
}

// inlineFirstSubSection finds "(1)" opening on the heading line after the
// title's dash or full stop.
var inlineFirstSubSection = regexp.MustCompile(`\(1\)\s`)

// Chunker splits statute text into passages.
type Chunker struct {
	cfg Config
}

// New returns a Chunker with the given configuration.
// Zero-value fields are replaced with sensible defaults.
func New(cfg Config) *Chunker {
	if cfg.MaxTokens == 0 {
		cfg.MaxTokens = 600
	}
	return &Chunker{cfg: cfg}
}

// Split cuts text into passages. A section that fits MaxTokens is one
// passage. A longer one is cut at its sub-section markers, or at its
// clause markers when it has none; a sub-section or clause is never cut,
// even when it alone exceeds MaxTokens.
func (c *Chunker) Split(text string) []Passage {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	sections := detectBoundaries(text, SectionNumber)

	var out []Passage
	head, parts := splitAt(text, sections)
	if p := strings.TrimSpace(head); p != "" {
		out = append(out, Passage{Locator: "Preamble", Text: p})
	}
	for i, part := range parts {
		out = append(out, c.splitSection(sections[i].label, part)...)
	}
	return out
}

func (c *Chunker) splitSection(num, text string) []Passage {
	locator := "Section " + num
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return nil
	}
	if estimateTokens(trimmed) <= c.cfg.MaxTokens {
		return []Passage{{Section: num, Locator: locator, Text: trimmed}}
	}

	// The first line names the section. Sub-section (1) often follows the
	// title on the same line: "17. Documents ....—(1) The following".
	heading, body := firstLine(trimmed)
	if loc := inlineFirstSubSection.FindStringIndex(heading); loc != nil {
		body = heading[loc[0]:] + "\n" + body
		heading = heading[:loc[0]]
	}
	heading = strings.TrimSpace(heading)
	markers := detectBoundaries(body, subSectionNumber)
	if len(markers) == 0 {
		markers = detectBoundaries(body, clauseLetter)
	}
	if len(markers) == 0 {
		return []Passage{{Section: num, Locator: locator, Text: trimmed}}
	}

	var out []Passage
	lead, parts := splitAt(body, markers)
	if strings.TrimSpace(lead) != "" {
		out = append(out, Passage{Section: num, Locator: locator, Text: strings.TrimSpace(heading + "\n" + lead)})
	}
	for i, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		out = append(out, Passage{
			Section: num,
			Locator: locator + "(" + markers[i].label + ")",
			Text:    heading + "\n" + p,
		})
	}
	return out
}

func firstLine(text string) (string, string) {
	if i := strings.IndexByte(text, '\n'); i >= 0 {
		return text[:i], text[i+1:]
	}
	return text, ""
}

// estimateTokens returns a rough token count for text based on word count.
func estimateTokens(text string) int {
	words := len(strings.Fields(text))
	return int(math.Ceil(float64(words) * 1.3))
}

// ContentHash returns the hex SHA-256 of text.
func ContentHash(text string) string {
	h := sha256.Sum256([]byte(text))
	return hex.EncodeToString(h[:])
}
