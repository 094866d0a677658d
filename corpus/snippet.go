package corpus

import (
	"strings"
	"unicode/utf8"
)

// DefaultSnippetLen is the approximate maximum length of an excerpt.
const DefaultSnippetLen = 300

// Snippet returns the one or two sentences of text sharing the most terms
// with query, within maxLen bytes. When nothing overlaps it returns the
// opening of text.
func Snippet(text, query string, maxLen int) string {
	if maxLen <= 0 {
		maxLen = DefaultSnippetLen
	}
	sentences := splitSentences(text)
	if len(sentences) == 0 {
		return ""
	}
	want := make(map[string]bool)
	for _, t := range significantTerms(query) {
		want[t] = true
	}

	scores := make([]int, len(sentences))
	best := 0
	for i, s := range sentences {
		for _, t := range significantTerms(s) {
			if want[t] {
				scores[i]++
			}
		}
		if scores[i] > scores[best] {
			best = i
		}
	}
	if scores[best] == 0 {
		return truncate(sentences[0], maxLen)
	}

	out := sentences[best]
	if len(out) < maxLen {
		// Take the better scoring neighbour when it still fits.
		adj, adjScore := -1, 0
		for _, d := range []int{1, -1} {
			i := best + d
			if i >= 0 && i < len(sentences) && scores[i] > adjScore {
				adj, adjScore = i, scores[i]
			}
		}
		if adj >= 0 {
			combined := out + " " + sentences[adj]
			if adj < best {
				combined = sentences[adj] + " " + out
			}
			if len(combined) <= maxLen {
				out = combined
			}
		}
	}
	return truncate(out, maxLen)
}

// splitSentences splits at '.', '?', '!' or ';' followed by whitespace or
// the end of text. Statute provisos often end in ';' before the next clause.
func splitSentences(text string) []string {
	var out []string
	var cur strings.Builder
	runes := []rune(text)
	for i, r := range runes {
		cur.WriteRune(r)
		if r != '.' && r != '?' && r != '!' && r != ';' {
			continue
		}
		if i+1 < len(runes) && runes[i+1] != ' ' && runes[i+1] != '\n' && runes[i+1] != '\t' {
			continue
		}
		if s := strings.TrimSpace(cur.String()); s != "" {
			out = append(out, s)
		}
		cur.Reset()
	}
	if s := strings.TrimSpace(cur.String()); s != "" {
		out = append(out, s)
	}
	return out
}

// truncate cuts s to at most maxLen bytes on a word boundary.
func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	cut := s[:maxLen]
	if i := strings.LastIndexAny(cut, " \n\t"); i > maxLen/2 {
		cut = cut[:i]
	}
	for !utf8.ValidString(cut) {
		cut = cut[:len(cut)-1]
	}
	return strings.TrimSpace(cut) + "…"
}
