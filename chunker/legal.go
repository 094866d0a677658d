package chunker

import (
	"regexp"
	"strings"
)

// ---------------------------------------------------------------------------
// Section boundary detection
// ---------------------------------------------------------------------------

// sectionPatterns match the start of a statute section at the start of a
// line: "17. Documents of which registration is compulsory", "53A. Part
// performance", "Section 49 Effect of non-registration".
var sectionPatterns = []*regexp.Regexp{
	regexp.MustCompile(`^(?i:section|sec\.?)\s*(\d+)(?:-?([A-Z]{1,2}))?\b[.:\s-]*`),
	regexp.MustCompile(`^(\d+)(?:-?([A-Z]{1,2}))?\.\s*[\[A-Z"'\x{201c}]`),
}

// subSectionPattern matches "(1)", "(2A)" at the start of a line.
var subSectionPattern = regexp.MustCompile(`^\((\d+[A-Z]?)\)\s*`)

// clauseMarkerPattern matches "(a)", "(ii)", "(aa)" at the start of a line.
var clauseMarkerPattern = regexp.MustCompile(`^\(([a-z]{1,4})\)\s*`)

// boundary is a marker found at the start of a line.
type boundary struct {
	offset int
	label  string
}

// detectBoundaries returns the byte offsets of lines whose trimmed text
// starts with a marker recognised by match.
func detectBoundaries(text string, match func(line string) (string, bool)) []boundary {
	var out []boundary
	offset := 0
	for _, line := range strings.SplitAfter(text, "\n") {
		if label, ok := match(strings.TrimSpace(line)); ok {
			out = append(out, boundary{offset: offset, label: label})
		}
		offset += len(line)
	}
	return out
}

// SectionNumber extracts the leading section number from a line, with any
// letter suffix joined: "53-A. Part performance" returns "53A".
func SectionNumber(line string) (string, bool) {
	for _, re := range sectionPatterns {
		if m := re.FindStringSubmatch(line); m != nil {
			return m[1] + strings.ToUpper(m[2]), true
		}
	}
	return "", false
}

func subSectionNumber(line string) (string, bool) {
	if m := subSectionPattern.FindStringSubmatch(line); m != nil {
		return m[1], true
	}
	return "", false
}

func clauseLetter(line string) (string, bool) {
	if m := clauseMarkerPattern.FindStringSubmatch(line); m != nil {
		return m[1], true
	}
	return "", false
}

// splitAt cuts text at the given boundaries. The text before the first
// boundary is returned separately as head.
func splitAt(text string, bs []boundary) (head string, parts []string) {
	if len(bs) == 0 {
		return text, nil
	}
	head = text[:bs[0].offset]
	for i, b := range bs {
		end := len(text)
		if i+1 < len(bs) {
			end = bs[i+1].offset
		}
		parts = append(parts, text[b.offset:end])
	}
	return head, parts
}

// ---------------------------------------------------------------------------
// Statute reference detection
// ---------------------------------------------------------------------------

// statuteRefPattern matches statute references in free text: "Section 17",
// "s. 49", "Sec 53A", "u/s 53-A", "Sections 17 and 49" (first only).
var statuteRefPattern = regexp.MustCompile(`(?i)\b(?:sections?|secs?\.?|ss?\.|u/s\.?)\s*(\d+)(?:-?([a-z]{1,2}))?\b`)

// StatuteRefs returns the distinct section numbers referenced in text,
// normalised to upper case and in order of first appearance.
func StatuteRefs(text string) []string {
	var out []string
	seen := make(map[string]bool)
	for _, m := range statuteRefPattern.FindAllStringSubmatch(text, -1) {
		n := m[1] + strings.ToUpper(m[2])
		if !seen[n] {
			seen[n] = true
			out = append(out, n)
		}
	}
	return out
}

var locatorPattern = regexp.MustCompile(`^Section\s+(\d+[A-Z]{0,2})`)

// LocatorSection returns the section number of a locator such as
// "Section 17(1)".
func LocatorSection(locator string) (string, bool) {
	m := locatorPattern.FindStringSubmatch(locator)
	if m == nil {
		return "", false
	}
	return m[1], true
}
