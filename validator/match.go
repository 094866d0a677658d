package validator

import (
	"regexp"
	"strings"
	"unicode"
)

var honorifics = map[string]bool{
	"sri": true, "shri": true, "sree": true, "smt": true, "srimati": true, "shrimati": true,
	"kum": true, "kumari": true, "mr": true, "mrs": true, "ms": true, "dr": true, "late": true,
}

// relationMarker cuts "son of" style suffixes: "A Kumar S/o B Rao".
var relationMarker = regexp.MustCompile(`(?i)\s+(?:s/o|w/o|d/o|c/o|son of|wife of|daughter of|represented by)\b.*$`)

// NormalizeName lowercases a person name, strips punctuation, honorifics,
// relation suffixes and extra whitespace.
func NormalizeName(s string) string {
	s = relationMarker.ReplaceAllString(s, "")
	s = strings.Map(func(r rune) rune {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			return unicode.ToLower(r)
		}
		return ' '
	}, s)
	var kept []string
	for _, tok := range strings.Fields(s) {
		if honorifics[tok] {
			continue
		}
		kept = append(kept, tok)
	}
	return strings.Join(kept, " ")
}

var surveyPrefix = regexp.MustCompile(`(?i)^\s*(?:survey|sy|s)\.?\s*(?:nos|number|no)?\.?\s*:?\s*`)

// NormalizeSurvey reduces a survey number to its comparable core:
// "Sy. No. 45/2A" and "45 / 2a" both become "45/2a".
func NormalizeSurvey(s string) string {
	s = surveyPrefix.ReplaceAllString(s, "")
	var b strings.Builder
	for _, r := range strings.ToLower(s) {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r) || r == '/' || r == '-':
			b.WriteRune(r)
		case r == '.':
			b.WriteRune('/')
		}
	}
	return strings.Trim(b.String(), "/-")
}

// Distance returns the Levenshtein distance between a and b normalised by
// the longer length, in [0, 1].
func Distance(a, b string) float64 {
	ra, rb := []rune(a), []rune(b)
	longest := max(len(ra), len(rb))
	if longest == 0 {
		return 0
	}
	return float64(levenshtein(ra, rb)) / float64(longest)
}

// NameDistance compares two normalised names token by token and returns the
// worst token distance, or the whole-string distance when that is larger.
// An initial therefore matches only the same initial: "r gowda" and
// "s gowda" differ completely in their first token. Names with a different
// number of tokens fall back to the whole-string distance.
func NameDistance(a, b string) float64 {
	d := Distance(a, b)
	ta, tb := strings.Fields(a), strings.Fields(b)
	if len(ta) != len(tb) {
		return d
	}
	for i := range ta {
		d = max(d, Distance(ta[i], tb[i]))
	}
	return d
}

func levenshtein(a, b []rune) int {
	prev := make([]int, len(b)+1)
	cur := make([]int, len(b)+1)
	for j := range prev {
		prev[j] = j
	}
	for i := 1; i <= len(a); i++ {
		cur[0] = i
		for j := 1; j <= len(b); j++ {
			cost := 1
			if a[i-1] == b[j-1] {
				cost = 0
			}
			cur[j] = min(prev[j]+1, cur[j-1]+1, prev[j-1]+cost)
		}
		prev, cur = cur, prev
	}
	return prev[len(b)]
}
