package advisor

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/brunobiangulo/titlecheck/chunker"
)

// labelGroupPattern matches a bracketed group of source labels: "[S1]",
// "[S1, S3]", "[S2; S4]".
var labelGroupPattern = regexp.MustCompile(`\[\s*S\d+(?:\s*[,;]\s*S\d+)*\s*\]`)

var labelPattern = regexp.MustCompile(`S(\d+)`)

// Gaps left when a label group is removed.
var (
	repeatedSpaces    = regexp.MustCompile(`[ \t]{2,}`)
	spacesBeforePunct = regexp.MustCompile(`[ \t]+([.,;:])`)
)

// checkedProse is model prose with its source labels verified.
type checkedProse struct {
	text     string
	labels   []int // valid labels, 1-based, in order of first use
	rejected int   // label occurrences outside 1..n
}

// checkLabels keeps labels that name one of the n numbered sources and
// strips every other label from the prose.
func checkLabels(prose string, n int) checkedProse {
	var out checkedProse
	seen := make(map[int]bool)
	out.text = labelGroupPattern.ReplaceAllStringFunc(prose, func(group string) string {
		var kept []string
		for _, m := range labelPattern.FindAllStringSubmatch(group, -1) {
			num, err := strconv.Atoi(m[1])
			if err != nil || num < 1 || num > n {
				out.rejected++
				continue
			}
			kept = append(kept, "S"+m[1])
			if !seen[num] {
				seen[num] = true
				out.labels = append(out.labels, num)
			}
		}
		if len(kept) == 0 {
			return ""
		}
		return "[" + strings.Join(kept, ", ") + "]"
	})
	out.text = repeatedSpaces.ReplaceAllString(out.text, " ")
	out.text = strings.TrimSpace(spacesBeforePunct.ReplaceAllString(out.text, "$1"))
	return out
}

// unsupportedRefs returns the section numbers mentioned in prose that none
// of the cited passages belongs to.
func unsupportedRefs(prose string, cited []Citation) []string {
	have := make(map[string]bool)
	for _, c := range cited {
		if s, ok := chunker.LocatorSection(c.Locator); ok {
			have[s] = true
		}
	}
	var out []string
	for _, r := range chunker.StatuteRefs(prose) {
		if !have[r] {
			out = append(out, r)
		}
	}
	return out
}
