package validator

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

const (
	sqmPerAcre    = 4046.8564224
	sqmPerGunta   = sqmPerAcre / 40
	sqmPerCent    = sqmPerAcre / 100
	sqmPerHectare = 10000
	sqmPerSqFt    = 0.09290304
	sqmPerSqYd    = 0.83612736
)

var (
	digitComma = regexp.MustCompile(`(\d),(\d)`)

	extentPart = regexp.MustCompile(`(?i)(\d+(?:\.\d+)?)\s*(acres?|ac|guntas?|gunthas?|cents?|hectares?|ha|sq\.?\s*ft\.?|sft|square\s+f(?:ee|oo)t|sq\.?\s*yds?\.?|square\s+yards?|sq\.?\s*m(?:trs?|eters?|etres?)?\.?|square\s+met(?:er|re)s?|a|g)\b`)

	// dimensions like "30 x 40 ft" or "9.14 x 12.19 m"; feet when no unit.
	dimensions = regexp.MustCompile(`(?i)(\d+(?:\.\d+)?)\s*(?:x|×|\*|by)\s*(\d+(?:\.\d+)?)\s*(ft|feet|m|mtrs?|meters?|metres?)?\b`)
)

// ParseExtent converts an extent as written in land records into square
// metres. Compound extents ("1 acre 10 guntas") are summed.
func ParseExtent(s string) (float64, error) {
	s = digitComma.ReplaceAllString(s, "$1$2")

	if m := dimensions.FindStringSubmatch(s); m != nil {
		a, _ := strconv.ParseFloat(m[1], 64)
		b, _ := strconv.ParseFloat(m[2], 64)
		unit := strings.ToLower(m[3])
		if unit == "" || strings.HasPrefix(unit, "f") {
			return a * b * sqmPerSqFt, nil
		}
		return a * b, nil
	}

	parts := extentPart.FindAllStringSubmatch(s, -1)
	if len(parts) == 0 {
		return 0, fmt.Errorf("unrecognised extent %q", s)
	}
	var total float64
	for _, p := range parts {
		n, err := strconv.ParseFloat(p[1], 64)
		if err != nil {
			return 0, fmt.Errorf("extent %q: %w", s, err)
		}
		total += n * unitFactor(p[2])
	}
	if total <= 0 {
		return 0, fmt.Errorf("extent %q is not positive", s)
	}
	return total, nil
}

func unitFactor(unit string) float64 {
	u := strings.ToLower(strings.Join(strings.Fields(unit), " "))
	u = strings.TrimSuffix(u, ".")
	switch {
	case u == "a" || strings.HasPrefix(u, "ac"):
		return sqmPerAcre
	case u == "g" || strings.HasPrefix(u, "gun"):
		return sqmPerGunta
	case strings.HasPrefix(u, "cent"):
		return sqmPerCent
	case u == "ha" || strings.HasPrefix(u, "hect"):
		return sqmPerHectare
	case u == "sft" || strings.Contains(u, "f"):
		return sqmPerSqFt
	case strings.Contains(u, "y"):
		return sqmPerSqYd
	default:
		return 1
	}
}

// relativeDiff returns |a-b| / max(a, b).
func relativeDiff(a, b float64) float64 {
	hi := max(a, b)
	if hi == 0 {
		return 0
	}
	d := a - b
	if d < 0 {
		d = -d
	}
	return d / hi
}
