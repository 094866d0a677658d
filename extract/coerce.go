package extract

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
	"unicode"

	"github.com/brunobiangulo/titlecheck/schema"
)

// dateLayouts are the date spellings found in Karnataka registration
// documents, tried in order. Day-first always wins over month-first.
var dateLayouts = []string{
	"2006-01-02",
	"02-01-2006",
	"2-1-2006",
	"02/01/2006",
	"2/1/2006",
	"02.01.2006",
	"2.1.2006",
	"2 January 2006",
	"2 Jan 2006",
	"02-Jan-2006",
	"2-Jan-2006",
	"January 2, 2006",
	"Jan 2, 2006",
	"2006/01/02",
}

// nullish values mean the model could not find the field.
var nullish = map[string]bool{
	"":              true,
	"null":          true,
	"nil":           true,
	"none":          true,
	"n/a":           true,
	"na":            true,
	"-":             true,
	"--":            true,
	"unknown":       true,
	"not found":     true,
	"not available": true,
	"not mentioned": true,
	"not stated":    true,
}

// ParseDate parses a date in any of the accepted layouts.
func ParseDate(s string) (time.Time, error) {
	s = strings.Join(strings.Fields(s), " ")
	s = strings.TrimSuffix(strings.TrimSuffix(s, "."), ",")
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognised date %q", s)
}

// ParseNumber parses an amount, accepting Indian digit grouping
// ("1,25,000") and rupee prefixes or suffixes.
func ParseNumber(s string) (float64, error) {
	orig := s
	s = strings.TrimSpace(s)
	lower := strings.ToLower(s)
	for _, p := range []string{"rs.", "rs", "inr", "₹"} {
		if strings.HasPrefix(lower, p) {
			s = s[len(p):]
			lower = lower[len(p):]
			break
		}
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "/-")
	s = strings.Map(func(r rune) rune {
		if r == ',' || unicode.IsSpace(r) {
			return -1
		}
		return r
	}, s)
	if s == "" {
		return 0, fmt.Errorf("empty number %q", orig)
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("unrecognised number %q", orig)
	}
	return f, nil
}

// coerce converts a decoded JSON value into a Value for field f.
func coerce(f schema.FieldSpec, raw any) Value {
	v := Value{Kind: f.Type}

	switch x := raw.(type) {
	case nil:
		v.Status = Missing
		return v
	case map[string]any:
		if amb, _ := x["ambiguous"].(bool); amb {
			v.Status = Ambiguous
			v.Raw = rawString(x["candidates"])
			v.Note = "model reported conflicting readings"
			return v
		}
		if f.Type != schema.Table {
			v.Status = Ambiguous
			v.Raw = rawString(x)
			v.Note = "object where a single value was expected"
			return v
		}
	}

	if f.Type == schema.Table {
		return coerceTable(f, raw)
	}

	// A list of alternatives for a scalar field is ambiguous unless it
	// collapses to a single reading.
	if list, ok := raw.([]any); ok {
		switch len(list) {
		case 0:
			v.Status = Missing
			return v
		case 1:
			return coerce(f, list[0])
		default:
			v.Status = Ambiguous
			v.Raw = rawString(list)
			v.Note = "multiple candidate values"
			return v
		}
	}

	s := strings.TrimSpace(rawString(raw))
	if nullish[strings.ToLower(s)] {
		v.Status = Missing
		return v
	}

	ambiguous := func(note string) Value {
		return Value{Kind: f.Type, Status: Ambiguous, Raw: s, Note: note}
	}

	switch f.Type {
	case schema.String:
		v.Text = strings.Join(strings.Fields(s), " ")
	case schema.Date:
		t, err := ParseDate(s)
		if err != nil {
			return ambiguous(err.Error())
		}
		v.Date = t
		v.Text = t.Format("2006-01-02")
	case schema.Number:
		var n float64
		var err error
		if jn, ok := raw.(json.Number); ok {
			n, err = jn.Float64()
		} else {
			n, err = ParseNumber(s)
		}
		if err != nil {
			return ambiguous(err.Error())
		}
		v.Number = n
		v.Text = strconv.FormatFloat(n, 'f', -1, 64)
	case schema.Enum:
		e, ok := matchEnum(f.Enum, s)
		if !ok {
			return ambiguous(fmt.Sprintf("value not in %v", f.Enum))
		}
		v.Text = e
	case schema.Bool:
		b, ok := parseBool(raw, s)
		if !ok {
			return ambiguous("not a yes/no value")
		}
		v.Bool = b
		v.Text = strconv.FormatBool(b)
	}

	if !f.Match(s) {
		return ambiguous(fmt.Sprintf("does not match pattern %s", f.Pattern))
	}
	v.Status = Extracted
	return v
}

func coerceTable(f schema.FieldSpec, raw any) Value {
	v := Value{Kind: schema.Table}
	list, ok := raw.([]any)
	if !ok {
		v.Status = Ambiguous
		v.Raw = rawString(raw)
		v.Note = "expected a list of rows"
		return v
	}
	if len(list) == 0 {
		v.Status = Missing
		return v
	}
	rows := make([]Row, 0, len(list))
	for _, item := range list {
		obj, ok := item.(map[string]any)
		if !ok {
			v.Status = Ambiguous
			v.Raw = rawString(raw)
			v.Note = "row is not an object"
			return v
		}
		row := make(Row, len(f.Columns))
		for _, col := range f.Columns {
			row[col.Name] = coerce(col, obj[col.Name])
		}
		rows = append(rows, row)
	}
	v.Rows = rows
	v.Status = Extracted
	return v
}

func matchEnum(values []string, s string) (string, bool) {
	for _, e := range values {
		if strings.EqualFold(e, s) {
			return e, true
		}
	}
	// "B Khata", "A-register": accept a single token naming one value.
	var found string
	for _, tok := range strings.FieldsFunc(s, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	}) {
		for _, e := range values {
			if strings.EqualFold(e, tok) {
				if found != "" && found != e {
					return "", false
				}
				found = e
			}
		}
	}
	return found, found != ""
}

func parseBool(raw any, s string) (bool, bool) {
	if b, ok := raw.(bool); ok {
		return b, true
	}
	switch strings.ToLower(s) {
	case "true", "yes", "y":
		return true, true
	case "false", "no", "n":
		return false, true
	}
	return false, false
}

func rawString(raw any) string {
	switch x := raw.(type) {
	case nil:
		return ""
	case string:
		return x
	case json.Number:
		return x.String()
	case bool:
		return strconv.FormatBool(x)
	}
	b, err := json.Marshal(raw)
	if err != nil {
		return fmt.Sprint(raw)
	}
	return string(b)
}
