package validator

import (
	"fmt"
	"strings"

	"github.com/brunobiangulo/titlecheck/extract"
	"github.com/brunobiangulo/titlecheck/schema"
)

// attribute is one Golden Triangle property read from every document type
// and compared pairwise.
type attribute struct {
	ruleID string
	label  string
	// field names the attribute's field per document type, for refs when
	// the value is absent.
	field map[schema.DocType]string
	value func(rec *extract.Record) (string, FieldRef, bool)
	// differ reports whether a and b disagree beyond tolerance, and how far.
	differ func(a, b string) (bool, string)
}

// evaluatePairs compares the attribute across every EC/Khata/SaleDeed
// record pair. Each disagreeing pair yields exactly one finding.
func evaluatePairs(attr attribute, recs Records) []Finding {
	var present int
	for _, t := range schema.DocTypes {
		present += len(recs.Of(t))
	}
	if present == 0 {
		return nil
	}

	var out []Finding
	for _, t := range schema.DocTypes {
		if len(recs.Of(t)) == 0 {
			out = append(out, indeterminate(attr.ruleID, TitleBreak, true,
				[]FieldRef{absentRef(t, attr.field[t])},
				"no %s record supplied to compare %s", t, attr.label))
		}
	}

	for i, ta := range schema.DocTypes {
		for _, tb := range schema.DocTypes[i+1:] {
			for _, a := range recs.Of(ta) {
				for _, b := range recs.Of(tb) {
					if f, ok := comparePair(attr, a, b); ok {
						out = append(out, f)
					}
				}
			}
		}
	}
	return out
}

func comparePair(attr attribute, a, b *extract.Record) (Finding, bool) {
	va, ra, okA := attr.value(a)
	vb, rb, okB := attr.value(b)
	refs := []FieldRef{ra, rb}

	if !okA || !okB {
		var missing []string
		if !okA {
			missing = append(missing, fmt.Sprintf("%s %s", a.DocType, a.DocumentID))
		}
		if !okB {
			missing = append(missing, fmt.Sprintf("%s %s", b.DocType, b.DocumentID))
		}
		return indeterminate(attr.ruleID, TitleBreak, true, refs,
			"%s not available in %s", attr.label, strings.Join(missing, " and ")), true
	}

	mismatch, detail := attr.differ(va, vb)
	if !mismatch {
		return Finding{}, false
	}
	return Finding{
		RuleID: attr.ruleID,
		Class:  TitleBreak,
		Description: fmt.Sprintf("%s differs between %s %s (%q) and %s %s (%q): %s",
			attr.label, a.DocType, a.DocumentID, va, b.DocType, b.DocumentID, vb, detail),
		Refs:     refs,
		Blocking: true,
	}, true
}

// OwnerMatch checks that the EC's current owner, the Khata holder and the
// Sale Deed purchaser are the same person.
type OwnerMatch struct {
	Threshold float64
}

func (OwnerMatch) ID() string { return "owner-mismatch" }

func (r OwnerMatch) Evaluate(recs Records) []Finding {
	return evaluatePairs(attribute{
		ruleID: r.ID(),
		label:  "owner name",
		field: map[schema.DocType]string{
			schema.EC:       "owner_name",
			schema.Khata:    "owner_name",
			schema.SaleDeed: "purchaser_name",
		},
		value: ownerOf,
		differ: func(a, b string) (bool, string) {
			d := NameDistance(NormalizeName(a), NormalizeName(b))
			return d > r.Threshold, fmt.Sprintf("name distance %.2f exceeds %.2f", d, r.Threshold)
		},
	}, recs)
}

// ownerOf returns the owner a document attests to. An EC without an
// explicit owner falls back to the claimant of its latest conveyance.
func ownerOf(rec *extract.Record) (string, FieldRef, bool) {
	switch rec.DocType {
	case schema.SaleDeed:
		v, ok := rec.Text("purchaser_name")
		return v, ref(rec, "purchaser_name"), ok
	case schema.EC:
		if v, ok := rec.Text("owner_name"); ok {
			return v, ref(rec, "owner_name"), true
		}
		rows, _ := rec.Rows("transactions")
		for i := len(rows) - 1; i >= 0; i-- {
			nature, _ := rows[i].Text("nature")
			if !isTransfer(nature) {
				continue
			}
			if v, ok := rows[i].Text("claimant"); ok {
				return v, rowRef(rec, "transactions", i+1), true
			}
		}
		return "", ref(rec, "owner_name"), false
	default:
		v, ok := rec.Text("owner_name")
		return v, ref(rec, "owner_name"), ok
	}
}

// SurveyMatch checks the survey number. Survey numbers are identifiers, so
// any difference after normalisation is a mismatch.
type SurveyMatch struct{}

func (SurveyMatch) ID() string { return "survey-mismatch" }

func (r SurveyMatch) Evaluate(recs Records) []Finding {
	return evaluatePairs(attribute{
		ruleID: r.ID(),
		label:  "survey number",
		field:  sameField("survey_number"),
		value:  textOf("survey_number"),
		differ: func(a, b string) (bool, string) {
			na, nb := NormalizeSurvey(a), NormalizeSurvey(b)
			return na != nb, fmt.Sprintf("normalised %s vs %s", na, nb)
		},
	}, recs)
}

// ExtentMatch compares land extents in square metres. Extents that cannot
// be parsed fall back to string distance.
type ExtentMatch struct {
	Tolerance float64
	Threshold float64
}

func (ExtentMatch) ID() string { return "extent-mismatch" }

func (r ExtentMatch) Evaluate(recs Records) []Finding {
	return evaluatePairs(attribute{
		ruleID: r.ID(),
		label:  "extent",
		field:  sameField("extent"),
		value:  textOf("extent"),
		differ: func(a, b string) (bool, string) {
			ea, errA := ParseExtent(a)
			eb, errB := ParseExtent(b)
			if errA == nil && errB == nil {
				d := relativeDiff(ea, eb)
				return d > r.Tolerance, fmt.Sprintf("%.1f sq m vs %.1f sq m (%.1f%% apart)", ea, eb, d*100)
			}
			d := Distance(strings.ToLower(strings.Join(strings.Fields(a), " ")),
				strings.ToLower(strings.Join(strings.Fields(b), " ")))
			return d > r.Threshold, fmt.Sprintf("unparsed extent text distance %.2f", d)
		},
	}, recs)
}

func sameField(name string) map[schema.DocType]string {
	m := make(map[schema.DocType]string, len(schema.DocTypes))
	for _, t := range schema.DocTypes {
		m[t] = name
	}
	return m
}

func textOf(field string) func(*extract.Record) (string, FieldRef, bool) {
	return func(rec *extract.Record) (string, FieldRef, bool) {
		v, ok := rec.Text(field)
		return v, ref(rec, field), ok
	}
}
