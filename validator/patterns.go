package validator

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/brunobiangulo/titlecheck/extract"
	"github.com/brunobiangulo/titlecheck/schema"
)

const transactionsField = "transactions"

var (
	releaseTerms  = []string{"release", "discharge", "reconvey", "redemption", "satisfaction"}
	mortgageTerms = []string{"mortgage", "hypothecat", "deposit of title", "equitable charge"}
	transferTerms = []string{"sale", "gift", "settlement", "exchange", "conveyance"}
	courtTerms    = []string{"attachment", "court", "lis pendens", "injunction", "stay order", "prohibitory order"}

	poaWord   = regexp.MustCompile(`(?i)\b(?:gpa|spa|poa|p\.o\.a)\b`)
	poaPhrase = []string{"power of attorney", "attorney holder", "attorney for"}
)

func containsAny(s string, terms []string) bool {
	s = strings.ToLower(s)
	for _, t := range terms {
		if strings.Contains(s, t) {
			return true
		}
	}
	return false
}

func isRelease(nature string) bool { return containsAny(nature, releaseTerms) }

func isMortgage(nature string) bool {
	return !isRelease(nature) && containsAny(nature, mortgageTerms)
}

// isTransfer reports conveyances of title. Agreements to sell and
// mortgages by conditional sale are not transfers.
func isTransfer(nature string) bool {
	if isMortgage(nature) || isRelease(nature) || containsAny(nature, []string{"agreement"}) {
		return false
	}
	return containsAny(nature, transferTerms)
}

func mentionsPoA(s string) bool {
	return poaWord.MatchString(s) || containsAny(s, poaPhrase)
}

// withTransactions runs fn for every EC transaction table, emitting an
// indeterminate finding for each EC whose table is unavailable and one
// when no EC was supplied.
func withTransactions(ruleID string, class Class, blocking bool, recs Records,
	fn func(rec *extract.Record, rows []extract.Row) []Finding) []Finding {
	if len(recs.All()) == 0 {
		return nil
	}
	ecs := recs.Of(schema.EC)
	if len(ecs) == 0 {
		return []Finding{indeterminate(ruleID, class, blocking,
			[]FieldRef{absentRef(schema.EC, transactionsField)},
			"no EC supplied, transaction history unavailable")}
	}
	var out []Finding
	for _, rec := range ecs {
		rows, ok := rec.Rows(transactionsField)
		if !ok {
			out = append(out, indeterminate(ruleID, class, blocking,
				[]FieldRef{ref(rec, transactionsField)},
				"transaction table of EC %s was not extracted", rec.DocumentID))
			continue
		}
		out = append(out, fn(rec, rows)...)
	}
	return out
}

// ActiveMortgage flags mortgages in the EC with no later release.
type ActiveMortgage struct {
	// Threshold is the name distance within which parties are the same.
	Threshold float64
}

func (ActiveMortgage) ID() string { return "active-mortgage" }

func (r ActiveMortgage) Evaluate(recs Records) []Finding {
	return withTransactions(r.ID(), Encumbrance, true, recs, func(rec *extract.Record, rows []extract.Row) []Finding {
		var out []Finding
		var unreadable []FieldRef
		released := r.released(rows)
		for i, row := range rows {
			nature, ok := row.Text("nature")
			if !ok {
				unreadable = append(unreadable, rowRef(rec, transactionsField, i+1))
				continue
			}
			if !isMortgage(nature) || released[i] {
				continue
			}
			out = append(out, Finding{
				RuleID:      r.ID(),
				Class:       Encumbrance,
				Description: "unreleased " + describeRow(row, nature),
				Refs:        []FieldRef{rowRef(rec, transactionsField, i+1)},
				Blocking:    true,
			})
		}
		if len(unreadable) > 0 {
			out = append(out, indeterminate(r.ID(), Encumbrance, true, unreadable,
				"nature of %d transaction(s) in EC %s unreadable, mortgages may be missed", len(unreadable), rec.DocumentID))
		}
		return out
	})
}

// released pairs release rows with the mortgages they discharge and returns
// the discharged mortgage rows. Each release discharges at most one
// mortgage. Releases citing a mortgage's document number are paired first;
// the rest go, in date order, to the earliest open mortgage with the parties
// reversed.
func (r ActiveMortgage) released(rows []extract.Row) map[int]bool {
	var mortgages, releases []int
	for _, i := range chronological(rows) {
		nature, _ := rows[i].Text("nature")
		switch {
		case isMortgage(nature):
			mortgages = append(mortgages, i)
		case isRelease(nature):
			releases = append(releases, i)
		}
	}

	done := make(map[int]bool)
	used := make(map[int]bool)
	pair := func(match func(m, rel extract.Row) bool) {
		for _, m := range mortgages {
			if done[m] {
				continue
			}
			for _, j := range releases {
				if used[j] || !follows(rows, j, m) || !match(rows[m], rows[j]) {
					continue
				}
				done[m], used[j] = true, true
				break
			}
		}
	}

	pair(func(m, rel extract.Row) bool {
		mDoc, _ := m.Text("document_number")
		nd := normDocNumber(mDoc)
		if nd == "" {
			return false
		}
		refDoc, _ := rel.Text("reference_document")
		remarks, _ := rel.Text("remarks")
		return sameDocNumber(refDoc, mDoc) || strings.Contains(normDocNumber(remarks), nd)
	})
	pair(func(m, rel extract.Row) bool {
		mExec, _ := m.Text("executant")
		mClaim, _ := m.Text("claimant")
		exec, _ := rel.Text("executant")
		claim, _ := rel.Text("claimant")
		return r.sameParty(exec, mClaim) && r.sameParty(claim, mExec)
	})
	return done
}

// chronological returns row indices ordered by date. An undated row keeps
// the date of the dated row before it.
func chronological(rows []extract.Row) []int {
	keys := make([]time.Time, len(rows))
	var last time.Time
	for i, row := range rows {
		if d, ok := row.Date("date"); ok {
			last = d
		}
		keys[i] = last
	}
	order := make([]int, len(rows))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool { return keys[order[a]].Before(keys[order[b]]) })
	return order
}

// follows reports whether row j comes no earlier than row m, by date when
// both are dated and by position otherwise.
func follows(rows []extract.Row, j, m int) bool {
	if d, ok := rows[j].Date("date"); ok {
		if md, ok := rows[m].Date("date"); ok {
			return !d.Before(md)
		}
	}
	return j > m
}

func (r ActiveMortgage) sameParty(a, b string) bool {
	na, nb := NormalizeName(a), NormalizeName(b)
	if na == "" || nb == "" {
		return false
	}
	return NameDistance(na, nb) <= r.Threshold
}

func normDocNumber(s string) string {
	var b strings.Builder
	for _, c := range strings.ToLower(s) {
		if (c >= '0' && c <= '9') || (c >= 'a' && c <= 'z') || c == '/' {
			b.WriteRune(c)
		}
	}
	return b.String()
}

func sameDocNumber(a, b string) bool {
	na, nb := normDocNumber(a), normDocNumber(b)
	return na != "" && na == nb
}

func describeRow(row extract.Row, nature string) string {
	var b strings.Builder
	b.WriteString(strings.ToLower(nature))
	if d, ok := row.Date("date"); ok {
		fmt.Fprintf(&b, " dated %s", d.Format("2006-01-02"))
	}
	if doc, ok := row.Text("document_number"); ok {
		fmt.Fprintf(&b, " (document %s)", doc)
	}
	if c, ok := row.Text("claimant"); ok {
		fmt.Fprintf(&b, " in favour of %s", c)
	}
	return b.String()
}

// FrequentTransfers flags title that changed hands more than Threshold
// times within any WindowDays window.
type FrequentTransfers struct {
	WindowDays int
	Threshold  int
}

func (FrequentTransfers) ID() string { return "frequent-transfers" }

type datedRow struct {
	idx  int
	date time.Time
}

func (r FrequentTransfers) Evaluate(recs Records) []Finding {
	return withTransactions(r.ID(), Encumbrance, false, recs, func(rec *extract.Record, rows []extract.Row) []Finding {
		var dated []datedRow
		var undated []FieldRef
		for i, row := range rows {
			nature, _ := row.Text("nature")
			if !isTransfer(nature) {
				continue
			}
			d, ok := row.Date("date")
			if !ok {
				undated = append(undated, rowRef(rec, transactionsField, i+1))
				continue
			}
			dated = append(dated, datedRow{idx: i, date: d})
		}
		sort.SliceStable(dated, func(i, j int) bool { return dated[i].date.Before(dated[j].date) })

		window := time.Duration(r.WindowDays) * 24 * time.Hour
		bestLo, bestHi := 0, -1
		lo := 0
		for hi := range dated {
			for dated[hi].date.Sub(dated[lo].date) > window {
				lo++
			}
			if hi-lo > bestHi-bestLo {
				bestLo, bestHi = lo, hi
			}
		}

		if count := bestHi - bestLo + 1; count > r.Threshold {
			span := dated[bestLo : bestHi+1]
			refs := make([]FieldRef, len(span))
			for i, d := range span {
				refs[i] = rowRef(rec, transactionsField, d.idx+1)
			}
			sort.Slice(refs, func(i, j int) bool { return refs[i].Row < refs[j].Row })
			return []Finding{{
				RuleID: r.ID(),
				Class:  Encumbrance,
				Description: fmt.Sprintf("%d transfers between %s and %s exceed %d within %d days",
					count, span[0].date.Format("2006-01-02"), span[len(span)-1].date.Format("2006-01-02"),
					r.Threshold, r.WindowDays),
				Refs: refs,
			}}
		}
		if len(undated) > 0 {
			return []Finding{indeterminate(r.ID(), Encumbrance, false, undated,
				"%d transfer(s) in EC %s have no readable date", len(undated), rec.DocumentID)}
		}
		return nil
	})
}

// PoATransaction flags documents executed through a power of attorney
// holder. One finding per document.
type PoATransaction struct{}

func (PoATransaction) ID() string { return "poa-transaction" }

func (r PoATransaction) Evaluate(recs Records) []Finding {
	out := withTransactions(r.ID(), Encumbrance, false, recs, func(rec *extract.Record, rows []extract.Row) []Finding {
		var refs []FieldRef
		for i, row := range rows {
			viaPoA, _ := row.Bool("executed_through_poa")
			nature, _ := row.Text("nature")
			exec, _ := row.Text("executant")
			if viaPoA || mentionsPoA(nature) || mentionsPoA(exec) {
				refs = append(refs, rowRef(rec, transactionsField, i+1))
			}
		}
		if len(refs) == 0 {
			return nil
		}
		return []Finding{{
			RuleID:      r.ID(),
			Class:       Encumbrance,
			Description: fmt.Sprintf("%d transaction(s) in EC %s executed through a power of attorney", len(refs), rec.DocumentID),
			Refs:        refs,
		}}
	})

	for _, rec := range recs.Of(schema.SaleDeed) {
		viaPoA, _ := rec.Bool("executed_through_poa")
		holder, hasHolder := rec.Text("poa_holder")
		if !viaPoA && !hasHolder {
			continue
		}
		refs := []FieldRef{ref(rec, "executed_through_poa")}
		desc := fmt.Sprintf("sale deed %s executed through a power of attorney", rec.DocumentID)
		if hasHolder {
			refs = append(refs, ref(rec, "poa_holder"))
			desc += " holder " + holder
		}
		out = append(out, Finding{
			RuleID:      r.ID(),
			Class:       Encumbrance,
			Description: desc,
			Refs:        refs,
		})
	}
	return out
}

// CourtAttachment flags attachments, court orders and lis pendens entries.
type CourtAttachment struct{}

func (CourtAttachment) ID() string { return "court-attachment" }

func (r CourtAttachment) Evaluate(recs Records) []Finding {
	return withTransactions(r.ID(), Encumbrance, true, recs, func(rec *extract.Record, rows []extract.Row) []Finding {
		var out []Finding
		for i, row := range rows {
			nature, _ := row.Text("nature")
			remarks, _ := row.Text("remarks")
			if !containsAny(nature, courtTerms) && !containsAny(remarks, courtTerms) {
				continue
			}
			label := nature
			if label == "" {
				label = remarks
			}
			out = append(out, Finding{
				RuleID:      r.ID(),
				Class:       Encumbrance,
				Description: "court or attachment entry: " + describeRow(row, label),
				Refs:        []FieldRef{rowRef(rec, transactionsField, i+1)},
				Blocking:    true,
			})
		}
		return out
	})
}

// KhataRegister flags properties entered in the B-khata register.
type KhataRegister struct{}

func (KhataRegister) ID() string { return "khata-register" }

func (r KhataRegister) Evaluate(recs Records) []Finding {
	var out []Finding
	for _, rec := range recs.Of(schema.Khata) {
		if t, ok := rec.Text("khata_type"); ok && strings.EqualFold(t, "B") {
			out = append(out, Finding{
				RuleID:      r.ID(),
				Class:       Administrative,
				Description: fmt.Sprintf("khata %s is in the B register; the property is not fully regularised", rec.DocumentID),
				Refs:        []FieldRef{ref(rec, "khata_type")},
			})
		}
	}
	return out
}

// ExtractionIncomplete surfaces records with missing or ambiguous
// required fields.
type ExtractionIncomplete struct{}

func (ExtractionIncomplete) ID() string { return "extraction-incomplete" }

func (r ExtractionIncomplete) Evaluate(recs Records) []Finding {
	var out []Finding
	for _, rec := range recs.All() {
		missing := rec.Missing()
		if len(missing) == 0 {
			continue
		}
		refs := make([]FieldRef, len(missing))
		for i, name := range missing {
			refs[i] = ref(rec, name)
		}
		out = append(out, Finding{
			RuleID:      r.ID(),
			Class:       Administrative,
			Description: fmt.Sprintf("%s %s: required fields missing or ambiguous: %s", rec.DocType, rec.DocumentID, strings.Join(missing, ", ")),
			Refs:        refs,
		})
	}
	return out
}
