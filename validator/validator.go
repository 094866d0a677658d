// Package validator cross-checks extracted records and detects risk
// patterns, producing findings.
package validator

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/brunobiangulo/titlecheck/extract"
	"github.com/brunobiangulo/titlecheck/schema"
)

// ErrIndeterminate marks a finding whose rule could not run because an
// input was missing.
var ErrIndeterminate = errors.New("titlecheck: validation indeterminate")

// Class is the severity class of a finding.
type Class string

const (
	TitleBreak     Class = "title-break"
	Encumbrance    Class = "encumbrance"
	Administrative Class = "administrative"
)

// Classes lists every severity class.
var Classes = []Class{TitleBreak, Encumbrance, Administrative}

// FieldRef points at the record field that triggered a finding. Row is
// the 1-based table row, or 0 for the whole field. An empty DocumentID
// means the document was not supplied.
type FieldRef struct {
	DocType    schema.DocType `json:"doc_type"`
	DocumentID string         `json:"document_id"`
	Field      string         `json:"field"`
	Row        int            `json:"row,omitempty"`
}

func (r FieldRef) String() string {
	id := r.DocumentID
	if id == "" {
		id = "(not supplied)"
	}
	s := fmt.Sprintf("%s:%s.%s", r.DocType, id, r.Field)
	if r.Row > 0 {
		s += fmt.Sprintf("[%d]", r.Row)
	}
	return s
}

// Finding is one validation result.
type Finding struct {
	RuleID        string     `json:"rule_id"`
	Class         Class      `json:"class"`
	Description   string     `json:"description"`
	Refs          []FieldRef `json:"refs"`
	Blocking      bool       `json:"blocking"`
	Indeterminate bool       `json:"indeterminate,omitempty"`
}

// Err returns an error wrapping ErrIndeterminate for indeterminate
// findings, or nil.
func (f Finding) Err() error {
	if !f.Indeterminate {
		return nil
	}
	return fmt.Errorf("%w: %s: %s", ErrIndeterminate, f.RuleID, f.Description)
}

// Key identifies a finding for ordering and comparison.
func (f Finding) Key() string {
	refs := make([]string, len(f.Refs))
	for i, r := range f.Refs {
		refs[i] = r.String()
	}
	return f.RuleID + "|" + strings.Join(refs, ",") + "|" + f.Description
}

// Rule is a stateless check over the full record set. Rules never read
// each other's output.
type Rule interface {
	ID() string
	Evaluate(recs Records) []Finding
}

// Records is the record set of one session, grouped by document type.
type Records struct {
	all    []*extract.Record
	byType map[schema.DocType][]*extract.Record
}

// NewRecords groups recs. Nil records are skipped and the order is
// normalised so evaluation never depends on input order.
func NewRecords(recs []*extract.Record) Records {
	r := Records{byType: make(map[schema.DocType][]*extract.Record)}
	for _, rec := range recs {
		if rec != nil {
			r.all = append(r.all, rec)
		}
	}
	sort.SliceStable(r.all, func(i, j int) bool {
		a, b := r.all[i], r.all[j]
		if ta, tb := typeOrder(a.DocType), typeOrder(b.DocType); ta != tb {
			return ta < tb
		}
		return a.DocumentID < b.DocumentID
	})
	for _, rec := range r.all {
		r.byType[rec.DocType] = append(r.byType[rec.DocType], rec)
	}
	return r
}

// All returns every record.
func (r Records) All() []*extract.Record { return r.all }

// Of returns the records of type t.
func (r Records) Of(t schema.DocType) []*extract.Record { return r.byType[t] }

func typeOrder(t schema.DocType) int {
	for i, dt := range schema.DocTypes {
		if dt == t {
			return i
		}
	}
	return len(schema.DocTypes)
}

// Config tunes the default rules.
type Config struct {
	// MatchThreshold is the normalised edit distance above which two names
	// or unparseable extents are a mismatch.
	MatchThreshold float64 `json:"match_threshold" yaml:"match_threshold"`
	// ExtentTolerance is the relative area difference above which two
	// extents are a mismatch.
	ExtentTolerance float64 `json:"extent_tolerance" yaml:"extent_tolerance"`
	// TransferWindowDays and TransferThreshold flag more than Threshold
	// transfers within any window of WindowDays.
	TransferWindowDays int `json:"transfer_window_days" yaml:"transfer_window_days"`
	TransferThreshold  int `json:"transfer_threshold" yaml:"transfer_threshold"`
}

// Validate reports configuration problems.
func (c Config) Validate() error {
	var errs []error
	if c.MatchThreshold <= 0 || c.MatchThreshold >= 1 {
		errs = append(errs, fmt.Errorf("match_threshold must be in (0, 1), got %v", c.MatchThreshold))
	}
	if c.ExtentTolerance <= 0 || c.ExtentTolerance >= 1 {
		errs = append(errs, fmt.Errorf("extent_tolerance must be in (0, 1), got %v", c.ExtentTolerance))
	}
	if c.TransferWindowDays <= 0 {
		errs = append(errs, fmt.Errorf("transfer_window_days must be positive, got %d", c.TransferWindowDays))
	}
	if c.TransferThreshold <= 0 {
		errs = append(errs, fmt.Errorf("transfer_threshold must be positive, got %d", c.TransferThreshold))
	}
	return errors.Join(errs...)
}

// DefaultRules returns the standard rule set configured by cfg.
func DefaultRules(cfg Config) []Rule {
	return []Rule{
		OwnerMatch{Threshold: cfg.MatchThreshold},
		SurveyMatch{},
		ExtentMatch{Tolerance: cfg.ExtentTolerance, Threshold: cfg.MatchThreshold},
		ActiveMortgage{Threshold: cfg.MatchThreshold},
		FrequentTransfers{WindowDays: cfg.TransferWindowDays, Threshold: cfg.TransferThreshold},
		PoATransaction{},
		CourtAttachment{},
		KhataRegister{},
		ExtractionIncomplete{},
	}
}

// Validator runs a fixed rule set.
type Validator struct {
	rules []Rule
}

// New creates a validator. With no rules it uses DefaultRules(cfg).
func New(cfg Config, rules ...Rule) *Validator {
	if len(rules) == 0 {
		rules = DefaultRules(cfg)
	}
	return &Validator{rules: rules}
}

// Rules returns the IDs of the configured rules.
func (v *Validator) Rules() []string {
	ids := make([]string, len(v.rules))
	for i, r := range v.rules {
		ids[i] = r.ID()
	}
	return ids
}

// Validate runs every rule and returns the findings in a canonical order,
// so the same records always yield the same slice.
func (v *Validator) Validate(records []*extract.Record) []Finding {
	recs := NewRecords(records)
	var out []Finding
	for _, r := range v.rules {
		fs := r.Evaluate(recs)
		slog.Debug("validator: rule evaluated", "rule", r.ID(), "findings", len(fs))
		out = append(out, fs...)
	}
	SortFindings(out)
	return out
}

// SortFindings orders findings by rule ID, then refs, then description.
func SortFindings(fs []Finding) {
	sort.SliceStable(fs, func(i, j int) bool { return fs[i].Key() < fs[j].Key() })
}

func indeterminate(ruleID string, class Class, blocking bool, refs []FieldRef, format string, args ...any) Finding {
	return Finding{
		RuleID:        ruleID,
		Class:         class,
		Description:   "indeterminate: " + fmt.Sprintf(format, args...),
		Refs:          refs,
		Blocking:      blocking,
		Indeterminate: true,
	}
}

func ref(rec *extract.Record, field string) FieldRef {
	return FieldRef{DocType: rec.DocType, DocumentID: rec.DocumentID, Field: field}
}

func rowRef(rec *extract.Record, field string, row int) FieldRef {
	return FieldRef{DocType: rec.DocType, DocumentID: rec.DocumentID, Field: field, Row: row}
}

func absentRef(t schema.DocType, field string) FieldRef {
	return FieldRef{DocType: t, Field: field}
}
