// Package advisor explains findings with statute passages retrieved from the
// legal corpus. The completion model may only cite passages it was shown;
// every citation in a report names a chunk of the index it was retrieved
// from.
package advisor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/brunobiangulo/titlecheck/corpus"
	"github.com/brunobiangulo/titlecheck/llm"
	"github.com/brunobiangulo/titlecheck/risk"
	"github.com/brunobiangulo/titlecheck/validator"
)

// ErrRetrievalEmpty marks findings for which no statute passage scored
// above the minimum. It is recorded on the entry, never returned.
var ErrRetrievalEmpty = errors.New("titlecheck: no statutory citation found")

// NoCitationMarker is set on entries without a verified citation.
const NoCitationMarker = "no statutory citation found"

// Recommendation is the overall advice of a report.
type Recommendation string

const (
	Proceed      Recommendation = "proceed"
	Caution      Recommendation = "proceed with caution"
	DoNotProceed Recommendation = "do not proceed"
)

// Completer sends chat completion requests. llm.Provider satisfies it.
type Completer interface {
	Chat(ctx context.Context, req llm.ChatRequest) (*llm.ChatResponse, error)
}

// Index is the part of the corpus index the advisor needs.
// *corpus.Index satisfies it.
type Index interface {
	Search(ctx context.Context, query string, k int, prefer corpus.Jurisdiction) ([]corpus.Hit, error)
	Has(id string) bool
	Version() string
}

// Config configures the advisor.
type Config struct {
	TopK           int                 `json:"top_k" yaml:"top_k"`
	MinScore       float64             `json:"min_score" yaml:"min_score"`
	RewriteQueries bool                `json:"rewrite_queries" yaml:"rewrite_queries"`
	Jurisdiction   corpus.Jurisdiction `json:"jurisdiction" yaml:"jurisdiction"`
	Model          string              `json:"model" yaml:"model"`
	Temperature    float64             `json:"temperature" yaml:"temperature"`
	MaxTokens      int                 `json:"max_tokens" yaml:"max_tokens"`
}

// Citation is a verified reference to a corpus chunk.
type Citation struct {
	Label        string              `json:"label"` // "S1"
	ChunkID      string              `json:"chunk_id"`
	Act          string              `json:"act"`
	Locator      string              `json:"locator"`
	Jurisdiction corpus.Jurisdiction `json:"jurisdiction"`
	Score        float64             `json:"score"`
	// Excerpt is the part of the passage closest to the finding.
	Excerpt string `json:"excerpt,omitempty"`
}

// Entry is the advice for one finding.
type Entry struct {
	Finding   validator.Finding `json:"finding"`
	Query     string            `json:"query"`
	Citations []Citation        `json:"citations"`
	Prose     string            `json:"prose"`
	Uncited   bool              `json:"uncited"`
	Marker    string            `json:"marker,omitempty"`
	// RejectedCitations counts labels the model produced that did not name
	// a retrieved passage. They are removed from Prose.
	RejectedCitations int `json:"rejected_citations"`
	// UnsupportedRefs lists section numbers mentioned in Prose that no
	// cited passage belongs to.
	UnsupportedRefs []string `json:"unsupported_refs,omitempty"`
}

// Err returns a wrapped ErrRetrievalEmpty for uncited entries.
func (e Entry) Err() error {
	if !e.Uncited {
		return nil
	}
	return fmt.Errorf("%w: %s", ErrRetrievalEmpty, e.Finding.RuleID)
}

// Report is the final output of an assessment.
type Report struct {
	ID             string          `json:"id"`
	Assessment     risk.Assessment `json:"assessment"`
	Entries        []Entry         `json:"entries"`
	Recommendation Recommendation  `json:"recommendation"`
	Summary        string          `json:"summary"`
	GeneratedAt    time.Time       `json:"generated_at"`
	IndexVersion   string          `json:"index_version"`
}

// Uncited returns the number of entries without a verified citation.
func (r *Report) Uncited() int {
	n := 0
	for _, e := range r.Entries {
		if e.Uncited {
			n++
		}
	}
	return n
}

// CitedChunkIDs returns every cited chunk ID, in entry order.
func (r *Report) CitedChunkIDs() []string {
	var ids []string
	for _, e := range r.Entries {
		for _, c := range e.Citations {
			ids = append(ids, c.ChunkID)
		}
	}
	return ids
}

// Advisor produces grounded reports.
type Advisor struct {
	chat Completer
	cfg  Config
}

// New returns an Advisor. A zero TopK becomes 3.
func New(chat Completer, cfg Config) *Advisor {
	if cfg.TopK <= 0 {
		cfg.TopK = 3
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 800
	}
	return &Advisor{chat: chat, cfg: cfg}
}

// Advise builds the report for findings scored as a. idx is the index
// snapshot used for every retrieval and citation check of the report.
//
// A finding with no passage above MinScore is reported uncited and the
// report continues. A completion failure aborts the report with an error
// wrapping llm.ErrUnavailable.
func (a *Advisor) Advise(ctx context.Context, findings []validator.Finding, as risk.Assessment, idx Index) (*Report, error) {
	if idx == nil {
		return nil, errors.New("advisor: no index")
	}
	sorted := append([]validator.Finding(nil), findings...)
	validator.SortFindings(sorted)

	report := &Report{
		ID:           uuid.NewString(),
		Assessment:   as,
		Entries:      make([]Entry, 0, len(sorted)),
		IndexVersion: idx.Version(),
	}
	for _, f := range sorted {
		e, err := a.adviseOne(ctx, f, idx)
		if err != nil {
			return nil, fmt.Errorf("advising on %s: %w", f.RuleID, err)
		}
		report.Entries = append(report.Entries, e)
	}
	report.Recommendation = Recommend(as)
	report.Summary = summarize(report)
	report.GeneratedAt = time.Now().UTC()

	slog.Info("advisor: report complete",
		"report", report.ID, "entries", len(report.Entries),
		"uncited", report.Uncited(), "recommendation", report.Recommendation)
	return report, nil
}

func (a *Advisor) adviseOne(ctx context.Context, f validator.Finding, idx Index) (Entry, error) {
	e := Entry{Finding: f, Query: BuildQuery(f)}
	if a.cfg.RewriteQueries {
		q, err := a.rewriteQuery(ctx, f, e.Query)
		if err != nil {
			return Entry{}, err
		}
		e.Query = q
	}

	hits, err := idx.Search(ctx, e.Query, a.cfg.TopK, a.cfg.Jurisdiction)
	if err != nil {
		return Entry{}, fmt.Errorf("retrieving statutes: %w", err)
	}
	var kept []corpus.Hit
	for _, h := range hits {
		if h.Score >= a.cfg.MinScore && idx.Has(h.Chunk.ID) {
			kept = append(kept, h)
		}
	}
	slog.Debug("advisor: retrieval", "rule", f.RuleID, "hits", len(hits), "kept", len(kept))
	if len(kept) == 0 {
		return uncited(e, fmt.Sprintf("%s No statute in the corpus scored above %.2f for this finding; it needs manual legal review.",
			sentence(f.Description), a.cfg.MinScore)), nil
	}

	resp, err := a.complete(ctx, []llm.Message{
		{Role: "system", Content: systemPrompt},
		{Role: "user", Content: buildAdvicePrompt(f, kept)},
	})
	if err != nil {
		return Entry{}, err
	}

	checked := checkLabels(resp.Content, len(kept))
	e.Prose = checked.text
	e.RejectedCitations = checked.rejected
	for _, n := range checked.labels {
		h := kept[n-1]
		if !idx.Has(h.Chunk.ID) {
			e.RejectedCitations++
			continue
		}
		e.Citations = append(e.Citations, Citation{
			Label:        fmt.Sprintf("S%d", n),
			ChunkID:      h.Chunk.ID,
			Act:          h.Chunk.Act,
			Locator:      h.Chunk.Locator,
			Jurisdiction: h.Chunk.Jurisdiction,
			Score:        h.Score,
			Excerpt:      corpus.Snippet(h.Chunk.Text, e.Query, corpus.DefaultSnippetLen),
		})
	}
	if e.RejectedCitations > 0 {
		slog.Warn("advisor: removed citations to passages that were not retrieved",
			"rule", f.RuleID, "rejected", e.RejectedCitations)
	}
	if len(e.Citations) == 0 {
		return uncited(e, fmt.Sprintf("%s The retrieved statutes did not support an explanation; it needs manual legal review.",
			sentence(f.Description))), nil
	}
	e.UnsupportedRefs = unsupportedRefs(e.Prose, e.Citations)
	return e, nil
}

func uncited(e Entry, prose string) Entry {
	e.Citations = nil
	e.Prose = prose
	e.Uncited = true
	e.Marker = NoCitationMarker
	e.UnsupportedRefs = nil
	return e
}

func (a *Advisor) complete(ctx context.Context, messages []llm.Message) (*llm.ChatResponse, error) {
	resp, err := a.chat.Chat(ctx, llm.ChatRequest{
		Model:       a.cfg.Model,
		Messages:    messages,
		Temperature: a.cfg.Temperature,
		MaxTokens:   a.cfg.MaxTokens,
	})
	if err != nil {
		if isCanceled(err) || ctx.Err() != nil || errors.Is(err, llm.ErrUnavailable) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %w", llm.ErrUnavailable, err)
	}
	return resp, nil
}

// Recommend derives the overall advice from an assessment: do not proceed
// on a critical band or any blocking finding that was established; proceed
// with caution on medium or high; proceed on low.
func Recommend(as risk.Assessment) Recommendation {
	if as.Band == risk.Critical {
		return DoNotProceed
	}
	for _, c := range as.Contributions {
		if c.Finding.Blocking && !c.Finding.Indeterminate {
			return DoNotProceed
		}
	}
	switch as.Band {
	case risk.Medium, risk.High:
		return Caution
	default:
		return Proceed
	}
}

func summarize(r *Report) string {
	if len(r.Entries) == 0 {
		return fmt.Sprintf("Risk score %.1f/%d (%s). No discrepancies were found. Recommendation: %s.",
			r.Assessment.Score, risk.MaxScore, r.Assessment.Band, r.Recommendation)
	}
	return fmt.Sprintf("Risk score %.1f/%d (%s). %d finding(s), %d without statutory citation. Recommendation: %s.",
		r.Assessment.Score, risk.MaxScore, r.Assessment.Band, len(r.Entries), r.Uncited(), r.Recommendation)
}

func sentence(s string) string {
	s = strings.TrimSpace(s)
	if s == "" || strings.HasSuffix(s, ".") {
		return s
	}
	return s + "."
}

const systemPrompt = `You are a senior advocate practising Karnataka property law, writing a due-diligence note for a buyer.
Rules:
1. Explain the legal consequence of the discrepancy using ONLY the numbered statutory sources provided.
2. Cite sources with their labels in square brackets, e.g. [S1] or [S1, S2]. Never cite a label that was not provided.
3. Do not cite any other statute, case or section from memory.
4. If the sources do not bear on the discrepancy, say so in one sentence and cite nothing.
5. Write two to five sentences of plain prose. No markdown, no headings.`

func buildAdvicePrompt(f validator.Finding, hits []corpus.Hit) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Discrepancy: %s\n", f.Description)
	fmt.Fprintf(&b, "Rule: %s (%s", f.RuleID, f.Class)
	if f.Blocking {
		b.WriteString(", blocking")
	}
	if f.Indeterminate {
		b.WriteString(", could not be fully checked")
	}
	b.WriteString(")\n")
	refs := make([]string, len(f.Refs))
	for i, r := range f.Refs {
		refs[i] = r.String()
	}
	fmt.Fprintf(&b, "Document fields: %s\n\n", strings.Join(refs, "; "))

	b.WriteString("Statutory sources:\n")
	for i, h := range hits {
		fmt.Fprintf(&b, "--- [S%d] %s, %s (%s) ---\n%s\n\n", i+1, h.Chunk.Act, h.Chunk.Locator, h.Chunk.Jurisdiction, h.Chunk.Text)
	}
	b.WriteString("Explain the legal consequence for the buyer, citing the sources by label.")
	return b.String()
}
