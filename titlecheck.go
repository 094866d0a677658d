// Package titlecheck automates legal due diligence on Karnataka property
// documents: it extracts the Encumbrance Certificate, Khata and Sale Deed
// into typed records, cross-checks them, scores the discrepancies and
// explains each one with citations from a statute corpus.
package titlecheck

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"github.com/brunobiangulo/titlecheck/advisor"
	"github.com/brunobiangulo/titlecheck/corpus"
	"github.com/brunobiangulo/titlecheck/extract"
	"github.com/brunobiangulo/titlecheck/llm"
	"github.com/brunobiangulo/titlecheck/parser"
	"github.com/brunobiangulo/titlecheck/risk"
	"github.com/brunobiangulo/titlecheck/schema"
	"github.com/brunobiangulo/titlecheck/store"
	"github.com/brunobiangulo/titlecheck/validator"
)

// Engine is the main entry point of the due-diligence pipeline.
type Engine interface {
	// Assess runs one session: extraction, validation, scoring and
	// advice. Sessions share only the active corpus index.
	Assess(ctx context.Context, docs []Document) (*Result, error)

	// BuildCorpus builds a new index from the statute sources in dir,
	// persists it and swaps it in. A failed build leaves the active index
	// in place.
	BuildCorpus(ctx context.Context, dir string, opts ...BuildOption) (*corpus.Stats, error)

	// LoadCorpus activates the most recently persisted corpus.
	LoadCorpus(ctx context.Context) (*corpus.Stats, error)

	// CorpusStats describes the active index.
	CorpusStats() (*corpus.Stats, error)

	// SearchCorpus queries the active index directly.
	SearchCorpus(ctx context.Context, query string, k int) ([]corpus.Hit, error)

	// RecentAssessments lists logged sessions, newest first.
	RecentAssessments(ctx context.Context, limit int) ([]store.AssessmentLog, error)

	// Store returns the underlying store for diagnostic access.
	Store() *store.Store

	// Close cleanly shuts down the engine.
	Close() error
}

// Document is one uploaded document of a session. Text is the output of
// the text-extraction collaborator; when it is empty, Path is read with
// the built-in PDF and plain-text parsers.
type Document struct {
	Type schema.DocType `json:"type"`
	ID   string         `json:"id,omitempty"`
	Text string         `json:"text,omitempty"`
	Path string         `json:"path,omitempty"`
}

// Result is the outcome of a session.
type Result struct {
	Records []*extract.Record `json:"records"`
	Report  *advisor.Report   `json:"report"`
}

// Option configures New.
type Option func(*options)

type options struct {
	chat  llm.Provider
	embed llm.Provider
}

// WithChatProvider replaces the completion provider built from Config.Chat.
func WithChatProvider(p llm.Provider) Option {
	return func(o *options) { o.chat = p }
}

// WithEmbeddingProvider replaces the embedding provider built from
// Config.Embedding.
func WithEmbeddingProvider(p llm.Provider) Option {
	return func(o *options) { o.embed = p }
}

// BuildOption configures BuildCorpus.
type BuildOption func(*corpus.BuilderConfig)

// WithProgress reports embedding progress after each batch.
func WithProgress(fn func(done, total int)) BuildOption {
	return func(c *corpus.BuilderConfig) { c.Progress = fn }
}

type engine struct {
	cfg       Config
	store     *store.Store
	chatLLM   llm.Provider
	embedLLM  llm.Provider
	schemas   *schema.Store
	parsers   *parser.Registry
	extractor *extract.Extractor
	validator *validator.Validator
	advisor   *advisor.Advisor
	corpus    corpus.Holder
	closed    atomic.Bool
}

// New creates an engine. The configuration is validated first; a risk
// policy is never defaulted. A previously persisted corpus is activated
// when one exists and matches the configured embedding dimension.
func New(cfg Config, opts ...Option) (Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	var o options
	for _, fn := range opts {
		fn(&o)
	}

	dbPath := cfg.resolveDBPath()
	s, err := store.New(dbPath, cfg.EmbeddingDim)
	if err != nil {
		return nil, fmt.Errorf("opening store: %w", err)
	}

	chatLLM := o.chat
	if chatLLM == nil {
		chatLLM, err = llm.NewProvider(cfg.Chat)
		if err != nil {
			s.Close()
			return nil, fmt.Errorf("creating chat provider: %w", err)
		}
	}
	embedLLM := o.embed
	if embedLLM == nil {
		embedLLM, err = llm.NewProvider(cfg.Embedding)
		if err != nil {
			s.Close()
			return nil, fmt.Errorf("creating embedding provider: %w", err)
		}
	}

	schemas, err := schema.NewStore()
	if err != nil {
		s.Close()
		return nil, fmt.Errorf("loading schemas: %w", err)
	}

	e := &engine{
		cfg:       cfg,
		store:     s,
		chatLLM:   chatLLM,
		embedLLM:  embedLLM,
		schemas:   schemas,
		parsers:   parser.NewRegistry(),
		extractor: extract.New(chatLLM, cfg.Extract),
		validator: validator.New(cfg.Config),
		advisor:   advisor.New(chatLLM, cfg.Advisor),
	}

	// An unreadable corpus is not fatal: a rebuild replaces it.
	if _, err := e.LoadCorpus(context.Background()); errors.Is(err, ErrNoCorpus) {
		slog.Info("no legal corpus persisted yet", "db", dbPath)
	} else if err != nil {
		slog.Warn("persisted legal corpus not loaded, rebuild required", "db", dbPath, "error", err)
	}
	return e, nil
}

func (e *engine) indexOptions() corpus.Options {
	opts := e.cfg.Corpus.Options
	opts.Embedder = e.embedLLM
	return opts
}

// Assess runs the pipeline over docs. Records and findings live only in
// this call; the audit log entry is written once the report is complete.
func (e *engine) Assess(ctx context.Context, docs []Document) (*Result, error) {
	if e.closed.Load() {
		return nil, ErrEngineClosed
	}
	// One snapshot serves every retrieval and citation check of the session.
	idx := e.corpus.Load()
	if idx == nil {
		return nil, ErrNoCorpus
	}
	start := time.Now()

	work, err := e.prepare(ctx, docs)
	if err != nil {
		return nil, err
	}

	records, err := e.extractor.ExtractAll(ctx, work)
	if err != nil {
		return nil, fmt.Errorf("extraction: %w", err)
	}

	findings := e.validator.Validate(records)
	assessment := risk.Score(findings, e.cfg.RiskWeights)
	slog.Info("assessment scored",
		"documents", len(records), "findings", len(findings),
		"score", assessment.Score, "band", assessment.Band)

	report, err := e.advisor.Advise(ctx, findings, assessment, idx)
	if err != nil {
		return nil, fmt.Errorf("advice: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	entry := store.AssessmentLog{
		ReportID:       report.ID,
		IndexVersion:   report.IndexVersion,
		Score:          report.Assessment.Score,
		Band:           string(report.Assessment.Band),
		Recommendation: string(report.Recommendation),
		FindingCount:   len(report.Entries),
		UncitedCount:   report.Uncited(),
	}
	if err := e.store.LogAssessment(ctx, entry, report); err != nil {
		slog.Warn("assessment log write failed", "report", report.ID, "error", err)
	}

	slog.Info("assessment complete",
		"report", report.ID, "recommendation", report.Recommendation,
		"elapsed", time.Since(start).Round(time.Millisecond))
	return &Result{Records: records, Report: report}, nil
}

// prepare resolves the schema and text of each document. Missing document
// types are not an error here: the validator reports them as
// indeterminate findings.
func (e *engine) prepare(ctx context.Context, docs []Document) ([]extract.Document, error) {
	if len(docs) == 0 {
		return nil, fmt.Errorf("%w: no documents supplied", ErrMissingDocument)
	}
	seen := make(map[string]bool, len(docs))
	counts := make(map[schema.DocType]int)
	out := make([]extract.Document, 0, len(docs))
	for _, d := range docs {
		sc, err := e.schemas.Get(d.Type)
		if err != nil {
			return nil, err
		}
		counts[d.Type]++
		id := d.ID
		if id == "" {
			id = fmt.Sprintf("%s-%d", strings.ToLower(string(d.Type)), counts[d.Type])
		}
		if seen[id] {
			return nil, fmt.Errorf("duplicate document id %q", id)
		}
		seen[id] = true

		text := d.Text
		if strings.TrimSpace(text) == "" && d.Path != "" {
			res, err := e.parsers.ParseFile(ctx, d.Path)
			if err != nil {
				return nil, fmt.Errorf("reading %s: %w", d.Path, err)
			}
			text = res.Text
		}
		if strings.TrimSpace(text) == "" {
			return nil, fmt.Errorf("%w: %s %s has no text", ErrMissingDocument, d.Type, id)
		}
		out = append(out, extract.Document{ID: id, Text: text, Schema: sc})
	}
	for _, t := range schema.DocTypes {
		if counts[t] == 0 {
			slog.Warn("document type absent from session", "doc_type", t)
		}
	}
	return out, nil
}

// BuildCorpus builds and activates a new index. Concurrent builds are
// serialised; sessions keep using the previous index until the swap.
func (e *engine) BuildCorpus(ctx context.Context, dir string, opts ...BuildOption) (*corpus.Stats, error) {
	if e.closed.Load() {
		return nil, ErrEngineClosed
	}
	bc := corpus.BuilderConfig{
		BatchSize:      e.cfg.Corpus.BatchSize,
		MaxTokens:      e.cfg.Corpus.MaxChunkTokens,
		EmbeddingModel: e.cfg.Embedding.Model,
		Index:          e.indexOptions(),
	}
	for _, fn := range opts {
		fn(&bc)
	}
	b := corpus.NewBuilder(e.embedLLM, e.store, bc)

	idx, err := e.corpus.Rebuild(ctx, func(ctx context.Context) (*corpus.Index, error) {
		return b.Build(ctx, dir)
	})
	if err != nil {
		return nil, fmt.Errorf("building corpus: %w", err)
	}
	st := idx.Stats()
	return &st, nil
}

// LoadCorpus activates the persisted corpus.
func (e *engine) LoadCorpus(ctx context.Context) (*corpus.Stats, error) {
	if e.closed.Load() {
		return nil, ErrEngineClosed
	}
	idx, err := e.corpus.Rebuild(ctx, func(ctx context.Context) (*corpus.Index, error) {
		return corpus.Load(ctx, e.store, e.indexOptions())
	})
	if err != nil {
		if errors.Is(err, store.ErrNoCorpus) {
			return nil, ErrNoCorpus
		}
		return nil, err
	}
	st := idx.Stats()
	slog.Info("legal corpus loaded", "version", st.Version, "chunks", st.Chunks)
	return &st, nil
}

func (e *engine) CorpusStats() (*corpus.Stats, error) {
	idx := e.corpus.Load()
	if idx == nil {
		return nil, ErrNoCorpus
	}
	st := idx.Stats()
	return &st, nil
}

func (e *engine) SearchCorpus(ctx context.Context, query string, k int) ([]corpus.Hit, error) {
	idx := e.corpus.Load()
	if idx == nil {
		return nil, ErrNoCorpus
	}
	return idx.Search(ctx, query, k, e.cfg.Advisor.Jurisdiction)
}

func (e *engine) RecentAssessments(ctx context.Context, limit int) ([]store.AssessmentLog, error) {
	if e.closed.Load() {
		return nil, ErrEngineClosed
	}
	return e.store.RecentAssessments(ctx, limit)
}

func (e *engine) Store() *store.Store {
	return e.store
}

func (e *engine) Close() error {
	if !e.closed.CompareAndSwap(false, true) {
		return ErrEngineClosed
	}
	return e.store.Close()
}
