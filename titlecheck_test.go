//go:build cgo && sqlite_fts5

package titlecheck

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/brunobiangulo/titlecheck/advisor"
	"github.com/brunobiangulo/titlecheck/llm"
	"github.com/brunobiangulo/titlecheck/schema"
)

// fakeLLM answers extraction prompts with canned records, advice prompts
// with fixed prose, and embeds text as keyword counts.
type fakeLLM struct {
	mu        sync.Mutex
	chats     int
	embedErr  error
	extracted map[string]string
}

var keywords = []string{"mortgage", "registration", "khata", "attorney", "court", "transfer", "sale", "release"}

func (f *fakeLLM) Chat(_ context.Context, req llm.ChatRequest) (*llm.ChatResponse, error) {
	f.mu.Lock()
	f.chats++
	f.mu.Unlock()
	user := req.Messages[len(req.Messages)-1].Content
	for marker, body := range f.extracted {
		if strings.Contains(user, "Document type: "+marker+" (") {
			return &llm.ChatResponse{Content: body}, nil
		}
	}
	return &llm.ChatResponse{Content: "The mortgage must be released before the sale completes [S1]. Compare [S9]."}, nil
}

func (f *fakeLLM) Embed(_ context.Context, texts []string) ([][]float32, error) {
	f.mu.Lock()
	err := f.embedErr
	f.mu.Unlock()
	if err != nil {
		return nil, err
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		v := make([]float32, len(keywords))
		lower := strings.ToLower(t)
		for j, k := range keywords {
			v[j] = float32(strings.Count(lower, k))
		}
		out[i] = v
	}
	return out, nil
}

func (f *fakeLLM) setEmbedErr(err error) {
	f.mu.Lock()
	f.embedErr = err
	f.mu.Unlock()
}

func newFakeLLM() *fakeLLM {
	return &fakeLLM{extracted: map[string]string{
		"EC": `{"certificate_number": "EC-9", "survey_number": "12/3", "extent": "1 acre", "owner_name": "Anil Kumar",
			"transactions": [
				{"date": "01-02-2015", "document_number": "SD-1", "nature": "Sale", "executant": "Ramesh", "claimant": "Anil Kumar", "executed_through_poa": false},
				{"date": "10-06-2019", "document_number": "MTG-44", "nature": "Mortgage", "executant": "Anil Kumar", "claimant": "Canara Bank", "executed_through_poa": false}
			]}`,
		"Khata": `{"khata_number": "K-101", "owner_name": "Anil Kumar", "survey_number": "12/3", "extent": "1 acre", "khata_type": "A"}`,
		"SaleDeed": `{"registration_number": "SD-1", "registration_date": "01-02-2015", "seller_name": "Ramesh",
			"purchaser_name": "Anil Kumar", "survey_number": "12/3", "extent": "1 acre", "executed_through_poa": false}`,
	}}
}

const tpaText = `THE TRANSFER OF PROPERTY ACT, 1882
58. Mortgage defined. A mortgage is the transfer of an interest in specific immovable property.
60. Right of mortgagor to redeem. The mortgagor has a right on payment of the mortgage money to require release.
`

const kltText = `KARNATAKA LAND REVENUE ACT
128. Acquisition of rights to be reported. Any person acquiring by sale any right shall report for khata transfer.
`

func writeCorpus(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	files := map[string]string{
		filepath.Join(dir, "central", "transfer_of_property_act.txt"): tpaText,
		filepath.Join(dir, "state", "karnataka_land_revenue_act.txt"):  kltText,
	}
	for path, body := range files {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	return dir
}

func testConfig(t *testing.T) Config {
	cfg := DefaultConfig()
	cfg.DBPath = filepath.Join(t.TempDir(), "titlecheck.db")
	cfg.EmbeddingDim = len(keywords)
	cfg.Config = testRules()
	cfg.RiskWeights = testPolicy()
	return cfg
}

func newTestEngine(t *testing.T, cfg Config, f *fakeLLM) Engine {
	t.Helper()
	e, err := New(cfg, WithChatProvider(f), WithEmbeddingProvider(f))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return e
}

var session = []Document{
	{Type: schema.EC, ID: "ec-1", Text: "Encumbrance certificate for Sy. No. 12/3"},
	{Type: schema.Khata, ID: "khata-1", Text: "Khata certificate K-101"},
	{Type: schema.SaleDeed, ID: "sd-1", Text: "Sale deed SD-1"},
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	cfg := testConfig(t)
	cfg.RiskWeights = DefaultConfig().RiskWeights
	_, err := New(cfg, WithChatProvider(newFakeLLM()), WithEmbeddingProvider(newFakeLLM()))
	if !errors.Is(err, ErrInvalidConfig) {
		t.Fatalf("New() = %v, want ErrInvalidConfig", err)
	}
}

func TestAssessEndToEnd(t *testing.T) {
	ctx := context.Background()
	f := newFakeLLM()
	e := newTestEngine(t, testConfig(t), f)
	defer e.Close()

	if _, err := e.Assess(ctx, session); !errors.Is(err, ErrNoCorpus) {
		t.Fatalf("Assess before corpus = %v, want ErrNoCorpus", err)
	}
	if _, err := e.CorpusStats(); !errors.Is(err, ErrNoCorpus) {
		t.Fatalf("CorpusStats before corpus = %v, want ErrNoCorpus", err)
	}

	st, err := e.BuildCorpus(ctx, writeCorpus(t))
	if err != nil {
		t.Fatalf("BuildCorpus: %v", err)
	}
	if st.Chunks == 0 || st.Version == "" {
		t.Fatalf("stats = %+v", st)
	}

	res, err := e.Assess(ctx, session)
	if err != nil {
		t.Fatalf("Assess: %v", err)
	}
	if len(res.Records) != 3 {
		t.Fatalf("records = %d, want 3", len(res.Records))
	}
	for _, rec := range res.Records {
		if !rec.Complete() {
			t.Errorf("%s record incomplete: %v", rec.DocType, rec.Missing())
		}
	}

	r := res.Report
	if r.IndexVersion != st.Version {
		t.Errorf("report index version = %q, want %q", r.IndexVersion, st.Version)
	}
	var mortgage *advisor.Entry
	for i := range r.Entries {
		if r.Entries[i].Finding.RuleID == "active-mortgage" {
			mortgage = &r.Entries[i]
		}
	}
	if mortgage == nil {
		t.Fatalf("no active-mortgage entry in %+v", r.Entries)
	}
	if mortgage.Uncited || len(mortgage.Citations) != 1 {
		t.Fatalf("mortgage entry uncited=%v citations=%v", mortgage.Uncited, mortgage.Citations)
	}
	if mortgage.RejectedCitations != 1 || strings.Contains(mortgage.Prose, "[S9]") {
		t.Errorf("fabricated label kept: rejected=%d prose=%q", mortgage.RejectedCitations, mortgage.Prose)
	}
	if r.Recommendation != advisor.DoNotProceed {
		t.Errorf("recommendation = %q, want %q", r.Recommendation, advisor.DoNotProceed)
	}

	hits, err := e.SearchCorpus(ctx, "Section 58 mortgage", 10)
	if err != nil {
		t.Fatal(err)
	}
	known := make(map[string]bool)
	for _, h := range hits {
		known[h.Chunk.ID] = true
	}
	for _, id := range r.CitedChunkIDs() {
		if !known[id] {
			t.Errorf("cited chunk %q is not in the active index", id)
		}
	}

	logs, err := e.RecentAssessments(ctx, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(logs) != 1 || logs[0].ReportID != r.ID || logs[0].Recommendation != string(advisor.DoNotProceed) {
		t.Errorf("assessment log = %+v", logs)
	}
}

func TestAssessAbsentDocumentIsIndeterminate(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t, testConfig(t), newFakeLLM())
	defer e.Close()
	if _, err := e.BuildCorpus(ctx, writeCorpus(t)); err != nil {
		t.Fatal(err)
	}

	res, err := e.Assess(ctx, session[:2])
	if err != nil {
		t.Fatalf("Assess without sale deed: %v", err)
	}
	indeterminate := 0
	for _, en := range res.Report.Entries {
		if en.Finding.Indeterminate {
			indeterminate++
		}
	}
	if indeterminate == 0 {
		t.Error("expected indeterminate findings for the absent sale deed")
	}
}

func TestAssessRejectsBadSessions(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t, testConfig(t), newFakeLLM())
	defer e.Close()
	if _, err := e.BuildCorpus(ctx, writeCorpus(t)); err != nil {
		t.Fatal(err)
	}

	if _, err := e.Assess(ctx, nil); !errors.Is(err, ErrMissingDocument) {
		t.Errorf("no documents: %v", err)
	}
	if _, err := e.Assess(ctx, []Document{{Type: schema.EC, Text: "  "}}); !errors.Is(err, ErrMissingDocument) {
		t.Errorf("blank text: %v", err)
	}
	if _, err := e.Assess(ctx, []Document{{Type: "Patta", Text: "x"}}); err == nil {
		t.Error("unknown document type accepted")
	}
	dup := []Document{{Type: schema.EC, ID: "a", Text: "x"}, {Type: schema.Khata, ID: "a", Text: "y"}}
	if _, err := e.Assess(ctx, dup); err == nil || !strings.Contains(err.Error(), "duplicate") {
		t.Errorf("duplicate ids: %v", err)
	}
}

func TestFailedRebuildKeepsActiveCorpus(t *testing.T) {
	ctx := context.Background()
	f := newFakeLLM()
	e := newTestEngine(t, testConfig(t), f)
	defer e.Close()

	before, err := e.BuildCorpus(ctx, writeCorpus(t))
	if err != nil {
		t.Fatal(err)
	}
	f.setEmbedErr(errors.New("embedding service down"))
	if _, err := e.BuildCorpus(ctx, writeCorpus(t)); err == nil {
		t.Fatal("expected build failure")
	}
	after, err := e.CorpusStats()
	if err != nil {
		t.Fatal(err)
	}
	if after.Version != before.Version {
		t.Errorf("active version changed from %q to %q", before.Version, after.Version)
	}
}

func TestCorpusSurvivesRestart(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(t)
	e := newTestEngine(t, cfg, newFakeLLM())
	built, err := e.BuildCorpus(ctx, writeCorpus(t))
	if err != nil {
		t.Fatal(err)
	}
	if err := e.Close(); err != nil {
		t.Fatal(err)
	}

	e2 := newTestEngine(t, cfg, newFakeLLM())
	defer e2.Close()
	st, err := e2.CorpusStats()
	if err != nil {
		t.Fatalf("CorpusStats after restart: %v", err)
	}
	if st.Version != built.Version || st.Chunks != built.Chunks {
		t.Errorf("reloaded %+v, built %+v", st, built)
	}
}

func TestClosedEngine(t *testing.T) {
	e := newTestEngine(t, testConfig(t), newFakeLLM())
	if err := e.Close(); err != nil {
		t.Fatal(err)
	}
	if err := e.Close(); !errors.Is(err, ErrEngineClosed) {
		t.Errorf("second Close = %v", err)
	}
	if _, err := e.Assess(context.Background(), session); !errors.Is(err, ErrEngineClosed) {
		t.Errorf("Assess after Close = %v", err)
	}
}
