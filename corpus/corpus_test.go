package corpus

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brunobiangulo/titlecheck/store"
)

// keywordEmbedder embeds text as counts of a fixed keyword list.
type keywordEmbedder struct {
	mu    sync.Mutex
	calls int
	fail  error
}

var keywords = []string{"mortgage", "registration", "khata", "attorney", "court", "transfer", "sale", "release"}

func (e *keywordEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	e.mu.Lock()
	e.calls++
	e.mu.Unlock()
	if e.fail != nil {
		return nil, e.fail
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = embedText(t)
	}
	return out, nil
}

func embedText(t string) []float32 {
	v := make([]float32, len(keywords))
	lower := strings.ToLower(t)
	for i, k := range keywords {
		v[i] = float32(strings.Count(lower, k))
	}
	return v
}

func chunk(id string, j Jurisdiction, locator, text string) Chunk {
	return Chunk{ID: id, Jurisdiction: j, Act: "Test Act", Locator: locator, Text: text, Embedding: embedText(text)}
}

func testChunks() []Chunk {
	return []Chunk{
		chunk("reg-17", Central, "Section 17", "17. Documents of which registration is compulsory."),
		chunk("tpa-58", Central, "Section 58", "58. Mortgage defined. A mortgage is the transfer of an interest; mortgage money."),
		chunk("tpa-60", Central, "Section 60", "60. Right of mortgagor to redeem; release of the mortgage on payment."),
		chunk("kar-4", State, "Section 4", "4. Khata transfer on sale shall follow registration."),
	}
}

func TestBuildIndexValidates(t *testing.T) {
	x, err := BuildIndex(testChunks(), Options{SemanticWeight: 0.7, Version: "v1"})
	require.NoError(t, err)
	assert.Equal(t, 4, x.Len())
	assert.Equal(t, len(keywords), x.Dimension())
	assert.Equal(t, "v1", x.Version())
	assert.True(t, x.Has("tpa-58"))
	assert.False(t, x.Has("nope"))
	assert.Equal(t, []string{"reg-17", "tpa-58", "tpa-60", "kar-4"}, x.AllIDs())

	c, ok := x.Get("kar-4")
	require.True(t, ok)
	assert.Equal(t, "4", c.Section, "section is derived from the locator")

	tests := []struct {
		name   string
		mutate func([]Chunk) []Chunk
		want   string
	}{
		{"duplicate", func(cs []Chunk) []Chunk { cs[1].ID = cs[0].ID; return cs }, "duplicate chunk id"},
		{"dimension", func(cs []Chunk) []Chunk { cs[2].Embedding = []float32{1}; return cs }, "dimensions"},
		{"jurisdiction", func(cs []Chunk) []Chunk { cs[0].Jurisdiction = "district"; return cs }, "unknown jurisdiction"},
		{"no embedding", func(cs []Chunk) []Chunk { cs[0].Embedding = nil; return cs }, "no embedding"},
		{"no id", func(cs []Chunk) []Chunk { cs[0].ID = ""; return cs }, "no id"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := BuildIndex(tt.mutate(testChunks()), Options{SemanticWeight: 0.5})
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}

	_, err = BuildIndex(testChunks(), Options{SemanticWeight: 1.5})
	assert.ErrorContains(t, err, "blend_semantic")
}

func TestSearchExactCitationOutranksSemantic(t *testing.T) {
	x, err := BuildIndex(testChunks(), Options{SemanticWeight: 0.9})
	require.NoError(t, err)

	// The query is semantically about mortgages but cites Section 17.
	q := "mortgage mortgage release Section 17"
	hits, err := x.SearchVector(q, embedText(q), 3, "")
	require.NoError(t, err)
	require.Len(t, hits, 3)
	assert.Equal(t, "reg-17", hits[0].Chunk.ID)
	assert.True(t, hits[0].Cited)
	assert.Less(t, hits[0].Score, hits[1].Score, "citation ranks first without inflating the score")
	assert.False(t, hits[1].Cited)
	assert.Equal(t, "tpa-60", hits[1].Chunk.ID, "best semantic neighbour comes next")
}

func TestSearchStatuteReferenceForms(t *testing.T) {
	x, err := BuildIndex(testChunks(), Options{SemanticWeight: 0.5})
	require.NoError(t, err)
	for _, q := range []string{"s. 58", "Sec 58 of TP Act", "u/s 58"} {
		hits, err := x.SearchVector(q, embedText(q), 1, "")
		require.NoError(t, err)
		require.Len(t, hits, 1)
		assert.Equal(t, "tpa-58", hits[0].Chunk.ID, q)
	}
}

func TestSearchCitationRespectsNamedAct(t *testing.T) {
	tpa := chunk("tpa-58", Central, "Section 58", "58. Mortgage defined. A mortgage is the transfer of an interest.")
	tpa.Act = "The Transfer of Property Act, 1882"
	excise := chunk("excise-58", State, "Section 58", "58. Confiscation of intoxicants.")
	excise.Act = "Karnataka Excise Act"
	x, err := BuildIndex([]Chunk{excise, tpa}, Options{SemanticWeight: 0.7})
	require.NoError(t, err)

	q := "mortgage release Transfer of Property Act Section 58"
	hits, err := x.SearchVector(q, embedText(q), 2, State)
	require.NoError(t, err)
	require.Len(t, hits, 2)
	assert.Equal(t, "tpa-58", hits[0].Chunk.ID)
	assert.True(t, hits[0].Cited)
	assert.False(t, hits[1].Cited, "another act's Section 58 is not cited")
	assert.Equal(t, 0.0, hits[1].Score)

	// Without an act name the section number alone cites both.
	q = "Section 58"
	hits, err = x.SearchVector(q, embedText(q), 2, "")
	require.NoError(t, err)
	assert.True(t, hits[0].Cited)
	assert.True(t, hits[1].Cited)
}

func TestSearchBlend(t *testing.T) {
	x, err := BuildIndex(testChunks(), Options{SemanticWeight: 0})
	require.NoError(t, err)

	// Lexical only: "khata" appears in one chunk.
	q := "khata"
	hits, err := x.SearchVector(q, make([]float32, len(keywords)), 4, "")
	require.NoError(t, err)
	assert.Equal(t, "kar-4", hits[0].Chunk.ID)
	assert.Equal(t, 1.0, hits[0].Score)
	assert.Equal(t, 0.0, hits[1].Score)

	x, err = BuildIndex(testChunks(), Options{SemanticWeight: 1})
	require.NoError(t, err)
	hits, err = x.SearchVector("registration", embedText("registration"), 1, "")
	require.NoError(t, err)
	assert.InDelta(t, hits[0].Semantic, hits[0].Score, 1e-12)
}

func TestSearchJurisdictionTieBreak(t *testing.T) {
	chunks := []Chunk{
		chunk("a-central", Central, "Section 5", "Transfer of khata."),
		chunk("b-state", State, "Section 9", "Transfer of khata."),
	}
	x, err := BuildIndex(chunks, Options{SemanticWeight: 0.5})
	require.NoError(t, err)

	q := "khata transfer"
	hits, err := x.SearchVector(q, embedText(q), 2, State)
	require.NoError(t, err)
	assert.Equal(t, "b-state", hits[0].Chunk.ID)

	hits, err = x.SearchVector(q, embedText(q), 2, Central)
	require.NoError(t, err)
	assert.Equal(t, "a-central", hits[0].Chunk.ID)

	// No preference: shorter text, then ID.
	hits, err = x.SearchVector(q, embedText(q), 2, "")
	require.NoError(t, err)
	assert.Equal(t, "a-central", hits[0].Chunk.ID)
}

func TestSearchDeterministicAndBounded(t *testing.T) {
	x, err := BuildIndex(testChunks(), Options{SemanticWeight: 0.6})
	require.NoError(t, err)
	q := "transfer of mortgage"
	first, err := x.SearchVector(q, embedText(q), 10, "")
	require.NoError(t, err)
	assert.Len(t, first, 4)
	for i := 0; i < 20; i++ {
		again, err := x.SearchVector(q, embedText(q), 10, "")
		require.NoError(t, err)
		assert.Equal(t, first, again)
	}

	hits, err := x.SearchVector(q, embedText(q), 0, "")
	require.NoError(t, err)
	assert.Empty(t, hits)

	_, err = x.SearchVector(q, []float32{1, 2}, 3, "")
	assert.Error(t, err)
}

func TestSearchEmbedsQuery(t *testing.T) {
	e := &keywordEmbedder{}
	x, err := BuildIndex(testChunks(), Options{SemanticWeight: 0.7, Embedder: e})
	require.NoError(t, err)

	hits, err := x.Search(context.Background(), "mortgage release", 2, "")
	require.NoError(t, err)
	require.Len(t, hits, 2)
	assert.Equal(t, 1, e.calls)

	e.fail = errors.New("down")
	_, err = x.Search(context.Background(), "mortgage", 2, "")
	assert.ErrorContains(t, err, "embedding query")

	empty, err := BuildIndex(nil, Options{Embedder: e})
	require.NoError(t, err)
	hits, err = empty.Search(context.Background(), "mortgage", 2, "")
	require.NoError(t, err)
	assert.Empty(t, hits)
}

func TestStats(t *testing.T) {
	chunks := testChunks()
	chunks[3].Act = "Karnataka Land Revenue Act"
	x, err := BuildIndex(chunks, Options{Version: "v9"})
	require.NoError(t, err)

	st := x.Stats()
	assert.Equal(t, "v9", st.Version)
	assert.Equal(t, 4, st.Chunks)
	assert.Equal(t, map[Jurisdiction]int{Central: 3, State: 1}, st.Jurisdictions)
	require.Len(t, st.Acts, 2)
	assert.Equal(t, "Karnataka Land Revenue Act", st.Acts[0].Act)
	assert.Equal(t, 3, st.Acts[1].Chunks)
}

func TestChunkIDStable(t *testing.T) {
	a := ChunkID("Registration Act, 1908", "Section 17(1)", "text")
	assert.Equal(t, a, ChunkID("Registration Act, 1908", "Section 17(1)", "text"))
	assert.NotEqual(t, a, ChunkID("Registration Act, 1908", "Section 17(1)", "other text"))
	assert.True(t, strings.HasPrefix(a, "registration-act-1908/section-17-1/"), a)
}

func TestHolderRebuild(t *testing.T) {
	var h Holder
	assert.Nil(t, h.Load())

	v1, err := BuildIndex(testChunks(), Options{Version: "v1"})
	require.NoError(t, err)
	h.Swap(v1)

	snapshot := h.Load()
	_, err = h.Rebuild(context.Background(), func(context.Context) (*Index, error) {
		return nil, errors.New("embedding backend down")
	})
	require.Error(t, err)
	assert.Same(t, v1, h.Load(), "failed rebuild keeps the active index")

	v2, err := h.Rebuild(context.Background(), func(context.Context) (*Index, error) {
		return BuildIndex(testChunks()[:1], Options{Version: "v2"})
	})
	require.NoError(t, err)
	assert.Same(t, v2, h.Load())
	assert.Equal(t, 4, snapshot.Len(), "earlier snapshot is untouched")
}

func TestHolderConcurrentReaders(t *testing.T) {
	var h Holder
	v1, err := BuildIndex(testChunks(), Options{Version: "v1"})
	require.NoError(t, err)
	h.Swap(v1)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				x := h.Load()
				for _, id := range x.AllIDs() {
					if !x.Has(id) {
						t.Errorf("snapshot %s lost chunk %s", x.Version(), id)
					}
				}
			}
		}()
	}
	for i := 0; i < 5; i++ {
		_, err := h.Rebuild(context.Background(), func(context.Context) (*Index, error) {
			return BuildIndex(testChunks()[:2], Options{Version: "v2"})
		})
		require.NoError(t, err)
	}
	wg.Wait()
}

// ---------------------------------------------------------------------------
// Builder
// ---------------------------------------------------------------------------

const tpaText = `THE TRANSFER OF PROPERTY ACT, 1882
58. Mortgage defined. A mortgage is the transfer of an interest in specific immovable property.
60. Right of mortgagor to redeem. The mortgagor has a right on payment of the mortgage money to require release.
`

const kltText = `KARNATAKA LAND REVENUE ACT
128. Acquisition of rights to be reported. Any person acquiring by sale any right shall report for khata transfer.
`

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

type memPersister struct {
	saved *store.Corpus
	err   error
}

func (m *memPersister) ReplaceCorpus(_ context.Context, c store.Corpus) error {
	if m.err != nil {
		return m.err
	}
	m.saved = &c
	return nil
}

func (m *memPersister) LoadCorpus(context.Context) (*store.Corpus, error) {
	if m.saved == nil {
		return nil, store.ErrNoCorpus
	}
	return m.saved, nil
}

func TestBuilderDirectoryLayout(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "central", "transfer_of_property_act.txt"), tpaText)
	writeFile(t, filepath.Join(dir, "state", "karnataka-land-revenue-act.txt"), kltText)
	writeFile(t, filepath.Join(dir, "state", "notes.docx"), "ignored")

	e := &keywordEmbedder{}
	p := &memPersister{}
	var progress []int
	b := NewBuilder(e, p, BuilderConfig{
		BatchSize:      2,
		EmbeddingModel: "kw",
		Index:          Options{SemanticWeight: 0.7},
		Progress:       func(done, _ int) { progress = append(progress, done) },
	})

	x, err := b.Build(context.Background(), dir)
	require.NoError(t, err)

	st := x.Stats()
	assert.Equal(t, map[Jurisdiction]int{Central: 3, State: 2}, st.Jurisdictions)
	assert.Equal(t, []int{2, 4, 5}, progress)
	assert.Equal(t, 3, e.calls)

	hits, err := x.Search(context.Background(), "Section 128 khata", 1, State)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "Section 128", hits[0].Chunk.Locator)
	assert.Equal(t, "karnataka land revenue act", hits[0].Chunk.Act)

	require.NotNil(t, p.saved)
	assert.Equal(t, x.Version(), p.saved.Build.Version)
	assert.Len(t, p.saved.Statutes, 2)
	assert.Len(t, p.saved.Chunks, 5)
	assert.Equal(t, "kw", p.saved.Build.EmbeddingModel)

	loaded, err := Load(context.Background(), p, Options{SemanticWeight: 0.7})
	require.NoError(t, err)
	assert.Equal(t, x.AllIDs(), loaded.AllIDs())
	assert.Equal(t, x.Version(), loaded.Version())
}

func TestBuilderManifest(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "acts", "tpa.txt"), tpaText)
	writeFile(t, filepath.Join(dir, ManifestFile), `sources:
  - path: acts/tpa.txt
    jurisdiction: central
    act: Transfer of Property Act, 1882
`)
	x, err := NewBuilder(&keywordEmbedder{}, nil, BuilderConfig{}).Build(context.Background(), dir)
	require.NoError(t, err)
	st := x.Stats()
	require.Len(t, st.Acts, 1)
	assert.Equal(t, "Transfer of Property Act, 1882", st.Acts[0].Act)

	writeFile(t, filepath.Join(dir, ManifestFile), `sources:
  - path: acts/tpa.doc
    jurisdiction: district
`)
	_, err = NewBuilder(&keywordEmbedder{}, nil, BuilderConfig{}).Build(context.Background(), dir)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "jurisdiction")
	assert.Contains(t, err.Error(), "unsupported format")

	for _, path := range []string{"/etc/passwd.txt", "../outside/tpa.txt", "acts/../../tpa.txt"} {
		writeFile(t, filepath.Join(dir, ManifestFile), "sources:\n  - path: "+path+"\n    jurisdiction: central\n")
		_, err = NewBuilder(&keywordEmbedder{}, nil, BuilderConfig{}).Build(context.Background(), dir)
		assert.ErrorContains(t, err, "inside the corpus directory", path)
	}
}

func TestBuilderEmbeddingFailureLeavesIndex(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "central", "tpa.txt"), tpaText)

	var h Holder
	old, err := BuildIndex(testChunks(), Options{Version: "old"})
	require.NoError(t, err)
	h.Swap(old)

	p := &memPersister{}
	b := NewBuilder(&keywordEmbedder{fail: errors.New("embedding service down")}, p, BuilderConfig{})
	_, err = h.Rebuild(context.Background(), func(ctx context.Context) (*Index, error) {
		return b.Build(ctx, dir)
	})
	require.ErrorContains(t, err, "embedding service down")
	assert.Same(t, old, h.Load())
	assert.Nil(t, p.saved, "nothing is persisted on failure")
}

func TestBuilderNoSources(t *testing.T) {
	_, err := NewBuilder(&keywordEmbedder{}, nil, BuilderConfig{}).Build(context.Background(), t.TempDir())
	assert.ErrorContains(t, err, "no statute files")
}

func TestActFromFilename(t *testing.T) {
	assert.Equal(t, "transfer of property act 1882", actFromFilename("/x/transfer_of_property_act-1882.pdf"))
}
