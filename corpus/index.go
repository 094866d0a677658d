package corpus

import (
	"context"
	"errors"
	"fmt"
	"math"
	"slices"
	"sort"
	"strings"

	"github.com/brunobiangulo/titlecheck/chunker"
)

// Embedder turns texts into embedding vectors. llm.Provider satisfies it.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// Options configures an Index.
type Options struct {
	// SemanticWeight is the share of the score taken by cosine similarity;
	// the lexical score takes the rest.
	SemanticWeight float64 `json:"blend_semantic" yaml:"blend_semantic"`
	// Version labels the corpus build the index was made from.
	Version string `json:"-" yaml:"-"`
	// Embedder embeds query text for Search. It may be nil when only
	// SearchVector is used.
	Embedder Embedder `json:"-" yaml:"-"`
}

// Validate checks the blend weight.
func (o Options) Validate() error {
	if o.SemanticWeight < 0 || o.SemanticWeight > 1 {
		return fmt.Errorf("blend_semantic must be in [0, 1], got %v", o.SemanticWeight)
	}
	return nil
}

// Hit is one ranked search result.
type Hit struct {
	Chunk    Chunk   `json:"chunk"`
	Score    float64 `json:"score"`
	Semantic float64 `json:"semantic"`
	Lexical  float64 `json:"lexical"`
	// Cited is set when a statute reference in the query names this
	// chunk's section and, if the query names acts of the index, this
	// chunk's act. Cited hits rank ahead of all others; Score is the plain
	// blend either way, so a cited passage still has to clear thresholds.
	Cited bool `json:"cited"`
}

type entry struct {
	chunk  Chunk
	norm   float64
	terms  map[string]struct{}
	actKey string
}

// Index is an immutable in-memory corpus index. It is safe for concurrent
// use.
type Index struct {
	opts    Options
	entries []entry
	byID    map[string]int
	dim     int
	acts    []string // distinct act keys
}

// BuildIndex validates chunks and returns an index over them. Chunk IDs must
// be unique and every embedding must have the same, non-zero dimension.
func BuildIndex(chunks []Chunk, opts Options) (*Index, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	x := &Index{
		opts:    opts,
		entries: make([]entry, 0, len(chunks)),
		byID:    make(map[string]int, len(chunks)),
	}
	var errs []error
	for _, c := range chunks {
		switch {
		case c.ID == "":
			errs = append(errs, fmt.Errorf("chunk at %s %s has no id", c.Act, c.Locator))
			continue
		case !c.Jurisdiction.Valid():
			errs = append(errs, fmt.Errorf("chunk %s: unknown jurisdiction %q", c.ID, c.Jurisdiction))
			continue
		case len(c.Embedding) == 0:
			errs = append(errs, fmt.Errorf("chunk %s has no embedding", c.ID))
			continue
		}
		if _, dup := x.byID[c.ID]; dup {
			errs = append(errs, fmt.Errorf("duplicate chunk id %s", c.ID))
			continue
		}
		if x.dim == 0 {
			x.dim = len(c.Embedding)
		} else if len(c.Embedding) != x.dim {
			errs = append(errs, fmt.Errorf("chunk %s: embedding has %d dimensions, index has %d",
				c.ID, len(c.Embedding), x.dim))
			continue
		}
		if c.Section == "" {
			c.Section, _ = chunker.LocatorSection(c.Locator)
		}
		key := actKey(c.Act)
		if key != "" && !slices.Contains(x.acts, key) {
			x.acts = append(x.acts, key)
		}
		x.byID[c.ID] = len(x.entries)
		x.entries = append(x.entries, entry{
			chunk:  c,
			norm:   norm(c.Embedding),
			terms:  termSet(c.Text),
			actKey: key,
		})
	}
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	return x, nil
}

// Version returns the corpus build label.
func (x *Index) Version() string { return x.opts.Version }

// Len returns the number of chunks.
func (x *Index) Len() int { return len(x.entries) }

// Dimension returns the embedding dimension, or 0 for an empty index.
func (x *Index) Dimension() int { return x.dim }

// Has reports whether a chunk with the given ID is in the index.
func (x *Index) Has(id string) bool {
	_, ok := x.byID[id]
	return ok
}

// Get returns the chunk with the given ID.
func (x *Index) Get(id string) (Chunk, bool) {
	i, ok := x.byID[id]
	if !ok {
		return Chunk{}, false
	}
	return x.entries[i].chunk, true
}

// AllIDs returns every chunk ID in insertion order.
func (x *Index) AllIDs() []string {
	ids := make([]string, len(x.entries))
	for i, e := range x.entries {
		ids[i] = e.chunk.ID
	}
	return ids
}

// Chunks returns a copy of every chunk in insertion order.
func (x *Index) Chunks() []Chunk {
	out := make([]Chunk, len(x.entries))
	for i, e := range x.entries {
		out[i] = e.chunk
	}
	return out
}

// Search embeds query with the index's Embedder and ranks chunks against
// it. prefer is the jurisdiction of the case under review, used to break
// ties; pass "" for no preference.
func (x *Index) Search(ctx context.Context, query string, k int, prefer Jurisdiction) ([]Hit, error) {
	if k <= 0 || len(x.entries) == 0 {
		return nil, nil
	}
	if x.opts.Embedder == nil {
		return nil, errors.New("corpus: index has no embedder")
	}
	vecs, err := x.opts.Embedder.Embed(ctx, []string{query})
	if err != nil {
		return nil, fmt.Errorf("embedding query: %w", err)
	}
	if len(vecs) != 1 {
		return nil, fmt.Errorf("embedding query: expected 1 vector, got %d", len(vecs))
	}
	return x.SearchVector(query, vecs[0], k, prefer)
}

// SearchVector ranks chunks against a query whose embedding is already
// known. The result is deterministic for a given index and input.
func (x *Index) SearchVector(query string, vec []float32, k int, prefer Jurisdiction) ([]Hit, error) {
	if k <= 0 || len(x.entries) == 0 {
		return nil, nil
	}
	if len(vec) != x.dim {
		return nil, fmt.Errorf("query embedding has %d dimensions, index has %d", len(vec), x.dim)
	}

	refs := make(map[string]bool)
	for _, r := range chunker.StatuteRefs(query) {
		refs[r] = true
	}
	named := x.namedActs(query)
	terms := significantTerms(query)
	qnorm := norm(vec)
	w := x.opts.SemanticWeight

	hits := make([]Hit, len(x.entries))
	for i, e := range x.entries {
		h := Hit{
			Chunk:    e.chunk,
			Semantic: cosine(vec, qnorm, e.chunk.Embedding, e.norm),
			Lexical:  termOverlap(terms, e.terms),
		}
		h.Cited = e.chunk.Section != "" && refs[e.chunk.Section] &&
			(len(named) == 0 || named[e.actKey])
		h.Score = w*h.Semantic + (1-w)*h.Lexical
		hits[i] = h
	}

	sort.SliceStable(hits, func(i, j int) bool {
		a, b := hits[i], hits[j]
		if a.Cited != b.Cited {
			return a.Cited
		}
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		if prefer != "" {
			am, bm := a.Chunk.Jurisdiction == prefer, b.Chunk.Jurisdiction == prefer
			if am != bm {
				return am
			}
		}
		if len(a.Chunk.Text) != len(b.Chunk.Text) {
			return len(a.Chunk.Text) < len(b.Chunk.Text)
		}
		return a.Chunk.ID < b.Chunk.ID
	})

	if k < len(hits) {
		hits = hits[:k]
	}
	return hits, nil
}

// namedActs returns the keys of the index's acts whose names appear in
// query. When it is empty a section reference may cite any act.
func (x *Index) namedActs(query string) map[string]bool {
	q := " " + strings.Join(words(query), " ") + " "
	named := make(map[string]bool)
	for _, a := range x.acts {
		if strings.Contains(q, " "+a+" ") {
			named[a] = true
		}
	}
	return named
}

// actKey reduces an act name to lower-case words without its year:
// "The Transfer of Property Act, 1882" becomes "transfer of property act".
func actKey(act string) string {
	var kept []string
	for _, w := range words(act) {
		if w == "the" && len(kept) == 0 {
			continue
		}
		if strings.Trim(w, "0123456789") == "" {
			continue
		}
		kept = append(kept, w)
	}
	return strings.Join(kept, " ")
}

// termOverlap is the fraction of query terms present in a chunk.
func termOverlap(query []string, chunk map[string]struct{}) float64 {
	if len(query) == 0 {
		return 0
	}
	n := 0
	for _, t := range query {
		if _, ok := chunk[t]; ok {
			n++
		}
	}
	return float64(n) / float64(len(query))
}

func norm(v []float32) float64 {
	var s float64
	for _, f := range v {
		s += float64(f) * float64(f)
	}
	return math.Sqrt(s)
}

func cosine(a []float32, an float64, b []float32, bn float64) float64 {
	if an == 0 || bn == 0 {
		return 0
	}
	var dot float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
	}
	return dot / (an * bn)
}

// ActStats counts the chunks of one act.
type ActStats struct {
	Act          string       `json:"act"`
	Jurisdiction Jurisdiction `json:"jurisdiction"`
	Chunks       int          `json:"chunks"`
}

// Stats summarises an index.
type Stats struct {
	Version       string               `json:"version"`
	Chunks        int                  `json:"chunks"`
	Dimension     int                  `json:"dimension"`
	Acts          []ActStats           `json:"acts"`
	Jurisdictions map[Jurisdiction]int `json:"jurisdictions"`
}

// Stats returns counts per act and jurisdiction. Acts are sorted by name.
func (x *Index) Stats() Stats {
	st := Stats{
		Version:       x.opts.Version,
		Chunks:        len(x.entries),
		Dimension:     x.dim,
		Jurisdictions: make(map[Jurisdiction]int),
	}
	acts := make(map[string]*ActStats)
	for _, e := range x.entries {
		c := e.chunk
		st.Jurisdictions[c.Jurisdiction]++
		a, ok := acts[c.Act]
		if !ok {
			a = &ActStats{Act: c.Act, Jurisdiction: c.Jurisdiction}
			acts[c.Act] = a
		}
		a.Chunks++
	}
	for _, a := range acts {
		st.Acts = append(st.Acts, *a)
	}
	sort.Slice(st.Acts, func(i, j int) bool { return st.Acts[i].Act < st.Acts[j].Act })
	return st
}
