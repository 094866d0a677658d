package corpus

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/brunobiangulo/titlecheck/chunker"
	"github.com/brunobiangulo/titlecheck/parser"
	"github.com/brunobiangulo/titlecheck/store"
)

// ManifestFile is the optional file in a corpus directory that lists its
// statutes explicitly.
const ManifestFile = "manifest.yaml"

// Source is one statute file of a corpus.
type Source struct {
	Path         string       `yaml:"path"`
	Jurisdiction Jurisdiction `yaml:"jurisdiction"`
	Act          string       `yaml:"act"`
}

// Manifest lists the statutes of a corpus directory. Paths are relative to
// the directory.
type Manifest struct {
	Sources []Source `yaml:"sources"`
}

// Persister stores a finished corpus. *store.Store satisfies it.
type Persister interface {
	ReplaceCorpus(ctx context.Context, c store.Corpus) error
}

// Loader reads a persisted corpus. *store.Store satisfies it.
type Loader interface {
	LoadCorpus(ctx context.Context) (*store.Corpus, error)
}

// BuilderConfig configures a Builder.
type BuilderConfig struct {
	// BatchSize is the number of passages embedded per request.
	BatchSize int
	// MaxTokens is passed to the chunker.
	MaxTokens int
	// EmbeddingModel is recorded with the build.
	EmbeddingModel string
	// Index configures the returned index. Version is set by the build.
	Index Options
	// Progress, when set, is called after each embedding batch.
	Progress func(done, total int)
}

// Builder reads statute sources, chunks and embeds them, persists the
// result and returns a fresh index.
type Builder struct {
	cfg      BuilderConfig
	embedder Embedder
	store    Persister
	parsers  *parser.Registry
	chunker  *chunker.Chunker
}

// NewBuilder returns a Builder. st may be nil to skip persistence.
func NewBuilder(e Embedder, st Persister, cfg BuilderConfig) *Builder {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 32
	}
	if cfg.Index.Embedder == nil {
		cfg.Index.Embedder = e
	}
	return &Builder{
		cfg:      cfg,
		embedder: e,
		store:    st,
		parsers:  parser.NewRegistry(),
		chunker:  chunker.New(chunker.Config{MaxTokens: cfg.MaxTokens}),
	}
}

// Discover lists the statute sources under dir: the entries of
// manifest.yaml when present, otherwise every supported file below the
// central/ and state/ subdirectories.
func (b *Builder) Discover(dir string) ([]Source, error) {
	data, err := os.ReadFile(filepath.Join(dir, ManifestFile))
	switch {
	case err == nil:
		return b.fromManifest(dir, data)
	case !errors.Is(err, fs.ErrNotExist):
		return nil, fmt.Errorf("reading manifest: %w", err)
	}

	var sources []Source
	for _, j := range []Jurisdiction{Central, State} {
		root := filepath.Join(dir, string(j))
		if _, err := os.Stat(root); errors.Is(err, fs.ErrNotExist) {
			continue
		}
		err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if d.IsDir() || !b.parsers.Supports(path) {
				return nil
			}
			sources = append(sources, Source{Path: path, Jurisdiction: j, Act: actFromFilename(path)})
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("walking %s: %w", root, err)
		}
	}
	if len(sources) == 0 {
		return nil, fmt.Errorf("no statute files under %s (expected %s, central/ or state/)", dir, ManifestFile)
	}
	sort.Slice(sources, func(i, j int) bool { return sources[i].Path < sources[j].Path })
	return sources, nil
}

func (b *Builder) fromManifest(dir string, data []byte) ([]Source, error) {
	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parsing manifest: %w", err)
	}
	if len(m.Sources) == 0 {
		return nil, errors.New("manifest lists no sources")
	}
	var errs []error
	out := make([]Source, 0, len(m.Sources))
	for i, s := range m.Sources {
		if s.Path == "" {
			errs = append(errs, fmt.Errorf("sources[%d]: path is required", i))
			continue
		}
		if !s.Jurisdiction.Valid() {
			errs = append(errs, fmt.Errorf("sources[%d]: jurisdiction must be central or state, got %q", i, s.Jurisdiction))
		}
		if !b.parsers.Supports(s.Path) {
			errs = append(errs, fmt.Errorf("sources[%d]: unsupported format %q", i, parser.Format(s.Path)))
		}
		if !filepath.IsLocal(s.Path) {
			errs = append(errs, fmt.Errorf("sources[%d]: path %q must stay inside the corpus directory", i, s.Path))
			continue
		}
		s.Path = filepath.Join(dir, s.Path)
		if s.Act == "" {
			s.Act = actFromFilename(s.Path)
		}
		out = append(out, s)
	}
	if err := errors.Join(errs...); err != nil {
		return nil, fmt.Errorf("invalid manifest: %w", err)
	}
	return out, nil
}

// actFromFilename turns "transfer_of_property_act-1882.pdf" into
// "transfer of property act 1882".
func actFromFilename(path string) string {
	name := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	name = strings.NewReplacer("_", " ", "-", " ").Replace(name)
	return strings.Join(strings.Fields(name), " ")
}

// Build reads every source under dir and returns the new index. Nothing is
// persisted unless every passage was embedded.
func (b *Builder) Build(ctx context.Context, dir string) (*Index, error) {
	start := time.Now()
	sources, err := b.Discover(dir)
	if err != nil {
		return nil, err
	}

	var statutes []store.Statute
	var chunks []Chunk
	var chunkSrc []string
	seen := make(map[string]bool)
	for _, src := range sources {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		res, err := b.parsers.ParseFile(ctx, src.Path)
		if err != nil {
			return nil, fmt.Errorf("parsing %s: %w", src.Path, err)
		}
		statutes = append(statutes, store.Statute{
			Path:         src.Path,
			Jurisdiction: string(src.Jurisdiction),
			Act:          src.Act,
			Format:       parser.Format(src.Path),
			ContentHash:  chunker.ContentHash(res.Text),
			ParseMethod:  res.Method,
		})

		passages := b.chunker.Split(res.Text)
		slog.Debug("corpus: chunked statute", "path", src.Path, "act", src.Act, "passages", len(passages))
		for _, p := range passages {
			id := ChunkID(src.Act, p.Locator, p.Text)
			if seen[id] {
				slog.Warn("corpus: skipping repeated passage", "act", src.Act, "locator", p.Locator)
				continue
			}
			seen[id] = true
			chunks = append(chunks, Chunk{
				ID:           id,
				Jurisdiction: src.Jurisdiction,
				Act:          src.Act,
				Locator:      p.Locator,
				Section:      p.Section,
				Text:         p.Text,
			})
			chunkSrc = append(chunkSrc, src.Path)
		}
	}
	if len(chunks) == 0 {
		return nil, errors.New("corpus: sources produced no passages")
	}

	if err := b.embed(ctx, chunks); err != nil {
		return nil, err
	}

	opts := b.cfg.Index
	opts.Version = uuid.NewString()
	x, err := BuildIndex(chunks, opts)
	if err != nil {
		return nil, err
	}

	if b.store != nil {
		if err := b.store.ReplaceCorpus(ctx, toStore(opts.Version, b.cfg.EmbeddingModel, statutes, chunks, chunkSrc)); err != nil {
			return nil, fmt.Errorf("persisting corpus: %w", err)
		}
	}

	slog.Info("corpus: build complete",
		"version", opts.Version, "statutes", len(statutes), "chunks", len(chunks),
		"dim", x.Dimension(), "elapsed", time.Since(start))
	return x, nil
}

// embed fills in the embedding of every chunk, in batches.
func (b *Builder) embed(ctx context.Context, chunks []Chunk) error {
	for start := 0; start < len(chunks); start += b.cfg.BatchSize {
		end := min(start+b.cfg.BatchSize, len(chunks))
		texts := make([]string, end-start)
		for i, c := range chunks[start:end] {
			texts[i] = c.Act + " " + c.Locator + "\n" + c.Text
		}
		vecs, err := b.embedder.Embed(ctx, texts)
		if err != nil {
			return fmt.Errorf("embedding passages %d-%d: %w", start, end, err)
		}
		if len(vecs) != len(texts) {
			return fmt.Errorf("embedding passages %d-%d: expected %d vectors, got %d",
				start, end, len(texts), len(vecs))
		}
		for i, v := range vecs {
			chunks[start+i].Embedding = v
		}
		if b.cfg.Progress != nil {
			b.cfg.Progress(end, len(chunks))
		}
	}
	return nil
}

// toStore converts a build to its stored form. chunkSrc holds the source
// path of each chunk.
func toStore(version, model string, statutes []store.Statute, chunks []Chunk, chunkSrc []string) store.Corpus {
	sc := store.Corpus{
		Build:    store.CorpusBuild{Version: version, EmbeddingModel: model},
		Statutes: statutes,
		Chunks:   make([]store.LegalChunk, len(chunks)),
	}
	for i, c := range chunks {
		sc.Chunks[i] = store.LegalChunk{
			ChunkID:      c.ID,
			SourcePath:   chunkSrc[i],
			Jurisdiction: string(c.Jurisdiction),
			Act:          c.Act,
			Locator:      c.Locator,
			Section:      c.Section,
			Content:      c.Text,
			ContentHash:  chunker.ContentHash(c.Text),
			Position:     i,
			Embedding:    c.Embedding,
		}
	}
	return sc
}

// Load rebuilds an index from a persisted corpus.
func Load(ctx context.Context, l Loader, opts Options) (*Index, error) {
	sc, err := l.LoadCorpus(ctx)
	if err != nil {
		return nil, err
	}
	chunks := make([]Chunk, len(sc.Chunks))
	for i, c := range sc.Chunks {
		chunks[i] = Chunk{
			ID:           c.ChunkID,
			Jurisdiction: Jurisdiction(c.Jurisdiction),
			Act:          c.Act,
			Locator:      c.Locator,
			Section:      c.Section,
			Text:         c.Content,
			Embedding:    c.Embedding,
		}
	}
	opts.Version = sc.Build.Version
	return BuildIndex(chunks, opts)
}
