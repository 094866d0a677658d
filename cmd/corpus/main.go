// Command corpus builds and inspects the legal corpus and the assessment
// log of a titlecheck database.
//
// Usage:
//
//	go run -tags sqlite_fts5 ./cmd/corpus -config titlecheck.yaml build -dir ./statutes
//	go run -tags sqlite_fts5 ./cmd/corpus -config titlecheck.yaml stats
//	go run -tags sqlite_fts5 ./cmd/corpus -config titlecheck.yaml search -k 5 "release of mortgage"
//	go run -tags sqlite_fts5 ./cmd/corpus -config titlecheck.yaml raw "khata transfer"
//	go run -tags sqlite_fts5 ./cmd/corpus -config titlecheck.yaml assessments -limit 10
//	go run -tags sqlite_fts5 ./cmd/corpus -config titlecheck.yaml export <report-id> report.xlsx
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/fatih/color"
	"github.com/joho/godotenv"
	"github.com/schollz/progressbar/v3"

	"github.com/brunobiangulo/titlecheck"
	"github.com/brunobiangulo/titlecheck/advisor"
	"github.com/brunobiangulo/titlecheck/corpus"
	"github.com/brunobiangulo/titlecheck/llm"
	"github.com/brunobiangulo/titlecheck/report"
	"github.com/brunobiangulo/titlecheck/store"
)

var (
	heading = color.New(color.FgCyan, color.Bold)
	ok      = color.New(color.FgGreen)
	warn    = color.New(color.FgYellow)
	fail    = color.New(color.FgRed, color.Bold)
)

func main() {
	configPath := flag.String("config", "", "Path to config file (YAML or JSON)")
	verbose := flag.Bool("v", false, "Debug logging")
	flag.Usage = usage
	flag.Parse()

	level := slog.LevelWarn
	if *verbose {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	if flag.NArg() < 1 {
		usage()
		os.Exit(2)
	}
	_ = godotenv.Load()

	cfg, err := titlecheck.LoadConfig(*configPath)
	if err != nil {
		exitErr("loading config", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	engine, err := titlecheck.New(cfg)
	if err != nil {
		exitErr("creating engine", err)
	}
	defer engine.Close()

	cmd, args := flag.Arg(0), flag.Args()[1:]
	switch cmd {
	case "build":
		err = runBuild(ctx, engine, cfg, args)
	case "stats":
		err = runStats(ctx, engine)
	case "search":
		err = runSearch(ctx, engine, args)
	case "raw":
		err = runRaw(ctx, engine.Store(), cfg, args)
	case "assessments":
		err = runAssessments(ctx, engine, args)
	case "export":
		err = runExport(ctx, engine.Store(), args)
	default:
		usage()
		os.Exit(2)
	}
	if err != nil {
		exitErr(cmd, err)
	}
}

func usage() {
	fmt.Fprintf(os.Stderr, `Usage: corpus [-config file] [-v] <command> [args]

Commands:
  build [-dir path]          build, persist and activate the legal corpus
  stats                      show the active corpus and database counts
  search [-k n] query        hybrid search over the active corpus
  raw [-k n] query           full-text and vector search over the stored tables
  assessments [-limit n]     list logged assessments
  export report-id file      write a logged report as an XLSX workbook
`)
}

func exitErr(what string, err error) {
	fail.Fprintf(os.Stderr, "%s: %v\n", what, err)
	os.Exit(1)
}

func runBuild(ctx context.Context, e titlecheck.Engine, cfg titlecheck.Config, args []string) error {
	fs := flag.NewFlagSet("build", flag.ExitOnError)
	dir := fs.String("dir", cfg.Corpus.Dir, "Statute source directory")
	fs.Parse(args)

	var bar *progressbar.ProgressBar
	progress := func(done, total int) {
		if bar == nil {
			bar = progressbar.NewOptions(total,
				progressbar.OptionSetDescription(color.BlueString("embedding passages")),
				progressbar.OptionSetItsString("passages"),
				progressbar.OptionShowCount(),
				progressbar.OptionShowIts(),
				progressbar.OptionEnableColorCodes(true),
				progressbar.OptionSetWidth(40),
				progressbar.OptionShowElapsedTimeOnFinish(),
				progressbar.OptionSetRenderBlankState(true),
			)
		}
		bar.Set(done)
	}

	heading.Printf("Building legal corpus from %s\n", *dir)
	st, err := e.BuildCorpus(ctx, *dir, titlecheck.WithProgress(progress))
	if bar != nil {
		bar.Finish()
		fmt.Println()
	}
	if err != nil {
		return err
	}
	ok.Printf("Corpus %s active: %d passages\n", st.Version, st.Chunks)
	printActs(st)
	return nil
}

func runStats(ctx context.Context, e titlecheck.Engine) error {
	st, err := e.CorpusStats()
	if err != nil {
		return err
	}
	heading.Printf("Corpus %s\n", st.Version)
	fmt.Printf("  passages:   %d\n  dimension:  %d\n", st.Chunks, st.Dimension)
	printActs(st)

	db, err := e.Store().DBStats(ctx)
	if err != nil {
		return err
	}
	heading.Println("Database")
	fmt.Printf("  statutes:    %d\n  chunks:      %d\n  embeddings:  %d\n  builds:      %d\n  assessments: %d\n  schema:      v%d\n",
		db.Statutes, db.Chunks, db.Embeddings, db.Builds, db.Assessments, db.SchemaVersion)
	return nil
}

func printActs(st *corpus.Stats) {
	for _, a := range st.Acts {
		fmt.Printf("  %-8s %-50s %4d\n", a.Jurisdiction, a.Act, a.Chunks)
	}
}

func runSearch(ctx context.Context, e titlecheck.Engine, args []string) error {
	fs := flag.NewFlagSet("search", flag.ExitOnError)
	k := fs.Int("k", 5, "Number of passages")
	fs.Parse(args)
	query := strings.Join(fs.Args(), " ")
	if query == "" {
		return fmt.Errorf("search needs a query")
	}

	hits, err := e.SearchCorpus(ctx, query, *k)
	if err != nil {
		return err
	}
	if len(hits) == 0 {
		warn.Println("no passages")
		return nil
	}
	for i, h := range hits {
		mark := ""
		if h.Cited {
			mark = ok.Sprint(" [cited]")
		}
		heading.Printf("%d. %s, %s (%s)%s\n", i+1, h.Chunk.Act, h.Chunk.Locator, h.Chunk.Jurisdiction, mark)
		fmt.Printf("   score %.3f  semantic %.3f  lexical %.3f  %s\n", h.Score, h.Semantic, h.Lexical, h.Chunk.ID)
		fmt.Printf("   %s\n", corpus.Snippet(h.Chunk.Text, query, corpus.DefaultSnippetLen))
	}
	return nil
}

// runRaw queries the persisted FTS5 and vec0 tables directly, bypassing the
// in-memory index, and shows their reciprocal rank fusion.
func runRaw(ctx context.Context, st *store.Store, cfg titlecheck.Config, args []string) error {
	fs := flag.NewFlagSet("raw", flag.ExitOnError)
	k := fs.Int("k", 5, "Results per table")
	fs.Parse(args)
	query := strings.Join(fs.Args(), " ")
	if query == "" {
		return fmt.Errorf("raw needs a query")
	}

	text, err := st.TextSearch(ctx, query, *k)
	if err != nil {
		return fmt.Errorf("full-text search: %w", err)
	}
	heading.Println("Full-text (bm25)")
	printChunkHits(text)

	embedder, err := llm.NewProvider(cfg.Embedding)
	if err != nil {
		return err
	}
	vecs, err := embedder.Embed(ctx, []string{query})
	if err != nil {
		return fmt.Errorf("embedding query: %w", err)
	}
	if len(vecs) != 1 {
		return fmt.Errorf("embedding query: got %d vectors", len(vecs))
	}
	vec, err := st.VectorSearch(ctx, vecs[0], *k)
	if err != nil {
		return fmt.Errorf("vector search: %w", err)
	}
	heading.Println("Vector (cosine)")
	printChunkHits(vec)

	fused, err := st.FusedSearch(ctx, query, vecs[0], *k)
	if err != nil {
		return err
	}
	heading.Println("Fused (RRF)")
	printChunkHits(fused)
	return nil
}

func printChunkHits(hits []store.ChunkHit) {
	if len(hits) == 0 {
		warn.Println("  no results")
		return
	}
	for _, h := range hits {
		fmt.Printf("  %.3f  %-8s %s, %s  %s", h.Score, h.Jurisdiction, h.Act, h.Locator, h.ChunkID)
		if len(h.Methods) > 0 {
			fmt.Printf("  [%s]", strings.Join(h.Methods, "+"))
		}
		fmt.Println()
	}
}

func runAssessments(ctx context.Context, e titlecheck.Engine, args []string) error {
	fs := flag.NewFlagSet("assessments", flag.ExitOnError)
	limit := fs.Int("limit", 20, "Number of entries")
	fs.Parse(args)

	logs, err := e.RecentAssessments(ctx, *limit)
	if err != nil {
		return err
	}
	for _, a := range logs {
		c := ok
		switch advisor.Recommendation(a.Recommendation) {
		case advisor.DoNotProceed:
			c = fail
		case advisor.Caution:
			c = warn
		}
		fmt.Printf("%s  %s  %5.1f %-8s ", a.CreatedAt.Format("2006-01-02 15:04"), a.ReportID, a.Score, a.Band)
		c.Printf("%-22s", a.Recommendation)
		fmt.Printf(" findings %d, uncited %d\n", a.FindingCount, a.UncitedCount)
	}
	return nil
}

func runExport(ctx context.Context, st *store.Store, args []string) error {
	if len(args) != 2 {
		return fmt.Errorf("export needs a report id and an output file")
	}
	entry, err := st.GetAssessment(ctx, args[0])
	if err != nil {
		return fmt.Errorf("loading %s: %w", args[0], err)
	}
	var rep advisor.Report
	if err := json.Unmarshal(entry.Report, &rep); err != nil {
		return fmt.Errorf("decoding report: %w", err)
	}
	if err := report.SaveXLSX(args[1], &rep); err != nil {
		return err
	}
	ok.Printf("wrote %s\n", args[1])
	return nil
}
