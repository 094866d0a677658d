// Package store persists the legal corpus and the assessment audit log in
// SQLite, with passage embeddings held in a sqlite-vec vec0 table.
package store

import (
	"context"
	"database/sql"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"
	"time"

	sqlite_vec "github.com/asg017/sqlite-vec-go-bindings/cgo"
	_ "github.com/mattn/go-sqlite3"
)

func init() {
	sqlite_vec.Auto()
}

// ErrNoCorpus is returned by LoadCorpus when no build has been persisted.
var ErrNoCorpus = errors.New("store: no corpus has been built")

// Statute represents a row in the statutes table.
type Statute struct {
	Path         string `json:"path"`
	Jurisdiction string `json:"jurisdiction"`
	Act          string `json:"act"`
	Format       string `json:"format"`
	ContentHash  string `json:"content_hash"`
	ParseMethod  string `json:"parse_method"`
}

// LegalChunk represents a row in the legal_chunks table together with its
// embedding.
type LegalChunk struct {
	ChunkID      string    `json:"chunk_id"`
	SourcePath   string    `json:"source_path,omitempty"`
	Jurisdiction string    `json:"jurisdiction"`
	Act          string    `json:"act"`
	Locator      string    `json:"locator"`
	Section      string    `json:"section,omitempty"`
	Content      string    `json:"content"`
	ContentHash  string    `json:"content_hash"`
	Position     int       `json:"position"`
	Embedding    []float32 `json:"-"`
}

// CorpusBuild represents a row in the corpus_builds table.
type CorpusBuild struct {
	Version        string    `json:"version"`
	EmbeddingModel string    `json:"embedding_model"`
	EmbeddingDim   int       `json:"embedding_dim"`
	ChunkCount     int       `json:"chunk_count"`
	CreatedAt      time.Time `json:"created_at"`
}

// Corpus is a complete persisted corpus.
type Corpus struct {
	Build    CorpusBuild
	Statutes []Statute
	Chunks   []LegalChunk
}

// ChunkHit is a passage returned by a store-side search.
type ChunkHit struct {
	ChunkID      string  `json:"chunk_id"`
	Jurisdiction string  `json:"jurisdiction"`
	Act          string  `json:"act"`
	Locator      string  `json:"locator"`
	Content      string  `json:"content"`
	Score        float64 `json:"score"`
	// Methods lists the searches that returned the passage (FusedSearch only).
	Methods []string `json:"methods,omitempty"`
}

// AssessmentLog represents a row in the assessment_log table.
type AssessmentLog struct {
	ReportID       string          `json:"report_id"`
	IndexVersion   string          `json:"index_version"`
	Score          float64         `json:"score"`
	Band           string          `json:"band"`
	Recommendation string          `json:"recommendation"`
	FindingCount   int             `json:"finding_count"`
	UncitedCount   int             `json:"uncited_count"`
	Report         json.RawMessage `json:"report,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
}

// Store wraps the SQLite database for all titlecheck persistence.
type Store struct {
	db           *sql.DB
	embeddingDim int
}

// New opens (or creates) a SQLite database at the given path and
// initialises the schema including sqlite-vec and FTS5 virtual tables.
func New(dbPath string, embeddingDim int) (*Store, error) {
	if embeddingDim <= 0 {
		return nil, fmt.Errorf("embedding dimension must be positive, got %d", embeddingDim)
	}

	dir := filepath.Dir(dbPath)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("creating db directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_foreign_keys=on&_busy_timeout=30000")
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	if _, err := db.Exec(schemaSQL(embeddingDim)); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	db.SetMaxOpenConns(4)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(30 * time.Minute)

	s := &Store{db: db, embeddingDim: embeddingDim}

	if err := s.Migrate(context.Background()); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return s, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// DB returns the underlying *sql.DB for advanced queries.
func (s *Store) DB() *sql.DB {
	return s.db
}

// EmbeddingDim returns the configured embedding dimension.
func (s *Store) EmbeddingDim() int {
	return s.embeddingDim
}

// ---------------------------------------------------------------------------
// Corpus
// ---------------------------------------------------------------------------

// ReplaceCorpus swaps the persisted corpus for c in a single transaction.
// Either every statute, chunk and embedding is written or nothing changes.
func (s *Store) ReplaceCorpus(ctx context.Context, c Corpus) error {
	if c.Build.Version == "" {
		return errors.New("corpus build has no version")
	}
	for _, ch := range c.Chunks {
		if len(ch.Embedding) != s.embeddingDim {
			return fmt.Errorf("chunk %s: embedding has %d dimensions, store expects %d",
				ch.ChunkID, len(ch.Embedding), s.embeddingDim)
		}
	}

	return s.inTx(ctx, func(tx *sql.Tx) error {
		for _, stmt := range []string{
			"DELETE FROM vec_legal_chunks",
			"DELETE FROM legal_chunks",
			"DELETE FROM statutes",
		} {
			if _, err := tx.ExecContext(ctx, stmt); err != nil {
				return fmt.Errorf("clearing corpus: %w", err)
			}
		}

		statuteIDs := make(map[string]int64, len(c.Statutes))
		for _, st := range c.Statutes {
			res, err := tx.ExecContext(ctx, `
				INSERT INTO statutes (path, jurisdiction, act, format, content_hash, parse_method)
				VALUES (?, ?, ?, ?, ?, ?)`,
				st.Path, st.Jurisdiction, st.Act, st.Format, st.ContentHash, st.ParseMethod)
			if err != nil {
				return fmt.Errorf("inserting statute %s: %w", st.Path, err)
			}
			id, err := res.LastInsertId()
			if err != nil {
				return err
			}
			statuteIDs[st.Path] = id
		}

		chunkStmt, err := tx.PrepareContext(ctx, `
			INSERT INTO legal_chunks (chunk_id, statute_id, jurisdiction, act, locator, section, content, content_hash, position)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`)
		if err != nil {
			return err
		}
		defer chunkStmt.Close()

		vecStmt, err := tx.PrepareContext(ctx,
			"INSERT INTO vec_legal_chunks (chunk_rowid, embedding) VALUES (?, ?)")
		if err != nil {
			return err
		}
		defer vecStmt.Close()

		for _, ch := range c.Chunks {
			var statuteID *int64
			if id, ok := statuteIDs[ch.SourcePath]; ok {
				statuteID = &id
			}
			res, err := chunkStmt.ExecContext(ctx,
				ch.ChunkID, statuteID, ch.Jurisdiction, ch.Act, ch.Locator,
				ch.Section, ch.Content, ch.ContentHash, ch.Position)
			if err != nil {
				return fmt.Errorf("inserting chunk %s: %w", ch.ChunkID, err)
			}
			rowID, err := res.LastInsertId()
			if err != nil {
				return err
			}
			if _, err := vecStmt.ExecContext(ctx, rowID, serializeFloat32(ch.Embedding)); err != nil {
				return fmt.Errorf("inserting embedding for %s: %w", ch.ChunkID, err)
			}
		}

		_, err = tx.ExecContext(ctx, `
			INSERT INTO corpus_builds (version, embedding_model, embedding_dim, chunk_count)
			VALUES (?, ?, ?, ?)`,
			c.Build.Version, c.Build.EmbeddingModel, s.embeddingDim, len(c.Chunks))
		if err != nil {
			return fmt.Errorf("recording corpus build: %w", err)
		}
		return nil
	})
}

// LatestBuild returns the most recent corpus build, or ErrNoCorpus.
func (s *Store) LatestBuild(ctx context.Context) (*CorpusBuild, error) {
	var b CorpusBuild
	var model sql.NullString
	err := s.db.QueryRowContext(ctx, `
		SELECT version, embedding_model, embedding_dim, chunk_count, created_at
		FROM corpus_builds ORDER BY id DESC LIMIT 1`).
		Scan(&b.Version, &model, &b.EmbeddingDim, &b.ChunkCount, &b.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNoCorpus
	}
	if err != nil {
		return nil, fmt.Errorf("reading corpus build: %w", err)
	}
	b.EmbeddingModel = model.String
	return &b, nil
}

// LoadCorpus reads back the persisted corpus in build order.
func (s *Store) LoadCorpus(ctx context.Context) (*Corpus, error) {
	build, err := s.LatestBuild(ctx)
	if err != nil {
		return nil, err
	}
	if build.EmbeddingDim != s.embeddingDim {
		return nil, fmt.Errorf("persisted corpus has %d-dimensional embeddings, store expects %d",
			build.EmbeddingDim, s.embeddingDim)
	}

	c := &Corpus{Build: *build}

	srows, err := s.db.QueryContext(ctx, `
		SELECT path, jurisdiction, act, format, content_hash, parse_method
		FROM statutes ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("reading statutes: %w", err)
	}
	for srows.Next() {
		var st Statute
		if err := srows.Scan(&st.Path, &st.Jurisdiction, &st.Act, &st.Format, &st.ContentHash, &st.ParseMethod); err != nil {
			srows.Close()
			return nil, err
		}
		c.Statutes = append(c.Statutes, st)
	}
	srows.Close()
	if err := srows.Err(); err != nil {
		return nil, err
	}

	embeddings := make(map[int64][]float32)
	vrows, err := s.db.QueryContext(ctx, "SELECT chunk_rowid, embedding FROM vec_legal_chunks")
	if err != nil {
		return nil, fmt.Errorf("reading embeddings: %w", err)
	}
	for vrows.Next() {
		var id int64
		var blob []byte
		if err := vrows.Scan(&id, &blob); err != nil {
			vrows.Close()
			return nil, err
		}
		v, err := deserializeFloat32(blob)
		if err != nil {
			vrows.Close()
			return nil, fmt.Errorf("embedding for row %d: %w", id, err)
		}
		embeddings[id] = v
	}
	vrows.Close()
	if err := vrows.Err(); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT c.id, c.chunk_id, COALESCE(st.path, ''), c.jurisdiction, c.act, c.locator,
			COALESCE(c.section, ''), c.content, c.content_hash, c.position
		FROM legal_chunks c
		LEFT JOIN statutes st ON st.id = c.statute_id
		ORDER BY c.position, c.id`)
	if err != nil {
		return nil, fmt.Errorf("reading chunks: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var rowID int64
		var ch LegalChunk
		if err := rows.Scan(&rowID, &ch.ChunkID, &ch.SourcePath, &ch.Jurisdiction, &ch.Act,
			&ch.Locator, &ch.Section, &ch.Content, &ch.ContentHash, &ch.Position); err != nil {
			return nil, err
		}
		emb, ok := embeddings[rowID]
		if !ok {
			return nil, fmt.Errorf("chunk %s has no embedding", ch.ChunkID)
		}
		ch.Embedding = emb
		c.Chunks = append(c.Chunks, ch)
	}
	return c, rows.Err()
}

// VectorSearch returns the k passages nearest to queryEmbedding by cosine
// distance.
func (s *Store) VectorSearch(ctx context.Context, queryEmbedding []float32, k int) ([]ChunkHit, error) {
	if len(queryEmbedding) != s.embeddingDim {
		return nil, fmt.Errorf("query embedding has %d dimensions, store expects %d", len(queryEmbedding), s.embeddingDim)
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT v.distance, c.chunk_id, c.jurisdiction, c.act, c.locator, c.content
		FROM vec_legal_chunks v
		JOIN legal_chunks c ON c.id = v.chunk_rowid
		WHERE v.embedding MATCH ? AND k = ?
		ORDER BY v.distance
	`, serializeFloat32(queryEmbedding), k)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []ChunkHit
	for rows.Next() {
		var h ChunkHit
		var distance float64
		if err := rows.Scan(&distance, &h.ChunkID, &h.Jurisdiction, &h.Act, &h.Locator, &h.Content); err != nil {
			return nil, err
		}
		h.Score = 1.0 - distance
		results = append(results, h)
	}
	return results, rows.Err()
}

// TextSearch performs a full-text search over passage text and locators
// using FTS5 BM25 ranking. Any term may match.
func (s *Store) TextSearch(ctx context.Context, query string, limit int) ([]ChunkHit, error) {
	match := ftsQuery(query)
	if match == "" {
		return nil, nil
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT f.rank, c.chunk_id, c.jurisdiction, c.act, c.locator, c.content
		FROM legal_chunks_fts f
		JOIN legal_chunks c ON c.id = f.rowid
		WHERE legal_chunks_fts MATCH ?
		ORDER BY f.rank
		LIMIT ?
	`, match, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []ChunkHit
	for rows.Next() {
		var h ChunkHit
		var rank float64
		if err := rows.Scan(&rank, &h.ChunkID, &h.Jurisdiction, &h.Act, &h.Locator, &h.Content); err != nil {
			return nil, err
		}
		// FTS5 rank is negative BM25; lower is better.
		h.Score = -rank
		results = append(results, h)
	}
	return results, rows.Err()
}

// ftsQuery quotes each word of q so FTS5 operators in user input are
// treated as text, and ORs the terms together.
func ftsQuery(q string) string {
	var terms []string
	for _, w := range strings.FieldsFunc(q, func(r rune) bool {
		return !(r == '_' || r >= '0' && r <= '9' || r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r > 127)
	}) {
		terms = append(terms, `"`+w+`"`)
	}
	return strings.Join(terms, " OR ")
}

// ---------------------------------------------------------------------------
// Assessment audit log
// ---------------------------------------------------------------------------

// LogAssessment appends a completed assessment to the audit log. report is
// stored as JSON.
func (s *Store) LogAssessment(ctx context.Context, entry AssessmentLog, report any) error {
	reportJSON, err := json.Marshal(report)
	if err != nil {
		return fmt.Errorf("marshaling report: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO assessment_log (report_id, index_version, score, band, recommendation,
			finding_count, uncited_count, report)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.ReportID, entry.IndexVersion, entry.Score, entry.Band, entry.Recommendation,
		entry.FindingCount, entry.UncitedCount, string(reportJSON))
	if err != nil {
		return fmt.Errorf("logging assessment %s: %w", entry.ReportID, err)
	}
	return nil
}

// RecentAssessments returns up to limit audit log entries, newest first,
// without the report body.
func (s *Store) RecentAssessments(ctx context.Context, limit int) ([]AssessmentLog, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT report_id, COALESCE(index_version, ''), score, band, recommendation,
			finding_count, uncited_count, created_at
		FROM assessment_log ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []AssessmentLog
	for rows.Next() {
		var a AssessmentLog
		if err := rows.Scan(&a.ReportID, &a.IndexVersion, &a.Score, &a.Band, &a.Recommendation,
			&a.FindingCount, &a.UncitedCount, &a.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// GetAssessment returns one audit log entry including its report JSON.
func (s *Store) GetAssessment(ctx context.Context, reportID string) (*AssessmentLog, error) {
	var a AssessmentLog
	var report string
	err := s.db.QueryRowContext(ctx, `
		SELECT report_id, COALESCE(index_version, ''), score, band, recommendation,
			finding_count, uncited_count, report, created_at
		FROM assessment_log WHERE report_id = ?`, reportID).
		Scan(&a.ReportID, &a.IndexVersion, &a.Score, &a.Band, &a.Recommendation,
			&a.FindingCount, &a.UncitedCount, &report, &a.CreatedAt)
	if err != nil {
		return nil, err
	}
	a.Report = json.RawMessage(report)
	return &a, nil
}

// ---------------------------------------------------------------------------
// Stats
// ---------------------------------------------------------------------------

// DBStats holds counts of key database objects.
type DBStats struct {
	Statutes      int `json:"statutes"`
	Chunks        int `json:"chunks"`
	Embeddings    int `json:"embeddings"`
	Builds        int `json:"builds"`
	Assessments   int `json:"assessments"`
	SchemaVersion int `json:"schema_version"`
}

// DBStats returns counts of statutes, chunks, embeddings, builds and logged
// assessments.
func (s *Store) DBStats(ctx context.Context) (*DBStats, error) {
	stats := &DBStats{}
	queries := []struct {
		query string
		dest  *int
	}{
		{"SELECT COUNT(*) FROM statutes", &stats.Statutes},
		{"SELECT COUNT(*) FROM legal_chunks", &stats.Chunks},
		{"SELECT COUNT(*) FROM vec_legal_chunks", &stats.Embeddings},
		{"SELECT COUNT(*) FROM corpus_builds", &stats.Builds},
		{"SELECT COUNT(*) FROM assessment_log", &stats.Assessments},
	}
	for _, q := range queries {
		if err := s.db.QueryRowContext(ctx, q.query).Scan(q.dest); err != nil {
			return nil, fmt.Errorf("counting %s: %w", q.query, err)
		}
	}
	v, err := s.SchemaVersion(ctx)
	if err != nil {
		return nil, err
	}
	stats.SchemaVersion = v
	return stats, nil
}

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

func (s *Store) inTx(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	return tx.Commit()
}

// serializeFloat32 converts a float32 slice to little-endian bytes for sqlite-vec.
func serializeFloat32(v []float32) []byte {
	buf := make([]byte, len(v)*4)
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

// deserializeFloat32 is the inverse of serializeFloat32.
func deserializeFloat32(b []byte) ([]float32, error) {
	if len(b)%4 != 0 {
		return nil, fmt.Errorf("blob length %d is not a multiple of 4", len(b))
	}
	v := make([]float32, len(b)/4)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return v, nil
}
