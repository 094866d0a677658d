package store

import "fmt"

// schemaSQL returns the DDL for all tables. embeddingDim controls the
// vec0 virtual table dimension.
func schemaSQL(embeddingDim int) string {
	return fmt.Sprintf(`
-- Statute source files, one row per file read by a corpus build
CREATE TABLE IF NOT EXISTS statutes (
    id INTEGER PRIMARY KEY,
    path TEXT NOT NULL UNIQUE,
    jurisdiction TEXT NOT NULL,
    act TEXT NOT NULL,
    format TEXT NOT NULL,
    content_hash TEXT NOT NULL,
    parse_method TEXT NOT NULL,
    created_at DATETIME DEFAULT CURRENT_TIMESTAMP
);

-- Citable statute passages
CREATE TABLE IF NOT EXISTS legal_chunks (
    id INTEGER PRIMARY KEY,
    chunk_id TEXT NOT NULL UNIQUE,
    statute_id INTEGER REFERENCES statutes(id) ON DELETE CASCADE,
    jurisdiction TEXT NOT NULL,
    act TEXT NOT NULL,
    locator TEXT NOT NULL,
    section TEXT,
    content TEXT NOT NULL,
    content_hash TEXT NOT NULL,
    position INTEGER NOT NULL
);

-- Passage embeddings via sqlite-vec
CREATE VIRTUAL TABLE IF NOT EXISTS vec_legal_chunks USING vec0(
    chunk_rowid INTEGER PRIMARY KEY,
    embedding float[%d] distance_metric=cosine
);

-- Full-text search via FTS5
CREATE VIRTUAL TABLE IF NOT EXISTS legal_chunks_fts USING fts5(
    content,
    locator,
    content='legal_chunks',
    content_rowid='id',
    tokenize='porter unicode61'
);

CREATE TRIGGER IF NOT EXISTS legal_chunks_ai AFTER INSERT ON legal_chunks BEGIN
    INSERT INTO legal_chunks_fts(rowid, content, locator) VALUES (new.id, new.content, new.locator);
END;
CREATE TRIGGER IF NOT EXISTS legal_chunks_ad AFTER DELETE ON legal_chunks BEGIN
    INSERT INTO legal_chunks_fts(legal_chunks_fts, rowid, content, locator) VALUES ('delete', old.id, old.content, old.locator);
END;

-- One row per successful corpus build; the latest row describes the
-- persisted corpus.
CREATE TABLE IF NOT EXISTS corpus_builds (
    id INTEGER PRIMARY KEY,
    version TEXT NOT NULL UNIQUE,
    embedding_model TEXT,
    embedding_dim INTEGER NOT NULL,
    chunk_count INTEGER NOT NULL,
    created_at DATETIME DEFAULT CURRENT_TIMESTAMP
);

-- Completed assessments
CREATE TABLE IF NOT EXISTS assessment_log (
    id INTEGER PRIMARY KEY,
    report_id TEXT NOT NULL UNIQUE,
    index_version TEXT,
    score REAL NOT NULL,
    band TEXT NOT NULL,
    recommendation TEXT NOT NULL,
    finding_count INTEGER NOT NULL,
    uncited_count INTEGER NOT NULL,
    report JSON NOT NULL,
    created_at DATETIME DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_legal_chunks_statute ON legal_chunks(statute_id);
CREATE INDEX IF NOT EXISTS idx_legal_chunks_section ON legal_chunks(act, section);
CREATE INDEX IF NOT EXISTS idx_statutes_hash ON statutes(content_hash);
`, embeddingDim)
}
