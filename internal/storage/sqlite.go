package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/hyperjump/bilgi/internal/models"
)

// SQLiteStorage implements Storage using SQLite.
type SQLiteStorage struct {
	db *sql.DB
}

// NewSQLiteStorage opens or creates a SQLite database at dbPath and initializes the schema.
// Parent directories are created if they do not exist. ":memory:" opens a private
// in-memory database.
func NewSQLiteStorage(dbPath string) (*SQLiteStorage, error) {
	inMemory := dbPath == ":memory:"
	if !inMemory {
		if dir := filepath.Dir(dbPath); dir != "." {
			if err := os.MkdirAll(dir, 0755); err != nil {
				return nil, fmt.Errorf("failed to create database directory: %w", err)
			}
		}
	}
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if inMemory {
		// Every connection to :memory: is a separate database.
		db.SetMaxOpenConns(1)
	} else if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable WAL: %w", err)
	}

	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return &SQLiteStorage{db: db}, nil
}

func initSchema(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS documents (
		id TEXT PRIMARY KEY,
		session_id TEXT NOT NULL DEFAULT '',
		title TEXT,
		content TEXT NOT NULL,
		metadata TEXT,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_documents_session ON documents(session_id, created_at);

	CREATE TABLE IF NOT EXISTS chunks (
		id TEXT PRIMARY KEY,
		document_id TEXT NOT NULL,
		session_id TEXT NOT NULL DEFAULT '',
		chunk_index INTEGER NOT NULL,
		text TEXT NOT NULL,
		char_start INTEGER NOT NULL,
		char_end INTEGER NOT NULL,
		overlap_len INTEGER NOT NULL DEFAULT 0,
		quality_score REAL NOT NULL DEFAULT 0,
		quality TEXT,
		low_quality INTEGER NOT NULL DEFAULT 0,
		is_llm_improved INTEGER NOT NULL DEFAULT 0,
		llm_model TEXT NOT NULL DEFAULT '',
		embedding_model TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		FOREIGN KEY (document_id) REFERENCES documents(id) ON DELETE CASCADE
	);

	CREATE INDEX IF NOT EXISTS idx_chunks_document_chunk ON chunks(document_id, chunk_index);
	CREATE INDEX IF NOT EXISTS idx_chunks_session ON chunks(session_id);

	CREATE TABLE IF NOT EXISTS topics (
		id TEXT PRIMARY KEY,
		session_id TEXT NOT NULL,
		title TEXT NOT NULL,
		parent_topic_id TEXT NOT NULL DEFAULT '',
		topic_order INTEGER NOT NULL DEFAULT 0,
		keywords TEXT,
		difficulty TEXT NOT NULL DEFAULT 'intermediate',
		prerequisites TEXT,
		related_chunk_ids TEXT,
		extraction_confidence REAL NOT NULL DEFAULT 0,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_topics_session_order ON topics(session_id, topic_order);

	CREATE TABLE IF NOT EXISTS kb_entries (
		id TEXT PRIMARY KEY,
		topic_id TEXT NOT NULL UNIQUE,
		summary TEXT NOT NULL DEFAULT '',
		key_concepts TEXT,
		learning_objectives TEXT,
		examples TEXT,
		quality_score REAL NOT NULL DEFAULT 0,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		FOREIGN KEY (topic_id) REFERENCES topics(id) ON DELETE CASCADE
	);

	CREATE TABLE IF NOT EXISTS qa_pairs (
		id TEXT PRIMARY KEY,
		topic_id TEXT NOT NULL,
		session_id TEXT NOT NULL DEFAULT '',
		question TEXT NOT NULL,
		answer TEXT NOT NULL,
		explanation TEXT NOT NULL DEFAULT '',
		difficulty TEXT NOT NULL DEFAULT 'intermediate',
		bloom_level TEXT NOT NULL DEFAULT 'understand',
		quality_score REAL NOT NULL DEFAULT 0,
		times_asked INTEGER NOT NULL DEFAULT 0,
		average_rating REAL NOT NULL DEFAULT 0,
		rating_count INTEGER NOT NULL DEFAULT 0,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		FOREIGN KEY (topic_id) REFERENCES topics(id) ON DELETE CASCADE
	);

	CREATE INDEX IF NOT EXISTS idx_qa_topic ON qa_pairs(topic_id);
	CREATE INDEX IF NOT EXISTS idx_qa_session ON qa_pairs(session_id);
	`
	_, err := db.Exec(schema)
	return err
}

// rowScanner is satisfied by *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func toJSON(v any) (string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("failed to marshal json column: %w", err)
	}
	return string(b), nil
}

func fromJSON(raw sql.NullString, v any) error {
	if !raw.Valid || raw.String == "" || raw.String == "null" {
		return nil
	}
	if err := json.Unmarshal([]byte(raw.String), v); err != nil {
		return fmt.Errorf("failed to unmarshal json column: %w", err)
	}
	return nil
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}

func stringArgs(ids []string) []any {
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	return args
}

// CreateDocument inserts a document.
func (s *SQLiteStorage) CreateDocument(ctx context.Context, doc *models.Document) error {
	metadataJSON, err := json.Marshal(doc.Metadata)
	if err != nil {
		return fmt.Errorf("failed to marshal metadata: %w", err)
	}

	now := time.Now()
	doc.CreatedAt = now
	doc.UpdatedAt = now

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO documents (id, session_id, title, content, metadata, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		doc.ID, doc.SessionID, doc.Title, doc.Content, string(metadataJSON), doc.CreatedAt, doc.UpdatedAt,
	)
	return err
}

func scanDocument(sc rowScanner) (*models.Document, error) {
	var doc models.Document
	var metadataJSON sql.NullString
	if err := sc.Scan(&doc.ID, &doc.SessionID, &doc.Title, &doc.Content, &metadataJSON, &doc.CreatedAt, &doc.UpdatedAt); err != nil {
		return nil, err
	}
	if err := fromJSON(metadataJSON, &doc.Metadata); err != nil {
		return nil, err
	}
	return &doc, nil
}

// GetDocument returns a document by ID.
func (s *SQLiteStorage) GetDocument(ctx context.Context, id string) (*models.Document, error) {
	doc, err := scanDocument(s.db.QueryRowContext(ctx,
		`SELECT id, session_id, title, content, metadata, created_at, updated_at
		 FROM documents WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("document %s: %w", id, ErrNotFound)
	}
	return doc, err
}

// DeleteDocument removes a document and, by cascade, its chunks.
func (s *SQLiteStorage) DeleteDocument(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM documents WHERE id = ?`, id)
	return err
}

// ListDocuments returns documents with offset and limit, newest first.
func (s *SQLiteStorage) ListDocuments(ctx context.Context, sessionID string, offset, limit int) ([]*models.Document, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, session_id, title, content, metadata, created_at, updated_at
		 FROM documents WHERE (? = '' OR session_id = ?)
		 ORDER BY created_at DESC LIMIT ? OFFSET ?`,
		sessionID, sessionID, limit, offset,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var docs []*models.Document
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, err
		}
		docs = append(docs, doc)
	}
	return docs, rows.Err()
}

const chunkColumns = `id, document_id, session_id, chunk_index, text, char_start, char_end, overlap_len,
	quality_score, quality, low_quality, is_llm_improved, llm_model, embedding_model, created_at`

func scanChunk(sc rowScanner) (*models.Chunk, error) {
	var c models.Chunk
	var quality sql.NullString
	if err := sc.Scan(&c.ID, &c.DocumentID, &c.SessionID, &c.Index, &c.Text, &c.CharStart, &c.CharEnd, &c.OverlapLen,
		&c.QualityScore, &quality, &c.LowQuality, &c.IsLLMImproved, &c.LLMModel, &c.EmbeddingModel, &c.CreatedAt); err != nil {
		return nil, err
	}
	if err := fromJSON(quality, &c.Quality); err != nil {
		return nil, err
	}
	return &c, nil
}

func (s *SQLiteStorage) queryChunks(ctx context.Context, query string, args ...any) ([]*models.Chunk, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var chunks []*models.Chunk
	for rows.Next() {
		c, err := scanChunk(rows)
		if err != nil {
			return nil, err
		}
		chunks = append(chunks, c)
	}
	return chunks, rows.Err()
}

// BatchCreateChunks inserts multiple chunks in a transaction. Existing chunks
// with the same ID are replaced.
func (s *SQLiteStorage) BatchCreateChunks(ctx context.Context, chunks []*models.Chunk) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx,
		`INSERT OR REPLACE INTO chunks (`+chunkColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
	)
	if err != nil {
		return err
	}
	defer stmt.Close()

	now := time.Now()
	for _, c := range chunks {
		if c.CreatedAt.IsZero() {
			c.CreatedAt = now
		}
		quality, err := toJSON(c.Quality)
		if err != nil {
			return err
		}
		if _, err := stmt.ExecContext(ctx, c.ID, c.DocumentID, c.SessionID, c.Index, c.Text, c.CharStart, c.CharEnd,
			c.OverlapLen, c.QualityScore, quality, c.LowQuality, c.IsLLMImproved, c.LLMModel, c.EmbeddingModel, c.CreatedAt); err != nil {
			return fmt.Errorf("insert chunk %s: %w", c.ID, err)
		}
	}
	return tx.Commit()
}

// GetChunksByDocumentID returns all chunks for a document ordered by chunk_index.
func (s *SQLiteStorage) GetChunksByDocumentID(ctx context.Context, docID string) ([]*models.Chunk, error) {
	return s.queryChunks(ctx,
		`SELECT `+chunkColumns+` FROM chunks WHERE document_id = ? ORDER BY chunk_index`, docID)
}

// GetChunksBySession returns all chunks of a session in document and chunk order.
func (s *SQLiteStorage) GetChunksBySession(ctx context.Context, sessionID string) ([]*models.Chunk, error) {
	return s.queryChunks(ctx,
		`SELECT c.id, c.document_id, c.session_id, c.chunk_index, c.text, c.char_start, c.char_end, c.overlap_len,
			c.quality_score, c.quality, c.low_quality, c.is_llm_improved, c.llm_model, c.embedding_model, c.created_at
		 FROM chunks c JOIN documents d ON d.id = c.document_id
		 WHERE c.session_id = ? ORDER BY d.created_at, c.document_id, c.chunk_index`, sessionID)
}

// GetChunksByIDs returns the chunks with the given IDs. Missing IDs are skipped.
func (s *SQLiteStorage) GetChunksByIDs(ctx context.Context, ids []string) ([]*models.Chunk, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	return s.queryChunks(ctx,
		`SELECT `+chunkColumns+` FROM chunks WHERE id IN (`+placeholders(len(ids))+`)`, stringArgs(ids)...)
}

// UpdateChunkEmbeddingModel sets the embedding model of one chunk.
func (s *SQLiteStorage) UpdateChunkEmbeddingModel(ctx context.Context, chunkID, model string) error {
	res, err := s.db.ExecContext(ctx, `UPDATE chunks SET embedding_model = ? WHERE id = ?`, model, chunkID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("chunk %s: %w", chunkID, ErrNotFound)
	}
	return nil
}

// DeleteChunksByDocumentID removes all chunks for a document.
func (s *SQLiteStorage) DeleteChunksByDocumentID(ctx context.Context, docID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM chunks WHERE document_id = ?`, docID)
	return err
}

// Counts returns row totals across all tables.
func (s *SQLiteStorage) Counts(ctx context.Context) (Counts, error) {
	var c Counts
	err := s.db.QueryRowContext(ctx, `SELECT
		(SELECT COUNT(*) FROM documents),
		(SELECT COUNT(*) FROM chunks),
		(SELECT COUNT(*) FROM topics),
		(SELECT COUNT(*) FROM kb_entries),
		(SELECT COUNT(*) FROM qa_pairs)`).Scan(&c.Documents, &c.Chunks, &c.Topics, &c.Knowledge, &c.QAPairs)
	return c, err
}

// Close closes the database connection.
func (s *SQLiteStorage) Close() error {
	return s.db.Close()
}
