package vector

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"
)

const pgvectorTable = "bilgi_chunk_vectors"

// PGVectorIndex stores chunk vectors in PostgreSQL using the pgvector extension.
// Persistence is the database itself, so Save and Load are no-ops.
type PGVectorIndex struct {
	pool       *pgxpool.Pool
	dimensions int
	owned      bool
}

// NewPGVectorIndex wraps an existing pool and ensures the schema exists.
func NewPGVectorIndex(ctx context.Context, pool *pgxpool.Pool, dimensions int) (*PGVectorIndex, error) {
	if pool == nil {
		return nil, fmt.Errorf("postgres pool is nil")
	}
	if dimensions <= 0 {
		return nil, fmt.Errorf("dimensions must be positive")
	}
	idx := &PGVectorIndex{pool: pool, dimensions: dimensions}
	if err := idx.initSchema(ctx); err != nil {
		return nil, err
	}
	return idx, nil
}

// OpenPGVectorIndex connects to dsn and returns an index that closes the pool on Close.
func OpenPGVectorIndex(ctx context.Context, dsn string, dimensions int) (*PGVectorIndex, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	idx, err := NewPGVectorIndex(ctx, pool, dimensions)
	if err != nil {
		pool.Close()
		return nil, err
	}
	idx.owned = true
	return idx, nil
}

func (p *PGVectorIndex) initSchema(ctx context.Context) error {
	stmts := []string{
		`CREATE EXTENSION IF NOT EXISTS vector`,
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			id TEXT PRIMARY KEY,
			session_id TEXT NOT NULL DEFAULT '',
			document_id TEXT NOT NULL DEFAULT '',
			metadata JSONB NOT NULL DEFAULT '{}'::jsonb,
			embedding vector(%d) NOT NULL
		)`, pgvectorTable, p.dimensions),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s_session_idx ON %s(session_id)`, pgvectorTable, pgvectorTable),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s_document_idx ON %s(document_id)`, pgvectorTable, pgvectorTable),
	}
	for _, stmt := range stmts {
		if _, err := p.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("init pgvector schema: %w", err)
		}
	}
	return nil
}

// Type returns the index type identifier.
func (p *PGVectorIndex) Type() string {
	return string(IndexTypePGVector)
}

// Upsert writes items in one batch, replacing rows with the same ID.
func (p *PGVectorIndex) Upsert(ctx context.Context, items []Item) error {
	if len(items) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, it := range items {
		if len(it.Vector) != p.dimensions {
			return fmt.Errorf("vector dimension mismatch for %s: got %d, expected %d", it.ID, len(it.Vector), p.dimensions)
		}
		meta, err := json.Marshal(copyMeta(it.Metadata))
		if err != nil {
			return fmt.Errorf("encode metadata for %s: %w", it.ID, err)
		}
		batch.Queue(fmt.Sprintf(`
			INSERT INTO %s (id, session_id, document_id, metadata, embedding)
			VALUES ($1, $2, $3, $4::jsonb, $5)
			ON CONFLICT (id) DO UPDATE SET
				session_id = EXCLUDED.session_id,
				document_id = EXCLUDED.document_id,
				metadata = EXCLUDED.metadata,
				embedding = EXCLUDED.embedding`, pgvectorTable),
			it.ID, it.Metadata[MetaSessionID], it.Metadata[MetaDocumentID], string(meta), pgvector.NewVector(it.Vector))
	}
	br := p.pool.SendBatch(ctx, batch)
	defer br.Close()
	for range items {
		if _, err := br.Exec(); err != nil {
			return fmt.Errorf("upsert vectors: %w", err)
		}
	}
	return nil
}

// Update replaces the vector of an existing row. A nil meta keeps the old metadata.
func (p *PGVectorIndex) Update(ctx context.Context, id string, vec []float32, meta Metadata) error {
	if len(vec) != p.dimensions {
		return fmt.Errorf("vector dimension mismatch: got %d, expected %d", len(vec), p.dimensions)
	}
	var (
		sql  string
		args []any
	)
	if meta == nil {
		sql = fmt.Sprintf(`UPDATE %s SET embedding = $2 WHERE id = $1`, pgvectorTable)
		args = []any{id, pgvector.NewVector(vec)}
	} else {
		raw, err := json.Marshal(meta)
		if err != nil {
			return fmt.Errorf("encode metadata: %w", err)
		}
		sql = fmt.Sprintf(`UPDATE %s SET embedding = $2, metadata = $3::jsonb, session_id = $4, document_id = $5 WHERE id = $1`, pgvectorTable)
		args = []any{id, pgvector.NewVector(vec), string(raw), meta[MetaSessionID], meta[MetaDocumentID]}
	}
	tag, err := p.pool.Exec(ctx, sql, args...)
	if err != nil {
		return fmt.Errorf("update vector: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return nil
}

// Delete removes rows by ID.
func (p *PGVectorIndex) Delete(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	if _, err := p.pool.Exec(ctx, fmt.Sprintf(`DELETE FROM %s WHERE id = ANY($1)`, pgvectorTable), ids); err != nil {
		return fmt.Errorf("delete vectors: %w", err)
	}
	return nil
}

// Query returns the k nearest rows by cosine distance. Score is 1 - distance.
func (p *PGVectorIndex) Query(ctx context.Context, vec []float32, k int, filter *Filter) ([]*VectorResult, error) {
	if len(vec) != p.dimensions {
		return nil, fmt.Errorf("query dimension mismatch: got %d, expected %d", len(vec), p.dimensions)
	}
	if k <= 0 {
		return nil, nil
	}
	sql, args := buildQuery(pgvector.NewVector(vec), k, filter)
	rows, err := p.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("query vectors: %w", err)
	}
	defer rows.Close()

	var results []*VectorResult
	for rows.Next() {
		var (
			r    VectorResult
			meta []byte
		)
		if err := rows.Scan(&r.ID, &meta, &r.Score); err != nil {
			return nil, fmt.Errorf("scan vector row: %w", err)
		}
		if len(meta) > 0 {
			if err := json.Unmarshal(meta, &r.Metadata); err != nil {
				return nil, fmt.Errorf("decode metadata for %s: %w", r.ID, err)
			}
		}
		results = append(results, &r)
	}
	return results, rows.Err()
}

// buildQuery renders the similarity query with filter clauses. args[0] is the query vector.
func buildQuery(vec any, k int, filter *Filter) (string, []any) {
	args := []any{vec}
	var where []string
	if filter != nil {
		if filter.SessionID != "" {
			args = append(args, filter.SessionID)
			where = append(where, fmt.Sprintf("session_id = $%d", len(args)))
		}
		if filter.DocumentID != "" {
			args = append(args, filter.DocumentID)
			where = append(where, fmt.Sprintf("document_id = $%d", len(args)))
		}
		if len(filter.IDs) > 0 {
			args = append(args, filter.IDs)
			where = append(where, fmt.Sprintf("id = ANY($%d)", len(args)))
		}
	}
	args = append(args, k)

	var b strings.Builder
	fmt.Fprintf(&b, "SELECT id, metadata, 1 - (embedding <=> $1) AS score FROM %s", pgvectorTable)
	if len(where) > 0 {
		b.WriteString(" WHERE ")
		b.WriteString(strings.Join(where, " AND "))
	}
	fmt.Fprintf(&b, " ORDER BY embedding <=> $1 LIMIT $%d", len(args))
	return b.String(), args
}

// Size returns the row count, or 0 if the count query fails.
func (p *PGVectorIndex) Size() int {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	var n int
	if err := p.pool.QueryRow(ctx, fmt.Sprintf(`SELECT count(*) FROM %s`, pgvectorTable)).Scan(&n); err != nil {
		return 0
	}
	return n
}

// Save is a no-op; rows are durable once written.
func (p *PGVectorIndex) Save(path string) error { return nil }

// Load is a no-op; rows are read from the database on demand.
func (p *PGVectorIndex) Load(path string) error { return nil }

// Close releases the pool when it was opened by OpenPGVectorIndex.
func (p *PGVectorIndex) Close() error {
	if p.owned {
		p.pool.Close()
	}
	return nil
}
