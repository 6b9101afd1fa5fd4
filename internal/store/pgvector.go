package store

import (
	"context"
	"database/sql"
	"fmt"
	"sync"

	_ "github.com/lib/pq" // PostgreSQL driver
	"github.com/pgvector/pgvector-go"
)

// PGVectorStore implements VectorStore on PostgreSQL with the pgvector
// extension. Intended for deployments where the corpus outgrows the
// in-process HNSW graph or must be shared between instances.
//
// pgvector's `<=>` operator returns cosine distance in [0,2]; Score is
// normalized to [0,1] the same way as HNSWStore.
type PGVectorStore struct {
	mu     sync.RWMutex
	db     *sql.DB
	dims   int
	closed bool
}

// NewPGVectorStore opens a connection and ensures the chunk_vectors table
// exists with the given embedding dimension.
func NewPGVectorStore(ctx context.Context, dsn string, dimensions int) (*PGVectorStore, error) {
	if dimensions <= 0 {
		return nil, fmt.Errorf("dimensions must be positive, got %d", dimensions)
	}

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	if _, err := db.ExecContext(ctx, `CREATE EXTENSION IF NOT EXISTS vector`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create vector extension: %w", err)
	}

	schema := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS chunk_vectors (
		chunk_id  TEXT PRIMARY KEY,
		embedding vector(%d) NOT NULL
	)`, dimensions)
	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create chunk_vectors table: %w", err)
	}

	return &PGVectorStore{db: db, dims: dimensions}, nil
}

// Add upserts vectors with their chunk IDs in a single transaction.
func (s *PGVectorStore) Add(ctx context.Context, ids []string, vectors [][]float32) error {
	if len(ids) == 0 {
		return nil
	}
	if len(ids) != len(vectors) {
		return fmt.Errorf("ids and vectors length mismatch: %d vs %d", len(ids), len(vectors))
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return fmt.Errorf("store is closed")
	}

	for _, v := range vectors {
		if len(v) != s.dims {
			return ErrDimensionMismatch{Expected: s.dims, Got: len(v)}
		}
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO chunk_vectors (chunk_id, embedding)
		VALUES ($1, $2)
		ON CONFLICT (chunk_id) DO UPDATE SET embedding = EXCLUDED.embedding`)
	if err != nil {
		return fmt.Errorf("prepare upsert: %w", err)
	}
	defer stmt.Close()

	for i, id := range ids {
		if _, err := stmt.ExecContext(ctx, id, pgvector.NewVector(vectors[i])); err != nil {
			return fmt.Errorf("upsert vector %s: %w", id, err)
		}
	}

	return tx.Commit()
}

// Search finds the k nearest neighbors by cosine distance.
func (s *PGVectorStore) Search(ctx context.Context, query []float32, k int) ([]*VectorResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, fmt.Errorf("store is closed")
	}
	if len(query) != s.dims {
		return nil, ErrDimensionMismatch{Expected: s.dims, Got: len(query)}
	}
	if k <= 0 {
		return []*VectorResult{}, nil
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT chunk_id, embedding <=> $1 AS distance
		 FROM chunk_vectors
		 ORDER BY embedding <=> $1, chunk_id
		 LIMIT $2`,
		pgvector.NewVector(query), k)
	if err != nil {
		return nil, fmt.Errorf("similarity search: %w", err)
	}
	defer rows.Close()

	results := make([]*VectorResult, 0, k)
	for rows.Next() {
		var id string
		var distance float64
		if err := rows.Scan(&id, &distance); err != nil {
			return nil, fmt.Errorf("scan result: %w", err)
		}
		results = append(results, &VectorResult{
			ChunkID:  id,
			Distance: float32(distance),
			Score:    float32(1.0 - distance/2.0),
		})
	}
	return results, rows.Err()
}

// Delete removes vectors by chunk ID.
func (s *PGVectorStore) Delete(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return fmt.Errorf("store is closed")
	}

	for _, id := range ids {
		if _, err := s.db.ExecContext(ctx, `DELETE FROM chunk_vectors WHERE chunk_id = $1`, id); err != nil {
			return fmt.Errorf("delete vector %s: %w", id, err)
		}
	}
	return nil
}

// AllIDs returns all chunk IDs in the store.
func (s *PGVectorStore) AllIDs() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil
	}

	rows, err := s.db.Query(`SELECT chunk_id FROM chunk_vectors ORDER BY chunk_id`)
	if err != nil {
		return nil
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil
		}
		ids = append(ids, id)
	}
	return ids
}

// Count returns the number of stored vectors.
func (s *PGVectorStore) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return 0
	}

	var count int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM chunk_vectors`).Scan(&count); err != nil {
		return 0
	}
	return count
}

// Close closes the database connection.
func (s *PGVectorStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}

// Verify interface implementation
var _ VectorStore = (*PGVectorStore)(nil)
