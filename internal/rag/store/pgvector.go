package store

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/kart-io/logger"
	"github.com/pgvector/pgvector-go"

	storeopts "github.com/kart-io/sentinel-rag/pkg/options/store"
	"github.com/kart-io/sentinel-rag/pkg/utils/json"
)

// PGVectorIndex 基于 PostgreSQL + pgvector 的向量索引，使用余弦距离 <=>。
type PGVectorIndex struct {
	pool  *pgxpool.Pool
	table string
	dim   int
}

var _ VectorIndex = (*PGVectorIndex)(nil)

// NewPGVectorIndex connects to PostgreSQL and, when enabled, creates the table.
func NewPGVectorIndex(ctx context.Context, opts *storeopts.PGVectorOptions, dim int) (*PGVectorIndex, error) {
	config, err := pgxpool.ParseConfig(opts.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to parse connection string: %w", err)
	}
	if opts.MaxConns > 0 {
		config.MaxConns = opts.MaxConns
	}
	config.MaxConnLifetime = time.Hour
	config.MaxConnIdleTime = 30 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	idx := &PGVectorIndex{
		pool:  pool,
		table: pgx.Identifier{opts.Table}.Sanitize(),
		dim:   dim,
	}
	if opts.AutoMigrate {
		if err := idx.migrate(ctx, opts.Table); err != nil {
			pool.Close()
			return nil, err
		}
	}
	return idx, nil
}

func (s *PGVectorIndex) migrate(ctx context.Context, table string) error {
	stmts := []string{
		`CREATE EXTENSION IF NOT EXISTS vector`,
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			chunk_id    TEXT PRIMARY KEY,
			document_id TEXT NOT NULL,
			tenant_id   TEXT NOT NULL,
			ordinal     INTEGER NOT NULL,
			content     TEXT NOT NULL,
			metadata    JSONB NOT NULL DEFAULT '{}'::jsonb,
			embedding   vector(%d) NOT NULL,
			indexed_at  TIMESTAMPTZ NOT NULL
		)`, s.table, s.dim),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s ON %s (tenant_id)`,
			pgx.Identifier{table + "_tenant_idx"}.Sanitize(), s.table),
	}
	for _, stmt := range stmts {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("failed to migrate pgvector table: %w", err)
		}
	}
	logger.Infow("pgvector table ready", "table", table, "dimension", s.dim)
	return nil
}

// Upsert writes entries in one batch, overwriting by chunk id.
func (s *PGVectorIndex) Upsert(ctx context.Context, entries []IndexEntry) error {
	if len(entries) == 0 {
		return nil
	}

	query := fmt.Sprintf(`INSERT INTO %s (chunk_id, document_id, tenant_id, ordinal, content, metadata, embedding, indexed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (chunk_id) DO UPDATE SET
			document_id = EXCLUDED.document_id,
			tenant_id   = EXCLUDED.tenant_id,
			ordinal     = EXCLUDED.ordinal,
			content     = EXCLUDED.content,
			metadata    = EXCLUDED.metadata,
			embedding   = EXCLUDED.embedding,
			indexed_at  = EXCLUDED.indexed_at`, s.table)

	batch := &pgx.Batch{}
	for _, e := range entries {
		if err := checkDimension(s.dim, e.Embedding); err != nil {
			return fmt.Errorf("chunk %s: %w", e.ChunkID, err)
		}
		meta := e.Metadata
		if meta == nil {
			meta = map[string]string{}
		}
		metaJSON, err := json.Marshal(meta)
		if err != nil {
			return fmt.Errorf("failed to encode metadata: %w", err)
		}
		batch.Queue(query,
			e.ChunkID, e.DocumentID, e.TenantID, e.Ordinal, e.Content,
			string(metaJSON), pgvector.NewVector(e.Embedding), e.IndexedAt.UTC(),
		)
	}

	br := s.pool.SendBatch(ctx, batch)
	defer br.Close()
	for i := range entries {
		if _, err := br.Exec(); err != nil {
			return fmt.Errorf("failed to upsert chunk %d: %w", i, err)
		}
	}
	return nil
}

// Query orders by cosine distance within the tenant; threshold is applied in SQL.
func (s *PGVectorIndex) Query(ctx context.Context, p QueryParams) ([]ScoredChunk, error) {
	if err := checkDimension(s.dim, p.Embedding); err != nil {
		return nil, err
	}

	query := fmt.Sprintf(`SELECT chunk_id, document_id, tenant_id, ordinal, content, metadata, indexed_at,
			1 - (embedding <=> $1) AS similarity
		FROM %s
		WHERE tenant_id = $2 AND 1 - (embedding <=> $1) >= $3
		ORDER BY embedding <=> $1, indexed_at DESC
		LIMIT $4`, s.table)

	rows, err := s.pool.Query(ctx, query, pgvector.NewVector(p.Embedding), p.TenantID, p.Threshold, p.TopK)
	if err != nil {
		return nil, fmt.Errorf("failed to search chunks: %w", err)
	}
	defer rows.Close()

	var hits []ScoredChunk
	for rows.Next() {
		var (
			hit  ScoredChunk
			meta []byte
		)
		if err := rows.Scan(
			&hit.ChunkID, &hit.DocumentID, &hit.TenantID, &hit.Ordinal, &hit.Content,
			&meta, &hit.IndexedAt, &hit.Similarity,
		); err != nil {
			return nil, fmt.Errorf("failed to scan chunk: %w", err)
		}
		if len(meta) > 0 {
			if err := json.Unmarshal(meta, &hit.Metadata); err != nil {
				return nil, fmt.Errorf("failed to decode metadata: %w", err)
			}
		}
		hit.Similarity = clampSimilarity(hit.Similarity)
		hits = append(hits, hit)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return Rank(hits, p.TenantID, p.TopK, p.Threshold), nil
}

// Delete removes chunks of the tenant.
func (s *PGVectorIndex) Delete(ctx context.Context, tenantID string, chunkIDs []string) error {
	if len(chunkIDs) == 0 {
		return nil
	}
	query := fmt.Sprintf(`DELETE FROM %s WHERE tenant_id = $1 AND chunk_id = ANY($2)`, s.table)
	if _, err := s.pool.Exec(ctx, query, tenantID, chunkIDs); err != nil {
		return fmt.Errorf("failed to delete chunks: %w", err)
	}
	return nil
}

// Count returns the number of chunks of the tenant.
func (s *PGVectorIndex) Count(ctx context.Context, tenantID string) (int, error) {
	var n int
	query := fmt.Sprintf(`SELECT COUNT(*) FROM %s WHERE tenant_id = $1`, s.table)
	if err := s.pool.QueryRow(ctx, query, tenantID).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count chunks: %w", err)
	}
	return n, nil
}

// Close closes the connection pool.
func (s *PGVectorIndex) Close(context.Context) error {
	s.pool.Close()
	return nil
}
