package store

import (
	"context"
	"os"
	"testing"

	"github.com/stretchr/testify/require"

	storeopts "github.com/kart-io/sentinel-rag/pkg/options/store"
	"github.com/kart-io/sentinel-rag/pkg/utils/id"
)

// 需要带 pgvector 扩展的 PostgreSQL，通过 RAG_TEST_PGVECTOR_DSN 指定。
func TestPGVectorIndex(t *testing.T) {
	dsn := os.Getenv("RAG_TEST_PGVECTOR_DSN")
	if dsn == "" {
		t.Skip("RAG_TEST_PGVECTOR_DSN not set")
	}

	runIndexContract(t, func(t *testing.T) VectorIndex {
		opts := &storeopts.PGVectorOptions{
			DSN:         dsn,
			Table:       "test_vectors_" + id.NewULID(),
			MaxConns:    2,
			AutoMigrate: true,
		}
		idx, err := NewPGVectorIndex(context.Background(), opts, 3)
		require.NoError(t, err)
		t.Cleanup(func() {
			_, _ = idx.pool.Exec(context.Background(), "DROP TABLE IF EXISTS "+idx.table)
			_ = idx.Close(context.Background())
		})
		return idx
	})
}
