package store

import (
	"context"
	"fmt"
	"sync"

	"github.com/kart-io/sentinel-rag/internal/pkg/rag/textutil"
)

// MemoryIndex 是进程内暴力检索的向量索引，适合测试和小规模部署。
type MemoryIndex struct {
	dim int

	mu      sync.RWMutex
	tenants map[string]map[string]IndexEntry
}

var _ VectorIndex = (*MemoryIndex)(nil)

// NewMemoryIndex creates an empty in-memory index. dim 0 disables the dimension check.
func NewMemoryIndex(dim int) *MemoryIndex {
	return &MemoryIndex{
		dim:     dim,
		tenants: make(map[string]map[string]IndexEntry),
	}
}

// Upsert stores entries, replacing any with the same chunk id.
func (m *MemoryIndex) Upsert(_ context.Context, entries []IndexEntry) error {
	for i := range entries {
		if err := checkDimension(m.dim, entries[i].Embedding); err != nil {
			return fmt.Errorf("chunk %s: %w", entries[i].ChunkID, err)
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	for _, e := range entries {
		byID, ok := m.tenants[e.TenantID]
		if !ok {
			byID = make(map[string]IndexEntry)
			m.tenants[e.TenantID] = byID
		}
		vec := make([]float32, len(e.Embedding))
		copy(vec, e.Embedding)
		e.Embedding = vec
		e.Metadata = copyMetadata(e.Metadata)
		byID[e.ChunkID] = e
	}
	return nil
}

// Query scans every vector of the tenant.
func (m *MemoryIndex) Query(ctx context.Context, p QueryParams) ([]ScoredChunk, error) {
	if err := checkDimension(m.dim, p.Embedding); err != nil {
		return nil, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	byID := m.tenants[p.TenantID]
	results := make([]ScoredChunk, 0, len(byID))
	for _, e := range byID {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		hit := ScoredChunk{
			IndexEntry: e,
			Similarity: clampSimilarity(textutil.CosineSimilarity(p.Embedding, e.Embedding)),
		}
		hit.Embedding = nil
		results = append(results, hit)
	}
	return Rank(results, p.TenantID, p.TopK, p.Threshold), nil
}

// Delete removes chunks of the tenant. Unknown ids are ignored.
func (m *MemoryIndex) Delete(_ context.Context, tenantID string, chunkIDs []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, id := range chunkIDs {
		delete(m.tenants[tenantID], id)
	}
	return nil
}

// Count returns the number of chunks of the tenant.
func (m *MemoryIndex) Count(_ context.Context, tenantID string) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.tenants[tenantID]), nil
}

// Close is a no-op.
func (m *MemoryIndex) Close(context.Context) error { return nil }
