package store

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"strconv"
	"sync"
	"time"

	"github.com/philippgille/chromem-go"

	storeopts "github.com/kart-io/sentinel-rag/pkg/options/store"
)

// chromem 元数据中的保留键。
const (
	chromemKeyDocumentID = "_document_id"
	chromemKeyTenantID   = "_tenant_id"
	chromemKeyOrdinal    = "_ordinal"
	chromemKeyIndexedAt  = "_indexed_at"
)

var errPrecomputedOnly = errors.New("chromem index accepts precomputed embeddings only")

// ChromemIndex 基于 chromem-go 的嵌入式向量索引，每个租户一个集合。
type ChromemIndex struct {
	db     *chromem.DB
	prefix string
	dim    int

	mu          sync.Mutex
	collections map[string]*chromem.Collection
}

var _ VectorIndex = (*ChromemIndex)(nil)

// NewChromemIndex opens a persistent DB when opts.Path is set, otherwise an in-memory one.
func NewChromemIndex(opts *storeopts.ChromemOptions, dim int) (*ChromemIndex, error) {
	var (
		db  *chromem.DB
		err error
	)
	if opts.Path == "" {
		db = chromem.NewDB()
	} else {
		db, err = chromem.NewPersistentDB(opts.Path, opts.Compress)
		if err != nil {
			return nil, fmt.Errorf("failed to open chromem db: %w", err)
		}
	}
	return &ChromemIndex{
		db:          db,
		prefix:      opts.Collection,
		dim:         dim,
		collections: make(map[string]*chromem.Collection),
	}, nil
}

func (c *ChromemIndex) collection(tenantID string) (*chromem.Collection, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if coll, ok := c.collections[tenantID]; ok {
		return coll, nil
	}
	// 向量总是预先计算好，查询文本永远不会被嵌入
	noEmbed := func(context.Context, string) ([]float32, error) { return nil, errPrecomputedOnly }
	coll, err := c.db.GetOrCreateCollection(c.prefix+"_"+tenantID, map[string]string{"tenant_id": tenantID}, noEmbed)
	if err != nil {
		return nil, fmt.Errorf("failed to create/get collection: %w", err)
	}
	c.collections[tenantID] = coll
	return coll, nil
}

// Upsert writes entries grouped by tenant.
func (c *ChromemIndex) Upsert(ctx context.Context, entries []IndexEntry) error {
	byTenant := make(map[string][]chromem.Document)
	for _, e := range entries {
		if err := checkDimension(c.dim, e.Embedding); err != nil {
			return fmt.Errorf("chunk %s: %w", e.ChunkID, err)
		}
		meta := copyMetadata(e.Metadata)
		if meta == nil {
			meta = make(map[string]string, 4)
		}
		meta[chromemKeyDocumentID] = e.DocumentID
		meta[chromemKeyTenantID] = e.TenantID
		meta[chromemKeyOrdinal] = strconv.Itoa(e.Ordinal)
		meta[chromemKeyIndexedAt] = e.IndexedAt.UTC().Format(time.RFC3339Nano)

		vec := make([]float32, len(e.Embedding))
		copy(vec, e.Embedding)
		byTenant[e.TenantID] = append(byTenant[e.TenantID], chromem.Document{
			ID:        e.ChunkID,
			Content:   e.Content,
			Metadata:  meta,
			Embedding: vec,
		})
	}

	for tenant, docs := range byTenant {
		coll, err := c.collection(tenant)
		if err != nil {
			return err
		}
		if err := coll.AddDocuments(ctx, docs, runtime.NumCPU()); err != nil {
			return fmt.Errorf("failed to add documents: %w", err)
		}
	}
	return nil
}

// Query searches the tenant's collection.
func (c *ChromemIndex) Query(ctx context.Context, p QueryParams) ([]ScoredChunk, error) {
	if err := checkDimension(c.dim, p.Embedding); err != nil {
		return nil, err
	}
	coll, err := c.collection(p.TenantID)
	if err != nil {
		return nil, err
	}

	// chromem 要求 nResults 不超过集合文档数
	n := p.TopK
	if total := coll.Count(); n <= 0 || n > total {
		n = total
	}
	if n == 0 {
		return []ScoredChunk{}, nil
	}

	vec := make([]float32, len(p.Embedding))
	copy(vec, p.Embedding)
	res, err := coll.QueryWithOptions(ctx, chromem.QueryOptions{
		QueryEmbedding: vec,
		NResults:       n,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to query by similarity: %w", err)
	}

	hits := make([]ScoredChunk, 0, len(res))
	for _, r := range res {
		hits = append(hits, fromChromem(r))
	}
	return Rank(hits, p.TenantID, p.TopK, p.Threshold), nil
}

func fromChromem(r chromem.Result) ScoredChunk {
	meta := make(map[string]string, len(r.Metadata))
	for k, v := range r.Metadata {
		meta[k] = v
	}
	hit := ScoredChunk{
		IndexEntry: IndexEntry{
			ChunkID:    r.ID,
			DocumentID: meta[chromemKeyDocumentID],
			TenantID:   meta[chromemKeyTenantID],
			Content:    r.Content,
		},
		Similarity: clampSimilarity(float64(r.Similarity)),
	}
	hit.Ordinal, _ = strconv.Atoi(meta[chromemKeyOrdinal])
	hit.IndexedAt, _ = time.Parse(time.RFC3339Nano, meta[chromemKeyIndexedAt])
	for _, k := range []string{chromemKeyDocumentID, chromemKeyTenantID, chromemKeyOrdinal, chromemKeyIndexedAt} {
		delete(meta, k)
	}
	hit.Metadata = meta
	return hit
}

// Delete removes chunks from the tenant's collection.
func (c *ChromemIndex) Delete(ctx context.Context, tenantID string, chunkIDs []string) error {
	if len(chunkIDs) == 0 {
		return nil
	}
	coll, err := c.collection(tenantID)
	if err != nil {
		return err
	}
	if err := coll.Delete(ctx, nil, nil, chunkIDs...); err != nil {
		return fmt.Errorf("failed to delete documents: %w", err)
	}
	return nil
}

// Count returns the size of the tenant's collection.
func (c *ChromemIndex) Count(_ context.Context, tenantID string) (int, error) {
	coll, err := c.collection(tenantID)
	if err != nil {
		return 0, err
	}
	return coll.Count(), nil
}

// Close is a no-op; persistent chromem writes every document on add.
func (c *ChromemIndex) Close(context.Context) error { return nil }
