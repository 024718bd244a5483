package store

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/milvus-io/milvus/client/v2/entity"

	"github.com/kart-io/sentinel-rag/internal/model"
	"github.com/kart-io/sentinel-rag/pkg/component/milvus"
)

// Milvus 集合中的标量字段。
const (
	fieldDocumentID = "document_id"
	fieldTenantID   = "tenant_id"
	fieldContent    = "content"
	fieldOrdinal    = "ordinal"
	fieldIndexedAt  = "indexed_at"
)

// milvusMetaKeys 是随向量保存的可选元数据列。
var milvusMetaKeys = []string{
	model.MetaEmailID,
	model.MetaEmailSubject,
	model.MetaAttachmentID,
	model.MetaAttachmentFilename,
}

// milvusClient 是 MilvusIndex 依赖的客户端方法子集。
type milvusClient interface {
	EnsureCollection(ctx context.Context, schema *milvus.CollectionSchema) error
	Upsert(ctx context.Context, collection string, rows *milvus.Rows) error
	Search(ctx context.Context, collection string, vector []float32, topK int, filter string, outputFields []string) ([]milvus.SearchResult, error)
	Delete(ctx context.Context, collection, filter string) error
	Count(ctx context.Context, collection, filter string) (int64, error)
	Close(ctx context.Context) error
}

// MilvusIndex 实现基于 Milvus 的向量索引，租户通过 tenant_id 过滤隔离。
type MilvusIndex struct {
	client     milvusClient
	collection string
	dim        int
}

var _ VectorIndex = (*MilvusIndex)(nil)

// NewMilvusIndex ensures the collection exists and returns the index.
func NewMilvusIndex(ctx context.Context, client *milvus.Client, collection string, dim int) (*MilvusIndex, error) {
	return newMilvusIndex(ctx, client, collection, dim)
}

func newMilvusIndex(ctx context.Context, client milvusClient, collection string, dim int) (*MilvusIndex, error) {
	schema := &milvus.CollectionSchema{
		Name:        collection,
		Description: "RAG chunk vectors",
		Dimension:   dim,
		MetaFields: []milvus.MetaField{
			{Name: fieldDocumentID, DataType: entity.FieldTypeVarChar, MaxLen: 64},
			{Name: fieldTenantID, DataType: entity.FieldTypeVarChar, MaxLen: 64},
			{Name: fieldContent, DataType: entity.FieldTypeVarChar, MaxLen: 65535},
			{Name: fieldOrdinal, DataType: entity.FieldTypeInt64},
			{Name: fieldIndexedAt, DataType: entity.FieldTypeInt64},
		},
	}
	for _, k := range milvusMetaKeys {
		schema.MetaFields = append(schema.MetaFields, milvus.MetaField{Name: k, DataType: entity.FieldTypeVarChar, MaxLen: 512})
	}
	if err := client.EnsureCollection(ctx, schema); err != nil {
		return nil, fmt.Errorf("failed to ensure milvus collection: %w", err)
	}
	return &MilvusIndex{client: client, collection: collection, dim: dim}, nil
}

// Upsert writes entries as one column batch.
func (s *MilvusIndex) Upsert(ctx context.Context, entries []IndexEntry) error {
	if len(entries) == 0 {
		return nil
	}

	n := len(entries)
	rows := &milvus.Rows{
		IDs:        make([]string, n),
		Embeddings: make([][]float32, n),
		VarChars: map[string][]string{
			fieldDocumentID: make([]string, n),
			fieldTenantID:   make([]string, n),
			fieldContent:    make([]string, n),
		},
		Int64s: map[string][]int64{
			fieldOrdinal:   make([]int64, n),
			fieldIndexedAt: make([]int64, n),
		},
	}
	for _, k := range milvusMetaKeys {
		rows.VarChars[k] = make([]string, n)
	}

	for i, e := range entries {
		if err := checkDimension(s.dim, e.Embedding); err != nil {
			return fmt.Errorf("chunk %s: %w", e.ChunkID, err)
		}
		rows.IDs[i] = e.ChunkID
		rows.Embeddings[i] = e.Embedding
		rows.VarChars[fieldDocumentID][i] = e.DocumentID
		rows.VarChars[fieldTenantID][i] = e.TenantID
		rows.VarChars[fieldContent][i] = e.Content
		rows.Int64s[fieldOrdinal][i] = int64(e.Ordinal)
		rows.Int64s[fieldIndexedAt][i] = e.IndexedAt.UnixNano()
		for _, k := range milvusMetaKeys {
			rows.VarChars[k][i] = e.Metadata[k]
		}
	}

	if err := s.client.Upsert(ctx, s.collection, rows); err != nil {
		return fmt.Errorf("failed to upsert into milvus: %w", err)
	}
	return nil
}

// Query runs a filtered ANN search. COSINE scores are similarities.
func (s *MilvusIndex) Query(ctx context.Context, p QueryParams) ([]ScoredChunk, error) {
	if err := checkDimension(s.dim, p.Embedding); err != nil {
		return nil, err
	}

	outputFields := append([]string{fieldDocumentID, fieldTenantID, fieldContent, fieldOrdinal, fieldIndexedAt}, milvusMetaKeys...)
	results, err := s.client.Search(ctx, s.collection, p.Embedding, p.TopK, tenantFilter(p.TenantID), outputFields)
	if err != nil {
		return nil, fmt.Errorf("failed to search milvus: %w", err)
	}

	hits := make([]ScoredChunk, 0, len(results))
	for _, r := range results {
		hits = append(hits, fromMilvus(r))
	}
	return Rank(hits, p.TenantID, p.TopK, p.Threshold), nil
}

func fromMilvus(r milvus.SearchResult) ScoredChunk {
	str := func(k string) string {
		v, _ := r.Metadata[k].(string)
		return v
	}
	num := func(k string) int64 {
		v, _ := r.Metadata[k].(int64)
		return v
	}

	hit := ScoredChunk{
		IndexEntry: IndexEntry{
			ChunkID:    r.ID,
			DocumentID: str(fieldDocumentID),
			TenantID:   str(fieldTenantID),
			Ordinal:    int(num(fieldOrdinal)),
			Content:    str(fieldContent),
			Metadata:   make(map[string]string),
		},
		Similarity: clampSimilarity(float64(r.Score)),
	}
	if ns := num(fieldIndexedAt); ns > 0 {
		hit.IndexedAt = time.Unix(0, ns).UTC()
	}
	for _, k := range milvusMetaKeys {
		if v := str(k); v != "" {
			hit.Metadata[k] = v
		}
	}
	return hit
}

// Delete removes chunks of the tenant.
func (s *MilvusIndex) Delete(ctx context.Context, tenantID string, chunkIDs []string) error {
	if len(chunkIDs) == 0 {
		return nil
	}
	quoted := make([]string, len(chunkIDs))
	for i, id := range chunkIDs {
		quoted[i] = quote(id)
	}
	filter := fmt.Sprintf("%s && %s in [%s]", tenantFilter(tenantID), milvus.FieldID, strings.Join(quoted, ", "))
	return s.client.Delete(ctx, s.collection, filter)
}

// Count returns the number of chunks of the tenant.
func (s *MilvusIndex) Count(ctx context.Context, tenantID string) (int, error) {
	n, err := s.client.Count(ctx, s.collection, tenantFilter(tenantID))
	return int(n), err
}

// Close closes the Milvus client.
func (s *MilvusIndex) Close(ctx context.Context) error {
	return s.client.Close(ctx)
}

func tenantFilter(tenantID string) string {
	return fieldTenantID + " == " + quote(tenantID)
}

// quote 生成 Milvus 表达式中的字符串字面量。
func quote(s string) string {
	return strconv.Quote(s)
}
