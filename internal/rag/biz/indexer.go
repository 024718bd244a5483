package biz

import (
	"context"
	"errors"
	"time"

	"github.com/kart-io/logger"

	"github.com/kart-io/sentinel-rag/internal/model"
	"github.com/kart-io/sentinel-rag/internal/pkg/rag/textutil"
	"github.com/kart-io/sentinel-rag/internal/rag/metrics"
	"github.com/kart-io/sentinel-rag/internal/rag/repo"
	"github.com/kart-io/sentinel-rag/internal/rag/store"
	ragopts "github.com/kart-io/sentinel-rag/pkg/options/rag"
	errs "github.com/kart-io/sentinel-rag/pkg/utils/errors"
	"github.com/kart-io/sentinel-rag/pkg/utils/id"
)

// IngestRequest 是一份已提取文本的文档。
type IngestRequest struct {
	AppID              string `json:"app_id" validate:"required,max=64"`
	DocumentID         string `json:"document_id" validate:"max=64"`
	ExternalID         string `json:"external_id" validate:"max=255"`
	Title              string `json:"title"`
	EmailID            string `json:"email_id"`
	AttachmentID       string `json:"attachment_id"`
	AttachmentFilename string `json:"attachment_filename"`
	Text               string `json:"text" validate:"notblank"`
}

// IngestResult 文档写入结果。Duplicate 表示 external_id 已导入过。
type IngestResult struct {
	DocumentID string `json:"document_id"`
	Chunks     int    `json:"chunks"`
	Duplicate  bool   `json:"duplicate"`
}

// IndexResult 一次待处理分块索引的统计。
type IndexResult struct {
	Processed int `json:"processed"`
	Completed int `json:"completed"`
	Failed    int `json:"failed"`
}

// Indexer 负责文档写入和待处理分块的嵌入索引。
type Indexer struct {
	repo      repo.Factory
	index     store.VectorIndex
	chunker   *Chunker
	embedder  *Embedder
	batchSize int
	pageSize  int
	metrics   *metrics.RAGMetrics
	now       func() time.Time
}

// NewIndexer creates an indexer.
func NewIndexer(factory repo.Factory, index store.VectorIndex, chunker *Chunker, embedder *Embedder, opts *ragopts.EmbeddingOptions, m *metrics.RAGMetrics) *Indexer {
	if opts == nil {
		opts = ragopts.NewOptions().Embedding
	}
	if m == nil {
		m = metrics.New()
	}
	batch := opts.IndexBatchSize
	if batch <= 0 {
		batch = 100
	}
	return &Indexer{
		repo:      factory,
		index:     index,
		chunker:   chunker,
		embedder:  embedder,
		batchSize: batch,
		pageSize:  batch * max(opts.Concurrency, 1),
		metrics:   m,
		now:       time.Now,
	}
}

// Ingest 切分文本并把分块以 pending 状态保存。
// 同一租户下重复的 ExternalID 直接返回已有文档，不会重新切分。
func (ix *Indexer) Ingest(ctx context.Context, req *IngestRequest) (*IngestResult, error) {
	if req.AppID == "" {
		return nil, newValidationError("app_id", -1, errs.ErrRAGInvalidRequest, "app_id is required")
	}
	if textutil.IsBlank(req.Text) {
		return nil, newValidationError("text", -1, errs.ErrRAGInvalidRequest, "text cannot be empty")
	}

	var key string
	if req.ExternalID != "" {
		key = model.IdempotencyKey(req.AppID, req.ExternalID)
		if res, err := ix.existing(ctx, key); err != nil || res != nil {
			return res, err
		}
	}

	docID := req.DocumentID
	if docID == "" {
		docID = id.NewULID()
	}
	pieces := ix.chunker.Chunk(req.Text)

	doc := &model.Document{
		ID:                 docID,
		AppID:              req.AppID,
		ExternalID:         req.ExternalID,
		EmailID:            req.EmailID,
		Title:              req.Title,
		AttachmentID:       req.AttachmentID,
		AttachmentFilename: req.AttachmentFilename,
		ChunkNum:           len(pieces),
	}
	chunks := make([]*model.Chunk, len(pieces))
	for i, p := range pieces {
		chunks[i] = &model.Chunk{
			ID:                 id.NewULID(),
			DocumentID:         docID,
			AppID:              req.AppID,
			Ordinal:            p.Index,
			Content:            p.Content,
			TokenCount:         p.TokenCount,
			CharCount:          p.CharCount,
			Status:             model.ChunkPending,
			EmailID:            req.EmailID,
			EmailSubject:       req.Title,
			AttachmentID:       req.AttachmentID,
			AttachmentFilename: req.AttachmentFilename,
		}
	}

	var rec *model.IdempotencyRecord
	if key != "" {
		rec = &model.IdempotencyRecord{Key: key, AppID: req.AppID, ExternalID: req.ExternalID, DocumentID: docID}
	}
	if err := ix.repo.Documents().Create(ctx, rec, doc, chunks); err != nil {
		if errors.Is(err, repo.ErrDuplicate) {
			// 并发写入同一 external_id，输掉的一方读取胜者的记录
			return ix.existing(ctx, key)
		}
		return nil, fatal(OpStore, err)
	}

	ix.metrics.RecordIngest(false)
	logger.Infow("document ingested",
		"app_id", req.AppID,
		"document_id", docID,
		"external_id", req.ExternalID,
		"chunks", len(chunks),
	)
	return &IngestResult{DocumentID: docID, Chunks: len(chunks)}, nil
}

func (ix *Indexer) existing(ctx context.Context, key string) (*IngestResult, error) {
	rec, err := ix.repo.Documents().GetIdempotency(ctx, key)
	if errors.Is(err, repo.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fatal(OpStore, err)
	}

	res := &IngestResult{DocumentID: rec.DocumentID, Duplicate: true}
	if doc, err := ix.repo.Documents().Get(ctx, rec.DocumentID); err == nil {
		res.Chunks = doc.ChunkNum
	}
	ix.metrics.RecordIngest(true)
	logger.Infow("document already ingested", "key", key, "document_id", rec.DocumentID)
	return res, nil
}

// ProcessPending 索引所有 pending 分块。
//
// 每页分块按 batchSize 拆成子批次并发嵌入，子批次失败只把其中的分块标记为 failed。
// 已完成的分块不会再被读取，重复调用是安全的。
func (ix *Indexer) ProcessPending(ctx context.Context) (*IndexResult, error) {
	result := &IndexResult{}
	cursor := ""

	for {
		page, err := ix.repo.Chunks().ListPending(ctx, cursor, ix.pageSize)
		if err != nil {
			return result, fatal(OpStore, err)
		}
		if len(page) == 0 {
			break
		}
		cursor = page[len(page)-1].ID

		completed, failed, err := ix.processPage(ctx, page)
		result.Processed += len(page)
		result.Completed += completed
		result.Failed += failed
		if err != nil {
			ix.metrics.RecordIndexing(result.Completed, result.Failed)
			return result, err
		}
	}

	ix.metrics.RecordIndexing(result.Completed, result.Failed)
	logger.Infow("pending chunks processed",
		"pending", result.Processed,
		"completed", result.Completed,
		"failed", result.Failed,
	)
	return result, nil
}

func (ix *Indexer) processPage(ctx context.Context, page []*model.Chunk) (completed, failed int, err error) {
	chunks := make([]*model.Chunk, 0, len(page))
	for _, c := range page {
		if verr := ix.embedder.Validate([]string{c.Content}); verr != nil {
			if err := ix.repo.Chunks().MarkFailed(ctx, []string{c.ID}, verr.Error()); err != nil {
				return completed, failed, fatal(OpStore, err)
			}
			failed++
			continue
		}
		chunks = append(chunks, c)
	}
	if len(chunks) == 0 {
		return completed, failed, nil
	}

	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Content
	}
	results, err := ix.embedder.EmbedInBatches(ctx, texts, ix.batchSize)
	if err != nil {
		return completed, failed, err
	}

	for _, r := range results {
		batch := chunks[r.Start:r.End]
		done, batchErr := 0, r.Err
		if batchErr == nil {
			done, batchErr = ix.upsert(ctx, batch, r.Vectors)
		}
		completed += done
		if batchErr != nil {
			rest := batch[done:]
			logger.Warnw("sub-batch failed", "chunks", len(rest), "error", batchErr.Error())
			if err := ix.markFailed(ctx, rest, batchErr); err != nil {
				return completed, failed, err
			}
			failed += len(rest)
		}
	}
	return completed, failed, nil
}

// markFailed 先移除这些分块可能已写入的向量，再标记 failed，
// 保证 failed 分块既没有 embedding 也不会被检索到。
func (ix *Indexer) markFailed(ctx context.Context, batch []*model.Chunk, cause error) error {
	byTenant := make(map[string][]string)
	ids := make([]string, len(batch))
	for i, c := range batch {
		ids[i] = c.ID
		byTenant[c.AppID] = append(byTenant[c.AppID], c.ID)
	}
	for tenant, tids := range byTenant {
		if err := ix.index.Delete(ctx, tenant, tids); err != nil {
			return fatal(OpIndex, err)
		}
	}
	if err := ix.repo.Chunks().MarkFailed(ctx, ids, cause.Error()); err != nil {
		return fatal(OpStore, err)
	}
	return nil
}

// upsert 写入向量并逐个标记 completed，返回成功标记的分块数。
func (ix *Indexer) upsert(ctx context.Context, batch []*model.Chunk, vectors [][]float32) (int, error) {
	at := ix.now().UTC()
	entries := make([]store.IndexEntry, len(batch))
	for i, c := range batch {
		entries[i] = store.IndexEntry{
			ChunkID:    c.ID,
			DocumentID: c.DocumentID,
			TenantID:   c.AppID,
			Ordinal:    c.Ordinal,
			Content:    c.Content,
			Embedding:  vectors[i],
			IndexedAt:  at,
			Metadata:   c.Metadata(),
		}
	}
	if err := ix.index.Upsert(ctx, entries); err != nil {
		return 0, fatal(OpIndex, err)
	}

	for i, c := range batch {
		if err := ix.repo.Chunks().MarkCompleted(ctx, c.ID, vectors[i], at); err != nil {
			return i, fatal(OpStore, err)
		}
	}
	return len(batch), nil
}
