package biz

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kart-io/sentinel-rag/internal/model"
	"github.com/kart-io/sentinel-rag/internal/rag/repo"
	"github.com/kart-io/sentinel-rag/internal/rag/store"
	"github.com/kart-io/sentinel-rag/pkg/component/database"
	ragopts "github.com/kart-io/sentinel-rag/pkg/options/rag"
)

const threeSentences = "Alpha one. Bravo two. Charlie boom three."

func newTestFactory(t *testing.T) repo.Factory {
	t.Helper()
	client, err := database.NewMemory(context.Background())
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	f := repo.NewFactory(client.DB())
	require.NoError(t, f.AutoMigrate())
	return f
}

// 每句一个分块
func testChunkingOptions() *ragopts.ChunkingOptions {
	return &ragopts.ChunkingOptions{ChunkSize: 4, PreserveSentences: true}
}

type indexerFixture struct {
	indexer  *Indexer
	factory  repo.Factory
	index    *store.MemoryIndex
	provider *fakeEmbedder
}

func newIndexerFixture(t *testing.T, provider *fakeEmbedder, batchSize int) *indexerFixture {
	t.Helper()
	f := newTestFactory(t)
	idx := store.NewMemoryIndex(testDim)
	opts := testEmbeddingOptions()
	opts.IndexBatchSize = batchSize
	embedder := NewEmbedder(provider, opts, nil, nil)
	return &indexerFixture{
		indexer:  NewIndexer(f, idx, NewChunker(testChunkingOptions()), embedder, opts, nil),
		factory:  f,
		index:    idx,
		provider: provider,
	}
}

func TestIngestAndProcessPending(t *testing.T) {
	fx := newIndexerFixture(t, &fakeEmbedder{}, 100)
	ctx := context.Background()

	res, err := fx.indexer.Ingest(ctx, &IngestRequest{
		AppID:      "app-1",
		ExternalID: "msg-1",
		Title:      "Quote",
		EmailID:    "email-1",
		Text:       threeSentences,
	})
	require.NoError(t, err)
	assert.False(t, res.Duplicate)
	assert.Equal(t, 3, res.Chunks)

	chunks, err := fx.factory.Chunks().ListByDocument(ctx, res.DocumentID)
	require.NoError(t, err)
	require.Len(t, chunks, 3)
	assert.Equal(t, "Alpha one.", chunks[0].Content)
	assert.Equal(t, "Quote", chunks[0].EmailSubject)
	assert.Equal(t, model.ChunkPending, chunks[0].Status)

	out, err := fx.indexer.ProcessPending(ctx)
	require.NoError(t, err)
	assert.Equal(t, &IndexResult{Processed: 3, Completed: 3}, out)

	n, err := fx.index.Count(ctx, "app-1")
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	chunks, err = fx.factory.Chunks().ListByDocument(ctx, res.DocumentID)
	require.NoError(t, err)
	for _, c := range chunks {
		assert.Equal(t, model.ChunkCompleted, c.Status)
		assert.Len(t, c.Embedding, testDim)
		assert.NotNil(t, c.IndexedAt)
	}

	// 没有 pending 分块时不会调用供应商
	calls := fx.provider.calls.Load()
	out, err = fx.indexer.ProcessPending(ctx)
	require.NoError(t, err)
	assert.Zero(t, out.Processed)
	assert.Equal(t, calls, fx.provider.calls.Load())
}

func TestIngestDuplicateExternalID(t *testing.T) {
	fx := newIndexerFixture(t, &fakeEmbedder{}, 100)
	ctx := context.Background()
	req := &IngestRequest{AppID: "app-1", ExternalID: "msg-1", Text: threeSentences}

	first, err := fx.indexer.Ingest(ctx, req)
	require.NoError(t, err)
	second, err := fx.indexer.Ingest(ctx, req)
	require.NoError(t, err)

	assert.True(t, second.Duplicate)
	assert.Equal(t, first.DocumentID, second.DocumentID)
	assert.Equal(t, 3, second.Chunks)

	counts, err := fx.factory.Chunks().CountByStatus(ctx, "app-1")
	require.NoError(t, err)
	assert.Equal(t, int64(3), counts[model.ChunkPending])

	// 相同 external_id 在其他租户下是新文档
	other, err := fx.indexer.Ingest(ctx, &IngestRequest{AppID: "app-2", ExternalID: "msg-1", Text: threeSentences})
	require.NoError(t, err)
	assert.False(t, other.Duplicate)
	assert.NotEqual(t, first.DocumentID, other.DocumentID)
}

func TestIngestValidation(t *testing.T) {
	fx := newIndexerFixture(t, &fakeEmbedder{}, 100)

	_, err := fx.indexer.Ingest(context.Background(), &IngestRequest{AppID: "app-1", Text: "  \n "})
	assert.True(t, IsValidation(err))

	_, err = fx.indexer.Ingest(context.Background(), &IngestRequest{Text: "hello."})
	assert.True(t, IsValidation(err))
}

func TestProcessPendingIsolatesFailedSubBatch(t *testing.T) {
	fx := newIndexerFixture(t, &fakeEmbedder{failOn: "boom"}, 1)
	ctx := context.Background()

	res, err := fx.indexer.Ingest(ctx, &IngestRequest{AppID: "app-1", Text: threeSentences})
	require.NoError(t, err)

	out, err := fx.indexer.ProcessPending(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, out.Processed)
	assert.Equal(t, 2, out.Completed)
	assert.Equal(t, 1, out.Failed)

	chunks, err := fx.factory.Chunks().ListByDocument(ctx, res.DocumentID)
	require.NoError(t, err)
	assert.Equal(t, model.ChunkCompleted, chunks[0].Status)
	assert.Equal(t, model.ChunkCompleted, chunks[1].Status)
	assert.Equal(t, model.ChunkFailed, chunks[2].Status)
	assert.NotEmpty(t, chunks[2].Error)

	n, err := fx.index.Count(ctx, "app-1")
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestProcessPendingMarksInvalidChunkFailed(t *testing.T) {
	fx := newIndexerFixture(t, &fakeEmbedder{}, 100)
	fx.indexer.embedder.opts.MaxTextLength = 12
	ctx := context.Background()

	_, err := fx.indexer.Ingest(ctx, &IngestRequest{AppID: "app-1", Text: threeSentences})
	require.NoError(t, err)

	out, err := fx.indexer.ProcessPending(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, out.Completed)
	assert.Equal(t, 1, out.Failed)
}

func TestProcessPendingFailuresDoNotRejectHealthySubBatches(t *testing.T) {
	fx := newIndexerFixture(t, &fakeEmbedder{failOn: "boom"}, 1)
	ctx := context.Background()

	res, err := fx.indexer.Ingest(ctx, &IngestRequest{
		AppID: "app-1",
		Text:  "Alpha one. Bravo boom. Charlie boom. Delta four. Echo five.",
	})
	require.NoError(t, err)
	require.Equal(t, 5, res.Chunks)

	out, err := fx.indexer.ProcessPending(ctx)
	require.NoError(t, err)
	assert.Equal(t, &IndexResult{Processed: 5, Completed: 3, Failed: 2}, out)
	// 两个失败子批次各重试 3 次，健康子批次各调用一次
	assert.Equal(t, int32(9), fx.provider.calls.Load())

	chunks, err := fx.factory.Chunks().ListByDocument(ctx, res.DocumentID)
	require.NoError(t, err)
	want := []model.ChunkStatus{
		model.ChunkCompleted, model.ChunkFailed, model.ChunkFailed, model.ChunkCompleted, model.ChunkCompleted,
	}
	for i, c := range chunks {
		assert.Equal(t, want[i], c.Status, "chunk %d", i)
	}
}

// flakyChunks 在第 failAt 次 MarkCompleted 时返回错误。
type flakyChunks struct {
	repo.ChunkStore
	failAt int
	calls  int
}

func (f *flakyChunks) MarkCompleted(ctx context.Context, id string, embedding []float32, at time.Time) error {
	f.calls++
	if f.calls == f.failAt {
		return errors.New("database is locked")
	}
	return f.ChunkStore.MarkCompleted(ctx, id, embedding, at)
}

type flakyFactory struct {
	repo.Factory
	chunks *flakyChunks
}

func (f *flakyFactory) Chunks() repo.ChunkStore { return f.chunks }

func TestProcessPendingStatusWriteFailureKeepsEmbeddingIffCompleted(t *testing.T) {
	fx := newIndexerFixture(t, &fakeEmbedder{}, 100)
	ctx := context.Background()
	fx.indexer.repo = &flakyFactory{Factory: fx.factory, chunks: &flakyChunks{ChunkStore: fx.factory.Chunks(), failAt: 2}}

	res, err := fx.indexer.Ingest(ctx, &IngestRequest{AppID: "app-1", Text: threeSentences})
	require.NoError(t, err)

	out, err := fx.indexer.ProcessPending(ctx)
	require.NoError(t, err)
	assert.Equal(t, &IndexResult{Processed: 3, Completed: 1, Failed: 2}, out)

	chunks, err := fx.factory.Chunks().ListByDocument(ctx, res.DocumentID)
	require.NoError(t, err)
	assert.Equal(t, model.ChunkCompleted, chunks[0].Status)
	assert.Len(t, chunks[0].Embedding, testDim)
	for _, c := range chunks[1:] {
		assert.Equal(t, model.ChunkFailed, c.Status)
		assert.Empty(t, c.Embedding)
	}

	n, err := fx.index.Count(ctx, "app-1")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}
