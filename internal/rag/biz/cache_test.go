package biz

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kart-io/sentinel-rag/pkg/utils/id"
)

func TestAnswerCacheKeyVariesWithParameters(t *testing.T) {
	c := NewAnswerCache(nil, &AnswerCacheConfig{Enabled: true, TTL: time.Minute, KeyPrefix: "rag:"})

	base := c.Key("app-1", "what?", 5, 0, FormatText, true)
	assert.Regexp(t, `^rag:answer:[0-9a-f]{64}$`, base)
	assert.Equal(t, base, c.Key("app-1", "what?", 5, 0, FormatText, true))
	assert.NotEqual(t, base, c.Key("app-2", "what?", 5, 0, FormatText, true))
	assert.NotEqual(t, base, c.Key("app-1", "what?", 6, 0, FormatText, true))
	assert.NotEqual(t, base, c.Key("app-1", "what?", 5, 0.5, FormatText, true))
	assert.NotEqual(t, base, c.Key("app-1", "what?", 5, 0, FormatHTML, true))
	assert.NotEqual(t, base, c.Key("app-1", "what?", 5, 0, FormatText, false))
}

func TestAnswerCacheDisabledIsNoop(t *testing.T) {
	c := NewAnswerCache(nil, nil)
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "k", &QueryResult{QueryID: "q"}))
	assert.Nil(t, c.Get(ctx, "k"))
	n, err := c.Clear(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestAnswerCacheRoundTrip(t *testing.T) {
	client := newTestRedis(t)
	prefix := "rag-test-" + id.NewULID() + ":"
	c := NewAnswerCache(client, &AnswerCacheConfig{Enabled: true, TTL: time.Minute, KeyPrefix: prefix})
	ctx := context.Background()

	key := c.Key("app-1", "what?", 5, 0, FormatText, true)
	assert.Nil(t, c.Get(ctx, key))

	want := &QueryResult{QueryID: "q-1", Answer: "ok [1]", Status: "completed", Sources: []SourceRef{{CitationNumber: 1, ChunkID: "c1"}}}
	require.NoError(t, c.Set(ctx, key, want))

	got := c.Get(ctx, key)
	require.NotNil(t, got)
	assert.Equal(t, "q-1", got.QueryID)
	assert.Equal(t, "c1", got.Sources[0].ChunkID)

	// 损坏的缓存视为未命中并被删除
	require.NoError(t, client.Set(ctx, key, "{not json", time.Minute).Err())
	assert.Nil(t, c.Get(ctx, key))
	assert.Zero(t, client.Exists(ctx, key).Val())

	require.NoError(t, c.Set(ctx, key, want))
	n, err := c.Clear(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestQueryServesFromCache(t *testing.T) {
	client := newTestRedis(t)
	chat := &fakeChat{reply: "cached [Source 1]"}
	fx := newServiceFixture(t, chat, nil)
	prefix := "rag-test-" + id.NewULID() + ":"
	fx.svc.cache = NewAnswerCache(client, &AnswerCacheConfig{Enabled: true, TTL: time.Minute, KeyPrefix: prefix})
	t.Cleanup(func() { _, _ = fx.svc.cache.Clear(context.Background()) })
	ctx := context.Background()

	first, err := fx.svc.Query(ctx, &QueryRequest{AppID: "app-1", Query: "alpha?"})
	require.NoError(t, err)
	second, err := fx.svc.Query(ctx, &QueryRequest{AppID: "app-1", Query: "alpha?"})
	require.NoError(t, err)

	assert.Equal(t, first.QueryID, second.QueryID)
	assert.Equal(t, int32(1), chat.calls.Load())

	// 带 conversation_id 的请求不走缓存
	_, err = fx.svc.Query(ctx, &QueryRequest{AppID: "app-1", Query: "alpha?", ConversationID: "c"})
	require.NoError(t, err)
	assert.Equal(t, int32(2), chat.calls.Load())
}
