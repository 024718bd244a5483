package biz

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kart-io/sentinel-rag/internal/model"
	"github.com/kart-io/sentinel-rag/internal/rag/repo"
	rediscomp "github.com/kart-io/sentinel-rag/pkg/component/redis"
	redisopts "github.com/kart-io/sentinel-rag/pkg/options/redis"
	"github.com/kart-io/sentinel-rag/pkg/utils/id"
)

// newTestRedis 连接本地 redis 的 15 号库，不可用时跳过。
func newTestRedis(t *testing.T) goredis.Cmdable {
	t.Helper()
	opts := redisopts.NewOptions()
	opts.Enabled = true
	opts.Database = 15
	opts.DialTimeout = 200 * time.Millisecond

	c, err := rediscomp.New(context.Background(), opts)
	if err != nil {
		t.Skipf("redis not available: %v", err)
	}
	t.Cleanup(func() { _ = c.Close() })
	return c.Client()
}

func appendTurns(t *testing.T, h HistoryStore, conv string, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		require.NoError(t, h.Append(context.Background(), &model.ConversationTurn{
			ConversationID: conv,
			AppID:          "app-1",
			Question:       fmt.Sprintf("q%d", i),
			Answer:         fmt.Sprintf("a%d", i),
		}))
	}
}

func assertRecent(t *testing.T, h HistoryStore) {
	t.Helper()
	ctx := context.Background()

	turns, err := h.Recent(ctx, "app-1", "conv-1", 2)
	require.NoError(t, err)
	require.Len(t, turns, 2)
	assert.Equal(t, "q2", turns[0].Question)
	assert.Equal(t, "q3", turns[1].Question)

	turns, err = h.Recent(ctx, "app-1", "missing", 3)
	require.NoError(t, err)
	assert.Empty(t, turns)

	turns, err = h.Recent(ctx, "app-1", "conv-1", 0)
	require.NoError(t, err)
	assert.Empty(t, turns)

	// 同一 conversation_id 在不同租户下是不同线程
	turns, err = h.Recent(ctx, "app-2", "conv-1", 3)
	require.NoError(t, err)
	assert.Empty(t, turns)

	require.NoError(t, h.Append(ctx, &model.ConversationTurn{
		ConversationID: "conv-1", AppID: "app-2", Question: "other tenant", Answer: "secret",
	}))
	turns, err = h.Recent(ctx, "app-2", "conv-1", 3)
	require.NoError(t, err)
	require.Len(t, turns, 1)
	assert.Equal(t, "other tenant", turns[0].Question)

	turns, err = h.Recent(ctx, "app-1", "conv-1", 1)
	require.NoError(t, err)
	require.Len(t, turns, 1)
	assert.Equal(t, "q3", turns[0].Question)
}

func TestMemoryHistory(t *testing.T) {
	h := NewMemoryHistory(3)
	appendTurns(t, h, "conv-1", 4)
	assertRecent(t, h)

	// 只保留最近 3 轮
	turns, err := h.Recent(context.Background(), "app-1", "conv-1", 10)
	require.NoError(t, err)
	assert.Len(t, turns, 3)
	assert.Equal(t, "q1", turns[0].Question)
}

func TestMemoryHistoryConcurrentAppend(t *testing.T) {
	h := NewMemoryHistory(0)
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			appendTurns(t, h, "conv-1", 1)
		}()
	}
	wg.Wait()

	turns, err := h.Recent(context.Background(), "app-1", "conv-1", 100)
	require.NoError(t, err)
	assert.Len(t, turns, 20)
}

func TestDatabaseHistory(t *testing.T) {
	var h HistoryStore = newTestFactory(t).Turns()
	appendTurns(t, h, "conv-1", 4)
	assertRecent(t, h)
}

func TestRedisHistory(t *testing.T) {
	client := newTestRedis(t)
	prefix := "rag-test-" + id.NewULID() + ":"
	h := NewRedisHistory(client, prefix, 3, time.Minute)
	t.Cleanup(func() {
		client.Del(context.Background(), prefix+"history:app-1:conv-1", prefix+"history:app-2:conv-1")
	})

	appendTurns(t, h, "conv-1", 4)
	assertRecent(t, h)

	n, err := client.LLen(context.Background(), prefix+"history:app-1:conv-1").Result()
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)
}

var _ HistoryStore = (repo.TurnStore)(nil)
