package biz

import (
	"context"
	"fmt"
	"sync"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/kart-io/sentinel-rag/internal/model"
	"github.com/kart-io/sentinel-rag/pkg/utils/json"
)

// HistoryStore 是按对话线程只追加的历史存储，线程由 (app_id, conversation_id) 唯一确定。
// 并发回答同一线程时各自追加一条，不存在读改写。
type HistoryStore interface {
	Append(ctx context.Context, turn *model.ConversationTurn) error
	// Recent 返回最近 n 轮，旧的在前。
	Recent(ctx context.Context, appID, conversationID string, n int) ([]model.ConversationTurn, error)
}

// MemoryHistory 进程内历史，只保留每个线程最近 maxTurns 轮。
type MemoryHistory struct {
	mu       sync.RWMutex
	maxTurns int
	threads  map[threadKey][]model.ConversationTurn
}

type threadKey struct {
	appID          string
	conversationID string
}

// NewMemoryHistory creates an in-process history store.
func NewMemoryHistory(maxTurns int) *MemoryHistory {
	return &MemoryHistory{maxTurns: maxTurns, threads: make(map[threadKey][]model.ConversationTurn)}
}

func (h *MemoryHistory) Append(_ context.Context, turn *model.ConversationTurn) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	t := *turn
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now().UTC()
	}
	k := threadKey{appID: t.AppID, conversationID: t.ConversationID}
	thread := append(h.threads[k], t)
	if h.maxTurns > 0 && len(thread) > h.maxTurns {
		thread = thread[len(thread)-h.maxTurns:]
	}
	h.threads[k] = thread
	return nil
}

func (h *MemoryHistory) Recent(_ context.Context, appID, conversationID string, n int) ([]model.ConversationTurn, error) {
	if n <= 0 {
		return nil, nil
	}
	h.mu.RLock()
	defer h.mu.RUnlock()

	thread := h.threads[threadKey{appID: appID, conversationID: conversationID}]
	if len(thread) > n {
		thread = thread[len(thread)-n:]
	}
	return append([]model.ConversationTurn(nil), thread...), nil
}

// RedisHistory 用 list 保存每个线程的历史，RPUSH 追加后 LTRIM 截断。
type RedisHistory struct {
	client    goredis.Cmdable
	keyPrefix string
	maxTurns  int
	ttl       time.Duration
}

// NewRedisHistory creates a redis-backed history store.
func NewRedisHistory(client goredis.Cmdable, keyPrefix string, maxTurns int, ttl time.Duration) *RedisHistory {
	return &RedisHistory{client: client, keyPrefix: keyPrefix, maxTurns: maxTurns, ttl: ttl}
}

func (h *RedisHistory) key(appID, conversationID string) string {
	return h.keyPrefix + "history:" + appID + ":" + conversationID
}

func (h *RedisHistory) Append(ctx context.Context, turn *model.ConversationTurn) error {
	t := *turn
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now().UTC()
	}
	data, err := json.Marshal(&t)
	if err != nil {
		return fmt.Errorf("marshal conversation turn: %w", err)
	}

	key := h.key(t.AppID, t.ConversationID)
	_, err = h.client.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
		pipe.RPush(ctx, key, data)
		if h.maxTurns > 0 {
			pipe.LTrim(ctx, key, int64(-h.maxTurns), -1)
		}
		if h.ttl > 0 {
			pipe.Expire(ctx, key, h.ttl)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("append conversation turn: %w", err)
	}
	return nil
}

func (h *RedisHistory) Recent(ctx context.Context, appID, conversationID string, n int) ([]model.ConversationTurn, error) {
	if n <= 0 {
		return nil, nil
	}
	raw, err := h.client.LRange(ctx, h.key(appID, conversationID), int64(-n), -1).Result()
	if err != nil {
		return nil, fmt.Errorf("read conversation history: %w", err)
	}

	turns := make([]model.ConversationTurn, 0, len(raw))
	for _, item := range raw {
		var t model.ConversationTurn
		if err := json.Unmarshal([]byte(item), &t); err != nil {
			return nil, fmt.Errorf("decode conversation turn: %w", err)
		}
		turns = append(turns, t)
	}
	return turns, nil
}
