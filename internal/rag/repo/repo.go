// Package repo 提供 RAG 记录（文档、分块、查询、对话、幂等记录）的 gorm 存储。
package repo

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/kart-io/sentinel-rag/internal/model"
)

var (
	// ErrNotFound 记录不存在。
	ErrNotFound = errors.New("record not found")
	// ErrDuplicate 幂等键已被占用。
	ErrDuplicate = errors.New("idempotency key already used")
)

// Factory defines the factory interface for creating stores.
type Factory interface {
	Documents() DocumentStore
	Chunks() ChunkStore
	Queries() QueryStore
	Turns() TurnStore
	AutoMigrate() error
}

// DocumentStore stores documents together with their initial chunks.
type DocumentStore interface {
	// Create 在一个事务内写入幂等记录、文档和全部分块。
	// 幂等键已存在时返回 ErrDuplicate 且不写入任何数据。
	Create(ctx context.Context, rec *model.IdempotencyRecord, doc *model.Document, chunks []*model.Chunk) error
	Get(ctx context.Context, id string) (*model.Document, error)
	GetIdempotency(ctx context.Context, key string) (*model.IdempotencyRecord, error)
}

// ChunkStore tracks per-chunk embedding status.
type ChunkStore interface {
	// ListPending 按 ID 升序返回 afterID 之后的待处理分块。
	ListPending(ctx context.Context, afterID string, limit int) ([]*model.Chunk, error)
	MarkCompleted(ctx context.Context, id string, embedding []float32, indexedAt time.Time) error
	// MarkFailed 只修改仍为 pending 的分块，completed 分块不受影响。
	MarkFailed(ctx context.Context, ids []string, reason string) error
	ListByDocument(ctx context.Context, documentID string) ([]*model.Chunk, error)
	CountByStatus(ctx context.Context, appID string) (map[model.ChunkStatus]int64, error)
}

// QueryStore persists query lifecycle records.
type QueryStore interface {
	Create(ctx context.Context, q *model.Query) error
	Update(ctx context.Context, q *model.Query) error
	Get(ctx context.Context, id string) (*model.Query, error)
}

// TurnStore 是只追加的对话历史。
type TurnStore interface {
	Append(ctx context.Context, turn *model.ConversationTurn) error
	// Recent 返回该租户线程最近 n 轮，按时间从旧到新排列。
	Recent(ctx context.Context, appID, conversationID string, n int) ([]model.ConversationTurn, error)
}

// datastore implements the Factory interface.
type datastore struct {
	db *gorm.DB
}

var _ Factory = (*datastore)(nil)

// NewFactory returns the gorm-backed store factory.
func NewFactory(db *gorm.DB) Factory {
	return &datastore{db: db}
}

// Documents returns the document store.
func (ds *datastore) Documents() DocumentStore {
	return &documents{db: ds.db}
}

// Chunks returns the chunk store.
func (ds *datastore) Chunks() ChunkStore {
	return &chunks{db: ds.db}
}

// Queries returns the query store.
func (ds *datastore) Queries() QueryStore {
	return &queries{db: ds.db}
}

// Turns returns the conversation turn store.
func (ds *datastore) Turns() TurnStore {
	return &turns{db: ds.db}
}

// AutoMigrate migrates the database schema.
func (ds *datastore) AutoMigrate() error {
	return ds.db.AutoMigrate(model.AllModels()...)
}

func translate(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrNotFound
	}
	return err
}
