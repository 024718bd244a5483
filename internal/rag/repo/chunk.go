package repo

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/kart-io/sentinel-rag/internal/model"
)

type chunks struct {
	db *gorm.DB
}

func (c *chunks) ListPending(ctx context.Context, afterID string, limit int) ([]*model.Chunk, error) {
	var list []*model.Chunk
	q := c.db.WithContext(ctx).Where("status = ?", model.ChunkPending)
	if afterID != "" {
		q = q.Where("id > ?", afterID)
	}
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Order("id ASC").Find(&list).Error; err != nil {
		return nil, err
	}
	return list, nil
}

func (c *chunks) MarkCompleted(ctx context.Context, id string, embedding []float32, indexedAt time.Time) error {
	at := indexedAt.UTC()
	res := c.db.WithContext(ctx).Model(&model.Chunk{ID: id}).Select("status", "embedding", "indexed_at", "error").Updates(&model.Chunk{
		Status:    model.ChunkCompleted,
		Embedding: embedding,
		IndexedAt: &at,
		Error:     "",
	})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (c *chunks) MarkFailed(ctx context.Context, ids []string, reason string) error {
	if len(ids) == 0 {
		return nil
	}
	return c.db.WithContext(ctx).Model(&model.Chunk{}).
		Where("id IN ? AND status = ?", ids, model.ChunkPending).
		Updates(map[string]any{"status": model.ChunkFailed, "error": reason}).Error
}

func (c *chunks) ListByDocument(ctx context.Context, documentID string) ([]*model.Chunk, error) {
	var list []*model.Chunk
	err := c.db.WithContext(ctx).
		Where("document_id = ?", documentID).
		Order("chunk_index ASC").
		Find(&list).Error
	return list, err
}

func (c *chunks) CountByStatus(ctx context.Context, appID string) (map[model.ChunkStatus]int64, error) {
	var rows []struct {
		Status model.ChunkStatus
		N      int64
	}
	q := c.db.WithContext(ctx).Model(&model.Chunk{}).Select("status, COUNT(*) AS n")
	if appID != "" {
		q = q.Where("app_id = ?", appID)
	}
	if err := q.Group("status").Scan(&rows).Error; err != nil {
		return nil, err
	}

	out := map[model.ChunkStatus]int64{
		model.ChunkPending:   0,
		model.ChunkCompleted: 0,
		model.ChunkFailed:    0,
	}
	for _, r := range rows {
		out[r.Status] = r.N
	}
	return out, nil
}
