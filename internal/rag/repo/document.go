package repo

import (
	"context"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/kart-io/sentinel-rag/internal/model"
)

type documents struct {
	db *gorm.DB
}

// Create writes the idempotency record first so a concurrent duplicate loses the insert.
func (d *documents) Create(ctx context.Context, rec *model.IdempotencyRecord, doc *model.Document, chunks []*model.Chunk) error {
	return d.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if rec != nil {
			res := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(rec)
			if res.Error != nil {
				return res.Error
			}
			if res.RowsAffected == 0 {
				return ErrDuplicate
			}
		}
		if err := tx.Create(doc).Error; err != nil {
			return err
		}
		if len(chunks) == 0 {
			return nil
		}
		return tx.CreateInBatches(chunks, 100).Error
	})
}

// Get retrieves a document by id.
func (d *documents) Get(ctx context.Context, id string) (*model.Document, error) {
	var doc model.Document
	if err := d.db.WithContext(ctx).Where("id = ?", id).First(&doc).Error; err != nil {
		return nil, translate(err)
	}
	return &doc, nil
}

// GetIdempotency retrieves an idempotency record by key.
func (d *documents) GetIdempotency(ctx context.Context, key string) (*model.IdempotencyRecord, error) {
	var rec model.IdempotencyRecord
	if err := d.db.WithContext(ctx).Where(&model.IdempotencyRecord{Key: key}).First(&rec).Error; err != nil {
		return nil, translate(err)
	}
	return &rec, nil
}
