package repo

import (
	"context"

	"gorm.io/gorm"

	"github.com/kart-io/sentinel-rag/internal/model"
)

type queries struct {
	db *gorm.DB
}

func (q *queries) Create(ctx context.Context, query *model.Query) error {
	return q.db.WithContext(ctx).Create(query).Error
}

// Update 保存查询的全部字段。
func (q *queries) Update(ctx context.Context, query *model.Query) error {
	res := q.db.WithContext(ctx).Model(query).Select("*").Omit("created_at").Updates(query)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (q *queries) Get(ctx context.Context, id string) (*model.Query, error) {
	var query model.Query
	if err := q.db.WithContext(ctx).Where("id = ?", id).First(&query).Error; err != nil {
		return nil, translate(err)
	}
	return &query, nil
}
