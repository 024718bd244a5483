package repo

import (
	"context"

	"gorm.io/gorm"

	"github.com/kart-io/sentinel-rag/internal/model"
)

type turns struct {
	db *gorm.DB
}

func (t *turns) Append(ctx context.Context, turn *model.ConversationTurn) error {
	return t.db.WithContext(ctx).Create(turn).Error
}

func (t *turns) Recent(ctx context.Context, appID, conversationID string, n int) ([]model.ConversationTurn, error) {
	if n <= 0 {
		return nil, nil
	}
	var list []model.ConversationTurn
	err := t.db.WithContext(ctx).
		Where("app_id = ? AND conversation_id = ?", appID, conversationID).
		Order("id DESC").
		Limit(n).
		Find(&list).Error
	if err != nil {
		return nil, err
	}
	for i, j := 0, len(list)-1; i < j; i, j = i+1, j-1 {
		list[i], list[j] = list[j], list[i]
	}
	return list, nil
}
