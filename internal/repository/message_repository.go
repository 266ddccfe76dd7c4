package repository

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/arch-studio/engine/internal/models"
)

type MessageRepository interface {
	BaseRepository[models.Message]
	ListByRun(ctx context.Context, runID uuid.UUID) ([]models.Message, error)
	// Recent returns the last n messages of a run, oldest first.
	Recent(ctx context.Context, runID uuid.UUID, n int) ([]models.Message, error)
}

type messageRepository struct {
	BaseRepository[models.Message]
	db *gorm.DB
}

func NewMessageRepository(db *gorm.DB) MessageRepository {
	return &messageRepository{BaseRepository: NewBaseRepository[models.Message](db, "message"), db: db}
}

func (r *messageRepository) ListByRun(ctx context.Context, runID uuid.UUID) ([]models.Message, error) {
	var out []models.Message
	if err := r.db.WithContext(ctx).Where("run_id = ?", runID).Order("created_at ASC, id ASC").Find(&out).Error; err != nil {
		return nil, translate(err, "message", "list")
	}
	return out, nil
}

func (r *messageRepository) Recent(ctx context.Context, runID uuid.UUID, n int) ([]models.Message, error) {
	var out []models.Message
	if n <= 0 {
		return out, nil
	}
	if err := r.db.WithContext(ctx).Where("run_id = ?", runID).Order("created_at DESC, id DESC").Limit(n).Find(&out).Error; err != nil {
		return nil, translate(err, "message", "list")
	}
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}
