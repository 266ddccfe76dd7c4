package repository

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/arch-studio/engine/internal/models"
)

type ProjectRepository interface {
	BaseRepository[models.Project]
	ListByOwner(ctx context.Context, ownerID uuid.UUID) ([]models.Project, error)
	GetOwned(ctx context.Context, id, ownerID uuid.UUID, dest *models.Project) error
}

type projectRepository struct {
	BaseRepository[models.Project]
	db *gorm.DB
}

func NewProjectRepository(db *gorm.DB) ProjectRepository {
	return &projectRepository{BaseRepository: NewBaseRepository[models.Project](db, "project"), db: db}
}

func (r *projectRepository) ListByOwner(ctx context.Context, ownerID uuid.UUID) ([]models.Project, error) {
	var out []models.Project
	if err := r.db.WithContext(ctx).Where("owner_id = ?", ownerID).Order("created_at DESC").Find(&out).Error; err != nil {
		return nil, translate(err, "project", "list")
	}
	return out, nil
}

// GetOwned loads a project only if it belongs to ownerID; foreign projects read as missing.
func (r *projectRepository) GetOwned(ctx context.Context, id, ownerID uuid.UUID, dest *models.Project) error {
	if err := r.db.WithContext(ctx).Where("id = ? AND owner_id = ?", id, ownerID).First(dest).Error; err != nil {
		return translate(err, "project", "get")
	}
	return nil
}
