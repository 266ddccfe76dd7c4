package repository

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/arch-studio/engine/internal/models"
	appErr "github.com/arch-studio/engine/pkg/errors"
)

type RunRepository interface {
	BaseRepository[models.Run]
	// GetActive returns the newest RUNNING or PAUSED run of a user on a project.
	GetActive(ctx context.Context, projectID, userID uuid.UUID, dest *models.Run) error
	// Save writes the mutable run fields if nobody else has written since run was read,
	// and bumps run.Revision on success.
	Save(ctx context.Context, run *models.Run) error
}

type runRepository struct {
	BaseRepository[models.Run]
	db *gorm.DB
}

func NewRunRepository(db *gorm.DB) RunRepository {
	return &runRepository{BaseRepository: NewBaseRepository[models.Run](db, "run"), db: db}
}

func (r *runRepository) GetActive(ctx context.Context, projectID, userID uuid.UUID, dest *models.Run) error {
	err := r.db.WithContext(ctx).
		Where("project_id = ? AND user_id = ? AND status IN ?", projectID, userID, []string{models.RunRunning, models.RunPaused}).
		Order("created_at DESC").
		First(dest).Error
	if err != nil {
		return translate(err, "active run", "get")
	}
	return nil
}

func (r *runRepository) Save(ctx context.Context, run *models.Run) error {
	return saveRun(r.db.WithContext(ctx), run)
}

// saveRun is the compare-and-swap on revision shared with scene appends.
func saveRun(db *gorm.DB, run *models.Run) error {
	res := db.Model(&models.Run{}).
		Where("id = ? AND revision = ?", run.ID, run.Revision).
		Updates(map[string]any{
			"status":       run.Status,
			"step":         string(run.Step),
			"deep_dive_no": run.DeepDiveNo,
			"checkpoint":   run.Checkpoint,
			"revision":     run.Revision + 1,
			"updated_at":   gorm.Expr("NOW()"),
		})
	if res.Error != nil {
		return translate(res.Error, "run", "update")
	}
	if res.RowsAffected == 0 {
		return appErr.Conflict("run was modified concurrently").WithMeta("run_id", run.ID.String())
	}
	run.Revision++
	return nil
}
