package repository

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/arch-studio/engine/internal/models"
	appErr "github.com/arch-studio/engine/pkg/errors"
)

// SceneRepository is the append-only version history of project diagrams.
type SceneRepository interface {
	// Latest loads the highest version of a project; not_found when the project has none.
	Latest(ctx context.Context, projectID uuid.UUID, dest *models.SceneVersion) error
	LatestVersion(ctx context.Context, projectID uuid.UUID) (int, error)
	GetByVersion(ctx context.Context, projectID uuid.UUID, version int, dest *models.SceneVersion) error
	// ListByProject returns version headers, newest first, without element payloads.
	ListByProject(ctx context.Context, projectID uuid.UUID) ([]models.SceneVersion, error)
	// Append stores scene if its version directly follows the current one.
	Append(ctx context.Context, scene *models.SceneVersion) error
	// AppendApproved appends scene and writes run in one transaction. The run write is
	// the revision compare-and-swap, so either both land or neither does.
	AppendApproved(ctx context.Context, scene *models.SceneVersion, run *models.Run) error
}

type sceneRepository struct {
	db *gorm.DB
}

func NewSceneRepository(db *gorm.DB) SceneRepository {
	return &sceneRepository{db: db}
}

func (r *sceneRepository) Latest(ctx context.Context, projectID uuid.UUID, dest *models.SceneVersion) error {
	if err := r.db.WithContext(ctx).Where("project_id = ?", projectID).Order("version DESC").First(dest).Error; err != nil {
		return translate(err, "scene", "get")
	}
	return nil
}

func (r *sceneRepository) LatestVersion(ctx context.Context, projectID uuid.UUID) (int, error) {
	return maxVersion(r.db.WithContext(ctx), projectID)
}

func (r *sceneRepository) GetByVersion(ctx context.Context, projectID uuid.UUID, version int, dest *models.SceneVersion) error {
	if err := r.db.WithContext(ctx).Where("project_id = ? AND version = ?", projectID, version).First(dest).Error; err != nil {
		return translate(err, "scene version", "get")
	}
	return nil
}

func (r *sceneRepository) ListByProject(ctx context.Context, projectID uuid.UUID) ([]models.SceneVersion, error) {
	var out []models.SceneVersion
	err := r.db.WithContext(ctx).
		Select("id", "project_id", "version", "run_id", "label", "created_at").
		Where("project_id = ?", projectID).
		Order("version DESC").
		Find(&out).Error
	if err != nil {
		return nil, translate(err, "scene", "list")
	}
	return out, nil
}

func (r *sceneRepository) Append(ctx context.Context, scene *models.SceneVersion) error {
	return r.inTx(ctx, func(tx *gorm.DB) error {
		return appendScene(tx, scene)
	})
}

func (r *sceneRepository) AppendApproved(ctx context.Context, scene *models.SceneVersion, run *models.Run) error {
	rev := run.Revision
	err := r.inTx(ctx, func(tx *gorm.DB) error {
		if err := appendScene(tx, scene); err != nil {
			return err
		}
		return saveRun(tx, run)
	})
	if err != nil {
		run.Revision = rev
	}
	return err
}

func (r *sceneRepository) inTx(ctx context.Context, fn func(tx *gorm.DB) error) error {
	tx := r.db.WithContext(ctx).Begin()
	if tx.Error != nil {
		return appErr.Wrap(tx.Error, appErr.CodeInternal, "begin transaction failed")
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	if err := tx.Commit().Error; err != nil {
		return translate(err, "scene", "commit")
	}
	return nil
}

func maxVersion(db *gorm.DB, projectID uuid.UUID) (int, error) {
	var v int
	if err := db.Model(&models.SceneVersion{}).
		Where("project_id = ?", projectID).
		Select("COALESCE(MAX(version), 0)").
		Scan(&v).Error; err != nil {
		return 0, translate(err, "scene", "get")
	}
	return v, nil
}

// appendScene refuses anything but current+1. A concurrent writer that passes the same
// check is stopped by the unique (project_id, version) index.
func appendScene(tx *gorm.DB, scene *models.SceneVersion) error {
	current, err := maxVersion(tx, scene.ProjectID)
	if err != nil {
		return err
	}
	if scene.Version != current+1 {
		return appErr.Conflict("scene version is stale").
			WithMeta("expected", current+1).
			WithMeta("got", scene.Version)
	}
	if err := tx.Create(scene).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return appErr.Wrap(err, appErr.CodeConflict, "scene version is stale")
		}
		return translate(err, "scene version", "create")
	}
	return nil
}
