package services

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/arch-studio/engine/internal/diagram"
	"github.com/arch-studio/engine/internal/models"
	"github.com/arch-studio/engine/internal/repository"
	appErr "github.com/arch-studio/engine/pkg/errors"
	"github.com/arch-studio/engine/pkg/logger"
)

// ProjectService manages projects and reads their scene history.
type ProjectService interface {
	CreateProject(ctx context.Context, ownerID uuid.UUID, input *CreateProjectInput) (*models.Project, error)
	GetProject(ctx context.Context, projectID, userID uuid.UUID) (*models.Project, error)
	ListProjects(ctx context.Context, userID uuid.UUID) ([]models.Project, error)
	UpdateProject(ctx context.Context, projectID, userID uuid.UUID, updates *UpdateProjectInput) (*models.Project, error)
	DeleteProject(ctx context.Context, projectID, userID uuid.UUID) error

	// LatestScene returns the current scene; a project without history yields version 0.
	LatestScene(ctx context.Context, projectID, userID uuid.UUID) (*Scene, error)
	GetSceneVersion(ctx context.Context, projectID, userID uuid.UUID, version int) (*Scene, error)
	ListSceneVersions(ctx context.Context, projectID, userID uuid.UUID) ([]models.SceneVersion, error)
}

type CreateProjectInput struct {
	Name        string
	Description string
}

type UpdateProjectInput struct {
	Name        *string
	Description *string
}

// Scene is a decoded scene version.
type Scene struct {
	ProjectID uuid.UUID
	Version   int
	Label     string
	Elements  []diagram.Element
	CreatedAt time.Time
}

// Document wraps the elements in the Excalidraw envelope.
func (s *Scene) Document() diagram.Document { return diagram.NewDocument(s.Elements) }

func sceneFrom(v *models.SceneVersion) (*Scene, error) {
	elements, err := v.Decode()
	if err != nil {
		return nil, appErr.Wrap(err, appErr.CodeInternal, "decode scene failed")
	}
	return &Scene{ProjectID: v.ProjectID, Version: v.Version, Label: v.Label, Elements: elements, CreatedAt: v.CreatedAt}, nil
}

type projectService struct {
	projectRepo repository.ProjectRepository
	sceneRepo   repository.SceneRepository
}

func NewProjectService(projectRepo repository.ProjectRepository, sceneRepo repository.SceneRepository) ProjectService {
	return &projectService{projectRepo: projectRepo, sceneRepo: sceneRepo}
}

var _ ProjectService = (*projectService)(nil)

func (s *projectService) CreateProject(ctx context.Context, ownerID uuid.UUID, input *CreateProjectInput) (*models.Project, error) {
	logger.From(ctx).Info("create project called", zap.String("user_id", ownerID.String()), zap.String("name", input.Name))

	p := &models.Project{OwnerID: ownerID, Name: input.Name, Description: input.Description}
	if err := s.projectRepo.Create(ctx, p); err != nil {
		return nil, err
	}

	logger.From(ctx).Info("project created", zap.String("project_id", p.ID.String()))
	return p, nil
}

func (s *projectService) GetProject(ctx context.Context, projectID, userID uuid.UUID) (*models.Project, error) {
	return ownedProject(ctx, s.projectRepo, projectID, userID)
}

func (s *projectService) ListProjects(ctx context.Context, userID uuid.UUID) ([]models.Project, error) {
	return s.projectRepo.ListByOwner(ctx, userID)
}

func (s *projectService) UpdateProject(ctx context.Context, projectID, userID uuid.UUID, updates *UpdateProjectInput) (*models.Project, error) {
	p, err := ownedProject(ctx, s.projectRepo, projectID, userID)
	if err != nil {
		return nil, err
	}
	if updates.Name != nil {
		p.Name = *updates.Name
	}
	if updates.Description != nil {
		p.Description = *updates.Description
	}
	if err := s.projectRepo.Update(ctx, p); err != nil {
		return nil, err
	}
	logger.From(ctx).Info("project updated", zap.String("project_id", projectID.String()))
	return p, nil
}

func (s *projectService) DeleteProject(ctx context.Context, projectID, userID uuid.UUID) error {
	if _, err := ownedProject(ctx, s.projectRepo, projectID, userID); err != nil {
		return err
	}
	if err := s.projectRepo.Delete(ctx, projectID); err != nil {
		return err
	}
	logger.From(ctx).Info("project deleted", zap.String("project_id", projectID.String()))
	return nil
}

func (s *projectService) LatestScene(ctx context.Context, projectID, userID uuid.UUID) (*Scene, error) {
	if _, err := ownedProject(ctx, s.projectRepo, projectID, userID); err != nil {
		return nil, err
	}
	return latestScene(ctx, s.sceneRepo, projectID)
}

func (s *projectService) GetSceneVersion(ctx context.Context, projectID, userID uuid.UUID, version int) (*Scene, error) {
	if _, err := ownedProject(ctx, s.projectRepo, projectID, userID); err != nil {
		return nil, err
	}
	if version == 0 {
		return &Scene{ProjectID: projectID, Elements: []diagram.Element{}}, nil
	}
	var v models.SceneVersion
	if err := s.sceneRepo.GetByVersion(ctx, projectID, version, &v); err != nil {
		return nil, err
	}
	return sceneFrom(&v)
}

func (s *projectService) ListSceneVersions(ctx context.Context, projectID, userID uuid.UUID) ([]models.SceneVersion, error) {
	if _, err := ownedProject(ctx, s.projectRepo, projectID, userID); err != nil {
		return nil, err
	}
	return s.sceneRepo.ListByProject(ctx, projectID)
}

// ownedProject hides projects of other users behind not_found.
func ownedProject(ctx context.Context, repo repository.ProjectRepository, projectID, userID uuid.UUID) (*models.Project, error) {
	var p models.Project
	if err := repo.GetOwned(ctx, projectID, userID, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

func latestScene(ctx context.Context, repo repository.SceneRepository, projectID uuid.UUID) (*Scene, error) {
	var v models.SceneVersion
	if err := repo.Latest(ctx, projectID, &v); err != nil {
		if appErr.IsCode(err, appErr.CodeNotFound) {
			return &Scene{ProjectID: projectID, Elements: []diagram.Element{}}, nil
		}
		return nil, err
	}
	return sceneFrom(&v)
}
