package services

import (
	"context"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/arch-studio/engine/internal/models"
	"github.com/arch-studio/engine/internal/repository"
	"github.com/arch-studio/engine/internal/workflow"
	appErr "github.com/arch-studio/engine/pkg/errors"
	"github.com/arch-studio/engine/pkg/logger"
)

// RunService is the user-facing side of runs: ownership checks in front of the Orchestrator.
type RunService interface {
	// StartOrResume returns the user's active run on a project, creating one if needed.
	StartOrResume(ctx context.Context, projectID, userID uuid.UUID) (*models.Run, bool, error)
	GetRun(ctx context.Context, runID, userID uuid.UUID) (*models.Run, error)
	ListMessages(ctx context.Context, runID, userID uuid.UUID) ([]models.Message, error)
	Pause(ctx context.Context, runID, userID uuid.UUID) (*models.Run, error)
	Resume(ctx context.Context, runID, userID uuid.UUID) (*models.Run, error)

	// Step executes a turn, or queues it when asynchronous turns are enabled. A queued
	// turn returns a nil result.
	Step(ctx context.Context, runID, userID uuid.UUID, in TurnInput) (*TurnResult, error)
	Approve(ctx context.Context, runID, userID uuid.UUID) (*ApproveResult, error)
}

// TurnEnqueuer hands a turn to a background worker.
type TurnEnqueuer interface {
	EnqueueTurn(ctx context.Context, runID uuid.UUID, in TurnInput) error
}

type runService struct {
	projectRepo repository.ProjectRepository
	runRepo     repository.RunRepository
	messageRepo repository.MessageRepository
	orch        *Orchestrator
	enqueuer    TurnEnqueuer
}

// NewRunService builds the service; a nil enqueuer runs turns inline.
func NewRunService(projectRepo repository.ProjectRepository, runRepo repository.RunRepository, messageRepo repository.MessageRepository, orch *Orchestrator, enqueuer TurnEnqueuer) RunService {
	return &runService{projectRepo: projectRepo, runRepo: runRepo, messageRepo: messageRepo, orch: orch, enqueuer: enqueuer}
}

var _ RunService = (*runService)(nil)

func (s *runService) StartOrResume(ctx context.Context, projectID, userID uuid.UUID) (*models.Run, bool, error) {
	if _, err := ownedProject(ctx, s.projectRepo, projectID, userID); err != nil {
		return nil, false, err
	}

	var run models.Run
	err := s.runRepo.GetActive(ctx, projectID, userID, &run)
	if err == nil {
		logger.From(ctx).Info("run resumed", zap.String("run_id", run.ID.String()), zap.String("step", run.State().String()))
		return &run, false, nil
	}
	if !appErr.IsCode(err, appErr.CodeNotFound) {
		return nil, false, err
	}

	created := models.NewRun(projectID, userID)
	if err := s.runRepo.Create(ctx, created); err != nil {
		// a concurrent request created it first
		if appErr.IsCode(err, appErr.CodeConflict) {
			if err := s.runRepo.GetActive(ctx, projectID, userID, &run); err != nil {
				return nil, false, err
			}
			return &run, false, nil
		}
		return nil, false, err
	}
	logger.From(ctx).Info("run created", zap.String("run_id", created.ID.String()), zap.String("project_id", projectID.String()))
	return created, true, nil
}

func (s *runService) GetRun(ctx context.Context, runID, userID uuid.UUID) (*models.Run, error) {
	var run models.Run
	if err := s.runRepo.GetByID(ctx, runID, &run); err != nil {
		return nil, err
	}
	if run.UserID != userID {
		return nil, appErr.NotFound("run")
	}
	return &run, nil
}

func (s *runService) ListMessages(ctx context.Context, runID, userID uuid.UUID) ([]models.Message, error) {
	if _, err := s.GetRun(ctx, runID, userID); err != nil {
		return nil, err
	}
	return s.messageRepo.ListByRun(ctx, runID)
}

func (s *runService) Pause(ctx context.Context, runID, userID uuid.UUID) (*models.Run, error) {
	if _, err := s.GetRun(ctx, runID, userID); err != nil {
		return nil, err
	}
	return s.orch.SetStatus(ctx, runID, models.RunPaused)
}

func (s *runService) Resume(ctx context.Context, runID, userID uuid.UUID) (*models.Run, error) {
	if _, err := s.GetRun(ctx, runID, userID); err != nil {
		return nil, err
	}
	return s.orch.SetStatus(ctx, runID, models.RunRunning)
}

func (s *runService) Step(ctx context.Context, runID, userID uuid.UUID, in TurnInput) (*TurnResult, error) {
	action, err := workflow.ParseAction(string(in.Action))
	if err != nil {
		return nil, err
	}
	in.Action = action

	run, err := s.GetRun(ctx, runID, userID)
	if err != nil {
		return nil, err
	}
	if err := checkTurnable(run); err != nil {
		return nil, err
	}

	if s.enqueuer != nil {
		if err := s.enqueuer.EnqueueTurn(ctx, runID, in); err != nil {
			return nil, err
		}
		logger.From(ctx).Info("turn queued", zap.String("run_id", runID.String()), zap.String("action", string(action)))
		return nil, nil
	}
	return s.orch.ExecuteTurn(ctx, runID, in)
}

func (s *runService) Approve(ctx context.Context, runID, userID uuid.UUID) (*ApproveResult, error) {
	if _, err := s.GetRun(ctx, runID, userID); err != nil {
		return nil, err
	}
	return s.orch.ApprovePatch(ctx, runID)
}
