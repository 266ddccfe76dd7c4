package services

import (
	"context"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/arch-studio/engine/internal/diagram"
	"github.com/arch-studio/engine/internal/metrics"
	"github.com/arch-studio/engine/internal/models"
	"github.com/arch-studio/engine/internal/notify"
	"github.com/arch-studio/engine/internal/principal"
	"github.com/arch-studio/engine/internal/repository"
	"github.com/arch-studio/engine/internal/workflow"
	appErr "github.com/arch-studio/engine/pkg/errors"
	"github.com/arch-studio/engine/pkg/logger"
)

// Responder produces the principal's answer for one turn.
type Responder interface {
	Respond(ctx context.Context, in principal.Input) principal.Outcome
}

// TurnInput is what a user sends with a turn.
type TurnInput struct {
	UserInput string          `json:"userInput,omitempty"`
	Action    workflow.Action `json:"action,omitempty"`
}

// TurnResult describes the run after a turn.
type TurnResult struct {
	Run *models.Run
	// Messages holds the entries recorded by this turn, oldest first.
	Messages []models.Message
	Moved    bool
	Degraded bool
	Proposed bool
}

// ApproveResult is the scene produced by applying the pending patch.
type ApproveResult struct {
	Run   *models.Run
	Scene *Scene
}

type OrchestratorConfig struct {
	ContextMessages int
	MaxRetries      int
}

// Orchestrator executes turns and approvals. It does not check ownership; callers do.
type Orchestrator struct {
	runs      repository.RunRepository
	messages  repository.MessageRepository
	scenes    repository.SceneRepository
	principal Responder
	validator *diagram.Validator
	applier   *diagram.Applicator
	publisher notify.Publisher
	locks     *runLocks
	cfg       OrchestratorConfig
}

func NewOrchestrator(
	runs repository.RunRepository,
	messages repository.MessageRepository,
	scenes repository.SceneRepository,
	p Responder,
	v *diagram.Validator,
	a *diagram.Applicator,
	pub notify.Publisher,
	cfg OrchestratorConfig,
) *Orchestrator {
	if cfg.ContextMessages <= 0 {
		cfg.ContextMessages = 10
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	return &Orchestrator{
		runs:      runs,
		messages:  messages,
		scenes:    scenes,
		principal: p,
		validator: v,
		applier:   a,
		publisher: pub,
		locks:     newRunLocks(),
		cfg:       cfg,
	}
}

// checkTurnable rejects turns on runs that are not RUNNING.
func checkTurnable(run *models.Run) error {
	switch run.Status {
	case models.RunRunning:
		return nil
	case models.RunPaused:
		return appErr.Conflict("run is paused")
	case models.RunCompleted:
		return appErr.Conflict("run is completed")
	default:
		return appErr.Conflict("run is in status " + run.Status)
	}
}

// ExecuteTurn records the user's input, asks the principal, stores its proposal as the
// pending patch and moves the run according to in.Action.
func (o *Orchestrator) ExecuteTurn(ctx context.Context, runID uuid.UUID, in TurnInput) (*TurnResult, error) {
	unlock := o.locks.lock(runID)
	defer unlock()

	// a started operation runs to completion even if the caller goes away
	ctx = context.WithoutCancel(ctx)
	ctx = logger.WithContext(ctx, zap.String("run_id", runID.String()))
	log := logger.From(ctx)

	var run models.Run
	if err := o.runs.GetByID(ctx, runID, &run); err != nil {
		return nil, err
	}
	if err := checkTurnable(&run); err != nil {
		return nil, err
	}
	if _, _, err := run.State().Apply(in.Action); err != nil {
		return nil, err
	}
	start := run.State()
	log.Info("turn started", zap.String("step", start.String()), zap.Bool("user_input", in.UserInput != ""))

	res := &TurnResult{}
	if in.UserInput != "" {
		m := models.NewMessage(run.ID, models.RoleUser, in.UserInput, run.Step)
		if err := o.messages.Create(ctx, m); err != nil {
			return nil, err
		}
		res.Messages = append(res.Messages, *m)
		o.publish(ctx, notify.NewEvent(notify.MessageAdded, runID.String(), m))
	}

	recent, err := o.messages.Recent(ctx, run.ID, o.cfg.ContextMessages)
	if err != nil {
		return nil, err
	}
	scene, err := latestScene(ctx, o.scenes, run.ProjectID)
	if err != nil {
		return nil, err
	}

	history := make([]principal.Turn, 0, len(recent))
	for _, m := range recent {
		history = append(history, principal.Turn{Role: m.Role, Text: m.Text()})
	}
	out := o.principal.Respond(ctx, principal.Input{
		State:     start,
		Scene:     scene.Elements,
		History:   history,
		UserInput: in.UserInput,
	})
	res.Degraded = out.Degraded
	res.Proposed = out.Patch != nil
	if out.Patch != nil {
		metrics.PatchesTotal.WithLabelValues("proposed").Inc()
	}
	if out.Rejected != "" {
		metrics.PatchesTotal.WithLabelValues("dropped").Inc()
	}

	reply := models.NewMessage(run.ID, models.RolePrincipal, out.Text, run.Step)
	if err := o.messages.Create(ctx, reply); err != nil {
		return nil, err
	}
	res.Messages = append(res.Messages, *reply)
	o.publish(ctx, notify.NewEvent(notify.MessageAdded, runID.String(), reply))

	for attempt := 1; ; attempt++ {
		res.Moved = advance(&run, in.Action, out.Patch)
		err := o.runs.Save(ctx, &run)
		if err == nil {
			break
		}
		if !appErr.IsCode(err, appErr.CodeConflict) || attempt >= o.cfg.MaxRetries {
			metrics.TurnsTotal.WithLabelValues(string(start.Step), "error").Inc()
			return nil, err
		}
		// Someone else wrote the run meanwhile. Reapply only if it still sits where this
		// turn started; otherwise another turn already moved it.
		run = models.Run{}
		if err := o.runs.GetByID(ctx, runID, &run); err != nil {
			return nil, err
		}
		if run.State() != start || checkTurnable(&run) != nil {
			metrics.TurnsTotal.WithLabelValues(string(start.Step), "error").Inc()
			return nil, appErr.Conflict("run was advanced concurrently")
		}
		log.Warn("run write conflicted, retrying", zap.Int("attempt", attempt))
	}

	outcome := "ok"
	if out.Degraded {
		outcome = "degraded"
	}
	metrics.TurnsTotal.WithLabelValues(string(start.Step), outcome).Inc()
	o.publish(ctx, notify.NewEvent(notify.RunStatus, runID.String(), StatusOf(&run)))

	log.Info("turn finished",
		zap.String("from", start.String()),
		zap.String("to", run.State().String()),
		zap.String("status", run.Status),
		zap.Bool("patch_proposed", res.Proposed))
	res.Run = &run
	return res, nil
}

// advance applies the turn's effects to run: a new proposal replaces the pending patch,
// the action moves the state, and a turn taken at the last step completes the run.
func advance(run *models.Run, action workflow.Action, proposed *diagram.Patch) bool {
	if proposed != nil {
		run.SetPendingPatch(proposed)
	}
	state := run.State()
	next, moved, _ := state.Apply(action)
	run.SetState(next)
	if state.Terminal() {
		run.Status = models.RunCompleted
	}
	return moved
}

// ApprovePatch validates the pending patch, applies it to the latest scene and stores
// the result as the next version while clearing the patch. Version races are retried
// against the freshly read scene.
func (o *Orchestrator) ApprovePatch(ctx context.Context, runID uuid.UUID) (*ApproveResult, error) {
	unlock := o.locks.lock(runID)
	defer unlock()

	// a started operation runs to completion even if the caller goes away
	ctx = context.WithoutCancel(ctx)
	ctx = logger.WithContext(ctx, zap.String("run_id", runID.String()))
	log := logger.From(ctx)

	for attempt := 1; ; attempt++ {
		res, err := o.approveOnce(ctx, runID)
		if err == nil {
			metrics.PatchesTotal.WithLabelValues("applied").Inc()
			log.Info("patch applied", zap.Int("version", res.Scene.Version), zap.Int("elements", len(res.Scene.Elements)))
			o.publish(ctx, notify.NewEvent(notify.SceneUpdated, runID.String(), SceneUpdate{
				Version: res.Scene.Version,
				Scene:   res.Scene.Document(),
			}))
			o.publish(ctx, notify.NewEvent(notify.RunStatus, runID.String(), StatusOf(res.Run)))
			return res, nil
		}
		if !appErr.IsCode(err, appErr.CodeConflict) || attempt >= o.cfg.MaxRetries {
			if appErr.IsCode(err, appErr.CodeInvalid) {
				metrics.PatchesTotal.WithLabelValues("rejected").Inc()
			}
			return nil, err
		}
		metrics.SceneConflicts.Inc()
		log.Warn("approval lost a version race, retrying", zap.Int("attempt", attempt), zap.Error(err))
	}
}

func (o *Orchestrator) approveOnce(ctx context.Context, runID uuid.UUID) (*ApproveResult, error) {
	var run models.Run
	if err := o.runs.GetByID(ctx, runID, &run); err != nil {
		return nil, err
	}
	patch := run.PendingPatch()
	if patch == nil {
		return nil, appErr.Invalid("No pending patch")
	}
	if err := o.validator.Validate(*patch); err != nil {
		return nil, err
	}

	current, err := latestScene(ctx, o.scenes, run.ProjectID)
	if err != nil {
		return nil, err
	}
	elements, err := o.applier.Apply(current.Elements, *patch)
	if err != nil {
		return nil, err
	}
	if err := diagram.CheckElements(elements); err != nil {
		return nil, appErr.Wrap(err, appErr.CodeInternal, "applied scene failed validation")
	}

	next, err := models.NewSceneVersion(run.ProjectID, current.Version+1, elements)
	if err != nil {
		return nil, appErr.Wrap(err, appErr.CodeInternal, "encode scene failed")
	}
	next.RunID = &run.ID
	next.Label = patch.Label

	run.SetPendingPatch(nil)
	if err := o.scenes.AppendApproved(ctx, next, &run); err != nil {
		return nil, err
	}
	return &ApproveResult{
		Run: &run,
		Scene: &Scene{
			ProjectID: run.ProjectID,
			Version:   next.Version,
			Label:     next.Label,
			Elements:  elements,
			CreatedAt: next.CreatedAt,
		},
	}, nil
}

// SetStatus moves a run between RUNNING and PAUSED.
func (o *Orchestrator) SetStatus(ctx context.Context, runID uuid.UUID, status string) (*models.Run, error) {
	unlock := o.locks.lock(runID)
	defer unlock()

	var run models.Run
	if err := o.runs.GetByID(ctx, runID, &run); err != nil {
		return nil, err
	}
	if run.Status == status {
		return &run, nil
	}
	if !run.IsActive() {
		return nil, appErr.Conflict("run is " + run.Status)
	}
	run.Status = status
	if err := o.runs.Save(ctx, &run); err != nil {
		return nil, err
	}
	logger.From(ctx).Info("run status changed", zap.String("run_id", runID.String()), zap.String("status", status))
	o.publish(ctx, notify.NewEvent(notify.RunStatus, runID.String(), StatusOf(&run)))
	return &run, nil
}

func (o *Orchestrator) publish(ctx context.Context, e notify.Event) {
	if o.publisher == nil {
		return
	}
	if !o.publisher.Publish(ctx, e) {
		logger.From(ctx).Debug("no listener for event", zap.String("type", string(e.Type)))
	}
}
