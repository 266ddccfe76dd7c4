package tasks

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"go.uber.org/zap"

	"github.com/arch-studio/engine/internal/services"
	"github.com/arch-studio/engine/internal/workflow"
	appErr "github.com/arch-studio/engine/pkg/errors"
	"github.com/arch-studio/engine/pkg/logger"
)

// TypeRunTurn executes one turn of a run in the worker.
const TypeRunTurn = "run:turn"

// TurnPayload is the task payload for run turns.
type TurnPayload struct {
	RunID     string          `json:"run_id"`
	UserInput string          `json:"user_input,omitempty"`
	Action    workflow.Action `json:"action,omitempty"`
}

type taskClient interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

// TurnQueue hands turns to the worker. Turns are never retried: a retried turn would
// record the user's message twice.
type TurnQueue struct {
	client  taskClient
	timeout time.Duration
}

func NewTurnQueue(client taskClient, timeout time.Duration) *TurnQueue {
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}
	return &TurnQueue{client: client, timeout: timeout}
}

var _ services.TurnEnqueuer = (*TurnQueue)(nil)

func (q *TurnQueue) EnqueueTurn(ctx context.Context, runID uuid.UUID, in services.TurnInput) error {
	payload, err := json.Marshal(TurnPayload{RunID: runID.String(), UserInput: in.UserInput, Action: in.Action})
	if err != nil {
		return appErr.Wrap(err, appErr.CodeInternal, "encode turn task failed")
	}
	task := asynq.NewTask(TypeRunTurn, payload)
	info, err := q.client.EnqueueContext(ctx, task, asynq.MaxRetry(0), asynq.Timeout(q.timeout))
	if err != nil {
		return appErr.Wrap(err, appErr.CodeUnavailable, "enqueue turn failed")
	}
	logger.From(ctx).Info("turn task enqueued", zap.String("run_id", runID.String()), zap.String("task_id", info.ID))
	return nil
}

// TurnExecutor runs a turn; *services.Orchestrator satisfies it.
type TurnExecutor interface {
	ExecuteTurn(ctx context.Context, runID uuid.UUID, in services.TurnInput) (*services.TurnResult, error)
}

// TurnTaskHandler handles run:turn tasks.
type TurnTaskHandler struct {
	exec TurnExecutor
}

func NewTurnTaskHandler(exec TurnExecutor) *TurnTaskHandler {
	return &TurnTaskHandler{exec: exec}
}

func (h *TurnTaskHandler) HandleTurn(ctx context.Context, t *asynq.Task) error {
	var p TurnPayload
	if err := json.Unmarshal(t.Payload(), &p); err != nil {
		logger.L().Error("invalid turn task payload", zap.Error(err))
		return fmt.Errorf("decode payload: %v: %w", err, asynq.SkipRetry)
	}
	id, err := uuid.Parse(p.RunID)
	if err != nil {
		logger.L().Error("invalid run id in task", zap.Error(err))
		return fmt.Errorf("parse run id: %v: %w", err, asynq.SkipRetry)
	}

	logger.L().Info("handling turn task", zap.String("run_id", id.String()), zap.String("action", string(p.Action)))

	res, err := h.exec.ExecuteTurn(ctx, id, services.TurnInput{UserInput: p.UserInput, Action: p.Action})
	if err != nil {
		logger.L().Error("turn failed", zap.String("run_id", id.String()), zap.Error(err))
		switch appErr.CodeOf(err) {
		case appErr.CodeInvalid, appErr.CodeNotFound, appErr.CodeConflict:
			return fmt.Errorf("%w: %w", err, asynq.SkipRetry)
		}
		return err
	}
	logger.L().Info("turn task done", zap.String("run_id", id.String()), zap.String("step", res.Run.State().String()))
	return nil
}

// Register wires the turn handler into mux.
func (h *TurnTaskHandler) Register(mux *asynq.ServeMux) {
	mux.HandleFunc(TypeRunTurn, h.HandleTurn)
}
