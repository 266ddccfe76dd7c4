package handlers

import (
	"context"
	"net/http"

	"github.com/google/uuid"

	"github.com/arch-studio/engine/internal/api/middleware"
	"github.com/arch-studio/engine/internal/api/types"
	"github.com/arch-studio/engine/internal/models"
	"github.com/arch-studio/engine/internal/services"
	"github.com/arch-studio/engine/internal/workflow"
)

type RunsHandler struct {
	svc services.RunService
}

func NewRunsHandler(svc services.RunService) *RunsHandler {
	return &RunsHandler{svc: svc}
}

// Start returns the caller's active run on the project, creating it if there is none.
func (h *RunsHandler) Start(w http.ResponseWriter, r *http.Request) {
	projectID, err := uuidParam(r, "id")
	if err != nil {
		writeError(w, r, err)
		return
	}
	run, created, err := h.svc.StartOrResume(r.Context(), projectID, middleware.GetUserID(r.Context()))
	if err != nil {
		writeError(w, r, err)
		return
	}
	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	writeData(w, r, status, types.NewRunResponse(run))
}

func (h *RunsHandler) Get(w http.ResponseWriter, r *http.Request) {
	runID, err := uuidParam(r, "runID")
	if err != nil {
		writeError(w, r, err)
		return
	}
	run, err := h.svc.GetRun(r.Context(), runID, middleware.GetUserID(r.Context()))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeData(w, r, http.StatusOK, types.NewRunResponse(run))
}

func (h *RunsHandler) Messages(w http.ResponseWriter, r *http.Request) {
	runID, err := uuidParam(r, "runID")
	if err != nil {
		writeError(w, r, err)
		return
	}
	msgs, err := h.svc.ListMessages(r.Context(), runID, middleware.GetUserID(r.Context()))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeData(w, r, http.StatusOK, types.NewMessageResponses(msgs))
}

// Step runs one turn. Queued turns answer 202 and report through the event stream.
func (h *RunsHandler) Step(w http.ResponseWriter, r *http.Request) {
	runID, err := uuidParam(r, "runID")
	if err != nil {
		writeError(w, r, err)
		return
	}
	var req types.StepRequest
	if err := decode(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	res, err := h.svc.Step(r.Context(), runID, middleware.GetUserID(r.Context()), services.TurnInput{
		UserInput: req.UserInput,
		Action:    workflow.Action(req.Action),
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	if res == nil {
		writeData(w, r, http.StatusAccepted, map[string]any{"queued": true, "run_id": runID})
		return
	}
	writeData(w, r, http.StatusOK, types.NewTurnResponse(res))
}

func (h *RunsHandler) Approve(w http.ResponseWriter, r *http.Request) {
	runID, err := uuidParam(r, "runID")
	if err != nil {
		writeError(w, r, err)
		return
	}
	var req types.ApproveRequest
	if err := decode(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	res, err := h.svc.Approve(r.Context(), runID, middleware.GetUserID(r.Context()))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeData(w, r, http.StatusOK, types.ApproveResponse{
		Run:   types.NewRunResponse(res.Run),
		Scene: types.NewSceneResponse(res.Scene),
	})
}

func (h *RunsHandler) Pause(w http.ResponseWriter, r *http.Request) {
	h.setStatus(w, r, h.svc.Pause)
}

func (h *RunsHandler) Resume(w http.ResponseWriter, r *http.Request) {
	h.setStatus(w, r, h.svc.Resume)
}

func (h *RunsHandler) setStatus(w http.ResponseWriter, r *http.Request, apply statusFunc) {
	runID, err := uuidParam(r, "runID")
	if err != nil {
		writeError(w, r, err)
		return
	}
	run, err := apply(r.Context(), runID, middleware.GetUserID(r.Context()))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeData(w, r, http.StatusOK, types.NewRunResponse(run))
}

type statusFunc func(ctx context.Context, runID, userID uuid.UUID) (*models.Run, error)
