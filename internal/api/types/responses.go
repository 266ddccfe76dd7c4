package types

import (
	"time"

	"github.com/google/uuid"

	"github.com/arch-studio/engine/internal/diagram"
	"github.com/arch-studio/engine/internal/models"
	"github.com/arch-studio/engine/internal/services"
	"github.com/arch-studio/engine/internal/workflow"
)

type APIResponse struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   *APIError   `json:"error,omitempty"`
	Meta    *Meta       `json:"meta,omitempty"`
}

type APIError struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}

type Meta struct {
	RequestID string `json:"request_id,omitempty"`
	Page      int    `json:"page,omitempty"`
	PageSize  int    `json:"page_size,omitempty"`
	Total     int64  `json:"total,omitempty"`
}

type RunResponse struct {
	ID           uuid.UUID      `json:"id"`
	ProjectID    uuid.UUID      `json:"project_id"`
	Status       string         `json:"status"`
	Step         workflow.Step  `json:"step"`
	DeepDiveNo   int            `json:"deep_dive_no"`
	PendingPatch *diagram.Patch `json:"pending_patch"`
	Revision     int64          `json:"revision"`
	CreatedAt    time.Time      `json:"created_at"`
	UpdatedAt    time.Time      `json:"updated_at"`
}

func NewRunResponse(r *models.Run) RunResponse {
	return RunResponse{
		ID:           r.ID,
		ProjectID:    r.ProjectID,
		Status:       r.Status,
		Step:         r.Step,
		DeepDiveNo:   r.DeepDiveNo,
		PendingPatch: r.PendingPatch(),
		Revision:     r.Revision,
		CreatedAt:    r.CreatedAt,
		UpdatedAt:    r.UpdatedAt,
	}
}

type MessageResponse struct {
	ID        uuid.UUID     `json:"id"`
	Role      string        `json:"role"`
	Text      string        `json:"text"`
	Step      workflow.Step `json:"step"`
	CreatedAt time.Time     `json:"created_at"`
}

func NewMessageResponses(msgs []models.Message) []MessageResponse {
	out := make([]MessageResponse, 0, len(msgs))
	for i := range msgs {
		m := &msgs[i]
		out = append(out, MessageResponse{ID: m.ID, Role: m.Role, Text: m.Text(), Step: m.Content.Data().Step, CreatedAt: m.CreatedAt})
	}
	return out
}

// TurnResponse is returned by a synchronous step.
type TurnResponse struct {
	Run      RunResponse       `json:"run"`
	Messages []MessageResponse `json:"messages"`
	Moved    bool              `json:"moved"`
	Degraded bool              `json:"degraded"`
	Proposed bool              `json:"patch_proposed"`
}

func NewTurnResponse(res *services.TurnResult) TurnResponse {
	return TurnResponse{
		Run:      NewRunResponse(res.Run),
		Messages: NewMessageResponses(res.Messages),
		Moved:    res.Moved,
		Degraded: res.Degraded,
		Proposed: res.Proposed,
	}
}

type SceneResponse struct {
	ProjectID uuid.UUID        `json:"project_id"`
	Version   int              `json:"version"`
	Label     string           `json:"label,omitempty"`
	CreatedAt *time.Time       `json:"created_at,omitempty"`
	Scene     diagram.Document `json:"scene"`
}

func NewSceneResponse(s *services.Scene) SceneResponse {
	out := SceneResponse{ProjectID: s.ProjectID, Version: s.Version, Label: s.Label, Scene: s.Document()}
	if !s.CreatedAt.IsZero() {
		at := s.CreatedAt
		out.CreatedAt = &at
	}
	return out
}

type SceneVersionResponse struct {
	Version   int        `json:"version"`
	Label     string     `json:"label,omitempty"`
	RunID     *uuid.UUID `json:"run_id,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
}

func NewSceneVersionResponses(list []models.SceneVersion) []SceneVersionResponse {
	out := make([]SceneVersionResponse, 0, len(list))
	for _, v := range list {
		out = append(out, SceneVersionResponse{Version: v.Version, Label: v.Label, RunID: v.RunID, CreatedAt: v.CreatedAt})
	}
	return out
}

// ApproveResponse carries the new scene and the run with its patch cleared.
type ApproveResponse struct {
	Run   RunResponse   `json:"run"`
	Scene SceneResponse `json:"scene"`
}
