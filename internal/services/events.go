package services

import (
	"github.com/arch-studio/engine/internal/diagram"
	"github.com/arch-studio/engine/internal/models"
	"github.com/arch-studio/engine/internal/workflow"
)

// RunStatus is the payload of run.status events.
type RunStatus struct {
	Step         workflow.Step  `json:"step"`
	DeepDiveNo   int            `json:"deepDiveNo"`
	Status       string         `json:"status"`
	PendingPatch *diagram.Patch `json:"pendingPatch"`
}

func StatusOf(run *models.Run) RunStatus {
	return RunStatus{
		Step:         run.Step,
		DeepDiveNo:   run.DeepDiveNo,
		Status:       run.Status,
		PendingPatch: run.PendingPatch(),
	}
}

// SceneUpdate is the payload of scene.updated events.
type SceneUpdate struct {
	Version int              `json:"version"`
	Scene   diagram.Document `json:"scene"`
}
