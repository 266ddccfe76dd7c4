package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/arch-studio/engine/internal/diagram"
	"github.com/arch-studio/engine/internal/workflow"
)

// Run statuses.
const (
	RunRunning   = "RUNNING"
	RunPaused    = "PAUSED"
	RunCompleted = "COMPLETED"
	RunError     = "ERROR"
)

// Checkpoint carries the single patch awaiting approval.
type Checkpoint struct {
	PendingPatch *diagram.Patch `json:"pendingPatch"`
}

// Run is one guided design session of a user on a project.
// Revision is bumped on every write and guards against lost updates.
type Run struct {
	ID         uuid.UUID                      `gorm:"type:uuid;primaryKey;default:gen_random_uuid()" json:"id"`
	ProjectID  uuid.UUID                      `gorm:"type:uuid;index:idx_runs_project_user;not null" json:"project_id" validate:"required"`
	UserID     uuid.UUID                      `gorm:"type:uuid;index:idx_runs_project_user;not null" json:"user_id" validate:"required"`
	Status     string                         `gorm:"type:varchar(32);index;not null" json:"status" validate:"required,oneof=RUNNING PAUSED COMPLETED ERROR"`
	Step       workflow.Step                  `gorm:"type:varchar(32);not null" json:"step"`
	DeepDiveNo int                            `gorm:"not null;default:0" json:"deep_dive_no" validate:"gte=0,lte=3"`
	Checkpoint datatypes.JSONType[Checkpoint] `gorm:"type:jsonb;not null" json:"checkpoint"`
	Revision   int64                          `gorm:"not null;default:0" json:"revision"`
	CreatedAt  time.Time                      `json:"created_at"`
	UpdatedAt  time.Time                      `json:"updated_at"`
}

func (r *Run) BeforeCreate(tx *gorm.DB) error {
	if r.ID == uuid.Nil {
		r.ID = uuid.New()
	}
	return nil
}

// NewRun starts a run at the first step with an empty checkpoint.
func NewRun(projectID, userID uuid.UUID) *Run {
	s := workflow.Initial()
	return &Run{
		ProjectID:  projectID,
		UserID:     userID,
		Status:     RunRunning,
		Step:       s.Step,
		DeepDiveNo: s.DeepDiveNo,
		Checkpoint: datatypes.NewJSONType(Checkpoint{}),
	}
}

// State is the step position of the run.
func (r *Run) State() workflow.State {
	return workflow.State{Step: r.Step, DeepDiveNo: r.DeepDiveNo}
}

// SetState moves the run to s.
func (r *Run) SetState(s workflow.State) {
	r.Step = s.Step
	r.DeepDiveNo = s.DeepDiveNo
}

// PendingPatch returns the patch awaiting approval, if any.
func (r *Run) PendingPatch() *diagram.Patch {
	return r.Checkpoint.Data().PendingPatch
}

// SetPendingPatch replaces the pending patch. nil clears it.
func (r *Run) SetPendingPatch(p *diagram.Patch) {
	r.Checkpoint = datatypes.NewJSONType(Checkpoint{PendingPatch: p})
}

func (r *Run) IsActive() bool { return r.Status == RunRunning || r.Status == RunPaused }
