package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/arch-studio/engine/internal/workflow"
)

// Message roles.
const (
	RoleUser      = "USER"
	RolePrincipal = "PRINCIPAL"
	RoleSystem    = "SYSTEM"
)

type MessageContent struct {
	Text string        `json:"text"`
	Step workflow.Step `json:"step"`
}

// Message is an immutable transcript entry of a run.
type Message struct {
	ID        uuid.UUID                          `gorm:"type:uuid;primaryKey;default:gen_random_uuid()" json:"id"`
	RunID     uuid.UUID                          `gorm:"type:uuid;not null;index:idx_messages_run_created" json:"run_id" validate:"required"`
	Role      string                             `gorm:"type:varchar(16);not null" json:"role" validate:"required,oneof=USER PRINCIPAL SYSTEM"`
	Content   datatypes.JSONType[MessageContent] `gorm:"type:jsonb;not null" json:"content"`
	CreatedAt time.Time                          `gorm:"index:idx_messages_run_created" json:"created_at"`
}

func (m *Message) BeforeCreate(tx *gorm.DB) error {
	if m.ID == uuid.Nil {
		m.ID = uuid.New()
	}
	return nil
}

func NewMessage(runID uuid.UUID, role, text string, step workflow.Step) *Message {
	return &Message{
		RunID:   runID,
		Role:    role,
		Content: datatypes.NewJSONType(MessageContent{Text: text, Step: step}),
	}
}

// Text is the message body.
func (m *Message) Text() string { return m.Content.Data().Text }
