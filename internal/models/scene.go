package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/arch-studio/engine/internal/diagram"
)

// SceneVersion is one immutable snapshot of a project's diagram.
// Versions are contiguous per project starting at 1.
type SceneVersion struct {
	ID        uuid.UUID      `gorm:"type:uuid;primaryKey;default:gen_random_uuid()" json:"id"`
	ProjectID uuid.UUID      `gorm:"type:uuid;not null;uniqueIndex:idx_scene_project_version" json:"project_id" validate:"required"`
	Version   int            `gorm:"not null;uniqueIndex:idx_scene_project_version" json:"version" validate:"gte=1"`
	RunID     *uuid.UUID     `gorm:"type:uuid;index" json:"run_id,omitempty"`
	Label     string         `gorm:"type:varchar(200)" json:"label,omitempty"`
	Elements  datatypes.JSON `gorm:"type:jsonb;not null" json:"elements"`
	CreatedAt time.Time      `json:"created_at"`
}

func (s *SceneVersion) BeforeCreate(tx *gorm.DB) error {
	if s.ID == uuid.Nil {
		s.ID = uuid.New()
	}
	return nil
}

// Decode returns the stored elements.
func (s *SceneVersion) Decode() ([]diagram.Element, error) {
	if len(s.Elements) == 0 {
		return []diagram.Element{}, nil
	}
	var out []diagram.Element
	if err := json.Unmarshal(s.Elements, &out); err != nil {
		return nil, err
	}
	if out == nil {
		out = []diagram.Element{}
	}
	return out, nil
}

// NewSceneVersion encodes elements into a snapshot row.
func NewSceneVersion(projectID uuid.UUID, version int, elements []diagram.Element) (*SceneVersion, error) {
	if elements == nil {
		elements = []diagram.Element{}
	}
	b, err := json.Marshal(elements)
	if err != nil {
		return nil, err
	}
	return &SceneVersion{ProjectID: projectID, Version: version, Elements: datatypes.JSON(b)}, nil
}
