package types

type ProjectCreateRequest struct {
	Name        string `json:"name" validate:"required,max=200"`
	Description string `json:"description" validate:"max=2000"`
}

type ProjectUpdateRequest struct {
	Name        *string `json:"name" validate:"omitempty,min=1,max=200"`
	Description *string `json:"description" validate:"omitempty,max=2000"`
}

// StepRequest drives one turn. An empty action means NEXT.
type StepRequest struct {
	UserInput string `json:"userInput" validate:"max=10000"`
	Action    string `json:"action" validate:"omitempty,oneof=NEXT DEEP_DIVE next deep_dive"`
}

type ApproveRequest struct {
	Type string `json:"type" validate:"required,eq=PATCH"`
}
