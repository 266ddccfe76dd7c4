// Package workflow holds the step progression of a design run.
package workflow

import (
	"fmt"
	"strings"

	appErr "github.com/arch-studio/engine/pkg/errors"
)

// Step is one stage of a design run.
type Step string

const (
	StepRequirements Step = "REQUIREMENTS"
	StepFNFRs        Step = "FNFRS"
	StepEntities     Step = "ENTITIES"
	StepAPI          Step = "API"
	StepHLD          Step = "HLD"
	StepDeepDive     Step = "DEEPDIVE"
	StepConclusion   Step = "CONCLUSION"
)

// Steps lists every step in run order.
var Steps = []Step{StepRequirements, StepFNFRs, StepEntities, StepAPI, StepHLD, StepDeepDive, StepConclusion}

// MaxDeepDives bounds how many times the deep-dive step can be repeated.
const MaxDeepDives = 3

// Valid reports whether s is a known step.
func (s Step) Valid() bool { return s.index() >= 0 }

func (s Step) index() int {
	for i, st := range Steps {
		if st == s {
			return i
		}
	}
	return -1
}

// ParseStep accepts a step name in any case.
func ParseStep(v string) (Step, error) {
	s := Step(strings.ToUpper(strings.TrimSpace(v)))
	if !s.Valid() {
		return "", appErr.Newf(appErr.CodeInvalid, "unknown step %q", v)
	}
	return s, nil
}

// Action is what a turn asks the run to do after the principal has answered.
type Action string

const (
	ActionNext     Action = "NEXT"
	ActionDeepDive Action = "DEEP_DIVE"
)

// ParseAction maps an empty value to NEXT.
func ParseAction(v string) (Action, error) {
	switch a := Action(strings.ToUpper(strings.TrimSpace(v))); a {
	case "":
		return ActionNext, nil
	case ActionNext, ActionDeepDive:
		return a, nil
	}
	return "", appErr.Newf(appErr.CodeInvalid, "unknown action %q", v)
}

// State is the position of a run.
type State struct {
	Step       Step `json:"step"`
	DeepDiveNo int  `json:"deepDiveNo"`
}

// Initial is where every run starts.
func Initial() State { return State{Step: StepRequirements} }

func (s State) String() string {
	if s.Step == StepDeepDive {
		return fmt.Sprintf("%s#%d", s.Step, s.DeepDiveNo)
	}
	return string(s.Step)
}

// Terminal reports whether the run has nowhere left to go.
func (s State) Terminal() bool { return s.Step == StepConclusion }

// Advance moves to the next step. The deep-dive counter is carried unchanged;
// CONCLUSION stays put and reports false.
func (s State) Advance() (State, bool) {
	i := s.Step.index()
	if i < 0 || s.Terminal() {
		return s, false
	}
	s.Step = Steps[i+1]
	return s, true
}

// RepeatDeepDive counts another deep dive. It only moves while at DEEPDIVE below the cap.
func (s State) RepeatDeepDive() (State, bool) {
	if s.Step != StepDeepDive || s.DeepDiveNo >= MaxDeepDives {
		return s, false
	}
	s.DeepDiveNo++
	return s, true
}

// Apply dispatches an action.
func (s State) Apply(a Action) (State, bool, error) {
	switch a {
	case ActionNext, "":
		next, moved := s.Advance()
		return next, moved, nil
	case ActionDeepDive:
		next, moved := s.RepeatDeepDive()
		return next, moved, nil
	}
	return s, false, appErr.Newf(appErr.CodeInvalid, "unknown action %q", a)
}

// CanRepeatDeepDive reports whether a DEEP_DIVE action would change anything.
func (s State) CanRepeatDeepDive() bool {
	return s.Step == StepDeepDive && s.DeepDiveNo < MaxDeepDives
}

// TokenBudget is the completion limit used when generating for this step.
func (s Step) TokenBudget() int {
	switch s {
	case StepRequirements, StepFNFRs, StepEntities:
		return 2048
	case StepAPI, StepHLD, StepDeepDive, StepConclusion:
		return 8192
	}
	return 4096
}
