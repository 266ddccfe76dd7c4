// Package principal turns a run position and its transcript into a prompt for the
// principal architect and turns the reply into transcript text plus an optional patch.
package principal

import (
	"fmt"
	"strings"

	"github.com/arch-studio/engine/internal/diagram"
	"github.com/arch-studio/engine/internal/workflow"
)

const systemPrompt = `You are the Principal Architect, a senior system design expert guiding a user through a seven step design review:
1. REQUIREMENTS - functional requirements and explicit out-of-scope items
2. FNFRS - non-functional requirements with measurable targets
3. ENTITIES - core data entities, relationships and capacity estimates
4. API - endpoint contracts with request and response examples
5. HLD - high-level architecture (include a diagram patch)
6. DEEPDIVE - deep analysis of critical components with tradeoffs
7. CONCLUSION - final summary of the key decisions

Always answer with a single JSON object and nothing else:
{
  "summary": "what this step established",
  "bullet_points": ["specific point", "specific point"],
  "next_action_hint": "what the user should focus on next",
  "proposed_patch": {
    "adds": [{"id": "api_gw", "type": "rectangle", "text": "API Gateway", "layer": "api", "connectsTo": ["orders"]}],
    "updates": [{"id": "orders", "text": "Order Service"}],
    "deletes": [],
    "label": "Architecture v1"
  }
}

Diagram rules:
- element types: rectangle, ellipse, diamond, arrow, text
- layers: frontend, api, service, cache, data, external; coordinates are optional and assigned automatically
- text is at most 120 characters
- keep patches focused; always propose one at HLD, optionally during DEEPDIVE, omit "proposed_patch" otherwise

Use concrete numbers, name real technologies and state the tradeoffs you make.`

var stepInstructions = map[workflow.Step]string{
	workflow.StepRequirements: "Define 4-6 functional requirements as concrete user actions, list what is out of scope, and ask about unclear edge cases.",
	workflow.StepFNFRs:        "Set measurable non-functional targets: scale (DAU, requests/sec, data volume), latency, availability, consistency, security and compliance.",
	workflow.StepEntities:     "Identify 4-6 core entities with key attributes and relationships, and estimate storage, growth and read/write ratios.",
	workflow.StepAPI:          "Design 4-8 REST endpoints with methods, request/response examples, auth, error codes and rate limits.",
	workflow.StepHLD:          "Lay out 6-10 major components with their responsibilities and data flow. Include a diagram patch with these components.",
	workflow.StepConclusion:   "Summarise the architecture: key decisions, scaling and reliability strategies, tradeoffs, deployment and monitoring.",
}

// Turn is one prior transcript entry as the model sees it.
type Turn struct {
	Role string
	Text string
}

// Input is everything a prompt is built from.
type Input struct {
	State     workflow.State
	Scene     []diagram.Element
	History   []Turn
	UserInput string
}

// SystemPrompt returns the fixed instructions sent with every turn.
func SystemPrompt() string { return systemPrompt }

// RoleFor maps a transcript role to a chat role.
func RoleFor(role string) string {
	switch strings.ToUpper(role) {
	case "PRINCIPAL", "ASSISTANT":
		return "assistant"
	case "SYSTEM":
		return "system"
	default:
		return "user"
	}
}

// BuildPrompt renders the user prompt for one turn.
func BuildPrompt(in Input) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Current step: %s\nDeep dive number: %d\n\n", in.State.Step, in.State.DeepDiveNo)

	if len(in.Scene) > 0 {
		fmt.Fprintf(&b, "Current diagram state (%d elements):\n", len(in.Scene))
		b.WriteString(diagram.Summarize(in.Scene))
		b.WriteString("\n")
	} else {
		b.WriteString("Current diagram: Empty (no elements)\n\n")
	}

	if len(in.History) > 0 {
		b.WriteString("Recent conversation:\n")
		for _, t := range in.History {
			fmt.Fprintf(&b, "%s: %s\n", RoleFor(t.Role), t.Text)
		}
		b.WriteString("\n")
	}

	if in.UserInput != "" {
		fmt.Fprintf(&b, "User input: %s\n\n", in.UserInput)
	}

	b.WriteString(instructions(in.State))
	return b.String()
}

func instructions(s workflow.State) string {
	if s.Step == workflow.StepDeepDive {
		return fmt.Sprintf("Deep dive attempt %d: analyse 2-3 critical areas, compare solution options with explicit tradeoffs, and cover bottlenecks and failure modes. A detailed diagram patch is optional.", s.DeepDiveNo+1)
	}
	if text, ok := stepInstructions[s.Step]; ok {
		return text
	}
	return "Continue the design review at the same level of detail."
}
