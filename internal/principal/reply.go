package principal

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	jsonschema "github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/arch-studio/engine/internal/diagram"
)

// FallbackText is recorded when no reply could be obtained at all.
const FallbackText = "I encountered an issue processing your request. Please try again."

const (
	truncatedNote = "JSON parsing failed - likely due to truncated response"
	fallbackHint  = "Please proceed to the next step"
	summaryLimit  = 200
)

// Reply is the JSON contract of the principal.
type Reply struct {
	Summary        string          `json:"summary"`
	BulletPoints   []string        `json:"bullet_points"`
	NextActionHint string          `json:"next_action_hint"`
	ProposedPatch  json.RawMessage `json:"proposed_patch,omitempty"`
}

// Parsed is a reply after boundary checks.
type Parsed struct {
	Reply Reply
	// Patch is nil when no usable patch was proposed.
	Patch *diagram.Patch
	// Degraded is set when the raw text was not a usable reply and Reply was synthesised.
	Degraded bool
	// Rejected explains why a proposed patch was dropped.
	Rejected string
}

// Parser validates raw model output: JSON syntax, then the reply schema, then the
// patch schema and finally the diagram validator.
type Parser struct {
	schemas   *schemas
	validator *diagram.Validator
}

func NewParser(v *diagram.Validator) (*Parser, error) {
	s, err := compileSchemas()
	if err != nil {
		return nil, err
	}
	return &Parser{schemas: s, validator: v}, nil
}

// Parse never fails; unusable output yields a degraded reply without a patch.
func (p *Parser) Parse(raw string) Parsed {
	body := extractJSON(raw)
	doc, err := jsonschema.UnmarshalJSON(strings.NewReader(body))
	if err != nil || p.schemas.reply.Validate(doc) != nil {
		return fallback(raw)
	}

	var r Reply
	if err := json.Unmarshal([]byte(body), &r); err != nil {
		return fallback(raw)
	}
	out := Parsed{Reply: r}

	if len(r.ProposedPatch) == 0 || bytes.Equal(bytes.TrimSpace(r.ProposedPatch), []byte("null")) {
		return out
	}
	obj, _ := doc.(map[string]any)
	if err := p.schemas.patch.Validate(obj["proposed_patch"]); err != nil {
		out.Rejected = "proposed patch does not match the patch shape"
		return out
	}
	var patch diagram.Patch
	if err := json.Unmarshal(r.ProposedPatch, &patch); err != nil {
		out.Rejected = "proposed patch could not be decoded"
		return out
	}
	if patch.IsEmpty() {
		return out
	}
	if err := p.validator.Validate(patch); err != nil {
		out.Rejected = err.Error()
		return out
	}
	out.Patch = &patch
	return out
}

// extractJSON strips markdown fences and any chatter around the outermost object.
func extractJSON(raw string) string {
	s := strings.TrimSpace(raw)
	if strings.HasPrefix(s, "```") {
		if i := strings.IndexByte(s, '\n'); i >= 0 {
			s = s[i+1:]
		}
		s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	}
	start, end := strings.IndexByte(s, '{'), strings.LastIndexByte(s, '}')
	if start >= 0 && end > start {
		return s[start : end+1]
	}
	return s
}

func fallback(raw string) Parsed {
	summary := raw
	if r := []rune(raw); len(r) > summaryLimit {
		summary = string(r[:summaryLimit]) + "..."
	}
	return Parsed{
		Reply: Reply{
			Summary:        summary,
			BulletPoints:   []string{truncatedNote},
			NextActionHint: fallbackHint,
		},
		Degraded: true,
	}
}

// Transcript renders a reply as the text stored in the run transcript.
func Transcript(r Reply) string {
	var b strings.Builder
	if r.Summary != "" {
		b.WriteString(r.Summary)
	} else {
		b.WriteString("Analysis completed.")
	}
	if len(r.BulletPoints) > 0 {
		b.WriteString("\n\nKey points:\n")
		for i, point := range r.BulletPoints {
			fmt.Fprintf(&b, "%d. %s\n", i+1, point)
		}
	}
	if r.NextActionHint != "" {
		fmt.Fprintf(&b, "\nNext: %s", r.NextActionHint)
	}
	return b.String()
}
