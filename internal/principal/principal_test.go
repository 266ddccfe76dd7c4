package principal

import (
	"context"
	"errors"
	"os"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/arch-studio/engine/internal/diagram"
	"github.com/arch-studio/engine/internal/llm"
	"github.com/arch-studio/engine/internal/workflow"
	appErr "github.com/arch-studio/engine/pkg/errors"
	"github.com/arch-studio/engine/pkg/logger"
)

func TestMain(m *testing.M) {
	logger.UseNop()
	os.Exit(m.Run())
}

type mockGenerator struct{ mock.Mock }

func (m *mockGenerator) Generate(ctx context.Context, req llm.Request) (string, error) {
	args := m.Called(ctx, req)
	return args.String(0), args.Error(1)
}

func newParser(t *testing.T) *Parser {
	t.Helper()
	p, err := NewParser(diagram.NewValidator(diagram.DefaultMaxElements))
	require.NoError(t, err)
	return p
}

func TestBuildPromptEmptyScene(t *testing.T) {
	got := BuildPrompt(Input{
		State: workflow.State{Step: workflow.StepAPI},
		History: []Turn{
			{Role: "USER", Text: "build a url shortener"},
			{Role: "PRINCIPAL", Text: "Sure."},
		},
		UserInput: "add analytics",
	})
	assert.True(t, strings.HasPrefix(got, "Current step: API\nDeep dive number: 0\n\nCurrent diagram: Empty (no elements)\n\n"))
	assert.Contains(t, got, "Recent conversation:\nuser: build a url shortener\nassistant: Sure.\n\n")
	assert.Contains(t, got, "User input: add analytics\n\n")
	assert.True(t, strings.HasSuffix(got, stepInstructions[workflow.StepAPI]))
}

func TestBuildPromptSummarisesScene(t *testing.T) {
	scene := []diagram.Element{{ID: "a", Type: diagram.Rectangle, X: 10, Y: 20, Width: 140, Height: 80}}
	got := BuildPrompt(Input{State: workflow.State{Step: workflow.StepDeepDive, DeepDiveNo: 1}, Scene: scene})
	assert.Contains(t, got, "Current diagram state (1 elements):\n- 1 rectangle(s) (no text)\n")
	assert.Contains(t, got, "Deep dive attempt 2")
	assert.NotContains(t, got, "Recent conversation")
}

func TestParseValidReplyWithPatch(t *testing.T) {
	raw := "```json\n" + `{
		"summary": "Core services",
		"bullet_points": ["gateway fronts services"],
		"next_action_hint": "review the diagram",
		"proposed_patch": {"adds": [{"type": "rectangle", "text": "API Gateway", "layer": "api"}], "label": "v1"}
	}` + "\n```"
	got := newParser(t).Parse(raw)
	assert.False(t, got.Degraded)
	assert.Empty(t, got.Rejected)
	require.NotNil(t, got.Patch)
	assert.Equal(t, "v1", got.Patch.Label)
	assert.Equal(t, diagram.LayerAPI, got.Patch.Adds[0].Layer)
}

func TestParseWithoutPatch(t *testing.T) {
	got := newParser(t).Parse(`{"summary": "ok", "bullet_points": [], "next_action_hint": "", "proposed_patch": null}`)
	assert.False(t, got.Degraded)
	assert.Nil(t, got.Patch)
	assert.Empty(t, got.Rejected)
}

func TestParseTruncatedReplyFallsBack(t *testing.T) {
	raw := `{"summary": "` + strings.Repeat("a", 300)
	got := newParser(t).Parse(raw)
	assert.True(t, got.Degraded)
	assert.Nil(t, got.Patch)
	assert.Equal(t, raw[:200]+"...", got.Reply.Summary)
	assert.Equal(t, []string{"JSON parsing failed - likely due to truncated response"}, got.Reply.BulletPoints)
	assert.Equal(t, "Please proceed to the next step", got.Reply.NextActionHint)
}

func TestParseShortNonJSONKeepsWholeText(t *testing.T) {
	got := newParser(t).Parse("plain words")
	assert.True(t, got.Degraded)
	assert.Equal(t, "plain words", got.Reply.Summary)
}

func TestParseWrongShapeFallsBack(t *testing.T) {
	got := newParser(t).Parse(`{"summary": 42}`)
	assert.True(t, got.Degraded)
}

func TestParseDropsInvalidPatch(t *testing.T) {
	p := newParser(t)

	got := p.Parse(`{"summary": "s", "proposed_patch": {"adds": [{"type": "hexagon"}]}}`)
	assert.False(t, got.Degraded)
	assert.Nil(t, got.Patch)
	assert.Contains(t, got.Rejected, "Invalid element type: hexagon")

	got = p.Parse(`{"summary": "s", "proposed_patch": {"adds": [{"type": "rectangle", "x": "left"}]}}`)
	assert.Nil(t, got.Patch)
	assert.NotEmpty(t, got.Rejected)

	got = p.Parse(`{"summary": "s", "proposed_patch": {"adds": [{"type": "rectangle", "x": 9000}]}}`)
	assert.Nil(t, got.Patch)
	assert.Contains(t, got.Rejected, "Coordinates out of range")
}

func TestTranscript(t *testing.T) {
	got := Transcript(Reply{
		Summary:        "Done",
		BulletPoints:   []string{"one", "two"},
		NextActionHint: "go on",
	})
	assert.Equal(t, "Done\n\nKey points:\n1. one\n2. two\n\nNext: go on", got)
	assert.Equal(t, "Analysis completed.", Transcript(Reply{}))
}

func TestRespondUsesStepBudget(t *testing.T) {
	gen := new(mockGenerator)
	gen.On("Generate", mock.Anything, mock.MatchedBy(func(r llm.Request) bool {
		return r.MaxTokens == 8192 && r.System == SystemPrompt() && strings.Contains(r.Prompt, "Current step: HLD")
	})).Return(`{"summary": "arch", "proposed_patch": {"adds": [{"type": "rectangle", "text": "Web"}]}}`, nil).Once()

	p, err := New(gen, diagram.NewValidator(0))
	require.NoError(t, err)
	out := p.Respond(context.Background(), Input{State: workflow.State{Step: workflow.StepHLD}})

	assert.Equal(t, "arch", out.Text)
	require.NotNil(t, out.Patch)
	assert.False(t, out.Degraded)
	gen.AssertExpectations(t)
}

func TestRespondRecoversFromUpstreamFailure(t *testing.T) {
	gen := new(mockGenerator)
	gen.On("Generate", mock.Anything, mock.Anything).Return("", appErr.Upstream(errors.New("503"))).Once()

	p, err := New(gen, diagram.NewValidator(0))
	require.NoError(t, err)
	out := p.Respond(context.Background(), Input{State: workflow.Initial()})

	assert.Equal(t, FallbackText, out.Text)
	assert.Nil(t, out.Patch)
	assert.True(t, out.Degraded)
	assert.True(t, appErr.IsCode(out.Err, appErr.CodeUpstream))
}
