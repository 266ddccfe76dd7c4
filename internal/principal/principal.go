package principal

import (
	"context"

	"go.uber.org/zap"

	"github.com/arch-studio/engine/internal/diagram"
	"github.com/arch-studio/engine/internal/llm"
	"github.com/arch-studio/engine/pkg/logger"
)

// Outcome is what a turn records: transcript text and, possibly, a new pending patch.
type Outcome struct {
	Text     string
	Patch    *diagram.Patch
	Degraded bool
	// Rejected is set when a proposed patch was dropped at the boundary.
	Rejected string
	// Err is the upstream failure when the generator could not be reached. It is
	// informational; the outcome is still usable.
	Err error
}

// Principal asks the generator for a step response and parses it.
type Principal struct {
	gen    llm.Generator
	parser *Parser
}

func New(gen llm.Generator, v *diagram.Validator) (*Principal, error) {
	parser, err := NewParser(v)
	if err != nil {
		return nil, err
	}
	return &Principal{gen: gen, parser: parser}, nil
}

// Respond never returns an error: generator failures become the fallback text.
func (p *Principal) Respond(ctx context.Context, in Input) Outcome {
	log := logger.From(ctx)
	prompt := BuildPrompt(in)
	log.Debug("principal prompt built", zap.String("step", in.State.String()), zap.Int("prompt_len", len(prompt)))

	raw, err := p.gen.Generate(ctx, llm.Request{
		System:    systemPrompt,
		Prompt:    prompt,
		MaxTokens: in.State.Step.TokenBudget(),
	})
	if err != nil {
		log.Warn("principal generation failed, using fallback", zap.Error(err))
		return Outcome{Text: FallbackText, Degraded: true, Err: err}
	}

	parsed := p.parser.Parse(raw)
	if parsed.Degraded {
		log.Warn("principal reply was not valid JSON", zap.Int("response_len", len(raw)))
	}
	if parsed.Rejected != "" {
		log.Warn("principal patch dropped", zap.String("reason", parsed.Rejected))
	}
	return Outcome{
		Text:     Transcript(parsed.Reply),
		Patch:    parsed.Patch,
		Degraded: parsed.Degraded,
		Rejected: parsed.Rejected,
	}
}
