// Package llm talks to an OpenAI-compatible chat completion endpoint.
package llm

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"github.com/arch-studio/engine/internal/metrics"
	appErr "github.com/arch-studio/engine/pkg/errors"
	"github.com/arch-studio/engine/pkg/logger"
)

// Request is one generation: a system prompt, a user prompt and a completion budget.
type Request struct {
	System    string
	Prompt    string
	MaxTokens int
}

// Generator produces text for a prompt. Implementations return *errors.AppError with
// CodeUpstream when the remote side fails.
type Generator interface {
	Generate(ctx context.Context, req Request) (string, error)
}

type Config struct {
	APIKey      string
	BaseURL     string
	Model       string
	Timeout     time.Duration
	Temperature float32
}

// OpenAIClient implements Generator with go-openai.
type OpenAIClient struct {
	client      *openai.Client
	model       string
	timeout     time.Duration
	temperature float32
}

var _ Generator = (*OpenAIClient)(nil)

func NewOpenAIClient(cfg Config) (*OpenAIClient, error) {
	if cfg.APIKey == "" {
		return nil, appErr.New(appErr.CodeInvalid, "LLM_API_KEY is not set")
	}
	oc := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		oc.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	logger.L().Info("llm client initialised", zap.String("model", cfg.Model), zap.String("base_url", oc.BaseURL))
	return &OpenAIClient{
		client:      openai.NewClientWithConfig(oc),
		model:       cfg.Model,
		timeout:     cfg.Timeout,
		temperature: cfg.Temperature,
	}, nil
}

func (c *OpenAIClient) Generate(ctx context.Context, req Request) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	cr := openai.ChatCompletionRequest{
		Model:       c.model,
		Temperature: c.temperature,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: req.System},
			{Role: openai.ChatMessageRoleUser, Content: req.Prompt},
		},
	}
	if req.MaxTokens > 0 {
		cr.MaxCompletionTokens = req.MaxTokens
	}

	start := time.Now()
	resp, err := c.client.CreateChatCompletion(ctx, cr)
	if err != nil {
		metrics.GenerationSeconds.WithLabelValues("error").Observe(time.Since(start).Seconds())
		logger.From(ctx).Error("chat completion failed", zap.Error(err))
		if errors.Is(err, context.DeadlineExceeded) {
			return "", appErr.Wrap(err, appErr.CodeUpstream, "text generation timed out")
		}
		return "", appErr.Upstream(err)
	}
	metrics.GenerationSeconds.WithLabelValues("ok").Observe(time.Since(start).Seconds())

	if len(resp.Choices) == 0 {
		return "", appErr.Upstream(errors.New("no choices returned"))
	}
	choice := resp.Choices[0]
	logger.From(ctx).Debug("chat completion finished",
		zap.String("finish_reason", string(choice.FinishReason)),
		zap.Int("completion_tokens", resp.Usage.CompletionTokens))
	return choice.Message.Content, nil
}
