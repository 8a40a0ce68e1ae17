package llm

import (
	"context"
	"fmt"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/Dryxio/auto-re-agent/internal/config"
)

// openaiProvider serves both the hosted OpenAI API and any OpenAI-compatible
// endpoint reachable through a base URL (local inference servers included).
type openaiProvider struct {
	client      openai.Client
	name        string
	model       string
	maxTokens   int64
	temperature float64
	timeout     time.Duration
}

func newOpenAI(cfg config.LLM) *openaiProvider {
	opts := []option.RequestOption{}
	if cfg.APIKey != "" {
		opts = append(opts, option.WithAPIKey(cfg.APIKey))
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}

	maxTokens := int64(cfg.MaxTokens)
	if maxTokens <= 0 {
		maxTokens = 8192
	}
	return &openaiProvider{
		client:      openai.NewClient(opts...),
		name:        cfg.Provider,
		model:       cfg.Model,
		maxTokens:   maxTokens,
		temperature: cfg.Temperature,
		timeout:     cfg.Timeout,
	}
}

func (p *openaiProvider) Name() string { return p.name }

func (p *openaiProvider) complete(ctx context.Context, system, user string) (string, error) {
	if p.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.timeout)
		defer cancel()
	}

	params := openai.ChatCompletionNewParams{
		Model: p.model,
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(system),
			openai.UserMessage(user),
		},
		MaxCompletionTokens: openai.Int(p.maxTokens),
	}
	if p.temperature > 0 {
		params.Temperature = openai.Float(p.temperature)
	}

	resp, err := p.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return "", fmt.Errorf("openai API call: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("no choices in API response")
	}
	text := resp.Choices[0].Message.Content
	if text == "" {
		return "", fmt.Errorf("no text content in API response")
	}
	return text, nil
}

func (p *openaiProvider) Draft(ctx context.Context, req DraftRequest) (string, error) {
	reply, err := p.complete(ctx, draftSystemPrompt, buildDraftPrompt(req))
	if err != nil {
		return "", err
	}
	return extractCode(reply), nil
}

func (p *openaiProvider) Fix(ctx context.Context, req FixRequest) (string, error) {
	reply, err := p.complete(ctx, fixSystemPrompt, buildFixPrompt(req))
	if err != nil {
		return "", err
	}
	return extractCode(reply), nil
}
