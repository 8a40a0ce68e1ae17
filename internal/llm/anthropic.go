package llm

import (
	"context"
	"fmt"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/Dryxio/auto-re-agent/internal/config"
)

type anthropicProvider struct {
	api       *anthropic.Client
	model     anthropic.Model
	maxTokens int64
	timeout   time.Duration
}

func newAnthropic(cfg config.LLM) *anthropicProvider {
	opts := []option.RequestOption{}
	if cfg.APIKey != "" {
		opts = append(opts, option.WithAPIKey(cfg.APIKey))
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	client := anthropic.NewClient(opts...)

	maxTokens := int64(cfg.MaxTokens)
	if maxTokens <= 0 {
		maxTokens = 8192
	}
	return &anthropicProvider{
		api:       &client,
		model:     anthropic.Model(cfg.Model),
		maxTokens: maxTokens,
		timeout:   cfg.Timeout,
	}
}

func (p *anthropicProvider) Name() string { return "anthropic" }

func (p *anthropicProvider) complete(ctx context.Context, system, user string) (string, error) {
	if p.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.timeout)
		defer cancel()
	}

	msg, err := p.api.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     p.model,
		MaxTokens: p.maxTokens,
		System: []anthropic.TextBlockParam{
			{Text: system},
		},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(user)),
		},
	})
	if err != nil {
		return "", fmt.Errorf("anthropic API call: %w", err)
	}

	var text string
	for _, block := range msg.Content {
		if block.Type == "text" {
			text = block.Text
			break
		}
	}
	if text == "" {
		return "", fmt.Errorf("no text content in API response")
	}
	return text, nil
}

func (p *anthropicProvider) Draft(ctx context.Context, req DraftRequest) (string, error) {
	reply, err := p.complete(ctx, draftSystemPrompt, buildDraftPrompt(req))
	if err != nil {
		return "", err
	}
	return extractCode(reply), nil
}

func (p *anthropicProvider) Fix(ctx context.Context, req FixRequest) (string, error) {
	reply, err := p.complete(ctx, fixSystemPrompt, buildFixPrompt(req))
	if err != nil {
		return "", err
	}
	return extractCode(reply), nil
}
