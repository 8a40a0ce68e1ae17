package llm

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Dryxio/auto-re-agent/internal/config"
	"github.com/Dryxio/auto-re-agent/internal/models"
)

func TestNew(t *testing.T) {
	p, err := New(config.LLM{Provider: "anthropic", Model: "claude-sonnet-4-20250514"})
	require.NoError(t, err)
	assert.Equal(t, "anthropic", p.Name())

	p, err = New(config.LLM{Provider: "openai", Model: "gpt-4o"})
	require.NoError(t, err)
	assert.Equal(t, "openai", p.Name())

	p, err = New(config.LLM{Provider: "openai-compat", BaseURL: "http://localhost:11434/v1", Model: "qwen2.5-coder"})
	require.NoError(t, err)
	assert.Equal(t, "openai-compat", p.Name())

	_, err = New(config.LLM{Provider: "bard"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), `unknown llm provider "bard"`)
}

func TestIsTransient(t *testing.T) {
	transient := []error{
		errors.New("429 Too Many Requests"),
		errors.New("anthropic: rate limit exceeded"),
		errors.New("rate_limit_error"),
		errors.New("overloaded_error: Overloaded"),
		errors.New("500 Internal Server Error"),
		errors.New("502 Bad Gateway"),
		errors.New("503 Service Unavailable"),
		errors.New("529 overloaded"),
		errors.New("read tcp: connection reset by peer"),
		errors.New("the service is temporarily unavailable"),
	}
	for _, err := range transient {
		assert.True(t, IsTransient(err), "expected transient: %v", err)
	}

	permanent := []error{
		nil,
		errors.New("401 Unauthorized"),
		errors.New("invalid_request_error: max_tokens too large"),
		context.Canceled,
		context.DeadlineExceeded,
		fmt.Errorf("call llm: %w", context.DeadlineExceeded),
	}
	for _, err := range permanent {
		assert.False(t, IsTransient(err), "expected permanent: %v", err)
	}
}

func draftRequest() DraftRequest {
	return DraftRequest{
		Key: models.FunctionKey{Address: "006f5900", Class: "CEntity", Function: "Render"},
		Ref: &models.Reference{
			Address:     "006f5900",
			Decompiled:  "void FUN_006f5900(int *param_1) {\n  FUN_00543210(param_1);\n}",
			Callees:     []string{"FUN_00543210", "FUN_00551e70"},
			DecompileOK: true,
			AsmOK:       true,
		},
	}
}

func TestBuildDraftPrompt(t *testing.T) {
	req := draftRequest()
	req.Existing = "plugin::CallMethod<0x6F5900>(this);"
	req.Callees = []Snippet{{Name: "CEntity::SetupLighting", Text: "m_pLights->Apply();"}}

	prompt := buildDraftPrompt(req)

	assert.Contains(t, prompt, "Function: CEntity::Render")
	assert.Contains(t, prompt, "Address: 0x006f5900")
	assert.Contains(t, prompt, "Current source (being replaced, reference only):")
	assert.Contains(t, prompt, "plugin::CallMethod<0x6F5900>(this);")
	assert.Contains(t, prompt, "Decompiled reference:")
	assert.Contains(t, prompt, "FUN_006f5900")
	assert.Contains(t, prompt, "Callees seen in the disassembly (2): FUN_00543210, FUN_00551e70")
	assert.Contains(t, prompt, "Existing source for CEntity::SetupLighting:")
	assert.Contains(t, prompt, "Write the reconstruction now.")
	assert.NotContains(t, prompt, "NaN")
}

func TestBuildDraftPrompt_Minimal(t *testing.T) {
	prompt := buildDraftPrompt(DraftRequest{
		Key: models.FunctionKey{Address: "00401000", Function: "RenderScene"},
	})

	assert.Contains(t, prompt, "Function: RenderScene")
	assert.NotContains(t, prompt, "Current source")
	assert.NotContains(t, prompt, "Decompiled reference:")
	assert.NotContains(t, prompt, "Callees seen")
}

func TestBuildDraftPrompt_NaNWarning(t *testing.T) {
	req := draftRequest()
	req.Ref.HasNaNCheck = true
	prompt := buildDraftPrompt(req)
	assert.Contains(t, prompt, "checks for NaN")
}

func TestBuildFixPrompt(t *testing.T) {
	prompt := buildFixPrompt(FixRequest{
		Key:       models.FunctionKey{Address: "006f5900", Class: "CEntity", Function: "Render"},
		Ref:       draftRequest().Ref,
		Candidate: "void CEntity::Render() {\n    DrawModel(m_pModel);\n}",
		Issues:    "1. [YELLOW] short-body: body has 1 lines, minimum is 6",
	})

	assert.Contains(t, prompt, "Function: CEntity::Render")
	assert.Contains(t, prompt, "Current candidate:")
	assert.Contains(t, prompt, "DrawModel(m_pModel);")
	assert.Contains(t, prompt, "Review findings:")
	assert.Contains(t, prompt, "1. [YELLOW] short-body")
	assert.Contains(t, prompt, "Return the revised function now.")
}

func TestExtractCode(t *testing.T) {
	body := "void CEntity::Render() {\n    DrawModel(m_pModel);\n}"

	tests := []struct {
		name  string
		reply string
		want  string
	}{
		{
			name:  "cpp fence",
			reply: "Here is the reconstruction:\n```cpp\n" + body + "\n```\nLet me know if it needs changes.",
			want:  body,
		},
		{
			name:  "bare fence",
			reply: "```\n" + body + "\n```",
			want:  body,
		},
		{
			name:  "c fence",
			reply: "```c\n" + body + "\n```",
			want:  body,
		},
		{
			name:  "cpp fence preferred over bare",
			reply: "```\nnot the answer\n```\n```cpp\n" + body + "\n```",
			want:  body,
		},
		{
			name:  "no fence returns raw reply",
			reply: "  " + body + "  ",
			want:  body,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, extractCode(tt.reply))
		})
	}
}
