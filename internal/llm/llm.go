// Package llm is the propose capability: providers that draft a source
// reconstruction from a decompiled reference and revise it against review
// findings. The provider set is closed and resolved once from configuration.
package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/Dryxio/auto-re-agent/internal/config"
	"github.com/Dryxio/auto-re-agent/internal/models"
)

// Snippet is one named piece of context handed to a draft call.
type Snippet struct {
	Name string
	Text string
}

// DraftRequest carries everything a provider needs to draft a candidate.
type DraftRequest struct {
	Key      models.FunctionKey
	Ref      *models.Reference
	Existing string    // current source body when one is indexed, reference only
	Callees  []Snippet // source of callees already reconstructed
}

// FixRequest asks for a revised candidate addressing the listed issues.
type FixRequest struct {
	Key       models.FunctionKey
	Ref       *models.Reference
	Candidate string
	Issues    string // numbered findings from the last review round
}

// Provider drafts and fixes candidates. Implementations return the bare
// function source with any reply fencing already stripped.
type Provider interface {
	Draft(ctx context.Context, req DraftRequest) (string, error)
	Fix(ctx context.Context, req FixRequest) (string, error)
	Name() string
}

// New resolves the configured provider. The set is closed: anthropic,
// openai, and openai-compat (an OpenAI-style API at a custom base URL).
func New(cfg config.LLM) (Provider, error) {
	switch cfg.Provider {
	case "anthropic":
		return newAnthropic(cfg), nil
	case "openai", "openai-compat":
		return newOpenAI(cfg), nil
	default:
		return nil, fmt.Errorf("unknown llm provider %q", cfg.Provider)
	}
}

// IsTransient reports whether a provider error is worth retrying: rate
// limits, overload, and server-side failures. Context cancellation and
// timeouts are not retried (a timeout is a capability failure), nor are
// auth and request-shape errors.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, marker := range []string{
		"429", "rate limit", "rate_limit", "overloaded",
		"500", "502", "503", "504", "529",
		"internal server", "connection reset", "temporarily unavailable",
	} {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}

const draftSystemPrompt = `You reconstruct original C++ source from decompiled binary code for a 1:1 re-implementation project. Given Ghidra decompiler output for one function, write the function as the original developers plausibly wrote it.

Rules:
- Write exactly one function definition with the qualified name you are given
- Match the decompiled control flow and call structure faithfully; do not invent behavior the decompiled code does not show
- Preserve floating-point comparisons and NaN checks exactly as the decompiled code performs them
- Use the project's existing helpers where the callee context shows them instead of re-deriving their bodies
- No placeholder or stub calls: the body must be a real implementation
- Reply with a single ` + "```cpp" + ` code block and nothing else`

const fixSystemPrompt = `You revise a C++ function reconstruction that failed automated review. You receive the current candidate, the decompiled reference it must match, and the numbered review findings.

Rules:
- Address every finding; the findings are authoritative
- Keep the parts of the candidate that were not flagged
- Return the complete revised function definition, not a diff
- Reply with a single ` + "```cpp" + ` code block and nothing else`

// buildDraftPrompt renders the user prompt for a draft call.
func buildDraftPrompt(req DraftRequest) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Function: %s\nAddress: %s\n", req.Key.QualifiedName(), models.FormatAddress(req.Key.Address))
	if req.Existing != "" {
		sb.WriteString("\nCurrent source (being replaced, reference only):\n```cpp\n")
		sb.WriteString(strings.TrimSpace(req.Existing))
		sb.WriteString("\n```\n")
	}
	if req.Ref != nil {
		if req.Ref.Decompiled != "" {
			sb.WriteString("\nDecompiled reference:\n```c\n")
			sb.WriteString(strings.TrimSpace(req.Ref.Decompiled))
			sb.WriteString("\n```\n")
		}
		if len(req.Ref.Callees) > 0 {
			fmt.Fprintf(&sb, "\nCallees seen in the disassembly (%d): %s\n",
				len(req.Ref.Callees), strings.Join(req.Ref.Callees, ", "))
		}
		if req.Ref.HasNaNCheck {
			sb.WriteString("The decompiled code checks for NaN; the reconstruction must too.\n")
		}
	}
	for _, c := range req.Callees {
		fmt.Fprintf(&sb, "\nExisting source for %s:\n```cpp\n%s\n```\n", c.Name, strings.TrimSpace(c.Text))
	}
	sb.WriteString("\nWrite the reconstruction now.")
	return sb.String()
}

// buildFixPrompt renders the user prompt for a fix call.
func buildFixPrompt(req FixRequest) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Function: %s\nAddress: %s\n", req.Key.QualifiedName(), models.FormatAddress(req.Key.Address))
	if req.Ref != nil && req.Ref.Decompiled != "" {
		sb.WriteString("\nDecompiled reference:\n```c\n")
		sb.WriteString(strings.TrimSpace(req.Ref.Decompiled))
		sb.WriteString("\n```\n")
	}
	sb.WriteString("\nCurrent candidate:\n```cpp\n")
	sb.WriteString(strings.TrimSpace(req.Candidate))
	sb.WriteString("\n```\n")
	sb.WriteString("\nReview findings:\n")
	sb.WriteString(req.Issues)
	sb.WriteString("\n\nReturn the revised function now.")
	return sb.String()
}

// extractCode pulls the function source out of a provider reply. Prefers a
// cpp-tagged fence, falls back to any fence, then to the raw reply.
func extractCode(reply string) string {
	text := strings.TrimSpace(reply)
	for _, tag := range []string{"```cpp", "```c++", "```c", "```"} {
		start := strings.Index(text, tag)
		if start < 0 {
			continue
		}
		rest := text[start+len(tag):]
		if nl := strings.Index(rest, "\n"); nl >= 0 {
			rest = rest[nl+1:]
		}
		if end := strings.Index(rest, "```"); end >= 0 {
			return strings.TrimSpace(rest[:end])
		}
	}
	return text
}
