// Package agent gathers the context a propose call needs: the decompiled
// reference, any existing source for the target, and snippets of already
// reconstructed callees the model should reuse instead of re-deriving.
package agent

import (
	"context"
	"strings"

	"github.com/Dryxio/auto-re-agent/internal/index"
	"github.com/Dryxio/auto-re-agent/internal/llm"
	"github.com/Dryxio/auto-re-agent/internal/models"
)

const (
	maxCalleeSnippets = 3
	maxSnippetLines   = 60
)

// Drafter turns review targets into provider calls.
type Drafter struct {
	provider llm.Provider
	idx      *index.Result // may be nil when nothing is indexed
}

// NewDrafter builds a Drafter. idx may be nil.
func NewDrafter(provider llm.Provider, idx *index.Result) *Drafter {
	return &Drafter{provider: provider, idx: idx}
}

// Provider returns the underlying propose provider.
func (d *Drafter) Provider() llm.Provider {
	return d.provider
}

// Draft asks for a first candidate for key, given its decompiled reference.
func (d *Drafter) Draft(ctx context.Context, key models.FunctionKey, ref *models.Reference) (string, error) {
	req := llm.DraftRequest{
		Key:     key,
		Ref:     ref,
		Callees: d.calleeContext(ref),
	}
	if d.idx != nil {
		if rec, ok := d.idx.ByAddress(key.Address); ok && rec.HasBody {
			req.Existing = rec.Body
		}
	}
	return d.provider.Draft(ctx, req)
}

// Fix asks for a revision of candidate that addresses issues.
func (d *Drafter) Fix(ctx context.Context, key models.FunctionKey, ref *models.Reference, candidate, issues string) (string, error) {
	return d.provider.Fix(ctx, llm.FixRequest{
		Key:       key,
		Ref:       ref,
		Candidate: candidate,
		Issues:    issues,
	})
}

// calleeContext resolves up to maxCalleeSnippets of the reference's callees
// against the index. Callees named Class::Function match by qualified name;
// FUN_xxxxxxxx placeholders match by address.
func (d *Drafter) calleeContext(ref *models.Reference) []llm.Snippet {
	if d.idx == nil || ref == nil {
		return nil
	}
	var out []llm.Snippet
	for _, callee := range ref.Callees {
		if len(out) >= maxCalleeSnippets {
			break
		}
		rec := d.resolveCallee(callee)
		if rec == nil || !rec.HasBody {
			continue
		}
		out = append(out, llm.Snippet{
			Name: rec.Key().QualifiedName(),
			Text: truncateLines(rec.Body, maxSnippetLines),
		})
	}
	return out
}

func (d *Drafter) resolveCallee(name string) *models.FunctionRecord {
	if strings.HasPrefix(name, "FUN_") {
		if rec, ok := d.idx.ByAddress(strings.TrimPrefix(name, "FUN_")); ok {
			return rec
		}
		return nil
	}
	class, fn := "", name
	if i := strings.LastIndex(name, "::"); i >= 0 {
		class, fn = name[:i], name[i+2:]
	}
	if rec, ok := d.idx.Find(class, fn); ok {
		return rec
	}
	return nil
}

func truncateLines(text string, max int) string {
	lines := strings.Split(text, "\n")
	if len(lines) <= max {
		return text
	}
	return strings.Join(lines[:max], "\n") + "\n// ..."
}
