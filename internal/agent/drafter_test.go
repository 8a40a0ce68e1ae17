package agent

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Dryxio/auto-re-agent/internal/index"
	"github.com/Dryxio/auto-re-agent/internal/llm"
	"github.com/Dryxio/auto-re-agent/internal/models"
)

type captureProvider struct {
	draft llm.DraftRequest
	fix   llm.FixRequest
}

func (p *captureProvider) Draft(_ context.Context, req llm.DraftRequest) (string, error) {
	p.draft = req
	return "drafted", nil
}

func (p *captureProvider) Fix(_ context.Context, req llm.FixRequest) (string, error) {
	p.fix = req
	return "fixed", nil
}

func (p *captureProvider) Name() string { return "capture" }

var renderKey = models.FunctionKey{Address: "006f5900", Class: "CEntity", Function: "Render"}

func record(addr, class, fn, body string) *models.FunctionRecord {
	return &models.FunctionRecord{
		Address:  addr,
		Class:    class,
		Function: fn,
		HasBody:  body != "",
		Body:     body,
	}
}

func testIndex(recs ...*models.FunctionRecord) *index.Result {
	res := &index.Result{Records: make(map[models.FunctionKey]*models.FunctionRecord)}
	for _, r := range recs {
		res.Records[r.Key()] = r
	}
	return res
}

func TestDraft_ExistingSourceFromIndex(t *testing.T) {
	provider := &captureProvider{}
	idx := testIndex(record("006f5900", "CEntity", "Render", "plugin::CallMethod<0x6F5900>(this);"))
	d := NewDrafter(provider, idx)

	out, err := d.Draft(context.Background(), renderKey, &models.Reference{Address: "006f5900"})
	require.NoError(t, err)
	assert.Equal(t, "drafted", out)
	assert.Equal(t, renderKey, provider.draft.Key)
	assert.Equal(t, "plugin::CallMethod<0x6F5900>(this);", provider.draft.Existing)
}

func TestDraft_WithoutIndex(t *testing.T) {
	provider := &captureProvider{}
	d := NewDrafter(provider, nil)

	_, err := d.Draft(context.Background(), renderKey, &models.Reference{
		Address: "006f5900",
		Callees: []string{"FUN_00543210"},
	})
	require.NoError(t, err)
	assert.Empty(t, provider.draft.Existing)
	assert.Empty(t, provider.draft.Callees)
}

func TestDraft_CalleeContext(t *testing.T) {
	provider := &captureProvider{}
	idx := testIndex(
		record("00543210", "CEntity", "SetupLighting", "m_pLights->Apply();"),
		record("00551e70", "CEntity", "DrawModel", "m_pModel->Render();"),
		record("00512f40", "CPed", "GetWeapon", ""), // declaration only
		record("00401000", "", "RenderScene", "gRenderer.Flush();"),
	)
	d := NewDrafter(provider, idx)

	// FUN_ placeholders resolve by address, qualified names by class and
	// function, bare names as free functions. Unindexed and body-less
	// callees drop out.
	_, err := d.Draft(context.Background(), renderKey, &models.Reference{
		Address: "006f5900",
		Callees: []string{
			"FUN_00543210",
			"CEntity::DrawModel",
			"FUN_00512f40",
			"RenderScene",
			"CUnknown::Whoever",
		},
	})
	require.NoError(t, err)

	callees := provider.draft.Callees
	require.Len(t, callees, 3)
	assert.Equal(t, "CEntity::SetupLighting", callees[0].Name)
	assert.Equal(t, "m_pLights->Apply();", callees[0].Text)
	assert.Equal(t, "CEntity::DrawModel", callees[1].Name)
	assert.Equal(t, "RenderScene", callees[2].Name)
}

func TestDraft_CalleeSnippetsCapped(t *testing.T) {
	provider := &captureProvider{}
	idx := testIndex(
		record("00000001", "C", "A", "a();"),
		record("00000002", "C", "B", "b();"),
		record("00000003", "C", "C", "c();"),
		record("00000004", "C", "D", "d();"),
	)
	d := NewDrafter(provider, idx)

	_, err := d.Draft(context.Background(), renderKey, &models.Reference{
		Callees: []string{"C::A", "C::B", "C::C", "C::D"},
	})
	require.NoError(t, err)
	assert.Len(t, provider.draft.Callees, 3)
}

func TestDraft_SnippetTruncated(t *testing.T) {
	long := strings.TrimSuffix(strings.Repeat("DoStep();\n", 70), "\n")
	provider := &captureProvider{}
	idx := testIndex(record("00543210", "CEntity", "SetupLighting", long))
	d := NewDrafter(provider, idx)

	_, err := d.Draft(context.Background(), renderKey, &models.Reference{
		Callees: []string{"FUN_00543210"},
	})
	require.NoError(t, err)

	require.Len(t, provider.draft.Callees, 1)
	text := provider.draft.Callees[0].Text
	assert.True(t, strings.HasSuffix(text, "// ..."))
	assert.Len(t, strings.Split(text, "\n"), 61)
}

func TestFix_PassesThrough(t *testing.T) {
	provider := &captureProvider{}
	d := NewDrafter(provider, nil)

	out, err := d.Fix(context.Background(), renderKey, &models.Reference{Address: "006f5900"},
		"void CEntity::Render() {}", "1. [YELLOW] short-body: body has 0 lines, minimum is 6")
	require.NoError(t, err)
	assert.Equal(t, "fixed", out)
	assert.Equal(t, renderKey, provider.fix.Key)
	assert.Equal(t, "void CEntity::Render() {}", provider.fix.Candidate)
	assert.Contains(t, provider.fix.Issues, "short-body")
}
