package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	mcpgo "github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Dryxio/auto-re-agent/internal/backend"
	"github.com/Dryxio/auto-re-agent/internal/config"
	"github.com/Dryxio/auto-re-agent/internal/index"
	"github.com/Dryxio/auto-re-agent/internal/models"
	"github.com/Dryxio/auto-re-agent/internal/parity"
	"github.com/Dryxio/auto-re-agent/internal/store"
)

// ---------------------------------------------------------------------------
// Mock implementations
// ---------------------------------------------------------------------------

// mockStore implements store.Store for testing.
type mockStore struct {
	entries []*models.SessionEntry

	// Optional error injection.
	loadErr   error
	latestErr error
}

func (m *mockStore) CreateEntry(_ context.Context, e *models.SessionEntry) error {
	if e.ID == "" {
		e.ID = fmt.Sprintf("entry-%d", len(m.entries)+1)
	}
	if e.Status == "" {
		e.Status = models.StatusPending
	}
	e.Address = models.NormalizeAddress(e.Address)
	m.entries = append(m.entries, e)
	return nil
}

func (m *mockStore) GetEntry(_ context.Context, id string) (*models.SessionEntry, error) {
	for _, e := range m.entries {
		if e.ID == id {
			return e, nil
		}
	}
	return nil, fmt.Errorf("entry %s: %w", id, store.ErrNotFound)
}

func (m *mockStore) LatestEntryByAddress(_ context.Context, address string) (*models.SessionEntry, error) {
	if m.latestErr != nil {
		return nil, m.latestErr
	}
	addr := models.NormalizeAddress(address)
	for i := len(m.entries) - 1; i >= 0; i-- {
		if m.entries[i].Address == addr {
			return m.entries[i], nil
		}
	}
	return nil, fmt.Errorf("no entry for address %s: %w", addr, store.ErrNotFound)
}

func (m *mockStore) ListEntries(_ context.Context, filter store.EntryFilter) ([]*models.SessionEntry, error) {
	var out []*models.SessionEntry
	for _, e := range m.entries {
		if filter.Address != "" && e.Address != models.NormalizeAddress(filter.Address) {
			continue
		}
		if filter.Class != "" && e.Class != filter.Class {
			continue
		}
		if filter.Status != "" && e.Status != filter.Status {
			continue
		}
		out = append(out, e)
	}
	return out, nil
}

func (m *mockStore) Load(_ context.Context) (map[models.FunctionKey]*models.SessionEntry, error) {
	if m.loadErr != nil {
		return nil, m.loadErr
	}
	out := make(map[models.FunctionKey]*models.SessionEntry, len(m.entries))
	for _, e := range m.entries {
		out[e.Key()] = e
	}
	return out, nil
}

func (m *mockStore) AppendRound(_ context.Context, entryID string, round *models.ReviewRound, status models.FunctionStatus) error {
	for _, e := range m.entries {
		if e.ID == entryID {
			if round.Number == 0 {
				round.Number = len(e.Rounds) + 1
			}
			e.Rounds = append(e.Rounds, *round)
			e.Status = status
			return nil
		}
	}
	return fmt.Errorf("entry %s: %w", entryID, store.ErrNotFound)
}

func (m *mockStore) Migrate(context.Context) error { return nil }

func (m *mockStore) Close() error { return nil }

// fakeBackend serves a fixed reference so verdicts stay predictable.
type fakeBackend struct {
	describeErr error
}

func (b *fakeBackend) Describe(_ context.Context, addr string) (*models.Reference, error) {
	if b.describeErr != nil {
		return nil, b.describeErr
	}
	return &models.Reference{
		Address:      models.NormalizeAddress(addr),
		Instructions: 42,
		Callees:      []string{"FUN_00543210", "FUN_00551e70"},
		DecompileOK:  true,
		AsmOK:        true,
	}, nil
}

func (b *fakeBackend) Capabilities(context.Context) (backend.Capabilities, error) {
	return backend.Capabilities{Decompile: true, Disassemble: true}, nil
}

func (b *fakeBackend) Name() string { return "fake" }

// ---------------------------------------------------------------------------
// Test helpers
// ---------------------------------------------------------------------------

func testConfig() *config.Config {
	return &config.Config{
		Source: config.Source{
			StubMarkers:   []string{"NOTSA_UNREACHABLE"},
			WrapperPrefix: "plugin::Call",
		},
		Parity: config.Parity{
			CallTolerance:     3,
			ShortBodyMin:      6,
			LowCallCalleeMin:  6,
			LowCallSourceMax:  1,
			AsmHighThreshold:  80,
			SourceTinyMax:     12,
			StubMaxLines:      14,
			StubMaxPlainCalls: 1,
			PluginHeavyRatio:  0.5,
			PluginHeavyMin:    2,
		},
	}
}

func newTestServer(t *testing.T, cfg *config.Config, st store.Store) *Server {
	t.Helper()
	eng, err := parity.NewEngine(cfg.Parity)
	require.NoError(t, err)
	return NewServer(cfg, st, &fakeBackend{}, eng, nil)
}

// seedEntry adds a session entry to the mock store and returns it.
func seedEntry(ms *mockStore, address, class, function string, status models.FunctionStatus, rounds ...models.ReviewRound) *models.SessionEntry {
	e := &models.SessionEntry{
		ID:        fmt.Sprintf("entry-%s", address),
		Address:   models.NormalizeAddress(address),
		Class:     class,
		Function:  function,
		Status:    status,
		Rounds:    rounds,
		CreatedAt: time.Now().UTC(),
		UpdatedAt: time.Now().UTC(),
	}
	ms.entries = append(ms.entries, e)
	return e
}

func greenVerdict() models.ParityVerdict {
	return models.ParityVerdict{Status: models.ParityGreen, Summary: "all enabled signals pass"}
}

func yellowVerdict() models.ParityVerdict {
	return models.ParityVerdict{
		Status: models.ParityYellow,
		Signals: []models.SignalResult{
			{ID: models.SignalShortBody, Level: models.SignalYellow, Message: "body has 1 lines, minimum is 6"},
		},
		Summary: "yellow: short-body",
	}
}

func callToolReq(name string, args map[string]any) mcpgo.CallToolRequest {
	return mcpgo.CallToolRequest{
		Params: mcpgo.CallToolParams{
			Name:      name,
			Arguments: args,
		},
	}
}

// resultText extracts the concatenated text from a CallToolResult.
func resultText(t *testing.T, result *mcpgo.CallToolResult) string {
	t.Helper()
	var b strings.Builder
	for _, c := range result.Content {
		tc, ok := c.(mcpgo.TextContent)
		if ok {
			b.WriteString(tc.Text)
		}
	}
	return b.String()
}

// resultJSON parses the text result as JSON into the provided target.
func resultJSON(t *testing.T, result *mcpgo.CallToolResult, target any) {
	t.Helper()
	text := resultText(t, result)
	err := json.Unmarshal([]byte(text), target)
	require.NoError(t, err, "failed to parse result JSON: %s", text)
}

// ---------------------------------------------------------------------------
// Server construction
// ---------------------------------------------------------------------------

func TestNewServer(t *testing.T) {
	srv := newTestServer(t, testConfig(), &mockStore{})
	require.NotNil(t, srv)
	assert.NotNil(t, srv.MCPServer())
}

// ---------------------------------------------------------------------------
// re_parity_check
// ---------------------------------------------------------------------------

func TestHandleParityCheck_MissingAddress(t *testing.T) {
	srv := newTestServer(t, testConfig(), &mockStore{})

	result, err := srv.handleParityCheck(context.Background(), callToolReq("re_parity_check", map[string]any{}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
	assert.Contains(t, resultText(t, result), "missing required parameter: address")
}

func TestHandleParityCheck_InvalidAddress(t *testing.T) {
	srv := newTestServer(t, testConfig(), &mockStore{})

	result, err := srv.handleParityCheck(context.Background(), callToolReq("re_parity_check", map[string]any{
		"address": "not-an-address",
	}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
	assert.Contains(t, resultText(t, result), "invalid address: not-an-address")
}

func TestHandleParityCheck_Candidate(t *testing.T) {
	srv := newTestServer(t, testConfig(), &mockStore{})

	candidate := `void CEntity::Render() {
    if (!m_bIsVisible) {
        return;
    }
    SetupLighting();
    DrawModel(m_pModel);
    UpdateShadows();
    m_nFlags |= RENDER_DONE;
}`
	result, err := srv.handleParityCheck(context.Background(), callToolReq("re_parity_check", map[string]any{
		"address":   "0x6F5900",
		"class":     "CEntity",
		"function":  "Render",
		"candidate": candidate,
	}))
	require.NoError(t, err)
	require.False(t, result.IsError)

	var verdict models.ParityVerdict
	resultJSON(t, result, &verdict)
	assert.Equal(t, models.ParityGreen, verdict.Status)
	assert.Len(t, verdict.Signals, len(models.AllSignals))
	assert.Equal(t, "all enabled signals pass", verdict.Summary)
}

func TestHandleParityCheck_NoSourceIsRed(t *testing.T) {
	srv := newTestServer(t, testConfig(), &mockStore{})

	result, err := srv.handleParityCheck(context.Background(), callToolReq("re_parity_check", map[string]any{
		"address": "00431f80",
	}))
	require.NoError(t, err)
	require.False(t, result.IsError)

	var verdict models.ParityVerdict
	resultJSON(t, result, &verdict)
	assert.Equal(t, models.ParityRed, verdict.Status)
	assert.Contains(t, verdict.Summary, "missing-source")
}

func TestHandleParityCheck_IndexedBody(t *testing.T) {
	cfg := testConfig()
	eng, err := parity.NewEngine(cfg.Parity)
	require.NoError(t, err)

	key := models.FunctionKey{Address: "006f5900", Class: "CEntity", Function: "Render"}
	rec := index.NewAnalyzer(cfg.Source).Record(key, "return m_nId;")
	idx := &index.Result{Records: map[models.FunctionKey]*models.FunctionRecord{key: rec}}
	srv := NewServer(cfg, &mockStore{}, &fakeBackend{}, eng, idx)

	result, err := srv.handleParityCheck(context.Background(), callToolReq("re_parity_check", map[string]any{
		"address": "0x6F5900",
	}))
	require.NoError(t, err)
	require.False(t, result.IsError)

	var verdict models.ParityVerdict
	resultJSON(t, result, &verdict)
	assert.Equal(t, models.ParityYellow, verdict.Status)
	assert.Contains(t, verdict.Summary, "short-body")
}

func TestHandleParityCheck_CandidateWinsOverIndex(t *testing.T) {
	cfg := testConfig()
	eng, err := parity.NewEngine(cfg.Parity)
	require.NoError(t, err)

	key := models.FunctionKey{Address: "006f5900", Class: "CEntity", Function: "Render"}
	rec := index.NewAnalyzer(cfg.Source).Record(key, "return m_nId;")
	idx := &index.Result{Records: map[models.FunctionKey]*models.FunctionRecord{key: rec}}
	srv := NewServer(cfg, &mockStore{}, &fakeBackend{}, eng, idx)

	candidate := `void CEntity::Render() {
    if (!m_bIsVisible) {
        return;
    }
    SetupLighting();
    DrawModel(m_pModel);
    UpdateShadows();
    m_nFlags |= RENDER_DONE;
}`
	result, err := srv.handleParityCheck(context.Background(), callToolReq("re_parity_check", map[string]any{
		"address":   "006f5900",
		"candidate": candidate,
	}))
	require.NoError(t, err)
	require.False(t, result.IsError)

	var verdict models.ParityVerdict
	resultJSON(t, result, &verdict)
	assert.Equal(t, models.ParityGreen, verdict.Status)
}

func TestHandleParityCheck_DescribeError(t *testing.T) {
	cfg := testConfig()
	eng, err := parity.NewEngine(cfg.Parity)
	require.NoError(t, err)
	be := &fakeBackend{describeErr: errors.New("bridge timed out")}
	srv := NewServer(cfg, &mockStore{}, be, eng, nil)

	result, err := srv.handleParityCheck(context.Background(), callToolReq("re_parity_check", map[string]any{
		"address": "0x6F5900",
	}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
	assert.Contains(t, resultText(t, result), "describe 006f5900: bridge timed out")
}

// ---------------------------------------------------------------------------
// re_status
// ---------------------------------------------------------------------------

func TestHandleStatus(t *testing.T) {
	ms := &mockStore{}
	seedEntry(ms, "00431f80", "CPed", "IsAlive", models.StatusDone, models.ReviewRound{
		Number: 1, Phase: models.PhaseDraft, Candidate: "return m_fHealth > 0.0f;", Verdict: greenVerdict(),
	})
	seedEntry(ms, "006f5900", "CEntity", "Render", models.StatusInProgress, models.ReviewRound{
		Number: 1, Phase: models.PhaseDraft, Candidate: "return m_nId;", Verdict: yellowVerdict(),
	})
	seedEntry(ms, "0073f480", "CVehicle", "ProcessControl", models.StatusFailed, models.ReviewRound{
		Number: 1, Phase: models.PhaseDraft, Err: "401 unauthorized",
	})
	srv := newTestServer(t, testConfig(), ms)

	result, err := srv.handleStatus(context.Background(), callToolReq("re_status", map[string]any{}))
	require.NoError(t, err)
	require.False(t, result.IsError)

	var out struct {
		Counts map[string]int `json:"counts"`
		Rows   []struct {
			Address string `json:"address"`
			Class   string `json:"class"`
			Status  string `json:"status"`
			Rounds  int    `json:"rounds"`
			Verdict string `json:"verdict"`
		} `json:"functions"`
	}
	resultJSON(t, result, &out)

	assert.Equal(t, map[string]int{"done": 1, "in_progress": 1, "failed": 1}, out.Counts)
	require.Len(t, out.Rows, 3)
	assert.Equal(t, "00431f80", out.Rows[0].Address)
	assert.Equal(t, "green", out.Rows[0].Verdict)
	assert.Equal(t, "006f5900", out.Rows[1].Address)
	assert.Equal(t, "yellow", out.Rows[1].Verdict)
	assert.Equal(t, "0073f480", out.Rows[2].Address)
	assert.Equal(t, "failed", out.Rows[2].Status)
	assert.Equal(t, 1, out.Rows[2].Rounds)
	assert.Empty(t, out.Rows[2].Verdict)
}

func TestHandleStatus_Filters(t *testing.T) {
	ms := &mockStore{}
	seedEntry(ms, "00431f80", "CPed", "IsAlive", models.StatusDone, models.ReviewRound{
		Number: 1, Phase: models.PhaseDraft, Verdict: greenVerdict(),
	})
	seedEntry(ms, "006f5900", "CEntity", "Render", models.StatusInProgress, models.ReviewRound{
		Number: 1, Phase: models.PhaseDraft, Verdict: yellowVerdict(),
	})
	seedEntry(ms, "00532b00", "CEntity", "UpdateRwFrame", models.StatusDone, models.ReviewRound{
		Number: 1, Phase: models.PhaseDraft, Verdict: greenVerdict(),
	})
	srv := newTestServer(t, testConfig(), ms)

	type statusOut struct {
		Counts map[string]int `json:"counts"`
		Rows   []struct {
			Address string `json:"address"`
			Class   string `json:"class"`
			Status  string `json:"status"`
		} `json:"functions"`
	}

	t.Run("by status", func(t *testing.T) {
		result, err := srv.handleStatus(context.Background(), callToolReq("re_status", map[string]any{
			"status": "done",
		}))
		require.NoError(t, err)
		require.False(t, result.IsError)

		var out statusOut
		resultJSON(t, result, &out)

		// Counts always cover the full session, the filter trims rows only.
		assert.Equal(t, map[string]int{"done": 2, "in_progress": 1}, out.Counts)
		require.Len(t, out.Rows, 2)
		assert.Equal(t, "00431f80", out.Rows[0].Address)
		assert.Equal(t, "00532b00", out.Rows[1].Address)
	})

	t.Run("by class", func(t *testing.T) {
		result, err := srv.handleStatus(context.Background(), callToolReq("re_status", map[string]any{
			"class": "CEntity",
		}))
		require.NoError(t, err)
		require.False(t, result.IsError)

		var out statusOut
		resultJSON(t, result, &out)

		require.Len(t, out.Rows, 2)
		assert.Equal(t, "00532b00", out.Rows[0].Address)
		assert.Equal(t, "006f5900", out.Rows[1].Address)
	})
}

func TestHandleStatus_LoadError(t *testing.T) {
	ms := &mockStore{loadErr: errors.New("disk detached")}
	srv := newTestServer(t, testConfig(), ms)

	result, err := srv.handleStatus(context.Background(), callToolReq("re_status", map[string]any{}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
	assert.Contains(t, resultText(t, result), "failed to load session state")
}

// ---------------------------------------------------------------------------
// re_function_history
// ---------------------------------------------------------------------------

func TestHandleFunctionHistory(t *testing.T) {
	ms := &mockStore{}
	e := seedEntry(ms, "006f5900", "CEntity", "Render", models.StatusEscalated,
		models.ReviewRound{
			Number:    1,
			Phase:     models.PhaseDraft,
			Candidate: "return m_nId;",
			Verdict:   yellowVerdict(),
			FixHints:  "1. [YELLOW] short-body: body has 1 lines, minimum is 6",
		},
		models.ReviewRound{
			Number: 2,
			Phase:  models.PhaseFix,
			Err:    "503 service unavailable",
		},
	)
	srv := newTestServer(t, testConfig(), ms)

	result, err := srv.handleFunctionHistory(context.Background(), callToolReq("re_function_history", map[string]any{
		"address": "0x6F5900",
	}))
	require.NoError(t, err)
	require.False(t, result.IsError)

	var out struct {
		ID      string `json:"id"`
		Address string `json:"address"`
		Status  string `json:"status"`
		Rounds  []struct {
			Number    int                   `json:"number"`
			Phase     string                `json:"phase"`
			Candidate string                `json:"candidate"`
			Verdict   *models.ParityVerdict `json:"verdict"`
			Err       string                `json:"error"`
		} `json:"rounds"`
	}
	resultJSON(t, result, &out)

	assert.Equal(t, e.ID, out.ID)
	assert.Equal(t, "006f5900", out.Address)
	assert.Equal(t, "escalated", out.Status)
	require.Len(t, out.Rounds, 2)

	first := out.Rounds[0]
	assert.Equal(t, 1, first.Number)
	assert.Equal(t, "draft", first.Phase)
	assert.Equal(t, "return m_nId;", first.Candidate)
	require.NotNil(t, first.Verdict)
	assert.Equal(t, models.ParityYellow, first.Verdict.Status)

	second := out.Rounds[1]
	assert.Equal(t, 2, second.Number)
	assert.Equal(t, "fix", second.Phase)
	assert.Nil(t, second.Verdict)
	assert.Equal(t, "503 service unavailable", second.Err)
}

func TestHandleFunctionHistory_MissingAddress(t *testing.T) {
	srv := newTestServer(t, testConfig(), &mockStore{})

	result, err := srv.handleFunctionHistory(context.Background(), callToolReq("re_function_history", map[string]any{}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
	assert.Contains(t, resultText(t, result), "missing required parameter: address")
}

func TestHandleFunctionHistory_NoHistory(t *testing.T) {
	srv := newTestServer(t, testConfig(), &mockStore{})

	result, err := srv.handleFunctionHistory(context.Background(), callToolReq("re_function_history", map[string]any{
		"address": "00999999",
	}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
	assert.Contains(t, resultText(t, result), "no history for 00999999")
}

func TestHandleFunctionHistory_StoreError(t *testing.T) {
	// An unreadable store is not the same as an empty one.
	srv := newTestServer(t, testConfig(), &mockStore{latestErr: errors.New("database disk image is malformed")})

	result, err := srv.handleFunctionHistory(context.Background(), callToolReq("re_function_history", map[string]any{
		"address": "006f5900",
	}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
	assert.Contains(t, resultText(t, result), "failed to load session state")
	assert.Contains(t, resultText(t, result), "malformed")
}

// ---------------------------------------------------------------------------
// re_list_hooks
// ---------------------------------------------------------------------------

const hooksCSV = `address,class,function
0x6F5900,CEntity,Render
0x431F80,CPed,IsAlive
0x532B00,CEntity,UpdateRwFrame
`

func writeHooksCSV(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "hooks.csv")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestHandleListHooks_NotConfigured(t *testing.T) {
	srv := newTestServer(t, testConfig(), &mockStore{})

	result, err := srv.handleListHooks(context.Background(), callToolReq("re_list_hooks", map[string]any{}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
	assert.Contains(t, resultText(t, result), "no hooks file configured")
}

func TestHandleListHooks(t *testing.T) {
	cfg := testConfig()
	cfg.Source.HooksCSV = writeHooksCSV(t, hooksCSV)
	srv := newTestServer(t, cfg, &mockStore{})

	result, err := srv.handleListHooks(context.Background(), callToolReq("re_list_hooks", map[string]any{}))
	require.NoError(t, err)
	require.False(t, result.IsError)

	var out struct {
		Hooks []struct {
			Address  string `json:"address"`
			Class    string `json:"class"`
			Function string `json:"function"`
		} `json:"hooks"`
		Warnings []string `json:"warnings"`
	}
	resultJSON(t, result, &out)

	require.Len(t, out.Hooks, 3)
	assert.Equal(t, "006f5900", out.Hooks[0].Address)
	assert.Equal(t, "CEntity", out.Hooks[0].Class)
	assert.Equal(t, "Render", out.Hooks[0].Function)
	assert.Equal(t, "00431f80", out.Hooks[1].Address)
	assert.Empty(t, out.Warnings)
}

func TestHandleListHooks_ClassFilter(t *testing.T) {
	cfg := testConfig()
	cfg.Source.HooksCSV = writeHooksCSV(t, hooksCSV)
	srv := newTestServer(t, cfg, &mockStore{})

	result, err := srv.handleListHooks(context.Background(), callToolReq("re_list_hooks", map[string]any{
		"class": "CEntity",
	}))
	require.NoError(t, err)
	require.False(t, result.IsError)

	var out struct {
		Hooks []struct {
			Address  string `json:"address"`
			Function string `json:"function"`
		} `json:"hooks"`
	}
	resultJSON(t, result, &out)

	require.Len(t, out.Hooks, 2)
	assert.Equal(t, "00532b00", out.Hooks[0].Address)
	assert.Equal(t, "UpdateRwFrame", out.Hooks[0].Function)
	assert.Equal(t, "006f5900", out.Hooks[1].Address)
}

func TestHandleListHooks_Warnings(t *testing.T) {
	cfg := testConfig()
	cfg.Source.HooksCSV = writeHooksCSV(t, "address,class,function\n0x6F5900,CEntity,Render\nnothex,CPed,IsAlive\n")
	srv := newTestServer(t, cfg, &mockStore{})

	result, err := srv.handleListHooks(context.Background(), callToolReq("re_list_hooks", map[string]any{}))
	require.NoError(t, err)
	require.False(t, result.IsError)

	var out struct {
		Hooks []struct {
			Address string `json:"address"`
		} `json:"hooks"`
		Warnings []string `json:"warnings"`
	}
	resultJSON(t, result, &out)

	require.Len(t, out.Hooks, 1)
	require.Len(t, out.Warnings, 1)
	assert.Contains(t, out.Warnings[0], `bad address "nothex"`)
}

func TestHandleListHooks_ReadError(t *testing.T) {
	cfg := testConfig()
	cfg.Source.HooksCSV = filepath.Join(t.TempDir(), "missing.csv")
	srv := newTestServer(t, cfg, &mockStore{})

	result, err := srv.handleListHooks(context.Background(), callToolReq("re_list_hooks", map[string]any{}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
	assert.Contains(t, resultText(t, result), "read hooks")
}
