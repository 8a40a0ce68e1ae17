// Package mcp exposes the verification engine to MCP clients. All tools are
// read-only: they inspect hooks, session state, and parity verdicts, but
// never start review rounds.
package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/Dryxio/auto-re-agent/internal/backend"
	"github.com/Dryxio/auto-re-agent/internal/config"
	"github.com/Dryxio/auto-re-agent/internal/hooks"
	"github.com/Dryxio/auto-re-agent/internal/index"
	"github.com/Dryxio/auto-re-agent/internal/models"
	"github.com/Dryxio/auto-re-agent/internal/parity"
	"github.com/Dryxio/auto-re-agent/internal/store"
)

// Server wraps the verification data layer and exposes it as MCP tools.
type Server struct {
	cfg      *config.Config
	store    store.Store
	backend  backend.Backend
	engine   *parity.Engine
	idx      *index.Result // may be nil when no source tree is indexed
	analyzer *index.Analyzer
}

// NewServer creates the MCP server wrapper. idx may be nil.
func NewServer(cfg *config.Config, st store.Store, be backend.Backend, eng *parity.Engine, idx *index.Result) *Server {
	return &Server{
		cfg:      cfg,
		store:    st,
		backend:  be,
		engine:   eng,
		idx:      idx,
		analyzer: index.NewAnalyzer(cfg.Source),
	}
}

// MCPServer returns a configured mcp-go server with all tools registered.
func (s *Server) MCPServer() *server.MCPServer {
	srv := server.NewMCPServer("re-agent", "1.0.0", server.WithToolCapabilities(true))

	// Register all tools
	srv.AddTool(s.parityCheckTool())
	srv.AddTool(s.statusTool())
	srv.AddTool(s.functionHistoryTool())
	srv.AddTool(s.listHooksTool())

	return srv
}

// ServeStdio starts the stdio transport, blocking until ctx is cancelled.
func (s *Server) ServeStdio(ctx context.Context) error {
	srv := s.MCPServer()
	stdioServer := server.NewStdioServer(srv)
	return stdioServer.Listen(ctx, os.Stdin, os.Stdout)
}

// ---------------------------------------------------------------------------
// Tool definitions and handlers
// ---------------------------------------------------------------------------

// re_parity_check
func (s *Server) parityCheckTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("re_parity_check",
		mcp.WithDescription("Run the parity check for one binary address. Verifies the given candidate source against the decompiled reference; with no candidate, checks the indexed source for that address. Returns the verdict as JSON."),
		mcp.WithString("address", mcp.Required(), mcp.Description("Binary address, with or without 0x prefix")),
		mcp.WithString("candidate", mcp.Description("Candidate C++ source to verify instead of the indexed body")),
		mcp.WithString("class", mcp.Description("Class name for the function identity")),
		mcp.WithString("function", mcp.Description("Function name for the function identity")),
	)
	return tool, s.handleParityCheck
}

func (s *Server) handleParityCheck(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	addr, err := request.RequireString("address")
	if err != nil {
		return mcp.NewToolResultError("missing required parameter: address"), nil
	}
	if !models.ValidAddress(addr) {
		return mcp.NewToolResultError(fmt.Sprintf("invalid address: %s", addr)), nil
	}
	addr = models.NormalizeAddress(addr)

	ref, err := s.backend.Describe(ctx, addr)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("describe %s: %v", addr, err)), nil
	}

	key := models.FunctionKey{
		Address:  addr,
		Class:    request.GetString("class", ""),
		Function: request.GetString("function", ""),
	}

	var rec *models.FunctionRecord
	if candidate := request.GetString("candidate", ""); candidate != "" {
		rec = s.analyzer.Record(key, candidate)
	} else if s.idx != nil {
		if found, ok := s.idx.ByAddress(addr); ok {
			rec = found
		}
	}

	verdict := s.engine.Check(ref, rec)
	data, err := json.Marshal(verdict)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to marshal verdict: %v", err)), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}

// re_status
func (s *Server) statusTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("re_status",
		mcp.WithDescription("Summarize review progress: per-status counts plus one row per function with status, round count, and last verdict."),
		mcp.WithString("status", mcp.Description("Filter rows by status: pending, in_progress, done, failed, escalated")),
		mcp.WithString("class", mcp.Description("Filter rows by class name")),
	)
	return tool, s.handleStatus
}

func (s *Server) handleStatus(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	entries, err := s.store.Load(ctx)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to load session state: %v", err)), nil
	}

	statusFilter := request.GetString("status", "")
	classFilter := request.GetString("class", "")

	type row struct {
		Address   string    `json:"address"`
		Class     string    `json:"class,omitempty"`
		Function  string    `json:"function,omitempty"`
		Status    string    `json:"status"`
		Rounds    int       `json:"rounds"`
		Verdict   string    `json:"verdict,omitempty"`
		UpdatedAt time.Time `json:"updated_at"`
	}
	type summary struct {
		Counts map[string]int `json:"counts"`
		Rows   []row          `json:"functions"`
	}

	out := summary{Counts: map[string]int{}}
	for _, e := range entries {
		out.Counts[string(e.Status)]++
		if statusFilter != "" && string(e.Status) != statusFilter {
			continue
		}
		if classFilter != "" && e.Class != classFilter {
			continue
		}
		r := row{
			Address:   e.Address,
			Class:     e.Class,
			Function:  e.Function,
			Status:    string(e.Status),
			Rounds:    len(e.Rounds),
			UpdatedAt: e.UpdatedAt,
		}
		if v := e.LastVerdict(); v != nil {
			r.Verdict = string(v.Status)
		}
		out.Rows = append(out.Rows, r)
	}
	sort.Slice(out.Rows, func(i, j int) bool { return out.Rows[i].Address < out.Rows[j].Address })

	data, err := json.Marshal(out)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to marshal status: %v", err)), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}

// re_function_history
func (s *Server) functionHistoryTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("re_function_history",
		mcp.WithDescription("Return the most recent session entry for an address: status plus the full round history with candidates, verdicts, and errors."),
		mcp.WithString("address", mcp.Required(), mcp.Description("Binary address, with or without 0x prefix")),
	)
	return tool, s.handleFunctionHistory
}

func (s *Server) handleFunctionHistory(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	addr, err := request.RequireString("address")
	if err != nil {
		return mcp.NewToolResultError("missing required parameter: address"), nil
	}

	entry, err := s.store.LatestEntryByAddress(ctx, addr)
	if errors.Is(err, store.ErrNotFound) {
		return mcp.NewToolResultError(fmt.Sprintf("no history for %s", addr)), nil
	}
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to load session state: %v", err)), nil
	}

	type roundOut struct {
		Number    int                   `json:"number"`
		Phase     string                `json:"phase"`
		Candidate string                `json:"candidate,omitempty"`
		Verdict   *models.ParityVerdict `json:"verdict,omitempty"`
		Err       string                `json:"error,omitempty"`
		CreatedAt time.Time             `json:"created_at"`
	}
	type entryOut struct {
		ID        string     `json:"id"`
		Address   string     `json:"address"`
		Class     string     `json:"class,omitempty"`
		Function  string     `json:"function,omitempty"`
		Status    string     `json:"status"`
		Rounds    []roundOut `json:"rounds"`
		CreatedAt time.Time  `json:"created_at"`
		UpdatedAt time.Time  `json:"updated_at"`
	}

	out := entryOut{
		ID:        entry.ID,
		Address:   entry.Address,
		Class:     entry.Class,
		Function:  entry.Function,
		Status:    string(entry.Status),
		CreatedAt: entry.CreatedAt,
		UpdatedAt: entry.UpdatedAt,
	}
	for _, r := range entry.Rounds {
		ro := roundOut{
			Number:    r.Number,
			Phase:     string(r.Phase),
			Candidate: r.Candidate,
			Err:       r.Err,
			CreatedAt: r.CreatedAt,
		}
		if r.Verdict.Status != "" {
			v := r.Verdict
			ro.Verdict = &v
		}
		out.Rounds = append(out.Rounds, ro)
	}

	data, err := json.Marshal(out)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to marshal history: %v", err)), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}

// re_list_hooks
func (s *Server) listHooksTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("re_list_hooks",
		mcp.WithDescription("List the hook registry: every hooked address with its class and function name. Reads the configured hooks CSV."),
		mcp.WithString("class", mcp.Description("Filter by class name")),
	)
	return tool, s.handleListHooks
}

func (s *Server) handleListHooks(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	path := s.cfg.Source.HooksCSV
	if path == "" {
		return mcp.NewToolResultError("no hooks file configured (source.hooks_csv)"), nil
	}

	reg, warnings, err := hooks.ReadFile(path)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("read hooks: %v", err)), nil
	}

	classFilter := request.GetString("class", "")
	entries := reg.Entries
	if classFilter != "" {
		entries = reg.ForClass(classFilter)
	}

	type hookOut struct {
		Address  string `json:"address"`
		Class    string `json:"class,omitempty"`
		Function string `json:"function,omitempty"`
	}
	type listOut struct {
		Hooks    []hookOut `json:"hooks"`
		Warnings []string  `json:"warnings,omitempty"`
	}

	out := listOut{Warnings: warnings}
	for _, h := range entries {
		out.Hooks = append(out.Hooks, hookOut{Address: h.Address, Class: h.Class, Function: h.Function})
	}

	data, err := json.Marshal(out)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to marshal hooks: %v", err)), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}
