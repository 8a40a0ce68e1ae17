package backend

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/Dryxio/auto-re-agent/internal/config"
	"github.com/Dryxio/auto-re-agent/internal/models"
)

// Ghidra shells out to a headless Ghidra bridge tool. The tool owns the
// analysis project; this side only asks it to describe addresses and parses
// the JSON it prints.
type Ghidra struct {
	bin     string
	project string
	timeout time.Duration

	probeOnce sync.Once
	caps      Capabilities
	probeErr  error
}

// NewGhidra builds the bridge from configuration. No probing happens until
// the first call.
func NewGhidra(cfg config.Backend) *Ghidra {
	return &Ghidra{
		bin:     cfg.Bin,
		project: cfg.Project,
		timeout: cfg.Timeout,
	}
}

func (g *Ghidra) Name() string { return "ghidra" }

// describePayload is the bridge tool's JSON output for one address.
type describePayload struct {
	Address      string   `json:"address"`
	Decompiled   string   `json:"decompiled"`
	Instructions int      `json:"instruction_count"`
	Callees      []string `json:"callees"`
	HasNaNCheck  bool     `json:"has_nan_check"`
	HasFloatOps  bool     `json:"has_float_ops"`
	DecompileErr string   `json:"decompile_error,omitempty"`
	AsmErr       string   `json:"asm_error,omitempty"`
}

// capsPayload is the bridge tool's capability report.
type capsPayload struct {
	Decompile   bool `json:"decompile"`
	Disassemble bool `json:"disassemble"`
}

func (g *Ghidra) run(ctx context.Context, args ...string) ([]byte, error) {
	if g.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.timeout)
		defer cancel()
	}

	if g.project != "" {
		args = append([]string{"--project", g.project}, args...)
	}
	out, err := exec.CommandContext(ctx, g.bin, args...).Output()
	if err != nil {
		if errors.Is(err, exec.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s not found in PATH", ErrUnavailable, g.bin)
		}
		if ctx.Err() != nil {
			return nil, fmt.Errorf("%s %s: %w", g.bin, strings.Join(args, " "), ctx.Err())
		}
		if exitErr, ok := err.(*exec.ExitError); ok {
			return nil, fmt.Errorf("%s %s: %s", g.bin, strings.Join(args, " "), strings.TrimSpace(string(exitErr.Stderr)))
		}
		return nil, fmt.Errorf("%s %s: %w", g.bin, strings.Join(args, " "), err)
	}
	return out, nil
}

// Capabilities probes the tool once and memoizes the answer. A tool that
// cannot even report capabilities is treated as unavailable.
func (g *Ghidra) Capabilities(ctx context.Context) (Capabilities, error) {
	g.probeOnce.Do(func() {
		out, err := g.run(ctx, "capabilities", "--json")
		if err != nil {
			g.probeErr = err
			return
		}
		var p capsPayload
		if err := json.Unmarshal(out, &p); err != nil {
			g.probeErr = fmt.Errorf("parse capabilities output: %w", err)
			return
		}
		g.caps = Capabilities{Decompile: p.Decompile, Disassemble: p.Disassemble}
	})
	return g.caps, g.probeErr
}

// Describe asks the bridge for one address. Per-half errors in the payload
// degrade the Reference instead of failing the call.
func (g *Ghidra) Describe(ctx context.Context, addr string) (*models.Reference, error) {
	caps, err := g.Capabilities(ctx)
	if err != nil {
		return nil, err
	}

	norm := models.NormalizeAddress(addr)
	out, err := g.run(ctx, "describe", "0x"+norm, "--json")
	if err != nil {
		return nil, err
	}

	var p describePayload
	if err := json.Unmarshal(out, &p); err != nil {
		return nil, fmt.Errorf("parse describe output for %s: %w", models.FormatAddress(norm), err)
	}

	ref := &models.Reference{
		Address:      norm,
		Decompiled:   p.Decompiled,
		Instructions: p.Instructions,
		Callees:      p.Callees,
		HasNaNCheck:  p.HasNaNCheck,
		HasFloatOps:  p.HasFloatOps,
		DecompileOK:  caps.Decompile && p.DecompileErr == "" && p.Decompiled != "",
		AsmOK:        caps.Disassemble && p.AsmErr == "",
	}
	return ref, nil
}
