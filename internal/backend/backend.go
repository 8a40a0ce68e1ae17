// Package backend produces decompiled references for binary addresses. The
// real implementation shells out to a Ghidra bridge tool; a stub backend
// serves offline runs. Both sit behind the same interface so the review loop
// never knows which one it is talking to.
package backend

import (
	"context"
	"errors"
	"fmt"

	"github.com/Dryxio/auto-re-agent/internal/config"
	"github.com/Dryxio/auto-re-agent/internal/models"
)

// ErrUnavailable marks a backend that cannot serve at all (tool missing,
// project unreachable). Distinct from a per-call failure: the loop escalates
// instead of retrying.
var ErrUnavailable = errors.New("backend unavailable")

// Capabilities reports which halves of a Reference the backend can fill.
// Evaluators treat the missing half as inconclusive.
type Capabilities struct {
	Decompile   bool
	Disassemble bool
}

// Backend is the decompilation descriptor source.
type Backend interface {
	// Describe resolves one address into a Reference. The returned Reference
	// carries per-half ok flags matching the backend's capabilities.
	Describe(ctx context.Context, addr string) (*models.Reference, error)
	// Capabilities probes what the backend supports. Cheap after the first
	// call.
	Capabilities(ctx context.Context) (Capabilities, error)
	Name() string
}

// New builds the configured backend, wrapped in the descriptor cache when
// one is configured.
func New(cfg config.Backend) (Backend, error) {
	var b Backend
	switch cfg.Kind {
	case "ghidra":
		b = NewGhidra(cfg)
	case "stub":
		b = NewStub()
	default:
		return nil, fmt.Errorf("unknown backend kind %q", cfg.Kind)
	}

	if cfg.CacheDir != "" || cfg.CacheSize > 0 {
		cached, err := NewCached(b, cfg.CacheDir, cfg.CacheSize)
		if err != nil {
			return nil, fmt.Errorf("init descriptor cache: %w", err)
		}
		b = cached
	}
	return b, nil
}
