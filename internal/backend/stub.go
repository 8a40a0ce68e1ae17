package backend

import (
	"context"
	"fmt"
	"strconv"

	"github.com/Dryxio/auto-re-agent/internal/models"
)

// Stub derives deterministic references from the address alone. It exists
// for offline runs and tests: the same address always yields the same
// descriptor, so review loops and parity checks are reproducible without a
// Ghidra project.
type Stub struct{}

func NewStub() *Stub { return &Stub{} }

func (s *Stub) Name() string { return "stub" }

func (s *Stub) Capabilities(context.Context) (Capabilities, error) {
	return Capabilities{Decompile: true, Disassemble: true}, nil
}

func (s *Stub) Describe(_ context.Context, addr string) (*models.Reference, error) {
	norm := models.NormalizeAddress(addr)
	seed, err := strconv.ParseUint(norm, 16, 64)
	if err != nil {
		return nil, fmt.Errorf("stub backend: bad address %q", addr)
	}

	nCallees := int(seed % 7)
	callees := make([]string, 0, nCallees)
	for i := 0; i < nCallees; i++ {
		callees = append(callees, fmt.Sprintf("FUN_%08x", seed+uint64(i)*0x40))
	}

	ref := &models.Reference{
		Address:      norm,
		Instructions: int(20 + seed%180),
		Callees:      callees,
		HasNaNCheck:  seed%5 == 0,
		HasFloatOps:  seed%3 == 0,
		DecompileOK:  true,
		AsmOK:        true,
	}
	ref.Decompiled = fmt.Sprintf(
		"undefined4 FUN_%s(void)\n{\n  // synthetic descriptor, %d instructions, %d callees\n  return 0;\n}\n",
		norm, ref.Instructions, nCallees)
	return ref, nil
}
