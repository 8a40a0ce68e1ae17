package models

// Reference is the decompiled view of one binary address, supplied by the
// analysis backend. Read-only input to the parity evaluators.
type Reference struct {
	Address      string
	Decompiled   string   // raw decompiler output, empty if unavailable
	Instructions int      // disassembly instruction count, 0 if unavailable
	Callees      []string // callee identifiers resolved from the disassembly
	HasNaNCheck  bool     // decompiled output tests for NaN
	HasFloatOps  bool     // disassembly touches floating-point registers

	// Partial-capability flags. A backend may support decompilation but not
	// disassembly (or vice versa); evaluators that need the missing half
	// report themselves inconclusive instead of guessing.
	DecompileOK bool
	AsmOK       bool
}

// CalleeCount is the number of distinct callees seen in the disassembly.
func (r *Reference) CalleeCount() int {
	if r == nil {
		return 0
	}
	return len(r.Callees)
}
