// Package parity decides whether a source reconstruction is an acceptable
// match for its decompiled reference. Eleven independent heuristics each
// produce a leveled finding; the gate aggregates findings into a tri-level
// verdict. Everything here is pure over (reference, record, config).
package parity

import (
	"fmt"

	"github.com/Dryxio/auto-re-agent/internal/config"
	"github.com/Dryxio/auto-re-agent/internal/models"
)

// evaluator computes one signal. ref may be nil (backend unavailable) and
// rec may be nil or body-less (nothing indexed); evaluators that cannot
// decide under those inputs return an info-level inconclusive result.
type evaluator func(ref *models.Reference, rec *models.FunctionRecord, cfg config.Parity) models.SignalResult

// catalogue fixes evaluation order. Signal ids are stable; configuration
// toggles membership, never meaning.
var catalogue = []struct {
	id   models.SignalID
	eval evaluator
}{
	{models.SignalMissingSource, evalMissingSource},
	{models.SignalStubMarker, evalStubMarker},
	{models.SignalTrivialStub, evalTrivialStub},
	{models.SignalLargeAsmTinySource, evalLargeAsmTinySource},
	{models.SignalPluginCallHeavy, evalPluginCallHeavy},
	{models.SignalShortBody, evalShortBody},
	{models.SignalLowCallCount, evalLowCallCount},
	{models.SignalFPSensitivity, evalFPSensitivity},
	{models.SignalCallCountMismatch, evalCallCountMismatch},
	{models.SignalNaNLogic, evalNaNLogic},
	{models.SignalInlineWrapper, evalInlineWrapper},
}

func pass(id models.SignalID, msg string) models.SignalResult {
	return models.SignalResult{ID: id, Level: models.SignalPass, Message: msg}
}

func inconclusive(id models.SignalID, why string) models.SignalResult {
	return models.SignalResult{ID: id, Level: models.SignalInfo, Message: "inconclusive: " + why}
}

func hasBody(rec *models.FunctionRecord) bool {
	return rec != nil && rec.HasBody
}

func evalMissingSource(_ *models.Reference, rec *models.FunctionRecord, _ config.Parity) models.SignalResult {
	if !hasBody(rec) {
		return models.SignalResult{
			ID:      models.SignalMissingSource,
			Level:   models.SignalRed,
			Message: "no source body found for this function",
		}
	}
	return pass(models.SignalMissingSource, "source body present")
}

func evalStubMarker(_ *models.Reference, rec *models.FunctionRecord, _ config.Parity) models.SignalResult {
	if !hasBody(rec) {
		return inconclusive(models.SignalStubMarker, "no source body")
	}
	if rec.Features.HasStubMarker {
		return models.SignalResult{
			ID:      models.SignalStubMarker,
			Level:   models.SignalRed,
			Message: "body contains a stub marker",
		}
	}
	return pass(models.SignalStubMarker, "no stub marker")
}

func evalTrivialStub(_ *models.Reference, rec *models.FunctionRecord, cfg config.Parity) models.SignalResult {
	if !hasBody(rec) {
		return inconclusive(models.SignalTrivialStub, "no source body")
	}
	f := rec.Features
	if f.PluginCalls > 0 && f.PlainCalls <= cfg.StubMaxPlainCalls &&
		f.LineCount <= cfg.StubMaxLines && f.ControlFlow == 0 {
		return models.SignalResult{
			ID:    models.SignalTrivialStub,
			Level: models.SignalRed,
			Message: fmt.Sprintf("body is a wrapper-call stub: %d lines, %d wrapper calls, no control flow",
				f.LineCount, f.PluginCalls),
		}
	}
	return pass(models.SignalTrivialStub, "body has real logic")
}

func evalLargeAsmTinySource(ref *models.Reference, rec *models.FunctionRecord, cfg config.Parity) models.SignalResult {
	if ref == nil || !ref.AsmOK {
		return inconclusive(models.SignalLargeAsmTinySource, "no disassembly available")
	}
	if !hasBody(rec) {
		return inconclusive(models.SignalLargeAsmTinySource, "no source body")
	}
	if ref.Instructions >= cfg.AsmHighThreshold && rec.Features.LineCount <= cfg.SourceTinyMax {
		return models.SignalResult{
			ID:    models.SignalLargeAsmTinySource,
			Level: models.SignalRed,
			Message: fmt.Sprintf("%d instructions but only %d source lines (thresholds %d/%d)",
				ref.Instructions, rec.Features.LineCount, cfg.AsmHighThreshold, cfg.SourceTinyMax),
		}
	}
	return pass(models.SignalLargeAsmTinySource, "instruction / line ratio plausible")
}

func evalPluginCallHeavy(_ *models.Reference, rec *models.FunctionRecord, cfg config.Parity) models.SignalResult {
	if !hasBody(rec) {
		return inconclusive(models.SignalPluginCallHeavy, "no source body")
	}
	f := rec.Features
	total := f.TotalCalls()
	if f.PluginCalls >= cfg.PluginHeavyMin && total > 0 &&
		float64(f.PluginCalls)/float64(total) > cfg.PluginHeavyRatio {
		return models.SignalResult{
			ID:    models.SignalPluginCallHeavy,
			Level: models.SignalYellow,
			Message: fmt.Sprintf("wrapper calls dominate: %d of %d calls go through the wrapper",
				f.PluginCalls, total),
		}
	}
	return pass(models.SignalPluginCallHeavy, "wrapper call share acceptable")
}

func evalShortBody(_ *models.Reference, rec *models.FunctionRecord, cfg config.Parity) models.SignalResult {
	if !hasBody(rec) {
		return inconclusive(models.SignalShortBody, "no source body")
	}
	if rec.Features.LineCount < cfg.ShortBodyMin {
		return models.SignalResult{
			ID:      models.SignalShortBody,
			Level:   models.SignalYellow,
			Message: fmt.Sprintf("body has %d lines, minimum is %d", rec.Features.LineCount, cfg.ShortBodyMin),
		}
	}
	return pass(models.SignalShortBody, "body length acceptable")
}

func evalLowCallCount(ref *models.Reference, rec *models.FunctionRecord, cfg config.Parity) models.SignalResult {
	if ref == nil || !ref.AsmOK {
		return inconclusive(models.SignalLowCallCount, "no disassembly available")
	}
	if !hasBody(rec) {
		return inconclusive(models.SignalLowCallCount, "no source body")
	}
	callees := ref.CalleeCount()
	calls := rec.Features.TotalCalls()
	if callees >= cfg.LowCallCalleeMin && calls <= cfg.LowCallSourceMax {
		return models.SignalResult{
			ID:      models.SignalLowCallCount,
			Level:   models.SignalYellow,
			Message: fmt.Sprintf("disassembly calls %d functions but source makes %d calls", callees, calls),
		}
	}
	return pass(models.SignalLowCallCount, "call activity plausible")
}

func evalFPSensitivity(ref *models.Reference, rec *models.FunctionRecord, _ config.Parity) models.SignalResult {
	if ref == nil || !ref.AsmOK {
		return inconclusive(models.SignalFPSensitivity, "no disassembly available")
	}
	if !hasBody(rec) {
		return inconclusive(models.SignalFPSensitivity, "no source body")
	}
	if ref.HasFloatOps && rec.Features.FloatOps == 0 {
		return models.SignalResult{
			ID:      models.SignalFPSensitivity,
			Level:   models.SignalYellow,
			Message: "disassembly uses floating point but source shows no float operations",
		}
	}
	return pass(models.SignalFPSensitivity, "floating point usage consistent")
}

func evalCallCountMismatch(ref *models.Reference, rec *models.FunctionRecord, cfg config.Parity) models.SignalResult {
	if ref == nil || !ref.AsmOK {
		return inconclusive(models.SignalCallCountMismatch, "no disassembly available")
	}
	if !hasBody(rec) {
		return inconclusive(models.SignalCallCountMismatch, "no source body")
	}
	callees := ref.CalleeCount()
	calls := rec.Features.TotalCalls()
	diff := callees - calls
	if diff < 0 {
		diff = -diff
	}
	if diff > cfg.CallTolerance {
		return models.SignalResult{
			ID:    models.SignalCallCountMismatch,
			Level: models.SignalYellow,
			Message: fmt.Sprintf("callee count %d vs source calls %d, difference %d exceeds tolerance %d",
				callees, calls, diff, cfg.CallTolerance),
		}
	}
	return pass(models.SignalCallCountMismatch, "call counts line up")
}

func evalNaNLogic(ref *models.Reference, rec *models.FunctionRecord, _ config.Parity) models.SignalResult {
	if ref == nil || !ref.DecompileOK {
		return inconclusive(models.SignalNaNLogic, "no decompiled output available")
	}
	if !hasBody(rec) {
		return inconclusive(models.SignalNaNLogic, "no source body")
	}
	if ref.HasNaNCheck && !rec.Features.HasNaNHandling {
		return models.SignalResult{
			ID:      models.SignalNaNLogic,
			Level:   models.SignalYellow,
			Message: "decompiled output checks for NaN but source does not",
		}
	}
	return pass(models.SignalNaNLogic, "NaN handling consistent")
}

func evalInlineWrapper(_ *models.Reference, rec *models.FunctionRecord, _ config.Parity) models.SignalResult {
	if !hasBody(rec) {
		return inconclusive(models.SignalInlineWrapper, "no source body")
	}
	if rec.Features.IsForwarder {
		return models.SignalResult{
			ID:      models.SignalInlineWrapper,
			Level:   models.SignalInfo,
			Message: "body is a thin single-call forwarder",
		}
	}
	return pass(models.SignalInlineWrapper, "not a forwarder")
}
