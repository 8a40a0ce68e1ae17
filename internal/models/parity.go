package models

// SignalLevel ranks the severity of a single parity finding.
type SignalLevel string

const (
	SignalPass   SignalLevel = "pass"
	SignalInfo   SignalLevel = "info"
	SignalYellow SignalLevel = "yellow"
	SignalRed    SignalLevel = "red"
)

// SignalID names one parity heuristic. The catalogue is fixed; signals are
// toggled through configuration, never renamed.
type SignalID string

const (
	SignalMissingSource      SignalID = "missing-source"
	SignalStubMarker         SignalID = "stub-marker"
	SignalTrivialStub        SignalID = "trivial-stub"
	SignalLargeAsmTinySource SignalID = "large-asm-tiny-source"
	SignalPluginCallHeavy    SignalID = "plugin-call-heavy"
	SignalShortBody          SignalID = "short-body"
	SignalLowCallCount       SignalID = "low-call-count"
	SignalFPSensitivity      SignalID = "fp-sensitivity"
	SignalCallCountMismatch  SignalID = "call-count-mismatch"
	SignalNaNLogic           SignalID = "nan-logic"
	SignalInlineWrapper      SignalID = "inline-wrapper"
)

// AllSignals lists the full catalogue in evaluation order.
var AllSignals = []SignalID{
	SignalMissingSource,
	SignalStubMarker,
	SignalTrivialStub,
	SignalLargeAsmTinySource,
	SignalPluginCallHeavy,
	SignalShortBody,
	SignalLowCallCount,
	SignalFPSensitivity,
	SignalCallCountMismatch,
	SignalNaNLogic,
	SignalInlineWrapper,
}

// SignalResult is one evaluator's finding for one function. Produced fresh
// on every evaluation, never mutated.
type SignalResult struct {
	ID      SignalID    `json:"id"`
	Level   SignalLevel `json:"level"`
	Message string      `json:"message"`
}

// ParityStatus is the aggregated verdict level.
type ParityStatus string

const (
	ParityGreen  ParityStatus = "green"
	ParityYellow ParityStatus = "yellow"
	ParityRed    ParityStatus = "red"
)

// ParityVerdict is the aggregated outcome of all enabled signals for one
// candidate. Derived data: replaying the same record, reference, and
// configuration reproduces it exactly.
type ParityVerdict struct {
	Status  ParityStatus   `json:"status"`
	Signals []SignalResult `json:"signals"`
	Summary string         `json:"summary"`
}

// Issues returns the red and yellow findings, the ones a fix attempt must
// address.
func (v *ParityVerdict) Issues() []SignalResult {
	var out []SignalResult
	for _, s := range v.Signals {
		if s.Level == SignalRed || s.Level == SignalYellow {
			out = append(out, s)
		}
	}
	return out
}
