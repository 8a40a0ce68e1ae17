package parity

import (
	"fmt"
	"strings"

	"github.com/Dryxio/auto-re-agent/internal/config"
	"github.com/Dryxio/auto-re-agent/internal/models"
)

// Evaluate runs every enabled signal in catalogue order. Disabled signals
// produce no result at all, so they cannot influence aggregation.
func Evaluate(ref *models.Reference, rec *models.FunctionRecord, cfg config.Parity) []models.SignalResult {
	var out []models.SignalResult
	for _, entry := range catalogue {
		if !cfg.SignalEnabled(entry.id) {
			continue
		}
		out = append(out, entry.eval(ref, rec, cfg))
	}
	return out
}

// Aggregate reduces signal results to one verdict level. Precedence is
// strict: any red wins, else any yellow, else green. Info and pass results
// never move the level.
func Aggregate(results []models.SignalResult) models.ParityStatus {
	status := models.ParityGreen
	for _, r := range results {
		switch r.Level {
		case models.SignalRed:
			return models.ParityRed
		case models.SignalYellow:
			status = models.ParityYellow
		}
	}
	return status
}

// Summarize renders a one-line summary: triggered signals grouped by level,
// info findings always mentioned.
func Summarize(results []models.SignalResult) string {
	var red, yellow, info []string
	for _, r := range results {
		switch r.Level {
		case models.SignalRed:
			red = append(red, string(r.ID))
		case models.SignalYellow:
			yellow = append(yellow, string(r.ID))
		case models.SignalInfo:
			info = append(info, string(r.ID))
		}
	}

	var parts []string
	if len(red) > 0 {
		parts = append(parts, "red: "+strings.Join(red, ", "))
	}
	if len(yellow) > 0 {
		parts = append(parts, "yellow: "+strings.Join(yellow, ", "))
	}
	if len(parts) == 0 {
		parts = append(parts, "all enabled signals pass")
	}
	if len(info) > 0 {
		parts = append(parts, "info: "+strings.Join(info, ", "))
	}
	return strings.Join(parts, "; ")
}

// Check evaluates all enabled signals and aggregates them into a verdict.
func Check(ref *models.Reference, rec *models.FunctionRecord, cfg config.Parity) *models.ParityVerdict {
	if cfg.AutoSkipWrappers && cfg.SignalEnabled(models.SignalInlineWrapper) &&
		rec != nil && rec.HasBody && rec.Features.IsForwarder {
		skip := models.SignalResult{
			ID:      models.SignalInlineWrapper,
			Level:   models.SignalInfo,
			Message: "body is a thin single-call forwarder",
		}
		return &models.ParityVerdict{
			Status:  models.ParityGreen,
			Signals: []models.SignalResult{skip},
			Summary: "inline wrapper, verification skipped; info: " + string(models.SignalInlineWrapper),
		}
	}

	results := Evaluate(ref, rec, cfg)
	return &models.ParityVerdict{
		Status:  Aggregate(results),
		Signals: results,
		Summary: Summarize(results),
	}
}

// FixInstructions turns a verdict's red and yellow findings into the
// instruction text handed to a fix attempt.
func FixInstructions(v *models.ParityVerdict) string {
	issues := v.Issues()
	if len(issues) == 0 {
		return ""
	}
	var sb strings.Builder
	for i, r := range issues {
		fmt.Fprintf(&sb, "%d. [%s] %s: %s\n", i+1, strings.ToUpper(string(r.Level)), r.ID, r.Message)
	}
	return strings.TrimRight(sb.String(), "\n")
}
