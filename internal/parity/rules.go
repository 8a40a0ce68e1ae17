package parity

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/Dryxio/auto-re-agent/internal/config"
	"github.com/Dryxio/auto-re-agent/internal/models"
)

// Rule is one reviewer-maintained override for an address. Force moves the
// verdict level regardless of signals; an empty Force attaches the note only.
type Rule struct {
	Address string `json:"address"`
	Force   string `json:"force,omitempty"` // "green" or "red"
	Note    string `json:"note,omitempty"`
}

type ruleFile struct {
	Rules []Rule `json:"rules"`
}

// RuleSet holds the loaded overrides plus the manual-check list appended to
// every summary a human will read.
type RuleSet struct {
	byAddr map[string]Rule
	checks []string
}

// LoadRules reads a rules JSON file. A missing path yields an empty set.
func LoadRules(path string) (*RuleSet, error) {
	rs := &RuleSet{byAddr: make(map[string]Rule)}
	if path == "" {
		return rs, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return rs, nil
		}
		return nil, fmt.Errorf("read rules file: %w", err)
	}
	var rf ruleFile
	if err := json.Unmarshal(data, &rf); err != nil {
		return nil, fmt.Errorf("parse rules file %s: %w", path, err)
	}
	for _, r := range rf.Rules {
		switch r.Force {
		case "", "green", "red":
		default:
			return nil, fmt.Errorf("rules file %s: address %s has unknown force %q", path, r.Address, r.Force)
		}
		r.Address = models.NormalizeAddress(r.Address)
		rs.byAddr[r.Address] = r
	}
	return rs, nil
}

// LoadManualChecks reads the markdown checklist: every top-level bullet
// becomes one check line. A missing path yields no checks.
func LoadManualChecks(path string) ([]string, error) {
	if path == "" {
		return nil, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read manual checks file: %w", err)
	}
	var checks []string
	for _, line := range strings.Split(string(data), "\n") {
		t := strings.TrimSpace(line)
		if strings.HasPrefix(t, "- ") || strings.HasPrefix(t, "* ") {
			item := strings.TrimSpace(t[2:])
			item = strings.TrimPrefix(item, "[ ]")
			item = strings.TrimPrefix(item, "[x]")
			item = strings.TrimSpace(item)
			if item != "" {
				checks = append(checks, item)
			}
		}
	}
	return checks, nil
}

// Lookup returns the rule for an address, if any.
func (rs *RuleSet) Lookup(addr string) (Rule, bool) {
	r, ok := rs.byAddr[models.NormalizeAddress(addr)]
	return r, ok
}

// Checks returns the manual-check lines.
func (rs *RuleSet) Checks() []string {
	return rs.checks
}

// Apply folds an address's override into a verdict. The signal results stay
// untouched so the raw evaluation remains auditable; only the level and
// summary change, with the override spelled out in the summary.
func (rs *RuleSet) Apply(addr string, v *models.ParityVerdict) *models.ParityVerdict {
	r, ok := rs.Lookup(addr)
	if !ok {
		return v
	}
	out := *v
	switch r.Force {
	case "green":
		out.Status = models.ParityGreen
		out.Summary += "; override: forced green"
	case "red":
		out.Status = models.ParityRed
		out.Summary += "; override: forced red"
	}
	if r.Note != "" {
		out.Summary += "; note: " + r.Note
	}
	return &out
}

// Engine bundles the signal configuration with the loaded overrides so
// callers check functions through one value.
type Engine struct {
	cfg   config.Parity
	rules *RuleSet
}

// NewEngine loads the configured rules and manual checks.
func NewEngine(cfg config.Parity) (*Engine, error) {
	rules, err := LoadRules(cfg.RulesFile)
	if err != nil {
		return nil, err
	}
	checks, err := LoadManualChecks(cfg.ManualChecksFile)
	if err != nil {
		return nil, err
	}
	rules.checks = checks
	return &Engine{cfg: cfg, rules: rules}, nil
}

// Config returns the engine's signal configuration.
func (e *Engine) Config() config.Parity {
	return e.cfg
}

// ManualChecks returns the reviewer checklist, empty when none configured.
func (e *Engine) ManualChecks() []string {
	return e.rules.Checks()
}

// Check runs the full gate for one function: signals, aggregation, then
// overrides for the record's address.
func (e *Engine) Check(ref *models.Reference, rec *models.FunctionRecord) *models.ParityVerdict {
	v := Check(ref, rec, e.cfg)
	addr := ""
	if rec != nil {
		addr = rec.Address
	} else if ref != nil {
		addr = ref.Address
	}
	if addr == "" {
		return v
	}
	return e.rules.Apply(addr, v)
}
