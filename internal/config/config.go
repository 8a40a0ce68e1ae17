// Package config turns the layered viper state (defaults, config file,
// RE_AGENT_* environment, flags) into one immutable Config value built once
// at startup. Components receive Config explicitly and never read viper.
package config

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/spf13/viper"

	"github.com/Dryxio/auto-re-agent/internal/models"
)

// Source controls the indexer: where to scan and how to recognize hooks.
type Source struct {
	Root          string
	Extensions    []string
	HookPatterns  []string // regexes with (symbol, address) capture groups
	ClassPatterns []string // regexes marking the enclosing class for later hooks
	StubMarkers   []string // literal tokens marking intentionally-unimplemented bodies
	WrapperPrefix string   // call prefix counted as a wrapper call
	HooksCSV      string   // exported hook table, the batch work list
}

// Backend selects and tunes the decompilation descriptor source.
type Backend struct {
	Kind      string // "ghidra" or "stub"
	Bin       string // ghidra bridge executable
	Project   string // analysis project passed to the bridge
	Timeout   time.Duration
	CacheDir  string // disk cache for descriptors, empty disables
	CacheSize int    // in-memory LRU entries
}

// LLM selects and tunes the propose provider.
type LLM struct {
	Provider    string // "anthropic", "openai", "openai-compat"
	Model       string
	APIKey      string
	BaseURL     string // openai-compat endpoints
	MaxTokens   int
	Temperature float64
	Timeout     time.Duration
}

// Parity holds the signal thresholds and toggles. Defaults are calibrated
// against hand-reviewed functions; override per project as the codebase
// style demands.
type Parity struct {
	Disabled []string // signal ids excluded from evaluation

	CallTolerance     int     // call-count-mismatch: allowed |callees - source calls|
	ShortBodyMin      int     // short-body: lines below this warn
	LowCallCalleeMin  int     // low-call-count: callee count at or above this...
	LowCallSourceMax  int     // ...with source calls at or below this warns
	AsmHighThreshold  int     // large-asm-tiny-source: instruction count at or above
	SourceTinyMax     int     // large-asm-tiny-source: line count at or below
	StubMaxLines      int     // trivial-stub: line ceiling
	StubMaxPlainCalls int     // trivial-stub: non-wrapper call ceiling
	PluginHeavyRatio  float64 // plugin-call-heavy: wrapper share of all calls
	PluginHeavyMin    int     // plugin-call-heavy: minimum wrapper calls to consider

	AutoSkipWrappers bool   // inline-wrapper forwarders pass without review
	RulesFile        string // reviewer-maintained per-address overrides (JSON)
	ManualChecksFile string // markdown checklist appended to summaries
}

// SignalEnabled reports whether the given signal participates in evaluation.
func (p Parity) SignalEnabled(id models.SignalID) bool {
	for _, d := range p.Disabled {
		if d == string(id) {
			return false
		}
	}
	return true
}

// Review bounds the draft-check-fix loop.
type Review struct {
	MaxRounds    int // hard retry budget per function
	MaxFunctions int // per-class run ceiling
	Workers      int // concurrent function loops
}

// Output places everything the tool writes.
type Output struct {
	Dir string // accepted candidates under Dir/code, round logs under Dir/logs
}

// Config is the full effective configuration. Treat as read-only after Load.
type Config struct {
	DBPath  string
	Source  Source
	Backend Backend
	LLM     LLM
	Parity  Parity
	Review  Review
	Output  Output
}

// SetDefaults installs every default into viper. Called once before reading
// the config file so file/env/flag layers override cleanly.
func SetDefaults(configDir string) {
	viper.SetDefault("db_path", filepath.Join(configDir, "re-agent.db"))

	viper.SetDefault("source.root", ".")
	viper.SetDefault("source.extensions", []string{".cpp", ".cc", ".h", ".hpp"})
	viper.SetDefault("source.hook_patterns", []string{
		`RH_ScopedInstall\s*\(\s*(\w+)\s*,\s*(0[xX][0-9A-Fa-f]+)`,
		`RH_ScopedVirtualInstall\s*\(\s*(\w+)\s*,\s*(0[xX][0-9A-Fa-f]+)`,
		`RH_ScopedOverloadedInstall\s*\(\s*(\w+)\s*,\s*"[^"]*"\s*,\s*(0[xX][0-9A-Fa-f]+)`,
	})
	viper.SetDefault("source.class_patterns", []string{
		`RH_ScopedClass\s*\(\s*(\w+)`,
		`RH_ScopedVirtualClass\s*\(\s*(\w+)`,
	})
	viper.SetDefault("source.stub_markers", []string{"NOTSA_UNREACHABLE"})
	viper.SetDefault("source.wrapper_prefix", "plugin::Call")
	viper.SetDefault("source.hooks_csv", "")

	viper.SetDefault("backend.kind", "ghidra")
	viper.SetDefault("backend.bin", "ghidra-re")
	viper.SetDefault("backend.project", "")
	viper.SetDefault("backend.timeout_sec", 45)
	viper.SetDefault("backend.cache_dir", filepath.Join(configDir, "cache"))
	viper.SetDefault("backend.cache_size", 512)

	viper.SetDefault("llm.provider", "anthropic")
	viper.SetDefault("llm.model", "claude-sonnet-4-5-20250929")
	viper.SetDefault("llm.api_key", "")
	viper.SetDefault("llm.base_url", "")
	viper.SetDefault("llm.max_tokens", 8192)
	viper.SetDefault("llm.temperature", 0.0)
	viper.SetDefault("llm.timeout_sec", 120)

	viper.SetDefault("parity.disabled", []string{})
	viper.SetDefault("parity.call_tolerance", 3)
	viper.SetDefault("parity.short_body_min", 6)
	viper.SetDefault("parity.low_call_callee_min", 6)
	viper.SetDefault("parity.low_call_source_max", 1)
	viper.SetDefault("parity.asm_high_threshold", 80)
	viper.SetDefault("parity.source_tiny_max", 12)
	viper.SetDefault("parity.stub_max_lines", 14)
	viper.SetDefault("parity.stub_max_plain_calls", 1)
	viper.SetDefault("parity.plugin_heavy_ratio", 0.5)
	viper.SetDefault("parity.plugin_heavy_min", 2)
	viper.SetDefault("parity.auto_skip_wrappers", false)
	viper.SetDefault("parity.rules_file", "")
	viper.SetDefault("parity.manual_checks_file", "")

	viper.SetDefault("review.max_rounds", 4)
	viper.SetDefault("review.max_functions", 10)
	viper.SetDefault("review.workers", 2)

	viper.SetDefault("output.dir", "re-agent-out")
}

// Load snapshots the current viper state into a Config and validates it.
func Load() (*Config, error) {
	cfg := &Config{
		DBPath: viper.GetString("db_path"),
		Source: Source{
			Root:          viper.GetString("source.root"),
			Extensions:    viper.GetStringSlice("source.extensions"),
			HookPatterns:  viper.GetStringSlice("source.hook_patterns"),
			ClassPatterns: viper.GetStringSlice("source.class_patterns"),
			StubMarkers:   viper.GetStringSlice("source.stub_markers"),
			WrapperPrefix: viper.GetString("source.wrapper_prefix"),
			HooksCSV:      viper.GetString("source.hooks_csv"),
		},
		Backend: Backend{
			Kind:      viper.GetString("backend.kind"),
			Bin:       viper.GetString("backend.bin"),
			Project:   viper.GetString("backend.project"),
			Timeout:   time.Duration(viper.GetInt("backend.timeout_sec")) * time.Second,
			CacheDir:  viper.GetString("backend.cache_dir"),
			CacheSize: viper.GetInt("backend.cache_size"),
		},
		LLM: LLM{
			Provider:    viper.GetString("llm.provider"),
			Model:       viper.GetString("llm.model"),
			APIKey:      viper.GetString("llm.api_key"),
			BaseURL:     viper.GetString("llm.base_url"),
			MaxTokens:   viper.GetInt("llm.max_tokens"),
			Temperature: viper.GetFloat64("llm.temperature"),
			Timeout:     time.Duration(viper.GetInt("llm.timeout_sec")) * time.Second,
		},
		Parity: Parity{
			Disabled:          viper.GetStringSlice("parity.disabled"),
			CallTolerance:     viper.GetInt("parity.call_tolerance"),
			ShortBodyMin:      viper.GetInt("parity.short_body_min"),
			LowCallCalleeMin:  viper.GetInt("parity.low_call_callee_min"),
			LowCallSourceMax:  viper.GetInt("parity.low_call_source_max"),
			AsmHighThreshold:  viper.GetInt("parity.asm_high_threshold"),
			SourceTinyMax:     viper.GetInt("parity.source_tiny_max"),
			StubMaxLines:      viper.GetInt("parity.stub_max_lines"),
			StubMaxPlainCalls: viper.GetInt("parity.stub_max_plain_calls"),
			PluginHeavyRatio:  viper.GetFloat64("parity.plugin_heavy_ratio"),
			PluginHeavyMin:    viper.GetInt("parity.plugin_heavy_min"),
			AutoSkipWrappers:  viper.GetBool("parity.auto_skip_wrappers"),
			RulesFile:         viper.GetString("parity.rules_file"),
			ManualChecksFile:  viper.GetString("parity.manual_checks_file"),
		},
		Review: Review{
			MaxRounds:    viper.GetInt("review.max_rounds"),
			MaxFunctions: viper.GetInt("review.max_functions"),
			Workers:      viper.GetInt("review.workers"),
		},
		Output: Output{
			Dir: viper.GetString("output.dir"),
		},
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	switch c.Backend.Kind {
	case "ghidra", "stub":
	default:
		return fmt.Errorf("unknown backend kind %q (want ghidra or stub)", c.Backend.Kind)
	}
	switch c.LLM.Provider {
	case "anthropic", "openai", "openai-compat":
	default:
		return fmt.Errorf("unknown llm provider %q (want anthropic, openai, or openai-compat)", c.LLM.Provider)
	}
	if c.LLM.Provider == "openai-compat" && c.LLM.BaseURL == "" {
		return fmt.Errorf("llm provider openai-compat requires llm.base_url")
	}
	for _, id := range c.Parity.Disabled {
		if !knownSignal(id) {
			return fmt.Errorf("parity.disabled lists unknown signal %q", id)
		}
	}
	if c.Review.MaxRounds < 1 {
		return fmt.Errorf("review.max_rounds must be at least 1, got %d", c.Review.MaxRounds)
	}
	if c.Review.Workers < 1 {
		return fmt.Errorf("review.workers must be at least 1, got %d", c.Review.Workers)
	}
	if c.Parity.CallTolerance < 0 {
		return fmt.Errorf("parity.call_tolerance must not be negative, got %d", c.Parity.CallTolerance)
	}
	return nil
}

func knownSignal(id string) bool {
	for _, s := range models.AllSignals {
		if string(s) == id {
			return true
		}
	}
	return false
}
