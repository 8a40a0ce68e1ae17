package cmd

import (
	"bytes"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"text/template"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

var configForce bool

// configDirFunc returns the config directory path, replaceable in tests.
var configDirFunc = defaultConfigDir

func defaultConfigDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".config", "re-agent"), nil
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show or manage configuration",
	Long: `Show or manage re-agent configuration.

Running bare 're-agent config' is the same as 're-agent config show'.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return configShowRun()
	},
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Create config file with commented defaults",
	RunE: func(cmd *cobra.Command, args []string) error {
		return configInitRun()
	},
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show effective configuration with sources",
	RunE: func(cmd *cobra.Command, args []string) error {
		return configShowRun()
	},
}

var configEditCmd = &cobra.Command{
	Use:   "edit",
	Short: "Open config file in $EDITOR",
	RunE: func(cmd *cobra.Command, args []string) error {
		return configEditRun()
	},
}

func init() {
	configInitCmd.Flags().BoolVar(&configForce, "force", false, "Overwrite existing config file")
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configEditCmd)
	rootCmd.AddCommand(configCmd)
}

// configTemplate is the template for generating config.yaml with comments.
const configTemplate = `# re-agent configuration
# See: re-agent config show (for effective values and sources)

# SQLite session database (default: ~/.config/re-agent/re-agent.db)
# db_path: {{ .DBPath }}

# Source indexing
source:
  # Project tree scanned for hook registrations (default: current directory)
  root: "{{ .SourceRoot }}"

  # Hook registry CSV driving batch runs: address,class,function per line
  hooks_csv: "{{ .HooksCSV }}"

  # File extensions indexed (defaults shown)
  # extensions: [".cpp", ".cc", ".h", ".hpp"]

  # Hook registration patterns; each needs (symbol, address) capture groups
  # hook_patterns:
  #   - 'RH_ScopedInstall\s*\(\s*(\w+)\s*,\s*(0[xX][0-9A-Fa-f]+)'
  #   - 'RH_ScopedVirtualInstall\s*\(\s*(\w+)\s*,\s*(0[xX][0-9A-Fa-f]+)'

  # Literal tokens marking intentionally-unimplemented bodies
  # stub_markers: ["NOTSA_UNREACHABLE"]

  # Calls into the hooked binary, counted apart from plain calls
  # wrapper_prefix: "plugin::Call"

  # HOOK_FUNCTION style projects instead use:
  # hook_patterns: ['HOOK_FUNCTION\s*\(\s*(\w+)\s*,\s*(0[xX][0-9A-Fa-f]+)']
  # stub_markers: ["NOT_IMPLEMENTED"]
  # wrapper_prefix: "original_function"

# Decompilation backend
backend:
  # "ghidra" shells out to the bridge tool; "stub" serves deterministic
  # offline references for dry runs and tests
  kind: "{{ .BackendKind }}"
  bin: "{{ .BackendBin }}"
  project: "{{ .BackendProject }}"

  # Per-call timeout in seconds (default: 45)
  # timeout_sec: {{ .BackendTimeout }}

# Propose provider
llm:
  # "anthropic", "openai", or "openai-compat" (needs base_url)
  provider: "{{ .LLMProvider }}"
  model: "{{ .LLMModel }}"

  # API key; prefer the RE_AGENT_LLM_API_KEY environment variable
  # api_key: ""

# Parity check tuning
parity:
  # Signal ids excluded from evaluation, e.g. ["short-body"]
  # disabled: []

  # Skip review for thin single-call forwarders (default: false)
  auto_skip_wrappers: {{ .AutoSkipWrappers }}

  # Reviewer-maintained per-address overrides (JSON) and manual checklist
  # rules_file: ""
  # manual_checks_file: ""

# Review loop bounds
review:
  # Draft plus fix attempts per function (default: 4)
  max_rounds: {{ .MaxRounds }}

  # Functions attempted per batch run (default: 10)
  max_functions: {{ .MaxFunctions }}

  # Concurrent function loops (default: 2)
  workers: {{ .Workers }}

# Output directory for accepted candidates and round logs
output:
  dir: "{{ .OutputDir }}"
`

type configTemplateData struct {
	DBPath           string
	SourceRoot       string
	HooksCSV         string
	BackendKind      string
	BackendBin       string
	BackendProject   string
	BackendTimeout   int
	LLMProvider      string
	LLMModel         string
	AutoSkipWrappers bool
	MaxRounds        int
	MaxFunctions     int
	Workers          int
	OutputDir        string
}

func configFilePath() (string, error) {
	dir, err := configDirFunc()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.yaml"), nil
}

func configInitRun() error {
	cfgPath, err := configFilePath()
	if err != nil {
		return err
	}

	// Check if file already exists
	if _, err := os.Stat(cfgPath); err == nil {
		if !configForce {
			return fmt.Errorf("config file already exists: %s (use --force to overwrite)", cfgPath)
		}
		ui.Warning("Overwriting existing config file")
	}

	// Build template data from current viper values
	data := configTemplateData{
		DBPath:           viper.GetString("db_path"),
		SourceRoot:       viper.GetString("source.root"),
		HooksCSV:         viper.GetString("source.hooks_csv"),
		BackendKind:      viper.GetString("backend.kind"),
		BackendBin:       viper.GetString("backend.bin"),
		BackendProject:   viper.GetString("backend.project"),
		BackendTimeout:   viper.GetInt("backend.timeout_sec"),
		LLMProvider:      viper.GetString("llm.provider"),
		LLMModel:         viper.GetString("llm.model"),
		AutoSkipWrappers: viper.GetBool("parity.auto_skip_wrappers"),
		MaxRounds:        viper.GetInt("review.max_rounds"),
		MaxFunctions:     viper.GetInt("review.max_functions"),
		Workers:          viper.GetInt("review.workers"),
		OutputDir:        viper.GetString("output.dir"),
	}

	tmpl, err := template.New("config").Parse(configTemplate)
	if err != nil {
		return fmt.Errorf("template parse error: %w", err)
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return fmt.Errorf("template execute error: %w", err)
	}

	if dryRun {
		ui.DryRunMsg("Would create config file: %s", cfgPath)
		fmt.Fprintln(ui.Out)
		fmt.Fprint(ui.Out, buf.String())
		return nil
	}

	// Create config directory
	dir := filepath.Dir(cfgPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	if err := os.WriteFile(cfgPath, buf.Bytes(), 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	ui.Success("Config file created: %s", cfgPath)
	fmt.Fprintln(ui.Out)
	fmt.Fprint(ui.Out, buf.String())
	return nil
}

// configKeyInfo describes a config key for display purposes.
type configKeyInfo struct {
	Key    string
	EnvVar string
}

var configKeys = []configKeyInfo{
	{Key: "db_path", EnvVar: "RE_AGENT_DB_PATH"},
	{Key: "source.root", EnvVar: "RE_AGENT_SOURCE_ROOT"},
	{Key: "source.hooks_csv", EnvVar: "RE_AGENT_SOURCE_HOOKS_CSV"},
	{Key: "source.wrapper_prefix", EnvVar: "RE_AGENT_SOURCE_WRAPPER_PREFIX"},
	{Key: "backend.kind", EnvVar: "RE_AGENT_BACKEND_KIND"},
	{Key: "backend.bin", EnvVar: "RE_AGENT_BACKEND_BIN"},
	{Key: "backend.project", EnvVar: "RE_AGENT_BACKEND_PROJECT"},
	{Key: "backend.timeout_sec", EnvVar: "RE_AGENT_BACKEND_TIMEOUT_SEC"},
	{Key: "backend.cache_dir", EnvVar: "RE_AGENT_BACKEND_CACHE_DIR"},
	{Key: "llm.provider", EnvVar: "RE_AGENT_LLM_PROVIDER"},
	{Key: "llm.model", EnvVar: "RE_AGENT_LLM_MODEL"},
	{Key: "llm.base_url", EnvVar: "RE_AGENT_LLM_BASE_URL"},
	{Key: "llm.max_tokens", EnvVar: "RE_AGENT_LLM_MAX_TOKENS"},
	{Key: "llm.timeout_sec", EnvVar: "RE_AGENT_LLM_TIMEOUT_SEC"},
	{Key: "parity.auto_skip_wrappers", EnvVar: "RE_AGENT_PARITY_AUTO_SKIP_WRAPPERS"},
	{Key: "parity.call_tolerance", EnvVar: "RE_AGENT_PARITY_CALL_TOLERANCE"},
	{Key: "parity.rules_file", EnvVar: "RE_AGENT_PARITY_RULES_FILE"},
	{Key: "review.max_rounds", EnvVar: "RE_AGENT_REVIEW_MAX_ROUNDS"},
	{Key: "review.max_functions", EnvVar: "RE_AGENT_REVIEW_MAX_FUNCTIONS"},
	{Key: "review.workers", EnvVar: "RE_AGENT_REVIEW_WORKERS"},
	{Key: "output.dir", EnvVar: "RE_AGENT_OUTPUT_DIR"},
}

func configShowRun() error {
	cfgPath, err := configFilePath()
	if err != nil {
		return err
	}

	// Check if config file exists
	if _, err := os.Stat(cfgPath); err == nil {
		ui.Info("Config file: %s", cfgPath)
	} else {
		ui.Info("Config file: (none)")
	}
	fmt.Fprintln(ui.Out)

	// Read config file values to determine file source
	fileValues := readConfigFileValues(cfgPath)

	for _, k := range configKeys {
		val := viper.Get(k.Key)
		source := detectSource(k.Key, k.EnvVar, fileValues)
		fmt.Fprintf(ui.Out, "  %-28s %v  %s\n", k.Key, val, source)
	}

	return nil
}

// readConfigFileValues reads the raw YAML file and returns a flat map of keys present in it.
func readConfigFileValues(path string) map[string]bool {
	result := make(map[string]bool)

	data, err := os.ReadFile(path)
	if err != nil {
		return result
	}

	var parsed map[string]any
	if err := yaml.Unmarshal(data, &parsed); err != nil {
		return result
	}

	// Flatten nested keys with dot notation
	flattenKeys("", parsed, result)
	return result
}

// flattenKeys recursively flattens a nested map to dot-notation keys.
func flattenKeys(prefix string, m map[string]any, result map[string]bool) {
	for key, val := range m {
		fullKey := key
		if prefix != "" {
			fullKey = prefix + "." + key
		}
		if nested, ok := val.(map[string]any); ok {
			flattenKeys(fullKey, nested, result)
		} else {
			result[fullKey] = true
		}
	}
}

// detectSource determines where a config value is coming from.
func detectSource(key, envVar string, fileValues map[string]bool) string {
	if _, ok := os.LookupEnv(envVar); ok {
		return fmt.Sprintf("(env: %s)", envVar)
	}
	if fileValues[key] {
		return "(file)"
	}
	return "(default)"
}

func configEditRun() error {
	editor := os.Getenv("EDITOR")
	if editor == "" {
		editor = os.Getenv("VISUAL")
	}
	if editor == "" {
		return fmt.Errorf("$EDITOR is not set: set it to your preferred editor (e.g. export EDITOR=vim)")
	}

	cfgPath, err := configFilePath()
	if err != nil {
		return err
	}

	if _, err := os.Stat(cfgPath); os.IsNotExist(err) {
		return fmt.Errorf("config file not found: %s (run 're-agent config init' first)", cfgPath)
	}

	if dryRun {
		ui.DryRunMsg("Would open %s in %s", cfgPath, editor)
		return nil
	}

	editCmd := exec.Command(editor, cfgPath)
	editCmd.Stdin = os.Stdin
	editCmd.Stdout = os.Stdout
	editCmd.Stderr = os.Stderr
	return editCmd.Run()
}
