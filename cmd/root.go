package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/Dryxio/auto-re-agent/internal/backend"
	"github.com/Dryxio/auto-re-agent/internal/config"
	"github.com/Dryxio/auto-re-agent/internal/llm"
	"github.com/Dryxio/auto-re-agent/internal/output"
	"github.com/Dryxio/auto-re-agent/internal/parity"
	"github.com/Dryxio/auto-re-agent/internal/store"
)

// Package-level shared dependencies, initialized in cobra.OnInitialize.
var (
	ui        *output.UI
	dataStore store.Store
	appConfig *config.Config

	verbose bool
	dryRun  bool
)

var rootCmd = &cobra.Command{
	Use:   "re-agent",
	Short: "LLM-assisted reverse engineering with parity verification",
	Long: `re-agent reconstructs C++ source for hooked binary functions and checks
every candidate against its decompiled reference. Drafts come from an LLM;
acceptance comes from a deterministic parity check over structural signals.
Progress is recorded per function and survives interruption.`,
	SilenceUsage:      true,
	SilenceErrors:     true,
	DisableAutoGenTag: true,
}

// Execute is the main entry point called from main.go.
func Execute(version, commit, date string) {
	buildVersion = version
	buildCommit = commit
	buildDate = date

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig, initDeps)

	rootCmd.RunE = func(cmd *cobra.Command, args []string) error {
		return rootRun(cmd)
	}

	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Verbose output")
	rootCmd.PersistentFlags().BoolVarP(&dryRun, "dry-run", "n", false, "Show what would happen without making changes")
	rootCmd.PersistentFlags().String("config", "", "Config file (default ~/.config/re-agent/config.yaml)")
}

func initConfig() {
	// If --config is explicitly set, use that file
	if cfgFile, _ := rootCmd.PersistentFlags().GetString("config"); cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: cannot find home directory: %v\n", err)
			os.Exit(1)
		}

		configDir := filepath.Join(home, ".config", "re-agent")
		viper.AddConfigPath(configDir)
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
	}

	viper.SetEnvPrefix("RE_AGENT")
	viper.AutomaticEnv()

	home, _ := os.UserHomeDir()
	config.SetDefaults(filepath.Join(home, ".config", "re-agent"))

	// Read config file if it exists (optional)
	_ = viper.ReadInConfig()
}

func initDeps() {
	ui = output.New()
	ui.Verbose = verbose
	ui.DryRun = dryRun

	// Store, backend, and provider are initialized lazily so config and
	// version commands run without a database or API key.
}

// rootRun handles `re-agent` with no subcommand: show the progress overview
// when a session database exists, otherwise help.
func rootRun(cmd *cobra.Command) error {
	if _, err := os.Stat(viper.GetString("db_path")); err != nil {
		return cmd.Help()
	}
	return statusOverviewRun()
}

// getConfig snapshots and validates the viper state on first use.
func getConfig() (*config.Config, error) {
	if appConfig != nil {
		return appConfig, nil
	}
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	appConfig = cfg
	return appConfig, nil
}

// getStore returns the shared store, initializing it on first call.
func getStore() (store.Store, error) {
	if dataStore != nil {
		return dataStore, nil
	}

	dbPath := viper.GetString("db_path")
	s, err := store.NewSQLiteStore(dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if err := s.Migrate(rootCmd.Context()); err != nil {
		_ = s.Close()
		return nil, fmt.Errorf("migrate database: %w", err)
	}

	dataStore = s
	return dataStore, nil
}

// getBackend builds the configured reference backend.
func getBackend() (backend.Backend, error) {
	cfg, err := getConfig()
	if err != nil {
		return nil, err
	}
	return backend.New(cfg.Backend)
}

// getProvider builds the configured propose provider.
func getProvider() (llm.Provider, error) {
	cfg, err := getConfig()
	if err != nil {
		return nil, err
	}
	return llm.New(cfg.LLM)
}

// getEngine builds the parity engine with rules and manual checks loaded.
func getEngine() (*parity.Engine, error) {
	cfg, err := getConfig()
	if err != nil {
		return nil, err
	}
	return parity.NewEngine(cfg.Parity)
}
