package cmd

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"github.com/Dryxio/auto-re-agent/internal/config"
	"github.com/Dryxio/auto-re-agent/internal/hooks"
	"github.com/Dryxio/auto-re-agent/internal/index"
	"github.com/Dryxio/auto-re-agent/internal/models"
	"github.com/Dryxio/auto-re-agent/internal/output"
)

var (
	indexClass    string
	indexMissing  bool
	indexWarnings bool
)

var indexCmd = &cobra.Command{
	Use:   "index",
	Short: "Scan the source tree and show indexed hook functions",
	Long: `Scan the configured source tree for hook install sites and show what
was indexed: one row per hooked function with its body size and call counts.

With a hooks CSV configured, also reports registry coverage: how many hooked
addresses have indexed source. Indexing is read-only and repeatable; the same
tree always yields the same records.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return indexRun()
	},
}

func init() {
	indexCmd.Flags().StringVar(&indexClass, "class", "", "Show only functions of this class")
	indexCmd.Flags().BoolVar(&indexMissing, "missing", false, "Show registry addresses with no indexed source")
	indexCmd.Flags().BoolVar(&indexWarnings, "warnings", false, "Show per-file scan warnings")
	rootCmd.AddCommand(indexCmd)
}

func indexRun() error {
	cfg, err := getConfig()
	if err != nil {
		return err
	}

	res, err := buildIndex(cfg)
	if err != nil {
		return err
	}
	if res == nil {
		return fmt.Errorf("no source root configured (source.root)")
	}

	// Stable presentation order: by address.
	keys := make([]models.FunctionKey, 0, len(res.Records))
	for k := range res.Records {
		if indexClass != "" && k.Class != indexClass {
			continue
		}
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i].Address < keys[j].Address })

	table := ui.Table([]string{"Address", "Function", "File", "Lines", "Calls", "Body"})
	for _, k := range keys {
		rec := res.Records[k]
		body := output.Green("yes")
		if !rec.HasBody {
			body = output.Red("no")
		}
		table.Append([]string{
			output.Cyan(models.FormatAddress(k.Address)),
			k.QualifiedName(),
			rec.File,
			fmt.Sprintf("%d", rec.Features.LineCount),
			fmt.Sprintf("%d", rec.Features.TotalCalls()),
			body,
		})
	}
	table.Render()

	fmt.Fprintln(ui.Out)
	ui.Info("%d functions indexed", len(res.Records))

	for _, amb := range res.Ambiguities {
		ui.Warning("address %s bound by %d install sites, first wins:", models.FormatAddress(amb.Address), len(amb.Sites))
		for _, site := range amb.Sites {
			ui.Warning("  %s", site)
		}
	}

	if indexWarnings {
		for _, w := range res.Warnings {
			ui.Warning("%s: %s", w.File, w.Err)
		}
	} else if len(res.Warnings) > 0 {
		ui.Info("%d files skipped (--warnings for details)", len(res.Warnings))
	}

	// Registry coverage
	if cfg.Source.HooksCSV != "" {
		reg, _, err := hooks.ReadFile(cfg.Source.HooksCSV)
		if err != nil {
			return fmt.Errorf("read hooks: %w", err)
		}
		covered := 0
		var missing []models.HookEntry
		for _, h := range reg.Entries {
			if _, ok := res.ByAddress(h.Address); ok {
				covered++
			} else {
				missing = append(missing, h)
			}
		}
		ui.Info("registry coverage: %d of %d hooked addresses have indexed source", covered, len(reg.Entries))
		if indexMissing {
			for _, h := range missing {
				fmt.Fprintf(ui.Out, "  %s %s\n", models.FormatAddress(h.Address), h.Key().QualifiedName())
			}
		}
	}

	return nil
}

// buildIndex scans the configured source root. Returns nil when no root is
// configured, which commands treat as "no index available".
func buildIndex(cfg *config.Config) (*index.Result, error) {
	if cfg.Source.Root == "" {
		return nil, nil
	}
	ix, err := index.New(cfg.Source)
	if err != nil {
		return nil, err
	}
	res, err := ix.Index(cfg.Source.Root)
	if err != nil {
		return nil, fmt.Errorf("index %s: %w", cfg.Source.Root, err)
	}
	return res, nil
}

// loadHooks reads the configured hook registry, surfacing row warnings
// through the UI.
func loadHooks(cfg *config.Config) (*hooks.Registry, error) {
	if cfg.Source.HooksCSV == "" {
		return nil, fmt.Errorf("no hooks file configured (source.hooks_csv)")
	}
	reg, warnings, err := hooks.ReadFile(cfg.Source.HooksCSV)
	if err != nil {
		return nil, fmt.Errorf("read hooks: %w", err)
	}
	for _, w := range warnings {
		ui.Warning("hooks: %s", w)
	}
	return reg, nil
}
