package cmd

import (
	"context"
	"fmt"
	"os"
	"sort"

	"github.com/spf13/cobra"

	"github.com/Dryxio/auto-re-agent/internal/index"
	"github.com/Dryxio/auto-re-agent/internal/models"
	"github.com/Dryxio/auto-re-agent/internal/output"
)

var (
	parityAll       bool
	parityCandidate string
	parityClass     string
	parityFunction  string
)

var parityCmd = &cobra.Command{
	Use:   "parity [address]",
	Short: "Run the parity check against existing source",
	Long: `Check one function, or the whole hook registry, against the binary.

No LLM is involved: the check compares indexed source (or a candidate file
passed with --candidate) to the disassembly and prints every signal with its
level. The same evaluation the review loop runs after each draft.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if parityAll {
			return parityAllRun()
		}
		if len(args) == 0 {
			return fmt.Errorf("specify an address or --all")
		}
		return parityOneRun(args[0])
	},
}

func init() {
	parityCmd.Flags().BoolVar(&parityAll, "all", false, "Check every function in the hook registry")
	parityCmd.Flags().StringVar(&parityCandidate, "candidate", "", "Check this source file instead of the indexed body")
	parityCmd.Flags().StringVar(&parityClass, "class", "", "Class for the candidate's identity")
	parityCmd.Flags().StringVar(&parityFunction, "function", "", "Function name for the candidate's identity")
	rootCmd.AddCommand(parityCmd)
}

func parityOneRun(addr string) error {
	if !models.ValidAddress(addr) {
		return fmt.Errorf("invalid address: %s", addr)
	}
	cfg, err := getConfig()
	if err != nil {
		return err
	}
	be, err := getBackend()
	if err != nil {
		return err
	}
	engine, err := getEngine()
	if err != nil {
		return err
	}
	ctx := context.Background()

	key := models.FunctionKey{
		Address:  models.NormalizeAddress(addr),
		Class:    parityClass,
		Function: parityFunction,
	}
	if cfg.Source.HooksCSV != "" && key.Class == "" && key.Function == "" {
		if reg, err := loadHooks(cfg); err == nil {
			if h, ok := reg.ByAddress(addr); ok {
				key = h.Key()
			}
		}
	}

	ref, err := be.Describe(ctx, key.Address)
	if err != nil {
		return fmt.Errorf("describe %s: %w", key.Address, err)
	}

	var rec *models.FunctionRecord
	if parityCandidate != "" {
		body, err := os.ReadFile(parityCandidate)
		if err != nil {
			return fmt.Errorf("read candidate: %w", err)
		}
		rec = index.NewAnalyzer(cfg.Source).Record(key, string(body))
	} else {
		idx, err := buildIndex(cfg)
		if err != nil {
			return err
		}
		if idx != nil {
			if r, ok := idx.ByAddress(key.Address); ok {
				rec = r
			}
		}
	}

	fmt.Fprintf(ui.Out, "%s  %s\n\n", output.Cyan(models.FormatAddress(key.Address)), key.QualifiedName())
	printVerdict(engine.Check(ref, rec))
	return nil
}

func parityAllRun() error {
	cfg, err := getConfig()
	if err != nil {
		return err
	}
	be, err := getBackend()
	if err != nil {
		return err
	}
	engine, err := getEngine()
	if err != nil {
		return err
	}
	reg, err := loadHooks(cfg)
	if err != nil {
		return err
	}
	idx, err := buildIndex(cfg)
	if err != nil {
		return err
	}
	ctx := context.Background()

	targets := reg.Entries
	if parityClass != "" {
		targets = reg.ForClass(parityClass)
	}
	sort.Slice(targets, func(i, j int) bool { return targets[i].Address < targets[j].Address })

	counts := make(map[models.ParityStatus]int)
	table := ui.Table([]string{"Address", "Function", "Verdict", "Summary"})
	for _, h := range targets {
		key := h.Key()

		ref, err := be.Describe(ctx, key.Address)
		if err != nil {
			return fmt.Errorf("describe %s: %w", key.Address, err)
		}
		var rec *models.FunctionRecord
		if idx != nil {
			if r, ok := idx.ByAddress(key.Address); ok {
				rec = r
			}
		}

		v := engine.Check(ref, rec)
		counts[v.Status]++
		table.Append([]string{
			output.Cyan(models.FormatAddress(key.Address)),
			key.QualifiedName(),
			output.VerdictColor(string(v.Status)),
			v.Summary,
		})
	}
	table.Render()

	fmt.Fprintf(ui.Out, "\n%d checked: %s green, %s yellow, %s red\n",
		len(targets),
		output.Green(fmt.Sprintf("%d", counts[models.ParityGreen])),
		output.Yellow(fmt.Sprintf("%d", counts[models.ParityYellow])),
		output.Red(fmt.Sprintf("%d", counts[models.ParityRed])),
	)
	return nil
}
