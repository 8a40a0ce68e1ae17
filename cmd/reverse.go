package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Dryxio/auto-re-agent/internal/agent"
	"github.com/Dryxio/auto-re-agent/internal/config"
	"github.com/Dryxio/auto-re-agent/internal/models"
	"github.com/Dryxio/auto-re-agent/internal/output"
	"github.com/Dryxio/auto-re-agent/internal/review"
)

var (
	reverseClass string
	reverseAll   bool
	reverseForce bool
	reverseLimit int
)

var reverseCmd = &cobra.Command{
	Use:   "reverse [address]",
	Short: "Draft and verify source for hooked functions",
	Long: `Reverse one hooked function, a class, or the whole hook registry.

For each function the loop drafts a candidate from the decompiled reference,
runs the parity check, and feeds findings back as fix instructions until the
verdict goes green or the round budget runs out. Every round lands in the
session database before the loop moves on, so an interrupted run resumes
where it stopped.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if len(args) == 1 {
			return reverseOneRun(args[0])
		}
		if reverseClass == "" && !reverseAll {
			return fmt.Errorf("specify an address, --class, or --all")
		}
		return reverseBatchRun()
	},
}

func init() {
	reverseCmd.Flags().StringVar(&reverseClass, "class", "", "Review every hooked function of a class")
	reverseCmd.Flags().BoolVar(&reverseAll, "all", false, "Review every function in the hook registry")
	reverseCmd.Flags().BoolVar(&reverseForce, "force", false, "Re-run functions already done, superseding their entries")
	reverseCmd.Flags().IntVar(&reverseLimit, "limit", 0, "Max functions this run (default: review.max_functions)")
	rootCmd.AddCommand(reverseCmd)
}

// buildLoop wires the full review pipeline from the shared dependencies.
func buildLoop() (*review.Loop, *config.Config, error) {
	cfg, err := getConfig()
	if err != nil {
		return nil, nil, err
	}
	s, err := getStore()
	if err != nil {
		return nil, nil, err
	}
	be, err := getBackend()
	if err != nil {
		return nil, nil, err
	}
	provider, err := getProvider()
	if err != nil {
		return nil, nil, err
	}
	engine, err := getEngine()
	if err != nil {
		return nil, nil, err
	}
	idx, err := buildIndex(cfg)
	if err != nil {
		return nil, nil, err
	}
	if idx != nil {
		ui.VerboseLog("indexed %d functions from %s", len(idx.Records), cfg.Source.Root)
	}

	drafter := agent.NewDrafter(provider, idx)
	return review.NewLoop(cfg, s, be, drafter, engine, idx), cfg, nil
}

func reverseOneRun(addr string) error {
	if !models.ValidAddress(addr) {
		return fmt.Errorf("invalid address: %s", addr)
	}

	loop, cfg, err := buildLoop()
	if err != nil {
		return err
	}

	// Fill in the identity from the registry when the address is hooked.
	key := models.FunctionKey{Address: models.NormalizeAddress(addr)}
	if cfg.Source.HooksCSV != "" {
		if reg, err := loadHooks(cfg); err == nil {
			if h, ok := reg.ByAddress(addr); ok {
				key = h.Key()
			}
		}
	}

	if dryRun {
		ui.DryRunMsg("Would review %s (%s backend, %s provider, max %d rounds)",
			key.String(), cfg.Backend.Kind, cfg.LLM.Provider, cfg.Review.MaxRounds)
		return nil
	}

	res, err := loop.Run(context.Background(), key)
	if err != nil {
		return err
	}
	printReverseResult(res)
	return nil
}

func reverseBatchRun() error {
	loop, cfg, err := buildLoop()
	if err != nil {
		return err
	}
	reg, err := loadHooks(cfg)
	if err != nil {
		return err
	}

	targets := reg.Entries
	if !reverseAll {
		targets = reg.ForClass(reverseClass)
		if len(targets) == 0 {
			return fmt.Errorf("no hooked functions for class %s", reverseClass)
		}
	}

	if dryRun {
		ui.DryRunMsg("Would review %d hooked functions (%d workers, max %d rounds each)",
			len(targets), cfg.Review.Workers, cfg.Review.MaxRounds)
		return nil
	}

	s, err := getStore()
	if err != nil {
		return err
	}
	runner := review.NewRunner(loop, cfg, s)
	opts := review.BatchOptions{Force: reverseForce, Limit: reverseLimit}

	summary, err := runner.RunBatch(context.Background(), targets, opts, func(res review.Result) {
		name := res.Key.String()
		switch res.Status {
		case models.StatusDone:
			if res.Skipped {
				ui.Success("%s: wrapper, auto-skipped", name)
			} else {
				ui.Success("%s: done in %d rounds", name, res.Rounds)
			}
		case models.StatusFailed:
			ui.Error("%s: failed after %d rounds (%s)", name, res.Rounds, verdictSummary(res))
		case models.StatusEscalated:
			ui.Error("%s: escalated: %s", name, res.Err)
		}
	})

	fmt.Fprintln(ui.Out)
	ui.Info("%d attempted: %s done, %s failed, %s escalated (%d already done, %d auto-skipped)",
		summary.Attempted(),
		output.Green(fmt.Sprintf("%d", summary.Done)),
		output.Red(fmt.Sprintf("%d", summary.Failed)),
		output.Yellow(fmt.Sprintf("%d", summary.Escalated)),
		summary.AlreadyDone,
		summary.Skipped,
	)
	return err
}

// printReverseResult renders one function's final state with its verdict.
func printReverseResult(res *review.Result) {
	name := res.Key.String()
	switch res.Status {
	case models.StatusDone:
		if res.Skipped {
			ui.Success("%s: wrapper, auto-skipped", name)
		} else {
			ui.Success("%s: done in %d rounds", name, res.Rounds)
		}
		if res.CodePath != "" {
			ui.Info("accepted candidate: %s", res.CodePath)
		}
	case models.StatusFailed:
		ui.Error("%s: failed after %d rounds", name, res.Rounds)
	case models.StatusEscalated:
		ui.Error("%s: escalated after %d rounds: %s", name, res.Rounds, res.Err)
	}

	if res.Verdict != nil {
		fmt.Fprintln(ui.Out)
		printVerdict(res.Verdict)
	}
}

// printVerdict renders a verdict's signals as a table plus the summary line.
func printVerdict(v *models.ParityVerdict) {
	table := ui.Table([]string{"Signal", "Level", "Message"})
	for _, sig := range v.Signals {
		table.Append([]string{
			string(sig.ID),
			output.LevelColor(string(sig.Level)),
			sig.Message,
		})
	}
	table.Render()
	fmt.Fprintf(ui.Out, "\nverdict: %s (%s)\n", output.VerdictColor(string(v.Status)), v.Summary)
}

func verdictSummary(res review.Result) string {
	if res.Verdict == nil {
		return ""
	}
	return res.Verdict.Summary
}
