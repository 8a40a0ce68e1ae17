package cmd

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/spf13/cobra"

	"github.com/Dryxio/auto-re-agent/internal/models"
	"github.com/Dryxio/auto-re-agent/internal/output"
)

var (
	statusFilter string
	statusClass  string
)

var statusCmd = &cobra.Command{
	Use:   "status [address]",
	Short: "Show review session status",
	Long: `Show a session overview or the full round history for one function.

Without arguments, shows per-status counts and a summary table covering the
latest entry of every reviewed function. With an address, shows that
function's entry round by round.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if len(args) == 1 {
			return statusDetailRun(args[0])
		}
		return statusOverviewRun()
	},
}

func init() {
	statusCmd.Flags().StringVar(&statusFilter, "status", "", "Filter by status (pending, in_progress, done, failed, escalated)")
	statusCmd.Flags().StringVar(&statusClass, "class", "", "Filter by class")
	rootCmd.AddCommand(statusCmd)
}

func statusOverviewRun() error {
	s, err := getStore()
	if err != nil {
		return err
	}
	ctx := context.Background()

	latest, err := s.Load(ctx)
	if err != nil {
		return err
	}
	if len(latest) == 0 {
		ui.Info("No review sessions recorded. Use 're-agent reverse <address>' to get started.")
		return nil
	}

	counts := make(map[models.FunctionStatus]int)
	var rows []*models.SessionEntry
	for _, e := range latest {
		if statusClass != "" && e.Class != statusClass {
			continue
		}
		if statusFilter != "" && string(e.Status) != statusFilter {
			continue
		}
		counts[e.Status]++
		rows = append(rows, e)
	}
	if len(rows) == 0 {
		ui.Info("No entries match the filter.")
		return nil
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].Address < rows[j].Address })

	fmt.Fprintf(ui.Out, "%s done  %s in progress  %s failed  %s escalated  %s pending\n\n",
		output.Green(fmt.Sprintf("%d", counts[models.StatusDone])),
		output.Yellow(fmt.Sprintf("%d", counts[models.StatusInProgress])),
		output.Red(fmt.Sprintf("%d", counts[models.StatusFailed])),
		output.Red(fmt.Sprintf("%d", counts[models.StatusEscalated])),
		output.Cyan(fmt.Sprintf("%d", counts[models.StatusPending])),
	)

	table := ui.Table([]string{"Address", "Function", "Status", "Rounds", "Verdict", "Updated"})
	for _, e := range rows {
		verdict := "-"
		if v := e.LastVerdict(); v != nil {
			verdict = output.VerdictColor(string(v.Status))
		}
		table.Append([]string{
			output.Cyan(models.FormatAddress(e.Address)),
			e.Key().QualifiedName(),
			output.StatusColor(string(e.Status)),
			fmt.Sprintf("%d", len(e.Rounds)),
			verdict,
			timeAgo(e.UpdatedAt),
		})
	}
	table.Render()
	return nil
}

func statusDetailRun(addr string) error {
	if !models.ValidAddress(addr) {
		return fmt.Errorf("invalid address: %s", addr)
	}
	s, err := getStore()
	if err != nil {
		return err
	}
	ctx := context.Background()

	entry, err := s.LatestEntryByAddress(ctx, addr)
	if err != nil {
		return err
	}

	fmt.Fprintf(ui.Out, "%s  %s\n", output.Cyan(models.FormatAddress(entry.Address)), entry.Key().QualifiedName())
	fmt.Fprintf(ui.Out, "  Status:     %s\n", output.StatusColor(string(entry.Status)))
	fmt.Fprintf(ui.Out, "  Rounds:     %d\n", len(entry.Rounds))
	fmt.Fprintf(ui.Out, "  Created:    %s\n", entry.CreatedAt.Format(time.RFC3339))
	fmt.Fprintf(ui.Out, "  Updated:    %s\n", entry.UpdatedAt.Format(time.RFC3339))
	fmt.Fprintf(ui.Out, "  Entry ID:   %s\n", entry.ID)

	if len(entry.Rounds) == 0 {
		return nil
	}

	fmt.Fprintln(ui.Out)
	table := ui.Table([]string{"#", "Phase", "Verdict", "Issues", "When"})
	for _, r := range entry.Rounds {
		verdict := "-"
		issues := "-"
		if r.Verdict.Status != "" {
			verdict = output.VerdictColor(string(r.Verdict.Status))
			issues = fmt.Sprintf("%d", len(r.Verdict.Issues()))
		}
		if r.Err != "" {
			verdict = output.Red("error")
			issues = r.Err
		}
		table.Append([]string{
			fmt.Sprintf("%d", r.Number),
			string(r.Phase),
			verdict,
			issues,
			timeAgo(r.CreatedAt),
		})
	}
	table.Render()

	if v := entry.LastVerdict(); v != nil {
		fmt.Fprintln(ui.Out)
		printVerdict(v)
	}
	return nil
}

func timeAgo(t time.Time) string {
	d := time.Since(t)
	switch {
	case d < time.Minute:
		return "just now"
	case d < time.Hour:
		return fmt.Sprintf("%dm ago", int(d.Minutes()))
	case d < 24*time.Hour:
		return fmt.Sprintf("%dh ago", int(d.Hours()))
	default:
		days := int(d.Hours() / 24)
		if days == 1 {
			return "1d ago"
		}
		return fmt.Sprintf("%dd ago", days)
	}
}
