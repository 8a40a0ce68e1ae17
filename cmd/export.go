package cmd

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/spf13/cobra"

	"github.com/Dryxio/auto-re-agent/internal/models"
	"github.com/Dryxio/auto-re-agent/internal/store"
)

var (
	exportFormat  string
	exportStatus  string
	exportClass   string
	exportHistory bool
)

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export session entries as JSON, CSV, or Markdown",
	Long: `Export review session entries in various formats.

By default only the latest entry per function is exported. With --history,
superseded entries from earlier runs are included too. Candidate bodies are
not exported; accepted candidates live under the output directory.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return exportRun()
	},
}

func init() {
	exportCmd.Flags().StringVar(&exportFormat, "format", "json", "Output format: json, csv, markdown")
	exportCmd.Flags().StringVar(&exportStatus, "status", "", "Filter by status")
	exportCmd.Flags().StringVar(&exportClass, "class", "", "Filter by class")
	exportCmd.Flags().BoolVar(&exportHistory, "history", false, "Include superseded entries from earlier runs")
	rootCmd.AddCommand(exportCmd)
}

type exportRound struct {
	Number    int                   `json:"number"`
	Phase     string                `json:"phase"`
	Verdict   *models.ParityVerdict `json:"verdict,omitempty"`
	FixHints  string                `json:"fix_hints,omitempty"`
	Error     string                `json:"error,omitempty"`
	CreatedAt time.Time             `json:"created_at"`
}

type exportEntry struct {
	ID        string        `json:"id"`
	Address   string        `json:"address"`
	Class     string        `json:"class,omitempty"`
	Function  string        `json:"function,omitempty"`
	Status    string        `json:"status"`
	Rounds    []exportRound `json:"rounds"`
	CreatedAt time.Time     `json:"created_at"`
	UpdatedAt time.Time     `json:"updated_at"`
}

func exportRun() error {
	s, err := getStore()
	if err != nil {
		return err
	}
	ctx := context.Background()

	entries, err := s.ListEntries(ctx, store.EntryFilter{Class: exportClass, Status: exportStatus})
	if err != nil {
		return err
	}
	if !exportHistory {
		// ListEntries orders oldest first, so the last write per key wins.
		latest := make(map[models.FunctionKey]*models.SessionEntry)
		for _, e := range entries {
			latest[e.Key()] = e
		}
		entries = entries[:0]
		for _, e := range latest {
			entries = append(entries, e)
		}
		sort.Slice(entries, func(i, j int) bool { return entries[i].Address < entries[j].Address })
	}

	switch exportFormat {
	case "json":
		out := make([]exportEntry, 0, len(entries))
		for _, e := range entries {
			out = append(out, toExportEntry(e))
		}
		enc := json.NewEncoder(ui.Out)
		enc.SetIndent("", "  ")
		return enc.Encode(out)
	case "csv":
		w := csv.NewWriter(ui.Out)
		w.Write([]string{"ID", "Address", "Class", "Function", "Status", "Rounds", "Verdict", "Created", "Updated"})
		for _, e := range entries {
			verdict := ""
			if v := e.LastVerdict(); v != nil {
				verdict = string(v.Status)
			}
			w.Write([]string{
				e.ID, models.FormatAddress(e.Address), e.Class, e.Function, string(e.Status),
				fmt.Sprintf("%d", len(e.Rounds)), verdict,
				e.CreatedAt.Format(time.RFC3339), e.UpdatedAt.Format(time.RFC3339),
			})
		}
		w.Flush()
		return w.Error()
	case "markdown":
		fmt.Fprintln(ui.Out, "# Review Sessions")
		fmt.Fprintln(ui.Out)
		fmt.Fprintln(ui.Out, "| Address | Function | Status | Rounds | Verdict |")
		fmt.Fprintln(ui.Out, "|---------|----------|--------|--------|---------|")
		for _, e := range entries {
			verdict := "-"
			if v := e.LastVerdict(); v != nil {
				verdict = string(v.Status)
			}
			fmt.Fprintf(ui.Out, "| %s | %s | %s | %d | %s |\n",
				models.FormatAddress(e.Address), e.Key().QualifiedName(), e.Status, len(e.Rounds), verdict)
		}
		return nil
	default:
		return fmt.Errorf("unknown format: %s", exportFormat)
	}
}

func toExportEntry(e *models.SessionEntry) exportEntry {
	out := exportEntry{
		ID:        e.ID,
		Address:   e.Address,
		Class:     e.Class,
		Function:  e.Function,
		Status:    string(e.Status),
		Rounds:    make([]exportRound, 0, len(e.Rounds)),
		CreatedAt: e.CreatedAt,
		UpdatedAt: e.UpdatedAt,
	}
	for _, r := range e.Rounds {
		er := exportRound{
			Number:    r.Number,
			Phase:     string(r.Phase),
			FixHints:  r.FixHints,
			Error:     r.Err,
			CreatedAt: r.CreatedAt,
		}
		if r.Verdict.Status != "" {
			v := r.Verdict
			er.Verdict = &v
		}
		out.Rounds = append(out.Rounds, er)
	}
	return out
}
