package cmd

import (
	"fmt"

	"github.com/abdul-hamid-achik/hitscript/packages/core/config"
	"github.com/abdul-hamid-achik/hitscript/packages/db"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/spf13/cobra"
)

var (
	historyDBFlag    string
	historyLimitFlag int
)

var historyCmd = &cobra.Command{
	Use:   "history [run-id]",
	Short: "Show runs recorded with --record-db",
	Long: `List the most recent recorded runs, or the steps of one run.

Examples:
  hitscript history --db results.db
  hitscript history --db results.db --limit 5
  hitscript history --db results.db 2b7e1f4a-...`,
	Args: cobra.MaximumNArgs(1),
	RunE: historyCommand,
}

func init() {
	historyCmd.Flags().StringVar(&historyDBFlag, "db", getEnvString("HITSCRIPT_RECORD_DB", ""), "Results database (default: recordDB from config) (env: HITSCRIPT_RECORD_DB)")
	historyCmd.Flags().IntVar(&historyLimitFlag, "limit", 20, "Number of runs to show")
}

func historyCommand(cmd *cobra.Command, args []string) error {
	path := historyDBFlag
	if path == "" {
		cfg, err := config.LoadConfig(configFlag)
		if err != nil {
			return &exitError{code: ExitConfigError, err: err}
		}
		path = cfg.RecordDB
	}
	if path == "" {
		return &exitError{code: ExitUsageError, err: fmt.Errorf("no results database: pass --db or set recordDB in the config")}
	}

	store, err := db.OpenStore(cmd.Context(), path)
	if err != nil {
		return &exitError{code: ExitConfigError, err: err}
	}
	defer store.Close()

	if len(args) == 1 {
		return showRunSteps(cmd, store, args[0])
	}

	runs, err := store.Runs(cmd.Context(), historyLimitFlag)
	if err != nil {
		return err
	}
	if len(runs) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "No recorded runs.")
		return nil
	}

	t := table.NewWriter()
	t.SetOutputMirror(cmd.OutOrStdout())
	t.SetStyle(table.StyleRounded)
	t.AppendHeader(table.Row{"Run", "Started", "Script", "File", "Passed", "Failed", "Duration"})
	for _, r := range runs {
		failed := fmt.Sprint(r.Failed)
		if r.Failed > 0 {
			failed = text.FgRed.Sprint(r.Failed)
		}
		t.AppendRow(table.Row{
			r.ID,
			r.StartedAt.Local().Format("2006-01-02 15:04:05"),
			r.Script,
			r.File,
			text.FgGreen.Sprint(r.Passed),
			failed,
			fmt.Sprintf("%dms", r.DurationMs),
		})
	}
	t.Render()
	return nil
}

func showRunSteps(cmd *cobra.Command, store *db.Store, runID string) error {
	steps, err := store.Steps(cmd.Context(), runID)
	if err != nil {
		return err
	}
	if len(steps) == 0 {
		return &exitError{code: ExitUsageError, err: fmt.Errorf("no steps recorded for run %s", runID)}
	}

	fmt.Fprintf(cmd.OutOrStdout(), "%s\n", text.FgHiCyan.Sprint("Run "+runID))
	t := table.NewWriter()
	t.SetOutputMirror(cmd.OutOrStdout())
	t.SetStyle(table.StyleRounded)
	t.AppendHeader(table.Row{"Step", "Request", "Status", "Result", "Duration", "Error"})
	for _, s := range steps {
		result := text.FgGreen.Sprint("pass")
		if !s.Passed {
			result = text.FgRed.Sprint("fail")
		}
		status := "-"
		if s.Status != 0 {
			status = fmt.Sprint(s.Status)
		}
		t.AppendRow(table.Row{s.Path, s.Method + " " + s.URL, status, result, fmt.Sprintf("%dms", s.DurationMs), s.Error})
	}
	t.Render()
	return nil
}
