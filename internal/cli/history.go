package cli

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/nbcheck/nbcheck/internal/history"
)

// HistoryOptions holds flags for the history command.
type HistoryOptions struct {
	*RootOptions

	DB    string
	Limit int
}

// NewHistoryCommand creates the history command.
func NewHistoryCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &HistoryOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "history [run-id]",
		Short: "Show past validation runs",
		Long: `Show the recorded history of past validation runs, newest first.

With a run id, show the per-cell verdicts of that run instead.

Examples:
  nbcheck history --db runs.db
  nbcheck history 42 --db runs.db --format json`,
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return showHistory(cmd, opts, args)
		},
	}

	cmd.Flags().StringVar(&opts.DB, "db", "", "history database path (required)")
	cmd.Flags().IntVarP(&opts.Limit, "limit", "n", 20, "maximum number of runs to list")
	cmd.MarkFlagRequired("db")

	return cmd
}

func showHistory(cmd *cobra.Command, opts *HistoryOptions, args []string) error {
	store, err := history.Open(opts.DB)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open history database", err)
	}
	defer store.Close()

	if len(args) == 1 {
		runID, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			return NewExitError(ExitCommandError, fmt.Sprintf("invalid run id %q", args[0]))
		}
		return showRunCells(cmd, opts, store, runID)
	}
	return showRecentRuns(cmd, opts, store)
}

func showRecentRuns(cmd *cobra.Command, opts *HistoryOptions, store *history.Store) error {
	runs, err := store.RecentRuns(cmd.Context(), opts.Limit)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to list runs", err)
	}

	if opts.Format == "json" {
		return writeJSON(cmd.OutOrStdout(), CLIResponse{Status: "ok", Data: runs})
	}

	w := cmd.OutOrStdout()
	if len(runs) == 0 {
		fmt.Fprintln(w, "No recorded runs")
		return nil
	}
	fmt.Fprintf(w, "%-6s %-40s %-20s %-8s %s\n", "ID", "NOTEBOOK", "STARTED", "RESULT", "CELLS")
	for _, run := range runs {
		result := "pass"
		if run.Failed > 0 || run.Errored > 0 {
			result = "fail"
		}
		fmt.Fprintf(w, "%-6d %-40s %-20s %-8s %dP/%dF/%dE/%dS\n",
			run.ID, run.Notebook, run.Started.Local().Format("2006-01-02 15:04:05"),
			result, run.Passed, run.Failed, run.Errored, run.Skipped)
	}
	return nil
}

func showRunCells(cmd *cobra.Command, opts *HistoryOptions, store *history.Store, runID int64) error {
	cells, err := store.RunCells(cmd.Context(), runID)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to load run", err)
	}
	if len(cells) == 0 {
		return NewExitError(ExitCommandError, fmt.Sprintf("run %d not found", runID))
	}

	if opts.Format == "json" {
		return writeJSON(cmd.OutOrStdout(), CLIResponse{Status: "ok", Data: cells})
	}

	w := cmd.OutOrStdout()
	fmt.Fprintf(w, "%-6s %-10s %-10s %s\n", "CELL", "STATE", "DURATION", "REASON")
	for _, cell := range cells {
		fmt.Fprintf(w, "%-6d %-10s %-10s %s\n", cell.Index, cell.State, cell.Duration, cell.Reason)
	}
	return nil
}
