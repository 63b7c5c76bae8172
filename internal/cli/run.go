package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/nbcheck/nbcheck/internal/compare"
	"github.com/nbcheck/nbcheck/internal/history"
	"github.com/nbcheck/nbcheck/internal/kernel"
	"github.com/nbcheck/nbcheck/internal/notebook"
	"github.com/nbcheck/nbcheck/internal/runner"
	"github.com/nbcheck/nbcheck/internal/sanitize"
)

// RunOptions holds flags for the run command.
type RunOptions struct {
	*RootOptions

	ConfigFile string

	Gateway        string
	Token          string
	KernelName     string
	CellTimeout    time.Duration
	StartupTimeout time.Duration

	Lax            bool
	SkipTimeit     bool
	SkipMemit      bool
	SanitizeWith   []string
	NoCoreSanitize bool
	TimeitSanitize bool
	IgnoreKeys     []string
	CompareImages  bool

	HistoryDB string
}

// CellReport is one cell verdict in the JSON output.
type CellReport struct {
	Index  int    `json:"index"`
	State  string `json:"state"`
	Reason string `json:"reason,omitempty"`
	Diff   string `json:"diff,omitempty"`
}

// NotebookReport is one notebook's result in the JSON output.
type NotebookReport struct {
	Notebook string       `json:"notebook"`
	Pass     bool         `json:"pass"`
	Passed   int          `json:"passed"`
	Failed   int          `json:"failed"`
	Errored  int          `json:"errored"`
	Skipped  int          `json:"skipped"`
	Cells    []CellReport `json:"cells"`
}

// RunResult is the overall run command result.
type RunResult struct {
	Notebooks []NotebookReport `json:"notebooks"`
	Passed    int              `json:"passed"`
	Failed    int              `json:"failed"`
	Total     int              `json:"total"`
}

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RunOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "run <notebook|dir>...",
		Short: "Validate notebooks against a live kernel",
		Long: `Re-execute every code cell of the given notebooks and validate the
produced output against the recorded reference output.

Each notebook owns one kernel session; cells execute strictly in source
order. Kernel-level failures (timeout, death) abort the remaining cells
of that notebook and are reported as infrastructure errors, distinct
from content mismatches.

Exit codes:
  0 - All cells passed
  1 - One or more cells failed or errored
  2 - Command error (bad paths, gateway unreachable, etc.)

Examples:
  nbcheck run lesson1.ipynb --gateway http://localhost:8888
  nbcheck run ./notebooks --lax
  nbcheck run ./notebooks --sanitize-with sanitize.cfg --format json`,
		Args:          cobra.MinimumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runNotebooks(cmd, opts, args)
		},
	}

	cmd.Flags().StringVar(&opts.ConfigFile, "config", "", "run configuration file (YAML)")
	cmd.Flags().StringVar(&opts.Gateway, "gateway", "", "kernel gateway base URL")
	cmd.Flags().StringVar(&opts.Token, "token", "", "kernel gateway API token")
	cmd.Flags().StringVar(&opts.KernelName, "kernel-name", "", "kernel name (default: the notebook's stored kernel)")
	cmd.Flags().DurationVar(&opts.CellTimeout, "cell-timeout", 30*time.Second, "per-cell execution timeout")
	cmd.Flags().DurationVar(&opts.StartupTimeout, "kernel-startup-timeout", 60*time.Second, "kernel startup timeout")
	cmd.Flags().BoolVar(&opts.Lax, "lax", false, "validate execution success only, except cells marked NBVAL_CHECK_OUTPUT")
	cmd.Flags().BoolVar(&opts.SkipTimeit, "skip-timeit", false, "skip %%time/%%timeit cells and drop %timeit lines")
	cmd.Flags().BoolVar(&opts.SkipMemit, "skip-memit", false, "skip %%memit cells and drop %memit lines")
	cmd.Flags().StringSliceVar(&opts.SanitizeWith, "sanitize-with", nil, "sanitize configuration file(s)")
	cmd.Flags().BoolVar(&opts.NoCoreSanitize, "no-core-sanitize", false, "disable the built-in volatile-repr sanitizer")
	cmd.Flags().BoolVar(&opts.TimeitSanitize, "timeit-sanitize", false, "normalize timing reports instead of comparing them")
	cmd.Flags().StringSliceVar(&opts.IgnoreKeys, "ignore-key", nil, "additional mime types or fields to exclude from comparison")
	cmd.Flags().BoolVar(&opts.CompareImages, "compare-images", false, "compare raw image payloads pixel-wise instead of ignoring them")
	cmd.Flags().StringVar(&opts.HistoryDB, "history-db", "", "record run results in this SQLite database")

	return cmd
}

func runNotebooks(cmd *cobra.Command, opts *RunOptions, args []string) error {
	if err := applyConfigFile(cmd, opts); err != nil {
		return err
	}
	if opts.Gateway == "" {
		return NewExitError(ExitCommandError, "a kernel gateway URL is required (--gateway or config file)")
	}

	paths, err := findNotebooks(args)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to locate notebooks", err)
	}
	if len(paths) == 0 {
		return NewExitError(ExitCommandError, "no notebooks found")
	}

	rules, err := buildSanitizeRules(opts)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to load sanitize configuration", err)
	}

	var store *history.Store
	if opts.HistoryDB != "" {
		store, err = history.Open(opts.HistoryDB)
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to open history database", err)
		}
		defer store.Close()
	}

	logLevel := slog.LevelWarn
	if opts.Verbose {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: logLevel}))

	result := RunResult{Total: len(paths)}
	for _, path := range paths {
		report, err := runOneNotebook(cmd.Context(), opts, path, rules, logger)
		if err != nil {
			return err
		}

		nbReport := toNotebookReport(report)
		result.Notebooks = append(result.Notebooks, nbReport)
		if nbReport.Pass {
			result.Passed++
		} else {
			result.Failed++
		}

		if store != nil {
			if _, err := store.RecordRun(cmd.Context(), report); err != nil {
				logger.Warn("failed to record run history", "notebook", path, "error", err)
			}
		}

		if opts.Format != "json" {
			printNotebookReport(cmd, opts, nbReport)
		}
	}

	if opts.Format == "json" {
		return outputRunJSON(cmd, result)
	}
	return outputRunText(cmd, result)
}

// runOneNotebook starts a fresh kernel for the notebook and validates it.
func runOneNotebook(ctx context.Context, opts *RunOptions, path string, rules sanitize.Rules, logger *slog.Logger) (*runner.Report, error) {
	nb, err := notebook.ReadFile(path)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to read notebook", err)
	}

	kernelName := opts.KernelName
	if kernelName == "" {
		kernelName = nb.KernelName
	}

	conn, err := kernel.StartGatewayKernel(ctx, kernel.GatewayConfig{
		URL:            opts.Gateway,
		Token:          opts.Token,
		KernelName:     kernelName,
		StartupTimeout: opts.StartupTimeout,
	})
	if err != nil {
		return nil, WrapExitError(ExitCommandError, fmt.Sprintf("failed to start kernel for %s", path), err)
	}

	session := kernel.NewSession(conn,
		kernel.WithCellTimeout(opts.CellTimeout),
		kernel.WithLogger(logger),
	)
	defer session.Close()

	r := runner.New(session, runner.Options{
		Lax:        opts.Lax,
		SkipTimeit: opts.SkipTimeit,
		SkipMemit:  opts.SkipMemit,
		Sanitize:   rules,
		Ignore:     buildIgnoreSet(opts),
		Logger:     logger,
	})
	return r.RunNotebook(ctx, nb)
}

// applyConfigFile folds config-file values into unset flags.
func applyConfigFile(cmd *cobra.Command, opts *RunOptions) error {
	if opts.ConfigFile == "" {
		return nil
	}
	cfg, err := runner.LoadConfig(opts.ConfigFile)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to load config file", err)
	}

	flags := cmd.Flags()
	if !flags.Changed("gateway") && cfg.Gateway != "" {
		opts.Gateway = cfg.Gateway
	}
	if !flags.Changed("token") && cfg.Token != "" {
		opts.Token = cfg.Token
	}
	if !flags.Changed("kernel-name") && cfg.KernelName != "" {
		opts.KernelName = cfg.KernelName
	}
	if !flags.Changed("cell-timeout") && cfg.CellTimeout > 0 {
		opts.CellTimeout = cfg.CellTimeout.Std()
	}
	if !flags.Changed("kernel-startup-timeout") && cfg.StartupTimeout > 0 {
		opts.StartupTimeout = cfg.StartupTimeout.Std()
	}
	if !flags.Changed("lax") {
		opts.Lax = opts.Lax || cfg.Lax
	}
	if !flags.Changed("skip-timeit") {
		opts.SkipTimeit = opts.SkipTimeit || cfg.SkipTimeit
	}
	if !flags.Changed("skip-memit") {
		opts.SkipMemit = opts.SkipMemit || cfg.SkipMemit
	}
	if !flags.Changed("no-core-sanitize") {
		opts.NoCoreSanitize = !cfg.CoreSanitizeEnabled()
	}
	if !flags.Changed("timeit-sanitize") {
		opts.TimeitSanitize = opts.TimeitSanitize || cfg.TimeitSanitize
	}
	if !flags.Changed("compare-images") {
		opts.CompareImages = opts.CompareImages || cfg.CompareImages
	}
	opts.SanitizeWith = append(opts.SanitizeWith, cfg.SanitizeFiles...)
	opts.IgnoreKeys = append(opts.IgnoreKeys, cfg.IgnoreKeys...)
	if !flags.Changed("history-db") && cfg.HistoryDB != "" {
		opts.HistoryDB = cfg.HistoryDB
	}
	return nil
}

// buildIgnoreSet assembles the comparison exclusion set: defaults plus
// --ignore-key extras, with the raw image defaults dropped again when the
// run compares images.
func buildIgnoreSet(opts *RunOptions) map[string]bool {
	set := compare.IgnoreSet(opts.IgnoreKeys...)
	if opts.CompareImages {
		set = compare.RetainImages(set)
	}
	return set
}

// buildSanitizeRules assembles the ordered sanitizer: built-ins first, then
// user files in the order given.
func buildSanitizeRules(opts *RunOptions) (sanitize.Rules, error) {
	var rules sanitize.Rules
	if !opts.NoCoreSanitize {
		rules = append(rules, sanitize.CorePatterns()...)
	}
	if opts.TimeitSanitize {
		rules = append(rules, sanitize.TimeitPatterns()...)
	}
	for _, path := range opts.SanitizeWith {
		loaded, err := sanitize.LoadFile(path)
		if err != nil {
			return nil, err
		}
		rules = append(rules, loaded...)
	}
	return rules, nil
}

// findNotebooks resolves paths and directories to .ipynb files.
// Checkpoint directories are skipped.
func findNotebooks(args []string) ([]string, error) {
	var paths []string
	for _, arg := range args {
		info, err := os.Stat(arg)
		if err != nil {
			return nil, err
		}
		if !info.IsDir() {
			paths = append(paths, arg)
			continue
		}
		err = filepath.Walk(arg, func(path string, info os.FileInfo, err error) error {
			if err != nil {
				return err
			}
			if info.IsDir() {
				if info.Name() == ".ipynb_checkpoints" {
					return filepath.SkipDir
				}
				return nil
			}
			if filepath.Ext(path) == ".ipynb" {
				paths = append(paths, path)
			}
			return nil
		})
		if err != nil {
			return nil, err
		}
	}
	return paths, nil
}

func toNotebookReport(report *runner.Report) NotebookReport {
	passed, failed, errored, skipped := report.Counts()
	nbReport := NotebookReport{
		Notebook: report.Notebook,
		Pass:     report.Pass(),
		Passed:   passed,
		Failed:   failed,
		Errored:  errored,
		Skipped:  skipped,
	}
	for _, cell := range report.Cells {
		nbReport.Cells = append(nbReport.Cells, CellReport{
			Index:  cell.Index,
			State:  string(cell.State),
			Reason: cell.Reason,
			Diff:   cell.Diff,
		})
	}
	return nbReport
}

// printNotebookReport writes the human-readable per-notebook result.
func printNotebookReport(cmd *cobra.Command, opts *RunOptions, report NotebookReport) {
	w := cmd.OutOrStdout()
	if report.Pass {
		fmt.Fprintf(w, "✓ %s (%d passed, %d skipped)\n", report.Notebook, report.Passed, report.Skipped)
		return
	}

	fmt.Fprintf(w, "✗ %s (%d passed, %d failed, %d errored, %d skipped)\n",
		report.Notebook, report.Passed, report.Failed, report.Errored, report.Skipped)
	for _, cell := range report.Cells {
		if cell.State != string(runner.StateFailed) && cell.State != string(runner.StateErrored) {
			continue
		}
		fmt.Fprintf(w, "  Code cell %d: %s: %s\n", cell.Index, cell.State, cell.Reason)
		if cell.Diff != "" && (opts.Verbose || cell.State == string(runner.StateFailed)) {
			for _, line := range strings.Split(strings.TrimRight(cell.Diff, "\n"), "\n") {
				fmt.Fprintf(w, "    %s\n", line)
			}
		}
	}
}

// outputRunJSON outputs the run result as JSON.
func outputRunJSON(cmd *cobra.Command, result RunResult) error {
	status := "ok"
	resp := CLIResponse{Status: status, Data: result}
	if result.Failed > 0 {
		resp.Status = "error"
		resp.Error = &CLIError{
			Code:    "E_VALIDATION_FAILED",
			Message: fmt.Sprintf("%d notebook(s) failed", result.Failed),
		}
	}
	if err := writeJSON(cmd.OutOrStdout(), resp); err != nil {
		return err
	}
	if result.Failed > 0 {
		return NewExitError(ExitFailure, fmt.Sprintf("%d notebook(s) failed", result.Failed))
	}
	return nil
}

// outputRunText outputs the run summary as text.
func outputRunText(cmd *cobra.Command, result RunResult) error {
	w := cmd.OutOrStdout()
	fmt.Fprintln(w)
	fmt.Fprintf(w, "Validation Summary: %d passed, %d failed, %d total\n",
		result.Passed, result.Failed, result.Total)
	if result.Failed > 0 {
		return NewExitError(ExitFailure, fmt.Sprintf("%d notebook(s) failed", result.Failed))
	}
	fmt.Fprintln(w, "✓ All notebooks passed")
	return nil
}
