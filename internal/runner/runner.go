// Package runner orchestrates validation of one notebook: it resolves the
// policy for each code cell, executes cells strictly in source order against
// one kernel session, and turns comparison verdicts into a per-cell report.
//
// Execution is single-threaded per notebook because cell execution is
// cumulative within one kernel session. Across notebooks, callers may run
// multiple runners concurrently, each owning its own session; the runner
// exposes no cross-notebook shared mutable state.
package runner

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/nbcheck/nbcheck/internal/compare"
	"github.com/nbcheck/nbcheck/internal/kernel"
	"github.com/nbcheck/nbcheck/internal/notebook"
	"github.com/nbcheck/nbcheck/internal/output"
	"github.com/nbcheck/nbcheck/internal/policy"
	"github.com/nbcheck/nbcheck/internal/sanitize"
)

// CellState is the terminal state of one cell within a run.
// Lifecycle: Pending -> Executing -> {Passed, Failed, Errored, Skipped}.
// Terminal states are never retried within one run.
type CellState string

const (
	StatePending   CellState = "pending"
	StateExecuting CellState = "executing"
	// StatePassed: executed and matched under the active policy.
	StatePassed CellState = "passed"
	// StateFailed: content mismatch (including cast failures).
	StateFailed CellState = "failed"
	// StateErrored: infrastructure failure (kernel timeout or death).
	StateErrored CellState = "errored"
	// StateSkipped: the cell was not executed at all.
	StateSkipped CellState = "skipped"
)

// CellResult is the verdict for one code cell.
type CellResult struct {
	// Index is the one-based code cell number.
	Index int

	State  CellState
	Reason string
	Diff   string

	// Source is carried for failure reporting.
	Source string

	Duration time.Duration
}

// Report aggregates one notebook run.
type Report struct {
	Notebook string
	Started  time.Time
	Duration time.Duration
	Cells    []CellResult
}

// Pass reports whether every cell passed or was skipped.
func (r *Report) Pass() bool {
	for _, c := range r.Cells {
		if c.State == StateFailed || c.State == StateErrored {
			return false
		}
	}
	return true
}

// Counts returns the per-state totals.
func (r *Report) Counts() (passed, failed, errored, skipped int) {
	for _, c := range r.Cells {
		switch c.State {
		case StatePassed:
			passed++
		case StateFailed:
			failed++
		case StateErrored:
			errored++
		case StateSkipped:
			skipped++
		}
	}
	return
}

// Options configure a notebook run.
type Options struct {
	// Lax validates only execution success except for cells explicitly
	// marked check-output-always.
	Lax bool

	// SkipTimeit / SkipMemit skip or defang timing/memory magic cells.
	SkipTimeit bool
	SkipMemit  bool

	// Sanitize rules applied to both sides of every comparison.
	Sanitize sanitize.Rules

	// Ignore is the mime/field exclusion set. Nil means the defaults.
	Ignore map[string]bool

	Logger *slog.Logger
}

// Session is the execution surface the runner drives. Implemented by
// kernel.Session.
type Session interface {
	Execute(ctx context.Context, source string) ([]output.Record, error)
}

// Runner validates notebooks against one kernel session.
type Runner struct {
	session Session
	opts    Options
	logger  *slog.Logger
}

// New creates a Runner over the given session.
func New(session Session, opts Options) *Runner {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{session: session, opts: opts, logger: logger}
}

// RunNotebook executes every code cell of nb in source order and returns the
// per-cell report.
//
// Infrastructure failures (kernel timeout, kernel death) mark the current
// cell Errored and abort the remaining cells as Errored without executing
// them; verdicts already recorded are unaffected. Content failures never
// abort subsequent cells.
func (r *Runner) RunNotebook(ctx context.Context, nb *notebook.Notebook) (*Report, error) {
	report := &Report{
		Notebook: nb.Path,
		Started:  time.Now(),
	}
	defer func() {
		report.Duration = time.Since(report.Started)
	}()

	popts := policy.Options{SkipTimeit: r.opts.SkipTimeit, SkipMemit: r.opts.SkipMemit}
	dead := false
	deadReason := ""

	for _, cell := range nb.CodeCells() {
		set, warnings := policy.Resolve(cell, popts)
		for _, w := range warnings {
			r.logger.Warn(w, "notebook", nb.Path, "cell", cell.CodeIndex)
		}

		if set.Skip {
			// No execution, no comparison verdict.
			report.Cells = append(report.Cells, CellResult{
				Index:  cell.CodeIndex,
				State:  StateSkipped,
				Source: cell.Source,
			})
			continue
		}

		if dead {
			report.Cells = append(report.Cells, CellResult{
				Index:  cell.CodeIndex,
				State:  StateErrored,
				Reason: fmt.Sprintf("not executed: %s", deadReason),
				Source: cell.Source,
			})
			continue
		}

		result := r.runCell(ctx, cell, set, popts)
		report.Cells = append(report.Cells, result)

		if result.State == StateErrored {
			// Later cells depend on state mutated by earlier ones; a
			// dead or wedged kernel invalidates all of them.
			dead = true
			deadReason = result.Reason
		}
	}
	return report, nil
}

// runCell executes one cell and compares its outputs.
func (r *Runner) runCell(ctx context.Context, cell notebook.Cell, set policy.Set, popts policy.Options) CellResult {
	result := CellResult{
		Index:  cell.CodeIndex,
		State:  StateExecuting,
		Source: cell.Source,
	}
	start := time.Now()
	defer func() {
		result.Duration = time.Since(start)
	}()

	source := policy.TrimMagicLines(cell.Source, popts)
	events, err := r.session.Execute(ctx, source)
	if err != nil {
		result.State = StateErrored
		result.Reason = err.Error()
		if kernel.IsTimeout(err) {
			r.logger.Error("cell timed out", "cell", cell.CodeIndex)
		} else {
			r.logger.Error("kernel failure", "cell", cell.CodeIndex, "error", err)
		}
		return result
	}

	test := output.Normalize(events)

	// A reference cell that was never run has nothing to compare against.
	unrun := cell.ExecutionCount == nil
	if unrun && len(cell.Outputs) > 0 {
		result.State = StateFailed
		result.Reason = "unrun reference cell has outputs"
		return result
	}
	if unrun {
		// No reference to compare against, but the cell must still
		// execute cleanly unless exceptions are expected or ignored.
		if !set.RaisesException && !set.IgnoresOutput() {
			for _, rec := range test {
				if rec.Kind == output.KindError {
					result.State = StateFailed
					result.Reason = compare.ReasonUnexpectedException
					result.Diff = fmt.Sprintf("cell raised %s: %s", rec.Ename, rec.Evalue)
					return result
				}
			}
		}
		result.State = StatePassed
		return result
	}

	ref := output.Normalize(cell.Outputs)
	verdict := compare.Compare(ref, test, set, compare.Options{
		Ignore: r.opts.Ignore,
		Rules:  r.opts.Sanitize,
		Lax:    r.opts.Lax,
	})

	switch verdict.Status {
	case compare.StatusMatch:
		result.State = StatePassed
	case compare.StatusMismatch:
		result.State = StateFailed
		result.Reason = verdict.Reason
		result.Diff = verdict.Diff
	default:
		result.State = StateErrored
		result.Reason = verdict.Reason
	}
	return result
}
