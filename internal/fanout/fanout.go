// Package fanout dispatches one query template across the cross product of
// per-column distinct values, using a bounded pool of workers, and
// concatenates the per-combination results into one combined table.
//
// Workers share nothing: each execution opens and closes its own connection,
// and a failing combination is captured in the report instead of aborting the
// pool. The optional diff step compares the combined result against the
// target table's current contents to support incremental loads; it is
// best-effort and never fails the run.
package fanout

import (
	"context"
	"fmt"
	"log"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/MarksonMarcolino/db-toolkit/internal/config"
	"github.com/MarksonMarcolino/db-toolkit/internal/query"
)

const defaultWorkers = 8

// Target names the table a parallel run reads for (and optionally diffs
// against).
type Target struct {
	Schema string
	Table  string
}

func (t Target) qualified() string {
	if t.Schema == "" {
		return t.Table
	}
	return t.Schema + "." + t.Table
}

// Failure records one combination whose execution failed, with the driver
// error attached.
type Failure struct {
	Values []any
	Err    error
}

// Report is the outcome of a parallel run. Result always holds the rows of
// every successful combination; Failures lists the rest. Missing is only set
// when a diff was requested and succeeded; a failed diff leaves Missing nil
// and records the cause in DiffErr without affecting Result.
type Report struct {
	Result   *query.Result
	Failures []Failure
	Missing  *query.Result
	DiffErr  error
}

// Options tunes a parallel run. The zero value is usable: 8 workers, no
// combination cap, no diff, quiet.
type Options struct {
	// Workers bounds the number of concurrent executions. <= 0 means 8.
	Workers int

	// MaxCombinations, when > 0, truncates the task list to the first N
	// combinations in generation order. Development aid, not a sample.
	MaxCombinations int

	// Verbose logs run progress; Debug additionally logs the resolved SQL.
	// Neither changes result content.
	Verbose bool
	Debug   bool

	// DiffKeyColumns selects the columns that key the set difference against
	// the target table. Empty disables the diff.
	DiffKeyColumns []string

	// FailureLog, when set, appends one line per failed combination to the
	// named file.
	FailureLog string

	// Exec substitutes the executor; nil means query.Run. Tests use this.
	Exec query.Querier
}

// RunParallel resolves the identifier tokens in queryTemplate, generates the
// parameter combinations, executes the query once per combination across a
// bounded worker pool, and returns the combined rows plus any per-combination
// failures.
//
// Template convention: {table} resolves to the target table, {attribute_N}
// to the Nth source's column. %s markers are bound per combination by the
// driver, cycling the combination's values when the template repeats an
// attribute.
func RunParallel(ctx context.Context, params config.ConnParams, queryTemplate string, target Target, sources []Source, opts Options) (*Report, error) {
	exec := opts.Exec
	if exec == nil {
		exec = query.Run
	}
	workers := opts.Workers
	if workers <= 0 {
		workers = defaultWorkers
	}
	runID := uuid.NewString()

	// Phase one: identifiers, resolved exactly once.
	idents := make(map[string]string, len(sources)+1)
	if target.Table != "" {
		idents["table"] = target.qualified()
	}
	for i, src := range sources {
		idents[fmt.Sprintf("attribute_%d", i)] = src.Column
	}
	resolved, err := query.ResolveIdentifiers(queryTemplate, idents)
	if err != nil {
		return nil, err
	}
	nArgs := query.PlaceholderCount(resolved)
	sqlText := query.Rebind(resolved)

	if opts.Debug {
		log.Printf("fanout: run=%s sql=%s", runID, sqlText)
	}

	combos, err := DistinctCombinations(ctx, params, sources, opts.MaxCombinations, exec)
	if err != nil {
		return nil, err
	}

	if opts.Verbose {
		cols := make([]string, len(sources))
		for i, s := range sources {
			cols[i] = s.Column
		}
		log.Printf("fanout: run=%s combinations=%d attributes=(%s) workers=%d",
			runID, len(combos), strings.Join(cols, ", "), workers)
	}

	report := &Report{Result: &query.Result{}}
	if len(combos) == 0 {
		return report, nil
	}

	var (
		mu   sync.Mutex
		done int
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for _, combo := range combos {
		combo := combo
		g.Go(func() error {
			args, err := query.PadArgs(combo, nArgs)
			var res *query.Result
			if err == nil {
				res, err = exec(gctx, params, sqlText, args)
			}

			mu.Lock()
			defer mu.Unlock()
			done++
			if err == nil {
				err = report.Result.Append(res)
			}
			if err != nil {
				report.Failures = append(report.Failures, Failure{Values: combo, Err: err})
				if opts.Verbose {
					log.Printf("fanout: run=%s failed values=%v (%d/%d): %v", runID, combo, done, len(combos), err)
				}
				// Per-combination failures never cancel the pool.
				return nil
			}
			if opts.Verbose {
				log.Printf("fanout: run=%s completed values=%v (%d/%d) rows=%d", runID, combo, done, len(combos), res.Len())
			}
			return nil
		})
	}
	_ = g.Wait()

	if opts.FailureLog != "" && len(report.Failures) > 0 {
		if err := appendFailureLog(opts.FailureLog, runID, report.Failures); err != nil {
			log.Printf("fanout: run=%s failure log: %v", runID, err)
		}
	}

	if target.Table != "" && len(opts.DiffKeyColumns) > 0 {
		missing, derr := diffAgainstTarget(ctx, params, report.Result, target, opts.DiffKeyColumns, exec)
		if derr != nil {
			report.DiffErr = fmt.Errorf("diff computation failed: %w", derr)
			log.Printf("fanout: run=%s %v", runID, report.DiffErr)
		} else {
			report.Missing = missing
		}
	}

	return report, nil
}

// appendFailureLog writes one timestamped line per final failure, in the
// spirit of a query_failures.log a human greps after a long run.
func appendFailureLog(path, runID string, failures []Failure) error {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	ts := time.Now().Format("2006-01-02 15:04:05")
	for _, fl := range failures {
		if _, err := fmt.Fprintf(f, "[%s] run=%s VALUES: %v | ERROR: %v\n", ts, runID, fl.Values, fl.Err); err != nil {
			return err
		}
	}
	return nil
}
