// Command fanquery runs one query template across the cross product of
// per-column distinct values, using a bounded pool of concurrent workers,
// and prints the combined result as TSV on stdout. Failed combinations are
// reported on stderr and, with -failure-log, appended to a log file.
//
// Sources are ordered: the Nth -source flag binds the {attribute_N} token in
// the template and the Nth field of every combination.
//
// Example:
//
//	fanquery -tunnel \
//	  -template 'SELECT ym, st, total FROM {table} WHERE {attribute_0} = %s AND {attribute_1} = %s' \
//	  -target public.sales \
//	  -source ym=public.sales -source st=public.stores \
//	  -workers 8 -diff-keys ym,st
package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/MarksonMarcolino/db-toolkit/internal/config"
	"github.com/MarksonMarcolino/db-toolkit/internal/fanout"
	"github.com/MarksonMarcolino/db-toolkit/internal/query"
	"github.com/MarksonMarcolino/db-toolkit/internal/tunnel"
)

type stringList []string

func (s *stringList) String() string     { return strings.Join(*s, ",") }
func (s *stringList) Set(v string) error { *s = append(*s, v); return nil }

func main() {
	log.SetFlags(0)
	if err := run(os.Args[1:]); err != nil {
		log.Fatalf("fanquery: %v", err)
	}
}

func run(args []string) error {
	fs := flag.NewFlagSet("fanquery", flag.ExitOnError)
	envFile := fs.String("env", "", "path to .env file (default: ./.env when present)")
	template := fs.String("template", "", "query template with {table}/{attribute_N} identifier tokens and %s value markers")
	target := fs.String("target", "", "target table as schema.table; binds the {table} token and the diff")
	workers := fs.Int("workers", intEnv("WORKERS", 8), "number of concurrent workers")
	maxCombos := fs.Int("max", 0, "cap the task list to the first N combinations (development aid)")
	diffKeys := fs.String("diff-keys", "", "comma-separated key columns for the diff against the target table")
	failureLog := fs.String("failure-log", "", "append failed combinations to this file")
	useTunnel := fs.Bool("tunnel", false, "open an SSH tunnel from the SSH_* variables before connecting")
	verbose := fs.Bool("verbose", true, "log per-combination progress")
	debug := fs.Bool("debug", false, "log the resolved SQL")
	timeout := fs.Duration("timeout", 0, "optional deadline for the whole dispatch (e.g. 10m)")
	var sourceFlags stringList
	fs.Var(&sourceFlags, "source", "distinct source as column=schema.table (repeatable, ordered)")
	_ = fs.Parse(args)

	if *template == "" {
		return errors.New("-template is required")
	}
	if len(sourceFlags) == 0 {
		return errors.New("at least one -source is required")
	}
	sources, err := parseSources(sourceFlags)
	if err != nil {
		return err
	}

	if err := config.LoadEnv(*envFile); err != nil {
		return err
	}
	params, err := config.FromEnv()
	if err != nil {
		return err
	}

	if *useTunnel {
		tcfg, err := tunnel.FromEnv(params.Host, params.Port)
		if err != nil {
			return err
		}
		tun, err := tunnel.Open(tcfg)
		if err != nil {
			return err
		}
		defer tun.Close()
		log.Printf("fanquery: tunnel %s -> %s:%d", tun.LocalAddr(), tcfg.RemoteHost, tcfg.RemotePort)
		params.Host = "127.0.0.1"
		params.Port = tun.LocalPort()
	}

	ctx := context.Background()
	if *timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, *timeout)
		defer cancel()
	}

	opts := fanout.Options{
		Workers:         *workers,
		MaxCombinations: *maxCombos,
		Verbose:         *verbose,
		Debug:           *debug,
		FailureLog:      *failureLog,
	}
	if *diffKeys != "" {
		opts.DiffKeyColumns = strings.Split(*diffKeys, ",")
	}

	start := time.Now()
	report, err := fanout.RunParallel(ctx, params, *template, parseTarget(*target), sources, opts)
	if err != nil {
		return err
	}
	log.Printf("fanquery: %d rows, %d failed combinations in %s",
		report.Result.Len(), len(report.Failures), time.Since(start).Round(time.Millisecond))

	for _, f := range report.Failures {
		fmt.Fprintf(os.Stderr, "failed %v: %v\n", f.Values, f.Err)
	}
	if report.DiffErr != nil {
		fmt.Fprintf(os.Stderr, "warning: %v\n", report.DiffErr)
	}
	if report.Missing != nil {
		log.Printf("fanquery: %d rows not yet in target", report.Missing.Len())
	}

	return writeTSV(os.Stdout, report.Result)
}

// parseSources turns ordered column=schema.table flags into Sources.
func parseSources(flags []string) ([]fanout.Source, error) {
	sources := make([]fanout.Source, 0, len(flags))
	for _, f := range flags {
		col, tbl, ok := strings.Cut(f, "=")
		if !ok || col == "" || tbl == "" {
			return nil, fmt.Errorf("bad -source %q, want column=schema.table", f)
		}
		t := parseTarget(tbl)
		sources = append(sources, fanout.Source{Column: col, Schema: t.Schema, Table: t.Table})
	}
	return sources, nil
}

// parseTarget splits "schema.table" on the first dot; a bare name is a table
// with no schema.
func parseTarget(s string) fanout.Target {
	schema, table, ok := strings.Cut(s, ".")
	if !ok {
		return fanout.Target{Table: s}
	}
	return fanout.Target{Schema: schema, Table: table}
}

func intEnv(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func writeTSV(w io.Writer, res *query.Result) error {
	bw := bufio.NewWriter(w)
	fmt.Fprintln(bw, strings.Join(res.Columns, "\t"))
	for _, row := range res.Rows {
		for i, v := range row {
			if i > 0 {
				_ = bw.WriteByte('\t')
			}
			fmt.Fprintf(bw, "%v", v)
		}
		_ = bw.WriteByte('\n')
	}
	return bw.Flush()
}
