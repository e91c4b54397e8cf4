// Command runquery executes one parameterized SQL query against a remote
// PostgreSQL database, optionally through an SSH tunnel, and prints the
// result as TSV on stdout.
//
// Connection settings come from DB_* environment variables (seeded from a
// .env file when present); the tunnel, when requested with -tunnel, comes
// from the SSH_* variables.
//
// Example:
//
//	runquery -tunnel -query 'SELECT ym, total FROM public.sales WHERE st = %s' -value CA
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
	"strings"
	"time"

	"github.com/MarksonMarcolino/db-toolkit/internal/config"
	"github.com/MarksonMarcolino/db-toolkit/internal/query"
	"github.com/MarksonMarcolino/db-toolkit/internal/tunnel"
)

type stringList []string

func (s *stringList) String() string     { return strings.Join(*s, ",") }
func (s *stringList) Set(v string) error { *s = append(*s, v); return nil }

func main() {
	log.SetFlags(0)
	if err := run(os.Args[1:]); err != nil {
		log.Fatalf("runquery: %v", err)
	}
}

func run(args []string) error {
	fs := flag.NewFlagSet("runquery", flag.ExitOnError)
	envFile := fs.String("env", "", "path to .env file (default: ./.env when present)")
	queryText := fs.String("query", "", "SQL to execute; %s markers bind -value arguments in order")
	useTunnel := fs.Bool("tunnel", false, "open an SSH tunnel from the SSH_* variables before connecting")
	timeout := fs.Duration("timeout", 0, "optional deadline for the whole call (e.g. 30s)")
	var values stringList
	fs.Var(&values, "value", "query parameter value (repeatable, bound in order)")
	_ = fs.Parse(args)

	if *queryText == "" {
		return errors.New("-query is required")
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
		log.Printf("runquery: tunnel %s -> %s:%d", tun.LocalAddr(), tcfg.RemoteHost, tcfg.RemotePort)
		params.Host = "127.0.0.1"
		params.Port = tun.LocalPort()
	}

	ctx := context.Background()
	if *timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, *timeout)
		defer cancel()
	}

	var qargs []any
	for _, v := range values {
		qargs = append(qargs, v)
	}

	start := time.Now()
	res, err := query.Run(ctx, params, query.Rebind(*queryText), qargs)
	if err != nil {
		return err
	}
	log.Printf("runquery: %d rows in %s", res.Len(), time.Since(start).Round(time.Millisecond))
	return writeTSV(os.Stdout, res)
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
