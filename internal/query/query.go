// Package query executes parameterized SQL against PostgreSQL and returns
// tabular results. Each execution opens its own connection and closes it
// unconditionally before returning, so a connection-level failure in one
// execution can never corrupt another. Values are always bound at the driver
// level; only validated identifiers are ever spliced into query text (see
// template.go).
package query

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/MarksonMarcolino/db-toolkit/internal/config"
)

// Kind classifies an execution failure.
type Kind int

const (
	// KindConnect covers failures establishing the connection.
	KindConnect Kind = iota
	// KindExec covers SQL execution and row-scan failures.
	KindExec
	// KindTimeout covers deadline and driver-level timeout failures.
	KindTimeout
)

func (k Kind) String() string {
	switch k {
	case KindConnect:
		return "connect failed"
	case KindTimeout:
		return "timed out"
	default:
		return "execution failed"
	}
}

// Error carries the failure classification plus the parameter values of the
// failing execution, so a failure inside a parallel batch stays attributable
// to its specific combination.
type Error struct {
	Kind   Kind
	Query  string
	Params []any
	Err    error
}

func (e *Error) Error() string {
	if len(e.Params) > 0 {
		return fmt.Sprintf("query %s for values %v: %v", e.Kind, e.Params, e.Err)
	}
	return fmt.Sprintf("query %s: %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Querier is the executor seam: fanout dispatches through it and tests
// substitute fakes for it. Run is the production implementation.
type Querier func(ctx context.Context, params config.ConnParams, sql string, args []any) (*Result, error)

// pgConn is the subset of *pgx.Conn the executor touches, kept small so
// tests can run hermetically against a fake.
type pgConn interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Close(ctx context.Context) error
}

type connectFn func(ctx context.Context, params config.ConnParams) (pgConn, error)

func pgxConnect(ctx context.Context, params config.ConnParams) (pgConn, error) {
	return pgx.Connect(ctx, params.DSN())
}

// Run opens one connection, executes sql with args bound by the driver,
// fetches every row, and closes the connection whether or not the query
// succeeded. Failures come back as *Error with the offending args attached.
func Run(ctx context.Context, params config.ConnParams, sql string, args []any) (*Result, error) {
	return run(ctx, pgxConnect, params, sql, args)
}

func run(ctx context.Context, connect connectFn, params config.ConnParams, sql string, args []any) (*Result, error) {
	conn, err := connect(ctx, params)
	if err != nil {
		return nil, &Error{Kind: KindConnect, Query: sql, Params: args, Err: err}
	}
	defer func() { _ = conn.Close(context.Background()) }()

	rows, err := conn.Query(ctx, sql, args...)
	if err != nil {
		return nil, classify(sql, args, err)
	}
	defer rows.Close()

	res := &Result{}
	for _, fd := range rows.FieldDescriptions() {
		res.Columns = append(res.Columns, fd.Name)
	}
	for rows.Next() {
		vals, err := rows.Values()
		if err != nil {
			return nil, classify(sql, args, err)
		}
		res.Rows = append(res.Rows, vals)
	}
	if err := rows.Err(); err != nil {
		return nil, classify(sql, args, err)
	}
	return res, nil
}

func classify(sql string, args []any, err error) *Error {
	kind := KindExec
	if errors.Is(err, context.DeadlineExceeded) || pgconn.Timeout(err) {
		kind = KindTimeout
	}
	return &Error{Kind: kind, Query: sql, Params: args, Err: err}
}
