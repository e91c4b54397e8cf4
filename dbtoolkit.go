// Package dbtoolkit is a small toolkit for reaching a remote PostgreSQL
// database through an SSH tunnel and running parameterized queries against
// it, either one at a time or fanned out over the cross product of
// per-column distinct values.
//
// Typical workflow:
//
//	_ = dbtoolkit.LoadEnv("")
//	params, err := dbtoolkit.ConnParamsFromEnv()
//	// handle err
//	tcfg, err := dbtoolkit.TunnelConfigFromEnv(params.Host, params.Port)
//	// handle err
//	tun, err := dbtoolkit.CreateTunnel(tcfg)
//	// handle err
//	defer tun.Close()
//	params.Host, params.Port = "127.0.0.1", tun.LocalPort()
//
//	res, err := dbtoolkit.RunQuery(ctx, params, "SELECT * FROM sales WHERE st = %s", []any{"CA"})
//
// The package is a thin facade; the work happens in the internal config,
// tunnel, query and fanout packages.
package dbtoolkit

import (
	"context"

	"github.com/MarksonMarcolino/db-toolkit/internal/config"
	"github.com/MarksonMarcolino/db-toolkit/internal/fanout"
	"github.com/MarksonMarcolino/db-toolkit/internal/query"
	"github.com/MarksonMarcolino/db-toolkit/internal/tunnel"
)

// Re-exported types so callers only import this package.
type (
	// ConnParams identifies one PostgreSQL endpoint.
	ConnParams = config.ConnParams
	// MissingError lists required environment variables that are absent.
	MissingError = config.MissingError
	// TunnelConfig describes one SSH forwarding session.
	TunnelConfig = tunnel.Config
	// Tunnel is an active forwarding session; Close it exactly once.
	Tunnel = tunnel.Tunnel
	// Result is a tabular query result.
	Result = query.Result
	// QueryError classifies a single execution failure.
	QueryError = query.Error
	// Source seeds one dimension of the parameter cross product.
	Source = fanout.Source
	// Target names the table queried and optionally diffed against.
	Target = fanout.Target
	// Options tunes a parallel run.
	Options = fanout.Options
	// Report is the outcome of a parallel run.
	Report = fanout.Report
	// Failure records one failed combination.
	Failure = fanout.Failure
)

// Sentinel errors, re-exported for errors.Is checks.
var (
	ErrTunnelEstablish = tunnel.ErrEstablish
	ErrCombinations    = fanout.ErrCombinations
)

// LoadEnv seeds the process environment from a .env file without overwriting
// variables that are already set. An empty path means "./.env if present".
func LoadEnv(path string) error { return config.LoadEnv(path) }

// GetEnvVariable returns the value of key, or def when unset or empty.
func GetEnvVariable(key, def string) string { return config.GetDefault(key, def) }

// RequireEnv verifies every key is set and non-empty, reporting all missing
// names in one error.
func RequireEnv(keys ...string) error { return config.Require(keys...) }

// ConnParamsFromEnv builds connection parameters from the DB_* variables.
func ConnParamsFromEnv() (ConnParams, error) { return config.FromEnv() }

// TunnelConfigFromEnv builds a tunnel configuration from the SSH_* variables,
// forwarding to the given remote endpoint. SSH_PORT defaults to 22.
func TunnelConfigFromEnv(remoteHost string, remotePort int) (TunnelConfig, error) {
	return tunnel.FromEnv(remoteHost, remotePort)
}

// CreateTunnel opens an SSH tunnel. The caller owns it and must Close it
// when all query activity is done.
func CreateTunnel(cfg TunnelConfig) (*Tunnel, error) { return tunnel.Open(cfg) }

// RunQuery executes one parameterized query on a fresh connection and
// returns its rows. %s markers in queryText are bound as driver-level
// parameters from values, never interpolated into the SQL text.
func RunQuery(ctx context.Context, params ConnParams, queryText string, values []any) (*Result, error) {
	return query.Run(ctx, params, query.Rebind(queryText), values)
}

// RunParallelQueries executes queryTemplate once per combination of the
// sources' distinct values across a bounded worker pool and returns the
// combined rows, per-combination failures, and (when requested in opts) the
// rows not yet present in the target table.
func RunParallelQueries(ctx context.Context, params ConnParams, queryTemplate string, target Target, sources []Source, opts Options) (*Report, error) {
	return fanout.RunParallel(ctx, params, queryTemplate, target, sources, opts)
}
