package dbtoolkit_test

import (
	"context"
	"errors"
	"os"
	"strings"
	"testing"

	dbtoolkit "github.com/MarksonMarcolino/db-toolkit"
)

func TestRequireEnv_ListsAllMissing(t *testing.T) {
	t.Setenv("DBTK_FACADE_A", "ok")
	os.Unsetenv("DBTK_FACADE_B")
	os.Unsetenv("DBTK_FACADE_C")

	err := dbtoolkit.RequireEnv("DBTK_FACADE_A", "DBTK_FACADE_B", "DBTK_FACADE_C")
	if err == nil {
		t.Fatal("want error")
	}
	var me *dbtoolkit.MissingError
	if !errors.As(err, &me) {
		t.Fatalf("want *MissingError, got %T", err)
	}
	for _, k := range []string{"DBTK_FACADE_B", "DBTK_FACADE_C"} {
		if !strings.Contains(err.Error(), k) {
			t.Errorf("error %q missing %s", err, k)
		}
	}
}

func TestGetEnvVariable(t *testing.T) {
	os.Unsetenv("DBTK_FACADE_D")
	if got := dbtoolkit.GetEnvVariable("DBTK_FACADE_D", "fallback"); got != "fallback" {
		t.Fatalf("got %q, want fallback", got)
	}
}

// TestRunParallelQueries_EndToEnd drives the full public path with a fake
// executor: the ym x st scenario from the package docs, with one combination
// failing and a diff against the target.
func TestRunParallelQueries_EndToEnd(t *testing.T) {
	t.Parallel()

	params := dbtoolkit.ConnParams{Host: "127.0.0.1", Port: 5432, DBName: "d", User: "u", Password: "p"}
	driverErr := errors.New("connection reset by peer")

	exec := func(_ context.Context, _ dbtoolkit.ConnParams, sql string, args []any) (*dbtoolkit.Result, error) {
		switch {
		case strings.HasPrefix(sql, "SELECT DISTINCT") && strings.Contains(sql, `"ym"`):
			return &dbtoolkit.Result{Columns: []string{"ym"}, Rows: [][]any{{"2023-01"}, {"2023-02"}}}, nil
		case strings.HasPrefix(sql, "SELECT DISTINCT") && strings.Contains(sql, `"st"`):
			return &dbtoolkit.Result{Columns: []string{"st"}, Rows: [][]any{{"CA"}, {"NY"}}}, nil
		case args == nil:
			// Diff scan of the target table.
			return &dbtoolkit.Result{Columns: []string{"ym", "st"}, Rows: [][]any{{"2023-01", "NY"}}}, nil
		case args[0] == "2023-02" && args[1] == "NY":
			return nil, driverErr
		default:
			return &dbtoolkit.Result{Columns: []string{"ym", "st", "total"}, Rows: [][]any{{args[0], args[1], 7}}}, nil
		}
	}

	report, err := dbtoolkit.RunParallelQueries(context.Background(), params,
		"SELECT ym, st, total FROM {table} WHERE {attribute_0} = %s AND {attribute_1} = %s",
		dbtoolkit.Target{Schema: "public", Table: "sales"},
		[]dbtoolkit.Source{
			{Column: "ym", Schema: "public", Table: "sales"},
			{Column: "st", Schema: "public", Table: "stores"},
		},
		dbtoolkit.Options{DiffKeyColumns: []string{"ym", "st"}, Exec: exec},
	)
	if err != nil {
		t.Fatalf("RunParallelQueries: %v", err)
	}

	if report.Result.Len() != 3 {
		t.Errorf("combined rows = %d, want 3 (one combination failed)", report.Result.Len())
	}
	if len(report.Failures) != 1 {
		t.Fatalf("failures = %v, want one", report.Failures)
	}
	if !errors.Is(report.Failures[0].Err, driverErr) {
		t.Errorf("failure cause = %v, want driver error", report.Failures[0].Err)
	}
	if report.DiffErr != nil {
		t.Fatalf("DiffErr = %v", report.DiffErr)
	}
	// (2023-01, NY) already exists in the target, so 2 of the 3 successful
	// rows are new.
	if report.Missing == nil || report.Missing.Len() != 2 {
		t.Errorf("Missing = %v, want 2 rows", report.Missing)
	}
}
