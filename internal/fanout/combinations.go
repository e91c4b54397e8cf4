package fanout

import (
	"context"
	"errors"
	"fmt"

	"github.com/MarksonMarcolino/db-toolkit/internal/config"
	"github.com/MarksonMarcolino/db-toolkit/internal/query"
)

// ErrCombinations is wrapped by every failure to build the combination list,
// including distinct-value lookups the caller lacks access to. It is fatal:
// a dispatch cannot start without its task list.
var ErrCombinations = errors.New("combination generation failed")

// Source names one dimension of the parameter cross product: the distinct
// values of Column in Schema.Table seed that dimension. The order of a
// []Source determines the field order of every generated combination.
type Source struct {
	Column string
	Schema string
	Table  string
}

// QualifiedTable returns "schema.table", or just the table when no schema is
// set.
func (s Source) QualifiedTable() string {
	if s.Schema == "" {
		return s.Table
	}
	return s.Schema + "." + s.Table
}

// Combination is one concrete tuple of values, one per source.
type Combination []any

// DistinctCombinations queries the distinct values of every source column and
// returns their cross product in generation order: the first source varies
// slowest, the last fastest, and within each dimension values keep the order
// the distinct query returned them in.
//
// A limit > 0 truncates the product to its first limit combinations. The
// truncation is a deterministic prefix of the generation order, not a random
// sample; it exists to bound cost during development runs.
//
// A source whose distinct query returns zero rows collapses the whole product
// to zero combinations. That is a valid empty result, not an error.
func DistinctCombinations(ctx context.Context, params config.ConnParams, sources []Source, limit int, exec query.Querier) ([]Combination, error) {
	if exec == nil {
		exec = query.Run
	}
	if len(sources) == 0 {
		return nil, fmt.Errorf("%w: no distinct sources given", ErrCombinations)
	}

	dims := make([][]any, len(sources))
	for i, src := range sources {
		col, err := query.SafeIdent(src.Column)
		if err != nil {
			return nil, fmt.Errorf("%w: source column: %w", ErrCombinations, err)
		}
		tbl, err := query.SafeIdent(src.QualifiedTable())
		if err != nil {
			return nil, fmt.Errorf("%w: source table: %w", ErrCombinations, err)
		}

		res, err := exec(ctx, params, fmt.Sprintf("SELECT DISTINCT %s FROM %s", col, tbl), nil)
		if err != nil {
			return nil, fmt.Errorf("%w: distinct values of %s: %w", ErrCombinations, src.Column, err)
		}
		vals := make([]any, len(res.Rows))
		for j, row := range res.Rows {
			vals[j] = row[0]
		}
		dims[i] = vals
	}

	combos := crossProduct(dims)
	if limit > 0 && len(combos) > limit {
		combos = combos[:limit]
	}
	return combos, nil
}

// crossProduct enumerates tuples odometer-style, last dimension fastest.
// Any empty dimension yields no tuples.
func crossProduct(dims [][]any) []Combination {
	total := 1
	for _, d := range dims {
		total *= len(d)
	}
	if total == 0 {
		return nil
	}

	out := make([]Combination, 0, total)
	idx := make([]int, len(dims))
	for {
		c := make(Combination, len(dims))
		for i, d := range dims {
			c[i] = d[idx[i]]
		}
		out = append(out, c)

		i := len(dims) - 1
		for ; i >= 0; i-- {
			idx[i]++
			if idx[i] < len(dims[i]) {
				break
			}
			idx[i] = 0
		}
		if i < 0 {
			return out
		}
	}
}
