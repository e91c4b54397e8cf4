package fanout

import (
	"bytes"
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/zeebo/xxh3"

	"github.com/MarksonMarcolino/db-toolkit/internal/config"
	"github.com/MarksonMarcolino/db-toolkit/internal/query"
)

// diffAgainstTarget returns the rows of combined whose key tuple does not
// already exist in the target table. Membership is tested against a set of
// 64-bit xxh3 hashes of a canonical key encoding, so the diff is best-effort:
// a hash collision marks a genuinely new row as present. Callers use it to
// seed incremental loads, never to drop data authoritatively.
func diffAgainstTarget(ctx context.Context, params config.ConnParams, combined *query.Result, target Target, keyCols []string, exec query.Querier) (*query.Result, error) {
	if combined == nil || combined.Empty() {
		out := &query.Result{}
		if combined != nil {
			out.Columns = combined.Columns
		}
		return out, nil
	}

	idx := make([]int, len(keyCols))
	for i, kc := range keyCols {
		j := slices.Index(combined.Columns, kc)
		if j < 0 {
			return nil, fmt.Errorf("key column %q not in combined result columns %v", kc, combined.Columns)
		}
		idx[i] = j
	}

	quoted := make([]string, len(keyCols))
	for i, kc := range keyCols {
		q, err := query.SafeIdent(kc)
		if err != nil {
			return nil, fmt.Errorf("key column: %w", err)
		}
		quoted[i] = q
	}
	tbl, err := query.SafeIdent(target.qualified())
	if err != nil {
		return nil, fmt.Errorf("target table: %w", err)
	}

	existing, err := exec(ctx, params, fmt.Sprintf("SELECT %s FROM %s", strings.Join(quoted, ", "), tbl), nil)
	if err != nil {
		return nil, err
	}

	seen := make(map[uint64]struct{}, len(existing.Rows))
	for _, row := range existing.Rows {
		seen[keyHash(row)] = struct{}{}
	}

	out := &query.Result{Columns: combined.Columns}
	key := make([]any, len(idx))
	for _, row := range combined.Rows {
		for i, j := range idx {
			key[i] = row[j]
		}
		if _, ok := seen[keyHash(key)]; !ok {
			out.Rows = append(out.Rows, row)
		}
	}
	return out, nil
}

// keyHash hashes the key tuple's textual form, fields separated by a unit
// separator so ("ab","c") and ("a","bc") hash apart.
func keyHash(vals []any) uint64 {
	var b bytes.Buffer
	for i, v := range vals {
		if i > 0 {
			b.WriteByte(0x1f)
		}
		fmt.Fprintf(&b, "%v", v)
	}
	return xxh3.Hash(b.Bytes())
}
