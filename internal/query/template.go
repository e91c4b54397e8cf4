package query

import (
	"fmt"
	"regexp"
	"strings"

	"golang.org/x/text/unicode/norm"
)

// Query templates carry two kinds of placeholders that must never be
// conflated:
//
//   - {name} tokens name identifiers (tables, columns). They are resolved
//     once, before execution, by splicing validated, quoted identifiers into
//     the text.
//   - %s tokens mark value parameters. They are rewritten to pgx-native
//     $1..$n placeholders and bound by the driver at execution time.
//
// Identifier resolution never touches %s tokens and caller-supplied
// identifier fragments never reach the SQL text unvalidated.

var (
	identToken   = regexp.MustCompile(`\{([A-Za-z_][A-Za-z0-9_]*)\}`)
	identSegment = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_$]*$`)
)

// SafeIdent validates and quotes a possibly schema-qualified identifier such
// as "public.sales". Each dotted segment is NFC-normalized, checked against
// a conservative allow-list pattern, and double-quoted. Anything else is
// rejected rather than escaped.
func SafeIdent(name string) (string, error) {
	name = norm.NFC.String(strings.TrimSpace(name))
	if name == "" {
		return "", fmt.Errorf("empty identifier")
	}
	parts := strings.Split(name, ".")
	for i, p := range parts {
		if !identSegment.MatchString(p) {
			return "", fmt.Errorf("unsafe identifier segment %q in %q", p, name)
		}
		parts[i] = pgIdent(p)
	}
	return strings.Join(parts, "."), nil
}

// pgIdent quotes a single identifier segment for Postgres.
func pgIdent(id string) string { return `"` + strings.ReplaceAll(id, `"`, `""`) + `"` }

// ResolveIdentifiers substitutes every {name} token in tmpl with the quoted
// form of idents[name]. A token without a binding, or a binding that fails
// SafeIdent, is an error. %s value placeholders pass through untouched.
func ResolveIdentifiers(tmpl string, idents map[string]string) (string, error) {
	var rerr error
	out := identToken.ReplaceAllStringFunc(tmpl, func(m string) string {
		name := m[1 : len(m)-1]
		raw, ok := idents[name]
		if !ok {
			if rerr == nil {
				rerr = fmt.Errorf("no identifier bound for token {%s}", name)
			}
			return m
		}
		q, err := SafeIdent(raw)
		if err != nil {
			if rerr == nil {
				rerr = fmt.Errorf("token {%s}: %w", name, err)
			}
			return m
		}
		return q
	})
	if rerr != nil {
		return "", rerr
	}
	return out, nil
}

// PlaceholderCount returns the number of %s value placeholders in tmpl.
func PlaceholderCount(tmpl string) int { return strings.Count(tmpl, "%s") }

// Rebind rewrites %s placeholders to pgx-native $1..$n, left to right.
func Rebind(sql string) string {
	var b strings.Builder
	n := 0
	for {
		i := strings.Index(sql, "%s")
		if i < 0 {
			b.WriteString(sql)
			return b.String()
		}
		n++
		b.WriteString(sql[:i])
		fmt.Fprintf(&b, "$%d", n)
		sql = sql[i+2:]
	}
}

// PadArgs stretches a combination's values to fill n placeholders by cycling
// through them in order, so a template may reference the same attribute more
// than once. Supplying more values than placeholders is an error.
func PadArgs(values []any, n int) ([]any, error) {
	if len(values) > n {
		return nil, fmt.Errorf("too many input values (%d) for %d placeholders", len(values), n)
	}
	if len(values) == n {
		return values, nil
	}
	if len(values) == 0 {
		return nil, fmt.Errorf("no values supplied for %d placeholders", n)
	}
	out := make([]any, n)
	for i := range out {
		out[i] = values[i%len(values)]
	}
	return out, nil
}
