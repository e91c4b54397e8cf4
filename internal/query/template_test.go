package query

import (
	"strings"
	"testing"
)

func TestSafeIdent(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{in: "sales", want: `"sales"`},
		{in: "public.sales", want: `"public"."sales"`},
		{in: "ym", want: `"ym"`},
		{in: "_internal$col", want: `"_internal$col"`},
		{in: " padded ", want: `"padded"`},
		{in: "", wantErr: true},
		{in: "1table", wantErr: true},
		{in: "a;DROP TABLE t", wantErr: true},
		{in: `a"b`, wantErr: true},
		{in: "schema..table", wantErr: true},
		{in: "col name", wantErr: true},
	}
	for _, tc := range tests {
		got, err := SafeIdent(tc.in)
		if tc.wantErr {
			if err == nil {
				t.Errorf("SafeIdent(%q) = %q, want error", tc.in, got)
			}
			continue
		}
		if err != nil {
			t.Errorf("SafeIdent(%q): %v", tc.in, err)
			continue
		}
		if got != tc.want {
			t.Errorf("SafeIdent(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestResolveIdentifiers(t *testing.T) {
	t.Parallel()

	tmpl := "SELECT * FROM {table} WHERE {attribute_0} = %s AND {attribute_1} = %s"
	got, err := ResolveIdentifiers(tmpl, map[string]string{
		"table":       "public.sales",
		"attribute_0": "ym",
		"attribute_1": "st",
	})
	if err != nil {
		t.Fatalf("ResolveIdentifiers: %v", err)
	}
	want := `SELECT * FROM "public"."sales" WHERE "ym" = %s AND "st" = %s`
	if got != want {
		t.Errorf("resolved = %q, want %q", got, want)
	}
}

func TestResolveIdentifiers_UnboundToken(t *testing.T) {
	t.Parallel()

	_, err := ResolveIdentifiers("SELECT {missing} FROM t", nil)
	if err == nil || !strings.Contains(err.Error(), "{missing}") {
		t.Fatalf("err = %v, want unbound-token error naming {missing}", err)
	}
}

func TestResolveIdentifiers_UnsafeBinding(t *testing.T) {
	t.Parallel()

	_, err := ResolveIdentifiers("SELECT {c} FROM t", map[string]string{"c": "a;--"})
	if err == nil {
		t.Fatal("want error for unsafe identifier binding")
	}
}

// Value placeholders must survive identifier resolution untouched.
func TestResolveIdentifiers_LeavesValuePlaceholders(t *testing.T) {
	t.Parallel()

	got, err := ResolveIdentifiers("SELECT %s, {c} FROM t WHERE x = %s", map[string]string{"c": "col"})
	if err != nil {
		t.Fatal(err)
	}
	if PlaceholderCount(got) != 2 {
		t.Errorf("placeholders after resolution = %d, want 2 (%q)", PlaceholderCount(got), got)
	}
}

func TestRebind(t *testing.T) {
	t.Parallel()

	tests := []struct{ in, want string }{
		{"SELECT 1", "SELECT 1"},
		{"WHERE a = %s", "WHERE a = $1"},
		{"WHERE a = %s AND b = %s AND c = %s", "WHERE a = $1 AND b = $2 AND c = $3"},
	}
	for _, tc := range tests {
		if got := Rebind(tc.in); got != tc.want {
			t.Errorf("Rebind(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestPadArgs(t *testing.T) {
	t.Parallel()

	// Exact fit passes through.
	got, err := PadArgs([]any{"a", "b"}, 2)
	if err != nil || len(got) != 2 {
		t.Fatalf("PadArgs exact = %v, %v", got, err)
	}

	// Fewer values than placeholders cycle in order.
	got, err = PadArgs([]any{"a", "b"}, 5)
	if err != nil {
		t.Fatalf("PadArgs cycle: %v", err)
	}
	want := []any{"a", "b", "a", "b", "a"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("PadArgs cycle = %v, want %v", got, want)
		}
	}

	// More values than placeholders is a caller bug.
	if _, err := PadArgs([]any{"a", "b", "c"}, 2); err == nil {
		t.Error("want error for too many values")
	}

	// No placeholders, no values: nothing to do.
	got, err = PadArgs(nil, 0)
	if err != nil || len(got) != 0 {
		t.Errorf("PadArgs(nil, 0) = %v, %v", got, err)
	}

	// Values against a zero-placeholder query is also a caller bug.
	if _, err := PadArgs([]any{"a"}, 0); err == nil {
		t.Error("want error for values without placeholders")
	}
}
