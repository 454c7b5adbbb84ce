package formula

import "testing"

func TestParse(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{"true", "true"},
		{"x < 3", "x < 3"},
		{"x == 3", "x = 3"},
		{"objs[2] >= -4", "objs[2] >= -4"},
		{`a = 1 /\ b = 2 \/ c = 3`, `((a = 1 /\ b = 2) \/ c = 3)`},
		{`a = 1 /\ (b = 2 \/ c = 3)`, `(a = 1 /\ (b = 2 \/ c = 3))`},
		{`not x != 1 /\ y > 0`, `(not (x != 1) /\ y > 0)`},
		{"card(shortest_path[s[1], s[2]]) < card(shortest_path[3, 4])", "card(shortest_path[s[1], s[2]]) < card(shortest_path[3, 4])"},
		{"m[1,2] <= 7", "m[1, 2] <= 7"},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			f, err := Parse(tt.input)
			if err != nil {
				t.Fatalf("Parse: %v", err)
			}
			if got := f.String(); got != tt.want {
				t.Errorf("String() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestParseRoundTrip(t *testing.T) {
	fs := []Formula{
		Negate(Conj(VarCmp("services2locs", Eq, 2, 1), VarCmp("services2locs", Eq, 1, 2))),
		Disj(VarCmp("objs", Lt, 10, 1), VarCmp("objs", Gt, 3, 2)),
		Conj(Disj(VarCmp("x", Lt, 1), VarCmp("y", Lt, 1)), Disj(VarCmp("x", Gt, 4), VarCmp("y", Lt, 0))),
		False,
	}
	for _, f := range fs {
		g, err := Parse(f.String())
		if err != nil {
			t.Fatalf("Parse(%q): %v", f, err)
		}
		if g.String() != f.String() {
			t.Errorf("round trip = %q, want %q", g, f)
		}
	}
}

func TestParseErrors(t *testing.T) {
	inputs := []string{
		"",
		"x <",
		"x 3",
		"(x < 3",
		"x < 3 y",
		`x < 3 /\`,
		"a[1 < 2",
		"- x < 1",
	}
	for _, in := range inputs {
		if _, err := Parse(in); err == nil {
			t.Errorf("Parse(%q): expected error", in)
		}
	}
}
