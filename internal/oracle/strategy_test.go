package oracle

import (
	"errors"
	"strings"
	"testing"

	"github.com/me/mowctt/internal/dzn"
	"github.com/me/mowctt/pkg/model"
)

// Three services on three processors: a sends to b and c.
const instanceData = `
services2names = ["a", "b", "c"];
locations2names = ["p1", "p2", "p3"];
coms = [| 0, 1, 1
        | 0, 0, 0
        | 0, 0, 0 |];
`

func testInstance(t *testing.T) *Instance {
	t.Helper()
	f, err := dzn.Parse(strings.NewReader(instanceData))
	if err != nil {
		t.Fatalf("parse instance: %v", err)
	}
	in, err := LoadInstance(f)
	if err != nil {
		t.Fatalf("LoadInstance: %v", err)
	}
	return in
}

// a on p1, b and c on p2.
func testAssignment() model.Assignment {
	return model.Assignment{
		"services2locs": model.IntArray(1, 2, 2),
		"charge":        model.IntArray(3, 9, 9, 4),
	}
}

func TestStrategies(t *testing.T) {
	in := testInstance(t)
	late := []Violation{{Name: "a", Routing: "p1>p2", Receiver: "p2", Slack: -1.5}}
	tests := []struct {
		strategy   string
		combinator string
		violations []Violation
		want       string
	}{
		{NotAssignment, "na", late, `(services2locs[1] != 1 \/ services2locs[2] != 2 \/ services2locs[3] != 2)`},
		{"decrease_one_link_charge", "na", late, `(charge[1] < 3 \/ charge[2] < 9 \/ charge[3] < 9 \/ charge[4] < 4)`},
		{"decrease_max_link_charge", "na", late, `charge[2] < 9`},
		{"forbid_source_alloc", CombineAnd, late, `(services2locs[1] != 1 /\ services2locs[1] != 2)`},
		{"forbid_target_alloc", CombineAnd, late, `((services2locs[2] != 1 /\ services2locs[2] != 2) \/ (services2locs[3] != 1 /\ services2locs[3] != 2))`},
		{
			"forbid_source_target_alloc_or", CombineAnd, late,
			`((services2locs[1] != 1 /\ services2locs[1] != 2) \/ (services2locs[2] != 1 /\ services2locs[2] != 2) \/ (services2locs[3] != 1 /\ services2locs[3] != 2))`,
		},
		{
			"forbid_source_target_alloc_and", CombineAnd, late,
			`(services2locs[1] != 1 /\ services2locs[1] != 2 /\ ((services2locs[2] != 1 /\ services2locs[2] != 2) \/ (services2locs[3] != 1 /\ services2locs[3] != 2)))`,
		},
		{
			"decrease_hop_or", CombineAnd, late,
			`(card(shortest_path[services2locs[1], services2locs[2]]) < card(shortest_path[1, 2]) \/ card(shortest_path[services2locs[1], services2locs[3]]) < card(shortest_path[1, 2]))`,
		},
		{
			"decrease_hop_and", CombineAnd, late,
			`(card(shortest_path[services2locs[1], services2locs[2]]) < card(shortest_path[1, 2]) /\ card(shortest_path[services2locs[1], services2locs[3]]) < card(shortest_path[1, 2]))`,
		},
		{
			// Global strategies stop at the first violation.
			"decrease_max_link_charge", "na", append(late, Violation{Name: "b", Receiver: "p1", Slack: -1}), `charge[2] < 9`,
		},
		{
			"forbid_source_alloc", CombineOr,
			[]Violation{{Name: "a", Receiver: "p2"}, {Name: "a", Receiver: "p3"}},
			`((services2locs[1] != 1 /\ services2locs[1] != 2) \/ (services2locs[1] != 1 /\ services2locs[1] != 3))`,
		},
	}
	for _, tt := range tests {
		t.Run(tt.strategy+"/"+tt.combinator, func(t *testing.T) {
			c, err := NewConflicts(in, tt.strategy, tt.combinator)
			if err != nil {
				t.Fatalf("NewConflicts: %v", err)
			}
			v, err := c.Verdict(tt.violations, testAssignment())
			if err != nil {
				t.Fatalf("Verdict: %v", err)
			}
			if v.Status != model.Rejected {
				t.Fatalf("status = %s", v.Status)
			}
			if got := v.Conflict.String(); got != tt.want {
				t.Errorf("conflict:\n got %s\nwant %s", got, tt.want)
			}
			if got, want := v.Fallback.String(), `(services2locs[1] != 1 \/ services2locs[2] != 2 \/ services2locs[3] != 2)`; got != want {
				t.Errorf("fallback = %s", got)
			}
			// Every conflict the engine can evaluate excludes or keeps the
			// analysed assignment; the fallback always excludes it.
			if ok, err := v.Fallback.Eval(testAssignment()); err != nil || ok {
				t.Errorf("fallback holds on the analysed assignment: %v, %v", ok, err)
			}
		})
	}
}

func TestVerdictAccepts(t *testing.T) {
	c, err := NewConflicts(testInstance(t), "forbid_source_alloc", CombineAnd)
	if err != nil {
		t.Fatal(err)
	}
	v, err := c.Verdict(nil, testAssignment())
	if err != nil || v.Status != model.Accepted {
		t.Errorf("Verdict = %+v, %v, want accepted", v, err)
	}
}

func TestModelDivergence(t *testing.T) {
	in := testInstance(t)
	tests := []struct {
		name      string
		violation Violation
		strategy  string
	}{
		{"unknown service", Violation{Name: "z", Receiver: "p2"}, "forbid_source_alloc"},
		{"unknown location", Violation{Name: "a", Receiver: "p9"}, "forbid_source_alloc"},
		{"no receiving service", Violation{Name: "a", Receiver: "p3"}, "forbid_target_alloc"},
		{"silent sender", Violation{Name: "b", Receiver: "p1"}, "decrease_hop_or"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, err := NewConflicts(in, tt.strategy, CombineAnd)
			if err != nil {
				t.Fatal(err)
			}
			if _, err := c.Verdict([]Violation{tt.violation}, testAssignment()); !errors.Is(err, ErrModelDiverged) {
				t.Errorf("err = %v, want ErrModelDiverged", err)
			}
		})
	}

	c, _ := NewConflicts(in, NotAssignment, CombineOr)
	if _, err := c.Verdict([]Violation{{}}, model.Assignment{}); !errors.Is(err, ErrModelDiverged) {
		t.Errorf("missing services2locs: err = %v", err)
	}
}

func TestNewConflictsErrors(t *testing.T) {
	if _, err := NewConflicts(nil, "nope", CombineAnd); !errors.Is(err, ErrStrategy) {
		t.Errorf("err = %v, want ErrStrategy", err)
	}
	if _, err := NewConflicts(nil, "forbid_source_alloc", CombineAnd); err == nil {
		t.Error("expected an error without instance data")
	}
	if _, err := NewConflicts(testInstance(t), "forbid_source_alloc", "xor"); err == nil {
		t.Error("expected an error for an unknown combinator")
	}
	if _, err := NewConflicts(nil, NotAssignment, "na"); err != nil {
		t.Errorf("global strategy without combinator: %v", err)
	}
}

func TestStrategiesList(t *testing.T) {
	names := Strategies()
	if len(names) != 9 {
		t.Fatalf("Strategies = %v", names)
	}
	for _, name := range names {
		if !ValidStrategy(name) {
			t.Errorf("%s not valid", name)
		}
	}
	if ValidStrategy("decrease_all_link_charge") {
		t.Error("decrease_all_link_charge should not be valid")
	}
	if !IsGlobal(NotAssignment) || IsGlobal("decrease_hop_and") {
		t.Error("IsGlobal mismatch")
	}
}

func TestExcludeAssignment(t *testing.T) {
	a := model.Assignment{"x": model.IntValue(2), "ys": model.IntArray(1, 3)}
	f, err := ExcludeAssignment(a, "x", "ys")
	if err != nil {
		t.Fatal(err)
	}
	if got := f.String(); got != `(x != 2 \/ ys[1] != 1 \/ ys[2] != 3)` {
		t.Errorf("ExcludeAssignment = %s", got)
	}
	if _, err := ExcludeAssignment(model.Assignment{"s": model.StringValue("a")}, "s"); err == nil {
		t.Error("expected an error for a string variable")
	}
}

func TestLoadInstanceErrors(t *testing.T) {
	for _, data := range []string{
		`locations2names = ["p1"]; coms = [| 0 |];`,
		`services2names = ["a"]; coms = [| 0 |];`,
		`services2names = ["a"]; locations2names = ["p1"];`,
		`services2names = ["a", "b"]; locations2names = ["p1"]; coms = [| 0, 1 |];`,
	} {
		f, err := dzn.Parse(strings.NewReader(data))
		if err != nil {
			t.Fatalf("parse %q: %v", data, err)
		}
		if _, err := LoadInstance(f); err == nil {
			t.Errorf("LoadInstance(%q) succeeded", data)
		}
	}
}
