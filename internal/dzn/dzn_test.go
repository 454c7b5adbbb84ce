package dzn

import (
	"bytes"
	"path/filepath"
	"strings"
	"testing"

	"github.com/me/mowctt/pkg/model"
)

const instance = `% generated by topology2dzn
services2names = ["s1", "s2", "s3"];
locations2names = ["p1", "p2"]; % trailing comment
minimize_objs = [true, false];
ref_point = [100, -5];
coms = [| 0, 1, 0
        | 1, 0, 1
        | 0, 0, 0 |];
allowed = {3, 1, 2};
span = 2..4;
name = "small";
n = -3;
flag = false;
grid = array2d(1..2, 1..2, [1, 2, 3, 4]);
`

func TestParse(t *testing.T) {
	f, err := Parse(strings.NewReader(instance))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}

	names, err := f.Strings("services2names")
	if err != nil || len(names) != 3 || names[2] != "s3" {
		t.Errorf("services2names = %v, %v", names, err)
	}
	mins, err := f.Bools("minimize_objs")
	if err != nil || len(mins) != 2 || !mins[0] || mins[1] {
		t.Errorf("minimize_objs = %v, %v", mins, err)
	}
	ref, err := f.Ints("ref_point")
	if err != nil || len(ref) != 2 || ref[1] != -5 {
		t.Errorf("ref_point = %v, %v", ref, err)
	}
	coms, err := f.Matrix("coms")
	if err != nil {
		t.Fatalf("coms: %v", err)
	}
	if len(coms) != 3 || coms[1][2] != 1 || coms[2][0] != 0 {
		t.Errorf("coms = %v", coms)
	}
	if v, _ := f.Get("allowed"); v.String() != "{1, 2, 3}" {
		t.Errorf("allowed = %s", v)
	}
	if v, _ := f.Get("span"); v.String() != "{2, 3, 4}" {
		t.Errorf("span = %s", v)
	}
	if v, _ := f.Get("name"); v.String() != `"small"` {
		t.Errorf("name = %s", v)
	}
	if v, _ := f.Get("n"); v.String() != "-3" {
		t.Errorf("n = %s", v)
	}
	grid, err := f.Matrix("grid")
	if err != nil || grid[1][0] != 3 {
		t.Errorf("grid = %v, %v", grid, err)
	}
	want := []string{"services2names", "locations2names", "minimize_objs", "ref_point", "coms", "allowed", "span", "name", "n", "flag", "grid"}
	if strings.Join(f.Names, ",") != strings.Join(want, ",") {
		t.Errorf("Names = %v", f.Names)
	}
}

func TestParseErrors(t *testing.T) {
	inputs := []string{
		"x = ;",
		"x = 1",
		"x 1;",
		"x = [1, 2;",
		"x = [| 1, 2 | 3;",
		"x = {1, a};",
		"x = array2d(1..2, 1..2, [1, 2, 3]);",
		"= 3;",
	}
	for _, in := range inputs {
		if _, err := Parse(strings.NewReader(in)); err == nil {
			t.Errorf("Parse(%q): expected error", in)
		}
	}
}

func TestAccessorErrors(t *testing.T) {
	f, err := Parse(strings.NewReader(`a = 1; b = ["x"]; c = [1, 2];`))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := f.Ints("missing"); err == nil {
		t.Error("Ints(missing): expected error")
	}
	if _, err := f.Ints("b"); err == nil {
		t.Error("Ints(b): expected error")
	}
	if _, err := f.Bools("c"); err == nil {
		t.Error("Bools(c): expected error")
	}
	if _, err := f.Strings("a"); err == nil {
		t.Error("Strings(a): expected error")
	}
	if _, err := f.Matrix("c"); err == nil {
		t.Error("Matrix(c): expected error")
	}
}

func TestWriteRoundTrip(t *testing.T) {
	f, err := Parse(strings.NewReader(instance))
	if err != nil {
		t.Fatal(err)
	}
	f.Set("services2locs", model.IntArray(2, 1, 2))

	path := filepath.Join(t.TempDir(), "solution.dzn")
	if err := f.WriteFile(path); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	g, err := ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if len(g.Names) != len(f.Names) {
		t.Fatalf("Names = %v, want %v", g.Names, f.Names)
	}
	for _, name := range f.Names {
		if !f.Values[name].Equal(g.Values[name]) {
			t.Errorf("%s = %s, want %s", name, g.Values[name], f.Values[name])
		}
	}

	// dzn2topology reads one assignment per line.
	var buf bytes.Buffer
	if _, err := f.WriteTo(&buf); err != nil {
		t.Fatal(err)
	}
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != len(f.Names) {
		t.Errorf("wrote %d lines for %d assignments", len(lines), len(f.Names))
	}
	if lines[len(lines)-1] != "services2locs = [2, 1, 2];" {
		t.Errorf("last line = %q", lines[len(lines)-1])
	}
}
