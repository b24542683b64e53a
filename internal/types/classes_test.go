package types_test

import (
	"strings"
	"testing"

	"opal/internal/types"
)

// buildShapes registers a small hierarchy:
//
//	Shape (abstract) <- Circle, Rect <- Square
//
// Circle overrides area; Rect defines area; Square inherits Rect's.
func buildShapes(t *testing.T) (*types.Classes, map[string]types.ClassID) {
	t.Helper()
	in := types.NewInterner()
	b := in.Builtins()
	cs := types.NewClasses()
	ids := make(map[string]types.ClassID)
	add := func(c types.Class) {
		id, err := cs.Add(c)
		if err != nil {
			t.Fatal(err)
		}
		ids[c.Name] = id
	}
	add(types.Class{Name: "Shape", Kind: types.ClassReference, Abstract: true})
	add(types.Class{
		Name: "Circle", Kind: types.ClassReference, Base: ids["Shape"],
		Fields:  []types.Field{{Name: "r", Type: b.F64}},
		Methods: []types.MethodDef{{Name: "area", Func: 10}},
	})
	add(types.Class{
		Name: "Rect", Kind: types.ClassReference, Base: ids["Shape"],
		Fields:  []types.Field{{Name: "w", Type: b.F64}, {Name: "h", Type: b.F64}},
		Methods: []types.MethodDef{{Name: "area", Func: 11}},
	})
	add(types.Class{Name: "Square", Kind: types.ClassReference, Base: ids["Rect"]})
	return cs, ids
}

func TestAddRejectsUnknownBase(t *testing.T) {
	cs := types.NewClasses()
	_, err := cs.Add(types.Class{Name: "Orphan", Base: types.ClassID(42)})
	if err == nil || !strings.Contains(err.Error(), "not registered") {
		t.Fatalf("err = %v", err)
	}
	if _, err := cs.Add(types.Class{Name: ""}); err == nil {
		t.Fatal("empty name accepted")
	}
}

func TestAddRejectsDuplicate(t *testing.T) {
	cs := types.NewClasses()
	if _, err := cs.Add(types.Class{Name: "A"}); err != nil {
		t.Fatal(err)
	}
	_, err := cs.Add(types.Class{Name: "A"})
	if err == nil || !strings.Contains(err.Error(), "duplicate") {
		t.Fatalf("err = %v", err)
	}
}

func TestIsAncestor(t *testing.T) {
	cs, ids := buildShapes(t)
	tests := []struct {
		name string
		a, c string
		want bool
	}{
		{"self", "Rect", "Rect", true},
		{"direct", "Shape", "Circle", true},
		{"transitive", "Shape", "Square", true},
		{"reversed", "Square", "Shape", false},
		{"sibling", "Circle", "Rect", false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := cs.IsAncestor(ids[tc.a], ids[tc.c]); got != tc.want {
				t.Fatalf("IsAncestor(%s, %s) = %v, want %v", tc.a, tc.c, got, tc.want)
			}
		})
	}
}

func TestConcreteSubclasses(t *testing.T) {
	cs, ids := buildShapes(t)
	got := cs.ConcreteSubclasses(ids["Shape"])
	want := []types.ClassID{ids["Circle"], ids["Rect"], ids["Square"]}
	if len(got) != len(want) {
		t.Fatalf("ConcreteSubclasses = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("ConcreteSubclasses = %v, want %v", got, want)
		}
	}
	if sub := cs.ConcreteSubclasses(ids["Circle"]); len(sub) != 1 || sub[0] != ids["Circle"] {
		t.Fatalf("leaf subclasses = %v", sub)
	}
}

func TestResolveWalksBaseChain(t *testing.T) {
	cs, ids := buildShapes(t)
	fn, ok := cs.Resolve(ids["Square"], "area")
	if !ok || fn != 11 {
		t.Fatalf("Resolve(Square, area) = %d, %v; want Rect's 11", fn, ok)
	}
	fn, ok = cs.Resolve(ids["Circle"], "area")
	if !ok || fn != 10 {
		t.Fatalf("Resolve(Circle, area) = %d, %v", fn, ok)
	}
	if _, ok := cs.Resolve(ids["Shape"], "perimeter"); ok {
		t.Fatal("resolved missing method")
	}
}

func TestAllFieldsBaseFirst(t *testing.T) {
	cs, ids := buildShapes(t)
	fields := cs.AllFields(ids["Square"])
	if len(fields) != 2 || fields[0].Name != "w" || fields[1].Name != "h" {
		t.Fatalf("AllFields(Square) = %v", fields)
	}
	if n := cs.FieldCount(ids["Shape"]); n != 0 {
		t.Fatalf("FieldCount(Shape) = %d", n)
	}
}
