package layout

import (
	"strings"
	"testing"

	"opal/internal/target"
	"opal/internal/types"
)

type fixture struct {
	types   *types.Interner
	classes *types.Classes

	creature types.ClassID
	player   types.ClassID
	point    types.ClassID
	holder   types.ClassID
	broken   types.ClassID
	bytes    types.ClassID
	pairs    types.ClassID
}

func buildFixture(t *testing.T) *fixture {
	t.Helper()
	in := types.NewInterner()
	cs := types.NewClasses()
	b := in.Builtins()

	f := &fixture{types: in, classes: cs}
	add := func(c types.Class) types.ClassID {
		t.Helper()
		id, err := cs.Add(c)
		if err != nil {
			t.Fatalf("Add(%s) failed: %v", c.Name, err)
		}
		return id
	}

	f.creature = add(types.Class{
		Name:     "Creature",
		Abstract: true,
		Fields:   []types.Field{{Name: "tag", Type: b.I8}},
	})
	f.player = add(types.Class{
		Name: "Player",
		Base: f.creature,
		Fields: []types.Field{
			{Name: "hp", Type: b.I64},
			{Name: "mana", Type: b.I32},
		},
	})
	f.point = add(types.Class{
		Name: "Point",
		Fields: []types.Field{
			{Name: "x", Type: b.I32},
			{Name: "y", Type: b.I32},
		},
	})
	f.holder = add(types.Class{
		Name: "Holder",
		Fields: []types.Field{
			{Name: "obj", Type: in.Object(f.point)},
			{Name: "n", Type: b.I64},
		},
	})
	f.broken = add(types.Class{
		Name:   "Broken",
		Fields: []types.Field{{Name: "v", Type: b.Void}},
	})
	f.bytes = add(types.Class{
		Name:      "Bytes",
		ArrayElem: []types.TypeID{b.U8},
	})
	f.pairs = add(types.Class{
		Name:      "Pairs",
		ArrayElem: []types.TypeID{b.I32, b.I64},
	})
	return f
}

func (f *fixture) engine(tgt target.Target) *Engine {
	return New(tgt, f.types, f.classes)
}

func TestLayoutSlots(t *testing.T) {
	f := buildFixture(t)
	e := f.engine(target.X86_64LinuxGNU())

	tests := []struct {
		name  string
		class types.ClassID
		slots []Slot
		bits  int64
	}{
		{
			name:  "flat class without padding",
			class: f.point,
			slots: []Slot{
				{Field: "x", BitOffset: 0, Bits: 32},
				{Field: "y", BitOffset: 32, Bits: 32},
			},
			bits: 64,
		},
		{
			name:  "inherited fields come first",
			class: f.player,
			slots: []Slot{
				{Field: "tag", BitOffset: 0, Bits: 8},
				{Field: "hp", BitOffset: 64, Bits: 64},
				{Field: "mana", BitOffset: 128, Bits: 32},
			},
			bits: 192,
		},
		{
			name:  "object reference takes pointer width",
			class: f.holder,
			slots: []Slot{
				{Field: "obj", BitOffset: 0, Bits: 64},
				{Field: "n", BitOffset: 64, Bits: 64},
			},
			bits: 128,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			slots, err := e.Layout(tt.class)
			if err != nil {
				t.Fatalf("Layout failed: %v", err)
			}
			if len(slots) != len(tt.slots) {
				t.Fatalf("got %d slots, want %d", len(slots), len(tt.slots))
			}
			for i, want := range tt.slots {
				got := slots[i]
				if got.Field != want.Field || got.BitOffset != want.BitOffset || got.Bits != want.Bits {
					t.Errorf("slot %d = {%s %d %d}, want {%s %d %d}",
						i, got.Field, got.BitOffset, got.Bits, want.Field, want.BitOffset, want.Bits)
				}
			}
			bits, err := e.ObjectBits(tt.class)
			if err != nil {
				t.Fatalf("ObjectBits failed: %v", err)
			}
			if bits != tt.bits {
				t.Errorf("ObjectBits = %d, want %d", bits, tt.bits)
			}
		})
	}
}

func TestLayoutNarrowPointers(t *testing.T) {
	f := buildFixture(t)
	e := f.engine(target.Wasm32())

	slots, err := e.Layout(f.holder)
	if err != nil {
		t.Fatalf("Layout failed: %v", err)
	}
	if slots[0].Bits != 32 {
		t.Errorf("obj width = %d bits, want 32", slots[0].Bits)
	}
	if slots[1].BitOffset != 64 {
		t.Errorf("n offset = %d, want 64 (aligned past the pointer)", slots[1].BitOffset)
	}
	bits, err := e.ObjectBits(f.holder)
	if err != nil {
		t.Fatalf("ObjectBits failed: %v", err)
	}
	if bits != 128 {
		t.Errorf("ObjectBits = %d, want 128", bits)
	}
}

func TestLayoutErrors(t *testing.T) {
	f := buildFixture(t)
	e := f.engine(target.Default())

	tests := []struct {
		name    string
		query   func() error
		wantSub string
	}{
		{
			name: "unknown class",
			query: func() error {
				_, err := e.Layout(types.ClassID(99))
				return err
			},
			wantSub: "unknown class",
		},
		{
			name: "field layout of array class",
			query: func() error {
				_, err := e.Layout(f.bytes)
				return err
			},
			wantSub: "is an array class",
		},
		{
			name: "element layout of plain class",
			query: func() error {
				_, err := e.ArrayInfo(f.point)
				return err
			},
			wantSub: "is not an array class",
		},
		{
			name: "void field",
			query: func() error {
				_, err := e.Layout(f.broken)
				return err
			},
			wantSub: "no scalar representation",
		},
		{
			name: "unknown field",
			query: func() error {
				_, err := e.FieldIndex(f.point, "z")
				return err
			},
			wantSub: `no field "z"`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.query()
			if err == nil {
				t.Fatal("expected error, got nil")
			}
			if !strings.Contains(err.Error(), tt.wantSub) {
				t.Errorf("error %q does not contain %q", err.Error(), tt.wantSub)
			}
		})
	}
}

func TestArrayInfo(t *testing.T) {
	f := buildFixture(t)
	e := f.engine(target.X86_64LinuxGNU())

	t.Run("single element", func(t *testing.T) {
		info, err := e.ArrayInfo(f.bytes)
		if err != nil {
			t.Fatalf("ArrayInfo failed: %v", err)
		}
		if info.ElemBits != 8 || info.ElemBytes() != 1 {
			t.Errorf("ElemBits = %d, want 8", info.ElemBits)
		}
		if len(info.Offsets) != 1 || info.Offsets[0] != 0 {
			t.Errorf("Offsets = %v, want [0]", info.Offsets)
		}
	})

	t.Run("tuple element with padding", func(t *testing.T) {
		info, err := e.ArrayInfo(f.pairs)
		if err != nil {
			t.Fatalf("ArrayInfo failed: %v", err)
		}
		if info.ElemBits != 128 || info.ElemBytes() != 16 {
			t.Errorf("ElemBits = %d, want 128", info.ElemBits)
		}
		want := []int64{0, 64}
		if len(info.Offsets) != len(want) {
			t.Fatalf("got %d offsets, want %d", len(info.Offsets), len(want))
		}
		for i := range want {
			if info.Offsets[i] != want[i] {
				t.Errorf("Offsets[%d] = %d, want %d", i, info.Offsets[i], want[i])
			}
		}
	})
}

func TestFieldSlot(t *testing.T) {
	f := buildFixture(t)
	e := f.engine(target.X86_64LinuxGNU())

	idx, err := e.FieldIndex(f.player, "hp")
	if err != nil {
		t.Fatalf("FieldIndex failed: %v", err)
	}
	if idx != 1 {
		t.Errorf("FieldIndex(hp) = %d, want 1", idx)
	}
	slot, err := e.FieldSlot(f.player, "mana")
	if err != nil {
		t.Fatalf("FieldSlot failed: %v", err)
	}
	if slot.ByteOffset() != 16 || slot.Bytes() != 4 {
		t.Errorf("mana slot = %d bytes at offset %d, want 4 at 16", slot.Bytes(), slot.ByteOffset())
	}
}

func TestLayoutCached(t *testing.T) {
	f := buildFixture(t)
	e := f.engine(target.X86_64LinuxGNU())

	first, err := e.Layout(f.player)
	if err != nil {
		t.Fatalf("Layout failed: %v", err)
	}
	second, err := e.Layout(f.player)
	if err != nil {
		t.Fatalf("Layout failed: %v", err)
	}
	if &first[0] != &second[0] {
		t.Error("second query did not return the cached slot list")
	}
}
