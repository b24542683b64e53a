package layout

import (
	"testing"

	"opal/internal/target"
	"opal/internal/types"
)

func TestNextGap(t *testing.T) {
	packed := []Slot{
		{BitOffset: 0, Bits: 32},
		{BitOffset: 32, Bits: 32},
	}
	holey := []Slot{
		{BitOffset: 0, Bits: 8},
		{BitOffset: 64, Bits: 64},
	}

	tests := []struct {
		name  string
		slots []Slot
		from  int64
		want  int64
	}{
		{name: "no slots", slots: nil, from: 0, want: 0},
		{name: "packed pair skips both", slots: packed, from: 0, want: 64},
		{name: "packed pair mid slot", slots: packed, from: 40, want: 64},
		{name: "past the last slot", slots: packed, from: 100, want: 100},
		{name: "padding after narrow field", slots: holey, from: 0, want: 8},
		{name: "start inside the hole", slots: holey, from: 16, want: 16},
		{name: "start inside covering slot", slots: holey, from: 70, want: 128},
		{name: "negative start clamps to zero", slots: holey, from: -5, want: 8},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := NextGap(tt.slots, tt.from); got != tt.want {
				t.Errorf("NextGap(%d) = %d, want %d", tt.from, got, tt.want)
			}
		})
	}
}

func TestWordHasGap(t *testing.T) {
	holey := []Slot{
		{BitOffset: 0, Bits: 8},
		{BitOffset: 64, Bits: 64},
	}
	packed := []Slot{
		{BitOffset: 0, Bits: 64},
	}
	tail := []Slot{
		{BitOffset: 0, Bits: 32},
	}

	tests := []struct {
		name  string
		slots []Slot
		word  int64
		want  bool
	}{
		{name: "padding hole", slots: holey, word: 0, want: true},
		{name: "fully covered word", slots: holey, word: 1, want: false},
		{name: "packed word", slots: packed, word: 0, want: false},
		{name: "rounding tail", slots: tail, word: 0, want: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := WordHasGap(tt.slots, tt.word); got != tt.want {
				t.Errorf("WordHasGap(word %d) = %v, want %v", tt.word, got, tt.want)
			}
		})
	}
}

func TestWordHasGapFromEngine(t *testing.T) {
	in := types.NewInterner()
	cs := types.NewClasses()
	b := in.Builtins()
	id, err := cs.Add(types.Class{
		Name: "Mixed",
		Fields: []types.Field{
			{Name: "flag", Type: b.I8},
			{Name: "count", Type: b.I64},
			{Name: "small", Type: b.I16},
		},
	})
	if err != nil {
		t.Fatalf("Add failed: %v", err)
	}

	e := New(target.X86_64LinuxGNU(), in, cs)
	slots, err := e.Layout(id)
	if err != nil {
		t.Fatalf("Layout failed: %v", err)
	}
	bits, err := e.ObjectBits(id)
	if err != nil {
		t.Fatalf("ObjectBits failed: %v", err)
	}
	if bits != 192 {
		t.Fatalf("ObjectBits = %d, want 192", bits)
	}

	want := map[int64]bool{0: true, 1: false, 2: true}
	for word := int64(0); word < bits/64; word++ {
		if got := WordHasGap(slots, word); got != want[word] {
			t.Errorf("WordHasGap(word %d) = %v, want %v", word, got, want[word])
		}
	}
}
