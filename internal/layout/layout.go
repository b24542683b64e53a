package layout

import (
	"opal/internal/target"
	"opal/internal/types"
)

// Slot is one field cell inside an object body. Offsets and widths are in
// bits, relative to the visible object pointer; the vtable header lives at a
// negative offset and is never part of the slot list.
type Slot struct {
	Field     string
	BitOffset int64
	Bits      int64
	Type      types.TypeID
}

// End is the first bit past the slot.
func (s Slot) End() int64 { return s.BitOffset + s.Bits }

// ByteOffset is the slot offset in bytes. Slots are byte-aligned, so the
// division is exact.
func (s Slot) ByteOffset() int64 { return s.BitOffset / 8 }

// Bytes is the slot width in bytes.
func (s Slot) Bytes() int64 { return s.Bits / 8 }

// ArrayInfo describes the element layout of an array class. An element is a
// tuple of one or more values stored at fixed offsets within the stride.
type ArrayInfo struct {
	ElemBits int64
	Offsets  []int64
	Types    []types.TypeID
}

// ElemBytes is the element stride in bytes.
func (i ArrayInfo) ElemBytes() int64 { return i.ElemBits / 8 }

// Engine answers object and array layout queries for one target. Queries are
// cached per class and safe for concurrent use.
type Engine struct {
	Types   *types.Interner
	Classes *types.Classes
	Target  target.Target

	cache *cache
}

// New creates a layout engine for the given target and class table.
func New(tgt target.Target, typesIn *types.Interner, classes *types.Classes) *Engine {
	return &Engine{
		Types:   typesIn,
		Classes: classes,
		Target:  tgt,
		cache:   newCache(),
	}
}

// Layout returns the ordered slot list of a non-array class: base-chain
// fields first, then own fields, each at its naturally aligned offset.
func (e *Engine) Layout(id types.ClassID) ([]Slot, error) {
	entry := e.classEntry(id)
	if entry.err != nil {
		return nil, entry.err
	}
	return entry.slots, nil
}

// ObjectBits is the object body size in bits, rounded up to a 64-bit
// boundary so every instance covers whole words.
func (e *Engine) ObjectBits(id types.ClassID) (int64, error) {
	entry := e.classEntry(id)
	if entry.err != nil {
		return 0, entry.err
	}
	return entry.bits, nil
}

// ObjectBytes is the object body size in bytes.
func (e *Engine) ObjectBytes(id types.ClassID) (int64, error) {
	bits, err := e.ObjectBits(id)
	if err != nil {
		return 0, err
	}
	return bits / 8, nil
}

// ArrayInfo returns the element layout of an array class.
func (e *Engine) ArrayInfo(id types.ClassID) (ArrayInfo, error) {
	entry := e.arrayEntry(id)
	if entry.err != nil {
		return ArrayInfo{}, entry.err
	}
	return entry.info, nil
}

// FieldIndex resolves a field name to its index in the flattened slot list.
func (e *Engine) FieldIndex(id types.ClassID, name string) (int, error) {
	entry := e.classEntry(id)
	if entry.err != nil {
		return 0, entry.err
	}
	for i := range entry.slots {
		if entry.slots[i].Field == name {
			return i, nil
		}
	}
	return 0, &Error{Kind: ErrUnknownField, Class: id, Field: name}
}

// FieldSlot resolves a field name to its slot.
func (e *Engine) FieldSlot(id types.ClassID, name string) (Slot, error) {
	idx, err := e.FieldIndex(id, name)
	if err != nil {
		return Slot{}, err
	}
	entry := e.classEntry(id)
	return entry.slots[idx], nil
}

func (e *Engine) classEntry(id types.ClassID) *classEntry {
	if cached, ok := e.cache.class(id); ok {
		return cached
	}
	slots, bits, err := e.computeSlots(id)
	entry := &classEntry{slots: slots, bits: bits, err: err}
	e.cache.putClass(id, entry)
	return entry
}

func (e *Engine) arrayEntry(id types.ClassID) *arrayEntry {
	if cached, ok := e.cache.array(id); ok {
		return cached
	}
	info, err := e.computeArray(id)
	entry := &arrayEntry{info: info, err: err}
	e.cache.putArray(id, entry)
	return entry
}
