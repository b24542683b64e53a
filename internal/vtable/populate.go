package vtable

import (
	"sort"

	"opal/internal/diag"
	"opal/internal/ir"
	"opal/internal/source"
	"opal/internal/types"
)

// Table holds the populated vtables: one slot array per class plus the byte
// offset assigned to every request. Slots a class was never asked about hold
// integer zero, which materializes as a zero word.
type Table struct {
	ptrSize int64
	offsets []int64
	slots   map[types.ClassID][]ir.ConstValue
}

// Populate runs once after all functions have submitted their requests. It
// packs slots first-fit: requests in canonical-key order each take the
// lowest PtrSize-multiple offset that is free in every member class. Every
// class marked via NeedClass gets a table, possibly empty.
func Populate(reg *Registry, ptrSize int64) (*Table, error) {
	if reg == nil {
		return nil, diag.ICEf(source.Span{}, "vtable population without a registry")
	}
	if ptrSize != 4 && ptrSize != 8 {
		return nil, diag.ICEf(source.Span{}, "vtable population with pointer size %d", ptrSize)
	}

	recs, order := reg.snapshot()
	t := &Table{
		ptrSize: ptrSize,
		offsets: make([]int64, len(recs)),
		slots:   make(map[types.ClassID][]ir.ConstValue, 16),
	}

	used := make(map[types.ClassID]map[int64]struct{}, 16)
	for _, id := range order {
		req := recs[id].req
		off := int64(0)
		for taken(used, req.Entries, off) {
			off += ptrSize
		}
		t.offsets[id] = off
		slot := off / ptrSize
		for _, e := range req.Entries {
			m := used[e.Class]
			if m == nil {
				m = make(map[int64]struct{}, 8)
				used[e.Class] = m
			}
			m[off] = struct{}{}
			t.setSlot(e.Class, slot, e.Value)
		}
	}

	for _, c := range reg.Classes() {
		if _, ok := t.slots[c]; !ok {
			t.slots[c] = nil
		}
	}
	return t, nil
}

func taken(used map[types.ClassID]map[int64]struct{}, entries []Entry, off int64) bool {
	for _, e := range entries {
		if _, ok := used[e.Class][off]; ok {
			return true
		}
	}
	return false
}

func (t *Table) setSlot(c types.ClassID, slot int64, v ir.ConstValue) {
	s := t.slots[c]
	for int64(len(s)) <= slot {
		s = append(s, ir.ConstValue{})
	}
	s[slot] = v
	t.slots[c] = s
}

// Rebuild reassembles a Table from serialized parts. Lowered artifacts carry
// the populated tables; loading one must yield the exact table Populate
// produced, offsets included.
func Rebuild(ptrSize int64, offsets []int64, slots map[types.ClassID][]ir.ConstValue) (*Table, error) {
	if ptrSize != 4 && ptrSize != 8 {
		return nil, diag.ICEf(source.Span{}, "vtable rebuild with pointer size %d", ptrSize)
	}
	t := &Table{
		ptrSize: ptrSize,
		offsets: append([]int64(nil), offsets...),
		slots:   make(map[types.ClassID][]ir.ConstValue, len(slots)),
	}
	for c, s := range slots {
		t.slots[c] = append([]ir.ConstValue(nil), s...)
	}
	return t, nil
}

// OffsetOf returns the byte offset assigned to a request, or -1 for an
// unknown id.
func (t *Table) OffsetOf(id RequestID) int64 {
	if t == nil || !id.IsValid() || int(id) >= len(t.offsets) {
		return -1
	}
	return t.offsets[id]
}

// Offsets returns the byte offset of every request, indexed by RequestID.
func (t *Table) Offsets() []int64 {
	if t == nil {
		return nil
	}
	return append([]int64(nil), t.offsets...)
}

// ClassSlots returns the dense slot values of a class vtable.
func (t *Table) ClassSlots(c types.ClassID) []ir.ConstValue {
	if t == nil {
		return nil
	}
	return t.slots[c]
}

// Size is the byte size of a class vtable.
func (t *Table) Size(c types.ClassID) int64 {
	if t == nil {
		return 0
	}
	return int64(len(t.slots[c])) * t.ptrSize
}

// Classes returns every class with a table, sorted by id.
func (t *Table) Classes() []types.ClassID {
	if t == nil {
		return nil
	}
	out := make([]types.ClassID, 0, len(t.slots))
	for c := range t.slots {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// PtrSize is the slot width the table was packed for.
func (t *Table) PtrSize() int64 {
	if t == nil {
		return 0
	}
	return t.ptrSize
}
