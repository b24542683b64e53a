package layout

import (
	"opal/internal/types"
)

func (e *Engine) computeSlots(id types.ClassID) ([]Slot, int64, *Error) {
	if e == nil || e.Types == nil || e.Classes == nil {
		return nil, 0, &Error{Kind: ErrUnknownClass, Class: id}
	}
	c, ok := e.Classes.Get(id)
	if !ok {
		return nil, 0, &Error{Kind: ErrUnknownClass, Class: id}
	}
	if c.IsArray() {
		return nil, 0, &Error{Kind: ErrArrayClass, Class: id}
	}

	ptrBits := e.Target.PtrBits()
	fields := e.Classes.AllFields(id)
	slots := make([]Slot, 0, len(fields))
	bits := int64(0)
	for _, f := range fields {
		w, ok := e.Types.BitWidth(f.Type, ptrBits)
		if !ok {
			return nil, 0, &Error{Kind: ErrUnsizedField, Class: id, Field: f.Name, Type: f.Type}
		}
		bits = roundUpBits(bits, w)
		slots = append(slots, Slot{Field: f.Name, BitOffset: bits, Bits: w, Type: f.Type})
		bits += w
	}
	return slots, roundUpBits(bits, 64), nil
}

func (e *Engine) computeArray(id types.ClassID) (ArrayInfo, *Error) {
	if e == nil || e.Types == nil || e.Classes == nil {
		return ArrayInfo{}, &Error{Kind: ErrUnknownClass, Class: id}
	}
	c, ok := e.Classes.Get(id)
	if !ok {
		return ArrayInfo{}, &Error{Kind: ErrUnknownClass, Class: id}
	}
	if !c.IsArray() {
		return ArrayInfo{}, &Error{Kind: ErrNotArray, Class: id}
	}

	ptrBits := e.Target.PtrBits()
	info := ArrayInfo{
		Offsets: make([]int64, 0, len(c.ArrayElem)),
		Types:   append([]types.TypeID(nil), c.ArrayElem...),
	}
	bits := int64(0)
	maxAlign := int64(8)
	for i, t := range c.ArrayElem {
		w, ok := e.Types.BitWidth(t, ptrBits)
		if !ok {
			return ArrayInfo{}, &Error{Kind: ErrUnsizedElem, Class: id, Elem: i, Type: t}
		}
		bits = roundUpBits(bits, w)
		info.Offsets = append(info.Offsets, bits)
		bits += w
		if w > maxAlign {
			maxAlign = w
		}
	}
	info.ElemBits = roundUpBits(bits, maxAlign)
	return info, nil
}

// roundUpBits rounds n up to the next multiple of align. Widths are powers
// of two, so alignment never exceeds 64.
func roundUpBits(n, align int64) int64 {
	if align <= 1 {
		return n
	}
	r := n % align
	if r == 0 {
		return n
	}
	return n + (align - r)
}
