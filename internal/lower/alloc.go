package lower

import (
	"opal/internal/diag"
	"opal/internal/ir"
	"opal/internal/layout"
	"opal/internal/source"
)

// lowerNewObject expands object construction into an allocation, the vtable
// header store, zero stores for every word with uncovered bits, and one
// store per field. The original id lands on the visible-pointer offset so
// every use keeps working.
func (l *funcLowerer) lowerNewObject(id ir.ValueID) error {
	ins := *l.fn.Instr(id)
	span := ins.Span
	no := ins.NewObject
	b := l.ctx.Types.Builtins()

	cls, err := l.refClass(span, no.Class, "object construction")
	if err != nil {
		return err
	}
	if cls.IsArray() {
		return diag.ICEf(span, "object construction of array class %s", cls.Name)
	}
	slots, err := l.ctx.Layout.Layout(no.Class)
	if err != nil {
		return diag.ICEf(span, "no layout for class %s: %v", cls.Name, err)
	}
	if len(no.Args) != len(slots) {
		return diag.ICEf(span, "class %s has %d fields, construction passes %d",
			cls.Name, len(slots), len(no.Args))
	}
	bits, err := l.ctx.Layout.ObjectBits(no.Class)
	if err != nil {
		return diag.ICEf(span, "no size for class %s: %v", cls.Name, err)
	}
	l.ctx.Reg.NeedClass(no.Class)

	ptrSize := int64(l.ctx.Target.PtrSize)
	size := l.constInt(span, l.ptrUint(), bits/8+ptrSize)
	alloc := l.emit(ir.Instr{
		Kind:  ir.InstrAlloc,
		Type:  b.Ptr,
		Span:  span,
		Alloc: ir.AllocInstr{Size: size, ZeroFill: false},
	})

	vt := l.emit(ir.Instr{
		Kind:  ir.InstrConst,
		Type:  b.Ptr,
		Span:  span,
		Const: ir.ConstInstr{Value: ir.VTableConst(no.Class)},
	})
	l.emit(ir.Instr{
		Kind:  ir.InstrStore,
		Type:  b.Void,
		Span:  span,
		Store: ir.StoreInstr{Addr: alloc, Offset: 0, Value: vt},
	})

	l.redefine(id, ir.Instr{
		Kind:      ir.InstrPtrOffset,
		Type:      ins.Type,
		Span:      span,
		PtrOffset: ir.PtrOffsetInstr{Base: alloc, Offset: ptrSize},
	})

	// Zero pass before any field store: words with bits no slot covers must
	// read as zero for structural interning, and a later field store into a
	// partially covered word must not be clobbered.
	l.emitGapZeroes(span, id, slots, bits)

	for i, slot := range slots {
		l.emit(ir.Instr{
			Kind:  ir.InstrStore,
			Type:  b.Void,
			Span:  span,
			Store: ir.StoreInstr{Addr: id, Offset: slot.ByteOffset(), Value: no.Args[i]},
		})
	}
	return nil
}

// emitGapZeroes stores a zero word over every 64-bit word of the field
// region that has at least one uncovered bit.
func (l *funcLowerer) emitGapZeroes(span source.Span, visible ir.ValueID, slots []layout.Slot, bits int64) {
	b := l.ctx.Types.Builtins()
	zero := ir.NoValueID
	for word := int64(0); word < bits/64; word++ {
		if !layout.WordHasGap(slots, word) {
			continue
		}
		if !zero.IsValid() {
			zero = l.constInt(span, b.U64, 0)
		}
		l.emit(ir.Instr{
			Kind:  ir.InstrStore,
			Type:  b.Void,
			Span:  span,
			Store: ir.StoreInstr{Addr: visible, Offset: word * 8, Value: zero},
		})
	}
}
