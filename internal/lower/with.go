package lower

import (
	"opal/internal/diag"
	"opal/internal/ir"
)

// lowerWith expands a functional update into a byte clone plus stores for
// the overridden fields. The copy spans the header too, so the clone starts
// with the source's vtable word and only then diverges field by field.
func (l *funcLowerer) lowerWith(id ir.ValueID) error {
	ins := *l.fn.Instr(id)
	span := ins.Span
	w := ins.With

	cls, err := l.refClass(span, w.Class, "functional update")
	if err != nil {
		return err
	}
	if cls.IsArray() {
		return diag.ICEf(span, "functional update of array class %s", cls.Name)
	}
	slots, err := l.ctx.Layout.Layout(w.Class)
	if err != nil {
		return diag.ICEf(span, "no layout for class %s: %v", cls.Name, err)
	}
	body, err := l.ctx.Layout.ObjectBytes(w.Class)
	if err != nil {
		return diag.ICEf(span, "no layout for class %s: %v", cls.Name, err)
	}
	l.ctx.Reg.NeedClass(w.Class)

	b := l.ctx.Types.Builtins()
	ptrSize := int64(l.ctx.Target.PtrSize)
	size := l.constInt(span, l.ptrUint(), body+ptrSize)
	alloc := l.emit(ir.Instr{
		Kind:  ir.InstrAlloc,
		Type:  b.Ptr,
		Span:  span,
		Alloc: ir.AllocInstr{Size: size, ZeroFill: false},
	})
	base := l.emit(ir.Instr{
		Kind:      ir.InstrPtrOffset,
		Type:      b.Ptr,
		Span:      span,
		PtrOffset: ir.PtrOffsetInstr{Base: w.Object, Offset: -ptrSize},
	})
	l.emit(ir.Instr{
		Kind:    ir.InstrMemCopy,
		Type:    b.Void,
		Span:    span,
		MemCopy: ir.MemCopyInstr{Dst: alloc, Src: base, Len: size},
	})
	l.redefine(id, ir.Instr{
		Kind:      ir.InstrPtrOffset,
		Type:      ins.Type,
		Span:      span,
		PtrOffset: ir.PtrOffsetInstr{Base: alloc, Offset: ptrSize},
	})

	for _, f := range w.Fields {
		if f.Field < 0 || int(f.Field) >= len(slots) {
			return diag.ICEf(span, "functional update of class %s field %d out of range",
				cls.Name, f.Field)
		}
		l.emit(ir.Instr{
			Kind:  ir.InstrStore,
			Type:  b.Void,
			Span:  span,
			Store: ir.StoreInstr{Addr: id, Offset: slots[int(f.Field)].ByteOffset(), Value: f.Value},
		})
	}
	return nil
}
