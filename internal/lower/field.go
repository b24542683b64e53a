package lower

import (
	"opal/internal/diag"
	"opal/internal/ir"
	"opal/internal/layout"
	"opal/internal/source"
	"opal/internal/types"
)

// fieldSlot resolves a field index against the flattened slot list of class.
func (l *funcLowerer) fieldSlot(span source.Span, class types.ClassID, field int32, op string) (*types.Class, layout.Slot, error) {
	cls, err := l.refClass(span, class, op)
	if err != nil {
		return nil, layout.Slot{}, err
	}
	slots, err := l.ctx.Layout.Layout(class)
	if err != nil {
		return nil, layout.Slot{}, diag.ICEf(span, "no layout for class %s: %v", cls.Name, err)
	}
	if field < 0 || int(field) >= len(slots) {
		return nil, layout.Slot{}, diag.ICEf(span, "%s of class %s field %d out of range",
			op, cls.Name, field)
	}
	return cls, slots[int(field)], nil
}

// lowerGetField turns a field read into a plain load at the slot offset.
// Reads from deeply immutable classes are cacheable.
func (l *funcLowerer) lowerGetField(id ir.ValueID) error {
	ins := *l.fn.Instr(id)
	g := ins.GetField
	cls, slot, err := l.fieldSlot(ins.Span, g.Class, g.Field, "field read")
	if err != nil {
		return err
	}
	l.redefine(id, ir.Instr{
		Kind: ir.InstrLoad,
		Type: ins.Type,
		Span: ins.Span,
		Load: ir.LoadInstr{Addr: g.Object, Offset: slot.ByteOffset(), Cacheable: cls.DeeplyImmutable},
	})
	return nil
}

// lowerSetField turns a field write into a plain store at the slot offset.
func (l *funcLowerer) lowerSetField(id ir.ValueID) error {
	ins := *l.fn.Instr(id)
	s := ins.SetField
	_, slot, err := l.fieldSlot(ins.Span, s.Class, s.Field, "field write")
	if err != nil {
		return err
	}
	l.redefine(id, ir.Instr{
		Kind:  ir.InstrStore,
		Type:  ins.Type,
		Span:  ins.Span,
		Store: ir.StoreInstr{Addr: s.Object, Offset: slot.ByteOffset(), Value: s.Value},
	})
	return nil
}
