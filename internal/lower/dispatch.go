package lower

import (
	"fmt"

	"opal/internal/ir"
	"opal/internal/source"
	"opal/internal/vtable"
)

// lowerCallVirtual rewrites an abstract virtual call. One reachable
// implementation devirtualizes to a direct call, several dispatch through a
// vtable slot, and none means the site cannot execute and degrades to a
// trap.
func (l *funcLowerer) lowerCallVirtual(id ir.ValueID) error {
	ins := *l.fn.Instr(id)
	cv := ins.CallVirtual
	span := ins.Span

	impls, err := l.implementations(span, cv.Recv, cv.Method)
	if err != nil {
		return err
	}
	switch len(impls) {
	case 0:
		return l.lowerDeadCall(id, ins, cv.Recv,
			fmt.Sprintf("virtual call %s: no concrete implementation", cv.Method))
	case 1:
		l.redefine(id, ir.Instr{
			Kind: ir.InstrCall,
			Type: ins.Type,
			Span: span,
			Call: ir.CallInstr{Func: impls[0].Entry, Args: prepend(cv.Recv, cv.Args)},
		})
		return nil
	}
	fp, err := l.emitSlotLoad(span, id, cv.Recv, cv.Method, impls)
	if err != nil {
		return err
	}
	l.redefine(id, ir.Instr{
		Kind:         ir.InstrCallIndirect,
		Type:         ins.Type,
		Span:         span,
		CallIndirect: ir.CallIndirectInstr{Callee: fp, Args: prepend(cv.Recv, cv.Args)},
	})
	return nil
}

// lowerInvokeVirtual mirrors lowerCallVirtual for the edge-carrying form.
// There is no direct invoke kind, so the devirtualized case goes through a
// constant function pointer and InvokeIndirect.
func (l *funcLowerer) lowerInvokeVirtual(id ir.ValueID) error {
	ins := *l.fn.Instr(id)
	iv := ins.InvokeVirtual
	span := ins.Span

	impls, err := l.implementations(span, iv.Recv, iv.Method)
	if err != nil {
		return err
	}
	if len(impls) == 0 {
		return l.lowerDeadCall(id, ins, iv.Recv,
			fmt.Sprintf("virtual call %s: no concrete implementation", iv.Method))
	}
	var callee ir.ValueID
	if len(impls) == 1 {
		b := l.ctx.Types.Builtins()
		callee = l.emit(ir.Instr{
			Kind:  ir.InstrConst,
			Type:  b.Ptr,
			Span:  span,
			Const: ir.ConstInstr{Value: ir.FuncConst(impls[0].Entry)},
		})
	} else {
		callee, err = l.emitSlotLoad(span, id, iv.Recv, iv.Method, impls)
		if err != nil {
			return err
		}
	}
	l.redefine(id, ir.Instr{
		Kind: ir.InstrInvokeIndirect,
		Type: ins.Type,
		Span: span,
		InvokeIndirect: ir.InvokeIndirectInstr{
			Callee: callee,
			Args:   prepend(iv.Recv, iv.Args),
			Normal: iv.Normal,
			Unwind: iv.Unwind,
		},
	})
	return nil
}

// implementations enumerates the concrete targets reachable through the
// receiver's static class.
func (l *funcLowerer) implementations(span source.Span, recv ir.ValueID, method string) ([]Impl, error) {
	class, err := l.objectClass(span, recv)
	if err != nil {
		return nil, err
	}
	return l.ctx.Resolver.Implementations(class, method)
}

// emitSlotLoad submits a class-to-entry vtable request for the call site and
// loads the function pointer out of the receiver's masked vtable.
func (l *funcLowerer) emitSlotLoad(span source.Span, id, recv ir.ValueID, method string, impls []Impl) (ir.ValueID, error) {
	entries := make([]vtable.Entry, len(impls))
	for i, im := range impls {
		entries[i] = vtable.Entry{Class: im.Class, Value: ir.FuncConst(im.Entry)}
	}
	req, err := l.ctx.Reg.Submit(span, l.requestName("call:"+method, id), entries)
	if err != nil {
		return ir.NoValueID, err
	}
	vt := l.emitVTableLoad(span, recv)
	b := l.ctx.Types.Builtins()
	return l.emit(ir.Instr{
		Kind:     ir.InstrLoadSlot,
		Type:     b.Ptr,
		Span:     span,
		LoadSlot: ir.LoadSlotInstr{VTable: vt, Slot: ir.SlotID(req)},
	}), nil
}

// lowerDeadCall replaces a statically unreachable call with a trap. The
// result id keeps a typed stand-in so later uses stay well formed, and the
// rest of the block is dropped behind an unreachable marker.
func (l *funcLowerer) lowerDeadCall(id ir.ValueID, ins ir.Instr, recv ir.ValueID, msg string) error {
	b := l.ctx.Types.Builtins()
	l.emit(ir.Instr{
		Kind: ir.InstrTrap,
		Type: b.Void,
		Span: ins.Span,
		Trap: ir.TrapInstr{Message: msg, Value: recv},
	})
	if l.ctx.Types.HasScalarRepr(ins.Type) {
		tt := l.ctx.Types.MustLookup(ins.Type)
		l.redefine(id, ir.Instr{
			Kind:  ir.InstrConst,
			Type:  ins.Type,
			Span:  ins.Span,
			Const: ir.ConstInstr{Value: zeroValue(tt.Kind)},
		})
	} else {
		l.redefine(id, ir.Instr{
			Kind: ir.InstrUndef,
			Type: ins.Type,
			Span: ins.Span,
		})
	}
	l.emit(ir.Instr{
		Kind: ir.InstrUnreachable,
		Type: b.Void,
		Span: ins.Span,
	})
	l.unreachable[id] = struct{}{}
	l.truncated = true
	return nil
}

func prepend(v ir.ValueID, rest []ir.ValueID) []ir.ValueID {
	out := make([]ir.ValueID, 0, len(rest)+1)
	out = append(out, v)
	return append(out, rest...)
}
