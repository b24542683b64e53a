package lower

import (
	"opal/internal/ir"
	"opal/internal/types"
)

// lowerFreeze expands a deep-freeze. The frozen flag lives in bit 0 of the
// vtable word. Deeply immutable classes need nothing at all. Classes whose
// instances may already sit frozen in write-protected memory get a guard
// that skips the store, splicing a diamond into the current block. Everyone
// else sets the bit unconditionally. The freeze result is always the operand
// itself, so the instruction is dropped and its id aliased away.
func (l *funcLowerer) lowerFreeze(id ir.ValueID) error {
	ins := *l.fn.Instr(id)
	span := ins.Span
	v := ins.Freeze.Value

	class, err := l.objectClass(span, v)
	if err != nil {
		return err
	}
	cls, err := l.refClass(span, class, "freeze")
	if err != nil {
		return err
	}
	l.alias[id] = l.resolve(v)
	if cls.DeeplyImmutable {
		return nil
	}

	b := l.ctx.Types.Builtins()
	off := l.ctx.Target.VTableOffset()
	vt := l.emit(ir.Instr{
		Kind: ir.InstrLoad,
		Type: b.Ptr,
		Span: span,
		Load: ir.LoadInstr{Addr: v, Offset: off},
	})
	one := l.constInt(span, b.Ptr, 1)

	if !l.maybeFrozen(class) {
		or := l.emit(ir.Instr{
			Kind: ir.InstrBin,
			Type: b.Ptr,
			Span: span,
			Bin:  ir.BinInstr{Op: ir.BinOr, LHS: vt, RHS: one},
		})
		l.emit(ir.Instr{
			Kind:  ir.InstrStore,
			Type:  b.Void,
			Span:  span,
			Store: ir.StoreInstr{Addr: v, Offset: off, Value: or},
		})
		return nil
	}

	fl := l.emit(ir.Instr{
		Kind: ir.InstrBin,
		Type: b.Ptr,
		Span: span,
		Bin:  ir.BinInstr{Op: ir.BinAnd, LHS: vt, RHS: one},
	})
	zero := l.constInt(span, b.Ptr, 0)
	cond := l.emit(ir.Instr{
		Kind: ir.InstrBin,
		Type: b.Bool,
		Span: span,
		Bin:  ir.BinInstr{Op: ir.BinNe, LHS: fl, RHS: zero},
	})
	cont := l.fn.NewBlock()
	mut := l.fn.NewBlock()
	l.emit(ir.Instr{
		Kind:   ir.InstrBranch,
		Type:   b.Void,
		Span:   span,
		Branch: ir.BranchInstr{Cond: cond, Then: ir.Succ{Block: cont}, Else: ir.Succ{Block: mut}},
	})
	l.flush()

	l.startBlock(mut)
	or := l.emit(ir.Instr{
		Kind: ir.InstrBin,
		Type: b.Ptr,
		Span: span,
		Bin:  ir.BinInstr{Op: ir.BinOr, LHS: vt, RHS: one},
	})
	l.emit(ir.Instr{
		Kind:  ir.InstrStore,
		Type:  b.Void,
		Span:  span,
		Store: ir.StoreInstr{Addr: v, Offset: off, Value: or},
	})
	l.emit(ir.Instr{
		Kind: ir.InstrJump,
		Type: b.Void,
		Span: span,
		Jump: ir.JumpInstr{To: ir.Succ{Block: cont}},
	})
	l.flush()

	// The rest of the original block, terminator included, lowers into cont.
	l.startBlock(cont)
	return nil
}

// maybeFrozen reports whether an instance statically typed as class could
// already carry the frozen bit when the freeze executes.
func (l *funcLowerer) maybeFrozen(class types.ClassID) bool {
	if cls, ok := l.ctx.Classes.Get(class); ok && cls.MaybeReadOnly {
		return true
	}
	for _, c := range l.ctx.Classes.ConcreteSubclasses(class) {
		if l.ctx.Classes.MustGet(c).MaybeReadOnly {
			return true
		}
	}
	return false
}
