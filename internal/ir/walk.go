package ir

// WalkOperands visits a pointer to every value operand of ins, including
// block-argument lists on successor edges. Terminator successor blocks are
// not operands; use WalkSuccs for those.
func WalkOperands(ins *Instr, visit func(*ValueID)) {
	if ins == nil {
		return
	}
	each := func(ids []ValueID) {
		for i := range ids {
			visit(&ids[i])
		}
	}
	switch ins.Kind {
	case InstrConst, InstrUndef, InstrParam, InstrNop, InstrUnreachable:
	case InstrBin:
		visit(&ins.Bin.LHS)
		visit(&ins.Bin.RHS)
	case InstrCast:
		visit(&ins.Cast.Value)
	case InstrCall:
		each(ins.Call.Args)
	case InstrCallVirtual:
		visit(&ins.CallVirtual.Recv)
		each(ins.CallVirtual.Args)
	case InstrCallIndirect:
		visit(&ins.CallIndirect.Callee)
		each(ins.CallIndirect.Args)
	case InstrNewObject:
		each(ins.NewObject.Args)
	case InstrArrayNew:
		if ins.ArrayNew.Count.IsValid() {
			visit(&ins.ArrayNew.Count)
		}
		each(ins.ArrayNew.Elems)
	case InstrArrayClone:
		visit(&ins.ArrayClone.Array)
	case InstrArrayLen:
		visit(&ins.ArrayLen.Array)
	case InstrArrayHash:
		visit(&ins.ArrayHash.Array)
	case InstrWith:
		visit(&ins.With.Object)
		for i := range ins.With.Fields {
			visit(&ins.With.Fields[i].Value)
		}
	case InstrGetField:
		visit(&ins.GetField.Object)
	case InstrSetField:
		visit(&ins.SetField.Object)
		visit(&ins.SetField.Value)
	case InstrExtract:
		visit(&ins.Extract.Agg)
	case InstrFreeze:
		visit(&ins.Freeze.Value)
	case InstrAlloc:
		visit(&ins.Alloc.Size)
	case InstrPtrOffset:
		visit(&ins.PtrOffset.Base)
	case InstrLoad:
		visit(&ins.Load.Addr)
	case InstrLoadSlot:
		visit(&ins.LoadSlot.VTable)
	case InstrStore:
		visit(&ins.Store.Addr)
		visit(&ins.Store.Value)
	case InstrMemCopy:
		visit(&ins.MemCopy.Dst)
		visit(&ins.MemCopy.Src)
		visit(&ins.MemCopy.Len)
	case InstrTrap:
		if ins.Trap.Value.IsValid() {
			visit(&ins.Trap.Value)
		}
	case InstrJump:
		each(ins.Jump.To.Args)
	case InstrBranch:
		visit(&ins.Branch.Cond)
		each(ins.Branch.Then.Args)
		each(ins.Branch.Else.Args)
	case InstrSwitch:
		visit(&ins.Switch.Value)
		for i := range ins.Switch.Cases {
			each(ins.Switch.Cases[i].To.Args)
		}
		each(ins.Switch.Default.Args)
	case InstrTypeSwitch:
		visit(&ins.TypeSwitch.Value)
		for i := range ins.TypeSwitch.Cases {
			each(ins.TypeSwitch.Cases[i].To.Args)
		}
	case InstrIndirectJump:
		visit(&ins.IndirectJump.Target)
	case InstrInvokeVirtual:
		visit(&ins.InvokeVirtual.Recv)
		each(ins.InvokeVirtual.Args)
		each(ins.InvokeVirtual.Normal.Args)
		each(ins.InvokeVirtual.Unwind.Args)
	case InstrInvokeIndirect:
		visit(&ins.InvokeIndirect.Callee)
		each(ins.InvokeIndirect.Args)
		each(ins.InvokeIndirect.Normal.Args)
		each(ins.InvokeIndirect.Unwind.Args)
	case InstrReturn:
		if ins.Return.Value.IsValid() {
			visit(&ins.Return.Value)
		}
	}
}

// WalkSuccs visits a pointer to every successor edge of a terminator.
// Non-terminators have none. IndirectJump destinations carry no edge
// arguments and are exposed via its Dests field instead.
func WalkSuccs(ins *Instr, visit func(*Succ)) {
	if ins == nil {
		return
	}
	switch ins.Kind {
	case InstrJump:
		visit(&ins.Jump.To)
	case InstrBranch:
		visit(&ins.Branch.Then)
		visit(&ins.Branch.Else)
	case InstrSwitch:
		for i := range ins.Switch.Cases {
			visit(&ins.Switch.Cases[i].To)
		}
		visit(&ins.Switch.Default)
	case InstrTypeSwitch:
		for i := range ins.TypeSwitch.Cases {
			visit(&ins.TypeSwitch.Cases[i].To)
		}
	case InstrInvokeVirtual:
		visit(&ins.InvokeVirtual.Normal)
		visit(&ins.InvokeVirtual.Unwind)
	case InstrInvokeIndirect:
		visit(&ins.InvokeIndirect.Normal)
		visit(&ins.InvokeIndirect.Unwind)
	default:
	}
}

// RemapOperands rewrites every operand reference in f according to alias.
// Used after a lowering turned an instruction into a pure alias of its
// operand (freeze of a deeply immutable value), so consumers of the old id
// read the operand instead.
func RemapOperands(f *Func, alias map[ValueID]ValueID) {
	if f == nil || len(alias) == 0 {
		return
	}
	resolve := func(id ValueID) ValueID {
		for {
			next, ok := alias[id]
			if !ok {
				return id
			}
			id = next
		}
	}
	for i := range f.Arena {
		WalkOperands(&f.Arena[i], func(op *ValueID) {
			*op = resolve(*op)
		})
	}
}
