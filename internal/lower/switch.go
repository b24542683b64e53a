package lower

import (
	"fmt"

	"opal/internal/diag"
	"opal/internal/ir"
	"opal/internal/source"
	"opal/internal/types"
	"opal/internal/vtable"
)

// lowerTypeSwitch rewrites a runtime class dispatch. Every concrete subtype
// of the value's static class maps to the first case whose class is its
// ancestor; the strategies then trade on how many distinct successors the
// selected cases reach. One successor is a plain jump. All cases on one
// block with per-case constant arguments become a branch-free slot load.
// Two successors branch on a boolean slot. Anything wider dispatches through
// a label slot or a dense index switch, depending on the target.
func (l *funcLowerer) lowerTypeSwitch(id ir.ValueID) error {
	ins := *l.fn.Instr(id)
	ts := ins.TypeSwitch
	span := ins.Span
	b := l.ctx.Types.Builtins()

	static, err := l.objectClass(span, ts.Value)
	if err != nil {
		return err
	}
	for i := range ts.Cases {
		if _, err := l.refClass(span, ts.Cases[i].Class, "type switch case"); err != nil {
			return err
		}
	}
	concrete := l.ctx.Classes.ConcreteSubclasses(static)
	if len(concrete) == 0 {
		l.emit(ir.Instr{
			Kind: ir.InstrTrap,
			Type: b.Void,
			Span: span,
			Trap: ir.TrapInstr{
				Message: fmt.Sprintf("type switch on %s: no concrete subtype exists",
					l.ctx.Classes.Name(static)),
				Value: ts.Value,
			},
		})
		l.redefine(id, ir.Instr{Kind: ir.InstrUnreachable, Type: b.Void, Span: span})
		return nil
	}

	sel := make([]int, len(concrete))
	for k, c := range concrete {
		found := -1
		for i := range ts.Cases {
			if l.ctx.Classes.IsAncestor(ts.Cases[i].Class, c) {
				found = i
				break
			}
		}
		if found < 0 {
			return diag.ICEf(span, "type switch on %s does not cover class %s",
				l.ctx.Classes.Name(static), l.ctx.Classes.Name(c))
		}
		sel[k] = found
	}

	dist, caseSucc := distinctSuccs(ts.Cases, sel)
	if len(dist) == 1 {
		l.redefine(id, ir.Instr{
			Kind: ir.InstrJump,
			Type: b.Void,
			Span: span,
			Jump: ir.JumpInstr{To: dist[0]},
		})
		return nil
	}
	if done, err := l.emitLoadJump(span, id, ts, concrete, sel, dist); done || err != nil {
		return err
	}
	if len(dist) == 2 {
		return l.emitBoolBranch(span, id, ts.Value, concrete, sel, caseSucc, dist)
	}
	return l.emitIndirect(span, id, ts.Value, concrete, sel, caseSucc, dist)
}

// emitLoadJump attempts the branch-free strategy: every selected case
// targets the same block, and each argument position is either uniform
// across cases or a per-case constant servable from a vtable slot. Reports
// false without emitting anything when the shape does not hold.
func (l *funcLowerer) emitLoadJump(span source.Span, id ir.ValueID, ts ir.TypeSwitchInstr, concrete []types.ClassID, sel []int, dist []ir.Succ) (bool, error) {
	blk := dist[0].Block
	arity := len(dist[0].Args)
	for _, s := range dist[1:] {
		if s.Block != blk || len(s.Args) != arity {
			return false, nil
		}
	}
	varying := make([]bool, arity)
	for p := 0; p < arity; p++ {
		for _, s := range dist[1:] {
			if s.Args[p] != dist[0].Args[p] {
				varying[p] = true
				break
			}
		}
	}
	consts := make([][]vtable.Entry, arity)
	for p := 0; p < arity; p++ {
		if !varying[p] {
			continue
		}
		entries := make([]vtable.Entry, len(concrete))
		for k, c := range concrete {
			cv, ok := l.caseConst(ts.Cases[sel[k]].To.Args[p])
			if !ok {
				return false, nil
			}
			entries[k] = vtable.Entry{Class: c, Value: cv}
		}
		consts[p] = entries
	}

	b := l.ctx.Types.Builtins()
	vt := l.emitVTableLoad(span, ts.Value)
	args := make([]ir.ValueID, arity)
	for p := 0; p < arity; p++ {
		if !varying[p] {
			args[p] = dist[0].Args[p]
			continue
		}
		req, err := l.ctx.Reg.Submit(span, l.requestName(fmt.Sprintf("switch:arg%d", p), id), consts[p])
		if err != nil {
			return false, err
		}
		args[p] = l.emit(ir.Instr{
			Kind:     ir.InstrLoadSlot,
			Type:     l.fn.TypeOf(ts.Cases[sel[0]].To.Args[p]),
			Span:     span,
			LoadSlot: ir.LoadSlotInstr{VTable: vt, Slot: ir.SlotID(req)},
		})
	}
	l.redefine(id, ir.Instr{
		Kind: ir.InstrJump,
		Type: b.Void,
		Span: span,
		Jump: ir.JumpInstr{To: ir.Succ{Block: blk, Args: args}},
	})
	return true, nil
}

// emitBoolBranch handles exactly two distinct successors with one boolean
// slot: true selects the first.
func (l *funcLowerer) emitBoolBranch(span source.Span, id, value ir.ValueID, concrete []types.ClassID, sel, caseSucc []int, dist []ir.Succ) error {
	b := l.ctx.Types.Builtins()
	entries := make([]vtable.Entry, len(concrete))
	for k, c := range concrete {
		entries[k] = vtable.Entry{Class: c, Value: ir.BoolConst(caseSucc[sel[k]] == 0)}
	}
	req, err := l.ctx.Reg.Submit(span, l.requestName("switch:br", id), entries)
	if err != nil {
		return err
	}
	vt := l.emitVTableLoad(span, value)
	cond := l.emit(ir.Instr{
		Kind:     ir.InstrLoadSlot,
		Type:     b.Bool,
		Span:     span,
		LoadSlot: ir.LoadSlotInstr{VTable: vt, Slot: ir.SlotID(req)},
	})
	l.redefine(id, ir.Instr{
		Kind:   ir.InstrBranch,
		Type:   b.Void,
		Span:   span,
		Branch: ir.BranchInstr{Cond: cond, Then: dist[0], Else: dist[1]},
	})
	return nil
}

// emitIndirect handles three or more distinct successors. With computed goto
// the slot holds a code label per class and successors carrying block
// arguments get forwarding stubs, since labels address argument-free blocks.
// Without it the slot holds a dense index driving a switch whose default is
// unreachable: every concrete class has a table entry, so no other index can
// load.
func (l *funcLowerer) emitIndirect(span source.Span, id, value ir.ValueID, concrete []types.ClassID, sel, caseSucc []int, dist []ir.Succ) error {
	b := l.ctx.Types.Builtins()
	if l.ctx.Target.HasComputedGoto {
		dests := make([]ir.BlockID, len(dist))
		for j, s := range dist {
			if len(s.Args) == 0 {
				dests[j] = s.Block
				continue
			}
			stub := l.fn.NewBlock()
			jmp := l.fn.NewInstr(ir.Instr{
				Kind: ir.InstrJump,
				Type: b.Void,
				Span: span,
				Jump: ir.JumpInstr{To: s},
			})
			l.fn.Block(stub).Code = []ir.ValueID{jmp}
			dests[j] = stub
		}
		entries := make([]vtable.Entry, len(concrete))
		for k, c := range concrete {
			entries[k] = vtable.Entry{Class: c, Value: ir.LabelConst(l.fn.ID, dests[caseSucc[sel[k]]])}
		}
		req, err := l.ctx.Reg.Submit(span, l.requestName("switch:goto", id), entries)
		if err != nil {
			return err
		}
		vt := l.emitVTableLoad(span, value)
		lbl := l.emit(ir.Instr{
			Kind:     ir.InstrLoadSlot,
			Type:     b.Label,
			Span:     span,
			LoadSlot: ir.LoadSlotInstr{VTable: vt, Slot: ir.SlotID(req)},
		})
		l.redefine(id, ir.Instr{
			Kind:         ir.InstrIndirectJump,
			Type:         b.Void,
			Span:         span,
			IndirectJump: ir.IndirectJumpInstr{Target: lbl, Dests: dests},
		})
		return nil
	}

	idxType := b.U8
	switch {
	case len(dist) > 0xffff:
		idxType = b.U32
	case len(dist) > 0xff:
		idxType = b.U16
	}
	entries := make([]vtable.Entry, len(concrete))
	for k, c := range concrete {
		entries[k] = vtable.Entry{Class: c, Value: ir.IntConst(int64(caseSucc[sel[k]]))}
	}
	req, err := l.ctx.Reg.Submit(span, l.requestName("switch:idx", id), entries)
	if err != nil {
		return err
	}
	vt := l.emitVTableLoad(span, value)
	raw := l.emit(ir.Instr{
		Kind:     ir.InstrLoadSlot,
		Type:     idxType,
		Span:     span,
		LoadSlot: ir.LoadSlotInstr{VTable: vt, Slot: ir.SlotID(req)},
	})
	wide := l.castTo(span, raw, b.U64)
	dflt := l.fn.NewBlock()
	halt := l.fn.NewInstr(ir.Instr{Kind: ir.InstrUnreachable, Type: b.Void, Span: span})
	l.fn.Block(dflt).Code = []ir.ValueID{halt}
	cases := make([]ir.SwitchCase, len(dist))
	for j := range dist {
		cases[j] = ir.SwitchCase{Index: uint32(j), To: dist[j]}
	}
	l.redefine(id, ir.Instr{
		Kind:   ir.InstrSwitch,
		Type:   b.Void,
		Span:   span,
		Switch: ir.SwitchInstr{Value: wide, Cases: cases, Default: ir.Succ{Block: dflt}},
	})
	return nil
}

// distinctSuccs collapses the selected cases' successors into unique
// (block, args) pairs and maps each selected case to its pair.
func distinctSuccs(cases []ir.TypeCase, sel []int) ([]ir.Succ, []int) {
	caseSucc := make([]int, len(cases))
	for i := range caseSucc {
		caseSucc[i] = -1
	}
	var dist []ir.Succ
	for _, ci := range sel {
		if caseSucc[ci] >= 0 {
			continue
		}
		s := cases[ci].To
		di := -1
		for j := range dist {
			if succEqual(dist[j], s) {
				di = j
				break
			}
		}
		if di < 0 {
			di = len(dist)
			dist = append(dist, s)
		}
		caseSucc[ci] = di
	}
	return dist, caseSucc
}

func succEqual(a, b ir.Succ) bool {
	if a.Block != b.Block || len(a.Args) != len(b.Args) {
		return false
	}
	for i := range a.Args {
		if a.Args[i] != b.Args[i] {
			return false
		}
	}
	return true
}
