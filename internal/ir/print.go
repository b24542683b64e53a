package ir

import (
	"fmt"
	"io"
	"slices"
	"strings"

	"opal/internal/types"
)

// DumpOptions configures module dumping.
type DumpOptions struct{}

// DumpModule writes a human-readable representation of a module.
func DumpModule(w io.Writer, m *Module, typesIn *types.Interner, classes *types.Classes, _ DumpOptions) error {
	if w == nil || m == nil {
		return nil
	}

	if len(m.Consts) > 0 {
		fmt.Fprintf(w, "consts=%d\n", len(m.Consts))
		for i := range m.Consts {
			c := &m.Consts[i]
			name := classes.Name(c.Class)
			if name == "" {
				name = fmt.Sprintf("class#%d", c.Class)
			}
			parts := make([]string, 0, len(c.Elems))
			for _, e := range c.Elems {
				parts = append(parts, formatConst(e))
			}
			fmt.Fprintf(w, "  C%d: %s {%s}\n", i, name, strings.Join(parts, ", "))
		}
	}

	funcs := make([]*Func, 0, len(m.Funcs))
	for _, f := range m.Funcs {
		if f != nil {
			funcs = append(funcs, f)
		}
	}
	slices.SortStableFunc(funcs, func(a, b *Func) int {
		if a.Name != b.Name {
			if a.Name < b.Name {
				return -1
			}
			return 1
		}
		return int(a.ID - b.ID)
	})

	fmt.Fprintf(w, "funcs=%d\n", len(funcs))
	for _, f := range funcs {
		if err := dumpFunc(w, f, typesIn, classes); err != nil {
			return err
		}
	}
	return nil
}

func dumpFunc(w io.Writer, f *Func, typesIn *types.Interner, classes *types.Classes) error {
	if w == nil || f == nil {
		return nil
	}
	params := make([]string, 0, len(f.Params))
	for _, p := range f.Params {
		params = append(params, typeStr(typesIn, classes, p))
	}
	fmt.Fprintf(w, "\nfn %s(%s) -> %s:\n", f.Name, strings.Join(params, ", "), typeStr(typesIn, classes, f.Result))

	for i := range f.Blocks {
		bb := &f.Blocks[i]
		if len(bb.Params) > 0 {
			ps := make([]string, 0, len(bb.Params))
			for _, p := range bb.Params {
				ps = append(ps, fmt.Sprintf("v%d", p))
			}
			fmt.Fprintf(w, "  bb%d(%s):\n", bb.ID, strings.Join(ps, ", "))
		} else {
			fmt.Fprintf(w, "  bb%d:\n", bb.ID)
		}
		for _, id := range bb.Code {
			fmt.Fprintf(w, "    %s\n", formatInstr(f, typesIn, classes, id))
		}
	}
	return nil
}

func formatInstr(f *Func, typesIn *types.Interner, classes *types.Classes, id ValueID) string {
	ins := f.Instr(id)
	if ins == nil {
		return "<instr?>"
	}
	lhs := ""
	if ins.Type != types.NoTypeID && !ins.Kind.IsTerminator() {
		if t, ok := typesIn.Lookup(ins.Type); !ok || t.Kind != types.KindVoid {
			lhs = fmt.Sprintf("v%d = ", id)
		}
	}
	className := func(c types.ClassID) string {
		if name := classes.Name(c); name != "" {
			return name
		}
		return fmt.Sprintf("class#%d", c)
	}
	switch ins.Kind {
	case InstrConst:
		return lhs + formatConst(ins.Const.Value)
	case InstrUndef:
		return lhs + "undef"
	case InstrParam:
		return fmt.Sprintf("%sparam %d", lhs, ins.Param.Index)
	case InstrBin:
		return fmt.Sprintf("%s%s v%d, v%d", lhs, ins.Bin.Op, ins.Bin.LHS, ins.Bin.RHS)
	case InstrCast:
		return fmt.Sprintf("%s%s v%d to %s", lhs, ins.Cast.Op, ins.Cast.Value, typeStr(typesIn, classes, ins.Type))
	case InstrCall:
		return fmt.Sprintf("%scall fn#%d(%s)", lhs, ins.Call.Func, formatValues(ins.Call.Args))
	case InstrCallVirtual:
		return fmt.Sprintf("%scall_virtual v%d.%s(%s)", lhs, ins.CallVirtual.Recv, ins.CallVirtual.Method, formatValues(ins.CallVirtual.Args))
	case InstrCallIndirect:
		return fmt.Sprintf("%scall_indirect v%d(%s)", lhs, ins.CallIndirect.Callee, formatValues(ins.CallIndirect.Args))
	case InstrNewObject:
		return fmt.Sprintf("%snew_object %s(%s)", lhs, className(ins.NewObject.Class), formatValues(ins.NewObject.Args))
	case InstrArrayNew:
		count := "?"
		if ins.ArrayNew.Count.IsValid() {
			count = fmt.Sprintf("v%d", ins.ArrayNew.Count)
		}
		return fmt.Sprintf("%sarray_new %s[%s] {%s}", lhs, className(ins.ArrayNew.Class), count, formatValues(ins.ArrayNew.Elems))
	case InstrArrayClone:
		return fmt.Sprintf("%sarray_clone v%d", lhs, ins.ArrayClone.Array)
	case InstrArrayLen:
		return fmt.Sprintf("%sarray_len v%d", lhs, ins.ArrayLen.Array)
	case InstrArrayHash:
		return fmt.Sprintf("%sarray_hash v%d", lhs, ins.ArrayHash.Array)
	case InstrWith:
		parts := make([]string, 0, len(ins.With.Fields))
		for _, fi := range ins.With.Fields {
			parts = append(parts, fmt.Sprintf("#%d=v%d", fi.Field, fi.Value))
		}
		return fmt.Sprintf("%swith v%d {%s}", lhs, ins.With.Object, strings.Join(parts, ", "))
	case InstrGetField:
		return fmt.Sprintf("%sget_field v%d.#%d", lhs, ins.GetField.Object, ins.GetField.Field)
	case InstrSetField:
		return fmt.Sprintf("set_field v%d.#%d = v%d", ins.SetField.Object, ins.SetField.Field, ins.SetField.Value)
	case InstrExtract:
		return fmt.Sprintf("%sextract v%d.%d", lhs, ins.Extract.Agg, ins.Extract.Index)
	case InstrFreeze:
		return fmt.Sprintf("%sfreeze v%d", lhs, ins.Freeze.Value)
	case InstrAlloc:
		zf := ""
		if ins.Alloc.ZeroFill {
			zf = " zerofill"
		}
		return fmt.Sprintf("%salloc v%d%s", lhs, ins.Alloc.Size, zf)
	case InstrPtrOffset:
		return fmt.Sprintf("%sptr_offset v%d%+d", lhs, ins.PtrOffset.Base, ins.PtrOffset.Offset)
	case InstrLoad:
		c := ""
		if ins.Load.Cacheable {
			c = " cacheable"
		}
		return fmt.Sprintf("%sload v%d%+d :%s%s", lhs, ins.Load.Addr, ins.Load.Offset, typeStr(typesIn, classes, ins.Type), c)
	case InstrLoadSlot:
		return fmt.Sprintf("%sload_slot v%d[slot#%d]", lhs, ins.LoadSlot.VTable, ins.LoadSlot.Slot)
	case InstrStore:
		return fmt.Sprintf("store v%d%+d = v%d", ins.Store.Addr, ins.Store.Offset, ins.Store.Value)
	case InstrMemCopy:
		return fmt.Sprintf("memcopy v%d <- v%d, v%d", ins.MemCopy.Dst, ins.MemCopy.Src, ins.MemCopy.Len)
	case InstrTrap:
		if ins.Trap.Value.IsValid() {
			return fmt.Sprintf("trap %q, v%d", ins.Trap.Message, ins.Trap.Value)
		}
		return fmt.Sprintf("trap %q", ins.Trap.Message)
	case InstrNop:
		return "nop"
	case InstrJump:
		return "goto " + formatSucc(ins.Jump.To)
	case InstrBranch:
		return fmt.Sprintf("if v%d then %s else %s", ins.Branch.Cond, formatSucc(ins.Branch.Then), formatSucc(ins.Branch.Else))
	case InstrSwitch:
		out := fmt.Sprintf("switch v%d {", ins.Switch.Value)
		for _, c := range ins.Switch.Cases {
			out += fmt.Sprintf(" %d -> %s;", c.Index, formatSucc(c.To))
		}
		out += fmt.Sprintf(" default -> %s; }", formatSucc(ins.Switch.Default))
		return out
	case InstrTypeSwitch:
		out := fmt.Sprintf("type_switch v%d {", ins.TypeSwitch.Value)
		for _, c := range ins.TypeSwitch.Cases {
			out += fmt.Sprintf(" %s -> %s;", className(c.Class), formatSucc(c.To))
		}
		out += " }"
		return out
	case InstrIndirectJump:
		dests := make([]string, 0, len(ins.IndirectJump.Dests))
		for _, d := range ins.IndirectJump.Dests {
			dests = append(dests, fmt.Sprintf("bb%d", d))
		}
		return fmt.Sprintf("indirect_goto v%d [%s]", ins.IndirectJump.Target, strings.Join(dests, ", "))
	case InstrInvokeVirtual:
		return fmt.Sprintf("%sinvoke_virtual v%d.%s(%s) to %s unwind %s", lhs,
			ins.InvokeVirtual.Recv, ins.InvokeVirtual.Method, formatValues(ins.InvokeVirtual.Args),
			formatSucc(ins.InvokeVirtual.Normal), formatSucc(ins.InvokeVirtual.Unwind))
	case InstrInvokeIndirect:
		return fmt.Sprintf("%sinvoke_indirect v%d(%s) to %s unwind %s", lhs,
			ins.InvokeIndirect.Callee, formatValues(ins.InvokeIndirect.Args),
			formatSucc(ins.InvokeIndirect.Normal), formatSucc(ins.InvokeIndirect.Unwind))
	case InstrReturn:
		if !ins.Return.Value.IsValid() {
			return "return"
		}
		return fmt.Sprintf("return v%d", ins.Return.Value)
	case InstrUnreachable:
		return "unreachable"
	default:
		return "<instr?>"
	}
}

func formatValues(ids []ValueID) string {
	if len(ids) == 0 {
		return ""
	}
	out := fmt.Sprintf("v%d", ids[0])
	for i := 1; i < len(ids); i++ {
		out += fmt.Sprintf(", v%d", ids[i])
	}
	return out
}

func formatSucc(s Succ) string {
	if len(s.Args) == 0 {
		return fmt.Sprintf("bb%d", s.Block)
	}
	return fmt.Sprintf("bb%d(%s)", s.Block, formatValues(s.Args))
}

func formatConst(c ConstValue) string {
	switch c.Kind {
	case ConstInt:
		return fmt.Sprintf("const %d", c.I64)
	case ConstFloat:
		return fmt.Sprintf("const %g", c.F64)
	case ConstBool:
		if c.Bool {
			return "const true"
		}
		return "const false"
	case ConstNull:
		return "const null"
	case ConstFunc:
		return fmt.Sprintf("const fn#%d", c.Func)
	case ConstLabel:
		return fmt.Sprintf("const label fn#%d.bb%d", c.Func, c.Label)
	case ConstDataRef:
		return fmt.Sprintf("const C%d", c.Data)
	case ConstVTable:
		return fmt.Sprintf("const vtable class#%d", c.Class)
	default:
		return "const ?"
	}
}

func typeStr(typesIn *types.Interner, classes *types.Classes, id types.TypeID) string {
	if id == types.NoTypeID {
		return "?"
	}
	if typesIn == nil {
		return fmt.Sprintf("type#%d", id)
	}
	t, ok := typesIn.Lookup(id)
	if !ok {
		return fmt.Sprintf("type#%d", id)
	}
	switch t.Kind {
	case types.KindVoid:
		return "void"
	case types.KindBool:
		return "bool"
	case types.KindInt:
		return fmt.Sprintf("int%d", t.Width)
	case types.KindUint:
		return fmt.Sprintf("uint%d", t.Width)
	case types.KindFloat:
		return fmt.Sprintf("float%d", t.Width)
	case types.KindPtr:
		return "ptr"
	case types.KindLabel:
		return "label"
	case types.KindObject:
		if name := classes.Name(t.Class); name != "" {
			return name
		}
		return fmt.Sprintf("class#%d", t.Class)
	case types.KindTuple:
		elems := typesIn.TupleElems(id)
		parts := make([]string, 0, len(elems))
		for _, e := range elems {
			parts = append(parts, typeStr(typesIn, classes, e))
		}
		return "(" + strings.Join(parts, ", ") + ")"
	default:
		return fmt.Sprintf("type#%d", id)
	}
}
