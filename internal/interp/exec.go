package interp

import (
	"fmt"

	"opal/internal/ir"
	"opal/internal/types"
)

// Exec runs the named function with raw word arguments and returns the raw
// word result. Pointers are machine addresses, floats are bit patterns.
func (m *Machine) Exec(name string, args []uint64) (uint64, error) {
	f := m.mod.FuncByName(name)
	if f == nil {
		return 0, fmt.Errorf("interp: no function named %q", name)
	}
	return m.call(f, args, 0)
}

func (m *Machine) call(f *ir.Func, args []uint64, depth int) (uint64, error) {
	if depth > maxDepth {
		return 0, fmt.Errorf("interp: call depth limit in %s", f.Name)
	}
	entry := f.Block(f.Entry)
	if entry == nil {
		return 0, fmt.Errorf("interp: %s has no entry block", f.Name)
	}
	if len(args) != len(entry.Params) {
		return 0, fmt.Errorf("interp: %s takes %d arguments, got %d", f.Name, len(entry.Params), len(args))
	}

	vals := make([]uint64, len(f.Arena))
	for i, p := range entry.Params {
		vals[p] = m.maskTo(f.TypeOf(p), args[i])
	}

	b := f.Entry
	for {
		blk := f.Block(b)
		if blk == nil {
			return 0, fmt.Errorf("interp: %s jumped to missing block b%d", f.Name, b)
		}
		next, ret, done, err := m.runBlock(f, blk, vals, depth)
		if err != nil {
			return 0, err
		}
		if done {
			return ret, nil
		}
		b = next
	}
}

// runBlock executes one block. It returns the successor block, or the
// function result when done is true. Block arguments are bound into vals
// before returning.
func (m *Machine) runBlock(f *ir.Func, blk *ir.Block, vals []uint64, depth int) (next ir.BlockID, ret uint64, done bool, err error) {
	enter := func(s ir.Succ) (ir.BlockID, error) {
		to := f.Block(s.Block)
		if to == nil {
			return ir.NoBlockID, fmt.Errorf("interp: %s edge to missing block b%d", f.Name, s.Block)
		}
		if len(s.Args) != len(to.Params) {
			return ir.NoBlockID, fmt.Errorf("interp: %s edge to b%d carries %d args, block takes %d",
				f.Name, s.Block, len(s.Args), len(to.Params))
		}
		// Read all edge values before binding: a block may pass its own
		// parameters back to itself in permuted order.
		in := make([]uint64, len(s.Args))
		for i, a := range s.Args {
			in[i] = vals[a]
		}
		for i, p := range to.Params {
			vals[p] = in[i]
		}
		return s.Block, nil
	}

	for _, id := range blk.Code {
		if m.steps++; m.steps > m.opts.MaxSteps {
			return 0, 0, false, fmt.Errorf("interp: step limit reached in %s", f.Name)
		}
		ins := f.Instr(id)
		if ins == nil {
			return 0, 0, false, fmt.Errorf("interp: %s references missing value v%d", f.Name, id)
		}

		switch ins.Kind {
		case ir.InstrConst:
			v, cerr := m.constValue(ins.Const.Value, ins.Type)
			if cerr != nil {
				return 0, 0, false, fmt.Errorf("interp: %s v%d: %w", f.Name, id, cerr)
			}
			vals[id] = v

		case ir.InstrUndef:
			vals[id] = 0

		case ir.InstrParam:
			// Bound by the incoming edge.

		case ir.InstrNop:
			// Nothing.

		case ir.InstrBin:
			vals[id] = m.maskTo(ins.Type, binOp(ins.Bin.Op, vals[ins.Bin.LHS], vals[ins.Bin.RHS]))

		case ir.InstrCast:
			// Operands are kept masked to their own width, so both zext and
			// trunc reduce to masking by the result type.
			vals[id] = m.maskTo(ins.Type, vals[ins.Cast.Value])

		case ir.InstrCall:
			r, cerr := m.callFunc(ins.Call.Func, ins.Call.Args, vals, depth)
			if cerr != nil {
				return 0, 0, false, cerr
			}
			vals[id] = m.maskTo(ins.Type, r)

		case ir.InstrCallIndirect:
			callee, ok := m.funcAt[vals[ins.CallIndirect.Callee]]
			if !ok {
				return 0, 0, false, fmt.Errorf("interp: %s calls through %#x, not a function address",
					f.Name, vals[ins.CallIndirect.Callee])
			}
			r, cerr := m.callFunc(callee, ins.CallIndirect.Args, vals, depth)
			if cerr != nil {
				return 0, 0, false, cerr
			}
			vals[id] = m.maskTo(ins.Type, r)

		case ir.InstrAlloc:
			addr, aerr := m.alloc(vals[ins.Alloc.Size], ins.Alloc.ZeroFill)
			if aerr != nil {
				return 0, 0, false, aerr
			}
			vals[id] = addr

		case ir.InstrPtrOffset:
			vals[id] = uint64(int64(vals[ins.PtrOffset.Base]) + ins.PtrOffset.Offset)

		case ir.InstrLoad:
			w, werr := m.widthOf(ins.Type)
			if werr != nil {
				return 0, 0, false, werr
			}
			v, lerr := m.read(uint64(int64(vals[ins.Load.Addr])+ins.Load.Offset), w)
			if lerr != nil {
				return 0, 0, false, fmt.Errorf("interp: %s v%d: %w", f.Name, id, lerr)
			}
			vals[id] = v

		case ir.InstrStore:
			w, werr := m.widthOf(f.TypeOf(ins.Store.Value))
			if werr != nil {
				return 0, 0, false, werr
			}
			addr := uint64(int64(vals[ins.Store.Addr]) + ins.Store.Offset)
			if serr := m.write(addr, w, vals[ins.Store.Value], true); serr != nil {
				return 0, 0, false, fmt.Errorf("interp: %s v%d: %w", f.Name, id, serr)
			}

		case ir.InstrMemCopy:
			dst := vals[ins.MemCopy.Dst]
			src := vals[ins.MemCopy.Src]
			n := int64(vals[ins.MemCopy.Len])
			if cerr := m.ensure(dst, n); cerr != nil {
				return 0, 0, false, cerr
			}
			if cerr := m.ensure(src, n); cerr != nil {
				return 0, 0, false, cerr
			}
			copy(m.mem[dst:dst+uint64(n)], m.mem[src:src+uint64(n)])

		case ir.InstrTrap:
			te := &TrapError{Message: ins.Trap.Message}
			if ins.Trap.Value.IsValid() {
				te.Value = vals[ins.Trap.Value]
			}
			return 0, 0, false, te

		case ir.InstrJump:
			nb, eerr := enter(ins.Jump.To)
			if eerr != nil {
				return 0, 0, false, eerr
			}
			return nb, 0, false, nil

		case ir.InstrBranch:
			to := ins.Branch.Else
			if vals[ins.Branch.Cond] != 0 {
				to = ins.Branch.Then
			}
			nb, eerr := enter(to)
			if eerr != nil {
				return 0, 0, false, eerr
			}
			return nb, 0, false, nil

		case ir.InstrSwitch:
			to := ins.Switch.Default
			v := vals[ins.Switch.Value]
			for _, c := range ins.Switch.Cases {
				if uint64(c.Index) == v {
					to = c.To
					break
				}
			}
			nb, eerr := enter(to)
			if eerr != nil {
				return 0, 0, false, eerr
			}
			return nb, 0, false, nil

		case ir.InstrIndirectJump:
			key, ok := m.labelAt[vals[ins.IndirectJump.Target]]
			if !ok || key.fn != f.ID {
				return 0, 0, false, fmt.Errorf("interp: %s jumps through %#x, not a label of this function",
					f.Name, vals[ins.IndirectJump.Target])
			}
			return key.block, 0, false, nil

		case ir.InstrInvokeIndirect:
			callee, ok := m.funcAt[vals[ins.InvokeIndirect.Callee]]
			if !ok {
				return 0, 0, false, fmt.Errorf("interp: %s invokes through %#x, not a function address",
					f.Name, vals[ins.InvokeIndirect.Callee])
			}
			r, cerr := m.callFunc(callee, ins.InvokeIndirect.Args, vals, depth)
			if cerr != nil {
				// Unwind edges model language-level exceptions, which the
				// interpreter does not catch. Traps propagate as errors.
				return 0, 0, false, cerr
			}
			vals[id] = m.maskTo(ins.Type, r)
			nb, eerr := enter(ins.InvokeIndirect.Normal)
			if eerr != nil {
				return 0, 0, false, eerr
			}
			return nb, 0, false, nil

		case ir.InstrReturn:
			if ins.Return.Value.IsValid() {
				return 0, vals[ins.Return.Value], true, nil
			}
			return 0, 0, true, nil

		case ir.InstrUnreachable:
			return 0, 0, false, fmt.Errorf("interp: %s executed an unreachable point", f.Name)

		default:
			return 0, 0, false, fmt.Errorf("interp: %s v%d: kind %d is not lowered", f.Name, id, ins.Kind)
		}
	}
	return 0, 0, false, fmt.Errorf("interp: %s block b%d fell off the end", f.Name, blk.ID)
}

func (m *Machine) callFunc(id ir.FuncID, argIDs []ir.ValueID, vals []uint64, depth int) (uint64, error) {
	callee := m.mod.Func(id)
	if callee == nil {
		return 0, fmt.Errorf("interp: call to missing function #%d", id)
	}
	args := make([]uint64, len(argIDs))
	for i, a := range argIDs {
		args[i] = vals[a]
	}
	return m.call(callee, args, depth+1)
}

// constValue is constWord with result-type awareness, so narrow float
// constants take their narrow bit pattern.
func (m *Machine) constValue(v ir.ConstValue, t types.TypeID) (uint64, error) {
	if v.Kind == ir.ConstFloat {
		if bits, ok := m.types.BitWidth(t, m.tgt.PtrBits()); ok && bits == 32 {
			return uint64(float32bits(v.F64)), nil
		}
	}
	w, err := m.constWord(v)
	if err != nil {
		return 0, err
	}
	return m.maskTo(t, w), nil
}

func binOp(op ir.BinOp, a, b uint64) uint64 {
	switch op {
	case ir.BinAdd:
		return a + b
	case ir.BinSub:
		return a - b
	case ir.BinMul:
		return a * b
	case ir.BinAnd:
		return a & b
	case ir.BinOr:
		return a | b
	case ir.BinEq:
		if a == b {
			return 1
		}
		return 0
	case ir.BinNe:
		if a != b {
			return 1
		}
		return 0
	default:
		return 0
	}
}
