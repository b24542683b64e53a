package lower

import (
	"fmt"

	"opal/internal/diag"
	"opal/internal/ir"
	"opal/internal/source"
	"opal/internal/trace"
	"opal/internal/types"
	"opal/internal/vtable"
)

// Module lowers every function in deterministic order, scavenges constant
// reachability, populates the vtables and patches the pending slot loads.
// The populated table is returned for artifact emission.
func Module(ctx *Context, mod *ir.Module) (*vtable.Table, error) {
	if ctx == nil || mod == nil {
		return nil, diag.ICEf(source.Span{}, "lower: nil context or module")
	}
	for _, fn := range mod.Funcs {
		if err := Func(ctx, fn); err != nil {
			return nil, err
		}
	}
	if err := Scavenge(ctx, mod); err != nil {
		return nil, err
	}
	table, err := vtable.Populate(ctx.Reg, int64(ctx.Target.PtrSize))
	if err != nil {
		return nil, err
	}
	if err := Patch(mod, table); err != nil {
		return nil, err
	}
	return table, nil
}

// Func rewrites one function in place. Safe to call concurrently for
// distinct functions; the registry is synchronized.
func Func(ctx *Context, fn *ir.Func) error {
	if ctx == nil || fn == nil {
		return diag.ICEf(source.Span{}, "lower: nil context or function")
	}
	sp := trace.Begin(ctx.Tracer, trace.ScopeFunc, "lower:"+fn.Name, 0)
	l := &funcLowerer{
		ctx:         ctx,
		fn:          fn,
		alias:       make(map[ir.ValueID]ir.ValueID),
		unreachable: make(map[ir.ValueID]struct{}),
	}
	err := l.run()
	sp.End("")
	return err
}

// funcLowerer rewrites one function. Lowered sequences replace the original
// instruction by rewriting its arena slot, so every existing reference keeps
// naming the result without an operand sweep per rewrite.
type funcLowerer struct {
	ctx *Context
	fn  *ir.Func

	cur ir.BlockID   // block receiving emitted instructions
	out []ir.ValueID // rebuilt code of cur

	// alias maps dropped instruction ids to the value standing in for them;
	// applied once at the end via RemapOperands.
	alias map[ir.ValueID]ir.ValueID
	// unreachable records result ids of statically dead calls, for the
	// dependent-extract degradation sweep.
	unreachable map[ir.ValueID]struct{}
	// truncated marks that the current block was cut short at a dead call.
	truncated bool
}

func (l *funcLowerer) run() error {
	// Snapshot: lowering appends stub and continuation blocks that are
	// emitted fully lowered and must not be revisited.
	blocks := make([]ir.BlockID, len(l.fn.Blocks))
	for i := range l.fn.Blocks {
		blocks[i] = l.fn.Blocks[i].ID
	}
	for _, b := range blocks {
		if err := l.lowerBlock(b); err != nil {
			return err
		}
	}
	l.degradeExtracts()
	ir.RemapOperands(l.fn, l.alias)
	return nil
}

func (l *funcLowerer) lowerBlock(b ir.BlockID) error {
	code := append([]ir.ValueID(nil), l.fn.Block(b).Code...)
	l.startBlock(b)
	l.truncated = false
	for _, id := range code {
		if err := l.lowerInstr(id); err != nil {
			return err
		}
		if l.truncated {
			break
		}
	}
	l.flush()
	return nil
}

func (l *funcLowerer) lowerInstr(id ir.ValueID) error {
	switch l.fn.Instr(id).Kind {
	case ir.InstrNewObject:
		return l.lowerNewObject(id)
	case ir.InstrArrayNew:
		return l.lowerArrayNew(id)
	case ir.InstrArrayClone:
		return l.lowerArrayClone(id)
	case ir.InstrArrayLen:
		return l.lowerArrayLen(id)
	case ir.InstrArrayHash:
		return l.lowerArrayHash(id)
	case ir.InstrWith:
		return l.lowerWith(id)
	case ir.InstrGetField:
		return l.lowerGetField(id)
	case ir.InstrSetField:
		return l.lowerSetField(id)
	case ir.InstrCallVirtual:
		return l.lowerCallVirtual(id)
	case ir.InstrInvokeVirtual:
		return l.lowerInvokeVirtual(id)
	case ir.InstrTypeSwitch:
		return l.lowerTypeSwitch(id)
	case ir.InstrFreeze:
		return l.lowerFreeze(id)
	default:
		l.append(id)
		return nil
	}
}

// degradeExtracts rewrites extracts of dead-call results into typed zeros.
// It runs as a sweep because block order does not follow dominance.
func (l *funcLowerer) degradeExtracts() {
	for bi := range l.fn.Blocks {
		for _, id := range l.fn.Blocks[bi].Code {
			ins := l.fn.Instr(id)
			if ins.Kind != ir.InstrExtract {
				continue
			}
			src := l.resolve(ins.Extract.Agg)
			if _, dead := l.unreachable[src]; !dead {
				continue
			}
			tt := l.ctx.Types.MustLookup(ins.Type)
			*ins = ir.Instr{
				Kind:  ir.InstrConst,
				Type:  ins.Type,
				Span:  ins.Span,
				Const: ir.ConstInstr{Value: zeroValue(tt.Kind)},
			}
		}
	}
}

func (l *funcLowerer) startBlock(b ir.BlockID) {
	l.cur = b
	l.out = nil
}

func (l *funcLowerer) flush() {
	l.fn.Block(l.cur).Code = l.out
	l.out = nil
}

func (l *funcLowerer) append(id ir.ValueID) {
	l.out = append(l.out, id)
}

func (l *funcLowerer) emit(ins ir.Instr) ir.ValueID {
	id := l.fn.NewInstr(ins)
	l.append(id)
	return id
}

// redefine rewrites the arena slot of id, then places it at the current
// emission point.
func (l *funcLowerer) redefine(id ir.ValueID, ins ir.Instr) {
	*l.fn.Instr(id) = ins
	l.append(id)
}

// resolve chases the alias chain down to a live value.
func (l *funcLowerer) resolve(v ir.ValueID) ir.ValueID {
	for {
		a, ok := l.alias[v]
		if !ok {
			return v
		}
		v = a
	}
}

func (l *funcLowerer) constInt(span source.Span, t types.TypeID, v int64) ir.ValueID {
	return l.emit(ir.Instr{
		Kind:  ir.InstrConst,
		Type:  t,
		Span:  span,
		Const: ir.ConstInstr{Value: ir.IntConst(v)},
	})
}

// constIntValue reports the compile-time integer value of v, if it has one.
func (l *funcLowerer) constIntValue(v ir.ValueID) (int64, bool) {
	ins := l.fn.Instr(l.resolve(v))
	if ins != nil && ins.Kind == ir.InstrConst && ins.Const.Value.Kind == ir.ConstInt {
		return ins.Const.Value.I64, true
	}
	return 0, false
}

// constZeroBits reports whether v is a constant whose representation is all
// zero bits.
func (l *funcLowerer) constZeroBits(v ir.ValueID) bool {
	ins := l.fn.Instr(l.resolve(v))
	return ins != nil && ins.Kind == ir.InstrConst && ins.Const.Value.IsZeroBits()
}

// caseConst returns the constant behind v when there is one.
func (l *funcLowerer) caseConst(v ir.ValueID) (ir.ConstValue, bool) {
	ins := l.fn.Instr(l.resolve(v))
	if ins != nil && ins.Kind == ir.InstrConst {
		return ins.Const.Value, true
	}
	return ir.ConstValue{}, false
}

// objectClass is the static class of an object-typed value. Anything else
// reaching an object operation is a compiler fault.
func (l *funcLowerer) objectClass(span source.Span, v ir.ValueID) (types.ClassID, error) {
	c := l.ctx.Types.ObjectClass(l.fn.TypeOf(v))
	if !c.IsValid() {
		return types.NoClassID, diag.ICEf(span, "value v%d is not object-typed", v)
	}
	return c, nil
}

// refClass fetches a class and rejects value-kind ones, which must never
// reach object lowering.
func (l *funcLowerer) refClass(span source.Span, id types.ClassID, op string) (*types.Class, error) {
	c, ok := l.ctx.Classes.Get(id)
	if !ok {
		return nil, diag.ICEf(span, "%s references unknown class#%d", op, id)
	}
	if c.Kind != types.ClassReference {
		return nil, diag.ICEf(span, "%s reaches value class %s", op, c.Name)
	}
	return c, nil
}

// emitVTableLoad loads the receiver's vtable word and masks the frozen flag
// bit so dispatch and type switching see a clean table pointer.
func (l *funcLowerer) emitVTableLoad(span source.Span, recv ir.ValueID) ir.ValueID {
	b := l.ctx.Types.Builtins()
	vt := l.emit(ir.Instr{
		Kind: ir.InstrLoad,
		Type: b.Ptr,
		Span: span,
		Load: ir.LoadInstr{Addr: recv, Offset: l.ctx.Target.VTableOffset()},
	})
	mask := l.constInt(span, b.Ptr, ^int64(1))
	return l.emit(ir.Instr{
		Kind: ir.InstrBin,
		Type: b.Ptr,
		Span: span,
		Bin:  ir.BinInstr{Op: ir.BinAnd, LHS: vt, RHS: mask},
	})
}

// ptrUint is the unsigned integer type matching the target pointer width,
// used for size arithmetic.
func (l *funcLowerer) ptrUint() types.TypeID {
	b := l.ctx.Types.Builtins()
	if l.ctx.Target.PtrSize == 4 {
		return b.U32
	}
	return b.U64
}

// castTo adjusts an integer value to the given unsigned width, zero-extending
// or truncating as needed. Values already that wide pass through.
func (l *funcLowerer) castTo(span source.Span, v ir.ValueID, want types.TypeID) ir.ValueID {
	have := l.fn.TypeOf(v)
	wantBits, _ := l.ctx.Types.BitWidth(want, l.ctx.Target.PtrBits())
	haveBits, ok := l.ctx.Types.BitWidth(have, l.ctx.Target.PtrBits())
	if !ok || haveBits == wantBits {
		return v
	}
	op := ir.CastZExt
	if haveBits > wantBits {
		op = ir.CastTrunc
	}
	return l.emit(ir.Instr{
		Kind: ir.InstrCast,
		Type: want,
		Span: span,
		Cast: ir.CastInstr{Op: op, Value: v},
	})
}

// castToPtrWidth adjusts an integer value to the pointer width for address
// and size arithmetic.
func (l *funcLowerer) castToPtrWidth(span source.Span, v ir.ValueID) ir.ValueID {
	return l.castTo(span, v, l.ptrUint())
}

// zeroValue is the zero constant for a scalar type kind.
func zeroValue(k types.Kind) ir.ConstValue {
	switch k {
	case types.KindBool:
		return ir.BoolConst(false)
	case types.KindFloat:
		return ir.FloatConst(0)
	case types.KindPtr, types.KindObject, types.KindLabel:
		return ir.NullConst()
	default:
		return ir.IntConst(0)
	}
}

// requestName builds the diagnostic name for a synthesized request.
func (l *funcLowerer) requestName(prefix string, id ir.ValueID) string {
	return fmt.Sprintf("%s:%s:v%d", prefix, l.fn.Name, id)
}
