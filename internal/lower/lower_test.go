package lower_test

import (
	"strings"
	"testing"

	"opal/internal/ir"
	"opal/internal/layout"
	"opal/internal/lower"
	"opal/internal/source"
	"opal/internal/target"
	"opal/internal/types"
	"opal/internal/vtable"
)

// fx assembles one class world shared by most tests: a Shape hierarchy with
// three concrete subclasses, a member-free abstract class nothing ever
// implements, sparse and packed plain classes, an array class, and the three
// freeze temperaments.
type fx struct {
	in  *types.Interner
	cs  *types.Classes
	tgt target.Target
	reg *vtable.Registry
	ctx *lower.Context

	shape, circle, square, tri types.ClassID
	ghost                      types.ClassID
	sparse, pair               types.ClassID
	ints                       types.ClassID
	glass, rope, box           types.ClassID
	scalar                     types.ClassID
}

const (
	areaCircle ir.FuncID = 10
	areaSquare ir.FuncID = 11
	areaTri    ir.FuncID = 12
)

func newFx(t *testing.T, tgt target.Target) *fx {
	t.Helper()
	x := &fx{
		in:  types.NewInterner(),
		cs:  types.NewClasses(),
		tgt: tgt,
		reg: vtable.NewRegistry(),
	}
	b := x.in.Builtins()
	add := func(c types.Class) types.ClassID {
		id, err := x.cs.Add(c)
		if err != nil {
			t.Fatalf("class %s: %v", c.Name, err)
		}
		return id
	}
	x.shape = add(types.Class{Name: "Shape", Abstract: true})
	x.circle = add(types.Class{
		Name: "Circle", Base: x.shape,
		Fields:  []types.Field{{Name: "r", Type: b.F64}},
		Methods: []types.MethodDef{{Name: "area", Func: int32(areaCircle)}},
	})
	x.square = add(types.Class{
		Name: "Square", Base: x.shape,
		Fields:  []types.Field{{Name: "s", Type: b.F64}},
		Methods: []types.MethodDef{{Name: "area", Func: int32(areaSquare)}},
	})
	x.tri = add(types.Class{
		Name: "Tri", Base: x.shape,
		Fields:  []types.Field{{Name: "a", Type: b.F64}, {Name: "b", Type: b.F64}},
		Methods: []types.MethodDef{{Name: "area", Func: int32(areaTri)}},
	})
	x.ghost = add(types.Class{Name: "Ghost", Abstract: true})
	x.sparse = add(types.Class{
		Name:   "Sparse",
		Fields: []types.Field{{Name: "tag", Type: b.U8}, {Name: "big", Type: b.U64}},
	})
	x.pair = add(types.Class{
		Name:   "Pair",
		Fields: []types.Field{{Name: "x", Type: b.I64}, {Name: "y", Type: b.I64}},
	})
	x.ints = add(types.Class{Name: "Ints", ArrayElem: []types.TypeID{b.I32}})
	x.glass = add(types.Class{
		Name: "Glass", DeeplyImmutable: true,
		Fields: []types.Field{{Name: "v", Type: b.I64}},
	})
	x.rope = add(types.Class{
		Name: "Rope", MaybeReadOnly: true,
		Fields: []types.Field{{Name: "n", Type: b.U32}},
	})
	x.box = add(types.Class{
		Name:   "Box",
		Fields: []types.Field{{Name: "v", Type: b.I64}},
	})
	x.scalar = add(types.Class{Name: "Scalar", Kind: types.ClassValue})

	x.ctx = &lower.Context{
		Types:    x.in,
		Classes:  x.cs,
		Layout:   layout.New(tgt, x.in, x.cs),
		Reg:      x.reg,
		Target:   tgt,
		Resolver: lower.CHAResolver{Classes: x.cs},
	}
	return x
}

// fn builds an empty function whose entry params mirror the given types.
func (x *fx) fn(name string, params []types.TypeID, result types.TypeID) *ir.Func {
	return ir.NewFunc(0, name, params, result)
}

// place appends instruction ids to a block's code.
func place(f *ir.Func, b ir.BlockID, ids ...ir.ValueID) {
	f.Blocks[b].Code = append(f.Blocks[b].Code, ids...)
}

// countKind counts block-resident instructions of one kind. Arena slots no
// block references anymore do not count; lowering parks dropped
// instructions there.
func countKind(f *ir.Func, k ir.InstrKind) int {
	n := 0
	for i := range f.Blocks {
		for _, id := range f.Blocks[i].Code {
			if f.Instr(id).Kind == k {
				n++
			}
		}
	}
	return n
}

// blockKinds lists the instruction kinds of one block in order.
func blockKinds(f *ir.Func, b ir.BlockID) []ir.InstrKind {
	var out []ir.InstrKind
	for _, id := range f.Block(b).Code {
		out = append(out, f.Instr(id).Kind)
	}
	return out
}

func mustLower(t *testing.T, x *fx, f *ir.Func) {
	t.Helper()
	if err := lower.Func(x.ctx, f); err != nil {
		t.Fatalf("lower.Func failed: %v", err)
	}
}

func TestNewObjectLowering(t *testing.T) {
	x := newFx(t, target.X86_64LinuxGNU())
	b := x.in.Builtins()
	f := x.fn("build", nil, x.in.Object(x.sparse))

	tag := f.NewInstr(ir.Instr{Kind: ir.InstrConst, Type: b.U8, Const: ir.ConstInstr{Value: ir.IntConst(7)}})
	big := f.NewInstr(ir.Instr{Kind: ir.InstrConst, Type: b.U64, Const: ir.ConstInstr{Value: ir.IntConst(9)}})
	obj := f.NewInstr(ir.Instr{
		Kind:      ir.InstrNewObject,
		Type:      x.in.Object(x.sparse),
		NewObject: ir.NewObjectInstr{Class: x.sparse, Args: []ir.ValueID{tag, big}},
	})
	ret := f.NewInstr(ir.Instr{Kind: ir.InstrReturn, Return: ir.ReturnInstr{Value: obj}})
	place(f, f.Entry, tag, big, obj, ret)

	mustLower(t, x, f)

	if got := f.Instr(obj); got.Kind != ir.InstrPtrOffset || got.PtrOffset.Offset != 8 {
		t.Fatalf("constructed id = kind %d offset %d, want PtrOffset +8", got.Kind, got.PtrOffset.Offset)
	}
	if n := countKind(f, ir.InstrAlloc); n != 1 {
		t.Fatalf("Alloc count = %d, want 1", n)
	}
	var stores []ir.StoreInstr
	var allocID ir.ValueID = ir.NoValueID
	for _, id := range f.Block(f.Entry).Code {
		ins := f.Instr(id)
		switch ins.Kind {
		case ir.InstrAlloc:
			allocID = id
			if ins.Alloc.ZeroFill {
				t.Error("object allocation requested allocator zero-fill")
			}
		case ir.InstrStore:
			stores = append(stores, ins.Store)
		}
	}
	// Header word, one gap word (bits 8..63 of word 0), two fields.
	if len(stores) != 4 {
		t.Fatalf("store count = %d, want 4", len(stores))
	}
	if stores[0].Addr != allocID || stores[0].Offset != 0 {
		t.Errorf("first store is not the vtable header: %+v", stores[0])
	}
	if vt := f.Instr(stores[0].Value); vt.Const.Value.Kind != ir.ConstVTable || vt.Const.Value.Class != x.sparse {
		t.Error("header store does not carry the class vtable constant")
	}
	// The gap zero must land before any field store touches word 0.
	if stores[1].Addr != obj || stores[1].Offset != 0 || !f.Instr(stores[1].Value).Const.Value.IsZeroBits() {
		t.Errorf("second store is not the word-0 gap zero: %+v", stores[1])
	}
	if stores[2].Offset != 0 || stores[2].Value != tag {
		t.Errorf("tag store = %+v", stores[2])
	}
	if stores[3].Offset != 8 || stores[3].Value != big {
		t.Errorf("big store = %+v", stores[3])
	}
}

func TestNewObjectFieldCountMismatch(t *testing.T) {
	x := newFx(t, target.X86_64LinuxGNU())
	f := x.fn("bad", nil, x.in.Object(x.pair))
	obj := f.NewInstr(ir.Instr{
		Kind:      ir.InstrNewObject,
		Type:      x.in.Object(x.pair),
		NewObject: ir.NewObjectInstr{Class: x.pair},
	})
	ret := f.NewInstr(ir.Instr{Kind: ir.InstrReturn, Return: ir.ReturnInstr{Value: obj}})
	place(f, f.Entry, obj, ret)

	err := lower.Func(x.ctx, f)
	if err == nil || !strings.Contains(err.Error(), "fields") {
		t.Fatalf("lower.Func = %v, want field count mismatch", err)
	}
}

func TestNewObjectValueClass(t *testing.T) {
	x := newFx(t, target.X86_64LinuxGNU())
	f := x.fn("bad", nil, x.in.Object(x.scalar))
	obj := f.NewInstr(ir.Instr{
		Kind:      ir.InstrNewObject,
		Type:      x.in.Object(x.scalar),
		NewObject: ir.NewObjectInstr{Class: x.scalar},
	})
	ret := f.NewInstr(ir.Instr{Kind: ir.InstrReturn, Return: ir.ReturnInstr{Value: obj}})
	place(f, f.Entry, obj, ret)

	err := lower.Func(x.ctx, f)
	if err == nil || !strings.Contains(err.Error(), "value class") {
		t.Fatalf("lower.Func = %v, want value class fault", err)
	}
}

func TestVirtualCallDispatch(t *testing.T) {
	x := newFx(t, target.X86_64LinuxGNU())
	b := x.in.Builtins()
	f := x.fn("dispatch", []types.TypeID{x.in.Object(x.shape)}, b.F64)
	recv := f.Blocks[f.Entry].Params[0]
	call := f.NewInstr(ir.Instr{
		Kind:        ir.InstrCallVirtual,
		Type:        b.F64,
		CallVirtual: ir.CallVirtualInstr{Method: "area", Recv: recv},
	})
	ret := f.NewInstr(ir.Instr{Kind: ir.InstrReturn, Return: ir.ReturnInstr{Value: call}})
	place(f, f.Entry, call, ret)

	mustLower(t, x, f)

	got := f.Instr(call)
	if got.Kind != ir.InstrCallIndirect {
		t.Fatalf("call id = kind %d, want CallIndirect", got.Kind)
	}
	if len(got.CallIndirect.Args) != 1 || got.CallIndirect.Args[0] != recv {
		t.Errorf("receiver not prepended: %v", got.CallIndirect.Args)
	}
	if n := countKind(f, ir.InstrLoadSlot); n != 1 {
		t.Fatalf("LoadSlot count = %d, want 1", n)
	}
	// The vtable word is masked before the slot load.
	var vtLoad *ir.Instr
	for _, id := range f.Block(f.Entry).Code {
		ins := f.Instr(id)
		if ins.Kind == ir.InstrLoad && ins.Load.Offset == x.tgt.VTableOffset() {
			vtLoad = ins
		}
	}
	if vtLoad == nil {
		t.Fatal("no vtable load at the header offset")
	}
	if countKind(f, ir.InstrBin) == 0 {
		t.Error("no mask applied to the vtable word")
	}

	if x.reg.Len() != 1 {
		t.Fatalf("registry has %d requests, want 1", x.reg.Len())
	}
	req, _ := x.reg.Request(0)
	if len(req.Entries) != 3 {
		t.Fatalf("request covers %d classes, want 3", len(req.Entries))
	}
	want := map[types.ClassID]ir.FuncID{x.circle: areaCircle, x.square: areaSquare, x.tri: areaTri}
	for _, e := range req.Entries {
		if e.Value.Kind != ir.ConstFunc || e.Value.Func != want[e.Class] {
			t.Errorf("class %s maps to %v", x.cs.Name(e.Class), e.Value)
		}
	}

	// A second site requesting the same dispatch reuses the slot.
	g := x.fn("again", []types.TypeID{x.in.Object(x.shape)}, b.F64)
	grecv := g.Blocks[g.Entry].Params[0]
	gcall := g.NewInstr(ir.Instr{
		Kind:        ir.InstrCallVirtual,
		Type:        b.F64,
		CallVirtual: ir.CallVirtualInstr{Method: "area", Recv: grecv},
	})
	gret := g.NewInstr(ir.Instr{Kind: ir.InstrReturn, Return: ir.ReturnInstr{Value: gcall}})
	place(g, g.Entry, gcall, gret)
	mustLower(t, x, g)
	if x.reg.Len() != 1 {
		t.Errorf("second identical site grew the registry to %d", x.reg.Len())
	}
}

func TestVirtualCallDevirtualized(t *testing.T) {
	x := newFx(t, target.X86_64LinuxGNU())
	b := x.in.Builtins()
	f := x.fn("direct", []types.TypeID{x.in.Object(x.circle)}, b.F64)
	recv := f.Blocks[f.Entry].Params[0]
	call := f.NewInstr(ir.Instr{
		Kind:        ir.InstrCallVirtual,
		Type:        b.F64,
		CallVirtual: ir.CallVirtualInstr{Method: "area", Recv: recv},
	})
	ret := f.NewInstr(ir.Instr{Kind: ir.InstrReturn, Return: ir.ReturnInstr{Value: call}})
	place(f, f.Entry, call, ret)

	mustLower(t, x, f)

	got := f.Instr(call)
	if got.Kind != ir.InstrCall || got.Call.Func != areaCircle {
		t.Fatalf("single-impl call = kind %d fn %d, want direct call of %d", got.Kind, got.Call.Func, areaCircle)
	}
	if x.reg.Len() != 0 {
		t.Errorf("devirtualized call submitted %d requests", x.reg.Len())
	}
}

func TestVirtualCallUnreachable(t *testing.T) {
	x := newFx(t, target.X86_64LinuxGNU())
	b := x.in.Builtins()
	tup := x.in.Tuple([]types.TypeID{b.I64, b.Bool})

	f := x.fn("dead", []types.TypeID{x.in.Object(x.shape)}, b.I64)
	recv := f.Blocks[f.Entry].Params[0]
	call := f.NewInstr(ir.Instr{
		Kind:        ir.InstrCallVirtual,
		Type:        tup,
		CallVirtual: ir.CallVirtualInstr{Method: "perimeter", Recv: recv},
	})
	next := f.NewBlock()
	jmp := f.NewInstr(ir.Instr{Kind: ir.InstrJump, Jump: ir.JumpInstr{To: ir.Succ{Block: next}}})
	place(f, f.Entry, call, jmp)

	ex0 := f.NewInstr(ir.Instr{Kind: ir.InstrExtract, Type: b.I64, Extract: ir.ExtractInstr{Agg: call, Index: 0}})
	ex1 := f.NewInstr(ir.Instr{Kind: ir.InstrExtract, Type: b.Bool, Extract: ir.ExtractInstr{Agg: call, Index: 1}})
	ret := f.NewInstr(ir.Instr{Kind: ir.InstrReturn, Return: ir.ReturnInstr{Value: ex0}})
	place(f, next, ex0, ex1, ret)

	mustLower(t, x, f)

	kinds := blockKinds(f, f.Entry)
	if len(kinds) != 3 || kinds[0] != ir.InstrTrap || kinds[2] != ir.InstrUnreachable {
		t.Fatalf("entry kinds = %v, want trap, stand-in, unreachable", kinds)
	}
	if got := f.Instr(call); got.Kind != ir.InstrUndef {
		t.Errorf("tuple-typed dead call = kind %d, want Undef", got.Kind)
	}
	trap := f.Instr(f.Block(f.Entry).Code[0])
	if !strings.Contains(trap.Trap.Message, "perimeter") || trap.Trap.Value != recv {
		t.Errorf("trap = %+v, want message naming the method and the receiver attached", trap.Trap)
	}
	// Extracts of the nonexistent result degrade to typed zeros.
	if got := f.Instr(ex0); got.Kind != ir.InstrConst || got.Const.Value != ir.IntConst(0) || got.Type != b.I64 {
		t.Errorf("extract 0 = %+v, want i64 zero", got)
	}
	if got := f.Instr(ex1); got.Kind != ir.InstrConst || got.Const.Value != ir.BoolConst(false) {
		t.Errorf("extract 1 = %+v, want false", got)
	}
	if countKind(f, ir.InstrBranch) != 0 {
		t.Error("dead call lowered with a branch")
	}
}

func TestVirtualCallScalarStandIn(t *testing.T) {
	x := newFx(t, target.X86_64LinuxGNU())
	b := x.in.Builtins()
	f := x.fn("dead", []types.TypeID{x.in.Object(x.shape)}, b.F64)
	recv := f.Blocks[f.Entry].Params[0]
	call := f.NewInstr(ir.Instr{
		Kind:        ir.InstrCallVirtual,
		Type:        b.F64,
		CallVirtual: ir.CallVirtualInstr{Method: "perimeter", Recv: recv},
	})
	ret := f.NewInstr(ir.Instr{Kind: ir.InstrReturn, Return: ir.ReturnInstr{Value: call}})
	place(f, f.Entry, call, ret)

	mustLower(t, x, f)
	if got := f.Instr(call); got.Kind != ir.InstrConst || got.Const.Value != ir.FloatConst(0) {
		t.Errorf("scalar dead call = %+v, want float zero", got)
	}
}

// typeSwitchFunc builds a function over Shape whose entry ends in a type
// switch assembled by mk, which receives ready successor blocks.
func typeSwitchFunc(x *fx, nBlocks int, mk func(f *ir.Func, blocks []ir.BlockID) []ir.TypeCase) *ir.Func {
	b := x.in.Builtins()
	f := x.fn("sw", []types.TypeID{x.in.Object(x.shape)}, b.Void)
	blocks := make([]ir.BlockID, nBlocks)
	for i := range blocks {
		blocks[i] = f.NewBlock()
	}
	cases := mk(f, blocks)
	ts := f.NewInstr(ir.Instr{
		Kind:       ir.InstrTypeSwitch,
		Type:       b.Void,
		TypeSwitch: ir.TypeSwitchInstr{Value: f.Blocks[f.Entry].Params[0], Cases: cases},
	})
	place(f, f.Entry, ts)
	return f
}

func TestTypeSwitchLoadJump(t *testing.T) {
	x := newFx(t, target.X86_64LinuxGNU())
	b := x.in.Builtins()
	var ts ir.ValueID
	f := typeSwitchFunc(x, 1, func(f *ir.Func, blocks []ir.BlockID) []ir.TypeCase {
		tgt := blocks[0]
		flag := f.NewParam(tgt, b.Bool)
		shared := f.NewParam(tgt, b.I64)
		_ = flag
		ret := f.NewInstr(ir.Instr{Kind: ir.InstrReturn})
		place(f, tgt, ret)

		yes := f.NewInstr(ir.Instr{Kind: ir.InstrConst, Type: b.Bool, Const: ir.ConstInstr{Value: ir.BoolConst(true)}})
		no := f.NewInstr(ir.Instr{Kind: ir.InstrConst, Type: b.Bool, Const: ir.ConstInstr{Value: ir.BoolConst(false)}})
		uni := f.NewInstr(ir.Instr{Kind: ir.InstrConst, Type: b.I64, Const: ir.ConstInstr{Value: ir.IntConst(42)}})
		place(f, f.Entry, yes, no, uni)
		_ = shared
		return []ir.TypeCase{
			{Class: x.circle, To: ir.Succ{Block: tgt, Args: []ir.ValueID{yes, uni}}},
			{Class: x.square, To: ir.Succ{Block: tgt, Args: []ir.ValueID{no, uni}}},
			{Class: x.tri, To: ir.Succ{Block: tgt, Args: []ir.ValueID{no, uni}}},
		}
	})
	ts = f.Block(f.Entry).Code[len(f.Block(f.Entry).Code)-1]

	mustLower(t, x, f)

	if countKind(f, ir.InstrBranch) != 0 || countKind(f, ir.InstrSwitch) != 0 || countKind(f, ir.InstrIndirectJump) != 0 {
		t.Fatal("single-target constant-arg switch emitted branching")
	}
	got := f.Instr(ts)
	if got.Kind != ir.InstrJump {
		t.Fatalf("terminator = kind %d, want Jump", got.Kind)
	}
	if n := countKind(f, ir.InstrLoadSlot); n != 1 {
		t.Fatalf("LoadSlot count = %d, want 1 (only the varying position)", n)
	}
	// The uniform position passes through untouched.
	args := got.Jump.To.Args
	if len(args) != 2 {
		t.Fatalf("jump carries %d args, want 2", len(args))
	}
	if f.Instr(args[1]).Kind != ir.InstrConst || f.Instr(args[1]).Const.Value != ir.IntConst(42) {
		t.Error("uniform argument was rerouted through the vtable")
	}
	if f.Instr(args[0]).Kind != ir.InstrLoadSlot {
		t.Error("varying argument does not come from a slot load")
	}
}

func TestTypeSwitchBoolBranch(t *testing.T) {
	x := newFx(t, target.X86_64LinuxGNU())
	f := typeSwitchFunc(x, 2, func(f *ir.Func, blocks []ir.BlockID) []ir.TypeCase {
		for _, bb := range blocks {
			ret := f.NewInstr(ir.Instr{Kind: ir.InstrReturn})
			place(f, bb, ret)
		}
		return []ir.TypeCase{
			{Class: x.circle, To: ir.Succ{Block: blocks[0]}},
			{Class: x.square, To: ir.Succ{Block: blocks[1]}},
			{Class: x.tri, To: ir.Succ{Block: blocks[1]}},
		}
	})

	mustLower(t, x, f)

	if n := countKind(f, ir.InstrBranch); n != 1 {
		t.Fatalf("Branch count = %d, want exactly 1", n)
	}
	if countKind(f, ir.InstrSwitch) != 0 || countKind(f, ir.InstrIndirectJump) != 0 {
		t.Error("two-successor switch used a wide dispatch strategy")
	}
	req, ok := x.reg.Request(0)
	if !ok || len(req.Entries) != 3 {
		t.Fatalf("expected one request over 3 classes, got %+v", req)
	}
	for _, e := range req.Entries {
		if e.Value.Kind != ir.ConstBool {
			t.Errorf("class %s slot = %v, want a boolean", x.cs.Name(e.Class), e.Value)
		}
	}
}

func TestTypeSwitchIndirect(t *testing.T) {
	threeWay := func(x *fx) *ir.Func {
		return typeSwitchFunc(x, 3, func(f *ir.Func, blocks []ir.BlockID) []ir.TypeCase {
			for _, bb := range blocks {
				ret := f.NewInstr(ir.Instr{Kind: ir.InstrReturn})
				place(f, bb, ret)
			}
			return []ir.TypeCase{
				{Class: x.circle, To: ir.Succ{Block: blocks[0]}},
				{Class: x.square, To: ir.Succ{Block: blocks[1]}},
				{Class: x.tri, To: ir.Succ{Block: blocks[2]}},
			}
		})
	}

	t.Run("computed goto", func(t *testing.T) {
		x := newFx(t, target.X86_64LinuxGNU())
		f := threeWay(x)
		mustLower(t, x, f)
		if n := countKind(f, ir.InstrIndirectJump); n != 1 {
			t.Fatalf("IndirectJump count = %d, want 1", n)
		}
		if countKind(f, ir.InstrBranch) != 0 || countKind(f, ir.InstrSwitch) != 0 {
			t.Error("computed-goto dispatch also branched")
		}
		req, _ := x.reg.Request(0)
		for _, e := range req.Entries {
			if e.Value.Kind != ir.ConstLabel {
				t.Errorf("class %s slot = %v, want a code label", x.cs.Name(e.Class), e.Value)
			}
		}
	})

	t.Run("dense switch", func(t *testing.T) {
		x := newFx(t, target.Wasm32())
		f := threeWay(x)
		mustLower(t, x, f)
		if countKind(f, ir.InstrIndirectJump) != 0 {
			t.Fatal("wasm32 has no computed goto, yet an indirect jump was emitted")
		}
		var sw *ir.Instr
		for i := range f.Blocks {
			for _, id := range f.Blocks[i].Code {
				if ins := f.Instr(id); ins.Kind == ir.InstrSwitch {
					sw = ins
				}
			}
		}
		if sw == nil {
			t.Fatal("no dense switch emitted")
		}
		if len(sw.Switch.Cases) != 3 {
			t.Fatalf("switch has %d cases, want 3", len(sw.Switch.Cases))
		}
		for i, c := range sw.Switch.Cases {
			if c.Index != uint32(i) {
				t.Errorf("case %d carries index %d; indices must be dense", i, c.Index)
			}
		}
		dflt := f.Block(sw.Switch.Default.Block)
		if len(dflt.Code) != 1 || f.Instr(dflt.Code[0]).Kind != ir.InstrUnreachable {
			t.Error("default successor is not a lone unreachable")
		}
		// Index slots are minimum width for three successors.
		req, _ := x.reg.Request(0)
		for _, e := range req.Entries {
			if e.Value.Kind != ir.ConstInt || e.Value.I64 > 2 {
				t.Errorf("class %s slot = %v, want a dense index", x.cs.Name(e.Class), e.Value)
			}
		}
	})
}

func TestTypeSwitchNoConcreteSubtype(t *testing.T) {
	x := newFx(t, target.X86_64LinuxGNU())
	b := x.in.Builtins()
	f := x.fn("empty", []types.TypeID{x.in.Object(x.ghost)}, b.Void)
	ts := f.NewInstr(ir.Instr{
		Kind:       ir.InstrTypeSwitch,
		Type:       b.Void,
		TypeSwitch: ir.TypeSwitchInstr{Value: f.Blocks[f.Entry].Params[0]},
	})
	place(f, f.Entry, ts)

	mustLower(t, x, f)

	kinds := blockKinds(f, f.Entry)
	if len(kinds) != 2 || kinds[0] != ir.InstrTrap || kinds[1] != ir.InstrUnreachable {
		t.Fatalf("entry kinds = %v, want trap then unreachable", kinds)
	}
	if countKind(f, ir.InstrBranch) != 0 {
		t.Error("zero-subtype switch emitted a branch")
	}
	trap := f.Instr(f.Block(f.Entry).Code[0])
	if !strings.Contains(trap.Trap.Message, "Ghost") {
		t.Errorf("trap message %q does not name the static type", trap.Trap.Message)
	}
}

func TestTypeSwitchValueClassCase(t *testing.T) {
	x := newFx(t, target.X86_64LinuxGNU())
	b := x.in.Builtins()
	f := x.fn("bad", []types.TypeID{x.in.Object(x.shape)}, b.Void)
	tgt := f.NewBlock()
	ret := f.NewInstr(ir.Instr{Kind: ir.InstrReturn})
	place(f, tgt, ret)
	ts := f.NewInstr(ir.Instr{
		Kind: ir.InstrTypeSwitch,
		Type: b.Void,
		TypeSwitch: ir.TypeSwitchInstr{
			Value: f.Blocks[f.Entry].Params[0],
			Cases: []ir.TypeCase{{Class: x.scalar, To: ir.Succ{Block: tgt}}},
		},
	})
	place(f, f.Entry, ts)

	err := lower.Func(x.ctx, f)
	if err == nil || !strings.Contains(err.Error(), "value class") {
		t.Fatalf("lower.Func = %v, want value class fault", err)
	}
}

func freezeFunc(x *fx, class types.ClassID) (*ir.Func, ir.ValueID, ir.ValueID) {
	obj := x.in.Object(class)
	f := x.fn("freeze", []types.TypeID{obj}, obj)
	v := f.Blocks[f.Entry].Params[0]
	fr := f.NewInstr(ir.Instr{Kind: ir.InstrFreeze, Type: obj, Freeze: ir.FreezeInstr{Value: v}})
	ret := f.NewInstr(ir.Instr{Kind: ir.InstrReturn, Return: ir.ReturnInstr{Value: fr}})
	place(f, f.Entry, fr, ret)
	return f, v, ret
}

func TestFreezeDeeplyImmutable(t *testing.T) {
	x := newFx(t, target.X86_64LinuxGNU())
	f, v, ret := freezeFunc(x, x.glass)
	mustLower(t, x, f)

	if got := f.Instr(ret).Return.Value; got != v {
		t.Errorf("return reads v%d, want the operand v%d", got, v)
	}
	if countKind(f, ir.InstrLoad) != 0 || countKind(f, ir.InstrStore) != 0 {
		t.Error("deeply immutable freeze touched memory")
	}
}

func TestFreezeStaticallyMutable(t *testing.T) {
	x := newFx(t, target.X86_64LinuxGNU())
	f, _, _ := freezeFunc(x, x.box)
	mustLower(t, x, f)

	if countKind(f, ir.InstrBranch) != 0 {
		t.Error("statically mutable freeze emitted a guard")
	}
	if countKind(f, ir.InstrLoad) != 1 || countKind(f, ir.InstrStore) != 1 {
		t.Errorf("load/store = %d/%d, want unconditional 1/1",
			countKind(f, ir.InstrLoad), countKind(f, ir.InstrStore))
	}
}

func TestFreezeMaybeReadOnly(t *testing.T) {
	x := newFx(t, target.X86_64LinuxGNU())
	f, _, _ := freezeFunc(x, x.rope)
	mustLower(t, x, f)

	if n := countKind(f, ir.InstrBranch); n != 1 {
		t.Fatalf("Branch count = %d, want a single guard", n)
	}
	if n := countKind(f, ir.InstrStore); n != 1 {
		t.Fatalf("Store count = %d, want the single guarded store", n)
	}
	// The store must sit in a block of its own, not on the fall-through
	// path: an already-frozen value takes the branch that skips it.
	var storeBlock ir.BlockID = ir.NoBlockID
	for i := range f.Blocks {
		for _, id := range f.Blocks[i].Code {
			if f.Instr(id).Kind == ir.InstrStore {
				storeBlock = f.Blocks[i].ID
			}
		}
	}
	if storeBlock == f.Entry {
		t.Error("guarded store remained on the unconditional path")
	}
	term := f.Instr(f.Block(f.Entry).Code[len(f.Block(f.Entry).Code)-1])
	if term.Kind != ir.InstrBranch {
		t.Fatalf("entry terminator = kind %d, want the guard branch", term.Kind)
	}
	if term.Branch.Then.Block == storeBlock {
		t.Error("already-frozen path leads to the store")
	}
	if err := ir.ValidateFunc(f); err != nil {
		t.Errorf("guard split left the function invalid: %v", err)
	}
}

func TestWithLowering(t *testing.T) {
	x := newFx(t, target.X86_64LinuxGNU())
	b := x.in.Builtins()
	obj := x.in.Object(x.pair)
	f := x.fn("update", []types.TypeID{obj, b.I64}, obj)
	src := f.Blocks[f.Entry].Params[0]
	nv := f.Blocks[f.Entry].Params[1]
	w := f.NewInstr(ir.Instr{
		Kind: ir.InstrWith,
		Type: obj,
		With: ir.WithInstr{Class: x.pair, Object: src, Fields: []ir.FieldInit{{Field: 1, Value: nv}}},
	})
	ret := f.NewInstr(ir.Instr{Kind: ir.InstrReturn, Return: ir.ReturnInstr{Value: w}})
	place(f, f.Entry, w, ret)

	mustLower(t, x, f)

	if got := f.Instr(w); got.Kind != ir.InstrPtrOffset || got.PtrOffset.Offset != 8 {
		t.Fatalf("updated id = kind %d, want the visible pointer", got.Kind)
	}
	if countKind(f, ir.InstrMemCopy) != 1 {
		t.Fatal("no bulk clone emitted")
	}
	// One override store only; the x field and the header ride the copy.
	var stores []ir.StoreInstr
	for _, id := range f.Block(f.Entry).Code {
		if ins := f.Instr(id); ins.Kind == ir.InstrStore {
			stores = append(stores, ins.Store)
		}
	}
	if len(stores) != 1 || stores[0].Offset != 8 || stores[0].Value != nv {
		t.Fatalf("override stores = %+v, want one store of y at +8", stores)
	}
	for _, id := range f.Block(f.Entry).Code {
		if ins := f.Instr(id); ins.Kind == ir.InstrAlloc && ins.Alloc.ZeroFill {
			t.Error("clone allocation zero-fills a fully overwritten region")
		}
	}
}

func TestArrayLenLowering(t *testing.T) {
	x := newFx(t, target.X86_64LinuxGNU())
	b := x.in.Builtins()
	arr := x.in.Object(x.ints)
	f := x.fn("len", []types.TypeID{arr}, b.U64)
	a := f.Blocks[f.Entry].Params[0]
	ln := f.NewInstr(ir.Instr{Kind: ir.InstrArrayLen, Type: b.U64, ArrayLen: ir.ArrayLenInstr{Array: a}})
	ret := f.NewInstr(ir.Instr{Kind: ir.InstrReturn, Return: ir.ReturnInstr{Value: ln}})
	place(f, f.Entry, ln, ret)

	mustLower(t, x, f)

	got := f.Instr(ln)
	if got.Kind != ir.InstrCast || got.Cast.Op != ir.CastZExt {
		t.Fatalf("length id = kind %d, want zero-extending cast", got.Kind)
	}
	load := f.Instr(got.Cast.Value)
	if load.Kind != ir.InstrLoad || load.Load.Offset != x.tgt.CountOffset() {
		t.Fatalf("length source = %+v, want load at the count offset", load)
	}
	if !load.Load.Cacheable {
		t.Error("count load not marked cacheable")
	}
}

func TestArrayNewSkipsZeroStores(t *testing.T) {
	x := newFx(t, target.X86_64LinuxGNU())
	b := x.in.Builtins()
	arr := x.in.Object(x.ints)
	f := x.fn("lit", nil, arr)
	mk := func(v int64) ir.ValueID {
		return f.NewInstr(ir.Instr{Kind: ir.InstrConst, Type: b.I32, Const: ir.ConstInstr{Value: ir.IntConst(v)}})
	}
	e0, e1, e2 := mk(5), mk(0), mk(9)
	an := f.NewInstr(ir.Instr{
		Kind:     ir.InstrArrayNew,
		Type:     arr,
		ArrayNew: ir.ArrayNewInstr{Class: x.ints, Count: ir.NoValueID, Elems: []ir.ValueID{e0, e1, e2}},
	})
	ret := f.NewInstr(ir.Instr{Kind: ir.InstrReturn, Return: ir.ReturnInstr{Value: an}})
	place(f, f.Entry, e0, e1, e2, an, ret)

	mustLower(t, x, f)

	var elemStores []ir.StoreInstr
	for _, id := range f.Block(f.Entry).Code {
		if ins := f.Instr(id); ins.Kind == ir.InstrStore && ins.Store.Addr == an {
			elemStores = append(elemStores, ins.Store)
		}
	}
	// Zero-filled allocation already covers element 1.
	if len(elemStores) != 2 {
		t.Fatalf("element stores = %d, want 2 (all-zero literal skipped)", len(elemStores))
	}
	if elemStores[0].Offset != 0 || elemStores[1].Offset != 8 {
		t.Errorf("element store offsets = %d,%d, want 0,8", elemStores[0].Offset, elemStores[1].Offset)
	}
}

func TestArrayCloneLowering(t *testing.T) {
	x := newFx(t, target.X86_64LinuxGNU())
	arr := x.in.Object(x.ints)
	f := x.fn("clone", []types.TypeID{arr}, arr)
	src := f.Blocks[f.Entry].Params[0]
	cl := f.NewInstr(ir.Instr{Kind: ir.InstrArrayClone, Type: arr, ArrayClone: ir.ArrayCloneInstr{Class: x.ints, Array: src}})
	ret := f.NewInstr(ir.Instr{Kind: ir.InstrReturn, Return: ir.ReturnInstr{Value: cl}})
	place(f, f.Entry, cl, ret)

	mustLower(t, x, f)

	var copies []ir.MemCopyInstr
	for bi := range f.Blocks {
		for _, id := range f.Blocks[bi].Code {
			ins := f.Instr(id)
			if ins.Kind == ir.InstrMemCopy {
				copies = append(copies, ins.MemCopy)
			}
			if ins.Kind == ir.InstrAlloc && ins.Alloc.ZeroFill {
				t.Error("clone zero-fills content it fully overwrites")
			}
		}
	}
	if len(copies) != 1 || copies[0].Dst != cl || copies[0].Src != src {
		t.Fatalf("copies = %+v, want one source-to-clone copy", copies)
	}
	// The unaligned-tail zero store sits behind a nonzero-size guard; an
	// empty clone must not reach it.
	var guard *ir.BranchInstr
	for bi := range f.Blocks {
		for _, id := range f.Blocks[bi].Code {
			if ins := f.Instr(id); ins.Kind == ir.InstrBranch {
				if guard != nil {
					t.Fatal("more than one branch in a lowered clone")
				}
				guard = &ins.Branch
			}
		}
	}
	if guard == nil {
		t.Fatal("no tail guard branch emitted")
	}
	tailStores := 0
	for _, id := range f.Block(guard.Then.Block).Code {
		if f.Instr(id).Kind == ir.InstrStore {
			tailStores++
		}
	}
	if tailStores != 1 {
		t.Errorf("stores in the guarded block = %d, want the tail zero only", tailStores)
	}
}

func TestModuleLowersPopulatesAndPatches(t *testing.T) {
	x := newFx(t, target.X86_64LinuxGNU())
	b := x.in.Builtins()

	disp := x.fn("dispatch", []types.TypeID{x.in.Object(x.shape)}, b.F64)
	recv := disp.Blocks[disp.Entry].Params[0]
	call := disp.NewInstr(ir.Instr{
		Kind:        ir.InstrCallVirtual,
		Type:        b.F64,
		CallVirtual: ir.CallVirtualInstr{Method: "area", Recv: recv},
	})
	ret := disp.NewInstr(ir.Instr{Kind: ir.InstrReturn, Return: ir.ReturnInstr{Value: call}})
	place(disp, disp.Entry, call, ret)

	build := x.fn("build", nil, x.in.Object(x.pair))
	cx := build.NewInstr(ir.Instr{Kind: ir.InstrConst, Type: b.I64, Const: ir.ConstInstr{Value: ir.IntConst(1)}})
	cy := build.NewInstr(ir.Instr{Kind: ir.InstrConst, Type: b.I64, Const: ir.ConstInstr{Value: ir.IntConst(2)}})
	obj := build.NewInstr(ir.Instr{
		Kind:      ir.InstrNewObject,
		Type:      x.in.Object(x.pair),
		NewObject: ir.NewObjectInstr{Class: x.pair, Args: []ir.ValueID{cx, cy}},
	})
	bret := build.NewInstr(ir.Instr{Kind: ir.InstrReturn, Return: ir.ReturnInstr{Value: obj}})
	place(build, build.Entry, cx, cy, obj, bret)
	build.ID = 1

	mod := &ir.Module{
		Name:  "m",
		Files: source.NewFileTable(),
		Funcs: []*ir.Func{disp, build},
	}

	table, err := lower.Module(x.ctx, mod)
	if err != nil {
		t.Fatalf("lower.Module failed: %v", err)
	}
	for _, f := range mod.Funcs {
		if err := ir.ValidateLowered(f); err != nil {
			t.Errorf("%s not fully lowered: %v", f.Name, err)
		}
	}
	// The dispatch request got a real offset, and every class the module
	// touches has a table.
	if off := table.OffsetOf(0); off < 0 {
		t.Errorf("request 0 offset = %d", off)
	}
	for _, c := range []types.ClassID{x.circle, x.square, x.tri} {
		if table.Size(c) < int64(x.tgt.PtrSize) {
			t.Errorf("class %s table is %d bytes, want at least one slot", x.cs.Name(c), table.Size(c))
		}
	}
	tabled := map[types.ClassID]bool{}
	for _, c := range table.Classes() {
		tabled[c] = true
	}
	if !tabled[x.pair] {
		t.Error("constructed class Pair received no table")
	}
	// The patched load reads the populated offset.
	var patched *ir.Instr
	for _, id := range disp.Block(disp.Entry).Code {
		ins := disp.Instr(id)
		if ins.Kind == ir.InstrLoad && ins.Load.Cacheable {
			patched = ins
		}
	}
	if patched == nil {
		t.Fatal("no patched slot load in the dispatch function")
	}
	if patched.Load.Offset != table.OffsetOf(0) {
		t.Errorf("patched offset = %d, want %d", patched.Load.Offset, table.OffsetOf(0))
	}
}

func TestScavengeConstants(t *testing.T) {
	x := newFx(t, target.X86_64LinuxGNU())
	b := x.in.Builtins()

	f := x.fn("main", nil, b.Void)
	ret := f.NewInstr(ir.Instr{Kind: ir.InstrReturn})
	place(f, f.Entry, ret)

	mod := &ir.Module{Name: "m", Files: source.NewFileTable(), Funcs: []*ir.Func{f}}
	inner := mod.AddConst(ir.ConstData{Class: x.ints, Elems: []ir.ConstValue{ir.IntConst(1)}})
	outer := mod.AddConst(ir.ConstData{
		Class: x.pair,
		Elems: []ir.ConstValue{ir.DataConst(inner), ir.DataConst(inner)},
	})
	mod.Roots = []ir.ConstID{outer}

	if _, err := lower.Module(x.ctx, mod); err != nil {
		t.Fatalf("lower.Module failed: %v", err)
	}
	need := map[types.ClassID]bool{}
	for _, c := range x.reg.Classes() {
		need[c] = true
	}
	if !need[x.pair] || !need[x.ints] {
		t.Errorf("constant-reachable classes missing from the vtable set: %v", x.reg.Classes())
	}
}
