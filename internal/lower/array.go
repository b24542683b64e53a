package lower

import (
	"math"

	"opal/internal/diag"
	"opal/internal/ir"
	"opal/internal/source"
	"opal/internal/types"
)

// emitArrayAlloc is the shared allocation routine behind array construction
// and cloning. It computes header + count x stride (constant-folded for a
// compile-time count), allocates, redefines id to the visible pointer and
// stores the header fields. With zeroFill off it also clears the hash word
// and the unaligned content tail, and returns the content byte size for the
// caller's bulk copy; with zeroFill on the returned id is NoValueID.
func (l *funcLowerer) emitArrayAlloc(id ir.ValueID, span source.Span, class types.ClassID, count ir.ValueID, zeroFill bool) (ir.ValueID, error) {
	cls, err := l.refClass(span, class, "array construction")
	if err != nil {
		return ir.NoValueID, err
	}
	if !cls.IsArray() {
		return ir.NoValueID, diag.ICEf(span, "array construction of non-array class %s", cls.Name)
	}
	info, err := l.ctx.Layout.ArrayInfo(class)
	if err != nil {
		return ir.NoValueID, diag.ICEf(span, "no element layout for class %s: %v", cls.Name, err)
	}
	l.ctx.Reg.NeedClass(class)

	b := l.ctx.Types.Builtins()
	pu := l.ptrUint()
	stride := info.ElemBytes()
	header := l.ctx.Target.ArrayHeader()

	var alloc, content, rounded ir.ValueID
	var cnt32 ir.ValueID
	staticTail := int64(-1)

	if n, ok := l.constIntValue(count); ok {
		if n < 0 {
			return ir.NoValueID, diag.ICEf(span, "negative array count %d", n)
		}
		if n > math.MaxUint32 {
			return ir.NoValueID, diag.ICEf(span, "array count %d exceeds 32 bits", n)
		}
		contentB := n * stride
		roundedB := roundUp8(contentB)
		size := l.constInt(span, pu, header+roundedB)
		alloc = l.emit(ir.Instr{
			Kind:  ir.InstrAlloc,
			Type:  b.Ptr,
			Span:  span,
			Alloc: ir.AllocInstr{Size: size, ZeroFill: zeroFill},
		})
		if !zeroFill {
			content = l.constInt(span, pu, contentB)
			staticTail = contentB
		}
		cnt32 = l.constInt(span, b.U32, n)
	} else {
		cw := l.castTo(span, count, pu)
		strideC := l.constInt(span, pu, stride)
		mul := l.emit(ir.Instr{
			Kind: ir.InstrBin,
			Type: pu,
			Span: span,
			Bin:  ir.BinInstr{Op: ir.BinMul, LHS: cw, RHS: strideC},
		})
		content = mul
		rounded = mul
		if stride%8 != 0 {
			seven := l.constInt(span, pu, 7)
			add := l.emit(ir.Instr{
				Kind: ir.InstrBin,
				Type: pu,
				Span: span,
				Bin:  ir.BinInstr{Op: ir.BinAdd, LHS: mul, RHS: seven},
			})
			mask := l.constInt(span, pu, ^int64(7))
			rounded = l.emit(ir.Instr{
				Kind: ir.InstrBin,
				Type: pu,
				Span: span,
				Bin:  ir.BinInstr{Op: ir.BinAnd, LHS: add, RHS: mask},
			})
		}
		headerC := l.constInt(span, pu, header)
		size := l.emit(ir.Instr{
			Kind: ir.InstrBin,
			Type: pu,
			Span: span,
			Bin:  ir.BinInstr{Op: ir.BinAdd, LHS: rounded, RHS: headerC},
		})
		alloc = l.emit(ir.Instr{
			Kind:  ir.InstrAlloc,
			Type:  b.Ptr,
			Span:  span,
			Alloc: ir.AllocInstr{Size: size, ZeroFill: zeroFill},
		})
		cnt32 = l.castTo(span, count, b.U32)
	}

	l.redefine(id, ir.Instr{
		Kind:      ir.InstrPtrOffset,
		Type:      l.fn.TypeOf(id),
		Span:      span,
		PtrOffset: ir.PtrOffsetInstr{Base: alloc, Offset: header},
	})

	if !zeroFill {
		l.emitContentTail(span, id, rounded, staticTail, stride)
		// The hash word is reserved at construction; the zero-filled path
		// gets it for free.
		hz := l.constInt(span, b.U32, 0)
		l.emit(ir.Instr{
			Kind:  ir.InstrStore,
			Type:  b.Void,
			Span:  span,
			Store: ir.StoreInstr{Addr: alloc, Offset: 4, Value: hz},
		})
	}
	l.emit(ir.Instr{
		Kind:  ir.InstrStore,
		Type:  b.Void,
		Span:  span,
		Store: ir.StoreInstr{Addr: alloc, Offset: 0, Value: cnt32},
	})
	vt := l.emit(ir.Instr{
		Kind:  ir.InstrConst,
		Type:  b.Ptr,
		Span:  span,
		Const: ir.ConstInstr{Value: ir.VTableConst(class)},
	})
	l.emit(ir.Instr{
		Kind:  ir.InstrStore,
		Type:  b.Void,
		Span:  span,
		Store: ir.StoreInstr{Addr: alloc, Offset: 8, Value: vt},
	})

	if zeroFill {
		return ir.NoValueID, nil
	}
	return content, nil
}

// emitContentTail zeroes the bytes between the content end and its 64-bit
// rounding so no unfilled construction path leaves garbage in the last word.
// With a compile-time size the tail is covered exactly by at most three
// aligned stores; with a dynamic size one zero word lands over the last word
// of the rounded region before the caller's bulk copy refills its lead bytes.
// The dynamic store sits behind a nonzero-size guard: an empty region has no
// last word, and rounded-8 would wrap onto the header.
func (l *funcLowerer) emitContentTail(span source.Span, visible, rounded ir.ValueID, staticContent, stride int64) {
	b := l.ctx.Types.Builtins()
	if staticContent >= 0 {
		off := staticContent
		end := roundUp8(staticContent)
		for off < end {
			rem := end - off
			width, ty := int64(1), b.U8
			switch {
			case rem >= 4 && off%4 == 0:
				width, ty = 4, b.U32
			case rem >= 2 && off%2 == 0:
				width, ty = 2, b.U16
			}
			z := l.constInt(span, ty, 0)
			l.emit(ir.Instr{
				Kind:  ir.InstrStore,
				Type:  b.Void,
				Span:  span,
				Store: ir.StoreInstr{Addr: visible, Offset: off, Value: z},
			})
			off += width
		}
		return
	}
	if stride%8 == 0 {
		return
	}
	pu := l.ptrUint()
	zero := l.constInt(span, pu, 0)
	cond := l.emit(ir.Instr{
		Kind: ir.InstrBin,
		Type: b.Bool,
		Span: span,
		Bin:  ir.BinInstr{Op: ir.BinNe, LHS: rounded, RHS: zero},
	})
	cont := l.fn.NewBlock()
	tail := l.fn.NewBlock()
	l.emit(ir.Instr{
		Kind:   ir.InstrBranch,
		Type:   b.Void,
		Span:   span,
		Branch: ir.BranchInstr{Cond: cond, Then: ir.Succ{Block: tail}, Else: ir.Succ{Block: cont}},
	})
	l.flush()

	l.startBlock(tail)
	eight := l.constInt(span, pu, 8)
	last := l.emit(ir.Instr{
		Kind: ir.InstrBin,
		Type: pu,
		Span: span,
		Bin:  ir.BinInstr{Op: ir.BinSub, LHS: rounded, RHS: eight},
	})
	addr := l.emit(ir.Instr{
		Kind: ir.InstrBin,
		Type: b.Ptr,
		Span: span,
		Bin:  ir.BinInstr{Op: ir.BinAdd, LHS: visible, RHS: last},
	})
	z := l.constInt(span, b.U64, 0)
	l.emit(ir.Instr{
		Kind:  ir.InstrStore,
		Type:  b.Void,
		Span:  span,
		Store: ir.StoreInstr{Addr: addr, Offset: 0, Value: z},
	})
	l.emit(ir.Instr{
		Kind: ir.InstrJump,
		Type: b.Void,
		Span: span,
		Jump: ir.JumpInstr{To: ir.Succ{Block: cont}},
	})
	l.flush()

	// Header stores and the caller's bulk copy continue in cont.
	l.startBlock(cont)
}

// lowerArrayNew expands literal and default array construction over the
// shared zero-filled allocation; stores of all-zero-bits literals are
// skipped because the region already reads as zero.
func (l *funcLowerer) lowerArrayNew(id ir.ValueID) error {
	ins := *l.fn.Instr(id)
	span := ins.Span
	an := ins.ArrayNew
	b := l.ctx.Types.Builtins()

	info, err := l.ctx.Layout.ArrayInfo(an.Class)
	if err != nil {
		return diag.ICEf(span, "no element layout for class#%d: %v", an.Class, err)
	}
	arity := len(info.Offsets)

	count := an.Count
	n := int64(0)
	if len(an.Elems) > 0 {
		if arity == 0 || len(an.Elems)%arity != 0 {
			return diag.ICEf(span, "array literal carries %d values for tuple arity %d",
				len(an.Elems), arity)
		}
		n = int64(len(an.Elems) / arity)
		if count.IsValid() {
			if c, ok := l.constIntValue(count); !ok || c != n {
				return diag.ICEf(span, "array literal count disagrees with %d elements", n)
			}
		} else {
			count = l.constInt(span, b.U64, n)
		}
	}
	if !count.IsValid() {
		return diag.ICEf(span, "array construction without a count")
	}

	if _, err := l.emitArrayAlloc(id, span, an.Class, count, true); err != nil {
		return err
	}

	stride := info.ElemBytes()
	for e := int64(0); e < n; e++ {
		for j := 0; j < arity; j++ {
			v := an.Elems[e*int64(arity)+int64(j)]
			if l.constZeroBits(v) {
				continue
			}
			l.emit(ir.Instr{
				Kind:  ir.InstrStore,
				Type:  b.Void,
				Span:  span,
				Store: ir.StoreInstr{Addr: id, Offset: e*stride + info.Offsets[j]/8, Value: v},
			})
		}
	}
	return nil
}

// lowerArrayClone reads the source count, allocates without zero-fill and
// bulk-copies the element region.
func (l *funcLowerer) lowerArrayClone(id ir.ValueID) error {
	ins := *l.fn.Instr(id)
	span := ins.Span
	ac := ins.ArrayClone
	b := l.ctx.Types.Builtins()

	cnt := l.emit(ir.Instr{
		Kind: ir.InstrLoad,
		Type: b.U32,
		Span: span,
		Load: ir.LoadInstr{Addr: ac.Array, Offset: l.ctx.Target.CountOffset(), Cacheable: true},
	})
	content, err := l.emitArrayAlloc(id, span, ac.Class, cnt, false)
	if err != nil {
		return err
	}
	l.emit(ir.Instr{
		Kind:    ir.InstrMemCopy,
		Type:    b.Void,
		Span:    span,
		MemCopy: ir.MemCopyInstr{Dst: id, Src: ac.Array, Len: content},
	})
	return nil
}

// lowerArrayLen reads the stored 32-bit count and widens it. The load is
// cacheable: the count never changes after construction.
func (l *funcLowerer) lowerArrayLen(id ir.ValueID) error {
	ins := *l.fn.Instr(id)
	b := l.ctx.Types.Builtins()
	load := l.emit(ir.Instr{
		Kind: ir.InstrLoad,
		Type: b.U32,
		Span: ins.Span,
		Load: ir.LoadInstr{Addr: ins.ArrayLen.Array, Offset: l.ctx.Target.CountOffset(), Cacheable: true},
	})
	l.redefine(id, ir.Instr{
		Kind: ir.InstrCast,
		Type: ins.Type,
		Span: ins.Span,
		Cast: ir.CastInstr{Op: ir.CastZExt, Value: load},
	})
	return nil
}

// lowerArrayHash reads the stored 32-bit hash word and widens it.
func (l *funcLowerer) lowerArrayHash(id ir.ValueID) error {
	ins := *l.fn.Instr(id)
	b := l.ctx.Types.Builtins()
	load := l.emit(ir.Instr{
		Kind: ir.InstrLoad,
		Type: b.U32,
		Span: ins.Span,
		Load: ir.LoadInstr{Addr: ins.ArrayHash.Array, Offset: l.ctx.Target.HashOffset(), Cacheable: true},
	})
	l.redefine(id, ir.Instr{
		Kind: ir.InstrCast,
		Type: ins.Type,
		Span: ins.Span,
		Cast: ir.CastInstr{Op: ir.CastZExt, Value: load},
	})
	return nil
}

func roundUp8(n int64) int64 {
	return (n + 7) &^ 7
}
