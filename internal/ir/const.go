package ir

import (
	"fmt"
	"math"

	"opal/internal/types"
)

// ConstKind distinguishes constant kinds.
type ConstKind uint8

const (
	// ConstInt is a signed or unsigned integer; I64 holds the bit pattern.
	ConstInt ConstKind = iota
	// ConstFloat is a floating-point value.
	ConstFloat
	// ConstBool is a boolean.
	ConstBool
	// ConstNull is the null pointer.
	ConstNull
	// ConstFunc is a function entry point.
	ConstFunc
	// ConstLabel is a code label addressing a block of a function.
	ConstLabel
	// ConstDataRef references an entry of the module constant pool.
	ConstDataRef
	// ConstVTable is the address of a class's populated vtable.
	ConstVTable
)

// ConstValue is a comparable constant descriptor. Comparability matters:
// vtable request canonicalization compares entry values directly.
type ConstValue struct {
	Kind  ConstKind
	I64   int64
	F64   float64
	Bool  bool
	Func  FuncID
	Label BlockID
	Data  ConstID
	Class types.ClassID
}

func IntConst(v int64) ConstValue { return ConstValue{Kind: ConstInt, I64: v} }

func FloatConst(v float64) ConstValue { return ConstValue{Kind: ConstFloat, F64: v} }

func BoolConst(v bool) ConstValue { return ConstValue{Kind: ConstBool, Bool: v} }

func NullConst() ConstValue { return ConstValue{Kind: ConstNull} }

func FuncConst(f FuncID) ConstValue { return ConstValue{Kind: ConstFunc, Func: f} }

func LabelConst(f FuncID, b BlockID) ConstValue {
	return ConstValue{Kind: ConstLabel, Func: f, Label: b}
}

func DataConst(d ConstID) ConstValue { return ConstValue{Kind: ConstDataRef, Data: d} }

func VTableConst(c types.ClassID) ConstValue { return ConstValue{Kind: ConstVTable, Class: c} }

// IsZeroBits reports whether the constant's stored representation is all
// zero bits, which lets literal array stores be skipped when the region is
// already zero-filled. Note -0.0 has a sign bit and is not zero bits.
func (c ConstValue) IsZeroBits() bool {
	switch c.Kind {
	case ConstInt:
		return c.I64 == 0
	case ConstFloat:
		return math.Float64bits(c.F64) == 0
	case ConstBool:
		return !c.Bool
	case ConstNull:
		return true
	default:
		return false
	}
}

// Key renders a canonical text form used for structural deduplication.
func (c ConstValue) Key() string {
	switch c.Kind {
	case ConstInt:
		return fmt.Sprintf("i%x", uint64(c.I64))
	case ConstFloat:
		return fmt.Sprintf("f%x", math.Float64bits(c.F64))
	case ConstBool:
		if c.Bool {
			return "b1"
		}
		return "b0"
	case ConstNull:
		return "n"
	case ConstFunc:
		return fmt.Sprintf("fn%d", c.Func)
	case ConstLabel:
		return fmt.Sprintf("l%d.%d", c.Func, c.Label)
	case ConstDataRef:
		return fmt.Sprintf("d%d", c.Data)
	case ConstVTable:
		return fmt.Sprintf("vt%d", c.Class)
	default:
		return fmt.Sprintf("?%d", c.Kind)
	}
}

// ConstData is one serialized constant object or array in the module pool.
// Reference-typed elements point at other pool entries via ConstData values,
// forming the graph the reachability scavenge walks.
type ConstData struct {
	Class types.ClassID
	Elems []ConstValue
}
