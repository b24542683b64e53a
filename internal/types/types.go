package types

import "fmt"

// TypeID uniquely identifies a type inside the interner.
type TypeID uint32

// NoTypeID marks the absence of a type.
const NoTypeID TypeID = 0

// Kind enumerates all supported kinds of types.
type Kind uint8

const (
	KindInvalid Kind = iota
	// KindVoid is the type of instructions that produce no value.
	KindVoid
	KindBool
	KindInt
	KindUint
	KindFloat
	// KindPtr is a raw byte pointer; lowered code addresses memory through it.
	KindPtr
	// KindLabel is the type of code-label constants stored into vtables for
	// computed-jump dispatch.
	KindLabel
	// KindObject is a reference to an instance of a class.
	KindObject
	// KindTuple is a multi-value aggregate, used for invoke results.
	KindTuple
)

func (k Kind) String() string {
	switch k {
	case KindInvalid:
		return "invalid"
	case KindVoid:
		return "void"
	case KindBool:
		return "bool"
	case KindInt:
		return "int"
	case KindUint:
		return "uint"
	case KindFloat:
		return "float"
	case KindPtr:
		return "ptr"
	case KindLabel:
		return "label"
	case KindObject:
		return "object"
	case KindTuple:
		return "tuple"
	default:
		return fmt.Sprintf("Kind(%d)", k)
	}
}

// Width captures the precision of integers/floats in bits.
type Width uint8

const (
	WidthAny Width = 0
	Width8   Width = 8
	Width16  Width = 16
	Width32  Width = 32
	Width64  Width = 64
)

// Type is a compact descriptor for any supported type.
type Type struct {
	Kind    Kind
	Width   Width   // for numeric primitives
	Class   ClassID // for objects
	Payload uint32  // tuple side-table index
}

// MakeInt describes a signed integer of the given width.
func MakeInt(width Width) Type {
	return Type{Kind: KindInt, Width: width}
}

// MakeUint describes an unsigned integer type.
func MakeUint(width Width) Type {
	return Type{Kind: KindUint, Width: width}
}

// MakeFloat describes a floating-point type.
func MakeFloat(width Width) Type {
	return Type{Kind: KindFloat, Width: width}
}

// MakeObject describes a reference to an instance of class c.
func MakeObject(c ClassID) Type {
	return Type{Kind: KindObject, Class: c}
}
