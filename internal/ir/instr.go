package ir

import (
	"opal/internal/source"
	"opal/internal/types"
)

// InstrKind enumerates instruction kinds. The set is closed: every switch
// over it is exhaustive, so adding a kind forces each one to be revisited.
type InstrKind uint8

const (
	// InstrConst materializes a constant value.
	InstrConst InstrKind = iota
	// InstrUndef is a value with no producer; it stands in for results of
	// statically unreachable calls that have no scalar zero.
	InstrUndef
	// InstrParam reads one block parameter.
	InstrParam
	// InstrBin is a binary arithmetic/logic/compare operation.
	InstrBin
	// InstrCast converts between integer widths.
	InstrCast
	// InstrCall is a direct call to a known function.
	InstrCall
	// InstrCallVirtual is an abstract virtual call; lowering rewrites it.
	InstrCallVirtual
	// InstrCallIndirect calls through a function-pointer value.
	InstrCallIndirect
	// InstrNewObject constructs a class instance; lowering rewrites it.
	InstrNewObject
	// InstrArrayNew constructs an array; lowering rewrites it.
	InstrArrayNew
	// InstrArrayClone copies an array; lowering rewrites it.
	InstrArrayClone
	// InstrArrayLen reads an array's element count; lowering rewrites it.
	InstrArrayLen
	// InstrArrayHash reads an array's hash word; lowering rewrites it.
	InstrArrayHash
	// InstrWith is a functional record update; lowering rewrites it.
	InstrWith
	// InstrGetField reads one object field; lowering rewrites it.
	InstrGetField
	// InstrSetField writes one object field; lowering rewrites it.
	InstrSetField
	// InstrExtract reads one component of a multi-value result.
	InstrExtract
	// InstrFreeze marks a value deeply immutable; lowering rewrites it.
	InstrFreeze
	// InstrAlloc requests raw memory from the allocator.
	InstrAlloc
	// InstrPtrOffset adds a constant byte offset to a pointer.
	InstrPtrOffset
	// InstrLoad reads memory at a fixed offset from a pointer.
	InstrLoad
	// InstrLoadSlot reads a not-yet-positioned vtable slot.
	InstrLoadSlot
	// InstrStore writes memory at a fixed offset from a pointer.
	InstrStore
	// InstrMemCopy copies a byte range between pointers.
	InstrMemCopy
	// InstrTrap calls the runtime diagnostic trap.
	InstrTrap
	// InstrNop does nothing.
	InstrNop

	// InstrJump is an unconditional terminator.
	InstrJump
	// InstrBranch is a two-way conditional terminator.
	InstrBranch
	// InstrSwitch is a dense numeric multi-way terminator.
	InstrSwitch
	// InstrTypeSwitch dispatches on a value's runtime class; lowering
	// rewrites it.
	InstrTypeSwitch
	// InstrIndirectJump jumps through a code-label value.
	InstrIndirectJump
	// InstrInvokeVirtual is a virtual call with success/unwind edges;
	// lowering rewrites it.
	InstrInvokeVirtual
	// InstrInvokeIndirect is an indirect call with success/unwind edges.
	InstrInvokeIndirect
	// InstrReturn leaves the function.
	InstrReturn
	// InstrUnreachable marks a point control flow can never reach.
	InstrUnreachable
)

// IsTerminator reports whether the kind terminates a basic block.
func (k InstrKind) IsTerminator() bool {
	switch k {
	case InstrJump, InstrBranch, InstrSwitch, InstrTypeSwitch,
		InstrIndirectJump, InstrInvokeVirtual, InstrInvokeIndirect,
		InstrReturn, InstrUnreachable:
		return true
	default:
		return false
	}
}

// Instr is one arena-resident instruction. Type is the result type
// (builtin void for instructions that produce nothing).
type Instr struct {
	Kind InstrKind
	Type types.TypeID
	Span source.Span

	Const          ConstInstr
	Param          ParamInstr
	Bin            BinInstr
	Cast           CastInstr
	Call           CallInstr
	CallVirtual    CallVirtualInstr
	CallIndirect   CallIndirectInstr
	NewObject      NewObjectInstr
	ArrayNew       ArrayNewInstr
	ArrayClone     ArrayCloneInstr
	ArrayLen       ArrayLenInstr
	ArrayHash      ArrayHashInstr
	With           WithInstr
	GetField       GetFieldInstr
	SetField       SetFieldInstr
	Extract        ExtractInstr
	Freeze         FreezeInstr
	Alloc          AllocInstr
	PtrOffset      PtrOffsetInstr
	Load           LoadInstr
	LoadSlot       LoadSlotInstr
	Store          StoreInstr
	MemCopy        MemCopyInstr
	Trap           TrapInstr
	Jump           JumpInstr
	Branch         BranchInstr
	Switch         SwitchInstr
	TypeSwitch     TypeSwitchInstr
	IndirectJump   IndirectJumpInstr
	InvokeVirtual  InvokeVirtualInstr
	InvokeIndirect InvokeIndirectInstr
	Return         ReturnInstr
}

// Succ is one successor edge with block arguments.
type Succ struct {
	Block BlockID
	Args  []ValueID
}

// ConstInstr materializes a constant.
type ConstInstr struct {
	Value ConstValue
}

// ParamInstr reads the block parameter at Index.
type ParamInstr struct {
	Index int32
}

// BinOp enumerates binary operations.
type BinOp uint8

const (
	// BinAdd is integer addition.
	BinAdd BinOp = iota
	// BinSub is integer subtraction.
	BinSub
	// BinMul is integer multiplication.
	BinMul
	// BinAnd is bitwise and.
	BinAnd
	// BinOr is bitwise or.
	BinOr
	// BinEq is equality, producing bool.
	BinEq
	// BinNe is inequality, producing bool.
	BinNe
)

func (op BinOp) String() string {
	switch op {
	case BinAdd:
		return "add"
	case BinSub:
		return "sub"
	case BinMul:
		return "mul"
	case BinAnd:
		return "and"
	case BinOr:
		return "or"
	case BinEq:
		return "eq"
	case BinNe:
		return "ne"
	default:
		return "bin?"
	}
}

// BinInstr applies Op to LHS and RHS.
type BinInstr struct {
	Op  BinOp
	LHS ValueID
	RHS ValueID
}

// CastOp enumerates width conversions.
type CastOp uint8

const (
	// CastZExt zero-extends to the result type.
	CastZExt CastOp = iota
	// CastTrunc truncates to the result type.
	CastTrunc
)

func (op CastOp) String() string {
	switch op {
	case CastZExt:
		return "zext"
	case CastTrunc:
		return "trunc"
	default:
		return "cast?"
	}
}

// CastInstr converts Value to the instruction's result type.
type CastInstr struct {
	Op    CastOp
	Value ValueID
}

// CallInstr calls a known function directly.
type CallInstr struct {
	Func FuncID
	Args []ValueID
}

// CallVirtualInstr is an abstract virtual call on a receiver.
type CallVirtualInstr struct {
	Method string
	Recv   ValueID
	Args   []ValueID
}

// CallIndirectInstr calls through Callee, a function-pointer value.
type CallIndirectInstr struct {
	Callee ValueID
	Args   []ValueID
}

// NewObjectInstr constructs an instance of Class with one argument per
// declared field, in declaration order.
type NewObjectInstr struct {
	Class types.ClassID
	Args  []ValueID
}

// ArrayNewInstr constructs an array of Class. Elems holds literal element
// values (count × tuple arity, outer loop elements); when Elems is empty the
// array is default zero-filled with Count elements.
type ArrayNewInstr struct {
	Class types.ClassID
	Count ValueID
	Elems []ValueID
}

// ArrayCloneInstr copies Array's element region into a fresh array.
type ArrayCloneInstr struct {
	Class types.ClassID
	Array ValueID
}

// ArrayLenInstr reads Array's element count.
type ArrayLenInstr struct {
	Array ValueID
}

// ArrayHashInstr reads Array's hash word.
type ArrayHashInstr struct {
	Array ValueID
}

// FieldInit is one overridden field of a functional update.
type FieldInit struct {
	Field int32
	Value ValueID
}

// WithInstr clones Object and overwrites the listed fields.
type WithInstr struct {
	Class  types.ClassID
	Object ValueID
	Fields []FieldInit
}

// GetFieldInstr reads field Field of Object.
type GetFieldInstr struct {
	Class  types.ClassID
	Object ValueID
	Field  int32
}

// SetFieldInstr writes Value into field Field of Object.
type SetFieldInstr struct {
	Class  types.ClassID
	Object ValueID
	Field  int32
	Value  ValueID
}

// ExtractInstr reads component Index of a multi-value result.
type ExtractInstr struct {
	Agg   ValueID
	Index int32
}

// FreezeInstr marks Value deeply immutable without changing representation.
type FreezeInstr struct {
	Value ValueID
}

// AllocInstr requests Size bytes. ZeroFill is disabled when the lowered
// sequence performs its own exhaustive zeroing or overwrites everything.
type AllocInstr struct {
	Size     ValueID
	ZeroFill bool
}

// PtrOffsetInstr is Base plus a constant byte offset.
type PtrOffsetInstr struct {
	Base   ValueID
	Offset int64
}

// LoadInstr reads the result type's width at Addr+Offset. Cacheable marks
// loads of values immutable for the object's lifetime, for a later
// common-subexpression pass.
type LoadInstr struct {
	Addr      ValueID
	Offset    int64
	Cacheable bool
}

// LoadSlotInstr reads the vtable slot registered as Slot from the table
// pointed to by VTable. Patched into a plain Load after population.
type LoadSlotInstr struct {
	VTable ValueID
	Slot   SlotID
}

// StoreInstr writes Value's width at Addr+Offset.
type StoreInstr struct {
	Addr   ValueID
	Offset int64
	Value  ValueID
}

// MemCopyInstr copies Len bytes from Src to Dst.
type MemCopyInstr struct {
	Dst ValueID
	Src ValueID
	Len ValueID
}

// TrapInstr calls the runtime diagnostic trap with a message and an
// optional value (NoValueID when absent).
type TrapInstr struct {
	Message string
	Value   ValueID
}

// JumpInstr transfers control to one successor.
type JumpInstr struct {
	To Succ
}

// BranchInstr picks Then when Cond is true, Else otherwise.
type BranchInstr struct {
	Cond ValueID
	Then Succ
	Else Succ
}

// SwitchCase is one dense switch arm.
type SwitchCase struct {
	Index uint32
	To    Succ
}

// SwitchInstr dispatches on a dense unsigned index. Cases cover a
// contiguous range starting at 0; Default receives any other value.
type SwitchInstr struct {
	Value   ValueID
	Cases   []SwitchCase
	Default Succ
}

// TypeCase is one type-switch arm; Class may be abstract.
type TypeCase struct {
	Class types.ClassID
	To    Succ
}

// TypeSwitchInstr dispatches on Value's runtime class. Cases cover every
// concrete subtype of Value's static type.
type TypeSwitchInstr struct {
	Value ValueID
	Cases []TypeCase
}

// IndirectJumpInstr jumps to the code label held by Target. Dests lists
// every block the label may address.
type IndirectJumpInstr struct {
	Target ValueID
	Dests  []BlockID
}

// InvokeVirtualInstr is a virtual call with success/unwind edges.
type InvokeVirtualInstr struct {
	Method string
	Recv   ValueID
	Args   []ValueID
	Normal Succ
	Unwind Succ
}

// InvokeIndirectInstr is an indirect call with success/unwind edges.
type InvokeIndirectInstr struct {
	Callee ValueID
	Args   []ValueID
	Normal Succ
	Unwind Succ
}

// ReturnInstr leaves the function with an optional value.
type ReturnInstr struct {
	Value ValueID
}
