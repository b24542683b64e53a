package types

import (
	"fmt"
	"strconv"
	"strings"

	"fortio.org/safecast"
)

// Builtins stores TypeIDs for common primitive types.
type Builtins struct {
	Invalid TypeID
	Void    TypeID
	Bool    TypeID
	I8      TypeID
	I16     TypeID
	I32     TypeID
	I64     TypeID
	U8      TypeID
	U16     TypeID
	U32     TypeID
	U64     TypeID
	F32     TypeID
	F64     TypeID
	Ptr     TypeID
	Label   TypeID
}

// Interner provides stable TypeIDs by hashing structural descriptors.
type Interner struct {
	types    []Type
	index    map[typeKey]TypeID
	builtins Builtins
	tuples   [][]TypeID
	tupleIdx map[string]uint32
}

// NewInterner constructs an interner seeded with built-in primitives.
func NewInterner() *Interner {
	in := &Interner{
		index:    make(map[typeKey]TypeID, 64),
		tupleIdx: make(map[string]uint32),
	}
	in.tuples = append(in.tuples, nil) // reserve 0 as invalid sentinel
	in.builtins.Invalid = in.internRaw(Type{Kind: KindInvalid})
	in.builtins.Void = in.Intern(Type{Kind: KindVoid})
	in.builtins.Bool = in.Intern(Type{Kind: KindBool})
	in.builtins.I8 = in.Intern(MakeInt(Width8))
	in.builtins.I16 = in.Intern(MakeInt(Width16))
	in.builtins.I32 = in.Intern(MakeInt(Width32))
	in.builtins.I64 = in.Intern(MakeInt(Width64))
	in.builtins.U8 = in.Intern(MakeUint(Width8))
	in.builtins.U16 = in.Intern(MakeUint(Width16))
	in.builtins.U32 = in.Intern(MakeUint(Width32))
	in.builtins.U64 = in.Intern(MakeUint(Width64))
	in.builtins.F32 = in.Intern(MakeFloat(Width32))
	in.builtins.F64 = in.Intern(MakeFloat(Width64))
	in.builtins.Ptr = in.Intern(Type{Kind: KindPtr})
	in.builtins.Label = in.Intern(Type{Kind: KindLabel})
	return in
}

// Builtins returns TypeIDs for primitive types.
func (in *Interner) Builtins() Builtins {
	return in.builtins
}

// Intern ensures the provided descriptor has a stable TypeID.
func (in *Interner) Intern(t Type) TypeID {
	if t.Kind == KindInvalid {
		return NoTypeID
	}
	key := typeKey(t)
	if id, ok := in.index[key]; ok {
		return id
	}
	return in.internRaw(t)
}

// internRaw adds the descriptor to the storage without consulting the map.
func (in *Interner) internRaw(t Type) TypeID {
	lenTypes, err := safecast.Conv[uint32](len(in.types))
	if err != nil {
		panic(fmt.Errorf("types: len(types) overflow: %w", err))
	}
	id := TypeID(lenTypes)
	in.types = append(in.types, t)
	key := typeKey(t)
	in.index[key] = id
	return id
}

// Object interns the reference type for class c.
func (in *Interner) Object(c ClassID) TypeID {
	if c == NoClassID {
		return NoTypeID
	}
	return in.Intern(MakeObject(c))
}

// Tuple interns a multi-value aggregate with the given element types.
func (in *Interner) Tuple(elems []TypeID) TypeID {
	key := tupleKey(elems)
	idx, ok := in.tupleIdx[key]
	if !ok {
		n, err := safecast.Conv[uint32](len(in.tuples))
		if err != nil {
			panic(fmt.Errorf("types: tuple table overflow: %w", err))
		}
		idx = n
		in.tuples = append(in.tuples, append([]TypeID(nil), elems...))
		in.tupleIdx[key] = idx
	}
	return in.Intern(Type{Kind: KindTuple, Payload: idx})
}

// TupleElems returns the element types of a tuple TypeID, or nil.
func (in *Interner) TupleElems(id TypeID) []TypeID {
	t, ok := in.Lookup(id)
	if !ok || t.Kind != KindTuple || int(t.Payload) >= len(in.tuples) {
		return nil
	}
	return in.tuples[t.Payload]
}

// Lookup returns the descriptor for a TypeID.
func (in *Interner) Lookup(id TypeID) (Type, bool) {
	if id == NoTypeID || int(id) >= len(in.types) {
		return Type{}, false
	}
	return in.types[id], true
}

// MustLookup panics when id is invalid.
func (in *Interner) MustLookup(id TypeID) Type {
	tt, ok := in.Lookup(id)
	if !ok {
		panic("types: invalid TypeID")
	}
	return tt
}

// ObjectClass returns the class of an object TypeID, or NoClassID.
func (in *Interner) ObjectClass(id TypeID) ClassID {
	t, ok := in.Lookup(id)
	if !ok || t.Kind != KindObject {
		return NoClassID
	}
	return t.Class
}

// BitWidth returns the scalar width of a type in bits. Pointer-shaped kinds
// (ptr, label, object) take the target pointer width. The second result is
// false for void and tuple types, which have no scalar representation.
func (in *Interner) BitWidth(id TypeID, ptrBits int64) (int64, bool) {
	t, ok := in.Lookup(id)
	if !ok {
		return 0, false
	}
	switch t.Kind {
	case KindBool:
		return 8, true
	case KindInt, KindUint, KindFloat:
		return int64(t.Width), true
	case KindPtr, KindLabel, KindObject:
		return ptrBits, true
	default:
		return 0, false
	}
}

// HasScalarRepr reports whether a zero value of the type fits in one machine
// word, which is what unreachable-result substitution needs.
func (in *Interner) HasScalarRepr(id TypeID) bool {
	t, ok := in.Lookup(id)
	if !ok {
		return false
	}
	switch t.Kind {
	case KindBool, KindInt, KindUint, KindFloat, KindPtr, KindLabel, KindObject:
		return true
	default:
		return false
	}
}

// Snapshot is the serializable form of an Interner. Descriptors are listed
// in id order, so rebuilding preserves every TypeID.
type Snapshot struct {
	Types  []Type
	Tuples [][]TypeID
}

// Snapshot copies the interned state for serialization.
func (in *Interner) Snapshot() Snapshot {
	s := Snapshot{
		Types:  append([]Type(nil), in.types...),
		Tuples: make([][]TypeID, len(in.tuples)),
	}
	for i, elems := range in.tuples {
		s.Tuples[i] = append([]TypeID(nil), elems...)
	}
	return s
}

// FromSnapshot rebuilds an interner with the exact ids of the snapshotted
// one. The descriptor list must start with the builtin prefix NewInterner
// seeds, which is true for any snapshot taken from a live interner.
func FromSnapshot(s Snapshot) (*Interner, error) {
	probe := NewInterner()
	if len(s.Types) < len(probe.types) {
		return nil, fmt.Errorf("types: snapshot with %d descriptors, builtins need %d", len(s.Types), len(probe.types))
	}
	for i, t := range probe.types {
		if s.Types[i] != t {
			return nil, fmt.Errorf("types: snapshot descriptor %d does not match the builtin prefix", i)
		}
	}
	in := &Interner{
		types:    append([]Type(nil), s.Types...),
		index:    make(map[typeKey]TypeID, len(s.Types)),
		builtins: probe.builtins,
		tuples:   make([][]TypeID, len(s.Tuples)),
		tupleIdx: make(map[string]uint32, len(s.Tuples)),
	}
	for id, t := range in.types {
		in.index[typeKey(t)] = TypeID(uint32(id))
	}
	for i, elems := range s.Tuples {
		in.tuples[i] = append([]TypeID(nil), elems...)
		if i == 0 {
			continue // invalid sentinel
		}
		in.tupleIdx[tupleKey(elems)] = uint32(i)
	}
	return in, nil
}

func tupleKey(elems []TypeID) string {
	var sb strings.Builder
	for _, e := range elems {
		sb.WriteString(strconv.FormatUint(uint64(e), 16))
		sb.WriteByte(':')
	}
	return sb.String()
}

type typeKey struct {
	Kind    Kind
	Width   Width
	Class   ClassID
	Payload uint32
}
