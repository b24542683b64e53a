package types

import (
	"fmt"

	"fortio.org/safecast"
)

// ClassID identifies a class in a Classes table. Zero means "no class".
type ClassID uint32

const NoClassID ClassID = 0

func (id ClassID) IsValid() bool { return id != NoClassID }

// ClassKind separates heap-allocated reference classes from unboxed value
// classes. Only reference classes ever reach object lowering; a value class
// at an allocation or dispatch site is an internal error.
type ClassKind uint8

const (
	ClassReference ClassKind = iota
	ClassValue
)

func (k ClassKind) String() string {
	switch k {
	case ClassReference:
		return "reference"
	case ClassValue:
		return "value"
	default:
		return fmt.Sprintf("ClassKind(%d)", k)
	}
}

// Field is one declared field of a class.
type Field struct {
	Name string
	Type TypeID
}

// MethodDef binds a method name to the function implementing it for this
// class. Func is an IR function id; overrides shadow base definitions.
type MethodDef struct {
	Name string
	Func int32
}

// Class describes one class of the input program's object model.
type Class struct {
	Name     string
	Kind     ClassKind
	Base     ClassID // NoClassID for roots
	Abstract bool
	// DeeplyImmutable marks classes statically proven immutable all the way
	// down; freezing such a value is a no-op.
	DeeplyImmutable bool
	// MaybeReadOnly marks classes whose instances may already live in
	// read-only storage, so freezing must guard against a second write.
	MaybeReadOnly bool
	Fields        []Field // own fields only, declaration order
	// ArrayElem is non-nil for array classes and lists the element tuple's
	// types; a one-element tuple is a plain array.
	ArrayElem []TypeID
	Methods   []MethodDef // own definitions and overrides only
}

// IsArray reports whether the class is an array class.
func (c *Class) IsArray() bool {
	return c != nil && c.ArrayElem != nil
}

// Classes is the append-only class table. IDs are 1-based; a base class must
// be registered before its subclasses, which keeps the hierarchy acyclic by
// construction.
type Classes struct {
	classes []Class
	byName  map[string]ClassID
}

func NewClasses() *Classes {
	return &Classes{
		byName: make(map[string]ClassID, 16),
	}
}

// Add registers a class and returns its id.
func (cs *Classes) Add(c Class) (ClassID, error) {
	if c.Name == "" {
		return NoClassID, fmt.Errorf("types: class with empty name")
	}
	if _, ok := cs.byName[c.Name]; ok {
		return NoClassID, fmt.Errorf("types: duplicate class %q", c.Name)
	}
	if c.Base != NoClassID {
		if int(c.Base) > len(cs.classes) {
			return NoClassID, fmt.Errorf("types: class %q: base #%d not registered", c.Name, c.Base)
		}
	}
	n, err := safecast.Conv[uint32](len(cs.classes) + 1)
	if err != nil {
		return NoClassID, fmt.Errorf("types: class table overflow: %w", err)
	}
	id := ClassID(n)
	cs.classes = append(cs.classes, c)
	cs.byName[c.Name] = id
	return id, nil
}

// Get returns the class for id.
func (cs *Classes) Get(id ClassID) (*Class, bool) {
	if cs == nil || !id.IsValid() || int(id) > len(cs.classes) {
		return nil, false
	}
	return &cs.classes[id-1], true
}

// MustGet panics when id is invalid.
func (cs *Classes) MustGet(id ClassID) *Class {
	c, ok := cs.Get(id)
	if !ok {
		panic(fmt.Sprintf("types: invalid ClassID %d", id))
	}
	return c
}

// ByName resolves a class name to its id.
func (cs *Classes) ByName(name string) (ClassID, bool) {
	id, ok := cs.byName[name]
	return id, ok
}

func (cs *Classes) Len() int {
	if cs == nil {
		return 0
	}
	return len(cs.classes)
}

// Name returns the class name, or "" for an invalid id.
func (cs *Classes) Name(id ClassID) string {
	c, ok := cs.Get(id)
	if !ok {
		return ""
	}
	return c.Name
}

// All copies every registered class in id order, for serialization. Feeding
// the result back through Add in order reproduces the same ids.
func (cs *Classes) All() []Class {
	if cs == nil {
		return nil
	}
	return append([]Class(nil), cs.classes...)
}

// IsAncestor reports whether a is c or appears on c's base chain.
func (cs *Classes) IsAncestor(a, c ClassID) bool {
	if !a.IsValid() || !c.IsValid() {
		return false
	}
	for c.IsValid() {
		if c == a {
			return true
		}
		cl, ok := cs.Get(c)
		if !ok {
			return false
		}
		c = cl.Base
	}
	return false
}

// ConcreteSubclasses returns every non-abstract reference class that is base
// or inherits from it, in id order (deterministic).
func (cs *Classes) ConcreteSubclasses(base ClassID) []ClassID {
	if cs == nil || !base.IsValid() {
		return nil
	}
	var out []ClassID
	for i := range cs.classes {
		id := ClassID(i + 1)
		c := &cs.classes[i]
		if c.Kind != ClassReference || c.Abstract {
			continue
		}
		if cs.IsAncestor(base, id) {
			out = append(out, id)
		}
	}
	return out
}

// Resolve finds the function implementing method for class c by walking the
// base chain from c upward and taking the nearest definition.
func (cs *Classes) Resolve(c ClassID, method string) (int32, bool) {
	for c.IsValid() {
		cl, ok := cs.Get(c)
		if !ok {
			return 0, false
		}
		for i := range cl.Methods {
			if cl.Methods[i].Name == method {
				return cl.Methods[i].Func, true
			}
		}
		c = cl.Base
	}
	return 0, false
}

// AllFields returns the full field list of c: base-chain fields first (root
// down), then c's own, matching how the layout engine orders slots.
func (cs *Classes) AllFields(c ClassID) []Field {
	var chain []ClassID
	for c.IsValid() {
		chain = append(chain, c)
		cl, ok := cs.Get(c)
		if !ok {
			break
		}
		c = cl.Base
	}
	var out []Field
	for i := len(chain) - 1; i >= 0; i-- {
		cl, _ := cs.Get(chain[i])
		if cl != nil {
			out = append(out, cl.Fields...)
		}
	}
	return out
}

// FieldCount is the declared field count across the whole base chain.
func (cs *Classes) FieldCount(c ClassID) int {
	return len(cs.AllFields(c))
}
