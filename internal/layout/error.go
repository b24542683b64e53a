package layout

import (
	"fmt"

	"opal/internal/types"
)

// ErrorKind enumerates layout query failures.
type ErrorKind uint8

const (
	// ErrUnknownClass indicates a class id with no registered class.
	ErrUnknownClass ErrorKind = iota + 1
	// ErrArrayClass indicates a field-layout query on an array class.
	ErrArrayClass
	// ErrNotArray indicates an element-layout query on a non-array class.
	ErrNotArray
	// ErrUnsizedField indicates a field whose type has no scalar
	// representation.
	ErrUnsizedField
	// ErrUnsizedElem is the array-element form of ErrUnsizedField.
	ErrUnsizedElem
	// ErrUnknownField indicates a field name the class does not declare.
	ErrUnknownField
)

// Error describes a failed layout query.
type Error struct {
	Kind  ErrorKind
	Class types.ClassID
	Field string
	Elem  int
	Type  types.TypeID
}

func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	switch e.Kind {
	case ErrUnknownClass:
		return fmt.Sprintf("unknown class#%d", e.Class)
	case ErrArrayClass:
		return fmt.Sprintf("class#%d is an array class and has no field slots", e.Class)
	case ErrNotArray:
		return fmt.Sprintf("class#%d is not an array class", e.Class)
	case ErrUnsizedField:
		return fmt.Sprintf("field %q of class#%d has no scalar representation (type#%d)", e.Field, e.Class, e.Type)
	case ErrUnsizedElem:
		return fmt.Sprintf("element %d of array class#%d has no scalar representation (type#%d)", e.Elem, e.Class, e.Type)
	case ErrUnknownField:
		return fmt.Sprintf("class#%d has no field %q", e.Class, e.Field)
	default:
		return fmt.Sprintf("layout error kind=%d class#%d", e.Kind, e.Class)
	}
}
