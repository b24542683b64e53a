package lower

import (
	"opal/internal/ir"
	"opal/internal/types"
)

// Impl is one concrete implementation a virtual call may reach.
type Impl struct {
	Class types.ClassID
	Entry ir.FuncID
}

// Resolver enumerates the concrete implementations of a method visible
// through a receiver's static class. An empty result means the call site is
// statically unreachable.
type Resolver interface {
	Implementations(class types.ClassID, method string) ([]Impl, error)
}

// CHAResolver resolves by walking the class hierarchy: every concrete
// subclass of the static class contributes its nearest definition. Classes
// that resolve nothing are skipped, which is how an empty enumeration
// arises.
type CHAResolver struct {
	Classes *types.Classes
}

func (r CHAResolver) Implementations(class types.ClassID, method string) ([]Impl, error) {
	var out []Impl
	for _, c := range r.Classes.ConcreteSubclasses(class) {
		fn, ok := r.Classes.Resolve(c, method)
		if !ok {
			continue
		}
		out = append(out, Impl{Class: c, Entry: ir.FuncID(fn)})
	}
	return out, nil
}
