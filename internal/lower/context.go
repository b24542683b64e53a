// Package lower rewrites object-model instructions into raw allocations,
// loads, stores and indirect control transfer. It consumes layout answers,
// feeds the vtable request registry while functions are rewritten, and
// patches the pending slot loads once the tables are populated.
package lower

import (
	"opal/internal/layout"
	"opal/internal/target"
	"opal/internal/trace"
	"opal/internal/types"
	"opal/internal/vtable"
)

// Context carries everything one lowering run needs. It is threaded
// explicitly through every entry point; the package keeps no globals, so two
// compilations can run side by side.
type Context struct {
	Types    *types.Interner
	Classes  *types.Classes
	Layout   *layout.Engine
	Reg      *vtable.Registry
	Target   target.Target
	Resolver Resolver
	Tracer   trace.Tracer
}
