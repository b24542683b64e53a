package lower

import (
	"opal/internal/diag"
	"opal/internal/ir"
	"opal/internal/source"
	"opal/internal/types"
)

// Scavenge walks the constant pool graph and marks every reference-kind
// class it instantiates as needing a vtable. Interned constants are built
// before lowering runs, so no construction site exists to request their
// tables; this pass is what keeps them dispatchable. Roots are the module's
// declared roots, every Const instruction in any function and every vtable
// request value.
func Scavenge(ctx *Context, mod *ir.Module) error {
	seen := make(map[ir.ConstID]struct{}, len(mod.Consts))
	var work []ir.ConstID

	enqueue := func(v ir.ConstValue) {
		switch v.Kind {
		case ir.ConstDataRef:
			work = append(work, v.Data)
		case ir.ConstVTable:
			ctx.Reg.NeedClass(v.Class)
		}
	}

	work = append(work, mod.Roots...)
	for _, f := range mod.Funcs {
		if f == nil {
			continue
		}
		for i := range f.Arena {
			if f.Arena[i].Kind == ir.InstrConst {
				enqueue(f.Arena[i].Const.Value)
			}
		}
	}
	for _, req := range ctx.Reg.Requests() {
		for _, e := range req.Entries {
			enqueue(e.Value)
		}
	}

	for len(work) > 0 {
		id := work[len(work)-1]
		work = work[:len(work)-1]
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		data := mod.Const(id)
		if data == nil {
			return diag.ICEf(source.Span{}, "constant pool reference #%d out of range", id)
		}
		if cls, ok := ctx.Classes.Get(data.Class); ok && cls.Kind == types.ClassReference {
			ctx.Reg.NeedClass(data.Class)
		}
		for _, e := range data.Elems {
			enqueue(e)
		}
	}
	return nil
}
