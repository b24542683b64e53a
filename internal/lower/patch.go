package lower

import (
	"opal/internal/diag"
	"opal/internal/ir"
	"opal/internal/vtable"
)

// Patch rewrites every pending slot load into a plain offset load against
// the populated table. Runs strictly after Populate; a slot with no assigned
// offset at this point is a phase-ordering bug.
func Patch(mod *ir.Module, table *vtable.Table) error {
	for _, f := range mod.Funcs {
		if f == nil {
			continue
		}
		for i := range f.Arena {
			ins := &f.Arena[i]
			if ins.Kind != ir.InstrLoadSlot {
				continue
			}
			off := table.OffsetOf(vtable.RequestID(ins.LoadSlot.Slot))
			if off < 0 {
				return diag.ICEf(ins.Span, "unpopulated vtable slot %d", ins.LoadSlot.Slot)
			}
			*ins = ir.Instr{
				Kind: ir.InstrLoad,
				Type: ins.Type,
				Span: ins.Span,
				Load: ir.LoadInstr{Addr: ins.LoadSlot.VTable, Offset: off, Cacheable: true},
			}
		}
	}
	return nil
}
