package ir

import (
	"errors"
	"fmt"
)

// Validate checks module invariants. Returns an error joining every
// violation found.
func Validate(m *Module) error {
	if m == nil {
		return nil
	}
	var errs []error
	for _, f := range m.Funcs {
		if f == nil {
			continue
		}
		if err := ValidateFunc(f); err != nil {
			errs = append(errs, fmt.Errorf("function %s: %w", f.Name, err))
		}
	}
	for i := range m.Consts {
		c := &m.Consts[i]
		for _, e := range c.Elems {
			if e.Kind == ConstDataRef && m.Const(e.Data) == nil {
				errs = append(errs, fmt.Errorf("const C%d: reference to missing pool entry C%d", i, e.Data))
			}
		}
	}
	return errors.Join(errs...)
}

// ValidateFunc checks one function's invariants.
func ValidateFunc(f *Func) error {
	if f == nil {
		return nil
	}

	var errs []error

	// 1. Entry block exists.
	if err := validateEntry(f); err != nil {
		errs = append(errs, err)
	}

	// 2. Every reachable block ends in exactly one terminator, at the end.
	if err := validateTerminators(f); err != nil {
		errs = append(errs, err)
	}

	// 3. Successor blocks exist and argument counts match their params.
	if err := validateSuccs(f); err != nil {
		errs = append(errs, err)
	}

	// 4. Operand and code ids are in arena range.
	if err := validateIDs(f); err != nil {
		errs = append(errs, err)
	}

	return errors.Join(errs...)
}

func validateEntry(f *Func) error {
	if !f.Entry.IsValid() || int(f.Entry) >= len(f.Blocks) {
		return fmt.Errorf("entry block bb%d does not exist", f.Entry)
	}
	return nil
}

// validateTerminators checks placement only on blocks reachable from the
// entry: lowering legitimately truncates blocks behind a trap, leaving
// orphan blocks that no longer matter.
func validateTerminators(f *Func) error {
	var errs []error
	reach := f.Reachable()
	for i := range f.Blocks {
		bb := &f.Blocks[i]
		if !reach[bb.ID] {
			continue
		}
		if len(bb.Code) == 0 {
			errs = append(errs, fmt.Errorf("bb%d: empty block", i))
			continue
		}
		for j, id := range bb.Code {
			ins := f.Instr(id)
			if ins == nil {
				continue
			}
			last := j == len(bb.Code)-1
			if last && !ins.Kind.IsTerminator() {
				errs = append(errs, fmt.Errorf("bb%d: unterminated block", i))
			}
			if !last && ins.Kind.IsTerminator() {
				errs = append(errs, fmt.Errorf("bb%d: terminator in the middle of the block", i))
			}
		}
	}
	return errors.Join(errs...)
}

func validateSuccs(f *Func) error {
	var errs []error

	blockExists := func(id BlockID) bool {
		return id >= 0 && int(id) < len(f.Blocks)
	}

	reach := f.Reachable()
	for i := range f.Blocks {
		bb := &f.Blocks[i]
		if !reach[bb.ID] || len(bb.Code) == 0 {
			continue
		}
		term := f.Instr(bb.Code[len(bb.Code)-1])
		if term == nil {
			continue
		}
		WalkSuccs(term, func(s *Succ) {
			if !blockExists(s.Block) {
				errs = append(errs, fmt.Errorf("bb%d: successor bb%d does not exist", i, s.Block))
				return
			}
			want := len(f.Blocks[s.Block].Params)
			if len(s.Args) != want {
				errs = append(errs, fmt.Errorf("bb%d: successor bb%d takes %d args, got %d", i, s.Block, want, len(s.Args)))
			}
		})
		if term.Kind == InstrIndirectJump {
			for _, d := range term.IndirectJump.Dests {
				if !blockExists(d) {
					errs = append(errs, fmt.Errorf("bb%d: indirect_goto dest bb%d does not exist", i, d))
				} else if len(f.Blocks[d].Params) != 0 {
					errs = append(errs, fmt.Errorf("bb%d: indirect_goto dest bb%d has params", i, d))
				}
			}
		}
	}
	return errors.Join(errs...)
}

func validateIDs(f *Func) error {
	var errs []error

	valueExists := func(id ValueID) bool {
		return id >= 0 && int(id) < len(f.Arena)
	}

	for i := range f.Blocks {
		bb := &f.Blocks[i]
		for _, id := range bb.Params {
			if !valueExists(id) {
				errs = append(errs, fmt.Errorf("bb%d: param v%d out of arena range", i, id))
			} else if f.Arena[id].Kind != InstrParam {
				errs = append(errs, fmt.Errorf("bb%d: param v%d is not a param instruction", i, id))
			}
		}
		for _, id := range bb.Code {
			if !valueExists(id) {
				errs = append(errs, fmt.Errorf("bb%d: code v%d out of arena range", i, id))
				continue
			}
			WalkOperands(&f.Arena[id], func(op *ValueID) {
				if !valueExists(*op) {
					errs = append(errs, fmt.Errorf("bb%d: v%d references v%d out of arena range", i, id, *op))
				}
			})
		}
	}
	return errors.Join(errs...)
}

// ValidateLowered checks that no object-model-aware instruction survived
// lowering in any reachable block. After this pass the function must be
// expressible as raw memory traffic and indirect control flow only.
func ValidateLowered(f *Func) error {
	if f == nil {
		return nil
	}
	var errs []error
	reach := f.Reachable()
	for i := range f.Blocks {
		bb := &f.Blocks[i]
		if !reach[bb.ID] {
			continue
		}
		for _, id := range bb.Code {
			ins := f.Instr(id)
			if ins == nil {
				continue
			}
			switch ins.Kind {
			case InstrCallVirtual, InstrInvokeVirtual, InstrNewObject,
				InstrArrayNew, InstrArrayClone, InstrArrayLen, InstrArrayHash,
				InstrWith, InstrGetField, InstrSetField, InstrFreeze,
				InstrTypeSwitch:
				errs = append(errs, fmt.Errorf("bb%d: v%d: kind %d not lowered", i, id, ins.Kind))
			case InstrLoadSlot:
				errs = append(errs, fmt.Errorf("bb%d: v%d: vtable slot not patched", i, id))
			default:
			}
		}
	}
	return errors.Join(errs...)
}
