// Package interp executes lowered modules against a flat byte memory. It is
// the reference backend for debugging and for testing the lowering pass:
// allocations can be poisoned so missing zero-fill shows up as garbage, and
// every store is traced so idempotence properties can be asserted on the
// side effects themselves, not just the final state.
package interp

import (
	"fmt"
	"math"

	"opal/internal/ir"
	"opal/internal/target"
	"opal/internal/types"
	"opal/internal/vtable"
)

const (
	// dataBase is the first heap address. Everything below it faults, so
	// null and near-null pointers are caught.
	dataBase = 0x1000
	// codeBase is where synthetic function addresses live. They fit in 32
	// bits so 4-byte targets can hold them in a pointer slot.
	codeBase = 0xf000_0000
	// labelBase is where synthetic code-label addresses live.
	labelBase = 0xe000_0000
	// memLimit caps the heap so a runaway size computation fails fast.
	memLimit = 1 << 28

	defaultMaxSteps = 1 << 22
	maxDepth        = 512
)

// Options configures a Machine.
type Options struct {
	// PoisonAllocs fills allocations that skip zero-fill with 0xAA, so any
	// bit the lowered code fails to initialize is visible to byte scans.
	PoisonAllocs bool
	// MaxSteps bounds total executed instructions (0 = default).
	MaxSteps int
}

// StoreEvent is one executed memory store.
type StoreEvent struct {
	Addr  uint64
	Size  int64
	Value uint64
}

// TrapError reports that execution hit a runtime diagnostic trap.
type TrapError struct {
	Message string
	Value   uint64
}

func (e *TrapError) Error() string { return "trap: " + e.Message }

type labelKey struct {
	fn    ir.FuncID
	block ir.BlockID
}

// Machine executes lowered functions of one module.
type Machine struct {
	mod     *ir.Module
	types   *types.Interner
	classes *types.Classes
	table   *vtable.Table
	tgt     target.Target
	opts    Options

	mem []byte
	brk uint64

	classVT   map[types.ClassID]uint64
	funcAddr  map[ir.FuncID]uint64
	funcAt    map[uint64]ir.FuncID
	labelAddr map[labelKey]uint64
	labelAt   map[uint64]labelKey
	nextLabel uint64

	stores []StoreEvent
	steps  int
}

// New builds a machine and materializes the populated vtables into memory.
func New(mod *ir.Module, typesIn *types.Interner, classes *types.Classes, tgt target.Target, table *vtable.Table, opts Options) (*Machine, error) {
	if mod == nil || typesIn == nil || classes == nil {
		return nil, fmt.Errorf("interp: nil module or type tables")
	}
	if opts.MaxSteps <= 0 {
		opts.MaxSteps = defaultMaxSteps
	}
	m := &Machine{
		mod:       mod,
		types:     typesIn,
		classes:   classes,
		table:     table,
		tgt:       tgt,
		opts:      opts,
		brk:       dataBase,
		classVT:   make(map[types.ClassID]uint64, 8),
		funcAddr:  make(map[ir.FuncID]uint64, len(mod.Funcs)),
		funcAt:    make(map[uint64]ir.FuncID, len(mod.Funcs)),
		labelAddr: make(map[labelKey]uint64, 8),
		labelAt:   make(map[uint64]labelKey, 8),
		nextLabel: labelBase,
	}
	for _, f := range mod.Funcs {
		if f == nil {
			continue
		}
		addr := uint64(codeBase) + uint64(f.ID)*16
		m.funcAddr[f.ID] = addr
		m.funcAt[addr] = f.ID
	}
	if table != nil {
		if err := m.materializeTables(); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// materializeTables writes every class vtable into memory, resolving code
// constants to their synthetic addresses.
func (m *Machine) materializeTables() error {
	ptr := int64(m.tgt.PtrSize)
	for _, c := range m.table.Classes() {
		slots := m.table.ClassSlots(c)
		size := int64(len(slots)) * ptr
		if size == 0 {
			size = ptr
		}
		addr, err := m.alloc(uint64(size), true)
		if err != nil {
			return err
		}
		for i, v := range slots {
			word, err := m.constWord(v)
			if err != nil {
				return fmt.Errorf("interp: vtable of %s slot %d: %w", m.classes.Name(c), i, err)
			}
			if err := m.write(addr+uint64(int64(i)*ptr), ptr, word, false); err != nil {
				return err
			}
		}
		m.classVT[c] = addr
	}
	return nil
}

// VTableAddr reports the materialized vtable address of a class.
func (m *Machine) VTableAddr(c types.ClassID) (uint64, bool) {
	addr, ok := m.classVT[c]
	return addr, ok
}

// Stores returns the store trace in execution order.
func (m *Machine) Stores() []StoreEvent {
	return append([]StoreEvent(nil), m.stores...)
}

// Bytes copies n raw bytes starting at addr.
func (m *Machine) Bytes(addr uint64, n int64) ([]byte, error) {
	if err := m.ensure(addr, n); err != nil {
		return nil, err
	}
	out := make([]byte, n)
	copy(out, m.mem[addr:uint64(int64(addr)+n)])
	return out, nil
}

func (m *Machine) ensureLabel(fn ir.FuncID, block ir.BlockID) uint64 {
	key := labelKey{fn: fn, block: block}
	if addr, ok := m.labelAddr[key]; ok {
		return addr
	}
	m.nextLabel += 16
	m.labelAddr[key] = m.nextLabel
	m.labelAt[m.nextLabel] = key
	return m.nextLabel
}

// constWord resolves a constant to its 64-bit memory representation.
func (m *Machine) constWord(v ir.ConstValue) (uint64, error) {
	switch v.Kind {
	case ir.ConstInt:
		return uint64(v.I64), nil
	case ir.ConstFloat:
		return math.Float64bits(v.F64), nil
	case ir.ConstBool:
		if v.Bool {
			return 1, nil
		}
		return 0, nil
	case ir.ConstNull:
		return 0, nil
	case ir.ConstFunc:
		addr, ok := m.funcAddr[v.Func]
		if !ok {
			return 0, fmt.Errorf("no function #%d", v.Func)
		}
		return addr, nil
	case ir.ConstLabel:
		return m.ensureLabel(v.Func, v.Label), nil
	case ir.ConstVTable:
		addr, ok := m.classVT[v.Class]
		if !ok {
			return 0, fmt.Errorf("class %s has no materialized vtable", m.classes.Name(v.Class))
		}
		return addr, nil
	case ir.ConstDataRef:
		return 0, fmt.Errorf("constant pool entry #%d not materialized", v.Data)
	default:
		return 0, fmt.Errorf("constant kind %d", v.Kind)
	}
}

func (m *Machine) alloc(size uint64, zeroFill bool) (uint64, error) {
	if size > memLimit {
		return 0, fmt.Errorf("interp: allocation of %d bytes exceeds the heap limit", size)
	}
	addr := m.brk
	m.brk += (size + 7) &^ 7
	if err := m.ensure(addr, int64(size)); err != nil {
		return 0, err
	}
	if !zeroFill && m.opts.PoisonAllocs {
		for i := uint64(0); i < size; i++ {
			m.mem[addr+i] = 0xAA
		}
	}
	return addr, nil
}

func (m *Machine) ensure(addr uint64, size int64) error {
	if size < 0 || addr < dataBase {
		return fmt.Errorf("interp: bad access at %#x", addr)
	}
	end := addr + uint64(size)
	if end > memLimit {
		return fmt.Errorf("interp: access at %#x past the heap limit", addr)
	}
	if uint64(len(m.mem)) < end {
		grown := make([]byte, end+4096)
		copy(grown, m.mem)
		m.mem = grown
	}
	return nil
}

func (m *Machine) read(addr uint64, size int64) (uint64, error) {
	if err := m.ensure(addr, size); err != nil {
		return 0, err
	}
	var v uint64
	for i := int64(0); i < size; i++ {
		v |= uint64(m.mem[addr+uint64(i)]) << (8 * i)
	}
	return v, nil
}

func (m *Machine) write(addr uint64, size int64, v uint64, traced bool) error {
	if err := m.ensure(addr, size); err != nil {
		return err
	}
	for i := int64(0); i < size; i++ {
		m.mem[addr+uint64(i)] = byte(v >> (8 * i))
	}
	if traced {
		m.stores = append(m.stores, StoreEvent{Addr: addr, Size: size, Value: v})
	}
	return nil
}

func float32bits(f float64) uint32 { return math.Float32bits(float32(f)) }

// widthOf is the byte width of a scalar type on this target.
func (m *Machine) widthOf(t types.TypeID) (int64, error) {
	bits, ok := m.types.BitWidth(t, m.tgt.PtrBits())
	if !ok {
		return 0, fmt.Errorf("interp: type #%d has no scalar width", t)
	}
	return bits / 8, nil
}

// maskTo clears bits above a type's width so narrow values stay canonical.
func (m *Machine) maskTo(t types.TypeID, v uint64) uint64 {
	bits, ok := m.types.BitWidth(t, m.tgt.PtrBits())
	if !ok || bits >= 64 {
		return v
	}
	return v & (1<<uint(bits) - 1)
}
