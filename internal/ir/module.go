package ir

import (
	"fmt"

	"fortio.org/safecast"

	"opal/internal/source"
)

// Module is one whole program's IR: functions, the serialized constant
// pool, and the file table spans refer to.
type Module struct {
	Name  string
	Files *source.FileTable
	Funcs []*Func
	// Consts is the serialized constant pool. Roots lists entries the
	// emitter will write out even when no instruction references them.
	Consts []ConstData
	Roots  []ConstID
}

// Func returns the function with the given id, or nil.
func (m *Module) Func(id FuncID) *Func {
	if m == nil || !id.IsValid() || int(id) >= len(m.Funcs) {
		return nil
	}
	return m.Funcs[id]
}

// FuncByName does a linear lookup by name, for tools and tests.
func (m *Module) FuncByName(name string) *Func {
	if m == nil {
		return nil
	}
	for _, f := range m.Funcs {
		if f != nil && f.Name == name {
			return f
		}
	}
	return nil
}

// Const returns the pool entry for id, or nil.
func (m *Module) Const(id ConstID) *ConstData {
	if m == nil || !id.IsValid() || int(id) >= len(m.Consts) {
		return nil
	}
	return &m.Consts[id]
}

// AddConst appends a pool entry.
func (m *Module) AddConst(c ConstData) ConstID {
	n, err := safecast.Conv[int32](len(m.Consts))
	if err != nil {
		panic(fmt.Errorf("ir: const pool overflow: %w", err))
	}
	id := ConstID(n)
	m.Consts = append(m.Consts, c)
	return id
}
