// Package artifact reads and writes serialized IR modules. A high-level
// artifact carries the object-model instructions the lowering pass consumes;
// a lowered artifact additionally carries the populated vtable tables. Both
// use one msgpack envelope with a schema version for safe invalidation. The
// envelope also carries the type and class tables, so an artifact is
// self-contained: loading one needs nothing but the file.
package artifact

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/vmihailenco/msgpack/v5"

	"opal/internal/ir"
	"opal/internal/source"
	"opal/internal/types"
	"opal/internal/vtable"
)

// Schema is the envelope version. Bump when the layout of the serialized
// structures changes; readers reject anything else.
const Schema uint16 = 1

// Bundle is everything one artifact carries.
type Bundle struct {
	Module  *ir.Module
	Types   *types.Interner
	Classes *types.Classes
	// Table is the populated vtable set; nil for high-level artifacts.
	Table *vtable.Table
}

type envelope struct {
	Schema  uint16
	Name    string
	Files   []string
	Funcs   []*ir.Func
	Consts  []ir.ConstData
	Roots   []ir.ConstID
	Types   types.Snapshot
	Classes []types.Class
	Table   *tableData
}

type tableData struct {
	PtrSize int64
	Offsets []int64
	Classes []classTable
}

type classTable struct {
	Class types.ClassID
	Slots []ir.ConstValue
}

// Encode writes the bundle to w.
func Encode(w io.Writer, b *Bundle) error {
	if b == nil || b.Module == nil || b.Types == nil || b.Classes == nil {
		return fmt.Errorf("artifact: incomplete bundle")
	}
	mod := b.Module
	env := envelope{
		Schema:  Schema,
		Name:    mod.Name,
		Funcs:   mod.Funcs,
		Consts:  mod.Consts,
		Roots:   mod.Roots,
		Types:   b.Types.Snapshot(),
		Classes: b.Classes.All(),
	}
	if mod.Files != nil {
		env.Files = mod.Files.Names()
	}
	if b.Table != nil {
		td := &tableData{
			PtrSize: b.Table.PtrSize(),
			Offsets: b.Table.Offsets(),
		}
		for _, c := range b.Table.Classes() {
			td.Classes = append(td.Classes, classTable{Class: c, Slots: b.Table.ClassSlots(c)})
		}
		env.Table = td
	}
	return msgpack.NewEncoder(w).Encode(&env)
}

// Decode reads a bundle from r.
func Decode(r io.Reader) (*Bundle, error) {
	var env envelope
	if err := msgpack.NewDecoder(r).Decode(&env); err != nil {
		return nil, fmt.Errorf("artifact: %w", err)
	}
	if env.Schema != Schema {
		return nil, fmt.Errorf("artifact: schema %d, this build reads %d", env.Schema, Schema)
	}
	in, err := types.FromSnapshot(env.Types)
	if err != nil {
		return nil, fmt.Errorf("artifact: %w", err)
	}
	cs := types.NewClasses()
	for _, c := range env.Classes {
		if _, err := cs.Add(c); err != nil {
			return nil, fmt.Errorf("artifact: %w", err)
		}
	}
	files := source.NewFileTable()
	for _, name := range env.Files {
		files.Add(name)
	}
	b := &Bundle{
		Module: &ir.Module{
			Name:   env.Name,
			Files:  files,
			Funcs:  env.Funcs,
			Consts: env.Consts,
			Roots:  env.Roots,
		},
		Types:   in,
		Classes: cs,
	}
	if env.Table == nil {
		return b, nil
	}
	slots := make(map[types.ClassID][]ir.ConstValue, len(env.Table.Classes))
	for _, ct := range env.Table.Classes {
		slots[ct.Class] = ct.Slots
	}
	table, err := vtable.Rebuild(env.Table.PtrSize, env.Table.Offsets, slots)
	if err != nil {
		return nil, err
	}
	b.Table = table
	return b, nil
}

// Load reads an artifact file.
func Load(path string) (*Bundle, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return Decode(f)
}

// Save writes an artifact file atomically: encode to a temp file in the
// same directory, then rename over the destination.
func Save(path string, b *Bundle) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	f, err := os.CreateTemp(dir, "tmp-*")
	if err != nil {
		return err
	}
	defer os.Remove(f.Name())
	if err := Encode(f, b); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	return os.Rename(f.Name(), path)
}
