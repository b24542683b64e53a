package ir

import (
	"fmt"

	"fortio.org/safecast"

	"opal/internal/source"
	"opal/internal/types"
)

// Func is one function body. Instructions live in the arena and are
// addressed by ValueID; blocks reference them by id. Replacing an
// instruction rewrites its arena slot in place, so the original id keeps
// naming exactly one instruction and every later reference stays valid.
type Func struct {
	ID   FuncID
	Name string
	Span source.Span

	Params []types.TypeID
	Result types.TypeID

	Arena  []Instr
	Blocks []Block
	Entry  BlockID
}

// Block is one basic block. Params are Param-kind instructions receiving
// block arguments; Code is ordered and must end with a terminator kind.
type Block struct {
	ID     BlockID
	Params []ValueID
	Code   []ValueID
}

// NewFunc creates an empty function with an entry block whose parameters
// mirror the signature.
func NewFunc(id FuncID, name string, params []types.TypeID, result types.TypeID) *Func {
	f := &Func{
		ID:     id,
		Name:   name,
		Params: params,
		Result: result,
		Entry:  NoBlockID,
	}
	entry := f.NewBlock()
	f.Entry = entry
	for i, pt := range params {
		idx, err := safecast.Conv[int32](i)
		if err != nil {
			panic(fmt.Errorf("ir: param index overflow: %w", err))
		}
		p := f.NewInstr(Instr{
			Kind:  InstrParam,
			Type:  pt,
			Param: ParamInstr{Index: idx},
		})
		f.Blocks[entry].Params = append(f.Blocks[entry].Params, p)
	}
	return f
}

// NewBlock appends an empty block and returns its id.
func (f *Func) NewBlock() BlockID {
	idx, err := safecast.Conv[int32](len(f.Blocks))
	if err != nil {
		panic(fmt.Errorf("ir: block count overflow: %w", err))
	}
	id := BlockID(idx)
	f.Blocks = append(f.Blocks, Block{ID: id})
	return id
}

// NewInstr appends ins to the arena and returns its id. The instruction is
// not placed into any block; callers append the id to a block's Code or
// Params themselves.
func (f *Func) NewInstr(ins Instr) ValueID {
	idx, err := safecast.Conv[int32](len(f.Arena))
	if err != nil {
		panic(fmt.Errorf("ir: arena overflow: %w", err))
	}
	id := ValueID(idx)
	f.Arena = append(f.Arena, ins)
	return id
}

// NewParam appends a Param instruction and registers it on block b.
func (f *Func) NewParam(b BlockID, t types.TypeID) ValueID {
	n, err := safecast.Conv[int32](len(f.Blocks[b].Params))
	if err != nil {
		panic(fmt.Errorf("ir: param index overflow: %w", err))
	}
	id := f.NewInstr(Instr{Kind: InstrParam, Type: t, Param: ParamInstr{Index: n}})
	f.Blocks[b].Params = append(f.Blocks[b].Params, id)
	return id
}

// Instr returns the arena instruction for id. The pointer stays valid only
// until the next NewInstr call.
func (f *Func) Instr(id ValueID) *Instr {
	if f == nil || !id.IsValid() || int(id) >= len(f.Arena) {
		return nil
	}
	return &f.Arena[id]
}

// Block returns the block for id.
func (f *Func) Block(id BlockID) *Block {
	if f == nil || !id.IsValid() || int(id) >= len(f.Blocks) {
		return nil
	}
	return &f.Blocks[id]
}

// TypeOf returns the result type of id, or NoTypeID.
func (f *Func) TypeOf(id ValueID) types.TypeID {
	ins := f.Instr(id)
	if ins == nil {
		return types.NoTypeID
	}
	return ins.Type
}

// Terminated reports whether block b ends in a terminator instruction.
func (f *Func) Terminated(b BlockID) bool {
	blk := f.Block(b)
	if blk == nil || len(blk.Code) == 0 {
		return false
	}
	last := f.Instr(blk.Code[len(blk.Code)-1])
	return last != nil && last.Kind.IsTerminator()
}

// SplitBlock moves b's instructions from index at onward into a fresh block
// and returns the new block's id. The caller is responsible for terminating
// b afterwards; the tail (including b's old terminator) now ends the new
// block. Used by freeze lowering to splice a guard diamond mid-block.
func (f *Func) SplitBlock(b BlockID, at int) BlockID {
	nb := f.NewBlock()
	blk := &f.Blocks[b]
	tail := blk.Code[at:]
	moved := make([]ValueID, len(tail))
	copy(moved, tail)
	f.Blocks[nb].Code = moved
	blk.Code = blk.Code[:at]
	return nb
}

// Reachable returns the set of blocks reachable from the entry.
func (f *Func) Reachable() map[BlockID]bool {
	seen := make(map[BlockID]bool, len(f.Blocks))
	if f == nil || !f.Entry.IsValid() {
		return seen
	}
	work := []BlockID{f.Entry}
	for len(work) > 0 {
		b := work[len(work)-1]
		work = work[:len(work)-1]
		if seen[b] {
			continue
		}
		seen[b] = true
		blk := f.Block(b)
		if blk == nil || len(blk.Code) == 0 {
			continue
		}
		term := f.Instr(blk.Code[len(blk.Code)-1])
		if term == nil {
			continue
		}
		WalkSuccs(term, func(s *Succ) {
			if s.Block.IsValid() {
				work = append(work, s.Block)
			}
		})
		if term.Kind == InstrIndirectJump {
			work = append(work, term.IndirectJump.Dests...)
		}
	}
	return seen
}
