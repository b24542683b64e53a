package ir

type FuncID int32
type BlockID int32
type ValueID int32
type ConstID int32

// SlotID references a vtable slot whose byte offset has not been assigned
// yet. LoadSlot instructions carry one until the patch step after vtable
// population rewrites them into plain offset loads.
type SlotID int32

const (
	NoFuncID  FuncID  = -1
	NoBlockID BlockID = -1
	NoValueID ValueID = -1
	NoConstID ConstID = -1
	NoSlotID  SlotID  = -1
)

func (id FuncID) IsValid() bool  { return id != NoFuncID }
func (id BlockID) IsValid() bool { return id != NoBlockID }
func (id ValueID) IsValid() bool { return id != NoValueID }
func (id ConstID) IsValid() bool { return id != NoConstID }
func (id SlotID) IsValid() bool  { return id != NoSlotID }
