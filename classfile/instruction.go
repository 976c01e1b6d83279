package classfile

import (
	"fmt"
	"strings"
)

// Instruction is one JVM bytecode instruction in symbolic form. Instruction
// lists hold only canonical opcodes: the compact iload_0..aload_3 and
// istore_0..astore_3 encodings, and the wide-prefixed forms, are chosen by
// the length calculation when a method is laid out, never stored. This keeps
// slot renumbering a simple field update that may change the instruction's
// encoded length.
type Instruction struct {
	Op Opcode

	// Slot is the local variable slot for loads, stores, iinc, and ret.
	Slot int

	// Index is a constant pool index (ldc, field/method access, new,
	// anewarray, checkcast, instanceof, multianewarray).
	Index uint16

	// Value is an immediate operand: bipush/sipush constant, iinc
	// increment, newarray primitive code, multianewarray dimension count.
	Value int32

	// Target is the branch target (branches, jsr), or the default target
	// of a switch.
	Target *Handle

	// Switch data. Keys is nil for tableswitch; Low is its first match.
	Low     int32
	Keys    []int32
	Targets []*Handle
}

// Primitive array type codes used by newarray.
const (
	ArrayBoolean = 4
	ArrayChar    = 5
	ArrayFloat   = 6
	ArrayDouble  = 7
	ArrayByte    = 8
	ArrayShort   = 9
	ArrayInt     = 10
	ArrayLong    = 11
)

// NewInst returns an operand-less instruction.
func NewInst(op Opcode) *Instruction {
	return &Instruction{Op: op}
}

// NewLocalInst returns a load/store/ret instruction referencing a local
// variable slot. op must be one of the canonical slot opcodes.
func NewLocalInst(op Opcode, slot int) *Instruction {
	if !op.HasLocalSlot() {
		panic(fmt.Sprintf("classfile: opcode %s does not take a local slot", op))
	}
	return &Instruction{Op: op, Slot: slot}
}

// NewIinc returns an iinc instruction.
func NewIinc(slot int, increment int32) *Instruction {
	return &Instruction{Op: OpIinc, Slot: slot, Value: increment}
}

// NewPush returns a bipush or sipush instruction.
func NewPush(op Opcode, value int32) *Instruction {
	return &Instruction{Op: op, Value: value}
}

// NewIndexed returns an instruction carrying a constant pool index.
func NewIndexed(op Opcode, index uint16) *Instruction {
	return &Instruction{Op: op, Index: index}
}

// NewBranch returns a branch instruction targeting the given handle.
func NewBranch(op Opcode, target *Handle) *Instruction {
	if !op.IsBranch() {
		panic(fmt.Sprintf("classfile: opcode %s is not a branch", op))
	}
	return &Instruction{Op: op, Target: target}
}

// NewTableswitch returns a tableswitch covering low..low+len(targets)-1,
// with the given per-case targets and default target.
func NewTableswitch(low int32, targets []*Handle, deflt *Handle) *Instruction {
	return &Instruction{Op: OpTableswitch, Low: low, Targets: targets, Target: deflt}
}

// NewLookupswitch returns a lookupswitch with matched keys, per-key targets,
// and default target.
func NewLookupswitch(keys []int32, targets []*Handle, deflt *Handle) *Instruction {
	return &Instruction{Op: OpLookupswitch, Keys: keys, Targets: targets, Target: deflt}
}

// slotOpSize returns the local-slot footprint of the instruction's type:
// 2 for the long/double variants, 1 otherwise.
func (in *Instruction) slotOpSize() int {
	switch in.Op {
	case OpLload, OpDload, OpLstore, OpDstore:
		return 2
	default:
		return 1
	}
}

// Length returns the encoded byte length of the instruction when it starts
// at the given bytecode offset. The offset matters only for tableswitch and
// lookupswitch, whose operands are padded to 4-byte alignment.
func (in *Instruction) Length(pos int) int {
	switch {
	case in.Op.IsLoad() || in.Op.IsStore():
		switch {
		case in.Slot <= 3:
			return 1 // compact _0.._3 form
		case in.Slot <= 255:
			return 2
		default:
			return 4 // wide form
		}
	case in.Op == OpRet:
		if in.Slot <= 255 {
			return 2
		}
		return 4
	case in.Op == OpIinc:
		if in.Slot <= 255 && in.Value >= -128 && in.Value <= 127 {
			return 3
		}
		return 6 // wide form
	case in.Op == OpTableswitch:
		pad := switchPad(pos)
		return 1 + pad + 12 + 4*len(in.Targets)
	case in.Op == OpLookupswitch:
		pad := switchPad(pos)
		return 1 + pad + 8 + 8*len(in.Targets)
	default:
		return fixedLength(in.Op)
	}
}

// switchPad returns the number of alignment padding bytes following a
// switch opcode at the given offset.
func switchPad(pos int) int {
	return (4 - (pos+1)%4) % 4
}

// fixedLength returns the encoded length of opcodes whose length does not
// depend on operands or position.
func fixedLength(op Opcode) int {
	switch op {
	case OpBipush, OpLdc, OpNewarray:
		return 2
	case OpSipush, OpLdcW, OpLdc2W,
		OpGetstatic, OpPutstatic, OpGetfield, OpPutfield,
		OpInvokevirtual, OpInvokespecial, OpInvokestatic,
		OpNew, OpAnewarray, OpCheckcast, OpInstanceof:
		return 3
	case OpMultianewarray:
		return 4
	case OpInvokeinterface, OpInvokedynamic, OpGotoW, OpJsrW:
		return 5
	default:
		if op.IsBranch() {
			return 3 // 16-bit offset branches
		}
		return 1
	}
}

// TargetsHandle reports whether the instruction branches to h, either as a
// direct target, a switch case target, or a switch default.
func (in *Instruction) TargetsHandle(h *Handle) bool {
	if in.Target == h {
		return true
	}
	for _, t := range in.Targets {
		if t == h {
			return true
		}
	}
	return false
}

// RedirectTarget replaces every occurrence of old as a branch/switch target
// with new. Reports whether anything changed.
func (in *Instruction) RedirectTarget(old, new *Handle) bool {
	changed := false
	if in.Target == old {
		in.Target = new
		changed = true
	}
	for i, t := range in.Targets {
		if t == old {
			in.Targets[i] = new
			changed = true
		}
	}
	return changed
}

// String returns a readable rendering of the instruction.
func (in *Instruction) String() string {
	switch {
	case in.Op.HasLocalSlot() && in.Op != OpIinc:
		return fmt.Sprintf("%s %d", in.Op, in.Slot)
	case in.Op == OpIinc:
		return fmt.Sprintf("iinc %d %d", in.Slot, in.Value)
	case in.Op == OpBipush || in.Op == OpSipush || in.Op == OpNewarray:
		return fmt.Sprintf("%s %d", in.Op, in.Value)
	case in.Op.IsBranch():
		if in.Target != nil {
			return fmt.Sprintf("%s -> @%d", in.Op, in.Target.Position())
		}
		return in.Op.String()
	case in.Op.IsSwitch():
		var sb strings.Builder
		fmt.Fprintf(&sb, "%s [%d cases]", in.Op, len(in.Targets))
		return sb.String()
	case in.Op == OpLdc || in.Op == OpLdcW || in.Op == OpLdc2W ||
		in.Op == OpNew || in.Op == OpAnewarray || in.Op == OpCheckcast ||
		in.Op == OpInstanceof || in.Op == OpMultianewarray ||
		(in.Op >= OpGetstatic && in.Op <= OpInvokedynamic):
		return fmt.Sprintf("%s #%d", in.Op, in.Index)
	default:
		return in.Op.String()
	}
}
