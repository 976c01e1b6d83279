package verify

import (
	"fmt"
	"strings"

	"github.com/classweave/classweave/classfile"
)

// ---------------------------------------------------------------------------
// Operand stack

// OperandStack models the operand stack during symbolic execution. The top
// of stack is the last element. Category-2 types (long, double) occupy one
// entry but two slots; SlotDepth accounts for the difference.
type OperandStack struct {
	items []classfile.Type
}

// Push adds a type on top of the stack.
func (s *OperandStack) Push(t classfile.Type) {
	s.items = append(s.items, t)
}

// Pop removes and returns the top of stack.
func (s *OperandStack) Pop() classfile.Type {
	if len(s.items) == 0 {
		panic("verify: pop from empty operand stack")
	}
	t := s.items[len(s.items)-1]
	s.items = s.items[:len(s.items)-1]
	return t
}

// PopN removes n entries.
func (s *OperandStack) PopN(n int) {
	for i := 0; i < n; i++ {
		s.Pop()
	}
}

// Peek returns the entry n positions below the top without removing it.
// Peek(0) is the top of stack.
func (s *OperandStack) Peek(n int) classfile.Type {
	if n >= len(s.items) {
		panic(fmt.Sprintf("verify: peek %d on stack of depth %d", n, len(s.items)))
	}
	return s.items[len(s.items)-1-n]
}

// Len returns the number of stack entries.
func (s *OperandStack) Len() int { return len(s.items) }

// SlotDepth returns the number of slots the stack occupies, counting
// category-2 entries twice.
func (s *OperandStack) SlotDepth() int {
	n := 0
	for _, t := range s.items {
		n += t.Size()
	}
	return n
}

// Types returns the stack bottom-first. The slice aliases the stack.
func (s *OperandStack) Types() []classfile.Type { return s.items }

// Clone returns a deep copy.
func (s *OperandStack) Clone() *OperandStack {
	return &OperandStack{items: append([]classfile.Type(nil), s.items...)}
}

func (s *OperandStack) String() string {
	parts := make([]string, len(s.items))
	for i, t := range s.items {
		parts[i] = t.String()
	}
	return "[" + strings.Join(parts, ", ") + "]"
}

// ---------------------------------------------------------------------------
// Local variables

// LocalVariables models the local variable array. Slots not yet written
// hold the Unknown type. Writing a category-2 value claims two slots;
// overwriting either half of a category-2 value invalidates the other half.
type LocalVariables struct {
	slots []classfile.Type
}

// NewLocalVariables returns an array of maxLocals undefined slots.
func NewLocalVariables(maxLocals int) *LocalVariables {
	slots := make([]classfile.Type, maxLocals)
	return &LocalVariables{slots: slots}
}

// MaxLocals returns the array size.
func (lv *LocalVariables) MaxLocals() int { return len(lv.slots) }

// Get returns the type in the given slot.
func (lv *LocalVariables) Get(slot int) classfile.Type {
	if slot < 0 || slot >= len(lv.slots) {
		panic(fmt.Sprintf("verify: local slot %d out of range [0,%d)", slot, len(lv.slots)))
	}
	return lv.slots[slot]
}

// Set writes a type into the given slot, maintaining the category-2
// invariants: the second slot of a long/double becomes Unknown, and any
// category-2 value straddling the written slot is invalidated.
func (lv *LocalVariables) Set(slot int, t classfile.Type) {
	if slot < 0 || slot+t.Size()-1 >= len(lv.slots) {
		panic(fmt.Sprintf("verify: local slot %d (size %d) out of range [0,%d)", slot, t.Size(), len(lv.slots)))
	}
	// a two-slot value whose first half sits just below gets broken
	if slot > 0 && lv.slots[slot-1].Size() == 2 {
		lv.slots[slot-1] = classfile.TypeUnknown
	}
	// overwriting the first half of a two-slot value breaks its second half
	if lv.slots[slot].Size() == 2 && slot+1 < len(lv.slots) {
		lv.slots[slot+1] = classfile.TypeUnknown
	}
	lv.slots[slot] = t
	if t.Size() == 2 {
		lv.slots[slot+1] = classfile.TypeUnknown
	}
}

// Types returns the slots in order. The slice aliases the array.
func (lv *LocalVariables) Types() []classfile.Type { return lv.slots }

// Clone returns a deep copy.
func (lv *LocalVariables) Clone() *LocalVariables {
	return &LocalVariables{slots: append([]classfile.Type(nil), lv.slots...)}
}

func (lv *LocalVariables) String() string {
	parts := make([]string, len(lv.slots))
	for i, t := range lv.slots {
		parts[i] = t.String()
	}
	return "{" + strings.Join(parts, ", ") + "}"
}

// ---------------------------------------------------------------------------
// Frames

// Frame is the verification state at one program point: the operand stack
// and the local variable array.
type Frame struct {
	Stack  *OperandStack
	Locals *LocalVariables
}

// NewFrame returns a frame with an empty stack and maxLocals undefined
// locals.
func NewFrame(maxLocals int) *Frame {
	return &Frame{Stack: &OperandStack{}, Locals: NewLocalVariables(maxLocals)}
}

// Clone returns a deep copy.
func (f *Frame) Clone() *Frame {
	return &Frame{Stack: f.Stack.Clone(), Locals: f.Locals.Clone()}
}

// mergeTypes joins two verification types. Identical types are unchanged.
// Differing references join to java/lang/Object (the reference lattice here
// is flat); null joins with any reference to that reference. Anything else
// is a conflict.
func mergeTypes(a, b classfile.Type) (classfile.Type, bool) {
	if a == b {
		return a, true
	}
	if a.Kind == classfile.KindNull && b.IsReference() {
		return b, true
	}
	if b.Kind == classfile.KindNull && a.IsReference() {
		return a, true
	}
	if a.Kind == classfile.KindObject && b.Kind == classfile.KindObject {
		return classfile.TypeObject, true
	}
	if a.IsIntLike() && b.IsIntLike() {
		return classfile.TypeInt, true
	}
	return classfile.TypeUnknown, false
}

// Merge joins another frame into f, in place. It reports whether f changed.
// Conflicting or depth-mismatched operand stacks are fatal; conflicting
// locals degrade to Unknown.
func (f *Frame) Merge(other *Frame) (bool, error) {
	if f.Stack.Len() != other.Stack.Len() {
		return false, fmt.Errorf("verify: cannot merge stacks of depth %d and %d",
			f.Stack.Len(), other.Stack.Len())
	}
	if f.Locals.MaxLocals() != other.Locals.MaxLocals() {
		return false, fmt.Errorf("verify: cannot merge locals of size %d and %d",
			f.Locals.MaxLocals(), other.Locals.MaxLocals())
	}
	changed := false
	for i := range f.Stack.items {
		merged, ok := mergeTypes(f.Stack.items[i], other.Stack.items[i])
		if !ok {
			return false, fmt.Errorf("verify: stack entry %d: cannot merge %s and %s",
				i, f.Stack.items[i], other.Stack.items[i])
		}
		if merged != f.Stack.items[i] {
			f.Stack.items[i] = merged
			changed = true
		}
	}
	for i := range f.Locals.slots {
		merged, _ := mergeTypes(f.Locals.slots[i], other.Locals.slots[i])
		if merged != f.Locals.slots[i] {
			f.Locals.slots[i] = merged
			changed = true
		}
	}
	return changed, nil
}

// ReplaceType substitutes every occurrence of old in the stack and the
// locals with new. Used when invokespecial <init> turns an uninitialized
// type into an initialized one.
func (f *Frame) ReplaceType(old, new classfile.Type) {
	for i, t := range f.Stack.items {
		if t == old {
			f.Stack.items[i] = new
		}
	}
	for i, t := range f.Locals.slots {
		if t == old {
			f.Locals.slots[i] = new
		}
	}
}

// HasType reports whether the frame holds old anywhere in the stack or the
// locals.
func (f *Frame) HasType(t classfile.Type) bool {
	for _, s := range f.Stack.items {
		if s == t {
			return true
		}
	}
	for _, s := range f.Locals.slots {
		if s == t {
			return true
		}
	}
	return false
}

// HasUninitialized reports whether any uninitialized object type remains in
// the frame, and returns the first one found.
func (f *Frame) HasUninitialized() (classfile.Type, bool) {
	for _, s := range f.Stack.items {
		if s.Kind == classfile.KindUninitialized {
			return s, true
		}
	}
	for _, s := range f.Locals.slots {
		if s.Kind == classfile.KindUninitialized {
			return s, true
		}
	}
	return classfile.Type{}, false
}

func (f *Frame) String() string {
	return fmt.Sprintf("locals %s stack %s", f.Locals, f.Stack)
}
