package classfile

import (
	"fmt"
	"strings"
)

// ---------------------------------------------------------------------------
// Handles

// Handle is a stable reference to an instruction within a list. Branch
// targets, exception handler boundaries, and local variable live ranges all
// point at handles, so instructions can be inserted or removed without
// invalidating references to their neighbors.
type Handle struct {
	inst *Instruction
	prev *Handle
	next *Handle
	pos  int
	list *InstructionList
}

// Instruction returns the instruction the handle refers to.
func (h *Handle) Instruction() *Instruction { return h.inst }

// SetInstruction replaces the instruction in place, keeping the handle and
// everything that targets it.
func (h *Handle) SetInstruction(in *Instruction) { h.inst = in }

// Position returns the bytecode offset as of the last SetPositions call.
func (h *Handle) Position() int { return h.pos }

// Prev returns the preceding handle, or nil at the start of the list.
func (h *Handle) Prev() *Handle { return h.prev }

// Next returns the following handle, or nil at the end of the list.
func (h *Handle) Next() *Handle { return h.next }

// ---------------------------------------------------------------------------
// Instruction lists

// InstructionList is a doubly linked list of instruction handles making up
// a method body. Offsets are not maintained eagerly; call SetPositions
// after structural edits.
type InstructionList struct {
	start *Handle
	end   *Handle
	size  int
}

// NewInstructionList returns an empty list.
func NewInstructionList() *InstructionList {
	return &InstructionList{}
}

// Start returns the first handle, or nil if the list is empty.
func (il *InstructionList) Start() *Handle { return il.start }

// End returns the last handle, or nil if the list is empty.
func (il *InstructionList) End() *Handle { return il.end }

// Len returns the number of instructions in the list.
func (il *InstructionList) Len() int { return il.size }

// Append adds an instruction at the end of the list and returns its handle.
func (il *InstructionList) Append(in *Instruction) *Handle {
	h := &Handle{inst: in, list: il}
	if il.end == nil {
		il.start = h
		il.end = h
	} else {
		h.prev = il.end
		il.end.next = h
		il.end = h
	}
	il.size++
	return h
}

// AppendList splices all instructions of other onto the end of il, moving
// their handles so existing targeters stay valid. other is emptied.
func (il *InstructionList) AppendList(other *InstructionList) {
	if other == nil || other.start == nil {
		return
	}
	for h := other.start; h != nil; h = h.next {
		h.list = il
	}
	if il.end == nil {
		il.start = other.start
		il.end = other.end
	} else {
		il.end.next = other.start
		other.start.prev = il.end
		il.end = other.end
	}
	il.size += other.size
	other.start = nil
	other.end = nil
	other.size = 0
}

// InsertBefore splices all instructions of other immediately before h,
// moving their handles into il. Returns the handle of the first inserted
// instruction, or h itself if other is empty.
func (il *InstructionList) InsertBefore(h *Handle, other *InstructionList) *Handle {
	if other == nil || other.start == nil {
		return h
	}
	if h.list != il {
		panic("classfile: handle does not belong to this list")
	}
	for n := other.start; n != nil; n = n.next {
		n.list = il
	}
	first, last := other.start, other.end
	first.prev = h.prev
	if h.prev != nil {
		h.prev.next = first
	} else {
		il.start = first
	}
	last.next = h
	h.prev = last
	il.size += other.size
	other.start = nil
	other.end = nil
	other.size = 0
	return first
}

// InsertInstBefore inserts a single instruction before h and returns its
// handle.
func (il *InstructionList) InsertInstBefore(h *Handle, in *Instruction) *Handle {
	sub := NewInstructionList()
	sub.Append(in)
	return il.InsertBefore(h, sub)
}

// InsertAfter splices all instructions of other immediately after h,
// returning the handle of the first inserted instruction.
func (il *InstructionList) InsertAfter(h *Handle, other *InstructionList) *Handle {
	if other == nil || other.start == nil {
		return h
	}
	if h.next != nil {
		return il.InsertBefore(h.next, other)
	}
	first := other.start
	il.AppendList(other)
	return first
}

// Delete removes the handles from first through last inclusive. The caller
// must first redirect any branch targets, exception handler boundaries, and
// live ranges that reference the removed handles.
func (il *InstructionList) Delete(first, last *Handle) error {
	if first.list != il || last.list != il {
		return fmt.Errorf("classfile: delete range not in this list")
	}
	n := 1
	for h := first; h != last; h = h.next {
		if h == nil {
			return fmt.Errorf("classfile: delete range end does not follow start")
		}
		n++
	}
	if first.prev != nil {
		first.prev.next = last.next
	} else {
		il.start = last.next
	}
	if last.next != nil {
		last.next.prev = first.prev
	} else {
		il.end = first.prev
	}
	for h := first; ; h = h.next {
		h.list = nil
		if h == last {
			break
		}
	}
	il.size -= n
	return nil
}

// SetPositions recomputes the bytecode offset of every handle. Because
// switch padding and compact versus wide encodings depend on offsets, the
// computation iterates until lengths stabilize.
func (il *InstructionList) SetPositions() {
	for {
		pos := 0
		changed := false
		for h := il.start; h != nil; h = h.next {
			if h.pos != pos {
				h.pos = pos
				changed = true
			}
			pos += h.inst.Length(pos)
		}
		if !changed {
			return
		}
	}
}

// ByteLength returns the encoded length of the whole list. Positions must
// be current.
func (il *InstructionList) ByteLength() int {
	if il.end == nil {
		return 0
	}
	return il.end.pos + il.end.inst.Length(il.end.pos)
}

// FindHandle returns the handle at the exact bytecode offset, or an error
// if no instruction starts there. Positions must be current.
func (il *InstructionList) FindHandle(offset int) (*Handle, error) {
	for h := il.start; h != nil; h = h.next {
		if h.pos == offset {
			return h, nil
		}
		if h.pos > offset {
			break
		}
	}
	return nil, fmt.Errorf("classfile: no instruction at offset %d", offset)
}

// RedirectBranches rewrites every branch or switch target equal to old so
// it points at new instead.
func (il *InstructionList) RedirectBranches(old, new *Handle) {
	for h := il.start; h != nil; h = h.next {
		h.inst.RedirectTarget(old, new)
	}
}

// Targeters returns the handles whose instructions branch to h. Exception
// handlers and live ranges are tracked on the method, not here.
func (il *InstructionList) Targeters(h *Handle) []*Handle {
	var out []*Handle
	for c := il.start; c != nil; c = c.next {
		if c.inst.TargetsHandle(h) {
			out = append(out, c)
		}
	}
	return out
}

// Handles returns all handles in order. Useful for iteration with index
// arithmetic in the verifier.
func (il *InstructionList) Handles() []*Handle {
	out := make([]*Handle, 0, il.size)
	for h := il.start; h != nil; h = h.next {
		out = append(out, h)
	}
	return out
}

// String renders the list one instruction per line with offsets.
func (il *InstructionList) String() string {
	var sb strings.Builder
	for h := il.start; h != nil; h = h.next {
		fmt.Fprintf(&sb, "%4d: %s\n", h.pos, h.inst)
	}
	return sb.String()
}
