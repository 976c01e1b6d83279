package classfile

import (
	"fmt"
	"sort"
)

// Method access flags.
const (
	AccPublic       = 0x0001
	AccPrivate      = 0x0002
	AccProtected    = 0x0004
	AccStatic       = 0x0008
	AccFinal        = 0x0010
	AccSynchronized = 0x0020
	AccBridge       = 0x0040
	AccVarargs      = 0x0080
	AccNative       = 0x0100
	AccAbstract     = 0x0400
	AccStrict       = 0x0800
	AccSynthetic    = 0x1000
)

// LocalVar is one LocalVariableTable entry. Start and End are instruction
// handles delimiting the live range; End is the last instruction at which
// the variable is still live. LiveToEnd marks variables whose range runs to
// the end of the method body, so appended code extends their range.
type LocalVar struct {
	Name      string
	Type      Type
	Slot      int
	Start     *Handle
	End       *Handle
	LiveToEnd bool
}

// ExceptionHandler is one exception table entry. The protected range is
// [Start, End) in handle terms: End is the first instruction no longer
// covered. CatchType is the binary class name of the caught exception, or
// "" for a catch-all entry.
type ExceptionHandler struct {
	Start     *Handle
	End       *Handle
	Handler   *Handle
	CatchType string
}

// LineNumber maps an instruction handle to a source line.
type LineNumber struct {
	At   *Handle
	Line int
}

// Attribute is an uninterpreted code attribute: raw info bytes keyed by
// attribute name.
type Attribute struct {
	Name string
	Data []byte
}

// Method models one method's code and the attributes the rewriting engine
// maintains. It is not a full classfile reader; the surrounding tool is
// expected to populate it and to write the result back out.
type Method struct {
	ClassName  string // binary name of the declaring class
	Name       string
	Descriptor string
	Flags      int

	ArgTypes   []Type
	ReturnType Type

	Code     *InstructionList
	Handlers []ExceptionHandler
	Locals   []LocalVar // kept sorted by slot, then by start position
	Lines    []LineNumber

	MaxLocals int
	MaxStack  int

	Pool *ConstantPool

	// Attributes holds the remaining code attributes: StackMapTable,
	// LocalVariableTypeTable, and anything else the tool carried along.
	Attributes []Attribute
}

// NewMethod builds a method from its descriptor. The instruction list
// starts empty.
func NewMethod(className, name, descriptor string, flags int, pool *ConstantPool) (*Method, error) {
	args, ret, err := ParseMethodDescriptor(descriptor)
	if err != nil {
		return nil, fmt.Errorf("classfile: method %s.%s: %w", className, name, err)
	}
	m := &Method{
		ClassName:  className,
		Name:       name,
		Descriptor: descriptor,
		Flags:      flags,
		ArgTypes:   args,
		ReturnType: ret,
		Code:       NewInstructionList(),
		Pool:       pool,
	}
	m.RecomputeMaxLocals()
	return m, nil
}

// IsStatic reports whether the method has no receiver.
func (m *Method) IsStatic() bool { return m.Flags&AccStatic != 0 }

// IsConstructor reports whether the method is an instance initializer.
func (m *Method) IsConstructor() bool { return m.Name == "<init>" }

// ---------------------------------------------------------------------------
// Local variables

// LocalVariables returns the entries sorted by slot, then by start offset.
// The returned slice aliases the method's table.
func (m *Method) LocalVariables() []LocalVar {
	m.sortLocals()
	return m.Locals
}

// sortLocals keeps the table in slot order; within a slot, range start
// order. Positions must be current for the secondary key to be meaningful.
func (m *Method) sortLocals() {
	sort.SliceStable(m.Locals, func(i, j int) bool {
		a, b := m.Locals[i], m.Locals[j]
		if a.Slot != b.Slot {
			return a.Slot < b.Slot
		}
		as, bs := 0, 0
		if a.Start != nil {
			as = a.Start.Position()
		}
		if b.Start != nil {
			bs = b.Start.Position()
		}
		return as < bs
	})
}

// AddLocalVariable appends an entry and re-sorts the table.
func (m *Method) AddLocalVariable(v LocalVar) {
	m.Locals = append(m.Locals, v)
	m.sortLocals()
}

// RemoveLocalVariables clears the local variable table.
func (m *Method) RemoveLocalVariables() {
	m.Locals = nil
}

// LocalVariableAt returns the entry live at the given bytecode offset for
// the given slot, or nil. Positions must be current.
func (m *Method) LocalVariableAt(slot, offset int) *LocalVar {
	for i := range m.Locals {
		v := &m.Locals[i]
		if v.Slot != slot || v.Start == nil {
			continue
		}
		start := v.Start.Position()
		end := start
		if v.End != nil {
			end = v.End.Position()
		}
		if v.LiveToEnd && m.Code != nil && m.Code.End() != nil {
			end = m.Code.End().Position()
		}
		if offset >= start && offset <= end {
			return v
		}
	}
	return nil
}

// RecomputeMaxLocals sets MaxLocals to cover the receiver, the declared
// parameters, every local variable table entry, and every slot referenced
// by a load, store, iinc, or ret instruction.
func (m *Method) RecomputeMaxLocals() {
	max := 0
	if !m.IsStatic() {
		max = 1
	}
	for _, t := range m.ArgTypes {
		max += t.Size()
	}
	for _, v := range m.Locals {
		if end := v.Slot + v.Type.Size(); end > max {
			max = end
		}
	}
	if m.Code != nil {
		for h := m.Code.Start(); h != nil; h = h.Next() {
			in := h.Instruction()
			if !in.Op.HasLocalSlot() {
				continue
			}
			if end := in.Slot + in.slotOpSize(); end > max {
				max = end
			}
		}
	}
	m.MaxLocals = max
}

// ---------------------------------------------------------------------------
// Code attributes

// CodeAttribute returns the attribute with the given name, or nil.
func (m *Method) CodeAttribute(name string) *Attribute {
	for i := range m.Attributes {
		if m.Attributes[i].Name == name {
			return &m.Attributes[i]
		}
	}
	return nil
}

// RemoveCodeAttribute deletes every attribute with the given name.
func (m *Method) RemoveCodeAttribute(name string) {
	out := m.Attributes[:0]
	for _, a := range m.Attributes {
		if a.Name != name {
			out = append(out, a)
		}
	}
	m.Attributes = out
}

// AddCodeAttribute appends an attribute.
func (m *Method) AddCodeAttribute(name string, data []byte) {
	m.Attributes = append(m.Attributes, Attribute{Name: name, Data: data})
}

// RemoveLocalVariableTypeTable drops the generic-signature variable table.
// It duplicates the erased table's slots and cannot be kept consistent
// across local renumbering, so rewrites discard it.
func (m *Method) RemoveLocalVariableTypeTable() {
	m.RemoveCodeAttribute("LocalVariableTypeTable")
}

// ---------------------------------------------------------------------------
// Handle targeters

// RedirectTargeters repoints every line number entry, local variable range
// endpoint, and (when moveHandlers is set) exception handler boundary equal
// to old at new. Branch targets are redirected separately on the
// instruction list.
func (m *Method) RedirectTargeters(old, new *Handle, moveHandlers bool) {
	for i := range m.Lines {
		if m.Lines[i].At == old {
			m.Lines[i].At = new
		}
	}
	for i := range m.Locals {
		if m.Locals[i].Start == old {
			m.Locals[i].Start = new
		}
		if m.Locals[i].End == old {
			m.Locals[i].End = new
		}
	}
	if moveHandlers {
		for i := range m.Handlers {
			if m.Handlers[i].Start == old {
				m.Handlers[i].Start = new
			}
			if m.Handlers[i].End == old {
				m.Handlers[i].End = new
			}
			if m.Handlers[i].Handler == old {
				m.Handlers[i].Handler = new
			}
		}
	}
}

// HandleReferenced reports whether any line number, local variable range,
// exception boundary, or branch targets the handle. Used before deleting
// an instruction run.
func (m *Method) HandleReferenced(h *Handle) bool {
	for _, ln := range m.Lines {
		if ln.At == h {
			return true
		}
	}
	for _, v := range m.Locals {
		if v.Start == h || v.End == h {
			return true
		}
	}
	for _, eh := range m.Handlers {
		if eh.Start == h || eh.End == h || eh.Handler == h {
			return true
		}
	}
	if m.Code != nil {
		for c := m.Code.Start(); c != nil; c = c.Next() {
			if c.Instruction().TargetsHandle(h) {
				return true
			}
		}
	}
	return false
}

// FirstArgSlot returns the slot of the first declared parameter: 0 for a
// static method, 1 otherwise.
func (m *Method) FirstArgSlot() int {
	if m.IsStatic() {
		return 0
	}
	return 1
}

// ParamSlots returns the number of slots occupied by the receiver and the
// declared parameters.
func (m *Method) ParamSlots() int {
	n := m.FirstArgSlot()
	for _, t := range m.ArgTypes {
		n += t.Size()
	}
	return n
}
