package stackmap

import (
	"fmt"
	"strings"

	"github.com/tliron/commonlog"

	"github.com/classweave/classweave/classfile"
)

var log = commonlog.GetLogger("classweave.stackmap")

// AttributeName is the code attribute that holds the frames.
const AttributeName = "StackMapTable"

// stackMapMajorVersion is the first class file major version (Java 7)
// whose methods must carry a StackMapTable.
const stackMapMajorVersion = 51

// Table owns a method's stack map frames while the method's bytecode is
// being edited. Load detaches the attribute from the method so stale bytes
// can never survive an edit; Store re-encodes and re-attaches it.
//
// Entries keep their delta encoding while held here. The helpers below
// translate between deltas and absolute bytecode offsets the way the
// attribute format does: a running offset starts at -1 and each entry
// advances it by its delta plus one.
type Table struct {
	entries []Entry
	pool    *classfile.ConstantPool

	// required is whether the method must carry the attribute on Store:
	// either it already had one, or the class version demands one.
	required bool

	// uninitNew tracks each NEW instruction whose bytecode offset appears
	// in an uninitialized verification type, so the types can be rewritten
	// after the instruction moves.
	uninitNew map[*classfile.Handle]int
}

// Load builds a Table from m's StackMapTable attribute, removing the
// attribute from the method. classMajor is the class file's major version.
func Load(m *classfile.Method, classMajor int) (*Table, error) {
	t := &Table{pool: m.Pool}
	attr := m.CodeAttribute(AttributeName)
	if attr == nil {
		t.required = classMajor >= stackMapMajorVersion
		return t, nil
	}
	entries, err := DecodeTable(attr.Data, m.Pool)
	if err != nil {
		return nil, fmt.Errorf("%s.%s%s: %w", m.ClassName, m.Name, m.Descriptor, err)
	}
	m.RemoveCodeAttribute(AttributeName)
	t.entries = entries
	t.required = true
	return t, nil
}

// Entries returns the live entry slice. Mutations through it are visible
// to the table.
func (t *Table) Entries() []Entry { return t.entries }

// SetEntries replaces the table's content.
func (t *Table) SetEntries(entries []Entry) {
	t.entries = entries
}

// Len returns the number of entries.
func (t *Table) Len() int { return len(t.entries) }

// Required reports whether Store will attach an attribute.
func (t *Table) Required() bool { return t.required }

// Store encodes the entries and attaches them to m as a StackMapTable
// attribute. A required table with no entries still gets an attribute: a
// zero-entry table is valid and the class version demands its presence.
// Methods that never had the attribute in a pre-Java-7 class keep not
// having one.
func (t *Table) Store(m *classfile.Method) error {
	if !t.required {
		return nil
	}
	data, err := EncodeTable(t.entries, t.pool)
	if err != nil {
		return fmt.Errorf("%s.%s%s: %w", m.ClassName, m.Name, m.Descriptor, err)
	}
	m.RemoveCodeAttribute(AttributeName)
	m.AddCodeAttribute(AttributeName, data)
	return nil
}

// OffsetAt returns the absolute bytecode offset of entry i.
func (t *Table) OffsetAt(i int) int {
	running := -1
	for j := 0; j <= i; j++ {
		running += t.entries[j].Delta + 1
	}
	return running
}

// ApplyLengthDelta accounts for code at position growing or shrinking by
// delta bytes. Only the first entry past position needs its delta
// adjusted; every later entry is relative to it and stays valid.
func (t *Table) ApplyLengthDelta(position, delta int) {
	running := -1
	for i := range t.entries {
		running += t.entries[i].Delta + 1
		if running > position {
			t.entries[i].UpdateOffset(delta)
			return
		}
	}
}

// FindExact returns the index of the entry at exactly offset, or an error
// if no entry sits there.
func (t *Table) FindExact(offset int) (int, error) {
	running := -1
	for i := range t.entries {
		running += t.entries[i].Delta + 1
		if running > offset {
			break
		}
		if running == offset {
			return i, nil
		}
	}
	return 0, fmt.Errorf("stackmap: no entry at offset %d", offset)
}

// FindLastBefore returns the index of the last entry strictly before
// offset, the absolute offset of that entry, and the number of locals
// active after it. initialLocals is the locals count at method entry
// (receiver plus parameter slots). When every entry sits at or past
// offset the index is -1, the returned offset is -1 and the locals count
// is initialLocals.
//
// FULL entries reset the active count outright; APPEND and CHOP adjust it.
func (t *Table) FindLastBefore(offset, initialLocals int) (index, entryOffset, activeLocals int) {
	activeLocals = initialLocals
	running := -1
	for i := range t.entries {
		prev := running
		running += t.entries[i].Delta + 1
		if running >= offset {
			if i == 0 {
				return -1, -1, activeLocals
			}
			return i - 1, prev, activeLocals
		}
		switch t.entries[i].Kind {
		case EntryAppend:
			activeLocals += len(t.entries[i].Locals)
		case EntryChop:
			activeLocals -= t.entries[i].Chop
		case EntryFull:
			activeLocals = len(t.entries[i].Locals)
		}
	}
	return len(t.entries) - 1, running, activeLocals
}

// FindFirstAfter returns the index and absolute offset of the first entry
// strictly after offset, or -1 when there is none.
func (t *Table) FindFirstAfter(offset int) (index, entryOffset int) {
	running := -1
	for i := range t.entries {
		running += t.entries[i].Delta + 1
		if running > offset {
			return i, running
		}
	}
	return -1, running
}

// AdjustSwitchPadding re-anchors frames that follow switch instructions.
// Switch padding depends on the switch's own position, so once positions
// have been recomputed the frame immediately after each switch from h
// onward must land exactly at the switch's new end. h may be nil to scan
// nothing.
func (t *Table) AdjustSwitchPadding(h *classfile.Handle) {
	for ; h != nil; h = h.Next() {
		inst := h.Instruction()
		if !inst.Op.IsSwitch() {
			continue
		}
		pos := h.Position()
		index, entryOffset := t.FindFirstAfter(pos)
		if index == -1 {
			continue
		}
		delta := (pos + inst.Length(pos)) - entryOffset
		if delta != 0 {
			t.entries[index].UpdateOffset(delta)
		}
	}
}

// BuildUninitializedNewMap records, for each uninitialized verification
// type in the table, the NEW instruction handle at that type's offset.
// Call it before editing so UpdateUninitializedNewOffsets can rewrite the
// types after the instructions move.
func (t *Table) BuildUninitializedNewMap(il *classfile.InstructionList) error {
	t.uninitNew = make(map[*classfile.Handle]int)
	for i := range t.entries {
		e := &t.entries[i]
		if err := t.mapUninitialized(il, e.Locals); err != nil {
			return err
		}
		if err := t.mapUninitialized(il, e.Stack); err != nil {
			return err
		}
	}
	return nil
}

func (t *Table) mapUninitialized(il *classfile.InstructionList, types []VerificationType) error {
	for _, vt := range types {
		if vt.Tag != TagUninitialized {
			continue
		}
		h, err := il.FindHandle(vt.Offset)
		if err != nil {
			return fmt.Errorf("stackmap: uninitialized type: %w", err)
		}
		t.uninitNew[h] = vt.Offset
	}
	return nil
}

// UpdateUninitializedNewOffsets rewrites uninitialized verification types
// whose NEW instruction has moved since BuildUninitializedNewMap ran.
func (t *Table) UpdateUninitializedNewOffsets() {
	for h, oldOffset := range t.uninitNew {
		newOffset := h.Position()
		if newOffset == oldOffset {
			continue
		}
		t.rewriteUninitialized(oldOffset, newOffset)
		t.uninitNew[h] = newOffset
	}
}

func (t *Table) rewriteUninitialized(oldOffset, newOffset int) {
	for i := range t.entries {
		rewriteUninitializedTypes(t.entries[i].Locals, oldOffset, newOffset)
		rewriteUninitializedTypes(t.entries[i].Stack, oldOffset, newOffset)
	}
}

func rewriteUninitializedTypes(types []VerificationType, oldOffset, newOffset int) {
	for i := range types {
		if types[i].Tag == TagUninitialized && types[i].Offset == oldOffset {
			types[i].Offset = newOffset
		}
	}
}

// String renders the table with absolute offsets, one entry per line.
func (t *Table) String() string {
	var sb strings.Builder
	running := -1
	for i := range t.entries {
		running += t.entries[i].Delta + 1
		fmt.Fprintf(&sb, "%4d: %s\n", running, t.entries[i].String())
	}
	return sb.String()
}

// DumpTo logs the table at debug level for troubleshooting edits.
func (t *Table) DumpTo(label string) {
	if len(t.entries) == 0 {
		log.Debugf("%s: stack map table empty", label)
		return
	}
	log.Debugf("%s: stack map table:\n%s", label, t.String())
}
