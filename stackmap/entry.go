package stackmap

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"strings"

	"github.com/classweave/classweave/classfile"
)

// Frame type encoding boundaries from the StackMapTable attribute format.
const (
	frameSameMax          = 63
	frameSameLocals1Min   = 64
	frameSameLocals1Max   = 127
	frameSameLocals1Ext   = 247
	frameChopMin          = 248
	frameChopMax          = 250
	frameSameExtended     = 251
	frameAppendMin        = 252
	frameAppendMax        = 254
	frameFull             = 255
)

// EntryKind is the semantic kind of a stack map frame, independent of how
// its offset delta happens to be encoded.
type EntryKind uint8

const (
	// EntrySame declares the same locals as the previous frame and an
	// empty stack.
	EntrySame EntryKind = iota
	// EntrySameLocals1 declares the same locals and exactly one stack item.
	EntrySameLocals1
	// EntryChop removes the last Chop locals and declares an empty stack.
	EntryChop
	// EntryAppend adds the Locals types after the previous locals and
	// declares an empty stack.
	EntryAppend
	// EntryFull declares the complete locals and stack.
	EntryFull
)

func (k EntryKind) String() string {
	switch k {
	case EntrySame:
		return "SAME"
	case EntrySameLocals1:
		return "SAME_LOCALS_1_STACK_ITEM"
	case EntryChop:
		return "CHOP"
	case EntryAppend:
		return "APPEND"
	case EntryFull:
		return "FULL"
	default:
		return fmt.Sprintf("EntryKind(%d)", k)
	}
}

// Entry is one stack map frame. Delta is the delta-encoded bytecode offset:
// the frame's absolute offset is the previous frame's offset plus Delta
// plus one (plus one less for the first frame, whose predecessor offset is
// taken to be -1).
//
// The encoded frame-type byte is chosen during serialization from Kind and
// Delta, so an entry whose delta outgrows the compact SAME encoding
// re-encodes as SAME_FRAME_EXTENDED without the caller doing anything.
// extended records that the compact form was NOT used when the entry was
// decoded, so an unedited table re-encodes byte for byte.
type Entry struct {
	Kind   EntryKind
	Delta  int
	Chop   int                // number of locals removed, 1 to 3 (EntryChop)
	Locals []VerificationType // appended locals (EntryAppend) or all locals (EntryFull)
	Stack  []VerificationType // the one item (EntrySameLocals1) or all items (EntryFull)

	extended bool
}

// SameEntry returns a SAME frame at the given delta.
func SameEntry(delta int) Entry {
	return Entry{Kind: EntrySame, Delta: delta}
}

// SameLocals1Entry returns a SAME_LOCALS_1_STACK_ITEM frame.
func SameLocals1Entry(delta int, item VerificationType) Entry {
	return Entry{Kind: EntrySameLocals1, Delta: delta, Stack: []VerificationType{item}}
}

// FullEntry returns a FULL frame.
func FullEntry(delta int, locals, stack []VerificationType) Entry {
	return Entry{Kind: EntryFull, Delta: delta, Locals: locals, Stack: stack}
}

// UpdateOffset adds delta to the entry's encoded offset delta. Subsequent
// entries are unaffected: their deltas are relative to this one.
func (e *Entry) UpdateOffset(delta int) {
	e.Delta += delta
}

// LocalsDelta returns how the entry changes the active locals count:
// positive for APPEND, negative for CHOP, zero otherwise. FULL frames
// replace the count outright and report zero here.
func (e *Entry) LocalsDelta() int {
	switch e.Kind {
	case EntryAppend:
		return len(e.Locals)
	case EntryChop:
		return -e.Chop
	default:
		return 0
	}
}

func (e *Entry) String() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "%s(+%d", e.Kind, e.Delta)
	if e.Kind == EntryChop {
		fmt.Fprintf(&sb, ", chop %d", e.Chop)
	}
	if len(e.Locals) > 0 {
		fmt.Fprintf(&sb, ", locals %v", e.Locals)
	}
	if len(e.Stack) > 0 {
		fmt.Fprintf(&sb, ", stack %v", e.Stack)
	}
	sb.WriteString(")")
	return sb.String()
}

// ---------------------------------------------------------------------------
// Wire codec

// DecodeTable parses a StackMapTable attribute body (u2 entry count
// followed by the entries). Object types are resolved through the pool.
func DecodeTable(data []byte, cp *classfile.ConstantPool) ([]Entry, error) {
	r := &reader{data: data}
	count := int(r.u2())
	entries := make([]Entry, 0, count)
	for i := 0; i < count; i++ {
		e, err := decodeEntry(r, cp)
		if err != nil {
			return nil, fmt.Errorf("stackmap: entry %d: %w", i, err)
		}
		entries = append(entries, e)
	}
	if r.err != nil {
		return nil, fmt.Errorf("stackmap: truncated attribute: %w", r.err)
	}
	if r.pos != len(data) {
		return nil, fmt.Errorf("stackmap: %d trailing bytes after %d entries", len(data)-r.pos, count)
	}
	return entries, nil
}

func decodeEntry(r *reader, cp *classfile.ConstantPool) (Entry, error) {
	ft := int(r.u1())
	switch {
	case ft <= frameSameMax:
		return Entry{Kind: EntrySame, Delta: ft}, nil
	case ft <= frameSameLocals1Max:
		item, err := decodeType(r, cp)
		if err != nil {
			return Entry{}, err
		}
		return Entry{Kind: EntrySameLocals1, Delta: ft - frameSameLocals1Min,
			Stack: []VerificationType{item}}, nil
	case ft == frameSameLocals1Ext:
		delta := int(r.u2())
		item, err := decodeType(r, cp)
		if err != nil {
			return Entry{}, err
		}
		return Entry{Kind: EntrySameLocals1, Delta: delta,
			Stack: []VerificationType{item}, extended: true}, nil
	case ft >= frameChopMin && ft <= frameChopMax:
		return Entry{Kind: EntryChop, Delta: int(r.u2()), Chop: frameSameExtended - ft}, nil
	case ft == frameSameExtended:
		return Entry{Kind: EntrySame, Delta: int(r.u2()), extended: true}, nil
	case ft >= frameAppendMin && ft <= frameAppendMax:
		delta := int(r.u2())
		n := ft - frameSameExtended
		locals, err := decodeTypes(r, cp, n)
		if err != nil {
			return Entry{}, err
		}
		return Entry{Kind: EntryAppend, Delta: delta, Locals: locals}, nil
	case ft == frameFull:
		delta := int(r.u2())
		locals, err := decodeTypes(r, cp, int(r.u2()))
		if err != nil {
			return Entry{}, err
		}
		stack, err := decodeTypes(r, cp, int(r.u2()))
		if err != nil {
			return Entry{}, err
		}
		return Entry{Kind: EntryFull, Delta: delta, Locals: locals, Stack: stack}, nil
	default:
		return Entry{}, fmt.Errorf("reserved frame type %d", ft)
	}
}

func decodeTypes(r *reader, cp *classfile.ConstantPool, n int) ([]VerificationType, error) {
	if n < 0 || n > len(r.data) {
		return nil, fmt.Errorf("implausible type count %d", n)
	}
	out := make([]VerificationType, 0, n)
	for i := 0; i < n; i++ {
		t, err := decodeType(r, cp)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, nil
}

func decodeType(r *reader, cp *classfile.ConstantPool) (VerificationType, error) {
	tag := Tag(r.u1())
	switch tag {
	case TagTop, TagInteger, TagFloat, TagDouble, TagLong, TagNull, TagUninitializedThis:
		return VerificationType{Tag: tag}, nil
	case TagObject:
		index := r.u2()
		if r.err != nil {
			return VerificationType{}, r.err
		}
		name, err := cp.ClassName(index)
		if err != nil {
			return VerificationType{}, err
		}
		return VTObject(name), nil
	case TagUninitialized:
		return VTUninitialized(int(r.u2())), nil
	default:
		return VerificationType{}, fmt.Errorf("invalid verification type tag %d", tag)
	}
}

// EncodeTable serializes entries as a StackMapTable attribute body. Object
// class names are interned into the pool.
func EncodeTable(entries []Entry, cp *classfile.ConstantPool) ([]byte, error) {
	var buf bytes.Buffer
	writeU2(&buf, uint16(len(entries)))
	for i := range entries {
		if err := encodeEntry(&buf, &entries[i], cp); err != nil {
			return nil, fmt.Errorf("stackmap: entry %d: %w", i, err)
		}
	}
	return buf.Bytes(), nil
}

func encodeEntry(buf *bytes.Buffer, e *Entry, cp *classfile.ConstantPool) error {
	if e.Delta < 0 || e.Delta > 0xffff {
		return fmt.Errorf("offset delta %d out of range", e.Delta)
	}
	switch e.Kind {
	case EntrySame:
		if e.Delta <= frameSameMax && !e.extended {
			buf.WriteByte(byte(e.Delta))
			return nil
		}
		buf.WriteByte(frameSameExtended)
		writeU2(buf, uint16(e.Delta))
		return nil

	case EntrySameLocals1:
		if len(e.Stack) != 1 {
			return fmt.Errorf("SAME_LOCALS_1_STACK_ITEM with %d stack items", len(e.Stack))
		}
		if e.Delta <= frameSameMax && !e.extended {
			buf.WriteByte(byte(frameSameLocals1Min + e.Delta))
		} else {
			buf.WriteByte(frameSameLocals1Ext)
			writeU2(buf, uint16(e.Delta))
		}
		return encodeType(buf, e.Stack[0], cp)

	case EntryChop:
		if e.Chop < 1 || e.Chop > 3 {
			return fmt.Errorf("CHOP of %d locals", e.Chop)
		}
		buf.WriteByte(byte(frameSameExtended - e.Chop))
		writeU2(buf, uint16(e.Delta))
		return nil

	case EntryAppend:
		if len(e.Locals) < 1 || len(e.Locals) > 3 {
			return fmt.Errorf("APPEND of %d locals", len(e.Locals))
		}
		buf.WriteByte(byte(frameSameExtended + len(e.Locals)))
		writeU2(buf, uint16(e.Delta))
		for _, t := range e.Locals {
			if err := encodeType(buf, t, cp); err != nil {
				return err
			}
		}
		return nil

	case EntryFull:
		buf.WriteByte(frameFull)
		writeU2(buf, uint16(e.Delta))
		writeU2(buf, uint16(len(e.Locals)))
		for _, t := range e.Locals {
			if err := encodeType(buf, t, cp); err != nil {
				return err
			}
		}
		writeU2(buf, uint16(len(e.Stack)))
		for _, t := range e.Stack {
			if err := encodeType(buf, t, cp); err != nil {
				return err
			}
		}
		return nil

	default:
		return fmt.Errorf("invalid entry kind %d", e.Kind)
	}
}

func encodeType(buf *bytes.Buffer, t VerificationType, cp *classfile.ConstantPool) error {
	buf.WriteByte(byte(t.Tag))
	switch t.Tag {
	case TagObject:
		writeU2(buf, cp.AddClass(t.ClassName))
	case TagUninitialized:
		if t.Offset < 0 || t.Offset > 0xffff {
			return fmt.Errorf("uninitialized offset %d out of range", t.Offset)
		}
		writeU2(buf, uint16(t.Offset))
	case TagTop, TagInteger, TagFloat, TagDouble, TagLong, TagNull, TagUninitializedThis:
		// no payload
	default:
		return fmt.Errorf("invalid verification type tag %d", t.Tag)
	}
	return nil
}

func writeU2(buf *bytes.Buffer, v uint16) {
	var b [2]byte
	binary.BigEndian.PutUint16(b[:], v)
	buf.Write(b[:])
}

// reader is a cursor over attribute bytes that records the first overrun
// instead of failing every call.
type reader struct {
	data []byte
	pos  int
	err  error
}

func (r *reader) u1() uint8 {
	if r.pos+1 > len(r.data) {
		r.fail()
		return 0
	}
	v := r.data[r.pos]
	r.pos++
	return v
}

func (r *reader) u2() uint16 {
	if r.pos+2 > len(r.data) {
		r.fail()
		return 0
	}
	v := binary.BigEndian.Uint16(r.data[r.pos:])
	r.pos += 2
	return v
}

func (r *reader) fail() {
	if r.err == nil {
		r.err = fmt.Errorf("read past end of data at byte %d", r.pos)
	}
	r.pos = len(r.data)
}
