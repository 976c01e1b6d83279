package stackmap

import (
	"bytes"
	"testing"

	"github.com/classweave/classweave/classfile"
)

func u2(v uint16) []byte { return []byte{byte(v >> 8), byte(v)} }

func TestDecodeEncodeIdentity(t *testing.T) {
	cp := classfile.NewConstantPool()
	str := cp.AddClass("java/lang/String")

	var raw []byte
	raw = append(raw, u2(6)...)
	raw = append(raw, 5)                        // SAME, delta 5
	raw = append(raw, 66, byte(TagInteger))     // SAME_LOCALS_1, delta 2, int
	raw = append(raw, 249)                      // CHOP 2
	raw = append(raw, u2(10)...)                //   delta 10
	raw = append(raw, 252)                      // APPEND 1
	raw = append(raw, u2(3)...)                 //   delta 3
	raw = append(raw, byte(TagObject))          //   String
	raw = append(raw, u2(str)...)               //
	raw = append(raw, 251)                      // SAME extended, small delta
	raw = append(raw, u2(1)...)                 //
	raw = append(raw, 255)                      // FULL, delta 4
	raw = append(raw, u2(4)...)                 //
	raw = append(raw, u2(2)...)                 //   2 locals: long, String
	raw = append(raw, byte(TagLong))            //
	raw = append(raw, byte(TagObject))          //
	raw = append(raw, u2(str)...)               //
	raw = append(raw, u2(1)...)                 //   1 stack: uninitialized@6
	raw = append(raw, byte(TagUninitialized))   //
	raw = append(raw, u2(6)...)                 //

	entries, err := DecodeTable(raw, cp)
	if err != nil {
		t.Fatalf("DecodeTable: %v", err)
	}
	if len(entries) != 6 {
		t.Fatalf("decoded %d entries, want 6", len(entries))
	}
	wantKinds := []EntryKind{EntrySame, EntrySameLocals1, EntryChop, EntryAppend, EntrySame, EntryFull}
	wantDeltas := []int{5, 2, 10, 3, 1, 4}
	for i, e := range entries {
		if e.Kind != wantKinds[i] || e.Delta != wantDeltas[i] {
			t.Errorf("entry %d = %s, want %s delta %d", i, e.String(), wantKinds[i], wantDeltas[i])
		}
	}
	if got := entries[2].Chop; got != 2 {
		t.Errorf("chop count = %d, want 2", got)
	}
	if got := entries[3].Locals[0]; got != VTObject("java/lang/String") {
		t.Errorf("append type = %s", got.String())
	}
	if got := entries[5].Stack[0]; got != VTUninitialized(6) {
		t.Errorf("full stack item = %s", got.String())
	}

	out, err := EncodeTable(entries, cp)
	if err != nil {
		t.Fatalf("EncodeTable: %v", err)
	}
	if !bytes.Equal(out, raw) {
		t.Errorf("re-encode differs:\n got %x\nwant %x", out, raw)
	}
}

func TestEncodeGrownDeltaUsesExtendedForm(t *testing.T) {
	cp := classfile.NewConstantPool()

	e := SameEntry(60)
	e.UpdateOffset(10)
	out, err := EncodeTable([]Entry{e}, cp)
	if err != nil {
		t.Fatalf("EncodeTable: %v", err)
	}
	want := append([]byte{0, 1, 251}, u2(70)...)
	if !bytes.Equal(out, want) {
		t.Errorf("encoded %x, want %x", out, want)
	}

	s1 := SameLocals1Entry(100, VTNull)
	out, err = EncodeTable([]Entry{s1}, cp)
	if err != nil {
		t.Fatalf("EncodeTable: %v", err)
	}
	want = append([]byte{0, 1, 247}, u2(100)...)
	want = append(want, byte(TagNull))
	if !bytes.Equal(out, want) {
		t.Errorf("encoded %x, want %x", out, want)
	}
}

func TestEncodeValidation(t *testing.T) {
	cp := classfile.NewConstantPool()
	bad := []Entry{
		{Kind: EntryChop, Delta: 1, Chop: 0},
		{Kind: EntryChop, Delta: 1, Chop: 4},
		{Kind: EntrySameLocals1, Delta: 1},
		{Kind: EntryAppend, Delta: 1},
		{Kind: EntrySame, Delta: -1},
		{Kind: EntrySame, Delta: 0x10000},
	}
	for i, e := range bad {
		if _, err := EncodeTable([]Entry{e}, cp); err == nil {
			t.Errorf("entry %d: EncodeTable accepted %s", i, e.String())
		}
	}
}

func TestDecodeErrors(t *testing.T) {
	cp := classfile.NewConstantPool()
	cases := []struct {
		name string
		data []byte
	}{
		{"truncated count", []byte{0}},
		{"truncated entry", append(u2(1), 251, 0)},
		{"reserved frame type", append(u2(1), 246)},
		{"trailing bytes", append(u2(1), 0, 0)},
		{"bad type tag", append(u2(1), 64, 9)},
	}
	for _, tc := range cases {
		if _, err := DecodeTable(tc.data, cp); err == nil {
			t.Errorf("%s: DecodeTable accepted %x", tc.name, tc.data)
		}
	}
}
