package stackmap

import (
	"testing"

	"github.com/classweave/classweave/classfile"
)

func newTestMethod(t *testing.T, name, desc string, flags int) *classfile.Method {
	t.Helper()
	m, err := classfile.NewMethod("Foo", name, desc, flags, classfile.NewConstantPool())
	if err != nil {
		t.Fatalf("NewMethod: %v", err)
	}
	return m
}

func newTestTable(m *classfile.Method, entries ...Entry) *Table {
	return &Table{entries: entries, pool: m.Pool, required: true}
}

func TestOffsetAt(t *testing.T) {
	m := newTestMethod(t, "m", "()V", classfile.AccStatic)
	tab := newTestTable(m, SameEntry(10), SameEntry(5), SameEntry(0))
	want := []int{10, 16, 17}
	for i, w := range want {
		if got := tab.OffsetAt(i); got != w {
			t.Errorf("OffsetAt(%d) = %d, want %d", i, got, w)
		}
	}
}

func TestApplyLengthDeltaTouchesOneEntry(t *testing.T) {
	m := newTestMethod(t, "m", "()V", classfile.AccStatic)
	cases := []struct {
		position, delta int
		wantOffsets     []int
	}{
		// growth before the first frame shifts only the first delta
		{3, 3, []int{13, 19, 20}},
		// growth between frames shifts the next frame; later ones ride along
		{12, 2, []int{10, 18, 19}},
		// growth past every frame changes nothing
		{30, 5, []int{10, 16, 17}},
	}
	for _, tc := range cases {
		tab := newTestTable(m, SameEntry(10), SameEntry(5), SameEntry(0))
		tab.ApplyLengthDelta(tc.position, tc.delta)
		for i, w := range tc.wantOffsets {
			if got := tab.OffsetAt(i); got != w {
				t.Errorf("ApplyLengthDelta(%d, %d): OffsetAt(%d) = %d, want %d",
					tc.position, tc.delta, i, got, w)
			}
		}
	}
}

func TestFindExact(t *testing.T) {
	m := newTestMethod(t, "m", "()V", classfile.AccStatic)
	tab := newTestTable(m, SameEntry(4), SameEntry(7))
	if i, err := tab.FindExact(12); err != nil || i != 1 {
		t.Errorf("FindExact(12) = %d, %v, want 1, nil", i, err)
	}
	if _, err := tab.FindExact(5); err == nil {
		t.Error("FindExact(5) found an entry between frames")
	}
}

func TestFindLastBeforeTracksActiveLocals(t *testing.T) {
	m := newTestMethod(t, "m", "()V", classfile.AccStatic)
	tab := newTestTable(m,
		Entry{Kind: EntryAppend, Delta: 4, Locals: []VerificationType{VTInteger, VTLong}}, // offset 4
		SameEntry(5),                       // offset 10
		Entry{Kind: EntryChop, Delta: 3, Chop: 1},            // offset 14
		FullEntry(5, []VerificationType{VTInteger}, nil),     // offset 20
	)
	cases := []struct {
		offset                         int
		wantIndex, wantOffset, wantLoc int
	}{
		{0, -1, -1, 2},  // before every frame
		{4, -1, -1, 2},  // at the first frame still counts as before it
		{10, 0, 4, 4},   // APPEND added two
		{15, 2, 14, 3},  // CHOP removed one
		{25, 3, 20, 1},  // FULL reset the count
	}
	for _, tc := range cases {
		i, off, loc := tab.FindLastBefore(tc.offset, 2)
		if i != tc.wantIndex || off != tc.wantOffset || loc != tc.wantLoc {
			t.Errorf("FindLastBefore(%d) = (%d, %d, %d), want (%d, %d, %d)",
				tc.offset, i, off, loc, tc.wantIndex, tc.wantOffset, tc.wantLoc)
		}
	}
}

func TestFindFirstAfter(t *testing.T) {
	m := newTestMethod(t, "m", "()V", classfile.AccStatic)
	tab := newTestTable(m, SameEntry(4), SameEntry(7))
	if i, off := tab.FindFirstAfter(4); i != 1 || off != 12 {
		t.Errorf("FindFirstAfter(4) = (%d, %d), want (1, 12)", i, off)
	}
	if i, _ := tab.FindFirstAfter(12); i != -1 {
		t.Errorf("FindFirstAfter(12) = %d, want -1", i)
	}
}

func TestAdjustSwitchPadding(t *testing.T) {
	m := newTestMethod(t, "m", "(I)V", classfile.AccStatic)
	il := m.Code
	il.Append(classfile.NewLocalInst(classfile.OpIload, 0))
	ret := classfile.NewInst(classfile.OpReturn)
	retH := il.Append(classfile.NewTableswitch(0, []*classfile.Handle{nil}, nil))
	exit := il.Append(ret)
	retH.Instruction().Targets[0] = exit
	retH.Instruction().Target = exit
	il.SetPositions()

	// switch at 1, two pad bytes, ends at 20
	tab := newTestTable(m, SameEntry(exit.Position()))
	if got := exit.Position(); got != 20 {
		t.Fatalf("switch end at %d, want 20", got)
	}

	// a one-byte insertion at the front moves the switch to 2 and drops a
	// pad byte, so its end stays 20; the blind delta overshoots and the
	// padding pass pulls the frame back
	il.InsertInstBefore(il.Start(), classfile.NewInst(classfile.OpNop))
	il.SetPositions()
	tab.ApplyLengthDelta(0, 1)
	if got := tab.OffsetAt(0); got != 21 {
		t.Fatalf("after length delta frame at %d, want 21", got)
	}
	tab.AdjustSwitchPadding(il.Start())
	if got := tab.OffsetAt(0); got != exit.Position() {
		t.Errorf("frame at %d, want %d", tab.OffsetAt(0), exit.Position())
	}
	if exit.Position() != 20 {
		t.Errorf("switch end moved to %d", exit.Position())
	}
}

func TestUninitializedNewTracking(t *testing.T) {
	m := newTestMethod(t, "m", "()V", classfile.AccStatic)
	il := m.Code
	il.Append(classfile.NewInst(classfile.OpNop))
	cls := m.Pool.AddClass("Foo")
	il.Append(classfile.NewIndexed(classfile.OpNew, cls))
	il.Append(classfile.NewInst(classfile.OpReturn))
	il.SetPositions()

	tab := newTestTable(m,
		FullEntry(4, nil, []VerificationType{VTUninitialized(1)}),
	)
	if err := tab.BuildUninitializedNewMap(il); err != nil {
		t.Fatalf("BuildUninitializedNewMap: %v", err)
	}

	il.InsertInstBefore(il.Start(), classfile.NewInst(classfile.OpNop))
	il.SetPositions()
	tab.UpdateUninitializedNewOffsets()
	if got := tab.Entries()[0].Stack[0]; got != VTUninitialized(2) {
		t.Errorf("uninitialized type = %s, want uninitialized(2)", got.String())
	}
}

func TestLoadStoreAttachment(t *testing.T) {
	// a pre-Java-7 method that never had the attribute keeps not having one
	m := newTestMethod(t, "m", "()V", classfile.AccStatic)
	tab, err := Load(m, 50)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if tab.Required() {
		t.Error("version 50 method with no attribute reported required")
	}
	if err := tab.Store(m); err != nil {
		t.Fatalf("Store: %v", err)
	}
	if m.CodeAttribute(AttributeName) != nil {
		t.Error("Store attached an attribute to a version 50 method")
	}

	// a Java 7 method gets one even when the table is empty
	m = newTestMethod(t, "m", "()V", classfile.AccStatic)
	tab, err = Load(m, 51)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !tab.Required() {
		t.Error("version 51 method not required")
	}
	if err := tab.Store(m); err != nil {
		t.Fatalf("Store: %v", err)
	}
	attr := m.CodeAttribute(AttributeName)
	if attr == nil {
		t.Fatal("Store left a version 51 method without a StackMapTable")
	}
	entries, err := DecodeTable(attr.Data, m.Pool)
	if err != nil || len(entries) != 0 {
		t.Errorf("stored empty table decodes to %d entries, err %v", len(entries), err)
	}

	// loading detaches an existing attribute and round-trips its content
	m = newTestMethod(t, "m", "()V", classfile.AccStatic)
	m.AddCodeAttribute(AttributeName, []byte{0, 1, 9})
	tab, err = Load(m, 51)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if m.CodeAttribute(AttributeName) != nil {
		t.Error("Load left the attribute attached")
	}
	if tab.Len() != 1 || tab.OffsetAt(0) != 9 {
		t.Errorf("loaded table = %s", tab.String())
	}
	if err := tab.Store(m); err != nil {
		t.Fatalf("Store: %v", err)
	}
	attr = m.CodeAttribute(AttributeName)
	if attr == nil || len(attr.Data) != 3 || attr.Data[2] != 9 {
		t.Errorf("restored attribute = %v", attr)
	}
}
