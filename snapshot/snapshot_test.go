package snapshot

import (
	"bytes"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/classweave/classweave/classfile"
	"github.com/classweave/classweave/stackmap"
	"github.com/classweave/classweave/verify"
)

func captureTestMethod(t *testing.T) *Snapshot {
	t.Helper()
	m, err := classfile.NewMethod("Foo", "m", "(I)I", classfile.AccStatic, classfile.NewConstantPool())
	if err != nil {
		t.Fatalf("NewMethod: %v", err)
	}
	il := m.Code
	il.Append(classfile.NewLocalInst(classfile.OpIload, 0))
	il.Append(classfile.NewInst(classfile.OpNop))
	il.Append(classfile.NewInst(classfile.OpIreturn))
	il.SetPositions()
	// SAME_LOCALS_1_STACK_ITEM int at offset 2
	m.AddCodeAttribute(stackmap.AttributeName, []byte{0, 1, 66, 1})

	table, err := stackmap.Load(m, 51)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	m.RecomputeMaxLocals()
	st, err := verify.Analyze(m)
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	return Capture(m, table, st)
}

func TestCapture(t *testing.T) {
	snap := captureTestMethod(t)

	if snap.Class != "Foo" || snap.Method != "m" || snap.Descriptor != "(I)I" {
		t.Errorf("identity = %s.%s%s", snap.Class, snap.Method, snap.Descriptor)
	}
	wantFrames := []Frame{
		{Offset: 2, Kind: "SAME_LOCALS_1_STACK_ITEM", Stack: []string{"int"}},
	}
	if diff := cmp.Diff(wantFrames, snap.Frames); diff != "" {
		t.Errorf("frames mismatch (-want +got):\n%s", diff)
	}
	wantComputed := []OffsetTypes{
		{Offset: 0, Locals: []string{"int"}},
		{Offset: 1, Locals: []string{"int"}, Stack: []string{"int"}},
		{Offset: 2, Locals: []string{"int"}, Stack: []string{"int"}},
	}
	if diff := cmp.Diff(wantComputed, snap.Computed); diff != "" {
		t.Errorf("computed types mismatch (-want +got):\n%s", diff)
	}
}

func TestSnapshot_CBORRoundTrip(t *testing.T) {
	snap := captureTestMethod(t)

	data, err := Marshal(snap)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	got, err := Unmarshal(data)
	if err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if diff := cmp.Diff(snap, got); diff != "" {
		t.Errorf("round trip mismatch (-want +got):\n%s", diff)
	}
}

func TestMarshalDeterministic(t *testing.T) {
	a, err := Marshal(captureTestMethod(t))
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	b, err := Marshal(captureTestMethod(t))
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	if !bytes.Equal(a, b) {
		t.Error("two captures of the same analysis marshal differently")
	}
}
