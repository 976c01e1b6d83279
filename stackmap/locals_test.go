package stackmap

import (
	"testing"

	"github.com/classweave/classweave/classfile"
)

func beginSession(t *testing.T, m *classfile.Method, classMajor int) *Session {
	t.Helper()
	s, err := Begin(m, classMajor)
	if err != nil {
		t.Fatalf("Begin: %v", err)
	}
	return s
}

func TestReconcileHiddenParameters(t *testing.T) {
	m := newTestMethod(t, "m", "(IJ)V", classfile.AccStatic)
	m.Code.Append(classfile.NewInst(classfile.OpReturn))

	s := beginSession(t, m, 51)

	locals := m.LocalVariables()
	if len(locals) != 2 {
		t.Fatalf("got %d locals, want 2: %v", len(locals), locals)
	}
	if locals[0].Name != "$hidden$0" || locals[0].Slot != 0 || locals[0].Type != classfile.TypeInt {
		t.Errorf("local 0 = %+v, want $hidden$0 int at slot 0", locals[0])
	}
	if locals[1].Name != "$hidden$1" || locals[1].Slot != 1 || locals[1].Type != classfile.TypeLong {
		t.Errorf("local 1 = %+v, want $hidden$1 long at slot 1", locals[1])
	}
	if !locals[0].LiveToEnd || !locals[1].LiveToEnd {
		t.Error("parameter entries must span the whole method")
	}

	want := []VerificationType{VTInteger, VTLong}
	got := s.InitialTypes()
	if len(got) != len(want) || got[0] != want[0] || got[1] != want[1] {
		t.Errorf("InitialTypes = %v, want %v", got, want)
	}
	if s.InitialLocalsCount() != 2 {
		t.Errorf("InitialLocalsCount = %d, want 2", s.InitialLocalsCount())
	}
	if s.FirstLocalIndex() != 2 {
		t.Errorf("FirstLocalIndex = %d, want 2", s.FirstLocalIndex())
	}
}

func TestReconcileKeepsNamedParameter(t *testing.T) {
	m := newTestMethod(t, "m", "(I)V", classfile.AccStatic)
	il := m.Code
	il.Append(classfile.NewInst(classfile.OpReturn))
	il.SetPositions()
	m.AddLocalVariable(classfile.LocalVar{
		Name: "count", Type: classfile.TypeInt, Slot: 0,
		Start: il.Start(), End: il.End(), LiveToEnd: true,
	})

	beginSession(t, m, 51)

	locals := m.LocalVariables()
	if len(locals) != 1 || locals[0].Name != "count" {
		t.Errorf("locals = %v, want the surviving name count", locals)
	}
}

func TestReconcileRecoversTempFromFrames(t *testing.T) {
	m := newTestMethod(t, "m", "(I)V", classfile.AccStatic)
	il := m.Code
	il.Append(classfile.NewInst(classfile.OpIconst0))
	il.Append(classfile.NewLocalInst(classfile.OpIstore, 1))
	il.Append(classfile.NewInst(classfile.OpNop))
	il.Append(classfile.NewInst(classfile.OpNop))
	il.Append(classfile.NewLocalInst(classfile.OpIload, 1))
	il.Append(classfile.NewInst(classfile.OpPop))
	il.Append(classfile.NewInst(classfile.OpNop))
	il.Append(classfile.NewInst(classfile.OpReturn))
	il.SetPositions()

	// slot 1 is live from offset 4 to offset 7 according to the frames
	data, err := EncodeTable([]Entry{
		{Kind: EntryAppend, Delta: 4, Locals: []VerificationType{VTInteger}},
		{Kind: EntryChop, Delta: 2, Chop: 1},
	}, m.Pool)
	if err != nil {
		t.Fatalf("EncodeTable: %v", err)
	}
	m.AddCodeAttribute(AttributeName, data)

	beginSession(t, m, 51)

	locals := m.LocalVariables()
	if len(locals) != 2 {
		t.Fatalf("got %d locals, want 2: %v", len(locals), locals)
	}
	temp := locals[1]
	if temp.Name != "cwtemp$1" || temp.Slot != 1 || temp.Type != classfile.TypeInt {
		t.Errorf("temp = %+v, want cwtemp$1 int at slot 1", temp)
	}
	if temp.Start.Position() != 4 || temp.End.Position() != 7 {
		t.Errorf("temp live range [%d, %d], want [4, 7]",
			temp.Start.Position(), temp.End.Position())
	}
	if !IsTempLocal(temp.Name) {
		t.Errorf("IsTempLocal(%q) = false", temp.Name)
	}
}

func TestReconcileRecoversTempFromBytecode(t *testing.T) {
	m := newTestMethod(t, "m", "()V", classfile.AccStatic)
	il := m.Code
	il.Append(classfile.NewInst(classfile.OpIconst0))
	il.Append(classfile.NewLocalInst(classfile.OpIstore, 0))
	il.Append(classfile.NewLocalInst(classfile.OpIload, 0))
	il.Append(classfile.NewInst(classfile.OpPop))
	il.Append(classfile.NewInst(classfile.OpReturn))

	beginSession(t, m, 51)

	locals := m.LocalVariables()
	if len(locals) != 1 {
		t.Fatalf("got %d locals, want 1: %v", len(locals), locals)
	}
	temp := locals[0]
	if temp.Name != "cwtemp$0" || temp.Type != classfile.TypeInt {
		t.Errorf("temp = %+v, want cwtemp$0 int", temp)
	}
	// live from just after the store to just after the last load
	if temp.Start.Position() != 2 || temp.End.Position() != 3 {
		t.Errorf("temp live range [%d, %d], want [2, 3]",
			temp.Start.Position(), temp.End.Position())
	}
}

func TestBeginFinishWithoutEdits(t *testing.T) {
	m := newTestMethod(t, "m", "(I)V", classfile.AccStatic)
	m.Code.Append(classfile.NewInst(classfile.OpReturn))

	s := beginSession(t, m, 51)
	if err := s.Finish(); err != nil {
		t.Fatalf("Finish: %v", err)
	}

	// a Java 7 method without frames still needs the attribute
	attr := m.CodeAttribute(AttributeName)
	if attr == nil {
		t.Fatal("no StackMapTable after Finish on a version 51 method")
	}
	entries, err := DecodeTable(attr.Data, m.Pool)
	if err != nil || len(entries) != 0 {
		t.Errorf("stored table has %d entries, err %v, want empty", len(entries), err)
	}

	locals := m.LocalVariables()
	if len(locals) != 1 || locals[0].Slot != 0 {
		t.Errorf("locals = %v, want one entry at slot 0", locals)
	}
}

func TestBeginFinishRoundTripsTableBytes(t *testing.T) {
	m := newTestMethod(t, "m", "(I)V", classfile.AccStatic)
	il := m.Code
	il.Append(classfile.NewLocalInst(classfile.OpIload, 0))
	il.Append(classfile.NewBranch(classfile.OpIfeq, nil))
	il.Append(classfile.NewInst(classfile.OpNop))
	ret := il.Append(classfile.NewInst(classfile.OpReturn))
	il.Start().Next().Instruction().Target = ret
	il.SetPositions()

	raw := []byte{0, 1, byte(ret.Position())}
	m.AddCodeAttribute(AttributeName, raw)

	s := beginSession(t, m, 51)
	if err := s.Finish(); err != nil {
		t.Fatalf("Finish: %v", err)
	}
	attr := m.CodeAttribute(AttributeName)
	if attr == nil {
		t.Fatal("attribute missing after Finish")
	}
	if string(attr.Data) != string(raw) {
		t.Errorf("table bytes changed: got %x, want %x", attr.Data, raw)
	}
}
