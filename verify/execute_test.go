package verify

import (
	"testing"

	"github.com/classweave/classweave/classfile"
)

// runOne executes a single-instruction method body against the given
// starting frame and returns the frame after execution.
func runOne(t *testing.T, m *classfile.Method, in *classfile.Instruction, f *Frame) *Frame {
	t.Helper()
	il := classfile.NewInstructionList()
	h := il.Append(in)
	il.Append(classfile.NewInst(classfile.OpNop)) // physical successor for jsr
	il.SetPositions()
	m.Code = il
	if err := Execute(h, f, m); err != nil {
		t.Fatalf("Execute(%s): %v", in, err)
	}
	return f
}

func TestExecuteDupForms(t *testing.T) {
	m := newTestMethod(t, "m", "()V", classfile.AccStatic)

	// dup_x1: ..., b, a -> ..., a, b, a
	f := NewFrame(0)
	f.Stack.Push(classfile.TypeString)
	f.Stack.Push(classfile.TypeInt)
	runOne(t, m, classfile.NewInst(classfile.OpDupX1), f)
	want := []classfile.Type{classfile.TypeInt, classfile.TypeString, classfile.TypeInt}
	got := f.Stack.Types()
	if len(got) != len(want) {
		t.Fatalf("dup_x1 stack depth = %d, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("dup_x1 stack[%d] = %v, want %v", i, got[i], want[i])
		}
	}

	// dup2 of a long duplicates the single category-2 entry
	f = NewFrame(0)
	f.Stack.Push(classfile.TypeLong)
	runOne(t, m, classfile.NewInst(classfile.OpDup2), f)
	if f.Stack.Len() != 2 || f.Stack.SlotDepth() != 4 {
		t.Errorf("dup2 of long: %v", f.Stack)
	}

	// dup2_x1: ..., c, {b,a} -> ..., {b,a}, c, {b,a}
	f = NewFrame(0)
	f.Stack.Push(classfile.TypeString)
	f.Stack.Push(classfile.TypeDouble)
	runOne(t, m, classfile.NewInst(classfile.OpDup2X1), f)
	if f.Stack.Len() != 3 || f.Stack.Peek(1) != classfile.TypeString || f.Stack.Peek(0) != classfile.TypeDouble {
		t.Errorf("dup2_x1: %v", f.Stack)
	}
}

func TestExecuteFieldAccess(t *testing.T) {
	m := newTestMethod(t, "m", "()V", classfile.AccStatic)
	fld := m.Pool.AddFieldref("Foo", "count", "J")

	f := NewFrame(0)
	f.Stack.Push(classfile.ObjectType("Foo"))
	runOne(t, m, classfile.NewIndexed(classfile.OpGetfield, fld), f)
	if f.Stack.Len() != 1 || f.Stack.Peek(0) != classfile.TypeLong {
		t.Errorf("getfield J: %v", f.Stack)
	}

	f = NewFrame(0)
	f.Stack.Push(classfile.ObjectType("Foo"))
	f.Stack.Push(classfile.TypeLong)
	runOne(t, m, classfile.NewIndexed(classfile.OpPutfield, fld), f)
	if f.Stack.Len() != 0 {
		t.Errorf("putfield J left %v", f.Stack)
	}
}

func TestExecuteInvokeDescriptor(t *testing.T) {
	m := newTestMethod(t, "m", "()V", classfile.AccStatic)
	ref := m.Pool.AddMethodref("java/lang/String", "charAt", "(I)C")

	f := NewFrame(0)
	f.Stack.Push(classfile.TypeString)
	f.Stack.Push(classfile.TypeInt)
	runOne(t, m, classfile.NewIndexed(classfile.OpInvokevirtual, ref), f)
	// char verifies as int
	if f.Stack.Len() != 1 || f.Stack.Peek(0) != classfile.TypeInt {
		t.Errorf("invokevirtual (I)C: %v", f.Stack)
	}
}

func TestExecuteBooleanFieldCollapses(t *testing.T) {
	m := newTestMethod(t, "m", "()V", classfile.AccStatic)
	fld := m.Pool.AddFieldref("Foo", "flag", "Z")
	f := NewFrame(0)
	runOne(t, m, classfile.NewIndexed(classfile.OpGetstatic, fld), f)
	if got := f.Stack.Peek(0); got != classfile.TypeInt {
		t.Errorf("getstatic Z pushed %v, want int", got)
	}
}

func TestExecuteAaloadElementType(t *testing.T) {
	m := newTestMethod(t, "m", "()V", classfile.AccStatic)
	f := NewFrame(0)
	f.Stack.Push(classfile.ObjectType("[[Ljava/lang/String;"))
	f.Stack.Push(classfile.TypeInt)
	runOne(t, m, classfile.NewInst(classfile.OpAaload), f)
	if got := f.Stack.Peek(0); got != classfile.ObjectType("[Ljava/lang/String;") {
		t.Errorf("aaload on String[][] pushed %v", got)
	}
}
