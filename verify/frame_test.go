package verify

import (
	"testing"

	"github.com/classweave/classweave/classfile"
)

func TestLocalVariablesCategory2(t *testing.T) {
	lv := NewLocalVariables(5)
	lv.Set(1, classfile.TypeLong)
	if got := lv.Get(1); got != classfile.TypeLong {
		t.Errorf("slot 1 = %v, want long", got)
	}
	if got := lv.Get(2); got.Kind != classfile.KindUnknown {
		t.Errorf("slot 2 = %v, want unknown (second half of long)", got)
	}

	// overwriting the second half invalidates the long
	lv.Set(2, classfile.TypeInt)
	if got := lv.Get(1); got.Kind != classfile.KindUnknown {
		t.Errorf("slot 1 after overwrite of slot 2 = %v, want unknown", got)
	}
	if got := lv.Get(2); got != classfile.TypeInt {
		t.Errorf("slot 2 = %v, want int", got)
	}
}

func TestOperandStackSlotDepth(t *testing.T) {
	s := &OperandStack{}
	s.Push(classfile.TypeInt)
	s.Push(classfile.TypeLong)
	s.Push(classfile.TypeString)
	if got := s.Len(); got != 3 {
		t.Errorf("Len = %d, want 3", got)
	}
	if got := s.SlotDepth(); got != 4 {
		t.Errorf("SlotDepth = %d, want 4", got)
	}
	if got := s.Peek(1); got != classfile.TypeLong {
		t.Errorf("Peek(1) = %v, want long", got)
	}
}

func TestMergeReferenceJoin(t *testing.T) {
	a := NewFrame(2)
	a.Stack.Push(classfile.ObjectType("java/lang/String"))
	a.Locals.Set(0, classfile.ObjectType("java/util/List"))

	b := NewFrame(2)
	b.Stack.Push(classfile.ObjectType("java/lang/Integer"))
	b.Locals.Set(0, classfile.ObjectType("java/util/Map"))

	changed, err := a.Merge(b)
	if err != nil {
		t.Fatalf("Merge error: %v", err)
	}
	if !changed {
		t.Error("Merge reported no change")
	}
	if got := a.Stack.Peek(0); got != classfile.TypeObject {
		t.Errorf("stack join = %v, want java/lang/Object", got)
	}
	if got := a.Locals.Get(0); got != classfile.TypeObject {
		t.Errorf("locals join = %v, want java/lang/Object", got)
	}
}

func TestMergeNullWithReference(t *testing.T) {
	a := NewFrame(0)
	a.Stack.Push(classfile.TypeNull)
	b := NewFrame(0)
	b.Stack.Push(classfile.TypeString)

	if _, err := a.Merge(b); err != nil {
		t.Fatalf("Merge error: %v", err)
	}
	if got := a.Stack.Peek(0); got != classfile.TypeString {
		t.Errorf("null join reference = %v, want java/lang/String", got)
	}
}

func TestMergeLocalsConflictDegrades(t *testing.T) {
	a := NewFrame(1)
	a.Locals.Set(0, classfile.TypeInt)
	b := NewFrame(1)
	b.Locals.Set(0, classfile.TypeFloat)

	if _, err := a.Merge(b); err != nil {
		t.Fatalf("Merge error: %v", err)
	}
	if got := a.Locals.Get(0); got.Kind != classfile.KindUnknown {
		t.Errorf("conflicting locals join = %v, want unknown", got)
	}
}

func TestMergeStackConflictFatal(t *testing.T) {
	a := NewFrame(0)
	a.Stack.Push(classfile.TypeInt)
	b := NewFrame(0)
	b.Stack.Push(classfile.TypeFloat)
	if _, err := a.Merge(b); err == nil {
		t.Error("conflicting stack merge succeeded, want error")
	}

	c := NewFrame(0)
	c.Stack.Push(classfile.TypeInt)
	d := NewFrame(0)
	if _, err := c.Merge(d); err == nil {
		t.Error("depth-mismatched merge succeeded, want error")
	}
}

func TestMergeIdempotent(t *testing.T) {
	a := NewFrame(2)
	a.Stack.Push(classfile.TypeString)
	a.Locals.Set(0, classfile.TypeInt)
	b := a.Clone()

	changed, err := a.Merge(b)
	if err != nil {
		t.Fatalf("Merge error: %v", err)
	}
	if changed {
		t.Error("merging a frame with itself reported a change")
	}
}

func TestReplaceType(t *testing.T) {
	u := classfile.UninitializedType("Foo", 4)
	f := NewFrame(2)
	f.Stack.Push(u)
	f.Stack.Push(u)
	f.Locals.Set(1, u)

	f.ReplaceType(u, classfile.ObjectType("Foo"))
	if _, found := f.HasUninitialized(); found {
		t.Error("uninitialized type survived ReplaceType")
	}
	if got := f.Locals.Get(1); got != classfile.ObjectType("Foo") {
		t.Errorf("local 1 = %v, want Foo", got)
	}
}
