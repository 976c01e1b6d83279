package verify

import (
	"fmt"

	"github.com/classweave/classweave/classfile"
)

// verifyType collapses a source-level type to its verification type:
// boolean, byte, char, and short verify as int.
func verifyType(t classfile.Type) classfile.Type {
	if t.IsIntLike() {
		return classfile.TypeInt
	}
	return t
}

// arrayTypeForCode returns the array type allocated by newarray for the
// given primitive type code.
func arrayTypeForCode(code int32) (classfile.Type, error) {
	switch code {
	case classfile.ArrayBoolean:
		return classfile.ObjectType("[Z"), nil
	case classfile.ArrayChar:
		return classfile.ObjectType("[C"), nil
	case classfile.ArrayFloat:
		return classfile.ObjectType("[F"), nil
	case classfile.ArrayDouble:
		return classfile.ObjectType("[D"), nil
	case classfile.ArrayByte:
		return classfile.ObjectType("[B"), nil
	case classfile.ArrayShort:
		return classfile.ObjectType("[S"), nil
	case classfile.ArrayInt:
		return classfile.ObjectType("[I"), nil
	case classfile.ArrayLong:
		return classfile.ObjectType("[J"), nil
	default:
		return classfile.Type{}, fmt.Errorf("verify: bad newarray type code %d", code)
	}
}

// classRefType returns the reference type named by a Class constant, which
// may be a plain class or an array descriptor.
func classRefType(cp *classfile.ConstantPool, index uint16) (classfile.Type, error) {
	name, err := cp.ClassName(index)
	if err != nil {
		return classfile.Type{}, err
	}
	return classfile.ObjectType(name), nil
}

// arrayOf returns the type of an array whose elements have type t.
func arrayOf(t classfile.Type) classfile.Type {
	return classfile.ObjectType("[" + t.Descriptor())
}

// underflow returns a VerificationError if the stack holds fewer than n
// slots.
func underflow(f *Frame, offset, n int) error {
	if f.Stack.SlotDepth() < n {
		return &VerificationError{
			Offset: offset,
			Msg:    fmt.Sprintf("operand stack underflow: need %d slots, have %d", n, f.Stack.SlotDepth()),
		}
	}
	return nil
}

// needEntries returns a VerificationError if the stack holds fewer than n
// entries. The slot check alone is not enough: a category-2 entry can
// satisfy the slot count where two category-1 entries were expected.
func needEntries(f *Frame, offset, n int) error {
	if f.Stack.Len() < n {
		return &VerificationError{
			Offset: offset,
			Msg:    fmt.Sprintf("operand stack underflow: need %d entries, have %d", n, f.Stack.Len()),
		}
	}
	return nil
}

// Execute applies one instruction's effect on the operand stack and local
// variables, modifying the frame in place. Control transfer is the
// engine's business: Execute models only the data effect, including the
// return-address push of jsr (which needs the physical successor's offset)
// and the uninitialized-type replacement performed by invokespecial of a
// constructor.
func Execute(h *classfile.Handle, f *Frame, m *classfile.Method) error {
	in := h.Instruction()
	pos := h.Position()
	cp := m.Pool
	st := f.Stack

	switch op := in.Op; {

	case op == classfile.OpNop:
		// no effect

	case op == classfile.OpAconstNull:
		st.Push(classfile.TypeNull)

	case op >= classfile.OpIconstM1 && op <= classfile.OpIconst5:
		st.Push(classfile.TypeInt)

	case op == classfile.OpLconst0 || op == classfile.OpLconst1:
		st.Push(classfile.TypeLong)

	case op >= classfile.OpFconst0 && op <= classfile.OpFconst2:
		st.Push(classfile.TypeFloat)

	case op == classfile.OpDconst0 || op == classfile.OpDconst1:
		st.Push(classfile.TypeDouble)

	case op == classfile.OpBipush || op == classfile.OpSipush:
		st.Push(classfile.TypeInt)

	case op == classfile.OpLdc || op == classfile.OpLdcW || op == classfile.OpLdc2W:
		t, err := cp.LoadableType(in.Index)
		if err != nil {
			return &VerificationError{Offset: pos, Msg: err.Error()}
		}
		st.Push(t)

	case op.IsLoad():
		switch op {
		case classfile.OpIload:
			st.Push(classfile.TypeInt)
		case classfile.OpLload:
			st.Push(classfile.TypeLong)
		case classfile.OpFload:
			st.Push(classfile.TypeFloat)
		case classfile.OpDload:
			st.Push(classfile.TypeDouble)
		case classfile.OpAload:
			st.Push(f.Locals.Get(in.Slot))
		}

	case op >= classfile.OpIaload && op <= classfile.OpSaload:
		if err := underflow(f, pos, 2); err != nil {
			return err
		}
		if err := needEntries(f, pos, 2); err != nil {
			return err
		}
		arr := st.Peek(1)
		st.PopN(2)
		switch op {
		case classfile.OpIaload, classfile.OpBaload, classfile.OpCaload, classfile.OpSaload:
			st.Push(classfile.TypeInt)
		case classfile.OpLaload:
			st.Push(classfile.TypeLong)
		case classfile.OpFaload:
			st.Push(classfile.TypeFloat)
		case classfile.OpDaload:
			st.Push(classfile.TypeDouble)
		case classfile.OpAaload:
			if arr.Kind == classfile.KindNull {
				st.Push(classfile.TypeNull)
			} else if elem := classfile.ArrayElementType(arr); elem.Kind != classfile.KindUnknown {
				st.Push(verifyType(elem))
			} else {
				st.Push(classfile.TypeObject)
			}
		}

	case op.IsStore():
		var t classfile.Type
		switch op {
		case classfile.OpIstore:
			t = classfile.TypeInt
		case classfile.OpLstore:
			t = classfile.TypeLong
		case classfile.OpFstore:
			t = classfile.TypeFloat
		case classfile.OpDstore:
			t = classfile.TypeDouble
		case classfile.OpAstore:
			if err := underflow(f, pos, 1); err != nil {
				return err
			}
			t = st.Peek(0) // reference, null, or return address
		}
		if err := underflow(f, pos, t.Size()); err != nil {
			return err
		}
		st.Pop()
		f.Locals.Set(in.Slot, t)

	case op >= classfile.OpIastore && op <= classfile.OpSastore:
		n := 3
		if op == classfile.OpLastore || op == classfile.OpDastore {
			n = 4
		}
		if err := underflow(f, pos, n); err != nil {
			return err
		}
		if err := needEntries(f, pos, 3); err != nil {
			return err
		}
		st.PopN(3) // value, index, arrayref

	case op == classfile.OpPop:
		if err := underflow(f, pos, 1); err != nil {
			return err
		}
		st.Pop()

	case op == classfile.OpPop2:
		if err := underflow(f, pos, 2); err != nil {
			return err
		}
		if st.Peek(0).Size() == 2 {
			st.Pop()
		} else {
			st.PopN(2)
		}

	case op >= classfile.OpDup && op <= classfile.OpDup2X2:
		if err := executeDup(f, pos, op); err != nil {
			return err
		}

	case op == classfile.OpSwap:
		if err := needEntries(f, pos, 2); err != nil {
			return err
		}
		// swap operates on category-1 values only.
		if st.Peek(0).Size() == 2 || st.Peek(1).Size() == 2 {
			return &VerificationError{Offset: pos, Msg: "swap on a category-2 value"}
		}
		a := st.Pop()
		b := st.Pop()
		st.Push(a)
		st.Push(b)

	case op >= classfile.OpIadd && op <= classfile.OpLxor && op != classfile.OpIinc:
		if err := executeArith(f, pos, op); err != nil {
			return err
		}

	case op == classfile.OpIinc:
		// locals type is unchanged

	case op >= classfile.OpI2l && op <= classfile.OpI2s:
		if err := executeConvert(f, pos, op); err != nil {
			return err
		}

	case op == classfile.OpLcmp || op == classfile.OpDcmpl || op == classfile.OpDcmpg:
		if err := underflow(f, pos, 4); err != nil {
			return err
		}
		if err := needEntries(f, pos, 2); err != nil {
			return err
		}
		st.PopN(2)
		st.Push(classfile.TypeInt)

	case op == classfile.OpFcmpl || op == classfile.OpFcmpg:
		if err := underflow(f, pos, 2); err != nil {
			return err
		}
		if err := needEntries(f, pos, 2); err != nil {
			return err
		}
		st.PopN(2)
		st.Push(classfile.TypeInt)

	case op >= classfile.OpIfeq && op <= classfile.OpIfle,
		op == classfile.OpIfnull, op == classfile.OpIfnonnull:
		if err := underflow(f, pos, 1); err != nil {
			return err
		}
		st.Pop()

	case op >= classfile.OpIfIcmpeq && op <= classfile.OpIfAcmpne:
		if err := needEntries(f, pos, 2); err != nil {
			return err
		}
		st.PopN(2)

	case op == classfile.OpGoto || op == classfile.OpGotoW:
		// no effect

	case op == classfile.OpJsr || op == classfile.OpJsrW:
		next := h.Next()
		if next == nil {
			return &VerificationError{Offset: pos, Msg: "jsr is the last instruction"}
		}
		st.Push(classfile.ReturnAddressType(next.Position()))

	case op == classfile.OpRet:
		// control transfer resolved by the engine

	case op.IsSwitch():
		if err := underflow(f, pos, 1); err != nil {
			return err
		}
		st.Pop()

	case op.IsReturn():
		if op != classfile.OpReturn {
			n := 1
			if op == classfile.OpLreturn || op == classfile.OpDreturn {
				n = 2
			}
			if err := underflow(f, pos, n); err != nil {
				return err
			}
			st.Pop()
		}

	case op == classfile.OpGetstatic || op == classfile.OpGetfield:
		_, _, desc, err := cp.RefInfo(in.Index)
		if err != nil {
			return &VerificationError{Offset: pos, Msg: err.Error()}
		}
		t, _, err := classfile.TypeFromDescriptor(desc)
		if err != nil {
			return &VerificationError{Offset: pos, Msg: err.Error()}
		}
		if op == classfile.OpGetfield {
			if err := underflow(f, pos, 1); err != nil {
				return err
			}
			st.Pop()
		}
		st.Push(verifyType(t))

	case op == classfile.OpPutstatic || op == classfile.OpPutfield:
		_, _, desc, err := cp.RefInfo(in.Index)
		if err != nil {
			return &VerificationError{Offset: pos, Msg: err.Error()}
		}
		t, _, err := classfile.TypeFromDescriptor(desc)
		if err != nil {
			return &VerificationError{Offset: pos, Msg: err.Error()}
		}
		n := t.Size()
		if op == classfile.OpPutfield {
			n++
		}
		if err := underflow(f, pos, n); err != nil {
			return err
		}
		st.Pop()
		if op == classfile.OpPutfield {
			st.Pop()
		}

	case op >= classfile.OpInvokevirtual && op <= classfile.OpInvokedynamic:
		if err := executeInvoke(f, pos, in, cp); err != nil {
			return err
		}

	case op == classfile.OpNew:
		name, err := cp.ClassName(in.Index)
		if err != nil {
			return &VerificationError{Offset: pos, Msg: err.Error()}
		}
		st.Push(classfile.UninitializedType(name, pos))

	case op == classfile.OpNewarray:
		if err := underflow(f, pos, 1); err != nil {
			return err
		}
		t, err := arrayTypeForCode(in.Value)
		if err != nil {
			return &VerificationError{Offset: pos, Msg: err.Error()}
		}
		st.Pop()
		st.Push(t)

	case op == classfile.OpAnewarray:
		if err := underflow(f, pos, 1); err != nil {
			return err
		}
		elem, err := classRefType(cp, in.Index)
		if err != nil {
			return &VerificationError{Offset: pos, Msg: err.Error()}
		}
		st.Pop()
		st.Push(arrayOf(elem))

	case op == classfile.OpArraylength:
		if err := underflow(f, pos, 1); err != nil {
			return err
		}
		st.Pop()
		st.Push(classfile.TypeInt)

	case op == classfile.OpAthrow:
		if err := underflow(f, pos, 1); err != nil {
			return err
		}
		st.Pop()

	case op == classfile.OpCheckcast:
		if err := underflow(f, pos, 1); err != nil {
			return err
		}
		t, err := classRefType(cp, in.Index)
		if err != nil {
			return &VerificationError{Offset: pos, Msg: err.Error()}
		}
		st.Pop()
		st.Push(t)

	case op == classfile.OpInstanceof:
		if err := underflow(f, pos, 1); err != nil {
			return err
		}
		st.Pop()
		st.Push(classfile.TypeInt)

	case op == classfile.OpMonitorenter || op == classfile.OpMonitorexit:
		if err := underflow(f, pos, 1); err != nil {
			return err
		}
		st.Pop()

	case op == classfile.OpMultianewarray:
		dims := int(in.Value)
		if err := needEntries(f, pos, dims); err != nil {
			return err
		}
		t, err := classRefType(cp, in.Index)
		if err != nil {
			return &VerificationError{Offset: pos, Msg: err.Error()}
		}
		st.PopN(dims)
		st.Push(t)

	default:
		return &VerificationError{Offset: pos, Msg: fmt.Sprintf("unhandled opcode %s", op)}
	}
	return nil
}

// executeDup implements the dup family in slot terms: dupN_xM copies the
// top n slots and inserts the copy below the next m slots.
func executeDup(f *Frame, pos int, op classfile.Opcode) error {
	var n, m int
	switch op {
	case classfile.OpDup:
		n, m = 1, 0
	case classfile.OpDupX1:
		n, m = 1, 1
	case classfile.OpDupX2:
		n, m = 1, 2
	case classfile.OpDup2:
		n, m = 2, 0
	case classfile.OpDup2X1:
		n, m = 2, 1
	case classfile.OpDup2X2:
		n, m = 2, 2
	}
	if err := underflow(f, pos, n+m); err != nil {
		return err
	}
	st := f.Stack

	// collect entries making up the top n slots, then the next m slots
	take := func(slots int) ([]classfile.Type, error) {
		var out []classfile.Type
		for slots > 0 {
			if st.Len() == 0 {
				return nil, &VerificationError{Offset: pos, Msg: "operand stack underflow in dup"}
			}
			t := st.Pop()
			if t.Size() > slots {
				return nil, &VerificationError{
					Offset: pos,
					Msg:    fmt.Sprintf("%s splits a category-2 value", op),
				}
			}
			slots -= t.Size()
			out = append(out, t) // top first
		}
		return out, nil
	}
	top, err := take(n)
	if err != nil {
		return err
	}
	below, err := take(m)
	if err != nil {
		return err
	}

	push := func(entries []classfile.Type) {
		for i := len(entries) - 1; i >= 0; i-- {
			st.Push(entries[i])
		}
	}
	push(top) // the inserted copy, deepest
	push(below)
	push(top)
	return nil
}

// executeArith implements the arithmetic, shift, and bitwise instructions.
func executeArith(f *Frame, pos int, op classfile.Opcode) error {
	type effect struct {
		pop  []classfile.Type
		push classfile.Type
	}
	i, l, fl, d := classfile.TypeInt, classfile.TypeLong, classfile.TypeFloat, classfile.TypeDouble
	var e effect
	switch op {
	case classfile.OpIadd, classfile.OpIsub, classfile.OpImul, classfile.OpIdiv,
		classfile.OpIrem, classfile.OpIand, classfile.OpIor, classfile.OpIxor,
		classfile.OpIshl, classfile.OpIshr, classfile.OpIushr:
		e = effect{pop: []classfile.Type{i, i}, push: i}
	case classfile.OpLadd, classfile.OpLsub, classfile.OpLmul, classfile.OpLdiv,
		classfile.OpLrem, classfile.OpLand, classfile.OpLor, classfile.OpLxor:
		e = effect{pop: []classfile.Type{l, l}, push: l}
	case classfile.OpLshl, classfile.OpLshr, classfile.OpLushr:
		e = effect{pop: []classfile.Type{i, l}, push: l}
	case classfile.OpFadd, classfile.OpFsub, classfile.OpFmul, classfile.OpFdiv, classfile.OpFrem:
		e = effect{pop: []classfile.Type{fl, fl}, push: fl}
	case classfile.OpDadd, classfile.OpDsub, classfile.OpDmul, classfile.OpDdiv, classfile.OpDrem:
		e = effect{pop: []classfile.Type{d, d}, push: d}
	case classfile.OpIneg:
		e = effect{pop: []classfile.Type{i}, push: i}
	case classfile.OpLneg:
		e = effect{pop: []classfile.Type{l}, push: l}
	case classfile.OpFneg:
		e = effect{pop: []classfile.Type{fl}, push: fl}
	case classfile.OpDneg:
		e = effect{pop: []classfile.Type{d}, push: d}
	default:
		return &VerificationError{Offset: pos, Msg: fmt.Sprintf("unhandled arithmetic opcode %s", op)}
	}
	slots := 0
	for _, t := range e.pop {
		slots += t.Size()
	}
	if err := underflow(f, pos, slots); err != nil {
		return err
	}
	if err := needEntries(f, pos, len(e.pop)); err != nil {
		return err
	}
	f.Stack.PopN(len(e.pop))
	f.Stack.Push(e.push)
	return nil
}

// executeConvert implements the primitive conversion instructions.
func executeConvert(f *Frame, pos int, op classfile.Opcode) error {
	from, to := classfile.TypeInt, classfile.TypeInt
	switch op {
	case classfile.OpI2l:
		to = classfile.TypeLong
	case classfile.OpI2f:
		to = classfile.TypeFloat
	case classfile.OpI2d:
		to = classfile.TypeDouble
	case classfile.OpL2i:
		from = classfile.TypeLong
	case classfile.OpL2f:
		from, to = classfile.TypeLong, classfile.TypeFloat
	case classfile.OpL2d:
		from, to = classfile.TypeLong, classfile.TypeDouble
	case classfile.OpF2i:
		from = classfile.TypeFloat
	case classfile.OpF2l:
		from, to = classfile.TypeFloat, classfile.TypeLong
	case classfile.OpF2d:
		from, to = classfile.TypeFloat, classfile.TypeDouble
	case classfile.OpD2i:
		from = classfile.TypeDouble
	case classfile.OpD2l:
		from, to = classfile.TypeDouble, classfile.TypeLong
	case classfile.OpD2f:
		from, to = classfile.TypeDouble, classfile.TypeFloat
	case classfile.OpI2b, classfile.OpI2c, classfile.OpI2s:
		// int to int
	}
	if err := underflow(f, pos, from.Size()); err != nil {
		return err
	}
	f.Stack.Pop()
	f.Stack.Push(to)
	return nil
}

// executeInvoke implements the invoke family, including the uninitialized
// type replacement performed when invokespecial calls a constructor.
func executeInvoke(f *Frame, pos int, in *classfile.Instruction, cp *classfile.ConstantPool) error {
	_, name, desc, err := cp.RefInfo(in.Index)
	if err != nil {
		return &VerificationError{Offset: pos, Msg: err.Error()}
	}
	args, ret, err := classfile.ParseMethodDescriptor(desc)
	if err != nil {
		return &VerificationError{Offset: pos, Msg: err.Error()}
	}
	st := f.Stack

	slots := 0
	for _, a := range args {
		slots += a.Size()
	}
	hasReceiver := in.Op != classfile.OpInvokestatic && in.Op != classfile.OpInvokedynamic
	if hasReceiver {
		slots++
	}
	if err := underflow(f, pos, slots); err != nil {
		return err
	}
	n := len(args)
	if hasReceiver {
		n++
	}
	if err := needEntries(f, pos, n); err != nil {
		return err
	}

	st.PopN(len(args))
	if hasReceiver {
		recv := st.Pop()
		if in.Op == classfile.OpInvokespecial && name == "<init>" &&
			recv.Kind == classfile.KindUninitialized {
			// the object is constructed: every copy of the uninitialized
			// type, in the stack and the locals, becomes the real type
			f.ReplaceType(recv, classfile.ObjectType(recv.Name))
		}
	}
	if ret.Kind != classfile.KindVoid {
		st.Push(verifyType(ret))
	}
	return nil
}
