package stackmap

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/classweave/classweave/classfile"
)

// TempLocalPrefix names the synthetic locals the reconciler invents for
// slots the compiler used without a LocalVariableTable entry: finally
// handlers saving the pending exception, synchronized-block lock holders,
// loop iterators, and user locals that never reach a stack map. The slot
// number is appended to the prefix.
const TempLocalPrefix = "cwtemp$"

// IsTempLocal reports whether name was synthesized by the reconciler.
func IsTempLocal(name string) bool {
	return strings.HasPrefix(name, TempLocalPrefix)
}

// reconcileLocals rebuilds the method's local variable table so that every
// slot the bytecode uses has an entry with a type and a live range:
//
//   - The receiver and parameters are re-added first, live for the whole
//     method. A parameter with no surviving entry gets a synthetic
//     "$hidden$<slot>" name.
//   - Declared locals are re-added in slot order.
//   - Any gap in the slot numbering, and any slot above the last declared
//     local, is a compiler temp; its live range and type are recovered from
//     the stack map frames, falling back to a bytecode scan, and the slot
//     gets a TempLocalPrefix entry.
//
// Begin calls it once per session; the edit operations rely on the table
// being complete to synthesize FULL frames.
func (s *Session) reconcileLocals() error {
	m := s.method
	il := m.Code
	if il == nil || il.Len() == 0 {
		s.firstLocalIndex = 0
		return nil
	}
	il.SetPositions()

	locals := append([]classfile.LocalVar(nil), m.LocalVariables()...)

	// Compilers occasionally over-report max locals; recompute it from the
	// code before using it as the scan bound.
	m.RecomputeMaxLocals()
	maxLocals := m.MaxLocals
	m.RemoveLocalVariables()

	offset := 0
	locIndex := 0
	s.firstLocalIndex = len(m.ArgTypes)

	if !m.IsStatic() {
		recv := classfile.LocalVar{Name: "this", Type: classfile.ObjectType(m.ClassName)}
		if len(locals) > 0 && locals[0].Slot == 0 {
			recv.Name, recv.Type = locals[0].Name, locals[0].Type
		}
		s.addWholeMethodLocal(recv.Name, recv.Type, 0)
		locIndex = 1
		offset = 1
		s.firstLocalIndex++
	} else if strings.HasPrefix(m.ClassName, "com.sun.proxy.") && m.Name == "<clinit>" {
		// The runtime proxy generator allocates local 0 of <clinit> and
		// never uses it.
		s.addWholeMethodLocal("$clinit$hidden$0", classfile.TypeInt, 0)
		offset = 1
		s.firstLocalIndex++
	}

	for _, at := range m.ArgTypes {
		if locIndex >= len(locals) || offset != locals[locIndex].Slot {
			s.addWholeMethodLocal("$hidden$"+strconv.Itoa(offset), at, offset)
		} else {
			l := locals[locIndex]
			s.addWholeMethodLocal(l.Name, l.Type, l.Slot)
			locIndex++
		}
		offset += at.Size()
	}

	// The entries added so far describe the frame at method entry.
	s.initialTypes = s.initialTypes[:0]
	for _, l := range m.LocalVariables() {
		vt, err := FromType(l.Type)
		if err != nil {
			return fmt.Errorf("stackmap: parameter %s: %w", l.Name, err)
		}
		s.initialTypes = append(s.initialTypes, vt)
	}

	s.InvalidateStackTypes()

	r := &reconciler{s: s, m: m, il: il}
	for i := s.firstLocalIndex; i < len(locals); i++ {
		l := locals[i]
		if l.Slot > offset {
			// A gap in the slot numbering: at least one compiler temp
			// lives before this declared local.
			next, err := r.genLocals(offset)
			if err != nil {
				return err
			}
			offset = next
			i--
		} else {
			m.AddLocalVariable(l)
			offset = l.Slot + l.Type.Size()
		}
	}

	// Compiler temps can also sit above the last declared local.
	for offset < maxLocals {
		next, err := r.genLocals(offset)
		if err != nil {
			return err
		}
		offset = next
	}

	m.RecomputeMaxLocals()
	return nil
}

func (s *Session) addWholeMethodLocal(name string, t classfile.Type, slot int) {
	il := s.method.Code
	s.method.AddLocalVariable(classfile.LocalVar{
		Name:      name,
		Type:      t,
		Slot:      slot,
		Start:     il.Start(),
		End:       il.End(),
		LiveToEnd: true,
	})
}

// reconciler recovers live ranges for undeclared slots. The range fields
// track one open live range across the stack-map replay and the bytecode
// scan; rangeStart being nil means no range is open.
type reconciler struct {
	s  *Session
	m  *classfile.Method
	il *classfile.InstructionList

	rangeStart *classfile.Handle
	rangeEnd   *classfile.Handle
	rangeType  classfile.Type
	// Smallest operand size seen for the slot, 3 until one is found.
	rangeMinSize int
}

// genLocals finds the temp(s) occupying the given slot, adds a local
// variable entry for each, and returns the slot just past the smallest of
// them. Distinct temps with disjoint lifetimes can share a slot; the
// stack map frames are replayed to find each lifetime.
func (r *reconciler) genLocals(offset int) (int, error) {
	liveStart := 0
	var liveType classfile.Type
	minSize := 3 // operand sizes are 1 or 2

	// Frame state at method entry.
	active := append([]VerificationType(nil), r.s.initialTypes...)
	height := 0
	for _, vt := range active {
		height += vt.SlotSize()
	}
	byteCodeOffset := -1

	for i := range r.s.table.entries {
		e := &r.s.table.entries[i]
		byteCodeOffset += e.Delta + 1

		switch e.Kind {
		case EntryAppend:
			for _, vt := range e.Locals {
				active = append(active, vt)
				height += vt.SlotSize()
			}
		case EntryChop:
			for j := 0; j < e.Chop; j++ {
				height -= active[len(active)-1].SlotSize()
				active = active[:len(active)-1]
			}
		case EntryFull:
			active = append(active[:0], e.Locals...)
			height = 0
			for _, vt := range active {
				height += vt.SlotSize()
			}
		}

		if liveStart == 0 {
			// Did this frame bring the slot into existence?
			if offset < height {
				liveStart = byteCodeOffset
				running := 0
				liveType = classfile.Type{}
				for _, vt := range active {
					if running == offset {
						t, err := vt.ToType()
						if err == nil && t.Kind != classfile.KindUnknown {
							liveType = t
						}
						break
					}
					running += vt.SlotSize()
				}
				if liveType == classfile.TypeUnknown {
					// Slot straddles a category-2 value or holds top;
					// nothing starts here.
					liveStart = 0
				}
			}
		} else {
			// Did this frame kill the slot?
			if offset >= height {
				start, err := r.il.FindHandle(liveStart)
				if err != nil {
					return 0, fmt.Errorf("stackmap: temp live range: %w", err)
				}
				end, err := r.il.FindHandle(byteCodeOffset)
				if err != nil {
					return 0, fmt.Errorf("stackmap: temp live range: %w", err)
				}
				r.m.AddLocalVariable(classfile.LocalVar{
					Name:  TempLocalPrefix + strconv.Itoa(offset),
					Type:  liveType,
					Slot:  offset,
					Start: start,
					End:   end,
				})
				log.Debugf("recovered temp %s%d %s [%d, %d] from frames",
					TempLocalPrefix, offset, liveType, liveStart, byteCodeOffset)
				if liveType.Size() < minSize {
					minSize = liveType.Size()
				}
				liveStart = 0
				liveType = classfile.Type{}
			}
		}
	}

	if liveStart != 0 {
		// Still live after the last frame: scan the bytecode from there to
		// find where the range really ends.
		start, err := r.il.FindHandle(liveStart)
		if err != nil {
			return 0, fmt.Errorf("stackmap: temp live range: %w", err)
		}
		resume, err := r.il.FindHandle(byteCodeOffset)
		if err != nil {
			return 0, fmt.Errorf("stackmap: temp live range: %w", err)
		}
		r.rangeStart = start
		r.rangeEnd = start
		r.rangeType = liveType
		r.rangeMinSize = minSize
		return r.finishScan(offset, resume)
	}
	if minSize == 3 {
		// The slot never shows up in a frame; its live range sits between
		// frames or after the last one. Recover it from the bytecode.
		r.rangeStart = nil
		r.rangeEnd = nil
		r.rangeType = classfile.Type{}
		r.rangeMinSize = 3
		next, err := r.finishScan(offset, r.il.Start())
		if err != nil {
			return 0, err
		}
		if next == offset+3 {
			// Slot never mentioned in the code at all; step past it.
			return offset + 1, nil
		}
		return next, nil
	}
	return offset + minSize, nil
}

// finishScan runs genLocalsFromByteCodes and folds its result into the
// slot increment.
func (r *reconciler) finishScan(offset int, start *classfile.Handle) (int, error) {
	minSize, err := r.genLocalsFromByteCodes(offset, start)
	if err != nil {
		return 0, err
	}
	return offset + minSize, nil
}

// genLocalsFromByteCodes walks the code from start looking for uses of the
// slot, extending or splitting the open live range as it goes. A store of
// a new type closes the current range and opens another; the same slot can
// host several short-lived temps. Returns the smallest operand size seen.
func (r *reconciler) genLocalsFromByteCodes(offset int, start *classfile.Handle) (int, error) {
	st, err := r.s.StackTypes()
	if err != nil {
		return 0, err
	}
	for ih := start; ih != nil; ih = ih.Next() {
		in := ih.Instruction()
		switch {
		case in.Op.IsStore():
			if in.Slot != offset {
				continue
			}
			f, ok := st.FrameAt(ih.Position())
			if !ok || f.Stack.Len() == 0 {
				// Unreachable store; it cannot extend a live range.
				continue
			}
			tos := f.Stack.Peek(0)
			// A store of null keeps the current range; any other type
			// change starts a fresh one.
			if r.rangeStart == nil || (tos != classfile.TypeNull && tos != r.rangeType) {
				r.createLocalFromRange(offset)
				r.rangeType = tos
				r.rangeStart = ih.Next()
			}
			r.rangeEnd = ih.Next()

		case in.Op == classfile.OpIinc:
			if in.Slot != offset {
				continue
			}
			if r.rangeStart == nil {
				return 0, fmt.Errorf("stackmap: slot %d: iinc with no preceding store", offset)
			}
			if r.rangeType != classfile.TypeInt {
				return 0, fmt.Errorf("stackmap: slot %d: iinc operand is %s, not int", offset, r.rangeType)
			}
			r.rangeEnd = ih.Next()

		case in.Op == classfile.OpRet:
			if in.Slot != offset {
				continue
			}
			if r.rangeStart == nil {
				return 0, fmt.Errorf("stackmap: slot %d: ret with no preceding store", offset)
			}
			if r.rangeType.Kind != classfile.KindReturnAddress {
				return 0, fmt.Errorf("stackmap: slot %d: ret operand is %s, not returnAddress", offset, r.rangeType)
			}
			r.rangeEnd = ih.Next()

		case in.Op.IsLoad():
			if in.Slot != offset {
				continue
			}
			if r.rangeStart == nil {
				return 0, fmt.Errorf("stackmap: slot %d: load with no preceding store", offset)
			}
			// The loaded type can be a superclass of the stored type, so
			// no type check here.
			r.rangeEnd = ih.Next()
		}
	}
	// Reaching the end of the method without closing the range means the
	// range runs to the end.
	if r.rangeEnd == nil {
		r.rangeEnd = r.il.End()
	}
	r.createLocalFromRange(offset)
	return r.rangeMinSize, nil
}

// createLocalFromRange adds a TempLocalPrefix local for the open live
// range. Does nothing when no range is open.
func (r *reconciler) createLocalFromRange(offset int) {
	if r.rangeStart == nil {
		return
	}
	t := r.rangeType
	// Neither null nor returnAddress has a field descriptor; record the
	// local as a plain object.
	if t == classfile.TypeNull || t.Kind == classfile.KindReturnAddress {
		t = classfile.ObjectType("java/lang/Object")
	}
	end := r.rangeEnd
	if end == nil {
		end = r.il.End()
	}
	r.m.AddLocalVariable(classfile.LocalVar{
		Name:  TempLocalPrefix + strconv.Itoa(offset),
		Type:  t,
		Slot:  offset,
		Start: r.rangeStart,
		End:   end,
	})
	log.Debugf("recovered temp %s%d %s [%d, %d] from bytecode",
		TempLocalPrefix, offset, t, r.rangeStart.Position(), end.Position())
	if t.Size() < r.rangeMinSize {
		r.rangeMinSize = t.Size()
	}
}
