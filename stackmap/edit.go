package stackmap

import (
	"fmt"

	"github.com/classweave/classweave/classfile"
	"github.com/classweave/classweave/verify"
)

// BuildList is a convenience for assembling a replacement or insertion
// sequence.
func BuildList(insts ...*classfile.Instruction) *classfile.InstructionList {
	il := classfile.NewInstructionList()
	for _, in := range insts {
		il.Append(in)
	}
	return il
}

// InsertAtMethodStart splices newIL in front of the method's first
// instruction. Branches into the old first instruction keep their meaning
// and do not re-enter the new code.
func (s *Session) InsertAtMethodStart(newIL *classfile.InstructionList) error {
	il := s.method.Code
	if il == nil || il.Len() == 0 {
		return nil
	}
	return s.InsertBefore(il.Start(), newIL, false)
}

// InsertBefore splices newIL into the method's code just before ih, then
// repairs the stack map table for the length change. redirectBranches
// chooses between two meanings of the insertion point: true means the new
// code logically replaces what was at ih, so branches to ih are moved to
// the start of the new code; false means the new code is prepended and
// branches keep targeting ih.
//
// Line numbers at ih move to the new start. Local variable ranges ending
// (or beginning) at ih move to the new end, keeping the inserted code
// outside the range. Exception handler boundaries move only when
// redirectBranches is set.
func (s *Session) InsertBefore(ih *classfile.Handle, newIL *classfile.InstructionList, redirectBranches bool) error {
	if newIL == nil || newIL.Len() == 0 {
		return nil
	}
	il := s.method.Code
	if il == nil {
		return nil
	}

	newIL.SetPositions()
	newLength := newIL.ByteLength()
	newEnd := newIL.End()

	newStart := il.InsertBefore(ih, newIL)

	if redirectBranches {
		il.RedirectBranches(ih, newStart)
	}
	m := s.method
	for i := range m.Lines {
		if m.Lines[i].At == ih {
			m.Lines[i].At = newStart
		}
	}
	for i := range m.Locals {
		if m.Locals[i].Start == ih {
			m.Locals[i].Start = newEnd
		}
		if m.Locals[i].End == ih {
			m.Locals[i].End = newEnd
		}
	}
	if redirectBranches {
		for i := range m.Handlers {
			if m.Handlers[i].Start == ih {
				m.Handlers[i].Start = newStart
			}
			if m.Handlers[i].End == ih {
				m.Handlers[i].End = newEnd
			}
			if m.Handlers[i].Handler == ih {
				m.Handlers[i].Handler = newStart
			}
		}
	}

	il.SetPositions()
	// Anchor at one byte before the new code so a frame previously at ih's
	// offset stays with ih rather than moving onto the inserted code.
	s.table.ApplyLengthDelta(newStart.Position()-1, newLength)
	s.table.AdjustSwitchPadding(newStart)
	s.InvalidateStackTypes()
	return nil
}

// Delete removes the contiguous run [first, last] from the method's code.
// The run must not include the final instruction: every targeter of the
// run's first instruction is moved to the instruction following the run,
// and there is nothing to move it to otherwise.
func (s *Session) Delete(first, last *classfile.Handle) error {
	il := s.method.Code
	il.SetPositions()
	follow := last.Next()
	if follow == nil {
		return fmt.Errorf("stackmap: cannot delete through the final instruction at offset %d", last.Position())
	}
	firstPos := first.Position()
	delta := follow.Position() - firstPos

	il.RedirectBranches(first, follow)
	s.method.RedirectTargeters(first, follow, true)
	if err := il.Delete(first, last); err != nil {
		return err
	}
	il.SetPositions()

	// A frame that sat on the run's first instruction now describes
	// follow, which holds that same offset; only later frames shift.
	s.table.ApplyLengthDelta(firstPos, -delta)
	s.table.AdjustSwitchPadding(follow)
	s.InvalidateStackTypes()
	return nil
}

// Replace substitutes newIL for the single instruction at ih. Replacing
// one instruction with one instruction swaps it in place; a longer
// replacement is spliced in, branches to ih are redirected to its start,
// and any branch targets that lie inside the replacement itself get
// synthesized stack map frames.
func (s *Session) Replace(ih *classfile.Handle, newIL *classfile.InstructionList) error {
	if newIL == nil || newIL.Len() == 0 {
		return nil
	}
	il := s.method.Code
	il.SetPositions()
	oldLength := ih.Instruction().Length(ih.Position())

	newIL.SetPositions()
	newLength := newIL.ByteLength()

	if newIL.Len() == 1 {
		ih.SetInstruction(newIL.Start().Instruction())
		if oldLength == newLength {
			return nil
		}
		il.SetPositions()
		s.table.ApplyLengthDelta(ih.Position(), newLength-oldLength)
		s.table.AdjustSwitchPadding(ih)
		s.InvalidateStackTypes()
		return nil
	}

	newEnd := newIL.End()
	newStart := il.InsertBefore(ih, newIL)
	il.SetPositions()
	// A switch inside the replacement may have picked up padding at its
	// final position.
	newLength = ih.Position() - newStart.Position()

	il.RedirectBranches(ih, newStart)
	m := s.method
	for i := range m.Lines {
		if m.Lines[i].At == ih {
			m.Lines[i].At = newStart
		}
	}
	for i := range m.Locals {
		if m.Locals[i].Start == ih {
			m.Locals[i].Start = newStart
		}
		if m.Locals[i].End == ih {
			m.Locals[i].End = newEnd
		}
	}
	for i := range m.Handlers {
		if m.Handlers[i].Start == ih {
			m.Handlers[i].Start = newStart
		}
		if m.Handlers[i].End == ih {
			m.Handlers[i].End = newEnd
		}
		if m.Handlers[i].Handler == ih {
			m.Handlers[i].Handler = newStart
		}
	}

	if err := il.Delete(ih, ih); err != nil {
		return err
	}
	il.SetPositions()
	s.InvalidateStackTypes()

	if !s.table.required {
		return nil
	}

	s.table.ApplyLengthDelta(newStart.Position(), newLength-oldLength)
	s.table.AdjustSwitchPadding(newEnd)

	// Find branch targets that lie inside the replacement. The first
	// instruction only collects targeters from outside the new code, so
	// the scan starts at the second.
	follow := newEnd.Next()
	var targetOffsets []int
	for nih := newStart.Next(); nih != follow; nih = nih.Next() {
		if len(il.Targeters(nih)) > 0 {
			targetOffsets = append(targetOffsets, nih.Position())
		}
	}
	if len(targetOffsets) == 0 {
		return nil
	}
	return s.synthesizeFrames(newStart, follow, targetOffsets, oldLength, newLength)
}

// synthesizeFrames builds stack map entries for branch targets created
// inside replacement code and splices them into the table.
//
// A target normally gets a SAME_LOCALS_1_STACK_ITEM frame, but the
// compiler may have skipped frames for locals it defined between the
// surrounding entries. If such extra locals are live at the insertion
// point, the only frame that can describe them is FULL, and every entry
// after the insertion must become FULL too so the extra locals stay
// declared. That conversion is deliberately coarse; a precise re-narrowing
// of later frames is not attempted.
func (s *Session) synthesizeFrames(newStart, follow *classfile.Handle, targetOffsets []int, oldLength, newLength int) error {
	t := s.table
	m := s.method

	st, err := s.StackTypes()
	if err != nil {
		return err
	}

	curLoc := newStart.Position()
	insertAt, runningOffset, activeLocals := t.FindLastBefore(targetOffsets[0], s.InitialLocalsCount())
	insertAt++

	localTypes, err := s.calculateLiveLocalTypes(curLoc)
	if err != nil {
		return err
	}
	extraLocals := len(localTypes) - activeLocals
	if extraLocals < 0 {
		return fmt.Errorf("stackmap: %d locals live at offset %d but frames declare %d", len(localTypes), curLoc, activeLocals)
	}

	needFull := false
	synthesized := make([]Entry, 0, len(targetOffsets))
	for _, off := range targetOffsets {
		f, ok := st.FrameAt(off)
		if !ok {
			return fmt.Errorf("stackmap: no verified frame at branch target %d", off)
		}
		var e Entry
		if extraLocals == 0 && f.Stack.Len() == 1 && !needFull {
			vt, err := FromType(f.Stack.Peek(0))
			if err != nil {
				return fmt.Errorf("stackmap: branch target %d: %w", off, err)
			}
			e = SameLocals1Entry(0, vt)
		} else {
			needFull = true
			lt, err := s.calculateLiveLocalTypes(off)
			if err != nil {
				return err
			}
			stk, err := calculateLiveStackTypes(f.Stack)
			if err != nil {
				return err
			}
			e = FullEntry(0, lt, stk)
		}
		e.Delta = off - (runningOffset + 1)
		runningOffset = off
		synthesized = append(synthesized, e)
	}
	lastTarget := targetOffsets[len(targetOffsets)-1]

	remainder := append([]Entry(nil), t.entries[insertAt:]...)
	if len(remainder) > 0 {
		// Re-anchor the first surviving entry against the last synthesized
		// frame. Its instruction is the next branch target or handler at
		// or after the end of the new code.
		for nih := follow; nih != nil; nih = nih.Next() {
			if len(m.Code.Targeters(nih)) > 0 || s.isHandlerPC(nih) {
				remainder[0].Delta = nih.Position() - lastTarget - 1
				break
			}
		}
		if needFull {
			running := lastTarget
			for i := range remainder {
				running += remainder[i].Delta + 1
				f, ok := st.FrameAt(running)
				if !ok {
					return fmt.Errorf("stackmap: no verified frame at offset %d", running)
				}
				lt, err := s.calculateLiveLocalTypes(running)
				if err != nil {
					return err
				}
				stk, err := calculateLiveStackTypes(f.Stack)
				if err != nil {
					return err
				}
				remainder[i] = FullEntry(remainder[i].Delta, lt, stk)
			}
		}
	}

	merged := make([]Entry, 0, insertAt+len(synthesized)+len(remainder))
	merged = append(merged, t.entries[:insertAt]...)
	merged = append(merged, synthesized...)
	merged = append(merged, remainder...)
	t.SetEntries(merged)
	t.DumpTo("after frame synthesis")
	return nil
}

func (s *Session) isHandlerPC(h *classfile.Handle) bool {
	for _, eh := range s.method.Handlers {
		if eh.Handler == h {
			return true
		}
	}
	return false
}

// AddParameter appends a new formal parameter after the last declared one
// and before the first true local, shifting every later local up by the
// parameter's slot width. Slot references in the code are rewritten, and
// FULL frames gain the new type at the matching position.
func (s *Session) AddParameter(name string, t classfile.Type) (classfile.LocalVar, error) {
	m := s.method
	snapshot := append([]classfile.LocalVar(nil), m.LocalVariables()...)

	hasCode := m.Code != nil && m.Code.Len() > 0
	newIndex := 0
	newOffset := 0
	var added classfile.LocalVar

	if hasCode {
		if !m.IsStatic() {
			newIndex = 1
			newOffset = 1
		}
		if len(m.ArgTypes) > 0 {
			newIndex += len(m.ArgTypes)
			if newIndex-1 < len(snapshot) {
				lastArg := snapshot[newIndex-1]
				newOffset = lastArg.Slot + lastArg.Type.Size()
			}
		}

		live := m.LocalVariables()
		for i := newIndex; i < len(live); i++ {
			live[i].Slot += t.Size()
		}
		s.addWholeMethodLocal(name, t, newOffset)
		added = classfile.LocalVar{Name: name, Type: t, Slot: newOffset}
		m.MaxLocals += t.Size()
		s.firstLocalIndex++
	}

	vt, err := FromType(t)
	if err != nil {
		return classfile.LocalVar{}, fmt.Errorf("stackmap: parameter %s: %w", name, err)
	}
	s.initialTypes = append(s.initialTypes, vt)

	m.ArgTypes = append(m.ArgTypes, t)
	m.Descriptor = classfile.MethodDescriptor(m.ArgTypes, m.ReturnType)

	if hasCode {
		s.adjustCodeForLocalsShift(newOffset, t.Size())
		if err := s.updateFullFrameEntries(newOffset, t, snapshot); err != nil {
			return classfile.LocalVar{}, err
		}
	}
	s.InvalidateStackTypes()
	return added, nil
}

// AddMethodScopeLocal creates a local live for the whole method. It goes
// in the lowest slot after the parameters that precedes every late-start
// local, so existing declared locals shift up rather than interleave; a
// run of reconciler temps immediately before that point is shifted too,
// since temps the compiler already folded into the frames must stay
// contiguous.
func (s *Session) AddMethodScopeLocal(name string, t classfile.Type) (classfile.LocalVar, error) {
	m := s.method
	snapshot := append([]classfile.LocalVar(nil), m.LocalVariables()...)

	maxOffset := 0
	newOffset := -1
	newIndex := -1
	compilerTemp := -1

	for i, lv := range snapshot {
		if i >= s.firstLocalIndex && newOffset == -1 {
			startPos := 0
			if lv.Start != nil {
				startPos = lv.Start.Position()
			}
			if startPos != 0 {
				if compilerTemp != -1 {
					newOffset = snapshot[compilerTemp].Slot
					newIndex = compilerTemp
				} else {
					newOffset = lv.Slot
					newIndex = i
				}
			}
		}
		maxOffset = lv.Slot + lv.Type.Size()
		if IsTempLocal(lv.Name) {
			if compilerTemp == -1 {
				compilerTemp = i
			}
		} else {
			// Temps before an already-placed local are covered by the
			// existing frames; they do not constrain the insertion point.
			compilerTemp = -1
		}
	}
	if newOffset == -1 && compilerTemp != -1 {
		newOffset = snapshot[compilerTemp].Slot
		newIndex = compilerTemp
	}

	if newOffset == -1 {
		// Everything in the table starts at offset zero; the new local
		// goes after it all. Unnamed temps may still sit above maxOffset.
		newOffset = maxOffset
		if newOffset < m.MaxLocals {
			m.MaxLocals += t.Size()
		}
		s.addWholeMethodLocal(name, t, newOffset)
	} else {
		live := m.LocalVariables()
		for i := newIndex; i < len(live); i++ {
			live[i].Slot += t.Size()
		}
		s.addWholeMethodLocal(name, t, newOffset)
		m.MaxLocals += t.Size()
	}
	added := classfile.LocalVar{Name: name, Type: t, Slot: newOffset}

	s.adjustCodeForLocalsShift(newOffset, t.Size())
	if err := s.updateFullFrameEntries(newOffset, t, snapshot); err != nil {
		return classfile.LocalVar{}, err
	}
	s.InvalidateStackTypes()
	return added, nil
}

// adjustCodeForLocalsShift bumps the slot of every load, store, iinc, and
// ret at or above firstMoved by size. Moving a slot out of the compact
// 0-3 encodings, or past the one-byte operand limit, grows the
// instruction; each growth is propagated into the table immediately so
// later anchors see current offsets.
func (s *Session) adjustCodeForLocalsShift(firstMoved, size int) {
	il := s.method.Code
	if il == nil {
		return
	}
	for ih := il.Start(); ih != nil; ih = ih.Next() {
		in := ih.Instruction()
		if !in.Op.HasLocalSlot() || in.Slot < firstMoved {
			continue
		}
		oldLen := in.Length(ih.Position())
		in.Slot += size
		newLen := in.Length(ih.Position())
		if newLen > oldLen {
			il.SetPositions()
			s.table.ApplyLengthDelta(ih.Position(), newLen-oldLen)
			s.table.AdjustSwitchPadding(ih)
		}
	}
	s.InvalidateStackTypes()
}

// updateFullFrameEntries inserts the new variable's type into every FULL
// frame's locals at the position matching its slot. snapshot is the local
// table from before the addition; frames can hold trailing types for
// hidden temps the snapshot does not know, and those stay at the end.
func (s *Session) updateFullFrameEntries(offset int, t classfile.Type, snapshot []classfile.LocalVar) error {
	vt, err := FromType(t)
	if err != nil {
		return fmt.Errorf("stackmap: local type %s: %w", t, err)
	}
	for i := range s.table.entries {
		e := &s.table.entries[i]
		if e.Kind != EntryFull {
			continue
		}
		idx := 0
		for idx < len(e.Locals) {
			if idx >= len(snapshot) || snapshot[idx].Slot >= offset {
				break
			}
			idx++
		}
		locals := make([]VerificationType, 0, len(e.Locals)+1)
		locals = append(locals, e.Locals[:idx]...)
		locals = append(locals, vt)
		locals = append(locals, e.Locals[idx:]...)
		e.Locals = locals
	}
	return nil
}

// calculateLiveLocalTypes computes the verification type of each local
// slot live at the given bytecode offset. Dead slots are top; the result
// is truncated after the last live slot. The local variable table must be
// complete (Begin reconciles it) for the answer to be trustworthy.
func (s *Session) calculateLiveLocalTypes(location int) ([]VerificationType, error) {
	m := s.method
	types := make([]VerificationType, m.MaxLocals)
	for i := range types {
		types[i] = VTTop
	}
	maxIndex := -1
	for _, lv := range m.LocalVariables() {
		if lv.Start == nil {
			continue
		}
		if location < lv.Start.Position() {
			continue
		}
		if !lv.LiveToEnd && (lv.End == nil || location >= lv.End.Position()) {
			continue
		}
		vt, err := FromType(lv.Type)
		if err != nil {
			return nil, fmt.Errorf("stackmap: local %s: %w", lv.Name, err)
		}
		types[lv.Slot] = vt
		if lv.Slot > maxIndex {
			maxIndex = lv.Slot
		}
	}
	return types[:maxIndex+1], nil
}

// calculateLiveStackTypes converts a verifier operand stack to
// verification types, bottom first.
func calculateLiveStackTypes(stack *verify.OperandStack) ([]VerificationType, error) {
	items := stack.Types()
	out := make([]VerificationType, 0, len(items))
	for _, it := range items {
		vt, err := FromType(it)
		if err != nil {
			return nil, fmt.Errorf("stackmap: stack item %s: %w", it, err)
		}
		out = append(out, vt)
	}
	return out, nil
}
