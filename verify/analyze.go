package verify

import (
	"fmt"
	"sort"
	"strings"

	"github.com/classweave/classweave/classfile"
	"github.com/tliron/commonlog"
)

var log = commonlog.GetLogger("classweave.verify")

// VerificationError reports a dataflow inconsistency at a bytecode offset.
type VerificationError struct {
	Offset int
	Msg    string
}

func (e *VerificationError) Error() string {
	return fmt.Sprintf("verify: offset %d: %s", e.Offset, e.Msg)
}

// ---------------------------------------------------------------------------
// Analysis results

// StackTypes holds the fixed-point result of the dataflow analysis: the
// merged input frame of every reachable instruction, keyed by bytecode
// offset, plus per-offset execution counts and the deepest stack observed.
type StackTypes struct {
	frames    map[int]*Frame
	execCount map[int]int
	maxSlots  int
}

// FrameAt returns the merged input frame at the given offset, or false if
// the offset was never reached. The returned frame is owned by StackTypes;
// callers must clone before mutating.
func (st *StackTypes) FrameAt(offset int) (*Frame, bool) {
	f, ok := st.frames[offset]
	return f, ok
}

// ExecCount returns how many times the instruction at offset was
// symbolically executed before the analysis stabilized.
func (st *StackTypes) ExecCount(offset int) int {
	return st.execCount[offset]
}

// Offsets returns the reachable offsets in ascending order.
func (st *StackTypes) Offsets() []int {
	out := make([]int, 0, len(st.frames))
	for o := range st.frames {
		out = append(out, o)
	}
	sort.Ints(out)
	return out
}

// MaxStackSlots returns the deepest operand stack, in slots, observed at
// any point of any execution path.
func (st *StackTypes) MaxStackSlots() int { return st.maxSlots }

// String renders one line per reachable offset, for debug logging.
func (st *StackTypes) String() string {
	var sb strings.Builder
	for _, o := range st.Offsets() {
		fmt.Fprintf(&sb, "%4d: %s\n", o, st.frames[o])
	}
	return sb.String()
}

// ---------------------------------------------------------------------------
// Worklist engine

// histNode is one link of an execution-history chain: the instructions
// executed on the path that led to a queued work item, most recent first.
// Chains are immutable and shared between items.
type histNode struct {
	h    *classfile.Handle
	prev *histNode
}

type workItem struct {
	h     *classfile.Handle
	chain *histNode
}

type analyzer struct {
	m      *classfile.Method
	frames map[int]*Frame
	counts map[int]int
	queue  []workItem
	max    int
}

// Analyze symbolically executes the method to a fixed point and returns
// the per-offset verification state. Instruction positions must be
// current. Unverifiable bytecode yields an error; the caller decides
// whether that means skipping the method.
func Analyze(m *classfile.Method) (*StackTypes, error) {
	if m.Code == nil || m.Code.Start() == nil {
		return &StackTypes{frames: map[int]*Frame{}, execCount: map[int]int{}}, nil
	}
	a := &analyzer{
		m:      m,
		frames: make(map[int]*Frame),
		counts: make(map[int]int),
	}

	entry := EntryFrame(m)
	a.mergeInto(m.Code.Start(), entry, nil)

	for len(a.queue) > 0 {
		item := a.queue[0]
		a.queue = a.queue[1:]
		if err := a.step(item); err != nil {
			return nil, err
		}
	}

	a.warnUninitializedAtReturn()

	return &StackTypes{frames: a.frames, execCount: a.counts, maxSlots: a.max}, nil
}

// EntryFrame returns the method entry state: empty stack; locals holding
// the receiver (not yet constructed, for a constructor) and the declared
// parameters, with category-2 parameters followed by an undefined filler
// slot.
func EntryFrame(m *classfile.Method) *Frame {
	f := NewFrame(m.MaxLocals)
	slot := 0
	if !m.IsStatic() {
		if m.IsConstructor() {
			f.Locals.Set(0, classfile.UninitializedType(m.ClassName, -1))
		} else {
			f.Locals.Set(0, classfile.ObjectType(m.ClassName))
		}
		slot = 1
	}
	for _, t := range m.ArgTypes {
		f.Locals.Set(slot, verifyType(t))
		slot += t.Size()
	}
	return f
}

// mergeInto merges the frame into the target instruction's input state and
// queues the target when the state is new or changed.
func (a *analyzer) mergeInto(h *classfile.Handle, f *Frame, chain *histNode) error {
	pos := h.Position()
	cur, ok := a.frames[pos]
	if !ok {
		a.frames[pos] = f.Clone()
		a.queue = append(a.queue, workItem{h: h, chain: chain})
		return nil
	}
	changed, err := cur.Merge(f)
	if err != nil {
		return &VerificationError{Offset: pos, Msg: err.Error()}
	}
	if changed {
		a.queue = append(a.queue, workItem{h: h, chain: chain})
	}
	return nil
}

// step executes one queued instruction and propagates its output frame to
// every successor.
func (a *analyzer) step(item workItem) error {
	h := item.h
	pos := h.Position()
	in := h.Instruction()

	inFrame := a.frames[pos]
	a.counts[pos]++
	// guard against a nonterminating merge bug
	if a.counts[pos] > 10000 {
		return &VerificationError{Offset: pos, Msg: "analysis does not stabilize"}
	}

	out := inFrame.Clone()
	if err := Execute(h, out, a.m); err != nil {
		return err
	}
	if d := out.Stack.SlotDepth(); d > a.max {
		a.max = d
	}

	// exception edges use the state before the instruction executes
	for _, eh := range a.m.Handlers {
		if !handlerCovers(eh, pos) {
			continue
		}
		hf := &Frame{Stack: &OperandStack{}, Locals: inFrame.Locals.Clone()}
		caught := classfile.TypeThrowable
		if eh.CatchType != "" {
			caught = classfile.ObjectType(eh.CatchType)
		}
		hf.Stack.Push(caught)
		if err := a.mergeInto(eh.Handler, hf, nil); err != nil {
			return err
		}
	}

	chain := &histNode{h: h, prev: item.chain}

	switch {
	case in.Op == classfile.OpRet:
		return a.propagateRet(h, out, item.chain, chain)

	case in.Op == classfile.OpJsr || in.Op == classfile.OpJsrW:
		return a.mergeInto(in.Target, out, chain)

	case in.Op.IsSwitch():
		if err := a.mergeInto(in.Target, out, chain); err != nil {
			return err
		}
		for _, t := range in.Targets {
			if err := a.mergeInto(t, out, chain); err != nil {
				return err
			}
		}
		return nil

	case in.Op == classfile.OpGoto || in.Op == classfile.OpGotoW:
		return a.mergeInto(in.Target, out, chain)

	case in.Op.IsConditionalBranch():
		if err := a.mergeInto(in.Target, out, chain); err != nil {
			return err
		}
		if h.Next() != nil {
			return a.mergeInto(h.Next(), out, chain)
		}
		return nil

	case in.Op.IsReturn() || in.Op == classfile.OpAthrow:
		return nil

	default:
		if h.Next() == nil {
			return &VerificationError{Offset: pos, Msg: "execution falls off the end of the code"}
		}
		return a.mergeInto(h.Next(), out, chain)
	}
}

// propagateRet resolves which jsr the ret returns from by scanning the
// execution history for the innermost unmatched jsr, checks it against the
// return address recorded in the ret's local slot, and continues at the
// jsr's physical successor.
func (a *analyzer) propagateRet(h *classfile.Handle, out *Frame, hist *histNode, chain *histNode) error {
	pos := h.Position()
	skip := 0
	for n := hist; n != nil; n = n.prev {
		op := n.h.Instruction().Op
		if op == classfile.OpRet {
			skip++
			continue
		}
		if op != classfile.OpJsr && op != classfile.OpJsrW {
			continue
		}
		if skip > 0 {
			skip--
			continue
		}
		// innermost unmatched jsr
		jsr := n.h
		succ := jsr.Next()
		if succ == nil {
			return &VerificationError{Offset: jsr.Position(), Msg: "jsr has no physical successor"}
		}
		ra := out.Locals.Get(h.Instruction().Slot)
		if ra.Kind != classfile.KindReturnAddress {
			return &VerificationError{
				Offset: pos,
				Msg:    fmt.Sprintf("ret local %d holds %s, not a return address", h.Instruction().Slot, ra),
			}
		}
		if ra.Offset != succ.Position() {
			return &VerificationError{
				Offset: pos,
				Msg: fmt.Sprintf("ret returns to %d but the matching jsr at %d continues at %d",
					ra.Offset, jsr.Position(), succ.Position()),
			}
		}
		return a.mergeInto(succ, out, chain)
	}
	return &VerificationError{Offset: pos, Msg: "ret without a matching jsr in the execution history"}
}

// handlerCovers reports whether the handler's protected range covers the
// offset. The range is [start, end): end is the first uncovered
// instruction.
func handlerCovers(eh classfile.ExceptionHandler, offset int) bool {
	if eh.Start == nil || eh.Handler == nil {
		return false
	}
	if offset < eh.Start.Position() {
		return false
	}
	if eh.End == nil {
		return true // protected to the end of the code
	}
	return offset < eh.End.Position()
}

// warnUninitializedAtReturn logs a warning for any return instruction whose
// input frame still holds an unconstructed object. The JVM rejects such a
// frame only when the value is used, so this is diagnostic, not fatal.
func (a *analyzer) warnUninitializedAtReturn() {
	for h := a.m.Code.Start(); h != nil; h = h.Next() {
		if !h.Instruction().Op.IsReturn() {
			continue
		}
		f, ok := a.frames[h.Position()]
		if !ok {
			continue
		}
		if t, found := f.HasUninitialized(); found {
			log.Warningf("%s.%s: uninitialized object %s live at return offset %d",
				a.m.ClassName, a.m.Name, t, h.Position())
		}
	}
}
