// Package snapshot captures a method's stack map frames and verifier
// results in a stable, diffable form. Snapshots serialize to canonical
// CBOR, so two captures of the same analysis are byte-identical and can
// serve as golden files or feed external diff tooling.
package snapshot

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"

	"github.com/classweave/classweave/classfile"
	"github.com/classweave/classweave/stackmap"
	"github.com/classweave/classweave/verify"
)

var cborEncMode cbor.EncMode

func init() {
	em, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("snapshot: failed to create CBOR enc mode: %v", err))
	}
	cborEncMode = em
}

// Frame is one stack map entry at its absolute bytecode offset. The delta
// encoding of the attribute is resolved away so frames can be compared
// across edits that shift code.
type Frame struct {
	Offset int      `cbor:"offset"`
	Kind   string   `cbor:"kind"`
	Locals []string `cbor:"locals,omitempty"`
	Stack  []string `cbor:"stack,omitempty"`
}

// OffsetTypes is the verifier's view of one bytecode offset: the types in
// the local variable array and on the operand stack (bottom first) just
// before the instruction executes.
type OffsetTypes struct {
	Offset int      `cbor:"offset"`
	Locals []string `cbor:"locals,omitempty"`
	Stack  []string `cbor:"stack,omitempty"`
}

// Snapshot is the frame and type state of one method at one moment.
type Snapshot struct {
	Class      string `cbor:"class"`
	Method     string `cbor:"method"`
	Descriptor string `cbor:"descriptor"`

	Frames   []Frame       `cbor:"frames,omitempty"`
	Computed []OffsetTypes `cbor:"computed,omitempty"`
}

// Capture records m's stack map table and, when st is non-nil, the
// verifier's per-offset types.
func Capture(m *classfile.Method, table *stackmap.Table, st *verify.StackTypes) *Snapshot {
	snap := &Snapshot{
		Class:      m.ClassName,
		Method:     m.Name,
		Descriptor: m.Descriptor,
	}
	if table != nil {
		for i, e := range table.Entries() {
			snap.Frames = append(snap.Frames, Frame{
				Offset: table.OffsetAt(i),
				Kind:   e.Kind.String(),
				Locals: typeStrings(e.Locals),
				Stack:  typeStrings(e.Stack),
			})
		}
	}
	if st != nil {
		for _, off := range st.Offsets() {
			f, ok := st.FrameAt(off)
			if !ok {
				continue
			}
			snap.Computed = append(snap.Computed, OffsetTypes{
				Offset: off,
				Locals: localStrings(f.Locals),
				Stack:  stackStrings(f.Stack),
			})
		}
	}
	return snap
}

func typeStrings(types []stackmap.VerificationType) []string {
	if len(types) == 0 {
		return nil
	}
	out := make([]string, len(types))
	for i, t := range types {
		out[i] = t.String()
	}
	return out
}

func localStrings(lv *verify.LocalVariables) []string {
	out := make([]string, lv.MaxLocals())
	for i := range out {
		out[i] = lv.Get(i).String()
	}
	return out
}

func stackStrings(s *verify.OperandStack) []string {
	items := s.Types()
	if len(items) == 0 {
		return nil
	}
	out := make([]string, len(items))
	for i, t := range items {
		out[i] = t.String()
	}
	return out
}

// Marshal serializes a Snapshot to canonical CBOR bytes.
func Marshal(s *Snapshot) ([]byte, error) {
	return cborEncMode.Marshal(s)
}

// Unmarshal deserializes a Snapshot from CBOR bytes.
func Unmarshal(data []byte) (*Snapshot, error) {
	var s Snapshot
	if err := cbor.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("snapshot: unmarshal: %w", err)
	}
	return &s, nil
}
