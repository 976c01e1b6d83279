package stackmap

import (
	"fmt"

	"github.com/classweave/classweave/classfile"
	"github.com/classweave/classweave/verify"
)

// Session holds everything needed to keep one method's StackMapTable
// consistent across a sequence of bytecode edits. Begin detaches the
// table from the method and repairs the local variable table, the edit
// operations mutate code and table together, and Finish re-attaches the
// table.
//
// A session is only valid for the one method it began with. Sessions are
// not safe for concurrent use.
type Session struct {
	method *classfile.Method
	table  *Table

	// One verification type per receiver and parameter, in declaration
	// order. Category-2 values count once here, matching how stack map
	// frames count locals.
	initialTypes []VerificationType
	// Index of the first non-parameter entry in the method's local
	// variable list (not a slot number).
	firstLocalIndex int

	stackTypes *verify.StackTypes
}

// Begin starts a session for m. classMajor is the class file's major
// version; it decides whether a method with no existing table must get
// one on Finish. The StackMapTable attribute, if present, is removed from
// the method and owned by the session until Finish. The local variable
// table is reconciled so every slot the code uses has a typed entry; the
// edit operations depend on that.
func Begin(m *classfile.Method, classMajor int) (*Session, error) {
	if m.Code != nil {
		m.Code.SetPositions()
	}
	table, err := Load(m, classMajor)
	if err != nil {
		return nil, err
	}
	// The generic-signature variable table cannot be kept accurate across
	// edits; it is optional debug data, so drop it up front.
	m.RemoveLocalVariableTypeTable()
	s := &Session{method: m, table: table}
	s.recordInitialTypes()
	if m.Code != nil {
		if err := table.BuildUninitializedNewMap(m.Code); err != nil {
			return nil, err
		}
	}
	if err := s.reconcileLocals(); err != nil {
		return nil, err
	}
	return s, nil
}

// Method returns the method being edited.
func (s *Session) Method() *classfile.Method { return s.method }

// Table returns the session's stack map table.
func (s *Session) Table() *Table { return s.table }

// InitialTypes returns the verification types of the receiver and
// parameters, one entry each.
func (s *Session) InitialTypes() []VerificationType { return s.initialTypes }

// InitialLocalsCount returns how many locals are live at method entry, as
// stack map frames count them (category-2 values count once).
func (s *Session) InitialLocalsCount() int { return len(s.initialTypes) }

// FirstLocalIndex returns the index of the first non-parameter entry in
// the method's local variable list.
func (s *Session) FirstLocalIndex() int { return s.firstLocalIndex }

func (s *Session) recordInitialTypes() {
	m := s.method
	s.initialTypes = s.initialTypes[:0]
	if !m.IsStatic() {
		s.initialTypes = append(s.initialTypes, VTObject(m.ClassName))
	}
	for _, at := range m.ArgTypes {
		vt, err := FromType(at)
		if err != nil {
			// Parameter types come from the descriptor; only concrete
			// field types appear there.
			vt = VTObject("java/lang/Object")
		}
		s.initialTypes = append(s.initialTypes, vt)
	}
	s.firstLocalIndex = len(s.initialTypes)
}

// StackTypes runs the symbolic verifier over the method's current code
// and memoizes the result. Edits that change code must call
// InvalidateStackTypes (the edit operations in this package do).
func (s *Session) StackTypes() (*verify.StackTypes, error) {
	if s.stackTypes != nil {
		return s.stackTypes, nil
	}
	s.method.RecomputeMaxLocals()
	st, err := verify.Analyze(s.method)
	if err != nil {
		return nil, fmt.Errorf("%s.%s%s: %w", s.method.ClassName, s.method.Name, s.method.Descriptor, err)
	}
	s.stackTypes = st
	return st, nil
}

// InvalidateStackTypes discards the memoized verifier result.
func (s *Session) InvalidateStackTypes() {
	s.stackTypes = nil
}

// Finish rewrites stale uninitialized-type offsets, re-encodes the table
// and attaches it to the method, then brings the method's max locals up
// to date. The session must not be used afterwards.
func (s *Session) Finish() error {
	if s.method.Code != nil {
		s.method.Code.SetPositions()
		s.table.UpdateUninitializedNewOffsets()
	}
	if err := s.table.Store(s.method); err != nil {
		return err
	}
	s.method.RecomputeMaxLocals()
	return nil
}
