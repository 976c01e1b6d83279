// Package stackmap keeps a method's StackMapTable attribute consistent
// while its bytecode is rewritten.
//
// The attribute is a delta-encoded list of frames: each entry records, for
// one bytecode offset, enough of the verifier's state (local and operand
// stack types) for the JVM to check the method in one linear pass. Any
// edit that moves code invalidates the encoded offsets, and edits that
// introduce branch targets need whole new frames. This package owns both
// problems:
//
//   - Entry and the table codec translate between attribute bytes and a
//     semantic frame model in which offset deltas can be adjusted freely;
//     the frame-type byte is re-derived on encode.
//   - Table answers offset queries (exact, last-before, first-after),
//     absorbs code length deltas, re-anchors frames after switch padding
//     changes, and tracks NEW instructions referenced by uninitialized
//     verification types.
//   - Session ties a Table to one method: Begin reconciles the
//     local variable table so every used slot has a typed entry, the edit
//     operations (InsertBefore, Delete, Replace, AddParameter,
//     AddMethodScopeLocal) mutate code and table in lockstep, and Finish
//     serializes the result back onto the method.
//
// Frame synthesis leans on package verify for the operand stack types at
// a target and on the reconciled local table for the live locals.
package stackmap
