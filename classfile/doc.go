// Package classfile is the bytecode object model the rewriting engine works
// against: JVM opcodes, source-level types, a constant pool, and a method
// model built around an instruction list with stable handles.
//
// The model is deliberately not a classfile reader or writer. The
// surrounding tool owns parsing and emission; this package represents the
// pieces a method rewrite touches:
//
//   - Opcode: the full JVM instruction set with mnemonics and the
//     predicates the verifier needs (branch, switch, return, load/store)
//
//   - Type: a value struct for verification-level types, constructed from
//     field and method descriptors
//
//   - ConstantPool: append-only with lookup-or-insert semantics, plus the
//     typed getters symbolic execution consults (class names, ref
//     descriptors, loadable constant kinds)
//
//   - Instruction / Handle / InstructionList: a doubly linked list whose
//     handles stay valid across splices, so branch targets, exception
//     ranges, and local variable live ranges survive insertion and
//     deletion. Encoded lengths are position-dependent (switch padding,
//     compact and wide local forms), so SetPositions iterates to a fixed
//     point.
//
//   - Method: code, exception table, local variable table, line numbers,
//     and raw code attributes such as the StackMapTable bytes.
//
// # Canonical opcodes
//
// Instruction lists store only canonical opcodes: iload_2 is held as iload
// with Slot 2, and the compact or wide encoding is chosen when lengths are
// computed. Renumbering a local is then a field update whose length change
// is picked up by the next SetPositions pass.
package classfile
