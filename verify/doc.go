// Package verify symbolically executes JVM method bytecode to compute the
// verification state (operand stack and local variable types) at every
// reachable instruction.
//
// The analysis is a forward dataflow fixed point over the control-flow
// graph, including exception edges:
//
//   - Frame models the state at one program point; Merge implements the
//     verifier's join (the reference lattice is flat: distinct reference
//     types join to java/lang/Object)
//
//   - Execute applies one instruction's stack and locals effect, including
//     the uninitialized-to-initialized replacement at constructor calls
//
//   - Analyze runs the worklist to a fixed point and returns StackTypes,
//     the per-offset merged input frames
//
// The worklist is FIFO, so analysis order is deterministic. Subroutines
// (jsr/ret) are resolved through execution-history chains: a ret returns
// to the physical successor of the innermost unmatched jsr on the path
// that reached it, and the return address recorded in the ret's local slot
// must agree.
//
// Unverifiable bytecode surfaces as a VerificationError; callers that
// rewrite many methods typically log it and leave the method untouched.
package verify
