package classfile

import "fmt"

// Opcode is a single JVM bytecode instruction opcode.
type Opcode byte

// Constants
const (
	OpNop        Opcode = 0x00 // no operation
	OpAconstNull Opcode = 0x01 // push null
	OpIconstM1   Opcode = 0x02 // push int -1
	OpIconst0    Opcode = 0x03 // push int 0
	OpIconst1    Opcode = 0x04 // push int 1
	OpIconst2    Opcode = 0x05 // push int 2
	OpIconst3    Opcode = 0x06 // push int 3
	OpIconst4    Opcode = 0x07 // push int 4
	OpIconst5    Opcode = 0x08 // push int 5
	OpLconst0    Opcode = 0x09 // push long 0
	OpLconst1    Opcode = 0x0a // push long 1
	OpFconst0    Opcode = 0x0b // push float 0
	OpFconst1    Opcode = 0x0c // push float 1
	OpFconst2    Opcode = 0x0d // push float 2
	OpDconst0    Opcode = 0x0e // push double 0
	OpDconst1    Opcode = 0x0f // push double 1
	OpBipush     Opcode = 0x10 // push 8-bit signed int
	OpSipush     Opcode = 0x11 // push 16-bit signed int
	OpLdc        Opcode = 0x12 // push constant-pool entry (8-bit index)
	OpLdcW       Opcode = 0x13 // push constant-pool entry (16-bit index)
	OpLdc2W      Opcode = 0x14 // push long/double constant-pool entry
)

// Local variable loads
const (
	OpIload  Opcode = 0x15 // load int from local
	OpLload  Opcode = 0x16 // load long from local
	OpFload  Opcode = 0x17 // load float from local
	OpDload  Opcode = 0x18 // load double from local
	OpAload  Opcode = 0x19 // load reference from local
	OpIload0 Opcode = 0x1a // iload_0 .. iload_3 follow in order
	OpLload0 Opcode = 0x1e
	OpFload0 Opcode = 0x22
	OpDload0 Opcode = 0x26
	OpAload0 Opcode = 0x2a
)

// Array loads
const (
	OpIaload Opcode = 0x2e
	OpLaload Opcode = 0x2f
	OpFaload Opcode = 0x30
	OpDaload Opcode = 0x31
	OpAaload Opcode = 0x32
	OpBaload Opcode = 0x33
	OpCaload Opcode = 0x34
	OpSaload Opcode = 0x35
)

// Local variable stores
const (
	OpIstore  Opcode = 0x36 // store int to local
	OpLstore  Opcode = 0x37 // store long to local
	OpFstore  Opcode = 0x38 // store float to local
	OpDstore  Opcode = 0x39 // store double to local
	OpAstore  Opcode = 0x3a // store reference to local
	OpIstore0 Opcode = 0x3b // istore_0 .. istore_3 follow in order
	OpLstore0 Opcode = 0x3f
	OpFstore0 Opcode = 0x43
	OpDstore0 Opcode = 0x47
	OpAstore0 Opcode = 0x4b
)

// Array stores
const (
	OpIastore Opcode = 0x4f
	OpLastore Opcode = 0x50
	OpFastore Opcode = 0x51
	OpDastore Opcode = 0x52
	OpAastore Opcode = 0x53
	OpBastore Opcode = 0x54
	OpCastore Opcode = 0x55
	OpSastore Opcode = 0x56
)

// Stack manipulation
const (
	OpPop    Opcode = 0x57
	OpPop2   Opcode = 0x58
	OpDup    Opcode = 0x59
	OpDupX1  Opcode = 0x5a
	OpDupX2  Opcode = 0x5b
	OpDup2   Opcode = 0x5c
	OpDup2X1 Opcode = 0x5d
	OpDup2X2 Opcode = 0x5e
	OpSwap   Opcode = 0x5f
)

// Arithmetic
const (
	OpIadd  Opcode = 0x60
	OpLadd  Opcode = 0x61
	OpFadd  Opcode = 0x62
	OpDadd  Opcode = 0x63
	OpIsub  Opcode = 0x64
	OpLsub  Opcode = 0x65
	OpFsub  Opcode = 0x66
	OpDsub  Opcode = 0x67
	OpImul  Opcode = 0x68
	OpLmul  Opcode = 0x69
	OpFmul  Opcode = 0x6a
	OpDmul  Opcode = 0x6b
	OpIdiv  Opcode = 0x6c
	OpLdiv  Opcode = 0x6d
	OpFdiv  Opcode = 0x6e
	OpDdiv  Opcode = 0x6f
	OpIrem  Opcode = 0x70
	OpLrem  Opcode = 0x71
	OpFrem  Opcode = 0x72
	OpDrem  Opcode = 0x73
	OpIneg  Opcode = 0x74
	OpLneg  Opcode = 0x75
	OpFneg  Opcode = 0x76
	OpDneg  Opcode = 0x77
	OpIshl  Opcode = 0x78
	OpLshl  Opcode = 0x79
	OpIshr  Opcode = 0x7a
	OpLshr  Opcode = 0x7b
	OpIushr Opcode = 0x7c
	OpLushr Opcode = 0x7d
	OpIand  Opcode = 0x7e
	OpLand  Opcode = 0x7f
	OpIor   Opcode = 0x80
	OpLor   Opcode = 0x81
	OpIxor  Opcode = 0x82
	OpLxor  Opcode = 0x83
	OpIinc  Opcode = 0x84 // increment local by constant
)

// Conversions
const (
	OpI2l Opcode = 0x85
	OpI2f Opcode = 0x86
	OpI2d Opcode = 0x87
	OpL2i Opcode = 0x88
	OpL2f Opcode = 0x89
	OpL2d Opcode = 0x8a
	OpF2i Opcode = 0x8b
	OpF2l Opcode = 0x8c
	OpF2d Opcode = 0x8d
	OpD2i Opcode = 0x8e
	OpD2l Opcode = 0x8f
	OpD2f Opcode = 0x90
	OpI2b Opcode = 0x91
	OpI2c Opcode = 0x92
	OpI2s Opcode = 0x93
)

// Comparisons and branches
const (
	OpLcmp      Opcode = 0x94
	OpFcmpl     Opcode = 0x95
	OpFcmpg     Opcode = 0x96
	OpDcmpl     Opcode = 0x97
	OpDcmpg     Opcode = 0x98
	OpIfeq      Opcode = 0x99
	OpIfne      Opcode = 0x9a
	OpIflt      Opcode = 0x9b
	OpIfge      Opcode = 0x9c
	OpIfgt      Opcode = 0x9d
	OpIfle      Opcode = 0x9e
	OpIfIcmpeq  Opcode = 0x9f
	OpIfIcmpne  Opcode = 0xa0
	OpIfIcmplt  Opcode = 0xa1
	OpIfIcmpge  Opcode = 0xa2
	OpIfIcmpgt  Opcode = 0xa3
	OpIfIcmple  Opcode = 0xa4
	OpIfAcmpeq  Opcode = 0xa5
	OpIfAcmpne  Opcode = 0xa6
	OpGoto      Opcode = 0xa7
	OpJsr       Opcode = 0xa8 // jump to subroutine, push return address
	OpRet       Opcode = 0xa9 // return from subroutine via local slot
	OpIfnull    Opcode = 0xc6
	OpIfnonnull Opcode = 0xc7
	OpGotoW     Opcode = 0xc8
	OpJsrW      Opcode = 0xc9
)

// Switches
const (
	OpTableswitch  Opcode = 0xaa // padded to 4-byte alignment
	OpLookupswitch Opcode = 0xab // padded to 4-byte alignment
)

// Returns
const (
	OpIreturn Opcode = 0xac
	OpLreturn Opcode = 0xad
	OpFreturn Opcode = 0xae
	OpDreturn Opcode = 0xaf
	OpAreturn Opcode = 0xb0
	OpReturn  Opcode = 0xb1
)

// Field and method access
const (
	OpGetstatic       Opcode = 0xb2
	OpPutstatic       Opcode = 0xb3
	OpGetfield        Opcode = 0xb4
	OpPutfield        Opcode = 0xb5
	OpInvokevirtual   Opcode = 0xb6
	OpInvokespecial   Opcode = 0xb7
	OpInvokestatic    Opcode = 0xb8
	OpInvokeinterface Opcode = 0xb9
	OpInvokedynamic   Opcode = 0xba
)

// Object and array creation, misc
const (
	OpNew            Opcode = 0xbb // allocate uninitialized object
	OpNewarray       Opcode = 0xbc // allocate primitive array
	OpAnewarray      Opcode = 0xbd // allocate reference array
	OpArraylength    Opcode = 0xbe
	OpAthrow         Opcode = 0xbf
	OpCheckcast      Opcode = 0xc0
	OpInstanceof     Opcode = 0xc1
	OpMonitorenter   Opcode = 0xc2
	OpMonitorexit    Opcode = 0xc3
	OpWide           Opcode = 0xc4 // modifier prefix; never stored, emitted by the encoder
	OpMultianewarray Opcode = 0xc5
)

// opNames maps opcodes to JVM mnemonics.
var opNames = map[Opcode]string{
	OpNop: "nop", OpAconstNull: "aconst_null", OpIconstM1: "iconst_m1",
	OpIconst0: "iconst_0", OpIconst1: "iconst_1", OpIconst2: "iconst_2",
	OpIconst3: "iconst_3", OpIconst4: "iconst_4", OpIconst5: "iconst_5",
	OpLconst0: "lconst_0", OpLconst1: "lconst_1",
	OpFconst0: "fconst_0", OpFconst1: "fconst_1", OpFconst2: "fconst_2",
	OpDconst0: "dconst_0", OpDconst1: "dconst_1",
	OpBipush: "bipush", OpSipush: "sipush",
	OpLdc: "ldc", OpLdcW: "ldc_w", OpLdc2W: "ldc2_w",
	OpIload: "iload", OpLload: "lload", OpFload: "fload", OpDload: "dload", OpAload: "aload",
	OpIaload: "iaload", OpLaload: "laload", OpFaload: "faload", OpDaload: "daload",
	OpAaload: "aaload", OpBaload: "baload", OpCaload: "caload", OpSaload: "saload",
	OpIstore: "istore", OpLstore: "lstore", OpFstore: "fstore", OpDstore: "dstore", OpAstore: "astore",
	OpIastore: "iastore", OpLastore: "lastore", OpFastore: "fastore", OpDastore: "dastore",
	OpAastore: "aastore", OpBastore: "bastore", OpCastore: "castore", OpSastore: "sastore",
	OpPop: "pop", OpPop2: "pop2", OpDup: "dup", OpDupX1: "dup_x1", OpDupX2: "dup_x2",
	OpDup2: "dup2", OpDup2X1: "dup2_x1", OpDup2X2: "dup2_x2", OpSwap: "swap",
	OpIadd: "iadd", OpLadd: "ladd", OpFadd: "fadd", OpDadd: "dadd",
	OpIsub: "isub", OpLsub: "lsub", OpFsub: "fsub", OpDsub: "dsub",
	OpImul: "imul", OpLmul: "lmul", OpFmul: "fmul", OpDmul: "dmul",
	OpIdiv: "idiv", OpLdiv: "ldiv", OpFdiv: "fdiv", OpDdiv: "ddiv",
	OpIrem: "irem", OpLrem: "lrem", OpFrem: "frem", OpDrem: "drem",
	OpIneg: "ineg", OpLneg: "lneg", OpFneg: "fneg", OpDneg: "dneg",
	OpIshl: "ishl", OpLshl: "lshl", OpIshr: "ishr", OpLshr: "lshr",
	OpIushr: "iushr", OpLushr: "lushr",
	OpIand: "iand", OpLand: "land", OpIor: "ior", OpLor: "lor",
	OpIxor: "ixor", OpLxor: "lxor", OpIinc: "iinc",
	OpI2l: "i2l", OpI2f: "i2f", OpI2d: "i2d", OpL2i: "l2i", OpL2f: "l2f", OpL2d: "l2d",
	OpF2i: "f2i", OpF2l: "f2l", OpF2d: "f2d", OpD2i: "d2i", OpD2l: "d2l", OpD2f: "d2f",
	OpI2b: "i2b", OpI2c: "i2c", OpI2s: "i2s",
	OpLcmp: "lcmp", OpFcmpl: "fcmpl", OpFcmpg: "fcmpg", OpDcmpl: "dcmpl", OpDcmpg: "dcmpg",
	OpIfeq: "ifeq", OpIfne: "ifne", OpIflt: "iflt", OpIfge: "ifge", OpIfgt: "ifgt", OpIfle: "ifle",
	OpIfIcmpeq: "if_icmpeq", OpIfIcmpne: "if_icmpne", OpIfIcmplt: "if_icmplt",
	OpIfIcmpge: "if_icmpge", OpIfIcmpgt: "if_icmpgt", OpIfIcmple: "if_icmple",
	OpIfAcmpeq: "if_acmpeq", OpIfAcmpne: "if_acmpne",
	OpGoto: "goto", OpJsr: "jsr", OpRet: "ret",
	OpTableswitch: "tableswitch", OpLookupswitch: "lookupswitch",
	OpIreturn: "ireturn", OpLreturn: "lreturn", OpFreturn: "freturn",
	OpDreturn: "dreturn", OpAreturn: "areturn", OpReturn: "return",
	OpGetstatic: "getstatic", OpPutstatic: "putstatic",
	OpGetfield: "getfield", OpPutfield: "putfield",
	OpInvokevirtual: "invokevirtual", OpInvokespecial: "invokespecial",
	OpInvokestatic: "invokestatic", OpInvokeinterface: "invokeinterface",
	OpInvokedynamic: "invokedynamic",
	OpNew:           "new", OpNewarray: "newarray", OpAnewarray: "anewarray",
	OpArraylength: "arraylength", OpAthrow: "athrow",
	OpCheckcast: "checkcast", OpInstanceof: "instanceof",
	OpMonitorenter: "monitorenter", OpMonitorexit: "monitorexit",
	OpWide: "wide", OpMultianewarray: "multianewarray",
	OpIfnull: "ifnull", OpIfnonnull: "ifnonnull",
	OpGotoW: "goto_w", OpJsrW: "jsr_w",
}

// String returns the JVM mnemonic for the opcode.
func (op Opcode) String() string {
	if name, ok := opNames[op]; ok {
		return name
	}
	return fmt.Sprintf("Opcode(0x%02x)", byte(op))
}

// IsConditionalBranch reports whether the opcode is a two-way branch that
// falls through when the condition does not hold.
func (op Opcode) IsConditionalBranch() bool {
	return (op >= OpIfeq && op <= OpIfAcmpne) || op == OpIfnull || op == OpIfnonnull
}

// IsBranch reports whether the opcode carries a branch target.
func (op Opcode) IsBranch() bool {
	return op.IsConditionalBranch() ||
		op == OpGoto || op == OpGotoW || op == OpJsr || op == OpJsrW
}

// IsSwitch reports whether the opcode is tableswitch or lookupswitch.
func (op Opcode) IsSwitch() bool {
	return op == OpTableswitch || op == OpLookupswitch
}

// IsReturn reports whether the opcode returns from the method.
func (op Opcode) IsReturn() bool {
	return op >= OpIreturn && op <= OpReturn
}

// EndsBasicBlock reports whether execution never falls through to the next
// instruction.
func (op Opcode) EndsBasicBlock() bool {
	return op.IsReturn() || op.IsSwitch() ||
		op == OpGoto || op == OpGotoW || op == OpAthrow || op == OpRet
}

// IsLoad reports whether the opcode loads a local variable slot. Only the
// canonical (explicit-slot) forms appear in instruction lists; the compact
// _0.._3 forms are an encoding detail.
func (op Opcode) IsLoad() bool {
	return op >= OpIload && op <= OpAload
}

// IsStore reports whether the opcode stores to a local variable slot.
func (op Opcode) IsStore() bool {
	return op >= OpIstore && op <= OpAstore
}

// HasLocalSlot reports whether the opcode references a local variable slot.
func (op Opcode) HasLocalSlot() bool {
	return op.IsLoad() || op.IsStore() || op == OpIinc || op == OpRet
}
