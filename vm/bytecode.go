package vm

import "fmt"

// ---------------------------------------------------------------------------
// Opcode definitions
// ---------------------------------------------------------------------------

// Opcode identifies a VM instruction. It occupies the low 6 bits of an
// Instruction.
type Opcode uint8

// Loads and moves
const (
	OpMOVE     Opcode = iota // R(A) := R(B)
	OpLOADK                  // R(A) := Kst(Bx)
	OpLOADKX                 // R(A) := Kst(extra arg)
	OpLOADBOOL               // R(A) := (Bool)B; if (C) pc++
	OpLOADNIL                // R(A), R(A+1), ..., R(A+B) := nil
	OpGETUPVAL               // R(A) := UpValue[B]
	OpGETTABUP               // R(A) := UpValue[B][RK(C)]
	OpGETTABLE               // R(A) := R(B)[RK(C)]
	OpSETTABUP               // UpValue[A][RK(B)] := RK(C)
	OpSETUPVAL               // UpValue[B] := R(A)
	OpSETTABLE               // R(A)[RK(B)] := RK(C)
	OpNEWTABLE               // R(A) := {} (size = B,C)
	OpSELF                   // R(A+1) := R(B); R(A) := R(B)[RK(C)]
)

// Arithmetic
const (
	OpADD    Opcode = iota + OpSELF + 1 // R(A) := RK(B) + RK(C)
	OpSUB                               // R(A) := RK(B) - RK(C)
	OpMUL                               // R(A) := RK(B) * RK(C)
	OpDIV                               // R(A) := RK(B) / RK(C)
	OpMOD                               // R(A) := RK(B) % RK(C)
	OpPOW                               // R(A) := RK(B) ^ RK(C)
	OpUNM                               // R(A) := -R(B)
	OpNOT                               // R(A) := not R(B)
	OpLEN                               // R(A) := length of R(B)
	OpCONCAT                            // R(A) := R(B).. ... ..R(C)
)

// Control flow
const (
	OpJMP      Opcode = iota + OpCONCAT + 1 // pc += sBx; if (A) close all upvalues >= R(A-1)
	OpEQ                                    // if ((RK(B) == RK(C)) ~= A) then pc++
	OpLT                                    // if ((RK(B) <  RK(C)) ~= A) then pc++
	OpLE                                    // if ((RK(B) <= RK(C)) ~= A) then pc++
	OpTEST                                  // if not (R(A) <=> C) then pc++
	OpTESTSET                               // if (R(B) <=> C) then R(A) := R(B) else pc++
	OpCALL                                  // R(A), ... ,R(A+C-2) := R(A)(R(A+1), ... ,R(A+B-1))
	OpTAILCALL                              // return R(A)(R(A+1), ... ,R(A+B-1))
	OpRETURN                                // return R(A), ... ,R(A+B-2)
	OpFORLOOP                               // R(A)+=R(A+2); if R(A) <?= R(A+1) then { pc+=sBx; R(A+3)=R(A) }
	OpFORPREP                               // R(A)-=R(A+2); pc+=sBx
	OpTFORCALL                              // R(A+3), ... ,R(A+2+C) := R(A)(R(A+1), R(A+2))
	OpTFORLOOP                              // if R(A+1) ~= nil then { R(A)=R(A+1); pc += sBx }
)

// Constructors and closures
const (
	OpSETLIST  Opcode = iota + OpTFORLOOP + 1 // R(A)[(C-1)*FPF+i] := R(A+i), 1 <= i <= B
	OpCLOSURE                                 // R(A) := closure(KPROTO[Bx])
	OpVARARG                                  // R(A), R(A+1), ..., R(A+B-2) = vararg
	OpEXTRAARG                                // extra (larger) argument for previous opcode

	numOpcodes
)

// ---------------------------------------------------------------------------
// Opcode metadata
// ---------------------------------------------------------------------------

// OpMode is an instruction layout.
type OpMode uint8

const (
	ModeABC OpMode = iota
	ModeABx
	ModeAsBx
	ModeAx
)

// ArgMode says how the B or C field of an instruction is used.
type ArgMode uint8

const (
	ArgN ArgMode = iota // not used
	ArgU                // used as a plain number
	ArgR                // register or jump offset
	ArgK                // constant or register (RK)
)

// OpcodeInfo holds metadata about an opcode.
type OpcodeInfo struct {
	Name  string  // human-readable name
	Mode  OpMode  // instruction layout
	B     ArgMode // use of field B
	C     ArgMode // use of field C
	SetsA bool    // writes register A
	Test  bool    // next instruction is a jump taken conditionally
}

// opcodeTable maps opcodes to their metadata.
var opcodeTable = [numOpcodes]OpcodeInfo{
	OpMOVE:     {"MOVE", ModeABC, ArgR, ArgN, true, false},
	OpLOADK:    {"LOADK", ModeABx, ArgK, ArgN, true, false},
	OpLOADKX:   {"LOADKX", ModeABx, ArgN, ArgN, true, false},
	OpLOADBOOL: {"LOADBOOL", ModeABC, ArgU, ArgU, true, false},
	OpLOADNIL:  {"LOADNIL", ModeABC, ArgU, ArgN, true, false},
	OpGETUPVAL: {"GETUPVAL", ModeABC, ArgU, ArgN, true, false},
	OpGETTABUP: {"GETTABUP", ModeABC, ArgU, ArgK, true, false},
	OpGETTABLE: {"GETTABLE", ModeABC, ArgR, ArgK, true, false},
	OpSETTABUP: {"SETTABUP", ModeABC, ArgK, ArgK, false, false},
	OpSETUPVAL: {"SETUPVAL", ModeABC, ArgU, ArgN, false, false},
	OpSETTABLE: {"SETTABLE", ModeABC, ArgK, ArgK, false, false},
	OpNEWTABLE: {"NEWTABLE", ModeABC, ArgU, ArgU, true, false},
	OpSELF:     {"SELF", ModeABC, ArgR, ArgK, true, false},

	OpADD:    {"ADD", ModeABC, ArgK, ArgK, true, false},
	OpSUB:    {"SUB", ModeABC, ArgK, ArgK, true, false},
	OpMUL:    {"MUL", ModeABC, ArgK, ArgK, true, false},
	OpDIV:    {"DIV", ModeABC, ArgK, ArgK, true, false},
	OpMOD:    {"MOD", ModeABC, ArgK, ArgK, true, false},
	OpPOW:    {"POW", ModeABC, ArgK, ArgK, true, false},
	OpUNM:    {"UNM", ModeABC, ArgR, ArgN, true, false},
	OpNOT:    {"NOT", ModeABC, ArgR, ArgN, true, false},
	OpLEN:    {"LEN", ModeABC, ArgR, ArgN, true, false},
	OpCONCAT: {"CONCAT", ModeABC, ArgR, ArgR, true, false},

	OpJMP:      {"JMP", ModeAsBx, ArgR, ArgN, false, false},
	OpEQ:       {"EQ", ModeABC, ArgK, ArgK, false, true},
	OpLT:       {"LT", ModeABC, ArgK, ArgK, false, true},
	OpLE:       {"LE", ModeABC, ArgK, ArgK, false, true},
	OpTEST:     {"TEST", ModeABC, ArgN, ArgU, false, true},
	OpTESTSET:  {"TESTSET", ModeABC, ArgR, ArgU, true, true},
	OpCALL:     {"CALL", ModeABC, ArgU, ArgU, true, false},
	OpTAILCALL: {"TAILCALL", ModeABC, ArgU, ArgU, true, false},
	OpRETURN:   {"RETURN", ModeABC, ArgU, ArgN, false, false},
	OpFORLOOP:  {"FORLOOP", ModeAsBx, ArgR, ArgN, true, false},
	OpFORPREP:  {"FORPREP", ModeAsBx, ArgR, ArgN, true, false},
	OpTFORCALL: {"TFORCALL", ModeABC, ArgN, ArgU, false, false},
	OpTFORLOOP: {"TFORLOOP", ModeAsBx, ArgR, ArgN, true, false},

	OpSETLIST:  {"SETLIST", ModeABC, ArgU, ArgU, false, false},
	OpCLOSURE:  {"CLOSURE", ModeABx, ArgU, ArgN, true, false},
	OpVARARG:   {"VARARG", ModeABC, ArgU, ArgN, true, false},
	OpEXTRAARG: {"EXTRAARG", ModeAx, ArgU, ArgU, false, false},
}

// Valid reports whether op is a defined opcode.
func (op Opcode) Valid() bool {
	return op < numOpcodes
}

// Info returns the metadata for an opcode.
func (op Opcode) Info() OpcodeInfo {
	if op.Valid() {
		return opcodeTable[op]
	}
	return OpcodeInfo{Name: fmt.Sprintf("UNKNOWN_%02X", byte(op))}
}

// Name returns the human-readable name for an opcode.
func (op Opcode) Name() string {
	return op.Info().Name
}

// String implements the Stringer interface.
func (op Opcode) String() string {
	return op.Name()
}

// ---------------------------------------------------------------------------
// Instruction encoding
// ---------------------------------------------------------------------------

// Instruction is one packed 32-bit VM instruction.
//
//	iABC   B:9  C:9  A:8 op:6
//	iABx     Bx:18   A:8 op:6
//	iAsBx   sBx:18   A:8 op:6
//	iAx        Ax:26     op:6
type Instruction uint32

// Field sizes and positions.
const (
	sizeOp = 6
	sizeA  = 8
	sizeB  = 9
	sizeC  = 9
	sizeBx = sizeB + sizeC
	sizeAx = sizeA + sizeB + sizeC

	posOp = 0
	posA  = posOp + sizeOp
	posC  = posA + sizeA
	posB  = posC + sizeC
	posBx = posC
	posAx = posA

	MaxArgA  = 1<<sizeA - 1
	MaxArgB  = 1<<sizeB - 1
	MaxArgC  = 1<<sizeC - 1
	MaxArgBx = 1<<sizeBx - 1
	MaxArgAx = 1<<sizeAx - 1

	// MaxArgSBx is the bias applied to signed Bx operands.
	MaxArgSBx = MaxArgBx >> 1
)

// BitRK marks a B or C operand as a constant index; MaxIndexRK is the
// largest constant an RK operand can name.
const (
	BitRK      = 1 << (sizeB - 1)
	MaxIndexRK = BitRK - 1
)

// FieldsPerFlush is the number of list items SETLIST stores per batch.
const FieldsPerFlush = 50

func mask(n uint) uint32 { return 1<<n - 1 }

// CreateABC packs an iABC instruction.
func CreateABC(op Opcode, a, b, c int) Instruction {
	return Instruction(uint32(op)<<posOp |
		(uint32(a)&mask(sizeA))<<posA |
		(uint32(b)&mask(sizeB))<<posB |
		(uint32(c)&mask(sizeC))<<posC)
}

// CreateABx packs an iABx instruction.
func CreateABx(op Opcode, a, bx int) Instruction {
	return Instruction(uint32(op)<<posOp |
		(uint32(a)&mask(sizeA))<<posA |
		(uint32(bx)&mask(sizeBx))<<posBx)
}

// CreateAsBx packs an iAsBx instruction.
func CreateAsBx(op Opcode, a, sbx int) Instruction {
	return CreateABx(op, a, sbx+MaxArgSBx)
}

// CreateAx packs an iAx instruction.
func CreateAx(op Opcode, ax int) Instruction {
	return Instruction(uint32(op)<<posOp | (uint32(ax)&mask(sizeAx))<<posAx)
}

// Opcode returns the operation. The result may be invalid for malformed
// code; check Valid before dispatching on it.
func (i Instruction) Opcode() Opcode { return Opcode(uint32(i) >> posOp & mask(sizeOp)) }

// A returns field A.
func (i Instruction) A() int { return int(uint32(i) >> posA & mask(sizeA)) }

// B returns field B.
func (i Instruction) B() int { return int(uint32(i) >> posB & mask(sizeB)) }

// C returns field C.
func (i Instruction) C() int { return int(uint32(i) >> posC & mask(sizeC)) }

// Bx returns the unsigned field Bx.
func (i Instruction) Bx() int { return int(uint32(i) >> posBx & mask(sizeBx)) }

// SBx returns the signed field sBx.
func (i Instruction) SBx() int { return i.Bx() - MaxArgSBx }

// Ax returns field Ax.
func (i Instruction) Ax() int { return int(uint32(i) >> posAx & mask(sizeAx)) }

// IsK reports whether an RK operand names a constant.
func IsK(x int) bool { return x&BitRK != 0 }

// IndexK strips the constant flag from an RK operand.
func IndexK(x int) int { return x &^ BitRK }

// RKAsK encodes a constant index as an RK operand.
func RKAsK(x int) int { return x | BitRK }

// String renders the instruction with its raw operands.
func (i Instruction) String() string {
	op := i.Opcode()
	info := op.Info()
	switch info.Mode {
	case ModeABx:
		return fmt.Sprintf("%-9s %d %d", info.Name, i.A(), i.Bx())
	case ModeAsBx:
		return fmt.Sprintf("%-9s %d %d", info.Name, i.A(), i.SBx())
	case ModeAx:
		return fmt.Sprintf("%-9s %d", info.Name, i.Ax())
	}
	return fmt.Sprintf("%-9s %d %d %d", info.Name, i.A(), i.B(), i.C())
}

// intToFB encodes x as a "floating point byte" (eeeeexxx), rounding up.
// NEWTABLE stores its size hints this way.
func intToFB(x int) int {
	e := 0
	if x < 8 {
		return x
	}
	for x >= 8<<4 {
		x = (x + 0xf) >> 4
		e += 4
	}
	for x >= 8<<1 {
		x = (x + 1) >> 1
		e++
	}
	return (e+1)<<3 | (x - 8)
}

// fbToInt decodes a "floating point byte".
func fbToInt(x int) int {
	if x < 8 {
		return x
	}
	return (x&7 + 8) << (x>>3 - 1)
}
