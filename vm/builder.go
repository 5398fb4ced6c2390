package vm

import "fmt"

// ---------------------------------------------------------------------------
// ProtoBuilder: helper for constructing prototypes
// ---------------------------------------------------------------------------

// ProtoBuilder assembles a Prototype instruction by instruction. It
// interns constants, tracks the register file size and patches jumps to
// labels. It stands in for a code generator in tests and tools.
type ProtoBuilder struct {
	p      *Prototype
	consts map[any]int
	line   int32
	locals []int // indices into p.LocVars of locals still open
}

// NewProtoBuilder starts a prototype for the chunk named source.
func NewProtoBuilder(source string) *ProtoBuilder {
	return &ProtoBuilder{
		p:      &Prototype{Source: source, MaxStack: 2},
		consts: make(map[any]int),
	}
}

// Params declares the fixed parameter count and vararg flag.
func (b *ProtoBuilder) Params(n int, vararg bool) *ProtoBuilder {
	b.p.NumParams = n
	b.p.IsVararg = vararg
	b.useRegs(n)
	return b
}

// Lines sets the first and last source lines of the function. A
// prototype defined at line 0 is a main chunk.
func (b *ProtoBuilder) Lines(first, last int) *ProtoBuilder {
	b.p.LineDefined = first
	b.p.LastLineDefined = last
	return b
}

// Line sets the source line recorded for subsequent instructions.
func (b *ProtoBuilder) Line(n int) *ProtoBuilder {
	b.line = int32(n)
	return b
}

// MaxStack raises the register file size to at least n.
func (b *ProtoBuilder) MaxStack(n int) *ProtoBuilder {
	b.useRegs(n)
	return b
}

func (b *ProtoBuilder) useRegs(n int) {
	if n > b.p.MaxStack {
		b.p.MaxStack = n
	}
}

// PC returns the index the next instruction will get.
func (b *ProtoBuilder) PC() int {
	return len(b.p.Code)
}

// ---------------------------------------------------------------------------
// Constants, nested functions, upvalues and locals
// ---------------------------------------------------------------------------

// Constant interns v (nil, bool, float64, int, string or a Value) and
// returns its index.
func (b *ProtoBuilder) Constant(v any) int {
	var val Value
	switch v := v.(type) {
	case nil:
	case bool:
		val = Bool(v)
	case int:
		val = Number(v)
	case float64:
		val = Number(v)
	case string:
		val = NewString(v)
	case Value:
		val = v
	default:
		panic(fmt.Sprintf("ProtoBuilder.Constant: unsupported %T", v))
	}
	key := constKey{TypeOf(val), hashKey(val)}
	if idx, ok := b.consts[key]; ok {
		return idx
	}
	idx := len(b.p.Constants)
	b.p.Constants = append(b.p.Constants, val)
	b.consts[key] = idx
	return idx
}

type constKey struct {
	t Type
	v any
}

// K returns the RK operand naming constant v.
func (b *ProtoBuilder) K(v any) int {
	return RKAsK(b.Constant(v))
}

// Proto adds a nested prototype and returns its index for CLOSURE.
func (b *ProtoBuilder) Proto(child *Prototype) int {
	b.p.Protos = append(b.p.Protos, child)
	return len(b.p.Protos) - 1
}

// Upvalue declares an upvalue and returns its index.
func (b *ProtoBuilder) Upvalue(name string, inStack bool, index int) int {
	b.p.Upvalues = append(b.p.Upvalues, UpvalueDesc{Name: name, InStack: inStack, Index: index})
	return len(b.p.Upvalues) - 1
}

// Env declares the conventional _ENV upvalue of a main chunk.
func (b *ProtoBuilder) Env() int {
	return b.Upvalue("_ENV", true, 0)
}

// Local opens a local variable starting at the next instruction. Locals
// occupy registers in the order they are opened.
func (b *ProtoBuilder) Local(name string) *ProtoBuilder {
	b.p.LocVars = append(b.p.LocVars, LocVar{Name: name, StartPC: b.PC(), EndPC: -1})
	b.locals = append(b.locals, len(b.p.LocVars)-1)
	b.useRegs(len(b.locals))
	return b
}

// EndLocals closes the n most recently opened locals at the current pc.
func (b *ProtoBuilder) EndLocals(n int) *ProtoBuilder {
	for ; n > 0 && len(b.locals) > 0; n-- {
		last := b.locals[len(b.locals)-1]
		b.p.LocVars[last].EndPC = b.PC()
		b.locals = b.locals[:len(b.locals)-1]
	}
	return b
}

// ---------------------------------------------------------------------------
// Emitting instructions
// ---------------------------------------------------------------------------

func (b *ProtoBuilder) emit(ins Instruction) int {
	b.p.Code = append(b.p.Code, ins)
	b.p.LineInfo = append(b.p.LineInfo, b.line)
	return len(b.p.Code) - 1
}

func (b *ProtoBuilder) noteRegs(op Opcode, a, bb, c int) {
	info := op.Info()
	if info.Mode != ModeAx && op != OpSETTABUP && op != OpJMP {
		b.useRegs(a + 1)
	}
	if info.Mode == ModeABC {
		if info.B == ArgR || (info.B == ArgK && !IsK(bb)) {
			b.useRegs(bb + 1)
		}
		if info.C == ArgR || (info.C == ArgK && !IsK(c)) {
			b.useRegs(c + 1)
		}
	}
	switch op {
	case OpLOADNIL:
		b.useRegs(a + bb + 1)
	case OpSELF:
		b.useRegs(a + 2)
	case OpCALL:
		b.useRegs(a + max(bb, c, 1))
	case OpTFORCALL:
		b.useRegs(a + 3 + c)
	case OpFORLOOP, OpFORPREP:
		b.useRegs(a + 4)
	case OpVARARG:
		b.useRegs(a + max(bb-1, 1))
	case OpSETLIST:
		b.useRegs(a + bb + 1)
	}
}

// ABC emits an iABC instruction.
func (b *ProtoBuilder) ABC(op Opcode, a, bb, c int) int {
	b.noteRegs(op, a, bb, c)
	return b.emit(CreateABC(op, a, bb, c))
}

// ABx emits an iABx instruction.
func (b *ProtoBuilder) ABx(op Opcode, a, bx int) int {
	b.noteRegs(op, a, 0, 0)
	return b.emit(CreateABx(op, a, bx))
}

// AsBx emits an iAsBx instruction.
func (b *ProtoBuilder) AsBx(op Opcode, a, sbx int) int {
	b.noteRegs(op, a, 0, 0)
	return b.emit(CreateAsBx(op, a, sbx))
}

// Ax emits an iAx instruction.
func (b *ProtoBuilder) Ax(op Opcode, ax int) int {
	return b.emit(CreateAx(op, ax))
}

// LoadK loads constant v into register a, using LOADKX when the index
// does not fit in Bx.
func (b *ProtoBuilder) LoadK(a int, v any) int {
	idx := b.Constant(v)
	if idx <= MaxArgBx {
		return b.ABx(OpLOADK, a, idx)
	}
	pc := b.ABx(OpLOADKX, a, 0)
	b.Ax(OpEXTRAARG, idx)
	return pc
}

// NewTable emits NEWTABLE with encoded size hints.
func (b *ProtoBuilder) NewTable(a, narr, nhash int) int {
	return b.ABC(OpNEWTABLE, a, intToFB(narr), intToFB(nhash))
}

// SetList stores n values following register a into the table in a as
// batch number batch (1-based). n == 0 stores up to the open top.
func (b *ProtoBuilder) SetList(a, n, batch int) int {
	if batch <= MaxArgC {
		return b.ABC(OpSETLIST, a, n, batch)
	}
	pc := b.ABC(OpSETLIST, a, n, 0)
	b.Ax(OpEXTRAARG, batch)
	return pc
}

// Return emits RETURN a b.
func (b *ProtoBuilder) Return(a, n int) int {
	return b.ABC(OpRETURN, a, n, 0)
}

// ---------------------------------------------------------------------------
// Label management for jumps
// ---------------------------------------------------------------------------

// Label is a jump target that may be marked after jumps to it are emitted.
type Label struct {
	resolved bool
	position int   // target pc once resolved
	refs     []int // jump instructions waiting for the target
}

// NewLabel creates an unresolved label.
func (b *ProtoBuilder) NewLabel() *Label {
	return &Label{refs: make([]int, 0, 2)}
}

// Mark resolves a label to the next instruction and patches every jump
// emitted to it so far.
func (b *ProtoBuilder) Mark(label *Label) {
	if label.resolved {
		panic("label already resolved")
	}
	label.resolved = true
	label.position = b.PC()
	for _, ref := range label.refs {
		b.patch(ref, label.position)
	}
	label.refs = nil
}

func (b *ProtoBuilder) patch(pc, target int) {
	ins := b.p.Code[pc]
	b.p.Code[pc] = CreateAsBx(ins.Opcode(), ins.A(), target-(pc+1))
}

// Jump emits an AsBx jump-family instruction (JMP, FORPREP, FORLOOP,
// TFORLOOP) to label. For JMP, a is the upvalue close level (0 for none).
func (b *ProtoBuilder) Jump(op Opcode, a int, label *Label) int {
	pc := b.AsBx(op, a, 0)
	if label.resolved {
		b.patch(pc, label.position)
	} else {
		label.refs = append(label.refs, pc)
	}
	return pc
}

// ---------------------------------------------------------------------------
// Finishing
// ---------------------------------------------------------------------------

// Build closes any open locals, appends a final RETURN 0 1 if the code
// does not already end in RETURN, and returns the prototype.
func (b *ProtoBuilder) Build() *Prototype {
	if n := len(b.p.Code); n == 0 || b.p.Code[n-1].Opcode() != OpRETURN {
		b.Return(0, 1)
	}
	b.EndLocals(len(b.locals))
	return b.p
}
