package vm

import "fmt"

// ---------------------------------------------------------------------------
// Prototype: compiled function
// ---------------------------------------------------------------------------

// UpvalueDesc says where a closure finds one of its upvalues when it is
// instantiated: a register of the enclosing frame (InStack) or an upvalue
// of the enclosing closure.
type UpvalueDesc struct {
	Name    string
	InStack bool
	Index   int
}

// LocVar is the live range of a local variable. The variable occupies the
// next free register while StartPC <= pc < EndPC.
type LocVar struct {
	Name    string
	StartPC int
	EndPC   int
}

// Prototype is an immutable compiled function.
type Prototype struct {
	Code      []Instruction
	Constants []Value // nil, Bool, Number or *String
	Protos    []*Prototype
	Upvalues  []UpvalueDesc

	MaxStack  int
	NumParams int
	IsVararg  bool

	// Debug information
	Source          string
	LineDefined     int
	LastLineDefined int
	LineInfo        []int32 // line of each instruction; may be empty
	LocVars         []LocVar
}

// LineAt returns the source line of the instruction at pc, or 0 if unknown.
func (p *Prototype) LineAt(pc int) int {
	if pc < 0 || pc >= len(p.LineInfo) {
		return 0
	}
	return int(p.LineInfo[pc])
}

// LocalName returns the name of the n-th (1-based) local variable active
// at pc, or "" if there is none.
func (p *Prototype) LocalName(n, pc int) string {
	for _, lv := range p.LocVars {
		if lv.StartPC > pc {
			break
		}
		if pc < lv.EndPC {
			n--
			if n == 0 {
				return lv.Name
			}
		}
	}
	return ""
}

// UpvalueName returns the debug name of upvalue i, or "?".
func (p *Prototype) UpvalueName(i int) string {
	if i < 0 || i >= len(p.Upvalues) || p.Upvalues[i].Name == "" {
		return "?"
	}
	return p.Upvalues[i].Name
}

// Validate checks the structural invariants the interpreter relies on:
// defined opcodes, register and constant operands in range, jump targets
// inside the code, and continuation words where required. It walks nested
// prototypes too.
func (p *Prototype) Validate() error {
	if p.MaxStack < 2 || p.MaxStack > MaxArgA+1 {
		return fmt.Errorf("%s: invalid register file size %d", p.name(), p.MaxStack)
	}
	if p.NumParams > p.MaxStack {
		return fmt.Errorf("%s: %d parameters exceed %d registers", p.name(), p.NumParams, p.MaxStack)
	}
	if len(p.Code) == 0 {
		return fmt.Errorf("%s: empty code", p.name())
	}
	if last := p.Code[len(p.Code)-1].Opcode(); last != OpRETURN {
		return fmt.Errorf("%s: code does not end in RETURN", p.name())
	}
	for pc, ins := range p.Code {
		if err := p.validateAt(pc, ins); err != nil {
			return fmt.Errorf("%s: pc %d: %w", p.name(), pc, err)
		}
	}
	for i, c := range p.Constants {
		switch c.(type) {
		case nil, Bool, Number, *String:
		default:
			return fmt.Errorf("%s: constant %d has type %s", p.name(), i, TypeName(c))
		}
	}
	for _, child := range p.Protos {
		if err := child.Validate(); err != nil {
			return err
		}
	}
	return nil
}

func (p *Prototype) validateAt(pc int, ins Instruction) error {
	op := ins.Opcode()
	if !op.Valid() {
		return fmt.Errorf("unknown opcode %d", op)
	}
	info := op.Info()
	if info.Mode != ModeAx && ins.A() >= p.MaxStack && !writesNoRegisterA(op) {
		return fmt.Errorf("%s: register %d out of range", info.Name, ins.A())
	}
	checkRK := func(x int) error {
		if IsK(x) {
			if IndexK(x) >= len(p.Constants) {
				return fmt.Errorf("%s: constant %d out of range", info.Name, IndexK(x))
			}
		} else if x >= p.MaxStack {
			return fmt.Errorf("%s: register %d out of range", info.Name, x)
		}
		return nil
	}
	needExtra := false
	switch op {
	case OpLOADK:
		if ins.Bx() >= len(p.Constants) {
			return fmt.Errorf("LOADK: constant %d out of range", ins.Bx())
		}
	case OpLOADKX:
		needExtra = true
	case OpGETUPVAL, OpSETUPVAL:
		if ins.B() >= len(p.Upvalues) {
			return fmt.Errorf("%s: upvalue %d out of range", info.Name, ins.B())
		}
	case OpGETTABUP:
		if ins.B() >= len(p.Upvalues) {
			return fmt.Errorf("GETTABUP: upvalue %d out of range", ins.B())
		}
		if err := checkRK(ins.C()); err != nil {
			return err
		}
	case OpSETTABUP:
		if ins.A() >= len(p.Upvalues) {
			return fmt.Errorf("SETTABUP: upvalue %d out of range", ins.A())
		}
		if err := checkRK(ins.B()); err != nil {
			return err
		}
		if err := checkRK(ins.C()); err != nil {
			return err
		}
	case OpGETTABLE, OpSELF:
		if err := checkRK(ins.C()); err != nil {
			return err
		}
	case OpSETTABLE, OpADD, OpSUB, OpMUL, OpDIV, OpMOD, OpPOW, OpEQ, OpLT, OpLE:
		if err := checkRK(ins.B()); err != nil {
			return err
		}
		if err := checkRK(ins.C()); err != nil {
			return err
		}
	case OpCONCAT:
		if ins.B() >= ins.C() || ins.C() >= p.MaxStack {
			return fmt.Errorf("CONCAT: bad register range %d..%d", ins.B(), ins.C())
		}
	case OpJMP, OpFORLOOP, OpFORPREP, OpTFORLOOP:
		if t := pc + 1 + ins.SBx(); t < 0 || t >= len(p.Code) {
			return fmt.Errorf("%s: jump target %d out of range", info.Name, t)
		}
	case OpTFORCALL:
		if pc+1 >= len(p.Code) || p.Code[pc+1].Opcode() != OpTFORLOOP {
			return fmt.Errorf("TFORCALL not followed by TFORLOOP")
		}
	case OpSETLIST:
		needExtra = ins.C() == 0
	case OpCLOSURE:
		if ins.Bx() >= len(p.Protos) {
			return fmt.Errorf("CLOSURE: prototype %d out of range", ins.Bx())
		}
	case OpEXTRAARG:
		if pc == 0 {
			return fmt.Errorf("EXTRAARG without a preceding instruction")
		}
		prev := p.Code[pc-1]
		if prev.Opcode() != OpLOADKX && !(prev.Opcode() == OpSETLIST && prev.C() == 0) {
			return fmt.Errorf("stray EXTRAARG")
		}
		if prev.Opcode() == OpLOADKX && ins.Ax() >= len(p.Constants) {
			return fmt.Errorf("LOADKX: constant %d out of range", ins.Ax())
		}
	}
	if info.Test {
		if pc+1 >= len(p.Code) || p.Code[pc+1].Opcode() != OpJMP {
			return fmt.Errorf("%s not followed by JMP", info.Name)
		}
	}
	if needExtra {
		if pc+1 >= len(p.Code) || p.Code[pc+1].Opcode() != OpEXTRAARG {
			return fmt.Errorf("%s missing EXTRAARG", info.Name)
		}
	}
	return nil
}

// writesNoRegisterA lists the ABC-family opcodes whose A field is not a
// register index.
func writesNoRegisterA(op Opcode) bool {
	switch op {
	case OpSETTABUP, OpJMP:
		return true
	}
	return false
}

func (p *Prototype) name() string {
	if p.Source == "" {
		return "?"
	}
	return fmt.Sprintf("%s:%d", shortSource(p.Source), p.LineDefined)
}
