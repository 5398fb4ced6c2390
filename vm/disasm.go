package vm

import (
	"fmt"
	"strconv"
	"strings"
)

// ---------------------------------------------------------------------------
// Disassembler
// ---------------------------------------------------------------------------

// Disassemble returns a luac-style listing of p and, recursively, its
// nested prototypes. With full set it also lists constants, locals and
// upvalues.
func Disassemble(p *Prototype, full bool) string {
	var b strings.Builder
	disassemble(&b, p, full)
	return b.String()
}

func disassemble(b *strings.Builder, p *Prototype, full bool) {
	src := shortSource(p.Source)
	kind := "function"
	if p.LineDefined == 0 {
		kind = "main"
	}
	fmt.Fprintf(b, "\n%s <%s:%d,%d> (%d instruction%s)\n",
		kind, src, p.LineDefined, p.LastLineDefined, len(p.Code), plural(len(p.Code)))
	vararg := ""
	if p.IsVararg {
		vararg = "+"
	}
	fmt.Fprintf(b, "%d%s param%s, %d slot%s, %d upvalue%s, %d local%s, %d constant%s, %d function%s\n",
		p.NumParams, vararg, plural(p.NumParams),
		p.MaxStack, plural(p.MaxStack),
		len(p.Upvalues), plural(len(p.Upvalues)),
		len(p.LocVars), plural(len(p.LocVars)),
		len(p.Constants), plural(len(p.Constants)),
		len(p.Protos), plural(len(p.Protos)))
	for pc := range p.Code {
		b.WriteString(DisassembleInstruction(p, pc))
		b.WriteByte('\n')
	}
	if full {
		fmt.Fprintf(b, "constants (%d):\n", len(p.Constants))
		for i, k := range p.Constants {
			fmt.Fprintf(b, "\t%d\t%s\n", i+1, constantString(k))
		}
		fmt.Fprintf(b, "locals (%d):\n", len(p.LocVars))
		for i, lv := range p.LocVars {
			fmt.Fprintf(b, "\t%d\t%s\t%d\t%d\n", i, lv.Name, lv.StartPC+1, lv.EndPC+1)
		}
		fmt.Fprintf(b, "upvalues (%d):\n", len(p.Upvalues))
		for i, uv := range p.Upvalues {
			instack := 0
			if uv.InStack {
				instack = 1
			}
			fmt.Fprintf(b, "\t%d\t%s\t%d\t%d\n", i, uv.Name, instack, uv.Index)
		}
	}
	for _, child := range p.Protos {
		disassemble(b, child, full)
	}
}

func plural(n int) string {
	if n == 1 {
		return ""
	}
	return "s"
}

// DisassembleInstruction renders the instruction at pc as one listing
// line: 1-based index, source line, opcode, operands and a comment
// resolving constants, upvalue names and jump targets.
func DisassembleInstruction(p *Prototype, pc int) string {
	ins := p.Code[pc]
	op := ins.Opcode()
	info := op.Info()
	a, bb, c := ins.A(), ins.B(), ins.C()
	bx, sbx := ins.Bx(), ins.SBx()

	line := "-"
	if l := p.LineAt(pc); l > 0 {
		line = strconv.Itoa(l)
	}

	rkArg := func(x int) int {
		if IsK(x) {
			return -1 - IndexK(x)
		}
		return x
	}
	var operands string
	switch info.Mode {
	case ModeABC:
		operands = strconv.Itoa(a)
		if info.B != ArgN {
			operands += " " + strconv.Itoa(rkArg(bb))
		}
		if info.C != ArgN {
			operands += " " + strconv.Itoa(rkArg(c))
		}
	case ModeABx:
		operands = strconv.Itoa(a)
		if info.B == ArgK {
			operands += " " + strconv.Itoa(-1-bx)
		} else if info.B != ArgN {
			operands += " " + strconv.Itoa(bx)
		}
	case ModeAsBx:
		operands = fmt.Sprintf("%d %d", a, sbx)
	case ModeAx:
		operands = strconv.Itoa(ins.Ax())
	}

	konst := func(idx int) string {
		if idx < 0 || idx >= len(p.Constants) {
			return "?"
		}
		return constantString(p.Constants[idx])
	}
	rkComment := func(x int) string {
		if IsK(x) {
			return konst(IndexK(x))
		}
		return "-"
	}

	var comment string
	switch op {
	case OpLOADK:
		comment = konst(bx)
	case OpGETUPVAL, OpSETUPVAL:
		comment = p.UpvalueName(bb)
	case OpGETTABUP:
		comment = p.UpvalueName(bb)
		if IsK(c) {
			comment += " " + konst(IndexK(c))
		}
	case OpSETTABUP:
		comment = p.UpvalueName(a)
		if IsK(bb) || IsK(c) {
			comment += " " + rkComment(bb) + " " + rkComment(c)
		}
	case OpGETTABLE, OpSELF:
		if IsK(c) {
			comment = konst(IndexK(c))
		}
	case OpSETTABLE, OpADD, OpSUB, OpMUL, OpDIV, OpMOD, OpPOW, OpEQ, OpLT, OpLE:
		if IsK(bb) || IsK(c) {
			comment = rkComment(bb) + " " + rkComment(c)
		}
	case OpJMP, OpFORLOOP, OpFORPREP, OpTFORLOOP:
		comment = "to " + strconv.Itoa(pc+sbx+2)
	case OpCLOSURE:
		if bx < len(p.Protos) {
			child := p.Protos[bx]
			comment = fmt.Sprintf("function <%s:%d>", shortSource(child.Source), child.LineDefined)
		}
	case OpSETLIST:
		if c == 0 && pc+1 < len(p.Code) {
			comment = strconv.Itoa(p.Code[pc+1].Ax())
		} else {
			comment = strconv.Itoa(c)
		}
	case OpEXTRAARG:
		if pc > 0 && p.Code[pc-1].Opcode() == OpLOADKX {
			comment = konst(ins.Ax())
		}
	}

	out := fmt.Sprintf("\t%d\t[%s]\t%-9s\t%s", pc+1, line, info.Name, operands)
	if comment != "" {
		out += "\t; " + comment
	}
	return out
}

// constantString renders a constant the way listings show it: strings
// quoted and escaped, numbers in %.14g.
func constantString(v Value) string {
	if s, ok := v.(*String); ok {
		return quoteString(s.String())
	}
	return FormatValue(v)
}

func quoteString(s string) string {
	var b strings.Builder
	b.WriteByte('"')
	for i := 0; i < len(s); i++ {
		switch c := s[i]; c {
		case '"':
			b.WriteString(`\"`)
		case '\\':
			b.WriteString(`\\`)
		case '\a':
			b.WriteString(`\a`)
		case '\b':
			b.WriteString(`\b`)
		case '\f':
			b.WriteString(`\f`)
		case '\n':
			b.WriteString(`\n`)
		case '\r':
			b.WriteString(`\r`)
		case '\t':
			b.WriteString(`\t`)
		case '\v':
			b.WriteString(`\v`)
		default:
			if c < 0x20 || c == 0x7f {
				fmt.Fprintf(&b, `\%03d`, c)
			} else {
				b.WriteByte(c)
			}
		}
	}
	b.WriteByte('"')
	return b.String()
}
