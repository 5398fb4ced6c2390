package vm

import (
	"fmt"
	"strings"
)

// ---------------------------------------------------------------------------
// Source positions
// ---------------------------------------------------------------------------

const maxShortSource = 60

// shortSource renders a chunk name for messages: "@file" names a file,
// "=name" is used literally and anything else is source text.
func shortSource(src string) string {
	switch {
	case strings.HasPrefix(src, "="):
		return truncate(src[1:], maxShortSource)
	case strings.HasPrefix(src, "@"):
		name := src[1:]
		if len(name) > maxShortSource {
			return "..." + name[len(name)-maxShortSource+3:]
		}
		return name
	}
	line, _, multi := strings.Cut(src, "\n")
	const pre, post = `[string "`, `"]`
	room := maxShortSource - len(pre) - len(post) - 3
	if multi || len(line) > room {
		return pre + truncate(line, room) + "..." + post
	}
	return pre + line + post
}

func truncate(s string, n int) string {
	if len(s) > n {
		return s[:n]
	}
	return s
}

// Where returns "source:line: " for the function level frames below the
// running one, or "" if that function is native or has no line info.
func (t *Thread) Where(level int) string {
	i := len(t.frames) - 1 - level
	if i < 0 {
		return ""
	}
	fr := t.frames[i]
	if line := fr.currentLine(); line > 0 {
		return fmt.Sprintf("%s:%d: ", shortSource(fr.cl.Proto.Source), line)
	}
	return ""
}

// ---------------------------------------------------------------------------
// Variable names for error messages
// ---------------------------------------------------------------------------

// typeError raises "attempt to <op> <var> (a <type> value)", naming the
// variable when the failing operand can be traced to one.
func (t *Thread) typeError(v Value, op string) {
	tn := TypeName(v)
	if kind, name := t.varInfo(v); kind != "" {
		t.runtimeError("attempt to %s %s '%s' (a %s value)", op, kind, name, tn)
	}
	t.runtimeError("attempt to %s a %s value", op, tn)
}

func sameValue(a, b Value) bool {
	if sa, ok := a.(*String); ok {
		sb, ok := b.(*String)
		return ok && sa == sb
	}
	return a == b
}

// varInfo finds v among the operands of the instruction being executed
// by the top Lua frame and describes where that operand came from.
func (t *Thread) varInfo(v Value) (kind, name string) {
	fr := t.top()
	if fr == nil || fr.cl == nil {
		return "", ""
	}
	p := fr.cl.Proto
	pc := fr.currentPC()
	if pc < 0 || pc >= len(p.Code) {
		return "", ""
	}
	ins := p.Code[pc]
	upval := func(idx int) (string, string) {
		if idx < len(fr.cl.Upvalues) && sameValue(fr.cl.Upvalues[idx].Get(), v) {
			return "upvalue", p.UpvalueName(idx)
		}
		return "", ""
	}
	reg := func(r int) (string, string, bool) {
		if r < len(fr.regs) && sameValue(fr.regs[r], v) {
			k, n := objectName(p, pc, r)
			return k, n, true
		}
		return "", "", false
	}
	rk := func(x int) (string, string, bool) {
		if IsK(x) {
			return "", "", false
		}
		return reg(x)
	}
	switch ins.Opcode() {
	case OpGETTABUP:
		return upval(ins.B())
	case OpSETTABUP:
		return upval(ins.A())
	case OpGETTABLE, OpSELF, OpUNM, OpLEN:
		k, n, _ := reg(ins.B())
		return k, n
	case OpSETTABLE, OpCALL, OpTAILCALL, OpTFORCALL:
		k, n, _ := reg(ins.A())
		return k, n
	case OpADD, OpSUB, OpMUL, OpDIV, OpMOD, OpPOW:
		if k, n, ok := rk(ins.B()); ok {
			return k, n
		}
		k, n, _ := rk(ins.C())
		return k, n
	case OpCONCAT:
		for r := ins.B(); r <= ins.C(); r++ {
			if k, n, ok := reg(r); ok {
				return k, n
			}
		}
	}
	return "", ""
}

// objectName describes how register reg got its value at lastPC:
// "local", "global", "field", "upvalue", "constant" or "method".
func objectName(p *Prototype, lastPC, reg int) (string, string) {
	if name := p.LocalName(reg+1, lastPC); name != "" {
		return "local", name
	}
	pc := findSetReg(p, lastPC, reg)
	if pc < 0 {
		return "", ""
	}
	ins := p.Code[pc]
	switch ins.Opcode() {
	case OpMOVE:
		if b := ins.B(); b < ins.A() {
			return objectName(p, pc, b)
		}
	case OpGETTABUP, OpGETTABLE:
		key := constantName(p, pc, ins.C())
		var tname string
		if ins.Opcode() == OpGETTABLE {
			tname = p.LocalName(ins.B()+1, pc)
		} else {
			tname = p.UpvalueName(ins.B())
		}
		if tname == "_ENV" {
			return "global", key
		}
		return "field", key
	case OpGETUPVAL:
		return "upvalue", p.UpvalueName(ins.B())
	case OpLOADK, OpLOADKX:
		idx := ins.Bx()
		if ins.Opcode() == OpLOADKX && pc+1 < len(p.Code) {
			idx = p.Code[pc+1].Ax()
		}
		if s, ok := p.Constants[idx].(*String); ok {
			return "constant", s.String()
		}
	case OpSELF:
		return "method", constantName(p, pc, ins.C())
	}
	return "", ""
}

// constantName names an RK operand: the constant string itself, or the
// constant a register was loaded from.
func constantName(p *Prototype, pc, x int) string {
	if IsK(x) {
		if s, ok := p.Constants[IndexK(x)].(*String); ok {
			return s.String()
		}
		return "?"
	}
	if kind, name := objectName(p, pc, x); kind == "constant" {
		return name
	}
	return "?"
}

// findSetReg returns the last instruction before lastPC that writes reg,
// or -1 when that cannot be determined because of a jump.
func findSetReg(p *Prototype, lastPC, reg int) int {
	setReg := -1
	jmpTarget := 0
	for pc := 0; pc < lastPC; pc++ {
		ins := p.Code[pc]
		op := ins.Opcode()
		a := ins.A()
		change := false
		switch op {
		case OpLOADNIL:
			change = a <= reg && reg <= a+ins.B()
		case OpTFORCALL:
			change = reg >= a+2
		case OpCALL, OpTAILCALL:
			change = reg >= a
		case OpJMP:
			dest := pc + 1 + ins.SBx()
			if pc < dest && dest <= lastPC && dest > jmpTarget {
				jmpTarget = dest
			}
		default:
			change = op.Valid() && op.Info().SetsA && reg == a
		}
		if change {
			if pc < jmpTarget {
				setReg = -1
			} else {
				setReg = pc
			}
		}
	}
	return setReg
}

// ---------------------------------------------------------------------------
// Tracebacks
// ---------------------------------------------------------------------------

// Traceback renders the call stack, innermost frame first.
func (t *Thread) Traceback() string {
	var b strings.Builder
	b.WriteString("stack traceback:")
	for i := len(t.frames) - 1; i >= 0; i-- {
		fr := t.frames[i]
		b.WriteString("\n\t")
		if fr.cl == nil {
			name := "?"
			if fr.native != nil && fr.native.Name != "" {
				name = "function '" + fr.native.Name + "'"
			}
			fmt.Fprintf(&b, "[C]: in %s", name)
			continue
		}
		p := fr.cl.Proto
		src := shortSource(p.Source)
		if line := fr.currentLine(); line > 0 {
			fmt.Fprintf(&b, "%s:%d:", src, line)
		} else {
			fmt.Fprintf(&b, "%s:", src)
		}
		if p.LineDefined == 0 {
			b.WriteString(" in main chunk")
		} else {
			fmt.Fprintf(&b, " in function <%s:%d>", src, p.LineDefined)
		}
		if fr.tail {
			b.WriteString("\n\t(...tail calls...)")
		}
	}
	return b.String()
}
