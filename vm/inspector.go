package vm

import "fmt"

// ---------------------------------------------------------------------------
// Frame snapshots for debuggers and introspection
// ---------------------------------------------------------------------------

// FrameInfo describes one active function on a thread's call stack.
type FrameInfo struct {
	Level       int    // 0 is the running function
	Function    Value  // *Closure or *GoFunction
	What        string // "main", "Lua" or "Go"
	Name        string // native function name, if any
	Source      string
	ShortSource string
	CurrentLine int // -1 when unknown
	LineDefined int
	TailCall    bool
}

// Variable is a named value visible in a frame.
type Variable struct {
	Name     string
	Value    Value
	Register int // register slot for locals, upvalue index otherwise
}

func (t *Thread) frameAt(level int) *callFrame {
	i := len(t.frames) - 1 - level
	if level < 0 || i < 0 {
		return nil
	}
	return t.frames[i]
}

// Frame returns a snapshot of the function running at level.
func (t *Thread) Frame(level int) (FrameInfo, bool) {
	fr := t.frameAt(level)
	if fr == nil {
		return FrameInfo{}, false
	}
	info := FrameInfo{Level: level, CurrentLine: -1, TailCall: fr.tail}
	if fr.cl == nil {
		info.Function = fr.native
		info.What = "Go"
		info.Source = "=[C]"
		info.ShortSource = "[C]"
		if fr.native != nil {
			info.Name = fr.native.Name
		}
		return info, true
	}
	p := fr.cl.Proto
	info.Function = fr.cl
	info.What = "Lua"
	if p.LineDefined == 0 {
		info.What = "main"
	}
	info.Source = p.Source
	info.ShortSource = shortSource(p.Source)
	info.CurrentLine = fr.currentLine()
	info.LineDefined = p.LineDefined
	return info, true
}

// CallStack returns snapshots of every active frame, innermost first.
func (t *Thread) CallStack() []FrameInfo {
	stack := make([]FrameInfo, 0, len(t.frames))
	for level := range len(t.frames) {
		info, _ := t.Frame(level)
		stack = append(stack, info)
	}
	return stack
}

// Locals returns the named local variables active in the frame at level,
// in register order.
func (t *Thread) Locals(level int) []Variable {
	fr := t.frameAt(level)
	if fr == nil || fr.cl == nil {
		return nil
	}
	p := fr.cl.Proto
	pc := fr.currentPC()
	if pc < 0 {
		pc = 0
	}
	var vars []Variable
	for n := 1; ; n++ {
		name := p.LocalName(n, pc)
		if name == "" {
			break
		}
		reg := n - 1
		var v Value
		if reg < len(fr.regs) {
			v = fr.regs[reg]
		}
		vars = append(vars, Variable{Name: name, Value: v, Register: reg})
	}
	return vars
}

// SetLocal assigns the n-th (1-based) active local of the frame at level
// and returns its name, or "" if there is no such local.
func (t *Thread) SetLocal(level, n int, v Value) string {
	fr := t.frameAt(level)
	if fr == nil || fr.cl == nil {
		return ""
	}
	name := fr.cl.Proto.LocalName(n, max(fr.currentPC(), 0))
	if name != "" {
		fr.regs[n-1] = v
	}
	return name
}

// Upvalues returns the upvalues of the function running at level.
func (t *Thread) Upvalues(level int) []Variable {
	fr := t.frameAt(level)
	if fr == nil || fr.cl == nil {
		return nil
	}
	vars := make([]Variable, len(fr.cl.Upvalues))
	for i, u := range fr.cl.Upvalues {
		vars[i] = Variable{Name: fr.cl.Proto.UpvalueName(i), Value: u.Get(), Register: i}
	}
	return vars
}

// ---------------------------------------------------------------------------
// Value display
// ---------------------------------------------------------------------------

// FormatValue renders v the way tostring does without metamethods.
func FormatValue(v Value) string {
	switch v := v.(type) {
	case nil:
		return "nil"
	case Bool:
		if v {
			return "true"
		}
		return "false"
	case Number:
		return FormatNumber(float64(v))
	case *String:
		return v.String()
	case *Table:
		return fmt.Sprintf("table: %p", v)
	case *Closure:
		return fmt.Sprintf("function: %p", v)
	case *GoFunction:
		if v.Name != "" {
			return fmt.Sprintf("function: builtin: %s", v.Name)
		}
		return fmt.Sprintf("function: builtin: %p", v)
	case *Userdata:
		return fmt.Sprintf("userdata: %p", v)
	case LightUserdata:
		return fmt.Sprintf("userdata: 0x%x", uintptr(v))
	case *Coroutine:
		return fmt.Sprintf("thread: %p", v)
	}
	return fmt.Sprintf("%s: %v", TypeName(v), v)
}
