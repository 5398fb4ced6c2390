package vm

// ---------------------------------------------------------------------------
// Call frames
// ---------------------------------------------------------------------------

// MultRet is the result count meaning "all results".
const MultRet = -1

// callFrame is one function activation on a thread's call stack. Native
// functions get frames too, so that tracebacks and error positions see
// them.
type callFrame struct {
	cl     *Closure
	native *GoFunction

	regs    []Value // register file; grows past MaxStack for open calls
	pc      int     // next instruction
	top     int     // first free register after an open CALL/VARARG
	varargs []Value // extra arguments of a vararg function

	nresults int // results the caller expects, or MultRet
	retBase  int // caller register receiving the first result

	openUpvals []*Upvalue

	entry bool // returns to Go instead of to the frame below
	tail  bool // replaced its caller by a tail call

	oldPC int // last pc reported to the line hook
}

func (fr *callFrame) proto() *Prototype {
	if fr.cl == nil {
		return nil
	}
	return fr.cl.Proto
}

// currentPC returns the pc of the instruction being executed.
func (fr *callFrame) currentPC() int {
	return fr.pc - 1
}

// currentLine returns the source line being executed, or -1 for natives
// and code without line info.
func (fr *callFrame) currentLine() int {
	p := fr.proto()
	if p == nil {
		return -1
	}
	if l := p.LineAt(fr.currentPC()); l > 0 {
		return l
	}
	return -1
}

// ensure grows the register file to hold at least n registers.
func (fr *callFrame) ensure(n int) {
	if n <= len(fr.regs) {
		return
	}
	if n <= cap(fr.regs) {
		fr.regs = fr.regs[:n]
		return
	}
	regs := make([]Value, n, n+n/2)
	copy(regs, fr.regs)
	fr.regs = regs
}

// newLuaFrame builds the activation for calling cl with args.
func newLuaFrame(cl *Closure, args []Value, nresults int) *callFrame {
	p := cl.Proto
	fr := &callFrame{
		cl:       cl,
		regs:     make([]Value, p.MaxStack),
		nresults: nresults,
		oldPC:    -1,
	}
	copy(fr.regs[:p.NumParams], args)
	if p.IsVararg && len(args) > p.NumParams {
		fr.varargs = append([]Value(nil), args[p.NumParams:]...)
	}
	return fr
}

// frameArgs returns the arguments of an open call at register a: either
// the n-1 registers after a, or everything up to top when n is 0.
func (fr *callFrame) frameArgs(a, n int) []Value {
	if n == 0 {
		return fr.regs[a+1 : fr.top]
	}
	return fr.regs[a+1 : a+n]
}

// storeResults copies rets into registers starting at base, padding with
// nil up to want, or setting top past the last result for MultRet.
func (fr *callFrame) storeResults(base int, rets []Value, want int) {
	if want == MultRet {
		fr.ensure(base + len(rets))
		copy(fr.regs[base:], rets)
		fr.top = base + len(rets)
		return
	}
	fr.ensure(base + want)
	n := copy(fr.regs[base:base+want], rets)
	clear(fr.regs[base+n : base+want])
}
