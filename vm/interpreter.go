package vm

import "fmt"

// ---------------------------------------------------------------------------
// Calls from Go
// ---------------------------------------------------------------------------

// call invokes fn with args and returns all of its results. Errors
// propagate as panics; callers that need a Go error use Call or PCall.
func (t *Thread) call(fn Value, args []Value) []Value {
	fn, args = t.resolveCallable(fn, args)
	t.nativeDepth++
	if t.nativeDepth > t.rt.opts.MaxNativeDepth {
		t.raiseRuntime(ErrNativeDepth, 0, ErrNativeDepth.Error())
	}
	var rets []Value
	switch f := fn.(type) {
	case *Closure:
		fr := t.pushLua(f, args, MultRet)
		fr.entry = true
		rets = t.execute()
	case *GoFunction:
		rets = t.callNative(f, args)
	}
	t.nativeDepth--
	return rets
}

// Invoke calls fn from a native function and returns all of its results.
// Errors raised by fn keep propagating to the native's caller.
func (t *Thread) Invoke(fn Value, args ...Value) []Value {
	return t.call(fn, args)
}

// resolveCallable follows __call until fn is a function, prepending the
// callee to the arguments at each step.
func (t *Thread) resolveCallable(fn Value, args []Value) (Value, []Value) {
	for range maxMetaLoop {
		switch fn.(type) {
		case *Closure, *GoFunction:
			return fn, args
		}
		tm := t.rt.MetaField(fn, "__call")
		if tm == nil {
			t.typeError(fn, "call")
		}
		args = append([]Value{fn}, args...)
		fn = tm
	}
	t.runtimeError("'__call' chain too long")
	return nil, nil
}

func (t *Thread) checkStack() {
	if len(t.frames) >= t.rt.opts.MaxCallDepth {
		t.raiseRuntime(ErrCallDepth, 0, ErrCallDepth.Error())
	}
}

// pushLua pushes a frame for calling cl with args.
func (t *Thread) pushLua(cl *Closure, args []Value, nresults int) *callFrame {
	t.checkStack()
	fr := newLuaFrame(cl, args, nresults)
	t.frames = append(t.frames, fr)
	if t.hookMask&MaskCall != 0 {
		t.hookCallEvent(fr)
	}
	return fr
}

// callNative runs a Go function in its own frame.
func (t *Thread) callNative(f *GoFunction, args []Value) []Value {
	t.checkStack()
	fr := &callFrame{native: f, oldPC: -1}
	t.frames = append(t.frames, fr)
	if t.hookMask&MaskCall != 0 {
		t.hookCallEvent(fr)
	}
	rets, err := f.Fn(t, args)
	if err != nil {
		t.errorFromNative(err)
	}
	if t.hookMask&MaskReturn != 0 {
		t.hookReturnEvent()
	}
	t.popFrame()
	return rets
}

func (t *Thread) popFrame() {
	n := len(t.frames) - 1
	t.frames[n] = nil
	t.frames = t.frames[:n]
}

// ---------------------------------------------------------------------------
// Interpreter loop
// ---------------------------------------------------------------------------

// execute runs Lua frames starting at the top frame until the frame
// marked entry returns, and hands back its results. Lua-to-Lua calls and
// returns switch frames inside the loop without Go recursion.
func (t *Thread) execute() []Value {
	var (
		fr   *callFrame
		cl   *Closure
		k    []Value
		code []Instruction
	)
	load := func() {
		fr = t.top()
		cl = fr.cl
		k = cl.Proto.Constants
		code = cl.Proto.Code
	}
	rk := func(x int) Value {
		if IsK(x) {
			return k[IndexK(x)]
		}
		return fr.regs[x]
	}
	// doNextJump performs the JMP that follows a test instruction.
	doNextJump := func() {
		jmp := code[fr.pc]
		if a := jmp.A(); a != 0 {
			fr.closeUpvalues(a - 1)
		}
		fr.pc += jmp.SBx() + 1
	}
	load()

	for {
		if t.hookMask&(MaskLine|MaskCount) != 0 {
			t.traceExec(fr)
		}
		if fr.pc >= len(code) {
			t.fault("pc past end of code")
		}
		ins := code[fr.pc]
		fr.pc++
		a := ins.A()
		regs := fr.regs

		switch op := ins.Opcode(); op {
		case OpMOVE:
			regs[a] = regs[ins.B()]

		case OpLOADK:
			regs[a] = k[ins.Bx()]

		case OpLOADKX:
			extra := code[fr.pc]
			if extra.Opcode() != OpEXTRAARG {
				t.fault("LOADKX without EXTRAARG")
			}
			fr.pc++
			regs[a] = k[extra.Ax()]

		case OpLOADBOOL:
			regs[a] = Bool(ins.B() != 0)
			if ins.C() != 0 {
				fr.pc++
			}

		case OpLOADNIL:
			clear(regs[a : a+ins.B()+1])

		case OpGETUPVAL:
			regs[a] = cl.Upvalues[ins.B()].Get()

		case OpGETTABUP:
			env := t.upvalueForIndex(cl, ins.B())
			regs[a] = t.Index(env, rk(ins.C()))

		case OpGETTABLE:
			regs[a] = t.Index(regs[ins.B()], rk(ins.C()))

		case OpSETTABUP:
			env := t.upvalueForIndex(cl, a)
			t.SetIndex(env, rk(ins.B()), rk(ins.C()))

		case OpSETUPVAL:
			cl.Upvalues[ins.B()].Set(regs[a])

		case OpSETTABLE:
			t.SetIndex(regs[a], rk(ins.B()), rk(ins.C()))

		case OpNEWTABLE:
			regs[a] = NewTable(fbToInt(ins.B()), fbToInt(ins.C()))

		case OpSELF:
			obj := regs[ins.B()]
			regs[a+1] = obj
			regs[a] = t.Index(obj, rk(ins.C()))

		case OpADD, OpSUB, OpMUL, OpDIV, OpMOD, OpPOW:
			b, c := rk(ins.B()), rk(ins.C())
			if x, ok := b.(Number); ok {
				if y, ok := c.(Number); ok {
					regs[a] = Number(arithNumbers(op, float64(x), float64(y)))
					continue
				}
			}
			fr.regs[a] = t.Arith(op, b, c)

		case OpUNM:
			b := regs[ins.B()]
			if x, ok := b.(Number); ok {
				regs[a] = -x
				continue
			}
			fr.regs[a] = t.Arith(OpUNM, b, nil)

		case OpNOT:
			regs[a] = Bool(!Truthy(regs[ins.B()]))

		case OpLEN:
			fr.regs[a] = t.Len(regs[ins.B()])

		case OpCONCAT:
			b, c := ins.B(), ins.C()
			vals := append([]Value(nil), regs[b:c+1]...)
			fr.regs[a] = t.Concat(vals)

		case OpJMP:
			if a != 0 {
				fr.closeUpvalues(a - 1)
			}
			fr.pc += ins.SBx()

		case OpEQ, OpLT, OpLE:
			b, c := rk(ins.B()), rk(ins.C())
			var res bool
			switch op {
			case OpEQ:
				res = t.Equal(b, c)
			case OpLT:
				res = t.LessThan(b, c)
			default:
				res = t.LessEqual(b, c)
			}
			if res != (a != 0) {
				fr.pc++
			} else {
				doNextJump()
			}

		case OpTEST:
			if Truthy(regs[a]) != (ins.C() != 0) {
				fr.pc++
			} else {
				doNextJump()
			}

		case OpTESTSET:
			b := regs[ins.B()]
			if Truthy(b) != (ins.C() != 0) {
				fr.pc++
			} else {
				regs[a] = b
				doNextJump()
			}

		case OpCALL:
			fn, args := t.resolveCallable(regs[a], fr.frameArgs(a, ins.B()))
			nresults := ins.C() - 1
			switch f := fn.(type) {
			case *Closure:
				callee := t.pushLua(f, args, nresults)
				callee.retBase = a
				load()
			case *GoFunction:
				rets := t.callNative(f, append([]Value(nil), args...))
				fr.storeResults(a, rets, nresults)
			}

		case OpTAILCALL:
			fn, args := t.resolveCallable(regs[a], fr.frameArgs(a, ins.B()))
			switch f := fn.(type) {
			case *Closure:
				fr.closeUpvalues(0)
				callee := newLuaFrame(f, args, fr.nresults)
				callee.retBase = fr.retBase
				callee.entry = fr.entry
				callee.tail = true
				t.frames[len(t.frames)-1] = callee
				if t.hookMask&MaskCall != 0 {
					t.hookCallEvent(callee)
				}
				load()
			case *GoFunction:
				// The RETURN that follows returns these results.
				rets := t.callNative(f, append([]Value(nil), args...))
				fr.storeResults(a, rets, MultRet)
			}

		case OpRETURN:
			var rets []Value
			if b := ins.B(); b == 0 {
				rets = regs[a:fr.top]
			} else {
				rets = regs[a : a+b-1]
			}
			fr.closeUpvalues(0)
			if t.hookMask&MaskReturn != 0 {
				t.hookReturnEvent()
			}
			t.popFrame()
			if fr.entry {
				return rets
			}
			caller := t.top()
			caller.storeResults(fr.retBase, rets, fr.nresults)
			load()

		case OpFORPREP:
			init, ok1 := ToNumber(regs[a])
			limit, ok2 := ToNumber(regs[a+1])
			step, ok3 := ToNumber(regs[a+2])
			switch {
			case !ok1:
				t.runtimeError("'for' initial value must be a number")
			case !ok2:
				t.runtimeError("'for' limit must be a number")
			case !ok3:
				t.runtimeError("'for' step must be a number")
			}
			regs[a] = Number(init - step)
			regs[a+1] = Number(limit)
			regs[a+2] = Number(step)
			fr.pc += ins.SBx()

		case OpFORLOOP:
			step := regs[a+2].(Number)
			idx := regs[a].(Number) + step
			limit := regs[a+1].(Number)
			if (step > 0 && idx <= limit) || (step <= 0 && limit <= idx) {
				fr.pc += ins.SBx()
				regs[a] = idx
				regs[a+3] = idx
			}

		case OpTFORCALL:
			rets := t.call(regs[a], []Value{regs[a+1], regs[a+2]})
			fr.storeResults(a+3, rets, ins.C())

		case OpTFORLOOP:
			if v := regs[a+1]; v != nil {
				regs[a] = v
				fr.pc += ins.SBx()
			}

		case OpSETLIST:
			n, c := ins.B(), ins.C()
			if n == 0 {
				n = fr.top - a - 1
			}
			if c == 0 {
				extra := code[fr.pc]
				if extra.Opcode() != OpEXTRAARG {
					t.fault("SETLIST without EXTRAARG")
				}
				fr.pc++
				c = extra.Ax()
			}
			tbl, ok := regs[a].(*Table)
			if !ok {
				t.fault("SETLIST target is not a table")
			}
			base := (c - 1) * FieldsPerFlush
			for i := 1; i <= n; i++ {
				tbl.SetInt(base+i, fr.regs[a+i])
			}

		case OpCLOSURE:
			regs[a] = t.newClosure(fr, cl.Proto.Protos[ins.Bx()])

		case OpVARARG:
			want := ins.B() - 1
			n := len(fr.varargs)
			if want < 0 {
				want = n
				fr.top = a + n
			}
			fr.ensure(a + want)
			regs = fr.regs
			for j := 0; j < want; j++ {
				if j < n {
					regs[a+j] = fr.varargs[j]
				} else {
					regs[a+j] = nil
				}
			}

		case OpEXTRAARG:
			t.fault("unexpected EXTRAARG")

		default:
			t.fault(fmt.Sprintf("unknown opcode %d", op))
		}
	}
}

// upvalueForIndex returns the value of upvalue idx, raising a runtime
// error if the closure has no such upvalue.
func (t *Thread) upvalueForIndex(cl *Closure, idx int) Value {
	if idx >= len(cl.Upvalues) {
		t.runtimeError("attempt to index upvalue #%d (function has %d upvalues)", idx, len(cl.Upvalues))
	}
	return cl.Upvalues[idx].Get()
}

// newClosure instantiates p inside frame fr. Upvalues captured from fr's
// registers are shared with any other closure that captured the same
// register; the rest are inherited from the running closure.
func (t *Thread) newClosure(fr *callFrame, p *Prototype) *Closure {
	ncl := &Closure{Proto: p, Upvalues: make([]*Upvalue, len(p.Upvalues))}
	for i, uv := range p.Upvalues {
		if uv.InStack {
			ncl.Upvalues[i] = fr.findUpvalue(uv.Index)
		} else {
			ncl.Upvalues[i] = fr.cl.Upvalues[uv.Index]
		}
	}
	return ncl
}
