package vm

import (
	"errors"
	"strings"
	"testing"
)

// countdown returns a chunk defining the global function
//
//	function loop(n) if n == 0 then return "done" end return loop(n - 1) end
//
// and calling it with n. With tail set the recursive call is a TAILCALL,
// otherwise a CALL followed by RETURN.
func countdown(n int, tail bool) *Prototype {
	fn := NewProtoBuilder("@loop.lua").Lines(1, 5).Params(1, false)
	fn.Upvalue("_ENV", false, 0)
	done := fn.NewLabel()
	fn.Line(2).ABC(OpEQ, 1, 0, fn.K(0))
	fn.Jump(OpJMP, 0, done)
	fn.Line(3).ABC(OpGETTABUP, 1, 0, fn.K("loop"))
	fn.ABC(OpSUB, 2, 0, fn.K(1))
	if tail {
		fn.ABC(OpTAILCALL, 1, 2, 0)
	} else {
		fn.ABC(OpCALL, 1, 2, 0)
	}
	fn.Return(1, 0)
	fn.Mark(done)
	fn.Line(2).LoadK(1, "done")
	fn.Return(1, 2)

	b := NewProtoBuilder("@loop.lua")
	b.Env()
	b.Line(1).ABx(OpCLOSURE, 0, b.Proto(fn.Build()))
	b.ABC(OpSETTABUP, 0, b.K("loop"), 0)
	b.Line(6).ABC(OpGETTABUP, 0, 0, b.K("loop"))
	b.LoadK(1, n)
	b.ABC(OpCALL, 0, 2, 0)
	b.Return(0, 0)
	return b.Build()
}

func TestTailCallsRunInConstantStack(t *testing.T) {
	rt := newTestRuntime(t, Options{})
	depth := DefaultMaxCallDepth + 50000
	checkValues(t, []Value{str("done")}, mustRun(t, rt, countdown(depth, true)))
}

func TestRecursionOverflow(t *testing.T) {
	rt := newTestRuntime(t, Options{MaxCallDepth: 1000})
	checkValues(t, []Value{str("done")}, mustRun(t, rt, countdown(500, false)))

	_, err := rt.Run(countdown(5000, false))
	if !errors.Is(err, ErrCallDepth) {
		t.Fatalf("got %v, want stack overflow", err)
	}
	if !strings.HasSuffix(err.Error(), "stack overflow") {
		t.Errorf("message = %q", err.Error())
	}
	if rt.MainThread().Depth() != 0 {
		t.Errorf("depth after error = %d", rt.MainThread().Depth())
	}

	// The thread is usable again after the overflow.
	checkValues(t, []Value{str("done")}, mustRun(t, rt, countdown(10, false)))
}

func TestTailCallTraceback(t *testing.T) {
	// function f() error("deep") end
	// function g() return f() end
	// g()
	f := NewProtoBuilder("@tail.lua").Lines(1, 1)
	f.Upvalue("_ENV", false, 0)
	f.Line(1).ABC(OpGETTABUP, 0, 0, f.K("error"))
	f.LoadK(1, "deep")
	f.ABC(OpCALL, 0, 2, 1)

	g := NewProtoBuilder("@tail.lua").Lines(2, 2)
	g.Upvalue("_ENV", false, 0)
	g.Upvalue("f", true, 0)
	g.Line(2).ABC(OpGETUPVAL, 0, 1, 0)
	g.ABC(OpTAILCALL, 0, 1, 0)
	g.Return(0, 0)

	b := NewProtoBuilder("@tail.lua")
	b.Env()
	b.Line(3)
	b.ABx(OpCLOSURE, 0, b.Proto(f.Build()))
	b.Local("f")
	b.ABx(OpCLOSURE, 1, b.Proto(g.Build()))
	b.ABC(OpCALL, 1, 1, 1)

	rt := newTestRuntime(t, Options{})
	_, err := rt.Run(b.Build())
	var le *Error
	if !errors.As(err, &le) {
		t.Fatalf("got %v, want *Error", err)
	}
	if le.Error() != "tail.lua:1: deep" {
		t.Errorf("message = %q", le.Error())
	}
	for _, want := range []string{
		"[C]: in function 'error'",
		"tail.lua:1: in function <tail.lua:1>",
		"(...tail calls...)",
		"tail.lua:3: in main chunk",
	} {
		if !strings.Contains(le.Traceback, want) {
			t.Errorf("traceback missing %q:\n%s", want, le.Traceback)
		}
	}
}

func TestNativeReentryOverflow(t *testing.T) {
	rt := newTestRuntime(t, Options{})
	var reenter *GoFunction
	reenter = NewGoFunction("reenter", func(t *Thread, _ []Value) ([]Value, error) {
		return t.Invoke(reenter), nil
	})
	_, err := rt.MainThread().Call(reenter)
	if !errors.Is(err, ErrNativeDepth) {
		t.Fatalf("got %v, want C stack overflow", err)
	}
	if err.Error() != "C stack overflow" {
		t.Errorf("message = %q", err.Error())
	}

	rets, err := rt.MainThread().Call(NewGoFunction("ok", func(*Thread, []Value) ([]Value, error) {
		return []Value{True}, nil
	}))
	if err != nil || rets[0] != True {
		t.Fatalf("call after overflow = %v, %v", rets, err)
	}
}

func TestNativeDepthOption(t *testing.T) {
	rt := newTestRuntime(t, Options{MaxNativeDepth: 5})
	depth := 0
	var reenter *GoFunction
	reenter = NewGoFunction("reenter", func(t *Thread, _ []Value) ([]Value, error) {
		depth++
		return t.Invoke(reenter), nil
	})
	if _, err := rt.MainThread().Call(reenter); !errors.Is(err, ErrNativeDepth) {
		t.Fatalf("got %v", err)
	}
	if depth != 5 {
		t.Errorf("native function entered %d times, want 5", depth)
	}
}
