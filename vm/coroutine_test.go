package vm

import (
	"errors"
	"runtime"
	"sync/atomic"
	"testing"
	"time"
)

// doubler is `function(a) local b = yield(a * 2) return b * 10 end`.
func doubler() *Prototype {
	b := NewProtoBuilder("@co.lua").Lines(1, 4).Params(1, false)
	b.Upvalue("_ENV", false, 0)
	b.Line(2).ABC(OpGETTABUP, 1, 0, b.K("yield"))
	b.ABC(OpMUL, 2, 0, b.K(2))
	b.ABC(OpCALL, 1, 2, 2)
	b.Line(3).ABC(OpMUL, 1, 1, b.K(10))
	b.Return(1, 2)
	return b.Build()
}

func TestCoroutineResumeYield(t *testing.T) {
	rt := newTestRuntime(t, Options{})
	fn, err := rt.Load(doubler())
	if err != nil {
		t.Fatal(err)
	}
	main := rt.MainThread()
	co := main.NewCoroutine(fn)
	if co.Status() != StatusSuspended {
		t.Fatalf("new coroutine status = %s", co.Status())
	}

	rets, perr := main.Resume(co, []Value{Number(3)})
	if perr != nil {
		t.Fatalf("first resume: %v", perr)
	}
	checkValues(t, []Value{Number(6)}, rets)
	if co.Status() != StatusSuspended {
		t.Errorf("status after yield = %s", co.Status())
	}

	rets, perr = main.Resume(co, []Value{Number(2)})
	if perr != nil {
		t.Fatalf("second resume: %v", perr)
	}
	checkValues(t, []Value{Number(20)}, rets)
	if co.Status() != StatusDead {
		t.Errorf("status after return = %s", co.Status())
	}

	_, perr = main.Resume(co, nil)
	if perr == nil || !errors.Is(perr, ErrDeadCoroutine) {
		t.Fatalf("resume dead = %v", perr)
	}
	if perr.Error() != "cannot resume dead coroutine" {
		t.Errorf("message = %q", perr.Error())
	}
}

func TestCoroutineFromLua(t *testing.T) {
	// local co = create(doubler)
	// local _, a = resume(co, 3)
	// local _, b = resume(co, 2)
	// return a, b
	b := NewProtoBuilder("@main.lua")
	b.Env()
	b.ABC(OpGETTABUP, 0, 0, b.K("create"))
	b.ABx(OpCLOSURE, 1, b.Proto(doubler()))
	b.ABC(OpCALL, 0, 2, 2)
	for i, arg := range []int{3, 2} {
		b.ABC(OpGETTABUP, 1, 0, b.K("resume"))
		b.ABC(OpMOVE, 2, 0, 0)
		b.LoadK(3, arg)
		b.ABC(OpCALL, 1, 3, 3)
		b.ABC(OpMOVE, 4+i, 2, 0)
	}
	b.Return(4, 3)
	rt := newTestRuntime(t, Options{})
	checkValues(t, []Value{Number(6), Number(20)}, mustRun(t, rt, b.Build()))
}

func TestCoroutineNativeBody(t *testing.T) {
	rt := newTestRuntime(t, Options{})
	main := rt.MainThread()
	body := NewGoFunction("gen", func(t *Thread, args []Value) ([]Value, error) {
		n := args[0].(Number)
		for i := Number(1); i <= n; i++ {
			t.Yield([]Value{i})
		}
		return []Value{str("end")}, nil
	})
	co := main.NewCoroutine(body)
	var got []Value
	for co.Status() != StatusDead {
		rets, perr := main.Resume(co, []Value{Number(3)})
		if perr != nil {
			t.Fatal(perr)
		}
		got = append(got, rets...)
	}
	checkValues(t, []Value{Number(1), Number(2), Number(3), str("end")}, got)
}

func TestResumeRunningCoroutine(t *testing.T) {
	rt := newTestRuntime(t, Options{})
	var inner *Error
	body := NewGoFunction("self", func(t *Thread, _ []Value) ([]Value, error) {
		_, inner = t.Resume(t.Handle(), nil)
		return nil, nil
	})
	co := rt.MainThread().NewCoroutine(body)
	if _, perr := rt.MainThread().Resume(co, nil); perr != nil {
		t.Fatal(perr)
	}
	if inner == nil || !errors.Is(inner, ErrNotSuspended) {
		t.Fatalf("resume self = %v", inner)
	}
	if inner.Error() != "cannot resume non-suspended coroutine" {
		t.Errorf("message = %q", inner.Error())
	}
}

func TestCoroutineNormalStatus(t *testing.T) {
	rt := newTestRuntime(t, Options{})
	main := rt.MainThread()
	var outer *Coroutine
	inner := main.NewCoroutine(NewGoFunction("inner", func(t *Thread, _ []Value) ([]Value, error) {
		return []Value{str(outer.Status().String()), str(t.Handle().Status().String())}, nil
	}))
	outer = main.NewCoroutine(NewGoFunction("outer", func(t *Thread, _ []Value) ([]Value, error) {
		rets, perr := t.Resume(inner, nil)
		if perr != nil {
			return nil, perr
		}
		return rets, nil
	}))
	rets, perr := main.Resume(outer, nil)
	if perr != nil {
		t.Fatal(perr)
	}
	checkValues(t, []Value{str("normal"), str("running")}, rets)
	if main.Status() != StatusRunning {
		t.Errorf("main status = %s", main.Status())
	}
}

func TestYieldOutsideCoroutine(t *testing.T) {
	rt := newTestRuntime(t, Options{})
	_, err := rt.MainThread().Call(rt.Globals().GetString("yield"), Number(1))
	if !errors.Is(err, ErrNoCoroutine) {
		t.Fatalf("got %v", err)
	}
	if err.Error() != "attempt to yield from outside a coroutine" {
		t.Errorf("message = %q", err.Error())
	}
}

func TestCoroutineError(t *testing.T) {
	rt := newTestRuntime(t, Options{})
	tbl := NewTable(0, 0)
	co := rt.MainThread().NewCoroutine(NewGoFunction("fail", func(t *Thread, _ []Value) ([]Value, error) {
		t.Raise(tbl)
		return nil, nil
	}))
	_, perr := rt.MainThread().Resume(co, nil)
	if perr == nil {
		t.Fatal("expected an error")
	}
	if perr.Value != Value(tbl) {
		t.Errorf("error value = %v, want the raised table", perr.Value)
	}
	if perr.Traceback == "" {
		t.Error("no traceback on coroutine error")
	}
	if co.Status() != StatusDead {
		t.Errorf("status = %s", co.Status())
	}
}

func TestCloseCancelsSuspendedCoroutines(t *testing.T) {
	rt := NewRuntime(Options{})
	installTestLib(rt)
	main := rt.MainThread()
	yield := rt.Globals().GetString("yield")

	var unwound, resumed bool
	var caught *Error
	co := main.NewCoroutine(NewGoFunction("body", func(t *Thread, _ []Value) ([]Value, error) {
		defer func() { unwound = true }()
		_, caught = t.PCall(yield, []Value{Number(1)}, nil)
		resumed = true
		return nil, nil
	}))
	rets, perr := main.Resume(co, nil)
	if perr != nil {
		t.Fatal(perr)
	}
	checkValues(t, []Value{Number(1)}, rets)

	never := main.NewCoroutine(yield)

	if err := rt.Close(); err != nil {
		t.Fatal(err)
	}
	if co.Status() != StatusDead || never.Status() != StatusDead {
		t.Errorf("statuses after Close: %s, %s", co.Status(), never.Status())
	}
	if !unwound {
		t.Error("coroutine stack was not unwound")
	}
	if resumed || caught != nil {
		t.Error("cancellation was caught by a protected call")
	}
	if err := rt.Close(); err != nil {
		t.Errorf("second Close: %v", err)
	}
	if _, err := main.Call(yield); !errors.Is(err, ErrRuntimeClosed) {
		t.Errorf("call after Close = %v", err)
	}
}

// spawnSuspended starts a coroutine that yields once and returns only its
// thread, so the Coroutine handle becomes unreachable.
//
//go:noinline
func spawnSuspended(t *testing.T, rt *Runtime, unwound *atomic.Bool) *Thread {
	co := rt.MainThread().NewCoroutine(NewGoFunction("body", func(t *Thread, _ []Value) ([]Value, error) {
		defer unwound.Store(true)
		t.Yield(nil)
		return nil, nil
	}))
	if _, perr := rt.MainThread().Resume(co, nil); perr != nil {
		t.Fatal(perr)
	}
	return co.Thread()
}

func TestUnreachableCoroutineIsCancelled(t *testing.T) {
	rt := newTestRuntime(t, Options{})
	var unwound atomic.Bool
	th := spawnSuspended(t, rt, &unwound)

	deadline := time.Now().Add(5 * time.Second)
	for th.Status() != StatusDead && time.Now().Before(deadline) {
		runtime.GC()
		time.Sleep(10 * time.Millisecond)
	}
	if th.Status() != StatusDead {
		t.Fatal("unreachable suspended coroutine was not cancelled")
	}
	select {
	case <-th.done:
	case <-time.After(5 * time.Second):
		t.Fatal("coroutine goroutine did not exit")
	}
	if !unwound.Load() {
		t.Error("coroutine stack was not unwound")
	}
}

func TestFaultPropagatesThroughResume(t *testing.T) {
	rt := newTestRuntime(t, Options{})
	main := rt.MainThread()
	co := main.NewCoroutine(NewGoFunction("broken", func(*Thread, []Value) ([]Value, error) {
		return nil, &Fault{Msg: "corrupt frame", PC: -1}
	}))
	g := rt.Globals()
	// pcall(resume, co) must not swallow the fault.
	_, err := main.Call(g.GetString("pcall"), g.GetString("resume"), co)
	var f *Fault
	if !errors.As(err, &f) {
		t.Fatalf("got %v (%T), want *Fault", err, err)
	}
	if f.Msg != "corrupt frame" {
		t.Errorf("fault = %q", f.Msg)
	}
	if co.Status() != StatusDead {
		t.Errorf("status = %s", co.Status())
	}
	if main.Depth() != 0 {
		t.Errorf("depth after fault = %d", main.Depth())
	}
}

func TestCoroutineInheritsHook(t *testing.T) {
	var sources []string
	hook := func(t *Thread, ev HookEvent, line int) {
		if info, ok := t.Frame(0); ok && !t.IsMain() {
			sources = append(sources, info.ShortSource)
		}
	}
	rt := newTestRuntime(t, Options{Hook: hook, HookMask: MaskLine})
	fn, err := rt.Load(doubler())
	if err != nil {
		t.Fatal(err)
	}
	co := rt.MainThread().NewCoroutine(fn)
	if _, perr := rt.MainThread().Resume(co, []Value{Number(1)}); perr != nil {
		t.Fatal(perr)
	}
	if len(sources) == 0 || sources[0] != "co.lua" {
		t.Errorf("hook events inside coroutine = %v", sources)
	}
}
