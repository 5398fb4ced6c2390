package vm

import (
	"errors"
	"fmt"
	"runtime"
)

// ---------------------------------------------------------------------------
// Error kinds
// ---------------------------------------------------------------------------

// ErrorKind distinguishes values raised by scripts from errors the VM
// formats itself.
type ErrorKind int

const (
	ScriptError  ErrorKind = iota // raised by error() with an arbitrary value
	RuntimeError                  // rejected operation, formatted by the VM
)

func (k ErrorKind) String() string {
	if k == ScriptError {
		return "script error"
	}
	return "runtime error"
}

// Sentinel causes, matched with errors.Is.
var (
	ErrNotSuspended  = errors.New("cannot resume non-suspended coroutine")
	ErrDeadCoroutine = errors.New("cannot resume dead coroutine")
	ErrNoCoroutine   = errors.New("attempt to yield from outside a coroutine")
	ErrCallDepth     = errors.New("stack overflow")
	ErrNativeDepth   = errors.New("C stack overflow")
	ErrRuntimeClosed = errors.New("runtime is closed")
)

// Error is a catchable Lua error. Protected calls turn it into a
// (false, Value) result.
type Error struct {
	Kind      ErrorKind
	Value     Value  // the raised value; a string for runtime errors
	Traceback string // filled in when the error reaches the host
	Cause     error  // optional underlying cause
}

func (e *Error) Error() string {
	switch v := e.Value.(type) {
	case *String:
		return v.String()
	case Number:
		return FormatNumber(float64(v))
	case nil:
		return "nil"
	}
	return fmt.Sprintf("(error object is a %s value)", TypeName(e.Value))
}

func (e *Error) Unwrap() error { return e.Cause }

// Fault is an internal VM fault: malformed bytecode or a broken
// interpreter invariant. Protected calls never catch it; it kills the
// coroutine it happens in and surfaces at the host.
type Fault struct {
	Msg   string
	Proto *Prototype
	PC    int
	Cause any // recovered panic value, if the fault wraps a Go panic
}

func (f *Fault) Error() string {
	where := ""
	if f.Proto != nil {
		where = fmt.Sprintf(" at %s pc %d", f.Proto.name(), f.PC)
	}
	return fmt.Sprintf("internal VM fault%s: %s", where, f.Msg)
}

func (f *Fault) Unwrap() error {
	if err, ok := f.Cause.(error); ok {
		return err
	}
	return nil
}

// cancelSignal unwinds a coroutine that is being cancelled. Nothing but
// the coroutine's own driver recovers it.
type cancelSignal struct{}

// asFault converts an unexpected panic value into a Fault.
func asFault(r any) *Fault {
	if f, ok := r.(*Fault); ok {
		return f
	}
	msg := fmt.Sprint(r)
	if re, ok := r.(runtime.Error); ok {
		msg = re.Error()
	}
	return &Fault{Msg: msg, PC: -1, Cause: r}
}

// ---------------------------------------------------------------------------
// Raising errors
// ---------------------------------------------------------------------------

// Raise raises v as a script error. It does not return.
func (t *Thread) Raise(v Value) {
	panic(&Error{Kind: ScriptError, Value: v})
}

// RuntimeErrorf raises a runtime error positioned at the caller of the
// running native function. Natives use it the way they return errors. It
// does not return.
func (t *Thread) RuntimeErrorf(format string, args ...any) {
	t.raiseRuntime(nil, 1, fmt.Sprintf(format, args...))
}

// runtimeError raises a runtime error positioned at the running Lua
// function.
func (t *Thread) runtimeError(format string, args ...any) {
	t.raiseRuntime(nil, 0, fmt.Sprintf(format, args...))
}

func (t *Thread) raiseRuntime(cause error, level int, msg string) {
	panic(&Error{Kind: RuntimeError, Value: NewString(t.Where(level) + msg), Cause: cause})
}

func (t *Thread) fault(msg string) {
	f := &Fault{Msg: msg, PC: -1}
	if fr := t.top(); fr != nil && fr.cl != nil {
		f.Proto, f.PC = fr.cl.Proto, fr.currentPC()
	}
	panic(f)
}

// errorFromNative turns an error returned by a native function into a
// raised Lua error.
func (t *Thread) errorFromNative(err error) {
	var le *Error
	if errors.As(err, &le) {
		panic(le)
	}
	var f *Fault
	if errors.As(err, &f) {
		panic(f)
	}
	t.raiseRuntime(err, 1, err.Error())
}

// ---------------------------------------------------------------------------
// Protected calls
// ---------------------------------------------------------------------------

// PCall calls fn with args in protected mode. Script and runtime errors
// come back as a non-nil *Error with the stack unwound to the call.
// When handler is non-nil it is called with the error value before the
// stack unwinds and its first result replaces the value; an error inside
// the handler yields "error in error handling".
//
// Faults and coroutine cancellation are not caught.
func (t *Thread) PCall(fn Value, args []Value, handler Value) (rets []Value, perr *Error) {
	depth, native := len(t.frames), t.nativeDepth
	defer func() {
		r := recover()
		if r == nil {
			return
		}
		e, ok := r.(*Error)
		if !ok {
			t.repanic(r)
		}
		if handler != nil {
			e = t.runHandler(handler, e)
		}
		t.unwind(depth)
		t.nativeDepth = native
		rets, perr = nil, e
	}()
	return t.call(fn, args), nil
}

func (t *Thread) runHandler(handler Value, e *Error) (out *Error) {
	depth, native := len(t.frames), t.nativeDepth
	defer func() {
		r := recover()
		if r == nil {
			return
		}
		if _, ok := r.(*Error); !ok {
			t.repanic(r)
		}
		t.unwind(depth)
		t.nativeDepth = native
		out = &Error{Kind: RuntimeError, Value: NewString("error in error handling"), Cause: e}
	}()
	rets := t.call(handler, []Value{e.Value})
	var v Value
	if len(rets) > 0 {
		v = rets[0]
	}
	return &Error{Kind: e.Kind, Value: v, Cause: e.Cause}
}

// repanic re-raises anything a protected boundary must not swallow,
// turning foreign panics into faults.
func (t *Thread) repanic(r any) {
	switch r.(type) {
	case cancelSignal, *Fault:
		panic(r)
	}
	panic(asFault(r))
}

// unwind discards frames above depth, closing their upvalues.
func (t *Thread) unwind(depth int) {
	for i := len(t.frames) - 1; i >= depth; i-- {
		t.frames[i].closeUpvalues(0)
		t.frames[i] = nil
	}
	t.frames = t.frames[:depth]
}

// Call calls fn with args from the host and returns its results.
//
// Lua errors are returned as *Error with a traceback attached. A Fault is
// returned as an error only when this is the outermost call on the
// thread; nested host calls let it keep propagating so that no protected
// call below can mistake it for a script error.
func (t *Thread) Call(fn Value, args ...Value) (rets []Value, err error) {
	if t.rt.closed.Load() {
		return nil, ErrRuntimeClosed
	}
	depth, native := len(t.frames), t.nativeDepth
	defer func() {
		r := recover()
		if r == nil {
			return
		}
		switch r := r.(type) {
		case *Error:
			if r.Traceback == "" {
				r.Traceback = t.Traceback()
			}
			err = r
		case cancelSignal:
			panic(r)
		default:
			f := asFault(r)
			if depth > 0 {
				panic(f)
			}
			t.rt.log.Errorf("%s", f.Error())
			err = f
		}
		t.unwind(depth)
		t.nativeDepth = native
		rets = nil
	}()
	return t.call(fn, args), nil
}
