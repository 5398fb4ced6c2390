package vm

import (
	"testing"

	"github.com/google/go-cmp/cmp"
)

// valueCmp compares Values: strings by content, tables and functions by
// identity.
var valueCmp = cmp.Options{
	cmp.Comparer(func(a, b *String) bool { return a.Equal(b) }),
	cmp.Comparer(func(a, b *Table) bool { return a == b }),
	cmp.Comparer(func(a, b *Closure) bool { return a == b }),
	cmp.Comparer(func(a, b *GoFunction) bool { return a == b }),
	cmp.Comparer(func(a, b *Coroutine) bool { return a == b }),
}

func str(s string) Value { return NewString(s) }

func newTestRuntime(t *testing.T, opts Options) *Runtime {
	t.Helper()
	rt := NewRuntime(opts)
	installTestLib(rt)
	t.Cleanup(func() { rt.Close() })
	return rt
}

// mustRun runs p on rt's main thread and fails the test on error.
func mustRun(t *testing.T, rt *Runtime, p *Prototype, args ...Value) []Value {
	t.Helper()
	rets, err := rt.Run(p, args...)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	return rets
}

func checkValues(t *testing.T, want, got []Value) {
	t.Helper()
	if diff := cmp.Diff(want, got, valueCmp); diff != "" {
		t.Errorf("values mismatch (-want +got):\n%s", diff)
	}
}

// installTestLib registers the minimal natives the tests' bytecode uses.
func installTestLib(rt *Runtime) {
	g := rt.Globals()
	g.SetString("error", NewGoFunction("error", func(t *Thread, args []Value) ([]Value, error) {
		var v Value
		if len(args) > 0 {
			v = args[0]
		}
		if s, ok := v.(*String); ok {
			v = NewString(t.Where(1) + s.String())
		}
		t.Raise(v)
		return nil, nil
	}))
	g.SetString("pcall", NewGoFunction("pcall", func(t *Thread, args []Value) ([]Value, error) {
		rets, perr := t.PCall(args[0], args[1:], nil)
		if perr != nil {
			return []Value{False, perr.Value}, nil
		}
		return append([]Value{True}, rets...), nil
	}))
	g.SetString("create", NewGoFunction("create", func(t *Thread, args []Value) ([]Value, error) {
		return []Value{t.NewCoroutine(args[0])}, nil
	}))
	g.SetString("resume", NewGoFunction("resume", func(t *Thread, args []Value) ([]Value, error) {
		rets, perr := t.Resume(args[0].(*Coroutine), args[1:])
		if perr != nil {
			return []Value{False, perr.Value}, nil
		}
		return append([]Value{True}, rets...), nil
	}))
	g.SetString("yield", NewGoFunction("yield", func(t *Thread, args []Value) ([]Value, error) {
		return t.Yield(args), nil
	}))
}
