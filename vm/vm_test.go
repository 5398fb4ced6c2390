package vm

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/uuid"
)

func TestRuntimeOptionDefaults(t *testing.T) {
	tests := []struct {
		in   Options
		want Options
	}{
		{Options{}, Options{MaxCallDepth: DefaultMaxCallDepth, MaxNativeDepth: DefaultMaxNativeDepth}},
		{Options{MaxCallDepth: 10, MaxNativeDepth: -1}, Options{MaxCallDepth: 10, MaxNativeDepth: DefaultMaxNativeDepth}},
	}
	for _, tt := range tests {
		rt := NewRuntime(tt.in)
		got := rt.Options()
		if got.MaxCallDepth != tt.want.MaxCallDepth || got.MaxNativeDepth != tt.want.MaxNativeDepth {
			t.Errorf("NewRuntime(%+v).Options() = %+v", tt.in, got)
		}
		rt.Close()
	}
}

func TestLoadBindsGlobals(t *testing.T) {
	rt := newTestRuntime(t, Options{})
	b := NewProtoBuilder("=env")
	b.Env()
	cl, err := rt.Load(b.Build())
	if err != nil {
		t.Fatal(err)
	}
	if env, _ := cl.Upvalues[0].Get().(*Table); env != rt.Globals() {
		t.Errorf("_ENV = %v, want the global table", cl.Upvalues[0].Get())
	}

	// A chunk without upvalues loads fine.
	if _, err := rt.Load(NewProtoBuilder("=bare").Build()); err != nil {
		t.Errorf("Load(bare) = %v", err)
	}
}

func TestRunPassesArguments(t *testing.T) {
	rt := newTestRuntime(t, Options{})
	b := NewProtoBuilder("=args").Params(2, false)
	b.ABC(OpADD, 2, 0, 1)
	b.Return(2, 2)
	checkValues(t, []Value{Number(5)}, mustRun(t, rt, b.Build(), Number(2), Number(3)))
}

func TestStringLibrary(t *testing.T) {
	rt := newTestRuntime(t, Options{})
	lib := rt.StringLibrary()
	if lib == nil {
		t.Fatal("no string library table")
	}
	if lib != rt.StringLibrary() {
		t.Error("StringLibrary returns a different table on each call")
	}
	lib.SetString("twice", NewGoFunction("twice", func(_ *Thread, args []Value) ([]Value, error) {
		s := args[0].(*String)
		return []Value{Concat(s, s)}, nil
	}))

	// return ("ab"):twice()
	b := NewProtoBuilder("=self")
	b.LoadK(0, "ab")
	b.ABC(OpSELF, 0, 0, b.K("twice"))
	b.ABC(OpCALL, 0, 2, 2)
	b.Return(0, 2)
	checkValues(t, []Value{str("abab")}, mustRun(t, rt, b.Build()))
}

func TestCloseIsIdempotent(t *testing.T) {
	rt := NewRuntime(Options{})
	if err := rt.Close(); err != nil {
		t.Fatal(err)
	}
	if err := rt.Close(); err != nil {
		t.Errorf("second Close = %v", err)
	}
	_, err := rt.Run(NewProtoBuilder("=closed").Build())
	if !errors.Is(err, ErrRuntimeClosed) {
		t.Errorf("Run after Close = %v, want ErrRuntimeClosed", err)
	}
}

func TestThreadIdentity(t *testing.T) {
	rt := newTestRuntime(t, Options{})
	main := rt.MainThread()
	if !main.IsMain() || main.Runtime() != rt {
		t.Error("main thread does not identify as such")
	}
	if main.ID() == uuid.Nil {
		t.Error("main thread has a nil ID")
	}
	if main.Handle() == nil || main.Handle().Thread() != main {
		t.Error("main thread handle is wrong")
	}

	co := main.NewCoroutine(NewGoFunction("noop", func(*Thread, []Value) ([]Value, error) {
		return nil, nil
	}))
	th := co.Thread()
	if th.IsMain() || th.ID() == main.ID() {
		t.Error("coroutine thread shares identity with main")
	}
	if diff := cmp.Diff(StatusSuspended, co.Status()); diff != "" {
		t.Errorf("new coroutine status (-want +got):\n%s", diff)
	}
	if th.Depth() != 0 {
		t.Errorf("new coroutine depth = %d", th.Depth())
	}

	rt.Close()
	if co.Status() != StatusDead {
		t.Errorf("status after Close = %v, want dead", co.Status())
	}
}

func TestTypeMetatables(t *testing.T) {
	rt := newTestRuntime(t, Options{})
	strMeta := rt.TypeMetatable(TypeString)
	if strMeta == nil || strMeta.GetString("__index") != Value(rt.StringLibrary()) {
		t.Fatal("string metatable does not index the string library")
	}
	if rt.TypeMetatable(TypeNumber) != nil {
		t.Error("numbers start with a metatable")
	}

	mt := NewTable(0, 1)
	rt.SetTypeMetatable(TypeNumber, mt)
	if rt.TypeMetatable(TypeNumber) != mt || rt.Metatable(Number(1)) != mt {
		t.Error("number metatable not installed")
	}

	rt.SetTypeMetatable(TypeTable, mt)
	if rt.Metatable(NewTable(0, 0)) != nil {
		t.Error("a table without its own metatable picked up the type default")
	}
}
