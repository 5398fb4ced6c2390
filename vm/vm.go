package vm

import (
	"runtime"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/tliron/commonlog"
)

// ---------------------------------------------------------------------------
// Runtime: one Lua state shared by a group of threads
// ---------------------------------------------------------------------------

// Default limits.
const (
	DefaultMaxCallDepth   = 200000
	DefaultMaxNativeDepth = 200
)

// Options configures a Runtime. Zero fields take defaults.
type Options struct {
	MaxCallDepth   int // Lua frames per thread
	MaxNativeDepth int // nested Go-level re-entries into the VM per thread

	// Hook installed on the main thread and inherited by coroutines.
	Hook      HookFunc
	HookMask  HookMask
	HookCount int
}

// Runtime owns the global heap state shared by its threads: the global
// table, per-type metatables, the main thread and the registry of live
// coroutines. Only one thread of a Runtime executes at a time.
type Runtime struct {
	globals  *Table
	typeMeta [numTypes]*Table
	opts     Options

	main       *Thread
	mainHandle *Coroutine

	mu         sync.Mutex
	coroutines map[*Thread]struct{}
	closed     atomic.Bool

	log  commonlog.Logger
	clog commonlog.Logger
}

// NewRuntime creates a runtime with an empty global table. The string
// type starts out with a metatable whose __index is an empty table that
// libraries fill in.
func NewRuntime(opts Options) *Runtime {
	if opts.MaxCallDepth <= 0 {
		opts.MaxCallDepth = DefaultMaxCallDepth
	}
	if opts.MaxNativeDepth <= 0 {
		opts.MaxNativeDepth = DefaultMaxNativeDepth
	}
	rt := &Runtime{
		globals:    NewTable(0, 32),
		opts:       opts,
		coroutines: make(map[*Thread]struct{}),
		log:        commonlog.GetLogger("moonvm.vm"),
		clog:       commonlog.GetLogger("moonvm.coroutine"),
	}
	strMeta := NewTable(0, 1)
	strMeta.SetString("__index", NewTable(0, 16))
	rt.typeMeta[TypeString] = strMeta

	rt.main = rt.newThread(nil)
	rt.main.status.Store(int32(StatusRunning))
	rt.main.SetHook(opts.Hook, opts.HookMask, opts.HookCount)
	rt.mainHandle = &Coroutine{th: rt.main}
	rt.main.self = rt.mainHandle
	return rt
}

// Globals returns the global table.
func (rt *Runtime) Globals() *Table { return rt.globals }

// MainThread returns the thread host calls run on.
func (rt *Runtime) MainThread() *Thread { return rt.main }

// Options returns the effective options.
func (rt *Runtime) Options() Options { return rt.opts }

// StringLibrary returns the table strings index into.
func (rt *Runtime) StringLibrary() *Table {
	if mt := rt.typeMeta[TypeString]; mt != nil {
		if lib, ok := mt.GetString("__index").(*Table); ok {
			return lib
		}
	}
	return nil
}

// Load binds p into a closure whose first upvalue (_ENV) is the global
// table. The prototype tree is validated first.
func (rt *Runtime) Load(p *Prototype) (*Closure, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	cl := NewClosure(p)
	if len(cl.Upvalues) > 0 {
		cl.Upvalues[0].Set(rt.globals)
	}
	return cl, nil
}

// Run loads p and calls it on the main thread.
func (rt *Runtime) Run(p *Prototype, args ...Value) ([]Value, error) {
	cl, err := rt.Load(p)
	if err != nil {
		return nil, err
	}
	return rt.main.Call(cl, args...)
}

// NewCoroutine creates a suspended coroutine that will run fn. The
// coroutine inherits t's hook.
func (t *Thread) NewCoroutine(fn Value) *Coroutine {
	rt := t.rt
	th := rt.newThread(fn)
	th.SetHook(t.hook, t.hookMask, t.baseCount)
	co := &Coroutine{th: th}
	rt.mu.Lock()
	rt.coroutines[th] = struct{}{}
	rt.mu.Unlock()
	runtime.AddCleanup(co, func(th *Thread) { th.cancel() }, th)
	rt.clog.Debugf("created coroutine %s", th.id)
	return co
}

func (rt *Runtime) forget(th *Thread) {
	rt.mu.Lock()
	delete(rt.coroutines, th)
	rt.mu.Unlock()
}

// Close cancels every suspended coroutine and waits for each to unwind.
// Host calls fail with ErrRuntimeClosed afterwards. Close must not be
// called while Lua code of this runtime is running.
func (rt *Runtime) Close() error {
	if rt.closed.Swap(true) {
		return nil
	}
	rt.mu.Lock()
	pending := make([]*Thread, 0, len(rt.coroutines))
	for th := range rt.coroutines {
		pending = append(pending, th)
	}
	rt.mu.Unlock()
	for _, th := range pending {
		th.cancel()
	}
	rt.log.Infof("runtime closed, %d coroutine(s) cancelled", len(pending))
	return nil
}

// ---------------------------------------------------------------------------
// Thread: one call stack
// ---------------------------------------------------------------------------

// Thread is an execution context: a call stack plus coroutine state. The
// main thread runs host calls; every other thread backs a Coroutine.
type Thread struct {
	rt     *Runtime
	id     uuid.UUID
	frames []*callFrame
	status atomic.Int32

	nativeDepth int

	// coroutine state
	fn       Value
	self     *Coroutine // strong handle while running
	started  bool
	resumeCh chan transfer
	yieldCh  chan transfer
	done     chan struct{}

	// hooks
	hook      HookFunc
	hookMask  HookMask
	baseCount int
	count     int
	inHook    bool
}

func (rt *Runtime) newThread(fn Value) *Thread {
	th := &Thread{
		rt:     rt,
		id:     uuid.New(),
		frames: make([]*callFrame, 0, 8),
		fn:     fn,
	}
	th.status.Store(int32(StatusSuspended))
	return th
}

// ID returns a stable identifier for the thread.
func (t *Thread) ID() uuid.UUID { return t.id }

// Runtime returns the runtime t belongs to.
func (t *Thread) Runtime() *Runtime { return t.rt }

// IsMain reports whether t is the runtime's main thread.
func (t *Thread) IsMain() bool { return t == t.rt.main }

// Handle returns the Lua value for t while it is running, or nil.
func (t *Thread) Handle() *Coroutine { return t.self }

// Depth returns the number of active frames.
func (t *Thread) Depth() int { return len(t.frames) }

func (t *Thread) top() *callFrame {
	if len(t.frames) == 0 {
		return nil
	}
	return t.frames[len(t.frames)-1]
}
