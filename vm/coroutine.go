package vm

// ---------------------------------------------------------------------------
// Coroutines
// ---------------------------------------------------------------------------

// Status is a thread's coroutine state.
type Status int32

const (
	StatusSuspended Status = iota
	StatusRunning
	StatusNormal // resumed another coroutine and waits for it
	StatusDead
)

func (s Status) String() string {
	switch s {
	case StatusSuspended:
		return "suspended"
	case StatusRunning:
		return "running"
	case StatusNormal:
		return "normal"
	}
	return "dead"
}

// Coroutine is the Lua thread value. It is only a handle: when it becomes
// unreachable while its thread is suspended, the thread is cancelled and
// its goroutine exits.
//
// A suspended coroutine whose own stack or function still references its
// handle keeps itself reachable and is only cancelled by Runtime.Close.
type Coroutine struct {
	th *Thread
}

// Type implements Value.
func (*Coroutine) Type() Type { return TypeThread }

// Thread returns the execution context behind the handle.
func (c *Coroutine) Thread() *Thread { return c.th }

// Status returns the coroutine's current state.
func (c *Coroutine) Status() Status { return c.th.Status() }

// Status returns the thread's current state.
func (t *Thread) Status() Status { return Status(t.status.Load()) }

type transferKind int

const (
	xferValues transferKind = iota // resume arguments or yielded values
	xferReturn                     // body finished
	xferError                      // body raised a Lua error
	xferFault                      // body hit an internal fault
	xferCancel                     // thread is being cancelled
)

// transfer is the single message exchanged at each hand-off.
type transfer struct {
	kind  transferKind
	vals  []Value
	err   *Error
	fault *Fault
}

// Resume runs co until it yields or finishes and returns the yielded or
// returned values. Resuming a coroutine that is not suspended, or one
// whose body raises, returns a *Error. A fault inside the coroutine kills
// it and is re-raised in t.
func (t *Thread) Resume(co *Coroutine, args []Value) ([]Value, *Error) {
	th := co.th
	if th.rt != t.rt {
		return nil, &Error{Kind: RuntimeError, Value: NewString("cannot resume coroutine of another runtime")}
	}
	if !th.status.CompareAndSwap(int32(StatusSuspended), int32(StatusRunning)) {
		if th.Status() == StatusDead {
			return nil, &Error{Kind: RuntimeError, Value: NewString(ErrDeadCoroutine.Error()), Cause: ErrDeadCoroutine}
		}
		return nil, &Error{Kind: RuntimeError, Value: NewString(ErrNotSuspended.Error()), Cause: ErrNotSuspended}
	}
	t.status.Store(int32(StatusNormal))
	th.self = co
	t.rt.clog.Debugf("resume %s", th.id)

	args = append([]Value(nil), args...)
	if !th.started {
		th.started = true
		th.resumeCh = make(chan transfer)
		th.yieldCh = make(chan transfer)
		th.done = make(chan struct{})
		go th.run(args)
	} else {
		th.resumeCh <- transfer{kind: xferValues, vals: args}
	}
	tr := <-th.yieldCh
	t.status.Store(int32(StatusRunning))

	switch tr.kind {
	case xferValues, xferReturn:
		return tr.vals, nil
	case xferError:
		return nil, tr.err
	}
	t.rt.clog.Errorf("coroutine %s faulted: %s", th.id, tr.fault.Error())
	panic(tr.fault)
}

// Yield suspends t, handing vals to its resumer, and returns the values
// passed to the next resume. Yielding from the main thread raises
// "attempt to yield from outside a coroutine".
func (t *Thread) Yield(vals []Value) []Value {
	if t.IsMain() {
		t.raiseRuntime(ErrNoCoroutine, 1, ErrNoCoroutine.Error())
	}
	vals = append([]Value(nil), vals...)
	t.self = nil
	t.status.Store(int32(StatusSuspended))
	t.rt.clog.Debugf("yield %s", t.id)
	t.yieldCh <- transfer{kind: xferValues, vals: vals}

	tr := <-t.resumeCh
	if tr.kind == xferCancel {
		panic(cancelSignal{})
	}
	return tr.vals
}

// run is the coroutine goroutine's body.
func (t *Thread) run(args []Value) {
	defer close(t.done)
	tr := t.runBody(args)
	t.status.Store(int32(StatusDead))
	t.frames = nil
	t.self = nil
	t.fn = nil
	t.rt.forget(t)
	if tr.kind == xferCancel {
		t.rt.clog.Infof("coroutine %s cancelled", t.id)
		return
	}
	t.rt.clog.Debugf("coroutine %s finished", t.id)
	t.yieldCh <- tr
}

func (t *Thread) runBody(args []Value) (tr transfer) {
	defer func() {
		r := recover()
		if r == nil {
			return
		}
		switch r := r.(type) {
		case cancelSignal:
			tr = transfer{kind: xferCancel}
		case *Error:
			if r.Traceback == "" {
				r.Traceback = t.Traceback()
			}
			t.unwind(0)
			tr = transfer{kind: xferError, err: r}
		default:
			tr = transfer{kind: xferFault, fault: asFault(r)}
		}
	}()
	rets := t.call(t.fn, args)
	return transfer{kind: xferReturn, vals: append([]Value(nil), rets...)}
}

// cancel unblocks a suspended thread with the cancel signal and waits for
// its goroutine to exit. It is a no-op unless the thread is suspended.
//
// The unwinding goroutine never touches shared heap objects, so cancel
// is safe to run from a cleanup goroutine.
func (t *Thread) cancel() {
	if !t.status.CompareAndSwap(int32(StatusSuspended), int32(StatusDead)) {
		return
	}
	if !t.started {
		t.fn = nil
		t.rt.forget(t)
		return
	}
	t.resumeCh <- transfer{kind: xferCancel}
	<-t.done
}
