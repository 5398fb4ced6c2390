package vm

// ---------------------------------------------------------------------------
// Hooks
// ---------------------------------------------------------------------------

// HookEvent identifies why a hook fired.
type HookEvent int

const (
	HookCall HookEvent = iota
	HookReturn
	HookLine
	HookCount
	HookTailCall
)

func (e HookEvent) String() string {
	switch e {
	case HookCall:
		return "call"
	case HookReturn:
		return "return"
	case HookLine:
		return "line"
	case HookCount:
		return "count"
	case HookTailCall:
		return "tail call"
	}
	return "?"
}

// HookMask selects hook events.
type HookMask uint8

const (
	MaskCall HookMask = 1 << iota
	MaskReturn
	MaskLine
	MaskCount
)

// HookFunc is called for hook events. line is the current line for line
// events and -1 otherwise. A hook is not re-entered: calls made from
// inside a hook do not fire it.
type HookFunc func(t *Thread, ev HookEvent, line int)

// SetHook installs fn for the events in mask. For MaskCount, fn fires
// every count instructions. A nil fn or zero mask removes the hook.
func (t *Thread) SetHook(fn HookFunc, mask HookMask, count int) {
	if fn == nil || mask == 0 {
		t.hook, t.hookMask, t.baseCount, t.count = nil, 0, 0, 0
		return
	}
	if count <= 0 {
		mask &^= MaskCount
		count = 0
	}
	t.hook, t.hookMask, t.baseCount, t.count = fn, mask, count, count
}

// Hook returns the installed hook, its mask and count.
func (t *Thread) Hook() (HookFunc, HookMask, int) {
	return t.hook, t.hookMask, t.baseCount
}

func (t *Thread) callHook(ev HookEvent, line int) {
	if t.inHook {
		return
	}
	t.inHook = true
	defer func() { t.inHook = false }()
	t.hook(t, ev, line)
}

// hookCallEvent reports a function entry.
func (t *Thread) hookCallEvent(fr *callFrame) {
	if t.hookMask&MaskCall == 0 {
		return
	}
	ev := HookCall
	if fr.tail {
		ev = HookTailCall
	}
	t.callHook(ev, -1)
}

func (t *Thread) hookReturnEvent() {
	if t.hookMask&MaskReturn != 0 {
		t.callHook(HookReturn, -1)
	}
}

// traceExec runs the count and line hooks before the instruction at
// fr.pc executes. A line event fires on function entry, on reaching a
// new line and on any backward jump.
func (t *Thread) traceExec(fr *callFrame) {
	if t.hookMask&MaskCount != 0 {
		t.count--
		if t.count <= 0 {
			t.count = t.baseCount
			t.callHook(HookCount, -1)
		}
	}
	if t.hookMask&MaskLine == 0 {
		return
	}
	p := fr.cl.Proto
	if len(p.LineInfo) == 0 {
		return
	}
	pc := fr.pc
	line := p.LineAt(pc)
	if pc == 0 || pc <= fr.oldPC || line != p.LineAt(fr.oldPC) {
		fr.oldPC = pc
		// The hook sees the instruction about to run as current.
		fr.pc++
		t.callHook(HookLine, line)
		fr.pc--
		return
	}
	fr.oldPC = pc
}
