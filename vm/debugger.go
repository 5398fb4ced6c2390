package vm

import (
	"fmt"
	"sort"
	"sync"
)

// ---------------------------------------------------------------------------
// Debugger: breakpoints and stepping on top of the line hook
// ---------------------------------------------------------------------------

// Debugger stops execution at breakpoints and after steps. A stop calls
// OnStop synchronously on the stopped thread; the callback inspects the
// thread (CallStack, Locals, Upvalues) and returns how to continue.
type Debugger struct {
	mu          sync.Mutex
	active      bool
	breakpoints map[breakpointKey]bool
	eventChan   chan DebugEvent

	// Stepping state
	stepMode  StepMode
	stepDepth int // call depth when the step was requested
	pause     bool

	// OnStop is called when execution stops. It returns the step mode to
	// continue with; StepNone runs to the next breakpoint.
	OnStop func(t *Thread, ev DebugEvent) StepMode
}

// breakpointKey uniquely identifies a breakpoint location.
type breakpointKey struct {
	source string
	line   int
}

// StepMode says where execution stops next.
type StepMode int

const (
	StepNone StepMode = iota // continue to the next breakpoint
	StepOver                 // next line in this function or a caller
	StepInto                 // next line anywhere
	StepOut                  // next line in a caller
)

// DebugEvent describes why execution stopped.
type DebugEvent struct {
	Type     string // "breakpointHit", "stopped"
	Reason   string // "breakpoint", "step", "pause"
	Location SourceLocation
	Depth    int // call depth of the stopped thread
}

// SourceLocation is a position in a chunk.
type SourceLocation struct {
	Source string // chunk name as shown in messages
	Line   int
}

// Breakpoint is a breakpoint as reported to clients.
type Breakpoint struct {
	Source string
	Line   int
	Active bool
}

// NewDebugger creates an inactive debugger.
func NewDebugger() *Debugger {
	return &Debugger{
		breakpoints: make(map[breakpointKey]bool),
		eventChan:   make(chan DebugEvent, 10),
	}
}

// Attach activates the debugger and installs its hook on t. Coroutines
// created by t afterwards inherit it.
func (d *Debugger) Attach(t *Thread) {
	d.mu.Lock()
	d.active = true
	d.mu.Unlock()
	t.SetHook(d.hook, MaskLine, 0)
}

// Detach deactivates the debugger and removes its hook from t.
func (d *Debugger) Detach(t *Thread) {
	d.mu.Lock()
	d.active = false
	d.stepMode = StepNone
	d.mu.Unlock()
	t.SetHook(nil, 0, 0)
}

// Events returns the channel stop events are published on. Events are
// dropped when nobody drains it.
func (d *Debugger) Events() <-chan DebugEvent {
	return d.eventChan
}

// ---------------------------------------------------------------------------
// Breakpoint management
// ---------------------------------------------------------------------------

// SetBreakpoint sets a breakpoint at line of the chunk named source. The
// name may be given raw ("@main.lua") or as shown in messages ("main.lua").
func (d *Debugger) SetBreakpoint(source string, line int) error {
	if line <= 0 {
		return fmt.Errorf("invalid breakpoint line %d", line)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.breakpoints[breakpointKey{normalizeSource(source), line}] = true
	return nil
}

// RemoveBreakpoint removes a breakpoint.
func (d *Debugger) RemoveBreakpoint(source string, line int) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	key := breakpointKey{normalizeSource(source), line}
	if _, exists := d.breakpoints[key]; !exists {
		return fmt.Errorf("no breakpoint at %s:%d", key.source, line)
	}
	delete(d.breakpoints, key)
	return nil
}

// EnableBreakpoint enables or disables an existing breakpoint.
func (d *Debugger) EnableBreakpoint(source string, line int, active bool) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	key := breakpointKey{normalizeSource(source), line}
	if _, exists := d.breakpoints[key]; !exists {
		return fmt.Errorf("no breakpoint at %s:%d", key.source, line)
	}
	d.breakpoints[key] = active
	return nil
}

// ListBreakpoints returns all breakpoints ordered by source and line.
func (d *Debugger) ListBreakpoints() []Breakpoint {
	d.mu.Lock()
	defer d.mu.Unlock()
	result := make([]Breakpoint, 0, len(d.breakpoints))
	for key, active := range d.breakpoints {
		result = append(result, Breakpoint{Source: key.source, Line: key.line, Active: active})
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].Source != result[j].Source {
			return result[i].Source < result[j].Source
		}
		return result[i].Line < result[j].Line
	})
	return result
}

// ClearAllBreakpoints removes all breakpoints.
func (d *Debugger) ClearAllBreakpoints() {
	d.mu.Lock()
	defer d.mu.Unlock()
	clear(d.breakpoints)
}

// Pause stops execution at the next line event.
func (d *Debugger) Pause() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.pause = true
}

func normalizeSource(src string) string {
	if src == "" {
		return src
	}
	switch src[0] {
	case '@', '=':
		return shortSource(src)
	}
	return src
}

// ---------------------------------------------------------------------------
// Hook
// ---------------------------------------------------------------------------

func (d *Debugger) hook(t *Thread, ev HookEvent, line int) {
	if ev != HookLine {
		return
	}
	fr := t.top()
	if fr == nil || fr.cl == nil {
		return
	}
	depth := t.Depth()
	loc := SourceLocation{Source: shortSource(fr.cl.Proto.Source), Line: line}

	reason, stop := d.shouldStop(loc, depth)
	if !stop {
		return
	}
	event := DebugEvent{Type: "stopped", Reason: reason, Location: loc, Depth: depth}
	if reason == "breakpoint" {
		event.Type = "breakpointHit"
	}
	d.sendEvent(event)

	next := StepNone
	if d.OnStop != nil {
		next = d.OnStop(t, event)
	}
	d.mu.Lock()
	d.stepMode = next
	d.stepDepth = depth
	d.mu.Unlock()
}

func (d *Debugger) shouldStop(loc SourceLocation, depth int) (string, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.active {
		return "", false
	}
	if d.pause {
		d.pause = false
		return "pause", true
	}
	if active, ok := d.breakpoints[breakpointKey{loc.Source, loc.Line}]; ok && active {
		return "breakpoint", true
	}
	switch d.stepMode {
	case StepInto:
		return "step", true
	case StepOver:
		if depth <= d.stepDepth {
			return "step", true
		}
	case StepOut:
		if depth < d.stepDepth {
			return "step", true
		}
	}
	return "", false
}

// sendEvent publishes an event without blocking.
func (d *Debugger) sendEvent(event DebugEvent) {
	select {
	case d.eventChan <- event:
	default:
	}
}
