package vm

import (
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
)

// Profiler counts function invocations through the call hook. Lua
// functions are counted per Prototype, so every closure of one function
// shares a profile; native functions are counted per GoFunction.

// FunctionProfile holds profiling data for a single function.
type FunctionProfile struct {
	InvocationCount uint64 // atomic
	IsHot           bool   // threshold exceeded
}

// Profiler manages profiles for every function a runtime calls.
type Profiler struct {
	profiles sync.Map // *Prototype or *GoFunction -> *FunctionProfile

	// HotThreshold is the invocation count at which a function is hot.
	HotThreshold uint64

	// OnHot is called once per function when it becomes hot, with either
	// a *Prototype or a *GoFunction.
	OnHot func(fn any, profile *FunctionProfile)

	hotCount uint64
}

// NewProfiler creates a profiler with the default threshold.
func NewProfiler() *Profiler {
	return &Profiler{HotThreshold: 100}
}

// Hook returns a HookFunc that records call events. Install it with
// MaskCall, or pass it as Options.Hook so coroutines inherit it.
func (p *Profiler) Hook() HookFunc {
	return func(t *Thread, ev HookEvent, _ int) {
		if ev != HookCall && ev != HookTailCall {
			return
		}
		fr := t.top()
		if fr == nil {
			return
		}
		if fr.cl != nil {
			p.Record(fr.cl.Proto)
		} else if fr.native != nil {
			p.Record(fr.native)
		}
	}
}

// Attach installs the profiling hook on t.
func (p *Profiler) Attach(t *Thread) {
	t.SetHook(p.Hook(), MaskCall, 0)
}

// Record increments the invocation count for fn, a *Prototype or a
// *GoFunction. Returns true if this invocation made fn hot.
func (p *Profiler) Record(fn any) bool {
	if fn == nil {
		return false
	}
	val, _ := p.profiles.LoadOrStore(fn, &FunctionProfile{})
	profile := val.(*FunctionProfile)

	count := atomic.AddUint64(&profile.InvocationCount, 1)
	if !profile.IsHot && count >= p.HotThreshold {
		profile.IsHot = true
		atomic.AddUint64(&p.hotCount, 1)
		if p.OnHot != nil {
			p.OnHot(fn, profile)
		}
		return true
	}
	return false
}

// Profile returns the profile for fn, or nil if it was never called.
func (p *Profiler) Profile(fn any) *FunctionProfile {
	if val, ok := p.profiles.Load(fn); ok {
		return val.(*FunctionProfile)
	}
	return nil
}

// IsHot returns true if fn has exceeded the hot threshold.
func (p *Profiler) IsHot(fn any) bool {
	profile := p.Profile(fn)
	return profile != nil && profile.IsHot
}

// ProfileEntry is one line of a profile report.
type ProfileEntry struct {
	Function any // *Prototype or *GoFunction
	Name     string
	Count    uint64
	Hot      bool
}

// ProfilerStats holds aggregate profiling statistics.
type ProfilerStats struct {
	Functions        int
	HotFunctions     int
	TotalInvocations uint64
}

// Stats returns aggregate profiling statistics.
func (p *Profiler) Stats() ProfilerStats {
	var stats ProfilerStats
	p.profiles.Range(func(_, value any) bool {
		profile := value.(*FunctionProfile)
		stats.Functions++
		stats.TotalInvocations += atomic.LoadUint64(&profile.InvocationCount)
		if profile.IsHot {
			stats.HotFunctions++
		}
		return true
	})
	return stats
}

// Top returns the n most frequently invoked functions, most frequent
// first. Ties are ordered by name.
func (p *Profiler) Top(n int) []ProfileEntry {
	var all []ProfileEntry
	p.profiles.Range(func(key, value any) bool {
		profile := value.(*FunctionProfile)
		all = append(all, ProfileEntry{
			Function: key,
			Name:     profileName(key),
			Count:    atomic.LoadUint64(&profile.InvocationCount),
			Hot:      profile.IsHot,
		})
		return true
	})
	sort.Slice(all, func(i, j int) bool {
		if all[i].Count != all[j].Count {
			return all[i].Count > all[j].Count
		}
		return all[i].Name < all[j].Name
	})
	if n >= 0 && n < len(all) {
		all = all[:n]
	}
	return all
}

func profileName(fn any) string {
	switch f := fn.(type) {
	case *Prototype:
		if f.LineDefined == 0 {
			return fmt.Sprintf("main chunk <%s>", shortSource(f.Source))
		}
		return fmt.Sprintf("function <%s:%d>", shortSource(f.Source), f.LineDefined)
	case *GoFunction:
		return "[C] " + f.Name
	}
	return "?"
}

// Reset clears all profiling data.
func (p *Profiler) Reset() {
	p.profiles.Clear()
	atomic.StoreUint64(&p.hotCount, 0)
}
