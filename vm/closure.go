package vm

// ---------------------------------------------------------------------------
// Functions
// ---------------------------------------------------------------------------

// Closure is a Prototype bound to its upvalues.
type Closure struct {
	Proto    *Prototype
	Upvalues []*Upvalue
}

// Type implements Value.
func (*Closure) Type() Type { return TypeFunction }

// NewClosure creates a closure over p with every upvalue closed and set
// to nil. Callers bind them through Upvalues[i].Set.
func NewClosure(p *Prototype) *Closure {
	c := &Closure{Proto: p, Upvalues: make([]*Upvalue, len(p.Upvalues))}
	for i := range c.Upvalues {
		c.Upvalues[i] = NewUpvalue(nil)
	}
	return c
}

// GoFunc is the signature of a native function. It receives its arguments
// and returns its results; a returned error is raised in the caller.
type GoFunc func(t *Thread, args []Value) ([]Value, error)

// GoFunction is a native function value.
type GoFunction struct {
	Name string
	Fn   GoFunc
}

// Type implements Value.
func (*GoFunction) Type() Type { return TypeFunction }

// NewGoFunction wraps fn as a Lua function value.
func NewGoFunction(name string, fn GoFunc) *GoFunction {
	return &GoFunction{Name: name, Fn: fn}
}

// ---------------------------------------------------------------------------
// Upvalues
// ---------------------------------------------------------------------------

// Upvalue is a captured variable.
//
// While open, an Upvalue aliases register index of a live frame: reads and
// writes go to the register. Closing copies the register's current value
// into the Upvalue and detaches it from the frame.
type Upvalue struct {
	frame *callFrame
	index int
	value Value
}

// NewUpvalue returns a closed upvalue holding v.
func NewUpvalue(v Value) *Upvalue {
	return &Upvalue{value: v}
}

// Get returns the variable's current value.
func (u *Upvalue) Get() Value {
	if u.frame != nil {
		return u.frame.regs[u.index]
	}
	return u.value
}

// Set assigns the variable.
func (u *Upvalue) Set(v Value) {
	if u.frame != nil {
		u.frame.regs[u.index] = v
		return
	}
	u.value = v
}

// IsOpen reports whether u still aliases a frame register.
func (u *Upvalue) IsOpen() bool { return u.frame != nil }

func (u *Upvalue) close() {
	u.value = u.frame.regs[u.index]
	u.frame = nil
}

// findUpvalue returns the open upvalue for register idx of fr, creating
// it on first capture so that every closure capturing the same variable
// shares one Upvalue.
func (fr *callFrame) findUpvalue(idx int) *Upvalue {
	for _, u := range fr.openUpvals {
		if u.index == idx {
			return u
		}
	}
	u := &Upvalue{frame: fr, index: idx}
	fr.openUpvals = append(fr.openUpvals, u)
	return u
}

// closeUpvalues closes every open upvalue of fr at register from or above.
func (fr *callFrame) closeUpvalues(from int) {
	if len(fr.openUpvals) == 0 {
		return
	}
	kept := fr.openUpvals[:0]
	for _, u := range fr.openUpvals {
		if u.index >= from {
			u.close()
		} else {
			kept = append(kept, u)
		}
	}
	clear(fr.openUpvals[len(kept):])
	fr.openUpvals = kept
}
