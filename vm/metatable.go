package vm

import "math"

// ---------------------------------------------------------------------------
// Metatable lookup
// ---------------------------------------------------------------------------

// maxMetaLoop bounds __index/__newindex chains.
const maxMetaLoop = 100

// Metatable returns v's metatable: its own for tables and full userdata,
// the per-type default otherwise.
func (rt *Runtime) Metatable(v Value) *Table {
	switch v := v.(type) {
	case *Table:
		return v.meta
	case *Userdata:
		return v.Meta
	}
	return rt.typeMeta[TypeOf(v)]
}

// TypeMetatable returns the default metatable for values of type tp.
func (rt *Runtime) TypeMetatable(tp Type) *Table {
	return rt.typeMeta[tp]
}

// SetTypeMetatable sets the default metatable for values of type tp.
// Tables and full userdata carry their own metatables and ignore it.
func (rt *Runtime) SetTypeMetatable(tp Type, mt *Table) {
	rt.typeMeta[tp] = mt
}

// MetaField returns field event of v's metatable without metamethods.
func (rt *Runtime) MetaField(v Value, event string) Value {
	mt := rt.Metatable(v)
	if mt == nil {
		return nil
	}
	return mt.GetString(event)
}

func first(rets []Value) Value {
	if len(rets) == 0 {
		return nil
	}
	return rets[0]
}

// ---------------------------------------------------------------------------
// Indexing
// ---------------------------------------------------------------------------

// Index returns v[k] following __index.
func (t *Thread) Index(v, k Value) Value {
	for range maxMetaLoop {
		var tm Value
		if tbl, ok := v.(*Table); ok {
			if res := tbl.Get(k); res != nil {
				return res
			}
			if tbl.meta == nil {
				return nil
			}
			if tm = tbl.meta.GetString("__index"); tm == nil {
				return nil
			}
		} else if tm = t.rt.MetaField(v, "__index"); tm == nil {
			t.typeError(v, "index")
		}
		if TypeOf(tm) == TypeFunction {
			return first(t.call(tm, []Value{v, k}))
		}
		if tm == v {
			break
		}
		v = tm
	}
	t.runtimeError("loop in gettable")
	return nil
}

// SetIndex assigns v[k] = val following __newindex.
func (t *Thread) SetIndex(v, k, val Value) {
	for range maxMetaLoop {
		var tm Value
		if tbl, ok := v.(*Table); ok {
			if tbl.meta == nil || tbl.Get(k) != nil {
				t.rawSet(tbl, k, val)
				return
			}
			if tm = tbl.meta.GetString("__newindex"); tm == nil {
				t.rawSet(tbl, k, val)
				return
			}
		} else if tm = t.rt.MetaField(v, "__newindex"); tm == nil {
			t.typeError(v, "index")
		}
		if TypeOf(tm) == TypeFunction {
			t.call(tm, []Value{v, k, val})
			return
		}
		if tm == v {
			break
		}
		v = tm
	}
	t.runtimeError("loop in settable")
}

func (t *Thread) rawSet(tbl *Table, k, v Value) {
	if err := tbl.Set(k, v); err != nil {
		t.runtimeError("%s", err.Error())
	}
}

// ---------------------------------------------------------------------------
// Arithmetic
// ---------------------------------------------------------------------------

var arithEvents = [...]string{
	OpADD - OpADD: "__add",
	OpSUB - OpADD: "__sub",
	OpMUL - OpADD: "__mul",
	OpDIV - OpADD: "__div",
	OpMOD - OpADD: "__mod",
	OpPOW - OpADD: "__pow",
	OpUNM - OpADD: "__unm",
}

func arithNumbers(op Opcode, a, b float64) float64 {
	switch op {
	case OpADD:
		return a + b
	case OpSUB:
		return a - b
	case OpMUL:
		return a * b
	case OpDIV:
		return a / b
	case OpMOD:
		return a - math.Floor(a/b)*b
	case OpPOW:
		return math.Pow(a, b)
	case OpUNM:
		return -a
	}
	panic("arith: bad opcode")
}

// Arith applies an arithmetic opcode (ADD..UNM) to a and b with string
// coercion and metamethod fallback. For UNM, b is ignored.
func (t *Thread) Arith(op Opcode, a, b Value) Value {
	if op == OpUNM {
		b = a
	}
	x, ok1 := ToNumber(a)
	y, ok2 := ToNumber(b)
	if ok1 && ok2 {
		return Number(arithNumbers(op, x, y))
	}
	event := arithEvents[op-OpADD]
	tm := t.rt.MetaField(a, event)
	if tm == nil {
		tm = t.rt.MetaField(b, event)
	}
	if tm == nil {
		bad := b
		if !ok1 {
			bad = a
		}
		t.typeError(bad, "perform arithmetic on")
	}
	return first(t.call(tm, []Value{a, b}))
}

// ---------------------------------------------------------------------------
// Comparison
// ---------------------------------------------------------------------------

// Equal compares a and b, consulting __eq when both are tables or both
// are full userdata and they are not raw-equal.
func (t *Thread) Equal(a, b Value) bool {
	if RawEqual(a, b) {
		return true
	}
	if TypeOf(a) != TypeOf(b) {
		return false
	}
	switch a.(type) {
	case *Table, *Userdata:
	default:
		return false
	}
	tm := t.rt.MetaField(a, "__eq")
	if tm == nil {
		tm = t.rt.MetaField(b, "__eq")
	}
	if tm == nil {
		return false
	}
	return Truthy(first(t.call(tm, []Value{a, b})))
}

// LessThan evaluates a < b.
func (t *Thread) LessThan(a, b Value) bool {
	if x, ok := a.(Number); ok {
		if y, ok := b.(Number); ok {
			return x < y
		}
	}
	if x, ok := a.(*String); ok {
		if y, ok := b.(*String); ok {
			return x.Compare(y) < 0
		}
	}
	if res, ok := t.compareTM(a, b, "__lt"); ok {
		return res
	}
	t.compareError(a, b)
	return false
}

// LessEqual evaluates a <= b, falling back to not (b < a) when no __le
// handler exists.
func (t *Thread) LessEqual(a, b Value) bool {
	if x, ok := a.(Number); ok {
		if y, ok := b.(Number); ok {
			return x <= y
		}
	}
	if x, ok := a.(*String); ok {
		if y, ok := b.(*String); ok {
			return x.Compare(y) <= 0
		}
	}
	if res, ok := t.compareTM(a, b, "__le"); ok {
		return res
	}
	if res, ok := t.compareTM(b, a, "__lt"); ok {
		return !res
	}
	t.compareError(a, b)
	return false
}

func (t *Thread) compareTM(a, b Value, event string) (bool, bool) {
	tm := t.rt.MetaField(a, event)
	if tm == nil {
		tm = t.rt.MetaField(b, event)
	}
	if tm == nil {
		return false, false
	}
	return Truthy(first(t.call(tm, []Value{a, b}))), true
}

func (t *Thread) compareError(a, b Value) {
	ta, tb := TypeName(a), TypeName(b)
	if ta == tb {
		t.runtimeError("attempt to compare two %s values", ta)
	}
	t.runtimeError("attempt to compare %s with %s", ta, tb)
}

// ---------------------------------------------------------------------------
// Length and concatenation
// ---------------------------------------------------------------------------

// Len evaluates #v.
func (t *Thread) Len(v Value) Value {
	switch v := v.(type) {
	case *String:
		return Number(v.Len())
	case *Table:
		if v.meta != nil {
			if tm := v.meta.GetString("__len"); tm != nil {
				return first(t.call(tm, []Value{v}))
			}
		}
		return Number(v.Len())
	}
	tm := t.rt.MetaField(v, "__len")
	if tm == nil {
		t.typeError(v, "get length of")
	}
	return first(t.call(tm, []Value{v}))
}

// Concat concatenates vals the way the .. operator chain does. Runs of
// strings and numbers are joined into one balanced rope; any other
// operand is combined right to left through __concat.
func (t *Thread) Concat(vals []Value) Value {
	if len(vals) == 0 {
		return NewString("")
	}
	if s, ok := concatStrings(vals); ok {
		return s
	}
	acc := vals[len(vals)-1]
	i := len(vals) - 2
	for i >= 0 {
		// Collect the longest run of coercible operands ending at acc.
		if _, ok := toStringValue(acc); ok {
			j := i
			for j >= 0 {
				if _, ok := toStringValue(vals[j]); !ok {
					break
				}
				j--
			}
			if j < i {
				run := make([]Value, 0, i-j+1)
				run = append(run, vals[j+1:i+1]...)
				run = append(run, acc)
				acc, _ = concatStrings(run)
				i = j
				continue
			}
		}
		acc = t.concatPair(vals[i], acc)
		i--
	}
	return acc
}

func concatStrings(vals []Value) (*String, bool) {
	parts := make([]*String, len(vals))
	for i, v := range vals {
		s, ok := toStringValue(v)
		if !ok {
			return nil, false
		}
		parts[i] = s
	}
	return ConcatAll(parts), true
}

func (t *Thread) concatPair(a, b Value) Value {
	tm := t.rt.MetaField(a, "__concat")
	if tm == nil {
		tm = t.rt.MetaField(b, "__concat")
	}
	if tm == nil {
		bad := a
		if _, ok := toStringValue(a); ok {
			bad = b
		}
		t.typeError(bad, "concatenate")
	}
	return first(t.call(tm, []Value{a, b}))
}
