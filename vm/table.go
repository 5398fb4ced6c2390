package vm

import (
	"errors"
	"math"
)

// Table is a Lua table: a map from non-nil values to non-nil values with
// an optional metatable.
//
// Positive integer keys starting at 1 live in the array part while they
// stay contiguous; everything else lives in the hash part. The hash part
// keeps insertion order in entries so next() is stable while fields are
// cleared during traversal. Clearing a hash field leaves a tombstone;
// tombstones are compacted only when a new key is inserted.
type Table struct {
	arr     []Value
	hash    map[any]int
	entries []tableEntry
	dead    int
	meta    *Table
}

type tableEntry struct {
	key Value
	val Value
}

var (
	errNilIndex   = errors.New("table index is nil")
	errNaNIndex   = errors.New("table index is NaN")
	errInvalidKey = errors.New("invalid key to 'next'")
)

// maxPrealloc bounds constructor size hints taken from bytecode.
const maxPrealloc = 1 << 20

// NewTable creates a table with room for narr sequence items and nhash
// other fields.
func NewTable(narr, nhash int) *Table {
	if narr > maxPrealloc {
		narr = maxPrealloc
	}
	if nhash > maxPrealloc {
		nhash = maxPrealloc
	}
	t := &Table{}
	if narr > 0 {
		t.arr = make([]Value, 0, narr)
	}
	if nhash > 0 {
		t.hash = make(map[any]int, nhash)
		t.entries = make([]tableEntry, 0, nhash)
	}
	return t
}

// Type implements Value.
func (*Table) Type() Type { return TypeTable }

// Metatable returns the table's metatable, or nil.
func (t *Table) Metatable() *Table { return t.meta }

// SetMetatable replaces the table's metatable. A nil mt removes it.
func (t *Table) SetMetatable(mt *Table) { t.meta = mt }

// hashKey normalizes k into a comparable Go map key. Strings key by
// content and negative zero folds into zero.
func hashKey(k Value) any {
	switch k := k.(type) {
	case *String:
		return k.String()
	case Number:
		if k == 0 {
			return Number(0)
		}
		return k
	}
	return k
}

// arrayIndex returns the 1-based sequence index for k if k is a number
// with a positive integral value.
func arrayIndex(k Value) (int, bool) {
	n, ok := k.(Number)
	if !ok {
		return 0, false
	}
	i := int(n)
	if i < 1 || Number(i) != n {
		return 0, false
	}
	return i, true
}

// Get returns t[k] without metamethods.
func (t *Table) Get(k Value) Value {
	if i, ok := arrayIndex(k); ok && i <= len(t.arr) {
		return t.arr[i-1]
	}
	if k == nil || t.hash == nil {
		return nil
	}
	if idx, ok := t.hash[hashKey(k)]; ok {
		return t.entries[idx].val
	}
	return nil
}

// GetInt returns t[i] without metamethods.
func (t *Table) GetInt(i int) Value {
	if i >= 1 && i <= len(t.arr) {
		return t.arr[i-1]
	}
	return t.Get(Number(i))
}

// GetString returns t[s] without metamethods.
func (t *Table) GetString(s string) Value {
	if t.hash == nil {
		return nil
	}
	if idx, ok := t.hash[s]; ok {
		return t.entries[idx].val
	}
	return nil
}

// Set assigns t[k] = v without metamethods. Assigning nil removes k.
func (t *Table) Set(k, v Value) error {
	switch k := k.(type) {
	case nil:
		return errNilIndex
	case Number:
		if math.IsNaN(float64(k)) {
			return errNaNIndex
		}
		if i, ok := arrayIndex(k); ok {
			t.SetInt(i, v)
			return nil
		}
	}
	t.setHash(k, v)
	return nil
}

// SetString assigns t[s] = v without metamethods.
func (t *Table) SetString(s string, v Value) {
	t.setHash(NewString(s), v)
}

// SetInt assigns t[i] = v without metamethods.
func (t *Table) SetInt(i int, v Value) {
	switch {
	case i >= 1 && i <= len(t.arr):
		t.arr[i-1] = v
		return
	case i == len(t.arr)+1 && v != nil:
		t.arr = append(t.arr, v)
		t.deleteHash(Number(i))
		t.migrate()
		return
	}
	t.setHash(Number(i), v)
}

// migrate moves keys that now continue the sequence from the hash part
// into the array part.
func (t *Table) migrate() {
	if t.hash == nil {
		return
	}
	for {
		next := Number(len(t.arr) + 1)
		idx, ok := t.hash[next]
		if !ok || t.entries[idx].val == nil {
			return
		}
		t.arr = append(t.arr, t.entries[idx].val)
		t.deleteHash(next)
	}
}

func (t *Table) setHash(k, v Value) {
	hk := hashKey(k)
	if idx, ok := t.hash[hk]; ok {
		e := &t.entries[idx]
		switch {
		case v == nil && e.val != nil:
			t.dead++
		case v != nil && e.val == nil:
			t.dead--
		}
		e.val = v
		return
	}
	if v == nil {
		return
	}
	if t.hash == nil {
		t.hash = make(map[any]int)
	}
	if t.dead > 0 && t.dead*2 >= len(t.entries) {
		t.compact()
	}
	t.hash[hk] = len(t.entries)
	t.entries = append(t.entries, tableEntry{key: k, val: v})
}

// deleteHash drops k from the hash part entirely (used when a key moves
// into the array part).
func (t *Table) deleteHash(k Value) {
	if t.hash == nil {
		return
	}
	hk := hashKey(k)
	idx, ok := t.hash[hk]
	if !ok {
		return
	}
	if t.entries[idx].val != nil {
		t.dead++
	}
	t.entries[idx].val = nil
}

func (t *Table) compact() {
	live := t.entries[:0]
	for _, e := range t.entries {
		if e.val != nil {
			live = append(live, e)
		}
	}
	clear(t.entries[len(live):])
	t.entries = live
	clear(t.hash)
	for i, e := range t.entries {
		t.hash[hashKey(e.key)] = i
	}
	t.dead = 0
}

// Next returns the key/value pair following k in traversal order. A nil
// k starts the traversal; a nil returned key ends it.
func (t *Table) Next(k Value) (Value, Value, error) {
	start := 0
	if k != nil {
		if i, ok := arrayIndex(k); ok && i <= len(t.arr) {
			start = i
		} else {
			idx, ok := t.hash[hashKey(k)]
			if !ok {
				return nil, nil, errInvalidKey
			}
			start = len(t.arr) + idx + 1
		}
	}
	for i := start; i < len(t.arr); i++ {
		if t.arr[i] != nil {
			return Number(i + 1), t.arr[i], nil
		}
	}
	if start < len(t.arr) {
		start = len(t.arr)
	}
	for i := start - len(t.arr); i < len(t.entries); i++ {
		if e := t.entries[i]; e.val != nil {
			return e.key, e.val, nil
		}
	}
	return nil, nil, nil
}

// Len returns a border of the table: an index n such that t[n] is non-nil
// and t[n+1] is nil, or 0 if t[1] is nil.
//
// If the array part ends in nil a border is found by binary search inside
// it. Otherwise, when the hash part is empty the array length is the
// border; if not, the hash part is probed upward from the array length.
func (t *Table) Len() int {
	n := len(t.arr)
	if n > 0 && t.arr[n-1] == nil {
		lo, hi := 0, n
		for hi-lo > 1 {
			m := (lo + hi) / 2
			if t.arr[m-1] == nil {
				hi = m
			} else {
				lo = m
			}
		}
		return lo
	}
	if len(t.entries) == t.dead {
		return n
	}
	return t.unboundSearch(n)
}

func (t *Table) unboundSearch(j int) int {
	i := j
	j++
	for t.GetInt(j) != nil {
		i = j
		if j > math.MaxInt32/2 {
			// Pathological table; fall back to a linear scan.
			k := 1
			for t.GetInt(k) != nil {
				k++
			}
			return k - 1
		}
		j *= 2
	}
	for j-i > 1 {
		m := (i + j) / 2
		if t.GetInt(m) == nil {
			j = m
		} else {
			i = m
		}
	}
	return i
}

// Count returns the number of non-nil fields.
func (t *Table) Count() int {
	n := len(t.entries) - t.dead
	for _, v := range t.arr {
		if v != nil {
			n++
		}
	}
	return n
}
