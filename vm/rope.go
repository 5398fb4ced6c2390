package vm

import "strings"

// String is an immutable Lua string.
//
// A String is either flat (its bytes live in s) or a rope node whose
// content is left followed by right. Rope nodes make repeated
// concatenation cheap; the first operation that needs the bytes flattens
// the node in place and drops the children. Substrings of a flat String
// share its backing array.
type String struct {
	s           string
	left, right *String
	n           int
	depth       int
}

// ropeFlattenLen is the size under which Concat copies bytes instead of
// building a node.
const ropeFlattenLen = 32

// NewString returns a flat String holding s.
func NewString(s string) *String {
	return &String{s: s, n: len(s)}
}

// Type implements Value.
func (*String) Type() Type { return TypeString }

// Len returns the byte length.
func (s *String) Len() int { return s.n }

// IsRope reports whether s is an unflattened concatenation node.
func (s *String) IsRope() bool { return s.left != nil }

// Depth returns the height of the rope rooted at s (0 for flat strings).
func (s *String) Depth() int { return s.depth }

// String returns the byte content, flattening s if needed.
func (s *String) String() string {
	if s.left == nil {
		return s.s
	}
	var b strings.Builder
	b.Grow(s.n)
	// Iterative in-order walk; left-deep chains from repeated a = a .. x
	// would otherwise recurse once per concatenation.
	stack := []*String{s}
	for len(stack) > 0 {
		top := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if top.left == nil {
			b.WriteString(top.s)
			continue
		}
		stack = append(stack, top.right, top.left)
	}
	s.s = b.String()
	s.left, s.right = nil, nil
	s.depth = 0
	return s.s
}

// Equal compares content.
func (s *String) Equal(o *String) bool {
	if s == o {
		return true
	}
	if s.n != o.n {
		return false
	}
	return s.String() == o.String()
}

// Compare orders strings bytewise.
func (s *String) Compare(o *String) int {
	return strings.Compare(s.String(), o.String())
}

// Sub returns the bytes in [i, j) as a String sharing storage with s.
func (s *String) Sub(i, j int) *String {
	return NewString(s.String()[i:j])
}

// Concat returns a .. b.
func Concat(a, b *String) *String {
	switch {
	case a.n == 0:
		return b
	case b.n == 0:
		return a
	case a.n+b.n <= ropeFlattenLen:
		return NewString(a.String() + b.String())
	}
	d := a.depth
	if b.depth > d {
		d = b.depth
	}
	return &String{left: a, right: b, n: a.n + b.n, depth: d + 1}
}

// ConcatAll concatenates parts by splitting the list at its midpoint
// recursively, so the resulting rope has logarithmic depth in len(parts).
func ConcatAll(parts []*String) *String {
	switch len(parts) {
	case 0:
		return NewString("")
	case 1:
		return parts[0]
	case 2:
		return Concat(parts[0], parts[1])
	}
	mid := len(parts) / 2
	return Concat(ConcatAll(parts[:mid]), ConcatAll(parts[mid:]))
}
