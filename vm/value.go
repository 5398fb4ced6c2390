package vm

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Value is a dynamically typed Lua value.
//
// The Go nil interface is Lua nil. Every other value is one of:
//   - Bool
//   - Number
//   - *String
//   - *Table
//   - *Closure or *GoFunction (functions)
//   - *Userdata or LightUserdata
//   - *Coroutine (threads)
//
// Tables, closures, full userdata and coroutines compare by identity;
// everything else compares by value. Strings compare by content no matter
// how they are represented.
type Value interface {
	Type() Type
}

// Type identifies the dynamic type of a Value.
type Type int

const (
	TypeNil Type = iota
	TypeBoolean
	TypeLightUserdata
	TypeNumber
	TypeString
	TypeTable
	TypeFunction
	TypeUserdata
	TypeThread

	numTypes
)

var typeNames = [numTypes]string{
	TypeNil:           "nil",
	TypeBoolean:       "boolean",
	TypeLightUserdata: "userdata",
	TypeNumber:        "number",
	TypeString:        "string",
	TypeTable:         "table",
	TypeFunction:      "function",
	TypeUserdata:      "userdata",
	TypeThread:        "thread",
}

// String returns the name Lua scripts see from type().
func (t Type) String() string {
	if t < 0 || t >= numTypes {
		return fmt.Sprintf("Type(%d)", int(t))
	}
	return typeNames[t]
}

// TypeOf returns the type of v. It accepts the nil Value.
func TypeOf(v Value) Type {
	if v == nil {
		return TypeNil
	}
	return v.Type()
}

// TypeName returns the Lua type name of v.
func TypeName(v Value) string {
	return TypeOf(v).String()
}

// ---------------------------------------------------------------------------
// Scalar value types
// ---------------------------------------------------------------------------

// Bool is a Lua boolean.
type Bool bool

// Type implements Value.
func (Bool) Type() Type { return TypeBoolean }

// Pre-boxed booleans.
const (
	True  = Bool(true)
	False = Bool(false)
)

// Number is a Lua number (an IEEE-754 double).
type Number float64

// Type implements Value.
func (Number) Type() Type { return TypeNumber }

// LightUserdata is an identity-only host handle. It has no metatable of
// its own; the per-type default metatable applies.
type LightUserdata uintptr

// Type implements Value.
func (LightUserdata) Type() Type { return TypeLightUserdata }

// Userdata is an opaque host object with an optional metatable and an
// attached user value.
type Userdata struct {
	Data any
	Meta *Table
	User Value
}

// Type implements Value.
func (*Userdata) Type() Type { return TypeUserdata }

// NewUserdata wraps data in a full userdata.
func NewUserdata(data any) *Userdata {
	return &Userdata{Data: data}
}

// ---------------------------------------------------------------------------
// Truthiness and equality
// ---------------------------------------------------------------------------

// Truthy reports whether v counts as true in a condition. Only nil and
// false are falsy.
func Truthy(v Value) bool {
	switch v := v.(type) {
	case nil:
		return false
	case Bool:
		return bool(v)
	}
	return true
}

// RawEqual compares two values without consulting metamethods.
func RawEqual(a, b Value) bool {
	switch a := a.(type) {
	case nil:
		return b == nil
	case *String:
		bs, ok := b.(*String)
		return ok && a.Equal(bs)
	case Number:
		bn, ok := b.(Number)
		return ok && a == bn
	}
	return a == b
}

// ---------------------------------------------------------------------------
// Coercions
// ---------------------------------------------------------------------------

// ToNumber converts numbers and numeric strings to float64.
func ToNumber(v Value) (float64, bool) {
	switch v := v.(type) {
	case Number:
		return float64(v), true
	case *String:
		return ParseNumber(v.String())
	}
	return 0, false
}

// ToString converts strings and numbers to their string form. Numbers are
// formatted the way the concatenation operator formats them.
func ToString(v Value) (string, bool) {
	switch v := v.(type) {
	case *String:
		return v.String(), true
	case Number:
		return FormatNumber(float64(v)), true
	}
	return "", false
}

// toStringValue is ToString returning a *String, reusing v when it already
// is one so rope structure survives coercion.
func toStringValue(v Value) (*String, bool) {
	switch v := v.(type) {
	case *String:
		return v, true
	case Number:
		return NewString(FormatNumber(float64(v))), true
	}
	return nil, false
}

// FormatNumber formats n using the %.14g convention.
func FormatNumber(n float64) string {
	switch {
	case math.IsInf(n, 1):
		return "inf"
	case math.IsInf(n, -1):
		return "-inf"
	case math.IsNaN(n):
		if math.Signbit(n) {
			return "-nan"
		}
		return "nan"
	}
	if n == math.Trunc(n) && math.Abs(n) < 1e14 && !(n == 0 && math.Signbit(n)) {
		return strconv.FormatInt(int64(n), 10)
	}
	return strconv.FormatFloat(n, 'g', 14, 64)
}

// ParseNumber parses a numeric string: decimal with optional fraction and
// exponent, hexadecimal integers, and hexadecimal floats with a binary
// exponent. Leading and trailing whitespace is ignored.
func ParseNumber(s string) (float64, bool) {
	s = strings.Trim(s, " \t\n\v\f\r")
	if s == "" {
		return 0, false
	}
	neg := false
	body := s
	switch body[0] {
	case '-':
		neg = true
		body = body[1:]
	case '+':
		body = body[1:]
	}
	if body == "" || !(body[0] >= '0' && body[0] <= '9' || body[0] == '.') {
		return 0, false
	}
	if len(body) > 1 && body[0] == '0' && (body[1] == 'x' || body[1] == 'X') {
		f, ok := parseHex(body[2:])
		if !ok {
			return 0, false
		}
		if neg {
			f = -f
		}
		return f, true
	}
	for i := 0; i < len(body); i++ {
		c := body[i]
		if !(c >= '0' && c <= '9' || c == '.' || c == 'e' || c == 'E' || c == '+' || c == '-') {
			return 0, false
		}
	}
	f, err := strconv.ParseFloat(body, 64)
	if err != nil {
		// Out-of-range literals still convert to +-Inf.
		if ne, ok := err.(*strconv.NumError); !ok || ne.Err != strconv.ErrRange {
			return 0, false
		}
	}
	if neg {
		f = -f
	}
	return f, true
}

func parseHex(s string) (float64, bool) {
	var mantissa float64
	exp := 0
	digits := false
	seenDot := false
	i := 0
scan:
	for ; i < len(s); i++ {
		c := s[i]
		var d int
		switch {
		case c >= '0' && c <= '9':
			d = int(c - '0')
		case c >= 'a' && c <= 'f':
			d = int(c-'a') + 10
		case c >= 'A' && c <= 'F':
			d = int(c-'A') + 10
		case c == '.' && !seenDot:
			seenDot = true
			continue
		default:
			break scan
		}
		digits = true
		mantissa = mantissa*16 + float64(d)
		if seenDot {
			exp -= 4
		}
	}
	if !digits {
		return 0, false
	}
	if i < len(s) {
		if s[i] != 'p' && s[i] != 'P' {
			return 0, false
		}
		e, err := strconv.Atoi(s[i+1:])
		if err != nil {
			return 0, false
		}
		exp += e
	}
	return math.Ldexp(mantissa, exp), true
}

// toInteger converts v to an integer if it is a number with an exact
// integral value.
func toInteger(v Value) (int64, bool) {
	f, ok := ToNumber(v)
	if !ok {
		return 0, false
	}
	i := int64(f)
	if float64(i) != f {
		return 0, false
	}
	return i, true
}
