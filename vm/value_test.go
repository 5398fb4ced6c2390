package vm

import (
	"math"
	"testing"
)

func TestFormatNumber(t *testing.T) {
	tests := []struct {
		in   float64
		want string
	}{
		{0, "0"},
		{1, "1"},
		{-1, "-1"},
		{100, "100"},
		{0.5, "0.5"},
		{0.1, "0.1"},
		{1.0 / 3, "0.33333333333333"},
		{1e14, "1e+14"},
		{1e15, "1e+15"},
		{1e100, "1e+100"},
		{math.Copysign(0, -1), "-0"},
		{math.Inf(1), "inf"},
		{math.Inf(-1), "-inf"},
		{math.NaN(), "nan"},
	}
	for _, tt := range tests {
		if got := FormatNumber(tt.in); got != tt.want {
			t.Errorf("FormatNumber(%v) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestParseNumber(t *testing.T) {
	tests := []struct {
		in   string
		want float64
		ok   bool
	}{
		{"10", 10, true},
		{"  42\t\n", 42, true},
		{"-7", -7, true},
		{"+7", 7, true},
		{".5", 0.5, true},
		{"5.", 5, true},
		{"1e2", 100, true},
		{"2E-1", 0.2, true},
		{"0x10", 16, true},
		{"0XfF", 255, true},
		{"-0x10", -16, true},
		{"0x1p4", 16, true},
		{"0xA.8p0", 10.5, true},
		{"0x.8", 0.5, true},
		{"", 0, false},
		{"   ", 0, false},
		{"abc", 0, false},
		{"inf", 0, false},
		{"nan", 0, false},
		{"1e", 0, false},
		{"0x", 0, false},
		{"0x1g", 0, false},
		{"1 2", 0, false},
		{"1_000", 0, false},
		{"--1", 0, false},
		{"+-1", 0, false},
		{"-+1", 0, false},
		{"-", 0, false},
		{"\u00a01", 0, false},
		{"1\u0085", 0, false},
		{"\v\f1\r", 1, true},
	}
	for _, tt := range tests {
		got, ok := ParseNumber(tt.in)
		if ok != tt.ok || (ok && got != tt.want) {
			t.Errorf("ParseNumber(%q) = %v, %v; want %v, %v", tt.in, got, ok, tt.want, tt.ok)
		}
	}
	if f, ok := ParseNumber("1e400"); !ok || !math.IsInf(f, 1) {
		t.Errorf("ParseNumber(1e400) = %v, %v; want +Inf", f, ok)
	}
}

func TestCoercions(t *testing.T) {
	if f, ok := ToNumber(str(" 12 ")); !ok || f != 12 {
		t.Errorf("ToNumber(\" 12 \") = %v, %v", f, ok)
	}
	if _, ok := ToNumber(True); ok {
		t.Error("ToNumber(true) succeeded")
	}
	if s, ok := ToString(Number(1.5)); !ok || s != "1.5" {
		t.Errorf("ToString(1.5) = %q, %v", s, ok)
	}
	if _, ok := ToString(NewTable(0, 0)); ok {
		t.Error("ToString(table) succeeded")
	}
	if i, ok := toInteger(str("3")); !ok || i != 3 {
		t.Errorf("toInteger(\"3\") = %v, %v", i, ok)
	}
	if _, ok := toInteger(Number(3.5)); ok {
		t.Error("toInteger(3.5) succeeded")
	}
}

func TestTruthy(t *testing.T) {
	tests := []struct {
		v    Value
		want bool
	}{
		{nil, false},
		{False, false},
		{True, true},
		{Number(0), true},
		{str(""), true},
		{NewTable(0, 0), true},
	}
	for _, tt := range tests {
		if got := Truthy(tt.v); got != tt.want {
			t.Errorf("Truthy(%s) = %v", FormatValue(tt.v), got)
		}
	}
}

func TestRawEqual(t *testing.T) {
	tbl := NewTable(0, 0)
	tests := []struct {
		a, b Value
		want bool
	}{
		{nil, nil, true},
		{nil, False, false},
		{True, True, true},
		{Number(1), Number(1), true},
		{Number(1), str("1"), false},
		{Number(math.NaN()), Number(math.NaN()), false},
		{str("abc"), str("abc"), true},
		{Concat(NewString("ab"), NewString("c")), str("abc"), true},
		{tbl, tbl, true},
		{tbl, NewTable(0, 0), false},
	}
	for _, tt := range tests {
		if got := RawEqual(tt.a, tt.b); got != tt.want {
			t.Errorf("RawEqual(%s, %s) = %v", FormatValue(tt.a), FormatValue(tt.b), got)
		}
	}
}

func TestTypeNames(t *testing.T) {
	tests := []struct {
		v    Value
		want string
	}{
		{nil, "nil"},
		{True, "boolean"},
		{Number(1), "number"},
		{str("x"), "string"},
		{NewTable(0, 0), "table"},
		{NewGoFunction("f", nil), "function"},
		{NewClosure(&Prototype{}), "function"},
		{NewUserdata(1), "userdata"},
		{LightUserdata(1), "userdata"},
		{&Coroutine{}, "thread"},
	}
	for _, tt := range tests {
		if got := TypeName(tt.v); got != tt.want {
			t.Errorf("TypeName(%T) = %q, want %q", tt.v, got, tt.want)
		}
	}
}

func TestFormatValue(t *testing.T) {
	if got := FormatValue(NewGoFunction("print", nil)); got != "function: builtin: print" {
		t.Errorf("FormatValue(print) = %q", got)
	}
	if got := FormatValue(False); got != "false" {
		t.Errorf("FormatValue(false) = %q", got)
	}
	if got := FormatValue(nil); got != "nil" {
		t.Errorf("FormatValue(nil) = %q", got)
	}
}
