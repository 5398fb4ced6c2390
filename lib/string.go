package lib

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/chazu/moonvm/vm"
)

// maxStringSize bounds strings built by rep.
const maxStringSize = 1 << 30

// ---------------------------------------------------------------------------
// String library (no patterns)
// ---------------------------------------------------------------------------

func openString(rt *vm.Runtime) *vm.Table {
	s := rt.StringLibrary()
	if s == nil {
		s = vm.NewTable(0, 16)
		meta := vm.NewTable(0, 1)
		meta.SetString("__index", s)
		rt.SetTypeMetatable(vm.TypeString, meta)
	}

	register(s, "len", func(t *vm.Thread, args []vm.Value) ([]vm.Value, error) {
		if str, ok := arg(args, 0).(*vm.String); ok {
			return []vm.Value{vm.Number(str.Len())}, nil
		}
		str, err := checkString(args, 0, "len")
		if err != nil {
			return nil, err
		}
		return []vm.Value{vm.Number(len(str))}, nil
	})

	register(s, "sub", func(t *vm.Thread, args []vm.Value) ([]vm.Value, error) {
		str, err := checkString(args, 0, "sub")
		if err != nil {
			return nil, err
		}
		i, err := optInt(args, 1, "sub", 1)
		if err != nil {
			return nil, err
		}
		j, err := optInt(args, 2, "sub", -1)
		if err != nil {
			return nil, err
		}
		i, j = clampRange(i, j, len(str))
		if i > j {
			return []vm.Value{vm.NewString("")}, nil
		}
		return []vm.Value{vm.NewString(str[i-1 : j])}, nil
	})

	register(s, "upper", func(t *vm.Thread, args []vm.Value) ([]vm.Value, error) {
		str, err := checkString(args, 0, "upper")
		if err != nil {
			return nil, err
		}
		return []vm.Value{vm.NewString(mapASCII(str, 'a', 'z', 'A'-'a'))}, nil
	})

	register(s, "lower", func(t *vm.Thread, args []vm.Value) ([]vm.Value, error) {
		str, err := checkString(args, 0, "lower")
		if err != nil {
			return nil, err
		}
		return []vm.Value{vm.NewString(mapASCII(str, 'A', 'Z', 'a'-'A'))}, nil
	})

	register(s, "rep", func(t *vm.Thread, args []vm.Value) ([]vm.Value, error) {
		str, err := checkString(args, 0, "rep")
		if err != nil {
			return nil, err
		}
		n, err := checkInt(args, 1, "rep")
		if err != nil {
			return nil, err
		}
		sep := ""
		if arg(args, 2) != nil {
			if sep, err = checkString(args, 2, "rep"); err != nil {
				return nil, err
			}
		}
		if n <= 0 {
			return []vm.Value{vm.NewString("")}, nil
		}
		if (len(str)+len(sep))*n > maxStringSize {
			return nil, errors.New("resulting string too large")
		}
		var b strings.Builder
		b.Grow(len(str)*n + len(sep)*(n-1))
		for k := range n {
			if k > 0 {
				b.WriteString(sep)
			}
			b.WriteString(str)
		}
		return []vm.Value{vm.NewString(b.String())}, nil
	})

	register(s, "reverse", func(t *vm.Thread, args []vm.Value) ([]vm.Value, error) {
		str, err := checkString(args, 0, "reverse")
		if err != nil {
			return nil, err
		}
		out := make([]byte, len(str))
		for i := range len(str) {
			out[len(str)-1-i] = str[i]
		}
		return []vm.Value{vm.NewString(string(out))}, nil
	})

	register(s, "byte", func(t *vm.Thread, args []vm.Value) ([]vm.Value, error) {
		str, err := checkString(args, 0, "byte")
		if err != nil {
			return nil, err
		}
		i, err := optInt(args, 1, "byte", 1)
		if err != nil {
			return nil, err
		}
		j, err := optInt(args, 2, "byte", i)
		if err != nil {
			return nil, err
		}
		i, j = clampRange(i, j, len(str))
		if i > j {
			return nil, nil
		}
		out := make([]vm.Value, 0, j-i+1)
		for k := i; k <= j; k++ {
			out = append(out, vm.Number(str[k-1]))
		}
		return out, nil
	})

	register(s, "char", func(t *vm.Thread, args []vm.Value) ([]vm.Value, error) {
		out := make([]byte, len(args))
		for i := range args {
			c, err := checkInt(args, i, "char")
			if err != nil {
				return nil, err
			}
			if c < 0 || c > 255 {
				return nil, argError("char", i, "value out of range")
			}
			out[i] = byte(c)
		}
		return []vm.Value{vm.NewString(string(out))}, nil
	})

	register(s, "format", strFormat)

	return s
}

// clampRange converts Lua's 1-based, possibly negative [i, j] into a
// range within a string of length n. i > j means empty.
func clampRange(i, j, n int) (int, int) {
	if i < 0 {
		i = max(n+i+1, 1)
	} else if i == 0 {
		i = 1
	}
	if j < 0 {
		j = n + j + 1
	} else if j > n {
		j = n
	}
	return i, j
}

func mapASCII(s string, lo, hi byte, delta int) string {
	b := []byte(s)
	for i, c := range b {
		if c >= lo && c <= hi {
			b[i] = byte(int(c) + delta)
		}
	}
	return string(b)
}

// ---------------------------------------------------------------------------
// string.format
// ---------------------------------------------------------------------------

func strFormat(t *vm.Thread, args []vm.Value) ([]vm.Value, error) {
	fmtStr, err := checkString(args, 0, "format")
	if err != nil {
		return nil, err
	}
	var b strings.Builder
	argi := 0
	for i := 0; i < len(fmtStr); i++ {
		c := fmtStr[i]
		if c != '%' {
			b.WriteByte(c)
			continue
		}
		i++
		if i >= len(fmtStr) {
			return nil, errors.New("invalid option '%' to 'format'")
		}
		if fmtStr[i] == '%' {
			b.WriteByte('%')
			continue
		}

		// flags, then at most two digits each of width and precision
		start := i
		for i < len(fmtStr) && strings.IndexByte("-+ #0", fmtStr[i]) >= 0 {
			i++
		}
		if i-start > 5 {
			return nil, errors.New("invalid format (repeated flags)")
		}
		for k := 0; k < 2 && i < len(fmtStr) && isDigit(fmtStr[i]); k++ {
			i++
		}
		if i < len(fmtStr) && fmtStr[i] == '.' {
			i++
			for k := 0; k < 2 && i < len(fmtStr) && isDigit(fmtStr[i]); k++ {
				i++
			}
		}
		if i >= len(fmtStr) || isDigit(fmtStr[i]) {
			return nil, errors.New("invalid format (width or precision too long)")
		}
		spec := "%" + fmtStr[start:i]
		conv := fmtStr[i]

		argi++
		switch conv {
		case 'd', 'i':
			n, err := checkNumber(args, argi, "format")
			if err != nil {
				return nil, err
			}
			fmt.Fprintf(&b, spec+"d", int64(n))
		case 'u':
			n, err := checkNumber(args, argi, "format")
			if err != nil {
				return nil, err
			}
			fmt.Fprintf(&b, spec+"d", uint64(int64(n)))
		case 'c':
			n, err := checkNumber(args, argi, "format")
			if err != nil {
				return nil, err
			}
			b.WriteByte(byte(int(n)))
		case 'o', 'x', 'X':
			n, err := checkNumber(args, argi, "format")
			if err != nil {
				return nil, err
			}
			fmt.Fprintf(&b, spec+string(conv), uint64(int64(n)))
		case 'e', 'E', 'f', 'g', 'G':
			n, err := checkNumber(args, argi, "format")
			if err != nil {
				return nil, err
			}
			if (conv == 'g' || conv == 'G') && !strings.Contains(spec, ".") {
				spec += ".6"
			}
			b.WriteString(formatFloat(spec+string(conv), n))
		case 'q':
			str, err := checkString(args, argi, "format")
			if err != nil {
				return nil, err
			}
			writeQuoted(&b, str)
		case 's':
			if err := checkAny(args, argi, "format"); err != nil {
				return nil, err
			}
			sv, err := tostring(t, args[argi])
			if err != nil {
				return nil, err
			}
			fmt.Fprintf(&b, spec+"s", sv.(*vm.String).String())
		default:
			return nil, fmt.Errorf("invalid option '%%%c' to 'format'", conv)
		}
	}
	return []vm.Value{vm.NewString(b.String())}, nil
}

func isDigit(c byte) bool { return c >= '0' && c <= '9' }

// formatFloat applies a C float conversion. Infinities and NaN print the
// way C's printf prints them.
func formatFloat(spec string, n float64) string {
	s := fmt.Sprintf(spec, n)
	switch {
	case strings.Contains(s, "+Inf"):
		return strings.Replace(s, "+Inf", "inf", 1)
	case strings.Contains(s, "-Inf"):
		return strings.Replace(s, "-Inf", "-inf", 1)
	case strings.Contains(s, "Inf"):
		return strings.Replace(s, "Inf", "inf", 1)
	case strings.Contains(s, "NaN"):
		return strings.Replace(s, "NaN", "nan", 1)
	}
	return s
}

// writeQuoted writes s as a Lua string literal that reads back as s.
func writeQuoted(b *strings.Builder, s string) {
	b.WriteByte('"')
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c == '"' || c == '\\':
			b.WriteByte('\\')
			b.WriteByte(c)
		case c == '\n':
			b.WriteString("\\\n")
		case c < 0x20 || c == 0x7f:
			if i+1 < len(s) && isDigit(s[i+1]) {
				fmt.Fprintf(b, `\%03d`, c)
			} else {
				b.WriteString(`\` + strconv.Itoa(int(c)))
			}
		default:
			b.WriteByte(c)
		}
	}
	b.WriteByte('"')
}
