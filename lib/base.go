package lib

import (
	"errors"
	"io"
	"strconv"
	"strings"

	"github.com/chazu/moonvm/vm"
)

// maxUnpack bounds the number of values unpack may produce.
const maxUnpack = 1 << 20

// ---------------------------------------------------------------------------
// Base library
// ---------------------------------------------------------------------------

func openBase(rt *vm.Runtime, g *vm.Table, opts Options) {
	g.SetString("_G", g)
	g.SetString("_VERSION", vm.NewString("Lua 5.2"))

	register(g, "print", func(t *vm.Thread, args []vm.Value) ([]vm.Value, error) {
		var b strings.Builder
		for i, v := range args {
			if i > 0 {
				b.WriteByte('\t')
			}
			s, err := tostring(t, v)
			if err != nil {
				return nil, err
			}
			b.WriteString(s.(*vm.String).String())
		}
		b.WriteByte('\n')
		_, err := io.WriteString(opts.Stdout, b.String())
		return nil, err
	})

	register(g, "type", func(t *vm.Thread, args []vm.Value) ([]vm.Value, error) {
		if err := checkAny(args, 0, "type"); err != nil {
			return nil, err
		}
		return []vm.Value{vm.NewString(vm.TypeName(args[0]))}, nil
	})

	register(g, "tostring", func(t *vm.Thread, args []vm.Value) ([]vm.Value, error) {
		if err := checkAny(args, 0, "tostring"); err != nil {
			return nil, err
		}
		s, err := tostring(t, args[0])
		if err != nil {
			return nil, err
		}
		return []vm.Value{s}, nil
	})

	register(g, "tonumber", baseToNumber)

	register(g, "rawget", func(t *vm.Thread, args []vm.Value) ([]vm.Value, error) {
		tbl, err := checkTable(args, 0, "rawget")
		if err != nil {
			return nil, err
		}
		if err := checkAny(args, 1, "rawget"); err != nil {
			return nil, err
		}
		return []vm.Value{tbl.Get(args[1])}, nil
	})

	register(g, "rawset", func(t *vm.Thread, args []vm.Value) ([]vm.Value, error) {
		tbl, err := checkTable(args, 0, "rawset")
		if err != nil {
			return nil, err
		}
		if err := checkAny(args, 2, "rawset"); err != nil {
			return nil, err
		}
		if err := tbl.Set(args[1], args[2]); err != nil {
			return nil, err
		}
		return []vm.Value{tbl}, nil
	})

	register(g, "rawequal", func(t *vm.Thread, args []vm.Value) ([]vm.Value, error) {
		if err := checkAny(args, 1, "rawequal"); err != nil {
			return nil, err
		}
		return []vm.Value{vm.Bool(vm.RawEqual(args[0], args[1]))}, nil
	})

	register(g, "rawlen", func(t *vm.Thread, args []vm.Value) ([]vm.Value, error) {
		switch v := arg(args, 0).(type) {
		case *vm.Table:
			return []vm.Value{vm.Number(v.Len())}, nil
		case *vm.String:
			return []vm.Value{vm.Number(v.Len())}, nil
		}
		return nil, argError("rawlen", 0, "table or string expected")
	})

	register(g, "setmetatable", func(t *vm.Thread, args []vm.Value) ([]vm.Value, error) {
		tbl, err := checkTable(args, 0, "setmetatable")
		if err != nil {
			return nil, err
		}
		var mt *vm.Table
		switch m := arg(args, 1).(type) {
		case nil:
			if len(args) < 2 {
				return nil, typeError("setmetatable", 1, "nil or table", nil)
			}
		case *vm.Table:
			mt = m
		default:
			return nil, typeError("setmetatable", 1, "nil or table", m)
		}
		if old := tbl.Metatable(); old != nil && old.GetString("__metatable") != nil {
			return nil, errors.New("cannot change a protected metatable")
		}
		tbl.SetMetatable(mt)
		return []vm.Value{tbl}, nil
	})

	register(g, "getmetatable", func(t *vm.Thread, args []vm.Value) ([]vm.Value, error) {
		if err := checkAny(args, 0, "getmetatable"); err != nil {
			return nil, err
		}
		mt := rt.Metatable(args[0])
		if mt == nil {
			return []vm.Value{nil}, nil
		}
		if protected := mt.GetString("__metatable"); protected != nil {
			return []vm.Value{protected}, nil
		}
		return []vm.Value{mt}, nil
	})

	register(g, "assert", func(t *vm.Thread, args []vm.Value) ([]vm.Value, error) {
		if err := checkAny(args, 0, "assert"); err != nil {
			return nil, err
		}
		if vm.Truthy(args[0]) {
			return args, nil
		}
		if len(args) > 1 {
			t.Raise(args[1])
		}
		return nil, errors.New("assertion failed!")
	})

	register(g, "error", func(t *vm.Thread, args []vm.Value) ([]vm.Value, error) {
		v := arg(args, 0)
		level, err := optInt(args, 1, "error", 1)
		if err != nil {
			return nil, err
		}
		if s, ok := v.(*vm.String); ok && level > 0 {
			v = vm.NewString(t.Where(level) + s.String())
		}
		t.Raise(v)
		return nil, nil
	})

	register(g, "pcall", func(t *vm.Thread, args []vm.Value) ([]vm.Value, error) {
		if err := checkAny(args, 0, "pcall"); err != nil {
			return nil, err
		}
		return protectedResults(t.PCall(args[0], args[1:], nil)), nil
	})

	register(g, "xpcall", func(t *vm.Thread, args []vm.Value) ([]vm.Value, error) {
		if err := checkAny(args, 1, "xpcall"); err != nil {
			return nil, err
		}
		return protectedResults(t.PCall(args[0], args[2:], args[1])), nil
	})

	register(g, "select", func(t *vm.Thread, args []vm.Value) ([]vm.Value, error) {
		n := len(args) - 1
		if s, ok := arg(args, 0).(*vm.String); ok && s.String() == "#" {
			return []vm.Value{vm.Number(n)}, nil
		}
		i, err := checkInt(args, 0, "select")
		if err != nil {
			return nil, err
		}
		switch {
		case i < 0:
			i = n + i
		case i > n:
			i = n
		default:
			i--
		}
		if i < 0 {
			return nil, argError("select", 0, "index out of range")
		}
		return args[1+i:], nil
	})

	next := vm.NewGoFunction("next", baseNext)
	g.SetString("next", next)

	register(g, "pairs", func(t *vm.Thread, args []vm.Value) ([]vm.Value, error) {
		if err := checkAny(args, 0, "pairs"); err != nil {
			return nil, err
		}
		if tm := rt.MetaField(args[0], "__pairs"); tm != nil {
			rets := t.Invoke(tm, args[0])
			return []vm.Value{arg(rets, 0), arg(rets, 1), arg(rets, 2)}, nil
		}
		if _, ok := args[0].(*vm.Table); !ok {
			return nil, typeError("pairs", 0, "table", args[0])
		}
		return []vm.Value{next, args[0], nil}, nil
	})

	ipairsIter := vm.NewGoFunction("ipairs_iterator", func(t *vm.Thread, args []vm.Value) ([]vm.Value, error) {
		tbl, err := checkTable(args, 0, "ipairs_iterator")
		if err != nil {
			return nil, err
		}
		i, err := checkInt(args, 1, "ipairs_iterator")
		if err != nil {
			return nil, err
		}
		i++
		v := tbl.GetInt(i)
		if v == nil {
			return []vm.Value{nil}, nil
		}
		return []vm.Value{vm.Number(i), v}, nil
	})

	register(g, "ipairs", func(t *vm.Thread, args []vm.Value) ([]vm.Value, error) {
		if err := checkAny(args, 0, "ipairs"); err != nil {
			return nil, err
		}
		if tm := rt.MetaField(args[0], "__ipairs"); tm != nil {
			rets := t.Invoke(tm, args[0])
			return []vm.Value{arg(rets, 0), arg(rets, 1), arg(rets, 2)}, nil
		}
		if _, ok := args[0].(*vm.Table); !ok {
			return nil, typeError("ipairs", 0, "table", args[0])
		}
		return []vm.Value{ipairsIter, args[0], vm.Number(0)}, nil
	})

	register(g, "unpack", func(t *vm.Thread, args []vm.Value) ([]vm.Value, error) {
		tbl, err := checkTable(args, 0, "unpack")
		if err != nil {
			return nil, err
		}
		i, err := optInt(args, 1, "unpack", 1)
		if err != nil {
			return nil, err
		}
		var j int
		if arg(args, 2) == nil {
			n, _ := vm.ToNumber(t.Len(tbl))
			j = int(n)
		} else if j, err = checkInt(args, 2, "unpack"); err != nil {
			return nil, err
		}
		if i > j {
			return nil, nil
		}
		if j-i >= maxUnpack {
			return nil, errors.New("too many results to unpack")
		}
		out := make([]vm.Value, 0, j-i+1)
		for k := i; k <= j; k++ {
			out = append(out, tbl.GetInt(k))
		}
		return out, nil
	})
}

func protectedResults(rets []vm.Value, perr *vm.Error) []vm.Value {
	if perr != nil {
		return []vm.Value{vm.False, perr.Value}
	}
	return append([]vm.Value{vm.True}, rets...)
}

func baseNext(t *vm.Thread, args []vm.Value) ([]vm.Value, error) {
	tbl, err := checkTable(args, 0, "next")
	if err != nil {
		return nil, err
	}
	k, v, err := tbl.Next(arg(args, 1))
	if err != nil {
		return nil, err
	}
	if k == nil {
		return []vm.Value{nil}, nil
	}
	return []vm.Value{k, v}, nil
}

func baseToNumber(t *vm.Thread, args []vm.Value) ([]vm.Value, error) {
	if arg(args, 1) == nil {
		if err := checkAny(args, 0, "tonumber"); err != nil {
			return nil, err
		}
		if n, ok := vm.ToNumber(args[0]); ok {
			return []vm.Value{vm.Number(n)}, nil
		}
		return []vm.Value{nil}, nil
	}
	base, err := checkInt(args, 1, "tonumber")
	if err != nil {
		return nil, err
	}
	if base < 2 || base > 36 {
		return nil, argError("tonumber", 1, "base out of range")
	}
	s, err := checkString(args, 0, "tonumber")
	if err != nil {
		return nil, err
	}
	n, perr := strconv.ParseInt(strings.TrimSpace(s), base, 64)
	if perr != nil {
		return []vm.Value{nil}, nil
	}
	return []vm.Value{vm.Number(n)}, nil
}

