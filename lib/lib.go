// Package lib provides the native libraries of a moonvm runtime: the base
// functions, the coroutine library and a pattern-free string subset.
package lib

import (
	"fmt"
	"io"
	"os"

	"github.com/chazu/moonvm/vm"
	"github.com/tliron/commonlog"
)

var log = commonlog.GetLogger("moonvm.lib")

// Options configures the libraries.
type Options struct {
	Stdout io.Writer // print output; os.Stdout when nil
}

// Open installs every library into rt's global table and fills the string
// metatable's __index table.
func Open(rt *vm.Runtime, opts Options) {
	if opts.Stdout == nil {
		opts.Stdout = os.Stdout
	}
	g := rt.Globals()
	openBase(rt, g, opts)
	g.SetString("coroutine", openCoroutine())
	g.SetString("string", openString(rt))
	log.Debugf("libraries opened")
}

func register(tbl *vm.Table, name string, fn vm.GoFunc) {
	tbl.SetString(name, vm.NewGoFunction(name, fn))
}

// ---------------------------------------------------------------------------
// Argument checking
// ---------------------------------------------------------------------------

func arg(args []vm.Value, i int) vm.Value {
	if i < len(args) {
		return args[i]
	}
	return nil
}

func argError(name string, i int, msg string) error {
	return fmt.Errorf("bad argument #%d to '%s' (%s)", i+1, name, msg)
}

func typeError(name string, i int, want string, got vm.Value) error {
	gotName := vm.TypeName(got)
	if got == nil {
		gotName = "no value"
	}
	return argError(name, i, fmt.Sprintf("%s expected, got %s", want, gotName))
}

func checkAny(args []vm.Value, i int, name string) error {
	if i >= len(args) {
		return argError(name, i, "value expected")
	}
	return nil
}

func checkTable(args []vm.Value, i int, name string) (*vm.Table, error) {
	tbl, ok := arg(args, i).(*vm.Table)
	if !ok {
		return nil, typeError(name, i, "table", arg(args, i))
	}
	return tbl, nil
}

func checkNumber(args []vm.Value, i int, name string) (float64, error) {
	n, ok := vm.ToNumber(arg(args, i))
	if !ok {
		return 0, typeError(name, i, "number", arg(args, i))
	}
	return n, nil
}

func checkInt(args []vm.Value, i int, name string) (int, error) {
	n, err := checkNumber(args, i, name)
	if err != nil {
		return 0, err
	}
	return int(n), nil
}

func optInt(args []vm.Value, i int, name string, def int) (int, error) {
	if arg(args, i) == nil {
		return def, nil
	}
	return checkInt(args, i, name)
}

func checkString(args []vm.Value, i int, name string) (string, error) {
	s, ok := vm.ToString(arg(args, i))
	if !ok {
		return "", typeError(name, i, "string", arg(args, i))
	}
	return s, nil
}

// tostring converts v honouring __tostring.
func tostring(t *vm.Thread, v vm.Value) (vm.Value, error) {
	if tm := t.Runtime().MetaField(v, "__tostring"); tm != nil {
		res := first(t.Invoke(tm, v))
		if _, ok := res.(*vm.String); !ok {
			return nil, fmt.Errorf("'__tostring' must return a string")
		}
		return res, nil
	}
	if s, ok := v.(*vm.String); ok {
		return s, nil
	}
	return vm.NewString(vm.FormatValue(v)), nil
}

func first(vals []vm.Value) vm.Value {
	if len(vals) == 0 {
		return nil
	}
	return vals[0]
}
