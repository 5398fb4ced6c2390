package lib

import "github.com/chazu/moonvm/vm"

// ---------------------------------------------------------------------------
// Coroutine library
// ---------------------------------------------------------------------------

func openCoroutine() *vm.Table {
	co := vm.NewTable(0, 8)

	register(co, "create", func(t *vm.Thread, args []vm.Value) ([]vm.Value, error) {
		fn, err := checkFunction(args, 0, "create")
		if err != nil {
			return nil, err
		}
		return []vm.Value{t.NewCoroutine(fn)}, nil
	})

	register(co, "resume", func(t *vm.Thread, args []vm.Value) ([]vm.Value, error) {
		c, err := checkCoroutine(args, 0, "resume")
		if err != nil {
			return nil, err
		}
		return protectedResults(t.Resume(c, args[1:])), nil
	})

	register(co, "yield", func(t *vm.Thread, args []vm.Value) ([]vm.Value, error) {
		return t.Yield(args), nil
	})

	register(co, "status", func(t *vm.Thread, args []vm.Value) ([]vm.Value, error) {
		c, err := checkCoroutine(args, 0, "status")
		if err != nil {
			return nil, err
		}
		return []vm.Value{vm.NewString(c.Status().String())}, nil
	})

	register(co, "running", func(t *vm.Thread, args []vm.Value) ([]vm.Value, error) {
		return []vm.Value{t.Handle(), vm.Bool(t.IsMain())}, nil
	})

	register(co, "wrap", func(t *vm.Thread, args []vm.Value) ([]vm.Value, error) {
		fn, err := checkFunction(args, 0, "wrap")
		if err != nil {
			return nil, err
		}
		c := t.NewCoroutine(fn)
		wrapped := vm.NewGoFunction("wrap", func(t *vm.Thread, args []vm.Value) ([]vm.Value, error) {
			rets, perr := t.Resume(c, args)
			if perr == nil {
				return rets, nil
			}
			if s, ok := perr.Value.(*vm.String); ok {
				return nil, &vm.Error{Kind: perr.Kind, Value: vm.NewString(t.Where(1) + s.String()), Cause: perr.Cause}
			}
			return nil, perr
		})
		return []vm.Value{wrapped}, nil
	})

	return co
}

func checkFunction(args []vm.Value, i int, name string) (vm.Value, error) {
	switch fn := arg(args, i).(type) {
	case *vm.Closure, *vm.GoFunction:
		return fn, nil
	}
	return nil, typeError(name, i, "function", arg(args, i))
}

func checkCoroutine(args []vm.Value, i int, name string) (*vm.Coroutine, error) {
	c, ok := arg(args, i).(*vm.Coroutine)
	if !ok {
		return nil, typeError(name, i, "coroutine", arg(args, i))
	}
	return c, nil
}
