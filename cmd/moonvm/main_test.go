package main

import (
	"bytes"
	"path/filepath"
	"strings"
	"testing"

	"github.com/chazu/moonvm/config"
	"github.com/chazu/moonvm/vm"
	"github.com/chazu/moonvm/vm/chunk"
)

// printArgs builds: print("hello", ...); return 3
func printArgs() *vm.Prototype {
	b := vm.NewProtoBuilder("@hello.lua").Params(0, true)
	b.Env()
	b.Line(1)
	b.ABC(vm.OpGETTABUP, 0, 0, b.K("print"))
	b.LoadK(1, "hello")
	b.ABC(vm.OpVARARG, 2, 0, 0)
	b.ABC(vm.OpCALL, 0, 0, 1)
	b.Line(2)
	b.LoadK(0, 3)
	b.Return(0, 2)
	return b.Build()
}

func TestRunFromImage(t *testing.T) {
	path := filepath.Join(t.TempDir(), "hello.mvc")
	if err := chunk.Save(path, printArgs()); err != nil {
		t.Fatal(err)
	}
	p, err := chunk.Load(path)
	if err != nil {
		t.Fatal(err)
	}

	var stdout, stderr bytes.Buffer
	code := run(p, []string{"a", "b"}, config.Default(), runFlags{}, &stdout, &stderr)
	if code != 3 {
		t.Errorf("exit code = %d, want 3 (stderr: %s)", code, stderr.String())
	}
	if got := stdout.String(); got != "hello\ta\tb\n" {
		t.Errorf("stdout = %q", got)
	}
}

func TestRunProfile(t *testing.T) {
	var stdout, stderr bytes.Buffer
	code := run(printArgs(), nil, config.Default(), runFlags{profile: true, top: 5}, &stdout, &stderr)
	if code != 3 {
		t.Fatalf("exit code = %d", code)
	}
	report := stderr.String()
	for _, want := range []string{"profile:", "main chunk <hello.lua>", "[C] print"} {
		if !strings.Contains(report, want) {
			t.Errorf("profile report missing %q:\n%s", want, report)
		}
	}
}

func TestRunError(t *testing.T) {
	b := vm.NewProtoBuilder("@bad.lua")
	b.Env()
	b.Line(4)
	b.ABC(vm.OpGETTABUP, 0, 0, b.K("error"))
	b.LoadK(1, "broken")
	b.ABC(vm.OpCALL, 0, 2, 1)

	var stdout, stderr bytes.Buffer
	code := run(b.Build(), nil, config.Default(), runFlags{}, &stdout, &stderr)
	if code != 1 {
		t.Fatalf("exit code = %d, want 1", code)
	}
	out := stderr.String()
	if !strings.Contains(out, "moonvm: bad.lua:4: broken") {
		t.Errorf("stderr missing error message:\n%s", out)
	}
	if !strings.Contains(out, "stack traceback:") {
		t.Errorf("stderr missing traceback:\n%s", out)
	}
}

func TestRunTimeout(t *testing.T) {
	// for ever do end
	b := vm.NewProtoBuilder("@loop.lua")
	b.Line(1)
	top := b.NewLabel()
	b.Mark(top)
	b.Jump(vm.OpJMP, 0, top)

	cfg := config.Default()
	cfg.Hooks.Count = 100
	var stdout, stderr bytes.Buffer
	code := run(b.Build(), nil, cfg, runFlags{timeout: 1}, &stdout, &stderr)
	if code != 1 {
		t.Fatalf("exit code = %d, want 1", code)
	}
	if !strings.Contains(stderr.String(), "execution timed out") {
		t.Errorf("stderr = %q", stderr.String())
	}
}
