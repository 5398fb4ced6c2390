// moonvm CLI - runs chunk images on the moonvm runtime
package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/chazu/moonvm/config"
	"github.com/chazu/moonvm/lib"
	"github.com/chazu/moonvm/vm"
	"github.com/chazu/moonvm/vm/chunk"
	"github.com/tliron/commonlog"
	_ "github.com/tliron/commonlog/simple"
)

var log = commonlog.GetLogger("moonvm.cli")

func main() {
	verbose := flag.Bool("v", false, "Verbose output (same as -verbosity 1)")
	verbosity := flag.Int("verbosity", -1, "Log verbosity (overrides the config file)")
	list := flag.Bool("l", false, "List the disassembled chunk instead of running it")
	listFull := flag.Bool("ll", false, "List the chunk with constants, locals and upvalues")
	configPath := flag.String("config", "", "Path to moonvm.toml (default: search upward from the working directory)")
	profile := flag.Bool("profile", false, "Print a call profile after running")
	top := flag.Int("top", 20, "Number of functions in the profile report")
	timeout := flag.Duration("timeout", 0, "Abort the script after this long (needs [hooks] count)")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: moonvm [options] [chunk.mvc] [args...]\n\n")
		fmt.Fprintf(os.Stderr, "Runs a moonvm chunk image. Without a chunk argument, [run] entry from moonvm.toml is used.\n\n")
		fmt.Fprintf(os.Stderr, "Options:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nExamples:\n")
		fmt.Fprintf(os.Stderr, "  moonvm main.mvc             # Run a chunk\n")
		fmt.Fprintf(os.Stderr, "  moonvm -l main.mvc          # Show its bytecode\n")
		fmt.Fprintf(os.Stderr, "  moonvm -profile main.mvc a  # Run with arguments and print a call profile\n")
	}
	flag.Parse()

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	level := cfg.Log.Verbosity
	if *verbosity >= 0 {
		level = *verbosity
	} else if *verbose && level < 1 {
		level = 1
	}
	if logPath := cfg.LogPath(); logPath != "" {
		commonlog.Configure(level, &logPath)
	} else {
		commonlog.Configure(level, nil)
	}

	args := flag.Args()
	path := cfg.EntryPath()
	if len(args) > 0 {
		path, args = args[0], args[1:]
	}
	if path == "" {
		flag.Usage()
		os.Exit(2)
	}

	p, err := chunk.Load(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	if *list || *listFull {
		fmt.Print(vm.Disassemble(p, *listFull))
		return
	}

	os.Exit(run(p, args, cfg, runFlags{
		profile: *profile || cfg.Run.Profile,
		top:     *top,
		timeout: *timeout,
	}, os.Stdout, os.Stderr))
}

func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.Load(path)
	}
	cfg, err := config.FindAndLoad(".")
	if err != nil {
		return nil, err
	}
	if cfg == nil {
		return config.Default(), nil
	}
	return cfg, nil
}

type runFlags struct {
	profile bool
	top     int
	timeout time.Duration
}

// run executes p and returns the process exit code.
func run(p *vm.Prototype, args []string, cfg *config.Config, rf runFlags, stdout, stderr io.Writer) int {
	opts := cfg.RuntimeOptions()

	var profiler *vm.Profiler
	var hooks []vm.HookFunc
	if rf.profile {
		profiler = vm.NewProfiler()
		hooks = append(hooks, profiler.Hook())
		opts.HookMask |= vm.MaskCall
	}
	if opts.HookMask&vm.MaskCount != 0 {
		hooks = append(hooks, countHook(rf.timeout))
	} else if rf.timeout > 0 {
		log.Warningf("-timeout has no effect without [hooks] count")
	}
	if len(hooks) > 0 {
		opts.Hook = func(t *vm.Thread, ev vm.HookEvent, line int) {
			for _, h := range hooks {
				h(t, ev, line)
			}
		}
	}

	rt := vm.NewRuntime(opts)
	defer rt.Close()
	lib.Open(rt, lib.Options{Stdout: stdout})

	vals := make([]vm.Value, len(args))
	for i, a := range args {
		vals[i] = vm.NewString(a)
	}
	argTable := vm.NewTable(len(args), 0)
	for i, v := range vals {
		argTable.SetInt(i+1, v)
	}
	rt.Globals().SetString("arg", argTable)

	start := time.Now()
	rets, err := rt.Run(p, vals...)
	log.Infof("run finished in %s", time.Since(start))

	if profiler != nil {
		printProfile(stderr, profiler, rf.top)
	}

	if err != nil {
		fmt.Fprintf(stderr, "moonvm: %v\n", err)
		var le *vm.Error
		if errors.As(err, &le) && le.Traceback != "" {
			fmt.Fprintln(stderr, le.Traceback)
		}
		return 1
	}
	if len(rets) > 0 {
		if n, ok := rets[0].(vm.Number); ok {
			return int(n)
		}
	}
	return 0
}

// countHook returns the count-event hook: it logs progress and aborts the
// script once timeout has elapsed.
func countHook(timeout time.Duration) vm.HookFunc {
	start := time.Now()
	ticks := 0
	return func(t *vm.Thread, ev vm.HookEvent, _ int) {
		if ev != vm.HookCount {
			return
		}
		ticks++
		if ticks%1000 == 0 {
			log.Debugf("count hook fired %d times (%s)", ticks, time.Since(start))
		}
		if timeout > 0 && time.Since(start) > timeout {
			t.Raise(vm.NewString(fmt.Sprintf("execution timed out after %s", timeout)))
		}
	}
}

func printProfile(w io.Writer, p *vm.Profiler, n int) {
	stats := p.Stats()
	fmt.Fprintf(w, "\nprofile: %d functions, %d calls, %d hot\n",
		stats.Functions, stats.TotalInvocations, stats.HotFunctions)
	for _, e := range p.Top(n) {
		hot := ""
		if e.Hot {
			hot = " (hot)"
		}
		fmt.Fprintf(w, "%10d  %s%s\n", e.Count, e.Name, hot)
	}
}
