// Package config handles moonvm.toml runtime configuration.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
	"github.com/chazu/moonvm/vm"
	"github.com/tliron/commonlog"
)

// FileName is the configuration file FindAndLoad looks for.
const FileName = "moonvm.toml"

var log = commonlog.GetLogger("moonvm.config")

// Config represents a moonvm.toml file.
type Config struct {
	Runtime Runtime `toml:"runtime"`
	Hooks   Hooks   `toml:"hooks"`
	Log     Log     `toml:"log"`
	Run     Run     `toml:"run"`

	// Dir is the directory containing the file (set at load time).
	Dir string `toml:"-"`
}

// Runtime configures VM limits.
type Runtime struct {
	MaxCallDepth   int `toml:"max-call-depth"`
	MaxNativeDepth int `toml:"max-native-depth"`
}

// Hooks configures the count hook.
type Hooks struct {
	Count int `toml:"count"`
}

// Log configures logging.
type Log struct {
	Verbosity int    `toml:"verbosity"`
	File      string `toml:"file"`
}

// Run names what to execute.
type Run struct {
	Entry   string `toml:"entry"`
	Profile bool   `toml:"profile"`
}

// Default returns the configuration used when no file is present.
func Default() *Config {
	return &Config{
		Runtime: Runtime{
			MaxCallDepth:   vm.DefaultMaxCallDepth,
			MaxNativeDepth: vm.DefaultMaxNativeDepth,
		},
	}
}

// Load parses the configuration file at path. Unset values keep their
// defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read %s: %w", path, err)
	}

	c := Default()
	md, err := toml.Decode(string(data), c)
	if err != nil {
		return nil, fmt.Errorf("parse error in %s: %w", path, err)
	}
	for _, key := range md.Undecoded() {
		log.Warningf("%s: unknown key %q ignored", path, key.String())
	}

	c.Dir, err = filepath.Abs(filepath.Dir(path))
	if err != nil {
		return nil, fmt.Errorf("cannot resolve path %s: %w", path, err)
	}

	if c.Runtime.MaxCallDepth <= 0 {
		log.Warningf("%s: max-call-depth %d invalid, using %d", path, c.Runtime.MaxCallDepth, vm.DefaultMaxCallDepth)
		c.Runtime.MaxCallDepth = vm.DefaultMaxCallDepth
	}
	if c.Runtime.MaxNativeDepth <= 0 {
		log.Warningf("%s: max-native-depth %d invalid, using %d", path, c.Runtime.MaxNativeDepth, vm.DefaultMaxNativeDepth)
		c.Runtime.MaxNativeDepth = vm.DefaultMaxNativeDepth
	}
	if c.Hooks.Count < 0 {
		log.Warningf("%s: hook count %d invalid, disabling", path, c.Hooks.Count)
		c.Hooks.Count = 0
	}
	return c, nil
}

// FindAndLoad walks up from startDir to find a moonvm.toml file, then
// loads and returns it. Returns nil if no file is found.
func FindAndLoad(startDir string) (*Config, error) {
	dir, err := filepath.Abs(startDir)
	if err != nil {
		return nil, err
	}

	for {
		path := filepath.Join(dir, FileName)
		if _, err := os.Stat(path); err == nil {
			return Load(path)
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			return nil, nil
		}
		dir = parent
	}
}

// RuntimeOptions converts the configuration to runtime options. The count
// hook itself is installed by the caller; only its period is carried.
func (c *Config) RuntimeOptions() vm.Options {
	opts := vm.Options{
		MaxCallDepth:   c.Runtime.MaxCallDepth,
		MaxNativeDepth: c.Runtime.MaxNativeDepth,
	}
	if c.Hooks.Count > 0 {
		opts.HookMask = vm.MaskCount
		opts.HookCount = c.Hooks.Count
	}
	return opts
}

// EntryPath returns the entry chunk path resolved against Dir.
func (c *Config) EntryPath() string {
	return c.resolve(c.Run.Entry)
}

// LogPath returns the log file path resolved against Dir, or "".
func (c *Config) LogPath() string {
	return c.resolve(c.Log.File)
}

func (c *Config) resolve(p string) string {
	if p == "" || filepath.IsAbs(p) || c.Dir == "" {
		return p
	}
	return filepath.Join(c.Dir, p)
}
