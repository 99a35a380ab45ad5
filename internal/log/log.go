// Package log wraps logrus with per-module loggers. Every entry carries a
// "_mod" field naming the component that emitted it. Debug output is gated per
// module so a single noisy component can be traced without flooding the rest.
package log

import (
	"fmt"
	"io"
	"strings"

	"gopkg.in/Sirupsen/logrus.v0"
)

type Fields = logrus.Fields

type ModuleMask uint64
type Module uint

const ModuleMaskAll ModuleMask = 0xFFFFFFFFFFFFFFFF

const (
	ModCLI Module = iota + 1
	ModBitstream
	ModLayout
	ModNetlist
	ModLutMap
	ModFaultList
)

var modNames = []string{
	"<error>", "cli", "bitstream", "layout", "netlist", "lutmap", "faultlist",
}

var modDebugMask ModuleMask

// Setup configures the standard logrus logger. level is any logrus level name.
func Setup(level string, out io.Writer) error {
	lvl, err := logrus.ParseLevel(strings.ToLower(level))
	if err != nil {
		return fmt.Errorf("log: %w", err)
	}
	if out != nil {
		logrus.SetOutput(out)
	}
	logrus.SetLevel(lvl)
	if lvl == logrus.DebugLevel {
		modDebugMask = ModuleMaskAll
	}
	return nil
}

func ModuleByName(name string) (Module, bool) {
	for idx, s := range modNames {
		if idx > 0 && s == name {
			return Module(idx), true
		}
	}
	return Module(0), false
}

// ParseModules turns a comma separated list ("bitstream,lutmap" or "all")
// into a debug mask.
func ParseModules(list string) (ModuleMask, error) {
	var mask ModuleMask
	for _, name := range strings.Split(list, ",") {
		name = strings.TrimSpace(name)
		switch {
		case name == "":
		case name == "all":
			mask |= ModuleMaskAll
		default:
			m, ok := ModuleByName(name)
			if !ok {
				return 0, fmt.Errorf("log: unknown module %q", name)
			}
			mask |= m.Mask()
		}
	}
	return mask, nil
}

func EnableDebugModules(mask ModuleMask) {
	modDebugMask |= mask
}

func DisableDebugModules(mask ModuleMask) {
	modDebugMask &^= mask
}

func (mod Module) Mask() ModuleMask {
	return 1 << ModuleMask(mod)
}

func (mod Module) String() string {
	if int(mod) < len(modNames) {
		return modNames[mod]
	}
	return modNames[0]
}

func (mod Module) DebugEnabled() bool {
	return modDebugMask&mod.Mask() != 0
}

func (mod Module) entry() *logrus.Entry {
	return logrus.StandardLogger().WithField("_mod", mod.String())
}

func (mod Module) WithField(key string, value any) *logrus.Entry {
	return mod.entry().WithField(key, value)
}

func (mod Module) WithFields(fields Fields) *logrus.Entry {
	return mod.entry().WithFields(fields)
}

func (mod Module) Debugf(format string, args ...any) {
	if mod.DebugEnabled() {
		mod.entry().Debugf(format, args...)
	}
}

func (mod Module) Infof(format string, args ...any) {
	mod.entry().Infof(format, args...)
}

func (mod Module) Warnf(format string, args ...any) {
	mod.entry().Warnf(format, args...)
}

func (mod Module) Errorf(format string, args ...any) {
	mod.entry().Errorf(format, args...)
}
