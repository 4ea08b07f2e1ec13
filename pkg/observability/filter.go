package observability

import (
	"fmt"
	"strings"

	"go.uber.org/zap/zapcore"
)

// LevelFilter holds a base log level plus per-module overrides, parsed from
// a RUST_LOG-style directive list such as "router=debug,uart=warn,info".
// Module names match the zap logger name, or a dot-separated prefix of it.
type LevelFilter struct {
	base    zapcore.Level
	modules map[string]zapcore.Level
}

// ParseFilter parses a comma-separated directive list. A bare level sets the
// base; "module=level" overrides one module. An empty string yields a filter
// at the fallback level.
func ParseFilter(s string, fallback zapcore.Level) (*LevelFilter, error) {
	f := &LevelFilter{base: fallback, modules: make(map[string]zapcore.Level)}
	for _, directive := range strings.Split(s, ",") {
		directive = strings.TrimSpace(directive)
		if directive == "" {
			continue
		}
		name, levelStr, found := strings.Cut(directive, "=")
		if !found {
			lvl, err := parseLevel(name)
			if err != nil {
				return nil, err
			}
			f.base = lvl
			continue
		}
		lvl, err := parseLevel(levelStr)
		if err != nil {
			return nil, err
		}
		f.modules[strings.TrimSpace(name)] = lvl
	}
	return f, nil
}

func parseLevel(s string) (zapcore.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "trace", "debug":
		return zapcore.DebugLevel, nil
	case "info":
		return zapcore.InfoLevel, nil
	case "warn", "warning":
		return zapcore.WarnLevel, nil
	case "error":
		return zapcore.ErrorLevel, nil
	default:
		return zapcore.InfoLevel, fmt.Errorf("invalid log level: %q", s)
	}
}

// Enabled reports whether a record from the named logger at lvl passes.
func (f *LevelFilter) Enabled(name string, lvl zapcore.Level) bool {
	return lvl >= f.levelFor(name)
}

func (f *LevelFilter) levelFor(name string) zapcore.Level {
	if len(f.modules) == 0 || name == "" {
		return f.base
	}
	// Longest matching dot-prefix wins: "transport.uart" is governed by a
	// "transport.uart" directive first, then "transport".
	for n := name; n != ""; {
		if lvl, ok := f.modules[n]; ok {
			return lvl
		}
		i := strings.LastIndexByte(n, '.')
		if i < 0 {
			break
		}
		n = n[:i]
	}
	return f.base
}

// Min returns the most verbose level any module may log at; cores are built
// with this so the per-module filter has records to work with.
func (f *LevelFilter) Min() zapcore.Level {
	min := f.base
	for _, lvl := range f.modules {
		if lvl < min {
			min = lvl
		}
	}
	return min
}

// filterCore applies a LevelFilter in front of an inner core.
type filterCore struct {
	zapcore.Core
	filter *LevelFilter
}

func (c *filterCore) Check(ent zapcore.Entry, ce *zapcore.CheckedEntry) *zapcore.CheckedEntry {
	if !c.filter.Enabled(ent.LoggerName, ent.Level) {
		return ce
	}
	return c.Core.Check(ent, ce)
}

func (c *filterCore) With(fields []zapcore.Field) zapcore.Core {
	return &filterCore{Core: c.Core.With(fields), filter: c.filter}
}
