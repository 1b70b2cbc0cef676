// Package debug configures the process logger and gates verbose output by
// category.
//
// CODEGATE_DEBUG names the categories to log (comma separated, or "all")
// and CODEGATE_LOG_LEVEL sets the level. Both override configuration.
//
//	debug.Log("harness", "spawned", "pid", pid)
//
// Categories in use: harness, gate, steps, engine, archive, http, mcp,
// auth, config.
package debug

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync/atomic"
)

// LevelTrace logs full program text and process output.
const LevelTrace = slog.LevelDebug - 4

const (
	envCategories = "CODEGATE_DEBUG"
	envLevel      = "CODEGATE_LOG_LEVEL"
)

type categorySet map[string]struct{}

func (s categorySet) has(c string) bool {
	if _, ok := s["all"]; ok {
		return true
	}
	_, ok := s[c]
	return ok
}

var enabled atomic.Pointer[categorySet]

func init() {
	setCategories(os.Getenv(envCategories))
}

// Options are the logging settings from configuration.
type Options struct {
	Categories string
	Level      string
	Format     string    // "text" or "json"
	Output     io.Writer // stderr when nil
}

// Init installs the default slog logger and the enabled categories.
func Init(opts Options) {
	setCategories(firstNonEmpty(os.Getenv(envCategories), opts.Categories))

	out := opts.Output
	if out == nil {
		out = os.Stderr
	}
	ho := &slog.HandlerOptions{
		Level:       ParseLevel(firstNonEmpty(os.Getenv(envLevel), opts.Level)),
		ReplaceAttr: renameTrace,
	}
	var h slog.Handler = slog.NewTextHandler(out, ho)
	if strings.EqualFold(opts.Format, "json") {
		h = slog.NewJSONHandler(out, ho)
	}
	slog.SetDefault(slog.New(h))
}

// renameTrace prints LevelTrace as TRACE instead of DEBUG-4.
func renameTrace(_ []string, a slog.Attr) slog.Attr {
	if a.Key == slog.LevelKey {
		if lvl, ok := a.Value.Any().(slog.Level); ok && lvl <= LevelTrace {
			a.Value = slog.StringValue("TRACE")
		}
	}
	return a
}

// Enabled reports whether category is being logged.
func Enabled(category string) bool {
	return (*enabled.Load()).has(category)
}

// Log writes a DEBUG record tagged with category, if it is enabled.
func Log(category, msg string, args ...any) {
	logAt(slog.LevelDebug, category, msg, args)
}

// Trace is Log at LevelTrace.
func Trace(category, msg string, args ...any) {
	logAt(LevelTrace, category, msg, args)
}

func logAt(level slog.Level, category, msg string, args []any) {
	if !Enabled(category) {
		return
	}
	ctx := context.Background()
	l := slog.Default()
	if !l.Enabled(ctx, level) {
		return
	}
	l.With("debug", category).Log(ctx, level, msg, args...)
}

// ParseLevel maps a level name to a slog.Level. Unknown names mean INFO.
func ParseLevel(s string) slog.Level {
	s = strings.ToUpper(strings.TrimSpace(s))
	switch s {
	case "TRACE":
		return LevelTrace
	case "WARNING":
		return slog.LevelWarn
	}
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(s)); err != nil {
		return slog.LevelInfo
	}
	return lvl
}

// Truncate shortens s to maxLen runes, marking the cut with "...".
func Truncate(s string, maxLen int) string {
	n := 0
	for i := range s {
		if n == maxLen {
			return s[:i] + "..."
		}
		n++
	}
	return s
}

func setCategories(spec string) {
	set := categorySet{}
	for c := range strings.SplitSeq(spec, ",") {
		if c = strings.ToLower(strings.TrimSpace(c)); c != "" {
			set[c] = struct{}{}
		}
	}
	enabled.Store(&set)
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
