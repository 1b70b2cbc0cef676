package debug

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"
)

// capture installs a logger writing to a buffer and restores the previous
// logger and categories when the test ends.
func capture(t *testing.T, opts Options) *bytes.Buffer {
	t.Helper()
	prevLogger, prevCats := slog.Default(), enabled.Load()
	t.Cleanup(func() {
		slog.SetDefault(prevLogger)
		enabled.Store(prevCats)
	})
	var buf bytes.Buffer
	opts.Output = &buf
	Init(opts)
	return &buf
}

func TestCategories(t *testing.T) {
	tests := []struct {
		spec string
		on   []string
		off  []string
	}{
		{"", nil, []string{"harness", "all"}},
		{"harness,gate", []string{"harness", "gate"}, []string{"archive", "all"}},
		{" HARNESS ,, Gate ", []string{"harness", "gate"}, []string{"archive"}},
		{"all", []string{"harness", "anything"}, nil},
	}
	for _, tt := range tests {
		t.Run(tt.spec, func(t *testing.T) {
			t.Setenv(envCategories, "")
			capture(t, Options{Categories: tt.spec})
			for _, c := range tt.on {
				if !Enabled(c) {
					t.Errorf("%q should be enabled", c)
				}
			}
			for _, c := range tt.off {
				if Enabled(c) {
					t.Errorf("%q should be disabled", c)
				}
			}
		})
	}
}

func TestEnvironmentWins(t *testing.T) {
	t.Setenv(envCategories, "archive")
	t.Setenv(envLevel, "error")
	buf := capture(t, Options{Categories: "gate", Level: "debug"})

	if Enabled("gate") || !Enabled("archive") {
		t.Error("CODEGATE_DEBUG should replace configured categories")
	}
	Log("archive", "hidden by level")
	slog.Error("shown")
	if out := buf.String(); strings.Contains(out, "hidden") || !strings.Contains(out, "shown") {
		t.Errorf("output = %q", out)
	}
}

func TestLogJSON(t *testing.T) {
	t.Setenv(envCategories, "")
	t.Setenv(envLevel, "")
	buf := capture(t, Options{Categories: "gate", Level: "trace", Format: "json"})

	Log("gate", "approved", "session_id", "sess_1")
	Trace("gate", "program", "code", "print(1)")
	Log("archive", "not logged")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("got %d lines: %q", len(lines), buf.String())
	}
	var first, second map[string]any
	if err := json.Unmarshal([]byte(lines[0]), &first); err != nil {
		t.Fatal(err)
	}
	if err := json.Unmarshal([]byte(lines[1]), &second); err != nil {
		t.Fatal(err)
	}
	if first["msg"] != "approved" || first["debug"] != "gate" || first["level"] != "DEBUG" {
		t.Errorf("first record = %v", first)
	}
	if second["level"] != "TRACE" || second["code"] != "print(1)" {
		t.Errorf("trace record = %v", second)
	}
}

func TestTraceNeedsTraceLevel(t *testing.T) {
	t.Setenv(envCategories, "")
	t.Setenv(envLevel, "")
	buf := capture(t, Options{Categories: "all", Level: "debug"})

	Trace("harness", "full output")
	if buf.Len() != 0 {
		t.Errorf("trace logged at DEBUG: %q", buf.String())
	}
}

func TestParseLevel(t *testing.T) {
	tests := map[string]slog.Level{
		"trace":   LevelTrace,
		"DEBUG":   slog.LevelDebug,
		" info ":  slog.LevelInfo,
		"":        slog.LevelInfo,
		"warn":    slog.LevelWarn,
		"Warning": slog.LevelWarn,
		"error":   slog.LevelError,
		"loud":    slog.LevelInfo,
	}
	for in, want := range tests {
		if got := ParseLevel(in); got != want {
			t.Errorf("ParseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestTruncate(t *testing.T) {
	tests := []struct {
		in   string
		n    int
		want string
	}{
		{"short", 10, "short"},
		{"exact", 5, "exact"},
		{"this is a long string", 10, "this is a ..."},
		{"héllo wörld", 5, "héllo..."},
	}
	for _, tt := range tests {
		if got := Truncate(tt.in, tt.n); got != tt.want {
			t.Errorf("Truncate(%q, %d) = %q, want %q", tt.in, tt.n, got, tt.want)
		}
	}
}
