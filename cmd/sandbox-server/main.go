// Command sandbox-server executes approved programs inside a sandbox pod
// on behalf of a remote codegate harness. Every flag can also be set
// through the environment variable shown in its help text.
package main

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/rhuss/codegate/pkg/debug"
	"github.com/rhuss/codegate/pkg/harness"
	transporthttp "github.com/rhuss/codegate/pkg/transport/http"
)

func main() {
	if err := newCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

func newCommand() *cobra.Command {
	var (
		port        string
		cfg         sandboxConfig
		timeoutSecs int
	)
	cmd := &cobra.Command{
		Use:           "sandbox-server",
		Short:         "Run programs sent by a remote codegate harness",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			debug.Init(debug.Options{})
			if _, err := exec.LookPath(cfg.Interpreter); err != nil {
				slog.Error("interpreter not found", "interpreter", cfg.Interpreter)
				return err
			}
			if cfg.MaxConcurrent <= 0 || timeoutSecs <= 0 {
				return fmt.Errorf("--max-concurrent and --max-timeout must be positive")
			}
			cfg.MaxTimeout = time.Duration(timeoutSecs) * time.Second

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return serve(ctx, ":"+port, newSandboxServer(cfg))
		},
	}
	f := cmd.Flags()
	f.StringVar(&port, "port", env("SANDBOX_PORT", "8080"), "listen port ($SANDBOX_PORT)")
	f.StringVar(&cfg.Interpreter, "interpreter", env("SANDBOX_INTERPRETER", harness.DefaultInterpreter), "interpreter executable ($SANDBOX_INTERPRETER)")
	f.IntVar(&cfg.MaxConcurrent, "max-concurrent", envInt("SANDBOX_MAX_CONCURRENT", 3), "executions run at once ($SANDBOX_MAX_CONCURRENT)")
	f.IntVar(&timeoutSecs, "max-timeout", envInt("SANDBOX_MAX_TIMEOUT", 300), "upper bound in seconds for a request's timeout ($SANDBOX_MAX_TIMEOUT)")
	return cmd
}

func serve(ctx context.Context, addr string, s *sandboxServer) error {
	slog.Info("sandbox server starting",
		"addr", addr,
		"interpreter", s.cfg.Interpreter,
		"runtime", s.runtimeVersion,
		"max_concurrent", s.cfg.MaxConcurrent)
	err := transporthttp.NewServer(s.routes(),
		transporthttp.WithAddr(addr),
		transporthttp.WithShutdownTimeout(10*time.Second),
	).Run(ctx)
	if err != nil {
		slog.Error("sandbox server failed", "error", err)
	}
	return err
}

// detectRuntimeVersion reports the first line "<interpreter> --version"
// prints, or "unknown".
func detectRuntimeVersion(interpreter string) string {
	out, err := exec.Command(interpreter, "--version").CombinedOutput()
	if err != nil {
		return "unknown"
	}
	sc := bufio.NewScanner(bytes.NewReader(out))
	if sc.Scan() && sc.Text() != "" {
		return sc.Text()
	}
	return "unknown"
}

func env(key, def string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) int {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		slog.Warn("ignoring non-numeric setting", "key", key, "value", v)
		return def
	}
	return n
}
