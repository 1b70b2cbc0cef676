package main

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/rhuss/codegate/pkg/api"
	"github.com/rhuss/codegate/pkg/harness"
	"github.com/rhuss/codegate/pkg/transport"
)

const (
	maxRequestBytes = 10 * 1024 * 1024
	defaultTimeout  = 30 * time.Second
)

type sandboxConfig struct {
	Interpreter   string
	MaxConcurrent int
	MaxTimeout    time.Duration
}

type sandboxServer struct {
	cfg            sandboxConfig
	harness        harness.Harness
	runtimeVersion string
	currentLoad    atomic.Int32
	startTime      time.Time
}

func newSandboxServer(cfg sandboxConfig) *sandboxServer {
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = 3
	}
	if cfg.MaxTimeout <= 0 {
		cfg.MaxTimeout = 300 * time.Second
	}
	return &sandboxServer{
		cfg: cfg,
		harness: harness.NewProcessHarness(harness.ProcessConfig{
			Interpreter:        cfg.Interpreter,
			TimeLimit:          defaultTimeout,
			TrackCreationOrder: true,
		}, nil),
		runtimeVersion: detectRuntimeVersion(cfg.Interpreter),
		startTime:      time.Now(),
	}
}

func (s *sandboxServer) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /execute", s.handleExecute)
	mux.HandleFunc("GET /health", s.handleHealth)
	return transport.Chain(
		transport.Recovery(),
		transport.RequestID(),
		transport.Logging(slog.Default()),
	)(mux)
}

func (s *sandboxServer) handleExecute(w http.ResponseWriter, r *http.Request) {
	current := s.currentLoad.Add(1)
	defer s.currentLoad.Add(-1)
	if int(current) > s.cfg.MaxConcurrent {
		writeError(w, http.StatusTooManyRequests,
			fmt.Sprintf("at capacity (%d/%d concurrent executions)", current, s.cfg.MaxConcurrent))
		return
	}

	var req harness.SandboxRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBytes)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request: "+err.Error())
		return
	}

	timeout := defaultTimeout
	if req.TimeoutSeconds > 0 {
		timeout = min(time.Duration(req.TimeoutSeconds)*time.Second, s.cfg.MaxTimeout)
	}

	workDir, err := os.MkdirTemp("", "codegate-sandbox-*")
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to create working directory: "+err.Error())
		return
	}
	defer os.RemoveAll(workDir)

	if err := seedWorkDir(workDir, req.Files); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	slog.Info("execute request", "code_bytes", len(req.Code), "timeout", timeout, "files", len(req.Files))

	start := time.Now()
	outcome, err := s.harness.Execute(r.Context(), harness.Request{
		SessionID: "sandbox",
		Code:      req.Code,
		WorkDir:   workDir,
		TimeLimit: timeout,
		TitleHint: req.TitleHint,
	})
	if err != nil {
		if api.IsErrorType(err, api.ErrorTypeRejectedProposal) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		slog.Error("execution failed", "error", err)
		writeError(w, http.StatusInternalServerError, "execution failed")
		return
	}

	resp := harness.SandboxResponse{
		Status:          sandboxStatus(outcome.Kind),
		Stdout:          outcome.Stdout,
		Stderr:          outcome.Stderr,
		ExitCode:        outcome.ExitCode,
		ExecutionTimeMs: time.Since(start).Milliseconds(),
	}
	if resp.FilesProduced, resp.FileOrder, err = collectProduced(workDir, outcome.Files); err != nil {
		slog.Error("collecting produced files failed", "error", err)
		writeError(w, http.StatusInternalServerError, "collecting produced files failed")
		return
	}

	slog.Info("execute complete",
		"status", resp.Status,
		"exit_code", resp.ExitCode,
		"duration_ms", resp.ExecutionTimeMs,
		"files_produced", len(resp.FileOrder),
	)
	transport.WriteJSON(w, http.StatusOK, resp)
}

func sandboxStatus(kind api.OutcomeKind) string {
	switch kind {
	case api.OutcomeSuccess:
		return harness.SandboxStatusSuccess
	case api.OutcomeTimeout:
		return harness.SandboxStatusTimeout
	default:
		return harness.SandboxStatusError
	}
}

// seedWorkDir writes the request's files, keyed by relative path, into dir.
func seedWorkDir(dir string, files map[string]string) error {
	for rel, b64 := range files {
		path, err := harness.SafeJoin(dir, rel)
		if err != nil {
			return err
		}
		content, err := base64.StdEncoding.DecodeString(b64)
		if err != nil {
			return fmt.Errorf("failed to decode file %q: %w", rel, err)
		}
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return fmt.Errorf("failed to create directory for %q: %w", rel, err)
		}
		if err := os.WriteFile(path, content, 0o644); err != nil {
			return fmt.Errorf("failed to write file %q: %w", rel, err)
		}
	}
	return nil
}

// collectProduced reads the created and modified files back for the
// response, keeping the harness's report order.
func collectProduced(dir string, files []api.Artifact) (map[string]string, []string, error) {
	if len(files) == 0 {
		return nil, nil, nil
	}
	produced := make(map[string]string, len(files))
	order := make([]string, 0, len(files))
	for _, f := range files {
		content, err := os.ReadFile(filepath.Join(dir, filepath.FromSlash(f.Path)))
		if errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err != nil {
			return nil, nil, fmt.Errorf("read %s: %w", f.Path, err)
		}
		produced[f.Path] = base64.StdEncoding.EncodeToString(content)
		order = append(order, f.Path)
	}
	return produced, order, nil
}

type healthResponse struct {
	Status         string `json:"status"`
	Interpreter    string `json:"interpreter"`
	RuntimeVersion string `json:"runtime_version"`
	Capacity       int    `json:"capacity"`
	CurrentLoad    int    `json:"current_load"`
	UptimeSecs     int64  `json:"uptime_seconds"`
}

func (s *sandboxServer) handleHealth(w http.ResponseWriter, _ *http.Request) {
	transport.WriteJSON(w, http.StatusOK, healthResponse{
		Status:         "healthy",
		Interpreter:    s.cfg.Interpreter,
		RuntimeVersion: s.runtimeVersion,
		Capacity:       s.cfg.MaxConcurrent,
		CurrentLoad:    int(s.currentLoad.Load()),
		UptimeSecs:     int64(time.Since(s.startTime).Seconds()),
	})
}

func writeError(w http.ResponseWriter, status int, message string) {
	transport.WriteJSON(w, status, map[string]string{"error": message})
}
