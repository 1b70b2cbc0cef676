package harness

import (
	"context"
	"encoding/base64"
	"fmt"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rhuss/codegate/pkg/api"
	"github.com/rhuss/codegate/pkg/artifact"
	"github.com/rhuss/codegate/pkg/classify"
	"github.com/rhuss/codegate/pkg/debug"
)

// RemoteConfig configures a RemoteHarness.
type RemoteConfig struct {
	// TimeLimit is the default deadline (default 60s).
	TimeLimit time.Duration

	// MaxSeedBytes caps the working directory content sent with each
	// request (default 10MiB). Files past the cap are not sent.
	MaxSeedBytes int64
}

// RemoteHarness executes code on a sandbox server. The local working
// directory is mirrored into the sandbox before the run and the files the
// run produced are written back, so artifact detection works as it does
// for local execution.
type RemoteHarness struct {
	cfg      RemoteConfig
	acquirer SandboxAcquirer
	client   *SandboxClient
	scanner  *artifact.Scanner
}

var _ Harness = (*RemoteHarness)(nil)

// NewRemoteHarness creates a RemoteHarness.
func NewRemoteHarness(cfg RemoteConfig, acquirer SandboxAcquirer, client *SandboxClient, scanner *artifact.Scanner) *RemoteHarness {
	if cfg.TimeLimit <= 0 {
		cfg.TimeLimit = DefaultTimeLimit
	}
	if cfg.MaxSeedBytes <= 0 {
		cfg.MaxSeedBytes = 10 * 1024 * 1024
	}
	if client == nil {
		client = NewSandboxClient(cfg.TimeLimit + 30*time.Second)
	}
	if scanner == nil {
		scanner = artifact.NewScanner()
	}
	return &RemoteHarness{cfg: cfg, acquirer: acquirer, client: client, scanner: scanner}
}

// Execute runs req on an acquired sandbox.
func (h *RemoteHarness) Execute(ctx context.Context, req Request) (*api.ExecutionOutcome, error) {
	if err := rejectEmpty(req.Code); err != nil {
		return nil, err
	}
	limit := resolveLimit(req, h.cfg.TimeLimit)

	before, err := h.scanner.Snapshot(req.WorkDir)
	if err != nil {
		return nil, api.NewHarnessFaultError(fmt.Errorf("snapshot before execution: %w", err))
	}
	if err := os.MkdirAll(req.WorkDir, 0o755); err != nil {
		return nil, api.NewHarnessFaultError(fmt.Errorf("create working directory: %w", err))
	}
	seed, err := h.seedFiles(req.WorkDir, before)
	if err != nil {
		return nil, api.NewHarnessFaultError(err)
	}

	sandboxURL, release, err := h.acquirer.Acquire(ctx, req.SessionID)
	if err != nil {
		return nil, api.NewHarnessFaultError(fmt.Errorf("acquire sandbox: %w", err))
	}
	defer release()

	debug.Log("harness", "remote execute", "session_id", req.SessionID, "url", sandboxURL, "seed_files", len(seed))

	resp, err := h.client.Execute(ctx, sandboxURL, &SandboxRequest{
		Code:           req.Code,
		TimeoutSeconds: int(math.Ceil(limit.Seconds())),
		Files:          seed,
		TitleHint:      req.TitleHint,
	})
	if err != nil {
		if ctx.Err() != nil {
			// Cancelled while executing; the sandbox kills the child when
			// the request goes away.
			return api.NewTimeoutOutcome(limit, "", "", nil), nil
		}
		slog.Warn("remote execution failed", "session_id", req.SessionID, "error", err.Error())
		return nil, api.NewHarnessFaultError(err)
	}

	if err := writeProduced(req.WorkDir, resp.FilesProduced); err != nil {
		return nil, api.NewHarnessFaultError(err)
	}
	after, err := h.scanner.Snapshot(req.WorkDir)
	if err != nil {
		return nil, api.NewHarnessFaultError(fmt.Errorf("snapshot after execution: %w", err))
	}
	files := artifact.DiffOrdered(before, after, resp.FileOrder)

	switch resp.Status {
	case SandboxStatusSuccess:
		c := classify.Classify(resp.Stdout, classify.WithTitleHint(req.TitleHint))
		return api.NewSuccessOutcome(resp.Stdout, resp.Stderr, c.Text, c.Chart, files), nil
	case SandboxStatusTimeout:
		return api.NewTimeoutOutcome(limit, resp.Stdout, resp.Stderr, files), nil
	case SandboxStatusError:
		return api.NewRuntimeErrorOutcome(resp.Stdout, resp.Stderr, resp.ExitCode, files), nil
	default:
		return nil, api.NewHarnessFaultError(fmt.Errorf("sandbox returned unknown status %q", resp.Status))
	}
}

func (h *RemoteHarness) seedFiles(dir string, snap artifact.Snapshot) (map[string]string, error) {
	if snap.Len() == 0 {
		return nil, nil
	}
	files := make(map[string]string, snap.Len())
	var total int64
	for _, rel := range snap.Paths() {
		f, _ := snap.Get(rel)
		if total+f.Size > h.cfg.MaxSeedBytes {
			slog.Warn("working directory file not sent to sandbox", "path", rel, "size", f.Size)
			continue
		}
		content, err := os.ReadFile(filepath.Join(dir, filepath.FromSlash(rel)))
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", rel, err)
		}
		total += int64(len(content))
		files[rel] = base64.StdEncoding.EncodeToString(content)
	}
	return files, nil
}

func writeProduced(dir string, produced map[string]string) error {
	for rel, b64 := range produced {
		path, err := SafeJoin(dir, rel)
		if err != nil {
			return err
		}
		content, err := base64.StdEncoding.DecodeString(b64)
		if err != nil {
			return fmt.Errorf("decode produced file %q: %w", rel, err)
		}
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return fmt.Errorf("create directory for %q: %w", rel, err)
		}
		if err := os.WriteFile(path, content, 0o644); err != nil {
			return fmt.Errorf("write produced file %q: %w", rel, err)
		}
	}
	return nil
}

// SafeJoin joins a slash-separated relative path onto dir, refusing paths
// that would leave dir.
func SafeJoin(dir, rel string) (string, error) {
	clean := filepath.Clean(filepath.FromSlash(rel))
	if rel == "" || filepath.IsAbs(clean) || clean == "." || clean == ".." ||
		strings.HasPrefix(clean, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("path %q escapes the working directory", rel)
	}
	return filepath.Join(dir, clean), nil
}
