package main

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rhuss/codegate/pkg/api"
	"github.com/rhuss/codegate/pkg/harness"
)

func requirePython(t *testing.T) {
	t.Helper()
	if _, err := exec.LookPath(harness.DefaultInterpreter); err != nil {
		t.Skip("python3 not available")
	}
}

func newTestSandbox(t *testing.T, maxConcurrent int) (*sandboxServer, *httptest.Server) {
	t.Helper()
	s := newSandboxServer(sandboxConfig{Interpreter: harness.DefaultInterpreter, MaxConcurrent: maxConcurrent})
	ts := httptest.NewServer(s.routes())
	t.Cleanup(ts.Close)
	return s, ts
}

func postExecute(t *testing.T, url string, req harness.SandboxRequest) (*http.Response, harness.SandboxResponse) {
	t.Helper()
	body, err := json.Marshal(req)
	if err != nil {
		t.Fatal(err)
	}
	resp, err := http.Post(url+"/execute", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("POST /execute: %v", err)
	}
	defer resp.Body.Close()
	var out harness.SandboxResponse
	if resp.StatusCode == http.StatusOK {
		if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
			t.Fatalf("decode: %v", err)
		}
	}
	return resp, out
}

func TestExecuteAtCapacity(t *testing.T) {
	s, ts := newTestSandbox(t, 1)
	s.currentLoad.Store(1)

	resp, _ := postExecute(t, ts.URL, harness.SandboxRequest{Code: "print(1)"})
	if resp.StatusCode != http.StatusTooManyRequests {
		t.Errorf("status = %d, want 429", resp.StatusCode)
	}
}

func TestExecuteRejectsBadRequests(t *testing.T) {
	_, ts := newTestSandbox(t, 2)

	tests := []struct {
		name string
		req  harness.SandboxRequest
	}{
		{"empty code", harness.SandboxRequest{Code: "   "}},
		{"escaping seed path", harness.SandboxRequest{Code: "print(1)", Files: map[string]string{"../evil.txt": "eA=="}}},
		{"bad base64", harness.SandboxRequest{Code: "print(1)", Files: map[string]string{"a.txt": "%%%"}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, _ := postExecute(t, ts.URL, tt.req)
			if resp.StatusCode != http.StatusBadRequest {
				t.Errorf("status = %d, want 400", resp.StatusCode)
			}
		})
	}
}

func TestHealth(t *testing.T) {
	_, ts := newTestSandbox(t, 4)
	resp, err := http.Get(ts.URL + "/health")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	var got healthResponse
	if err := json.NewDecoder(resp.Body).Decode(&got); err != nil {
		t.Fatal(err)
	}
	if got.Status != "healthy" || got.Capacity != 4 || got.CurrentLoad != 0 {
		t.Errorf("health = %+v", got)
	}
}

func TestExecuteProducesFiles(t *testing.T) {
	requirePython(t)
	_, ts := newTestSandbox(t, 2)

	code := strings.Join([]string{
		"data = open('input.txt').read()",
		"open('first.txt', 'w').write(data.upper())",
		"open('second.csv', 'w').write('a\\n1\\n')",
		"print('done')",
	}, "\n")
	resp, out := postExecute(t, ts.URL, harness.SandboxRequest{
		Code:           code,
		TimeoutSeconds: 10,
		Files:          map[string]string{"input.txt": base64.StdEncoding.EncodeToString([]byte("hello"))},
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if out.Status != harness.SandboxStatusSuccess || out.Stdout != "done\n" {
		t.Fatalf("response = %+v", out)
	}
	if len(out.FileOrder) != 2 || out.FileOrder[0] != "first.txt" || out.FileOrder[1] != "second.csv" {
		t.Errorf("file order = %v", out.FileOrder)
	}
	if _, seeded := out.FilesProduced["input.txt"]; seeded {
		t.Error("seed file reported as produced")
	}
	content, _ := base64.StdEncoding.DecodeString(out.FilesProduced["first.txt"])
	if string(content) != "HELLO" {
		t.Errorf("first.txt = %q", content)
	}
}

func TestExecuteStatuses(t *testing.T) {
	requirePython(t)
	_, ts := newTestSandbox(t, 2)

	_, out := postExecute(t, ts.URL, harness.SandboxRequest{Code: "raise SystemExit(3)", TimeoutSeconds: 10})
	if out.Status != harness.SandboxStatusError || out.ExitCode != 3 {
		t.Errorf("exit: %+v", out)
	}

	_, out = postExecute(t, ts.URL, harness.SandboxRequest{Code: "import time\ntime.sleep(30)", TimeoutSeconds: 1})
	if out.Status != harness.SandboxStatusTimeout {
		t.Errorf("timeout: %+v", out)
	}
}

func TestRemoteHarnessAgainstSandbox(t *testing.T) {
	requirePython(t)
	_, ts := newTestSandbox(t, 2)

	h := harness.NewRemoteHarness(harness.RemoteConfig{TimeLimit: 10 * time.Second},
		harness.StaticAcquirer{URL: ts.URL}, nil, nil)

	workDir := t.TempDir()
	if err := os.WriteFile(filepath.Join(workDir, "numbers.txt"), []byte("1 2 3"), 0o644); err != nil {
		t.Fatal(err)
	}
	outcome, err := h.Execute(context.Background(), harness.Request{
		SessionID: "sess_remote",
		Code:      "nums = open('numbers.txt').read().split()\nopen('total.txt', 'w').write(str(sum(map(int, nums))))\nprint('ok')",
		WorkDir:   workDir,
	})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if outcome.Kind != api.OutcomeSuccess {
		t.Fatalf("outcome = %+v", outcome)
	}
	if got := outcome.FilePaths(); len(got) != 1 || got[0] != "total.txt" {
		t.Errorf("files = %v", got)
	}
	total, err := os.ReadFile(filepath.Join(workDir, "total.txt"))
	if err != nil || string(total) != "6" {
		t.Errorf("total.txt = %q (%v)", total, err)
	}
}

func TestCommandFlagsFollowEnvironment(t *testing.T) {
	t.Setenv("SANDBOX_PORT", "9191")
	t.Setenv("SANDBOX_MAX_CONCURRENT", "7")
	t.Setenv("SANDBOX_MAX_TIMEOUT", "not-a-number")

	f := newCommand().Flags()
	if got, _ := f.GetString("port"); got != "9191" {
		t.Errorf("port = %q", got)
	}
	if got, _ := f.GetInt("max-concurrent"); got != 7 {
		t.Errorf("max-concurrent = %d", got)
	}
	if got, _ := f.GetInt("max-timeout"); got != 300 {
		t.Errorf("max-timeout = %d, want default for an unparsable value", got)
	}
}

func TestCommandRejectsBadLimits(t *testing.T) {
	sh, err := exec.LookPath("sh")
	if err != nil {
		t.Skip("sh not available")
	}
	cmd := newCommand()
	cmd.SetArgs([]string{"--interpreter", sh, "--max-concurrent", "0"})
	if err := cmd.Execute(); err == nil || !strings.Contains(err.Error(), "must be positive") {
		t.Errorf("err = %v", err)
	}

	cmd = newCommand()
	cmd.SetArgs([]string{"--interpreter", "definitely-not-an-interpreter"})
	if err := cmd.Execute(); err == nil {
		t.Error("missing interpreter accepted")
	}
}
