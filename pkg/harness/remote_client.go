package harness

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// ErrSandboxAtCapacity is returned when every slot of the sandbox is busy.
var ErrSandboxAtCapacity = errors.New("sandbox at capacity")

// maxSandboxReply bounds how much of a sandbox reply is read. Produced files
// travel inline, so this is generous.
const maxSandboxReply = 64 << 20

// SandboxClient posts programs to a sandbox server's /execute endpoint.
type SandboxClient struct {
	http *http.Client
}

// NewSandboxClient returns a client whose requests give up after timeout.
// The sandbox enforces the execution limit itself, so timeout only needs
// to cover the limit plus transfer time.
func NewSandboxClient(timeout time.Duration) *SandboxClient {
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}
	return &SandboxClient{http: &http.Client{Timeout: timeout}}
}

// Execute runs req on the sandbox at baseURL.
func (c *SandboxClient) Execute(ctx context.Context, baseURL string, req *SandboxRequest) (*SandboxResponse, error) {
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(req); err != nil {
		return nil, fmt.Errorf("encoding sandbox request: %w", err)
	}
	endpoint := strings.TrimSuffix(baseURL, "/") + "/execute"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, &buf)
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("calling sandbox %s: %w", baseURL, err)
	}
	defer resp.Body.Close()
	body := io.LimitReader(resp.Body, maxSandboxReply)

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, ErrSandboxAtCapacity
	case resp.StatusCode != http.StatusOK:
		detail, _ := io.ReadAll(io.LimitReader(body, 4096))
		return nil, fmt.Errorf("sandbox %s answered %s: %s", baseURL, resp.Status, strings.TrimSpace(string(detail)))
	}

	var out SandboxResponse
	if err := json.NewDecoder(body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decoding sandbox response: %w", err)
	}
	return &out, nil
}
