package harness

import "context"

// SandboxAcquirer locates a sandbox server for one execution.
type SandboxAcquirer interface {
	// Acquire returns a sandbox URL to use for execution.
	// The release function must be called after execution to clean up.
	Acquire(ctx context.Context, sessionID string) (sandboxURL string, release func(), err error)
}

// StaticAcquirer always returns the same sandbox URL.
type StaticAcquirer struct {
	URL string
}

var _ SandboxAcquirer = StaticAcquirer{}

// Acquire returns the configured URL and a no-op release.
func (a StaticAcquirer) Acquire(ctx context.Context, sessionID string) (string, func(), error) {
	return a.URL, func() {}, nil
}
