// Package kubernetes finds sandbox servers for the remote harness by
// claiming agent-sandbox Sandboxes, one SandboxClaim per execution.
package kubernetes

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"k8s.io/apimachinery/pkg/api/meta"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/runtime"
	utilrand "k8s.io/apimachinery/pkg/util/rand"
	"k8s.io/apimachinery/pkg/util/wait"
	"sigs.k8s.io/controller-runtime/pkg/client"

	sandboxv1alpha1 "sigs.k8s.io/agent-sandbox/api/v1alpha1"
	extensionsv1alpha1 "sigs.k8s.io/agent-sandbox/extensions/api/v1alpha1"

	"github.com/rhuss/codegate/pkg/harness"
)

// SessionLabel records the owning session on each claim.
const SessionLabel = "codegate.io/session"

const pollInterval = 250 * time.Millisecond

// Config names the SandboxTemplate to claim and where.
type Config struct {
	Template     string
	Namespace    string
	ReadyTimeout time.Duration // default 30s
	Port         int           // sandbox server port, default 8080
}

// ClaimAcquirer implements harness.SandboxAcquirer on a Kubernetes cluster.
type ClaimAcquirer struct {
	c   client.Client
	cfg Config
}

var _ harness.SandboxAcquirer = (*ClaimAcquirer)(nil)

func NewClaimAcquirer(c client.Client, cfg Config) *ClaimAcquirer {
	if cfg.ReadyTimeout <= 0 {
		cfg.ReadyTimeout = 30 * time.Second
	}
	if cfg.Port <= 0 {
		cfg.Port = 8080
	}
	return &ClaimAcquirer{c: c, cfg: cfg}
}

// NewScheme registers the agent-sandbox core and extension types.
func NewScheme() (*runtime.Scheme, error) {
	s := runtime.NewScheme()
	for _, add := range []func(*runtime.Scheme) error{sandboxv1alpha1.AddToScheme, extensionsv1alpha1.AddToScheme} {
		if err := add(s); err != nil {
			return nil, fmt.Errorf("registering agent-sandbox types: %w", err)
		}
	}
	return s, nil
}

// Acquire claims a sandbox for sessionID, waits until the controller
// reports it Ready, and returns its base URL. Release deletes the claim,
// which returns the sandbox to its pool.
func (a *ClaimAcquirer) Acquire(ctx context.Context, sessionID string) (string, func(), error) {
	name := claimName(sessionID)
	claim := &extensionsv1alpha1.SandboxClaim{
		ObjectMeta: metav1.ObjectMeta{
			Name:      name,
			Namespace: a.cfg.Namespace,
			Labels:    map[string]string{SessionLabel: labelValue(sessionID)},
		},
		Spec: extensionsv1alpha1.SandboxClaimSpec{
			TemplateRef: extensionsv1alpha1.SandboxTemplateRef{Name: a.cfg.Template},
		},
	}
	if err := a.c.Create(ctx, claim); err != nil {
		return "", nil, fmt.Errorf("claiming sandbox from template %q: %w", a.cfg.Template, err)
	}
	slog.Debug("sandbox claimed", "claim", name, "session_id", sessionID)

	release := func() { a.release(name) }
	fqdn, err := a.awaitReady(ctx, name)
	if err != nil {
		release()
		return "", nil, err
	}
	return fmt.Sprintf("http://%s:%d", fqdn, a.cfg.Port), release, nil
}

// awaitReady polls the Sandbox bound to the claim (same name) until it is
// Ready and has a service address.
func (a *ClaimAcquirer) awaitReady(ctx context.Context, name string) (string, error) {
	var fqdn string
	key := client.ObjectKey{Namespace: a.cfg.Namespace, Name: name}
	err := wait.PollUntilContextTimeout(ctx, pollInterval, a.cfg.ReadyTimeout, true, func(ctx context.Context) (bool, error) {
		var sb sandboxv1alpha1.Sandbox
		if err := a.c.Get(ctx, key, &sb); err != nil {
			return false, client.IgnoreNotFound(err)
		}
		if !isReady(&sb) || sb.Status.ServiceFQDN == "" {
			return false, nil
		}
		fqdn = sb.Status.ServiceFQDN
		return true, nil
	})
	switch {
	case err == nil:
		return fqdn, nil
	case ctx.Err() != nil:
		return "", fmt.Errorf("waiting for sandbox %q: %w", name, ctx.Err())
	case errors.Is(err, context.DeadlineExceeded):
		return "", fmt.Errorf("sandbox %q not ready after %s", name, a.cfg.ReadyTimeout)
	default:
		return "", fmt.Errorf("waiting for sandbox %q: %w", name, err)
	}
}

func isReady(sb *sandboxv1alpha1.Sandbox) bool {
	return meta.IsStatusConditionTrue(sb.Status.Conditions, string(sandboxv1alpha1.SandboxConditionReady))
}

// release runs after the request context may be gone.
func (a *ClaimAcquirer) release(name string) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	claim := &extensionsv1alpha1.SandboxClaim{ObjectMeta: metav1.ObjectMeta{Name: name, Namespace: a.cfg.Namespace}}
	if err := client.IgnoreNotFound(a.c.Delete(ctx, claim)); err != nil {
		slog.Warn("releasing sandbox claim failed", "claim", name, "namespace", a.cfg.Namespace, "error", err)
	}
}

// claimName is a DNS-1123 name tying the claim to its session. Tests
// replace it for predictable names.
var claimName = func(sessionID string) string {
	tail := strings.ToLower(strings.TrimPrefix(sessionID, "sess_"))
	if len(tail) > 8 {
		tail = tail[:8]
	}
	tail = strings.Map(func(r rune) rune {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			return r
		}
		return -1
	}, tail)
	return "codegate-" + tail + "-" + utilrand.String(5)
}

// labelValue fits a session ID into a label value (63 characters, no
// underscores).
func labelValue(sessionID string) string {
	v := strings.ReplaceAll(sessionID, "_", "-")
	return v[:min(len(v), 63)]
}
