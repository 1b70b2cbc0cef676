package kubernetes

import (
	"context"
	"regexp"
	"strings"
	"testing"
	"time"

	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"sigs.k8s.io/controller-runtime/pkg/client"
	"sigs.k8s.io/controller-runtime/pkg/client/fake"

	sandboxv1alpha1 "sigs.k8s.io/agent-sandbox/api/v1alpha1"
	extensionsv1alpha1 "sigs.k8s.io/agent-sandbox/extensions/api/v1alpha1"
)

const ns = "codegate"

func fakeCluster(t *testing.T) client.Client {
	t.Helper()
	scheme, err := NewScheme()
	if err != nil {
		t.Fatalf("NewScheme: %v", err)
	}
	return fake.NewClientBuilder().WithScheme(scheme).WithStatusSubresource(&sandboxv1alpha1.Sandbox{}).Build()
}

func nameClaims(t *testing.T, name string) {
	t.Helper()
	prev := claimName
	claimName = func(string) string { return name }
	t.Cleanup(func() { claimName = prev })
}

// provision does what the agent-sandbox controller would: create the
// Sandbox behind a claim and mark it Ready.
func provision(t *testing.T, c client.Client, name, fqdn string) {
	t.Helper()
	sb := &sandboxv1alpha1.Sandbox{ObjectMeta: metav1.ObjectMeta{Name: name, Namespace: ns}}
	if err := c.Create(context.Background(), sb); err != nil {
		t.Errorf("creating sandbox: %v", err)
		return
	}
	sb.Status.ServiceFQDN = fqdn
	sb.Status.Conditions = []metav1.Condition{{
		Type:               string(sandboxv1alpha1.SandboxConditionReady),
		Status:             metav1.ConditionTrue,
		Reason:             "Ready",
		LastTransitionTime: metav1.Now(),
	}}
	if err := c.Status().Update(context.Background(), sb); err != nil {
		t.Errorf("updating sandbox status: %v", err)
	}
}

func claimExists(t *testing.T, c client.Client, name string) (*extensionsv1alpha1.SandboxClaim, bool) {
	t.Helper()
	var claim extensionsv1alpha1.SandboxClaim
	err := c.Get(context.Background(), client.ObjectKey{Namespace: ns, Name: name}, &claim)
	return &claim, err == nil
}

func TestAcquireAndRelease(t *testing.T) {
	c := fakeCluster(t)
	nameClaims(t, "codegate-run-1")
	a := NewClaimAcquirer(c, Config{Template: "python-runtime", Namespace: ns, ReadyTimeout: 5 * time.Second, Port: 9090})

	go func() {
		time.Sleep(100 * time.Millisecond)
		provision(t, c, "codegate-run-1", "run-1.codegate.svc.cluster.local")
	}()

	url, release, err := a.Acquire(context.Background(), "sess_abcdefghijklmnopqrstuvwxyz")
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	if url != "http://run-1.codegate.svc.cluster.local:9090" {
		t.Errorf("url = %q", url)
	}

	claim, ok := claimExists(t, c, "codegate-run-1")
	if !ok {
		t.Fatal("claim not created")
	}
	if claim.Spec.TemplateRef.Name != "python-runtime" {
		t.Errorf("template = %q", claim.Spec.TemplateRef.Name)
	}
	if got := claim.Labels[SessionLabel]; got != "sess-abcdefghijklmnopqrstuvwxyz" {
		t.Errorf("session label = %q", got)
	}

	release()
	if _, ok := claimExists(t, c, "codegate-run-1"); ok {
		t.Error("claim survived release")
	}
	release()
}

func TestAcquireFailures(t *testing.T) {
	tests := []struct {
		name    string
		timeout time.Duration
		cancel  time.Duration
		wantErr string
	}{
		{"never ready", 600 * time.Millisecond, 0, "not ready after"},
		{"caller gives up", 10 * time.Second, 150 * time.Millisecond, "context canceled"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := fakeCluster(t)
			nameClaims(t, "codegate-stuck")
			a := NewClaimAcquirer(c, Config{Template: "python-runtime", Namespace: ns, ReadyTimeout: tt.timeout})

			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()
			if tt.cancel > 0 {
				time.AfterFunc(tt.cancel, cancel)
			}
			_, _, err := a.Acquire(ctx, "sess_1")
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("err = %v, want %q", err, tt.wantErr)
			}
			if _, ok := claimExists(t, c, "codegate-stuck"); ok {
				t.Error("claim left behind after a failed acquire")
			}
		})
	}
}

func TestIsReady(t *testing.T) {
	ready := string(sandboxv1alpha1.SandboxConditionReady)
	tests := []struct {
		name       string
		conditions []metav1.Condition
		want       bool
	}{
		{"no conditions", nil, false},
		{"ready", []metav1.Condition{{Type: ready, Status: metav1.ConditionTrue}}, true},
		{"not ready", []metav1.Condition{{Type: ready, Status: metav1.ConditionFalse}}, false},
		{"unrelated condition", []metav1.Condition{{Type: "Available", Status: metav1.ConditionTrue}}, false},
	}
	for _, tt := range tests {
		sb := &sandboxv1alpha1.Sandbox{Status: sandboxv1alpha1.SandboxStatus{Conditions: tt.conditions}}
		if got := isReady(sb); got != tt.want {
			t.Errorf("%s: isReady = %v, want %v", tt.name, got, tt.want)
		}
	}
}

func TestClaimNameAndLabel(t *testing.T) {
	dns1123 := regexp.MustCompile(`^[a-z0-9]([-a-z0-9]*[a-z0-9])?$`)
	for _, id := range []string{"sess_abcdefghijklmnopqrstuvwxyz", "sess_1", "weird_ID.with.dots"} {
		name := claimName(id)
		if !dns1123.MatchString(name) || len(name) > 63 {
			t.Errorf("claimName(%q) = %q", id, name)
		}
	}
	if a, b := claimName("sess_x"), claimName("sess_x"); a == b {
		t.Errorf("claim names repeat: %q", a)
	}
	if got := labelValue(strings.Repeat("a", 80)); len(got) != 63 {
		t.Errorf("label length = %d, want 63", len(got))
	}
}
