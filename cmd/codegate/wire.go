package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os/exec"

	"sigs.k8s.io/controller-runtime/pkg/client"
	ctrlconfig "sigs.k8s.io/controller-runtime/pkg/client/config"

	"github.com/rhuss/codegate/pkg/api"
	"github.com/rhuss/codegate/pkg/archive"
	"github.com/rhuss/codegate/pkg/archive/memory"
	"github.com/rhuss/codegate/pkg/archive/postgres"
	"github.com/rhuss/codegate/pkg/archive/sqlite"
	"github.com/rhuss/codegate/pkg/artifact"
	"github.com/rhuss/codegate/pkg/auth"
	"github.com/rhuss/codegate/pkg/auth/apikey"
	"github.com/rhuss/codegate/pkg/auth/jwt"
	"github.com/rhuss/codegate/pkg/auth/noop"
	"github.com/rhuss/codegate/pkg/config"
	"github.com/rhuss/codegate/pkg/engine"
	"github.com/rhuss/codegate/pkg/harness"
	"github.com/rhuss/codegate/pkg/harness/kubernetes"
)

// buildHarness creates the configured execution backend and, when syntax
// checking is on and the interpreter is available locally, its checker.
func buildHarness(cfg *config.Config) (harness.Harness, harness.Checker, error) {
	hc := cfg.Harness
	scanner := artifact.NewScanner()

	var h harness.Harness
	switch hc.Backend {
	case "process":
		h = harness.NewProcessHarness(harness.ProcessConfig{
			Interpreter:        hc.Interpreter,
			TimeLimit:          hc.TimeLimit,
			TrackCreationOrder: hc.TrackCreationOrder,
		}, scanner)
	case "remote":
		acquirer, err := buildAcquirer(hc)
		if err != nil {
			return nil, nil, err
		}
		h = harness.NewRemoteHarness(harness.RemoteConfig{TimeLimit: hc.TimeLimit}, acquirer, nil, scanner)
	default:
		return nil, nil, fmt.Errorf("unknown harness backend %q", hc.Backend)
	}

	if !hc.SyntaxCheck {
		return h, nil, nil
	}
	if _, err := exec.LookPath(hc.Interpreter); err != nil {
		slog.Warn("syntax check disabled, interpreter not found locally", "interpreter", hc.Interpreter)
		return h, nil, nil
	}
	return h, harness.NewPythonChecker(hc.Interpreter), nil
}

func buildAcquirer(hc config.HarnessConfig) (harness.SandboxAcquirer, error) {
	if !hc.Kubernetes.Enabled {
		slog.Info("remote harness", "sandbox_url", hc.SandboxURL)
		return harness.StaticAcquirer{URL: hc.SandboxURL}, nil
	}

	restCfg, err := ctrlconfig.GetConfig()
	if err != nil {
		return nil, fmt.Errorf("loading kubernetes config: %w", err)
	}
	scheme, err := kubernetes.NewScheme()
	if err != nil {
		return nil, err
	}
	c, err := client.New(restCfg, client.Options{Scheme: scheme})
	if err != nil {
		return nil, fmt.Errorf("creating kubernetes client: %w", err)
	}
	slog.Info("remote harness", "sandbox_template", hc.Kubernetes.Template, "namespace", hc.Kubernetes.Namespace)
	return kubernetes.NewClaimAcquirer(c, kubernetes.Config{
		Template:     hc.Kubernetes.Template,
		Namespace:    hc.Kubernetes.Namespace,
		ReadyTimeout: hc.Kubernetes.ReadyTimeout,
		Port:         hc.Kubernetes.Port,
	}), nil
}

// buildArchive opens the configured archive. It returns nil for "none".
func buildArchive(ctx context.Context, cfg *config.Config) (archive.Archive, error) {
	ac := cfg.Archive
	switch ac.Type {
	case "none":
		slog.Info("execution archive disabled")
		return nil, nil
	case "memory":
		slog.Info("execution archive enabled", "type", "memory", "max_size", ac.MaxSize)
		return memory.New(ac.MaxSize), nil
	case "sqlite":
		store, err := sqlite.New(ac.SQLite.Path)
		if err != nil {
			return nil, fmt.Errorf("opening sqlite archive: %w", err)
		}
		slog.Info("execution archive enabled", "type", "sqlite", "path", ac.SQLite.Path)
		return store, nil
	case "postgres":
		store, err := postgres.New(ctx, postgres.Config{
			DSN:             ac.Postgres.DSN,
			MaxConns:        ac.Postgres.MaxConns,
			MaxConnLifetime: ac.Postgres.MaxConnLifetime,
			MigrateOnStart:  ac.Postgres.MigrateOnStart,
		})
		if err != nil {
			return nil, fmt.Errorf("connecting postgres archive: %w", err)
		}
		slog.Info("execution archive enabled", "type", "postgres")
		return store, nil
	}
	return nil, fmt.Errorf("unknown archive type %q", ac.Type)
}

// buildAuth returns the authentication middleware, or nil when
// authentication is off.
func buildAuth(cfg *config.Config) (func(http.Handler) http.Handler, error) {
	ac := cfg.Auth
	var authn auth.Authenticator
	switch ac.Type {
	case "none":
		if ac.RateLimit.DefaultRPM == 0 {
			return nil, nil
		}
		authn = &noop.Authenticator{}
	case "apikey":
		entries := make([]apikey.Key, 0, len(ac.APIKeys))
		for _, k := range ac.APIKeys {
			entries = append(entries, apikey.Key{
				Key: k.Key,
				Identity: auth.Identity{
					Subject:     k.Subject,
					ServiceTier: k.Tier,
					Scopes:      k.Scopes,
				},
			})
		}
		authn = apikey.New(entries)
	case "jwt":
		jc := ac.JWT
		authn = jwt.New(jwt.Config{
			Issuer:      jc.Issuer,
			Audience:    jc.Audience,
			HMACSecret:  []byte(jc.Secret),
			JWKSURL:     jc.JWKSURL,
			UserClaim:   jc.UserClaim,
			ScopesClaim: jc.ScopesClaim,
			CacheTTL:    jc.CacheTTL,
		})
	default:
		return nil, fmt.Errorf("unknown auth type %q", ac.Type)
	}

	var limiter auth.RateLimiter
	if ac.RateLimit.DefaultRPM > 0 || len(ac.RateLimit.Tiers) > 0 {
		limiter = auth.NewTierLimiter(ac.RateLimit.Tiers, ac.RateLimit.DefaultRPM)
	}

	slog.Info("authentication enabled", "type", ac.Type, "rate_limited", limiter != nil)
	return auth.Middleware(authn, limiter, bypassEndpoints(cfg)), nil
}

func bypassEndpoints(cfg *config.Config) []string {
	endpoints := append([]string(nil), auth.DefaultBypassEndpoints...)
	if cfg.Metrics.Enabled && cfg.Metrics.Path != "/metrics" {
		endpoints = append(endpoints, cfg.Metrics.Path)
	}
	return endpoints
}

// engineConfig maps the server configuration onto the engine.
func engineConfig(cfg *config.Config) engine.Config {
	validation := api.DefaultValidationConfig()
	validation.MaxCodeSize = cfg.Server.MaxCodeSize
	return engine.Config{
		WorkRoot:  cfg.Harness.WorkRoot,
		TimeLimit: cfg.Harness.TimeLimit,
		Backend:   cfg.Harness.Backend,
		DefaultLLM: api.LLMConfig{
			Model:       cfg.LLM.Model,
			Temperature: cfg.LLM.Temperature,
		},
		Validation: validation,
	}
}

// newEngine wires the harness, checker and archive into an engine. The
// returned cleanup closes the archive.
func newEngine(ctx context.Context, cfg *config.Config, opts ...engine.Option) (*engine.Engine, func(), error) {
	h, checker, err := buildHarness(cfg)
	if err != nil {
		return nil, nil, err
	}
	store, err := buildArchive(ctx, cfg)
	if err != nil {
		return nil, nil, err
	}
	cleanup := func() {
		if store != nil {
			if err := store.Close(); err != nil {
				slog.Warn("closing archive", "error", err)
			}
		}
	}

	if checker != nil {
		opts = append(opts, engine.WithChecker(checker))
	}
	if store != nil {
		opts = append(opts, engine.WithArchive(store))
	}
	eng, err := engine.New(h, engineConfig(cfg), opts...)
	if err != nil {
		cleanup()
		return nil, nil, err
	}
	return eng, cleanup, nil
}
