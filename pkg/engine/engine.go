package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/rhuss/codegate/pkg/api"
	"github.com/rhuss/codegate/pkg/archive"
	"github.com/rhuss/codegate/pkg/gate"
	"github.com/rhuss/codegate/pkg/harness"
	"github.com/rhuss/codegate/pkg/session"
	"github.com/rhuss/codegate/pkg/steps"
	"github.com/rhuss/codegate/pkg/transport"
)

const tracerName = "github.com/rhuss/codegate/pkg/engine"

// Causes attached to the context of a run that is stopped early.
var (
	errKilled         = errors.New("execution killed by user")
	errSessionDeleted = errors.New("session deleted")
)

// Engine implements every operation offered to the reasoning loop and the
// human-facing surfaces. It is safe for concurrent use; sessions are
// independent of each other.
type Engine struct {
	cfg      Config
	store    *session.Store
	gate     *gate.Gate
	harness  harness.Harness
	checker  harness.Checker
	steps    *steps.Registry
	archive  archive.Archive
	inflight *transport.InFlightRegistry
	tracer   trace.Tracer
}

// Option configures an Engine.
type Option func(*Engine)

// WithChecker sets the syntax checker run on every proposal. Without one
// proposals are only cleaned.
func WithChecker(c harness.Checker) Option {
	return func(e *Engine) { e.checker = c }
}

// WithArchive records every completed execution in a.
func WithArchive(a archive.Archive) Option {
	return func(e *Engine) { e.archive = a }
}

// WithStepPublisher forwards every step to p in addition to the in-memory
// sinks.
func WithStepPublisher(p steps.Publisher) Option {
	return func(e *Engine) { e.steps = steps.NewRegistry(p) }
}

// WithTracer overrides the tracer taken from the global provider.
func WithTracer(t trace.Tracer) Option {
	return func(e *Engine) { e.tracer = t }
}

// New creates an Engine. The harness must not be nil.
func New(h harness.Harness, cfg Config, opts ...Option) (*Engine, error) {
	if h == nil {
		return nil, errors.New("engine: harness must not be nil")
	}
	store := session.New()
	e := &Engine{
		cfg:      cfg.withDefaults(),
		store:    store,
		gate:     gate.New(store),
		harness:  h,
		steps:    steps.NewRegistry(nil),
		inflight: transport.NewInFlightRegistry(),
		tracer:   otel.Tracer(tracerName),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// Ready reports whether the engine's dependencies are usable.
func (e *Engine) Ready(ctx context.Context) error {
	if e.archive != nil {
		if err := e.archive.HealthCheck(ctx); err != nil {
			return fmt.Errorf("archive: %w", err)
		}
	}
	return nil
}

// Archive returns the configured archive, or nil.
func (e *Engine) Archive() archive.Archive {
	return e.archive
}

// NewSession creates a session, seeds it with the greeting and makes it
// the active session.
func (e *Engine) NewSession(_ context.Context, cfg api.LLMConfig) (*api.Session, error) {
	if cfg.Model == "" {
		cfg = e.cfg.DefaultLLM
	}
	if apiErr := api.ValidateLLMConfig(cfg); apiErr != nil {
		return nil, apiErr
	}

	created := e.store.Create(cfg)
	sess, err := e.store.Update(created.ID, func(s *api.Session) error {
		s.Messages = append(s.Messages, api.NewMessage(api.RoleAssistant, api.MessageKindText, Greeting))
		return nil
	})
	if err != nil {
		return nil, err
	}
	if err := e.store.SetActive(sess.ID); err != nil {
		return nil, err
	}
	slog.Info("session created", "session_id", sess.ID, "model", cfg.Model)
	return sess, nil
}

// SetActiveSession switches the active session.
func (e *Engine) SetActiveSession(_ context.Context, id string) error {
	return notFound(e.store.SetActive(id))
}

// ActiveSession returns the active session.
func (e *Engine) ActiveSession(_ context.Context) (*api.Session, error) {
	sess, err := e.store.Active()
	if errors.Is(err, session.ErrNotFound) {
		return nil, api.NewNotFoundError("no active session")
	}
	return sess, err
}

// Sessions lists all sessions in creation order.
func (e *Engine) Sessions(_ context.Context) []*api.Session {
	return e.store.List()
}

// Session returns one session.
func (e *Engine) Session(_ context.Context, id string) (*api.Session, error) {
	sess, err := e.store.Get(id)
	return sess, notFound(err)
}

// DeleteSession removes a session, its step log and its working
// directory. A running execution is killed first.
func (e *Engine) DeleteSession(_ context.Context, id string) error {
	if err := e.store.Delete(id); err != nil {
		return notFound(err)
	}
	e.inflight.Cancel(id, errSessionDeleted)
	e.steps.Remove(id)
	if err := os.RemoveAll(e.workDir(id)); err != nil {
		slog.Warn("removing session working directory failed", "session_id", id, "error", err)
	}
	slog.Info("session deleted", "session_id", id)
	return nil
}

// Steps returns the step log of the session's current task.
func (e *Engine) Steps(_ context.Context, id string) ([]api.AgentStep, error) {
	if _, err := e.store.Get(id); err != nil {
		return nil, notFound(err)
	}
	return e.steps.For(id).Steps(), nil
}

// SubscribeSteps returns the current step log and a channel of the steps
// appended after it. cancel must be called to release the subscription.
func (e *Engine) SubscribeSteps(_ context.Context, id string) ([]api.AgentStep, <-chan steps.Event, func(), error) {
	if _, err := e.store.Get(id); err != nil {
		return nil, nil, nil, notFound(err)
	}
	snapshot, ch, cancel := e.steps.For(id).Subscribe()
	return snapshot, ch, cancel, nil
}

// Observation returns the text the reasoning loop receives for the
// session's last execution.
func (e *Engine) Observation(_ context.Context, id string) (string, error) {
	sess, err := e.store.Get(id)
	if err != nil {
		return "", notFound(err)
	}
	if sess.LastOutcome == nil {
		return "", api.NewNotFoundError("session has no execution outcome yet")
	}
	return sess.LastOutcome.Observation(), nil
}

// ArtifactPath resolves a file in the session's working directory for
// download. Hidden files are not served.
func (e *Engine) ArtifactPath(_ context.Context, id, name string) (string, error) {
	if _, err := e.store.Get(id); err != nil {
		return "", notFound(err)
	}
	for _, part := range strings.Split(filepath.ToSlash(name), "/") {
		if strings.HasPrefix(part, ".") {
			return "", api.NewNotFoundError("file not found")
		}
	}
	path, err := harness.SafeJoin(e.workDir(id), name)
	if err != nil {
		return "", api.NewInvalidRequestError("name", "invalid file name")
	}
	info, err := os.Stat(path)
	if err != nil || !info.Mode().IsRegular() {
		return "", api.NewNotFoundError("file not found")
	}
	return path, nil
}

func (e *Engine) workDir(id string) string {
	return filepath.Join(e.cfg.WorkRoot, id)
}

// notFound converts the store's sentinel into a caller-facing error.
func notFound(err error) error {
	if errors.Is(err, session.ErrNotFound) {
		return api.NewNotFoundError("session not found")
	}
	return err
}
