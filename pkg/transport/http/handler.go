// Package http serves the session operations over REST, streams agent
// steps over a websocket and mounts the MCP endpoint.
package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/rhuss/codegate/pkg/api"
	"github.com/rhuss/codegate/pkg/archive"
	"github.com/rhuss/codegate/pkg/auth"
	"github.com/rhuss/codegate/pkg/observability"
	"github.com/rhuss/codegate/pkg/steps"
	"github.com/rhuss/codegate/pkg/transport"
)

// Service is the set of operations the HTTP surface exposes. *engine.Engine
// implements it.
type Service interface {
	Ready(ctx context.Context) error
	Archive() archive.Archive

	NewSession(ctx context.Context, cfg api.LLMConfig) (*api.Session, error)
	SetActiveSession(ctx context.Context, id string) error
	ActiveSession(ctx context.Context) (*api.Session, error)
	Sessions(ctx context.Context) []*api.Session
	Session(ctx context.Context, id string) (*api.Session, error)
	DeleteSession(ctx context.Context, id string) error

	SubmitPrompt(ctx context.Context, id, text string) error
	ProposeCode(ctx context.Context, id, code, rationale string) (*api.Proposal, error)
	EmitStep(ctx context.Context, id string, step api.AgentStep) error
	FinalAnswer(ctx context.Context, id, text string) error
	Approve(ctx context.Context, id string) (*api.ExecutionOutcome, error)
	Cancel(ctx context.Context, id string) error
	SubmitFeedback(ctx context.Context, id string, vote api.FeedbackVote) error

	Steps(ctx context.Context, id string) ([]api.AgentStep, error)
	SubscribeSteps(ctx context.Context, id string) ([]api.AgentStep, <-chan steps.Event, func(), error)
	Observation(ctx context.Context, id string) (string, error)
	ArtifactPath(ctx context.Context, id, name string) (string, error)
}

// Options configures the handler.
type Options struct {
	Logger *slog.Logger

	// MaxBodySize limits JSON request bodies. Defaults to 2 MiB.
	MaxBodySize int64

	// Auth authenticates every /v1 and /mcp request. Nil disables
	// authentication; scope checks then pass.
	Auth func(http.Handler) http.Handler

	// MCP is mounted at /mcp when set.
	MCP http.Handler

	// MetricsPath serves Prometheus metrics when non-empty.
	MetricsPath string

	// OriginPatterns are the allowed Origin hosts for the step stream.
	// Empty means same-origin only.
	OriginPatterns []string
}

const defaultMaxBodySize = 2 << 20

type handler struct {
	svc     Service
	logger  *slog.Logger
	maxBody int64
	origins []string
}

// NewHandler builds the router for svc.
func NewHandler(svc Service, opts Options) http.Handler {
	h := &handler{
		svc:     svc,
		logger:  opts.Logger,
		maxBody: opts.MaxBodySize,
		origins: opts.OriginPatterns,
	}
	if h.logger == nil {
		h.logger = slog.Default()
	}
	if h.maxBody <= 0 {
		h.maxBody = defaultMaxBodySize
	}

	r := chi.NewRouter()
	r.Use(
		transport.Recovery(),
		transport.RequestID(),
		transport.Logging(h.logger),
		observability.MetricsMiddleware,
	)

	r.Get("/healthz", h.healthz)
	r.Get("/readyz", h.readyz)
	if opts.MetricsPath != "" {
		r.Handle(opts.MetricsPath, promhttp.Handler())
	}

	propose := auth.RequireScope(auth.ScopePropose)
	approve := auth.RequireScope(auth.ScopeApprove)

	r.Group(func(r chi.Router) {
		if opts.Auth != nil {
			r.Use(opts.Auth)
		}

		r.Route("/v1/sessions", func(r chi.Router) {
			r.Post("/", h.createSession)
			r.Get("/", h.listSessions)
			r.Get("/active", h.activeSession)
			r.Put("/active", h.setActiveSession)

			r.Route("/{id}", func(r chi.Router) {
				r.Use(knownSessionID)
				r.Get("/", h.getSession)
				r.Delete("/", h.deleteSession)
				r.Post("/prompts", h.submitPrompt)
				r.With(propose).Post("/proposals", h.proposeCode)
				r.With(propose).Post("/steps", h.emitStep)
				r.Get("/steps", h.listSteps)
				r.Get("/steps/stream", h.streamSteps)
				r.With(propose).Post("/final_answer", h.finalAnswer)
				r.Get("/observation", h.observation)
				r.With(approve).Post("/approve", h.approve)
				r.With(approve).Post("/cancel", h.cancel)
				r.With(approve).Post("/feedback", h.feedback)
				r.Get("/files/*", h.downloadFile)
			})
		})

		r.Route("/v1/executions", func(r chi.Router) {
			r.Get("/", h.listExecutions)
			r.Get("/{id}", h.getExecution)
		})

		if opts.MCP != nil {
			r.With(propose).Handle("/mcp", opts.MCP)
		}
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		transport.WriteAPIError(w, api.NewNotFoundError("no route for "+r.Method+" "+r.URL.Path))
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		transport.WriteErrorResponse(w,
			api.NewInvalidRequestError("", "method "+r.Method+" not allowed"),
			http.StatusMethodNotAllowed)
	})
	return r
}

// knownSessionID answers 404 for IDs that cannot name a session, before
// they reach the engine or the filesystem.
func knownSessionID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !api.ValidateSessionID(chi.URLParam(r, "id")) {
			transport.WriteAPIError(w, api.NewNotFoundError("session not found"))
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (h *handler) healthz(w http.ResponseWriter, _ *http.Request) {
	transport.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *handler) readyz(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.Ready(r.Context()); err != nil {
		h.logger.Warn("readiness check failed", "error", err)
		transport.WriteJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
		return
	}
	transport.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// listResponse is the envelope for collections.
type listResponse[T any] struct {
	Object  string `json:"object"`
	Data    []T    `json:"data"`
	HasMore bool   `json:"has_more,omitempty"`
}

func newList[T any](data []T) listResponse[T] {
	if data == nil {
		data = []T{}
	}
	return listResponse[T]{Object: "list", Data: data}
}

func (h *handler) createSession(w http.ResponseWriter, r *http.Request) {
	var cfg api.LLMConfig
	if !h.decode(w, r, &cfg, true) {
		return
	}
	sess, err := h.svc.NewSession(r.Context(), cfg)
	if err != nil {
		transport.WriteAPIError(w, err)
		return
	}
	transport.WriteJSON(w, http.StatusCreated, sess)
}

func (h *handler) listSessions(w http.ResponseWriter, r *http.Request) {
	transport.WriteJSON(w, http.StatusOK, newList(h.svc.Sessions(r.Context())))
}

func (h *handler) activeSession(w http.ResponseWriter, r *http.Request) {
	sess, err := h.svc.ActiveSession(r.Context())
	if err != nil {
		transport.WriteAPIError(w, err)
		return
	}
	transport.WriteJSON(w, http.StatusOK, sess)
}

func (h *handler) setActiveSession(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ID string `json:"id"`
	}
	if !h.decode(w, r, &req, false) {
		return
	}
	if req.ID == "" {
		transport.WriteAPIError(w, api.NewInvalidRequestError("id", "id is required"))
		return
	}
	if err := h.svc.SetActiveSession(r.Context(), req.ID); err != nil {
		transport.WriteAPIError(w, err)
		return
	}
	h.writeSession(w, r, req.ID)
}

func (h *handler) getSession(w http.ResponseWriter, r *http.Request) {
	h.writeSession(w, r, chi.URLParam(r, "id"))
}

func (h *handler) deleteSession(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.DeleteSession(r.Context(), chi.URLParam(r, "id")); err != nil {
		transport.WriteAPIError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *handler) submitPrompt(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Text string `json:"text"`
	}
	if !h.decode(w, r, &req, false) {
		return
	}
	id := chi.URLParam(r, "id")
	if err := h.svc.SubmitPrompt(r.Context(), id, req.Text); err != nil {
		transport.WriteAPIError(w, err)
		return
	}
	h.writeSession(w, r, id)
}

func (h *handler) proposeCode(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Code      string `json:"code"`
		Rationale string `json:"rationale"`
	}
	if !h.decode(w, r, &req, false) {
		return
	}
	proposal, err := h.svc.ProposeCode(r.Context(), chi.URLParam(r, "id"), req.Code, req.Rationale)
	if err != nil {
		transport.WriteAPIError(w, err)
		return
	}
	transport.WriteJSON(w, http.StatusCreated, proposal)
}

func (h *handler) emitStep(w http.ResponseWriter, r *http.Request) {
	var step api.AgentStep
	if !h.decode(w, r, &step, false) {
		return
	}
	if err := h.svc.EmitStep(r.Context(), chi.URLParam(r, "id"), step); err != nil {
		transport.WriteAPIError(w, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (h *handler) listSteps(w http.ResponseWriter, r *http.Request) {
	log, err := h.svc.Steps(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		transport.WriteAPIError(w, err)
		return
	}
	transport.WriteJSON(w, http.StatusOK, newList(log))
}

func (h *handler) finalAnswer(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Text string `json:"text"`
	}
	if !h.decode(w, r, &req, false) {
		return
	}
	id := chi.URLParam(r, "id")
	if err := h.svc.FinalAnswer(r.Context(), id, req.Text); err != nil {
		transport.WriteAPIError(w, err)
		return
	}
	h.writeSession(w, r, id)
}

func (h *handler) observation(w http.ResponseWriter, r *http.Request) {
	text, err := h.svc.Observation(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		transport.WriteAPIError(w, err)
		return
	}
	transport.WriteJSON(w, http.StatusOK, map[string]string{"observation": text})
}

func (h *handler) approve(w http.ResponseWriter, r *http.Request) {
	outcome, err := h.svc.Approve(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		transport.WriteAPIError(w, err)
		return
	}
	transport.WriteJSON(w, http.StatusOK, outcome)
}

func (h *handler) cancel(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := h.svc.Cancel(r.Context(), id); err != nil {
		transport.WriteAPIError(w, err)
		return
	}
	h.writeSession(w, r, id)
}

func (h *handler) feedback(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Vote string `json:"vote"`
	}
	if !h.decode(w, r, &req, false) {
		return
	}
	vote, apiErr := api.ParseFeedbackVote(req.Vote)
	if apiErr != nil {
		transport.WriteAPIError(w, apiErr)
		return
	}
	id := chi.URLParam(r, "id")
	if err := h.svc.SubmitFeedback(r.Context(), id, vote); err != nil {
		transport.WriteAPIError(w, err)
		return
	}
	h.writeSession(w, r, id)
}

func (h *handler) downloadFile(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "*")
	path, err := h.svc.ArtifactPath(r.Context(), chi.URLParam(r, "id"), name)
	if err != nil {
		transport.WriteAPIError(w, err)
		return
	}
	w.Header().Set("Content-Type", api.MIMETypeFor(name))
	http.ServeFile(w, r, path)
}

func (h *handler) listExecutions(w http.ResponseWriter, r *http.Request) {
	a := h.svc.Archive()
	if a == nil {
		transport.WriteErrorResponse(w,
			api.NewInvalidRequestError("", "execution listing is not available (no archive configured)"),
			http.StatusNotImplemented)
		return
	}
	opts, apiErr := parseListOptions(r)
	if apiErr != nil {
		transport.WriteAPIError(w, apiErr)
		return
	}
	limit := opts.NormalizedLimit()
	opts.Limit = limit + 1
	recs, err := a.List(r.Context(), opts)
	if err != nil {
		transport.WriteAPIError(w, err)
		return
	}
	resp := newList(recs)
	if len(recs) > limit {
		resp.Data = recs[:limit]
		resp.HasMore = true
	}
	transport.WriteJSON(w, http.StatusOK, resp)
}

func (h *handler) getExecution(w http.ResponseWriter, r *http.Request) {
	a := h.svc.Archive()
	if a == nil {
		transport.WriteErrorResponse(w,
			api.NewInvalidRequestError("", "execution retrieval is not available (no archive configured)"),
			http.StatusNotImplemented)
		return
	}
	id := chi.URLParam(r, "id")
	rec, err := a.Get(r.Context(), id)
	if errors.Is(err, archive.ErrNotFound) {
		transport.WriteAPIError(w, api.NewNotFoundError("execution "+id+" not found"))
		return
	}
	if err != nil {
		transport.WriteAPIError(w, err)
		return
	}
	transport.WriteJSON(w, http.StatusOK, rec)
}

// parseListOptions extracts pagination parameters from the query string.
func parseListOptions(r *http.Request) (archive.ListOptions, *api.APIError) {
	q := r.URL.Query()
	opts := archive.ListOptions{
		SessionID: q.Get("session_id"),
		After:     q.Get("after"),
	}
	if limitStr := q.Get("limit"); limitStr != "" {
		limit, err := strconv.Atoi(limitStr)
		if err != nil || limit < 1 {
			return opts, api.NewInvalidRequestError("limit", "limit must be a positive integer")
		}
		opts.Limit = limit
	}
	return opts, nil
}

func (h *handler) writeSession(w http.ResponseWriter, r *http.Request, id string) {
	sess, err := h.svc.Session(r.Context(), id)
	if err != nil {
		transport.WriteAPIError(w, err)
		return
	}
	transport.WriteJSON(w, http.StatusOK, sess)
}

// decode reads a JSON body into v. An empty body is accepted when
// optional is set. It writes the error response and returns false on
// failure.
func (h *handler) decode(w http.ResponseWriter, r *http.Request, v any, optional bool) bool {
	if ct := r.Header.Get("Content-Type"); ct != "" && !strings.HasPrefix(ct, "application/json") {
		transport.WriteErrorResponse(w,
			api.NewInvalidRequestError("content_type", "Content-Type must be application/json"),
			http.StatusUnsupportedMediaType)
		return false
	}

	r.Body = http.MaxBytesReader(w, r.Body, h.maxBody)
	err := json.NewDecoder(r.Body).Decode(v)
	if err == nil || (optional && errors.Is(err, io.EOF)) {
		return true
	}

	var maxBytesErr *http.MaxBytesError
	if errors.As(err, &maxBytesErr) {
		transport.WriteErrorResponse(w,
			api.NewInvalidRequestError("body", fmt.Sprintf("request body too large (max %d bytes)", h.maxBody)),
			http.StatusRequestEntityTooLarge)
		return false
	}
	transport.WriteAPIError(w, api.NewInvalidRequestError("body", "invalid JSON: "+err.Error()))
	return false
}
