package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/aretw0/promptgraph/internal/logging"
	"github.com/aretw0/promptgraph/internal/presentation/graph"
	"github.com/aretw0/promptgraph/pkg/domain"
	"github.com/aretw0/promptgraph/pkg/session"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// Server exposes the sessions of a Manager over a JSON API.
type Server struct {
	Manager *session.Manager
	Streams *StreamManager

	logger  *slog.Logger
	metrics http.Handler
	version string
}

// Option configures the Server.
type Option func(*Server)

// WithLogger sets the server logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		s.logger = logger
	}
}

// WithMetricsHandler mounts h on GET /metrics.
func WithMetricsHandler(h http.Handler) Option {
	return func(s *Server) {
		s.metrics = h
	}
}

// WithVersion sets the version reported by GET /info.
func WithVersion(v string) Option {
	return func(s *Server) {
		s.version = v
	}
}

// NewServer creates a server over manager.
func NewServer(manager *session.Manager, opts ...Option) *Server {
	s := &Server{
		Manager: manager,
		logger:  logging.NewNop(),
		version: "dev",
	}
	for _, opt := range opts {
		opt(s)
	}
	s.Streams = NewStreamManager(s.logger)
	return s
}

// Hooks returns lifecycle hooks that broadcast session events to SSE subscribers.
// Pass them to the sessions served by s.
func (s *Server) Hooks() domain.LifecycleHooks {
	return s.Streams.Hooks()
}

// Handler returns the HTTP routes.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/health", s.GetHealth)
	r.Get("/info", s.GetInfo)
	if s.metrics != nil {
		r.Method(http.MethodGet, "/metrics", s.metrics)
	}

	r.Route("/sessions", func(r chi.Router) {
		r.Get("/", s.ListSessions)
		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", s.GetSession)
			r.Delete("/", s.CloseSession)
			r.Get("/graph", s.GetGraph)
			r.Get("/events", s.SubscribeEvents)
			r.Post("/goto", s.GoTo)
			r.Post("/execute", s.Execute)
			r.Post("/verify", s.Verify)
		})
	})

	return enableCORS(r)
}

// NewHandler creates a new HTTP handler for the sessions of manager.
func NewHandler(manager *session.Manager, opts ...Option) http.Handler {
	return NewServer(manager, opts...).Handler()
}

func enableCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// SessionInfo describes a managed session.
type SessionInfo struct {
	ID     string   `json:"id"`
	Graph  string   `json:"graph"`
	State  string   `json:"state"`
	States []string `json:"states,omitempty"`
	Closed bool     `json:"closed"`
}

// GotoRequest is the body of POST /sessions/{id}/goto.
type GotoRequest struct {
	State   string `json:"state"`
	HopWise *bool  `json:"hop_wise,omitempty"`
	Timeout string `json:"timeout,omitempty"`
}

// ExecuteRequest is the body of POST /sessions/{id}/execute.
type ExecuteRequest struct {
	Command string `json:"command"`
	State   string `json:"state,omitempty"`
	Timeout string `json:"timeout,omitempty"`
	// Configure runs the lines through the configuration mode.
	Configure bool `json:"configure,omitempty"`
	// IgnoreErrors returns rejected output instead of failing.
	IgnoreErrors bool `json:"ignore_errors,omitempty"`
}

// VerifyRequest is the body of POST /sessions/{id}/verify.
type VerifyRequest struct {
	Command      string `json:"command"`
	Expected     string `json:"expected"`
	State        string `json:"state,omitempty"`
	Timeout      string `json:"timeout,omitempty"`
	Interval     string `json:"interval,omitempty"`
	TimeoutTotal string `json:"timeout_total,omitempty"`
	RetryCount   int    `json:"retry_count,omitempty"`
	Remediation  string `json:"remediation,omitempty"`
	Commit       string `json:"commit,omitempty"`
	ExactLine    bool   `json:"exact_line,omitempty"`
}

// OutputResponse carries the output of a command and the state it left the session in.
type OutputResponse struct {
	Output string `json:"output"`
	State  string `json:"state"`
}

// ErrorResponse is the body of every failed request.
type ErrorResponse struct {
	Error string `json:"error"`
	Kind  string `json:"kind"`
}

// GetHealth handles the GET /health request.
func (s *Server) GetHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// GetInfo handles the GET /info request.
func (s *Server) GetInfo(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{
		"app":     "promptgraph-http",
		"version": s.version,
	})
}

// ListSessions handles the GET /sessions request.
func (s *Server) ListSessions(w http.ResponseWriter, r *http.Request) {
	ids := s.Manager.List()
	out := make([]SessionInfo, 0, len(ids))
	for _, id := range ids {
		sess, err := s.Manager.Get(id)
		if err != nil {
			continue
		}
		out = append(out, describe(sess, false))
	}
	s.writeJSON(w, http.StatusOK, out)
}

// GetSession handles the GET /sessions/{id} request.
func (s *Server) GetSession(w http.ResponseWriter, r *http.Request) {
	sess, err := s.Manager.Get(chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, describe(sess, true))
}

// CloseSession handles the DELETE /sessions/{id} request.
func (s *Server) CloseSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.Manager.Close(id); err != nil {
		s.writeError(w, err)
		return
	}
	s.logger.Info("session closed over http", "session", id)
	w.WriteHeader(http.StatusNoContent)
}

// GetGraph handles the GET /sessions/{id}/graph request, returning Mermaid text.
func (s *Server) GetGraph(w http.ResponseWriter, r *http.Request) {
	sess, err := s.Manager.Get(chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	overlay := &graph.GraphOverlay{
		VisitedStates: s.Streams.Visited(sess.ID()),
		CurrentState:  sess.Current().Name,
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	fmt.Fprint(w, graph.GenerateMermaid(sess.Graph(), "", overlay))
}

// GoTo handles the POST /sessions/{id}/goto request.
func (s *Server) GoTo(w http.ResponseWriter, r *http.Request) {
	var body GotoRequest
	if !s.decode(w, r, &body) {
		return
	}
	timeout, err := parseDuration(body.Timeout)
	if err != nil {
		s.badRequest(w, err)
		return
	}

	var state string
	err = s.Manager.WithSession(r.Context(), chi.URLParam(r, "id"), func(ctx context.Context, sess *session.Session) error {
		target, err := lookupState(sess, body.State)
		if err != nil {
			return err
		}
		opts := []session.CallOption{session.Timeout(timeout)}
		if body.HopWise != nil {
			opts = append(opts, session.HopWise(*body.HopWise))
		}
		err = sess.GoTo(ctx, target, opts...)
		state = sess.Current().Name
		return err
	})
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, OutputResponse{State: state})
}

// Execute handles the POST /sessions/{id}/execute request.
func (s *Server) Execute(w http.ResponseWriter, r *http.Request) {
	var body ExecuteRequest
	if !s.decode(w, r, &body) {
		return
	}
	if body.Command == "" {
		s.badRequest(w, errors.New("command is required"))
		return
	}
	timeout, err := parseDuration(body.Timeout)
	if err != nil {
		s.badRequest(w, err)
		return
	}

	var resp OutputResponse
	err = s.Manager.WithSession(r.Context(), chi.URLParam(r, "id"), func(ctx context.Context, sess *session.Session) error {
		opts := []session.CallOption{session.Timeout(timeout)}
		if body.State != "" {
			target, err := lookupState(sess, body.State)
			if err != nil {
				return err
			}
			opts = append(opts, session.InState(target))
		}
		if body.IgnoreErrors {
			opts = append(opts, session.IgnoreErrors())
		}

		var err error
		if body.Configure {
			resp.Output, err = sess.Configure(ctx, body.Command, opts...)
		} else {
			resp.Output, err = sess.ExecuteLines(ctx, body.Command, opts...)
		}
		resp.State = sess.Current().Name
		return err
	})
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, resp)
}

// Verify handles the POST /sessions/{id}/verify request.
func (s *Server) Verify(w http.ResponseWriter, r *http.Request) {
	var body VerifyRequest
	if !s.decode(w, r, &body) {
		return
	}
	if body.Command == "" || body.Expected == "" {
		s.badRequest(w, errors.New("command and expected are required"))
		return
	}
	opts := session.VerifyOptions{
		RetryCount:  body.RetryCount,
		Remediation: body.Remediation,
		Commit:      body.Commit,
		ExactLine:   body.ExactLine,
	}
	for _, d := range []struct {
		raw string
		dst *time.Duration
	}{
		{body.Timeout, &opts.Timeout},
		{body.Interval, &opts.Interval},
		{body.TimeoutTotal, &opts.TimeoutTotal},
	} {
		v, err := parseDuration(d.raw)
		if err != nil {
			s.badRequest(w, err)
			return
		}
		*d.dst = v
	}

	var resp OutputResponse
	err := s.Manager.WithSession(r.Context(), chi.URLParam(r, "id"), func(ctx context.Context, sess *session.Session) error {
		if body.State != "" {
			target, err := lookupState(sess, body.State)
			if err != nil {
				return err
			}
			opts.State = target
		}
		var err error
		resp.Output, err = sess.ExecuteAndVerify(ctx, body.Command, body.Expected, opts)
		resp.State = sess.Current().Name
		return err
	})
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, resp)
}

func describe(sess *session.Session, withStates bool) SessionInfo {
	info := SessionInfo{
		ID:     sess.ID(),
		Graph:  sess.Graph().Name(),
		State:  sess.Current().Name,
		Closed: sess.Closed(),
	}
	if withStates {
		for _, st := range sess.Graph().States() {
			info.States = append(info.States, st.Name)
		}
	}
	return info
}

// errBadRequest marks client errors found after the session lock is taken.
var errBadRequest = errors.New("bad request")

func lookupState(sess *session.Session, name string) (*domain.State, error) {
	if name == domain.Any.Name {
		return domain.Any, nil
	}
	st, err := sess.Graph().State(name)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errBadRequest, err)
	}
	return st, nil
}

func parseDuration(raw string) (time.Duration, error) {
	if raw == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("%w: invalid duration %q", errBadRequest, raw)
	}
	return d, nil
}

func (s *Server) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		s.logger.Warn("invalid request body", "path", r.URL.Path, "error", err)
		s.badRequest(w, fmt.Errorf("%w: invalid request body", errBadRequest))
		return false
	}
	return true
}

func (s *Server) badRequest(w http.ResponseWriter, err error) {
	s.writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: err.Error(), Kind: "bad_request"})
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	status, kind := classify(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed", "kind", kind, "error", err)
	} else {
		s.logger.Debug("request rejected", "kind", kind, "error", err)
	}
	s.writeJSON(w, status, ErrorResponse{Error: err.Error(), Kind: kind})
}

func classify(err error) (int, string) {
	var (
		bad        *domain.BadCommandError
		verify     *domain.VerificationFailedError
		poll       *domain.PollTimeoutError
		timeout    *domain.TimeoutError
		dlgTimeout *domain.DialogTimeoutError
		noPath     *domain.NoDirectPathError
		transition *domain.StateTransitionError
		unresolved *domain.UnresolvedStateError
		ioErr      *domain.TransportIOError
	)
	switch {
	case errors.Is(err, errBadRequest):
		return http.StatusBadRequest, "bad_request"
	case errors.Is(err, domain.ErrSessionNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, domain.ErrSessionClosed):
		return http.StatusGone, "closed"
	case errors.As(err, &bad):
		return http.StatusUnprocessableEntity, "bad_command"
	case errors.As(err, &verify):
		return http.StatusUnprocessableEntity, "verification_failed"
	case errors.As(err, &noPath):
		return http.StatusConflict, "no_direct_path"
	case errors.As(err, &transition):
		return http.StatusConflict, "state_transition"
	case errors.As(err, &unresolved):
		return http.StatusConflict, "unresolved_state"
	case errors.As(err, &poll), errors.As(err, &timeout), errors.As(err, &dlgTimeout):
		return http.StatusGatewayTimeout, "timeout"
	case errors.As(err, &ioErr):
		return http.StatusBadGateway, "transport"
	}
	return http.StatusInternalServerError, "internal"
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("response encode failed", "error", err)
	}
}
