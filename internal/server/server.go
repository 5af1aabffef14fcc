// Package server exposes debate runs over HTTP.
package server

import (
	"context"
	"encoding/json"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/Iron-Ham/concord/internal/debate"
	"github.com/Iron-Ham/concord/internal/errors"
	"github.com/Iron-Ham/concord/internal/logging"
	"github.com/Iron-Ham/concord/internal/pool"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// Runner is one debate run. *debate.Orchestrator implements it.
type Runner interface {
	RunTask(ctx context.Context, task debate.Task) (*debate.RunResult, error)
	Status() debate.Status
	Cancel()
}

// Factory builds a runner with its own client pool. release is called once
// the run ends.
type Factory func(ctx context.Context) (r Runner, release func(), err error)

// HealthFunc health-checks the configured backends.
type HealthFunc func(ctx context.Context) (map[string]pool.Health, error)

// Reports loads final reports of runs that are no longer in memory.
type Reports interface {
	LoadFinal(ctx context.Context, taskID string) (*debate.RunResult, error)
}

type entry struct {
	task    debate.Task
	runner  Runner
	done    chan struct{}
	result  *debate.RunResult
	err     error
	started time.Time
}

// Server serves the run API.
type Server struct {
	factory Factory
	health  HealthFunc
	reports Reports
	origins []string
	logger  *logging.Logger
	now     func() time.Time

	base   context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu   sync.RWMutex
	runs map[string]*entry
}

// Option configures a Server.
type Option func(*Server)

// WithHealth sets the backend health check.
func WithHealth(h HealthFunc) Option {
	return func(s *Server) { s.health = h }
}

// WithReports serves stored reports for unknown run IDs.
func WithReports(r Reports) Option {
	return func(s *Server) { s.reports = r }
}

// WithCORSOrigins allows browser clients from origins.
func WithCORSOrigins(origins []string) Option {
	return func(s *Server) { s.origins = origins }
}

// WithLogger sets the server logger.
func WithLogger(l *logging.Logger) Option {
	return func(s *Server) { s.logger = l }
}

// New creates a Server.
func New(factory Factory, opts ...Option) *Server {
	s := &Server{
		factory: factory,
		logger:  logging.NopLogger(),
		now:     time.Now,
		runs:    make(map[string]*entry),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.base, s.cancel = context.WithCancel(context.Background())
	return s
}

// Handler returns the router.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	if len(s.origins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: s.origins,
			AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
			AllowedHeaders: []string{"Accept", "Content-Type"},
			MaxAge:         300,
		}))
	}

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("ok"))
	})
	r.Route("/v1", func(rt chi.Router) {
		rt.Get("/health", s.wrap(s.handleHealth))
		rt.Get("/runs", s.wrap(s.handleList))
		rt.Post("/runs", s.wrap(s.handleCreate))
		rt.Get("/runs/{id}", s.wrap(s.handleGet))
		rt.Post("/runs/{id}/cancel", s.wrap(s.handleCancel))
	})
	return r
}

// ListenAndServe serves on addr until ctx is done, then shuts down and
// cancels every active run.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errc := make(chan error, 1)
	go func() { errc <- srv.ListenAndServe() }()
	s.logger.Info("run API listening", "addr", addr)

	select {
	case err := <-errc:
		s.Shutdown()
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	err := srv.Shutdown(shutdownCtx)
	s.Shutdown()
	return err
}

// Shutdown cancels active runs and waits for them to finish.
func (s *Server) Shutdown() {
	s.mu.RLock()
	for _, e := range s.runs {
		e.runner.Cancel()
	}
	s.mu.RUnlock()
	s.cancel()
	s.wg.Wait()
}

type handlerFunc func(http.ResponseWriter, *http.Request) error

func (s *Server) wrap(h handlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		if err := h(w, req); err != nil {
			status := statusFor(err)
			if status >= http.StatusInternalServerError {
				s.logger.Error("request failed", "path", req.URL.Path, "error", err.Error())
			}
			if errors.IsRetryable(err) {
				w.Header().Set("Retry-After", "5")
			}
			writeJSON(w, status, map[string]string{"error": publicMessage(err, status)})
		}
	}
}

func statusFor(err error) int {
	var nf *errors.NotFoundError
	switch {
	case errors.As(err, &nf), errors.Is(err, errors.ErrRunNotFound):
		return http.StatusNotFound
	case errors.Is(err, errors.ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, errors.ErrRunInProgress):
		return http.StatusConflict
	case errors.Is(err, errors.ErrNoAvailableClients):
		return http.StatusServiceUnavailable
	case errors.IsAuthError(err):
		return http.StatusBadGateway
	case errors.Is(err, errors.ErrTimeout):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

// publicMessage hides internal error text from clients.
func publicMessage(err error, status int) string {
	if status < http.StatusInternalServerError || errors.IsUserFacing(err) {
		return err.Error()
	}
	return http.StatusText(status)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// RunView is the API representation of a run.
type RunView struct {
	ID        string            `json:"id"`
	Task      string            `json:"task"`
	Running   bool              `json:"running"`
	Status    *debate.Status    `json:"status,omitempty"`
	Result    *debate.RunResult `json:"result,omitempty"`
	Error     string            `json:"error,omitempty"`
	StartedAt time.Time         `json:"started_at"`
}

func (e *entry) view() RunView {
	v := RunView{ID: e.task.ID, Task: e.task.Description, StartedAt: e.started}
	select {
	case <-e.done:
		v.Result = e.result
		if e.err != nil {
			v.Error = e.err.Error()
		}
	default:
		v.Running = true
	}
	st := e.runner.Status()
	v.Status = &st
	return v
}

// POST /v1/runs
// Body: {"task": "<description>"}
func (s *Server) handleCreate(w http.ResponseWriter, req *http.Request) error {
	var body struct {
		Task string `json:"task"`
	}
	if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
		return errors.NewValidationError("request body must be JSON").WithCause(err)
	}
	task := debate.NewTask(body.Task, s.now())
	if task.Description == "" {
		return errors.NewValidationError("task is required").WithField("task")
	}

	runner, release, err := s.factory(req.Context())
	if err != nil {
		return err
	}

	e := &entry{task: task, runner: runner, done: make(chan struct{}), started: s.now()}
	s.mu.Lock()
	s.runs[task.ID] = e
	s.mu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer close(e.done)
		if release != nil {
			defer release()
		}
		e.result, e.err = runner.RunTask(s.base, task)
		if e.err != nil {
			s.logger.Warn("run failed", "task_id", task.ID, "error", e.err.Error())
		}
	}()

	s.logger.Info("run accepted", "task_id", task.ID)
	writeJSON(w, http.StatusAccepted, RunView{ID: task.ID, Task: task.Description, Running: true, StartedAt: e.started})
	return nil
}

// GET /v1/runs
func (s *Server) handleList(w http.ResponseWriter, _ *http.Request) error {
	s.mu.RLock()
	views := make([]RunView, 0, len(s.runs))
	for _, e := range s.runs {
		v := e.view()
		v.Result = nil
		views = append(views, v)
	}
	s.mu.RUnlock()
	sort.Slice(views, func(i, j int) bool { return views[i].StartedAt.After(views[j].StartedAt) })
	writeJSON(w, http.StatusOK, views)
	return nil
}

func (s *Server) lookup(id string) (*entry, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.runs[id]
	return e, ok
}

// GET /v1/runs/{id}
func (s *Server) handleGet(w http.ResponseWriter, req *http.Request) error {
	id := chi.URLParam(req, "id")
	if e, ok := s.lookup(id); ok {
		writeJSON(w, http.StatusOK, e.view())
		return nil
	}
	if s.reports == nil {
		return errors.NewNotFoundError("run", id)
	}
	res, err := s.reports.LoadFinal(req.Context(), id)
	if err != nil {
		return err
	}
	writeJSON(w, http.StatusOK, RunView{ID: id, Task: res.Task.Description, Result: res, StartedAt: res.StartedAt})
	return nil
}

// POST /v1/runs/{id}/cancel
func (s *Server) handleCancel(w http.ResponseWriter, req *http.Request) error {
	id := chi.URLParam(req, "id")
	e, ok := s.lookup(id)
	if !ok {
		return errors.NewNotFoundError("run", id)
	}
	select {
	case <-e.done:
		writeJSON(w, http.StatusConflict, map[string]string{"error": "run already finished"})
		return nil
	default:
	}
	e.runner.Cancel()
	s.logger.Info("run cancel requested", "task_id", id)
	writeJSON(w, http.StatusAccepted, map[string]string{"id": id, "status": "canceling"})
	return nil
}

// GET /v1/health
func (s *Server) handleHealth(w http.ResponseWriter, req *http.Request) error {
	if s.health == nil {
		writeJSON(w, http.StatusOK, map[string]any{"status": "unknown"})
		return nil
	}
	health, err := s.health(req.Context())
	status := http.StatusOK
	if err != nil {
		status = http.StatusServiceUnavailable
	}
	body := map[string]any{"backends": health}
	if err != nil {
		body["error"] = err.Error()
	}
	writeJSON(w, status, body)
	return nil
}
