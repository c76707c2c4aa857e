package control

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/okian/fieldguard/internal/domain/model"
	"github.com/okian/fieldguard/pkg/logger"
)

const shutdownTimeout = 5 * time.Second

// Server exposes an Agent on a unix socket.
type Server struct {
	agent  Agent
	logger logger.Logger
}

// NewServer creates a control server for a.
func NewServer(a Agent, opts ...Option) *Server {
	s := &Server{agent: a}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = logger.Get().Named("control")
	}
	return s
}

// Router returns the HTTP handler.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.Recoverer)

	r.Get("/health", s.handleHealth)
	r.Post("/fixes", s.handleFix)
	r.Post("/clock/{kind}", s.handleClock)
	r.Post("/sync", s.handleSync)
	r.Post("/login", s.handleLogin)
	r.Post("/logout", s.handleLogout)
	return r
}

// Serve listens on path until ctx is done. A stale socket left by a crashed
// agent is replaced; a live one is reported as ErrAlreadyRunning.
func (s *Server) Serve(ctx context.Context, path string) error {
	ln, err := Listen(ctx, path)
	if err != nil {
		return err
	}
	defer func() { _ = os.Remove(path) }()

	srv := &http.Server{
		Handler:           s.Router(),
		ReadHeaderTimeout: 5 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	s.logger.Info(ctx, "control socket listening", logger.String("path", path))
	if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("control serve: %w", err)
	}
	return nil
}

// Listen opens the control socket, readable by the owner only.
func Listen(ctx context.Context, path string) (net.Listener, error) {
	if _, err := os.Stat(path); err == nil {
		var d net.Dialer
		if conn, derr := d.DialContext(ctx, "unix", path); derr == nil {
			_ = conn.Close()
			return nil, fmt.Errorf("%w: %s", ErrAlreadyRunning, path)
		}
		if err := os.Remove(path); err != nil {
			return nil, fmt.Errorf("remove stale socket: %w", err)
		}
	}
	ln, err := net.Listen("unix", path)
	if err != nil {
		return nil, fmt.Errorf("listen %s: %w", path, err)
	}
	if err := os.Chmod(path, 0o600); err != nil {
		_ = ln.Close()
		return nil, fmt.Errorf("chmod socket: %w", err)
	}
	return ln, nil
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	h, err := s.agent.Health(r.Context())
	if err != nil {
		s.fail(w, r, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, h)
}

func (s *Server) handleFix(w http.ResponseWriter, r *http.Request) {
	var fix model.LocationSample
	if err := json.NewDecoder(r.Body).Decode(&fix); err != nil {
		s.fail(w, r, http.StatusBadRequest, fmt.Errorf("decode fix: %w", err))
		return
	}
	if err := s.agent.RecordFix(r.Context(), fix); err != nil {
		s.fail(w, r, http.StatusInternalServerError, err)
		return
	}
	s.handleHealth(w, r)
}

func (s *Server) handleClock(w http.ResponseWriter, r *http.Request) {
	var kind model.ActionKind
	switch chi.URLParam(r, "kind") {
	case "in":
		kind = model.ActionTimeIn
	case "out":
		kind = model.ActionTimeOut
	default:
		s.fail(w, r, http.StatusNotFound, fmt.Errorf("unknown clock action %q", chi.URLParam(r, "kind")))
		return
	}
	var req clockRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.fail(w, r, http.StatusBadRequest, fmt.Errorf("decode clock request: %w", err))
		return
	}
	writeJSON(w, http.StatusOK, s.agent.Clock(r.Context(), kind, req.Latitude, req.Longitude))
}

func (s *Server) handleSync(w http.ResponseWriter, r *http.Request) {
	rep, err := s.agent.Sync(r.Context())
	out := SyncResult{Report: rep}
	if err != nil {
		out.Error = err.Error()
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.fail(w, r, http.StatusBadRequest, fmt.Errorf("decode login: %w", err))
		return
	}
	if err := s.agent.Login(r.Context(), req.Token); err != nil {
		s.fail(w, r, http.StatusBadRequest, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	if err := s.agent.Logout(r.Context()); err != nil {
		s.fail(w, r, http.StatusInternalServerError, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) fail(w http.ResponseWriter, r *http.Request, status int, err error) {
	if status >= http.StatusInternalServerError {
		s.logger.Error(r.Context(), "control request failed",
			logger.String("path", r.URL.Path),
			logger.Error(err),
		)
	}
	writeJSON(w, status, errorReply{Error: err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
