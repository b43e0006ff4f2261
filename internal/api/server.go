// Package api is the local HTTP control surface: recording, playback and
// script management over REST, plus a WebSocket stream of engine events.
package api

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"automacro/internal/config"
	"automacro/internal/controller"
	"automacro/internal/errs"
	"automacro/internal/logging"
	"automacro/internal/protocol"
)

const (
	shutdownTimeout = 5 * time.Second
	maxBodyBytes    = 1 << 20
	healthTimeout   = 3 * time.Second
)

// Server provides the HTTP API for remote control
type Server struct {
	cfg    config.APIConfig
	ctl    *controller.Controller
	logger *logging.Logger
	ws     *WSManager
	server *http.Server
	ln     net.Listener
}

// NewServer creates a new API server. It does not listen until Start.
func NewServer(cfg config.APIConfig, ctl *controller.Controller, logger *logging.Logger) *Server {
	if logger == nil {
		logger = logging.Discard()
	}
	s := &Server{cfg: cfg, ctl: ctl, logger: logger.Component("api")}
	s.ws = newWSManager(ctl, cfg.Token, s.logger)
	return s
}

// Hub returns the WebSocket manager; subscribe it to the event bus.
func (s *Server) Hub() *WSManager { return s.ws }

// Handler builds the router.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(s.recoverMiddleware)
	r.Use(s.logMiddleware)

	r.Get("/health", s.handleHealth)
	// /ws authenticates itself so browser clients can send an auth message.
	r.Get("/ws", s.ws.handleWebSocket)

	r.Route("/api", func(r chi.Router) {
		r.Use(s.authMiddleware)
		r.Get("/status", s.handleStatus)
		r.Get("/hal/health", s.handleHALHealth)

		r.Post("/record/start", s.handleRecordStart)
		r.Post("/record/stop", s.handleRecordStop)

		r.Route("/scripts", func(r chi.Router) {
			r.Get("/", s.handleListScripts)
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", s.handleGetScript)
				r.Delete("/", s.handleDeleteScript)
				r.Post("/play", s.handlePlay)
			})
		})

		r.Route("/playback", func(r chi.Router) {
			r.Post("/pause", s.handlePlayback(s.ctl.Pause))
			r.Post("/resume", s.handlePlayback(s.ctl.Resume))
			r.Post("/stop", s.handlePlayback(s.ctl.Stop))
		})

		r.Route("/hotkeys", func(r chi.Router) {
			r.Post("/suspend", s.handleHotkeys(s.ctl.SuspendHotkeys))
			r.Post("/resume", s.handleHotkeys(s.ctl.ResumeHotkeys))
		})
	})
	return r
}

// Start listens on the configured address and serves in the background.
func (s *Server) Start(ctx context.Context) error {
	go s.ws.Run(ctx)

	addr := net.JoinHostPort(s.cfg.Host, fmt.Sprint(s.cfg.Port))
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("api listen on %s: %w", addr, err)
	}
	s.ln = ln
	s.server = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.logger.Info("api server listening", "addr", ln.Addr().String(), "auth", s.cfg.Token != "")

	go func() {
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("api server stopped", "error", err)
		}
	}()
	return nil
}

// Addr is the bound listener address, or "" before Start.
func (s *Server) Addr() string {
	if s.ln == nil {
		return ""
	}
	return s.ln.Addr().String()
}

// Close shuts the server down and disconnects WebSocket clients.
func (s *Server) Close() error {
	s.ws.stop()
	if s.server == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return s.server.Shutdown(ctx)
}

// recoverMiddleware prevents panics from crashing the whole server
func (s *Server) recoverMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if p := recover(); p != nil {
				s.logger.Error("panic in handler", "panic", p, "method", r.Method, "path", r.URL.Path)
				writeError(w, http.StatusInternalServerError, "internal error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

func (s *Server) logMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/ws" {
			next.ServeHTTP(w, r)
			return
		}
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(sw, r)
		s.logger.Debug("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", sw.status,
			"duration_ms", time.Since(start).Milliseconds(),
			"remote", r.RemoteAddr,
		)
	})
}

// authMiddleware checks the bearer token if one is configured
func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !tokenOK(s.cfg.Token, bearer(r)) {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func bearer(r *http.Request) string {
	h := r.Header.Get("Authorization")
	if t, ok := strings.CutPrefix(h, "Bearer "); ok {
		return t
	}
	return r.URL.Query().Get("token")
}

func tokenOK(want, got string) bool {
	if want == "" {
		return true
	}
	return subtle.ConstantTimeCompare([]byte(want), []byte(got)) == 1
}

var errUnauthorized = fmt.Errorf("%w: unauthorized", errs.ErrPermissionDenied)

func errUnsupported(t protocol.MessageType) error {
	return errs.Invalid("unsupported message type %q", t)
}

type errorBody struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		_ = json.NewEncoder(w).Encode(v)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorBody{Error: msg})
}

// statusFor maps engine errors onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, errs.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, errs.ErrInvalidArgument):
		return http.StatusBadRequest
	case errors.Is(err, errs.ErrConflict):
		return http.StatusConflict
	case errors.Is(err, errs.ErrPermissionDenied):
		return http.StatusForbidden
	case errors.Is(err, errs.ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case errors.Is(err, errs.ErrNotInitialized), errors.Is(err, errs.ErrAlreadyDisposed), errors.Is(err, errs.ErrPlatformUnsupported):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		s.logger.Error("request failed", "method", r.Method, "path", r.URL.Path, "error", err)
	}
	writeError(w, status, err.Error())
}

// decode reads an optional JSON body into v. An empty body leaves v alone.
func decode(r *http.Request, v any) error {
	if r.Body == nil || r.ContentLength == 0 {
		return nil
	}
	dec := json.NewDecoder(http.MaxBytesReader(nil, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return errs.Invalid("request body: %v", err)
	}
	return nil
}
