// Package httpapi exposes the inventory service as a JSON REST API under /api.
package httpapi

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"vivarium/internal/core"
)

// Config parameterizes the HTTP server.
type Config struct {
	JWTSecret          []byte
	PrincipalCacheSize int
	PrincipalCacheTTL  time.Duration
	Logger             core.Logger
	// Registry receives HTTP collectors and backs /metrics. Nil uses a fresh registry.
	Registry *prometheus.Registry
}

// Server routes API requests to the service.
type Server struct {
	svc     *core.Service
	auth    *JWTAuth
	logger  core.Logger
	router  chi.Router
	metrics *HTTPMetrics
}

// NewServer builds the router. The service is the only dependency handlers use.
func NewServer(svc *core.Service, cfg Config) (*Server, error) {
	if svc == nil {
		return nil, errors.New("service required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = nopLogger{}
	}
	reg := cfg.Registry
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	auth, err := NewJWTAuth(cfg.JWTSecret, svc, cfg.PrincipalCacheSize, cfg.PrincipalCacheTTL, logger)
	if err != nil {
		return nil, err
	}
	s := &Server{svc: svc, auth: auth, logger: logger, metrics: NewHTTPMetrics(reg)}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.metrics.Middleware)
	r.Use(requestLogger(logger))
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	r.Route("/api", func(r chi.Router) {
		r.Use(auth.Middleware)
		s.routes(r)
	})
	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusNotFound, "route not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	})
	s.router = r
	return s, nil
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// Auth exposes the token middleware, mainly to drop cached principals.
func (s *Server) Auth() *JWTAuth { return s.auth }

// ListenAndServe serves on addr until ctx is cancelled, then drains in-flight
// requests for at most shutdownTimeout.
func (s *Server) ListenAndServe(ctx context.Context, addr string, shutdownTimeout time.Duration) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("http server started", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	s.logger.Info("http server shutting down")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http shutdown: %w", err)
	}
	s.logger.Info("http server stopped")
	return nil
}

type actorHandler func(w http.ResponseWriter, r *http.Request, actor core.User) error

// handle resolves the authenticated actor and maps returned errors.
func (s *Server) handle(fn actorHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, ok := ActorFromContext(r.Context())
		if !ok {
			writeError(w, http.StatusUnauthorized, "not authenticated")
			return
		}
		if err := fn(w, r, actor); err != nil {
			writeServiceError(w, s.logger, err)
		}
	}
}

func requestLogger(logger core.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rw := newStatusWriter(w)
			next.ServeHTTP(rw, r)
			logger.Debug("http request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", rw.status,
				"duration", time.Since(start),
				"request_id", middleware.GetReqID(r.Context()),
			)
		})
	}
}

type nopLogger struct{}

func (nopLogger) Debug(string, ...any) {}
func (nopLogger) Info(string, ...any)  {}
func (nopLogger) Warn(string, ...any)  {}
func (nopLogger) Error(string, ...any) {}
