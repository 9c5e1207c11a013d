// Package httpd serves the engine's operational HTTP surface: the
// authenticated manual reconciliation endpoint, a health probe, and
// Prometheus metrics.
package httpd

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/storekit/rotor/internal/logging"
	"github.com/storekit/rotor/types"
)

// SecretHeader carries the shared secret for the manual endpoint.
const SecretHeader = "X-Rotor-Secret"

// Sweeper runs one reconciliation sweep on demand.
type Sweeper interface {
	Reconcile(ctx context.Context, maxItems int, source types.AssignmentSource) (types.SweepResult, error)
}

// Pinger reports backing-store reachability for the health probe.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Config holds the HTTP server settings.
type Config struct {
	// Addr is the listen address, e.g. ":8080".
	Addr string

	// Secret authorizes POST /reconcile. Empty disables the endpoint.
	Secret string

	// SweepMaxItems caps one manual sweep. Manual sweeps run with a
	// larger cap than event-driven ones since an operator asked for them.
	SweepMaxItems int

	// RequestTimeout bounds a single request, manual sweeps included.
	RequestTimeout time.Duration
}

// Server hosts the operational endpoints.
type Server struct {
	cfg     Config
	sweeper Sweeper
	pinger  Pinger
	logger  types.Logger

	httpServer *http.Server
}

// NewServer creates the HTTP server. pinger may be nil; /healthz then
// only reports process liveness.
func NewServer(cfg Config, sweeper Sweeper, pinger Pinger, logger types.Logger) *Server {
	if logger == nil {
		logger = logging.NewNop()
	}

	s := &Server{
		cfg:     cfg,
		sweeper: sweeper,
		pinger:  pinger,
		logger:  logger,
	}

	s.httpServer = &http.Server{
		Addr:              cfg.Addr,
		Handler:           s.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	return s
}

// Routes builds the router. Exposed for tests and embedding.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	if s.cfg.RequestTimeout > 0 {
		r.Use(middleware.Timeout(s.cfg.RequestTimeout))
	}

	r.Get("/healthz", s.handleHealthz)
	r.Handle("/metrics", promhttp.Handler())
	r.Post("/reconcile", s.handleReconcile)

	return r
}

// Start begins serving. Blocks until the listener fails or Shutdown is
// called; http.ErrServerClosed is swallowed.
func (s *Server) Start() error {
	s.logger.Info("http server listening", "addr", s.cfg.Addr)

	err := s.httpServer.ListenAndServe()
	if err != nil && err != http.ErrServerClosed {
		return err
	}

	return nil
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

type reconcileResponse struct {
	OK     bool               `json:"ok"`
	Result *types.SweepResult `json:"result,omitempty"`
	Error  string             `json:"error,omitempty"`
}

// handleReconcile runs a manual sweep. Authorization uses a shared
// secret in the SecretHeader header or a "secret" query parameter;
// anything else is a 401 with zero side effects.
func (s *Server) handleReconcile(w http.ResponseWriter, r *http.Request) {
	if !s.authorized(r) {
		s.logger.Warn("manual sweep rejected, bad secret", "remote", r.RemoteAddr)
		writeJSON(w, http.StatusUnauthorized, reconcileResponse{OK: false, Error: "unauthorized"})

		return
	}

	result, err := s.sweeper.Reconcile(r.Context(), s.cfg.SweepMaxItems, types.SourceManualSweep)
	if err != nil {
		s.logger.Error("manual sweep failed", "error", err)
		writeJSON(w, http.StatusInternalServerError, reconcileResponse{OK: false, Error: err.Error()})

		return
	}

	writeJSON(w, http.StatusOK, reconcileResponse{OK: true, Result: &result})
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	if s.pinger != nil {
		if err := s.pinger.Ping(r.Context()); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "degraded", "error": err.Error()})
			return
		}
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// authorized compares the presented secret in constant time. A server
// configured without a secret never authorizes.
func (s *Server) authorized(r *http.Request) bool {
	if s.cfg.Secret == "" {
		return false
	}

	presented := r.Header.Get(SecretHeader)
	if presented == "" {
		presented = r.URL.Query().Get("secret")
	}

	return subtle.ConstantTimeCompare([]byte(presented), []byte(s.cfg.Secret)) == 1
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
