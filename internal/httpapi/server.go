// Package httpapi exposes ingestion, listing, run building and replay over
// HTTP. Every /v1 route requires a bearer token; the user id always comes
// from the token, never from the request.
package httpapi

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/danielhendel/oli-sub001/internal/auth"
	"github.com/danielhendel/oli-sub001/internal/ingest"
	"github.com/danielhendel/oli-sub001/internal/logging"
	"github.com/danielhendel/oli-sub001/internal/metrics"
	"github.com/danielhendel/oli-sub001/internal/middleware"
	"github.com/danielhendel/oli-sub001/internal/model"
	"github.com/danielhendel/oli-sub001/internal/pagination"
	"github.com/danielhendel/oli-sub001/internal/ratelimit"
	"github.com/danielhendel/oli-sub001/internal/replay"
	"github.com/danielhendel/oli-sub001/internal/store"
	"github.com/danielhendel/oli-sub001/internal/trigger"
)

// Store is the read side the list endpoints need.
type Store interface {
	ListRawEvents(ctx context.Context, q store.RawEventQuery) (pagination.Page[model.RawEvent], error)
	ListCanonicalEvents(ctx context.Context, q store.CanonicalEventQuery) (pagination.Page[model.CanonicalEvent], error)
	ListRuns(ctx context.Context, q store.RunQuery) (pagination.Page[model.DerivedRun], error)
	Ping(ctx context.Context) error
}

// Deps are the collaborators of a Server. Limiter, Metrics and Logger are
// optional.
type Deps struct {
	Store   Store
	Ingest  *ingest.Service
	Builder trigger.Builder
	Replay  *replay.Reader
	Tokens  auth.Verifier
	Cursors *pagination.Codec
	Limiter ratelimit.Limiter
	Metrics *metrics.Manager
	Logger  *logging.Logger

	PageDefaultLimit int
	PageMaxLimit     int
}

// Server holds the handlers.
type Server struct {
	store    Store
	ingest   *ingest.Service
	builder  trigger.Builder
	replay   *replay.Reader
	tokens   auth.Verifier
	cursors  *pagination.Codec
	limiter  ratelimit.Limiter
	metrics  *metrics.Manager
	logger   *logging.Logger
	defLimit int
	maxLimit int
}

// NewServer returns a Server. Limits default to 50 and 200.
func NewServer(d Deps) *Server {
	s := &Server{
		store:    d.Store,
		ingest:   d.Ingest,
		builder:  d.Builder,
		replay:   d.Replay,
		tokens:   d.Tokens,
		cursors:  d.Cursors,
		limiter:  d.Limiter,
		metrics:  d.Metrics,
		logger:   d.Logger,
		defLimit: d.PageDefaultLimit,
		maxLimit: d.PageMaxLimit,
	}
	if s.limiter == nil {
		s.limiter = ratelimit.Disabled{}
	}
	if s.logger == nil {
		s.logger = logging.Discard()
	}
	if s.defLimit <= 0 {
		s.defLimit = 50
	}
	if s.maxLimit < s.defLimit {
		s.maxLimit = max(200, s.defLimit)
	}
	return s
}

// Handler returns the routed handler with request ids applied to every
// route.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	s.handle(mux, "GET /healthz", "healthz", false, s.handleHealth)
	if s.metrics != nil {
		mux.Handle("GET /metrics", s.metrics.Handler())
	}

	s.handle(mux, "POST /v1/raw-events", "raw_events.create", true, s.handleCreateRawEvent)
	s.handle(mux, "GET /v1/raw-events", "raw_events.list", true, s.handleListRawEvents)
	s.handle(mux, "GET /v1/canonical-events", "canonical_events.list", true, s.handleListCanonicalEvents)
	s.handle(mux, "GET /v1/runs", "runs.list", true, s.handleListRuns)
	s.handle(mux, "POST /v1/days/{day}/runs", "runs.create", true, s.handleCreateRun)
	s.handle(mux, "GET /v1/days/{day}/replay", "replay", true, s.handleReplay)
	s.handle(mux, "GET /v1/days/{day}/runs/{runId}/explain", "explain", true, s.handleExplain)

	return middleware.RequestID(mux)
}

// handle registers h under pattern with metrics, access logging and, when
// authenticated is set, bearer token checks.
func (s *Server) handle(mux *http.ServeMux, pattern, route string, authenticated bool, h http.HandlerFunc) {
	var next http.Handler = h
	if authenticated {
		next = auth.Middleware(s.tokens, func(w http.ResponseWriter, r *http.Request, err error) {
			s.writeError(w, r, &apiError{
				status:  http.StatusUnauthorized,
				code:    CodeUnauthenticated,
				message: "a valid bearer token is required",
			})
		})(next)
	}
	mux.Handle(pattern, s.observe(route, next))
}

// observe records request metrics and writes one access log line.
func (s *Server) observe(route string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rw, r)

		elapsed := time.Since(start)
		s.metrics.ObserveHTTPRequest(route, r.Method, rw.status, elapsed)
		s.logger.InfoContext(r.Context(), "http request",
			logging.Method(r.Method),
			logging.Path(r.URL.Path),
			logging.Status(rw.status),
			logging.Duration(elapsed.Milliseconds()),
		)
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (rw *statusRecorder) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.store.Ping(r.Context()); err != nil {
		s.logger.WarnContext(r.Context(), "health check failed", logging.Error(err))
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// Serve runs h on addr until ctx is done, then shuts down within timeout.
func Serve(ctx context.Context, addr string, h http.Handler, timeout time.Duration, logger *logging.Logger) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       2 * time.Minute,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("http server listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("listen %s: %w", addr, err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	logger.Info("http server shutting down")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}
