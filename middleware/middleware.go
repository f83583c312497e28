// Package middleware provides HTTP middleware that scopes a datastore
// session to each request.
package middleware

import (
	"log/slog"
	"net/http"

	"github.com/xraph/datastore"
)

// Option configures the session middleware.
type Option func(*config)

type config struct {
	logger        *slog.Logger
	flushOnStatus func(status int) bool
	readOnly      func(r *http.Request) bool
}

// WithLogger sets the logger used for flush and disconnect failures.
func WithLogger(l *slog.Logger) Option { return func(c *config) { c.logger = l } }

// WithFlushOnStatus decides from the response status whether pending work
// is flushed. By default statuses below 400 flush.
func WithFlushOnStatus(fn func(status int) bool) Option {
	return func(c *config) { c.flushOnStatus = fn }
}

// WithReadOnly marks requests that never flush. By default GET, HEAD and
// OPTIONS are read-only.
func WithReadOnly(fn func(r *http.Request) bool) Option {
	return func(c *config) { c.readOnly = fn }
}

func newConfig(opts []Option) *config {
	cfg := &config{
		flushOnStatus: func(status int) bool { return status < http.StatusBadRequest },
		readOnly: func(r *http.Request) bool {
			switch r.Method {
			case http.MethodGet, http.MethodHead, http.MethodOptions:
				return true
			}
			return false
		},
	}
	for _, opt := range opts {
		opt(cfg)
	}
	if cfg.logger == nil {
		cfg.logger = slog.Default()
	}
	return cfg
}

// Session opens a session for every request, binds it to the request
// context and disconnects it once the handler returns. Requests that are
// not read-only and finish with a flushable status flush before the
// session is disconnected. A request whose context already carries a
// session reuses it.
func Session(ds *datastore.Datastore, opts ...Option) func(http.Handler) http.Handler {
	cfg := newConfig(opts)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			if ds.HasCurrentSession(ctx) {
				next.ServeHTTP(w, r)
				return
			}

			s, err := ds.Connect(ctx)
			if err != nil {
				cfg.logger.Error("datastore: open request session", "error", err)
				http.Error(w, http.StatusText(http.StatusServiceUnavailable), http.StatusServiceUnavailable)
				return
			}
			bctx, err := ds.Bind(ctx, s)
			if err != nil {
				_ = s.Disconnect(ctx)
				cfg.logger.Error("datastore: bind request session", "error", err)
				http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
				return
			}
			defer func() {
				if err := s.Disconnect(ctx); err != nil {
					cfg.logger.Warn("datastore: disconnect request session", "session_id", s.ID(), "error", err)
				}
			}()

			rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(rec, r.WithContext(bctx))

			if cfg.readOnly(r) || !cfg.flushOnStatus(rec.status) {
				return
			}
			if err := s.Flush(bctx); err != nil {
				cfg.logger.Error("datastore: flush request session",
					"session_id", s.ID(),
					"method", r.Method,
					"path", r.URL.Path,
					"error", err,
				)
			}
		})
	}
}

// statusRecorder captures the status written by the wrapped handler.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func (r *statusRecorder) Unwrap() http.ResponseWriter { return r.ResponseWriter }
