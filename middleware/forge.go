package middleware

import (
	"net/http"

	"github.com/xraph/forge"

	"github.com/xraph/datastore"
)

// Require returns the forge flavour of Session. The session is bound to the
// forge context for the duration of the handler. A handler error skips the
// flush; otherwise non read-only requests flush before the session is
// disconnected.
func Require(ds *datastore.Datastore, opts ...Option) forge.Middleware {
	cfg := newConfig(opts)

	return func(next forge.Handler) forge.Handler {
		return func(ctx forge.Context) error {
			parent := ctx.Context()
			if ds.HasCurrentSession(parent) {
				return next(ctx)
			}

			s, err := ds.Connect(parent)
			if err != nil {
				cfg.logger.Error("datastore: open request session", "error", err)
				return ctx.JSON(http.StatusServiceUnavailable, map[string]string{"error": "datastore unavailable"})
			}
			bctx, err := ds.Bind(parent, s)
			if err != nil {
				_ = s.Disconnect(parent)
				return err
			}
			defer func() {
				if err := s.Disconnect(parent); err != nil {
					cfg.logger.Warn("datastore: disconnect request session", "session_id", s.ID(), "error", err)
				}
			}()

			ctx.WithContext(bctx)
			if err := next(ctx); err != nil {
				return err
			}

			r := ctx.Request()
			if cfg.readOnly(r) {
				return nil
			}
			if err := s.Flush(bctx); err != nil {
				cfg.logger.Error("datastore: flush request session",
					"session_id", s.ID(),
					"method", r.Method,
					"path", r.URL.Path,
					"error", err,
				)
				return err
			}
			return nil
		}
	}
}
