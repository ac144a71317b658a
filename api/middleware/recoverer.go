package middleware

import (
	"fmt"
	"net/http"
	"runtime/debug"

	"github.com/metrolog/metrolog-backend/api/responses"
	pkgerrors "github.com/metrolog/metrolog-backend/pkg/errors"
	"github.com/metrolog/metrolog-backend/pkg/logger"
)

// Recoverer turns a handler panic into an INTERNAL_ERROR response. The open
// request transaction has already been rolled back by db.Client.WithTx.
func Recoverer(logg *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				rec := recover()
				if rec == nil {
					return
				}
				if rec == http.ErrAbortHandler {
					panic(rec)
				}

				err := fmt.Errorf("panic: %v", rec)
				ctx := r.Context()
				if logg != nil {
					ctx = logg.WithFields(ctx, map[string]any{
						"panic":  fmt.Sprint(rec),
						"method": r.Method,
						"path":   r.URL.Path,
						"stack":  string(debug.Stack()),
					})
					logg.Error(ctx, "panic.recovered", err)
				}
				responses.WriteError(ctx, nil, w, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "panic"))
			}()
			next.ServeHTTP(w, r)
		})
	}
}
