package middleware

import (
	"net/http"

	"github.com/metrolog/metrolog-backend/api/responses"
	"github.com/metrolog/metrolog-backend/pkg/enums"
	pkgerrors "github.com/metrolog/metrolog-backend/pkg/errors"
	"github.com/metrolog/metrolog-backend/pkg/logger"
)

// RequireStatus rejects actors whose employee status is not listed.
func RequireStatus(logg *logger.Logger, allowed ...enums.EmployeeStatus) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			actor, ok := ActorFromContext(r.Context())
			if !ok {
				responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "missing credentials"))
				return
			}
			for _, status := range allowed {
				if actor.Status == status {
					next.ServeHTTP(w, r)
					return
				}
			}
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeForbidden, "employee status not allowed"))
		})
	}
}
