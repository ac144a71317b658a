package middleware

import (
	"net/http"
	"strings"

	"github.com/metrolog/metrolog-backend/api/responses"
	pkgAuth "github.com/metrolog/metrolog-backend/pkg/auth"
	"github.com/metrolog/metrolog-backend/pkg/config"
	pkgerrors "github.com/metrolog/metrolog-backend/pkg/errors"
	"github.com/metrolog/metrolog-backend/pkg/logger"
)

// Auth validates a bearer token and seeds the request context with the actor.
func Auth(cfg config.JWTConfig, logg *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw := strings.TrimSpace(r.Header.Get("Authorization"))
			if raw == "" {
				responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "missing credentials"))
				return
			}

			token := raw
			if strings.HasPrefix(strings.ToLower(token), "bearer ") {
				token = strings.TrimSpace(token[7:])
			}
			if token == "" {
				responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "missing credentials"))
				return
			}

			claims, err := pkgAuth.ParseAccessToken(cfg, token)
			if err != nil {
				responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeUnauthorized, err, "invalid token"))
				return
			}

			ctx := WithActor(r.Context(), Actor{
				EmployeeID: claims.EmployeeID,
				CompanyID:  claims.CompanyID,
				Status:     claims.Status,
			})

			if logg != nil {
				ctx = logg.WithCompanyID(ctx, claims.CompanyID)
				ctx = logg.WithEmployeeID(ctx, claims.EmployeeID)
				ctx = logg.WithActorRole(ctx, string(claims.Status))
			}

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
