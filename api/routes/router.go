package routes

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/metrolog/metrolog-backend/api/controllers"
	"github.com/metrolog/metrolog-backend/api/middleware"
	"github.com/metrolog/metrolog-backend/internal/verifications"
	"github.com/metrolog/metrolog-backend/pkg/config"
	"github.com/metrolog/metrolog-backend/pkg/enums"
	"github.com/metrolog/metrolog-backend/pkg/logger"
)

// entryEditors may create, edit and delete verification entries.
var entryEditors = []enums.EmployeeStatus{
	enums.EmployeeStatusAdmin,
	enums.EmployeeStatusDirector,
	enums.EmployeeStatusDispatcher1,
	enums.EmployeeStatusDispatcher2,
}

func NewRouter(
	cfg *config.Config,
	logg *logger.Logger,
	dbP controllers.Pinger,
	redisP controllers.Pinger,
	gatherer prometheus.Gatherer,
	verificationService verifications.Service,
) http.Handler {
	r := chi.NewRouter()

	r.Use(
		middleware.Recoverer(logg),
		middleware.RequestID(logg),
		middleware.Logging(logg),
		middleware.CORS(cfg.App.CORSAllowedOrigins),
	)

	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive(cfg))
		r.Get("/ready", controllers.HealthReady(cfg, logg, map[string]controllers.Pinger{
			"db":    dbP,
			"redis": redisP,
		}))
	})

	if gatherer != nil {
		r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.Auth(cfg.JWT, logg))

		r.Route("/verifications", func(r chi.Router) {
			r.Get("/", controllers.ListVerifications(verificationService, logg))

			r.Group(func(r chi.Router) {
				r.Use(middleware.RequireStatus(logg, entryEditors...))
				r.Post("/", controllers.CreateVerification(verificationService, logg))
				r.Patch("/{entryId}", controllers.UpdateVerification(verificationService, logg))
				r.Delete("/{entryId}", controllers.DeleteVerification(verificationService, logg))
			})
		})

		r.Get("/verifiers/{verifierId}/quota", controllers.VerifierQuota(verificationService, logg))
	})

	return r
}
