// Package router arma el árbol de rutas HTTP con chi.
package router

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	credctrl "github.com/dropDatabas3/quotamail/internal/http/controllers/credentials"
	healthctrl "github.com/dropDatabas3/quotamail/internal/http/controllers/health"
	mailctrl "github.com/dropDatabas3/quotamail/internal/http/controllers/mail"
	quotactrl "github.com/dropDatabas3/quotamail/internal/http/controllers/quota"
	httperrors "github.com/dropDatabas3/quotamail/internal/http/errors"
	mw "github.com/dropDatabas3/quotamail/internal/http/middlewares"
	"github.com/dropDatabas3/quotamail/internal/idempotency"
	"github.com/dropDatabas3/quotamail/internal/rate"
)

// Deps son las dependencias del router. Limiter e Idempotency son opcionales.
type Deps struct {
	Send        *mailctrl.SendController
	Quota       *quotactrl.QuotaController
	Credentials *credctrl.LinkController
	Health      *healthctrl.HealthController

	Auth         mw.TokenVerifier
	ServiceToken string
	Limiter      rate.Limiter
	Idempotency  idempotency.Store

	// Metrics sirve /metrics; nil usa promhttp.Handler().
	Metrics http.Handler
}

// New construye el handler raíz.
func New(d Deps) http.Handler {
	r := chi.NewRouter()
	r.Use(
		mw.WithRecover(),
		mw.WithRequestID(),
	)
	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		httperrors.WriteError(w, httperrors.ErrNotFound)
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		httperrors.WriteError(w, httperrors.ErrMethodNotAllowed)
	})

	// Health: sin auth ni logging (muy frecuentes)
	r.Get("/healthz", d.Health.Healthz)
	r.Get("/readyz", d.Health.Readyz)

	metricsHandler := d.Metrics
	if metricsHandler == nil {
		metricsHandler = promhttp.Handler()
	}
	r.Method(http.MethodGet, "/metrics", metricsHandler)

	r.Route("/v1", func(r chi.Router) {
		r.Use(mw.WithNoStore(), mw.WithLogging())

		// Usuario final (JWT)
		r.Group(func(r chi.Router) {
			r.Use(mw.RequireUser(d.Auth))
			r.Get("/quota", d.Quota.Get)
			r.With(
				mw.WithRateLimit(d.Limiter, mw.UserRateKey),
				mw.WithIdempotency(d.Idempotency),
			).Post("/mail/send", d.Send.Send)
		})

		// Capa de sign-in / operadores (service token)
		r.Group(func(r chi.Router) {
			r.Use(mw.RequireServiceToken(d.ServiceToken))
			r.Post("/credentials", d.Credentials.Link)
			r.Post("/admin/quota/{userID}/grant", d.Quota.Grant)
		})
	})

	return r
}
