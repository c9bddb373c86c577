// Package health contiene el controller para health checks.
package health

import (
	"context"
	"net/http"
	"time"

	dto "github.com/dropDatabas3/quotamail/internal/http/dto/health"
	"github.com/dropDatabas3/quotamail/internal/http/helpers"
	"github.com/dropDatabas3/quotamail/internal/observability/logger"
)

const checkTimeout = 2 * time.Second

// Pinger es cualquier dependencia que sabe responder si está viva.
type Pinger interface {
	Ping(ctx context.Context) error
}

// PingFunc adapta una función a Pinger.
type PingFunc func(ctx context.Context) error

func (f PingFunc) Ping(ctx context.Context) error { return f(ctx) }

// HealthController maneja /healthz y /readyz.
type HealthController struct {
	version string
	checks  map[string]Pinger
}

// NewHealthController recibe los componentes a chequear en /readyz por nombre.
func NewHealthController(version string, checks map[string]Pinger) *HealthController {
	return &HealthController{version: version, checks: checks}
}

// Healthz responde 200 mientras el proceso esté vivo.
func (c *HealthController) Healthz(w http.ResponseWriter, r *http.Request) {
	helpers.WriteJSON(w, http.StatusOK, dto.HealthResponse{Status: "ok", Version: c.version})
}

// Readyz chequea cada componente; cualquiera caído da 503.
func (c *HealthController) Readyz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), checkTimeout)
	defer cancel()

	resp := dto.HealthResponse{Status: "ready", Version: c.version, Components: map[string]string{}}
	status := http.StatusOK
	for name, p := range c.checks {
		if err := p.Ping(ctx); err != nil {
			resp.Components[name] = "down"
			resp.Status = "unavailable"
			status = http.StatusServiceUnavailable
			logger.From(ctx).Warn("readiness check failed", logger.Component(name), logger.Err(err))
			continue
		}
		resp.Components[name] = "up"
	}
	if c.version != "" {
		w.Header().Set("X-Service-Version", c.version)
	}
	helpers.WriteJSON(w, status, resp)
}
