package middlewares

import (
	"net/http"
	"strconv"
	"time"

	httperrors "github.com/dropDatabas3/quotamail/internal/http/errors"
	"github.com/dropDatabas3/quotamail/internal/observability/logger"
	"github.com/dropDatabas3/quotamail/internal/rate"
)

// RateKeyFunc extrae la clave de rate limit del request. "" saltea el límite.
type RateKeyFunc func(r *http.Request) string

// UserRateKey limita por usuario autenticado. Requiere RequireUser antes.
func UserRateKey(r *http.Request) string {
	if uid := GetUserID(r.Context()); uid != "" {
		return "user:" + uid
	}
	return ""
}

// WithRateLimit aplica un límite fixed-window. Si el limiter falla el request
// pasa (fail-open) y queda logueado.
func WithRateLimit(l rate.Limiter, key RateKeyFunc) Middleware {
	return func(next http.Handler) http.Handler {
		if l == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			k := key(r)
			if k == "" {
				next.ServeHTTP(w, r)
				return
			}
			res, err := l.Allow(r.Context(), k)
			if err != nil {
				logger.From(r.Context()).Warn("rate limiter unavailable", logger.Op("rate"), logger.Err(err))
				next.ServeHTTP(w, r)
				return
			}

			w.Header().Set("X-RateLimit-Remaining", strconv.FormatInt(res.Remaining, 10))
			if res.ResetIn > 0 {
				w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(int64(res.ResetIn/time.Second), 10))
			}
			if !res.Allowed {
				secs := int64((res.RetryAfter + time.Second - 1) / time.Second)
				if secs < 1 {
					secs = 1
				}
				w.Header().Set("Retry-After", strconv.FormatInt(secs, 10))
				httperrors.WriteError(w, httperrors.ErrRateLimited)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
