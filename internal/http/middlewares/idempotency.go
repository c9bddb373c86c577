package middlewares

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	httperrors "github.com/dropDatabas3/quotamail/internal/http/errors"
	"github.com/dropDatabas3/quotamail/internal/idempotency"
	"github.com/dropDatabas3/quotamail/internal/observability/logger"
)

const (
	IdempotencyKeyHeader = "Idempotency-Key"
	maxIdempotencyKeyLen = 255
	idempotencyOpTimeout = 5 * time.Second
)

// bodyRecorder copia lo escrito para poder guardarlo.
type bodyRecorder struct {
	http.ResponseWriter
	status int
	buf    bytes.Buffer
}

func (b *bodyRecorder) WriteHeader(code int) {
	if b.status == 0 {
		b.status = code
	}
	b.ResponseWriter.WriteHeader(code)
}

func (b *bodyRecorder) Write(p []byte) (int, error) {
	if b.status == 0 {
		b.status = http.StatusOK
	}
	b.buf.Write(p)
	return b.ResponseWriter.Write(p)
}

// WithIdempotency reproduce la primera respuesta de un request con el mismo
// Idempotency-Key (por usuario). Sin header el request pasa directo.
//
// Respuestas 5xx no se guardan: la reserva ya fue liberada y el cliente puede
// reintentar con la misma clave.
func WithIdempotency(store idempotency.Store) Middleware {
	return func(next http.Handler) http.Handler {
		if store == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw := strings.TrimSpace(r.Header.Get(IdempotencyKeyHeader))
			if raw == "" {
				next.ServeHTTP(w, r)
				return
			}
			if len(raw) > maxIdempotencyKeyLen {
				httperrors.WriteError(w, httperrors.ErrBadRequest.WithDetail("Idempotency-Key too long"))
				return
			}
			key := GetUserID(r.Context()) + ":" + raw
			log := logger.From(r.Context())

			prev, err := store.Begin(r.Context(), key)
			switch {
			case errors.Is(err, idempotency.ErrInFlight):
				httperrors.WriteError(w, httperrors.ErrRequestInFlight)
				return
			case err != nil:
				log.Error("idempotency store unavailable", logger.Op("idempotency.begin"), logger.Err(err))
				httperrors.WriteError(w, httperrors.ErrServiceUnavailable.WithCause(err))
				return
			case prev != nil:
				w.Header().Set("Content-Type", "application/json; charset=utf-8")
				w.Header().Set("Idempotent-Replayed", "true")
				w.WriteHeader(prev.Status)
				_, _ = w.Write(prev.Body)
				return
			}

			rec := &bodyRecorder{ResponseWriter: w}
			completed := false
			defer func() {
				if completed {
					return
				}
				// panic o 5xx: liberar la clave
				ctx, cancel := context.WithTimeout(context.WithoutCancel(r.Context()), idempotencyOpTimeout)
				defer cancel()
				if err := store.Abort(ctx, key); err != nil {
					log.Warn("idempotency abort failed", logger.Op("idempotency.abort"), logger.Err(err))
				}
			}()

			next.ServeHTTP(rec, r)

			if rec.status == 0 || rec.status >= 500 {
				return
			}
			ctx, cancel := context.WithTimeout(context.WithoutCancel(r.Context()), idempotencyOpTimeout)
			defer cancel()
			if err := store.Complete(ctx, key, idempotency.Response{Status: rec.status, Body: rec.buf.Bytes()}); err != nil {
				log.Warn("idempotency complete failed", logger.Op("idempotency.complete"), logger.Err(err))
				return
			}
			completed = true
		})
	}
}
