package middlewares

import (
	"crypto/subtle"
	"net/http"
	"strings"

	httperrors "github.com/dropDatabas3/quotamail/internal/http/errors"
	"github.com/dropDatabas3/quotamail/internal/observability/logger"
)

// TokenVerifier valida un bearer token y devuelve su sub. *jwt.Issuer lo implementa.
type TokenVerifier interface {
	Subject(raw string) (string, error)
}

// RequireUser valida Authorization: Bearer <JWT> y guarda sub como user ID.
// Responde 401 si falta o es inválido.
func RequireUser(v TokenVerifier) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw, ok := bearer(r)
			if !ok {
				w.Header().Set("WWW-Authenticate", `Bearer realm="api", error="invalid_token", error_description="missing bearer token"`)
				httperrors.WriteError(w, httperrors.ErrTokenMissing)
				return
			}
			sub, err := v.Subject(raw)
			if err != nil {
				w.Header().Set("WWW-Authenticate", `Bearer realm="api", error="invalid_token"`)
				httperrors.WriteError(w, httperrors.ErrTokenInvalid.WithCause(err))
				return
			}

			ctx := WithUserID(r.Context(), sub)
			ctx = logger.ToContext(ctx, logger.From(ctx).With(logger.UserID(sub)))
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireServiceToken protege endpoints que llama la capa de sign-in
// (p. ej. el alta de credenciales). Token vacío deshabilita el endpoint.
func RequireServiceToken(token string) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if token == "" {
				httperrors.WriteError(w, httperrors.ErrForbidden.WithDetail("service token not configured"))
				return
			}
			raw, ok := bearer(r)
			if !ok {
				httperrors.WriteError(w, httperrors.ErrTokenMissing)
				return
			}
			if subtle.ConstantTimeCompare([]byte(raw), []byte(token)) != 1 {
				httperrors.WriteError(w, httperrors.ErrTokenInvalid)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func bearer(r *http.Request) (string, bool) {
	ah := strings.TrimSpace(r.Header.Get("Authorization"))
	if len(ah) < len("Bearer ") || !strings.EqualFold(ah[:len("Bearer ")], "bearer ") {
		return "", false
	}
	raw := strings.TrimSpace(ah[len("Bearer "):])
	return raw, raw != ""
}
