package middlewares

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/dropDatabas3/quotamail/internal/idempotency"
	"github.com/dropDatabas3/quotamail/internal/rate"
)

type staticVerifier map[string]string

func (v staticVerifier) Subject(raw string) (string, error) {
	if sub, ok := v[raw]; ok {
		return sub, nil
	}
	return "", errors.New("unknown token")
}

func echoUser() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(GetUserID(r.Context())))
	})
}

func TestChain_Order(t *testing.T) {
	var order []string
	mk := func(name string) Middleware {
		return func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				order = append(order, name)
				next.ServeHTTP(w, r)
			})
		}
	}
	h := ChainFunc(func(http.ResponseWriter, *http.Request) { order = append(order, "h") }, mk("a"), mk("b"))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
	require.Equal(t, []string{"a", "b", "h"}, order)
}

func TestRequireUser(t *testing.T) {
	h := Chain(echoUser(), RequireUser(staticVerifier{"good": "user-1"}))

	cases := []struct {
		name   string
		header string
		status int
		body   string
	}{
		{"missing", "", http.StatusUnauthorized, ""},
		{"not bearer", "Basic abc", http.StatusUnauthorized, ""},
		{"invalid", "Bearer nope", http.StatusUnauthorized, ""},
		{"valid", "Bearer good", http.StatusOK, "user-1"},
		{"case insensitive scheme", "bearer good", http.StatusOK, "user-1"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)
			require.Equal(t, tc.status, rec.Code)
			if tc.body != "" {
				require.Equal(t, tc.body, rec.Body.String())
			}
		})
	}
}

func TestRequireServiceToken(t *testing.T) {
	ok := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusNoContent) })

	call := func(token, header string) int {
		req := httptest.NewRequest(http.MethodPost, "/", nil)
		if header != "" {
			req.Header.Set("Authorization", header)
		}
		rec := httptest.NewRecorder()
		Chain(ok, RequireServiceToken(token)).ServeHTTP(rec, req)
		return rec.Code
	}

	require.Equal(t, http.StatusNoContent, call("svc", "Bearer svc"))
	require.Equal(t, http.StatusUnauthorized, call("svc", "Bearer other"))
	require.Equal(t, http.StatusUnauthorized, call("svc", ""))
	require.Equal(t, http.StatusForbidden, call("", "Bearer "))
}

func TestWithRequestID(t *testing.T) {
	var seen string
	h := Chain(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		seen = GetRequestID(r.Context())
	}), WithRequestID())

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Request-ID", "abc-123")
	h.ServeHTTP(rec, req)
	require.Equal(t, "abc-123", seen)
	require.Equal(t, "abc-123", rec.Header().Get("X-Request-ID"))

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	require.NotEmpty(t, seen)
	require.Equal(t, seen, rec.Header().Get("X-Request-ID"))
}

func TestWithRecover(t *testing.T) {
	h := Chain(http.HandlerFunc(func(http.ResponseWriter, *http.Request) { panic("boom") }), WithRecover())
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	require.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestWithRateLimit(t *testing.T) {
	lim := rate.NewMemoryLimiter(2, time.Minute)
	h := Chain(echoUser(),
		RequireUser(staticVerifier{"a": "user-a", "b": "user-b"}),
		WithRateLimit(lim, UserRateKey),
	)
	call := func(tok string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/", nil)
		req.Header.Set("Authorization", "Bearer "+tok)
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec
	}

	require.Equal(t, http.StatusOK, call("a").Code)
	require.Equal(t, http.StatusOK, call("a").Code)
	rec := call("a")
	require.Equal(t, http.StatusTooManyRequests, rec.Code)
	require.NotEmpty(t, rec.Header().Get("Retry-After"))

	// otro usuario tiene su propia ventana
	require.Equal(t, http.StatusOK, call("b").Code)
}

func TestWithRateLimit_NilLimiterPassesThrough(t *testing.T) {
	h := Chain(echoUser(), WithRateLimit(nil, UserRateKey))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestWithIdempotency(t *testing.T) {
	store := idempotency.NewMemoryStore(time.Minute)
	var calls atomic.Int32
	status := http.StatusOK

	h := Chain(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := calls.Add(1)
		w.WriteHeader(status)
		_, _ = w.Write([]byte(`{"n":` + strconv.Itoa(int(n)) + `}`))
	}),
		RequireUser(staticVerifier{"a": "user-a", "b": "user-b"}),
		WithIdempotency(store),
	)
	call := func(tok, key string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader("{}"))
		req.Header.Set("Authorization", "Bearer "+tok)
		if key != "" {
			req.Header.Set(IdempotencyKeyHeader, key)
		}
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec
	}

	first := call("a", "k1")
	require.Equal(t, `{"n":1}`, first.Body.String())

	replay := call("a", "k1")
	require.Equal(t, http.StatusOK, replay.Code)
	require.Equal(t, `{"n":1}`, replay.Body.String())
	require.Equal(t, "true", replay.Header().Get("Idempotent-Replayed"))
	require.EqualValues(t, 1, calls.Load())

	// la clave es por usuario
	require.Equal(t, `{"n":2}`, call("b", "k1").Body.String())

	// sin header no hay dedupe
	call("a", "")
	require.EqualValues(t, 3, calls.Load())

	// 5xx no se guarda: el reintento vuelve a ejecutar
	status = http.StatusBadGateway
	call("a", "k2")
	status = http.StatusOK
	rec := call("a", "k2")
	require.Equal(t, http.StatusOK, rec.Code)
	require.EqualValues(t, 5, calls.Load())
}

func TestWithIdempotency_InFlight(t *testing.T) {
	store := idempotency.NewMemoryStore(time.Minute)
	_, err := store.Begin(context.Background(), "user-a:k1")
	require.NoError(t, err)

	h := Chain(echoUser(), RequireUser(staticVerifier{"a": "user-a"}), WithIdempotency(store))
	req := httptest.NewRequest(http.MethodPost, "/", nil)
	req.Header.Set("Authorization", "Bearer a")
	req.Header.Set(IdempotencyKeyHeader, "k1")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	require.Equal(t, http.StatusConflict, rec.Code)
}
