package router

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/dropDatabas3/quotamail/internal/credentials"
	"github.com/dropDatabas3/quotamail/internal/dispatch"
	"github.com/dropDatabas3/quotamail/internal/domain/repository"
	"github.com/dropDatabas3/quotamail/internal/email"
	credctrl "github.com/dropDatabas3/quotamail/internal/http/controllers/credentials"
	healthctrl "github.com/dropDatabas3/quotamail/internal/http/controllers/health"
	mailctrl "github.com/dropDatabas3/quotamail/internal/http/controllers/mail"
	quotactrl "github.com/dropDatabas3/quotamail/internal/http/controllers/quota"
	maildto "github.com/dropDatabas3/quotamail/internal/http/dto/mail"
	quotadto "github.com/dropDatabas3/quotamail/internal/http/dto/quota"
	"github.com/dropDatabas3/quotamail/internal/idempotency"
	"github.com/dropDatabas3/quotamail/internal/jwt"
	"github.com/dropDatabas3/quotamail/internal/quota"
	"github.com/dropDatabas3/quotamail/internal/rate"
	"github.com/dropDatabas3/quotamail/internal/store/adapters/memory"
)

const serviceToken = "svc-token"

type stubRefresher struct{}

func (stubRefresher) Refresh(_ context.Context, _ repository.Credential) (credentials.RefreshedCredential, error) {
	exp := time.Now().Add(time.Hour)
	return credentials.RefreshedCredential{AccessToken: "fresh", Expiry: &exp}, nil
}

type harness struct {
	handler http.Handler
	issuer  *jwt.Issuer
	gateway *email.LogGateway
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	st := memory.New()

	ledger, err := quota.NewLedger(quota.Config{Repo: st.Quotas(), ReservationTTL: time.Minute})
	require.NoError(t, err)
	creds, err := credentials.NewManager(credentials.Config{Repo: st.Credentials(), Refresher: stubRefresher{}})
	require.NoError(t, err)
	gw := email.NewLogGateway()
	orch, err := dispatch.New(dispatch.Config{Credentials: creds, Ledger: ledger, Gateway: gw, SendTimeout: 5 * time.Second})
	require.NoError(t, err)
	iss, err := jwt.NewIssuer("test-secret", "quotamail", "")
	require.NoError(t, err)

	h := New(Deps{
		Send:        mailctrl.NewSendController(orch),
		Quota:       quotactrl.NewQuotaController(ledger),
		Credentials: credctrl.NewLinkController(creds),
		Health: healthctrl.NewHealthController("test", map[string]healthctrl.Pinger{
			"storage": st,
		}),
		Auth:         iss,
		ServiceToken: serviceToken,
		Limiter:      rate.NewMemoryLimiter(100, time.Minute),
		Idempotency:  idempotency.NewMemoryStore(time.Minute),
	})
	return &harness{handler: h, issuer: iss, gateway: gw}
}

func (h *harness) do(t *testing.T, method, path, bearer, body string, hdr map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	for k, v := range hdr {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	h.handler.ServeHTTP(rec, req)
	return rec
}

func (h *harness) userToken(t *testing.T, userID string) string {
	tok, _, err := h.issuer.IssueAccess(userID, time.Minute)
	require.NoError(t, err)
	return tok
}

func (h *harness) link(t *testing.T, userID string) {
	rec := h.do(t, http.MethodPost, "/v1/credentials", serviceToken,
		`{"user_id":"`+userID+`","email":"`+userID+`@example.com","access_token":"at","refresh_token":"rt","expires_in":3600}`, nil)
	require.Equal(t, http.StatusNoContent, rec.Code, rec.Body.String())
}

func (h *harness) grant(t *testing.T, userID string, n int) {
	rec := h.do(t, http.MethodPost, "/v1/admin/quota/"+userID+"/grant", serviceToken,
		`{"amount":`+jsonInt(n)+`}`, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
}

func jsonInt(n int) string {
	b, _ := json.Marshal(n)
	return string(b)
}

func decodeSend(t *testing.T, rec *httptest.ResponseRecorder) maildto.SendResponse {
	var out maildto.SendResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

const sendBody = `{"to":"a@b.com","subject":"hi","text":"hello"}`

func TestSend_SuccessThenQuotaExceeded(t *testing.T) {
	h := newHarness(t)
	h.link(t, "u1")
	h.grant(t, "u1", 1)
	tok := h.userToken(t, "u1")

	rec := h.do(t, http.MethodPost, "/v1/mail/send", tok, sendBody, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	out := decodeSend(t, rec)
	require.True(t, out.Success)
	require.Equal(t, dispatch.MessageSent, out.Message)
	require.NotEmpty(t, out.ProviderMessageID)
	require.Len(t, h.gateway.Sent(), 1)
	require.Equal(t, "u1@example.com", h.gateway.Sent()[0].From)

	rec = h.do(t, http.MethodPost, "/v1/mail/send", tok, sendBody, nil)
	require.Equal(t, http.StatusForbidden, rec.Code)
	out = decodeSend(t, rec)
	require.False(t, out.Success)
	require.Equal(t, string(dispatch.QuotaExceeded), out.Error.Kind)
	require.Equal(t, dispatch.MessageQuotaExceeded, out.Message)
	require.Len(t, h.gateway.Sent(), 1)

	rec = h.do(t, http.MethodGet, "/v1/quota", tok, "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var q quotadto.QuotaResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &q))
	require.Equal(t, quotadto.QuotaResponse{UserID: "u1", EmailQuota: 0, EmailsSent: 1}, q)
}

func TestSend_FailureKindsMapToStatus(t *testing.T) {
	h := newHarness(t)
	tok := h.userToken(t, "u2")

	// sin credencial vinculada
	rec := h.do(t, http.MethodPost, "/v1/mail/send", tok, sendBody, nil)
	require.Equal(t, http.StatusFailedDependency, rec.Code)
	require.Equal(t, string(dispatch.CredentialError), decodeSend(t, rec).Error.Kind)

	// request inválido
	rec = h.do(t, http.MethodPost, "/v1/mail/send", tok, `{"to":"","subject":"hi","text":"x"}`, nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Equal(t, string(dispatch.InvalidRequest), decodeSend(t, rec).Error.Kind)

	// JSON roto
	rec = h.do(t, http.MethodPost, "/v1/mail/send", tok, `{`, nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSend_IdempotentReplay(t *testing.T) {
	h := newHarness(t)
	h.link(t, "u3")
	h.grant(t, "u3", 5)
	tok := h.userToken(t, "u3")
	hdr := map[string]string{"Idempotency-Key": "req-1"}

	first := h.do(t, http.MethodPost, "/v1/mail/send", tok, sendBody, hdr)
	second := h.do(t, http.MethodPost, "/v1/mail/send", tok, sendBody, hdr)
	require.Equal(t, http.StatusOK, first.Code)
	require.Equal(t, first.Body.String(), second.Body.String())
	require.Len(t, h.gateway.Sent(), 1)
}

func TestAuthBoundaries(t *testing.T) {
	h := newHarness(t)

	require.Equal(t, http.StatusUnauthorized, h.do(t, http.MethodPost, "/v1/mail/send", "", sendBody, nil).Code)
	require.Equal(t, http.StatusUnauthorized, h.do(t, http.MethodGet, "/v1/quota", "garbage", "", nil).Code)

	// un JWT de usuario no sirve como service token
	tok := h.userToken(t, "u4")
	require.Equal(t, http.StatusUnauthorized,
		h.do(t, http.MethodPost, "/v1/admin/quota/u4/grant", tok, `{"amount":10}`, nil).Code)

	rec := h.do(t, http.MethodPost, "/v1/admin/quota/u4/grant", serviceToken, `{"amount":0}`, nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHealthAndMetrics(t *testing.T) {
	h := newHarness(t)

	rec := h.do(t, http.MethodGet, "/healthz", "", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = h.do(t, http.MethodGet, "/readyz", "", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `"storage":"up"`)

	rec = h.do(t, http.MethodGet, "/metrics", "", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = h.do(t, http.MethodGet, "/nope", "", "", nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
}
