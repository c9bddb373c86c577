package dispatch

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/dropDatabas3/quotamail/internal/credentials"
	"github.com/dropDatabas3/quotamail/internal/domain/repository"
	"github.com/dropDatabas3/quotamail/internal/email"
	"github.com/dropDatabas3/quotamail/internal/quota"
	"github.com/dropDatabas3/quotamail/internal/store"
	"github.com/dropDatabas3/quotamail/internal/store/adapters/memory"
	_ "github.com/dropDatabas3/quotamail/internal/store/adapters/sqlite"
)

// ─── fakes ───

type countingRefresher struct {
	calls atomic.Int32
	err   error
}

func (r *countingRefresher) Refresh(ctx context.Context, cred repository.Credential) (credentials.RefreshedCredential, error) {
	n := r.calls.Add(1)
	if r.err != nil {
		return credentials.RefreshedCredential{}, r.err
	}
	exp := time.Now().Add(time.Hour)
	return credentials.RefreshedCredential{AccessToken: "refreshed-" + string(rune('0'+n)), Expiry: &exp}, nil
}

type scriptedGateway struct {
	mu     sync.Mutex
	calls  int
	tokens []string
	errs   []error // error por llamada; más allá del script usa el último
	id     string
	block  chan struct{}
	onSend func(ctx context.Context)
}

func (g *scriptedGateway) Send(ctx context.Context, msg email.Message, accessToken string) (email.Receipt, error) {
	g.mu.Lock()
	g.calls++
	n := g.calls
	g.tokens = append(g.tokens, accessToken)
	g.mu.Unlock()

	if g.block != nil {
		<-g.block
	}
	if g.onSend != nil {
		g.onSend(ctx)
	}
	if len(g.errs) > 0 {
		i := n - 1
		if i >= len(g.errs) {
			i = len(g.errs) - 1
		}
		if err := g.errs[i]; err != nil {
			return email.Receipt{}, err
		}
	}
	return email.Receipt{MessageID: g.id}, nil
}

func (g *scriptedGateway) Calls() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.calls
}

var (
	errAuth      = &email.SendError{Code: email.CodeAuth, AuthError: true, Err: errors.New("535 5.7.8")}
	errPermanent = &email.SendError{Code: email.CodeRejected, Err: errors.New("550 5.7.1 rejected")}
)

type failingUsageRepo struct {
	repository.QuotaRepository
}

func (failingUsageRepo) IncrementUsage(context.Context, string) error {
	return errors.New("ledger unreachable")
}

type failingReserveRepo struct {
	repository.QuotaRepository
}

func (failingReserveRepo) DecrementIfPositive(context.Context, string) (bool, error) {
	return false, errors.New("connection reset")
}

// ─── harness ───

type harness struct {
	store     *memory.Store
	quotas    repository.QuotaRepository
	refresher *countingRefresher
	gateway   *scriptedGateway
	orch      *Orchestrator
}

type harnessOpt func(*harness)

func withQuotaRepo(wrap func(repository.QuotaRepository) repository.QuotaRepository) harnessOpt {
	return func(h *harness) { h.quotas = wrap(h.quotas) }
}

func newHarness(t *testing.T, quotaUnits int64, gw *scriptedGateway, opts ...harnessOpt) *harness {
	t.Helper()
	ctx := context.Background()

	st := memory.New()
	h := &harness{store: st, quotas: st.Quotas(), refresher: &countingRefresher{}, gateway: gw}
	for _, o := range opts {
		o(h)
	}

	exp := time.Now().Add(time.Hour)
	require.NoError(t, st.Credentials().Upsert(ctx, repository.Credential{
		UserID: "u1", Email: "sender@example.com",
		AccessToken: "initial", RefreshToken: "refresh-1", AccessTokenExpiry: &exp,
	}))
	if quotaUnits > 0 {
		require.NoError(t, st.Quotas().AddQuota(ctx, "u1", quotaUnits))
	}

	creds, err := credentials.NewManager(credentials.Config{Repo: st.Credentials(), Refresher: h.refresher})
	require.NoError(t, err)
	ledger, err := quota.NewLedger(quota.Config{Repo: h.quotas, ReservationTTL: time.Minute})
	require.NoError(t, err)
	h.orch, err = New(Config{Credentials: creds, Ledger: ledger, Gateway: gw, SendTimeout: 5 * time.Second})
	require.NoError(t, err)
	return h
}

func (h *harness) snapshot(t *testing.T) repository.QuotaSnapshot {
	t.Helper()
	s, err := h.store.Quotas().Snapshot(context.Background(), "u1")
	require.NoError(t, err)
	return s
}

func send(h *harness, ctx context.Context) Outcome {
	return h.orch.SendEmail(ctx, "u1", "rcpt@example.com", "hello", "body")
}

// ─── tests ───

func TestSendEmail_Success(t *testing.T) {
	h := newHarness(t, 3, &scriptedGateway{id: "abc"})

	out := send(h, context.Background())
	require.True(t, out.Success())
	require.Nil(t, out.Failure)
	require.Equal(t, "abc", out.ProviderMessageID)
	require.Equal(t, MessageSent, out.Message)

	s := h.snapshot(t)
	require.Equal(t, int64(2), s.EmailQuota)
	require.Equal(t, int64(1), s.EmailsSent)
	require.Equal(t, []string{"initial"}, h.gateway.tokens)
	require.Zero(t, h.refresher.calls.Load())
}

func TestSendEmail_ZeroQuotaNeverCallsGateway(t *testing.T) {
	h := newHarness(t, 0, &scriptedGateway{id: "abc"})

	out := send(h, context.Background())
	require.False(t, out.Success())
	require.Equal(t, QuotaExceeded, out.Failure.Kind)
	require.Equal(t, MessageQuotaExceeded, out.Failure.Reason)
	require.Zero(t, h.gateway.Calls())
	require.Zero(t, h.snapshot(t).EmailsSent)
}

func TestSendEmail_PermanentFailureRestoresQuota(t *testing.T) {
	h := newHarness(t, 2, &scriptedGateway{errs: []error{errPermanent}})

	out := send(h, context.Background())
	require.False(t, out.Success())
	require.Equal(t, SendFailed, out.Failure.Kind)

	s := h.snapshot(t)
	require.Equal(t, int64(2), s.EmailQuota)
	require.Zero(t, s.EmailsSent)
	require.Equal(t, 1, h.gateway.Calls(), "permanent failures are not retried")
	require.Zero(t, h.refresher.calls.Load())
}

func TestSendEmail_AuthErrorRefreshesOnceAndRetries(t *testing.T) {
	h := newHarness(t, 1, &scriptedGateway{id: "abc", errs: []error{errAuth, nil}})

	out := send(h, context.Background())
	require.True(t, out.Success(), "outcome: %+v", out.Failure)
	require.Equal(t, int32(1), h.refresher.calls.Load())
	require.Equal(t, []string{"initial", "refreshed-1"}, h.gateway.tokens)

	s := h.snapshot(t)
	require.Zero(t, s.EmailQuota)
	require.Equal(t, int64(1), s.EmailsSent)

	stored, err := h.store.Credentials().Get(context.Background(), "u1")
	require.NoError(t, err)
	require.Equal(t, "refreshed-1", stored.AccessToken)
	require.Equal(t, "refresh-1", stored.RefreshToken)
}

func TestSendEmail_RepeatedAuthErrorsRefreshAtMostOnce(t *testing.T) {
	h := newHarness(t, 2, &scriptedGateway{errs: []error{errAuth}})

	out := send(h, context.Background())
	require.Equal(t, SendFailed, out.Failure.Kind)
	require.Equal(t, int32(1), h.refresher.calls.Load())
	require.Equal(t, 2, h.gateway.Calls())
	require.Equal(t, int64(2), h.snapshot(t).EmailQuota)
}

func TestSendEmail_NoSecondRefreshWhenResolveAlreadyRefreshed(t *testing.T) {
	h := newHarness(t, 1, &scriptedGateway{errs: []error{errAuth}})
	past := time.Now().Add(-time.Minute)
	require.NoError(t, h.store.Credentials().UpdateTokens(context.Background(), "u1", "stale", &past, ""))

	out := send(h, context.Background())
	require.Equal(t, SendFailed, out.Failure.Kind)
	require.Equal(t, int32(1), h.refresher.calls.Load())
	require.Equal(t, 1, h.gateway.Calls())
	require.Equal(t, int64(1), h.snapshot(t).EmailQuota)
}

func TestSendEmail_RefreshFailureAfterAuthErrorReleases(t *testing.T) {
	h := newHarness(t, 1, &scriptedGateway{errs: []error{errAuth}})
	h.refresher.err = &credentials.CredentialError{Reason: credentials.ReasonRefreshRejected}

	out := send(h, context.Background())
	require.Equal(t, CredentialError, out.Failure.Kind)
	require.Equal(t, credentials.ReasonRefreshRejected, out.Failure.Reason)
	require.Equal(t, int64(1), h.snapshot(t).EmailQuota)
}

func TestSendEmail_InvalidRequestHasNoSideEffects(t *testing.T) {
	h := newHarness(t, 1, &scriptedGateway{id: "abc"})

	out := h.orch.SendEmail(context.Background(), "u1", "", "hello", "body")
	require.Equal(t, InvalidRequest, out.Failure.Kind)
	require.Contains(t, out.Failure.Reason, "recipient")
	require.Zero(t, h.gateway.Calls())
	require.Equal(t, int64(1), h.snapshot(t).EmailQuota)
}

func TestSendEmail_UnlinkedCredential(t *testing.T) {
	h := newHarness(t, 1, &scriptedGateway{id: "abc"})

	out := h.orch.SendEmail(context.Background(), "someone-else", "rcpt@example.com", "s", "b")
	require.Equal(t, CredentialError, out.Failure.Kind)
	require.Equal(t, credentials.ReasonNotLinked, out.Failure.Reason)
	require.Zero(t, h.gateway.Calls())
}

func TestSendEmail_ConcurrentSingleUnit(t *testing.T) {
	gw := &scriptedGateway{id: "abc", block: make(chan struct{})}
	h := newHarness(t, 1, gw)

	outcomes := make(chan Outcome, 2)
	for i := 0; i < 2; i++ {
		go func() { outcomes <- send(h, context.Background()) }()
	}

	// el que no reservó vuelve enseguida, mientras el otro sigue en el gateway
	first := <-outcomes
	require.NotNil(t, first.Failure)
	require.Equal(t, QuotaExceeded, first.Failure.Kind)

	close(gw.block)
	second := <-outcomes
	require.True(t, second.Success())
	require.Equal(t, 1, gw.Calls())

	s := h.snapshot(t)
	require.Zero(t, s.EmailQuota)
	require.Equal(t, int64(1), s.EmailsSent)
}

func TestSendEmail_CallerCancelAfterReservationStillCommits(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var workErr error
	gw := &scriptedGateway{id: "abc", onSend: func(work context.Context) {
		cancel()
		workErr = work.Err()
	}}
	h := newHarness(t, 2, gw)

	out := send(h, ctx)
	require.NoError(t, workErr, "post-reservation work must not observe caller cancellation")
	require.True(t, out.Success())
	require.Equal(t, int64(1), h.snapshot(t).EmailQuota)
	require.Equal(t, int64(1), h.snapshot(t).EmailsSent)
}

func TestSendEmail_CommitFailureIsReportedNotReleased(t *testing.T) {
	h := newHarness(t, 3, &scriptedGateway{id: "abc"}, withQuotaRepo(func(r repository.QuotaRepository) repository.QuotaRepository {
		return failingUsageRepo{r}
	}))

	out := send(h, context.Background())
	require.True(t, out.Success(), "delivery succeeded")
	require.True(t, out.NeedsReconcile())
	require.Equal(t, LedgerCommitFailed, out.Failure.Kind)
	require.Equal(t, "abc", out.ProviderMessageID)

	s := h.snapshot(t)
	require.Equal(t, int64(2), s.EmailQuota, "unit stays consumed; releasing would double-grant")
	require.Zero(t, s.EmailsSent)
}

func TestSendEmail_LedgerUnavailableOnReserve(t *testing.T) {
	h := newHarness(t, 3, &scriptedGateway{id: "abc"}, withQuotaRepo(func(r repository.QuotaRepository) repository.QuotaRepository {
		return failingReserveRepo{r}
	}))

	out := send(h, context.Background())
	require.Equal(t, SendFailed, out.Failure.Kind)
	require.Zero(t, h.gateway.Calls())
	require.Equal(t, int64(3), h.snapshot(t).EmailQuota)
}

func TestSendEmail_FromIsDelegatedIdentity(t *testing.T) {
	var from string
	gw := &scriptedGateway{id: "abc"}
	h := newHarness(t, 1, gw)
	h.orch.gateway = gatewayFunc(func(ctx context.Context, msg email.Message, tok string) (email.Receipt, error) {
		from = msg.From
		return gw.Send(ctx, msg, tok)
	})

	require.True(t, send(h, context.Background()).Success())
	require.Equal(t, "sender@example.com", from)
}

type gatewayFunc func(ctx context.Context, msg email.Message, tok string) (email.Receipt, error)

func (f gatewayFunc) Send(ctx context.Context, msg email.Message, tok string) (email.Receipt, error) {
	return f(ctx, msg, tok)
}

// sqliteOrchestrator arma el flujo sobre sqlite, cuyo driver corta las
// sentencias con el contexto vencido.
func sqliteOrchestrator(t *testing.T, units int64, gw email.Gateway, sendTimeout time.Duration) (*Orchestrator, repository.QuotaRepository) {
	t.Helper()
	ctx := context.Background()
	conn, err := store.Open(ctx, "sqlite", store.AdapterConfig{DSN: ":memory:"})
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	m, ok := conn.(store.MigratableConnection)
	require.True(t, ok)
	require.NoError(t, m.Migrate(ctx))

	exp := time.Now().Add(time.Hour)
	require.NoError(t, conn.Credentials().Upsert(ctx, repository.Credential{
		UserID: "u1", Email: "sender@example.com",
		AccessToken: "initial", RefreshToken: "refresh-1", AccessTokenExpiry: &exp,
	}))
	require.NoError(t, conn.Quotas().AddQuota(ctx, "u1", units))

	creds, err := credentials.NewManager(credentials.Config{Repo: conn.Credentials(), Refresher: &countingRefresher{}})
	require.NoError(t, err)
	ledger, err := quota.NewLedger(quota.Config{Repo: conn.Quotas(), ReservationTTL: time.Minute})
	require.NoError(t, err)
	orch, err := New(Config{Credentials: creds, Ledger: ledger, Gateway: gw, SendTimeout: sendTimeout})
	require.NoError(t, err)
	return orch, conn.Quotas()
}

func TestSendEmail_GatewayTimeoutStillRestoresQuota(t *testing.T) {
	gw := gatewayFunc(func(ctx context.Context, _ email.Message, _ string) (email.Receipt, error) {
		<-ctx.Done()
		return email.Receipt{}, ctx.Err()
	})
	orch, quotas := sqliteOrchestrator(t, 2, gw, 100*time.Millisecond)

	out := orch.SendEmail(context.Background(), "u1", "rcpt@example.com", "hello", "body")
	require.Equal(t, SendFailed, out.Failure.Kind)

	s, err := quotas.Snapshot(context.Background(), "u1")
	require.NoError(t, err)
	require.Equal(t, int64(2), s.EmailQuota, "released as soon as SendEmail returns")
	require.Zero(t, s.EmailsSent)
}

func TestSendEmail_SlowDeliveryStillCommits(t *testing.T) {
	gw := gatewayFunc(func(ctx context.Context, _ email.Message, _ string) (email.Receipt, error) {
		<-ctx.Done()
		return email.Receipt{MessageID: "late"}, nil
	})
	orch, quotas := sqliteOrchestrator(t, 2, gw, 100*time.Millisecond)

	out := orch.SendEmail(context.Background(), "u1", "rcpt@example.com", "hello", "body")
	require.True(t, out.Success())
	require.False(t, out.NeedsReconcile(), "failure: %+v", out.Failure)

	s, err := quotas.Snapshot(context.Background(), "u1")
	require.NoError(t, err)
	require.Equal(t, int64(1), s.EmailQuota)
	require.Equal(t, int64(1), s.EmailsSent)
}
