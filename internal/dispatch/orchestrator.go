// Package dispatch orquesta un envío: valida, resuelve la credencial delegada,
// reserva cuota, llama al gateway y confirma o libera la reserva.
//
//	Validated → CredentialResolved → QuotaReserved → Sent → Committed
//
// Desde la reserva en adelante el trabajo corre sobre un contexto desligado
// de la cancelación del llamador y acotado por SendTimeout. Commit y Release
// usan un contexto propio acotado por SettleTimeout: un envío que agotó su
// presupuesto igual resuelve la reserva.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/dropDatabas3/quotamail/internal/credentials"
	"github.com/dropDatabas3/quotamail/internal/domain/repository"
	"github.com/dropDatabas3/quotamail/internal/email"
	"github.com/dropDatabas3/quotamail/internal/metrics"
	"github.com/dropDatabas3/quotamail/internal/observability/logger"
	"github.com/dropDatabas3/quotamail/internal/quota"
)

const (
	DefaultSendTimeout   = 45 * time.Second
	DefaultSettleTimeout = 10 * time.Second
)

// CredentialResolver es lo que el orquestador necesita de credentials.Manager.
type CredentialResolver interface {
	Resolve(ctx context.Context, userID string) (credentials.Resolved, error)
	ForceRefresh(ctx context.Context, cred repository.Credential) (credentials.Resolved, error)
}

// QuotaLedger es lo que el orquestador necesita de quota.Ledger.
type QuotaLedger interface {
	Reserve(ctx context.Context, userID string) (*quota.Reservation, error)
	Commit(ctx context.Context, r *quota.Reservation) error
	Release(ctx context.Context, r *quota.Reservation) error
}

// Config configura el Orchestrator.
type Config struct {
	Credentials CredentialResolver
	Ledger      QuotaLedger
	Gateway     email.Gateway

	// SendTimeout acota todo lo que ocurre después de reservar.
	// Debe ser menor que el TTL de las reservas.
	SendTimeout time.Duration

	// SettleTimeout acota Commit/Release, fuera del presupuesto de SendTimeout.
	SettleTimeout time.Duration

	Tracer trace.Tracer
}

// Orchestrator implementa SendEmail. Es seguro para uso concurrente.
type Orchestrator struct {
	creds       CredentialResolver
	ledger      QuotaLedger
	gateway     email.Gateway
	sendTimeout   time.Duration
	settleTimeout time.Duration
	tracer        trace.Tracer
}

// New crea un Orchestrator.
func New(cfg Config) (*Orchestrator, error) {
	if cfg.Credentials == nil || cfg.Ledger == nil || cfg.Gateway == nil {
		return nil, errors.New("dispatch: credentials, ledger and gateway are required")
	}
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = DefaultSendTimeout
	}
	if cfg.SettleTimeout <= 0 {
		cfg.SettleTimeout = DefaultSettleTimeout
	}
	if cfg.Tracer == nil {
		cfg.Tracer = otel.Tracer("github.com/dropDatabas3/quotamail/internal/dispatch")
	}
	return &Orchestrator{
		creds:         cfg.Credentials,
		ledger:        cfg.Ledger,
		gateway:       cfg.Gateway,
		sendTimeout:   cfg.SendTimeout,
		settleTimeout: cfg.SettleTimeout,
		tracer:        cfg.Tracer,
	}, nil
}

// SendEmail envía un mail en nombre de userID.
func (o *Orchestrator) SendEmail(ctx context.Context, userID, to, subject, body string) Outcome {
	return o.Dispatch(ctx, SendRequest{UserID: userID, To: to, Subject: subject, Body: body})
}

// Dispatch es SendEmail con el pedido ya armado.
func (o *Orchestrator) Dispatch(ctx context.Context, req SendRequest) Outcome {
	start := time.Now()
	ctx, span := o.tracer.Start(ctx, "dispatch.SendEmail",
		trace.WithAttributes(attribute.String("quotamail.user_id", req.UserID)))
	defer span.End()

	log := logger.From(ctx).With(logger.Component("dispatch"), logger.UserID(req.UserID))
	out := o.run(ctx, req, log)

	result := out.Result()
	metrics.ObserveDispatch(result, time.Since(start))
	span.SetAttributes(
		attribute.String("quotamail.result", result),
		attribute.Bool("quotamail.delivered", out.Delivered),
	)
	if out.Failure != nil && !out.Delivered {
		span.SetStatus(codes.Error, out.Failure.Reason)
	}

	fields := []zap.Field{logger.Outcome(result), logger.Duration(time.Since(start))}
	if out.ProviderMessageID != "" {
		fields = append(fields, logger.MessageID(out.ProviderMessageID))
	}
	if out.Failure != nil {
		fields = append(fields, logger.String("reason", out.Failure.Reason))
	}
	log.Info("dispatch finished", fields...)
	return out
}

func (o *Orchestrator) run(ctx context.Context, req SendRequest, log *zap.Logger) Outcome {
	// Validated
	if err := Validate(req); err != nil {
		return failed(InvalidRequest, reasonOf(err), err)
	}

	// CredentialResolved
	res, err := o.creds.Resolve(ctx, req.UserID)
	if err != nil {
		return failed(CredentialError, credentialReason(err), err)
	}
	if err := ctx.Err(); err != nil {
		// sin efectos todavía: el llamador se fue antes de reservar
		return failed(SendFailed, "request canceled before dispatch", err)
	}

	// A partir de acá la reserva tiene que resolverse aunque el llamador cancele.
	work, cancel := context.WithTimeout(context.WithoutCancel(ctx), o.sendTimeout)
	defer cancel()

	// QuotaReserved
	r, err := o.ledger.Reserve(work, req.UserID)
	if err != nil {
		if errors.Is(err, quota.ErrQuotaExceeded) {
			return failed(QuotaExceeded, MessageQuotaExceeded, err)
		}
		log.Error("quota reserve failed", logger.Err(err))
		return failed(SendFailed, "quota ledger unavailable", err)
	}
	log = log.With(logger.ReservationID(r.ID()))

	// Sent
	msg := email.Message{From: res.Credential.Email, To: req.To, Subject: req.Subject, Body: req.Body}
	rc, err := o.send(work, msg, res, log)
	cancel()

	// Settle
	settle, cancelSettle := context.WithTimeout(context.WithoutCancel(ctx), o.settleTimeout)
	defer cancelSettle()

	if err != nil {
		o.release(settle, r, log)
		var ce *credentials.CredentialError
		if errors.As(err, &ce) {
			return failed(CredentialError, ce.Reason, err)
		}
		return failed(SendFailed, sendReason(err), err)
	}

	// Committed
	if err := o.ledger.Commit(settle, r); err != nil {
		metrics.LedgerReconcileTotal.Inc()
		log.Error("email delivered but ledger commit failed",
			logger.MessageID(rc.MessageID),
			logger.Reconcile(),
			logger.Err(err),
		)
		return Outcome{
			Delivered:         true,
			ProviderMessageID: rc.MessageID,
			Message:           MessageSent,
			Failure:           &Failure{Kind: LedgerCommitFailed, Reason: "delivered; usage accounting pending reconciliation", Err: err},
		}
	}
	return Outcome{Delivered: true, ProviderMessageID: rc.MessageID, Message: MessageSent}
}

// send llama al gateway; ante un rechazo del token refresca una única vez
// (salvo que Resolve ya haya refrescado en este request) y reintenta.
func (o *Orchestrator) send(ctx context.Context, msg email.Message, res credentials.Resolved, log *zap.Logger) (email.Receipt, error) {
	rc, err := o.gateway.Send(ctx, msg, res.Credential.AccessToken)
	if err == nil || !email.IsAuthError(err) || res.Refreshed {
		return rc, err
	}

	log.Info("gateway rejected access token; refreshing once", logger.Err(err))
	fresh, rerr := o.creds.ForceRefresh(ctx, res.Credential)
	if rerr != nil {
		return email.Receipt{}, rerr
	}
	return o.gateway.Send(ctx, msg, fresh.Credential.AccessToken)
}

func (o *Orchestrator) release(ctx context.Context, r *quota.Reservation, log *zap.Logger) {
	if err := o.ledger.Release(ctx, r); err != nil {
		log.Warn("quota release failed; reservation left for expiry sweep", logger.Err(err))
	}
}

func credentialReason(err error) string {
	var ce *credentials.CredentialError
	if errors.As(err, &ce) {
		return ce.Reason
	}
	return credentials.ReasonRefreshFailed
}

func sendReason(err error) string {
	var se *email.SendError
	if errors.As(err, &se) {
		if se.AuthError {
			return "mail provider rejected the delegated credential"
		}
		return fmt.Sprintf("mail provider error (%s)", se.Code)
	}
	return "mail provider error"
}
