// Package quota implementa el ledger de cuota de envíos con reservas.
//
// Flujo: Reserve decrementa atómicamente la cuota (si > 0) y devuelve una
// Reservation; luego exactamente uno de Commit (suma uso) o Release (devuelve
// la unidad). Las reservas sin resolución dentro del TTL se liberan solas
// (ver Sweep / Run).
package quota

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/dropDatabas3/quotamail/internal/domain/repository"
	"github.com/dropDatabas3/quotamail/internal/metrics"
	"github.com/dropDatabas3/quotamail/internal/observability/logger"
)

const DefaultReservationTTL = 2 * time.Minute

var (
	ErrQuotaExceeded      = errors.New("quota: email quota exceeded")
	ErrReservationSettled = errors.New("quota: reservation already settled")
	ErrReservationExpired = errors.New("quota: reservation expired and was auto-released")
	ErrNilReservation     = errors.New("quota: nil reservation")
	ErrInvalidUser        = errors.New("quota: user id is required")
	ErrInvalidAmount      = errors.New("quota: amount must be positive")
)

// Config configura el Ledger.
type Config struct {
	Repo           repository.QuotaRepository
	ReservationTTL time.Duration
	Now            func() time.Time
}

// Ledger coordina reservas sobre un QuotaRepository. Es seguro para uso
// concurrente; no mantiene locks durante llamadas al repositorio.
type Ledger struct {
	repo repository.QuotaRepository
	ttl  time.Duration
	now  func() time.Time

	mu      sync.Mutex
	pending map[string]*Reservation
}

// NewLedger crea un Ledger.
func NewLedger(cfg Config) (*Ledger, error) {
	if cfg.Repo == nil {
		return nil, fmt.Errorf("quota: repository is required")
	}
	if cfg.ReservationTTL <= 0 {
		cfg.ReservationTTL = DefaultReservationTTL
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Ledger{
		repo:    cfg.Repo,
		ttl:     cfg.ReservationTTL,
		now:     cfg.Now,
		pending: make(map[string]*Reservation),
	}, nil
}

// Reserve decrementa en 1 la cuota del usuario si es positiva.
// Falla con ErrQuotaExceeded sin mutar nada si la cuota es 0.
func (l *Ledger) Reserve(ctx context.Context, userID string) (*Reservation, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, ErrInvalidUser
	}

	ok, err := l.repo.DecrementIfPositive(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("quota: reserve: %w", err)
	}
	if !ok {
		return nil, ErrQuotaExceeded
	}

	now := l.now()
	r := &Reservation{
		id:        uuid.NewString(),
		userID:    userID,
		createdAt: now,
		expiresAt: now.Add(l.ttl),
	}

	l.mu.Lock()
	l.pending[r.id] = r
	l.mu.Unlock()

	logger.From(ctx).Debug("quota reserved",
		logger.Component("quota"),
		logger.UserID(userID),
		logger.ReservationID(r.id),
	)
	return r, nil
}

// Commit registra el envío confirmado (emails_sent + 1).
// Un segundo Commit/Release sobre la misma reserva falla con ErrReservationSettled.
func (l *Ledger) Commit(ctx context.Context, r *Reservation) error {
	if err := l.claim(r, stateCommitted); err != nil {
		return err
	}
	if err := l.repo.IncrementUsage(ctx, r.userID); err != nil {
		return fmt.Errorf("quota: commit %s: %w", r.id, err)
	}
	return nil
}

// Release devuelve la unidad reservada a la cuota del usuario.
// Si el repositorio falla la reserva vuelve a pending y el sweeper la libera
// al vencer el TTL.
func (l *Ledger) Release(ctx context.Context, r *Reservation) error {
	if err := l.claim(r, stateReleased); err != nil {
		return err
	}
	if err := l.repo.AddQuota(ctx, r.userID, 1); err != nil {
		r.state.Store(int32(statePending))
		l.mu.Lock()
		l.pending[r.id] = r
		l.mu.Unlock()
		return fmt.Errorf("quota: release %s: %w", r.id, err)
	}
	return nil
}

func (l *Ledger) claim(r *Reservation, to reservationState) error {
	if r == nil {
		return ErrNilReservation
	}
	if !r.settle(to) {
		if r.current() == stateExpired {
			return ErrReservationExpired
		}
		return fmt.Errorf("%w: %s is %s", ErrReservationSettled, r.id, r.current())
	}
	l.mu.Lock()
	delete(l.pending, r.id)
	l.mu.Unlock()
	return nil
}

// Grant suma n unidades de cuota (nueva asignación / upgrade de plan).
func (l *Ledger) Grant(ctx context.Context, userID string, n int64) error {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return ErrInvalidUser
	}
	if n <= 0 {
		return ErrInvalidAmount
	}
	if err := l.repo.AddQuota(ctx, userID, n); err != nil {
		return fmt.Errorf("quota: grant: %w", err)
	}
	return nil
}

// Snapshot lee cuota restante y envíos acumulados.
func (l *Ledger) Snapshot(ctx context.Context, userID string) (repository.QuotaSnapshot, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return repository.QuotaSnapshot{}, ErrInvalidUser
	}
	return l.repo.Snapshot(ctx, userID)
}

// Pending retorna la cantidad de reservas sin resolver.
func (l *Ledger) Pending() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.pending)
}

// Sweep libera las reservas pendientes cuyo TTL venció. Retorna cuántas liberó.
func (l *Ledger) Sweep(ctx context.Context) int {
	now := l.now()

	l.mu.Lock()
	var expired []*Reservation
	for id, r := range l.pending {
		if !now.Before(r.expiresAt) && r.settle(stateExpired) {
			expired = append(expired, r)
			delete(l.pending, id)
		}
	}
	l.mu.Unlock()

	log := logger.From(ctx).With(logger.Component("quota"), logger.Op("Sweep"))
	released := 0
	for _, r := range expired {
		if err := l.repo.AddQuota(ctx, r.userID, 1); err != nil {
			log.Error("failed to auto-release expired reservation",
				logger.UserID(r.userID),
				logger.ReservationID(r.id),
				logger.Reconcile(),
				logger.Err(err),
			)
			continue
		}
		released++
		metrics.ReservationsExpired.Inc()
		log.Warn("expired reservation auto-released",
			logger.UserID(r.userID),
			logger.ReservationID(r.id),
		)
	}
	return released
}

// Run ejecuta Sweep cada interval hasta que ctx se cancele.
func (l *Ledger) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = l.ttl / 4
	}
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			l.Sweep(ctx)
		}
	}
}
