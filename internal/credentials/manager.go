package credentials

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/dropDatabas3/quotamail/internal/domain/repository"
	"github.com/dropDatabas3/quotamail/internal/metrics"
	"github.com/dropDatabas3/quotamail/internal/observability/logger"
)

// Resolved es la credencial lista para usar en un envío.
type Resolved struct {
	Credential repository.Credential

	// Refreshed es true si este request disparó (o compartió) un refresh.
	Refreshed bool

	// PersistErr no es nil cuando el refresh salió bien pero el store falló.
	// Envuelve ErrCredentialPersist.
	PersistErr error
}

// Config configura el Manager.
type Config struct {
	Repo              repository.CredentialRepository
	Refresher         Refresher
	RefreshLeadWindow time.Duration

	// RefreshTimeout acota el refresh compartido, que no depende del request
	// que lo disparó.
	RefreshTimeout time.Duration

	Now func() time.Time
}

const DefaultRefreshTimeout = 15 * time.Second

// Manager resuelve, refresca y vincula credenciales delegadas.
type Manager struct {
	repo      repository.CredentialRepository
	refresher Refresher
	lead      time.Duration
	timeout   time.Duration
	now       func() time.Time

	group singleflight.Group
}

// NewManager crea un Manager.
func NewManager(cfg Config) (*Manager, error) {
	if cfg.Repo == nil {
		return nil, errors.New("credentials: repository is required")
	}
	if cfg.Refresher == nil {
		return nil, errors.New("credentials: refresher is required")
	}
	if cfg.RefreshLeadWindow <= 0 {
		cfg.RefreshLeadWindow = DefaultRefreshLeadWindow
	}
	if cfg.RefreshTimeout <= 0 {
		cfg.RefreshTimeout = DefaultRefreshTimeout
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Manager{
		repo:      cfg.Repo,
		refresher: cfg.Refresher,
		lead:      cfg.RefreshLeadWindow,
		timeout:   cfg.RefreshTimeout,
		now:       cfg.Now,
	}, nil
}

// Resolve devuelve la credencial del usuario, refrescándola si hace falta.
func (m *Manager) Resolve(ctx context.Context, userID string) (Resolved, error) {
	cred, err := m.repo.Get(ctx, userID)
	if err != nil {
		if repository.IsNotFound(err) {
			return Resolved{}, &CredentialError{Reason: ReasonNotLinked}
		}
		return Resolved{}, &CredentialError{Reason: ReasonStoreUnavailable, Err: err}
	}

	st := StateOf(m.now(), *cred, m.lead)
	if st.Usable() {
		return Resolved{Credential: *cred}, nil
	}
	if !st.HasRefreshToken {
		return Resolved{}, &CredentialError{Reason: ReasonMissingRefreshToken}
	}
	return m.refresh(ctx, *cred)
}

// ForceRefresh refresca sin mirar la expiración (ej: el gateway rechazó el token).
func (m *Manager) ForceRefresh(ctx context.Context, cred repository.Credential) (Resolved, error) {
	if !cred.HasRefreshToken() {
		return Resolved{}, &CredentialError{Reason: ReasonMissingRefreshToken}
	}
	return m.refresh(ctx, cred)
}

func (m *Manager) refresh(ctx context.Context, cred repository.Credential) (Resolved, error) {
	log := logger.From(ctx).With(logger.Component("credentials"), logger.UserID(cred.UserID))

	// El refresh es compartido entre requests del mismo usuario: si el que lo
	// disparó se va, los demás siguen esperando el resultado.
	ch := m.group.DoChan(cred.UserID, func() (any, error) {
		rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), m.timeout)
		defer cancel()

		rc, err := m.refresher.Refresh(rctx, cred)
		if err != nil {
			metrics.CredentialRefreshTotal.WithLabelValues("error").Inc()
			return nil, err
		}

		updated := cred
		updated.AccessToken = rc.AccessToken
		updated.AccessTokenExpiry = rc.Expiry
		if rc.RefreshToken != "" {
			updated.RefreshToken = rc.RefreshToken
		}
		res := Resolved{Credential: updated, Refreshed: true}

		if perr := m.repo.UpdateTokens(rctx, cred.UserID, rc.AccessToken, rc.Expiry, rc.RefreshToken); perr != nil {
			metrics.CredentialRefreshTotal.WithLabelValues("persist_error").Inc()
			res.PersistErr = fmt.Errorf("%w: %v", ErrCredentialPersist, perr)
			log.Warn("refreshed credential not persisted", logger.Err(perr))
			return res, nil
		}
		metrics.CredentialRefreshTotal.WithLabelValues("ok").Inc()
		log.Debug("credential refreshed")
		return res, nil
	})

	var r singleflight.Result
	select {
	case r = <-ch:
	case <-ctx.Done():
		return Resolved{}, &CredentialError{Reason: ReasonRefreshFailed, Err: ctx.Err()}
	}
	if err := r.Err; err != nil {
		var ce *CredentialError
		if !errors.As(err, &ce) {
			err = &CredentialError{Reason: ReasonRefreshFailed, Err: err}
		}
		log.Info("credential refresh failed", logger.Err(err), logger.Bool("shared", r.Shared))
		return Resolved{}, err
	}
	return r.Val.(Resolved), nil
}

// Link guarda (o reemplaza) la credencial emitida por el IdP en el sign-in.
// Un refresh token vacío conserva el almacenado.
func (m *Manager) Link(ctx context.Context, cred repository.Credential) error {
	cred.UserID = strings.TrimSpace(cred.UserID)
	cred.Email = strings.TrimSpace(cred.Email)
	if cred.UserID == "" || cred.Email == "" {
		return fmt.Errorf("%w: user id and email are required", ErrInvalidCredential)
	}
	if cred.AccessToken == "" && cred.RefreshToken == "" {
		return fmt.Errorf("%w: access token or refresh token is required", ErrInvalidCredential)
	}
	if err := m.repo.Upsert(ctx, cred); err != nil {
		return fmt.Errorf("credentials: link: %w", err)
	}
	logger.From(ctx).Info("credential linked",
		logger.Component("credentials"),
		logger.UserID(cred.UserID),
		logger.Bool("has_refresh_token", cred.HasRefreshToken()),
	)
	return nil
}
