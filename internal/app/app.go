// Package app arma el contenedor de dependencias a partir de la config y
// corre el servidor HTTP.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	rdb "github.com/redis/go-redis/v9"

	"github.com/dropDatabas3/quotamail/internal/config"
	"github.com/dropDatabas3/quotamail/internal/credentials"
	"github.com/dropDatabas3/quotamail/internal/dispatch"
	"github.com/dropDatabas3/quotamail/internal/domain/repository"
	"github.com/dropDatabas3/quotamail/internal/email"
	credctrl "github.com/dropDatabas3/quotamail/internal/http/controllers/credentials"
	healthctrl "github.com/dropDatabas3/quotamail/internal/http/controllers/health"
	mailctrl "github.com/dropDatabas3/quotamail/internal/http/controllers/mail"
	quotactrl "github.com/dropDatabas3/quotamail/internal/http/controllers/quota"
	"github.com/dropDatabas3/quotamail/internal/http/router"
	"github.com/dropDatabas3/quotamail/internal/idempotency"
	"github.com/dropDatabas3/quotamail/internal/jwt"
	"github.com/dropDatabas3/quotamail/internal/metrics"
	"github.com/dropDatabas3/quotamail/internal/observability/logger"
	"github.com/dropDatabas3/quotamail/internal/quota"
	"github.com/dropDatabas3/quotamail/internal/rate"
	"github.com/dropDatabas3/quotamail/internal/security/secretbox"
	"github.com/dropDatabas3/quotamail/internal/store"
	redisstore "github.com/dropDatabas3/quotamail/internal/store/adapters/redis"

	_ "github.com/dropDatabas3/quotamail/internal/store/adapters/memory"
	_ "github.com/dropDatabas3/quotamail/internal/store/adapters/mysql"
	_ "github.com/dropDatabas3/quotamail/internal/store/adapters/pg"
	_ "github.com/dropDatabas3/quotamail/internal/store/adapters/sqlite"
)

// Container agrupa las dependencias vivas del proceso.
type Container struct {
	Config *config.Config

	Store store.AdapterConnection
	Redis rdb.UniversalClient // nil si no hay redis.addr

	Ledger      *quota.Ledger
	Credentials *credentials.Manager
	Gateway     email.Gateway
	Dispatcher  *dispatch.Orchestrator
	Issuer      *jwt.Issuer

	Limiter     rate.Limiter      // nil si rate.enabled=false
	Idempotency idempotency.Store // nil si idempotency.enabled=false

	closers []func() error
}

// Build conecta storage/redis y construye el core. Ante error cierra lo abierto.
func Build(ctx context.Context, cfg *config.Config) (_ *Container, err error) {
	c := &Container{Config: cfg}
	defer func() {
		if err != nil {
			_ = c.Close()
		}
	}()
	log := logger.From(ctx).With(logger.Component("app"))

	// Storage
	var box *secretbox.Box
	if cfg.Security.SecretBoxKey != "" {
		if box, err = secretbox.New(cfg.Security.SecretBoxKey); err != nil {
			return nil, fmt.Errorf("app: secretbox: %w", err)
		}
	} else if cfg.Storage.Driver != "memory" {
		log.Warn("security.secretbox_master_key not set: tokens stored in plain text")
	}

	c.Store, err = store.Open(ctx, cfg.Storage.Driver, store.AdapterConfig{
		DSN:          cfg.Storage.DSN,
		MaxOpenConns: cfg.Storage.MaxOpenConns,
		MaxIdleConns: cfg.Storage.MaxIdleConns,
		SecretBox:    box,
	})
	if err != nil {
		return nil, err
	}
	c.closers = append(c.closers, c.Store.Close)

	if cfg.Storage.AutoMigrate {
		if m, ok := c.Store.(store.MigratableConnection); ok {
			if err = m.Migrate(ctx); err != nil {
				return nil, fmt.Errorf("app: migrate: %w", err)
			}
			log.Info("migrations applied", logger.String("driver", cfg.Storage.Driver))
		}
	}

	// Redis (opcional)
	if cfg.Redis.Addr != "" {
		c.Redis = rdb.NewUniversalClient(&rdb.UniversalOptions{
			Addrs:    []string{cfg.Redis.Addr},
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		c.closers = append(c.closers, c.Redis.Close)
		if err = c.Redis.Ping(ctx).Err(); err != nil {
			return nil, fmt.Errorf("app: redis ping: %w", err)
		}
	}

	// Quota
	var quotaRepo repository.QuotaRepository = c.Store.Quotas()
	if cfg.Quota.Backend == "redis" {
		if c.Redis == nil {
			return nil, errors.New("app: quota.backend=redis requires redis.addr")
		}
		quotaRepo = redisstore.NewQuotaRepo(c.Redis, cfg.Redis.Prefix)
	}
	if c.Ledger, err = quota.NewLedger(quota.Config{
		Repo:           quotaRepo,
		ReservationTTL: cfg.Quota.ReservationTTL,
	}); err != nil {
		return nil, err
	}

	// Credenciales
	refresher := credentials.NewOAuth2Refresher(credentials.OAuth2Config{
		ClientID:     cfg.Google.ClientID,
		ClientSecret: cfg.Google.ClientSecret,
		TokenURL:     cfg.Google.TokenURL,
		Timeout:      cfg.Google.Timeout,
	})
	if c.Credentials, err = credentials.NewManager(credentials.Config{
		Repo:              c.Store.Credentials(),
		Refresher:         refresher,
		RefreshLeadWindow: cfg.Dispatch.RefreshLeadWindow,
		RefreshTimeout:    cfg.Google.Timeout,
	}); err != nil {
		return nil, err
	}

	// Gateway + orquestador
	if c.Gateway, err = NewGateway(cfg); err != nil {
		return nil, err
	}
	if c.Dispatcher, err = dispatch.New(dispatch.Config{
		Credentials:   c.Credentials,
		Ledger:        c.Ledger,
		Gateway:       c.Gateway,
		SendTimeout:   cfg.Dispatch.SendTimeout,
		SettleTimeout: cfg.Dispatch.SettleTimeout,
	}); err != nil {
		return nil, err
	}

	// HTTP
	if c.Issuer, err = jwt.NewIssuer(cfg.Auth.JWTSecret, cfg.Auth.Issuer, cfg.Auth.Audience); err != nil {
		return nil, err
	}
	if cfg.Rate.Enabled {
		if c.Redis != nil {
			c.Limiter = rate.NewRedisLimiter(c.Redis, cfg.Redis.Prefix+rate.DefaultPrefix, cfg.Rate.Limit, cfg.Rate.Window)
		} else {
			c.Limiter = rate.NewMemoryLimiter(cfg.Rate.Limit, cfg.Rate.Window)
		}
	}
	if cfg.Idempotency.Enabled {
		if c.Redis != nil {
			c.Idempotency = idempotency.NewRedisStore(c.Redis, cfg.Redis.Prefix+"idem:", cfg.Idempotency.TTL)
		} else {
			c.Idempotency = idempotency.NewMemoryStore(cfg.Idempotency.TTL)
		}
	}

	log.Info("container ready",
		logger.String("storage", cfg.Storage.Driver),
		logger.String("quota_backend", cfg.Quota.Backend),
		logger.String("gateway", cfg.Gateway.Kind),
		logger.Bool("redis", c.Redis != nil),
	)
	return c, nil
}

// NewGateway construye el Gateway según gateway.kind.
func NewGateway(cfg *config.Config) (email.Gateway, error) {
	switch cfg.Gateway.Kind {
	case "smtp":
		return email.NewSMTPGateway(email.SMTPConfig{
			Host:               cfg.Gateway.SMTP.Host,
			Port:               cfg.Gateway.SMTP.Port,
			TLSMode:            cfg.Gateway.SMTP.TLSMode,
			InsecureSkipVerify: cfg.Gateway.SMTP.InsecureSkipVerify,
			Timeout:            cfg.Dispatch.SendTimeout,
		}), nil
	case "relay":
		return email.NewRelayGateway(cfg.Gateway.Relay.URL, cfg.Gateway.Relay.APIKey, cfg.Dispatch.SendTimeout), nil
	case "log":
		return email.NewLogGateway(), nil
	default:
		return nil, fmt.Errorf("app: unknown gateway kind %q", cfg.Gateway.Kind)
	}
}

// Handler arma el router HTTP sobre el contenedor.
func (c *Container) Handler(version string) http.Handler {
	checks := map[string]healthctrl.Pinger{"storage": c.Store}
	if c.Redis != nil {
		checks["redis"] = healthctrl.PingFunc(func(ctx context.Context) error {
			return c.Redis.Ping(ctx).Err()
		})
	}
	return router.New(router.Deps{
		Send:         mailctrl.NewSendController(c.Dispatcher),
		Quota:        quotactrl.NewQuotaController(c.Ledger),
		Credentials:  credctrl.NewLinkController(c.Credentials),
		Health:       healthctrl.NewHealthController(version, checks),
		Auth:         c.Issuer,
		ServiceToken: c.Config.Auth.ServiceToken,
		Limiter:      c.Limiter,
		Idempotency:  c.Idempotency,
	})
}

// Close libera conexiones en orden inverso.
func (c *Container) Close() error {
	var errs []error
	for i := len(c.closers) - 1; i >= 0; i-- {
		if err := c.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	c.closers = nil
	return errors.Join(errs...)
}

// Run construye el contenedor, arranca el sweeper de reservas y sirve HTTP
// hasta que ctx se cancele.
func Run(ctx context.Context, cfg *config.Config, version string) error {
	log := logger.L().With(logger.Component("app"))
	ctx = logger.ToContext(ctx, log)

	if err := metrics.Register(nil); err != nil {
		return fmt.Errorf("app: metrics: %w", err)
	}

	c, err := Build(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := c.Close(); err != nil {
			log.Warn("close failed", logger.Err(err))
		}
	}()

	sweepCtx, stopSweep := context.WithCancel(ctx)
	sweepDone := make(chan struct{})
	go func() {
		defer close(sweepDone)
		c.Ledger.Run(sweepCtx, cfg.Quota.SweepInterval)
	}()

	srv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           c.Handler(version),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		log.Info("http server listening", logger.String("addr", cfg.Server.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil {
			stopSweep()
			<-sweepDone
			return fmt.Errorf("app: http server: %w", err)
		}
	}

	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn("http shutdown", logger.Err(err))
	}

	// Los handlers ya terminaron; una última pasada libera las reservas
	// vencidas antes de cortar el sweeper.
	c.Ledger.Sweep(shutdownCtx)
	stopSweep()
	<-sweepDone
	if n := c.Ledger.Pending(); n > 0 {
		log.Warn("reservations still pending at shutdown", logger.Count(n))
	}
	return nil
}
