package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/dropDatabas3/quotamail/internal/app"
	"github.com/dropDatabas3/quotamail/internal/config"
	"github.com/dropDatabas3/quotamail/internal/observability/logger"
	"github.com/dropDatabas3/quotamail/internal/observability/tracing"
	"github.com/dropDatabas3/quotamail/internal/util"
)

// version se setea con -ldflags "-X main.version=..."
var version = "dev"

func main() {
	var (
		flagConfigPath = flag.String("config", "", "ruta a config.yaml (fallback: $CONFIG_PATH; vacío = solo env)")
		flagEnvFile    = flag.String("env-file", ".env", "ruta a .env (si existe, se carga)")
		flagPrint      = flag.Bool("print-config", false, "imprime config efectiva y termina")
	)
	flag.Parse()

	if *flagEnvFile != "" {
		if err := godotenv.Load(*flagEnvFile); err == nil {
			log.Printf("dotenv: cargado %s", *flagEnvFile)
		}
	}

	cfgPath := *flagConfigPath
	if cfgPath == "" {
		cfgPath = os.Getenv("CONFIG_PATH")
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	if *flagPrint {
		printConfigSummary(cfg)
		return
	}

	logEnv := "prod"
	if cfg.IsDev() {
		logEnv = "dev"
	}
	logger.Init(logger.Config{Env: logEnv, Level: cfg.Log.Level})
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := tracing.Setup(ctx, tracing.Config{
		Enabled:        cfg.OTel.Enabled,
		Endpoint:       cfg.OTel.Endpoint,
		Insecure:       cfg.OTel.Insecure,
		SampleRatio:    cfg.OTel.SampleRatio,
		ServiceName:    "quotamail",
		ServiceVersion: version,
	})
	if err != nil {
		logger.L().Fatal("tracing setup failed", logger.Err(err))
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = shutdownTracing(sctx)
	}()

	if err := app.Run(ctx, cfg, version); err != nil {
		logger.L().Error("service stopped with error", logger.Err(err))
		_ = logger.Sync()
		os.Exit(1)
	}
}

// printConfigSummary imprime la config efectiva sin secretos.
func printConfigSummary(cfg *config.Config) {
	mask := func(s string) string {
		if s == "" {
			return "(unset)"
		}
		return "(set)"
	}
	fmt.Printf("env:             %s\n", cfg.App.Env)
	fmt.Printf("server.addr:     %s\n", cfg.Server.Addr)
	fmt.Printf("storage.driver:  %s\n", cfg.Storage.Driver)
	fmt.Printf("storage.dsn:     %s\n", util.MaskDSN(cfg.Storage.DSN))
	fmt.Printf("redis.addr:      %s\n", cfg.Redis.Addr)
	fmt.Printf("quota.backend:   %s (ttl %s, sweep %s)\n", cfg.Quota.Backend, cfg.Quota.ReservationTTL, cfg.Quota.SweepInterval)
	fmt.Printf("gateway.kind:    %s\n", cfg.Gateway.Kind)
	fmt.Printf("dispatch:        send_timeout=%s settle_timeout=%s lead_window=%s\n", cfg.Dispatch.SendTimeout, cfg.Dispatch.SettleTimeout, cfg.Dispatch.RefreshLeadWindow)
	fmt.Printf("google.client:   %s\n", mask(cfg.Google.ClientID))
	fmt.Printf("auth.jwt_secret: %s\n", mask(cfg.Auth.JWTSecret))
	fmt.Printf("secretbox key:   %s\n", mask(cfg.Security.SecretBoxKey))
	fmt.Printf("rate:            enabled=%v %d/%s\n", cfg.Rate.Enabled, cfg.Rate.Limit, cfg.Rate.Window)
	fmt.Printf("idempotency:     enabled=%v ttl=%s\n", cfg.Idempotency.Enabled, cfg.Idempotency.TTL)
	fmt.Printf("otel:            enabled=%v\n", cfg.OTel.Enabled)
}
