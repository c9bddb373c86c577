// quotactl opera sobre el storage configurado sin pasar por la API:
// migraciones, cuota, alta de credenciales, emisión de tokens y envíos de prueba.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/dropDatabas3/quotamail/internal/app"
	"github.com/dropDatabas3/quotamail/internal/config"
	"github.com/dropDatabas3/quotamail/internal/observability/logger"
)

type cli struct {
	ConfigPath string
	EnvFile    string
	OutFormat  string // "json" | "text"
}

func (c *cli) load() (*config.Config, error) {
	if c.EnvFile != "" {
		_ = godotenv.Load(c.EnvFile)
	}
	path := c.ConfigPath
	if path == "" {
		path = os.Getenv("CONFIG_PATH")
	}
	return config.Load(path)
}

// container abre storage/redis y arma el core. El llamador cierra.
func (c *cli) container(ctx context.Context, migrate bool) (*app.Container, error) {
	cfg, err := c.load()
	if err != nil {
		return nil, err
	}
	if migrate {
		cfg.Storage.AutoMigrate = true
	}
	return app.Build(ctx, cfg)
}

func (c *cli) print(v any, text string) {
	if c.OutFormat == "json" {
		b, _ := json.MarshalIndent(v, "", "  ")
		fmt.Println(string(b))
		return
	}
	fmt.Println(text)
}

func envOr(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func main() {
	c := &cli{OutFormat: envOr("QUOTACTL_OUT", "text")}

	root := &cobra.Command{
		Use:           "quotactl",
		Short:         "Herramienta de operación de quotamail",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if c.OutFormat != "json" && c.OutFormat != "text" {
				return fmt.Errorf("--out debe ser json|text")
			}
			logger.Init(logger.Config{Env: "dev", Level: envOr("LOG_LEVEL", "warn")})
			return nil
		},
	}
	root.PersistentFlags().StringVar(&c.ConfigPath, "config", "", "ruta a config.yaml (env CONFIG_PATH)")
	root.PersistentFlags().StringVar(&c.EnvFile, "env-file", ".env", "ruta a .env (si existe, se carga)")
	root.PersistentFlags().StringVar(&c.OutFormat, "out", c.OutFormat, "Formato de salida: json|text")

	root.AddCommand(
		migrateCmd(c),
		quotaCmd(c),
		credentialCmd(c),
		tokenCmd(c),
		sendCmd(c),
		keysCmd(c),
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		stop()
		os.Exit(1)
	}
}
