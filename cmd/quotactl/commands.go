package main

import (
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/dropDatabas3/quotamail/internal/domain/repository"
	tokens "github.com/dropDatabas3/quotamail/internal/security/token"
)

func migrateCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Aplica las migraciones embebidas del driver configurado",
		RunE: func(cmd *cobra.Command, args []string) error {
			cont, err := c.container(cmd.Context(), true)
			if err != nil {
				return err
			}
			defer cont.Close()
			c.print(map[string]any{"ok": true, "driver": cont.Config.Storage.Driver},
				"migrations applied ("+cont.Config.Storage.Driver+")")
			return nil
		},
	}
}

func quotaCmd(c *cli) *cobra.Command {
	cmd := &cobra.Command{Use: "quota", Short: "Consulta y asignación de cuota"}

	show := &cobra.Command{
		Use:   "show <user-id>",
		Short: "Muestra cuota restante y envíos",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cont, err := c.container(cmd.Context(), false)
			if err != nil {
				return err
			}
			defer cont.Close()
			snap, err := cont.Ledger.Snapshot(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			printSnapshot(c, snap)
			return nil
		},
	}

	grant := &cobra.Command{
		Use:   "grant <user-id> <amount>",
		Short: "Suma <amount> envíos a la cuota del usuario",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			n, err := strconv.ParseInt(args[1], 10, 64)
			if err != nil {
				return fmt.Errorf("amount inválido: %w", err)
			}
			cont, err := c.container(cmd.Context(), false)
			if err != nil {
				return err
			}
			defer cont.Close()
			if err := cont.Ledger.Grant(cmd.Context(), args[0], n); err != nil {
				return err
			}
			snap, err := cont.Ledger.Snapshot(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			printSnapshot(c, snap)
			return nil
		},
	}

	cmd.AddCommand(show, grant)
	return cmd
}

func printSnapshot(c *cli, s repository.QuotaSnapshot) {
	c.print(map[string]any{
		"user_id":     s.UserID,
		"email_quota": s.EmailQuota,
		"emails_sent": s.EmailsSent,
	}, fmt.Sprintf("user=%s quota=%d sent=%d", s.UserID, s.EmailQuota, s.EmailsSent))
}

func credentialCmd(c *cli) *cobra.Command {
	cmd := &cobra.Command{Use: "credential", Short: "Credenciales delegadas"}

	var (
		userID, email, access, refresh string
		expiresIn                      time.Duration
	)
	set := &cobra.Command{
		Use:   "set",
		Short: "Registra o reemplaza los tokens de un usuario",
		RunE: func(cmd *cobra.Command, args []string) error {
			cont, err := c.container(cmd.Context(), false)
			if err != nil {
				return err
			}
			defer cont.Close()

			cred := repository.Credential{
				UserID:       userID,
				Email:        email,
				AccessToken:  access,
				RefreshToken: refresh,
			}
			if expiresIn > 0 {
				exp := time.Now().Add(expiresIn).UTC()
				cred.AccessTokenExpiry = &exp
			}
			if err := cont.Credentials.Link(cmd.Context(), cred); err != nil {
				return err
			}
			c.print(map[string]any{"ok": true, "user_id": userID}, "credential stored for "+userID)
			return nil
		},
	}
	set.Flags().StringVar(&userID, "user", "", "user id (requerido)")
	set.Flags().StringVar(&email, "email", "", "cuenta From delegada (requerido)")
	set.Flags().StringVar(&access, "access-token", "", "access token")
	set.Flags().StringVar(&refresh, "refresh-token", "", "refresh token (vacío conserva el almacenado)")
	set.Flags().DurationVar(&expiresIn, "expires-in", 0, "vida restante del access token (ej: 55m)")
	_ = set.MarkFlagRequired("user")
	_ = set.MarkFlagRequired("email")

	cmd.AddCommand(set)
	return cmd
}

func tokenCmd(c *cli) *cobra.Command {
	var ttl time.Duration
	cmd := &cobra.Command{
		Use:   "token <user-id>",
		Short: "Emite un bearer token de API para el usuario (dev/ops)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cont, err := c.container(cmd.Context(), false)
			if err != nil {
				return err
			}
			defer cont.Close()
			tok, exp, err := cont.Issuer.IssueAccess(args[0], ttl)
			if err != nil {
				return err
			}
			c.print(map[string]any{"access_token": tok, "expires_at": exp}, tok)
			return nil
		},
	}
	cmd.Flags().DurationVar(&ttl, "ttl", 0, "TTL del token (default 15m)")
	return cmd
}

func sendCmd(c *cli) *cobra.Command {
	var userID, to, subject, text string
	cmd := &cobra.Command{
		Use:   "send",
		Short: "Envía un mail de prueba a través del core (consume cuota)",
		RunE: func(cmd *cobra.Command, args []string) error {
			cont, err := c.container(cmd.Context(), false)
			if err != nil {
				return err
			}
			defer cont.Close()

			out := cont.Dispatcher.SendEmail(cmd.Context(), userID, to, subject, text)
			line := fmt.Sprintf("result=%s", out.Result())
			if out.ProviderMessageID != "" {
				line += " message_id=" + out.ProviderMessageID
			}
			if out.Failure != nil {
				line += " reason=" + strconv.Quote(out.Failure.Reason)
			}
			c.print(out, line)
			if !out.Delivered {
				return fmt.Errorf("send failed: %s", out.Result())
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&userID, "user", "", "user id (requerido)")
	cmd.Flags().StringVar(&to, "to", "", "destinatario (requerido)")
	cmd.Flags().StringVar(&subject, "subject", "quotamail test", "asunto")
	cmd.Flags().StringVar(&text, "text", "hello from quotactl", "cuerpo")
	_ = cmd.MarkFlagRequired("user")
	_ = cmd.MarkFlagRequired("to")
	return cmd
}

func keysCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "keys",
		Short: "Genera secretos nuevos para la config (secretbox, JWT, service token)",
		RunE: func(cmd *cobra.Command, args []string) error {
			box, err := tokens.GenerateSecretBoxKey()
			if err != nil {
				return err
			}
			jwtSecret, err := tokens.GenerateOpaqueToken(48)
			if err != nil {
				return err
			}
			svc, err := tokens.GenerateOpaqueToken(32)
			if err != nil {
				return err
			}
			c.print(map[string]string{
				"SECRETBOX_MASTER_KEY": box,
				"AUTH_JWT_SECRET":      jwtSecret,
				"AUTH_SERVICE_TOKEN":   svc,
			}, fmt.Sprintf("SECRETBOX_MASTER_KEY=%s\nAUTH_JWT_SECRET=%s\nAUTH_SERVICE_TOKEN=%s", box, jwtSecret, svc))
			return nil
		},
	}
}
