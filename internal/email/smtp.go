package email

import (
	"context"
	"crypto/tls"
	"fmt"
	"strings"
	"time"

	mail "github.com/go-mail/mail"
	"github.com/google/uuid"

	"github.com/dropDatabas3/quotamail/internal/observability/logger"
)

// SMTPConfig configura el SMTPGateway.
type SMTPConfig struct {
	Host               string
	Port               int
	TLSMode            string // "auto" | "starttls" | "ssl" | "none"
	InsecureSkipVerify bool   // sólo dev
	Timeout            time.Duration
}

// SMTPGateway envía por SMTP autenticándose con XOAUTH2 como la cuenta From.
type SMTPGateway struct {
	cfg SMTPConfig
}

// NewSMTPGateway crea un SMTPGateway. Defaults: smtp.gmail.com:587, STARTTLS, 30s.
func NewSMTPGateway(cfg SMTPConfig) *SMTPGateway {
	if cfg.Host == "" {
		cfg.Host = "smtp.gmail.com"
	}
	if cfg.Port == 0 {
		cfg.Port = 587
	}
	if cfg.TLSMode == "" {
		cfg.TLSMode = "auto"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &SMTPGateway{cfg: cfg}
}

func (g *SMTPGateway) Send(ctx context.Context, msg Message, accessToken string) (Receipt, error) {
	if err := ctx.Err(); err != nil {
		return Receipt{}, newSendError(CodeTimeout, true, err)
	}
	log := logger.From(ctx).With(
		logger.Component("smtp_gateway"),
		logger.String("host", g.cfg.Host),
		logger.Int64("port", int64(g.cfg.Port)),
	)

	msgID := fmt.Sprintf("<%s@%s>", uuid.NewString(), senderDomain(msg.From))

	m := mail.NewMessage()
	m.SetHeader("From", msg.From)
	m.SetHeader("To", msg.To)
	m.SetHeader("Subject", msg.Subject)
	m.SetHeader("Message-ID", msgID)
	m.SetBody("text/plain", msg.Body)

	d := mail.NewDialer(g.cfg.Host, g.cfg.Port, "", "")
	d.Auth = XOAuth2(msg.From, accessToken)
	d.Timeout = g.timeout(ctx)
	d.TLSConfig = &tls.Config{
		ServerName:         g.cfg.Host,
		InsecureSkipVerify: g.cfg.InsecureSkipVerify,
	}
	switch g.cfg.TLSMode {
	case "ssl":
		d.SSL = true
	case "starttls":
		d.StartTLSPolicy = mail.MandatoryStartTLS
	case "none":
		d.StartTLSPolicy = mail.NoStartTLS
	default:
		// "auto": go-mail negocia STARTTLS si el servidor lo ofrece
	}

	if err := d.DialAndSend(m); err != nil {
		se := AsSendError(err)
		log.Warn("smtp send failed", logger.String("code", se.Code), logger.Bool("auth_error", se.AuthError), logger.Err(err))
		return Receipt{}, se
	}

	log.Debug("smtp send ok", logger.MessageID(msgID))
	return Receipt{MessageID: msgID}, nil
}

// timeout acota el timeout del dialer al deadline del contexto.
func (g *SMTPGateway) timeout(ctx context.Context) time.Duration {
	t := g.cfg.Timeout
	if dl, ok := ctx.Deadline(); ok {
		if left := time.Until(dl); left < t {
			t = left
		}
	}
	if t <= 0 {
		t = time.Millisecond
	}
	return t
}

func senderDomain(from string) string {
	if i := strings.LastIndexByte(from, '@'); i >= 0 && i+1 < len(from) {
		return strings.Trim(from[i+1:], "> ")
	}
	return "quotamail.local"
}
