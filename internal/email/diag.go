package email

import (
	"errors"
	"net"
	"strings"
	"time"
)

// SMTPDiag contiene información de diagnóstico de un error SMTP.
type SMTPDiag struct {
	Code       string        // ver Code* en gateway.go
	Temporary  bool          // si conviene reintentar
	RetryAfter time.Duration // 0 si no se pudo inferir
}

// DiagnoseSMTP clasifica un error devuelto por el dialer/servidor SMTP.
func DiagnoseSMTP(err error) SMTPDiag {
	if err == nil {
		return SMTPDiag{Code: CodeUnknown}
	}
	s := strings.ToLower(err.Error())

	var ne net.Error
	isNetErr := errors.As(err, &ne)

	// timeouts
	if isNetErr && ne.Timeout() {
		return SMTPDiag{Code: CodeTimeout, Temporary: true}
	}
	if strings.Contains(s, "timeout") {
		return SMTPDiag{Code: CodeTimeout, Temporary: true}
	}

	// dial/conn/dns
	if strings.Contains(s, "connection refused") ||
		strings.Contains(s, "connectex:") || // windows
		strings.Contains(s, "no such host") ||
		strings.Contains(s, "dial tcp") {
		return SMTPDiag{Code: CodeDial, Temporary: true}
	}

	// tls/handshake/cert
	if strings.Contains(s, "x509:") ||
		strings.Contains(s, "tls") && (strings.Contains(s, "handshake") || strings.Contains(s, "certificate")) {
		return SMTPDiag{Code: CodeTLS}
	}

	// auth: token vencido/revocado (Gmail responde 535 5.7.8 o 334 con JSON de error)
	if strings.Contains(s, "5.7.8") || strings.Contains(s, "535") ||
		strings.Contains(s, "5.7.9") ||
		strings.Contains(s, "username and password not accepted") ||
		strings.Contains(s, "invalid credentials") ||
		strings.Contains(s, "authentication failed") ||
		strings.Contains(s, "auth") && strings.Contains(s, "failed") {
		return SMTPDiag{Code: CodeAuth}
	}

	// rate limit / throttling temporal (4.x.x)
	if strings.Contains(s, "4.7.0") ||
		strings.Contains(s, "rate limit") ||
		strings.Contains(s, "try again later") ||
		strings.Contains(s, "temporarily unavailable") ||
		strings.Contains(s, "451") || strings.Contains(s, "421") {
		return SMTPDiag{Code: CodeRateLimited, Temporary: true, RetryAfter: time.Minute}
	}

	// destinatario inválido
	if strings.Contains(s, "5.1.1") || strings.Contains(s, "user unknown") ||
		strings.Contains(s, "mailbox not found") {
		return SMTPDiag{Code: CodeInvalidRecipient}
	}

	// políticas/DMARC/SPF/rechazos 5.7.1
	if strings.Contains(s, "5.7.1") ||
		strings.Contains(s, "message rejected") ||
		strings.Contains(s, "policy") ||
		strings.Contains(s, "dmarc") || strings.Contains(s, "spf") {
		return SMTPDiag{Code: CodeRejected}
	}

	if isNetErr {
		return SMTPDiag{Code: CodeNetwork, Temporary: true}
	}
	return SMTPDiag{Code: CodeUnknown}
}

// AsSendError envuelve un error SMTP en *SendError según su diagnóstico.
func AsSendError(err error) *SendError {
	d := DiagnoseSMTP(err)
	return newSendError(d.Code, d.Temporary, err)
}
