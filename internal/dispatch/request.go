package dispatch

import (
	"errors"
	"fmt"
	"net/mail"
	"strings"
)

const (
	MaxSubjectLen = 998 // RFC 5322 line limit
	MaxBodyBytes  = 1 << 20
)

var ErrInvalidRequest = errors.New("dispatch: invalid request")

// SendRequest es el pedido de envío ya autenticado. UserID lo pone el
// llamador desde su contexto de autenticación.
type SendRequest struct {
	UserID  string `json:"-"`
	To      string `json:"to"`
	Subject string `json:"subject"`
	Body    string `json:"text"`
}

// Validate chequea el pedido antes de cualquier efecto. Los errores envuelven
// ErrInvalidRequest y su texto es apto para mostrar al usuario.
func Validate(req SendRequest) error {
	switch {
	case strings.TrimSpace(req.UserID) == "":
		return invalid("user id is required")
	case strings.TrimSpace(req.To) == "":
		return invalid("recipient (to) is required")
	case strings.TrimSpace(req.Subject) == "":
		return invalid("subject is required")
	case strings.TrimSpace(req.Body) == "":
		return invalid("body is required")
	}

	if strings.ContainsAny(req.To, "\r\n") || strings.ContainsAny(req.Subject, "\r\n") {
		return invalid("header fields must not contain line breaks")
	}
	// ParseAddress rechaza listas: un solo destinatario por envío
	addr, err := mail.ParseAddress(req.To)
	if err != nil || !strings.Contains(addr.Address, "@") {
		return invalid("recipient is not a single valid email address")
	}
	if len(req.Subject) > MaxSubjectLen {
		return invalid(fmt.Sprintf("subject exceeds %d characters", MaxSubjectLen))
	}
	if len(req.Body) > MaxBodyBytes {
		return invalid("body is too large")
	}
	return nil
}

func invalid(reason string) error {
	return fmt.Errorf("%w: %s", ErrInvalidRequest, reason)
}

// reasonOf quita el prefijo del sentinel para devolver sólo el motivo.
func reasonOf(err error) string {
	return strings.TrimPrefix(err.Error(), ErrInvalidRequest.Error()+": ")
}
