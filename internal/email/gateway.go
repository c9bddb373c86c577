package email

import (
	"context"
	"errors"
	"fmt"
)

// Message es el mail a enviar. From es la identidad de la cuenta delegada.
type Message struct {
	From    string
	To      string
	Subject string
	Body    string // text/plain
}

// Receipt es la confirmación del proveedor.
type Receipt struct {
	MessageID string
}

// Gateway envía mail en nombre del usuario con su access token.
type Gateway interface {
	Send(ctx context.Context, msg Message, accessToken string) (Receipt, error)
}

// Códigos de SendError.
const (
	CodeAuth             = "auth"
	CodeTLS              = "tls"
	CodeDial             = "dial"
	CodeTimeout          = "timeout"
	CodeRateLimited      = "rate_limited"
	CodeInvalidRecipient = "invalid_recipient"
	CodeRejected         = "rejected"
	CodeNetwork          = "network"
	CodeUnknown          = "unknown"
)

// SendError describe un envío fallido.
type SendError struct {
	Code      string
	AuthError bool
	Temporary bool
	Err       error
}

func (e *SendError) Error() string {
	if e.Err == nil {
		return "email: send failed (" + e.Code + ")"
	}
	return fmt.Sprintf("email: send failed (%s): %v", e.Code, e.Err)
}

func (e *SendError) Unwrap() error { return e.Err }

// IsAuthError reporta si err es un rechazo del token por parte del proveedor.
func IsAuthError(err error) bool {
	var se *SendError
	return errors.As(err, &se) && se.AuthError
}

func newSendError(code string, temporary bool, err error) *SendError {
	return &SendError{Code: code, AuthError: code == CodeAuth, Temporary: temporary, Err: err}
}
