// Package mail contiene los DTOs de envío.
package mail

// SendRequest es el body de POST /v1/mail/send.
type SendRequest struct {
	To      string `json:"to"`
	Subject string `json:"subject"`
	Text    string `json:"text"`
}

// SendError describe por qué no se entregó el mail.
type SendError struct {
	Kind   string `json:"kind"`
	Reason string `json:"reason"`
}

// SendResponse es la respuesta de POST /v1/mail/send.
type SendResponse struct {
	Success           bool       `json:"success"`
	Message           string     `json:"message,omitempty"`
	ProviderMessageID string     `json:"provider_message_id,omitempty"`
	AccountingPending bool       `json:"accounting_pending,omitempty"`
	Error             *SendError `json:"error,omitempty"`
}
