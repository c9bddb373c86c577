package dispatch

// FailureKind es la salida de error de la máquina de estados.
type FailureKind string

const (
	InvalidRequest     FailureKind = "invalid_request"
	CredentialError    FailureKind = "credential_error"
	QuotaExceeded      FailureKind = "quota_exceeded"
	SendFailed         FailureKind = "send_failed"
	LedgerCommitFailed FailureKind = "ledger_commit_failed"
)

const (
	MessageSent          = "Email sent successfully"
	MessageQuotaExceeded = "Email quota exceeded. Please upgrade your plan."
)

// Failure describe por qué un envío no terminó en Committed.
type Failure struct {
	Kind   FailureKind `json:"kind"`
	Reason string      `json:"reason"`
	Err    error       `json:"-"`
}

func (f *Failure) Error() string { return string(f.Kind) + ": " + f.Reason }

func (f *Failure) Unwrap() error { return f.Err }

// Outcome es el resultado tagueado de SendEmail. Nunca es un error crudo.
//
// Delivered=true con Failure.Kind == LedgerCommitFailed significa que el mail
// salió pero la contabilidad no se registró (requiere reconciliación).
type Outcome struct {
	Delivered         bool     `json:"delivered"`
	ProviderMessageID string   `json:"provider_message_id,omitempty"`
	Message           string   `json:"message,omitempty"`
	Failure           *Failure `json:"failure,omitempty"`
}

// Success es true si el mail fue entregado al proveedor.
func (o Outcome) Success() bool { return o.Delivered }

// NeedsReconcile es true si la entrega no quedó contabilizada.
func (o Outcome) NeedsReconcile() bool {
	return o.Delivered && o.Failure != nil && o.Failure.Kind == LedgerCommitFailed
}

// Result es la etiqueta usada en métricas y logs.
func (o Outcome) Result() string {
	if o.Failure != nil {
		return string(o.Failure.Kind)
	}
	return "sent"
}

func failed(kind FailureKind, reason string, err error) Outcome {
	return Outcome{Failure: &Failure{Kind: kind, Reason: reason, Err: err}}
}
