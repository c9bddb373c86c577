package credentials

import (
	"errors"
	"fmt"
)

// Motivos de CredentialError.
const (
	ReasonNotLinked           = "credential_not_linked"
	ReasonMissingRefreshToken = "missing_refresh_token"
	ReasonRefreshRejected     = "refresh_rejected"
	ReasonRefreshFailed       = "refresh_failed"
	ReasonStoreUnavailable    = "credential_store_unavailable"
)

var (
	// ErrCredentialPersist: el IdP emitió un token nuevo pero no pudo guardarse.
	// El token en mano sigue siendo válido para el request en curso.
	ErrCredentialPersist = errors.New("credentials: refreshed token could not be persisted")

	ErrInvalidCredential = errors.New("credentials: invalid credential")
)

// CredentialError indica que no hay credencial utilizable para el usuario.
type CredentialError struct {
	Reason string
	Err    error
}

func (e *CredentialError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("credentials: %s: %v", e.Reason, e.Err)
	}
	return "credentials: " + e.Reason
}

func (e *CredentialError) Unwrap() error { return e.Err }

// IsCredentialError reporta si err (o alguno envuelto) es *CredentialError.
func IsCredentialError(err error) bool {
	var ce *CredentialError
	return errors.As(err, &ce)
}
