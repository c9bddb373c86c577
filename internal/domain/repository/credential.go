package repository

import (
	"context"
	"time"
)

// Credential es el par de tokens delegados que autoriza enviar mail en nombre
// del usuario. RefreshToken, una vez seteado, nunca se pisa con "".
type Credential struct {
	UserID            string
	Email             string // identidad "From" de la cuenta delegada
	AccessToken       string
	RefreshToken      string
	AccessTokenExpiry *time.Time
	UpdatedAt         time.Time
}

// HasRefreshToken indica si la credencial puede refrescarse contra el IdP.
func (c Credential) HasRefreshToken() bool { return c.RefreshToken != "" }

// CredentialRepository persiste credenciales por userID.
type CredentialRepository interface {
	// Get retorna la credencial del usuario o ErrNotFound.
	Get(ctx context.Context, userID string) (*Credential, error)

	// Upsert crea o reemplaza la credencial. Si cred.RefreshToken es "" se
	// conserva el refresh token almacenado.
	Upsert(ctx context.Context, cred Credential) error

	// UpdateTokens reemplaza el access token (y su expiración). refreshToken
	// vacío significa "sin rotación": se conserva el almacenado.
	// Retorna ErrNotFound si no hay credencial para el usuario.
	UpdateTokens(ctx context.Context, userID, accessToken string, expiry *time.Time, refreshToken string) error
}
