// Package credentials contiene los DTOs del alta de credenciales delegadas.
package credentials

import "time"

// LinkRequest es el body de POST /v1/credentials, enviado por la capa de
// sign-in al terminar el callback del IdP.
type LinkRequest struct {
	UserID       string     `json:"user_id"`
	Email        string     `json:"email"`
	AccessToken  string     `json:"access_token"`
	RefreshToken string     `json:"refresh_token,omitempty"`
	ExpiresAt    *time.Time `json:"expires_at,omitempty"`
	// ExpiresIn en segundos; alternativa a ExpiresAt.
	ExpiresIn int64 `json:"expires_in,omitempty"`
}
