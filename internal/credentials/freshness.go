package credentials

import (
	"strings"
	"time"

	"github.com/dropDatabas3/quotamail/internal/domain/repository"
)

const DefaultRefreshLeadWindow = 2 * time.Minute

// TokenState describe el ciclo de vida del access token en un instante dado.
type TokenState struct {
	HasAccessToken  bool
	HasRefreshToken bool
	ExpiresAt       *time.Time
	Expired         bool
	ExpiringSoon    bool
}

// StateOf evalúa la credencial en now. lead es la ventana en la que un token
// todavía válido se considera "por vencer".
func StateOf(now time.Time, cred repository.Credential, lead time.Duration) TokenState {
	if lead <= 0 {
		lead = DefaultRefreshLeadWindow
	}
	now = now.UTC()
	st := TokenState{
		HasAccessToken:  strings.TrimSpace(cred.AccessToken) != "",
		HasRefreshToken: strings.TrimSpace(cred.RefreshToken) != "",
	}
	if cred.AccessTokenExpiry == nil {
		return st
	}
	exp := cred.AccessTokenExpiry.UTC()
	st.ExpiresAt = &exp
	if !exp.After(now) {
		st.Expired = true
		return st
	}
	st.ExpiringSoon = !exp.After(now.Add(lead))
	return st
}

// Usable indica si el access token puede usarse tal cual.
// Sin expiración conocida se asume válido hasta que el gateway lo rechace.
func (s TokenState) Usable() bool {
	return s.HasAccessToken && !s.Expired && !s.ExpiringSoon
}
