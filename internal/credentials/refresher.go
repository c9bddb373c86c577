package credentials

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/endpoints"

	"github.com/dropDatabas3/quotamail/internal/domain/repository"
)

// RefreshedCredential es el resultado de un refresh exitoso.
// RefreshToken queda vacío si el IdP no rotó el refresh token.
type RefreshedCredential struct {
	AccessToken  string
	Expiry       *time.Time
	RefreshToken string
}

// Refresher intercambia un refresh token por un access token nuevo.
// Los errores de refresh son *CredentialError.
type Refresher interface {
	Refresh(ctx context.Context, cred repository.Credential) (RefreshedCredential, error)
}

// OAuth2Config parámetros del cliente OAuth2 registrado en el IdP.
type OAuth2Config struct {
	ClientID     string
	ClientSecret string
	TokenURL     string        // default: token endpoint de Google
	Timeout      time.Duration // default 10s
}

// OAuth2Refresher implementa Refresher con el grant refresh_token.
type OAuth2Refresher struct {
	cfg    *oauth2.Config
	client *http.Client
}

// NewOAuth2Refresher crea un Refresher contra el token endpoint configurado.
func NewOAuth2Refresher(cfg OAuth2Config) *OAuth2Refresher {
	endpoint := endpoints.Google
	if strings.TrimSpace(cfg.TokenURL) != "" {
		endpoint = oauth2.Endpoint{TokenURL: cfg.TokenURL, AuthStyle: oauth2.AuthStyleInParams}
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &OAuth2Refresher{
		cfg: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			Endpoint:     endpoint,
		},
		client: &http.Client{Timeout: timeout},
	}
}

func (r *OAuth2Refresher) Refresh(ctx context.Context, cred repository.Credential) (RefreshedCredential, error) {
	if !cred.HasRefreshToken() {
		return RefreshedCredential{}, &CredentialError{Reason: ReasonMissingRefreshToken}
	}

	ctx = context.WithValue(ctx, oauth2.HTTPClient, r.client)
	tok, err := r.cfg.TokenSource(ctx, &oauth2.Token{RefreshToken: cred.RefreshToken}).Token()
	if err != nil {
		return RefreshedCredential{}, classifyRefreshError(err)
	}
	if tok.AccessToken == "" {
		return RefreshedCredential{}, &CredentialError{Reason: ReasonRefreshFailed, Err: errors.New("empty access_token in response")}
	}

	out := RefreshedCredential{AccessToken: tok.AccessToken}
	if !tok.Expiry.IsZero() {
		exp := tok.Expiry.UTC()
		out.Expiry = &exp
	}
	// el token source reinyecta el refresh token viejo cuando el IdP no rota
	if tok.RefreshToken != "" && tok.RefreshToken != cred.RefreshToken {
		out.RefreshToken = tok.RefreshToken
	}
	return out, nil
}

func classifyRefreshError(err error) error {
	var re *oauth2.RetrieveError
	if errors.As(err, &re) {
		switch re.ErrorCode {
		case "invalid_grant", "unauthorized_client", "invalid_client":
			return &CredentialError{Reason: ReasonRefreshRejected, Err: err}
		}
		if re.Response != nil && (re.Response.StatusCode == http.StatusBadRequest || re.Response.StatusCode == http.StatusUnauthorized) {
			return &CredentialError{Reason: ReasonRefreshRejected, Err: err}
		}
	}
	return &CredentialError{Reason: ReasonRefreshFailed, Err: err}
}
