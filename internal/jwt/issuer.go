// Package jwt emite y valida los bearer tokens de la API (HS256).
//
// El sign-in contra el IdP vive fuera de este servicio; la capa que lo hace
// comparte el secreto y emite tokens con sub = userID.
package jwt

import (
	"errors"
	"strings"
	"time"

	jwtv5 "github.com/golang-jwt/jwt/v5"
)

var (
	ErrInvalidToken  = errors.New("jwt: invalid token")
	ErrMissingSecret = errors.New("jwt: signing secret is required")
	ErrMissingSub    = errors.New("jwt: sub claim is required")
)

// DefaultAccessTTL es el TTL de tokens emitidos sin TTL explícito.
const DefaultAccessTTL = 15 * time.Minute

// Issuer firma y valida tokens con un secreto compartido.
type Issuer struct {
	Iss       string // "iss"; vacío desactiva el chequeo
	Aud       string // "aud"; vacío desactiva el chequeo
	AccessTTL time.Duration

	secret []byte
	now    func() time.Time
}

func NewIssuer(secret, iss, aud string) (*Issuer, error) {
	if strings.TrimSpace(secret) == "" {
		return nil, ErrMissingSecret
	}
	return &Issuer{
		Iss:       iss,
		Aud:       aud,
		AccessTTL: DefaultAccessTTL,
		secret:    []byte(secret),
		now:       time.Now,
	}, nil
}

// IssueAccess emite un access token para sub. ttl <= 0 usa AccessTTL.
func (i *Issuer) IssueAccess(sub string, ttl time.Duration) (string, time.Time, error) {
	if strings.TrimSpace(sub) == "" {
		return "", time.Time{}, ErrMissingSub
	}
	if ttl <= 0 {
		ttl = i.AccessTTL
	}
	now := i.now().UTC()
	exp := now.Add(ttl)

	claims := jwtv5.RegisteredClaims{
		Subject:   sub,
		Issuer:    i.Iss,
		IssuedAt:  jwtv5.NewNumericDate(now),
		NotBefore: jwtv5.NewNumericDate(now),
		ExpiresAt: jwtv5.NewNumericDate(exp),
	}
	if i.Aud != "" {
		claims.Audience = jwtv5.ClaimStrings{i.Aud}
	}
	tk := jwtv5.NewWithClaims(jwtv5.SigningMethodHS256, claims)
	tk.Header["typ"] = "JWT"

	signed, err := tk.SignedString(i.secret)
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, exp, nil
}
