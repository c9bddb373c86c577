package email

import (
	"errors"
	"net/smtp"
)

// xoauth2Auth implementa SASL XOAUTH2 (Gmail / Outlook) sobre net/smtp.
type xoauth2Auth struct {
	username string
	token    string
}

// XOAuth2 devuelve un smtp.Auth que se autentica con un access token OAuth2.
func XOAuth2(username, accessToken string) smtp.Auth {
	return &xoauth2Auth{username: username, token: accessToken}
}

func (a *xoauth2Auth) Start(server *smtp.ServerInfo) (string, []byte, error) {
	if !server.TLS && !isLocalhost(server.Name) {
		return "", nil, errors.New("xoauth2: refusing to send token over unencrypted connection")
	}
	return "XOAUTH2", []byte("user=" + a.username + "\x01auth=Bearer " + a.token + "\x01\x01"), nil
}

// Next: ante un challenge el servidor manda un JSON con el error; se responde
// vacío para que cierre con el código 535 definitivo.
func (a *xoauth2Auth) Next(fromServer []byte, more bool) ([]byte, error) {
	if more {
		return []byte{}, nil
	}
	return nil, nil
}

func isLocalhost(name string) bool {
	return name == "localhost" || name == "127.0.0.1" || name == "::1"
}
