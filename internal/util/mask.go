// Package util contiene helpers para no filtrar datos personales ni secretos
// en logs y salidas de CLI.
package util

import (
	"net/url"
	"strings"
)

// MaskEmail deja la primera letra del usuario y del dominio:
// "jane.doe@example.com" -> "j…@e….com".
func MaskEmail(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	i := strings.IndexByte(s, '@')
	if i <= 0 {
		if s == "" {
			return ""
		}
		if len(s) <= 3 {
			return "***"
		}
		return s[:1] + "…" + s[len(s)-1:]
	}
	user, dom := s[:i], s[i+1:]
	if len(user) > 1 {
		user = user[:1] + "…"
	}
	dparts := strings.Split(dom, ".")
	if len(dparts) > 0 && len(dparts[0]) > 1 {
		dparts[0] = dparts[0][:1] + "…"
	}
	return user + "@" + strings.Join(dparts, ".")
}

// MaskDSN oculta la contraseña de un DSN URL (postgres://u:p@h/db).
// DSNs que no son URL (mysql "u:p@tcp(h)/db") se cortan en '@'.
func MaskDSN(dsn string) string {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return ""
	}
	if u, err := url.Parse(dsn); err == nil && u.Scheme != "" && u.User != nil {
		if _, has := u.User.Password(); has {
			u.User = url.UserPassword(u.User.Username(), "***")
		}
		return u.String()
	}
	if i := strings.LastIndexByte(dsn, '@'); i > 0 {
		user := dsn[:i]
		if j := strings.IndexByte(user, ':'); j >= 0 {
			user = user[:j] + ":***"
		}
		return user + dsn[i:]
	}
	return dsn
}
