// Package credentials contiene el controller de alta de credenciales delegadas.
package credentials

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/dropDatabas3/quotamail/internal/credentials"
	"github.com/dropDatabas3/quotamail/internal/domain/repository"
	dto "github.com/dropDatabas3/quotamail/internal/http/dto/credentials"
	httperrors "github.com/dropDatabas3/quotamail/internal/http/errors"
	"github.com/dropDatabas3/quotamail/internal/http/helpers"
	"github.com/dropDatabas3/quotamail/internal/observability/logger"
)

// Linker es lo que el controller necesita de credentials.Manager.
type Linker interface {
	Link(ctx context.Context, cred repository.Credential) error
}

// LinkController maneja POST /v1/credentials.
type LinkController struct {
	linker Linker
	now    func() time.Time
}

func NewLinkController(l Linker) *LinkController {
	return &LinkController{linker: l, now: time.Now}
}

// Link guarda los tokens que el IdP entregó en el sign-in.
func (c *LinkController) Link(w http.ResponseWriter, r *http.Request) {
	var req dto.LinkRequest
	if !helpers.ReadJSON(w, r, &req) {
		return
	}

	expiry := req.ExpiresAt
	if expiry == nil && req.ExpiresIn > 0 {
		t := c.now().Add(time.Duration(req.ExpiresIn) * time.Second).UTC()
		expiry = &t
	}

	err := c.linker.Link(r.Context(), repository.Credential{
		UserID:            req.UserID,
		Email:             req.Email,
		AccessToken:       req.AccessToken,
		RefreshToken:      req.RefreshToken,
		AccessTokenExpiry: expiry,
	})
	switch {
	case errors.Is(err, credentials.ErrInvalidCredential):
		httperrors.WriteError(w, httperrors.ErrBadRequest.WithDetail(err.Error()))
		return
	case err != nil:
		logger.From(r.Context()).Error("credential link failed", logger.UserID(req.UserID), logger.Err(err))
		httperrors.WriteError(w, httperrors.ErrServiceUnavailable.WithCause(err))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
