// Package quota contiene los controllers de consulta y administración de cuota.
package quota

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/dropDatabas3/quotamail/internal/domain/repository"
	dto "github.com/dropDatabas3/quotamail/internal/http/dto/quota"
	httperrors "github.com/dropDatabas3/quotamail/internal/http/errors"
	"github.com/dropDatabas3/quotamail/internal/http/helpers"
	mw "github.com/dropDatabas3/quotamail/internal/http/middlewares"
	"github.com/dropDatabas3/quotamail/internal/observability/logger"
	"github.com/dropDatabas3/quotamail/internal/quota"
)

// Ledger es lo que el controller necesita de quota.Ledger.
type Ledger interface {
	Snapshot(ctx context.Context, userID string) (repository.QuotaSnapshot, error)
	Grant(ctx context.Context, userID string, n int64) error
}

// QuotaController maneja GET /v1/quota y el grant administrativo.
type QuotaController struct {
	ledger Ledger
}

func NewQuotaController(l Ledger) *QuotaController {
	return &QuotaController{ledger: l}
}

// Get devuelve cuota restante y envíos del usuario autenticado.
func (c *QuotaController) Get(w http.ResponseWriter, r *http.Request) {
	userID := mw.GetUserID(r.Context())
	if userID == "" {
		httperrors.WriteError(w, httperrors.ErrTokenMissing)
		return
	}
	c.writeSnapshot(w, r, userID)
}

// Grant suma cuota a {userID}. Solo con service token.
func (c *QuotaController) Grant(w http.ResponseWriter, r *http.Request) {
	userID := strings.TrimSpace(chi.URLParam(r, "userID"))
	if userID == "" {
		httperrors.WriteError(w, httperrors.ErrBadRequest.WithDetail("user id is required"))
		return
	}
	var req dto.GrantRequest
	if !helpers.ReadJSON(w, r, &req) {
		return
	}
	if err := c.ledger.Grant(r.Context(), userID, req.Amount); err != nil {
		if errors.Is(err, quota.ErrInvalidAmount) || errors.Is(err, quota.ErrInvalidUser) {
			httperrors.WriteError(w, httperrors.ErrBadRequest.WithDetail(err.Error()))
			return
		}
		logger.From(r.Context()).Error("quota grant failed", logger.UserID(userID), logger.Err(err))
		httperrors.WriteError(w, httperrors.ErrServiceUnavailable.WithCause(err))
		return
	}
	logger.From(r.Context()).Info("quota granted", logger.UserID(userID), logger.Int64("amount", req.Amount))
	c.writeSnapshot(w, r, userID)
}

func (c *QuotaController) writeSnapshot(w http.ResponseWriter, r *http.Request, userID string) {
	snap, err := c.ledger.Snapshot(r.Context(), userID)
	if err != nil {
		logger.From(r.Context()).Error("quota snapshot failed", logger.UserID(userID), logger.Err(err))
		httperrors.WriteError(w, httperrors.ErrServiceUnavailable.WithCause(err))
		return
	}
	helpers.WriteJSON(w, http.StatusOK, dto.QuotaResponse{
		UserID:     userID,
		EmailQuota: snap.EmailQuota,
		EmailsSent: snap.EmailsSent,
	})
}
