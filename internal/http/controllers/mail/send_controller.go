// Package mail contiene el controller de envío de mails.
package mail

import (
	"context"
	"net/http"

	"github.com/dropDatabas3/quotamail/internal/dispatch"
	dto "github.com/dropDatabas3/quotamail/internal/http/dto/mail"
	httperrors "github.com/dropDatabas3/quotamail/internal/http/errors"
	"github.com/dropDatabas3/quotamail/internal/http/helpers"
	mw "github.com/dropDatabas3/quotamail/internal/http/middlewares"
)

// Dispatcher es lo que el controller necesita de dispatch.Orchestrator.
type Dispatcher interface {
	Dispatch(ctx context.Context, req dispatch.SendRequest) dispatch.Outcome
}

// SendController maneja POST /v1/mail/send.
type SendController struct {
	dispatcher Dispatcher
}

func NewSendController(d Dispatcher) *SendController {
	return &SendController{dispatcher: d}
}

// Send envía un mail en nombre del usuario autenticado.
func (c *SendController) Send(w http.ResponseWriter, r *http.Request) {
	userID := mw.GetUserID(r.Context())
	if userID == "" {
		httperrors.WriteError(w, httperrors.ErrTokenMissing)
		return
	}

	var req dto.SendRequest
	if !helpers.ReadJSON(w, r, &req) {
		return
	}

	out := c.dispatcher.Dispatch(r.Context(), dispatch.SendRequest{
		UserID:  userID,
		To:      req.To,
		Subject: req.Subject,
		Body:    req.Text,
	})
	helpers.WriteJSON(w, httperrors.StatusForOutcome(out), toResponse(out))
}

func toResponse(o dispatch.Outcome) dto.SendResponse {
	resp := dto.SendResponse{
		Success:           o.Delivered,
		Message:           o.Message,
		ProviderMessageID: o.ProviderMessageID,
		AccountingPending: o.NeedsReconcile(),
	}
	if o.Failure != nil && !o.Delivered {
		resp.Error = &dto.SendError{Kind: string(o.Failure.Kind), Reason: o.Failure.Reason}
		if resp.Message == "" {
			resp.Message = o.Failure.Reason
		}
	}
	return resp
}
