// Package errors define el formato de error JSON de la API y el mapeo de los
// resultados de dispatch a status HTTP.
package errors

import (
	"encoding/json"
	"net/http"

	"github.com/dropDatabas3/quotamail/internal/dispatch"
)

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Detail  string `json:"detail,omitempty"`
}

// WriteError escribe err como JSON. Errores que no son *AppError salen como 500.
func WriteError(w http.ResponseWriter, err error) {
	appErr := FromError(err)

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(appErr.HTTPStatus)
	_ = json.NewEncoder(w).Encode(errorResponse{
		Code:    appErr.Code,
		Message: appErr.Message,
		Detail:  appErr.Detail,
	})
}

// StatusForOutcome devuelve el status HTTP de un resultado de envío.
//
// ledger_commit_failed responde 200: el mail salió y reintentar duplicaría
// el envío.
func StatusForOutcome(o dispatch.Outcome) int {
	if o.Failure == nil || o.Delivered {
		return http.StatusOK
	}
	switch o.Failure.Kind {
	case dispatch.InvalidRequest:
		return http.StatusBadRequest
	case dispatch.CredentialError:
		return http.StatusFailedDependency
	case dispatch.QuotaExceeded:
		return http.StatusForbidden
	case dispatch.SendFailed:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
