// Package quota contiene los DTOs de cuota.
package quota

// QuotaResponse es la respuesta de GET /v1/quota.
type QuotaResponse struct {
	UserID     string `json:"user_id"`
	EmailQuota int64  `json:"email_quota"`
	EmailsSent int64  `json:"emails_sent"`
}

// GrantRequest es el body de POST /v1/admin/quota/{userID}/grant.
type GrantRequest struct {
	Amount int64 `json:"amount"`
}
