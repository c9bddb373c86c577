package repository

import "context"

// QuotaRecord es el saldo de envíos restante. Nunca negativo.
type QuotaRecord struct {
	UserID     string
	EmailQuota int64
}

// UsageRecord es el contador acumulado de envíos. Monótono no decreciente.
type UsageRecord struct {
	UserID     string
	EmailsSent int64
}

// QuotaSnapshot combina cuota y uso para lectura.
type QuotaSnapshot struct {
	UserID     string
	EmailQuota int64
	EmailsSent int64
}

// QuotaRepository persiste cuota y uso por userID.
//
// DecrementIfPositive DEBE ser atómico respecto de llamadas concurrentes para
// el mismo usuario: con email_quota == 1, dos llamadas concurrentes producen
// exactamente un ok=true.
type QuotaRepository interface {
	// DecrementIfPositive decrementa email_quota en 1 si es > 0.
	// ok=false (sin mutación) si la cuota es 0 o el usuario no tiene registro.
	DecrementIfPositive(ctx context.Context, userID string) (ok bool, err error)

	// AddQuota suma n unidades (n > 0) a email_quota, creando el registro si falta.
	AddQuota(ctx context.Context, userID string, n int64) error

	// IncrementUsage suma 1 a emails_sent, creando el registro si falta.
	IncrementUsage(ctx context.Context, userID string) error

	// Snapshot lee cuota y uso. Usuarios sin registros devuelven ceros.
	Snapshot(ctx context.Context, userID string) (QuotaSnapshot, error)
}
