package logger

import (
	"time"

	"go.uber.org/zap"

	"github.com/dropDatabas3/quotamail/internal/util"
)

// ─── HTTP ───

func RequestID(v string) zap.Field { return zap.String("request_id", v) }

func Method(v string) zap.Field { return zap.String("method", v) }

func Path(v string) zap.Field { return zap.String("path", v) }

func Status(v int) zap.Field { return zap.Int("status", v) }

func Duration(v time.Duration) zap.Field { return zap.Duration("duration", v) }

func ClientIP(v string) zap.Field { return zap.String("client_ip", v) }

func Bytes(v int) zap.Field { return zap.Int("bytes", v) }

func DurationMs(v int64) zap.Field { return zap.Int64("duration_ms", v) }

func Route(v string) zap.Field { return zap.String("route", v) }

// ─── Dispatch ───

// UserID identifica al usuario dueño de la credencial/cuota.
func UserID(v string) zap.Field { return zap.String("user_id", v) }

// ReservationID identifica una reserva de cuota.
func ReservationID(v string) zap.Field { return zap.String("reservation_id", v) }

// MessageID es el id devuelto por el gateway de mail.
func MessageID(v string) zap.Field { return zap.String("message_id", v) }

// Recipient loguea el destinatario enmascarado.
func Recipient(v string) zap.Field { return zap.String("to", util.MaskEmail(v)) }

// Outcome es el resultado tagueado de un envío (sent, quota_exceeded, ...).
func Outcome(v string) zap.Field { return zap.String("outcome", v) }

// Reconcile marca entradas que requieren corrección manual de la contabilidad.
func Reconcile() zap.Field { return zap.Bool("reconcile", true) }

// ─── Sistema ───

func Component(v string) zap.Field { return zap.String("component", v) }

func Op(v string) zap.Field { return zap.String("op", v) }

func Err(err error) zap.Field { return zap.Error(err) }

func Count(v int) zap.Field { return zap.Int("count", v) }

func String(key, v string) zap.Field { return zap.String(key, v) }

func Int64(key string, v int64) zap.Field { return zap.Int64(key, v) }

func Bool(key string, v bool) zap.Field { return zap.Bool(key, v) }

func Any(key string, v any) zap.Field { return zap.Any(key, v) }
