package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Métricas del core de envío. Definidas en un paquete propio para que quota,
// credentials y dispatch las usen sin ciclos de imports.

var (
	DispatchTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "quotamail_dispatch_total",
		Help: "Envíos procesados por resultado (sent|invalid_request|credential_error|quota_exceeded|send_failed|ledger_commit_failed)",
	}, []string{"result"})

	DispatchDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "quotamail_dispatch_duration_seconds",
		Help:    "Latencia de SendEmail de punta a punta",
		Buckets: prometheus.DefBuckets,
	}, []string{"result"})

	CredentialRefreshTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "quotamail_credential_refresh_total",
		Help: "Refresh de credenciales delegadas por resultado (ok|error|persist_error)",
	}, []string{"result"})

	ReservationsExpired = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "quotamail_reservations_expired_total",
		Help: "Reservas de cuota liberadas automáticamente por TTL",
	})

	LedgerReconcileTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "quotamail_ledger_reconcile_total",
		Help: "Envíos entregados cuya contabilidad no pudo registrarse",
	})

	HTTPRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Número total de requests procesadas",
	}, []string{"method", "route", "status"})

	HTTPRequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "Latencia de los requests HTTP",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "route"})
)

// ObserveDispatch registra el resultado y la duración de un envío.
func ObserveDispatch(result string, d time.Duration) {
	DispatchTotal.WithLabelValues(result).Inc()
	DispatchDuration.WithLabelValues(result).Observe(d.Seconds())
}

// Register registra todas las métricas en reg (o el default si es nil).
// Registrar dos veces no es error.
func Register(reg prometheus.Registerer) error {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	collectors := []prometheus.Collector{
		DispatchTotal,
		DispatchDuration,
		CredentialRefreshTotal,
		ReservationsExpired,
		LedgerReconcileTotal,
		HTTPRequestsTotal,
		HTTPRequestDuration,
	}
	for _, c := range collectors {
		if err := reg.Register(c); err != nil {
			if _, ok := err.(prometheus.AlreadyRegisteredError); !ok {
				return err
			}
		}
	}
	return nil
}
