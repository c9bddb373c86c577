// Package repository define los registros persistidos del core de envío y
// los contratos de almacenamiento que los adapters implementan.
//
//	┌─────────────────────────────────────────────────────┐
//	│   dispatch.Orchestrator / credentials / quota       │
//	└─────────────────────────────────────────────────────┘
//	                        │
//	                        ▼
//	┌─────────────────────────────────────────────────────┐
//	│        domain/repository (interfaces)               │
//	│   CredentialRepository, QuotaRepository             │
//	└─────────────────────────────────────────────────────┘
//	                        │
//	     ┌───────────┬──────┴─────┬────────────┐
//	     ▼           ▼            ▼            ▼
//	  memory      postgres      mysql        sqlite      (+ redis, solo cuota)
//
// Convenciones:
//   - Context siempre es el primer parámetro.
//   - userID es la única clave de ambos registros.
//   - Errores de dominio en errors.go.
package repository
