// Package store provee el registry de adaptadores de almacenamiento para
// credenciales y cuota.
package store

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/dropDatabas3/quotamail/internal/domain/repository"
	"github.com/dropDatabas3/quotamail/internal/security/secretbox"
)

// Adapter representa un backend capaz de abrir conexiones.
type Adapter interface {
	// Name retorna el nombre del driver ("memory", "postgres", "mysql", "sqlite").
	Name() string

	// Connect establece conexión con el almacenamiento.
	Connect(ctx context.Context, cfg AdapterConfig) (AdapterConnection, error)
}

// AdapterConnection es una conexión activa que expone los repositorios.
type AdapterConnection interface {
	Name() string
	Ping(ctx context.Context) error
	Close() error

	Credentials() repository.CredentialRepository
	Quotas() repository.QuotaRepository
}

// MigratableConnection la implementan las conexiones SQL.
type MigratableConnection interface {
	Migrate(ctx context.Context) error
}

// AdapterConfig configuración para conectar.
type AdapterConfig struct {
	// DSN connection string (vacío para memory).
	DSN string

	// Pool settings (DBs).
	MaxOpenConns int
	MaxIdleConns int

	// SecretBox cifra los tokens en reposo. nil => texto plano.
	SecretBox *secretbox.Box
}

var (
	registryMu sync.RWMutex
	adapters   = make(map[string]Adapter)
)

// RegisterAdapter registra un adapter. Llamar en init() de cada adapter.
func RegisterAdapter(a Adapter) {
	registryMu.Lock()
	defer registryMu.Unlock()

	name := a.Name()
	if _, exists := adapters[name]; exists {
		panic(fmt.Sprintf("store: adapter %q already registered", name))
	}
	adapters[name] = a
}

// GetAdapter obtiene un adapter por nombre.
func GetAdapter(name string) (Adapter, bool) {
	registryMu.RLock()
	defer registryMu.RUnlock()
	a, ok := adapters[name]
	return a, ok
}

// ListAdapters retorna los nombres registrados, ordenados.
func ListAdapters() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()

	names := make([]string, 0, len(adapters))
	for name := range adapters {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Open busca el adapter por nombre y conecta.
func Open(ctx context.Context, driver string, cfg AdapterConfig) (AdapterConnection, error) {
	a, ok := GetAdapter(driver)
	if !ok {
		return nil, fmt.Errorf("store: unknown driver %q (registered: %v)", driver, ListAdapters())
	}
	conn, err := a.Connect(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("store: connect %s: %w", driver, err)
	}
	return conn, nil
}
