// Package health contiene los DTOs de health check.
package health

// HealthResponse es la respuesta de /readyz.
type HealthResponse struct {
	Status     string            `json:"status"` // ready | unavailable
	Version    string            `json:"version,omitempty"`
	Components map[string]string `json:"components,omitempty"`
}
