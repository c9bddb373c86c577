package quota

import (
	"sync/atomic"
	"time"
)

type reservationState int32

const (
	statePending reservationState = iota
	stateCommitted
	stateReleased
	stateExpired
)

func (s reservationState) String() string {
	switch s {
	case statePending:
		return "pending"
	case stateCommitted:
		return "committed"
	case stateReleased:
		return "released"
	case stateExpired:
		return "expired"
	default:
		return "unknown"
	}
}

// Reservation representa una unidad de cuota ya decrementada que espera
// Commit o Release. Es de un solo uso.
type Reservation struct {
	id        string
	userID    string
	createdAt time.Time
	expiresAt time.Time
	state     atomic.Int32
}

func (r *Reservation) ID() string           { return r.id }
func (r *Reservation) UserID() string       { return r.userID }
func (r *Reservation) CreatedAt() time.Time { return r.createdAt }
func (r *Reservation) ExpiresAt() time.Time { return r.expiresAt }

// State devuelve el estado actual ("pending", "committed", "released", "expired").
func (r *Reservation) State() string {
	return reservationState(r.state.Load()).String()
}

// settle mueve la reserva de pending al estado final. false si ya estaba resuelta.
func (r *Reservation) settle(to reservationState) bool {
	return r.state.CompareAndSwap(int32(statePending), int32(to))
}

func (r *Reservation) current() reservationState {
	return reservationState(r.state.Load())
}
