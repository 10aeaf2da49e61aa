package memory

import (
	"context"
	"sync"
)

// PinRegistry reserves join codes in process.
type PinRegistry struct {
	mu   sync.Mutex
	pins map[string]string // pin -> session id
}

func NewPinRegistry() *PinRegistry {
	return &PinRegistry{pins: make(map[string]string)}
}

func (r *PinRegistry) Reserve(_ context.Context, pin, sessionID string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, taken := r.pins[pin]; taken {
		return false, nil
	}
	r.pins[pin] = sessionID
	return true, nil
}

func (r *PinRegistry) Release(_ context.Context, pin string) error {
	r.mu.Lock()
	delete(r.pins, pin)
	r.mu.Unlock()
	return nil
}
