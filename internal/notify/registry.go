// internal/notify/registry.go
package notify

import (
	"fmt"
	"strings"
	"sync"
)

// Handler delivers a message to a guardian target identified by target key.
type Handler func(target, message string) error

// Registry routes outbound notifications to the appropriate delivery handler
// based on target key prefix (e.g. "telegram:", "sms:").
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]Handler
}

// NewRegistry creates an empty notification registry.
func NewRegistry() *Registry {
	return &Registry{
		handlers: make(map[string]Handler),
	}
}

// Register adds a handler for target keys starting with prefix.
func (r *Registry) Register(prefix string, handler Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[prefix] = handler
}

// Deliver finds the handler matching the target key prefix and calls it.
// Returns an error if no handler is registered for the prefix.
func (r *Registry) Deliver(target, message string) error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for prefix, handler := range r.handlers {
		if strings.HasPrefix(target, prefix) {
			return handler(target, message)
		}
	}
	return fmt.Errorf("no delivery handler for target: %s", target)
}
