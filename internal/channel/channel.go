// Package channel implements the per-channel delivery handlers and the
// registry the dispatch loop resolves them from.
package channel

import (
	"context"
	"sort"

	"go.uber.org/zap"

	"notification-engine/internal/domain"
)

// Handler transmits one notification via its provider client, interprets the
// provider response, and applies the resulting status transition before
// returning. The returned string is a human-readable outcome for logs and the
// delivery attempt audit. A non-nil error means infrastructure failed (e.g. a
// status write), not that delivery failed; delivery failures are absorbed
// into the retry policy.
type Handler interface {
	Send(ctx context.Context, n *domain.Notification) (string, error)
}

// Factory builds a handler at startup. Factories run once while the registry
// is assembled; a failing factory disables its channel without aborting the
// process.
type Factory func() (Handler, error)

// Registry is the immutable channel-key-to-handler mapping handed to the
// dispatch loop. It is fully populated at construction and never mutated.
type Registry struct {
	handlers map[string]Handler
}

func NewRegistry(handlers map[string]Handler) *Registry {
	copied := make(map[string]Handler, len(handlers))
	for key, h := range handlers {
		if h != nil {
			copied[key] = h
		}
	}
	return &Registry{handlers: copied}
}

// BuildRegistry assembles a registry from the configured channel list.
// Unknown channel names and factory failures are logged and skipped so one
// misconfigured integration cannot take down the others.
func BuildRegistry(enabled []string, factories map[string]Factory, logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}

	handlers := make(map[string]Handler, len(enabled))
	for _, key := range enabled {
		factory, ok := factories[key]
		if !ok {
			logger.Warn("no handler factory for configured channel, skipping",
				zap.String("channel", key),
			)
			continue
		}

		h, err := factory()
		if err != nil {
			logger.Warn("handler initialization failed, channel disabled",
				zap.String("channel", key),
				zap.Error(err),
			)
			continue
		}

		handlers[key] = h
		logger.Info("channel handler registered", zap.String("channel", key))
	}

	return NewRegistry(handlers)
}

// Resolve returns the handler registered under a channel key.
func (r *Registry) Resolve(key string) (Handler, bool) {
	if r == nil {
		return nil, false
	}
	h, ok := r.handlers[key]
	return h, ok
}

// Keys returns the registered channel keys in stable order.
func (r *Registry) Keys() []string {
	if r == nil {
		return nil
	}
	keys := make([]string, 0, len(r.handlers))
	for key := range r.handlers {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}
