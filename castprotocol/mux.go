package castprotocol

import (
	"sync"

	"github.com/rs/zerolog"

	"go2tv.app/castkit/internal/metrics"
)

// Handler receives the envelopes dispatched to one namespace.
// HandleEnvelope runs on the session read loop and must not block.
type Handler interface {
	HandleEnvelope(env Envelope)
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(env Envelope)

// HandleEnvelope calls f(env).
func (f HandlerFunc) HandleEnvelope(env Envelope) { f(env) }

// Multiplexer routes inbound envelopes to the handler of their namespace.
type Multiplexer struct {
	mu       sync.RWMutex
	handlers map[string]Handler
	log      zerolog.Logger
}

// NewMultiplexer returns an empty multiplexer.
func NewMultiplexer(log zerolog.Logger) *Multiplexer {
	return &Multiplexer{
		handlers: make(map[string]Handler),
		log:      log,
	}
}

// Register binds h to namespace. A namespace has at most one handler.
func (m *Multiplexer) Register(namespace string, h Handler) error {
	if namespace == "" || h == nil {
		return invalidArgument("Register", "namespace and handler are required")
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.handlers[namespace]; ok {
		return invalidArgument("Register", "namespace %s already registered", namespace)
	}
	m.handlers[namespace] = h
	return nil
}

// Unregister removes the handler of namespace, if any.
func (m *Multiplexer) Unregister(namespace string) {
	m.mu.Lock()
	delete(m.handlers, namespace)
	m.mu.Unlock()
}

// Dispatch hands env to its namespace handler. Envelopes for namespaces
// nobody registered are logged and dropped.
func (m *Multiplexer) Dispatch(env Envelope) bool {
	m.mu.RLock()
	h, ok := m.handlers[env.Namespace]
	m.mu.RUnlock()

	if !ok {
		metrics.ObserveInbound(env.Namespace, metrics.InboundDropped)
		m.log.Debug().Str("Method", "Dispatch").Str("Namespace", env.Namespace).Str("Source", env.SourceID).Msg("no channel for namespace, dropping")
		return false
	}
	h.HandleEnvelope(env)
	return true
}

// Namespaces lists the registered namespaces.
func (m *Multiplexer) Namespaces() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]string, 0, len(m.handlers))
	for ns := range m.handlers {
		out = append(out, ns)
	}
	return out
}
