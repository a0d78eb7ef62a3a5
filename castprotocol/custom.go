package castprotocol

import (
	"context"
	"strings"
	"sync"
)

// CustomChannel passes envelopes of an application-defined namespace
// through unchanged.
type CustomChannel struct {
	namespace string
	session   *Session
	msgs      chan Envelope

	// mu orders queueing against closing msgs.
	mu     sync.Mutex
	closed bool
}

// Custom registers a channel for namespace. Reserved namespaces and
// namespaces already registered are rejected.
func (s *Session) Custom(namespace string) (*CustomChannel, error) {
	if !strings.HasPrefix(namespace, "urn:x-cast:") {
		return nil, invalidArgument("Custom", "namespace %q must start with urn:x-cast:", namespace)
	}
	if s.closing.Load() {
		return nil, s.closedError("Custom")
	}

	c := &CustomChannel{
		namespace: namespace,
		session:   s,
		msgs:      make(chan Envelope, defaultCustomBuffer),
	}

	// Held across Register so closeCustom cannot miss the channel.
	s.customMu.Lock()
	defer s.customMu.Unlock()
	if s.custom == nil {
		return nil, s.closedError("Custom")
	}
	if err := s.mux.Register(namespace, c); err != nil {
		return nil, err
	}
	s.custom[namespace] = c
	return c, nil
}

// closeCustom closes every subscriber channel once the read loop is done.
func (s *Session) closeCustom() {
	s.customMu.Lock()
	defer s.customMu.Unlock()
	for ns, c := range s.custom {
		s.mux.Unregister(ns)
		c.closeMessages()
	}
	s.custom = nil
}

// Namespace returns the namespace of the channel.
func (c *CustomChannel) Namespace() string { return c.namespace }

// HandleEnvelope completes a waiting Request or queues env for Messages.
// When the subscriber falls behind the envelope is dropped.
func (c *CustomChannel) HandleEnvelope(env Envelope) {
	if hdr, err := env.Header(); err == nil && hdr.RequestID != 0 {
		if c.session.resolve(hdr.RequestID, env) {
			return
		}
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	select {
	case c.msgs <- env:
	default:
		c.session.log.Warn().Str("Method", "Custom").Str("Namespace", c.namespace).Msg("subscriber too slow, dropping message")
	}
}

func (c *CustomChannel) closeMessages() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.msgs)
	}
}

// Messages returns the inbound envelopes not answering a Request. The
// channel is closed by Close or when the session ends.
func (c *CustomChannel) Messages() <-chan Envelope {
	return c.msgs
}

// Send sends payload to destination without waiting for a reply.
func (c *CustomChannel) Send(ctx context.Context, destination string, payload any) error {
	if err := c.session.ensureConnected(ctx, destination); err != nil {
		return err
	}
	env, err := NewEnvelope(c.session.opts.senderID, destination, c.namespace, payload)
	if err != nil {
		return err
	}
	return c.session.Send(ctx, env)
}

// Request sends payload to destination and waits for the reply carrying
// its request id.
func (c *CustomChannel) Request(ctx context.Context, destination string, payload Payload) (Envelope, error) {
	if err := c.session.ensureConnected(ctx, destination); err != nil {
		return Envelope{}, err
	}
	return c.session.SendRequest(ctx, Request{
		Op:          "Custom",
		Namespace:   c.namespace,
		Destination: destination,
		Payload:     payload,
	})
}

// Close unregisters the channel and closes Messages. The namespace may be
// registered again afterwards.
func (c *CustomChannel) Close() {
	s := c.session
	s.customMu.Lock()
	if s.custom[c.namespace] == c {
		delete(s.custom, c.namespace)
		s.mux.Unregister(c.namespace)
	}
	s.customMu.Unlock()
	c.closeMessages()
}
