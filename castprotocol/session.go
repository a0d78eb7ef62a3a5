package castprotocol

import (
	"bufio"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"go2tv.app/castkit/internal/metrics"
)

// Session is one live connection to a receiver. It owns the transport, the
// pending requests and the channels multiplexed over it.
type Session struct {
	device DeviceDescriptor
	conn   net.Conn
	reader *bufio.Reader
	codec  FrameCodec
	opts   options
	log    zerolog.Logger

	writeMu sync.Mutex
	limiter *rate.Limiter

	pending *correlator
	mux     *Multiplexer

	vcMu   sync.Mutex
	vconns map[string]struct{}

	customMu sync.Mutex
	custom   map[string]*CustomChannel

	closing   atomic.Bool
	closeOnce sync.Once
	errMu     sync.Mutex
	err       error
	done      chan struct{}

	receiver *ReceiverChannel
	media    *MediaChannel
	queue    *QueueChannel
}

// Request describes one correlated request.
type Request struct {
	// Op names the operation in errors; defaults to the payload type.
	Op          string
	Namespace   string
	Destination string
	Payload     Payload
	// Timeout overrides the session request timeout when positive.
	Timeout time.Duration
	// Scope binds the request to an application session id. Requests with
	// a scope fail with ErrSessionInvalidated when that session ends.
	Scope string
}

// Dial connects to the receiver described by d and opens a session.
func Dial(ctx context.Context, d DeviceDescriptor, opts ...Option) (*Session, error) {
	o := buildOptions(opts)
	addr := d.Addr()

	ctx, cancel := context.WithTimeout(ctx, o.dialTimeout)
	defer cancel()

	var dialer net.Dialer
	raw, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		sentinel := ErrUnreachable
		if isTimeoutError(err) {
			sentinel = ErrTimeout
		}
		return nil, &Error{Op: "Dial", Sentinel: sentinel, Reason: addr, Err: err}
	}

	// Receivers present self-signed certificates.
	conn := tls.Client(raw, &tls.Config{InsecureSkipVerify: true}) //nolint:gosec
	if err := conn.HandshakeContext(ctx); err != nil {
		_ = raw.Close()
		sentinel := ErrHandshakeFailed
		if isTimeoutError(err) {
			sentinel = ErrTimeout
		}
		return nil, &Error{Op: "Dial", Sentinel: sentinel, Reason: addr, Err: err}
	}

	return newSession(conn, d, o)
}

// NewSession opens a session over an already established connection.
func NewSession(conn net.Conn, d DeviceDescriptor, opts ...Option) (*Session, error) {
	return newSession(conn, d, buildOptions(opts))
}

func newSession(conn net.Conn, d DeviceDescriptor, o options) (*Session, error) {
	log := o.logger.With().Str("Device", d.Addr()).Logger()
	s := &Session{
		device:  d,
		conn:    conn,
		reader:  bufio.NewReaderSize(conn, o.maxFrameSize+frameHeaderSize),
		codec:   FrameCodec{MaxFrameSize: o.maxFrameSize},
		opts:    o,
		log:     log,
		limiter: rate.NewLimiter(o.sendRate, o.sendBurst),
		pending: newCorrelator(),
		mux:     NewMultiplexer(log),
		vconns:  make(map[string]struct{}),
		custom:  make(map[string]*CustomChannel),
		done:    make(chan struct{}),
	}
	s.vconns[PlatformReceiverID] = struct{}{}

	s.receiver = newReceiverChannel(s)
	s.media = newMediaChannel(s)
	s.queue = newQueueChannel(s.media)

	platform := &platformChannel{session: s}
	_ = s.mux.Register(NamespaceConnection, HandlerFunc(platform.handleConnection))
	_ = s.mux.Register(NamespaceHeartbeat, HandlerFunc(platform.handleHeartbeat))
	_ = s.mux.Register(NamespaceReceiver, s.receiver)
	_ = s.mux.Register(NamespaceMedia, s.media)

	connect, err := s.connectEnvelope(PlatformReceiverID)
	var frame []byte
	if err == nil {
		frame, err = s.codec.Encode(connect)
	}
	if err == nil {
		err = s.write(frame)
	}
	if err != nil {
		_ = conn.Close()
		return nil, &Error{Op: "Connect", Sentinel: ErrHandshakeFailed, Reason: d.Addr(), Err: err}
	}

	metrics.SessionOpened()
	go s.readLoop()

	s.log.Debug().Str("Method", "NewSession").Str("SenderID", o.senderID).Msg("session established")
	return s, nil
}

// Device returns the descriptor the session was opened for.
func (s *Session) Device() DeviceDescriptor { return s.device }

// SenderID returns the source id used on outbound messages.
func (s *Session) SenderID() string { return s.opts.senderID }

// Receiver returns the platform receiver channel.
func (s *Session) Receiver() *ReceiverChannel { return s.receiver }

// Media returns the media channel.
func (s *Session) Media() *MediaChannel { return s.media }

// Queue returns the queue channel.
func (s *Session) Queue() *QueueChannel { return s.queue }

// Multiplexer returns the namespace router of the session.
func (s *Session) Multiplexer() *Multiplexer { return s.mux }

// Done is closed once the read loop has exited.
func (s *Session) Done() <-chan struct{} { return s.done }

// Err returns the reason the session ended, or nil while it is open.
func (s *Session) Err() error {
	s.errMu.Lock()
	defer s.errMu.Unlock()
	return s.err
}

// Send writes env to the receiver without waiting for a reply.
func (s *Session) Send(ctx context.Context, env Envelope) error {
	if s.closing.Load() {
		return s.closedError("Send")
	}
	if err := s.limiter.Wait(ctx); err != nil {
		return contextError("Send", env.Namespace, 0, err)
	}
	return s.sendNow(env)
}

// sendNow writes env bypassing the rate limiter. The read loop uses it for
// heartbeat traffic so it never waits on callers.
func (s *Session) sendNow(env Envelope) error {
	frame, err := s.codec.Encode(env)
	if err != nil {
		return &Error{Op: "Send", Sentinel: ErrProtocol, Namespace: env.Namespace, Err: err}
	}
	if s.closing.Load() {
		return s.closedError("Send")
	}
	if err := s.write(frame); err != nil {
		cause := &Error{Op: "Send", Sentinel: ErrConnectionClosed, Namespace: env.Namespace, Err: err}
		s.shutdown(cause, false)
		return cause
	}
	return nil
}

func (s *Session) write(frame []byte) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	_ = s.conn.SetWriteDeadline(time.Now().Add(s.opts.writeTimeout))
	_, err := s.conn.Write(frame)
	return err
}

// SendRequest sends req and waits for the response carrying its request id.
func (s *Session) SendRequest(ctx context.Context, req Request) (Envelope, error) {
	if req.Payload == nil {
		return Envelope{}, invalidArgument("SendRequest", "request without payload")
	}
	dest := req.Destination
	if dest == "" {
		dest = PlatformReceiverID
	}

	w, err := s.pending.register(req.Scope)
	if err != nil {
		return Envelope{}, err
	}
	req.Payload.SetRequestId(w.id)

	env, err := NewEnvelope(s.opts.senderID, dest, req.Namespace, req.Payload)
	if err != nil {
		s.pending.cancel(w.id)
		return Envelope{}, err
	}
	hdr, _ := env.Header()
	op := req.Op
	if op == "" {
		op = hdr.Type
	}

	timeout := req.Timeout
	if timeout <= 0 {
		timeout = s.opts.requestTimeout
	}

	start := time.Now()
	res := s.await(ctx, w, op, req.Namespace, timeout, env)
	metrics.ObserveRequest(req.Namespace, hdr.Type, resultLabel(res.err), time.Since(start))
	if res.err != nil {
		s.log.Debug().Str("Method", "SendRequest").Str("Namespace", req.Namespace).Str("Type", hdr.Type).
			Int("RequestID", w.id).Err(res.err).Msg("request failed")
	}
	return res.env, res.err
}

func (s *Session) await(ctx context.Context, w *waiter, op, namespace string, timeout time.Duration, env Envelope) result {
	if err := s.Send(ctx, env); err != nil {
		if !s.pending.cancel(w.id) {
			// Failed by close while sending; the channel holds the reason.
			return <-w.ch
		}
		return result{err: err}
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case res := <-w.ch:
		return res
	case <-timer.C:
		if !s.pending.cancel(w.id) {
			return <-w.ch
		}
		return result{err: &Error{Op: op, Sentinel: ErrTimeout, Namespace: namespace, RequestID: w.id,
			Reason: fmt.Sprintf("no response within %s", timeout)}}
	case <-ctx.Done():
		if !s.pending.cancel(w.id) {
			return <-w.ch
		}
		return result{err: contextError(op, namespace, w.id, ctx.Err())}
	}
}

// resolve offers env to the request waiting on requestID. Unmatched
// envelopes are counted as pushes.
func (s *Session) resolve(requestID int, env Envelope) bool {
	if requestID != 0 && s.pending.resolve(requestID, env) {
		metrics.ObserveInbound(env.Namespace, metrics.InboundResponse)
		return true
	}
	metrics.ObserveInbound(env.Namespace, metrics.InboundPush)
	return false
}

// invalidate fails every request scoped to the application session id.
func (s *Session) invalidate(appSessionID string) {
	n := s.pending.invalidate(appSessionID, func(w *waiter) error {
		return &Error{Op: "SendRequest", Sentinel: ErrSessionInvalidated, RequestID: w.id,
			Reason: "application session " + appSessionID + " ended"}
	})
	if n > 0 {
		metrics.RequestsInvalidated(n)
		s.log.Debug().Str("Method", "invalidate").Str("AppSession", appSessionID).Int("Requests", n).Msg("failed requests of ended session")
	}
	s.forgetConnections()
}

// ensureConnected opens the virtual connection to transportID once.
func (s *Session) ensureConnected(ctx context.Context, transportID string) error {
	s.vcMu.Lock()
	_, ok := s.vconns[transportID]
	if !ok {
		s.vconns[transportID] = struct{}{}
	}
	s.vcMu.Unlock()
	if ok {
		return nil
	}

	env, err := s.connectEnvelope(transportID)
	if err == nil {
		err = s.Send(ctx, env)
	}
	if err != nil {
		s.forgetConnection(transportID)
		return err
	}
	return nil
}

func (s *Session) forgetConnection(transportID string) {
	s.vcMu.Lock()
	delete(s.vconns, transportID)
	s.vcMu.Unlock()
}

// forgetConnections drops virtual connections whose transport is no longer
// listed by the receiver.
func (s *Session) forgetConnections() {
	live := map[string]struct{}{PlatformReceiverID: {}}
	if st := s.receiver.Status(); st != nil {
		for _, app := range st.Applications {
			live[app.TransportID] = struct{}{}
		}
	}
	s.vcMu.Lock()
	for id := range s.vconns {
		if _, ok := live[id]; !ok {
			delete(s.vconns, id)
		}
	}
	s.vcMu.Unlock()
}

func (s *Session) connectEnvelope(destination string) (Envelope, error) {
	return NewEnvelope(s.opts.senderID, destination, NamespaceConnection,
		&connectRequest{Header: Header{Type: TypeConnect}, UserAgent: s.opts.userAgent})
}

// Close ends the session. Pending requests fail with ErrConnectionClosed.
// Close must not be called from a Handler.
func (s *Session) Close() error {
	s.shutdown(s.closedError("Close"), true)
	<-s.done
	return nil
}

// shutdown runs once per session, from Close or from the read loop.
func (s *Session) shutdown(cause error, goodbye bool) {
	s.closeOnce.Do(func() {
		s.closing.Store(true)

		s.errMu.Lock()
		s.err = cause
		s.errMu.Unlock()

		pendingErr := cause
		if !errors.Is(cause, ErrConnectionClosed) {
			pendingErr = &Error{Op: "SendRequest", Sentinel: ErrConnectionClosed, Err: cause}
		}
		n := s.pending.failAll(pendingErr)

		if goodbye {
			env, err := NewEnvelope(s.opts.senderID, PlatformReceiverID, NamespaceConnection, &Header{Type: TypeClose})
			if err == nil {
				if frame, err := s.codec.Encode(env); err == nil {
					_ = s.write(frame)
				}
			}
		}
		_ = s.conn.Close()
		metrics.SessionClosed()

		s.log.Debug().Str("Method", "shutdown").Int("Pending", n).AnErr("Cause", cause).Msg("session closed")
	})
}

func (s *Session) closedError(op string) error {
	if err := s.Err(); err != nil && !errors.Is(err, ErrConnectionClosed) {
		return &Error{Op: op, Sentinel: ErrConnectionClosed, Err: err}
	}
	return &Error{Op: op, Sentinel: ErrConnectionClosed}
}

// readLoop is the only reader of the connection. It dispatches every frame
// synchronously and drives the heartbeat through read deadlines.
func (s *Session) readLoop() {
	defer close(s.done)
	defer s.closeCustom()

	missed := 0
	for {
		_ = s.conn.SetReadDeadline(time.Now().Add(s.opts.heartbeatInterval))
		if _, err := s.reader.Peek(frameHeaderSize); err != nil {
			if s.closing.Load() {
				return
			}
			if isTimeoutError(err) {
				missed++
				metrics.HeartbeatMissed()
				if missed > s.opts.maxMissedHeartbeats {
					s.shutdown(&Error{Op: "Heartbeat", Sentinel: ErrTimeout,
						Reason: fmt.Sprintf("no traffic for %d intervals", missed)}, false)
					return
				}
				s.ping()
				continue
			}
			s.shutdown(s.readError(err), false)
			return
		}
		missed = 0

		_ = s.conn.SetReadDeadline(time.Now().Add(s.opts.writeTimeout))
		body, err := s.codec.ReadFrame(s.reader)
		if err != nil {
			if s.closing.Load() {
				return
			}
			s.shutdown(s.readError(err), false)
			return
		}

		env, err := UnmarshalEnvelope(body)
		if err != nil {
			// Framing can no longer be trusted.
			s.shutdown(&Error{Op: "Read", Sentinel: ErrConnectionClosed, Err: err}, false)
			return
		}
		if err := env.Validate(); err != nil {
			metrics.ObserveInbound(env.Namespace, metrics.InboundMalformed)
			s.log.Warn().Str("Method", "readLoop").Str("Namespace", env.Namespace).Err(err).Msg("dropping malformed message")
			continue
		}

		if s.closing.Load() {
			return
		}
		s.mux.Dispatch(env)
	}
}

func (s *Session) readError(err error) error {
	if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) {
		return &Error{Op: "Read", Sentinel: ErrConnectionClosed, Reason: "receiver closed the connection", Err: err}
	}
	return &Error{Op: "Read", Sentinel: ErrConnectionClosed, Err: err}
}

func (s *Session) ping() {
	env, err := NewEnvelope(s.opts.senderID, PlatformReceiverID, NamespaceHeartbeat, &Header{Type: TypePing})
	if err != nil {
		return
	}
	if err := s.sendNow(env); err != nil {
		s.log.Debug().Str("Method", "ping").Err(err).Msg("heartbeat send failed")
	}
}

func contextError(op, namespace string, requestID int, err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return &Error{Op: op, Sentinel: ErrTimeout, Namespace: namespace, RequestID: requestID, Err: err}
	}
	return fmt.Errorf("%s: %w", op, err)
}

func resultLabel(err error) string {
	switch {
	case err == nil:
		return metrics.ResultOK
	case errors.Is(err, ErrTimeout):
		return metrics.ResultTimeout
	case errors.Is(err, ErrConnection):
		return metrics.ResultClosed
	case errors.Is(err, ErrSessionInvalidated):
		return metrics.ResultInvalidated
	case errors.Is(err, context.Canceled):
		return metrics.ResultCanceled
	default:
		return metrics.ResultError
	}
}
