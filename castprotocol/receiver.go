package castprotocol

import (
	"context"
	"errors"
	"math"
)

const appAvailable = "APP_AVAILABLE"

// ReceiverChannel talks to the platform receiver: applications and
// device volume.
type ReceiverChannel struct {
	session *Session
	status  *statusCell[ReceiverStatus]
}

func newReceiverChannel(s *Session) *ReceiverChannel {
	return &ReceiverChannel{session: s, status: newStatusCell[ReceiverStatus]()}
}

// HandleEnvelope applies pushed status before completing a waiting request.
func (r *ReceiverChannel) HandleEnvelope(env Envelope) {
	hdr, _ := env.Header()
	msg, err := DecodeMessage(env.Namespace, env.Payload)
	if err != nil {
		if !r.session.resolve(hdr.RequestID, env) {
			r.session.log.Warn().Str("Method", "Receiver").Str("Type", hdr.Type).Err(err).Msg("dropping malformed push")
		}
		return
	}

	if m, ok := msg.(*ReceiverStatusMessage); ok && m.Status != nil {
		r.apply(m.Status)
	}
	r.session.resolve(hdr.RequestID, env)
}

func (r *ReceiverChannel) apply(st *ReceiverStatus) {
	prev := r.status.store(st)

	gone := prev.sessionIDs()
	for id := range st.sessionIDs() {
		delete(gone, id)
	}
	for id := range gone {
		r.session.log.Debug().Str("Method", "Receiver").Str("AppSession", id).Msg("application session ended")
		r.session.invalidate(id)
		r.session.media.appEnded(id)
	}
}

// Status returns the last receiver status, or nil before the first one.
func (r *ReceiverChannel) Status() *ReceiverStatus {
	return r.status.load()
}

// Application returns the running application with appID from the cached
// status, or nil.
func (r *ReceiverChannel) Application(appID string) *Application {
	app := r.status.load().App(appID)
	if app == nil {
		return nil
	}
	a := *app
	return &a
}

// Changed returns a channel closed on the next receiver status update.
func (r *ReceiverChannel) Changed() <-chan struct{} {
	return r.status.wait()
}

// Await blocks until pred accepts the cached status or a later push.
func (r *ReceiverChannel) Await(ctx context.Context, pred func(*ReceiverStatus) bool) (*ReceiverStatus, error) {
	st, err := r.status.await(ctx, r.session.done, r.session.closedError("Await"), func(st *ReceiverStatus) bool {
		return st != nil && pred(st)
	})
	if err != nil {
		if ctx.Err() != nil {
			return nil, contextError("Await", NamespaceReceiver, 0, err)
		}
		return nil, err
	}
	return st, nil
}

func (r *ReceiverChannel) request(ctx context.Context, op string, p Payload) (Message, error) {
	env, err := r.session.SendRequest(ctx, Request{
		Op:          op,
		Namespace:   NamespaceReceiver,
		Destination: PlatformReceiverID,
		Payload:     p,
	})
	if err != nil {
		return nil, err
	}
	msg, err := DecodeMessage(env.Namespace, env.Payload)
	if err != nil {
		return nil, &Error{Op: op, Sentinel: ErrProtocol, Namespace: NamespaceReceiver, Err: err}
	}
	if err := rejection(op, NamespaceReceiver, msg); err != nil {
		return nil, err
	}
	return msg, nil
}

// statusReply extracts the receiver status from a reply.
func statusReply(op string, msg Message) (*ReceiverStatus, error) {
	m, ok := msg.(*ReceiverStatusMessage)
	if !ok || m.Status == nil {
		return nil, &Error{Op: op, Sentinel: ErrUnconfirmed, Namespace: NamespaceReceiver,
			Reason: "reply " + msg.MessageType() + " carries no receiver status"}
	}
	return m.Status, nil
}

// GetStatus asks the receiver for its status.
func (r *ReceiverChannel) GetStatus(ctx context.Context) (*ReceiverStatus, error) {
	msg, err := r.request(ctx, "GetStatus", &Header{Type: TypeGetStatus})
	if err != nil {
		return nil, err
	}
	return statusReply("GetStatus", msg)
}

// Launch starts appID, or joins it when it is already running, and
// returns the running application.
func (r *ReceiverChannel) Launch(ctx context.Context, appID string) (*Application, error) {
	if appID == "" {
		return nil, invalidArgument("Launch", "empty application id")
	}

	msg, err := r.request(ctx, "Launch", &launchRequest{Header: Header{Type: TypeLaunch}, AppID: appID})
	if err != nil {
		return nil, err
	}

	running := func(st *ReceiverStatus) bool {
		app := st.App(appID)
		return app != nil && app.TransportID != ""
	}
	if st, err := statusReply("Launch", msg); err == nil && running(st) {
		app := *st.App(appID)
		return &app, nil
	}

	// Some receivers answer before the application is up and report it in
	// a later push.
	waitCtx, cancel := context.WithTimeout(ctx, r.session.opts.requestTimeout)
	defer cancel()
	st, err := r.Await(waitCtx, running)
	if err != nil {
		if errors.Is(err, ErrTimeout) && ctx.Err() == nil {
			return nil, &Error{Op: "Launch", Sentinel: ErrUnconfirmed, Namespace: NamespaceReceiver,
				Reason: "application " + appID + " not reported running"}
		}
		return nil, err
	}
	app := *st.App(appID)
	return &app, nil
}

// StopApp stops the application running under sessionID.
func (r *ReceiverChannel) StopApp(ctx context.Context, sessionID string) (*ReceiverStatus, error) {
	if sessionID == "" {
		return nil, invalidArgument("StopApp", "empty session id")
	}
	msg, err := r.request(ctx, "StopApp", &stopAppRequest{Header: Header{Type: TypeStop}, SessionID: sessionID})
	if err != nil {
		return nil, err
	}
	return statusReply("StopApp", msg)
}

// Stop stops the foreground application.
func (r *ReceiverChannel) Stop(ctx context.Context) (*ReceiverStatus, error) {
	app, err := r.foreground(ctx)
	if err != nil {
		return nil, err
	}
	return r.StopApp(ctx, app.SessionID)
}

func (r *ReceiverChannel) foreground(ctx context.Context) (*Application, error) {
	st := r.Status()
	if st.ForegroundApp() == nil {
		fresh, err := r.GetStatus(ctx)
		if err != nil {
			return nil, err
		}
		st = fresh
	}
	app := st.ForegroundApp()
	if app == nil {
		return nil, &Error{Op: "Stop", Sentinel: ErrNoApplication, Namespace: NamespaceReceiver}
	}
	return app, nil
}

// SetVolume sets the device volume level in [0, 1].
func (r *ReceiverChannel) SetVolume(ctx context.Context, level float64) (*ReceiverStatus, error) {
	if err := validateLevel("SetVolume", level); err != nil {
		return nil, err
	}
	msg, err := r.request(ctx, "SetVolume", &setVolumeRequest{
		Header: Header{Type: TypeSetVolume},
		Volume: volumeRequest{Level: &level},
	})
	if err != nil {
		return nil, err
	}
	return statusReply("SetVolume", msg)
}

// SetMute mutes or unmutes the device.
func (r *ReceiverChannel) SetMute(ctx context.Context, muted bool) (*ReceiverStatus, error) {
	msg, err := r.request(ctx, "SetMute", &setVolumeRequest{
		Header: Header{Type: TypeSetVolume},
		Volume: volumeRequest{Muted: &muted},
	})
	if err != nil {
		return nil, err
	}
	return statusReply("SetMute", msg)
}

// AppAvailability reports which of appIDs the receiver can launch.
func (r *ReceiverChannel) AppAvailability(ctx context.Context, appIDs ...string) (map[string]bool, error) {
	if len(appIDs) == 0 {
		return nil, invalidArgument("AppAvailability", "no application ids")
	}
	msg, err := r.request(ctx, "AppAvailability", &appAvailabilityRequest{
		Header: Header{Type: TypeGetAppAvailability},
		AppIDs: appIDs,
	})
	if err != nil {
		return nil, err
	}
	m, ok := msg.(*AppAvailabilityMessage)
	if !ok {
		return nil, &Error{Op: "AppAvailability", Sentinel: ErrProtocol, Namespace: NamespaceReceiver,
			Reason: "unexpected reply " + msg.MessageType()}
	}
	out := make(map[string]bool, len(appIDs))
	for _, id := range appIDs {
		out[id] = m.Availability[id] == appAvailable
	}
	return out, nil
}

func validateLevel(op string, level float64) error {
	if math.IsNaN(level) || math.IsInf(level, 0) || level < 0 || level > 1 {
		return invalidArgument(op, "volume level %v outside [0, 1]", level)
	}
	return nil
}
