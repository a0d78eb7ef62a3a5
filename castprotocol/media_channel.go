package castprotocol

import (
	"context"
	"errors"
	"math"
	"sync"
)

// MediaChannel controls playback inside the running media application.
// Requests go to the application's transport id and are scoped to its
// session id.
type MediaChannel struct {
	session *Session
	status  *statusCell[MediaStatus]
	queue   *QueueChannel

	mu         sync.Mutex
	appSession string
}

func newMediaChannel(s *Session) *MediaChannel {
	return &MediaChannel{session: s, status: newStatusCell[MediaStatus]()}
}

// HandleEnvelope applies pushed status before completing a waiting request.
func (m *MediaChannel) HandleEnvelope(env Envelope) {
	hdr, _ := env.Header()
	msg, err := DecodeMessage(env.Namespace, env.Payload)
	if err != nil {
		if !m.session.resolve(hdr.RequestID, env) {
			m.session.log.Warn().Str("Method", "Media").Str("Type", hdr.Type).Err(err).Msg("dropping malformed push")
		}
		return
	}

	switch msg := msg.(type) {
	case *MediaStatusMessage:
		if msg.Status != nil {
			m.apply(env.SourceID, msg.Status)
		}
	case *QueueChangeMessage:
		if m.queue != nil {
			m.queue.applyChange(msg)
		}
	}
	m.session.resolve(hdr.RequestID, env)
}

func (m *MediaChannel) apply(source string, statuses []MediaStatus) {
	var appSession string
	if st := m.session.receiver.Status(); st != nil {
		for _, app := range st.Applications {
			if app.TransportID == source {
				appSession = app.SessionID
				break
			}
		}
	}

	m.mu.Lock()
	if appSession != "" {
		m.appSession = appSession
	}
	m.mu.Unlock()

	if len(statuses) == 0 {
		m.status.store(nil)
		return
	}
	st := statuses[0]
	m.status.store(&st)
}

// appEnded drops the cached status when its application session is gone.
func (m *MediaChannel) appEnded(appSession string) {
	m.mu.Lock()
	bound := m.appSession == appSession
	if bound {
		m.appSession = ""
	}
	m.mu.Unlock()

	if bound {
		m.status.store(nil)
	}
}

// Status returns the last media status, or nil when no media session is
// known.
func (m *MediaChannel) Status() *MediaStatus {
	return m.status.load()
}

// Changed returns a channel closed on the next media status update.
func (m *MediaChannel) Changed() <-chan struct{} {
	return m.status.wait()
}

// Await blocks until pred accepts the cached status or a later push.
func (m *MediaChannel) Await(ctx context.Context, pred func(*MediaStatus) bool) (*MediaStatus, error) {
	st, err := m.status.await(ctx, m.session.done, m.session.closedError("Await"), func(st *MediaStatus) bool {
		return st != nil && pred(st)
	})
	if err != nil {
		if ctx.Err() != nil {
			return nil, contextError("Await", NamespaceMedia, 0, err)
		}
		return nil, err
	}
	return st, nil
}

// target returns the running application that speaks the media namespace,
// refreshing the receiver status once when none is cached.
func (m *MediaChannel) target(ctx context.Context, op string) (*Application, error) {
	app := m.session.receiver.Status().MediaApp()
	if app == nil {
		st, err := m.session.receiver.GetStatus(ctx)
		if err != nil {
			return nil, err
		}
		app = st.MediaApp()
	}
	if app == nil {
		return nil, &Error{Op: op, Sentinel: ErrNoApplication, Namespace: NamespaceMedia}
	}
	a := *app
	return &a, nil
}

func (m *MediaChannel) request(ctx context.Context, op string, p Payload) (Message, error) {
	app, err := m.target(ctx, op)
	if err != nil {
		return nil, err
	}
	return m.requestTo(ctx, app, op, p)
}

func (m *MediaChannel) requestTo(ctx context.Context, app *Application, op string, p Payload) (Message, error) {
	if err := m.session.ensureConnected(ctx, app.TransportID); err != nil {
		return nil, err
	}
	env, err := m.session.SendRequest(ctx, Request{
		Op:          op,
		Namespace:   NamespaceMedia,
		Destination: app.TransportID,
		Payload:     p,
		Scope:       app.SessionID,
	})
	if err != nil {
		return nil, err
	}
	msg, err := DecodeMessage(env.Namespace, env.Payload)
	if err != nil {
		return nil, &Error{Op: op, Sentinel: ErrProtocol, Namespace: NamespaceMedia, Err: err}
	}
	if err := rejection(op, NamespaceMedia, msg); err != nil {
		return nil, err
	}
	return msg, nil
}

// mediaStatusReply extracts the media status from a reply.
func mediaStatusReply(op string, msg Message) (*MediaStatus, error) {
	sm, ok := msg.(*MediaStatusMessage)
	if !ok || len(sm.Status) == 0 {
		return nil, &Error{Op: op, Sentinel: ErrUnconfirmed, Namespace: NamespaceMedia,
			Reason: "reply " + msg.MessageType() + " carries no media status"}
	}
	st := sm.Status[0]
	return &st, nil
}

// mediaSessionID returns the id of the current media session, refreshing
// once when none is cached.
func (m *MediaChannel) mediaSessionID(ctx context.Context, op string) (int, error) {
	if st := m.status.load(); st != nil && st.MediaSessionID != 0 {
		return st.MediaSessionID, nil
	}
	st, err := m.GetStatus(ctx)
	if err != nil {
		if errors.Is(err, ErrNoMediaSession) {
			return 0, &Error{Op: op, Sentinel: ErrNoMediaSession, Namespace: NamespaceMedia}
		}
		return 0, err
	}
	return st.MediaSessionID, nil
}

// GetStatus asks the media application for its status.
func (m *MediaChannel) GetStatus(ctx context.Context) (*MediaStatus, error) {
	msg, err := m.request(ctx, "GetMediaStatus", &mediaCommand{Header: Header{Type: TypeGetStatus}})
	if err != nil {
		return nil, err
	}
	sm, ok := msg.(*MediaStatusMessage)
	if ok && sm.Status != nil && len(sm.Status) == 0 {
		return nil, &Error{Op: "GetMediaStatus", Sentinel: ErrNoMediaSession, Namespace: NamespaceMedia}
	}
	st, err := mediaStatusReply("GetMediaStatus", msg)
	if err != nil {
		return nil, err
	}
	if st.MediaSessionID == 0 {
		return nil, &Error{Op: "GetMediaStatus", Sentinel: ErrNoMediaSession, Namespace: NamespaceMedia}
	}
	return st, nil
}

// Load loads media into the running media application.
func (m *MediaChannel) Load(ctx context.Context, media Media, opts ...LoadOption) (*MediaStatus, error) {
	if media.ContentID == "" {
		return nil, invalidArgument("Load", "empty content id")
	}
	req := &loadRequest{Header: Header{Type: TypeLoad}, Media: media, Autoplay: true}
	for _, opt := range opts {
		opt(req)
	}
	if !validPosition(req.CurrentTime) {
		return nil, invalidArgument("Load", "start time %v must be finite and >= 0", req.CurrentTime)
	}

	app, err := m.target(ctx, "Load")
	if err != nil {
		return nil, err
	}
	req.SessionID = app.SessionID

	msg, err := m.requestTo(ctx, app, "Load", req)
	if err != nil {
		return nil, err
	}
	return mediaStatusReply("Load", msg)
}

func (m *MediaChannel) command(ctx context.Context, op, msgType string) (*MediaStatus, error) {
	id, err := m.mediaSessionID(ctx, op)
	if err != nil {
		return nil, err
	}
	msg, err := m.request(ctx, op, &mediaCommand{Header: Header{Type: msgType}, MediaSessionID: id})
	if err != nil {
		return nil, err
	}
	return mediaStatusReply(op, msg)
}

// Play resumes playback.
func (m *MediaChannel) Play(ctx context.Context) (*MediaStatus, error) {
	return m.command(ctx, "Play", TypePlay)
}

// Pause pauses playback.
func (m *MediaChannel) Pause(ctx context.Context) (*MediaStatus, error) {
	return m.command(ctx, "Pause", TypePause)
}

// Stop ends the media session. A reply with an empty status list means
// the session is gone and returns a nil status.
func (m *MediaChannel) Stop(ctx context.Context) (*MediaStatus, error) {
	id, err := m.mediaSessionID(ctx, "Stop")
	if err != nil {
		return nil, err
	}
	msg, err := m.request(ctx, "Stop", &mediaCommand{Header: Header{Type: TypeStop}, MediaSessionID: id})
	if err != nil {
		return nil, err
	}
	if sm, ok := msg.(*MediaStatusMessage); ok && sm.Status != nil && len(sm.Status) == 0 {
		return nil, nil
	}
	return mediaStatusReply("Stop", msg)
}

// Seek moves playback to seconds from the start.
func (m *MediaChannel) Seek(ctx context.Context, seconds float64) (*MediaStatus, error) {
	if !validPosition(seconds) {
		return nil, invalidArgument("Seek", "position %v must be finite and >= 0", seconds)
	}
	id, err := m.mediaSessionID(ctx, "Seek")
	if err != nil {
		return nil, err
	}
	msg, err := m.request(ctx, "Seek", &seekRequest{Header: Header{Type: TypeSeek}, MediaSessionID: id, CurrentTime: seconds})
	if err != nil {
		return nil, err
	}
	return mediaStatusReply("Seek", msg)
}

// SetVolume sets the stream volume level in [0, 1].
func (m *MediaChannel) SetVolume(ctx context.Context, level float64) (*MediaStatus, error) {
	if err := validateLevel("SetMediaVolume", level); err != nil {
		return nil, err
	}
	return m.volume(ctx, "SetMediaVolume", volumeRequest{Level: &level})
}

// SetMute mutes or unmutes the stream.
func (m *MediaChannel) SetMute(ctx context.Context, muted bool) (*MediaStatus, error) {
	return m.volume(ctx, "SetMediaMute", volumeRequest{Muted: &muted})
}

func (m *MediaChannel) volume(ctx context.Context, op string, v volumeRequest) (*MediaStatus, error) {
	id, err := m.mediaSessionID(ctx, op)
	if err != nil {
		return nil, err
	}
	msg, err := m.request(ctx, op, &mediaVolumeRequest{Header: Header{Type: TypeSetVolume}, MediaSessionID: id, Volume: v})
	if err != nil {
		return nil, err
	}
	return mediaStatusReply(op, msg)
}

// EditTracks sets the active tracks. An empty list disables all text
// tracks.
func (m *MediaChannel) EditTracks(ctx context.Context, activeTrackIDs []int) (*MediaStatus, error) {
	if activeTrackIDs == nil {
		activeTrackIDs = []int{}
	}
	id, err := m.mediaSessionID(ctx, "EditTracks")
	if err != nil {
		return nil, err
	}
	msg, err := m.request(ctx, "EditTracks", &editTracksRequest{
		Header:         Header{Type: TypeEditTracksInfo},
		MediaSessionID: id,
		ActiveTrackIDs: activeTrackIDs,
	})
	if err != nil {
		return nil, err
	}
	return mediaStatusReply("EditTracks", msg)
}

func validPosition(seconds float64) bool {
	return !math.IsNaN(seconds) && !math.IsInf(seconds, 0) && seconds >= 0
}
