package castprotocol

import (
	"context"
	"errors"
	"io"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

const (
	defaultConnectRetries = 3
	wakeUpDelay           = 4 * time.Second
)

// CastClient is a convenience facade over one Session at a time.
type CastClient struct {
	session *Session
	device  DeviceDescriptor
	opts    []Option
	mu      sync.RWMutex

	// connectMu serializes Connect so mu is only held for the swap.
	connectMu sync.Mutex

	// ConnectRetries is how often Connect retries a dial that timed out,
	// which typically happens while a TV wakes from sleep.
	ConnectRetries int

	// MediaAppID is the receiver application Load and QueueLoad launch
	// when it is not already running. Empty means the default media
	// receiver, and then any running media application is reused.
	MediaAppID string

	Logger      zerolog.Logger
	LogOutput   io.Writer
	initLogOnce sync.Once
}

// Log returns the zerolog logger, initializing it lazily if LogOutput is set.
func (c *CastClient) Log() *zerolog.Logger {
	if c.LogOutput != nil {
		c.initLogOnce.Do(func() {
			c.Logger = zerolog.New(c.LogOutput).With().Timestamp().Logger()
		})
	}
	return &c.Logger
}

// NewCastClient returns a disconnected client. opts apply to every session
// it opens.
func NewCastClient(opts ...Option) *CastClient {
	return &CastClient{
		opts:           opts,
		ConnectRetries: defaultConnectRetries,
		Logger:         zerolog.Nop(),
	}
}

// Connect opens a session to d, closing any previous one first, and reads
// the initial receiver status.
func (c *CastClient) Connect(ctx context.Context, d DeviceDescriptor) error {
	c.connectMu.Lock()
	defer c.connectMu.Unlock()

	c.mu.Lock()
	prev, prevDevice := c.session, c.device
	c.session = nil
	c.mu.Unlock()
	if prev != nil {
		c.Log().Debug().Str("Method", "Connect").Str("Host", prevDevice.Host).Msg("closing previous session")
		_ = prev.Close()
	}

	opts := append([]Option{WithLogger(*c.Log())}, c.opts...)

	c.Log().Debug().Str("Method", "Connect").Str("Host", d.Host).Int("Port", d.Port).Msg("connecting")
	var (
		s   *Session
		err error
	)
	for attempt := 0; ; attempt++ {
		s, err = Dial(ctx, d, opts...)
		if err == nil || !errors.Is(err, ErrTimeout) || attempt >= c.ConnectRetries {
			break
		}
		c.Log().Debug().Str("Method", "Connect").Int("Attempt", attempt).Err(err).Msg("timeout, TV may be waking up, retrying...")
		select {
		case <-time.After(wakeUpDelay):
		case <-ctx.Done():
			return contextError("Connect", "", 0, ctx.Err())
		}
	}
	if err != nil {
		c.Log().Error().Str("Method", "Connect").Err(err).Msg("connection failed")
		return err
	}

	if _, err := s.Receiver().GetStatus(ctx); err != nil {
		_ = s.Close()
		c.Log().Error().Str("Method", "Connect").Err(err).Msg("initial status failed")
		return &Error{Op: "Connect", Sentinel: ErrHandshakeFailed, Reason: d.Addr(), Err: err}
	}

	c.mu.Lock()
	c.session = s
	c.device = d
	c.mu.Unlock()
	c.Log().Debug().Str("Method", "Connect").Msg("connected successfully")
	return nil
}

// Session returns the current session, or nil.
func (c *CastClient) Session() *Session {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.session
}

func (c *CastClient) current(op string) (*Session, error) {
	c.mu.RLock()
	s := c.session
	c.mu.RUnlock()

	if s == nil {
		return nil, &Error{Op: op, Sentinel: ErrConnectionClosed, Reason: "not connected"}
	}
	if err := s.Err(); err != nil {
		return nil, &Error{Op: op, Sentinel: ErrConnectionClosed, Err: err}
	}
	return s, nil
}

// Disconnect closes the session and leaves media playing.
func (c *CastClient) Disconnect() error {
	return c.Close(false)
}

// Close disconnects from the device, stopping media first if asked to.
func (c *CastClient) Close(stopMedia bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.session == nil {
		return nil
	}

	c.Log().Debug().Str("Method", "Close").Bool("StopMedia", stopMedia).Msg("closing connection")
	if stopMedia && c.session.Err() == nil {
		ctx, cancel := context.WithTimeout(context.Background(), c.session.opts.requestTimeout)
		if _, err := c.session.Media().Stop(ctx); err != nil {
			c.Log().Debug().Str("Method", "Close").Err(err).Msg("stop media failed")
		}
		cancel()
	}

	err := c.session.Close()
	c.session = nil
	return err
}

// IsConnected reports whether a session is open.
func (c *CastClient) IsConnected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.session != nil && c.session.Err() == nil
}

// Host returns the host of the last connected device.
func (c *CastClient) Host() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.device.Host
}

// LaunchApplication starts appID. When it already runs it is joined,
// unless stopCurrent asks for a fresh instance. With stopCurrent any
// foreground application is stopped first.
func (c *CastClient) LaunchApplication(ctx context.Context, appID string, stopCurrent bool) (*Application, error) {
	s, err := c.current("LaunchApplication")
	if err != nil {
		return nil, err
	}
	if appID == "" {
		return nil, invalidArgument("LaunchApplication", "empty application id")
	}

	st := s.Receiver().Status()
	if st == nil {
		if st, err = s.Receiver().GetStatus(ctx); err != nil {
			return nil, err
		}
	}

	if app := st.App(appID); app != nil && !stopCurrent {
		c.Log().Debug().Str("Method", "LaunchApplication").Str("AppID", appID).Msg("joining running application")
		a := *app
		return &a, nil
	}
	if fg := st.ForegroundApp(); fg != nil && stopCurrent {
		c.Log().Debug().Str("Method", "LaunchApplication").Str("Stopping", fg.AppID).Msg("stopping current application")
		if _, err := s.Receiver().StopApp(ctx, fg.SessionID); err != nil {
			return nil, err
		}
	}

	app, err := s.Receiver().Launch(ctx, appID)
	if err != nil {
		c.Log().Error().Str("Method", "LaunchApplication").Str("AppID", appID).Err(err).Msg("failed")
		return nil, err
	}
	return app, nil
}

// StopApplication stops the foreground application.
func (c *CastClient) StopApplication(ctx context.Context) (*ReceiverStatus, error) {
	s, err := c.current("StopApplication")
	if err != nil {
		return nil, err
	}
	return s.Receiver().Stop(ctx)
}

// GetReceiverStatus fetches the receiver status.
func (c *CastClient) GetReceiverStatus(ctx context.Context) (*ReceiverStatus, error) {
	s, err := c.current("GetReceiverStatus")
	if err != nil {
		return nil, err
	}
	return s.Receiver().GetStatus(ctx)
}

// SetVolume sets the device volume.
func (c *CastClient) SetVolume(ctx context.Context, level float64) (*ReceiverStatus, error) {
	s, err := c.current("SetVolume")
	if err != nil {
		return nil, err
	}
	return s.Receiver().SetVolume(ctx, level)
}

// SetMute mutes or unmutes the device.
func (c *CastClient) SetMute(ctx context.Context, muted bool) (*ReceiverStatus, error) {
	s, err := c.current("SetMute")
	if err != nil {
		return nil, err
	}
	return s.Receiver().SetMute(ctx, muted)
}

// Load loads media, launching the default media receiver when no media
// application runs. Live streams are loaded paused and then played, which
// avoids the long initial buffering receivers apply with autoplay.
func (c *CastClient) Load(ctx context.Context, media Media, opts ...LoadOption) (*MediaStatus, error) {
	s, err := c.current("Load")
	if err != nil {
		return nil, err
	}
	if media.ContentID == "" {
		return nil, invalidArgument("Load", "empty content id")
	}
	c.Log().Debug().Str("Method", "Load").Str("URL", media.ContentID).Str("ContentType", media.ContentType).Msg("loading media")

	if err := c.ensureMediaApp(ctx, s); err != nil {
		return nil, err
	}

	probe := loadRequest{Media: media}
	for _, opt := range opts {
		opt(&probe)
	}
	live := probe.Media.StreamType == StreamTypeLive
	if live {
		opts = append(opts, WithAutoplay(false))
	}
	st, err := s.Media().Load(ctx, media, opts...)
	if err != nil {
		c.Log().Error().Str("Method", "Load").Err(err).Msg("failed")
		return nil, err
	}

	if live {
		c.Log().Debug().Str("Method", "Load").Msg("live stream loaded paused, sending PLAY")
		if played, err := s.Media().Play(ctx); err == nil {
			st = played
		} else {
			c.Log().Warn().Str("Method", "Load").Err(err).Msg("play after live load failed")
		}
	}
	return st, nil
}

func (c *CastClient) ensureMediaApp(ctx context.Context, s *Session) error {
	appID := c.MediaAppID
	if app := s.Receiver().Status().MediaApp(); app != nil && (appID == "" || app.AppID == appID) {
		return nil
	}
	if appID == "" {
		appID = DefaultMediaReceiverAppID
	}
	c.Log().Debug().Str("Method", "Load").Str("AppID", appID).Msg("launching media receiver")
	_, err := s.Receiver().Launch(ctx, appID)
	return err
}

// Play resumes playback.
func (c *CastClient) Play(ctx context.Context) (*MediaStatus, error) {
	s, err := c.current("Play")
	if err != nil {
		return nil, err
	}
	return s.Media().Play(ctx)
}

// Pause pauses playback.
func (c *CastClient) Pause(ctx context.Context) (*MediaStatus, error) {
	s, err := c.current("Pause")
	if err != nil {
		return nil, err
	}
	return s.Media().Pause(ctx)
}

// Stop ends the media session.
func (c *CastClient) Stop(ctx context.Context) (*MediaStatus, error) {
	s, err := c.current("Stop")
	if err != nil {
		return nil, err
	}
	return s.Media().Stop(ctx)
}

// Seek moves playback to seconds.
func (c *CastClient) Seek(ctx context.Context, seconds float64) (*MediaStatus, error) {
	s, err := c.current("Seek")
	if err != nil {
		return nil, err
	}
	return s.Media().Seek(ctx, seconds)
}

// SetMediaVolume sets the stream volume.
func (c *CastClient) SetMediaVolume(ctx context.Context, level float64) (*MediaStatus, error) {
	s, err := c.current("SetMediaVolume")
	if err != nil {
		return nil, err
	}
	return s.Media().SetVolume(ctx, level)
}

// SetMediaMute mutes or unmutes the stream.
func (c *CastClient) SetMediaMute(ctx context.Context, muted bool) (*MediaStatus, error) {
	s, err := c.current("SetMediaMute")
	if err != nil {
		return nil, err
	}
	return s.Media().SetMute(ctx, muted)
}

// GetMediaStatus fetches the media status.
func (c *CastClient) GetMediaStatus(ctx context.Context) (*MediaStatus, error) {
	s, err := c.current("GetMediaStatus")
	if err != nil {
		return nil, err
	}
	return s.Media().GetStatus(ctx)
}

// QueueLoad loads items as a queue, launching the default media receiver
// when no media application runs.
func (c *CastClient) QueueLoad(ctx context.Context, items []QueueItem, repeat RepeatMode, startIndex int) (*MediaStatus, error) {
	s, err := c.current("QueueLoad")
	if err != nil {
		return nil, err
	}
	if len(items) == 0 {
		return nil, invalidArgument("QueueLoad", "empty queue")
	}
	if err := c.ensureMediaApp(ctx, s); err != nil {
		return nil, err
	}
	return s.Queue().Load(ctx, items, repeat, startIndex)
}

// QueueNext skips to the next item.
func (c *CastClient) QueueNext(ctx context.Context) (*MediaStatus, error) {
	s, err := c.current("QueueNext")
	if err != nil {
		return nil, err
	}
	return s.Queue().Next(ctx)
}

// QueuePrev goes back to the previous item.
func (c *CastClient) QueuePrev(ctx context.Context) (*MediaStatus, error) {
	s, err := c.current("QueuePrev")
	if err != nil {
		return nil, err
	}
	return s.Queue().Prev(ctx)
}

// QueueSetShuffle turns shuffling on or off.
func (c *CastClient) QueueSetShuffle(ctx context.Context, shuffle bool) (*MediaStatus, error) {
	s, err := c.current("QueueSetShuffle")
	if err != nil {
		return nil, err
	}
	return s.Queue().SetShuffle(ctx, shuffle)
}

// QueueSetRepeatMode sets the repeat mode.
func (c *CastClient) QueueSetRepeatMode(ctx context.Context, mode RepeatMode) (*MediaStatus, error) {
	s, err := c.current("QueueSetRepeatMode")
	if err != nil {
		return nil, err
	}
	return s.Queue().SetRepeatMode(ctx, mode)
}

// QueueGetItemIDs returns the queue item ids.
func (c *CastClient) QueueGetItemIDs(ctx context.Context) ([]int, error) {
	s, err := c.current("QueueGetItemIDs")
	if err != nil {
		return nil, err
	}
	return s.Queue().ItemIDs(ctx)
}

// QueueGetItems returns the queue items with the given ids.
func (c *CastClient) QueueGetItems(ctx context.Context, itemIDs []int) ([]QueueItem, error) {
	s, err := c.current("QueueGetItems")
	if err != nil {
		return nil, err
	}
	return s.Queue().Items(ctx, itemIDs)
}

// GetStatus returns a flattened snapshot, refreshed from the device.
func (c *CastClient) GetStatus(ctx context.Context) (*CastStatus, error) {
	s, err := c.current("GetStatus")
	if err != nil {
		return nil, err
	}

	receiver, err := s.Receiver().GetStatus(ctx)
	if err != nil {
		c.Log().Error().Str("Method", "GetStatus").Err(err).Msg("receiver status failed")
		return nil, err
	}

	var media *MediaStatus
	if receiver.MediaApp() != nil {
		media, err = s.Media().GetStatus(ctx)
		if err != nil && !errors.Is(err, ErrNoMediaSession) {
			c.Log().Error().Str("Method", "GetStatus").Err(err).Msg("media status failed")
			return nil, err
		}
	}
	return NewCastStatus(receiver, media), nil
}
