package castprotocol

// PlayerState is the receiver-reported playback state.
type PlayerState string

const (
	PlayerStateIdle      PlayerState = "IDLE"
	PlayerStatePlaying   PlayerState = "PLAYING"
	PlayerStatePaused    PlayerState = "PAUSED"
	PlayerStateBuffering PlayerState = "BUFFERING"
	// PlayerStateLoading is a transitional state some receivers report.
	PlayerStateLoading PlayerState = "LOADING"
)

// Active reports whether media is loaded and not idle.
func (s PlayerState) Active() bool {
	switch s {
	case PlayerStatePlaying, PlayerStatePaused, PlayerStateBuffering, PlayerStateLoading:
		return true
	}
	return false
}

// Volume is a receiver or stream volume.
type Volume struct {
	Level        float64 `json:"level"`
	Muted        bool    `json:"muted"`
	ControlType  string  `json:"controlType,omitempty"`
	StepInterval float64 `json:"stepInterval,omitempty"`
}

// AppNamespace is one entry of an application's namespace list.
type AppNamespace struct {
	Name string `json:"name"`
}

// Application is a receiver-side running program.
type Application struct {
	AppID        string         `json:"appId"`
	DisplayName  string         `json:"displayName"`
	SessionID    string         `json:"sessionId"`
	TransportID  string         `json:"transportId"`
	StatusText   string         `json:"statusText"`
	Namespaces   []AppNamespace `json:"namespaces"`
	IsIdleScreen bool           `json:"isIdleScreen"`
}

// Supports reports whether the application listens on namespace.
func (a *Application) Supports(namespace string) bool {
	if a == nil {
		return false
	}
	for _, ns := range a.Namespaces {
		if ns.Name == namespace {
			return true
		}
	}
	return false
}

// ReceiverStatus is the latest device-asserted receiver state.
type ReceiverStatus struct {
	Applications  []Application `json:"applications,omitempty"`
	Volume        Volume        `json:"volume"`
	IsActiveInput bool          `json:"isActiveInput,omitempty"`
	IsStandBy     bool          `json:"isStandBy,omitempty"`
}

// App returns the running application with appID, or nil.
func (s *ReceiverStatus) App(appID string) *Application {
	if s == nil {
		return nil
	}
	for i := range s.Applications {
		if s.Applications[i].AppID == appID {
			return &s.Applications[i]
		}
	}
	return nil
}

// MediaApp returns the first running application that speaks the media
// namespace, or nil.
func (s *ReceiverStatus) MediaApp() *Application {
	if s == nil {
		return nil
	}
	for i := range s.Applications {
		if s.Applications[i].Supports(NamespaceMedia) {
			return &s.Applications[i]
		}
	}
	return nil
}

// ForegroundApp returns the first running application that is not the
// idle screen, or nil.
func (s *ReceiverStatus) ForegroundApp() *Application {
	if s == nil {
		return nil
	}
	for i := range s.Applications {
		if !s.Applications[i].IsIdleScreen {
			return &s.Applications[i]
		}
	}
	return nil
}

func (s *ReceiverStatus) sessionIDs() map[string]struct{} {
	ids := make(map[string]struct{})
	if s == nil {
		return ids
	}
	for _, app := range s.Applications {
		if app.SessionID != "" {
			ids[app.SessionID] = struct{}{}
		}
	}
	return ids
}

// MediaStatus is the latest device-asserted state of one media session.
type MediaStatus struct {
	MediaSessionID         int         `json:"mediaSessionId"`
	PlaybackRate           float64     `json:"playbackRate,omitempty"`
	PlayerState            PlayerState `json:"playerState"`
	IdleReason             string      `json:"idleReason,omitempty"`
	CurrentTime            float64     `json:"currentTime"`
	SupportedMediaCommands int         `json:"supportedMediaCommands,omitempty"`
	Volume                 Volume      `json:"volume"`
	Media                  *Media      `json:"media,omitempty"`
	CurrentItemID          int         `json:"currentItemId,omitempty"`
	LoadingItemID          int         `json:"loadingItemId,omitempty"`
	PreloadedItemID        int         `json:"preloadedItemId,omitempty"`
	RepeatMode             RepeatMode  `json:"repeatMode,omitempty"`
	ActiveTrackIDs         []int       `json:"activeTrackIds,omitempty"`
	Items                  []QueueItem `json:"items,omitempty"`
}

// ItemIDs returns the queue item ids carried by the status, in queue order.
func (s *MediaStatus) ItemIDs() []int {
	if s == nil {
		return nil
	}
	ids := make([]int, 0, len(s.Items))
	for _, it := range s.Items {
		ids = append(ids, it.ItemID)
	}
	return ids
}

// CastStatus represents current Chromecast playback state.
type CastStatus struct {
	PlayerState PlayerState // "PLAYING", "PAUSED", "IDLE", "BUFFERING"
	CurrentTime float64     // Current position in seconds
	Duration    float64     // Total duration in seconds
	Volume      float64     // Volume level (0.0 to 1.0)
	Muted       bool
	MediaTitle  string
	ContentType string
}

// NewCastStatus flattens receiver and media status into a CastStatus.
// Volume comes from the receiver, which is what the device buttons change.
func NewCastStatus(receiver *ReceiverStatus, media *MediaStatus) *CastStatus {
	status := &CastStatus{PlayerState: PlayerStateIdle}
	if receiver != nil {
		status.Volume = receiver.Volume.Level
		status.Muted = receiver.Volume.Muted
	}
	if media != nil {
		status.PlayerState = media.PlayerState
		status.CurrentTime = media.CurrentTime
		if media.Media != nil {
			if media.Media.Duration > 0 {
				status.Duration = media.Media.Duration
			}
			status.ContentType = media.Media.ContentType
			if media.Media.Metadata != nil {
				status.MediaTitle = media.Media.Metadata.Title
			}
		}
	}
	return status
}
