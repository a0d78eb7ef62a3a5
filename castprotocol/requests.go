package castprotocol

// Request payloads. Field names and casing follow what receivers parse;
// optional fields are omitted rather than sent as null.

type connectRequest struct {
	Header
	UserAgent string `json:"userAgent,omitempty"`
}

type launchRequest struct {
	Header
	AppID string `json:"appId"`
}

type stopAppRequest struct {
	Header
	SessionID string `json:"sessionId"`
}

type volumeRequest struct {
	Level *float64 `json:"level,omitempty"`
	Muted *bool    `json:"muted,omitempty"`
}

type setVolumeRequest struct {
	Header
	Volume volumeRequest `json:"volume"`
}

type appAvailabilityRequest struct {
	Header
	AppIDs []string `json:"appId"`
}

type loadRequest struct {
	Header
	SessionID      string         `json:"sessionId,omitempty"`
	Media          Media          `json:"media"`
	Autoplay       bool           `json:"autoplay"`
	CurrentTime    float64        `json:"currentTime,omitempty"`
	ActiveTrackIDs []int          `json:"activeTrackIds,omitempty"`
	CustomData     map[string]any `json:"customData,omitempty"`
}

type mediaCommand struct {
	Header
	MediaSessionID int `json:"mediaSessionId,omitempty"`
}

type seekRequest struct {
	Header
	MediaSessionID int     `json:"mediaSessionId"`
	CurrentTime    float64 `json:"currentTime"`
	ResumeState    string  `json:"resumeState,omitempty"`
}

type mediaVolumeRequest struct {
	Header
	MediaSessionID int           `json:"mediaSessionId"`
	Volume         volumeRequest `json:"volume"`
}

type editTracksRequest struct {
	Header
	MediaSessionID int   `json:"mediaSessionId"`
	ActiveTrackIDs []int `json:"activeTrackIds"`
}

type queueLoadRequest struct {
	Header
	SessionID   string      `json:"sessionId,omitempty"`
	Items       []QueueItem `json:"items"`
	StartIndex  int         `json:"startIndex"`
	RepeatMode  RepeatMode  `json:"repeatMode"`
	CurrentTime float64     `json:"currentTime,omitempty"`
}

type queueInsertRequest struct {
	Header
	MediaSessionID int         `json:"mediaSessionId"`
	Items          []QueueItem `json:"items"`
	InsertBefore   int         `json:"insertBefore,omitempty"`
}

type queueRemoveRequest struct {
	Header
	MediaSessionID int   `json:"mediaSessionId"`
	ItemIDs        []int `json:"itemIds"`
}

type queueUpdateRequest struct {
	Header
	MediaSessionID int        `json:"mediaSessionId"`
	Jump           int        `json:"jump,omitempty"`
	Shuffle        *bool      `json:"shuffle,omitempty"`
	RepeatMode     RepeatMode `json:"repeatMode,omitempty"`
}

type queueGetItemsRequest struct {
	Header
	MediaSessionID int   `json:"mediaSessionId"`
	ItemIDs        []int `json:"itemIds"`
}
