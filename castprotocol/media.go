package castprotocol

// StreamType describes how the receiver should buffer the content.
type StreamType string

const (
	StreamTypeBuffered StreamType = "BUFFERED"
	StreamTypeLive     StreamType = "LIVE"
	StreamTypeNone     StreamType = "NONE"
)

// Metadata types understood by the default media receiver.
const (
	MetadataGeneric = 0
	MetadataMovie   = 1
	MetadataTVShow  = 2
	MetadataMusic   = 3
	MetadataPhoto   = 4
)

// Media describes a piece of content the receiver can load.
type Media struct {
	ContentID      string          `json:"contentId"`
	ContentType    string          `json:"contentType"`
	StreamType     StreamType      `json:"streamType,omitempty"`
	Duration       float64         `json:"duration,omitempty"`
	Metadata       *MediaMetadata  `json:"metadata,omitempty"`
	Tracks         []MediaTrack    `json:"tracks,omitempty"`
	TextTrackStyle *TextTrackStyle `json:"textTrackStyle,omitempty"`
	CustomData     map[string]any  `json:"customData,omitempty"`
}

// MediaMetadata contains metadata about the media.
type MediaMetadata struct {
	MetadataType int     `json:"metadataType"`
	Title        string  `json:"title,omitempty"`
	Subtitle     string  `json:"subtitle,omitempty"`
	Images       []Image `json:"images,omitempty"`
}

// Image is artwork attached to media metadata.
type Image struct {
	URL    string `json:"url"`
	Width  int    `json:"width,omitempty"`
	Height int    `json:"height,omitempty"`
}

// MediaTrack represents a media track (audio, video, or text/subtitles).
// For subtitles, use Type="TEXT" and SubType="SUBTITLES".
type MediaTrack struct {
	TrackID     int    `json:"trackId"`
	Type        string `json:"type"`                       // "TEXT", "AUDIO", "VIDEO"
	SubType     string `json:"subtype,omitempty"`          // "SUBTITLES", "CAPTIONS", etc.
	ContentID   string `json:"trackContentId,omitempty"`   // URL to the track content (e.g., WebVTT file)
	ContentType string `json:"trackContentType,omitempty"` // MIME type (e.g., "text/vtt")
	Name        string `json:"name,omitempty"`
	Language    string `json:"language,omitempty"`
}

// TextTrackStyle controls how the receiver renders text tracks.
type TextTrackStyle struct {
	BackgroundColor string  `json:"backgroundColor,omitempty"`
	ForegroundColor string  `json:"foregroundColor,omitempty"`
	EdgeType        string  `json:"edgeType,omitempty"`
	FontScale       float64 `json:"fontScale,omitempty"`
}

// NewSubtitleTrack creates a MediaTrack configured for WebVTT subtitles.
func NewSubtitleTrack(trackID int, url, name, language string) MediaTrack {
	return MediaTrack{
		TrackID:     trackID,
		Type:        "TEXT",
		SubType:     "SUBTITLES",
		ContentID:   url,
		ContentType: "text/vtt",
		Name:        name,
		Language:    language,
	}
}

// QueueItem wraps a Media with the item id assigned by the receiver.
// ItemID is zero until the receiver has accepted the item.
type QueueItem struct {
	ItemID         int     `json:"itemId,omitempty"`
	Media          *Media  `json:"media,omitempty"`
	Autoplay       *bool   `json:"autoplay,omitempty"`
	StartTime      float64 `json:"startTime,omitempty"`
	PreloadTime    float64 `json:"preloadTime,omitempty"`
	ActiveTrackIDs []int   `json:"activeTrackIds,omitempty"`
}

// RepeatMode is the queue repeat behaviour. Shuffle is set independently.
type RepeatMode string

const (
	RepeatOff    RepeatMode = "REPEAT_OFF"
	RepeatAll    RepeatMode = "REPEAT_ALL"
	RepeatSingle RepeatMode = "REPEAT_SINGLE"
	// RepeatAllAndShuffle is only ever reported by receivers.
	RepeatAllAndShuffle RepeatMode = "REPEAT_ALL_AND_SHUFFLE"
)

// Valid reports whether m can be sent to a receiver.
func (m RepeatMode) Valid() bool {
	switch m {
	case RepeatOff, RepeatAll, RepeatSingle:
		return true
	}
	return false
}

// ParseRepeatMode accepts "off", "all", "single" or the wire names.
func ParseRepeatMode(s string) (RepeatMode, error) {
	switch s {
	case "", "off", "OFF", string(RepeatOff):
		return RepeatOff, nil
	case "all", "ALL", string(RepeatAll):
		return RepeatAll, nil
	case "single", "SINGLE", string(RepeatSingle):
		return RepeatSingle, nil
	}
	return "", invalidArgument("ParseRepeatMode", "unknown repeat mode %q", s)
}
