package castprotocol

import "slices"

// LoadOption adjusts a LOAD request.
type LoadOption func(*loadRequest)

// subtitleTrackID is the track id given to the subtitle track added by
// WithSubtitles.
const subtitleTrackID = 1

// WithStartTime starts playback at seconds from the beginning.
func WithStartTime(seconds float64) LoadOption {
	return func(r *loadRequest) { r.CurrentTime = seconds }
}

// WithAutoplay controls whether playback starts once loaded. The default
// is true.
func WithAutoplay(autoplay bool) LoadOption {
	return func(r *loadRequest) { r.Autoplay = autoplay }
}

// WithActiveTracks enables the tracks with the given ids.
func WithActiveTracks(ids ...int) LoadOption {
	return func(r *loadRequest) { r.ActiveTrackIDs = slices.Clone(ids) }
}

// WithSubtitles adds a WebVTT text track and enables it.
func WithSubtitles(url, name, language string) LoadOption {
	return func(r *loadRequest) {
		if url == "" {
			return
		}
		if name == "" {
			name = "Subtitles"
		}
		if language == "" {
			language = "en"
		}
		r.Media.Tracks = append(slices.Clip(r.Media.Tracks), NewSubtitleTrack(subtitleTrackID, url, name, language))
		r.ActiveTrackIDs = append(slices.Clip(r.ActiveTrackIDs), subtitleTrackID)
	}
}

// WithLive marks the stream as live.
func WithLive() LoadOption {
	return func(r *loadRequest) { r.Media.StreamType = StreamTypeLive }
}

// WithCustomData attaches receiver-specific data to the request.
func WithCustomData(data map[string]any) LoadOption {
	return func(r *loadRequest) { r.CustomData = data }
}

// NewMedia describes a buffered stream with an optional title.
func NewMedia(contentID, contentType, title string) Media {
	m := Media{
		ContentID:   contentID,
		ContentType: contentType,
		StreamType:  StreamTypeBuffered,
	}
	if title != "" {
		m.Metadata = &MediaMetadata{MetadataType: MetadataGeneric, Title: title}
	}
	return m
}
