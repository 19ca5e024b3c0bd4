package forwarder

import "go2tv.app/castbridge/castprotocol"

// Message names emitted on the notification channel.
const (
	MediaMetadataChanged = "MEDIA_METADATA_CHANGED"
	MediaStatusUpdated   = "MEDIA_STATUS_UPDATED"
	MediaPlaybackStarted = "MEDIA_PLAYBACK_STARTED"
	MediaPlaybackEnded   = "MEDIA_PLAYBACK_ENDED"
	MediaProgressUpdated = "MEDIA_PROGRESS_UPDATED"
)

// MetadataChanged is the MEDIA_METADATA_CHANGED payload.
type MetadataChanged struct {
	ContentID string   `json:"contentId"`
	Metadata  Metadata `json:"metadata"`
}

type Metadata struct {
	Title    string   `json:"title"`
	Subtitle string   `json:"subtitle"`
	Images   []string `json:"images"`
}

// StatusMessage is the payload of MEDIA_STATUS_UPDATED,
// MEDIA_PLAYBACK_STARTED and MEDIA_PLAYBACK_ENDED.
type StatusMessage struct {
	MediaStatus MediaStatus `json:"mediaStatus"`
}

type MediaStatus struct {
	PlayerState    int  `json:"playerState"`
	IdleReason     int  `json:"idleReason"`
	Muted          bool `json:"muted"`
	StreamPosition int  `json:"streamPosition"`
	// StreamDuration is nil when the receiver reported no media info.
	StreamDuration *int `json:"streamDuration,omitempty"`
}

// ProgressMessage is the MEDIA_PROGRESS_UPDATED payload.
type ProgressMessage struct {
	MediaProgress Progress `json:"mediaProgress"`
}

type Progress struct {
	Progress int `json:"progress"`
	Duration int `json:"duration"`
}

func newMetadataChanged(st *castprotocol.Status) MetadataChanged {
	msg := MetadataChanged{
		Metadata: Metadata{Images: []string{}},
	}
	if st.MediaInfo == nil {
		return msg
	}

	msg.ContentID = st.MediaInfo.ContentID
	msg.Metadata.Title = st.MediaInfo.Metadata.Title
	msg.Metadata.Subtitle = st.MediaInfo.Metadata.Subtitle
	for _, img := range st.MediaInfo.Metadata.Images {
		msg.Metadata.Images = append(msg.Metadata.Images, img.URL)
	}
	return msg
}

// newStatusMessage builds a fresh payload on every call. Sinks may hold on
// to a payload after Emit returns, so none is shared between emissions.
func newStatusMessage(st *castprotocol.Status, durationSentinel bool) StatusMessage {
	ms := MediaStatus{
		PlayerState:    int(st.PlayerState),
		IdleReason:     int(st.IdleReason),
		Muted:          st.Muted,
		StreamPosition: msToSeconds(st.StreamPositionMs),
	}

	switch {
	case st.MediaInfo != nil:
		d := msToSeconds(st.MediaInfo.StreamDurationMs)
		ms.StreamDuration = &d
	case durationSentinel:
		d := -1
		ms.StreamDuration = &d
	}

	return StatusMessage{MediaStatus: ms}
}

func newProgressMessage(progressMs, durationMs int64) ProgressMessage {
	return ProgressMessage{
		MediaProgress: Progress{
			Progress: msToSeconds(progressMs),
			Duration: msToSeconds(durationMs),
		},
	}
}

// msToSeconds truncates toward zero.
func msToSeconds(ms int64) int {
	return int(ms / 1000)
}
