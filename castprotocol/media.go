package castprotocol

import (
	"encoding/json"
	"fmt"
	"math"
)

const mediaNamespace = "urn:x-cast:com.google.cast.media"

// mediaMessage is the subset of a media namespace message we decode.
// go-chromecast's cast.Media keeps media as a value, so absence of the
// "media" object cannot be told apart from an empty one; we need that.
type mediaMessage struct {
	Type string `json:"type"`
	// RequestID is zero for receiver broadcasts and set on replies to
	// our own requests.
	RequestID int           `json:"requestId"`
	Status    []mediaStatus `json:"status"`
}

type mediaStatus struct {
	MediaSessionID  int             `json:"mediaSessionId"`
	PlayerState     string          `json:"playerState"`
	IdleReason      string          `json:"idleReason"`
	CurrentTime     float64         `json:"currentTime"`
	CurrentItemID   int             `json:"currentItemId"`
	PreloadedItemID int             `json:"preloadedItemId"`
	BreakStatus     json.RawMessage `json:"breakStatus,omitempty"`
	Volume          struct {
		Level float64 `json:"level"`
		Muted bool    `json:"muted"`
	} `json:"volume"`
	Media *mediaItem `json:"media,omitempty"`
}

type mediaItem struct {
	ContentID   string  `json:"contentId"`
	ContentType string  `json:"contentType"`
	StreamType  string  `json:"streamType"`
	Duration    float64 `json:"duration"`
	Metadata    struct {
		MetadataType int    `json:"metadataType"`
		Title        string `json:"title"`
		Subtitle     string `json:"subtitle"`
		Images       []struct {
			URL string `json:"url"`
		} `json:"images"`
	} `json:"metadata"`
}

func decodeMediaMessage(payload string) (*mediaMessage, error) {
	var msg mediaMessage
	if err := json.Unmarshal([]byte(payload), &msg); err != nil {
		return nil, fmt.Errorf("decode media message: %w", err)
	}
	return &msg, nil
}

// toStatus converts a wire status into a Status. prev supplies the media
// info when the receiver omits it for an unchanged media session.
func (m *mediaStatus) toStatus(prev *Status, prevSessionID int) *Status {
	st := &Status{
		CurrentItemID:    m.CurrentItemID,
		PlayerState:      ParsePlayerState(m.PlayerState),
		IdleReason:       ParseIdleReason(m.IdleReason),
		Muted:            m.Volume.Muted,
		StreamPositionMs: secondsToMs(m.CurrentTime),
	}

	switch {
	case m.Media != nil:
		st.MediaInfo = m.Media.toMediaInfo()
	case prev != nil && prev.MediaInfo != nil && prevSessionID == m.MediaSessionID:
		st.MediaInfo = prev.Clone().MediaInfo
	}

	return st
}

func (mi *mediaItem) toMediaInfo() *MediaInfo {
	info := &MediaInfo{
		ContentID:        mi.ContentID,
		ContentType:      mi.ContentType,
		StreamDurationMs: secondsToMs(mi.Duration),
		Metadata: Metadata{
			Title:    mi.Metadata.Title,
			Subtitle: mi.Metadata.Subtitle,
		},
	}
	for _, img := range mi.Metadata.Images {
		info.Metadata.Images = append(info.Metadata.Images, Image{URL: img.URL})
	}
	return info
}

func secondsToMs(s float64) int64 {
	if s <= 0 {
		return 0
	}
	return int64(math.Round(s * 1000))
}

func sameMediaInfo(a, b *MediaInfo) bool {
	if a == nil || b == nil {
		return a == b
	}
	if a.ContentID != b.ContentID || a.Metadata.Title != b.Metadata.Title ||
		a.Metadata.Subtitle != b.Metadata.Subtitle || len(a.Metadata.Images) != len(b.Metadata.Images) {
		return false
	}
	for i := range a.Metadata.Images {
		if a.Metadata.Images[i] != b.Metadata.Images[i] {
			return false
		}
	}
	return true
}

func sameStatus(a, b *Status) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.CurrentItemID == b.CurrentItemID &&
		a.PlayerState == b.PlayerState &&
		a.IdleReason == b.IdleReason &&
		a.Muted == b.Muted &&
		a.StreamPositionMs == b.StreamPositionMs &&
		sameMediaInfo(a.MediaInfo, b.MediaInfo) &&
		durationOf(a) == durationOf(b)
}

func durationOf(s *Status) int64 {
	if s.MediaInfo == nil {
		return -1
	}
	return s.MediaInfo.StreamDurationMs
}
