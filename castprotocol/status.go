package castprotocol

import "strings"

// PlayerState mirrors the Cast SDK player state codes.
type PlayerState int

const (
	PlayerStateUnknown PlayerState = iota
	PlayerStateIdle
	PlayerStatePlaying
	PlayerStatePaused
	PlayerStateBuffering
	PlayerStateLoading
)

// IdleReason mirrors the Cast SDK idle reason codes.
type IdleReason int

const (
	IdleReasonNone IdleReason = iota
	IdleReasonFinished
	IdleReasonCanceled
	IdleReasonInterrupted
	IdleReasonError
)

// Status is a snapshot of the media session on the receiver.
type Status struct {
	CurrentItemID    int
	PlayerState      PlayerState
	IdleReason       IdleReason
	Muted            bool
	StreamPositionMs int64
	MediaInfo        *MediaInfo // nil until the receiver reports media
}

// MediaInfo describes the item loaded on the receiver.
type MediaInfo struct {
	ContentID        string
	ContentType      string
	StreamDurationMs int64
	Metadata         Metadata
}

// Metadata holds the displayable fields of a media item.
type Metadata struct {
	Title    string
	Subtitle string
	Images   []Image
}

type Image struct {
	URL string
}

// Clone returns a deep copy so callers can hold a snapshot
// while the session keeps updating.
func (s *Status) Clone() *Status {
	if s == nil {
		return nil
	}
	out := *s
	if s.MediaInfo != nil {
		mi := *s.MediaInfo
		mi.Metadata.Images = append([]Image(nil), s.MediaInfo.Metadata.Images...)
		out.MediaInfo = &mi
	}
	return &out
}

func (p PlayerState) String() string {
	switch p {
	case PlayerStateIdle:
		return "IDLE"
	case PlayerStatePlaying:
		return "PLAYING"
	case PlayerStatePaused:
		return "PAUSED"
	case PlayerStateBuffering:
		return "BUFFERING"
	case PlayerStateLoading:
		return "LOADING"
	default:
		return "UNKNOWN"
	}
}

func (r IdleReason) String() string {
	switch r {
	case IdleReasonFinished:
		return "FINISHED"
	case IdleReasonCanceled:
		return "CANCELLED"
	case IdleReasonInterrupted:
		return "INTERRUPTED"
	case IdleReasonError:
		return "ERROR"
	default:
		return "NONE"
	}
}

// ParsePlayerState converts the receiver's playerState string.
func ParsePlayerState(s string) PlayerState {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "IDLE":
		return PlayerStateIdle
	case "PLAYING":
		return PlayerStatePlaying
	case "PAUSED":
		return PlayerStatePaused
	case "BUFFERING":
		return PlayerStateBuffering
	case "LOADING":
		return PlayerStateLoading
	default:
		return PlayerStateUnknown
	}
}

// ParseIdleReason converts the receiver's idleReason string. Receivers
// spell it "CANCELLED", some senders "CANCELED"; both are accepted.
func ParseIdleReason(s string) IdleReason {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "FINISHED":
		return IdleReasonFinished
	case "CANCELLED", "CANCELED":
		return IdleReasonCanceled
	case "INTERRUPTED":
		return IdleReasonInterrupted
	case "ERROR":
		return IdleReasonError
	default:
		return IdleReasonNone
	}
}
