// Package forwarder translates media session callbacks into named
// messages on a notification channel.
package forwarder

import (
	"github.com/rs/zerolog"
	"go2tv.app/castbridge/castprotocol"
	"go2tv.app/castbridge/notify"
)

// StatusSource exposes the session's latest media status. A nil status is
// a normal state, e.g. before any media was loaded.
type StatusSource interface {
	CurrentStatus() *castprotocol.Status
}

// Dispatcher runs closures one at a time, in submission order.
type Dispatcher interface {
	Post(fn func())
}

// Forwarder listens to one media session and forwards a normalized view
// of it. Its state is only touched from closures run by the dispatcher.
type Forwarder struct {
	source     StatusSource
	channel    notify.Channel
	dispatcher Dispatcher
	log        zerolog.Logger

	durationSentinel bool

	hasItem         bool
	currentItemID   int
	playbackStarted bool
	playbackEnded   bool
}

var (
	_ castprotocol.StatusListener   = (*Forwarder)(nil)
	_ castprotocol.ProgressListener = (*Forwarder)(nil)
)

// Option configures a Forwarder.
type Option func(*Forwarder)

func WithLogger(l zerolog.Logger) Option {
	return func(f *Forwarder) {
		f.log = l
	}
}

// WithDurationSentinel reports streamDuration as -1 when media info is
// missing instead of leaving the field out.
func WithDurationSentinel() Option {
	return func(f *Forwarder) {
		f.durationSentinel = true
	}
}

// New returns a Forwarder for a single session.
func New(source StatusSource, channel notify.Channel, dispatcher Dispatcher, opts ...Option) *Forwarder {
	f := &Forwarder{
		source:     source,
		channel:    channel,
		dispatcher: dispatcher,
		log:        zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// OnStatusUpdated implements castprotocol.StatusListener.
func (f *Forwarder) OnStatusUpdated() {
	f.dispatcher.Post(f.statusUpdated)
}

func (f *Forwarder) statusUpdated() {
	st := f.source.CurrentStatus()
	if st == nil {
		return
	}

	if !f.hasItem || f.currentItemID != st.CurrentItemID {
		f.hasItem = true
		f.currentItemID = st.CurrentItemID
		f.playbackStarted = false
		f.playbackEnded = false
		f.emit(MediaMetadataChanged, newMetadataChanged(st))
	}

	f.emit(MediaStatusUpdated, newStatusMessage(st, f.durationSentinel))

	if !f.playbackStarted && st.PlayerState == castprotocol.PlayerStatePlaying {
		f.emit(MediaPlaybackStarted, newStatusMessage(st, f.durationSentinel))
		f.playbackStarted = true
	}

	if !f.playbackEnded && st.IdleReason == castprotocol.IdleReasonFinished {
		f.emit(MediaPlaybackEnded, newStatusMessage(st, f.durationSentinel))
		f.playbackEnded = true
	}
}

// OnProgressUpdated implements castprotocol.ProgressListener.
func (f *Forwarder) OnProgressUpdated(progressMs, durationMs int64) {
	f.dispatcher.Post(func() {
		st := f.source.CurrentStatus()
		if st == nil || st.PlayerState != castprotocol.PlayerStatePlaying {
			return
		}
		f.emit(MediaProgressUpdated, newProgressMessage(progressMs, durationMs))
	})
}

func (f *Forwarder) OnMetadataUpdated()           {}
func (f *Forwarder) OnQueueStatusUpdated()        {}
func (f *Forwarder) OnPreloadStatusUpdated()      {}
func (f *Forwarder) OnSendingRemoteMediaRequest() {}
func (f *Forwarder) OnAdBreakStatusUpdated()      {}

func (f *Forwarder) emit(name string, payload any) {
	f.log.Debug().Str("Method", "emit").Str("Event", name).Int("Item", f.currentItemID).Msg("forwarding")
	f.channel.Emit(notify.Event{Name: name, Payload: payload})
}
