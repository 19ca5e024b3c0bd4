package castprotocol

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/vishen/go-chromecast/application"
	pb "github.com/vishen/go-chromecast/cast/proto"
)

type fakeApp struct {
	mu         sync.Mutex
	startErr   error
	updateErr  error
	reply      string
	updates    int
	msgFuncs   []application.CastMessageFunc
	paused     bool
	muted      bool
	closed     bool
	closedStop bool
}

func (f *fakeApp) Start(addr string, port int) error { return f.startErr }

// Update relays reply to the registered message funcs, the way
// go-chromecast relays a GET_STATUS answer.
func (f *fakeApp) Update() error {
	f.mu.Lock()
	f.updates++
	err, reply := f.updateErr, f.reply
	funcs := append([]application.CastMessageFunc(nil), f.msgFuncs...)
	f.mu.Unlock()

	if err != nil || reply == "" {
		return err
	}
	ns := mediaNamespace
	for _, fn := range funcs {
		fn(&pb.CastMessage{Namespace: &ns, PayloadUtf8: &reply})
	}
	return nil
}

func (f *fakeApp) AddMessageFunc(fn application.CastMessageFunc) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.msgFuncs = append(f.msgFuncs, fn)
}

func (f *fakeApp) Unpause() error { f.paused = false; return nil }

func (f *fakeApp) Pause() error { f.paused = true; return nil }

func (f *fakeApp) SetMuted(value bool) error { f.muted = value; return nil }

func (f *fakeApp) Close(stopMedia bool) error {
	f.closed = true
	f.closedStop = stopMedia
	return nil
}

type recordingListener struct {
	mu       sync.Mutex
	events   []string
	progress [][2]int64
}

func (r *recordingListener) add(ev string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *recordingListener) OnStatusUpdated()             { r.add("status") }
func (r *recordingListener) OnMetadataUpdated()           { r.add("metadata") }
func (r *recordingListener) OnQueueStatusUpdated()        { r.add("queue") }
func (r *recordingListener) OnPreloadStatusUpdated()      { r.add("preload") }
func (r *recordingListener) OnSendingRemoteMediaRequest() { r.add("request") }
func (r *recordingListener) OnAdBreakStatusUpdated()      { r.add("adbreak") }

func (r *recordingListener) OnProgressUpdated(progressMs, durationMs int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.progress = append(r.progress, [2]int64{progressMs, durationMs})
}

func (r *recordingListener) snapshot() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.events...)
}

const playingStatusJSON = `{"type":"MEDIA_STATUS","requestId":0,"status":[{
	"mediaSessionId":1,"playerState":"PLAYING","currentTime":12.5,"currentItemId":7,
	"volume":{"level":0.5,"muted":true},
	"media":{"contentId":"http://host/movie.mp4","contentType":"video/mp4","streamType":"BUFFERED","duration":125.2,
		"metadata":{"metadataType":1,"title":"Movie","subtitle":"Part 1","images":[{"url":"http://host/a.jpg"},{"url":"http://host/b.jpg"}]}}}]}`

func TestParseDeviceAddr(t *testing.T) {
	tests := []struct {
		name     string
		addr     string
		wantHost string
		wantPort int
		wantErr  bool
	}{
		{name: "url with port", addr: "http://192.168.1.10:8010", wantHost: "192.168.1.10", wantPort: 8010},
		{name: "host and port", addr: "192.168.1.10:8009", wantHost: "192.168.1.10", wantPort: 8009},
		{name: "bare host gets default port", addr: "livingroom.local", wantHost: "livingroom.local", wantPort: 8009},
		{name: "empty", addr: " ", wantErr: true},
		{name: "bad port", addr: "host:abc", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			host, port, err := parseDeviceAddr(tt.addr)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("parseDeviceAddr(%q) err = nil, want error", tt.addr)
				}
				return
			}
			if err != nil {
				t.Fatalf("parseDeviceAddr(%q) err = %v", tt.addr, err)
			}
			if host != tt.wantHost || port != tt.wantPort {
				t.Fatalf("parseDeviceAddr(%q) = %s:%d, want %s:%d", tt.addr, host, port, tt.wantHost, tt.wantPort)
			}
		})
	}
}

func TestConnectFailureIsWrapped(t *testing.T) {
	startErr := errors.New("refused")
	c := newCastClient(&fakeApp{startErr: startErr}, "tv", 8009)

	err := c.Connect()
	require.ErrorIs(t, err, startErr)
	require.False(t, c.IsConnected())
}

func TestWatchRequiresConnection(t *testing.T) {
	c := newCastClient(&fakeApp{}, "tv", 8009)
	require.ErrorIs(t, c.Watch(context.Background()), ErrNotConnected)
}

func TestHandleMediaPayloadDecodesStatus(t *testing.T) {
	c := newCastClient(&fakeApp{}, "tv", 8009)
	l := &recordingListener{}
	c.AddStatusListener(l)

	c.handleMediaPayload(playingStatusJSON)

	st := c.CurrentStatus()
	require.NotNil(t, st)
	require.Equal(t, 7, st.CurrentItemID)
	require.Equal(t, PlayerStatePlaying, st.PlayerState)
	require.Equal(t, IdleReasonNone, st.IdleReason)
	require.True(t, st.Muted)
	require.EqualValues(t, 12500, st.StreamPositionMs)
	require.NotNil(t, st.MediaInfo)
	require.Equal(t, "http://host/movie.mp4", st.MediaInfo.ContentID)
	require.EqualValues(t, 125200, st.MediaInfo.StreamDurationMs)
	require.Equal(t, "Movie", st.MediaInfo.Metadata.Title)
	require.Equal(t, "Part 1", st.MediaInfo.Metadata.Subtitle)
	require.Equal(t, []Image{{URL: "http://host/a.jpg"}, {URL: "http://host/b.jpg"}}, st.MediaInfo.Metadata.Images)

	require.Equal(t, []string{"status", "metadata"}, l.snapshot())
}

func TestStatusWithoutMediaKeepsPreviousMediaInfo(t *testing.T) {
	c := newCastClient(&fakeApp{}, "tv", 8009)
	l := &recordingListener{}
	c.AddStatusListener(l)

	c.handleMediaPayload(playingStatusJSON)
	c.handleMediaPayload(`{"type":"MEDIA_STATUS","status":[{"mediaSessionId":1,"playerState":"IDLE","idleReason":"FINISHED","currentItemId":7}]}`)

	st := c.CurrentStatus()
	require.NotNil(t, st.MediaInfo)
	require.Equal(t, "Movie", st.MediaInfo.Metadata.Title)
	require.Equal(t, IdleReasonFinished, st.IdleReason)
	// Unchanged media must not re-trigger the metadata hook.
	require.Equal(t, []string{"status", "metadata", "status"}, l.snapshot())

	// A different media session without media has no media info.
	c.handleMediaPayload(`{"type":"MEDIA_STATUS","status":[{"mediaSessionId":2,"playerState":"IDLE","currentItemId":8}]}`)
	require.Nil(t, c.CurrentStatus().MediaInfo)
}

func TestEmptyStatusListClearsStatus(t *testing.T) {
	c := newCastClient(&fakeApp{}, "tv", 8009)
	c.handleMediaPayload(playingStatusJSON)
	c.handleMediaPayload(`{"type":"MEDIA_STATUS","status":[]}`)
	require.Nil(t, c.CurrentStatus())
}

func TestOtherHooks(t *testing.T) {
	c := newCastClient(&fakeApp{}, "tv", 8009)
	l := &recordingListener{}
	c.AddStatusListener(l)

	c.handleMediaPayload(`{"type":"QUEUE_CHANGE","changeType":"INSERT"}`)
	c.handleMediaPayload(`{"type":"MEDIA_STATUS","status":[{"mediaSessionId":3,"playerState":"PLAYING","currentItemId":1,"preloadedItemId":2,"breakStatus":{"currentBreakTime":3}}]}`)
	c.handleMediaPayload(`not json`)

	require.Equal(t, []string{"queue", "status", "preload", "adbreak"}, l.snapshot())
}

func TestHandleMessageFiltersNamespace(t *testing.T) {
	c := newCastClient(&fakeApp{}, "tv", 8009)
	l := &recordingListener{}
	c.AddStatusListener(l)

	ns := "urn:x-cast:com.google.cast.receiver"
	payload := playingStatusJSON
	c.handleMessage(&pb.CastMessage{Namespace: &ns, PayloadUtf8: &payload})
	require.Empty(t, l.snapshot())

	ns = mediaNamespace
	c.handleMessage(&pb.CastMessage{Namespace: &ns, PayloadUtf8: &payload})
	require.Equal(t, []string{"status", "metadata"}, l.snapshot())
}

const pausedReplyJSON = `{"type":"MEDIA_STATUS","requestId":3,"status":[{
	"mediaSessionId":1,"playerState":"PAUSED","currentTime":30,"currentItemId":4,
	"volume":{"level":0.3,"muted":false},
	"media":{"contentId":"http://host/song.mp3","contentType":"audio/mpeg","duration":200,
		"metadata":{"metadataType":3,"title":"Song"}}}]}`

func TestPollReplyOnlyNotifiesOnChange(t *testing.T) {
	app := &fakeApp{reply: pausedReplyJSON}
	c := newCastClient(app, "tv", 8009)
	app.AddMessageFunc(c.handleMessage)
	l := &recordingListener{}
	c.AddStatusListener(l)

	c.poll()
	c.poll()

	require.Equal(t, []string{"request", "status", "metadata", "request"}, l.snapshot())
	require.Equal(t, 2, app.updates)

	st := c.CurrentStatus()
	require.Equal(t, PlayerStatePaused, st.PlayerState)
	require.EqualValues(t, 200000, st.MediaInfo.StreamDurationMs)
}

func TestPollAfterEmptyStatusStaysCleared(t *testing.T) {
	app := &fakeApp{reply: `{"type":"MEDIA_STATUS","requestId":4,"status":[]}`}
	c := newCastClient(app, "tv", 8009)
	app.AddMessageFunc(c.handleMessage)
	l := &recordingListener{}
	c.AddStatusListener(l)
	c.AddProgressListener(l)

	c.handleMediaPayload(playingStatusJSON)
	c.handleMediaPayload(`{"type":"MEDIA_STATUS","requestId":0,"status":[]}`)
	require.Nil(t, c.CurrentStatus())

	c.poll()
	c.poll()
	c.progressTick()

	require.Nil(t, c.CurrentStatus())
	require.Equal(t, []string{"status", "metadata", "status", "request", "request"}, l.snapshot())
	require.Empty(t, l.progress)
}

func TestPollReplyKeepsMediaStreamMute(t *testing.T) {
	reply := strings.Replace(playingStatusJSON, `"requestId":0`, `"requestId":9`, 1)
	app := &fakeApp{reply: reply}
	c := newCastClient(app, "tv", 8009)
	app.AddMessageFunc(c.handleMessage)
	l := &recordingListener{}
	c.AddStatusListener(l)

	c.handleMediaPayload(playingStatusJSON)
	require.True(t, c.CurrentStatus().Muted)

	c.poll()

	require.True(t, c.CurrentStatus().Muted)
	require.Equal(t, []string{"status", "metadata", "request"}, l.snapshot())
}

func TestPollErrorKeepsStatus(t *testing.T) {
	app := &fakeApp{updateErr: errors.New("timeout")}
	c := newCastClient(app, "tv", 8009)
	c.handleMediaPayload(playingStatusJSON)

	c.poll()
	require.NotNil(t, c.CurrentStatus())
}

func TestProgressTickExtrapolatesWhilePlaying(t *testing.T) {
	c := newCastClient(&fakeApp{}, "tv", 8009)
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return base }
	l := &recordingListener{}
	c.AddProgressListener(l)

	c.progressTick()
	require.Empty(t, l.progress, "no status yet")

	c.handleMediaPayload(playingStatusJSON)
	c.now = func() time.Time { return base.Add(2 * time.Second) }
	c.progressTick()

	require.Equal(t, [][2]int64{{14500, 125200}}, l.progress)
}

func TestWatchRegistersHookAndStops(t *testing.T) {
	app := &fakeApp{}
	c := newCastClient(app, "tv", 8009)
	c.PollInterval = 0
	c.ProgressInterval = 5 * time.Millisecond
	require.NoError(t, c.Connect())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Watch(ctx) }()

	require.Eventually(t, func() bool {
		app.mu.Lock()
		defer app.mu.Unlock()
		return len(app.msgFuncs) == 1
	}, time.Second, 5*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Watch did not return after cancel")
	}
}

func TestControls(t *testing.T) {
	app := &fakeApp{}
	c := newCastClient(app, "tv", 8009)

	require.NoError(t, c.Pause())
	require.True(t, app.paused)
	require.NoError(t, c.Play())
	require.False(t, app.paused)
	require.NoError(t, c.SetMuted(true))
	require.True(t, app.muted)
	require.NoError(t, c.Close(true))
	require.True(t, app.closed)
	require.True(t, app.closedStop)
	require.Equal(t, "tv", c.Host())
}
