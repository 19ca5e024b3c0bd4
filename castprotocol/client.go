package castprotocol

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/vishen/go-chromecast/application"
	"github.com/vishen/go-chromecast/cast"
	pb "github.com/vishen/go-chromecast/cast/proto"
)

const (
	defaultPort              = 8009
	defaultConnectionRetries = 5
	// DefaultProgressInterval matches the Cast SDK progress listener default.
	DefaultProgressInterval = time.Second
	DefaultPollInterval     = 5 * time.Second
)

// ErrNotConnected is returned by Watch before Connect succeeded.
var ErrNotConnected = errors.New("chromecast: not connected")

// castApp is the part of go-chromecast's Application the client drives.
type castApp interface {
	Start(addr string, port int) error
	Update() error
	AddMessageFunc(f application.CastMessageFunc)
	Unpause() error
	Pause() error
	SetMuted(value bool) error
	Close(stopMedia bool) error
}

// CastClient is a media session on a Chromecast receiver. It keeps the
// latest media status and fans session notifications out to listeners.
type CastClient struct {
	app         castApp
	mu          sync.RWMutex
	host        string
	port        int
	connected   bool
	Logger      zerolog.Logger
	LogOutput   io.Writer
	initLogOnce sync.Once

	// PollInterval is how often GET_STATUS is sent while watching.
	// Zero disables polling and relies on receiver broadcasts only.
	PollInterval time.Duration
	// ProgressInterval is the progress listener cadence. Zero disables it.
	ProgressInterval time.Duration

	stateMu   sync.RWMutex
	status    *Status
	sessionID int
	statusAt  time.Time
	now       func() time.Time

	lmu               sync.RWMutex
	statusListeners   []StatusListener
	progressListeners []ProgressListener
	hookOnce          sync.Once
}

// ClientOption configures a CastClient.
type ClientOption func(*clientOptions)

type clientOptions struct {
	retries int
}

// WithConnectionRetries sets how many times the connection is retried.
// Slow TVs need a few attempts to wake up.
func WithConnectionRetries(n int) ClientOption {
	return func(o *clientOptions) {
		o.retries = n
	}
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

// NewCastClient creates a client for deviceAddr, which can be "host",
// "host:port" or "http://host:port".
func NewCastClient(deviceAddr string, opts ...ClientOption) (*CastClient, error) {
	host, port, err := parseDeviceAddr(deviceAddr)
	if err != nil {
		return nil, err
	}

	o := clientOptions{retries: defaultConnectionRetries}
	for _, opt := range opts {
		opt(&o)
	}

	conn := cast.NewConnection()
	app := application.NewApplication(
		application.WithConnection(conn),
		application.WithConnectionRetries(o.retries),
	)

	return newCastClient(app, host, port), nil
}

func newCastClient(app castApp, host string, port int) *CastClient {
	return &CastClient{
		app:              app,
		host:             host,
		port:             port,
		PollInterval:     DefaultPollInterval,
		ProgressInterval: DefaultProgressInterval,
		now:              time.Now,
		Logger:           zerolog.Nop(),
	}
}

func parseDeviceAddr(deviceAddr string) (string, int, error) {
	addr := strings.TrimSpace(deviceAddr)
	if addr == "" {
		return "", 0, fmt.Errorf("parse device addr: empty address")
	}
	if !strings.Contains(addr, "://") {
		addr = "http://" + addr
	}

	u, err := url.Parse(addr)
	if err != nil {
		return "", 0, fmt.Errorf("parse device addr: %w", err)
	}

	host := u.Hostname()
	if host == "" {
		return "", 0, fmt.Errorf("parse device addr: no host in %q", deviceAddr)
	}

	port := defaultPort
	if p := u.Port(); p != "" {
		port, err = strconv.Atoi(p)
		if err != nil {
			return "", 0, fmt.Errorf("parse device addr: %w", err)
		}
	}

	return host, port, nil
}

// Connect establishes connection to the Chromecast device.
func (c *CastClient) Connect() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.app == nil {
		return fmt.Errorf("chromecast connect: app is nil")
	}

	c.Log().Debug().Str("Method", "Connect").Str("Host", c.host).Int("Port", c.port).Msg("connecting")
	if err := c.app.Start(c.host, c.port); err != nil {
		c.Log().Error().Str("Method", "Connect").Err(err).Msg("connection failed")
		return fmt.Errorf("chromecast connect: %w", err)
	}
	c.connected = true
	c.Log().Debug().Str("Method", "Connect").Msg("connected successfully")
	return nil
}

// Watch runs the session's receive hook, status poll and progress timer
// until ctx is done. Listener callbacks are invoked from these goroutines.
func (c *CastClient) Watch(ctx context.Context) error {
	if !c.IsConnected() {
		return ErrNotConnected
	}

	c.hookOnce.Do(func() {
		c.app.AddMessageFunc(c.handleMessage)
	})

	var wg sync.WaitGroup
	if c.PollInterval > 0 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.runEvery(ctx, c.PollInterval, c.poll)
		}()
	}
	if c.ProgressInterval > 0 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.runEvery(ctx, c.ProgressInterval, c.progressTick)
		}()
	}

	c.Log().Debug().Str("Method", "Watch").Dur("Poll", c.PollInterval).Dur("Progress", c.ProgressInterval).Msg("watching media session")
	<-ctx.Done()
	wg.Wait()
	return nil
}

func (c *CastClient) runEvery(ctx context.Context, d time.Duration, fn func()) {
	ticker := time.NewTicker(d)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			fn()
		}
	}
}

func (c *CastClient) handleMessage(msg *pb.CastMessage) {
	if msg.GetNamespace() != mediaNamespace {
		return
	}
	c.handleMediaPayload(msg.GetPayloadUtf8())
}

func (c *CastClient) handleMediaPayload(payload string) {
	msg, err := decodeMediaMessage(payload)
	if err != nil {
		c.Log().Debug().Str("Method", "handleMediaPayload").Err(err).Msg("ignoring message")
		return
	}

	switch msg.Type {
	case "MEDIA_STATUS":
		c.applyMediaStatus(msg.Status, msg.RequestID == 0)
	case "QUEUE_CHANGE", "QUEUE_ITEM_IDS", "QUEUE_ITEMS":
		c.notifyStatus(func(l StatusListener) { l.OnQueueStatusUpdated() })
	}
}

// applyMediaStatus merges a receiver status into the cache and notifies
// listeners. Replies to our own requests (force=false) only notify on
// change.
func (c *CastClient) applyMediaStatus(list []mediaStatus, force bool) {
	var ms *mediaStatus
	if len(list) > 0 {
		ms = &list[0]
	}

	c.stateMu.Lock()
	prev := c.status
	var next *Status
	if ms != nil {
		next = ms.toStatus(prev, c.sessionID)
		c.sessionID = ms.MediaSessionID
	}
	if !force && sameStatus(prev, next) {
		c.stateMu.Unlock()
		return
	}
	c.status = next
	c.statusAt = c.now()
	c.stateMu.Unlock()

	c.notifyStatus(func(l StatusListener) { l.OnStatusUpdated() })

	if next != nil && next.MediaInfo != nil && (prev == nil || !sameMediaInfo(prev.MediaInfo, next.MediaInfo)) {
		c.notifyStatus(func(l StatusListener) { l.OnMetadataUpdated() })
	}
	if ms == nil {
		return
	}
	if ms.PreloadedItemID != 0 {
		c.notifyStatus(func(l StatusListener) { l.OnPreloadStatusUpdated() })
	}
	if len(ms.BreakStatus) > 0 && string(ms.BreakStatus) != "null" {
		c.notifyStatus(func(l StatusListener) { l.OnAdBreakStatusUpdated() })
	}
}

// poll asks the receiver for its media status. The reply comes back
// through handleMessage. app.Status() is not read here: it keeps the last
// media after the receiver reports an empty status list.
func (c *CastClient) poll() {
	c.notifyStatus(func(l StatusListener) { l.OnSendingRemoteMediaRequest() })

	if err := c.app.Update(); err != nil {
		c.Log().Debug().Str("Method", "poll").Err(err).Msg("app.Update failed")
	}
}

func (c *CastClient) progressTick() {
	c.stateMu.RLock()
	st := c.status
	at := c.statusAt
	c.stateMu.RUnlock()

	if st == nil || st.MediaInfo == nil {
		return
	}

	pos := st.StreamPositionMs
	if st.PlayerState == PlayerStatePlaying {
		pos += c.now().Sub(at).Milliseconds()
	}
	dur := st.MediaInfo.StreamDurationMs
	if dur > 0 && pos > dur {
		pos = dur
	}

	c.notifyProgress(pos, dur)
}

// CurrentStatus returns a copy of the latest media status, or nil when
// the receiver has not reported one.
func (c *CastClient) CurrentStatus() *Status {
	c.stateMu.RLock()
	defer c.stateMu.RUnlock()
	return c.status.Clone()
}

// Play resumes playback.
func (c *CastClient) Play() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Log().Debug().Str("Method", "Play").Msg("resuming playback")
	err := c.app.Unpause()
	if err != nil {
		c.Log().Error().Str("Method", "Play").Err(err).Msg("failed")
	}
	return err
}

// Pause pauses playback.
func (c *CastClient) Pause() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Log().Debug().Str("Method", "Pause").Msg("pausing playback")
	err := c.app.Pause()
	if err != nil {
		c.Log().Error().Str("Method", "Pause").Err(err).Msg("failed")
	}
	return err
}

// SetMuted sets mute state.
func (c *CastClient) SetMuted(muted bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Log().Debug().Str("Method", "SetMuted").Bool("Muted", muted).Msg("setting mute")
	err := c.app.SetMuted(muted)
	if err != nil {
		c.Log().Error().Str("Method", "SetMuted").Err(err).Msg("failed")
	}
	return err
}

// Close disconnects from the Chromecast device.
func (c *CastClient) Close(stopMedia bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.Log().Debug().Str("Method", "Close").Bool("StopMedia", stopMedia).Msg("closing connection")
	c.connected = false
	err := c.app.Close(stopMedia)
	if err != nil {
		c.Log().Error().Str("Method", "Close").Err(err).Msg("failed")
	}
	return err
}

// IsConnected returns whether client is connected.
func (c *CastClient) IsConnected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.connected
}

// Host returns the hostname of the Chromecast device.
func (c *CastClient) Host() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.host
}
