package interactive

import (
	"context"
	"fmt"
	"sync"

	"github.com/gdamore/tcell/v2"
	"github.com/mattn/go-runewidth"
	"go2tv.app/castbridge/castprotocol"
	"go2tv.app/castbridge/forwarder"
	"go2tv.app/castbridge/notify"
)

// Controller is the playback control surface the monitor drives from
// key presses.
type Controller interface {
	Play() error
	Pause() error
	SetMuted(muted bool) error
}

// ChromecastScreen is a terminal monitor for forwarded media events. It
// implements notify.Channel so it can sit next to the other sinks.
type ChromecastScreen struct {
	Current     tcell.Screen
	Control     Controller
	exitCTXfunc context.CancelFunc
	finiOnce    sync.Once

	mu       sync.RWMutex
	ready    bool
	finished bool
	view     monitorView
}

type monitorView struct {
	title       string
	subtitle    string
	playerState castprotocol.PlayerState
	idleReason  castprotocol.IdleReason
	muted       bool
	position    int
	duration    int
	ended       bool
	seen        bool
}

var _ notify.Channel = (*ChromecastScreen)(nil)

// InitChromecastScreen creates a monitor on the terminal.
func InitChromecastScreen(ctxCancel context.CancelFunc) (*ChromecastScreen, error) {
	s, err := tcell.NewScreen()
	if err != nil {
		return nil, fmt.Errorf("chromecast interactive: %w", err)
	}

	return &ChromecastScreen{
		Current:     s,
		exitCTXfunc: ctxCancel,
	}, nil
}

// Emit updates the monitor state and redraws.
func (p *ChromecastScreen) Emit(e notify.Event) {
	p.mu.Lock()
	p.view.apply(e)
	p.mu.Unlock()

	p.draw()
}

func (v *monitorView) apply(e notify.Event) {
	v.seen = true

	switch msg := e.Payload.(type) {
	case forwarder.MetadataChanged:
		v.title = msg.Metadata.Title
		if v.title == "" {
			v.title = msg.ContentID
		}
		v.subtitle = msg.Metadata.Subtitle
		v.position, v.duration = 0, 0
		v.ended = false
	case forwarder.StatusMessage:
		st := msg.MediaStatus
		v.playerState = castprotocol.PlayerState(st.PlayerState)
		v.idleReason = castprotocol.IdleReason(st.IdleReason)
		v.muted = st.Muted
		v.position = st.StreamPosition
		if st.StreamDuration != nil && *st.StreamDuration >= 0 {
			v.duration = *st.StreamDuration
		}
		if e.Name == forwarder.MediaPlaybackEnded {
			v.ended = true
		}
	case forwarder.ProgressMessage:
		v.position = msg.MediaProgress.Progress
		v.duration = msg.MediaProgress.Duration
	}
}

func (v monitorView) stateLine() string {
	if !v.seen {
		return "Waiting for status..."
	}
	switch v.playerState {
	case castprotocol.PlayerStatePlaying:
		return "Playing"
	case castprotocol.PlayerStatePaused:
		return "Paused"
	case castprotocol.PlayerStateBuffering, castprotocol.PlayerStateLoading:
		return "Buffering..."
	case castprotocol.PlayerStateIdle:
		switch {
		case v.ended:
			return "Finished"
		case v.idleReason == castprotocol.IdleReasonError:
			return "Error"
		}
		return "Stopped"
	default:
		return "Waiting for status..."
	}
}

func (v monitorView) progressLine() string {
	if v.duration <= 0 {
		return formatClock(v.position)
	}
	return formatClock(v.position) + " / " + formatClock(v.duration)
}

func formatClock(sec int) string {
	if sec < 0 {
		sec = 0
	}
	h, m, s := sec/3600, (sec/60)%60, sec%60
	if h > 0 {
		return fmt.Sprintf("%d:%02d:%02d", h, m, s)
	}
	return fmt.Sprintf("%02d:%02d", m, s)
}

func playPauseActionFromState(state castprotocol.PlayerState) string {
	if state == castprotocol.PlayerStatePlaying {
		return "Pause"
	}
	return "Play"
}

func (p *ChromecastScreen) emitStr(x, y int, style tcell.Style, str string) {
	s := p.Current
	for _, c := range str {
		var comb []rune
		w := runewidth.RuneWidth(c)
		if w == 0 {
			comb = []rune{c}
			c = ' '
			w = 1
		}
		s.SetContent(x, y, c, comb, style)
		x += w
	}
}

func (p *ChromecastScreen) emitCentered(y int, style tcell.Style, str string) {
	w, _ := p.Current.Size()
	p.emitStr(w/2-runewidth.StringWidth(str)/2, y, style, str)
}

func (p *ChromecastScreen) draw() {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if !p.ready {
		return
	}

	v := p.view
	s := p.Current
	_, h := s.Size()
	boldStyle := tcell.StyleDefault.
		Background(tcell.ColorBlack).
		Foreground(tcell.ColorWhite).Bold(true)
	blinkStyle := tcell.StyleDefault.
		Background(tcell.ColorBlack).
		Foreground(tcell.ColorWhite).Blink(true)

	s.Clear()

	p.emitStr(1, 1, tcell.StyleDefault, "Press ESC to exit.")
	p.emitCentered(h/2-3, tcell.StyleDefault, "Title: "+v.title)
	if v.subtitle != "" {
		p.emitCentered(h/2-2, tcell.StyleDefault, v.subtitle)
	}

	state := v.stateLine()
	switch state {
	case "Waiting for status...", "Buffering...":
		p.emitCentered(h/2, blinkStyle, state)
	default:
		p.emitCentered(h/2, boldStyle, state)
	}
	p.emitCentered(h/2+1, tcell.StyleDefault, v.progressLine())

	if v.muted {
		p.emitCentered(h/2+3, blinkStyle, "MUTED")
	}

	if p.Control != nil {
		p.emitCentered(h/2+5, tcell.StyleDefault, `"p" (`+playPauseActionFromState(v.playerState)+`)`)
		p.emitCentered(h/2+7, tcell.StyleDefault, `"m" (Mute/Unmute)`)
	}
	s.Show()
}

// Run initializes the terminal and handles input until ctx is done or
// ESC is pressed.
func (p *ChromecastScreen) Run(ctx context.Context) error {
	s := p.Current
	if err := s.Init(); err != nil {
		return fmt.Errorf("chromecast interactive: %w", err)
	}

	s.SetStyle(tcell.StyleDefault.
		Background(tcell.ColorBlack).
		Foreground(tcell.ColorWhite))

	p.mu.Lock()
	if p.finished {
		p.mu.Unlock()
		s.Fini()
		return nil
	}
	p.ready = true
	p.mu.Unlock()
	p.draw()

	go func() {
		<-ctx.Done()
		p.Fini()
	}()

	for {
		switch ev := s.PollEvent().(type) {
		case nil:
			return nil
		case *tcell.EventResize:
			s.Sync()
			p.draw()
		case *tcell.EventKey:
			p.HandleKeyEvent(ev)
		}
	}
}

// HandleKeyEvent handles key press events.
func (p *ChromecastScreen) HandleKeyEvent(ev *tcell.EventKey) {
	switch ev.Key() {
	case tcell.KeyEscape, tcell.KeyCtrlC:
		p.Fini()
		return
	case tcell.KeyRune:
		p.handleRune(ev.Rune())
	}
}

func (p *ChromecastScreen) handleRune(r rune) {
	if p.Control == nil {
		return
	}

	p.mu.RLock()
	v := p.view
	p.mu.RUnlock()

	switch r {
	case 'p':
		if playPauseActionFromState(v.playerState) == "Pause" {
			_ = p.Control.Pause()
		} else {
			_ = p.Control.Play()
		}
	case 'm':
		_ = p.Control.SetMuted(!v.muted)
	}
}

// Fini closes the screen and cancels the exit context. Safe to call twice.
func (p *ChromecastScreen) Fini() {
	p.finiOnce.Do(func() {
		p.mu.Lock()
		wasReady := p.ready
		p.ready = false
		p.finished = true
		p.mu.Unlock()

		if wasReady {
			p.Current.Fini()
		}
		if p.exitCTXfunc != nil {
			p.exitCTXfunc()
		}
	})
}
