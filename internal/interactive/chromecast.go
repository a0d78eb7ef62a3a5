package interactive

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/gdamore/tcell/v2"
	"github.com/gdamore/tcell/v2/encoding"
	"github.com/mattn/go-runewidth"

	"go2tv.app/castkit/castprotocol"
)

const (
	volumeStep     = 0.05
	seekStep       = 10.0
	refreshEvery   = time.Second
	commandTimeout = 5 * time.Second
)

// ChromecastScreen handles interactive CLI for cast receivers.
type ChromecastScreen struct {
	Current     tcell.Screen
	Client      *castprotocol.CastClient
	exitCTXfunc context.CancelFunc
	mediaTitle  string
	lastAction  string
	mu          sync.RWMutex
	finiOnce    sync.Once
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

// EmitMsg displays status to the interactive terminal.
func (p *ChromecastScreen) EmitMsg(inputtext string) {
	p.updateLastAction(inputtext)
	s := p.Current

	p.mu.RLock()
	mediaTitle := p.mediaTitle
	p.mu.RUnlock()

	_, h := s.Size()
	boldStyle := tcell.StyleDefault.
		Background(tcell.ColorBlack).
		Foreground(tcell.ColorWhite).Bold(true)
	blinkStyle := tcell.StyleDefault.
		Background(tcell.ColorBlack).
		Foreground(tcell.ColorWhite).Blink(true)

	s.Clear()

	p.emitCentered(h/2-2, tcell.StyleDefault, "Title: "+mediaTitle)
	switch inputtext {
	case "Waiting for status...", "Buffering...":
		p.emitCentered(h/2, blinkStyle, inputtext)
	default:
		p.emitCentered(h/2, boldStyle, inputtext)
	}
	p.emitStr(1, 1, tcell.StyleDefault, "Press ESC to stop and exit.")

	if p.muted() {
		p.emitCentered(h/2+2, blinkStyle, "MUTED")
	}

	p.emitCentered(h/2+4, tcell.StyleDefault, `"p" (Play/Pause)  "m" (Mute/Unmute)`)
	p.emitCentered(h/2+6, tcell.StyleDefault, `"Page Up" "Page Down" (Volume Up/Down)`)
	p.emitCentered(h/2+8, tcell.StyleDefault, `"Left" "Right" (Seek -/+10s)  "b" "n" (Previous/Next)`)
	s.Show()
}

func (p *ChromecastScreen) muted() bool {
	if p.Client == nil {
		return false
	}
	sess := p.Client.Session()
	if sess == nil {
		return false
	}
	if st := sess.Receiver().Status(); st != nil {
		return st.Volume.Muted
	}
	return false
}

// InterInit starts the interactive terminal. It returns once the screen is
// finalized; init failures are reported on c.
func (p *ChromecastScreen) InterInit(ctx context.Context, title string, c chan error) {
	p.mu.Lock()
	p.mediaTitle = title
	p.mu.Unlock()

	s := p.Current
	if err := s.Init(); err != nil {
		c <- fmt.Errorf("chromecast interactive: %w", err)
		return
	}

	defStyle := tcell.StyleDefault.
		Background(tcell.ColorBlack).
		Foreground(tcell.ColorWhite)
	s.SetStyle(defStyle)

	p.EmitMsg("Waiting for status...")

	go p.watchStatus(ctx)

	for {
		switch ev := s.PollEvent().(type) {
		case nil:
			return
		case *tcell.EventResize:
			s.Sync()
			p.EmitMsg(p.getLastAction())
		case *tcell.EventKey:
			p.HandleKeyEvent(ev)
		}
	}
}

// watchStatus redraws on every media status push and refreshes the status
// once a second in case the receiver goes quiet.
func (p *ChromecastScreen) watchStatus(ctx context.Context) {
	sess := p.Client.Session()
	if sess == nil {
		return
	}
	media := sess.Media()

	ticker := time.NewTicker(refreshEvery)
	defer ticker.Stop()

	var mediaStarted bool
	for {
		st, err := nextStatus(ctx, sess.Done(), media, ticker.C)
		switch {
		case errors.Is(err, errDisconnected):
			p.EmitMsg("Disconnected")
			return
		case err != nil:
			return
		}

		if st != nil && st.PlayerState != castprotocol.PlayerStateIdle {
			mediaStarted = true
		}
		p.EmitMsg(statusLine(st, mediaStarted))
		if mediaStarted && finished(st) {
			p.Fini()
			return
		}
	}
}

var errDisconnected = errors.New("session ended")

type statusSource interface {
	Changed() <-chan struct{}
	Status() *castprotocol.MediaStatus
	GetStatus(ctx context.Context) (*castprotocol.MediaStatus, error)
}

// nextStatus blocks until a push arrives or tick asks for a refresh, and
// returns the status to draw.
func nextStatus(ctx context.Context, done <-chan struct{}, media statusSource, tick <-chan time.Time) (*castprotocol.MediaStatus, error) {
	changed := media.Changed()
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-done:
		return nil, errDisconnected
	case <-tick:
		rctx, cancel := context.WithTimeout(ctx, commandTimeout)
		defer cancel()
		if st, err := media.GetStatus(rctx); err == nil {
			return st, nil
		}
	case <-changed:
	}
	return media.Status(), nil
}

// HandleKeyEvent handles key press events.
func (p *ChromecastScreen) HandleKeyEvent(ev *tcell.EventKey) {
	if p.Client == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
	defer cancel()

	switch ev.Key() {
	case tcell.KeyEscape:
		_, _ = p.Client.Stop(ctx)
		p.Fini()
		return
	case tcell.KeyPgUp, tcell.KeyPgDn:
		st, err := p.Client.GetReceiverStatus(ctx)
		if err != nil {
			return
		}
		delta := volumeStep
		if ev.Key() == tcell.KeyPgDn {
			delta = -delta
		}
		_, _ = p.Client.SetVolume(ctx, stepVolume(st.Volume.Level, delta))
		return
	case tcell.KeyLeft, tcell.KeyRight:
		sess := p.Client.Session()
		if sess == nil {
			return
		}
		st := sess.Media().Status()
		if st == nil {
			return
		}
		delta := seekStep
		if ev.Key() == tcell.KeyLeft {
			delta = -delta
		}
		var duration float64
		if st.Media != nil {
			duration = st.Media.Duration
		}
		_, _ = p.Client.Seek(ctx, seekTarget(st.CurrentTime, delta, duration))
		return
	}

	switch ev.Rune() {
	case 'p':
		st, err := p.Client.GetMediaStatus(ctx)
		if err != nil {
			return
		}
		switch playPauseAction(st.PlayerState) {
		case "Pause":
			_, _ = p.Client.Pause(ctx)
		case "Play":
			_, _ = p.Client.Play(ctx)
		}
	case 'm':
		st, err := p.Client.GetReceiverStatus(ctx)
		if err != nil {
			return
		}
		_, _ = p.Client.SetMute(ctx, !st.Volume.Muted)
		p.EmitMsg(p.getLastAction())
	case 'n':
		_, _ = p.Client.QueueNext(ctx)
	case 'b':
		_, _ = p.Client.QueuePrev(ctx)
	}
}

// Fini closes the screen and exits.
func (p *ChromecastScreen) Fini() {
	p.finiOnce.Do(func() {
		p.Current.Fini()
		p.exitCTXfunc()
	})
}

// InitChromecastScreen creates a new interactive screen.
func InitChromecastScreen(client *castprotocol.CastClient, ctxCancel context.CancelFunc) (*ChromecastScreen, error) {
	encoding.Register()

	s, err := tcell.NewScreen()
	if err != nil {
		return nil, fmt.Errorf("chromecast interactive: %w", err)
	}

	return &ChromecastScreen{
		Current:     s,
		Client:      client,
		exitCTXfunc: ctxCancel,
	}, nil
}

func (p *ChromecastScreen) getLastAction() string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.lastAction
}

func (p *ChromecastScreen) updateLastAction(s string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.lastAction = s
}

// playPauseAction returns the command that toggles playback from state,
// or "" when there is nothing to toggle.
func playPauseAction(state castprotocol.PlayerState) string {
	switch state {
	case castprotocol.PlayerStatePlaying, castprotocol.PlayerStateBuffering:
		return "Pause"
	case castprotocol.PlayerStatePaused:
		return "Play"
	}
	return ""
}

func stepVolume(level, delta float64) float64 {
	return math.Round(math.Min(1, math.Max(0, level+delta))*100) / 100
}

func seekTarget(current, delta, duration float64) float64 {
	target := math.Max(0, current+delta)
	if duration > 0 && target > duration {
		target = duration
	}
	return target
}

// formatPosition renders seconds as m:ss, or h:mm:ss from one hour on.
func formatPosition(seconds float64) string {
	if seconds < 0 || math.IsNaN(seconds) {
		seconds = 0
	}
	total := int(seconds)
	h, m, s := total/3600, total%3600/60, total%60
	if h > 0 {
		return fmt.Sprintf("%d:%02d:%02d", h, m, s)
	}
	return fmt.Sprintf("%d:%02d", m, s)
}

func statusLine(st *castprotocol.MediaStatus, started bool) string {
	if st == nil {
		if started {
			return "Stopped"
		}
		return "Waiting for status..."
	}

	var label string
	switch st.PlayerState {
	case castprotocol.PlayerStatePlaying:
		label = "Playing"
	case castprotocol.PlayerStatePaused:
		label = "Paused"
	case castprotocol.PlayerStateBuffering, castprotocol.PlayerStateLoading:
		return "Buffering..."
	default:
		if started {
			return "Stopped"
		}
		return "Waiting for status..."
	}

	pos := formatPosition(st.CurrentTime)
	if st.Media != nil && st.Media.Duration > 0 {
		pos += " / " + formatPosition(st.Media.Duration)
	}
	return label + "  " + pos
}

func finished(st *castprotocol.MediaStatus) bool {
	return st == nil || (st.PlayerState == castprotocol.PlayerStateIdle && st.IdleReason == "FINISHED")
}
