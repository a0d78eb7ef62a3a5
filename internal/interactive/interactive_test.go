package interactive

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/gdamore/tcell/v2"

	"go2tv.app/castkit/castprotocol"
)

func TestPlayPauseAction(t *testing.T) {
	tests := []struct {
		name  string
		state castprotocol.PlayerState
		want  string
	}{
		{
			name:  "playing maps to pause",
			state: castprotocol.PlayerStatePlaying,
			want:  "Pause",
		},
		{
			name:  "buffering maps to pause",
			state: castprotocol.PlayerStateBuffering,
			want:  "Pause",
		},
		{
			name:  "paused maps to play",
			state: castprotocol.PlayerStatePaused,
			want:  "Play",
		},
		{
			name:  "idle has no toggle",
			state: castprotocol.PlayerStateIdle,
			want:  "",
		},
		{
			name:  "unknown has no toggle",
			state: "TRANSITIONING",
			want:  "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := playPauseAction(tt.state)
			if got != tt.want {
				t.Fatalf("playPauseAction(%q) = %q, want %q", tt.state, got, tt.want)
			}
		})
	}
}

func TestStepVolume(t *testing.T) {
	tests := []struct {
		level, delta, want float64
	}{
		{0.5, volumeStep, 0.55},
		{0.5, -volumeStep, 0.45},
		{0.98, volumeStep, 1},
		{0.02, -volumeStep, 0},
		{0.3, volumeStep, 0.35},
	}

	for _, tt := range tests {
		if got := stepVolume(tt.level, tt.delta); got != tt.want {
			t.Fatalf("stepVolume(%v, %v) = %v, want %v", tt.level, tt.delta, got, tt.want)
		}
	}
}

func TestSeekTarget(t *testing.T) {
	tests := []struct {
		name                     string
		current, delta, duration float64
		want                     float64
	}{
		{"forward", 30, seekStep, 100, 40},
		{"backward", 30, -seekStep, 100, 20},
		{"clamped at start", 4, -seekStep, 100, 0},
		{"clamped at end", 95, seekStep, 100, 100},
		{"unknown duration", 95, seekStep, 0, 105},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := seekTarget(tt.current, tt.delta, tt.duration); got != tt.want {
				t.Fatalf("seekTarget() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestFormatPosition(t *testing.T) {
	tests := []struct {
		in   float64
		want string
	}{
		{0, "0:00"},
		{-3, "0:00"},
		{9.7, "0:09"},
		{75, "1:15"},
		{3600, "1:00:00"},
		{3725, "1:02:05"},
	}

	for _, tt := range tests {
		if got := formatPosition(tt.in); got != tt.want {
			t.Fatalf("formatPosition(%v) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestStatusLine(t *testing.T) {
	movie := &castprotocol.Media{Duration: 600}

	tests := []struct {
		name    string
		st      *castprotocol.MediaStatus
		started bool
		want    string
	}{
		{"no status yet", nil, false, "Waiting for status..."},
		{"status gone", nil, true, "Stopped"},
		{"playing", &castprotocol.MediaStatus{PlayerState: castprotocol.PlayerStatePlaying, CurrentTime: 62, Media: movie}, true, "Playing  1:02 / 10:00"},
		{"paused live", &castprotocol.MediaStatus{PlayerState: castprotocol.PlayerStatePaused, CurrentTime: 5}, true, "Paused  0:05"},
		{"buffering", &castprotocol.MediaStatus{PlayerState: castprotocol.PlayerStateBuffering}, true, "Buffering..."},
		{"idle before start", &castprotocol.MediaStatus{PlayerState: castprotocol.PlayerStateIdle}, false, "Waiting for status..."},
		{"idle after start", &castprotocol.MediaStatus{PlayerState: castprotocol.PlayerStateIdle}, true, "Stopped"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := statusLine(tt.st, tt.started); got != tt.want {
				t.Fatalf("statusLine() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestFinished(t *testing.T) {
	if !finished(nil) {
		t.Fatal("finished(nil) = false, want true")
	}
	if !finished(&castprotocol.MediaStatus{PlayerState: castprotocol.PlayerStateIdle, IdleReason: "FINISHED"}) {
		t.Fatal("finished(IDLE/FINISHED) = false, want true")
	}
	if finished(&castprotocol.MediaStatus{PlayerState: castprotocol.PlayerStateIdle, IdleReason: "CANCELLED"}) {
		t.Fatal("finished(IDLE/CANCELLED) = true, want false")
	}
	if finished(&castprotocol.MediaStatus{PlayerState: castprotocol.PlayerStatePlaying}) {
		t.Fatal("finished(PLAYING) = true, want false")
	}
}

func TestEmitMsgTracksLastAction(t *testing.T) {
	s := tcell.NewSimulationScreen("")
	if err := s.Init(); err != nil {
		t.Fatalf("Init() err = %v", err)
	}
	s.SetSize(80, 25)

	var exited bool
	p := &ChromecastScreen{Current: s, exitCTXfunc: func() { exited = true }}

	p.EmitMsg("Playing  0:01")
	if got := p.getLastAction(); got != "Playing  0:01" {
		t.Fatalf("getLastAction() = %q", got)
	}

	p.Fini()
	p.Fini()
	if !exited {
		t.Fatal("Fini() did not cancel the exit context")
	}
}

type fakeMedia struct {
	changed chan struct{}
	cached  *castprotocol.MediaStatus
	fresh   *castprotocol.MediaStatus
	err     error
	polls   int
}

func (f *fakeMedia) Changed() <-chan struct{} { return f.changed }
func (f *fakeMedia) Status() *castprotocol.MediaStatus { return f.cached }

func (f *fakeMedia) GetStatus(context.Context) (*castprotocol.MediaStatus, error) {
	f.polls++
	if f.err != nil {
		return nil, f.err
	}
	f.cached = f.fresh
	return f.fresh, nil
}

func TestNextStatusRefreshesOnTick(t *testing.T) {
	media := &fakeMedia{
		changed: make(chan struct{}),
		cached:  &castprotocol.MediaStatus{PlayerState: castprotocol.PlayerStatePlaying, CurrentTime: 1},
		fresh:   &castprotocol.MediaStatus{PlayerState: castprotocol.PlayerStatePlaying, CurrentTime: 2},
	}
	tick := make(chan time.Time, 1)
	tick <- time.Now()

	st, err := nextStatus(context.Background(), nil, media, tick)
	if err != nil {
		t.Fatalf("nextStatus() err = %v", err)
	}
	if media.polls != 1 {
		t.Fatalf("GetStatus calls = %d, want 1", media.polls)
	}
	if st == nil || st.CurrentTime != 2 {
		t.Fatalf("nextStatus() = %+v, want the refreshed status", st)
	}
}

func TestNextStatusFallsBackToCache(t *testing.T) {
	cached := &castprotocol.MediaStatus{PlayerState: castprotocol.PlayerStatePaused, CurrentTime: 7}
	media := &fakeMedia{changed: make(chan struct{}), cached: cached, err: errors.New("timeout")}
	tick := make(chan time.Time, 1)
	tick <- time.Now()

	st, err := nextStatus(context.Background(), nil, media, tick)
	if err != nil {
		t.Fatalf("nextStatus() err = %v", err)
	}
	if st != cached {
		t.Fatalf("nextStatus() = %+v, want cached status", st)
	}
}

func TestNextStatusOnPush(t *testing.T) {
	changed := make(chan struct{})
	close(changed)
	cached := &castprotocol.MediaStatus{PlayerState: castprotocol.PlayerStateBuffering}
	media := &fakeMedia{changed: changed, cached: cached}

	st, err := nextStatus(context.Background(), nil, media, nil)
	if err != nil {
		t.Fatalf("nextStatus() err = %v", err)
	}
	if st != cached || media.polls != 0 {
		t.Fatalf("nextStatus() = %+v after %d polls, want cached status without polling", st, media.polls)
	}
}

func TestNextStatusStops(t *testing.T) {
	media := &fakeMedia{changed: make(chan struct{})}

	done := make(chan struct{})
	close(done)
	if _, err := nextStatus(context.Background(), done, media, nil); !errors.Is(err, errDisconnected) {
		t.Fatalf("nextStatus() err = %v, want errDisconnected", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := nextStatus(ctx, nil, media, nil); !errors.Is(err, context.Canceled) {
		t.Fatalf("nextStatus() err = %v, want context.Canceled", err)
	}
}
