package castprotocol

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
)

type echoRequest struct {
	Header
	Value int `json:"value"`
}

func TestSessionConnectAnnouncesUserAgent(t *testing.T) {
	dev, conn := newFakeDevice(t)
	s, err := NewSession(conn, DeviceDescriptor{Host: "fake.local"}, WithSenderID(testSender), WithUserAgent("castctl/1.0"))
	require.NoError(t, err)
	defer s.Close()

	env := dev.expect(t, NamespaceConnection, TypeConnect)
	assert.Equal(t, "castctl/1.0", decodePayload(t, env)["userAgent"])
	assert.Equal(t, testSender, s.SenderID())
	assert.Equal(t, "fake.local:8009", s.Device().Addr())
}

func TestReceiverGetStatus(t *testing.T) {
	s, dev := newTestSession(t)
	ctx, cancel := testContext()
	defer cancel()

	res := async(func() (*ReceiverStatus, error) { return s.Receiver().GetStatus(ctx) })

	req := dev.expect(t, NamespaceReceiver, TypeGetStatus)
	assert.Equal(t, PlatformReceiverID, req.DestinationID)
	dev.reply(t, req, receiverStatus(0.5))

	st, err := wait(t, res)
	require.NoError(t, err)
	assert.InDelta(t, 0.5, st.Volume.Level, 0)
	assert.Equal(t, st, s.Receiver().Status(), "cache holds the reply")
	assert.Zero(t, s.pending.len())
}

func TestResponsesMatchOutOfOrder(t *testing.T) {
	s, dev := newTestSession(t)
	ch, err := s.Custom("urn:x-cast:com.example.echo")
	require.NoError(t, err)

	const n = 5
	ctx, cancel := testContext()
	defer cancel()

	var g errgroup.Group
	for i := 0; i < n; i++ {
		i := i
		g.Go(func() error {
			env, err := ch.Request(ctx, PlatformReceiverID, &echoRequest{Header: Header{Type: "ECHO"}, Value: i})
			if err != nil {
				return err
			}
			var reply echoRequest
			if err := json.Unmarshal(env.Payload, &reply); err != nil {
				return err
			}
			if reply.Value != i {
				t.Errorf("request %d got reply for %d", i, reply.Value)
			}
			return nil
		})
	}

	reqs := make([]Envelope, 0, n)
	for j := 0; j < n; j++ {
		reqs = append(reqs, dev.expect(t, "urn:x-cast:com.example.echo", "ECHO"))
	}
	for i := len(reqs) - 1; i >= 0; i-- {
		var req echoRequest
		require.NoError(t, json.Unmarshal(reqs[i].Payload, &req))
		dev.reply(t, reqs[i], map[string]any{"type": "ECHO_REPLY", "value": req.Value})
	}

	require.NoError(t, g.Wait())
	assert.Zero(t, s.pending.len())
}

func TestRequestTimeoutLeavesNothingPending(t *testing.T) {
	s, dev := newTestSession(t, WithRequestTimeout(50*time.Millisecond))

	_, err := s.Receiver().GetStatus(context.Background())
	require.ErrorIs(t, err, ErrTimeout)
	assert.Zero(t, s.pending.len())

	// The late reply is treated as a push.
	req := dev.expect(t, NamespaceReceiver, TypeGetStatus)
	dev.reply(t, req, receiverStatus(0.9))

	ctx, cancel := testContext()
	defer cancel()
	st, err := s.Receiver().Await(ctx, func(st *ReceiverStatus) bool { return st.Volume.Level == 0.9 })
	require.NoError(t, err)
	assert.InDelta(t, 0.9, st.Volume.Level, 0)
	assert.NoError(t, s.Err())
}

func TestContextCancelReleasesRequest(t *testing.T) {
	s, dev := newTestSession(t)
	ctx, cancel := context.WithCancel(context.Background())

	res := async(func() (*ReceiverStatus, error) { return s.Receiver().GetStatus(ctx) })
	dev.expect(t, NamespaceReceiver, TypeGetStatus)
	cancel()

	_, err := wait(t, res)
	require.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, s.pending.len())
}

func TestCloseFailsPendingRequests(t *testing.T) {
	s, dev := newTestSession(t)
	ctx, cancel := testContext()
	defer cancel()

	const n = 4
	var wg sync.WaitGroup
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, errs[i] = s.Receiver().GetStatus(ctx)
		}()
	}
	for j := 0; j < n; j++ {
		dev.expect(t, NamespaceReceiver, TypeGetStatus)
	}

	require.NoError(t, s.Close())
	wg.Wait()

	for i, err := range errs {
		assert.ErrorIs(t, err, ErrConnectionClosed, "request %d", i)
	}
	assert.Zero(t, s.pending.len())
	assert.ErrorIs(t, s.Err(), ErrConnectionClosed)

	dev.expect(t, NamespaceConnection, TypeClose)

	_, err := s.Receiver().GetStatus(ctx)
	assert.ErrorIs(t, err, ErrConnectionClosed)
	assert.ErrorIs(t, s.Send(ctx, Envelope{Namespace: NamespaceReceiver}), ErrConnectionClosed)
}

func TestPushReplacesReceiverStatus(t *testing.T) {
	s, dev := newTestSession(t)

	dev.push(t, PlatformReceiverID, NamespaceReceiver, receiverStatus(0.2))
	dev.push(t, PlatformReceiverID, NamespaceReceiver, receiverStatus(0.7, mediaApp("app-1", "web-1")))

	ctx, cancel := testContext()
	defer cancel()
	_, err := s.Receiver().Await(ctx, func(st *ReceiverStatus) bool { return st.Volume.Level == 0.7 })
	require.NoError(t, err)

	want := &ReceiverStatus{
		Volume: Volume{Level: 0.7},
		Applications: []Application{{
			AppID:       DefaultMediaReceiverAppID,
			DisplayName: "Default Media Receiver",
			SessionID:   "app-1",
			TransportID: "web-1",
			Namespaces:  []AppNamespace{{Name: NamespaceMedia}},
		}},
	}
	if diff := cmp.Diff(want, s.Receiver().Status()); diff != "" {
		t.Fatalf("Status() mismatch (-want +got):\n%s", diff)
	}
	assert.Equal(t, "web-1", s.Receiver().Application(DefaultMediaReceiverAppID).TransportID)
	assert.Nil(t, s.Receiver().Application("YouTube"))
}

func TestLaunchThenLoad(t *testing.T) {
	s, dev := newTestSession(t)
	ctx, cancel := testContext()
	defer cancel()

	launched := async(func() (*Application, error) { return s.Receiver().Launch(ctx, DefaultMediaReceiverAppID) })
	req := dev.expect(t, NamespaceReceiver, TypeLaunch)
	assert.Equal(t, DefaultMediaReceiverAppID, decodePayload(t, req)["appId"])
	dev.reply(t, req, receiverStatus(1, mediaApp("app-1", "web-1")))

	app, err := wait(t, launched)
	require.NoError(t, err)
	assert.Equal(t, "web-1", app.TransportID)

	media := NewMedia("http://192.168.1.2:8080/bunny.mp4", "video/mp4", "Big Buck Bunny")
	loaded := async(func() (*MediaStatus, error) { return s.Media().Load(ctx, media) })

	conn := dev.expect(t, NamespaceConnection, TypeConnect)
	assert.Equal(t, "web-1", conn.DestinationID)

	req = dev.expect(t, NamespaceMedia, TypeLoad)
	assert.Equal(t, "web-1", req.DestinationID)
	body := decodePayload(t, req)
	assert.Equal(t, "app-1", body["sessionId"])
	assert.Equal(t, true, body["autoplay"])
	assert.Equal(t, "video/mp4", body["media"].(map[string]any)["contentType"])
	dev.reply(t, req, mediaStatus(1, PlayerStateBuffering, 0))

	st, err := wait(t, loaded)
	require.NoError(t, err)
	assert.Equal(t, PlayerStateBuffering, st.PlayerState)

	dev.push(t, "web-1", NamespaceMedia, mediaStatus(1, PlayerStatePlaying, 0.5))
	st, err = s.Media().Await(ctx, func(st *MediaStatus) bool { return st.PlayerState == PlayerStatePlaying })
	require.NoError(t, err)
	assert.Equal(t, 1, st.MediaSessionID)
}

func TestLaunchWaitsForLaterPush(t *testing.T) {
	s, dev := newTestSession(t)
	ctx, cancel := testContext()
	defer cancel()

	launched := async(func() (*Application, error) { return s.Receiver().Launch(ctx, DefaultMediaReceiverAppID) })
	req := dev.expect(t, NamespaceReceiver, TypeLaunch)
	dev.reply(t, req, receiverStatus(1))
	dev.push(t, PlatformReceiverID, NamespaceReceiver, receiverStatus(1, mediaApp("app-2", "web-2")))

	app, err := wait(t, launched)
	require.NoError(t, err)
	assert.Equal(t, "app-2", app.SessionID)
}

func TestLaunchRejected(t *testing.T) {
	s, dev := newTestSession(t)
	ctx, cancel := testContext()
	defer cancel()

	launched := async(func() (*Application, error) { return s.Receiver().Launch(ctx, "NOPE") })
	req := dev.expect(t, NamespaceReceiver, TypeLaunch)
	dev.reply(t, req, map[string]any{"type": TypeLaunchError, "reason": "NOT_FOUND"})

	_, err := wait(t, launched)
	require.ErrorIs(t, err, ErrOperationRejected)
	assert.Contains(t, err.Error(), "NOT_FOUND")
}

func TestSeekUnconfirmedThenAwait(t *testing.T) {
	s, dev := newTestSession(t)
	ctx, cancel := testContext()
	defer cancel()

	withMediaApp(t, s, dev, "app-1", "web-1")
	dev.push(t, "web-1", NamespaceMedia, mediaStatus(7, PlayerStatePlaying, 3))
	_, err := s.Media().Await(ctx, func(st *MediaStatus) bool { return st.MediaSessionID == 7 })
	require.NoError(t, err)

	seek := async(func() (*MediaStatus, error) { return s.Media().Seek(ctx, 30) })

	dev.expect(t, NamespaceConnection, TypeConnect)
	req := dev.expect(t, NamespaceMedia, TypeSeek)
	body := decodePayload(t, req)
	assert.EqualValues(t, 7, body["mediaSessionId"])
	assert.EqualValues(t, 30, body["currentTime"])
	// Accepted, but the reply carries no status.
	dev.reply(t, req, map[string]any{"type": TypeMediaStatus})

	_, err = wait(t, seek)
	require.ErrorIs(t, err, ErrUnconfirmed)

	dev.push(t, "web-1", NamespaceMedia, mediaStatus(7, PlayerStatePlaying, 30))
	st, err := s.Media().Await(ctx, func(st *MediaStatus) bool { return st.CurrentTime >= 30 })
	require.NoError(t, err)
	assert.InDelta(t, 30, st.CurrentTime, 0)
}

func TestInvalidArgumentsSendNothing(t *testing.T) {
	s, dev := newTestSession(t)
	ctx, cancel := testContext()
	defer cancel()

	tt := []struct {
		name string
		call func() error
	}{
		{"volume above one", func() error { _, err := s.Receiver().SetVolume(ctx, 1.5); return err }},
		{"negative volume", func() error { _, err := s.Receiver().SetVolume(ctx, -0.1); return err }},
		{"nan volume", func() error { _, err := s.Receiver().SetVolume(ctx, math.NaN()); return err }},
		{"media volume", func() error { _, err := s.Media().SetVolume(ctx, 2); return err }},
		{"negative seek", func() error { _, err := s.Media().Seek(ctx, -1); return err }},
		{"infinite seek", func() error { _, err := s.Media().Seek(ctx, math.Inf(1)); return err }},
		{"empty launch", func() error { _, err := s.Receiver().Launch(ctx, ""); return err }},
		{"empty load", func() error { _, err := s.Media().Load(ctx, Media{}); return err }},
		{"bad start time", func() error {
			_, err := s.Media().Load(ctx, NewMedia("http://x/a.mp4", "video/mp4", ""), WithStartTime(-5))
			return err
		}},
		{"empty queue", func() error { _, err := s.Queue().Load(ctx, nil, RepeatOff, 0); return err }},
		{"queue start out of range", func() error {
			m := NewMedia("http://x/a.mp4", "video/mp4", "")
			_, err := s.Queue().Load(ctx, []QueueItem{{Media: &m}}, RepeatOff, 3)
			return err
		}},
		{"bad repeat mode", func() error { _, err := s.Queue().SetRepeatMode(ctx, RepeatAllAndShuffle); return err }},
		{"no availability ids", func() error { _, err := s.Receiver().AppAvailability(ctx); return err }},
		{"reserved custom namespace", func() error { _, err := s.Custom("com.example"); return err }},
	}

	for _, tc := range tt {
		t.Run(tc.name, func(t *testing.T) {
			assert.ErrorIs(t, tc.call(), ErrInvalidArgument)
		})
	}
	dev.quiet(t, 50*time.Millisecond)
}

func TestAppSessionEndInvalidatesRequests(t *testing.T) {
	s, dev := newTestSession(t)
	ctx, cancel := testContext()
	defer cancel()

	withMediaApp(t, s, dev, "app-1", "web-1")
	dev.push(t, "web-1", NamespaceMedia, mediaStatus(3, PlayerStatePlaying, 10))
	_, err := s.Media().Await(ctx, func(st *MediaStatus) bool { return st.MediaSessionID == 3 })
	require.NoError(t, err)

	pause := async(func() (*MediaStatus, error) { return s.Media().Pause(ctx) })
	dev.expect(t, NamespaceConnection, TypeConnect)
	dev.expect(t, NamespaceMedia, TypePause)

	// Another sender stopped the application.
	dev.push(t, PlatformReceiverID, NamespaceReceiver, receiverStatus(1))

	_, err = wait(t, pause)
	require.ErrorIs(t, err, ErrSessionInvalidated)
	assert.Eventually(t, func() bool { return s.Media().Status() == nil }, time.Second, 5*time.Millisecond)
	assert.NoError(t, s.Err())
}

func TestAppRelaunchInvalidatesRequests(t *testing.T) {
	s, dev := newTestSession(t)
	ctx, cancel := testContext()
	defer cancel()

	withMediaApp(t, s, dev, "app-1", "web-1")
	dev.push(t, "web-1", NamespaceMedia, mediaStatus(3, PlayerStatePlaying, 10))
	_, err := s.Media().Await(ctx, func(st *MediaStatus) bool { return st.MediaSessionID == 3 })
	require.NoError(t, err)

	pause := async(func() (*MediaStatus, error) { return s.Media().Pause(ctx) })
	dev.expect(t, NamespaceConnection, TypeConnect)
	dev.expect(t, NamespaceMedia, TypePause)

	// The same application was relaunched under a new session.
	dev.push(t, PlatformReceiverID, NamespaceReceiver, receiverStatus(1, mediaApp("app-2", "web-2")))

	_, err = wait(t, pause)
	require.ErrorIs(t, err, ErrSessionInvalidated)
	require.Eventually(t, func() bool { return s.Media().Status() == nil }, time.Second, 5*time.Millisecond)
	assert.Equal(t, "app-2", s.Receiver().Status().MediaApp().SessionID)

	play := async(func() (*MediaStatus, error) { return s.Media().Play(ctx) })
	conn := dev.expect(t, NamespaceConnection, TypeConnect)
	assert.Equal(t, "web-2", conn.DestinationID)
	req := dev.expect(t, NamespaceMedia, TypeGetStatus)
	assert.Equal(t, "web-2", req.DestinationID)
	dev.reply(t, req, mediaStatus(4, PlayerStatePaused, 10))

	req = dev.expect(t, NamespaceMedia, TypePlay)
	assert.EqualValues(t, 4, decodePayload(t, req)["mediaSessionId"])
	dev.reply(t, req, mediaStatus(4, PlayerStatePlaying, 10))

	st, err := wait(t, play)
	require.NoError(t, err)
	assert.Equal(t, PlayerStatePlaying, st.PlayerState)
	assert.NoError(t, s.Err())
}

func TestMediaWithoutApplication(t *testing.T) {
	s, dev := newTestSession(t)
	ctx, cancel := testContext()
	defer cancel()

	play := async(func() (*MediaStatus, error) { return s.Media().GetStatus(ctx) })
	req := dev.expect(t, NamespaceReceiver, TypeGetStatus)
	dev.reply(t, req, receiverStatus(1))

	_, err := wait(t, play)
	assert.ErrorIs(t, err, ErrNoApplication)
}

func TestMediaGetStatusEmpty(t *testing.T) {
	s, dev := newTestSession(t)
	ctx, cancel := testContext()
	defer cancel()
	withMediaApp(t, s, dev, "app-1", "web-1")

	res := async(func() (*MediaStatus, error) { return s.Media().GetStatus(ctx) })
	dev.expect(t, NamespaceConnection, TypeConnect)
	req := dev.expect(t, NamespaceMedia, TypeGetStatus)
	dev.reply(t, req, map[string]any{"type": TypeMediaStatus, "status": []any{}})

	_, err := wait(t, res)
	assert.ErrorIs(t, err, ErrNoMediaSession)
}

func TestMediaStopEndsSession(t *testing.T) {
	s, dev := newTestSession(t)
	ctx, cancel := testContext()
	defer cancel()
	withMediaApp(t, s, dev, "app-1", "web-1")
	dev.push(t, "web-1", NamespaceMedia, mediaStatus(2, PlayerStatePlaying, 1))
	_, err := s.Media().Await(ctx, func(st *MediaStatus) bool { return st.MediaSessionID == 2 })
	require.NoError(t, err)

	stop := async(func() (*MediaStatus, error) { return s.Media().Stop(ctx) })
	dev.expect(t, NamespaceConnection, TypeConnect)
	req := dev.expect(t, NamespaceMedia, TypeStop)
	dev.reply(t, req, map[string]any{"type": TypeMediaStatus, "status": []any{}})

	st, err := wait(t, stop)
	require.NoError(t, err)
	assert.Nil(t, st)
	assert.Nil(t, s.Media().Status())
}

func TestMediaRejected(t *testing.T) {
	s, dev := newTestSession(t)
	ctx, cancel := testContext()
	defer cancel()
	withMediaApp(t, s, dev, "app-1", "web-1")

	media := NewMedia("http://x/broken.mp4", "video/mp4", "")
	load := async(func() (*MediaStatus, error) { return s.Media().Load(ctx, media) })
	dev.expect(t, NamespaceConnection, TypeConnect)
	req := dev.expect(t, NamespaceMedia, TypeLoad)
	dev.reply(t, req, map[string]any{"type": TypeLoadFailed})

	_, err := wait(t, load)
	assert.ErrorIs(t, err, ErrOperationRejected)
}

func TestQueueCommands(t *testing.T) {
	s, dev := newTestSession(t)
	ctx, cancel := testContext()
	defer cancel()
	withMediaApp(t, s, dev, "app-1", "web-1")

	a := NewMedia("http://x/a.mp4", "video/mp4", "")
	b := NewMedia("http://x/b.mp4", "video/mp4", "")
	loaded := async(func() (*MediaStatus, error) {
		return s.Queue().Load(ctx, []QueueItem{{Media: &a}, {Media: &b}}, RepeatAll, 1)
	})
	dev.expect(t, NamespaceConnection, TypeConnect)
	req := dev.expect(t, NamespaceMedia, TypeQueueLoad)
	body := decodePayload(t, req)
	assert.Equal(t, string(RepeatAll), body["repeatMode"])
	assert.EqualValues(t, 1, body["startIndex"])
	assert.Len(t, body["items"], 2)
	dev.reply(t, req, mediaStatus(4, PlayerStatePlaying, 0))

	_, err := wait(t, loaded)
	require.NoError(t, err)

	next := async(func() (*MediaStatus, error) { return s.Queue().Next(ctx) })
	req = dev.expect(t, NamespaceMedia, TypeQueueUpdate)
	body = decodePayload(t, req)
	assert.EqualValues(t, 1, body["jump"])
	assert.EqualValues(t, 4, body["mediaSessionId"])
	dev.reply(t, req, mediaStatus(4, PlayerStateBuffering, 0))
	_, err = wait(t, next)
	require.NoError(t, err)

	ids := async(func() ([]int, error) { return s.Queue().ItemIDs(ctx) })
	req = dev.expect(t, NamespaceMedia, TypeQueueGetItemIDs)
	dev.reply(t, req, map[string]any{"type": TypeQueueItemIDs, "itemIds": []int{11, 12}})
	got, err := wait(t, ids)
	require.NoError(t, err)
	assert.Equal(t, []int{11, 12}, got)

	changed := s.Queue().Changes()
	dev.push(t, "web-1", NamespaceMedia, map[string]any{"type": TypeQueueChange, "changeType": "REMOVE", "itemIds": []int{11}})
	select {
	case <-changed:
	case <-time.After(time.Second):
		t.Fatal("queue change not observed")
	}
	assert.Equal(t, "REMOVE", s.Queue().LastChange().ChangeType)
}

func TestMalformedPushIsDropped(t *testing.T) {
	s, dev := newTestSession(t)

	dev.send(t, Envelope{SourceID: PlatformReceiverID, DestinationID: testSender, Namespace: NamespaceReceiver, Payload: []byte("{not json")})
	dev.push(t, PlatformReceiverID, NamespaceReceiver, map[string]any{"type": TypeReceiverStatus, "status": "oops"})
	dev.push(t, PlatformReceiverID, NamespaceReceiver, receiverStatus(0.4))

	ctx, cancel := testContext()
	defer cancel()
	st, err := s.Receiver().Await(ctx, func(*ReceiverStatus) bool { return true })
	require.NoError(t, err)
	assert.InDelta(t, 0.4, st.Volume.Level, 0)
	assert.NoError(t, s.Err())
}

func TestMalformedFrameEndsSession(t *testing.T) {
	s, dev := newTestSession(t)

	hdr := make([]byte, frameHeaderSize)
	binary.BigEndian.PutUint32(hdr, DefaultMaxFrameSize+1)
	_, err := dev.conn.Write(hdr)
	require.NoError(t, err)

	select {
	case <-s.Done():
	case <-time.After(time.Second):
		t.Fatal("session still open")
	}
	assert.ErrorIs(t, s.Err(), ErrConnectionClosed)
	assert.ErrorIs(t, s.Err(), ErrMalformedMessage)
}

func TestUnknownNamespaceIsDropped(t *testing.T) {
	s, dev := newTestSession(t)

	dev.push(t, "web-9", "urn:x-cast:com.example.nobody", map[string]any{"type": "HELLO"})
	dev.push(t, PlatformReceiverID, NamespaceReceiver, receiverStatus(0.1))

	ctx, cancel := testContext()
	defer cancel()
	_, err := s.Receiver().Await(ctx, func(*ReceiverStatus) bool { return true })
	require.NoError(t, err)
	assert.NoError(t, s.Err())
}

func TestCustomNamespacePassThrough(t *testing.T) {
	s, dev := newTestSession(t)
	const ns = "urn:x-cast:com.example.game"

	ch, err := s.Custom(ns)
	require.NoError(t, err)
	assert.Equal(t, ns, ch.Namespace())

	_, err = s.Custom(ns)
	assert.ErrorIs(t, err, ErrInvalidArgument)
	_, err = s.Custom(NamespaceMedia)
	assert.ErrorIs(t, err, ErrInvalidArgument)

	payload := []byte(`{"type":"SCORE","points":3}`)
	dev.send(t, Envelope{SourceID: "game-1", DestinationID: testSender, Namespace: ns, Payload: payload})

	select {
	case env := <-ch.Messages():
		assert.Equal(t, payload, env.Payload)
		assert.Equal(t, "game-1", env.SourceID)
	case <-time.After(time.Second):
		t.Fatal("custom message not delivered")
	}

	ctx, cancel := testContext()
	defer cancel()
	require.NoError(t, ch.Send(ctx, "game-1", map[string]any{"type": "MOVE", "x": 1}))

	conn := dev.expect(t, NamespaceConnection, TypeConnect)
	assert.Equal(t, "game-1", conn.DestinationID)
	env := dev.expect(t, ns, "MOVE")
	assert.Equal(t, "game-1", env.DestinationID)
	assert.EqualValues(t, 1, decodePayload(t, env)["x"])

	require.NoError(t, s.Close())
	_, open := <-ch.Messages()
	assert.False(t, open, "messages channel closed with the session")
}

func TestCustomChannelReopen(t *testing.T) {
	s, dev := newTestSession(t)
	const ns = "urn:x-cast:com.example.game"

	first, err := s.Custom(ns)
	require.NoError(t, err)
	first.Close()
	first.Close()

	_, open := <-first.Messages()
	assert.False(t, open, "messages channel closed by Close")

	second, err := s.Custom(ns)
	require.NoError(t, err)

	payload := []byte(`{"type":"SCORE","points":1}`)
	dev.send(t, Envelope{SourceID: "game-1", DestinationID: testSender, Namespace: ns, Payload: payload})
	select {
	case env := <-second.Messages():
		assert.Equal(t, payload, env.Payload)
	case <-time.After(time.Second):
		t.Fatal("message not delivered to the new channel")
	}

	require.NoError(t, s.Close())
	_, open = <-second.Messages()
	assert.False(t, open, "messages channel closed with the session")
}

func TestHeartbeatAnswersPing(t *testing.T) {
	_, dev := newTestSession(t)

	dev.push(t, PlatformReceiverID, NamespaceHeartbeat, map[string]any{"type": TypePing})

	pong := dev.expect(t, NamespaceHeartbeat, TypePong)
	assert.Equal(t, testSender, pong.SourceID)
	assert.Equal(t, PlatformReceiverID, pong.DestinationID)
}

func TestHeartbeatPingsWhenIdle(t *testing.T) {
	s, dev := newTestSession(t, WithHeartbeat(20*time.Millisecond, 5))

	for j := 0; j < 3; j++ {
		ping := dev.expect(t, NamespaceHeartbeat, TypePing)
		dev.reply(t, ping, map[string]any{"type": TypePong})
	}
	assert.NoError(t, s.Err())
}

func TestMissedHeartbeatsEndSession(t *testing.T) {
	s, _ := newTestSession(t, WithHeartbeat(10*time.Millisecond, 2))

	select {
	case <-s.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("session survived a silent receiver")
	}
	assert.ErrorIs(t, s.Err(), ErrTimeout)

	_, err := s.Receiver().GetStatus(context.Background())
	assert.ErrorIs(t, err, ErrConnectionClosed)
}

func TestReceiverCloseEndsSession(t *testing.T) {
	s, dev := newTestSession(t)

	dev.push(t, PlatformReceiverID, NamespaceConnection, map[string]any{"type": TypeClose})

	select {
	case <-s.Done():
	case <-time.After(time.Second):
		t.Fatal("session still open")
	}
	assert.ErrorIs(t, s.Err(), ErrConnectionClosed)
}

func TestAppAvailability(t *testing.T) {
	s, dev := newTestSession(t)
	ctx, cancel := testContext()
	defer cancel()

	res := async(func() (map[string]bool, error) {
		return s.Receiver().AppAvailability(ctx, DefaultMediaReceiverAppID, "MISSING")
	})
	req := dev.expect(t, NamespaceReceiver, TypeGetAppAvailability)
	dev.reply(t, req, map[string]any{
		"responseType": TypeGetAppAvailability,
		"availability": map[string]string{DefaultMediaReceiverAppID: appAvailable, "MISSING": "APP_UNAVAILABLE"},
	})

	got, err := wait(t, res)
	require.NoError(t, err)
	assert.Equal(t, map[string]bool{DefaultMediaReceiverAppID: true, "MISSING": false}, got)
}
