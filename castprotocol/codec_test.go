package castprotocol

import (
	"bytes"
	"encoding/binary"
	"io"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFrameCodecRoundTrip(t *testing.T) {
	tt := []struct {
		name string
		env  Envelope
	}{
		{
			name: "string payload",
			env: Envelope{
				SourceID:      testSender,
				DestinationID: PlatformReceiverID,
				Namespace:     NamespaceReceiver,
				Payload:       []byte(`{"type":"GET_STATUS","requestId":1}`),
			},
		},
		{
			name: "binary payload",
			env: Envelope{
				SourceID:      testSender,
				DestinationID: "web-1",
				Namespace:     "urn:x-cast:com.example.bin",
				Payload:       []byte{0x00, 0xff, 0x10},
				Binary:        true,
			},
		},
	}

	var codec FrameCodec
	for _, tc := range tt {
		t.Run(tc.name, func(t *testing.T) {
			frame, err := codec.Encode(tc.env)
			require.NoError(t, err)
			assert.Equal(t, uint32(len(frame)-frameHeaderSize), binary.BigEndian.Uint32(frame))

			got, err := codec.DecodeFrame(frame)
			require.NoError(t, err)
			if diff := cmp.Diff(tc.env, got); diff != "" {
				t.Fatalf("DecodeFrame() mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestFrameCodecSequentialFrames(t *testing.T) {
	var codec FrameCodec
	var buf bytes.Buffer
	for _, typ := range []string{TypePing, TypePong} {
		env, err := NewEnvelope(testSender, PlatformReceiverID, NamespaceHeartbeat, &Header{Type: typ})
		require.NoError(t, err)
		frame, err := codec.Encode(env)
		require.NoError(t, err)
		buf.Write(frame)
	}

	for _, want := range []string{TypePing, TypePong} {
		env, err := codec.Decode(&buf)
		require.NoError(t, err)
		hdr, err := env.Header()
		require.NoError(t, err)
		assert.Equal(t, want, hdr.Type)
	}

	_, err := codec.Decode(&buf)
	assert.ErrorIs(t, err, io.EOF)
}

func TestFrameCodecRejects(t *testing.T) {
	var codec FrameCodec
	encode := func(payload []byte) []byte {
		frame, err := codec.Encode(Envelope{SourceID: "a", DestinationID: "b", Namespace: NamespaceMedia, Payload: payload})
		require.NoError(t, err)
		return frame
	}
	valid := encode([]byte(`{"type":"PING"}`))

	oversize := make([]byte, frameHeaderSize)
	binary.BigEndian.PutUint32(oversize, DefaultMaxFrameSize+1)

	tt := []struct {
		name  string
		frame []byte
	}{
		{"empty", nil},
		{"truncated header", valid[:2]},
		{"truncated body", valid[:len(valid)-3]},
		{"zero length", []byte{0, 0, 0, 0}},
		{"oversize length", oversize},
		{"garbage protobuf", append([]byte{0, 0, 0, 3}, 0xff, 0xff, 0xff)},
		{"non utf8 payload", encode([]byte{'"', 0xff, 0xfe, '"'})},
		{"non json payload", encode([]byte(`{"type":`))},
		{"payload without type", encode([]byte(`{"requestId":4}`))},
		{"missing namespace", func() []byte {
			f, err := codec.Encode(Envelope{SourceID: "a", DestinationID: "b", Payload: []byte(`{"type":"PING"}`)})
			require.NoError(t, err)
			return f
		}()},
	}

	for _, tc := range tt {
		t.Run(tc.name, func(t *testing.T) {
			_, err := codec.DecodeFrame(tc.frame)
			require.ErrorIs(t, err, ErrMalformedMessage)
			assert.ErrorIs(t, err, ErrProtocol)
		})
	}
}

func TestFrameCodecEncodeTooLarge(t *testing.T) {
	codec := FrameCodec{MaxFrameSize: 32}
	_, err := codec.Encode(Envelope{
		SourceID:      testSender,
		DestinationID: PlatformReceiverID,
		Namespace:     NamespaceMedia,
		Payload:       bytes.Repeat([]byte("x"), 64),
	})
	assert.ErrorIs(t, err, ErrProtocol)
}

func TestHeaderResponseTypeFallback(t *testing.T) {
	env := Envelope{Namespace: NamespaceReceiver, Payload: []byte(`{"responseType":"GET_APP_AVAILABILITY","requestId":9}`)}
	hdr, err := env.Header()
	require.NoError(t, err)
	assert.Equal(t, TypeGetAppAvailability, hdr.Type)
	assert.Equal(t, 9, hdr.RequestID)
}

func TestDecodeMessage(t *testing.T) {
	tt := []struct {
		name      string
		namespace string
		payload   string
		want      Message
	}{
		{
			name:      "ping",
			namespace: NamespaceHeartbeat,
			payload:   `{"type":"PING"}`,
			want:      &PingMessage{Header: Header{Type: TypePing}},
		},
		{
			name:      "close with reason",
			namespace: NamespaceConnection,
			payload:   `{"type":"CLOSE","reasonCode":5}`,
			want:      &CloseMessage{Header: Header{Type: TypeClose}, ReasonCode: 5},
		},
		{
			name:      "receiver status",
			namespace: NamespaceReceiver,
			payload:   `{"type":"RECEIVER_STATUS","requestId":3,"status":{"volume":{"level":0.25,"muted":true}}}`,
			want: &ReceiverStatusMessage{
				Header: Header{Type: TypeReceiverStatus, RequestID: 3},
				Status: &ReceiverStatus{Volume: Volume{Level: 0.25, Muted: true}},
			},
		},
		{
			name:      "media status with integral numbers",
			namespace: NamespaceMedia,
			payload:   `{"type":"MEDIA_STATUS","status":[{"mediaSessionId":1,"playerState":"PLAYING","currentTime":30,"media":{"contentId":"u","contentType":"video/mp4","duration":596}}]}`,
			want: &MediaStatusMessage{
				Header: Header{Type: TypeMediaStatus},
				Status: []MediaStatus{{
					MediaSessionID: 1,
					PlayerState:    PlayerStatePlaying,
					CurrentTime:    30,
					Media:          &Media{ContentID: "u", ContentType: "video/mp4", Duration: 596},
				}},
			},
		},
		{
			name:      "load failed",
			namespace: NamespaceMedia,
			payload:   `{"type":"LOAD_FAILED","requestId":2,"detailedErrorCode":104}`,
			want:      &ErrorMessage{Header: Header{Type: TypeLoadFailed, RequestID: 2}, DetailedErrorCode: 104},
		},
		{
			name:      "app availability by response type",
			namespace: NamespaceReceiver,
			payload:   `{"responseType":"GET_APP_AVAILABILITY","requestId":4,"availability":{"CC1AD845":"APP_AVAILABLE"}}`,
			want: &AppAvailabilityMessage{
				Header:       Header{RequestID: 4, ResponseType: TypeGetAppAvailability},
				Availability: map[string]string{"CC1AD845": appAvailable},
			},
		},
		{
			name:      "queue change",
			namespace: NamespaceMedia,
			payload:   `{"type":"QUEUE_CHANGE","changeType":"INSERT","itemIds":[4,5]}`,
			want:      &QueueChangeMessage{Header: Header{Type: TypeQueueChange}, ChangeType: "INSERT", ItemIDs: []int{4, 5}},
		},
		{
			name:      "unknown type",
			namespace: "urn:x-cast:com.example",
			payload:   `{"type":"HELLO","requestId":7}`,
			want: &UnknownMessage{
				Namespace: "urn:x-cast:com.example",
				Type:      "HELLO",
				RequestID: 7,
				Raw:       []byte(`{"type":"HELLO","requestId":7}`),
			},
		},
	}

	for _, tc := range tt {
		t.Run(tc.name, func(t *testing.T) {
			got, err := DecodeMessage(tc.namespace, []byte(tc.payload))
			require.NoError(t, err)
			if diff := cmp.Diff(tc.want, got); diff != "" {
				t.Fatalf("DecodeMessage() mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestDecodeMessageWrongShape(t *testing.T) {
	_, err := DecodeMessage(NamespaceReceiver, []byte(`{"type":"RECEIVER_STATUS","status":"oops"}`))
	assert.ErrorIs(t, err, ErrMalformedMessage)
}

func TestRejection(t *testing.T) {
	err := rejection("Load", NamespaceMedia, &ErrorMessage{Header: Header{Type: TypeLoadFailed, RequestID: 3}, Reason: "bad media"})
	require.ErrorIs(t, err, ErrOperationRejected)
	assert.Contains(t, err.Error(), "LOAD_FAILED: bad media")

	err = rejection("Launch", NamespaceReceiver, &LaunchErrorMessage{Header: Header{Type: TypeLaunchError}, Reason: "NOT_FOUND"})
	assert.ErrorIs(t, err, ErrOperationRejected)

	assert.NoError(t, rejection("Play", NamespaceMedia, &MediaStatusMessage{}))
}

func TestErrorUnwrap(t *testing.T) {
	cause := io.ErrUnexpectedEOF
	err := &Error{Op: "Read", Sentinel: ErrConnectionClosed, Err: cause}

	assert.ErrorIs(t, err, ErrConnectionClosed)
	assert.ErrorIs(t, err, ErrConnection)
	assert.ErrorIs(t, err, cause)
	assert.True(t, IsConnectionLoss(err))
	assert.False(t, IsConnectionLoss(&Error{Op: "Seek", Sentinel: ErrInvalidArgument}))
	assert.Equal(t, "Read: cast: connection error: connection closed: unexpected EOF", err.Error())
}
