package castprotocol

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"unicode/utf8"

	"github.com/gogo/protobuf/proto"
	pb "github.com/vishen/go-chromecast/cast/proto"
)

// Reserved namespaces and endpoints of the Cast V2 protocol.
const (
	NamespaceConnection = "urn:x-cast:com.google.cast.tp.connection"
	NamespaceHeartbeat  = "urn:x-cast:com.google.cast.tp.heartbeat"
	NamespaceReceiver   = "urn:x-cast:com.google.cast.receiver"
	NamespaceMedia      = "urn:x-cast:com.google.cast.media"
	// Queue commands travel on the media namespace and share its session.
	NamespaceQueue = NamespaceMedia

	// PlatformReceiverID is the destination of the platform receiver that
	// every sender connects to first.
	PlatformReceiverID = "receiver-0"
	// DefaultSenderID is the conventional sender id used by most senders.
	DefaultSenderID = "sender-0"
	// BroadcastID is used by receivers for messages addressed to all senders.
	BroadcastID = "*"
)

const (
	frameHeaderSize = 4
	// DefaultMaxFrameSize is the largest message a receiver accepts.
	DefaultMaxFrameSize = 64 * 1024
)

// Envelope is one wire-level protocol message.
type Envelope struct {
	SourceID      string
	DestinationID string
	Namespace     string
	// Payload is the UTF-8 JSON payload, or raw bytes when Binary is set.
	Payload []byte
	Binary  bool
}

// Header is the part of every JSON payload shared by all namespaces.
type Header struct {
	Type      string `json:"type"`
	RequestID int    `json:"requestId,omitempty"`
	// ResponseType stands in for Type on some receiver replies.
	ResponseType string `json:"responseType,omitempty"`
}

func parseHeader(payload []byte) (Header, error) {
	var h Header
	if err := json.Unmarshal(payload, &h); err != nil {
		return h, fmt.Errorf("%w: %v", ErrMalformedMessage, err)
	}
	if h.Type == "" {
		h.Type = h.ResponseType
	}
	return h, nil
}

// SetRequestId implements the Payload interface.
func (h *Header) SetRequestId(id int) {
	h.RequestID = id
}

// Payload is implemented by every request body that carries a requestId.
type Payload interface {
	SetRequestId(id int)
}

// Header returns the type discriminator and request id of the payload.
func (e Envelope) Header() (Header, error) {
	if e.Binary {
		return Header{}, fmt.Errorf("%w: binary payload has no header", ErrMalformedMessage)
	}
	h, err := parseHeader(e.Payload)
	if err != nil {
		return h, err
	}
	if h.Type == "" {
		return h, fmt.Errorf("%w: payload without type", ErrMalformedMessage)
	}
	return h, nil
}

// Validate checks that a STRING payload is UTF-8 JSON with a type.
func (e Envelope) Validate() error {
	if e.Binary {
		return nil
	}
	if !utf8.Valid(e.Payload) {
		return fmt.Errorf("%w: payload is not valid UTF-8", ErrMalformedMessage)
	}
	if !json.Valid(e.Payload) {
		return fmt.Errorf("%w: payload is not valid JSON", ErrMalformedMessage)
	}
	_, err := e.Header()
	return err
}

// Reply builds an envelope travelling the opposite way of e.
func (e Envelope) Reply(payload any) (Envelope, error) {
	return NewEnvelope(e.DestinationID, e.SourceID, e.Namespace, payload)
}

// NewEnvelope JSON-encodes payload into an envelope.
func NewEnvelope(source, destination, namespace string, payload any) (Envelope, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, fmt.Errorf("%w: encode payload: %v", ErrProtocol, err)
	}
	return Envelope{
		SourceID:      source,
		DestinationID: destination,
		Namespace:     namespace,
		Payload:       body,
	}, nil
}

// FrameCodec frames envelopes as length-prefixed CastMessage protobufs.
type FrameCodec struct {
	// MaxFrameSize bounds a single frame; zero means DefaultMaxFrameSize.
	MaxFrameSize int
}

func (c FrameCodec) maxFrame() int {
	if c.MaxFrameSize <= 0 {
		return DefaultMaxFrameSize
	}
	return c.MaxFrameSize
}

// Encode serializes env into one frame, length prefix included.
func (c FrameCodec) Encode(env Envelope) ([]byte, error) {
	msg := &pb.CastMessage{
		ProtocolVersion: pb.CastMessage_CASTV2_1_0.Enum(),
		SourceId:        proto.String(env.SourceID),
		DestinationId:   proto.String(env.DestinationID),
		Namespace:       proto.String(env.Namespace),
	}
	if env.Binary {
		msg.PayloadType = pb.CastMessage_BINARY.Enum()
		msg.PayloadBinary = env.Payload
	} else {
		msg.PayloadType = pb.CastMessage_STRING.Enum()
		msg.PayloadUtf8 = proto.String(string(env.Payload))
	}

	body, err := proto.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("%w: marshal frame: %v", ErrProtocol, err)
	}
	if len(body) > c.maxFrame() {
		return nil, fmt.Errorf("%w: frame of %d bytes exceeds %d", ErrProtocol, len(body), c.maxFrame())
	}

	frame := make([]byte, frameHeaderSize+len(body))
	binary.BigEndian.PutUint32(frame, uint32(len(body)))
	copy(frame[frameHeaderSize:], body)
	return frame, nil
}

// Decode reads exactly one frame from r and decodes it.
// A clean end of stream before a frame starts is reported as io.EOF.
func (c FrameCodec) Decode(r io.Reader) (Envelope, error) {
	body, err := c.ReadFrame(r)
	if err != nil {
		return Envelope{}, err
	}
	env, err := UnmarshalEnvelope(body)
	if err != nil {
		return Envelope{}, err
	}
	if err := env.Validate(); err != nil {
		return Envelope{}, err
	}
	return env, nil
}

// DecodeFrame decodes a complete frame held in memory.
func (c FrameCodec) DecodeFrame(frame []byte) (Envelope, error) {
	env, err := c.Decode(bytes.NewReader(frame))
	if errors.Is(err, io.EOF) {
		return Envelope{}, fmt.Errorf("%w: empty frame", ErrMalformedMessage)
	}
	return env, err
}

// ReadFrame reads one length-prefixed frame body from r without decoding it.
func (c FrameCodec) ReadFrame(r io.Reader) ([]byte, error) {
	var hdr [frameHeaderSize]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		if errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, fmt.Errorf("%w: truncated header", ErrMalformedMessage)
		}
		return nil, err
	}

	size := binary.BigEndian.Uint32(hdr[:])
	if size == 0 || int64(size) > int64(c.maxFrame()) {
		return nil, fmt.Errorf("%w: invalid frame length %d", ErrMalformedMessage, size)
	}

	body := make([]byte, size)
	if _, err := io.ReadFull(r, body); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, fmt.Errorf("%w: truncated frame", ErrMalformedMessage)
		}
		return nil, err
	}
	return body, nil
}

// UnmarshalEnvelope decodes a frame body into an envelope without
// validating the JSON payload.
func UnmarshalEnvelope(body []byte) (Envelope, error) {
	var msg pb.CastMessage
	if err := proto.Unmarshal(body, &msg); err != nil {
		return Envelope{}, fmt.Errorf("%w: %v", ErrMalformedMessage, err)
	}

	env := Envelope{
		SourceID:      msg.GetSourceId(),
		DestinationID: msg.GetDestinationId(),
		Namespace:     msg.GetNamespace(),
	}
	if msg.GetPayloadType() == pb.CastMessage_BINARY {
		env.Binary = true
		env.Payload = msg.GetPayloadBinary()
	} else {
		env.Payload = []byte(msg.GetPayloadUtf8())
	}
	if env.Namespace == "" {
		return Envelope{}, fmt.Errorf("%w: missing namespace", ErrMalformedMessage)
	}
	return env, nil
}
