package castprotocol

import (
	"encoding/json"
	"fmt"
)

// Message types seen on the reserved namespaces.
const (
	TypeConnect = "CONNECT"
	TypeClose   = "CLOSE"
	TypePing    = "PING"
	TypePong    = "PONG"

	TypeLaunch             = "LAUNCH"
	TypeStop               = "STOP"
	TypeGetStatus          = "GET_STATUS"
	TypeSetVolume          = "SET_VOLUME"
	TypeGetAppAvailability = "GET_APP_AVAILABILITY"
	TypeReceiverStatus     = "RECEIVER_STATUS"
	TypeLaunchError        = "LAUNCH_ERROR"

	TypeLoad               = "LOAD"
	TypePlay               = "PLAY"
	TypePause              = "PAUSE"
	TypeSeek               = "SEEK"
	TypeEditTracksInfo     = "EDIT_TRACKS_INFO"
	TypeMediaStatus        = "MEDIA_STATUS"
	TypeLoadFailed         = "LOAD_FAILED"
	TypeLoadCancelled      = "LOAD_CANCELLED"
	TypeInvalidPlayerState = "INVALID_PLAYER_STATE"
	TypeInvalidRequest     = "INVALID_REQUEST"
	TypeError              = "ERROR"

	TypeQueueLoad       = "QUEUE_LOAD"
	TypeQueueInsert     = "QUEUE_INSERT"
	TypeQueueRemove     = "QUEUE_REMOVE"
	TypeQueueUpdate     = "QUEUE_UPDATE"
	TypeQueueGetItemIDs = "QUEUE_GET_ITEM_IDS"
	TypeQueueGetItems   = "QUEUE_GET_ITEMS"
	TypeQueueItemIDs    = "QUEUE_ITEM_IDS"
	TypeQueueItems      = "QUEUE_ITEMS"
	TypeQueueChange     = "QUEUE_CHANGE"
)

// Message is a decoded inbound payload. The set of implementations is
// closed; payloads with an unrecognised type decode to *UnknownMessage.
type Message interface {
	MessageType() string
	isMessage()
}

// PingMessage is a heartbeat probe.
type PingMessage struct{ Header }

// PongMessage answers a PingMessage.
type PongMessage struct{ Header }

// ConnectMessage opens a virtual connection.
type ConnectMessage struct{ Header }

// CloseMessage tears down a virtual connection.
type CloseMessage struct {
	Header
	ReasonCode int `json:"reasonCode,omitempty"`
}

// ReceiverStatusMessage carries the receiver status.
type ReceiverStatusMessage struct {
	Header
	Status *ReceiverStatus `json:"status,omitempty"`
}

// LaunchErrorMessage reports a failed LAUNCH.
type LaunchErrorMessage struct {
	Header
	Reason string `json:"reason,omitempty"`
}

// AppAvailabilityMessage answers GET_APP_AVAILABILITY.
type AppAvailabilityMessage struct {
	Header
	Availability map[string]string `json:"availability"`
}

// MediaStatusMessage carries zero or more media session statuses.
type MediaStatusMessage struct {
	Header
	Status []MediaStatus `json:"status"`
}

// ErrorMessage is any explicit error reply from a receiver.
type ErrorMessage struct {
	Header
	Reason            string `json:"reason,omitempty"`
	DetailedErrorCode int    `json:"detailedErrorCode,omitempty"`
	ItemID            int    `json:"itemId,omitempty"`
}

// QueueItemIDsMessage answers QUEUE_GET_ITEM_IDS.
type QueueItemIDsMessage struct {
	Header
	ItemIDs []int `json:"itemIds"`
}

// QueueItemsMessage answers QUEUE_GET_ITEMS.
type QueueItemsMessage struct {
	Header
	Items []QueueItem `json:"items"`
}

// QueueChangeMessage is pushed when the queue content changes.
type QueueChangeMessage struct {
	Header
	ChangeType   string `json:"changeType"`
	ItemIDs      []int  `json:"itemIds,omitempty"`
	InsertBefore int    `json:"insertBefore,omitempty"`
}

// UnknownMessage keeps payloads whose type is not modelled.
type UnknownMessage struct {
	Namespace string
	Type      string
	RequestID int
	Raw       json.RawMessage
}

func (m *PingMessage) MessageType() string            { return m.Type }
func (m *PongMessage) MessageType() string            { return m.Type }
func (m *ConnectMessage) MessageType() string         { return m.Type }
func (m *CloseMessage) MessageType() string           { return m.Type }
func (m *ReceiverStatusMessage) MessageType() string  { return m.Type }
func (m *LaunchErrorMessage) MessageType() string     { return m.Type }
func (m *AppAvailabilityMessage) MessageType() string { return TypeGetAppAvailability }
func (m *MediaStatusMessage) MessageType() string     { return m.Type }
func (m *ErrorMessage) MessageType() string           { return m.Type }
func (m *QueueItemIDsMessage) MessageType() string    { return m.Type }
func (m *QueueItemsMessage) MessageType() string      { return m.Type }
func (m *QueueChangeMessage) MessageType() string     { return m.Type }
func (m *UnknownMessage) MessageType() string         { return m.Type }

func (*PingMessage) isMessage()            {}
func (*PongMessage) isMessage()            {}
func (*ConnectMessage) isMessage()         {}
func (*CloseMessage) isMessage()           {}
func (*ReceiverStatusMessage) isMessage()  {}
func (*LaunchErrorMessage) isMessage()     {}
func (*AppAvailabilityMessage) isMessage() {}
func (*MediaStatusMessage) isMessage()     {}
func (*ErrorMessage) isMessage()           {}
func (*QueueItemIDsMessage) isMessage()    {}
func (*QueueItemsMessage) isMessage()      {}
func (*QueueChangeMessage) isMessage()     {}
func (*UnknownMessage) isMessage()         {}

// DecodeMessage decodes payload according to its namespace and type.
func DecodeMessage(namespace string, payload []byte) (Message, error) {
	h, err := parseHeader(payload)
	if err != nil {
		return nil, err
	}

	var msg Message
	switch namespace {
	case NamespaceHeartbeat:
		switch h.Type {
		case TypePing:
			msg = &PingMessage{}
		case TypePong:
			msg = &PongMessage{}
		}
	case NamespaceConnection:
		switch h.Type {
		case TypeConnect:
			msg = &ConnectMessage{}
		case TypeClose:
			msg = &CloseMessage{}
		}
	case NamespaceReceiver:
		switch h.Type {
		case TypeReceiverStatus:
			msg = &ReceiverStatusMessage{}
		case TypeLaunchError:
			msg = &LaunchErrorMessage{}
		case TypeGetAppAvailability:
			msg = &AppAvailabilityMessage{}
		case TypeInvalidRequest, TypeError:
			msg = &ErrorMessage{}
		}
	case NamespaceMedia:
		switch h.Type {
		case TypeMediaStatus:
			msg = &MediaStatusMessage{}
		case TypeLoadFailed, TypeLoadCancelled, TypeInvalidPlayerState, TypeInvalidRequest, TypeError:
			msg = &ErrorMessage{}
		case TypeQueueItemIDs:
			msg = &QueueItemIDsMessage{}
		case TypeQueueItems:
			msg = &QueueItemsMessage{}
		case TypeQueueChange:
			msg = &QueueChangeMessage{}
		}
	}

	if msg == nil {
		return &UnknownMessage{
			Namespace: namespace,
			Type:      h.Type,
			RequestID: h.RequestID,
			Raw:       json.RawMessage(payload),
		}, nil
	}
	if err := json.Unmarshal(payload, msg); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrMalformedMessage, h.Type, err)
	}
	return msg, nil
}

// rejection converts an explicit error reply into an ErrOperationRejected.
// It returns nil for messages that are not error replies.
func rejection(op, namespace string, msg Message) error {
	switch m := msg.(type) {
	case *ErrorMessage:
		reason := m.Type
		if m.Reason != "" {
			reason = fmt.Sprintf("%s: %s", m.Type, m.Reason)
		}
		return &Error{Op: op, Sentinel: ErrOperationRejected, Namespace: namespace, RequestID: m.RequestID, Reason: reason}
	case *LaunchErrorMessage:
		reason := m.Type
		if m.Reason != "" {
			reason = fmt.Sprintf("%s: %s", m.Type, m.Reason)
		}
		return &Error{Op: op, Sentinel: ErrOperationRejected, Namespace: namespace, RequestID: m.RequestID, Reason: reason}
	}
	return nil
}
