package orch

import (
	"encoding/json"
	"fmt"

	"github.com/dkeye/Agora/internal/domain"
)

// Inbound event names.
const (
	EventJoinRoom          = "join_room"
	EventLeaveRoom         = "leave_room"
	EventSendMessage       = "send_message"
	EventEditMessage       = "edit_message"
	EventDeleteMessage     = "delete_message"
	EventReactToMessage    = "react_to_message"
	EventTypingStart       = "typing_start"
	EventTypingStop        = "typing_stop"
	EventJoinLiveSession   = "join_live_session"
	EventLeaveLiveSession  = "leave_live_session"
	EventWebRTCSignal      = "webrtc_signal"
	EventRequestModeration = "request_moderation"
	EventOperatorAction    = "operator_action"
	EventPing              = "ping"
	EventWhoAmI            = "whoami"
)

// Event is the closed set of inbound client events. Only types in this
// package implement it; Dispatch switches over all of them.
type Event interface {
	Name() string
	inbound()
}

// RoomScope names a room either directly or through a community or
// conversation id. Kind selects "channel" (default) or "chat" for communities.
type RoomScope struct {
	Room           string `json:"room,omitempty"`
	CommunityID    string `json:"communityId,omitempty"`
	ConversationID string `json:"conversationId,omitempty"`
	Kind           string `json:"kind,omitempty"`
}

type JoinRoom struct{ RoomScope }
type LeaveRoom struct{ RoomScope }

type SendMessage struct {
	RoomScope
	Content     string              `json:"content"`
	Attachments []domain.Attachment `json:"attachments,omitempty"`
	// ClientRef is echoed back in the sender ack.
	ClientRef string `json:"clientRef,omitempty"`
}

type EditMessage struct {
	MessageID domain.MessageID `json:"messageId"`
	Content   string           `json:"content"`
}

type DeleteMessage struct {
	MessageID domain.MessageID `json:"messageId"`
}

type ReactToMessage struct {
	MessageID domain.MessageID `json:"messageId"`
	Emoji     string           `json:"emoji"`
}

type TypingStart struct{ RoomScope }
type TypingStop struct{ RoomScope }

type JoinLiveSession struct {
	SessionID domain.SessionID `json:"sessionId"`
}

type LeaveLiveSession struct {
	SessionID domain.SessionID `json:"sessionId"`
}

type WebRTCSignal struct {
	SessionID      domain.SessionID  `json:"sessionId"`
	TargetIdentity domain.IdentityID `json:"targetIdentity"`
	SignalKind     string            `json:"signalKind"`
	Payload        json.RawMessage   `json:"payload"`
}

type RequestModeration struct {
	SessionID            domain.SessionID   `json:"sessionId"`
	RequestedPermissions domain.Permissions `json:"requestedPermissions"`
	Note                 string             `json:"note,omitempty"`
}

type OperatorAction struct {
	Action         string            `json:"action"`
	SessionID      domain.SessionID  `json:"sessionId"`
	TargetIdentity domain.IdentityID `json:"targetIdentity,omitempty"`
	RequestID      domain.RequestID  `json:"requestId,omitempty"`
	Reason         string            `json:"reason,omitempty"`
}

type Ping struct{}
type WhoAmI struct{}

func (*JoinRoom) Name() string          { return EventJoinRoom }
func (*LeaveRoom) Name() string         { return EventLeaveRoom }
func (*SendMessage) Name() string       { return EventSendMessage }
func (*EditMessage) Name() string       { return EventEditMessage }
func (*DeleteMessage) Name() string     { return EventDeleteMessage }
func (*ReactToMessage) Name() string    { return EventReactToMessage }
func (*TypingStart) Name() string       { return EventTypingStart }
func (*TypingStop) Name() string        { return EventTypingStop }
func (*JoinLiveSession) Name() string   { return EventJoinLiveSession }
func (*LeaveLiveSession) Name() string  { return EventLeaveLiveSession }
func (*WebRTCSignal) Name() string      { return EventWebRTCSignal }
func (*RequestModeration) Name() string { return EventRequestModeration }
func (*OperatorAction) Name() string    { return EventOperatorAction }
func (*Ping) Name() string              { return EventPing }
func (*WhoAmI) Name() string            { return EventWhoAmI }

func (*JoinRoom) inbound()          {}
func (*LeaveRoom) inbound()         {}
func (*SendMessage) inbound()       {}
func (*EditMessage) inbound()       {}
func (*DeleteMessage) inbound()     {}
func (*ReactToMessage) inbound()    {}
func (*TypingStart) inbound()       {}
func (*TypingStop) inbound()        {}
func (*JoinLiveSession) inbound()   {}
func (*LeaveLiveSession) inbound()  {}
func (*WebRTCSignal) inbound()      {}
func (*RequestModeration) inbound() {}
func (*OperatorAction) inbound()    {}
func (*Ping) inbound()              {}
func (*WhoAmI) inbound()            {}

var newEvent = map[string]func() Event{
	EventJoinRoom:          func() Event { return &JoinRoom{} },
	EventLeaveRoom:         func() Event { return &LeaveRoom{} },
	EventSendMessage:       func() Event { return &SendMessage{} },
	EventEditMessage:       func() Event { return &EditMessage{} },
	EventDeleteMessage:     func() Event { return &DeleteMessage{} },
	EventReactToMessage:    func() Event { return &ReactToMessage{} },
	EventTypingStart:       func() Event { return &TypingStart{} },
	EventTypingStop:        func() Event { return &TypingStop{} },
	EventJoinLiveSession:   func() Event { return &JoinLiveSession{} },
	EventLeaveLiveSession:  func() Event { return &LeaveLiveSession{} },
	EventWebRTCSignal:      func() Event { return &WebRTCSignal{} },
	EventRequestModeration: func() Event { return &RequestModeration{} },
	EventOperatorAction:    func() Event { return &OperatorAction{} },
	EventPing:              func() Event { return &Ping{} },
	EventWhoAmI:            func() Event { return &WhoAmI{} },
}

// Decode parses one inbound frame: a JSON object whose "type" names the
// event and whose other fields are the event payload.
func Decode(data []byte) (Event, error) {
	var env struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, domain.Errorf(domain.KindValidation, "bad json: %v", err)
	}
	mk, ok := newEvent[env.Type]
	if !ok {
		return nil, domain.Errorf(domain.KindValidation, "unknown event %q", env.Type)
	}
	ev := mk()
	if err := json.Unmarshal(data, ev); err != nil {
		return nil, domain.Errorf(domain.KindValidation, "bad %s payload: %v", env.Type, err)
	}
	return ev, nil
}

// Encode builds an inbound frame; clients and tests use it.
func Encode(ev Event) ([]byte, error) {
	body, err := json.Marshal(ev)
	if err != nil {
		return nil, err
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(body, &fields); err != nil {
		return nil, err
	}
	if fields == nil {
		fields = make(map[string]json.RawMessage)
	}
	name, _ := json.Marshal(ev.Name())
	fields["type"] = name
	out, err := json.Marshal(fields)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", ev.Name(), err)
	}
	return out, nil
}
