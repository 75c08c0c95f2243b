package orch

import (
	"encoding/json"
	"time"

	"github.com/dkeye/Agora/internal/core"
	"github.com/dkeye/Agora/internal/domain"
	"github.com/rs/zerolog/log"
)

// Outbound event names.
const (
	OutNewMessage             = "new_message"
	OutMessageSent            = "message_sent"
	OutMessageEdited          = "message_edited"
	OutMessageDeleted         = "message_deleted"
	OutMessageReactionUpdated = "message_reaction_updated"
	OutTypingStart            = "user_typing_start"
	OutTypingStop             = "user_typing_stop"
	OutRoomJoined             = "room_joined"
	OutRoomLeft               = "room_left"
	OutJoinedLiveSession      = "joined_live_session"
	OutLeftLiveSession        = "left_live_session"
	OutParticipantJoined      = "participant_joined"
	OutParticipantLeft        = "participant_left"
	OutWebRTCSignal           = "webrtc_signal"
	OutModerationRequest      = "moderation_request"
	OutModerationRequested    = "moderation_requested"
	OutModerationReviewed     = "moderation_reviewed"
	OutRemovedFromSession     = "removed_from_session"
	OutSessionStarted         = "session_started"
	OutSessionEnded           = "session_ended"
	OutOperatorActionApplied  = "operator_action_applied"
	OutNotification           = "notification"
	OutPong                   = "pong"
	OutWhoAmI                 = "whoami"

	OutError           = "error"
	OutRoomError       = "room_error"
	OutMessageError    = "message_error"
	OutJoinError       = "join_error"
	OutSignalError     = "signal_error"
	OutModerationError = "moderation_error"
	OutOperatorError   = "operator_error"
)

type errorFrame struct {
	Type  string `json:"type"`
	Error string `json:"error"`
	Code  string `json:"code"`
}

type messageFrame struct {
	Type string `json:"type"`
	*domain.Message
}

type messageSentFrame struct {
	Type      string           `json:"type"`
	MessageID domain.MessageID `json:"messageId"`
	Room      domain.RoomKey   `json:"room"`
	ClientRef string           `json:"clientRef,omitempty"`
	CreatedAt time.Time        `json:"createdAt"`
}

type messageDeletedFrame struct {
	Type      string           `json:"type"`
	MessageID domain.MessageID `json:"messageId"`
}

type reactionsFrame struct {
	Type      string                 `json:"type"`
	MessageID domain.MessageID       `json:"messageId"`
	Reactions []domain.ReactionCount `json:"reactions"`
}

type typingFrame struct {
	Type        string            `json:"type"`
	Room        domain.RoomKey    `json:"room"`
	Identity    domain.IdentityID `json:"identity"`
	DisplayName string            `json:"displayName"`
}

type roomFrame struct {
	Type        string         `json:"type"`
	Room        domain.RoomKey `json:"room"`
	MemberCount int            `json:"memberCount,omitempty"`
}

type liveFrame struct {
	Type             string           `json:"type"`
	SessionID        domain.SessionID `json:"sessionId"`
	ParticipantCount int              `json:"participantCount"`
}

type participantFrame struct {
	Type             string            `json:"type"`
	SessionID        domain.SessionID  `json:"sessionId"`
	Identity         domain.IdentityID `json:"identity"`
	DisplayName      string            `json:"displayName"`
	ParticipantCount int               `json:"participantCount"`
}

type signalFrame struct {
	Type            string            `json:"type"`
	SessionID       domain.SessionID  `json:"sessionId"`
	FromIdentity    domain.IdentityID `json:"fromIdentity"`
	FromDisplayName string            `json:"fromDisplayName"`
	SignalKind      SignalKind        `json:"signalKind"`
	Payload         json.RawMessage   `json:"payload"`
}

type moderationRequestFrame struct {
	Type    string                    `json:"type"`
	Request *domain.ModerationRequest `json:"request"`
}

type moderationRequestedFrame struct {
	Type      string           `json:"type"`
	RequestID domain.RequestID `json:"requestId"`
	SessionID domain.SessionID `json:"sessionId"`
}

type moderationReviewedFrame struct {
	Type       string            `json:"type"`
	RequestID  domain.RequestID  `json:"requestId"`
	SessionID  domain.SessionID  `json:"sessionId"`
	Requester  domain.IdentityID `json:"requester"`
	Status     string            `json:"status"`
	ReviewedBy domain.IdentityID `json:"reviewedBy"`
	ReviewNote string            `json:"reviewNote,omitempty"`
	// Permissions is what the owner's control plane should grant; empty on reject.
	Permissions *domain.Permissions `json:"permissions,omitempty"`
}

type removedFrame struct {
	Type      string            `json:"type"`
	SessionID domain.SessionID  `json:"sessionId"`
	RemovedBy domain.IdentityID `json:"removedBy"`
	Reason    string            `json:"reason,omitempty"`
}

type sessionFrame struct {
	Type        string             `json:"type"`
	SessionID   domain.SessionID   `json:"sessionId"`
	CommunityID domain.CommunityID `json:"communityId"`
}

type operatorAckFrame struct {
	Type      string           `json:"type"`
	Action    string           `json:"action"`
	SessionID domain.SessionID `json:"sessionId"`
	RequestID domain.RequestID `json:"requestId,omitempty"`
}

type notificationFrame struct {
	Type  string          `json:"type"`
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

type pongFrame struct {
	Type string `json:"type"`
}

type whoamiFrame struct {
	Type        string             `json:"type"`
	Identity    domain.IdentityID  `json:"identity"`
	DisplayName string             `json:"displayName"`
	Kind        string             `json:"kind"`
	CommunityID domain.CommunityID `json:"communityId,omitempty"`
	Guest       bool               `json:"guest"`
	Rooms       []domain.RoomKey   `json:"rooms"`
}

func encode(v any) core.Frame {
	b, err := json.Marshal(v)
	if err != nil {
		log.Error().Err(err).Str("module", "orch").Msg("encode frame")
		return nil
	}
	return b
}
