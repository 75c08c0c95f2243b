package domain

import (
	"fmt"
	"strings"
)

type RoomKind string

const (
	RoomChannel      RoomKind = "channel"
	RoomGroupChat    RoomKind = "chat"
	RoomConversation RoomKind = "conversation"
	RoomLive         RoomKind = "live"
)

// RoomKey identifies a room by kind and scope (community, conversation or
// live session id). Its text form is used on the wire and in logs:
//
//	community:<id>:channel
//	community:<id>:chat
//	conversation:<id>
//	live:<id>
type RoomKey struct {
	Kind  RoomKind
	Scope string
}

func ChannelRoom(c CommunityID) RoomKey  { return RoomKey{Kind: RoomChannel, Scope: string(c)} }
func ChatRoom(c CommunityID) RoomKey     { return RoomKey{Kind: RoomGroupChat, Scope: string(c)} }
func ConversationRoom(id string) RoomKey { return RoomKey{Kind: RoomConversation, Scope: id} }
func LiveRoom(s SessionID) RoomKey       { return RoomKey{Kind: RoomLive, Scope: string(s)} }

func (k RoomKey) IsZero() bool { return k.Kind == "" && k.Scope == "" }

func (k RoomKey) String() string {
	switch k.Kind {
	case RoomChannel, RoomGroupChat:
		return "community:" + k.Scope + ":" + string(k.Kind)
	case RoomConversation:
		return "conversation:" + k.Scope
	case RoomLive:
		return "live:" + k.Scope
	default:
		return ""
	}
}

// Community returns the owning community of channel and chat rooms.
func (k RoomKey) Community() (CommunityID, bool) {
	if k.Kind == RoomChannel || k.Kind == RoomGroupChat {
		return CommunityID(k.Scope), true
	}
	return "", false
}

func ParseRoomKey(s string) (RoomKey, error) {
	parts := strings.Split(s, ":")
	switch {
	case len(parts) == 3 && parts[0] == "community" && parts[1] != "":
		kind := RoomKind(parts[2])
		if kind != RoomChannel && kind != RoomGroupChat {
			break
		}
		return RoomKey{Kind: kind, Scope: parts[1]}, nil
	case len(parts) == 2 && parts[0] == "conversation" && parts[1] != "":
		return ConversationRoom(parts[1]), nil
	case len(parts) == 2 && parts[0] == "live" && parts[1] != "":
		return LiveRoom(SessionID(parts[1])), nil
	}
	return RoomKey{}, fmt.Errorf("invalid room key %q", s)
}

func (k RoomKey) MarshalText() ([]byte, error) { return []byte(k.String()), nil }

func (k *RoomKey) UnmarshalText(b []byte) error {
	if len(b) == 0 {
		*k = RoomKey{}
		return nil
	}
	parsed, err := ParseRoomKey(string(b))
	if err != nil {
		return err
	}
	*k = parsed
	return nil
}
