package orch

import (
	"context"
	"fmt"

	"github.com/dkeye/Agora/internal/core"
	"github.com/dkeye/Agora/internal/domain"
	"github.com/rs/zerolog/log"
)

// resolveScope turns a client room scope into a room key. Operators default
// to their community channel.
func resolveScope(sess *core.Session, s RoomScope) (domain.RoomKey, error) {
	switch {
	case s.Room != "":
		key, err := domain.ParseRoomKey(s.Room)
		if err != nil {
			return domain.RoomKey{}, domain.Errorf(domain.KindValidation, "%v", err)
		}
		return key, nil
	case s.ConversationID != "":
		return domain.ConversationRoom(s.ConversationID), nil
	case s.CommunityID != "":
		switch domain.RoomKind(s.Kind) {
		case "", domain.RoomChannel:
			return domain.ChannelRoom(domain.CommunityID(s.CommunityID)), nil
		case domain.RoomGroupChat:
			return domain.ChatRoom(domain.CommunityID(s.CommunityID)), nil
		default:
			return domain.RoomKey{}, domain.Errorf(domain.KindValidation, "unknown room kind %q", s.Kind)
		}
	}
	if c, ok := sess.CommunityID(); ok {
		return domain.ChannelRoom(c), nil
	}
	return domain.RoomKey{}, domain.Errorf(domain.KindValidation, "room scope required")
}

// authorizeRoom checks that sess may join key. Live rooms are only entered
// through join_live_session.
func (o *Orchestrator) authorizeRoom(ctx context.Context, sess *core.Session, key domain.RoomKey) error {
	if key.Kind == domain.RoomLive {
		return domain.Errorf(domain.KindValidation, "use %s for live session rooms", EventJoinLiveSession)
	}
	if c, ok := key.Community(); ok && sess.Operates(c) {
		return nil
	}
	ok, err := o.Directory.CanAccess(ctx, sess.Identity(), key)
	if err != nil {
		return fmt.Errorf("room access lookup: %w", err)
	}
	if !ok {
		return domain.Errorf(domain.KindAuthorization, "no access to room %s", key)
	}
	return nil
}

func (o *Orchestrator) joinRoom(ctx context.Context, p *core.Peer, e *JoinRoom) {
	key, err := resolveScope(p.Session, e.RoomScope)
	if err != nil {
		o.Fail(p, OutRoomError, err)
		return
	}
	if err := o.authorizeRoom(ctx, p.Session, key); err != nil {
		o.Fail(p, OutRoomError, err)
		return
	}
	o.Rooms.Join(p.Session.ConnID(), p.Signal, key)
	log.Info().Str("module", "orch").Str("identity", string(p.Session.Identity())).Str("room", key.String()).Msg("join room")
	o.send(p, roomFrame{Type: OutRoomJoined, Room: key, MemberCount: o.Rooms.MemberCount(key)})
}

func (o *Orchestrator) leaveRoom(p *core.Peer, e *LeaveRoom) {
	key, err := resolveScope(p.Session, e.RoomScope)
	if err != nil {
		o.Fail(p, OutRoomError, err)
		return
	}
	if key.Kind == domain.RoomLive {
		o.Fail(p, OutRoomError, domain.Errorf(domain.KindValidation, "use %s for live session rooms", EventLeaveLiveSession))
		return
	}
	o.Rooms.Leave(p.Session.ConnID(), key)
	log.Info().Str("module", "orch").Str("identity", string(p.Session.Identity())).Str("room", key.String()).Msg("leave room")
	o.send(p, roomFrame{Type: OutRoomLeft, Room: key})
}

// typing is fire-and-forget: no persistence, no ack, silent on bad input.
func (o *Orchestrator) typing(p *core.Peer, scope RoomScope, kind string) {
	key, err := resolveScope(p.Session, scope)
	if err != nil || !o.Rooms.IsMember(p.Session.ConnID(), key) {
		log.Debug().Str("module", "orch").Str("identity", string(p.Session.Identity())).Msg("typing ignored")
		return
	}
	o.broadcast(key, typingFrame{
		Type:        kind,
		Room:        key,
		Identity:    p.Session.Identity(),
		DisplayName: p.Session.DisplayName(),
	}, p.Session.ConnID())
}
