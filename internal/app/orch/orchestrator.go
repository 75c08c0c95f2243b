// Package orch routes client events to rooms, the message store, the
// signaling relay and the moderation workflow.
package orch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/dkeye/Agora/internal/app"
	"github.com/dkeye/Agora/internal/core"
	"github.com/dkeye/Agora/internal/domain"
	"github.com/dkeye/Agora/internal/store"
	"github.com/rs/zerolog/log"
)

type Limits struct {
	MaxContentLen  int
	MaxAttachments int
}

// Deps are the collaborators an Orchestrator is built from. Presence and
// Rooms are the only shared mutable state; they are created once per process.
type Deps struct {
	Presence   *app.Registry
	Rooms      *core.RoomManager
	Policy     app.Policy
	Limiter    *app.RateLimiter
	Directory  store.Directory
	Messages   store.MessageStore
	Moderation store.ModerationStore
	Limits     Limits
}

type Orchestrator struct {
	Presence   *app.Registry
	Rooms      *core.RoomManager
	Policy     app.Policy
	Limiter    *app.RateLimiter
	Directory  store.Directory
	Messages   store.MessageStore
	Moderation store.ModerationStore
	Limits     Limits

	sessions *sessionBook
	now      func() time.Time
}

func New(d Deps) *Orchestrator {
	if d.Limits.MaxContentLen <= 0 {
		d.Limits.MaxContentLen = 4000
	}
	if d.Limits.MaxAttachments <= 0 {
		d.Limits.MaxAttachments = 10
	}
	return &Orchestrator{
		Presence:   d.Presence,
		Rooms:      d.Rooms,
		Policy:     d.Policy,
		Limiter:    d.Limiter,
		Directory:  d.Directory,
		Messages:   d.Messages,
		Moderation: d.Moderation,
		Limits:     d.Limits,
		sessions:   newSessionBook(),
		now:        time.Now,
	}
}

// Connect registers an authenticated peer. A previous connection of the
// same identity is closed and loses its room memberships and live session
// seats before the new one is visible. Operators are put into their community rooms here.
func (o *Orchestrator) Connect(p *core.Peer) {
	sess := p.Session
	if evicted := o.Presence.Register(sess, p.Signal); evicted != nil {
		o.leaveLiveSessions(evicted, o.Rooms.LeaveAll(evicted.ConnID()))
	}
	if community, ok := sess.CommunityID(); ok && sess.IsOperator() {
		o.Rooms.Join(sess.ConnID(), p.Signal, domain.ChannelRoom(community))
		o.Rooms.Join(sess.ConnID(), p.Signal, domain.ChatRoom(community))
		for _, sid := range o.sessions.activeFor(community) {
			o.Rooms.Join(sess.ConnID(), p.Signal, domain.LiveRoom(sid))
		}
	}
	log.Info().Str("module", "orch").Str("identity", string(sess.Identity())).Str("conn", string(sess.ConnID())).Str("kind", sess.Kind().String()).Bool("guest", sess.IsGuest()).Msg("connected")
	o.whoami(p)
}

// Disconnect unwinds every membership of conn. When conn was the identity's
// current connection the identity also leaves its live sessions.
func (o *Orchestrator) Disconnect(conn core.ConnID) {
	sess, current := o.Presence.SessionOf(conn)
	rooms := o.Rooms.LeaveAll(conn)
	o.Presence.Unregister(conn)
	if !current {
		return
	}
	o.leaveLiveSessions(sess, rooms)
	log.Info().Str("module", "orch").Str("identity", string(sess.Identity())).Str("conn", string(conn)).Int("rooms", len(rooms)).Msg("disconnected")
}

// leaveLiveSessions drops sess's identity from the live sessions behind
// rooms and tells the remaining members.
func (o *Orchestrator) leaveLiveSessions(sess *core.Session, rooms []domain.RoomKey) {
	for _, key := range rooms {
		if key.Kind != domain.RoomLive {
			continue
		}
		sid := domain.SessionID(key.Scope)
		count, removed := o.sessions.dropParticipant(sid, sess.Identity())
		if !removed {
			continue
		}
		o.broadcast(key, participantFrame{
			Type:             OutParticipantLeft,
			SessionID:        sid,
			Identity:         sess.Identity(),
			DisplayName:      sess.DisplayName(),
			ParticipantCount: count,
		}, "")
	}
}

// Dispatch handles one inbound event from p.
func (o *Orchestrator) Dispatch(ctx context.Context, p *core.Peer, ev Event) {
	switch e := ev.(type) {
	case *JoinRoom:
		o.joinRoom(ctx, p, e)
	case *LeaveRoom:
		o.leaveRoom(p, e)
	case *SendMessage:
		o.sendMessage(ctx, p, e)
	case *EditMessage:
		o.editMessage(ctx, p, e)
	case *DeleteMessage:
		o.deleteMessage(ctx, p, e)
	case *ReactToMessage:
		o.reactToMessage(ctx, p, e)
	case *TypingStart:
		o.typing(p, e.RoomScope, OutTypingStart)
	case *TypingStop:
		o.typing(p, e.RoomScope, OutTypingStop)
	case *JoinLiveSession:
		o.joinLiveSession(ctx, p, e)
	case *LeaveLiveSession:
		o.leaveLiveSession(p, e)
	case *WebRTCSignal:
		o.relaySignal(p, e)
	case *RequestModeration:
		o.requestModeration(ctx, p, e)
	case *OperatorAction:
		o.operatorAction(ctx, p, e)
	case *Ping:
		o.send(p, pongFrame{Type: OutPong})
	case *WhoAmI:
		o.whoami(p)
	default:
		log.Warn().Str("module", "orch").Str("event", ev.Name()).Msg("unhandled event")
	}
}

// Fail reports a per-event failure to the originating connection only.
func (o *Orchestrator) Fail(p *core.Peer, errType string, err error) {
	kind := domain.KindOf(err)
	msg := err.Error()
	if kind == domain.KindInternal {
		log.Error().Err(err).Str("module", "orch").Str("identity", string(p.Session.Identity())).Str("event", errType).Msg("event failed")
		msg = "internal error"
	} else {
		log.Warn().Str("module", "orch").Str("identity", string(p.Session.Identity())).Str("event", errType).Str("code", kind.String()).Msg(msg)
	}
	o.send(p, errorFrame{Type: errType, Error: msg, Code: kind.String()})
}

// NotifyRoom broadcasts a system event to a room on behalf of the backend.
func (o *Orchestrator) NotifyRoom(key domain.RoomKey, event string, data json.RawMessage) core.PublishResult {
	return o.broadcast(key, notificationFrame{Type: OutNotification, Event: event, Data: data}, "")
}

// NotifyUser delivers a system event to one identity if it is online.
func (o *Orchestrator) NotifyUser(id domain.IdentityID, event string, data json.RawMessage) bool {
	return o.Presence.SendTo(id, encode(notificationFrame{Type: OutNotification, Event: event, Data: data}))
}

func (o *Orchestrator) send(p *core.Peer, v any) {
	if err := p.Signal.TrySend(encode(v)); err != nil {
		log.Warn().Err(err).Str("module", "orch").Str("conn", string(p.Session.ConnID())).Msg("reply dropped")
	}
}

func (o *Orchestrator) broadcast(key domain.RoomKey, v any, exclude core.ConnID) core.PublishResult {
	res := o.Rooms.Broadcast(key, encode(v), exclude)
	o.applyPolicy(key, res)
	return res
}

func (o *Orchestrator) applyPolicy(key domain.RoomKey, res core.PublishResult) {
	if o.Policy == nil {
		return
	}
	for _, slow := range res.Dropped {
		switch o.Policy.OnBackPressure(key, slow) {
		case app.KickMember:
			log.Warn().Str("module", "orch").Str("conn", string(slow)).Str("room", key.String()).Msg("kicking slow member")
			o.Presence.Close(slow)
		case app.NoAction:
		}
	}
}

func (o *Orchestrator) whoami(p *core.Peer) {
	sess := p.Session
	community, _ := sess.CommunityID()
	o.send(p, whoamiFrame{
		Type:        OutWhoAmI,
		Identity:    sess.Identity(),
		DisplayName: sess.DisplayName(),
		Kind:        sess.Kind().String(),
		CommunityID: community,
		Guest:       sess.IsGuest(),
		Rooms:       o.Rooms.RoomsOf(sess.ConnID()),
	})
}

// collaboratorErr maps a store error onto the taxonomy; anything other
// than a miss stays internal.
func collaboratorErr(err error, what string) error {
	if errors.Is(err, store.ErrNotFound) {
		return domain.Errorf(domain.KindNotFound, "%s not found", what)
	}
	return fmt.Errorf("%s: %w", what, err)
}
