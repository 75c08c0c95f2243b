package orch

import (
	"context"
	"fmt"
	"unicode/utf8"

	"github.com/dkeye/Agora/internal/core"
	"github.com/dkeye/Agora/internal/domain"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

const maxNoteLen = 500

// Operator actions.
const (
	ActionStart             = "start"
	ActionEnd               = "end"
	ActionRemoveParticipant = "remove_participant"
	ActionApproveModeration = "approve_moderation"
	ActionRejectModeration  = "reject_moderation"
)

// DeclareSession makes a live session known to the engine in NotStarted.
func (o *Orchestrator) DeclareSession(id domain.SessionID, community domain.CommunityID) error {
	if id == "" || community == "" {
		return domain.Errorf(domain.KindValidation, "session id and community required")
	}
	if err := o.sessions.declare(id, community); err != nil {
		return err
	}
	log.Info().Str("module", "orch.live").Str("session", string(id)).Str("community", string(community)).Msg("session declared")
	return nil
}

func (o *Orchestrator) Session(id domain.SessionID) (SessionInfo, bool) {
	return o.sessions.snapshot(id)
}

func (o *Orchestrator) ModerationRequest(id domain.RequestID) (domain.ModerationRequest, bool) {
	return o.sessions.request(id)
}

func (o *Orchestrator) joinLiveSession(ctx context.Context, p *core.Peer, e *JoinLiveSession) {
	sess := p.Session
	if e.SessionID == "" {
		o.Fail(p, OutJoinError, domain.Errorf(domain.KindValidation, "sessionId required"))
		return
	}
	community, ok := o.sessions.communityOf(e.SessionID)
	if !ok {
		o.Fail(p, OutJoinError, domain.Errorf(domain.KindNotFound, "session %s not found", e.SessionID))
		return
	}
	if !sess.IsOperator() {
		allowed, err := o.Directory.CanAccess(ctx, sess.Identity(), domain.ChannelRoom(community))
		if err != nil {
			o.Fail(p, OutJoinError, fmt.Errorf("session access lookup: %w", err))
			return
		}
		if !allowed {
			o.Fail(p, OutJoinError, domain.Errorf(domain.KindAuthorization, "no access to session %s", e.SessionID))
			return
		}
	}

	key := domain.LiveRoom(e.SessionID)
	var count int
	var added bool
	err := o.sessions.with(e.SessionID, func(ls *domain.LiveSession) error {
		if ls.State == domain.LiveEnded {
			return domain.Errorf(domain.KindConflict, "session %s has ended", ls.ID)
		}
		if sess.IsOperator() {
			if !sess.Operates(ls.CommunityID) {
				return domain.Errorf(domain.KindAuthorization, "not an operator of community %s", ls.CommunityID)
			}
		} else {
			added = !ls.HasParticipant(sess.Identity())
			if err := ls.AddParticipant(sess.Identity()); err != nil {
				return err
			}
		}
		o.Rooms.Join(sess.ConnID(), p.Signal, key)
		count = ls.ParticipantCount()
		return nil
	})
	if err != nil {
		o.Fail(p, OutJoinError, err)
		return
	}
	log.Info().Str("module", "orch.live").Str("identity", string(sess.Identity())).Str("session", string(e.SessionID)).Int("participants", count).Msg("joined live session")
	o.send(p, liveFrame{Type: OutJoinedLiveSession, SessionID: e.SessionID, ParticipantCount: count})
	if added {
		o.broadcast(key, participantFrame{
			Type:             OutParticipantJoined,
			SessionID:        e.SessionID,
			Identity:         sess.Identity(),
			DisplayName:      sess.DisplayName(),
			ParticipantCount: count,
		}, sess.ConnID())
	}
}

func (o *Orchestrator) leaveLiveSession(p *core.Peer, e *LeaveLiveSession) {
	sess := p.Session
	key := domain.LiveRoom(e.SessionID)
	var count int
	var removed, left bool
	err := o.sessions.with(e.SessionID, func(ls *domain.LiveSession) error {
		removed = ls.RemoveParticipant(sess.Identity())
		left = o.Rooms.Leave(sess.ConnID(), key)
		count = ls.ParticipantCount()
		if !removed && !left {
			return domain.Errorf(domain.KindNotFound, "not in session %s", ls.ID)
		}
		return nil
	})
	if err != nil {
		o.Fail(p, OutJoinError, err)
		return
	}
	o.send(p, liveFrame{Type: OutLeftLiveSession, SessionID: e.SessionID, ParticipantCount: count})
	if removed {
		o.broadcast(key, participantFrame{
			Type:             OutParticipantLeft,
			SessionID:        e.SessionID,
			Identity:         sess.Identity(),
			DisplayName:      sess.DisplayName(),
			ParticipantCount: count,
		}, "")
	}
}

func (o *Orchestrator) requestModeration(ctx context.Context, p *core.Peer, e *RequestModeration) {
	sess := p.Session
	if sess.IsOperator() {
		o.Fail(p, OutModerationError, domain.Errorf(domain.KindAuthorization, "operators do not request moderation"))
		return
	}
	if sess.IsGuest() {
		o.Fail(p, OutModerationError, domain.Errorf(domain.KindAuthorization, "guests cannot request moderation"))
		return
	}
	if e.SessionID == "" {
		o.Fail(p, OutModerationError, domain.Errorf(domain.KindValidation, "sessionId required"))
		return
	}
	if !e.RequestedPermissions.Video && !e.RequestedPermissions.Audio {
		o.Fail(p, OutModerationError, domain.Errorf(domain.KindValidation, "no permissions requested"))
		return
	}
	if utf8.RuneCountInString(e.Note) > maxNoteLen {
		o.Fail(p, OutModerationError, domain.Errorf(domain.KindValidation, "note longer than %d characters", maxNoteLen))
		return
	}

	var req *domain.ModerationRequest
	err := o.sessions.with(e.SessionID, func(ls *domain.LiveSession) error {
		if ls.State == domain.LiveEnded {
			return domain.Errorf(domain.KindConflict, "session %s has ended", ls.ID)
		}
		if !ls.HasParticipant(sess.Identity()) {
			return domain.Errorf(domain.KindAuthorization, "not a participant of session %s", ls.ID)
		}
		if o.sessions.pendingForLocked(ls.ID, sess.Identity()) {
			return domain.Errorf(domain.KindConflict, "a request is already pending")
		}
		req = &domain.ModerationRequest{
			ID:            domain.RequestID(uuid.NewString()),
			SessionID:     ls.ID,
			Requester:     sess.Identity(),
			RequesterName: sess.DisplayName(),
			Requested:     e.RequestedPermissions,
			Note:          e.Note,
			State:         domain.ModerationPending,
			CreatedAt:     o.now().UTC(),
		}
		o.sessions.addRequestLocked(req)
		return nil
	})
	if err != nil {
		o.Fail(p, OutModerationError, err)
		return
	}
	snapshot := *req
	if err := o.Moderation.Save(ctx, &snapshot); err != nil {
		o.sessions.removeRequest(req.ID)
		o.Fail(p, OutModerationError, fmt.Errorf("save moderation request: %w", err))
		return
	}
	log.Info().Str("module", "orch.moderation").Str("request", string(req.ID)).Str("session", string(req.SessionID)).Str("requester", string(req.Requester)).Msg("moderation requested")
	o.send(p, moderationRequestedFrame{Type: OutModerationRequested, RequestID: req.ID, SessionID: req.SessionID})
	o.broadcast(domain.LiveRoom(req.SessionID), moderationRequestFrame{Type: OutModerationRequest, Request: &snapshot}, sess.ConnID())
}

func (o *Orchestrator) operatorAction(ctx context.Context, p *core.Peer, e *OperatorAction) {
	if !p.Session.IsOperator() {
		o.Fail(p, OutOperatorError, domain.Errorf(domain.KindAuthorization, "operator role required"))
		return
	}
	var err error
	switch e.Action {
	case ActionStart:
		err = o.startSession(p, e)
	case ActionEnd:
		err = o.endSession(p, e)
	case ActionRemoveParticipant:
		err = o.removeParticipant(p, e)
	case ActionApproveModeration:
		err = o.review(ctx, p, e, domain.DecisionApprove)
	case ActionRejectModeration:
		err = o.review(ctx, p, e, domain.DecisionReject)
	default:
		err = domain.Errorf(domain.KindValidation, "unknown action %q", e.Action)
	}
	if err != nil {
		o.Fail(p, OutOperatorError, err)
		return
	}
	log.Info().Str("module", "orch.moderation").Str("operator", string(p.Session.Identity())).Str("action", e.Action).Str("session", string(e.SessionID)).Msg("operator action applied")
	o.send(p, operatorAckFrame{Type: OutOperatorActionApplied, Action: e.Action, SessionID: e.SessionID, RequestID: e.RequestID})
}

func authorityOver(sess *core.Session, ls *domain.LiveSession) error {
	if !sess.Operates(ls.CommunityID) {
		return domain.Errorf(domain.KindAuthorization, "not an operator of community %s", ls.CommunityID)
	}
	return nil
}

func (o *Orchestrator) startSession(p *core.Peer, e *OperatorAction) error {
	var community domain.CommunityID
	key := domain.LiveRoom(e.SessionID)
	err := o.sessions.with(e.SessionID, func(ls *domain.LiveSession) error {
		if err := authorityOver(p.Session, ls); err != nil {
			return err
		}
		if err := ls.Apply(domain.TransitionStart); err != nil {
			return err
		}
		community = ls.CommunityID
		o.Rooms.Join(p.Session.ConnID(), p.Signal, key)
		return nil
	})
	if err != nil {
		return err
	}
	frame := sessionFrame{Type: OutSessionStarted, SessionID: e.SessionID, CommunityID: community}
	o.broadcast(key, frame, "")
	o.broadcast(domain.ChannelRoom(community), frame, "")
	return nil
}

func (o *Orchestrator) endSession(p *core.Peer, e *OperatorAction) error {
	var community domain.CommunityID
	key := domain.LiveRoom(e.SessionID)
	err := o.sessions.with(e.SessionID, func(ls *domain.LiveSession) error {
		if err := authorityOver(p.Session, ls); err != nil {
			return err
		}
		if err := ls.Apply(domain.TransitionEnd); err != nil {
			return err
		}
		community = ls.CommunityID
		return nil
	})
	if err != nil {
		return err
	}
	frame := sessionFrame{Type: OutSessionEnded, SessionID: e.SessionID, CommunityID: community}
	o.broadcast(key, frame, "")
	o.broadcast(domain.ChannelRoom(community), frame, "")
	evicted := o.Rooms.Evict(key)
	log.Info().Str("module", "orch.live").Str("session", string(e.SessionID)).Int("evicted", len(evicted)).Msg("session ended")
	return nil
}

func (o *Orchestrator) removeParticipant(p *core.Peer, e *OperatorAction) error {
	if e.TargetIdentity == "" {
		return domain.Errorf(domain.KindValidation, "targetIdentity required")
	}
	var count int
	var target *core.Session
	err := o.sessions.with(e.SessionID, func(ls *domain.LiveSession) error {
		if err := authorityOver(p.Session, ls); err != nil {
			return err
		}
		if ls.State == domain.LiveEnded {
			return domain.Errorf(domain.KindConflict, "session %s has ended", ls.ID)
		}
		if !ls.RemoveParticipant(e.TargetIdentity) {
			return domain.Errorf(domain.KindNotFound, "%s is not in session %s", e.TargetIdentity, ls.ID)
		}
		count = ls.ParticipantCount()
		return nil
	})
	if err != nil {
		return err
	}

	key := domain.LiveRoom(e.SessionID)
	o.Presence.SendTo(e.TargetIdentity, encode(removedFrame{
		Type:      OutRemovedFromSession,
		SessionID: e.SessionID,
		RemovedBy: p.Session.Identity(),
		Reason:    e.Reason,
	}))
	name := string(e.TargetIdentity)
	if conn, ok := o.Presence.LookupConnection(e.TargetIdentity); ok {
		o.Rooms.Leave(conn, key)
		if s, ok := o.Presence.SessionOf(conn); ok {
			target = s
		}
	}
	if target != nil {
		name = target.DisplayName()
	}
	o.broadcast(key, participantFrame{
		Type:             OutParticipantLeft,
		SessionID:        e.SessionID,
		Identity:         e.TargetIdentity,
		DisplayName:      name,
		ParticipantCount: count,
	}, "")
	return nil
}

func (o *Orchestrator) review(ctx context.Context, p *core.Peer, e *OperatorAction, d domain.ReviewDecision) error {
	if e.RequestID == "" {
		return domain.Errorf(domain.KindValidation, "requestId required")
	}
	var prev, reviewed domain.ModerationRequest
	err := o.sessions.withRequest(e.RequestID, func(req *domain.ModerationRequest, ls *domain.LiveSession) error {
		if e.SessionID != "" && e.SessionID != req.SessionID {
			return domain.Errorf(domain.KindValidation, "request %s belongs to another session", req.ID)
		}
		if err := authorityOver(p.Session, ls); err != nil {
			return err
		}
		if ls.State == domain.LiveEnded {
			return domain.Errorf(domain.KindConflict, "session %s has ended", ls.ID)
		}
		prev = *req
		if err := req.Review(d, p.Session.Identity(), e.Reason, o.now().UTC()); err != nil {
			return err
		}
		reviewed = *req
		return nil
	})
	if err != nil {
		return err
	}
	if err := o.Moderation.Save(ctx, &reviewed); err != nil {
		o.sessions.restoreRequest(prev)
		return fmt.Errorf("save moderation review: %w", err)
	}

	frame := moderationReviewedFrame{
		Type:       OutModerationReviewed,
		RequestID:  reviewed.ID,
		SessionID:  reviewed.SessionID,
		Requester:  reviewed.Requester,
		Status:     reviewed.State.String(),
		ReviewedBy: reviewed.ReviewedBy,
		ReviewNote: reviewed.ReviewNote,
	}
	if d == domain.DecisionApprove {
		perms := reviewed.Requested
		frame.Permissions = &perms
	}
	key := domain.LiveRoom(reviewed.SessionID)
	o.broadcast(key, frame, "")
	if conn, ok := o.Presence.LookupConnection(reviewed.Requester); !ok || !o.Rooms.IsMember(conn, key) {
		o.Presence.SendTo(reviewed.Requester, encode(frame))
	}
	e.SessionID = reviewed.SessionID
	return nil
}
