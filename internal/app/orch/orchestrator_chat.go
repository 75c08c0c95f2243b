package orch

import (
	"context"
	"strings"
	"unicode/utf8"

	"github.com/dkeye/Agora/internal/core"
	"github.com/dkeye/Agora/internal/domain"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

const maxEmojiLen = 32

func (o *Orchestrator) validateContent(content string, attachments []domain.Attachment) error {
	if strings.TrimSpace(content) == "" && len(attachments) == 0 {
		return domain.Errorf(domain.KindValidation, "message needs content or an attachment")
	}
	if utf8.RuneCountInString(content) > o.Limits.MaxContentLen {
		return domain.Errorf(domain.KindValidation, "message longer than %d characters", o.Limits.MaxContentLen)
	}
	if len(attachments) > o.Limits.MaxAttachments {
		return domain.Errorf(domain.KindValidation, "more than %d attachments", o.Limits.MaxAttachments)
	}
	for _, a := range attachments {
		if a.URL == "" {
			return domain.Errorf(domain.KindValidation, "attachment without url")
		}
	}
	return nil
}

// canModerate reports whether sess has operator authority over key.
func (o *Orchestrator) canModerate(sess *core.Session, key domain.RoomKey) bool {
	if !sess.IsOperator() {
		return false
	}
	if c, ok := key.Community(); ok {
		return sess.Operates(c)
	}
	if key.Kind == domain.RoomLive {
		c, ok := o.sessions.communityOf(domain.SessionID(key.Scope))
		return ok && sess.Operates(c)
	}
	return false
}

func (o *Orchestrator) sendMessage(ctx context.Context, p *core.Peer, e *SendMessage) {
	sess := p.Session
	key, err := resolveScope(sess, e.RoomScope)
	if err != nil {
		o.Fail(p, OutMessageError, err)
		return
	}
	if err := o.validateContent(e.Content, e.Attachments); err != nil {
		o.Fail(p, OutMessageError, err)
		return
	}
	if !o.Rooms.IsMember(sess.ConnID(), key) {
		o.Fail(p, OutMessageError, domain.Errorf(domain.KindAuthorization, "not a member of room %s", key))
		return
	}
	if !o.Limiter.Allow(sess.Identity()) {
		o.Fail(p, OutMessageError, domain.Errorf(domain.KindValidation, "rate limit exceeded"))
		return
	}

	msg := &domain.Message{
		ID:          domain.MessageID(uuid.NewString()),
		Room:        key,
		Sender:      sess.Identity(),
		SenderName:  sess.DisplayName(),
		Content:     e.Content,
		Attachments: e.Attachments,
		CreatedAt:   o.now().UTC(),
	}
	// Nothing reaches the room unless the store accepted the message.
	if err := o.Messages.Save(ctx, msg); err != nil {
		o.Fail(p, OutMessageError, collaboratorErr(err, "save message"))
		return
	}
	o.broadcast(key, messageFrame{Type: OutNewMessage, Message: msg}, "")
	o.send(p, messageSentFrame{
		Type:      OutMessageSent,
		MessageID: msg.ID,
		Room:      key,
		ClientRef: e.ClientRef,
		CreatedAt: msg.CreatedAt,
	})
	log.Debug().Str("module", "orch.chat").Str("identity", string(sess.Identity())).Str("room", key.String()).Str("message", string(msg.ID)).Msg("message sent")
}

func (o *Orchestrator) editMessage(ctx context.Context, p *core.Peer, e *EditMessage) {
	if e.MessageID == "" {
		o.Fail(p, OutMessageError, domain.Errorf(domain.KindValidation, "messageId required"))
		return
	}
	msg, err := o.Messages.Get(ctx, e.MessageID)
	if err != nil {
		o.Fail(p, OutMessageError, collaboratorErr(err, "message"))
		return
	}
	if msg.Sender != p.Session.Identity() {
		o.Fail(p, OutMessageError, domain.Errorf(domain.KindAuthorization, "only the sender can edit a message"))
		return
	}
	if err := o.validateContent(e.Content, msg.Attachments); err != nil {
		o.Fail(p, OutMessageError, err)
		return
	}
	edited := o.now().UTC()
	msg.Content = e.Content
	msg.EditedAt = &edited
	if err := o.Messages.Update(ctx, msg); err != nil {
		o.Fail(p, OutMessageError, collaboratorErr(err, "message"))
		return
	}
	o.broadcast(msg.Room, messageFrame{Type: OutMessageEdited, Message: msg}, "")
}

func (o *Orchestrator) deleteMessage(ctx context.Context, p *core.Peer, e *DeleteMessage) {
	if e.MessageID == "" {
		o.Fail(p, OutMessageError, domain.Errorf(domain.KindValidation, "messageId required"))
		return
	}
	msg, err := o.Messages.Get(ctx, e.MessageID)
	if err != nil {
		o.Fail(p, OutMessageError, collaboratorErr(err, "message"))
		return
	}
	if msg.Sender != p.Session.Identity() && !o.canModerate(p.Session, msg.Room) {
		o.Fail(p, OutMessageError, domain.Errorf(domain.KindAuthorization, "not allowed to delete this message"))
		return
	}
	if err := o.Messages.Delete(ctx, msg.ID); err != nil {
		o.Fail(p, OutMessageError, collaboratorErr(err, "message"))
		return
	}
	o.broadcast(msg.Room, messageDeletedFrame{Type: OutMessageDeleted, MessageID: msg.ID}, "")
}

func (o *Orchestrator) reactToMessage(ctx context.Context, p *core.Peer, e *ReactToMessage) {
	emoji := strings.TrimSpace(e.Emoji)
	if e.MessageID == "" || emoji == "" || len(emoji) > maxEmojiLen {
		o.Fail(p, OutMessageError, domain.Errorf(domain.KindValidation, "messageId and emoji required"))
		return
	}
	msg, err := o.Messages.Get(ctx, e.MessageID)
	if err != nil {
		o.Fail(p, OutMessageError, collaboratorErr(err, "message"))
		return
	}
	if !o.Rooms.IsMember(p.Session.ConnID(), msg.Room) {
		o.Fail(p, OutMessageError, domain.Errorf(domain.KindAuthorization, "not a member of room %s", msg.Room))
		return
	}
	counts, err := o.Messages.ToggleReaction(ctx, msg.ID, p.Session.Identity(), emoji)
	if err != nil {
		o.Fail(p, OutMessageError, collaboratorErr(err, "message"))
		return
	}
	o.broadcast(msg.Room, reactionsFrame{Type: OutMessageReactionUpdated, MessageID: msg.ID, Reactions: counts}, "")
}
