package orch

import (
	"bytes"
	"encoding/json"

	"github.com/dkeye/Agora/internal/core"
	"github.com/dkeye/Agora/internal/domain"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"
)

type SignalKind string

const (
	SignalOffer        SignalKind = "offer"
	SignalAnswer       SignalKind = "answer"
	SignalICECandidate SignalKind = "ice_candidate"
)

// ParseSignalKind accepts the canonical names and the spellings browsers
// commonly use for candidates.
func ParseSignalKind(s string) (SignalKind, error) {
	switch s {
	case "offer":
		return SignalOffer, nil
	case "answer":
		return SignalAnswer, nil
	case "ice_candidate", "candidate", "iceCandidate":
		return SignalICECandidate, nil
	default:
		return "", domain.Errorf(domain.KindValidation, "unknown signal kind %q", s)
	}
}

// checkSignalPayload accepts any JSON value and relays it untouched. The
// only thing refused is a description whose sdp type contradicts kind.
func checkSignalPayload(kind SignalKind, payload json.RawMessage) error {
	if len(payload) == 0 || !json.Valid(payload) || string(bytes.TrimSpace(payload)) == "null" {
		return domain.Errorf(domain.KindValidation, "payload required")
	}
	if kind == SignalICECandidate {
		return nil
	}
	var head struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(payload, &head); err != nil || head.Type == "" {
		return nil
	}
	want := webrtc.SDPTypeOffer
	if kind == SignalAnswer {
		want = webrtc.SDPTypeAnswer
	}
	if got := webrtc.NewSDPType(head.Type); got != webrtc.SDPTypeUnknown && got != want {
		return domain.Errorf(domain.KindValidation, "%s payload carries sdp type %s", kind, got)
	}
	return nil
}

// relaySignal forwards one negotiation message to a single peer of the
// same live session. Offline targets are dropped without an error.
func (o *Orchestrator) relaySignal(p *core.Peer, e *WebRTCSignal) {
	sess := p.Session
	if e.SessionID == "" || e.TargetIdentity == "" {
		o.Fail(p, OutSignalError, domain.Errorf(domain.KindValidation, "sessionId and targetIdentity required"))
		return
	}
	if e.TargetIdentity == sess.Identity() {
		o.Fail(p, OutSignalError, domain.Errorf(domain.KindValidation, "cannot signal yourself"))
		return
	}
	kind, err := ParseSignalKind(e.SignalKind)
	if err != nil {
		o.Fail(p, OutSignalError, err)
		return
	}
	if !o.Rooms.IsMember(sess.ConnID(), domain.LiveRoom(e.SessionID)) {
		o.Fail(p, OutSignalError, domain.Errorf(domain.KindAuthorization, "not in session %s", e.SessionID))
		return
	}
	if err := checkSignalPayload(kind, e.Payload); err != nil {
		o.Fail(p, OutSignalError, err)
		return
	}

	_, target, ok := o.Presence.Lookup(e.TargetIdentity)
	if !ok {
		log.Debug().Str("module", "orch.signal").Str("from", string(sess.Identity())).Str("to", string(e.TargetIdentity)).Msg("target offline, signal dropped")
		return
	}
	frame := encode(signalFrame{
		Type:            OutWebRTCSignal,
		SessionID:       e.SessionID,
		FromIdentity:    sess.Identity(),
		FromDisplayName: sess.DisplayName(),
		SignalKind:      kind,
		Payload:         e.Payload,
	})
	if err := target.TrySend(frame); err != nil {
		log.Warn().Err(err).Str("module", "orch.signal").Str("to", string(e.TargetIdentity)).Msg("signal dropped")
	}
}
