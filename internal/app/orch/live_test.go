package orch

import (
	"encoding/json"
	"testing"

	"github.com/dkeye/Agora/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const s1 domain.SessionID = "s1"

var liveS1 = domain.LiveRoom(s1)

// liveSetup declares s1 in community 42, connects the operator and two
// members and puts both members into the session.
func liveSetup(t *testing.T) (*harness, *client, *client, *client) {
	t.Helper()
	h := newHarness(t, nil)
	require.NoError(t, h.o.DeclareSession(s1, "42"))
	a1 := h.connect("a1")
	u1 := h.connect("u1")
	u2 := h.connect("u2")
	h.joinLive(u1, s1)
	h.joinLive(u2, s1)
	resetAll(a1, u1, u2)
	return h, a1, u1, u2
}

func TestReconnectReleasesLiveSeat(t *testing.T) {
	h, a1, u1, u2 := liveSetup(t)

	second := h.connect("u1")
	assert.True(t, u1.conn.isClosed())
	left := a1.conn.last(t, OutParticipantLeft)
	assert.Equal(t, "u1", left["identity"])
	assert.EqualValues(t, 1, left["participantCount"])
	assert.NotEmpty(t, u2.conn.ofType(t, OutParticipantLeft))

	info, _ := h.o.Session(s1)
	assert.Equal(t, []domain.IdentityID{"u2"}, info.Participants)

	h.do(second, &RequestModeration{SessionID: s1, RequestedPermissions: domain.Permissions{Audio: true}})
	requireErrorFrame(t, second, OutModerationError, domain.KindAuthorization)

	h.joinLive(second, s1)
	assert.EqualValues(t, 2, a1.conn.last(t, OutParticipantJoined)["participantCount"])

	h.o.Disconnect(u1.id())
	h.o.Disconnect(second.id())
	_, online := h.o.Presence.LookupConnection("u1")
	assert.False(t, online)
	info, _ = h.o.Session(s1)
	assert.Equal(t, []domain.IdentityID{"u2"}, info.Participants)
}

func TestDeclareSession(t *testing.T) {
	h := newHarness(t, nil)
	require.NoError(t, h.o.DeclareSession(s1, "42"))
	require.NoError(t, h.o.DeclareSession(s1, "42"), "re-declare is idempotent")
	assert.Equal(t, domain.KindConflict, domain.KindOf(h.o.DeclareSession(s1, "7")))
	assert.Equal(t, domain.KindValidation, domain.KindOf(h.o.DeclareSession("", "7")))

	info, ok := h.o.Session(s1)
	require.True(t, ok)
	assert.Equal(t, domain.LiveNotStarted, info.State)
	assert.Equal(t, domain.CommunityID("42"), info.CommunityID)
}

func TestJoinLiveSession(t *testing.T) {
	h := newHarness(t, nil)
	require.NoError(t, h.o.DeclareSession(s1, "42"))
	a1 := h.connect("a1")
	u1 := h.connect("u1")
	u2 := h.connect("u2")
	u3 := h.connect("u3")

	assert.True(t, h.o.Rooms.IsMember(a1.id(), liveS1), "operators follow their sessions")

	h.do(u1, &JoinLiveSession{SessionID: s1})
	assert.EqualValues(t, 1, u1.conn.last(t, OutJoinedLiveSession)["participantCount"])

	h.do(u2, &JoinLiveSession{SessionID: s1})
	joined := u1.conn.last(t, OutParticipantJoined)
	assert.Equal(t, "u2", joined["identity"])
	assert.Equal(t, "Carol", joined["displayName"])
	assert.EqualValues(t, 2, joined["participantCount"])
	assert.NotEmpty(t, a1.conn.ofType(t, OutParticipantJoined))
	assert.Empty(t, u2.conn.ofType(t, OutParticipantJoined), "joiner is not told about itself")

	h.do(u3, &JoinLiveSession{SessionID: s1})
	requireErrorFrame(t, u3, OutJoinError, domain.KindAuthorization)

	h.do(u1, &JoinLiveSession{SessionID: "nope"})
	requireErrorFrame(t, u1, OutJoinError, domain.KindNotFound)

	info, _ := h.o.Session(s1)
	assert.Equal(t, []domain.IdentityID{"u1", "u2"}, info.Participants)
}

func TestLeaveLiveSession(t *testing.T) {
	h, a1, u1, u2 := liveSetup(t)

	h.do(u1, &LeaveLiveSession{SessionID: s1})
	assert.EqualValues(t, 1, u1.conn.last(t, OutLeftLiveSession)["participantCount"])
	left := u2.conn.last(t, OutParticipantLeft)
	assert.Equal(t, "u1", left["identity"])
	assert.NotEmpty(t, a1.conn.ofType(t, OutParticipantLeft))
	assert.False(t, h.o.Rooms.IsMember(u1.id(), liveS1))

	h.do(u1, &LeaveLiveSession{SessionID: s1})
	requireErrorFrame(t, u1, OutJoinError, domain.KindNotFound)
}

func TestStartAndEndSession(t *testing.T) {
	h, a1, u1, u2 := liveSetup(t)
	h.join(u1, channel42)

	h.do(u1, &OperatorAction{Action: ActionStart, SessionID: s1})
	requireErrorFrame(t, u1, OutOperatorError, domain.KindAuthorization)

	h.do(a1, &OperatorAction{Action: ActionStart, SessionID: s1})
	assert.Equal(t, ActionStart, a1.conn.last(t, OutOperatorActionApplied)["action"])
	assert.Len(t, u2.conn.ofType(t, OutSessionStarted), 1)
	assert.Len(t, u1.conn.ofType(t, OutSessionStarted), 2, "live room and channel")
	info, _ := h.o.Session(s1)
	assert.Equal(t, domain.LiveOn, info.State)

	h.do(a1, &OperatorAction{Action: ActionStart, SessionID: s1})
	requireErrorFrame(t, a1, OutOperatorError, domain.KindConflict)

	h.do(a1, &OperatorAction{Action: ActionEnd, SessionID: s1})
	assert.NotEmpty(t, u2.conn.ofType(t, OutSessionEnded))
	assert.Zero(t, h.o.Rooms.MemberCount(liveS1), "live room is drained")

	h.do(u1, &JoinLiveSession{SessionID: s1})
	requireErrorFrame(t, u1, OutJoinError, domain.KindConflict)
	h.do(u2, &RequestModeration{SessionID: s1, RequestedPermissions: domain.Permissions{Audio: true}})
	requireErrorFrame(t, u2, OutModerationError, domain.KindConflict)
}

func TestOperatorOfOtherCommunityHasNoAuthority(t *testing.T) {
	h, _, _, _ := liveSetup(t)
	a7 := h.connect("a7")

	h.do(a7, &OperatorAction{Action: ActionStart, SessionID: s1})
	requireErrorFrame(t, a7, OutOperatorError, domain.KindAuthorization)
	h.do(a7, &JoinLiveSession{SessionID: s1})
	requireErrorFrame(t, a7, OutJoinError, domain.KindAuthorization)
	h.do(a7, &OperatorAction{Action: "explode", SessionID: s1})
	requireErrorFrame(t, a7, OutOperatorError, domain.KindValidation)
}

func TestRemoveParticipant(t *testing.T) {
	h, a1, u1, u2 := liveSetup(t)

	h.do(a1, &OperatorAction{Action: ActionRemoveParticipant, SessionID: s1, TargetIdentity: "u1", Reason: "spam"})

	removed := u1.conn.last(t, OutRemovedFromSession)
	assert.Equal(t, "a1", removed["removedBy"])
	assert.Equal(t, "spam", removed["reason"])
	assert.False(t, h.o.Rooms.IsMember(u1.id(), liveS1))
	left := u2.conn.last(t, OutParticipantLeft)
	assert.Equal(t, "u1", left["identity"])
	assert.Equal(t, "Bob", left["displayName"])
	assert.EqualValues(t, 1, left["participantCount"])
	assert.Empty(t, u1.conn.ofType(t, OutParticipantLeft), "removed member is already out of the room")

	h.do(a1, &OperatorAction{Action: ActionRemoveParticipant, SessionID: s1, TargetIdentity: "u1"})
	requireErrorFrame(t, a1, OutOperatorError, domain.KindNotFound)
}

func TestSignalRelay(t *testing.T) {
	h, _, u1, u2 := liveSetup(t)
	offer := json.RawMessage(`{"type":"offer","sdp":"v=0\r\n"}`)

	h.do(u1, &WebRTCSignal{SessionID: s1, TargetIdentity: "u2", SignalKind: "offer", Payload: offer})
	sig := u2.conn.last(t, OutWebRTCSignal)
	assert.Equal(t, "u1", sig["fromIdentity"])
	assert.Equal(t, "Bob", sig["fromDisplayName"])
	assert.Equal(t, "offer", sig["signalKind"])
	assert.Equal(t, map[string]any{"type": "offer", "sdp": "v=0\r\n"}, sig["payload"])
	assert.Empty(t, u1.conn.decoded(t))

	h.do(u2, &WebRTCSignal{SessionID: s1, TargetIdentity: "u1", SignalKind: "candidate",
		Payload: json.RawMessage(`{"candidate":"candidate:1 1 udp 1 10.0.0.1 5000 typ host","sdpMid":"0","sdpMLineIndex":0}`)})
	assert.Equal(t, "ice_candidate", u1.conn.last(t, OutWebRTCSignal)["signalKind"])
}

func TestSignalPayloadShapesAreRelayedUntouched(t *testing.T) {
	h, _, u1, u2 := liveSetup(t)
	payloads := []string{
		`"v=0\r\no=- 1 1 IN IP4 0.0.0.0\r\n"`,
		`{"offer":{"type":"offer","sdp":"v=0"}}`,
		`{"sdp":""}`,
		`{"type":"custom","data":[1,2]}`,
	}
	for _, raw := range payloads {
		u2.conn.reset()
		h.do(u1, &WebRTCSignal{SessionID: s1, TargetIdentity: "u2", SignalKind: "offer", Payload: json.RawMessage(raw)})
		require.Empty(t, u1.conn.ofType(t, OutSignalError), raw)
		var want any
		require.NoError(t, json.Unmarshal([]byte(raw), &want))
		assert.Equal(t, want, u2.conn.last(t, OutWebRTCSignal)["payload"], raw)
	}

	u2.conn.reset()
	h.do(u1, &WebRTCSignal{SessionID: s1, TargetIdentity: "u2", SignalKind: "candidate", Payload: json.RawMessage(`"candidate:1 1 udp 1 10.0.0.1 5000 typ host"`)})
	assert.Len(t, u2.conn.ofType(t, OutWebRTCSignal), 1)
}

func TestSignalToOfflineTargetIsDropped(t *testing.T) {
	h, a1, u1, u2 := liveSetup(t)
	h.do(u1, &WebRTCSignal{SessionID: s1, TargetIdentity: "u9", SignalKind: "offer",
		Payload: json.RawMessage(`{"type":"offer","sdp":"v=0"}`)})
	assert.Empty(t, u1.conn.decoded(t))
	assert.Empty(t, u2.conn.decoded(t))
	assert.Empty(t, a1.conn.decoded(t))
}

func TestSignalValidation(t *testing.T) {
	h, _, u1, u2 := liveSetup(t)
	u3 := h.connect("u3")

	h.do(u3, &WebRTCSignal{SessionID: s1, TargetIdentity: "u2", SignalKind: "offer", Payload: json.RawMessage(`{"type":"offer","sdp":"v=0"}`)})
	requireErrorFrame(t, u3, OutSignalError, domain.KindAuthorization)

	cases := []*WebRTCSignal{
		{SessionID: s1, SignalKind: "offer", Payload: json.RawMessage(`{"sdp":"v=0"}`)},
		{SessionID: s1, TargetIdentity: "u2", SignalKind: "bye", Payload: json.RawMessage(`{}`)},
		{SessionID: s1, TargetIdentity: "u2", SignalKind: "offer", Payload: json.RawMessage(`{"type":"answer","sdp":"v=0"}`)},
		{SessionID: s1, TargetIdentity: "u2", SignalKind: "answer", Payload: json.RawMessage(`{"type":"offer"}`)},
		{SessionID: s1, TargetIdentity: "u2", SignalKind: "answer"},
		{SessionID: s1, TargetIdentity: "u2", SignalKind: "ice_candidate", Payload: json.RawMessage(`null`)},
		{SessionID: s1, TargetIdentity: "u2", SignalKind: "offer", Payload: json.RawMessage(`{"sdp":`)},
	}
	for _, ev := range cases {
		u1.conn.reset()
		h.do(u1, ev)
		requireErrorFrame(t, u1, OutSignalError, domain.KindValidation)
	}
	assert.Empty(t, u2.conn.ofType(t, OutWebRTCSignal))
}

func TestModerationApproveScenario(t *testing.T) {
	h, a1, u1, u2 := liveSetup(t)

	h.do(u2, &RequestModeration{SessionID: s1, RequestedPermissions: domain.Permissions{Video: true}, Note: "let me show"})
	ack := u2.conn.last(t, OutModerationRequested)
	reqID := domain.RequestID(ack["requestId"].(string))
	notice := a1.conn.last(t, OutModerationRequest)["request"].(map[string]any)
	assert.Equal(t, string(reqID), notice["id"])
	assert.Equal(t, "u2", notice["requester"])
	assert.Equal(t, "pending", notice["state"])
	assert.Empty(t, u2.conn.ofType(t, OutModerationRequest))

	h.do(u2, &RequestModeration{SessionID: s1, RequestedPermissions: domain.Permissions{Audio: true}})
	requireErrorFrame(t, u2, OutModerationError, domain.KindConflict)

	h.do(a1, &OperatorAction{Action: ActionApproveModeration, RequestID: reqID})
	ackOp := a1.conn.last(t, OutOperatorActionApplied)
	assert.Equal(t, string(s1), ackOp["sessionId"])

	for _, c := range []*client{a1, u1, u2} {
		rev := c.conn.last(t, OutModerationReviewed)
		assert.Equal(t, "approved", rev["status"])
		assert.Equal(t, "a1", rev["reviewedBy"])
		assert.Equal(t, map[string]any{"video": true, "audio": false}, rev["permissions"])
	}
	assert.Len(t, u2.conn.ofType(t, OutModerationReviewed), 1, "requester in the room is not sent a duplicate")

	req, ok := h.o.ModerationRequest(reqID)
	require.True(t, ok)
	assert.Equal(t, domain.ModerationApproved, req.State)
	stored, err := h.mods.Get(t.Context(), reqID)
	require.NoError(t, err)
	assert.Equal(t, domain.ModerationApproved, stored.State)

	h.do(a1, &OperatorAction{Action: ActionRejectModeration, RequestID: reqID})
	requireErrorFrame(t, a1, OutOperatorError, domain.KindConflict)
}

func TestModerationReject(t *testing.T) {
	h, a1, _, u2 := liveSetup(t)
	h.do(u2, &RequestModeration{SessionID: s1, RequestedPermissions: domain.Permissions{Audio: true}})
	reqID := domain.RequestID(u2.conn.last(t, OutModerationRequested)["requestId"].(string))

	h.do(a1, &OperatorAction{Action: ActionRejectModeration, SessionID: "other", RequestID: reqID})
	requireErrorFrame(t, a1, OutOperatorError, domain.KindValidation)

	h.do(a1, &OperatorAction{Action: ActionRejectModeration, SessionID: s1, RequestID: reqID, Reason: "not now"})
	rev := u2.conn.last(t, OutModerationReviewed)
	assert.Equal(t, "rejected", rev["status"])
	assert.Equal(t, "not now", rev["reviewNote"])
	assert.NotContains(t, rev, "permissions")

	h.do(u2, &RequestModeration{SessionID: s1, RequestedPermissions: domain.Permissions{Audio: true}})
	assert.Len(t, u2.conn.ofType(t, OutModerationRequested), 2, "a reviewed request frees the slot")
}

func TestModerationRequestRules(t *testing.T) {
	h, a1, u1, _ := liveSetup(t)
	u3 := h.connect("u3")

	h.do(a1, &RequestModeration{SessionID: s1, RequestedPermissions: domain.Permissions{Video: true}})
	requireErrorFrame(t, a1, OutModerationError, domain.KindAuthorization)

	h.do(u3, &RequestModeration{SessionID: s1, RequestedPermissions: domain.Permissions{Video: true}})
	requireErrorFrame(t, u3, OutModerationError, domain.KindAuthorization)

	guest := h.connectGuest("ct-1")
	h.joinLive(guest, s1)
	h.do(guest, &RequestModeration{SessionID: s1, RequestedPermissions: domain.Permissions{Video: true}})
	requireErrorFrame(t, guest, OutModerationError, domain.KindAuthorization)
	assert.Empty(t, a1.conn.ofType(t, OutModerationRequest))

	h.do(u1, &RequestModeration{SessionID: s1})
	requireErrorFrame(t, u1, OutModerationError, domain.KindValidation)

	h.do(u1, &OperatorAction{Action: ActionApproveModeration, RequestID: "r"})
	requireErrorFrame(t, u1, OutOperatorError, domain.KindAuthorization)

	h.do(a1, &OperatorAction{Action: ActionApproveModeration, RequestID: "missing"})
	requireErrorFrame(t, a1, OutOperatorError, domain.KindNotFound)
}

func TestModerationPersistFailureRollsBack(t *testing.T) {
	h, a1, _, u2 := liveSetup(t)

	h.mods.fail.Store(true)
	h.do(u2, &RequestModeration{SessionID: s1, RequestedPermissions: domain.Permissions{Video: true}})
	requireErrorFrame(t, u2, OutModerationError, domain.KindInternal)
	assert.Empty(t, a1.conn.ofType(t, OutModerationRequest))

	h.mods.fail.Store(false)
	h.do(u2, &RequestModeration{SessionID: s1, RequestedPermissions: domain.Permissions{Video: true}})
	reqID := domain.RequestID(u2.conn.last(t, OutModerationRequested)["requestId"].(string))

	h.mods.fail.Store(true)
	h.do(a1, &OperatorAction{Action: ActionApproveModeration, RequestID: reqID})
	requireErrorFrame(t, a1, OutOperatorError, domain.KindInternal)
	assert.Empty(t, u2.conn.ofType(t, OutModerationReviewed))
	req, _ := h.o.ModerationRequest(reqID)
	assert.Equal(t, domain.ModerationPending, req.State)

	h.mods.fail.Store(false)
	h.do(a1, &OperatorAction{Action: ActionApproveModeration, RequestID: reqID})
	assert.Equal(t, "approved", u2.conn.last(t, OutModerationReviewed)["status"])
}

func TestReviewReachesRequesterOutsideRoom(t *testing.T) {
	h, a1, _, u2 := liveSetup(t)
	h.do(u2, &RequestModeration{SessionID: s1, RequestedPermissions: domain.Permissions{Video: true}})
	reqID := domain.RequestID(u2.conn.last(t, OutModerationRequested)["requestId"].(string))

	// still a participant, but the room membership went away
	h.o.Rooms.Leave(u2.id(), liveS1)
	h.do(a1, &OperatorAction{Action: ActionApproveModeration, RequestID: reqID})
	assert.Len(t, u2.conn.ofType(t, OutModerationReviewed), 1)
}
