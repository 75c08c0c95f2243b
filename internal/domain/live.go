package domain

import (
	"fmt"
	"sort"
)

type SessionID string

type LiveState int

const (
	LiveNotStarted LiveState = iota
	LiveOn
	LiveEnded
)

func (s LiveState) String() string {
	switch s {
	case LiveNotStarted:
		return "not_started"
	case LiveOn:
		return "live"
	case LiveEnded:
		return "ended"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

func (s LiveState) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

type LiveTransition int

const (
	TransitionStart LiveTransition = iota
	TransitionEnd
)

var liveTransitions = map[LiveState]map[LiveTransition]LiveState{
	LiveNotStarted: {TransitionStart: LiveOn},
	LiveOn:         {TransitionEnd: LiveEnded},
}

// LiveSession is not safe for concurrent use; its owner serializes access.
type LiveSession struct {
	ID           SessionID
	CommunityID  CommunityID
	State        LiveState
	participants map[IdentityID]struct{}
}

func NewLiveSession(id SessionID, community CommunityID) *LiveSession {
	return &LiveSession{
		ID:           id,
		CommunityID:  community,
		participants: make(map[IdentityID]struct{}),
	}
}

func (s *LiveSession) Apply(t LiveTransition) error {
	next, ok := liveTransitions[s.State][t]
	if !ok {
		return Errorf(KindConflict, "session %s is %s", s.ID, s.State)
	}
	s.State = next
	return nil
}

func (s *LiveSession) AddParticipant(id IdentityID) error {
	if s.State == LiveEnded {
		return Errorf(KindConflict, "session %s has ended", s.ID)
	}
	s.participants[id] = struct{}{}
	return nil
}

func (s *LiveSession) RemoveParticipant(id IdentityID) bool {
	if _, ok := s.participants[id]; !ok {
		return false
	}
	delete(s.participants, id)
	return true
}

func (s *LiveSession) HasParticipant(id IdentityID) bool {
	_, ok := s.participants[id]
	return ok
}

func (s *LiveSession) ParticipantCount() int { return len(s.participants) }

func (s *LiveSession) Participants() []IdentityID {
	out := make([]IdentityID, 0, len(s.participants))
	for id := range s.participants {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
