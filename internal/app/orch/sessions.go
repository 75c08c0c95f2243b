package orch

import (
	"sort"
	"sync"

	"github.com/dkeye/Agora/internal/domain"
)

// sessionBook owns live sessions and moderation requests. Callbacks run
// under its lock and must not call collaborators; they may touch the room
// manager, which never calls back.
type sessionBook struct {
	mu       sync.Mutex
	sessions map[domain.SessionID]*domain.LiveSession
	requests map[domain.RequestID]*domain.ModerationRequest
}

func newSessionBook() *sessionBook {
	return &sessionBook{
		sessions: make(map[domain.SessionID]*domain.LiveSession),
		requests: make(map[domain.RequestID]*domain.ModerationRequest),
	}
}

// declare registers a session in NotStarted. Re-declaring with the same
// community is a no-op.
func (b *sessionBook) declare(id domain.SessionID, community domain.CommunityID) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if s, ok := b.sessions[id]; ok {
		if s.CommunityID != community {
			return domain.Errorf(domain.KindConflict, "session %s belongs to another community", id)
		}
		return nil
	}
	b.sessions[id] = domain.NewLiveSession(id, community)
	return nil
}

func (b *sessionBook) with(id domain.SessionID, fn func(*domain.LiveSession) error) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	s, ok := b.sessions[id]
	if !ok {
		return domain.Errorf(domain.KindNotFound, "session %s not found", id)
	}
	return fn(s)
}

// withRequest runs fn with a request and the session it belongs to.
func (b *sessionBook) withRequest(id domain.RequestID, fn func(*domain.ModerationRequest, *domain.LiveSession) error) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	req, ok := b.requests[id]
	if !ok {
		return domain.Errorf(domain.KindNotFound, "request %s not found", id)
	}
	s, ok := b.sessions[req.SessionID]
	if !ok {
		return domain.Errorf(domain.KindNotFound, "session %s not found", req.SessionID)
	}
	return fn(req, s)
}

// addRequestLocked stores req; the caller holds the lock through with().
func (b *sessionBook) addRequestLocked(req *domain.ModerationRequest) {
	b.requests[req.ID] = req
}

func (b *sessionBook) pendingForLocked(sid domain.SessionID, who domain.IdentityID) bool {
	for _, r := range b.requests {
		if r.SessionID == sid && r.Requester == who && r.State == domain.ModerationPending {
			return true
		}
	}
	return false
}

func (b *sessionBook) removeRequest(id domain.RequestID) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.requests, id)
}

// restoreRequest puts back a request snapshot after a failed persist.
func (b *sessionBook) restoreRequest(prev domain.ModerationRequest) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if req, ok := b.requests[prev.ID]; ok {
		*req = prev
	}
}

func (b *sessionBook) request(id domain.RequestID) (domain.ModerationRequest, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	req, ok := b.requests[id]
	if !ok {
		return domain.ModerationRequest{}, false
	}
	return *req, true
}

func (b *sessionBook) communityOf(id domain.SessionID) (domain.CommunityID, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	s, ok := b.sessions[id]
	if !ok {
		return "", false
	}
	return s.CommunityID, true
}

// activeFor lists the sessions of a community that have not ended.
func (b *sessionBook) activeFor(community domain.CommunityID) []domain.SessionID {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []domain.SessionID
	for id, s := range b.sessions {
		if s.CommunityID == community && s.State != domain.LiveEnded {
			out = append(out, id)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// dropParticipant removes who and returns the remaining count.
func (b *sessionBook) dropParticipant(id domain.SessionID, who domain.IdentityID) (int, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	s, ok := b.sessions[id]
	if !ok {
		return 0, false
	}
	removed := s.RemoveParticipant(who)
	return s.ParticipantCount(), removed
}

// snapshot returns a copy of the session's public state.
func (b *sessionBook) snapshot(id domain.SessionID) (SessionInfo, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	s, ok := b.sessions[id]
	if !ok {
		return SessionInfo{}, false
	}
	return SessionInfo{
		ID:           s.ID,
		CommunityID:  s.CommunityID,
		State:        s.State,
		Participants: s.Participants(),
	}, true
}

// SessionInfo is a read-only view of a live session.
type SessionInfo struct {
	ID           domain.SessionID    `json:"id"`
	CommunityID  domain.CommunityID  `json:"communityId"`
	State        domain.LiveState    `json:"state"`
	Participants []domain.IdentityID `json:"participants"`
}
