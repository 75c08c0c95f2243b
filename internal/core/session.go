package core

import "github.com/dkeye/Agora/internal/domain"

// Session is the identity bound to one connection. It is built once when the
// connection opens and never mutated; handlers share it by pointer.
type Session struct {
	identity    domain.IdentityID
	displayName string
	kind        domain.IdentityKind
	community   domain.CommunityID
	conn        ConnID
	guest       bool
}

func NewSession(acc *domain.Account, conn ConnID, guest bool) *Session {
	return &Session{
		identity:    acc.ID,
		displayName: acc.DisplayName,
		kind:        acc.Kind,
		community:   acc.CommunityID,
		conn:        conn,
		guest:       guest,
	}
}

func (s *Session) Identity() domain.IdentityID { return s.identity }
func (s *Session) DisplayName() string         { return s.displayName }
func (s *Session) Kind() domain.IdentityKind   { return s.kind }
func (s *Session) ConnID() ConnID              { return s.conn }
func (s *Session) IsGuest() bool               { return s.guest }
func (s *Session) IsOperator() bool            { return s.kind == domain.CommunityOperator }

// CommunityID is set only for operators.
func (s *Session) CommunityID() (domain.CommunityID, bool) {
	return s.community, s.community != ""
}

// Operates reports whether the session is the operator of community c.
func (s *Session) Operates(c domain.CommunityID) bool {
	return s.IsOperator() && c != "" && s.community == c
}

// Peer pairs a session with the transport it writes to.
type Peer struct {
	Session *Session
	Signal  SignalConnection
}

func NewPeer(sess *Session, sig SignalConnection) *Peer {
	return &Peer{Session: sess, Signal: sig}
}
