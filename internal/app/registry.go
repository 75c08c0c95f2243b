package app

import (
	"sync"

	"github.com/dkeye/Agora/internal/core"
	"github.com/dkeye/Agora/internal/domain"
	"github.com/rs/zerolog/log"
)

type presenceEntry struct {
	Session *core.Session
	Signal  core.SignalConnection
}

// Registry is the presence table: at most one live connection per identity.
type Registry struct {
	mu         sync.RWMutex
	byIdentity map[domain.IdentityID]*presenceEntry
	byConn     map[core.ConnID]domain.IdentityID
}

func NewRegistry() *Registry {
	return &Registry{
		byIdentity: make(map[domain.IdentityID]*presenceEntry),
		byConn:     make(map[core.ConnID]domain.IdentityID),
	}
}

// Register installs sess as the connection of its identity. A previous
// connection for the same identity is closed and dropped in the same
// critical section; its session is returned so the caller can unwind rooms.
func (r *Registry) Register(sess *core.Session, sig core.SignalConnection) *core.Session {
	id := sess.Identity()
	r.mu.Lock()
	defer r.mu.Unlock()

	var evicted *core.Session
	if old, ok := r.byIdentity[id]; ok && old.Session.ConnID() != sess.ConnID() {
		old.Signal.Close()
		delete(r.byConn, old.Session.ConnID())
		evicted = old.Session
		log.Info().Str("module", "app.registry").Str("identity", string(id)).Str("old_conn", string(old.Session.ConnID())).Msg("evicted previous connection")
	}
	r.byIdentity[id] = &presenceEntry{Session: sess, Signal: sig}
	r.byConn[sess.ConnID()] = id
	log.Info().Str("module", "app.registry").Str("identity", string(id)).Str("conn", string(sess.ConnID())).Msg("registered")
	return evicted
}

// Unregister removes conn. It is a no-op for unknown or already evicted
// connections, so a late disconnect never drops a newer connection.
func (r *Registry) Unregister(conn core.ConnID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	id, ok := r.byConn[conn]
	if !ok {
		return false
	}
	delete(r.byConn, conn)
	if e, ok := r.byIdentity[id]; ok && e.Session.ConnID() == conn {
		delete(r.byIdentity, id)
	}
	log.Info().Str("module", "app.registry").Str("identity", string(id)).Str("conn", string(conn)).Msg("unregistered")
	return true
}

func (r *Registry) LookupConnection(id domain.IdentityID) (core.ConnID, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if e, ok := r.byIdentity[id]; ok {
		return e.Session.ConnID(), true
	}
	return "", false
}

// Lookup returns the session and transport currently bound to id.
func (r *Registry) Lookup(id domain.IdentityID) (*core.Session, core.SignalConnection, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if e, ok := r.byIdentity[id]; ok {
		return e.Session, e.Signal, true
	}
	return nil, nil, false
}

// SessionOf resolves a connection handle back to its session.
func (r *Registry) SessionOf(conn core.ConnID) (*core.Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.byConn[conn]
	if !ok {
		return nil, false
	}
	e, ok := r.byIdentity[id]
	if !ok {
		return nil, false
	}
	return e.Session, true
}

// SendTo delivers data to the identity's connection if it is online.
func (r *Registry) SendTo(id domain.IdentityID, data core.Frame) bool {
	_, sig, ok := r.Lookup(id)
	if !ok {
		return false
	}
	if err := sig.TrySend(data); err != nil {
		log.Warn().Err(err).Str("module", "app.registry").Str("identity", string(id)).Msg("direct send failed")
		return false
	}
	return true
}

// Close force-closes the connection of conn, if registered.
func (r *Registry) Close(conn core.ConnID) bool {
	r.mu.RLock()
	id, ok := r.byConn[conn]
	var sig core.SignalConnection
	if ok {
		sig = r.byIdentity[id].Signal
	}
	r.mu.RUnlock()
	if !ok {
		return false
	}
	sig.Close()
	log.Info().Str("module", "app.registry").Str("conn", string(conn)).Msg("closed connection")
	return true
}

func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byIdentity)
}
