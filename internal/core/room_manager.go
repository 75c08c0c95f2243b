package core

import (
	"sort"
	"sync"

	"github.com/dkeye/Agora/internal/domain"
	"github.com/rs/zerolog/log"
)

type room struct {
	// fanout serializes broadcasts so every member sees them in call order.
	fanout  sync.Mutex
	members map[ConnID]SignalConnection
}

// RoomManager owns room membership in both directions.
// Lock order is always m.mu before room.fanout.
type RoomManager struct {
	mu     sync.RWMutex
	rooms  map[domain.RoomKey]*room
	byConn map[ConnID]map[domain.RoomKey]struct{}
}

func NewRoomManager() *RoomManager {
	return &RoomManager{
		rooms:  make(map[domain.RoomKey]*room),
		byConn: make(map[ConnID]map[domain.RoomKey]struct{}),
	}
}

// Join adds conn to the room. It reports false when conn was already a member.
func (m *RoomManager) Join(conn ConnID, sc SignalConnection, key domain.RoomKey) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.rooms[key]
	if !ok {
		r = &room{members: make(map[ConnID]SignalConnection)}
		m.rooms[key] = r
	}
	if _, ok := r.members[conn]; ok {
		return false
	}
	r.members[conn] = sc
	keys, ok := m.byConn[conn]
	if !ok {
		keys = make(map[domain.RoomKey]struct{})
		m.byConn[conn] = keys
	}
	keys[key] = struct{}{}
	log.Debug().Str("module", "core.rooms").Str("conn", string(conn)).Str("room", key.String()).Int("members", len(r.members)).Msg("joined")
	return true
}

// Leave removes conn from the room. It reports false when conn was not a member.
func (m *RoomManager) Leave(conn ConnID, key domain.RoomKey) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.removeLocked(conn, key) {
		return false
	}
	log.Debug().Str("module", "core.rooms").Str("conn", string(conn)).Str("room", key.String()).Msg("left")
	return true
}

// LeaveAll drops every membership of conn and returns the rooms it was in.
func (m *RoomManager) LeaveAll(conn ConnID) []domain.RoomKey {
	m.mu.Lock()
	defer m.mu.Unlock()
	keys := m.byConn[conn]
	out := make([]domain.RoomKey, 0, len(keys))
	for key := range keys {
		out = append(out, key)
	}
	for _, key := range out {
		m.removeLocked(conn, key)
	}
	if len(out) > 0 {
		log.Debug().Str("module", "core.rooms").Str("conn", string(conn)).Int("rooms", len(out)).Msg("left all")
	}
	sortKeys(out)
	return out
}

// Evict empties a room and returns the connections that were in it.
func (m *RoomManager) Evict(key domain.RoomKey) []ConnID {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.rooms[key]
	if !ok {
		return nil
	}
	out := make([]ConnID, 0, len(r.members))
	for conn := range r.members {
		out = append(out, conn)
	}
	for _, conn := range out {
		m.removeLocked(conn, key)
	}
	log.Info().Str("module", "core.rooms").Str("room", key.String()).Int("evicted", len(out)).Msg("room evicted")
	return out
}

func (m *RoomManager) removeLocked(conn ConnID, key domain.RoomKey) bool {
	r, ok := m.rooms[key]
	if !ok {
		return false
	}
	if _, ok := r.members[conn]; !ok {
		return false
	}
	delete(r.members, conn)
	if len(r.members) == 0 {
		delete(m.rooms, key)
	}
	if keys, ok := m.byConn[conn]; ok {
		delete(keys, key)
		if len(keys) == 0 {
			delete(m.byConn, conn)
		}
	}
	return true
}

// Broadcast enqueues data to every current member except exclude (may be
// empty). Membership cannot change while the fan-out runs.
func (m *RoomManager) Broadcast(key domain.RoomKey, data Frame, exclude ConnID) PublishResult {
	m.mu.RLock()
	defer m.mu.RUnlock()
	res := PublishResult{}
	r, ok := m.rooms[key]
	if !ok {
		return res
	}
	r.fanout.Lock()
	defer r.fanout.Unlock()
	for conn, sc := range r.members {
		if conn == exclude {
			continue
		}
		if err := sc.TrySend(data); err != nil {
			res.Dropped = append(res.Dropped, conn)
			continue
		}
		res.SendTo++
	}
	log.Debug().Str("module", "core.rooms").Str("room", key.String()).Int("sent_to", res.SendTo).Int("dropped", len(res.Dropped)).Msg("broadcast result")
	return res
}

func (m *RoomManager) MemberCount(key domain.RoomKey) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if r, ok := m.rooms[key]; ok {
		return len(r.members)
	}
	return 0
}

func (m *RoomManager) IsMember(conn ConnID, key domain.RoomKey) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.byConn[conn][key]
	return ok
}

func (m *RoomManager) RoomsOf(conn ConnID) []domain.RoomKey {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]domain.RoomKey, 0, len(m.byConn[conn]))
	for key := range m.byConn[conn] {
		out = append(out, key)
	}
	sortKeys(out)
	return out
}

func (m *RoomManager) List() []RoomInfo {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]RoomInfo, 0, len(m.rooms))
	for key, r := range m.rooms {
		out = append(out, RoomInfo{Key: key, MemberCount: len(r.members)})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key.String() < out[j].Key.String() })
	return out
}

func sortKeys(keys []domain.RoomKey) {
	sort.Slice(keys, func(i, j int) bool { return keys[i].String() < keys[j].String() })
}
