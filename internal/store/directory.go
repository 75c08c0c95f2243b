package store

import (
	"context"
	"sync"

	"github.com/dkeye/Agora/internal/domain"
)

// MemoryDirectory is an in-process Directory seeded from configuration.
type MemoryDirectory struct {
	mu       sync.RWMutex
	accounts map[domain.IdentityID]*domain.Account
}

func NewMemoryDirectory(accounts []domain.Account) *MemoryDirectory {
	d := &MemoryDirectory{accounts: make(map[domain.IdentityID]*domain.Account, len(accounts))}
	for i := range accounts {
		d.Put(accounts[i])
	}
	return d
}

// Put adds or replaces an account.
func (d *MemoryDirectory) Put(acc domain.Account) {
	d.mu.Lock()
	defer d.mu.Unlock()
	cp := acc
	d.accounts[acc.ID] = &cp
}

// Lookup implements Directory. Members and operators live in separate
// stores upstream, so a kind mismatch is reported as not found.
func (d *MemoryDirectory) Lookup(_ context.Context, kind domain.IdentityKind, id domain.IdentityID) (*domain.Account, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	acc, ok := d.accounts[id]
	if !ok || acc.Kind != kind {
		return nil, ErrNotFound
	}
	cp := *acc
	return &cp, nil
}

// CanAccess implements Directory.
func (d *MemoryDirectory) CanAccess(_ context.Context, id domain.IdentityID, room domain.RoomKey) (bool, error) {
	if id.IsGuest() {
		return room.Kind == domain.RoomChannel, nil
	}
	d.mu.RLock()
	defer d.mu.RUnlock()
	acc, ok := d.accounts[id]
	if !ok {
		return false, nil
	}
	switch room.Kind {
	case domain.RoomChannel, domain.RoomGroupChat:
		c, _ := room.Community()
		return acc.BelongsTo(c), nil
	case domain.RoomConversation:
		return acc.InConversation(room.Scope), nil
	case domain.RoomLive:
		return true, nil
	default:
		return false, nil
	}
}
