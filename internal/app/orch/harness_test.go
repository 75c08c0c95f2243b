package orch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/dkeye/Agora/internal/app"
	"github.com/dkeye/Agora/internal/core"
	"github.com/dkeye/Agora/internal/domain"
	"github.com/dkeye/Agora/internal/store"
	"github.com/stretchr/testify/require"
)

// fakeConn records every frame it is handed.
type fakeConn struct {
	mu     sync.Mutex
	frames []core.Frame
	full   bool
	closed bool
}

func (c *fakeConn) TrySend(f core.Frame) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return core.ErrConnClosed
	}
	if c.full {
		return core.ErrBackpressure
	}
	c.frames = append(c.frames, f)
	return nil
}

func (c *fakeConn) Close() {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
}

func (c *fakeConn) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *fakeConn) decoded(t *testing.T) []map[string]any {
	t.Helper()
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]map[string]any, 0, len(c.frames))
	for _, f := range c.frames {
		var m map[string]any
		require.NoError(t, json.Unmarshal(f, &m))
		out = append(out, m)
	}
	return out
}

func (c *fakeConn) ofType(t *testing.T, typ string) []map[string]any {
	t.Helper()
	var out []map[string]any
	for _, m := range c.decoded(t) {
		if m["type"] == typ {
			out = append(out, m)
		}
	}
	return out
}

// last returns the most recent frame of typ and fails if there is none.
func (c *fakeConn) last(t *testing.T, typ string) map[string]any {
	t.Helper()
	all := c.ofType(t, typ)
	require.NotEmpty(t, all, "no %s frame", typ)
	return all[len(all)-1]
}

func (c *fakeConn) reset() {
	c.mu.Lock()
	c.frames = nil
	c.mu.Unlock()
}

type flakyMessages struct {
	store.MessageStore
	fail atomic.Bool
}

func (f *flakyMessages) Save(ctx context.Context, msg *domain.Message) error {
	if f.fail.Load() {
		return errors.New("disk full")
	}
	return f.MessageStore.Save(ctx, msg)
}

type flakyModeration struct {
	store.ModerationStore
	fail atomic.Bool
}

func (f *flakyModeration) Save(ctx context.Context, req *domain.ModerationRequest) error {
	if f.fail.Load() {
		return errors.New("disk full")
	}
	return f.ModerationStore.Save(ctx, req)
}

type harness struct {
	t    *testing.T
	o    *Orchestrator
	dir  *store.MemoryDirectory
	msgs *flakyMessages
	mods *flakyModeration
	seq  int
}

type client struct {
	peer *core.Peer
	conn *fakeConn
}

func (c *client) id() core.ConnID { return c.peer.Session.ConnID() }

func newHarness(t *testing.T, limiter *app.RateLimiter) *harness {
	t.Helper()
	msgs, err := store.NewMessageStore(store.StoreTypeMemory)
	require.NoError(t, err)
	mods, err := store.NewModerationStore(store.StoreTypeMemory)
	require.NoError(t, err)
	dir := store.NewMemoryDirectory([]domain.Account{
		{ID: "a1", Kind: domain.CommunityOperator, DisplayName: "Alice", CommunityID: "42"},
		{ID: "a7", Kind: domain.CommunityOperator, DisplayName: "Oscar", CommunityID: "7"},
		{ID: "u1", Kind: domain.Member, DisplayName: "Bob", Communities: []domain.CommunityID{"42"}, Conversations: []string{"c-100"}},
		{ID: "u2", Kind: domain.Member, DisplayName: "Carol", Communities: []domain.CommunityID{"42"}, Conversations: []string{"c-100"}},
		{ID: "u3", Kind: domain.Member, DisplayName: "Eve", Communities: []domain.CommunityID{"7"}},
	})
	h := &harness{
		t:    t,
		dir:  dir,
		msgs: &flakyMessages{MessageStore: msgs},
		mods: &flakyModeration{ModerationStore: mods},
	}
	h.o = New(Deps{
		Presence:   app.NewRegistry(),
		Rooms:      core.NewRoomManager(),
		Policy:     app.SimplePolicy{},
		Limiter:    limiter,
		Directory:  dir,
		Messages:   h.msgs,
		Moderation: h.mods,
		Limits:     Limits{MaxContentLen: 100, MaxAttachments: 2},
	})
	return h
}

// connect opens a new connection for a directory account.
func (h *harness) connect(id domain.IdentityID) *client {
	h.t.Helper()
	acc, err := h.dir.Lookup(context.Background(), domain.Member, id)
	if err != nil {
		acc, err = h.dir.Lookup(context.Background(), domain.CommunityOperator, id)
	}
	require.NoError(h.t, err)
	return h.open(acc, false)
}

func (h *harness) connectGuest(token string) *client {
	return h.open(domain.NewGuest(token), true)
}

func (h *harness) open(acc *domain.Account, guest bool) *client {
	h.seq++
	conn := &fakeConn{}
	sess := core.NewSession(acc, core.ConnID(fmt.Sprintf("%s#%d", acc.ID, h.seq)), guest)
	c := &client{peer: core.NewPeer(sess, conn), conn: conn}
	h.o.Connect(c.peer)
	return c
}

func (h *harness) do(c *client, ev Event) {
	h.o.Dispatch(context.Background(), c.peer, ev)
}

func (h *harness) join(c *client, room domain.RoomKey) {
	h.t.Helper()
	h.do(c, &JoinRoom{RoomScope{Room: room.String()}})
	require.Empty(h.t, c.conn.ofType(h.t, OutRoomError), "join %s", room)
}

func (h *harness) joinLive(c *client, sid domain.SessionID) {
	h.t.Helper()
	h.do(c, &JoinLiveSession{SessionID: sid})
	require.Empty(h.t, c.conn.ofType(h.t, OutJoinError), "join live %s", sid)
}

func resetAll(cs ...*client) {
	for _, c := range cs {
		c.conn.reset()
	}
}

func requireErrorFrame(t *testing.T, c *client, typ string, code domain.ErrorKind) map[string]any {
	t.Helper()
	f := c.conn.last(t, typ)
	require.Equal(t, code.String(), f["code"], "%v", f)
	return f
}
