package core

import (
	"fmt"
	"sync"
	"testing"

	"github.com/dkeye/Agora/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingConn struct {
	mu     sync.Mutex
	frames []Frame
	full   bool
	closed bool
}

func (c *recordingConn) TrySend(f Frame) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrConnClosed
	}
	if c.full {
		return ErrBackpressure
	}
	c.frames = append(c.frames, f)
	return nil
}

func (c *recordingConn) Close() {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
}

func (c *recordingConn) got() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, len(c.frames))
	for i, f := range c.frames {
		out[i] = string(f)
	}
	return out
}

var (
	channel42 = domain.ChannelRoom("42")
	chat42    = domain.ChatRoom("42")
)

func TestJoinLeaveKeepsBothIndexes(t *testing.T) {
	m := NewRoomManager()
	c := &recordingConn{}

	assert.True(t, m.Join("c1", c, channel42))
	assert.False(t, m.Join("c1", c, channel42), "second join is a no-op")
	assert.True(t, m.Join("c1", c, chat42))

	assert.True(t, m.IsMember("c1", channel42))
	assert.Equal(t, 1, m.MemberCount(channel42))
	assert.Equal(t, []domain.RoomKey{channel42, chat42}, m.RoomsOf("c1"))

	assert.True(t, m.Leave("c1", channel42))
	assert.False(t, m.Leave("c1", channel42))
	assert.False(t, m.IsMember("c1", channel42))
	assert.Equal(t, 0, m.MemberCount(channel42))
	assert.Equal(t, []domain.RoomKey{chat42}, m.RoomsOf("c1"))
	assert.Equal(t, []RoomInfo{{Key: chat42, MemberCount: 1}}, m.List(), "empty rooms are dropped")
}

func TestLeaveAll(t *testing.T) {
	m := NewRoomManager()
	c := &recordingConn{}
	m.Join("c1", c, chat42)
	m.Join("c1", c, channel42)
	m.Join("c2", c, channel42)

	left := m.LeaveAll("c1")
	assert.Equal(t, []domain.RoomKey{channel42, chat42}, left)
	assert.Empty(t, m.RoomsOf("c1"))
	assert.Equal(t, 1, m.MemberCount(channel42))
	assert.Empty(t, m.LeaveAll("c1"))
}

func TestBroadcastExcludesAndReportsDrops(t *testing.T) {
	m := NewRoomManager()
	a, b, slow := &recordingConn{}, &recordingConn{}, &recordingConn{full: true}
	m.Join("a", a, channel42)
	m.Join("b", b, channel42)
	m.Join("slow", slow, channel42)

	res := m.Broadcast(channel42, Frame("hi"), "a")
	assert.Equal(t, 1, res.SendTo)
	assert.Equal(t, []ConnID{"slow"}, res.Dropped)
	assert.Empty(t, a.got())
	assert.Equal(t, []string{"hi"}, b.got())

	res = m.Broadcast(domain.LiveRoom("none"), Frame("x"), "")
	assert.Zero(t, res.SendTo)
	assert.Empty(t, res.Dropped)
}

func TestBroadcastOrderPerRoom(t *testing.T) {
	m := NewRoomManager()
	a, b := &recordingConn{}, &recordingConn{}
	m.Join("a", a, channel42)
	m.Join("b", b, channel42)

	var wg sync.WaitGroup
	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				m.Broadcast(channel42, Frame(fmt.Sprintf("%d-%d", w, i)), "")
			}
		}(w)
	}
	wg.Wait()

	require.Len(t, a.got(), 200)
	assert.Equal(t, a.got(), b.got(), "every member sees the same order")
}

func TestEvict(t *testing.T) {
	m := NewRoomManager()
	c := &recordingConn{}
	live := domain.LiveRoom("s1")
	m.Join("c1", c, live)
	m.Join("c2", c, live)
	m.Join("c1", c, channel42)

	evicted := m.Evict(live)
	assert.ElementsMatch(t, []ConnID{"c1", "c2"}, evicted)
	assert.Zero(t, m.MemberCount(live))
	assert.Equal(t, []domain.RoomKey{channel42}, m.RoomsOf("c1"))
	assert.Empty(t, m.RoomsOf("c2"))
	assert.Nil(t, m.Evict(live))
}

func TestConcurrentJoinLeave(t *testing.T) {
	m := NewRoomManager()
	c := &recordingConn{}
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			conn := ConnID(fmt.Sprintf("c%d", i))
			for j := 0; j < 100; j++ {
				m.Join(conn, c, channel42)
				m.Broadcast(channel42, Frame("x"), conn)
				m.Leave(conn, channel42)
			}
			m.Join(conn, c, chat42)
		}(i)
	}
	wg.Wait()
	assert.Zero(t, m.MemberCount(channel42))
	assert.Equal(t, 20, m.MemberCount(chat42))
	for i := 0; i < 20; i++ {
		assert.Equal(t, []domain.RoomKey{chat42}, m.RoomsOf(ConnID(fmt.Sprintf("c%d", i))))
	}
}
