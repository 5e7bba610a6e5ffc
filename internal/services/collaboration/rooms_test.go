package collaboration

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"testing"

	"docsync/internal/models"

	"github.com/go-playground/assert/v2"
)

func TestRoomJoinLeave(t *testing.T) {
	m := NewRoomManager(discardLogger())
	a, b := newFakePeer("a"), newFakePeer("b")

	m.Join(1, a)
	m.Join(1, a)
	m.Join(1, b)
	assert.Equal(t, m.Count(1), 2)

	m.Leave(1, "a")
	m.Leave(1, "a")
	m.Leave(1, "missing")
	m.Leave(99, "b")
	assert.Equal(t, m.Count(1), 1)

	m.Leave(1, "b")
	assert.Equal(t, m.Count(1), 0)
	assert.Equal(t, len(m.rooms), 0)
	assert.Equal(t, len(m.memberships), 0)
}

func TestRoomLeaveAll(t *testing.T) {
	m := NewRoomManager(discardLogger())
	a, b := newFakePeer("a"), newFakePeer("b")
	for _, doc := range []int64{1, 2, 3} {
		m.Join(doc, a)
	}
	m.Join(2, b)

	rooms := m.RoomsOf("a")
	sort.Slice(rooms, func(i, j int) bool { return rooms[i] < rooms[j] })
	assert.Equal(t, rooms, []int64{1, 2, 3})

	m.LeaveAll("a")
	m.LeaveAll("a")

	assert.Equal(t, m.Count(1), 0)
	assert.Equal(t, m.Count(2), 1)
	assert.Equal(t, m.Count(3), 0)
	assert.Equal(t, len(m.RoomsOf("a")), 0)
}

func TestRoomBroadcastExcludesSender(t *testing.T) {
	m := NewRoomManager(discardLogger())
	a, b, c := newFakePeer("a"), newFakePeer("b"), newFakePeer("c")
	m.Join(1, a)
	m.Join(1, b)
	m.Join(2, c)

	m.Broadcast(context.Background(), 1, models.EventUserJoined, models.UserJoined{UserID: 5}, "a")

	assert.Equal(t, a.count(), 0)
	assert.Equal(t, b.events(), []string{models.EventUserJoined})
	assert.Equal(t, c.count(), 0)
}

func TestRoomBroadcastToEmptyRoom(t *testing.T) {
	m := NewRoomManager(discardLogger())
	assert.Equal(t, m.DeliverFrame(42, []byte(`{}`), ""), 0)
}

func TestDeliverFrameSkipsFullQueues(t *testing.T) {
	m := NewRoomManager(discardLogger())
	a, b, c := newFakePeer("a"), newFakePeer("b"), newFakePeer("c")
	m.Join(1, a)
	m.Join(1, b)
	m.Join(1, c)
	b.setFull(true)

	delivered := m.DeliverFrame(1, []byte(`{"event":"x"}`), "")

	assert.Equal(t, delivered, 2)
	assert.Equal(t, a.count(), 1)
	assert.Equal(t, b.count(), 0)
	assert.Equal(t, c.count(), 1)
}

func TestSendToFullQueue(t *testing.T) {
	m := NewRoomManager(discardLogger())
	p := newFakePeer("p")

	assert.Equal(t, m.SendTo(context.Background(), p, models.EventError, models.ErrorMessage{Message: "x"}), nil)
	p.setFull(true)
	assert.NotEqual(t, m.SendTo(context.Background(), p, models.EventError, models.ErrorMessage{Message: "y"}), nil)
	assert.Equal(t, p.count(), 1)
}

func TestMembers(t *testing.T) {
	m := NewRoomManager(discardLogger())
	m.Join(1, newFakePeer("a"))
	m.Join(1, newFakePeer("b"))

	ids := make([]string, 0)
	for _, p := range m.Members(1) {
		ids = append(ids, p.ID())
	}
	sort.Strings(ids)
	assert.Equal(t, ids, []string{"a", "b"})
	assert.Equal(t, len(m.Members(2)), 0)
}

func TestConcurrentBroadcastsKeepOneOrder(t *testing.T) {
	m := NewRoomManager(discardLogger())
	peers := make([]*fakePeer, 5)
	for i := range peers {
		peers[i] = newFakePeer(fmt.Sprintf("p%d", i))
		m.Join(1, peers[i])
	}

	var wg sync.WaitGroup
	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				m.DeliverFrame(1, []byte(fmt.Sprintf(`{"event":"e","data":{"w":%d,"i":%d}}`, w, i)), "")
			}
		}(w)
	}
	wg.Wait()

	want := peers[0].frames
	assert.Equal(t, len(want), 200)
	for _, p := range peers[1:] {
		assert.Equal(t, p.frames, want)
	}
}

func TestConcurrentJoinLeave(t *testing.T) {
	m := NewRoomManager(discardLogger())

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			p := newFakePeer(fmt.Sprintf("p%d", i))
			for doc := int64(1); doc <= 5; doc++ {
				m.Join(doc, p)
				m.Broadcast(context.Background(), doc, "tick", map[string]int{"i": i}, p.ID())
			}
			m.LeaveAll(p.ID())
		}(i)
	}
	wg.Wait()

	for doc := int64(1); doc <= 5; doc++ {
		assert.Equal(t, m.Count(doc), 0)
	}
}
