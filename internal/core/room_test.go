package core

import (
	"fmt"
	"testing"

	"github.com/dkeye/Space/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRoomSlotsAreDistinctUpToCapacity(t *testing.T) {
	h := newHarness(t)
	seen := make(map[domain.Slot]bool)
	for i := range domain.MaxSlots {
		s, _ := h.session(fmt.Sprintf("p%d", i))
		slot, err := s.Join("crowded")
		require.NoError(t, err)
		require.False(t, seen[slot], "slot %d assigned twice", slot)
		seen[slot] = true
	}
	room, ok := h.registry.GetRoom("crowded")
	require.True(t, ok)
	require.Equal(t, domain.MaxSlots, room.PlayerCount())

	late, conn := h.session("late")
	_, err := late.Join("crowded")
	require.ErrorIs(t, err, ErrRoomFull)
	assert.Equal(t, domain.MaxSlots, room.PlayerCount())
	assert.Empty(t, late.Rooms())
	assert.False(t, conn.subscribed(domain.Topic("crowded")))
	assert.Empty(t, conn.messages(t, "world.joined"))
}

func TestRoomLeaveFreesSlot(t *testing.T) {
	h := newHarness(t, WithSlotPicker(seqPicker(3, 9, 3)))
	a, _ := h.session("a")
	c, _ := h.session("c")
	b, _ := h.session("b")

	slot, err := a.Join("alpha")
	require.NoError(t, err)
	require.Equal(t, domain.Slot(3), slot)
	_, err = c.Join("alpha")
	require.NoError(t, err)

	a.Leave("alpha")
	slot, err = b.Join("alpha")
	require.NoError(t, err)
	assert.Equal(t, domain.Slot(3), slot)
}

func TestRoomRemovedWhenLastPlayerLeaves(t *testing.T) {
	h := newHarness(t)
	a, _ := h.session("a")
	b, _ := h.session("b")
	_, err := a.Join("alpha")
	require.NoError(t, err)
	_, err = b.Join("alpha")
	require.NoError(t, err)
	room, ok := h.registry.GetRoom("alpha")
	require.True(t, ok)

	a.Leave("alpha")
	_, ok = h.registry.GetRoom("alpha")
	assert.True(t, ok)

	b.Leave("alpha")
	_, ok = h.registry.GetRoom("alpha")
	assert.False(t, ok)
	assert.Zero(t, room.PlayerCount())
	assert.Zero(t, h.registry.Len())

	// a stale instance never removes its replacement
	fresh := h.registry.GetOrCreateRoom("alpha")
	require.NotSame(t, room, fresh)
	h.registry.removeRoom(room)
	got, ok := h.registry.GetRoom("alpha")
	require.True(t, ok)
	assert.Same(t, fresh, got)
}

func TestRegistryReplacesClosedRoom(t *testing.T) {
	h := newHarness(t)
	room := h.registry.GetOrCreateRoom("alpha")
	room.mu.Lock()
	room.closed = true
	room.mu.Unlock()

	s, _ := h.session("a")
	_, err := s.Join("alpha")
	require.NoError(t, err)
	got, ok := h.registry.GetRoom("alpha")
	require.True(t, ok)
	assert.NotSame(t, room, got)
	assert.Equal(t, 1, got.PlayerCount())
}

func TestJoinIsIdempotent(t *testing.T) {
	h := newHarness(t)
	observer, obsConn := h.session("observer")
	_, err := observer.Join("alpha")
	require.NoError(t, err)
	obsConn.reset()

	s, conn := h.session("s")
	first, err := s.Join("alpha")
	require.NoError(t, err)
	second, err := s.Join("alpha")
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Len(t, obsConn.messages(t, "player_join"), 1)
	assert.Len(t, conn.messages(t, "world.joined"), 1)
}

func TestJoinSendsRosterToJoiner(t *testing.T) {
	h := newHarness(t, WithSlotPicker(seqPicker(1, 2, 3)))
	a, _ := h.session("a")
	b, _ := h.session("b")
	require.NoError(t, a.SetName("alice"))
	require.NoError(t, b.SetHandle("@bob"))
	_, err := a.Join("alpha")
	require.NoError(t, err)
	_, err = b.Join("alpha")
	require.NoError(t, err)

	c, conn := h.session("c")
	slot, err := c.Join("alpha")
	require.NoError(t, err)
	require.Equal(t, domain.Slot(3), slot)

	var slots []domain.Slot
	var names []string
	for _, env := range conn.messages(t, "player_join") {
		p, err := domain.DecodeData[domain.PlayerJoin](env)
		require.NoError(t, err)
		slots = append(slots, p.Slot)
		if p.Name != nil {
			names = append(names, *p.Name)
		}
	}
	// two synthetic entries plus the broadcast of the joiner itself
	assert.ElementsMatch(t, []domain.Slot{1, 2, 3}, slots)
	assert.Equal(t, []string{"alice"}, names)

	joined := conn.messages(t, "world.joined")
	require.Len(t, joined, 1)
	assert.Equal(t, domain.Slot(3), slotOf(t, joined[0]))

	snap := h.registryRoom("alpha").Snapshot()
	require.Len(t, snap, 3)
	assert.Equal(t, domain.Slot(1), snap[0].Slot)
	require.NotNil(t, snap[1].Handle)
	assert.Equal(t, "@bob", *snap[1].Handle)
	assert.True(t, snap[2].Grounded)
}

func TestMutatorsBroadcastOncePerRoom(t *testing.T) {
	h := newHarness(t, WithSlotPicker(seqPicker(10, 20, 30, 40)))
	s, _ := h.session("s")
	o1, c1 := h.session("o1")
	o2, c2 := h.session("o2")

	_, err := o1.Join("r1")
	require.NoError(t, err)
	_, err = o2.Join("r2")
	require.NoError(t, err)
	s1, err := s.Join("r1")
	require.NoError(t, err)
	s2, err := s.Join("r2")
	require.NoError(t, err)
	c1.reset()
	c2.reset()

	require.NoError(t, s.SetName("n"))
	require.NoError(t, s.SetHandle("h"))
	require.NoError(t, s.SetAvatar("https://example.org/a.glb"))
	s.SetGrounded(false)
	require.NoError(t, s.Chat("  hi  "))

	for _, tc := range []struct {
		conn *fakeConn
		slot domain.Slot
	}{{c1, s1}, {c2, s2}} {
		for _, typ := range []string{"player_name", "player_handle", "player_avatar", "player_grounded", "chat_message"} {
			msgs := tc.conn.messages(t, typ)
			require.Len(t, msgs, 1, typ)
			assert.Equal(t, tc.slot, slotOf(t, msgs[0]), typ)
		}
	}

	chat, err := domain.DecodeData[domain.ChatMessage](c1.messages(t, "chat_message")[0])
	require.NoError(t, err)
	assert.Equal(t, "hi", chat.Message)
	grounded, err := domain.DecodeData[domain.PlayerGrounded](c2.messages(t, "player_grounded")[0])
	require.NoError(t, err)
	assert.False(t, grounded.Grounded)
}

func TestMutatorValidation(t *testing.T) {
	h := newHarness(t)
	s, _ := h.session("s")
	assert.ErrorIs(t, s.Chat("   "), domain.ErrChatEmpty)
	assert.ErrorIs(t, s.SetName(string(make([]rune, domain.MaxNameLen+1))), domain.ErrNameTooLong)
	assert.Nil(t, s.Profile().Name)
}

func TestChatFromNonMemberIsIgnored(t *testing.T) {
	h := newHarness(t)
	a, conn := h.session("a")
	_, err := a.Join("alpha")
	require.NoError(t, err)
	stranger, _ := h.session("stranger")

	h.registryRoom("alpha").chat(stranger, "hello")
	assert.Empty(t, conn.messages(t, "chat_message"))
}

func TestWiredDialectNames(t *testing.T) {
	h := newHarness(t, WithDialect(domain.WiredDialect))
	a, conn := h.session("a")
	_, err := a.Join("alpha")
	require.NoError(t, err)
	assert.Len(t, conn.messages(t, "com.wired-protocol.world.player.join"), 1)
	assert.Len(t, conn.messages(t, "com.wired-protocol.world.joined"), 1)
}

func TestRegistryList(t *testing.T) {
	h := newHarness(t)
	a, _ := h.session("a")
	b, _ := h.session("b")
	_, err := a.Join("beta")
	require.NoError(t, err)
	_, err = b.Join("alpha")
	require.NoError(t, err)
	_, err = a.Join("alpha")
	require.NoError(t, err)

	assert.Equal(t, []domain.RoomInfo{
		{URI: "alpha", PlayerCount: 2},
		{URI: "beta", PlayerCount: 1},
	}, h.registry.List())
}

func (h *harness) registryRoom(uri domain.RoomURI) *Room {
	h.t.Helper()
	room, ok := h.registry.GetRoom(uri)
	require.True(h.t, ok)
	return room
}
