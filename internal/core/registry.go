package core

import (
	"sort"
	"sync"

	"github.com/dkeye/Space/internal/domain"
	"github.com/dkeye/Space/internal/metrics"
	"github.com/rs/zerolog/log"
)

// RoomRegistry is the process-wide directory of live rooms. Rooms are created
// lazily on first join and removed by themselves when their last player leaves.
type RoomRegistry struct {
	pub     Publisher
	dialect domain.Dialect
	pick    SlotPicker

	mu    sync.RWMutex
	rooms map[domain.RoomURI]*Room
}

type RegistryOption func(*RoomRegistry)

func WithDialect(d domain.Dialect) RegistryOption {
	return func(r *RoomRegistry) { r.dialect = d }
}

// WithSlotPicker replaces the random slot source, e.g. for deterministic tests.
func WithSlotPicker(p SlotPicker) RegistryOption {
	return func(r *RoomRegistry) { r.pick = p }
}

func NewRoomRegistry(pub Publisher, opts ...RegistryOption) *RoomRegistry {
	r := &RoomRegistry{
		pub:     pub,
		dialect: domain.DefaultDialect,
		pick:    RandomSlot,
		rooms:   make(map[domain.RoomURI]*Room),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}


func (r *RoomRegistry) GetRoom(uri domain.RoomURI) (*Room, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	room, ok := r.rooms[uri]
	return room, ok
}

// GetOrCreateRoom returns the live room for uri. A room that already emptied
// but was not yet removed is replaced by a fresh one.
func (r *RoomRegistry) GetOrCreateRoom(uri domain.RoomURI) *Room {
	r.mu.RLock()
	room, ok := r.rooms[uri]
	r.mu.RUnlock()
	if ok && !room.isClosed() {
		return room
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	room, ok = r.rooms[uri]
	if ok && !room.isClosed() {
		return room
	}
	fresh := newRoom(uri, r)
	r.rooms[uri] = fresh
	if !ok {
		metrics.Rooms.Inc()
	}
	log.Info().Str("module", "core.registry").Str("room", string(uri)).Msg("room created")
	return fresh
}

// removeRoom is called by the room itself once it is empty. Only the exact
// instance is removed: a fresh room created under the same URI stays.
func (r *RoomRegistry) removeRoom(room *Room) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if cur, ok := r.rooms[room.uri]; !ok || cur != room {
		return
	}
	delete(r.rooms, room.uri)
	metrics.Rooms.Dec()
	log.Info().Str("module", "core.registry").Str("room", string(room.uri)).Msg("room removed")
}

func (r *RoomRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.rooms)
}

func (r *RoomRegistry) List() []domain.RoomInfo {
	r.mu.RLock()
	rooms := make([]*Room, 0, len(r.rooms))
	for _, room := range r.rooms {
		rooms = append(rooms, room)
	}
	r.mu.RUnlock()

	out := make([]domain.RoomInfo, 0, len(rooms))
	for _, room := range rooms {
		out = append(out, domain.RoomInfo{URI: room.uri, PlayerCount: room.PlayerCount()})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].URI < out[j].URI })
	return out
}
