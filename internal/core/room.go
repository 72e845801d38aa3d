package core

import (
	"sort"
	"sync"

	"github.com/dkeye/Space/internal/domain"
	"github.com/dkeye/Space/internal/metrics"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Room is one shared space. The players map is only mutated by join and
// leave; every other operation resolves the caller's slot and publishes an
// event to the room topic.
//
// events orders room events: a slot change, its broadcast and the roster
// sent to a joiner happen as one step. It is taken before any
// PeerSession.mu and before mu; publishing never blocks while it is held.
type Room struct {
	uri      domain.RoomURI
	topic    string
	registry *RoomRegistry
	log      zerolog.Logger

	events sync.Mutex

	mu      sync.RWMutex
	players map[domain.Slot]*PeerSession
	// closed is set once the room emptied; joins must go to a fresh room.
	closed bool
}

func newRoom(uri domain.RoomURI, registry *RoomRegistry) *Room {
	return &Room{
		uri:      uri,
		topic:    domain.Topic(uri),
		registry: registry,
		log:      log.With().Str("module", "core.room").Str("room", string(uri)).Logger(),
		players:  make(map[domain.Slot]*PeerSession),
	}
}

func (r *Room) URI() domain.RoomURI { return r.uri }
func (r *Room) Topic() string       { return r.topic }

func (r *Room) isClosed() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.closed
}

func (r *Room) PlayerCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.players)
}

func (r *Room) SlotOf(s *PeerSession) (domain.Slot, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.slotOfLocked(s)
}

func (r *Room) slotOfLocked(s *PeerSession) (domain.Slot, bool) {
	for slot, p := range r.players {
		if p == s {
			return slot, true
		}
	}
	return 0, false
}

func (r *Room) PlayerAt(slot domain.Slot) (*PeerSession, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.players[slot]
	return s, ok
}

// Players returns the sessions currently in the room ordered by slot.
func (r *Room) Players() []*PeerSession {
	members := r.others(nil)
	out := make([]*PeerSession, 0, len(members))
	for _, m := range members {
		out = append(out, m.session)
	}
	return out
}

// Snapshot returns the current roster ordered by slot.
func (r *Room) Snapshot() []domain.PlayerDTO {
	members := r.others(nil)
	out := make([]domain.PlayerDTO, 0, len(members))
	for _, m := range members {
		out = append(out, m.session.Profile().Player(m.slot))
	}
	return out
}

func (r *Room) others(s *PeerSession) []member {
	r.mu.RLock()
	out := make([]member, 0, len(r.players))
	for slot, p := range r.players {
		if p == s {
			continue
		}
		out = append(out, member{slot: slot, session: p})
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].slot < out[j].slot })
	return out
}

// join allocates a slot for s, announces it, sends s the current roster and
// starts media wiring in both directions. Joining twice returns the slot
// already held.
func (r *Room) join(s *PeerSession) (domain.Slot, error) {
	r.events.Lock()
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		r.events.Unlock()
		return 0, ErrRoomClosed
	}
	if slot, ok := r.slotOfLocked(s); ok {
		r.mu.Unlock()
		r.events.Unlock()
		return slot, nil
	}
	slot, ok := allocateSlot(r.registry.pick, func(c domain.Slot) bool {
		_, taken := r.players[c]
		return taken
	})
	if !ok {
		count := len(r.players)
		r.mu.Unlock()
		r.events.Unlock()
		metrics.Joins.WithLabelValues(metrics.ResultFull).Inc()
		r.log.Warn().Str("sid", string(s.ID())).Int("players", count).Msg("no free slot, room at capacity")
		return 0, ErrRoomFull
	}
	r.players[slot] = s
	r.mu.Unlock()

	metrics.Joins.WithLabelValues(metrics.ResultOK).Inc()
	metrics.Players.Inc()
	r.log.Info().Str("sid", string(s.ID())).Uint8("slot", uint8(slot)).Msg("player joined")

	p := s.Profile()
	r.publish(domain.EventPlayerJoin, domain.PlayerJoin{Slot: slot, Name: p.Name, Avatar: p.Avatar, Handle: p.Handle})

	others := r.others(s)
	for _, m := range others {
		op := m.session.Profile()
		s.emit(r.registry.dialect.Name(domain.EventPlayerJoin), domain.PlayerJoin{
			Slot:   m.slot,
			Name:   op.Name,
			Avatar: op.Avatar,
			Handle: op.Handle,
		})
	}
	r.events.Unlock()

	producer, dataProducer := s.Producer(), s.DataProducer()
	for _, m := range others {
		if p := m.session.Producer(); p != nil {
			s.Consume(p, r.uri, m.slot)
		}
		if dp := m.session.DataProducer(); dp != nil {
			s.ConsumeData(dp, r.uri, m.slot)
		}
		if producer != nil {
			m.session.Consume(producer, r.uri, slot)
		}
		if dataProducer != nil {
			m.session.ConsumeData(dataProducer, r.uri, slot)
		}
	}
	return slot, nil
}

// leave frees the slot of s and tears down every consumer other players
// hold for it. The last leave removes the room from the registry.
func (r *Room) leave(s *PeerSession) {
	r.events.Lock()
	r.mu.Lock()
	slot, ok := r.slotOfLocked(s)
	if !ok {
		r.mu.Unlock()
		r.events.Unlock()
		return
	}
	delete(r.players, slot)
	empty := len(r.players) == 0
	if empty {
		r.closed = true
	}
	r.mu.Unlock()

	metrics.Players.Dec()
	r.log.Info().Str("sid", string(s.ID())).Uint8("slot", uint8(slot)).Msg("player left")

	for _, m := range r.others(s) {
		m.session.closeConsumersFor(r.uri, slot)
	}
	r.publish(domain.EventPlayerLeave, domain.PlayerLeave{Slot: slot})
	r.events.Unlock()

	if empty {
		r.registry.removeRoom(r)
	}
}

func (r *Room) chat(s *PeerSession, message string) {
	r.events.Lock()
	defer r.events.Unlock()
	slot, ok := r.SlotOf(s)
	if !ok {
		return
	}
	r.publish(domain.EventChatMessage, domain.ChatMessage{Slot: slot, Message: message})
}

func (r *Room) setGrounded(s *PeerSession, grounded bool) {
	r.events.Lock()
	defer r.events.Unlock()
	slot, ok := r.SlotOf(s)
	if !ok {
		return
	}
	r.publish(domain.EventPlayerGrounded, domain.PlayerGrounded{Slot: slot, Grounded: grounded})
}

func (r *Room) setName(s *PeerSession, name string) {
	r.events.Lock()
	defer r.events.Unlock()
	slot, ok := r.SlotOf(s)
	if !ok {
		return
	}
	r.publish(domain.EventPlayerName, domain.PlayerName{Slot: slot, Name: name})
}

func (r *Room) setHandle(s *PeerSession, handle string) {
	r.events.Lock()
	defer r.events.Unlock()
	slot, ok := r.SlotOf(s)
	if !ok {
		return
	}
	r.publish(domain.EventPlayerHandle, domain.PlayerHandle{Slot: slot, Handle: handle})
}

func (r *Room) setAvatar(s *PeerSession, avatar string) {
	r.events.Lock()
	defer r.events.Unlock()
	slot, ok := r.SlotOf(s)
	if !ok {
		return
	}
	r.publish(domain.EventPlayerAvatar, domain.PlayerAvatar{Slot: slot, Avatar: avatar})
}

// setProducer makes every other player consume p.
func (r *Room) setProducer(s *PeerSession, p Producer) {
	slot, ok := r.SlotOf(s)
	if !ok {
		return
	}
	for _, m := range r.others(s) {
		m.session.Consume(p, r.uri, slot)
	}
}

func (r *Room) setDataProducer(s *PeerSession, dp DataProducer) {
	slot, ok := r.SlotOf(s)
	if !ok {
		return
	}
	for _, m := range r.others(s) {
		m.session.ConsumeData(dp, r.uri, slot)
	}
}

func (r *Room) publish(e domain.Event, data any) {
	name := r.registry.dialect.Name(e)
	frame, err := domain.Encode(name, data)
	if err != nil {
		r.log.Error().Err(err).Str("type", name).Msg("publish encode")
		return
	}
	if r.registry.pub == nil {
		return
	}
	res := r.registry.pub.Publish(r.topic, frame)
	if n := len(res.Dropped); n > 0 {
		metrics.BroadcastDropped.Add(float64(n))
	}
	r.log.Debug().Str("type", name).Int("sent_to", res.SendTo).Int("dropped", len(res.Dropped)).Msg("broadcast result")
}
