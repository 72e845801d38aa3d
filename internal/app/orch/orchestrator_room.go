package orch

import (
	"github.com/dkeye/Space/internal/domain"
	"github.com/rs/zerolog/log"
)

func (o *Orchestrator) ListRooms() []domain.RoomInfo {
	return o.Rooms.List()
}

func (o *Orchestrator) RoomPlayers(uri domain.RoomURI) ([]domain.PlayerDTO, bool) {
	room, ok := o.Rooms.GetRoom(uri)
	if !ok {
		return nil, false
	}
	return room.Snapshot(), true
}

// EvictRoom makes every player leave the room; connections stay open.
func (o *Orchestrator) EvictRoom(uri domain.RoomURI) int {
	room, ok := o.Rooms.GetRoom(uri)
	if !ok {
		return 0
	}
	players := room.Players()
	for _, sess := range players {
		sess.Leave(uri)
	}
	log.Info().Str("module", "orch").Str("room", string(uri)).Int("players", len(players)).Msg("room evicted")
	return len(players)
}
