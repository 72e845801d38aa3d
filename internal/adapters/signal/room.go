package signal

import (
	"errors"

	"github.com/dkeye/Space/internal/core"
	"github.com/dkeye/Space/internal/domain"
	"github.com/rs/zerolog/log"
)

const maxRoomURILen = 256

var errBadRoomURI = errors.New("room uri must be 1..256 bytes")

func decodeRoom(env domain.Envelope) (domain.RoomURI, error) {
	p, err := domain.DecodeData[domain.RoomRequest](env)
	if err != nil {
		return "", err
	}
	if p.URI == "" || len(p.URI) > maxRoomURILen {
		return "", errBadRoomURI
	}
	return p.URI, nil
}

func (ctl *SignalWSController) handleJoin(sess *core.PeerSession, env domain.Envelope) {
	uri, err := decodeRoom(env)
	if err != nil {
		badPayload(sess, err)
		return
	}
	slot, err := sess.Join(uri)
	if err != nil {
		log.Warn().Err(err).Str("module", "signal").Str("sid", string(sess.ID())).Str("room", string(uri)).Msg("could not join room")
		return
	}
	log.Info().Str("module", "signal").Str("sid", string(sess.ID())).Str("room", string(uri)).Uint8("slot", uint8(slot)).Msg("join")
}

// handleLeave leaves one room, the connection stays open.
func (ctl *SignalWSController) handleLeave(sess *core.PeerSession, env domain.Envelope) {
	uri, err := decodeRoom(env)
	if err != nil {
		badPayload(sess, err)
		return
	}
	log.Info().Str("module", "signal").Str("sid", string(sess.ID())).Str("room", string(uri)).Msg("leave")
	sess.Leave(uri)
}
