package signal

import (
	"github.com/dkeye/Space/internal/core"
	"github.com/dkeye/Space/internal/domain"
	"github.com/rs/zerolog/log"
)

func (ctl *SignalWSController) handleChat(sess *core.PeerSession, env domain.Envelope) {
	p, err := domain.DecodeData[domain.ChatRequest](env)
	if err != nil {
		badPayload(sess, err)
		return
	}
	if !ctl.Limiter.Allow(sess.ID()) {
		log.Warn().Str("module", "signal").Str("sid", string(sess.ID())).Msg("chat rate limited")
		return
	}
	if err := sess.Chat(p.Message); err != nil {
		badPayload(sess, err)
	}
}

func (ctl *SignalWSController) handleSetName(sess *core.PeerSession, env domain.Envelope) {
	p, err := domain.DecodeData[domain.NameRequest](env)
	if err != nil {
		badPayload(sess, err)
		return
	}
	if err := sess.SetName(p.Name); err != nil {
		badPayload(sess, err)
		return
	}
	log.Info().Str("module", "signal").Str("sid", string(sess.ID())).Str("name", p.Name).Msg("rename")
}

func (ctl *SignalWSController) handleSetHandle(sess *core.PeerSession, env domain.Envelope) {
	p, err := domain.DecodeData[domain.HandleRequest](env)
	if err != nil {
		badPayload(sess, err)
		return
	}
	if err := sess.SetHandle(p.Handle); err != nil {
		badPayload(sess, err)
	}
}

func (ctl *SignalWSController) handleSetAvatar(sess *core.PeerSession, env domain.Envelope) {
	p, err := domain.DecodeData[domain.AvatarRequest](env)
	if err != nil {
		badPayload(sess, err)
		return
	}
	if err := sess.SetAvatar(p.Avatar); err != nil {
		badPayload(sess, err)
	}
}

func (ctl *SignalWSController) handleSetGrounded(sess *core.PeerSession, env domain.Envelope) {
	p, err := domain.DecodeData[domain.GroundedRequest](env)
	if err != nil {
		badPayload(sess, err)
		return
	}
	sess.SetGrounded(p.Grounded)
}
