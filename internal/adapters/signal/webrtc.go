package signal

import (
	"context"
	"errors"

	"github.com/dkeye/Space/internal/core"
	"github.com/dkeye/Space/internal/domain"
	"github.com/rs/zerolog/log"
)

var errNotNegotiable = errors.New("transport does not negotiate over signaling")

// negotiator is the SDP side of a media transport.
type negotiator interface {
	ApplyOffer(sdp string) (string, error)
	ApplyAnswer(sdp string) error
	AddICECandidate(c domain.CandidateMessage) error
	OnICECandidate(fn func(domain.CandidateMessage))
	OnOffer(fn func(sdp string))
}

func (ctl *SignalWSController) negotiatorOf(sess *core.PeerSession, kind domain.TransportKind) (negotiator, error) {
	t := sess.Transport(kind)
	if t == nil {
		return nil, core.ErrNoTransport
	}
	n, ok := t.(negotiator)
	if !ok {
		return nil, errNotNegotiable
	}
	return n, nil
}

func (ctl *SignalWSController) handleTransportCreate(ctx context.Context, sess *core.PeerSession, conn core.SignalConnection, env domain.Envelope) {
	p, err := domain.DecodeData[domain.TransportRequest](env)
	if err != nil {
		badPayload(sess, err)
		return
	}
	kind, err := domain.ParseTransportKind(string(p.Kind))
	if err != nil {
		badPayload(sess, err)
		return
	}

	t, err := ctl.Orch.OpenTransport(ctx, sess, kind, func(t core.Transport) {
		n, ok := t.(negotiator)
		if !ok {
			return
		}
		n.OnICECandidate(func(c domain.CandidateMessage) {
			ctl.send(conn, domain.MsgTransportCandidate, c)
		})
		n.OnOffer(func(sdp string) {
			ctl.send(conn, domain.MsgTransportOffer, domain.SessionDescription{Kind: kind, SDP: sdp})
		})
	})
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Str("sid", string(sess.ID())).Msg("webrtc new transport")
		return
	}

	ctl.send(conn, domain.MsgTransportCreated, domain.TransportCreated{
		Kind:       kind,
		ID:         t.ID(),
		ICEServers: ctl.Orch.ICEServers(),
	})
}

// handleTransportConnect applies the client offer of the producer transport.
func (ctl *SignalWSController) handleTransportConnect(sess *core.PeerSession, conn core.SignalConnection, env domain.Envelope) {
	p, err := domain.DecodeData[domain.TransportRequest](env)
	if err != nil {
		badPayload(sess, err)
		return
	}
	n, err := ctl.negotiatorOf(sess, p.Kind)
	if err != nil {
		log.Warn().Err(err).Str("module", "signal").Str("sid", string(sess.ID())).Msg("transport connect")
		return
	}
	answer, err := n.ApplyOffer(p.SDP)
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Str("sid", string(sess.ID())).Msg("webrtc apply offer")
		return
	}
	ctl.send(conn, domain.MsgTransportAnswer, domain.SessionDescription{Kind: p.Kind, SDP: answer})
}

// handleTransportAnswer completes a server offer on the consumer transport.
func (ctl *SignalWSController) handleTransportAnswer(sess *core.PeerSession, env domain.Envelope) {
	p, err := domain.DecodeData[domain.SessionDescription](env)
	if err != nil {
		badPayload(sess, err)
		return
	}
	n, err := ctl.negotiatorOf(sess, p.Kind)
	if err != nil {
		log.Warn().Err(err).Str("module", "signal").Str("sid", string(sess.ID())).Msg("transport answer")
		return
	}
	if err := n.ApplyAnswer(p.SDP); err != nil {
		log.Error().Err(err).Str("module", "signal").Str("sid", string(sess.ID())).Msg("webrtc apply answer")
	}
}

func (ctl *SignalWSController) handleCandidate(sess *core.PeerSession, env domain.Envelope) {
	p, err := domain.DecodeData[domain.CandidateMessage](env)
	if err != nil {
		badPayload(sess, err)
		return
	}
	n, err := ctl.negotiatorOf(sess, p.Kind)
	if err != nil {
		log.Warn().Err(err).Str("module", "signal").Str("sid", string(sess.ID())).Msg("candidate: no media transport")
		return
	}
	if err := n.AddICECandidate(p); err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("add ice candidate")
	}
}

func (ctl *SignalWSController) handleRtpCapabilities(sess *core.PeerSession, env domain.Envelope) {
	caps, err := domain.DecodeData[domain.RtpCapabilities](env)
	if err != nil {
		badPayload(sess, err)
		return
	}
	sess.SetRtpCapabilities(caps)
}

func (ctl *SignalWSController) handleProduce(sess *core.PeerSession, env domain.Envelope) {
	p, err := domain.DecodeData[domain.ProduceRequest](env)
	if err != nil {
		badPayload(sess, err)
		return
	}
	if err := sess.Produce(p.RtpParameters); err != nil {
		log.Warn().Err(err).Str("module", "signal").Str("sid", string(sess.ID())).Msg("produce")
	}
}

func (ctl *SignalWSController) handleProduceData(sess *core.PeerSession, env domain.Envelope) {
	p, err := domain.DecodeData[domain.ProduceDataRequest](env)
	if err != nil {
		badPayload(sess, err)
		return
	}
	if err := sess.ProduceData(p.SctpStreamParameters); err != nil {
		log.Warn().Err(err).Str("module", "signal").Str("sid", string(sess.ID())).Msg("produce data")
	}
}

func (ctl *SignalWSController) handleSetPaused(sess *core.PeerSession, env domain.Envelope) {
	p, err := domain.DecodeData[domain.PausedRequest](env)
	if err != nil {
		badPayload(sess, err)
		return
	}
	sess.SetPaused(p.Paused)
}
