package orch

import (
	"context"
	"fmt"

	"github.com/dkeye/Space/internal/core"
	"github.com/dkeye/Space/internal/domain"
	"github.com/rs/zerolog/log"
)

// OpenTransport creates a media transport of kind for sess. bind runs before
// the session sees the transport, so callbacks are in place before any
// negotiation can start.
func (o *Orchestrator) OpenTransport(ctx context.Context, sess *core.PeerSession, kind domain.TransportKind, bind func(core.Transport)) (core.Transport, error) {
	if o.Engine == nil {
		return nil, fmt.Errorf("no media engine")
	}
	t, err := o.Engine.NewTransport(ctx, sess.ID(), kind)
	if err != nil {
		return nil, fmt.Errorf("new %s transport: %w", kind, err)
	}
	if bind != nil {
		bind(t)
	}
	if err := sess.SetTransport(kind, t); err != nil {
		_ = t.Close()
		return nil, err
	}
	log.Info().Str("module", "orch").Str("sid", string(sess.ID())).Str("kind", string(kind)).Str("transport", t.ID()).Msg("transport opened")
	return t, nil
}

func (o *Orchestrator) ICEServers() []string {
	if o.Engine == nil {
		return nil
	}
	return o.Engine.ICEServers()
}

func (o *Orchestrator) RtpCapabilities() domain.RtpCapabilities {
	if o.Engine == nil {
		return domain.RtpCapabilities{}
	}
	return o.Engine.RtpCapabilities()
}
