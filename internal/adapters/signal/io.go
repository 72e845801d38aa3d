package signal

import (
	"context"
	"time"

	"github.com/dkeye/Space/internal/core"
	"github.com/dkeye/Space/internal/domain"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

const writeWait = 5 * time.Second

func (ctl *SignalWSController) writePump(ctx context.Context, c *WsSignalConn) {
	ticker := time.NewTicker(ctl.opts.PingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			log.Info().Str("module", "signal").Msg("writePump ctx done")
			c.Close()
			return
		case <-ticker.C:
			if err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				log.Warn().Err(err).Str("module", "signal").Msg("writePump ping")
				c.Close()
				return
			}
		case data, ok := <-c.send:
			if !ok {
				log.Debug().Str("module", "signal").Msg("writePump channel closed")
				return
			}
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				log.Error().Err(err).Str("module", "signal").Msg("writePump set deadline")
				c.Close()
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				log.Error().Err(err).Str("module", "signal").Msg("writePump write error")
				c.Close()
				return
			}
		}
	}
}

func (ctl *SignalWSController) readPump(ctx context.Context, sess *core.PeerSession, c *WsSignalConn) {
	sid := sess.ID()
	defer func() {
		log.Info().Str("module", "signal").Str("sid", string(sid)).Msg("readPump closing")
		ctl.Orch.Disconnect(sid, sess)
		ctl.Limiter.Forget(sid)
		c.Close()
	}()

	pongWait := ctl.opts.PingPeriod * 10 / 9
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		select {
		case <-ctx.Done():
			log.Info().Str("module", "signal").Str("sid", string(sid)).Msg("readPump ctx done")
			return
		default:
			_, data, err := c.conn.ReadMessage()
			if err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
					log.Error().Err(err).Str("module", "signal").Str("sid", string(sid)).Msg("readPump read error")
				}
				return
			}
			ctl.handleSignal(ctx, sess, c, data)
		}
	}
}

func (ctl *SignalWSController) handleSignal(ctx context.Context, sess *core.PeerSession, c core.SignalConnection, data []byte) {
	env, err := domain.Decode(data)
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Str("sid", string(sess.ID())).Msg("bad json")
		return
	}

	switch env.Type {
	case domain.MsgJoin:
		ctl.handleJoin(sess, env)
	case domain.MsgLeave:
		ctl.handleLeave(sess, env)
	case domain.MsgChat:
		ctl.handleChat(sess, env)
	case domain.MsgSetName:
		ctl.handleSetName(sess, env)
	case domain.MsgSetHandle:
		ctl.handleSetHandle(sess, env)
	case domain.MsgSetAvatar:
		ctl.handleSetAvatar(sess, env)
	case domain.MsgSetGrounded:
		ctl.handleSetGrounded(sess, env)
	case domain.MsgTransportCreate:
		ctl.handleTransportCreate(ctx, sess, c, env)
	case domain.MsgTransportConnect:
		ctl.handleTransportConnect(sess, c, env)
	case domain.MsgTransportAnswer:
		ctl.handleTransportAnswer(sess, env)
	case domain.MsgTransportCandidate:
		ctl.handleCandidate(sess, env)
	case domain.MsgRtpCapabilities:
		ctl.handleRtpCapabilities(sess, env)
	case domain.MsgProduce:
		ctl.handleProduce(sess, env)
	case domain.MsgProduceData:
		ctl.handleProduceData(sess, env)
	case domain.MsgSetPaused:
		ctl.handleSetPaused(sess, env)
	case domain.MsgPing:
		ctl.handlePing(c)
	default:
		log.Warn().Str("module", "signal").Str("type", env.Type).Msg("unknown signal")
	}
}

func (ctl *SignalWSController) send(c core.SignalConnection, typ string, v any) {
	b, err := domain.Encode(typ, v)
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("send marshal")
		return
	}
	if err := c.TrySend(b); err != nil {
		log.Warn().Err(err).Str("module", "signal").Str("type", typ).Msg("send dropped")
	}
}

func badPayload(sess *core.PeerSession, err error) {
	log.Warn().Err(err).Str("module", "signal").Str("sid", string(sess.ID())).Msg("bad payload")
}
