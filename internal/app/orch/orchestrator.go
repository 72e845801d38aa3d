package orch

import (
	"context"
	"fmt"

	"github.com/dkeye/Space/internal/app"
	"github.com/dkeye/Space/internal/core"
	"github.com/dkeye/Space/internal/metrics"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

type Orchestrator struct {
	Registry *app.Registry
	Rooms    *core.RoomRegistry
	Engine   core.MediaEngine
}

func New(rooms *core.RoomRegistry, engine core.MediaEngine) *Orchestrator {
	return &Orchestrator{
		Registry: app.NewRegistry(),
		Rooms:    rooms,
		Engine:   engine,
	}
}

// Connect creates the session of a new signaling connection. An older
// session with the same id is closed first.
func (o *Orchestrator) Connect(ctx context.Context, sid core.SessionID, conn core.SignalConnection) (*core.PeerSession, context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	sess := core.NewPeerSession(ctx, sid, conn, o.Rooms)
	old, oldCancel := o.Registry.Bind(sid, sess, cancel)
	metrics.Sessions.Inc()
	if old != nil {
		log.Info().Str("module", "orch").Str("sid", string(sid)).Msg("replacing previous session")
		if oldCancel != nil {
			oldCancel()
		}
		metrics.Sessions.Dec()
		old.Close()
	}
	return sess, ctx
}

// Disconnect closes sess; the directory entry is only dropped when it still
// belongs to sess.
func (o *Orchestrator) Disconnect(sid core.SessionID, sess *core.PeerSession) {
	if o.Registry.Unbind(sid, sess) {
		metrics.Sessions.Dec()
	}
	sess.Close()
}

// Kick cancels the connection context of sid; the signaling layer then
// disconnects it.
func (o *Orchestrator) Kick(sid core.SessionID) bool {
	return o.Registry.Cancel(sid)
}

// Shutdown closes every session concurrently, which empties and removes
// every room.
func (o *Orchestrator) Shutdown(ctx context.Context) error {
	sessions := o.Registry.Drain()
	log.Info().Str("module", "orch").Int("sessions", len(sessions)).Msg("shutdown")

	done := make(chan error, 1)
	go func() {
		var g errgroup.Group
		g.SetLimit(32)
		for _, sess := range sessions {
			g.Go(func() error {
				metrics.Sessions.Dec()
				sess.Close()
				return nil
			})
		}
		done <- g.Wait()
	}()

	select {
	case err := <-done:
		if n := o.Rooms.Len(); n > 0 {
			return fmt.Errorf("shutdown: %d rooms left", n)
		}
		return err
	case <-ctx.Done():
		return fmt.Errorf("shutdown: %w", ctx.Err())
	}
}
