package orch

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/dkeye/Space/internal/core"
	"github.com/dkeye/Space/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type nopPublisher struct{}

func (nopPublisher) Publish(string, core.Frame) core.PublishResult { return core.PublishResult{} }

type nopConn struct{}

func (nopConn) TrySend(core.Frame) error { return nil }
func (nopConn) Subscribe(string)         {}
func (nopConn) Unsubscribe(string)       {}
func (nopConn) Close()                   {}

type stubTransport struct {
	id     string
	kind   domain.TransportKind
	mu     sync.Mutex
	closed bool
}

func (t *stubTransport) ID() string                 { return t.id }
func (t *stubTransport) Kind() domain.TransportKind { return t.kind }

func (t *stubTransport) Produce(context.Context, domain.RtpParameters) (core.Producer, error) {
	return nil, errors.New("unsupported")
}

func (t *stubTransport) ProduceData(context.Context, domain.SctpStreamParameters) (core.DataProducer, error) {
	return nil, errors.New("unsupported")
}

func (t *stubTransport) Consume(context.Context, core.Producer, domain.RtpCapabilities) (core.Consumer, error) {
	return nil, errors.New("unsupported")
}

func (t *stubTransport) ConsumeData(context.Context, core.DataProducer) (core.DataConsumer, error) {
	return nil, errors.New("unsupported")
}

func (t *stubTransport) Close() error {
	t.mu.Lock()
	t.closed = true
	t.mu.Unlock()
	return nil
}

func (t *stubTransport) Closed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closed
}

type stubEngine struct {
	fail error
}

func (e stubEngine) NewTransport(_ context.Context, sid core.SessionID, kind domain.TransportKind) (core.Transport, error) {
	if e.fail != nil {
		return nil, e.fail
	}
	return &stubTransport{id: string(sid) + "-" + string(kind), kind: kind}, nil
}

func (stubEngine) ICEServers() []string { return []string{"stun:stun.example.org:3478"} }

func (stubEngine) RtpCapabilities() domain.RtpCapabilities {
	return domain.RtpCapabilities{Codecs: []domain.RtpCodec{{MimeType: "audio/opus", ClockRate: 48000, Channels: 2}}}
}

func newTestOrch(engine core.MediaEngine) *Orchestrator {
	return New(core.NewRoomRegistry(nopPublisher{}), engine)
}

func TestConnectReplacesOlderSession(t *testing.T) {
	o := newTestOrch(nil)
	old, oldCtx := o.Connect(context.Background(), "sid", nopConn{})
	_, err := old.Join("alpha")
	require.NoError(t, err)

	cur, _ := o.Connect(context.Background(), "sid", nopConn{})
	assert.Error(t, oldCtx.Err(), "old connection context is canceled")
	_, err = old.Join("alpha")
	assert.ErrorIs(t, err, core.ErrSessionClosed)
	assert.Empty(t, o.ListRooms())

	got, ok := o.Registry.GetSession("sid")
	require.True(t, ok)
	assert.Same(t, cur, got)

	// a late disconnect of the replaced session leaves the new one bound
	o.Disconnect("sid", old)
	got, ok = o.Registry.GetSession("sid")
	require.True(t, ok)
	assert.Same(t, cur, got)

	o.Disconnect("sid", cur)
	assert.Zero(t, o.Registry.Len())
}

func TestKickCancelsConnection(t *testing.T) {
	o := newTestOrch(nil)
	sess, ctx := o.Connect(context.Background(), "sid", nopConn{})
	t.Cleanup(func() { o.Disconnect("sid", sess) })

	assert.False(t, o.Kick("nobody"))
	assert.True(t, o.Kick("sid"))
	select {
	case <-ctx.Done():
	case <-time.After(time.Second):
		t.Fatal("context not canceled")
	}
}

func TestShutdownEmptiesEverything(t *testing.T) {
	o := newTestOrch(nil)
	for _, sid := range []core.SessionID{"a", "b", "c"} {
		sess, _ := o.Connect(context.Background(), sid, nopConn{})
		_, err := sess.Join("alpha")
		require.NoError(t, err)
		_, err = sess.Join(domain.RoomURI("own-" + string(sid)))
		require.NoError(t, err)
	}
	require.Len(t, o.ListRooms(), 4)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, o.Shutdown(ctx))
	assert.Zero(t, o.Registry.Len())
	assert.Zero(t, o.Rooms.Len())
}

func TestEvictRoom(t *testing.T) {
	o := newTestOrch(nil)
	a, _ := o.Connect(context.Background(), "a", nopConn{})
	b, _ := o.Connect(context.Background(), "b", nopConn{})
	t.Cleanup(func() {
		o.Disconnect("a", a)
		o.Disconnect("b", b)
	})
	for _, s := range []*core.PeerSession{a, b} {
		_, err := s.Join("alpha")
		require.NoError(t, err)
	}
	_, err := a.Join("beta")
	require.NoError(t, err)

	players, ok := o.RoomPlayers("alpha")
	require.True(t, ok)
	assert.Len(t, players, 2)

	assert.Equal(t, 2, o.EvictRoom("alpha"))
	assert.Zero(t, o.EvictRoom("alpha"))
	_, ok = o.RoomPlayers("alpha")
	assert.False(t, ok)
	assert.Equal(t, []domain.RoomURI{"beta"}, a.Rooms(), "other rooms are untouched")
}

func TestOpenTransport(t *testing.T) {
	o := newTestOrch(stubEngine{})
	sess, _ := o.Connect(context.Background(), "a", nopConn{})
	t.Cleanup(func() { o.Disconnect("a", sess) })

	var boundBefore bool
	tr, err := o.OpenTransport(context.Background(), sess, domain.TransportConsumer, func(core.Transport) {
		boundBefore = sess.Transport(domain.TransportConsumer) == nil
	})
	require.NoError(t, err)
	assert.True(t, boundBefore, "bind runs before the session sees the transport")
	assert.Same(t, tr, sess.Transport(domain.TransportConsumer))
	assert.Equal(t, "audio/opus", o.RtpCapabilities().Codecs[0].MimeType)
	assert.Equal(t, []string{"stun:stun.example.org:3478"}, o.ICEServers())

	// a second transport of the same kind replaces the first
	next, err := o.OpenTransport(context.Background(), sess, domain.TransportConsumer, nil)
	require.NoError(t, err)
	assert.True(t, tr.Closed())
	assert.Same(t, next, sess.Transport(domain.TransportConsumer))
}

func TestOpenTransportErrors(t *testing.T) {
	boom := errors.New("boom")
	o := newTestOrch(stubEngine{fail: boom})
	sess, _ := o.Connect(context.Background(), "a", nopConn{})
	t.Cleanup(func() { o.Disconnect("a", sess) })

	_, err := o.OpenTransport(context.Background(), sess, domain.TransportProducer, nil)
	assert.ErrorIs(t, err, boom)
	assert.Nil(t, sess.Transport(domain.TransportProducer))

	_, err = newTestOrch(nil).OpenTransport(context.Background(), sess, domain.TransportProducer, nil)
	assert.Error(t, err)
	assert.Empty(t, newTestOrch(nil).RtpCapabilities().Codecs)
	assert.Nil(t, newTestOrch(nil).ICEServers())
}
