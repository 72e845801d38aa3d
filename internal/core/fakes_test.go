package core

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/dkeye/Space/internal/domain"
	"github.com/stretchr/testify/require"
)

type fakeHub struct {
	mu     sync.Mutex
	topics map[string]map[*fakeConn]struct{}
}

func newFakeHub() *fakeHub {
	return &fakeHub{topics: make(map[string]map[*fakeConn]struct{})}
}

func (h *fakeHub) Publish(topic string, f Frame) PublishResult {
	h.mu.Lock()
	subs := make([]*fakeConn, 0, len(h.topics[topic]))
	for c := range h.topics[topic] {
		subs = append(subs, c)
	}
	h.mu.Unlock()
	res := PublishResult{}
	for _, c := range subs {
		if err := c.TrySend(f); err != nil {
			res.Dropped = append(res.Dropped, c)
			continue
		}
		res.SendTo++
	}
	return res
}

type fakeConn struct {
	hub *fakeHub

	mu     sync.Mutex
	frames []Frame
	topics map[string]bool
	closed bool
	// unsubscribes counts Unsubscribe calls per topic
	unsubscribes map[string]int
}

func newFakeConn(hub *fakeHub) *fakeConn {
	return &fakeConn{hub: hub, topics: make(map[string]bool), unsubscribes: make(map[string]int)}
}

func (c *fakeConn) TrySend(f Frame) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return errors.New("closed")
	}
	c.frames = append(c.frames, f)
	return nil
}

func (c *fakeConn) Subscribe(topic string) {
	c.hub.mu.Lock()
	if c.hub.topics[topic] == nil {
		c.hub.topics[topic] = make(map[*fakeConn]struct{})
	}
	c.hub.topics[topic][c] = struct{}{}
	c.hub.mu.Unlock()
	c.mu.Lock()
	c.topics[topic] = true
	c.mu.Unlock()
}

func (c *fakeConn) Unsubscribe(topic string) {
	c.hub.mu.Lock()
	delete(c.hub.topics[topic], c)
	c.hub.mu.Unlock()
	c.mu.Lock()
	delete(c.topics, topic)
	c.unsubscribes[topic]++
	c.mu.Unlock()
}

func (c *fakeConn) Close() {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
}

func (c *fakeConn) subscribed(topic string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.topics[topic]
}

// messages returns the envelopes received with the given type.
func (c *fakeConn) messages(t *testing.T, typ string) []domain.Envelope {
	t.Helper()
	c.mu.Lock()
	frames := append([]Frame(nil), c.frames...)
	c.mu.Unlock()
	var out []domain.Envelope
	for _, f := range frames {
		env, err := domain.Decode(f)
		require.NoError(t, err)
		if env.Type == typ {
			out = append(out, env)
		}
	}
	return out
}

func (c *fakeConn) unsubscribeCount(topic string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.unsubscribes[topic]
}

// all returns every envelope received, in order.
func (c *fakeConn) all(t *testing.T) []domain.Envelope {
	t.Helper()
	c.mu.Lock()
	frames := append([]Frame(nil), c.frames...)
	c.mu.Unlock()
	out := make([]domain.Envelope, 0, len(frames))
	for _, f := range frames {
		env, err := domain.Decode(f)
		require.NoError(t, err)
		out = append(out, env)
	}
	return out
}

// roster replays player_join and player_leave events in arrival order and
// returns the slots the connection believes are present.
func (c *fakeConn) roster(t *testing.T) []domain.Slot {
	t.Helper()
	present := make(map[domain.Slot]bool)
	for _, env := range c.all(t) {
		switch env.Type {
		case "player_join":
			present[slotOf(t, env)] = true
		case "player_leave":
			delete(present, slotOf(t, env))
		}
	}
	out := make([]domain.Slot, 0, len(present))
	for slot := range present {
		out = append(out, slot)
	}
	slices.Sort(out)
	return out
}

func (c *fakeConn) reset() {
	c.mu.Lock()
	c.frames = nil
	c.mu.Unlock()
}

var fakeIDs atomic.Int64

func nextID(prefix string) string {
	return fmt.Sprintf("%s-%d", prefix, fakeIDs.Add(1))
}

type fakeProducer struct {
	id     string
	closed atomic.Bool
}

func newFakeProducer() *fakeProducer { return &fakeProducer{id: nextID("producer")} }

func (p *fakeProducer) ID() string   { return p.id }
func (p *fakeProducer) Close() error { p.closed.Store(true); return nil }
func (p *fakeProducer) Closed() bool { return p.closed.Load() }

type fakeDataProducer struct {
	id     string
	closed atomic.Bool
}

func newFakeDataProducer() *fakeDataProducer { return &fakeDataProducer{id: nextID("data-producer")} }

func (p *fakeDataProducer) ID() string    { return p.id }
func (p *fakeDataProducer) Label() string { return "position" }
func (p *fakeDataProducer) Close() error  { p.closed.Store(true); return nil }
func (p *fakeDataProducer) Closed() bool  { return p.closed.Load() }

type fakeConsumer struct {
	id         string
	producerID string
	paused     atomic.Bool
	closed     atomic.Bool
}

func (c *fakeConsumer) ID() string                          { return c.id }
func (c *fakeConsumer) ProducerID() string                  { return c.producerID }
func (c *fakeConsumer) RtpParameters() domain.RtpParameters { return domain.RtpParameters{TrackID: c.id} }
func (c *fakeConsumer) Pause() error                        { c.paused.Store(true); return nil }
func (c *fakeConsumer) Resume() error                       { c.paused.Store(false); return nil }
func (c *fakeConsumer) Paused() bool                        { return c.paused.Load() }
func (c *fakeConsumer) Close() error                        { c.closed.Store(true); return nil }
func (c *fakeConsumer) Closed() bool                        { return c.closed.Load() }

type fakeDataConsumer struct {
	id         string
	producerID string
	closed     atomic.Bool
}

func (c *fakeDataConsumer) ID() string             { return c.id }
func (c *fakeDataConsumer) DataProducerID() string { return c.producerID }
func (c *fakeDataConsumer) SctpStreamParameters() domain.SctpStreamParameters {
	return domain.SctpStreamParameters{Label: "position"}
}
func (c *fakeDataConsumer) Close() error { c.closed.Store(true); return nil }
func (c *fakeDataConsumer) Closed() bool { return c.closed.Load() }

// fakeTransport records every engine call. When gate is set, consume calls
// block until it is closed.
type fakeTransport struct {
	id   string
	kind domain.TransportKind
	gate chan struct{}
	fail error

	mu            sync.Mutex
	consumed      []string
	consumedData  []string
	consumers     []*fakeConsumer
	dataConsumers []*fakeDataConsumer
	closed        atomic.Bool
}

func newFakeTransport(kind domain.TransportKind) *fakeTransport {
	return &fakeTransport{id: nextID("transport"), kind: kind}
}

func (t *fakeTransport) ID() string                 { return t.id }
func (t *fakeTransport) Kind() domain.TransportKind { return t.kind }
func (t *fakeTransport) Close() error               { t.closed.Store(true); return nil }
func (t *fakeTransport) Closed() bool               { return t.closed.Load() }

func (t *fakeTransport) Produce(_ context.Context, _ domain.RtpParameters) (Producer, error) {
	if t.fail != nil {
		return nil, t.fail
	}
	return newFakeProducer(), nil
}

func (t *fakeTransport) ProduceData(_ context.Context, _ domain.SctpStreamParameters) (DataProducer, error) {
	if t.fail != nil {
		return nil, t.fail
	}
	return newFakeDataProducer(), nil
}

func (t *fakeTransport) wait(ctx context.Context) error {
	if t.gate == nil {
		return nil
	}
	select {
	case <-t.gate:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (t *fakeTransport) Consume(ctx context.Context, p Producer, _ domain.RtpCapabilities) (Consumer, error) {
	t.mu.Lock()
	t.consumed = append(t.consumed, p.ID())
	t.mu.Unlock()
	if err := t.wait(ctx); err != nil {
		return nil, err
	}
	if t.fail != nil {
		return nil, t.fail
	}
	c := &fakeConsumer{id: nextID("consumer"), producerID: p.ID()}
	t.mu.Lock()
	t.consumers = append(t.consumers, c)
	t.mu.Unlock()
	return c, nil
}

func (t *fakeTransport) ConsumeData(ctx context.Context, dp DataProducer) (DataConsumer, error) {
	t.mu.Lock()
	t.consumedData = append(t.consumedData, dp.ID())
	t.mu.Unlock()
	if err := t.wait(ctx); err != nil {
		return nil, err
	}
	if t.fail != nil {
		return nil, t.fail
	}
	c := &fakeDataConsumer{id: nextID("data-consumer"), producerID: dp.ID()}
	t.mu.Lock()
	t.dataConsumers = append(t.dataConsumers, c)
	t.mu.Unlock()
	return c, nil
}

func (t *fakeTransport) consumeCalls() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]string(nil), t.consumed...)
}

func (t *fakeTransport) consumeDataCalls() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]string(nil), t.consumedData...)
}

func (t *fakeTransport) created() []*fakeConsumer {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]*fakeConsumer(nil), t.consumers...)
}

// seqPicker yields the given slots in order and then counts upwards.
func seqPicker(slots ...domain.Slot) SlotPicker {
	var mu sync.Mutex
	i := 0
	next := domain.Slot(0)
	return func() domain.Slot {
		mu.Lock()
		defer mu.Unlock()
		if i < len(slots) {
			s := slots[i]
			i++
			return s
		}
		s := next
		next++
		return s
	}
}

var opusCaps = domain.RtpCapabilities{Codecs: []domain.RtpCodec{{MimeType: "audio/opus", ClockRate: 48000, Channels: 2}}}

type harness struct {
	t        *testing.T
	hub      *fakeHub
	registry *RoomRegistry
}

func newHarness(t *testing.T, opts ...RegistryOption) *harness {
	hub := newFakeHub()
	return &harness{t: t, hub: hub, registry: NewRoomRegistry(hub, opts...)}
}

func (h *harness) session(name string) (*PeerSession, *fakeConn) {
	conn := newFakeConn(h.hub)
	s := NewPeerSession(context.Background(), SessionID(name), conn, h.registry)
	h.t.Cleanup(s.Close)
	return s, conn
}

// mediaReady gives s a consumer transport and receive capabilities.
func mediaReady(t *testing.T, s *PeerSession) *fakeTransport {
	t.Helper()
	tr := newFakeTransport(domain.TransportConsumer)
	require.NoError(t, s.SetTransport(domain.TransportConsumer, tr))
	s.SetRtpCapabilities(opusCaps)
	return tr
}

func slotOf(t *testing.T, env domain.Envelope) domain.Slot {
	t.Helper()
	v, err := domain.DecodeData[struct {
		Slot domain.Slot `json:"slot"`
	}](env)
	require.NoError(t, err)
	return v.Slot
}
