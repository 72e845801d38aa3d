package signal

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/dkeye/Space/internal/core"
	"github.com/dkeye/Space/internal/domain"
	"github.com/stretchr/testify/require"
)

// testConn is an in-memory signaling connection attached to a Hub.
type testConn struct {
	hub *Hub
	cap int

	mu     sync.Mutex
	frames []core.Frame
	closed bool
}

func newTestConn(hub *Hub, capacity int) *testConn {
	return &testConn{hub: hub, cap: capacity}
}

func (c *testConn) TrySend(f core.Frame) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrConnClosed
	}
	if c.cap > 0 && len(c.frames) >= c.cap {
		return ErrBackpressure
	}
	c.frames = append(c.frames, f)
	return nil
}

func (c *testConn) Subscribe(topic string)   { c.hub.Subscribe(topic, c) }
func (c *testConn) Unsubscribe(topic string) { c.hub.Unsubscribe(topic, c) }

func (c *testConn) Close() {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	c.hub.UnsubscribeAll(c)
}

func (c *testConn) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *testConn) messages(t *testing.T, typ string) []domain.Envelope {
	t.Helper()
	c.mu.Lock()
	frames := append([]core.Frame(nil), c.frames...)
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

func frame(t *testing.T, typ string, data any) []byte {
	t.Helper()
	b, err := domain.Encode(typ, data)
	require.NoError(t, err)
	return b
}

// negTransport is a media transport that records signaling calls.
type negTransport struct {
	id   string
	kind domain.TransportKind

	mu         sync.Mutex
	onICE      func(domain.CandidateMessage)
	onOffer    func(string)
	answers    []string
	candidates []domain.CandidateMessage
	closed     bool
}

func (t *negTransport) ID() string                 { return t.id }
func (t *negTransport) Kind() domain.TransportKind { return t.kind }

func (t *negTransport) Produce(context.Context, domain.RtpParameters) (core.Producer, error) {
	return nil, errors.New("not supported")
}

func (t *negTransport) ProduceData(context.Context, domain.SctpStreamParameters) (core.DataProducer, error) {
	return nil, errors.New("not supported")
}

func (t *negTransport) Consume(context.Context, core.Producer, domain.RtpCapabilities) (core.Consumer, error) {
	return nil, errors.New("not supported")
}

func (t *negTransport) ConsumeData(context.Context, core.DataProducer) (core.DataConsumer, error) {
	return nil, errors.New("not supported")
}

func (t *negTransport) Close() error {
	t.mu.Lock()
	t.closed = true
	t.mu.Unlock()
	return nil
}

func (t *negTransport) Closed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closed
}

func (t *negTransport) ApplyOffer(sdp string) (string, error) { return "answer:" + sdp, nil }

func (t *negTransport) ApplyAnswer(sdp string) error {
	t.mu.Lock()
	t.answers = append(t.answers, sdp)
	t.mu.Unlock()
	return nil
}

func (t *negTransport) AddICECandidate(c domain.CandidateMessage) error {
	t.mu.Lock()
	t.candidates = append(t.candidates, c)
	t.mu.Unlock()
	return nil
}

func (t *negTransport) OnICECandidate(fn func(domain.CandidateMessage)) {
	t.mu.Lock()
	t.onICE = fn
	t.mu.Unlock()
}

func (t *negTransport) OnOffer(fn func(string)) {
	t.mu.Lock()
	t.onOffer = fn
	t.mu.Unlock()
}

type negEngine struct {
	ice []string

	mu         sync.Mutex
	transports []*negTransport
}

func (e *negEngine) NewTransport(_ context.Context, _ core.SessionID, kind domain.TransportKind) (core.Transport, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	t := &negTransport{id: fmt.Sprintf("t%d", len(e.transports)+1), kind: kind}
	e.transports = append(e.transports, t)
	return t, nil
}

func (e *negEngine) RtpCapabilities() domain.RtpCapabilities { return domain.RtpCapabilities{} }
func (e *negEngine) ICEServers() []string                    { return e.ice }
