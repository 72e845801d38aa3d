package core

import (
	"context"

	"github.com/dkeye/Space/internal/domain"
)

// MediaEngine creates transports. Everything past transport creation goes
// through the Transport itself.
type MediaEngine interface {
	NewTransport(ctx context.Context, sid SessionID, kind domain.TransportKind) (Transport, error)
	RtpCapabilities() domain.RtpCapabilities
	// ICEServers are the STUN/TURN urls clients should use.
	ICEServers() []string
}

// Transport is one media connection of a session. A producer-side transport
// receives the client's media; a consumer-side transport sends media of other
// peers to the client. All operations may block on the engine.
type Transport interface {
	ID() string
	Kind() domain.TransportKind
	Produce(ctx context.Context, params domain.RtpParameters) (Producer, error)
	ProduceData(ctx context.Context, params domain.SctpStreamParameters) (DataProducer, error)
	Consume(ctx context.Context, producer Producer, caps domain.RtpCapabilities) (Consumer, error)
	ConsumeData(ctx context.Context, producer DataProducer) (DataConsumer, error)
	Close() error
	Closed() bool
}

type Producer interface {
	ID() string
	Close() error
	Closed() bool
}

type DataProducer interface {
	ID() string
	Label() string
	Close() error
	Closed() bool
}

// Consumer is one forwarded stream. Pause and Resume must not block.
type Consumer interface {
	ID() string
	ProducerID() string
	RtpParameters() domain.RtpParameters
	Pause() error
	Resume() error
	Paused() bool
	Close() error
	Closed() bool
}

type DataConsumer interface {
	ID() string
	DataProducerID() string
	SctpStreamParameters() domain.SctpStreamParameters
	Close() error
	Closed() bool
}
