package core

// Frame is a raw serialized signaling message.
type Frame []byte

// SignalConnection abstracts for a system messaging transport
// Owned by the adapter; the adapter must Close() it.
type SignalConnection interface {
	TrySend(Frame) error
	// Subscribe adds the connection to a broadcast topic.
	Subscribe(topic string)
	Unsubscribe(topic string)
	Close()
}

// Publisher delivers a frame to every connection subscribed to a topic.
type Publisher interface {
	Publish(topic string, f Frame) PublishResult
}

// PublishResult reports delivery stats/backpressure to the caller.
type PublishResult struct {
	SendTo  int
	Dropped []SignalConnection
}
