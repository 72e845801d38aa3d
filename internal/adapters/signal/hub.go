package signal

import (
	"sync"

	"github.com/dkeye/Space/internal/app"
	"github.com/dkeye/Space/internal/core"
	"github.com/rs/zerolog/log"
)

// Hub is the topic pub/sub of signaling connections. Rooms publish to
// "room/<uri>"; sessions keep their connection subscribed while joined.
type Hub struct {
	policy app.Policy

	mu     sync.RWMutex
	topics map[string]map[core.SignalConnection]struct{}
	byConn map[core.SignalConnection]map[string]struct{}
}

var _ core.Publisher = (*Hub)(nil)

func NewHub(policy app.Policy) *Hub {
	if policy == nil {
		policy = app.SimplePolicy{}
	}
	return &Hub{
		policy: policy,
		topics: make(map[string]map[core.SignalConnection]struct{}),
		byConn: make(map[core.SignalConnection]map[string]struct{}),
	}
}

func (h *Hub) Subscribe(topic string, c core.SignalConnection) {
	h.mu.Lock()
	defer h.mu.Unlock()
	subs, ok := h.topics[topic]
	if !ok {
		subs = make(map[core.SignalConnection]struct{})
		h.topics[topic] = subs
	}
	subs[c] = struct{}{}
	mine, ok := h.byConn[c]
	if !ok {
		mine = make(map[string]struct{})
		h.byConn[c] = mine
	}
	mine[topic] = struct{}{}
}

func (h *Hub) Unsubscribe(topic string, c core.SignalConnection) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.unsubscribeLocked(topic, c)
}

func (h *Hub) unsubscribeLocked(topic string, c core.SignalConnection) {
	if subs, ok := h.topics[topic]; ok {
		delete(subs, c)
		if len(subs) == 0 {
			delete(h.topics, topic)
		}
	}
	if mine, ok := h.byConn[c]; ok {
		delete(mine, topic)
		if len(mine) == 0 {
			delete(h.byConn, c)
		}
	}
}

// UnsubscribeAll drops every subscription of c.
func (h *Hub) UnsubscribeAll(c core.SignalConnection) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for topic := range h.byConn[c] {
		h.unsubscribeLocked(topic, c)
	}
}

func (h *Hub) Subscribers(topic string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.topics[topic])
}

// Publish delivers f to every subscriber of topic without blocking.
// Subscribers whose buffer is full are handed to the policy.
func (h *Hub) Publish(topic string, f core.Frame) core.PublishResult {
	h.mu.RLock()
	subs := make([]core.SignalConnection, 0, len(h.topics[topic]))
	for c := range h.topics[topic] {
		subs = append(subs, c)
	}
	h.mu.RUnlock()

	var res core.PublishResult
	for _, c := range subs {
		if err := c.TrySend(f); err != nil {
			res.Dropped = append(res.Dropped, c)
			continue
		}
		res.SendTo++
	}

	for _, slow := range res.Dropped {
		action := h.policy.OnBackPressure(topic, slow)
		log.Warn().Str("module", "signal.hub").Str("topic", topic).Stringer("action", action).Msg("backpressure")
		switch action {
		case app.KickMember:
			slow.Close()
		case app.MarkSlow, app.DropFrame, app.NoAction:
		}
	}
	return res
}
