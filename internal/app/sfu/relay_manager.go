package sfu

import (
	"context"
	"sync"

	"github.com/rs/zerolog/log"
)

// RelayManager indexes relays by producer id.
type RelayManager struct {
	mu     sync.RWMutex
	relays map[string]*Relay
}

func NewRelayManager() *RelayManager {
	return &RelayManager{
		relays: make(map[string]*Relay),
	}
}

// StartRelay creates a new Relay for the given producer and starts its loop.
func (m *RelayManager) StartRelay(ctx context.Context, producerID string, track RTPReader) *Relay {
	logger := log.With().
		Str("module", "relay").
		Str("producer", producerID).
		Logger()

	relayCtx, cancel := context.WithCancel(ctx)
	relay := NewRelay(track, cancel)

	m.mu.Lock()
	if old, ok := m.relays[producerID]; ok {
		logger.Info().Msg("replacing existing relay for producer")
		old.Stop()
	}
	m.relays[producerID] = relay
	m.mu.Unlock()

	logger.Info().Msg("starting relay loop")

	go relay.loop(relayCtx, &logger)
	return relay
}

// AddSubscriber attaches an OutTrack for consumerID to the relay of producerID.
func (m *RelayManager) AddSubscriber(producerID, consumerID string, localTrack RTPWriter) (*OutTrack, bool) {
	m.mu.RLock()
	relay, ok := m.relays[producerID]
	m.mu.RUnlock()
	if !ok {
		return nil, false
	}
	ot := NewOutTrack(localTrack)
	relay.AddOutTrack(consumerID, ot)
	return ot, true
}

// MarkSubscriberDelete marks the consumer's OutTrack as TrackStateDelete.
func (m *RelayManager) MarkSubscriberDelete(producerID, consumerID string) {
	m.mu.RLock()
	relay, ok := m.relays[producerID]
	m.mu.RUnlock()
	if !ok {
		return
	}

	relay.mu.RLock()
	ot, ok := relay.outTracks[consumerID]
	relay.mu.RUnlock()
	if !ok {
		return
	}
	ot.MarkDelete()
}

// StopRelay stops a relay and removes it from the manager.
func (m *RelayManager) StopRelay(producerID string) {
	m.mu.Lock()
	relay, ok := m.relays[producerID]
	if ok {
		delete(m.relays, producerID)
	}
	m.mu.Unlock()
	if !ok {
		return
	}
	relay.Stop()
}

// HasRelay reports whether a relay exists for the producer.
func (m *RelayManager) HasRelay(producerID string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.relays[producerID]
	return ok
}

// StopAll stops every relay, used on shutdown.
func (m *RelayManager) StopAll() {
	m.mu.Lock()
	relays := m.relays
	m.relays = make(map[string]*Relay)
	m.mu.Unlock()
	for _, r := range relays {
		r.Stop()
	}
}
