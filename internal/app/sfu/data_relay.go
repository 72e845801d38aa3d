package sfu

import (
	"maps"
	"sync"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// DataSender is satisfied by *webrtc.DataChannel.
type DataSender interface {
	Send(data []byte) error
	SendText(s string) error
}

// DataRelay copies messages of one producer data channel to the data
// channels of every consumer. Unlike RTP there is no read loop: the
// producer channel pushes messages through Forward.
type DataRelay struct {
	log zerolog.Logger

	mu      sync.RWMutex
	outs    map[string]DataSender
	stopped bool
}

func NewDataRelay(producerID string) *DataRelay {
	return &DataRelay{
		log:  log.With().Str("module", "data_relay").Str("producer", producerID).Logger(),
		outs: make(map[string]DataSender),
	}
}

func (r *DataRelay) AddSubscriber(consumerID string, out DataSender) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.stopped {
		return false
	}
	r.outs[consumerID] = out
	return true
}

func (r *DataRelay) RemoveSubscriber(consumerID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.outs, consumerID)
}

func (r *DataRelay) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.outs)
}

// Forward sends one message to every subscriber. A subscriber that fails to
// send is dropped.
func (r *DataRelay) Forward(data []byte, isString bool) {
	r.mu.RLock()
	if r.stopped {
		r.mu.RUnlock()
		return
	}
	snapshot := make(map[string]DataSender, len(r.outs))
	maps.Copy(snapshot, r.outs)
	r.mu.RUnlock()

	var dirty []string
	for id, out := range snapshot {
		var err error
		if isString {
			err = out.SendText(string(data))
		} else {
			err = out.Send(data)
		}
		if err != nil {
			r.log.Warn().Err(err).Str("consumer", id).Msg("data relay send failed, dropping subscriber")
			dirty = append(dirty, id)
		}
	}
	if len(dirty) == 0 {
		return
	}
	r.mu.Lock()
	for _, id := range dirty {
		delete(r.outs, id)
	}
	r.mu.Unlock()
}

func (r *DataRelay) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stopped = true
	clear(r.outs)
}
