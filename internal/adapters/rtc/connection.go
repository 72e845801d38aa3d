package rtc

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/dkeye/Space/internal/core"
	"github.com/dkeye/Space/internal/domain"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Transport wraps one PeerConnection. The client offers on a producer
// transport; on a consumer transport the server offers whenever tracks or
// data channels are added.
type Transport struct {
	pc     *webrtc.PeerConnection
	engine *Engine
	id     string
	sid    core.SessionID
	kind   domain.TransportKind
	log    zerolog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	closed atomic.Bool

	mu       sync.Mutex
	tracks   []incomingTrack
	channels []*webrtc.DataChannel
	arrived  chan struct{} // closed and replaced whenever a track or channel arrives
	onICE    func(domain.CandidateMessage)
	onOffer  func(sdp string)

	// serializes offer/answer exchanges
	negMu sync.Mutex
}

type incomingTrack struct {
	track *webrtc.TrackRemote
	mid   string
	taken bool
}

var _ core.Transport = (*Transport)(nil)

func newTransport(ctx context.Context, e *Engine, pc *webrtc.PeerConnection, id string, sid core.SessionID, kind domain.TransportKind) *Transport {
	ctx, cancel := context.WithCancel(ctx)
	return &Transport{
		pc:      pc,
		engine:  e,
		id:      id,
		sid:     sid,
		kind:    kind,
		log:     log.With().Str("module", "webrtc").Str("sid", string(sid)).Str("kind", string(kind)).Logger(),
		ctx:     ctx,
		cancel:  cancel,
		arrived: make(chan struct{}),
	}
}

func (t *Transport) start() {
	t.pc.OnICEConnectionStateChange(func(s webrtc.ICEConnectionState) {
		t.log.Info().Str("ice_state", s.String()).Msg("ICE state")
	})

	t.pc.OnConnectionStateChange(func(s webrtc.PeerConnectionState) {
		t.log.Info().Str("peer_connection_state", s.String()).Msg("Peer state")
		if s == webrtc.PeerConnectionStateFailed || s == webrtc.PeerConnectionStateClosed {
			t.cancel()
		}
	})

	t.pc.OnICECandidate(func(cand *webrtc.ICECandidate) {
		if cand == nil {
			return
		}
		t.mu.Lock()
		fn := t.onICE
		t.mu.Unlock()
		if fn == nil {
			return
		}
		init := cand.ToJSON()
		fn(domain.CandidateMessage{
			Kind:          t.kind,
			Candidate:     init.Candidate,
			SDPMid:        init.SDPMid,
			SDPMLineIndex: init.SDPMLineIndex,
		})
	})

	t.pc.OnTrack(func(track *webrtc.TrackRemote, receiver *webrtc.RTPReceiver) {
		mid := t.midOf(receiver)
		t.log.Info().
			Str("track_kind", track.Kind().String()).
			Str("track_id", track.ID()).
			Str("stream_id", track.StreamID()).
			Str("mid", mid).
			Msg("OnTrack received")
		t.mu.Lock()
		t.tracks = append(t.tracks, incomingTrack{track: track, mid: mid})
		t.signalArrivedLocked()
		t.mu.Unlock()
	})

	t.pc.OnDataChannel(func(dc *webrtc.DataChannel) {
		t.log.Info().Str("label", dc.Label()).Msg("OnDataChannel received")
		t.mu.Lock()
		t.channels = append(t.channels, dc)
		t.signalArrivedLocked()
		t.mu.Unlock()
	})

	if t.kind == domain.TransportConsumer {
		t.pc.OnNegotiationNeeded(func() {
			if err := t.offer(); err != nil {
				t.log.Warn().Err(err).Msg("renegotiation failed")
			}
		})
	}
}

func (t *Transport) signalArrivedLocked() {
	close(t.arrived)
	t.arrived = make(chan struct{})
}

func (t *Transport) midOf(receiver *webrtc.RTPReceiver) string {
	for _, tr := range t.pc.GetTransceivers() {
		if tr.Receiver() == receiver {
			return tr.Mid()
		}
	}
	return ""
}

func (t *Transport) ID() string                 { return t.id }
func (t *Transport) Kind() domain.TransportKind { return t.kind }
func (t *Transport) Closed() bool               { return t.closed.Load() }

// OnICECandidate sets the callback for locally gathered candidates.
func (t *Transport) OnICECandidate(fn func(domain.CandidateMessage)) {
	t.mu.Lock()
	t.onICE = fn
	t.mu.Unlock()
}

// OnOffer sets the callback receiving server offers on a consumer transport.
func (t *Transport) OnOffer(fn func(sdp string)) {
	t.mu.Lock()
	t.onOffer = fn
	t.mu.Unlock()
}

// ApplyOffer takes the client offer of a producer transport and returns the
// answer with all candidates gathered.
func (t *Transport) ApplyOffer(sdp string) (string, error) {
	if t.Closed() {
		return "", ErrClosed
	}
	t.negMu.Lock()
	defer t.negMu.Unlock()
	offer := webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: sdp}
	if err := t.pc.SetRemoteDescription(offer); err != nil {
		return "", fmt.Errorf("set remote offer: %w", err)
	}
	answer, err := t.pc.CreateAnswer(nil)
	if err != nil {
		return "", fmt.Errorf("create answer: %w", err)
	}

	gatherComplete := webrtc.GatheringCompletePromise(t.pc)
	if err := t.pc.SetLocalDescription(answer); err != nil {
		return "", fmt.Errorf("set local answer: %w", err)
	}
	<-gatherComplete

	return t.pc.LocalDescription().SDP, nil
}

// ApplyAnswer completes a server offer.
func (t *Transport) ApplyAnswer(sdp string) error {
	if t.Closed() {
		return ErrClosed
	}
	t.negMu.Lock()
	defer t.negMu.Unlock()
	answer := webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: sdp}
	if err := t.pc.SetRemoteDescription(answer); err != nil {
		return fmt.Errorf("set remote answer: %w", err)
	}
	return nil
}

func (t *Transport) offer() error {
	if t.Closed() {
		return ErrClosed
	}
	t.negMu.Lock()
	defer t.negMu.Unlock()
	if t.pc.SignalingState() != webrtc.SignalingStateStable {
		// pion fires negotiation needed again once the pending answer lands
		return nil
	}
	offer, err := t.pc.CreateOffer(nil)
	if err != nil {
		return fmt.Errorf("create offer: %w", err)
	}
	gatherComplete := webrtc.GatheringCompletePromise(t.pc)
	if err := t.pc.SetLocalDescription(offer); err != nil {
		return fmt.Errorf("set local offer: %w", err)
	}
	<-gatherComplete

	t.mu.Lock()
	fn := t.onOffer
	t.mu.Unlock()
	if fn != nil {
		fn(t.pc.LocalDescription().SDP)
	}
	return nil
}

func (t *Transport) AddICECandidate(c domain.CandidateMessage) error {
	if t.Closed() {
		return ErrClosed
	}
	return t.pc.AddICECandidate(webrtc.ICECandidateInit{
		Candidate:     c.Candidate,
		SDPMid:        c.SDPMid,
		SDPMLineIndex: c.SDPMLineIndex,
	})
}

// Produce waits for the client track described by params. The track is
// matched by MID, then by track id, then the first unclaimed audio track.
func (t *Transport) Produce(ctx context.Context, params domain.RtpParameters) (core.Producer, error) {
	if t.kind != domain.TransportProducer {
		return nil, ErrWrongTransport
	}
	ctx, cancel := context.WithTimeout(ctx, t.engine.cfg.ProduceTimeout)
	defer cancel()

	for {
		t.mu.Lock()
		if t.Closed() {
			t.mu.Unlock()
			return nil, ErrClosed
		}
		if idx := t.matchTrackLocked(params); idx >= 0 {
			t.tracks[idx].taken = true
			track := t.tracks[idx].track
			t.mu.Unlock()
			return newProducer(t, track), nil
		}
		arrived := t.arrived
		t.mu.Unlock()

		select {
		case <-arrived:
		case <-ctx.Done():
			return nil, fmt.Errorf("produce: waiting for track: %w", ctx.Err())
		case <-t.ctx.Done():
			return nil, ErrClosed
		}
	}
}

func (t *Transport) matchTrackLocked(params domain.RtpParameters) int {
	for i, it := range t.tracks {
		if it.taken {
			continue
		}
		if params.MID != "" && it.mid == params.MID {
			return i
		}
		if params.TrackID != "" && it.track.ID() == params.TrackID {
			return i
		}
	}
	if params.MID != "" || params.TrackID != "" {
		return -1
	}
	for i, it := range t.tracks {
		if !it.taken && it.track.Kind() == webrtc.RTPCodecTypeAudio {
			return i
		}
	}
	return -1
}

// ProduceData waits for the client data channel with the requested label.
func (t *Transport) ProduceData(ctx context.Context, params domain.SctpStreamParameters) (core.DataProducer, error) {
	if t.kind != domain.TransportProducer {
		return nil, ErrWrongTransport
	}
	ctx, cancel := context.WithTimeout(ctx, t.engine.cfg.ProduceTimeout)
	defer cancel()

	for {
		t.mu.Lock()
		if t.Closed() {
			t.mu.Unlock()
			return nil, ErrClosed
		}
		for i, dc := range t.channels {
			if dc.Label() == params.Label {
				t.channels = append(t.channels[:i], t.channels[i+1:]...)
				t.mu.Unlock()
				return newDataProducer(t, dc), nil
			}
		}
		arrived := t.arrived
		t.mu.Unlock()

		select {
		case <-arrived:
		case <-ctx.Done():
			return nil, fmt.Errorf("produce data %q: %w", params.Label, ctx.Err())
		case <-t.ctx.Done():
			return nil, ErrClosed
		}
	}
}

func (t *Transport) Consume(ctx context.Context, producer core.Producer, caps domain.RtpCapabilities) (core.Consumer, error) {
	if t.kind != domain.TransportConsumer {
		return nil, ErrWrongTransport
	}
	if t.Closed() {
		return nil, ErrClosed
	}
	src, ok := producer.(*Producer)
	if !ok || src.transport.engine != t.engine {
		return nil, ErrForeignProducer
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return newConsumer(t, src, caps)
}

func (t *Transport) ConsumeData(ctx context.Context, producer core.DataProducer) (core.DataConsumer, error) {
	if t.kind != domain.TransportConsumer {
		return nil, ErrWrongTransport
	}
	if t.Closed() {
		return nil, ErrClosed
	}
	src, ok := producer.(*DataProducer)
	if !ok || src.transport.engine != t.engine {
		return nil, ErrForeignProducer
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return newDataConsumer(t, src)
}

func (t *Transport) Close() error {
	if !t.closed.CompareAndSwap(false, true) {
		return nil
	}
	t.cancel()
	if err := t.pc.Close(); err != nil {
		t.log.Error().Err(err).Msg("close error")
		return err
	}
	t.log.Info().Msg("closed")
	return nil
}
