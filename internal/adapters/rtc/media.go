package rtc

import (
	"fmt"
	"sync/atomic"

	"github.com/dkeye/Space/internal/app/sfu"
	"github.com/dkeye/Space/internal/domain"
	"github.com/google/uuid"
	"github.com/pion/rtcp"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"
)

// Producer is a client audio track relayed by the engine.
type Producer struct {
	id        string
	transport *Transport
	track     *webrtc.TrackRemote
	closed    atomic.Bool
}

func newProducer(t *Transport, track *webrtc.TrackRemote) *Producer {
	p := &Producer{id: uuid.NewString(), transport: t, track: track}
	relay := t.engine.relays.StartRelay(t.ctx, p.id, track)
	go p.reap(relay)
	return p
}

// reap drops the relay from the manager once the remote track ended.
func (p *Producer) reap(relay *sfu.Relay) {
	<-relay.Done()
	p.transport.log.Debug().Str("producer", p.id).Int("out_tracks", relay.Len()).Msg("relay finished")
	p.transport.engine.relays.StopRelay(p.id)
}

func (p *Producer) ID() string { return p.id }

func (p *Producer) Closed() bool {
	return p.closed.Load() || p.transport.Closed() || !p.transport.engine.relays.HasRelay(p.id)
}

func (p *Producer) Close() error {
	if p.closed.CompareAndSwap(false, true) {
		p.transport.engine.relays.StopRelay(p.id)
	}
	return nil
}

// Consumer is a local track on a consumer transport fed by a producer relay.
type Consumer struct {
	id         string
	producerID string
	transport  *Transport
	sender     *webrtc.RTPSender
	out        *sfu.OutTrack
	params     domain.RtpParameters
	closed     atomic.Bool
}

func newConsumer(t *Transport, src *Producer, caps domain.RtpCapabilities) (*Consumer, error) {
	codec := src.track.Codec()
	if !caps.Supports(codec.MimeType) {
		return nil, fmt.Errorf("%w: %s", ErrCannotConsume, codec.MimeType)
	}
	id := uuid.NewString()
	streamID := "peer-" + src.id
	local, err := webrtc.NewTrackLocalStaticRTP(codec.RTPCodecCapability, id, streamID)
	if err != nil {
		return nil, fmt.Errorf("local track: %w", err)
	}
	sender, err := t.pc.AddTrack(local)
	if err != nil {
		return nil, fmt.Errorf("add track: %w", err)
	}
	out, ok := t.engine.relays.AddSubscriber(src.id, id, local)
	if !ok {
		_ = t.pc.RemoveTrack(sender)
		return nil, fmt.Errorf("producer %s has no relay", src.id)
	}
	go drainRTCP(sender, t.log.With().Str("consumer", id).Logger())

	return &Consumer{
		id:         id,
		producerID: src.id,
		transport:  t,
		sender:     sender,
		out:        out,
		params: domain.RtpParameters{
			TrackID:  id,
			StreamID: streamID,
			Codecs: []domain.RtpCodec{{
				MimeType:    codec.MimeType,
				ClockRate:   codec.ClockRate,
				Channels:    codec.Channels,
				SDPFmtpLine: codec.SDPFmtpLine,
				PayloadType: uint8(codec.PayloadType),
			}},
		},
	}, nil
}

// drainRTCP reads RTCP so interceptors keep running; loss reports are logged.
func drainRTCP(sender *webrtc.RTPSender, logger zerolog.Logger) {
	for {
		pkts, _, err := sender.ReadRTCP()
		if err != nil {
			return
		}
		for _, pkt := range pkts {
			rr, ok := pkt.(*rtcp.ReceiverReport)
			if !ok {
				continue
			}
			for _, r := range rr.Reports {
				if r.FractionLost > 25 {
					logger.Debug().Uint32("ssrc", r.SSRC).Uint8("fraction_lost", r.FractionLost).Msg("receiver loss")
				}
			}
		}
	}
}

func (c *Consumer) ID() string                          { return c.id }
func (c *Consumer) ProducerID() string                  { return c.producerID }
func (c *Consumer) RtpParameters() domain.RtpParameters { return c.params }
func (c *Consumer) Paused() bool                        { return c.out.GetState() == sfu.TrackStateMuted }

func (c *Consumer) Closed() bool {
	return c.closed.Load() || c.out.GetState() == sfu.TrackStateDelete || !c.transport.engine.relays.HasRelay(c.producerID)
}

func (c *Consumer) Pause() error {
	if c.Closed() {
		return ErrClosed
	}
	c.out.MarkMuted()
	return nil
}

func (c *Consumer) Resume() error {
	if c.Closed() {
		return ErrClosed
	}
	c.out.MarkOk()
	return nil
}

func (c *Consumer) Close() error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}
	c.transport.engine.relays.MarkSubscriberDelete(c.producerID, c.id)
	if c.transport.Closed() {
		return nil
	}
	return c.transport.pc.RemoveTrack(c.sender)
}

// DataProducer is a client data channel whose messages are fanned out.
type DataProducer struct {
	id        string
	transport *Transport
	dc        *webrtc.DataChannel
	relay     *sfu.DataRelay
	closed    atomic.Bool
}

func newDataProducer(t *Transport, dc *webrtc.DataChannel) *DataProducer {
	p := &DataProducer{id: uuid.NewString(), transport: t, dc: dc}
	p.relay = sfu.NewDataRelay(p.id)
	dc.OnMessage(func(msg webrtc.DataChannelMessage) {
		p.relay.Forward(msg.Data, msg.IsString)
	})
	dc.OnClose(func() {
		p.closed.Store(true)
		p.relay.Stop()
	})
	return p
}

func (p *DataProducer) ID() string    { return p.id }
func (p *DataProducer) Label() string { return p.dc.Label() }

func (p *DataProducer) Closed() bool {
	return p.closed.Load() || p.transport.Closed()
}

func (p *DataProducer) Close() error {
	if !p.closed.CompareAndSwap(false, true) {
		return nil
	}
	p.relay.Stop()
	return p.dc.Close()
}

// DataConsumer is a server created channel mirroring a producer channel.
type DataConsumer struct {
	id     string
	src    *DataProducer
	dc     *webrtc.DataChannel
	params domain.SctpStreamParameters
	closed atomic.Bool
}

func newDataConsumer(t *Transport, src *DataProducer) (*DataConsumer, error) {
	ordered := src.dc.Ordered()
	init := &webrtc.DataChannelInit{
		Ordered:        &ordered,
		MaxRetransmits: src.dc.MaxRetransmits(),
	}
	dc, err := t.pc.CreateDataChannel(src.Label(), init)
	if err != nil {
		return nil, fmt.Errorf("create data channel: %w", err)
	}
	c := &DataConsumer{
		id:  uuid.NewString(),
		src: src,
		dc:  dc,
		params: domain.SctpStreamParameters{
			StreamID:       dc.ID(),
			Label:          dc.Label(),
			Ordered:        &ordered,
			MaxRetransmits: init.MaxRetransmits,
		},
	}
	if !src.relay.AddSubscriber(c.id, openChannel{dc}) {
		_ = dc.Close()
		return nil, fmt.Errorf("data producer %s stopped", src.id)
	}
	return c, nil
}

func (c *DataConsumer) ID() string             { return c.id }
func (c *DataConsumer) DataProducerID() string { return c.src.id }
func (c *DataConsumer) Closed() bool           { return c.closed.Load() }

func (c *DataConsumer) SctpStreamParameters() domain.SctpStreamParameters { return c.params }

func (c *DataConsumer) Close() error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}
	c.src.relay.RemoveSubscriber(c.id)
	return c.dc.Close()
}

// openChannel skips messages until the channel is open instead of failing.
type openChannel struct {
	dc *webrtc.DataChannel
}

func (o openChannel) Send(data []byte) error {
	if o.dc.ReadyState() != webrtc.DataChannelStateOpen {
		return nil
	}
	return o.dc.Send(data)
}

func (o openChannel) SendText(s string) error {
	if o.dc.ReadyState() != webrtc.DataChannelStateOpen {
		return nil
	}
	return o.dc.SendText(s)
}
