package core

import (
	"context"
	"errors"
	"io"
	"sort"
	"sync"

	"github.com/dkeye/Space/internal/domain"
	"github.com/dkeye/Space/internal/metrics"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/sourcegraph/conc"
)

// joinAttempts bounds retries when the room emptied between lookup and join.
const joinAttempts = 3

// PeerSession is one connected client. Media operations run as tracked
// background tasks bound to the session context; their results are only
// stored after the session, room membership and producer are re-checked.
//
// Lock order: Room.events, then PeerSession.mu, then Room.mu. Never hold mu
// while calling into a room or another session.
type PeerSession struct {
	id       SessionID
	registry *RoomRegistry
	log      zerolog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	tasks  conc.WaitGroup

	mu            sync.Mutex
	signal        SignalConnection
	profile       domain.Profile
	rooms         map[domain.RoomURI]*Room
	transports    map[domain.TransportKind]Transport
	rtpCaps       *domain.RtpCapabilities
	producer      Producer
	dataProducer  DataProducer
	consumers     map[consumerKey]Consumer
	dataConsumers map[consumerKey]DataConsumer
	// in-flight consume requests, value is the producer id
	pending     map[consumerKey]string
	pendingData map[consumerKey]string
	paused      bool
	closed      bool
}

func NewPeerSession(ctx context.Context, id SessionID, conn SignalConnection, registry *RoomRegistry) *PeerSession {
	ctx, cancel := context.WithCancel(ctx)
	return &PeerSession{
		id:            id,
		registry:      registry,
		log:           log.With().Str("module", "core.session").Str("sid", string(id)).Logger(),
		ctx:           ctx,
		cancel:        cancel,
		signal:        conn,
		profile:       domain.NewProfile(),
		rooms:         make(map[domain.RoomURI]*Room),
		transports:    make(map[domain.TransportKind]Transport),
		consumers:     make(map[consumerKey]Consumer),
		dataConsumers: make(map[consumerKey]DataConsumer),
		pending:       make(map[consumerKey]string),
		pendingData:   make(map[consumerKey]string),
	}
}

func (s *PeerSession) ID() SessionID { return s.id }

func (s *PeerSession) Profile() domain.Profile {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.profile
}

func (s *PeerSession) Producer() Producer {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.producer
}

func (s *PeerSession) DataProducer() DataProducer {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dataProducer
}

func (s *PeerSession) Transport(kind domain.TransportKind) Transport {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.transports[kind]
}

// Rooms returns the URIs of joined rooms in lexical order.
func (s *PeerSession) Rooms() []domain.RoomURI {
	s.mu.Lock()
	out := make([]domain.RoomURI, 0, len(s.rooms))
	for uri := range s.rooms {
		out = append(out, uri)
	}
	s.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func (s *PeerSession) Consumer(uri domain.RoomURI, slot domain.Slot) (Consumer, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.consumers[consumerKey{uri, slot}]
	return c, ok
}

func (s *PeerSession) DataConsumer(uri domain.RoomURI, slot domain.Slot) (DataConsumer, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.dataConsumers[consumerKey{uri, slot}]
	return c, ok
}

func (s *PeerSession) Paused() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.paused
}

// Join enters the room at uri and returns the assigned slot. Joining a room
// the session is already in returns the current slot and sends nothing.
func (s *PeerSession) Join(uri domain.RoomURI) (domain.Slot, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return 0, ErrSessionClosed
	}
	if room, ok := s.rooms[uri]; ok {
		s.mu.Unlock()
		if slot, ok := room.SlotOf(s); ok {
			return slot, nil
		}
		return 0, ErrNotJoined
	}
	conn := s.signal
	s.mu.Unlock()

	if conn != nil {
		conn.Subscribe(domain.Topic(uri))
	}

	var err error
	for range joinAttempts {
		room := s.registry.GetOrCreateRoom(uri)
		s.mu.Lock()
		s.rooms[uri] = room
		s.mu.Unlock()

		var slot domain.Slot
		slot, err = room.join(s)
		if errors.Is(err, ErrRoomClosed) {
			s.mu.Lock()
			if s.rooms[uri] == room {
				delete(s.rooms, uri)
			}
			s.mu.Unlock()
			continue
		}
		if err != nil {
			break
		}

		s.mu.Lock()
		closed := s.closed
		s.mu.Unlock()
		if closed {
			// Close ran concurrently and may have missed this room.
			s.Leave(uri)
			return 0, ErrSessionClosed
		}
		s.emit(s.registry.dialect.Name(domain.EventJoined), domain.Joined{Slot: slot})
		return slot, nil
	}

	s.log.Warn().Err(err).Str("room", string(uri)).Msg("join failed")
	s.mu.Lock()
	_, tracked := s.rooms[uri]
	s.mu.Unlock()
	if tracked {
		s.Leave(uri)
	} else if conn != nil {
		// retries on closed rooms already dropped the entry
		conn.Unsubscribe(domain.Topic(uri))
	}
	return 0, err
}

// Leave exits the room at uri and closes every consumer held for it.
func (s *PeerSession) Leave(uri domain.RoomURI) {
	s.mu.Lock()
	room, ok := s.rooms[uri]
	if !ok {
		s.mu.Unlock()
		return
	}
	delete(s.rooms, uri)
	var consumers []Consumer
	for k, c := range s.consumers {
		if k.uri == uri {
			consumers = append(consumers, c)
			delete(s.consumers, k)
		}
	}
	var dataConsumers []DataConsumer
	for k, c := range s.dataConsumers {
		if k.uri == uri {
			dataConsumers = append(dataConsumers, c)
			delete(s.dataConsumers, k)
		}
	}
	for k := range s.pending {
		if k.uri == uri {
			delete(s.pending, k)
		}
	}
	for k := range s.pendingData {
		if k.uri == uri {
			delete(s.pendingData, k)
		}
	}
	conn := s.signal
	s.mu.Unlock()

	if conn != nil {
		conn.Unsubscribe(domain.Topic(uri))
	}
	room.leave(s)

	for _, c := range consumers {
		_ = c.Close()
	}
	for _, c := range dataConsumers {
		_ = c.Close()
	}
}

func (s *PeerSession) Chat(message string) error {
	msg, err := domain.NormalizeChat(message)
	if err != nil {
		return err
	}
	for _, room := range s.joined() {
		room.chat(s, msg)
	}
	return nil
}

// SetName updates the display name and announces it in every joined room.
func (s *PeerSession) SetName(name string) error {
	if err := domain.ValidateName(name); err != nil {
		return err
	}
	s.mu.Lock()
	s.profile.Name = &name
	s.mu.Unlock()
	for _, room := range s.joined() {
		room.setName(s, name)
	}
	return nil
}

func (s *PeerSession) SetHandle(handle string) error {
	if err := domain.ValidateHandle(handle); err != nil {
		return err
	}
	s.mu.Lock()
	s.profile.Handle = &handle
	s.mu.Unlock()
	for _, room := range s.joined() {
		room.setHandle(s, handle)
	}
	return nil
}

func (s *PeerSession) SetAvatar(avatar string) error {
	if err := domain.ValidateAvatar(avatar); err != nil {
		return err
	}
	s.mu.Lock()
	s.profile.Avatar = &avatar
	s.mu.Unlock()
	for _, room := range s.joined() {
		room.setAvatar(s, avatar)
	}
	return nil
}

func (s *PeerSession) SetGrounded(grounded bool) {
	s.mu.Lock()
	s.profile.Grounded = grounded
	s.mu.Unlock()
	for _, room := range s.joined() {
		room.setGrounded(s, grounded)
	}
}

// SetTransport records the transport of the given kind. Replacing the
// consumer transport drops every consumer bound to the old one; consumption
// then restarts on the new transport.
func (s *PeerSession) SetTransport(kind domain.TransportKind, t Transport) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrSessionClosed
	}
	old := s.transports[kind]
	if old == t {
		s.mu.Unlock()
		return nil
	}
	s.transports[kind] = t
	var stale []io.Closer
	if kind == domain.TransportConsumer {
		for k, c := range s.consumers {
			stale = append(stale, c)
			delete(s.consumers, k)
		}
		for k, c := range s.dataConsumers {
			stale = append(stale, c)
			delete(s.dataConsumers, k)
		}
		clear(s.pending)
		clear(s.pendingData)
	}
	s.mu.Unlock()

	for _, c := range stale {
		_ = c.Close()
	}
	if old != nil {
		_ = old.Close()
	}
	s.log.Debug().Str("kind", string(kind)).Str("transport", t.ID()).Msg("transport set")

	if kind == domain.TransportConsumer {
		s.startConsuming()
	}
	return nil
}

// SetRtpCapabilities records what the client can receive. Whichever of the
// consumer transport and the capabilities arrives last starts consumption.
func (s *PeerSession) SetRtpCapabilities(caps domain.RtpCapabilities) {
	s.mu.Lock()
	s.rtpCaps = &caps
	ready := s.transports[domain.TransportConsumer] != nil && !s.closed
	s.mu.Unlock()
	if ready {
		s.startConsuming()
	}
}

// Produce creates the audio producer on the producer transport in the
// background. Failures are logged and leave the producer unset.
func (s *PeerSession) Produce(params domain.RtpParameters) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrSessionClosed
	}
	t := s.transports[domain.TransportProducer]
	if t == nil {
		return ErrNoTransport
	}
	s.spawn(func(ctx context.Context) {
		p, err := t.Produce(ctx, params)
		if err != nil {
			metrics.Producers.WithLabelValues(metrics.KindAudio, metrics.ResultError).Inc()
			s.log.Warn().Err(err).Msg("produce failed")
			return
		}
		if err := s.SetProducer(p); err != nil {
			metrics.Producers.WithLabelValues(metrics.KindAudio, metrics.ResultDiscarded).Inc()
			_ = p.Close()
			return
		}
		metrics.Producers.WithLabelValues(metrics.KindAudio, metrics.ResultOK).Inc()
		s.emit(domain.MsgProducerID, domain.ProducerID{ID: p.ID()})
	})
	return nil
}

func (s *PeerSession) ProduceData(params domain.SctpStreamParameters) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrSessionClosed
	}
	t := s.transports[domain.TransportProducer]
	if t == nil {
		return ErrNoTransport
	}
	s.spawn(func(ctx context.Context) {
		dp, err := t.ProduceData(ctx, params)
		if err != nil {
			metrics.Producers.WithLabelValues(metrics.KindData, metrics.ResultError).Inc()
			s.log.Warn().Err(err).Str("label", params.Label).Msg("produce data failed")
			return
		}
		if err := s.SetDataProducer(dp); err != nil {
			metrics.Producers.WithLabelValues(metrics.KindData, metrics.ResultDiscarded).Inc()
			_ = dp.Close()
			return
		}
		metrics.Producers.WithLabelValues(metrics.KindData, metrics.ResultOK).Inc()
		s.emit(domain.MsgDataProducerID, domain.ProducerID{ID: dp.ID()})
	})
	return nil
}

// SetProducer stores p and makes every other member of every joined room
// consume it. A previous producer is closed.
func (s *PeerSession) SetProducer(p Producer) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrSessionClosed
	}
	old := s.producer
	s.producer = p
	rooms := s.roomsLocked()
	s.mu.Unlock()

	if old != nil && old != p {
		_ = old.Close()
	}
	for _, room := range rooms {
		room.setProducer(s, p)
	}
	return nil
}

func (s *PeerSession) SetDataProducer(dp DataProducer) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrSessionClosed
	}
	old := s.dataProducer
	s.dataProducer = dp
	rooms := s.roomsLocked()
	s.mu.Unlock()

	if old != nil && old != dp {
		_ = old.Close()
	}
	for _, room := range rooms {
		room.setDataProducer(s, dp)
	}
	return nil
}

// Consume receives the producer of the peer at slot in room uri. Without a
// consumer transport or receive capabilities it does nothing; a consumer
// for the same producer that exists or is in flight is not duplicated.
func (s *PeerSession) Consume(p Producer, uri domain.RoomURI, slot domain.Slot) {
	if p == nil || p.Closed() {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	room, ok := s.rooms[uri]
	if !ok {
		return
	}
	t := s.transports[domain.TransportConsumer]
	if t == nil || s.rtpCaps == nil {
		return
	}
	caps := *s.rtpCaps
	key := consumerKey{uri, slot}
	if c, ok := s.consumers[key]; ok && !c.Closed() && c.ProducerID() == p.ID() {
		return
	}
	if s.pending[key] == p.ID() {
		return
	}
	owner, ok := room.PlayerAt(slot)
	if !ok || owner == s {
		return
	}
	s.pending[key] = p.ID()

	s.spawn(func(ctx context.Context) {
		c, err := t.Consume(ctx, p, caps)
		if err != nil {
			s.mu.Lock()
			if s.pending[key] == p.ID() {
				delete(s.pending, key)
			}
			s.mu.Unlock()
			metrics.Consumers.WithLabelValues(metrics.KindAudio, metrics.ResultError).Inc()
			s.log.Warn().Err(err).Str("room", string(uri)).Uint8("slot", uint8(slot)).Msg("consume failed")
			return
		}
		if !s.storeConsumer(key, room, owner, t, p, c) {
			metrics.Consumers.WithLabelValues(metrics.KindAudio, metrics.ResultDiscarded).Inc()
			_ = c.Close()
			return
		}
		metrics.Consumers.WithLabelValues(metrics.KindAudio, metrics.ResultOK).Inc()
		s.emit(domain.MsgConsumerCreate, domain.ConsumerCreate{
			Slot:          slot,
			ConsumerID:    c.ID(),
			ProducerID:    p.ID(),
			RtpParameters: c.RtpParameters(),
		})
	})
}

func (s *PeerSession) storeConsumer(key consumerKey, room *Room, owner *PeerSession, t Transport, p Producer, c Consumer) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pending[key] != p.ID() {
		return false
	}
	delete(s.pending, key)
	if !s.stillValid(key, room, owner, t) || p.Closed() {
		return false
	}
	if old, ok := s.consumers[key]; ok {
		_ = old.Close()
	}
	s.consumers[key] = c
	if s.paused {
		_ = c.Pause()
	}
	return true
}

// ConsumeData receives the data producer of the peer at slot in room uri.
// Only the consumer transport is required.
func (s *PeerSession) ConsumeData(dp DataProducer, uri domain.RoomURI, slot domain.Slot) {
	if dp == nil || dp.Closed() {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	room, ok := s.rooms[uri]
	if !ok {
		return
	}
	t := s.transports[domain.TransportConsumer]
	if t == nil {
		return
	}
	key := consumerKey{uri, slot}
	if c, ok := s.dataConsumers[key]; ok && !c.Closed() && c.DataProducerID() == dp.ID() {
		return
	}
	if s.pendingData[key] == dp.ID() {
		return
	}
	owner, ok := room.PlayerAt(slot)
	if !ok || owner == s {
		return
	}
	s.pendingData[key] = dp.ID()

	s.spawn(func(ctx context.Context) {
		c, err := t.ConsumeData(ctx, dp)
		if err != nil {
			s.mu.Lock()
			if s.pendingData[key] == dp.ID() {
				delete(s.pendingData, key)
			}
			s.mu.Unlock()
			metrics.Consumers.WithLabelValues(metrics.KindData, metrics.ResultError).Inc()
			s.log.Warn().Err(err).Str("room", string(uri)).Uint8("slot", uint8(slot)).Msg("consume data failed")
			return
		}
		if !s.storeDataConsumer(key, room, owner, t, dp, c) {
			metrics.Consumers.WithLabelValues(metrics.KindData, metrics.ResultDiscarded).Inc()
			_ = c.Close()
			return
		}
		metrics.Consumers.WithLabelValues(metrics.KindData, metrics.ResultOK).Inc()
		s.emit(domain.MsgDataConsumerCreate, domain.DataConsumerCreate{
			Slot:                 slot,
			DataConsumerID:       c.ID(),
			DataProducerID:       dp.ID(),
			SctpStreamParameters: c.SctpStreamParameters(),
		})
	})
}

func (s *PeerSession) storeDataConsumer(key consumerKey, room *Room, owner *PeerSession, t Transport, dp DataProducer, c DataConsumer) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pendingData[key] != dp.ID() {
		return false
	}
	delete(s.pendingData, key)
	if !s.stillValid(key, room, owner, t) || dp.Closed() {
		return false
	}
	if old, ok := s.dataConsumers[key]; ok {
		_ = old.Close()
	}
	s.dataConsumers[key] = c
	return true
}

// stillValid reports whether a consume started for key may be stored: the
// session is open, still in the same room instance, the slot is still held
// by the same peer and the consumer transport was not replaced.
func (s *PeerSession) stillValid(key consumerKey, room *Room, owner *PeerSession, t Transport) bool {
	if s.closed || s.rooms[key.uri] != room {
		return false
	}
	if s.transports[domain.TransportConsumer] != t {
		return false
	}
	cur, ok := room.PlayerAt(key.slot)
	return ok && cur == owner
}

// closeConsumersFor drops whatever this session holds for the peer that
// left slot in room uri.
func (s *PeerSession) closeConsumersFor(uri domain.RoomURI, slot domain.Slot) {
	key := consumerKey{uri, slot}
	s.mu.Lock()
	c, hasC := s.consumers[key]
	dc, hasDC := s.dataConsumers[key]
	delete(s.consumers, key)
	delete(s.dataConsumers, key)
	delete(s.pending, key)
	delete(s.pendingData, key)
	s.mu.Unlock()

	if hasC {
		_ = c.Close()
	}
	if hasDC {
		_ = dc.Close()
	}
}

// SetPaused pauses or resumes every open consumer across all rooms.
// Consumers created while paused start paused.
func (s *PeerSession) SetPaused(paused bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.paused = paused
	for key, c := range s.consumers {
		if c.Closed() {
			continue
		}
		var err error
		if paused {
			err = c.Pause()
		} else {
			err = c.Resume()
		}
		if err != nil {
			s.log.Warn().Err(err).Str("room", string(key.uri)).Uint8("slot", uint8(key.slot)).Msg("set paused")
		}
	}
}

// startConsuming pulls in every producer already live in the joined rooms.
func (s *PeerSession) startConsuming() {
	for _, room := range s.joined() {
		for _, m := range room.others(s) {
			if p := m.session.Producer(); p != nil {
				s.Consume(p, room.uri, m.slot)
			}
			if dp := m.session.DataProducer(); dp != nil {
				s.ConsumeData(dp, room.uri, m.slot)
			}
		}
	}
}

// Close leaves every room, detaches the signaling connection and releases
// all media resources. It waits for in-flight media tasks.
func (s *PeerSession) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	uris := make([]domain.RoomURI, 0, len(s.rooms))
	for uri := range s.rooms {
		uris = append(uris, uri)
	}
	s.mu.Unlock()

	for _, uri := range uris {
		s.Leave(uri)
	}
	s.cancel()

	s.mu.Lock()
	s.signal = nil
	producer, dataProducer := s.producer, s.dataProducer
	s.producer, s.dataProducer = nil, nil
	transports := s.transports
	s.transports = make(map[domain.TransportKind]Transport)
	consumers, dataConsumers := s.consumers, s.dataConsumers
	s.consumers = make(map[consumerKey]Consumer)
	s.dataConsumers = make(map[consumerKey]DataConsumer)
	s.mu.Unlock()

	for _, c := range consumers {
		_ = c.Close()
	}
	for _, c := range dataConsumers {
		_ = c.Close()
	}
	if producer != nil {
		_ = producer.Close()
	}
	if dataProducer != nil {
		_ = dataProducer.Close()
	}
	for kind, t := range transports {
		if err := t.Close(); err != nil {
			s.log.Warn().Err(err).Str("kind", string(kind)).Msg("close transport")
		}
	}

	if r := s.tasks.WaitAndRecover(); r != nil {
		s.log.Error().Err(r.AsError()).Msg("media task panicked")
	}
	s.log.Info().Msg("session closed")
}

// Wait blocks until the media tasks started so far have finished.
func (s *PeerSession) Wait() {
	if r := s.tasks.WaitAndRecover(); r != nil {
		s.log.Error().Err(r.AsError()).Msg("media task panicked")
	}
}

// spawn must be called with mu held so it cannot race with Close.
func (s *PeerSession) spawn(fn func(ctx context.Context)) {
	if s.closed {
		return
	}
	s.tasks.Go(func() { fn(s.ctx) })
}

func (s *PeerSession) emit(typ string, data any) {
	s.mu.Lock()
	conn := s.signal
	s.mu.Unlock()
	if conn == nil {
		return
	}
	frame, err := domain.Encode(typ, data)
	if err != nil {
		s.log.Error().Err(err).Str("type", typ).Msg("encode")
		return
	}
	if err := conn.TrySend(frame); err != nil {
		s.log.Warn().Err(err).Str("type", typ).Msg("send dropped")
	}
}

func (s *PeerSession) joined() []*Room {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.roomsLocked()
}

func (s *PeerSession) roomsLocked() []*Room {
	out := make([]*Room, 0, len(s.rooms))
	for _, room := range s.rooms {
		out = append(out, room)
	}
	return out
}
