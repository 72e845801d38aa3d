package rtc

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dkeye/Space/internal/app/sfu"
	"github.com/dkeye/Space/internal/core"
	"github.com/dkeye/Space/internal/domain"
	"github.com/google/uuid"
	"github.com/pion/interceptor"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"
)

var (
	ErrForeignProducer = errors.New("producer does not belong to this engine")
	ErrCannotConsume   = errors.New("client cannot receive producer codec")
	ErrWrongTransport  = errors.New("operation not allowed on this transport kind")
	ErrClosed          = errors.New("transport closed")
)

type Config struct {
	ICEServers     []string
	ProduceTimeout time.Duration
	LogLevel       zerolog.Level
}

func DefaultConfig() Config {
	return Config{
		ICEServers:     []string{"stun:stun.l.google.com:19302"},
		ProduceTimeout: 10 * time.Second,
		LogLevel:       zerolog.WarnLevel,
	}
}

// Engine is the pion backed media engine. Each transport is its own
// PeerConnection; media is forwarded between them by sfu relays.
type Engine struct {
	api    *webrtc.API
	config webrtc.Configuration
	cfg    Config
	relays *sfu.RelayManager
}

var _ core.MediaEngine = (*Engine)(nil)

func NewEngine(cfg Config) (*Engine, error) {
	m := &webrtc.MediaEngine{}
	if err := m.RegisterDefaultCodecs(); err != nil {
		return nil, fmt.Errorf("register codecs: %w", err)
	}
	i := &interceptor.Registry{}
	if err := webrtc.RegisterDefaultInterceptors(m, i); err != nil {
		return nil, fmt.Errorf("register interceptors: %w", err)
	}
	s := webrtc.SettingEngine{LoggerFactory: NewPionLogger(cfg.LogLevel)}

	if cfg.ProduceTimeout <= 0 {
		cfg.ProduceTimeout = DefaultConfig().ProduceTimeout
	}
	return &Engine{
		api:    webrtc.NewAPI(webrtc.WithMediaEngine(m), webrtc.WithInterceptorRegistry(i), webrtc.WithSettingEngine(s)),
		config: WebRTCConfig(cfg.ICEServers),
		cfg:    cfg,
		relays: sfu.NewRelayManager(),
	}, nil
}

func WebRTCConfig(urls []string) webrtc.Configuration {
	c := webrtc.Configuration{}
	for _, u := range urls {
		c.ICEServers = append(c.ICEServers, webrtc.ICEServer{URLs: []string{u}})
	}
	return c
}

func (e *Engine) ICEServers() []string { return e.cfg.ICEServers }

func (e *Engine) NewTransport(ctx context.Context, sid core.SessionID, kind domain.TransportKind) (core.Transport, error) {
	pc, err := e.api.NewPeerConnection(e.config)
	if err != nil {
		return nil, fmt.Errorf("new peer connection: %w", err)
	}
	t := newTransport(ctx, e, pc, uuid.NewString(), sid, kind)
	t.start()
	return t, nil
}

// RtpCapabilities are the codecs the engine forwards.
func (e *Engine) RtpCapabilities() domain.RtpCapabilities {
	return domain.RtpCapabilities{Codecs: []domain.RtpCodec{{
		MimeType:    webrtc.MimeTypeOpus,
		ClockRate:   48000,
		Channels:    2,
		SDPFmtpLine: "minptime=10;useinbandfec=1",
	}}}
}

// Close stops every relay.
func (e *Engine) Close() {
	e.relays.StopAll()
}
