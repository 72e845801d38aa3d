package signal

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/dkeye/Space/internal/app/orch"
	"github.com/dkeye/Space/internal/core"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

var (
	ErrBackpressure = errors.New("backpressure")
	ErrConnClosed   = errors.New("connection closed")
)

type Options struct {
	ReadLimit    int64
	PingPeriod   time.Duration
	SendBuffer   int
	ChatLimit    int
	ChatInterval time.Duration
}

type SignalWSController struct {
	Orch    *orch.Orchestrator
	Hub     *Hub
	Limiter *RoomRateLimiter
	opts    Options
}

func NewSignalWSController(o *orch.Orchestrator, hub *Hub, opts Options) *SignalWSController {
	if opts.SendBuffer <= 0 {
		opts.SendBuffer = 64
	}
	if opts.PingPeriod <= 0 {
		opts.PingPeriod = 54 * time.Second
	}
	if opts.ChatLimit <= 0 {
		opts.ChatLimit = 5
	}
	if opts.ChatInterval <= 0 {
		opts.ChatInterval = 5 * time.Second
	}
	return &SignalWSController{
		Orch:    o,
		Hub:     hub,
		Limiter: NewRoomRateLimiter(opts.ChatLimit, opts.ChatInterval),
		opts:    opts,
	}
}

type WsSignalConn struct {
	conn *websocket.Conn
	hub  *Hub
	send chan core.Frame

	mu     sync.RWMutex
	closed bool
}

func newWsSignalConn(ws *websocket.Conn, hub *Hub, buffer int) *WsSignalConn {
	return &WsSignalConn{
		conn: ws,
		hub:  hub,
		send: make(chan core.Frame, buffer),
	}
}

func (c *WsSignalConn) TrySend(f core.Frame) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return ErrConnClosed
	}
	select {
	case c.send <- f:
	default:
		return ErrBackpressure
	}
	return nil
}

func (c *WsSignalConn) Subscribe(topic string) {
	c.mu.RLock()
	closed := c.closed
	c.mu.RUnlock()
	if closed {
		return
	}
	c.hub.Subscribe(topic, c)
}

func (c *WsSignalConn) Unsubscribe(topic string) {
	c.hub.Unsubscribe(topic, c)
}

func (c *WsSignalConn) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	close(c.send)
	_ = c.conn.Close()
	c.mu.Unlock()
	c.hub.UnsubscribeAll(c)
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

func (ctl *SignalWSController) HandleSignal(ctx context.Context, c *gin.Context) {
	sid := core.SessionID(c.GetString("client_token"))
	log.Info().Str("module", "signal").Str("sid", string(sid)).Msg("new WS connection")

	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error().Err(err).Msg("ws upgrade")
		return
	}
	if ctl.opts.ReadLimit > 0 {
		ws.SetReadLimit(ctl.opts.ReadLimit)
	}

	conn := newWsSignalConn(ws, ctl.Hub, ctl.opts.SendBuffer)
	sess, sessCtx := ctl.Orch.Connect(ctx, sid, conn)

	go ctl.writePump(sessCtx, conn)
	go ctl.readPump(sessCtx, sess, conn)
}
