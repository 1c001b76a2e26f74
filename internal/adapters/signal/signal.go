package signal

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/dkeye/StudyRoom/internal/app/orch"
	"github.com/dkeye/StudyRoom/internal/config"
	"github.com/dkeye/StudyRoom/internal/core"
	"github.com/dkeye/StudyRoom/internal/domain"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

var ErrBackpressure = errors.New("backpressure")

type SignalWSController struct {
	Orch    *orch.Orchestrator
	Cfg     *config.Config
	Limiter *RoomRateLimiter
}

func NewSignalWSController(o *orch.Orchestrator, cfg *config.Config) *SignalWSController {
	return &SignalWSController{
		Orch:    o,
		Cfg:     cfg,
		Limiter: NewRoomRateLimiter(cfg.RateLimit, cfg.RateInterval),
	}
}

// ConnInfo is the explicit context every inbound message is handled with.
type ConnInfo struct {
	SID         core.SessionID
	Room        domain.RoomID
	User        *domain.User
	ClientToken string
}

type WsSignalConn struct {
	conn *websocket.Conn
	send chan core.Frame

	mu     sync.RWMutex
	closed bool
}

func newWsSignalConn(ws *websocket.Conn, buffer int) *WsSignalConn {
	return &WsSignalConn{
		conn: ws,
		send: make(chan core.Frame, buffer),
	}
}

func (c *WsSignalConn) TrySend(f core.Frame) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return core.ErrConnClosed
	}
	select {
	case c.send <- f:
	default:
		return ErrBackpressure
	}
	return nil
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
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// HandleSignal upgrades the request and registers the connection in roomID.
// Identity is trusted as already validated upstream.
func (ctl *SignalWSController) HandleSignal(ctx context.Context, c *gin.Context, roomID domain.RoomID, user *domain.User) {
	info := ConnInfo{
		SID:         core.SessionID(uuid.NewString()),
		Room:        roomID,
		User:        user,
		ClientToken: c.GetString("client_token"),
	}
	logger := log.With().
		Str("module", "signal").
		Str("sid", string(info.SID)).
		Str("room", string(roomID)).
		Str("user", string(user.ID)).
		Logger()

	// Upgrade writes its own response, so carry cookies set by middleware.
	respHeader := http.Header{}
	if cookies := c.Writer.Header().Values("Set-Cookie"); len(cookies) > 0 {
		respHeader["Set-Cookie"] = cookies
	}
	ws, err := upgrader.Upgrade(c.Writer, c.Request, respHeader)
	if err != nil {
		logger.Error().Err(err).Msg("ws upgrade")
		return
	}
	logger.Info().Str("client_token", info.ClientToken).Msg("new WS connection")

	conn := newWsSignalConn(ws, ctl.Cfg.SendBuffer)
	meta := domain.NewMember(user, roomID, time.Now())
	sess := core.NewMemberSession(meta, conn)

	connCtx, cancel := context.WithCancel(ctx)
	shutdown := func() {
		cancel()
		conn.Close()
	}
	ctl.Orch.Register(info.SID, sess, shutdown)

	go ctl.writePump(connCtx, info, conn, shutdown)
	go ctl.readPump(connCtx, info, conn, shutdown)
}
