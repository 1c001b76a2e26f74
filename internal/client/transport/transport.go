package transport

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/dkeye/StudyRoom/internal/protocol"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const (
	writeWait         = 10 * time.Second
	defaultPingPeriod = 54 * time.Second
	defaultSendBuffer = 256
)

type Options struct {
	// Server is the registry base URL, http(s):// or ws(s)://.
	Server      string
	Room        string
	UserID      string
	DisplayName string

	SendBuffer int
	PingPeriod time.Duration
	Dialer     *websocket.Dialer
	Logger     *zerolog.Logger
}

// Transport owns the single signaling connection of a client. Subsystems
// subscribe to envelope kinds; their handlers run on one event loop.
type Transport struct {
	self   protocol.Peer
	conn   *websocket.Conn
	loop   *Loop
	hub    *Hub
	logger zerolog.Logger

	pingPeriod time.Duration

	mu     sync.RWMutex
	closed bool
	send   chan []byte
	state  State
}

var _ Conn = (*Transport)(nil)

// RoomURL builds the connection URL for room on server.
func RoomURL(server, room, userID, displayName string) (string, error) {
	u, err := url.Parse(server)
	if err != nil {
		return "", fmt.Errorf("parse server url: %w", err)
	}
	switch u.Scheme {
	case "http", "ws", "":
		u.Scheme = "ws"
	case "https", "wss":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	escaped := strings.TrimSuffix(u.EscapedPath(), "/")
	u.Path = strings.TrimSuffix(u.Path, "/") + "/ws/room/" + room
	u.RawPath = escaped + "/ws/room/" + url.PathEscape(room)
	q := url.Values{}
	q.Set("user_id", userID)
	if displayName != "" {
		q.Set("display_name", displayName)
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func Dial(ctx context.Context, opts Options) (*Transport, error) {
	target, err := RoomURL(opts.Server, opts.Room, opts.UserID, opts.DisplayName)
	if err != nil {
		return nil, err
	}
	dialer := opts.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}
	ws, _, err := dialer.DialContext(ctx, target, nil)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", target, err)
	}

	var logger zerolog.Logger
	if opts.Logger != nil {
		logger = *opts.Logger
	} else {
		logger = log.With().Str("module", "client.transport").Logger()
	}
	logger = logger.With().Str("room", opts.Room).Str("user", opts.UserID).Logger()

	buffer := opts.SendBuffer
	if buffer <= 0 {
		buffer = defaultSendBuffer
	}
	ping := opts.PingPeriod
	if ping <= 0 {
		ping = defaultPingPeriod
	}

	t := &Transport{
		self:       protocol.Peer{UserID: opts.UserID, DisplayName: opts.DisplayName},
		conn:       ws,
		loop:       NewLoop(),
		hub:        NewHub(),
		logger:     logger,
		pingPeriod: ping,
		send:       make(chan []byte, buffer),
		state:      StateConnected,
	}
	logger.Info().Msg("connected")

	go t.writePump()
	go t.readPump()
	return t, nil
}

func (t *Transport) Self() protocol.Peer { return t.self }

// Send queues env for writing. It never blocks.
func (t *Transport) Send(env protocol.Envelope) error {
	data, err := protocol.Encode(env)
	if err != nil {
		return err
	}
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.closed {
		return ErrClosed
	}
	select {
	case t.send <- data:
		return nil
	default:
		return ErrBackpressure
	}
}

func (t *Transport) Subscribe(kind protocol.Kind, h Handler) (cancel func()) {
	return t.hub.Subscribe(kind, h)
}

func (t *Transport) OnStateChange(fn func(State)) (cancel func()) {
	return t.hub.OnStateChange(fn)
}

func (t *Transport) Post(fn func()) bool { return t.loop.Post(fn) }

func (t *Transport) Do(ctx context.Context, fn func()) error { return t.loop.Do(ctx, fn) }

func (t *Transport) State() State {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.state
}

// Done is closed once the connection is gone and every handler has returned.
func (t *Transport) Done() <-chan struct{} { return t.loop.Done() }

// Close flushes queued envelopes, sends a close frame and shuts down.
// It does not wait; use Done for that.
func (t *Transport) Close() error {
	t.closeSend()
	return nil
}

func (t *Transport) closeSend() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return
	}
	t.closed = true
	close(t.send)
}

func (t *Transport) writePump() {
	ticker := time.NewTicker(t.pingPeriod)
	defer func() {
		ticker.Stop()
		_ = t.conn.Close()
	}()

	for {
		select {
		case data, ok := <-t.send:
			_ = t.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = t.conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := t.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				t.logger.Warn().Err(err).Msg("writePump write error")
				return
			}
		case <-ticker.C:
			_ = t.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := t.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				t.logger.Warn().Err(err).Msg("writePump ping error")
				return
			}
		}
	}
}

func (t *Transport) readPump() {
	defer t.shutdown()

	pongWait := t.pingPeriod * 10 / 9
	_ = t.conn.SetReadDeadline(time.Now().Add(pongWait))
	t.conn.SetPongHandler(func(string) error {
		return t.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	// The registry pings too; answering resets our own deadline.
	t.conn.SetPingHandler(func(appData string) error {
		_ = t.conn.SetReadDeadline(time.Now().Add(pongWait))
		return t.conn.WriteControl(websocket.PongMessage, []byte(appData), time.Now().Add(writeWait))
	})

	for {
		msgType, data, err := t.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				t.logger.Warn().Err(err).Msg("readPump read error")
			}
			return
		}
		_ = t.conn.SetReadDeadline(time.Now().Add(pongWait))
		if msgType != websocket.TextMessage {
			continue
		}
		env, err := protocol.Decode(data)
		if err != nil {
			t.logger.Warn().Err(err).Msg("bad envelope")
			continue
		}
		t.loop.Post(func() {
			if t.hub.Dispatch(env) == 0 {
				t.logger.Debug().Str("type", string(env.Type)).Msg("no subscriber")
			}
		})
	}
}

func (t *Transport) shutdown() {
	t.closeSend()
	_ = t.conn.Close()

	t.mu.Lock()
	t.state = StateDisconnected
	t.mu.Unlock()
	t.logger.Info().Msg("disconnected")

	t.loop.Post(func() { t.hub.Notify(StateDisconnected) })
	t.loop.Stop()
}
