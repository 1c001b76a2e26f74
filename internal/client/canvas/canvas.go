// Package canvas relays stroke segments of the room's shared drawing
// surface. Nothing is stored: a late joiner starts blank.
package canvas

import (
	"github.com/dkeye/StudyRoom/internal/client/transport"
	"github.com/dkeye/StudyRoom/internal/protocol"
)

type Channel struct {
	conn transport.Conn
}

func New(conn transport.Conn) *Channel {
	return &Channel{conn: conn}
}

// Draw broadcasts one segment. Invalid segments are rejected locally.
func (c *Channel) Draw(d protocol.DrawData) error {
	if err := d.Validate(); err != nil {
		return err
	}
	return c.conn.Send(protocol.Draw(d))
}

func (c *Channel) Clear() error {
	return c.conn.Send(protocol.Clear())
}

// OnDraw calls fn on the event loop for every segment drawn by someone else.
func (c *Channel) OnDraw(fn func(from protocol.Peer, d protocol.DrawData)) (cancel func()) {
	return c.conn.Subscribe(protocol.KindCanvasDraw, func(env protocol.Envelope) {
		fn(env.From(), *env.DrawData)
	})
}

func (c *Channel) OnClear(fn func(from protocol.Peer)) (cancel func()) {
	return c.conn.Subscribe(protocol.KindCanvasClear, func(env protocol.Envelope) {
		fn(env.From())
	})
}
