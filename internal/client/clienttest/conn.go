// Package clienttest provides an in-memory transport.Conn and an in-process
// registry for client subsystem tests.
package clienttest

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/dkeye/StudyRoom/internal/client/transport"
	"github.com/dkeye/StudyRoom/internal/protocol"
)

// Conn records what a subsystem sends and lets a test deliver envelopes as
// if they came from the registry. Handlers run on a real event loop.
type Conn struct {
	self protocol.Peer
	loop *transport.Loop
	hub  *transport.Hub

	mu      sync.Mutex
	sent    []protocol.Envelope
	sendErr error
}

var _ transport.Conn = (*Conn)(nil)

func NewConn(t testing.TB, userID, displayName string) *Conn {
	c := &Conn{
		self: protocol.Peer{UserID: userID, DisplayName: displayName},
		loop: transport.NewLoop(),
		hub:  transport.NewHub(),
	}
	t.Cleanup(c.loop.Stop)
	return c
}

func (c *Conn) Self() protocol.Peer { return c.self }

func (c *Conn) Send(env protocol.Envelope) error {
	if err := env.Validate(); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sendErr != nil {
		return c.sendErr
	}
	c.sent = append(c.sent, env)
	return nil
}

func (c *Conn) Subscribe(kind protocol.Kind, h transport.Handler) func() {
	return c.hub.Subscribe(kind, h)
}

func (c *Conn) OnStateChange(fn func(transport.State)) func() {
	return c.hub.OnStateChange(fn)
}

func (c *Conn) Post(fn func()) bool { return c.loop.Post(fn) }

func (c *Conn) Do(ctx context.Context, fn func()) error { return c.loop.Do(ctx, fn) }

// Deliver dispatches env on the loop and waits for the handlers to return.
func (c *Conn) Deliver(t testing.TB, env protocol.Envelope) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := c.loop.Do(ctx, func() { c.hub.Dispatch(env) }); err != nil {
		t.Fatalf("deliver %s: %v", env.Type, err)
	}
}

// From delivers env stamped as coming from userID.
func (c *Conn) From(t testing.TB, userID string, env protocol.Envelope) {
	t.Helper()
	c.Deliver(t, env.Stamp(protocol.Peer{UserID: userID, DisplayName: userID}))
}

// Disconnect reports a lost connection to every state subscriber.
func (c *Conn) Disconnect(t testing.TB) {
	t.Helper()
	if err := c.loop.Do(context.Background(), func() { c.hub.Notify(transport.StateDisconnected) }); err != nil {
		t.Fatalf("disconnect: %v", err)
	}
}

// Flush waits until everything posted so far has run.
func (c *Conn) Flush(t testing.TB) {
	t.Helper()
	if err := c.loop.Do(context.Background(), func() {}); err != nil {
		t.Fatalf("flush: %v", err)
	}
}

// FailSends makes every following Send return err; nil restores.
func (c *Conn) FailSends(err error) {
	c.mu.Lock()
	c.sendErr = err
	c.mu.Unlock()
}

func (c *Conn) Sent() []protocol.Envelope {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]protocol.Envelope(nil), c.sent...)
}

func (c *Conn) SentOf(kind protocol.Kind) []protocol.Envelope {
	var out []protocol.Envelope
	for _, e := range c.Sent() {
		if e.Type == kind {
			out = append(out, e)
		}
	}
	return out
}

func (c *Conn) Reset() {
	c.mu.Lock()
	c.sent = nil
	c.mu.Unlock()
}
