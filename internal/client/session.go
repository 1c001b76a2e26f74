// Package client wires the room subsystems of one participant onto a single
// signaling connection.
package client

import (
	"context"
	"errors"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/dkeye/StudyRoom/internal/client/call"
	"github.com/dkeye/StudyRoom/internal/client/canvas"
	"github.com/dkeye/StudyRoom/internal/client/media"
	"github.com/dkeye/StudyRoom/internal/client/presence"
	"github.com/dkeye/StudyRoom/internal/client/transport"
	"github.com/dkeye/StudyRoom/internal/client/typing"
	"github.com/dkeye/StudyRoom/internal/core"
	"github.com/gorilla/websocket"
	"github.com/pion/webrtc/v4"
)

type Options struct {
	Server      string
	Room        string
	UserID      string
	DisplayName string

	ICEServers []webrtc.ICEServer
	Devices    media.Devices
	// Factory overrides the pion media connections, mostly for tests.
	Factory core.MediaFactory

	HeartbeatInterval time.Duration
	Clock             clock.Clock
	Dialer            *websocket.Dialer
}

// Session is one participant in one room.
type Session struct {
	Transport *transport.Transport
	Call      *call.Manager
	Presence  *presence.Tracker
	Typing    *typing.Tracker
	Canvas    *canvas.Channel
}

func Dial(ctx context.Context, opts Options) (*Session, error) {
	tr, err := transport.Dial(ctx, transport.Options{
		Server:      opts.Server,
		Room:        opts.Room,
		UserID:      opts.UserID,
		DisplayName: opts.DisplayName,
		Dialer:      opts.Dialer,
	})
	if err != nil {
		return nil, err
	}
	mgr, err := call.New(tr, call.Options{
		Factory:    opts.Factory,
		ICEServers: opts.ICEServers,
		Devices:    opts.Devices,
		Clock:      opts.Clock,
	})
	if err != nil {
		_ = tr.Close()
		return nil, err
	}
	return &Session{
		Transport: tr,
		Call:      mgr,
		Presence:  presence.New(tr, presence.Options{Interval: opts.HeartbeatInterval, Clock: opts.Clock}),
		Typing:    typing.New(tr, typing.Options{Clock: opts.Clock}),
		Canvas:    canvas.New(tr),
	}, nil
}

// Done is closed when the signaling connection is gone.
func (s *Session) Done() <-chan struct{} { return s.Transport.Done() }

// Close leaves the call, stops typing and closes the connection after the
// goodbyes are flushed.
func (s *Session) Close() error {
	err := errors.Join(s.Call.Close(), s.Typing.Close())
	s.Presence.Close()
	return errors.Join(err, s.Transport.Close())
}
