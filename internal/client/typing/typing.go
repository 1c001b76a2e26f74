// Package typing tracks who in the room is typing and announces the local
// user's own typing activity.
package typing

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/dkeye/StudyRoom/internal/client/transport"
	"github.com/dkeye/StudyRoom/internal/protocol"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const (
	DefaultIdleTimeout = 3 * time.Second
	// DefaultRemoteTTL outlives the sender's idle timeout so a lost
	// typing-stop still clears the indicator.
	DefaultRemoteTTL = 4 * time.Second
)

type Options struct {
	IdleTimeout time.Duration
	RemoteTTL   time.Duration
	Clock       clock.Clock
	Logger      *zerolog.Logger
}

type Typer struct {
	UserID      string
	DisplayName string
}

func (t Typer) name() string {
	if t.DisplayName != "" {
		return t.DisplayName
	}
	return t.UserID
}

type remoteTyper struct {
	Typer
	seq   uint64
	timer *clock.Timer
	// gen tells a fired timer whether it is still the latest one
	gen uint64
}

type Tracker struct {
	conn   transport.Conn
	opts   Options
	logger zerolog.Logger
	self   string
	unsubs []func()

	// loop-owned
	typing  bool
	idle    *clock.Timer
	idleGen uint64
	remote  map[string]*remoteTyper
	seq     uint64

	listenMu  sync.Mutex
	listeners []func([]Typer)
}

func New(conn transport.Conn, opts Options) *Tracker {
	if opts.IdleTimeout <= 0 {
		opts.IdleTimeout = DefaultIdleTimeout
	}
	if opts.RemoteTTL <= 0 {
		opts.RemoteTTL = DefaultRemoteTTL
	}
	if opts.Clock == nil {
		opts.Clock = clock.New()
	}
	var logger zerolog.Logger
	if opts.Logger != nil {
		logger = *opts.Logger
	} else {
		logger = log.With().Str("module", "client.typing").Logger()
	}

	t := &Tracker{
		conn:   conn,
		opts:   opts,
		logger: logger,
		self:   conn.Self().UserID,
		remote: make(map[string]*remoteTyper),
	}
	t.unsubs = []func(){
		conn.Subscribe(protocol.KindTypingStart, t.onStart),
		conn.Subscribe(protocol.KindTypingStop, t.onStop),
		conn.Subscribe(protocol.KindPeerLeft, t.onStop),
		conn.OnStateChange(func(s transport.State) {
			if s == transport.StateDisconnected {
				t.reset(false)
			}
		}),
	}
	return t
}

// Keystroke records local typing activity. The first one announces
// typing-start; each one pushes the idle stop further out.
func (t *Tracker) Keystroke() {
	t.conn.Post(t.keystroke)
}

// Stop ends local typing now, e.g. when the message was sent.
func (t *Tracker) Stop() {
	t.conn.Post(t.stopLocal)
}

func (t *Tracker) keystroke() {
	if !t.typing {
		t.typing = true
		t.send(protocol.TypingStart())
	}
	if t.idle != nil {
		t.idle.Stop()
	}
	t.idleGen++
	gen := t.idleGen
	t.idle = t.opts.Clock.AfterFunc(t.opts.IdleTimeout, func() {
		t.conn.Post(func() {
			if t.idleGen == gen {
				t.stopLocal()
			}
		})
	})
}

func (t *Tracker) stopLocal() {
	if t.idle != nil {
		t.idle.Stop()
		t.idle = nil
	}
	t.idleGen++
	if !t.typing {
		return
	}
	t.typing = false
	t.send(protocol.TypingStop())
}

func (t *Tracker) send(env protocol.Envelope) {
	if err := t.conn.Send(env); err != nil {
		t.logger.Debug().Err(err).Str("type", string(env.Type)).Msg("send failed")
	}
}

func (t *Tracker) onStart(env protocol.Envelope) {
	if env.UserID == t.self || env.UserID == "" {
		return
	}
	r, ok := t.remote[env.UserID]
	if ok {
		r.timer.Stop()
		r.DisplayName = env.DisplayName
	} else {
		t.seq++
		r = &remoteTyper{Typer: Typer{UserID: env.UserID, DisplayName: env.DisplayName}, seq: t.seq}
		t.remote[env.UserID] = r
	}
	r.gen++
	gen := r.gen
	r.timer = t.opts.Clock.AfterFunc(t.opts.RemoteTTL, func() {
		t.conn.Post(func() {
			if t.remote[r.UserID] == r && r.gen == gen {
				t.logger.Debug().Str("peer", r.UserID).Msg("typing expired")
				delete(t.remote, r.UserID)
				t.changed()
			}
		})
	})
	if !ok {
		t.changed()
	}
}

func (t *Tracker) onStop(env protocol.Envelope) {
	r, ok := t.remote[env.UserID]
	if !ok {
		return
	}
	r.timer.Stop()
	delete(t.remote, env.UserID)
	t.changed()
}

func (t *Tracker) reset(announce bool) {
	if announce {
		t.stopLocal()
	} else {
		if t.idle != nil {
			t.idle.Stop()
			t.idle = nil
		}
		t.typing = false
	}
	if len(t.remote) == 0 {
		return
	}
	for id, r := range t.remote {
		r.timer.Stop()
		delete(t.remote, id)
	}
	t.changed()
}

// Close sends typing-stop if the local user was typing and detaches.
func (t *Tracker) Close() error {
	err := t.conn.Do(context.Background(), func() { t.reset(true) })
	for _, unsub := range t.unsubs {
		unsub()
	}
	if errors.Is(err, transport.ErrClosed) {
		return nil
	}
	return err
}

func (t *Tracker) OnChange(fn func([]Typer)) {
	t.listenMu.Lock()
	t.listeners = append(t.listeners, fn)
	t.listenMu.Unlock()
}

// Typers lists remote typers, earliest first.
func (t *Tracker) Typers(ctx context.Context) ([]Typer, error) {
	var out []Typer
	err := t.conn.Do(ctx, func() { out = t.typers() })
	return out, err
}

// Text is the indicator line for the current typers.
func (t *Tracker) Text(ctx context.Context) (string, error) {
	typers, err := t.Typers(ctx)
	if err != nil {
		return "", err
	}
	return Render(typers), nil
}

// Typing reports whether the local user is marked as typing.
func (t *Tracker) Typing(ctx context.Context) (bool, error) {
	var on bool
	err := t.conn.Do(ctx, func() { on = t.typing })
	return on, err
}

func (t *Tracker) typers() []Typer {
	rs := make([]*remoteTyper, 0, len(t.remote))
	for _, r := range t.remote {
		rs = append(rs, r)
	}
	slices.SortFunc(rs, func(a, b *remoteTyper) int {
		switch {
		case a.seq < b.seq:
			return -1
		case a.seq > b.seq:
			return 1
		}
		return 0
	})
	out := make([]Typer, len(rs))
	for i, r := range rs {
		out[i] = r.Typer
	}
	return out
}

func (t *Tracker) changed() {
	t.listenMu.Lock()
	fns := slices.Clone(t.listeners)
	t.listenMu.Unlock()
	if len(fns) == 0 {
		return
	}
	typers := t.typers()
	for _, fn := range fns {
		fn(typers)
	}
}

// Render formats the typing indicator line.
func Render(typers []Typer) string {
	switch len(typers) {
	case 0:
		return ""
	case 1:
		return fmt.Sprintf("%s is typing...", typers[0].name())
	case 2:
		return fmt.Sprintf("%s and %s are typing...", typers[0].name(), typers[1].name())
	default:
		return fmt.Sprintf("%s and %d others are typing...", typers[0].name(), len(typers)-1)
	}
}
