// Package presence keeps a client's heartbeat going and mirrors the room's
// online set as the registry reports it.
package presence

import (
	"context"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/dkeye/StudyRoom/internal/client/transport"
	"github.com/dkeye/StudyRoom/internal/protocol"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const DefaultInterval = 30 * time.Second

type Options struct {
	Interval time.Duration
	Clock    clock.Clock
	Logger   *zerolog.Logger
}

// View is what the tracker currently knows about the room.
type View struct {
	Online  []string
	Members []protocol.Peer
}

type Tracker struct {
	conn   transport.Conn
	logger zerolog.Logger
	ticker *clock.Ticker
	stop   chan struct{}
	once   sync.Once
	unsubs []func()

	// loop-owned
	online  []string
	members map[string]string

	listenMu  sync.Mutex
	listeners []func(View)
}

// New attaches to conn: it sends a heartbeat and a roster request right
// away, then a heartbeat every Interval.
func New(conn transport.Conn, opts Options) *Tracker {
	if opts.Interval <= 0 {
		opts.Interval = DefaultInterval
	}
	if opts.Clock == nil {
		opts.Clock = clock.New()
	}
	var logger zerolog.Logger
	if opts.Logger != nil {
		logger = *opts.Logger
	} else {
		logger = log.With().Str("module", "client.presence").Logger()
	}

	t := &Tracker{
		conn:    conn,
		logger:  logger,
		stop:    make(chan struct{}),
		members: make(map[string]string),
	}
	t.unsubs = []func(){
		conn.Subscribe(protocol.KindPresenceUpdate, t.onPresence),
		conn.Subscribe(protocol.KindPeersList, t.onPeersList),
		conn.Subscribe(protocol.KindPeerJoined, t.onPeerJoined),
		conn.Subscribe(protocol.KindPeerLeft, t.onPeerLeft),
		conn.OnStateChange(func(s transport.State) {
			if s == transport.StateDisconnected {
				t.halt()
			}
		}),
	}

	t.beat()
	if err := conn.Send(protocol.GetPeers()); err != nil {
		t.logger.Warn().Err(err).Msg("get-peers")
	}
	t.ticker = opts.Clock.Ticker(opts.Interval)
	go t.run()
	return t
}

func (t *Tracker) run() {
	for {
		select {
		case <-t.ticker.C:
			t.beat()
		case <-t.stop:
			return
		}
	}
}

// beat sends one heartbeat. A lost one is corrected by the next.
func (t *Tracker) beat() {
	if err := t.conn.Send(protocol.Heartbeat()); err != nil {
		t.logger.Debug().Err(err).Msg("heartbeat not sent")
	}
}

func (t *Tracker) halt() {
	t.once.Do(func() {
		close(t.stop)
		if t.ticker != nil {
			t.ticker.Stop()
		}
	})
}

func (t *Tracker) Close() {
	t.halt()
	for _, unsub := range t.unsubs {
		unsub()
	}
}

// OnChange registers fn, called on the event loop after every update.
func (t *Tracker) OnChange(fn func(View)) {
	t.listenMu.Lock()
	t.listeners = append(t.listeners, fn)
	t.listenMu.Unlock()
}

func (t *Tracker) Online(ctx context.Context) ([]string, error) {
	var out []string
	err := t.conn.Do(ctx, func() { out = slices.Clone(t.online) })
	return out, err
}

func (t *Tracker) Members(ctx context.Context) ([]protocol.Peer, error) {
	var out []protocol.Peer
	err := t.conn.Do(ctx, func() { out = t.roster() })
	return out, err
}

func (t *Tracker) roster() []protocol.Peer {
	out := make([]protocol.Peer, 0, len(t.members))
	for id, name := range t.members {
		out = append(out, protocol.Peer{UserID: id, DisplayName: name})
	}
	slices.SortFunc(out, func(a, b protocol.Peer) int { return strings.Compare(a.UserID, b.UserID) })
	return out
}

func (t *Tracker) onPresence(env protocol.Envelope) {
	t.online = slices.Clone(env.Online)
	t.changed()
}

func (t *Tracker) onPeersList(env protocol.Envelope) {
	clear(t.members)
	for _, p := range env.Peers {
		t.members[p.UserID] = p.DisplayName
	}
	t.changed()
}

func (t *Tracker) onPeerJoined(env protocol.Envelope) {
	t.members[env.UserID] = env.DisplayName
	t.changed()
}

func (t *Tracker) onPeerLeft(env protocol.Envelope) {
	delete(t.members, env.UserID)
	t.changed()
}

func (t *Tracker) changed() {
	t.listenMu.Lock()
	fns := slices.Clone(t.listeners)
	t.listenMu.Unlock()
	if len(fns) == 0 {
		return
	}
	v := View{Online: slices.Clone(t.online), Members: t.roster()}
	for _, fn := range fns {
		fn(v)
	}
}
