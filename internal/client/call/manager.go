// Package call keeps one media link per remote peer in the room and owns
// the local camera, microphone and screen tracks sent over them.
package call

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/dkeye/StudyRoom/internal/adapters/rtc"
	"github.com/dkeye/StudyRoom/internal/client/media"
	"github.com/dkeye/StudyRoom/internal/client/transport"
	"github.com/dkeye/StudyRoom/internal/core"
	"github.com/dkeye/StudyRoom/internal/protocol"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const DefaultDisconnectGrace = 5 * time.Second

type Options struct {
	// Factory opens media connections. Nil means pion with ICEServers.
	Factory    core.MediaFactory
	ICEServers []webrtc.ICEServer
	Devices    media.Devices
	// DisconnectGrace is how long a disconnected link may try to recover.
	DisconnectGrace time.Duration
	Clock           clock.Clock
	Logger          *zerolog.Logger
}

// Manager is the peer connection manager. Every field below conn is owned
// by the transport event loop.
type Manager struct {
	conn   transport.Conn
	opts   Options
	clock  clock.Clock
	logger zerolog.Logger
	self   string
	unsubs []func()

	links       map[string]*peerLink
	remoteShare map[string]bool

	inCall    bool
	audioOnly bool
	local     *media.Stream
	joinSeq   int
	joining   bool

	screen       *media.Stream
	shareSeq     int
	sharePending bool

	closed bool

	listenMu  sync.Mutex
	listenID  int
	listeners map[int]func(Snapshot)
}

func New(conn transport.Conn, opts Options) (*Manager, error) {
	if opts.Factory == nil {
		f, err := rtc.NewFactory(opts.ICEServers)
		if err != nil {
			return nil, fmt.Errorf("media factory: %w", err)
		}
		opts.Factory = f
	}
	if opts.DisconnectGrace <= 0 {
		opts.DisconnectGrace = DefaultDisconnectGrace
	}
	clk := opts.Clock
	if clk == nil {
		clk = clock.New()
	}
	var logger zerolog.Logger
	if opts.Logger != nil {
		logger = *opts.Logger
	} else {
		logger = log.With().Str("module", "client.call").Logger()
	}
	self := conn.Self().UserID

	m := &Manager{
		conn:        conn,
		opts:        opts,
		clock:       clk,
		logger:      logger.With().Str("user", self).Logger(),
		self:        self,
		links:       make(map[string]*peerLink),
		remoteShare: make(map[string]bool),
		listeners:   make(map[int]func(Snapshot)),
	}
	m.unsubs = []func(){
		conn.Subscribe(protocol.KindPeersList, m.onPeersList),
		conn.Subscribe(protocol.KindPeerLeft, m.onPeerGone),
		conn.Subscribe(protocol.KindCallHangup, m.onPeerGone),
		conn.Subscribe(protocol.KindOffer, m.onOffer),
		conn.Subscribe(protocol.KindAnswer, m.onAnswer),
		conn.Subscribe(protocol.KindICE, m.onICE),
		conn.Subscribe(protocol.KindScreenShareStart, m.onRemoteShare),
		conn.Subscribe(protocol.KindScreenShareStop, m.onRemoteShare),
		conn.OnStateChange(func(s transport.State) {
			if s == transport.StateDisconnected {
				m.logger.Info().Msg("signaling lost, tearing down call")
				m.teardown(false)
			}
		}),
	}
	return m, nil
}

// OnChange registers fn to receive a snapshot after every state change.
// fn runs on the event loop.
func (m *Manager) OnChange(fn func(Snapshot)) (cancel func()) {
	m.listenMu.Lock()
	m.listenID++
	id := m.listenID
	m.listeners[id] = fn
	m.listenMu.Unlock()
	return func() {
		m.listenMu.Lock()
		delete(m.listeners, id)
		m.listenMu.Unlock()
	}
}

func (m *Manager) Snapshot(ctx context.Context) (Snapshot, error) {
	var s Snapshot
	err := m.conn.Do(ctx, func() { s = m.snapshot() })
	return s, err
}

func (m *Manager) snapshot() Snapshot {
	s := Snapshot{
		InCall:        m.inCall,
		AudioOnly:     m.audioOnly,
		ScreenSharing: m.screen != nil,
	}
	if m.local != nil {
		if a := m.local.Audio(); a != nil {
			s.AudioEnabled = a.Enabled()
		}
		if v := m.local.Video(); v != nil {
			s.VideoEnabled = v.Enabled()
		}
	}
	for _, l := range m.links {
		s.Links = append(s.Links, LinkInfo{
			PeerID:        l.peer,
			State:         l.state,
			Offerer:       l.offerer,
			IsScreenShare: m.remoteShare[l.peer],
			RemoteTracks:  l.remoteTracks,
		})
	}
	slices.SortFunc(s.Links, func(a, b LinkInfo) int {
		switch {
		case a.PeerID < b.PeerID:
			return -1
		case a.PeerID > b.PeerID:
			return 1
		}
		return 0
	})
	return s
}

func (m *Manager) changed() {
	m.listenMu.Lock()
	fns := make([]func(Snapshot), 0, len(m.listeners))
	for _, fn := range m.listeners {
		fns = append(fns, fn)
	}
	m.listenMu.Unlock()
	if len(fns) == 0 {
		return
	}
	s := m.snapshot()
	for _, fn := range fns {
		fn(s)
	}
}

func (m *Manager) send(env protocol.Envelope) {
	if err := m.conn.Send(env); err != nil {
		m.logger.Warn().Err(err).Str("type", string(env.Type)).Msg("send failed")
	}
}

// Close leaves the call and detaches from the transport.
func (m *Manager) Close() error {
	err := m.conn.Do(context.Background(), func() {
		m.teardown(true)
		m.closed = true
	})
	for _, unsub := range m.unsubs {
		unsub()
	}
	if errors.Is(err, transport.ErrClosed) {
		return nil
	}
	return err
}

// onPeersList makes this client the offerer toward every listed peer it
// has no link with yet.
func (m *Manager) onPeersList(env protocol.Envelope) {
	if !m.inCall {
		return
	}
	for _, p := range env.Peers {
		if p.UserID == m.self || m.links[p.UserID] != nil {
			continue
		}
		m.offerTo(p.UserID)
	}
}

func (m *Manager) offerTo(peer string) {
	l, err := m.newLink(peer, true)
	if err != nil {
		m.logger.Warn().Err(err).Str("peer", peer).Msg("create link")
		return
	}
	l.state = LinkNegotiating
	offer, err := l.mc.CreateOffer(false)
	if err != nil {
		m.logger.Warn().Err(err).Str("peer", peer).Msg("create offer")
		m.removeLink(l, LinkFailed)
		return
	}
	m.logger.Debug().Str("peer", peer).Msg("offer sent")
	m.send(protocol.Offer(peer, offer))
	m.changed()
}

// onOffer answers every offer, in a call or not. Outside a call the link
// only receives; JoinCall later adds the local tracks and renegotiates.
func (m *Manager) onOffer(env protocol.Envelope) {
	peer := env.UserID
	if peer == m.self {
		return
	}

	l := m.links[peer]
	switch {
	case l == nil:
	case l.mc.PendingLocalOffer() && m.self > peer:
		m.logger.Debug().Str("peer", peer).Msg("offer glare, keeping ours")
		return
	case l.mc.PendingLocalOffer() && !l.mc.HasRemoteDescription():
		m.logger.Debug().Str("peer", peer).Msg("offer glare, discarding our initial offer")
		m.removeLink(l, LinkClosed)
		l = nil
	case l.mc.PendingLocalOffer():
		m.logger.Debug().Str("peer", peer).Msg("offer glare, rolling back")
		if err := l.mc.Rollback(); err != nil {
			m.logger.Warn().Err(err).Str("peer", peer).Msg("rollback")
			m.removeLink(l, LinkFailed)
			return
		}
	}

	if l == nil {
		var err error
		if l, err = m.newLink(peer, false); err != nil {
			m.logger.Warn().Err(err).Str("peer", peer).Msg("create link")
			return
		}
	}
	if l.state == LinkNew {
		l.state = LinkNegotiating
	}
	answer, err := l.mc.ApplyOffer(*env.SDP)
	if err != nil {
		m.logger.Warn().Err(err).Str("peer", peer).Msg("apply offer")
		m.removeLink(l, LinkFailed)
		return
	}
	m.flushCandidates(l)
	m.send(protocol.Answer(peer, answer))
	m.changed()
}

func (m *Manager) onAnswer(env protocol.Envelope) {
	l := m.links[env.UserID]
	if l == nil || !l.mc.PendingLocalOffer() {
		m.logger.Debug().Str("peer", env.UserID).Msg("stale answer, dropped")
		return
	}
	if err := l.mc.ApplyAnswer(*env.SDP); err != nil {
		m.logger.Warn().Err(err).Str("peer", l.peer).Msg("apply answer")
		m.removeLink(l, LinkFailed)
		return
	}
	m.flushCandidates(l)
}

func (m *Manager) onICE(env protocol.Envelope) {
	l := m.links[env.UserID]
	if l == nil {
		m.logger.Debug().Str("peer", env.UserID).Msg("stale ICE candidate, dropped")
		return
	}
	if !l.mc.HasRemoteDescription() {
		l.pending = append(l.pending, *env.Candidate)
		return
	}
	if err := l.mc.AddICECandidate(*env.Candidate); err != nil {
		m.logger.Debug().Err(err).Str("peer", l.peer).Msg("add ICE candidate")
	}
}

func (m *Manager) flushCandidates(l *peerLink) {
	pending := l.pending
	l.pending = nil
	for _, c := range pending {
		if err := l.mc.AddICECandidate(c); err != nil {
			m.logger.Debug().Err(err).Str("peer", l.peer).Msg("add queued ICE candidate")
		}
	}
}

func (m *Manager) onPeerGone(env protocol.Envelope) {
	delete(m.remoteShare, env.UserID)
	if l := m.links[env.UserID]; l != nil {
		m.logger.Info().Str("peer", env.UserID).Str("type", string(env.Type)).Msg("peer gone, closing link")
		m.removeLink(l, LinkClosed)
	}
}

func (m *Manager) onRemoteShare(env protocol.Envelope) {
	on := env.Type == protocol.KindScreenShareStart
	if m.remoteShare[env.UserID] == on {
		return
	}
	if on {
		m.remoteShare[env.UserID] = true
	} else {
		delete(m.remoteShare, env.UserID)
	}
	m.changed()
}

// newLink opens a connection to peer with every local track attached and
// registers it. Callbacks from the connection are posted back to the loop
// and ignored once the link is no longer current.
func (m *Manager) newLink(peer string, offerer bool) (*peerLink, error) {
	mc, err := m.opts.Factory(peer)
	if err != nil {
		return nil, err
	}
	l := &peerLink{peer: peer, mc: mc, state: LinkNew, offerer: offerer}

	if err := m.attachLocal(l); err != nil {
		_ = mc.Close()
		return nil, err
	}

	mc.OnICECandidate(func(c webrtc.ICECandidateInit) {
		m.conn.Post(func() {
			if m.links[peer] == l {
				m.send(protocol.ICE(peer, c))
			}
		})
	})
	mc.OnICEStateChange(func(s webrtc.ICEConnectionState) {
		m.conn.Post(func() { m.onICEState(l, s) })
	})
	mc.OnTrack(func(tr core.RemoteTrack) {
		m.conn.Post(func() {
			if m.links[peer] == l {
				l.remoteTracks++
				m.changed()
			}
		})
		go drain(tr)
	})

	m.links[peer] = l
	if m.screen != nil {
		// a late joiner missed the original announcement
		share := protocol.ScreenShareStart()
		share.TargetUserID = peer
		m.send(share)
	}
	return l, nil
}

// attachLocal sends every local track on l and receives the kinds it has
// nothing to send for.
func (m *Manager) attachLocal(l *peerLink) error {
	if _, err := m.attachTracks(l); err != nil {
		return err
	}
	if l.audioSender == nil {
		if err := l.mc.AddRecvOnly(webrtc.RTPCodecTypeAudio); err != nil {
			return fmt.Errorf("recv audio: %w", err)
		}
	}
	if l.videoSender == nil {
		if err := l.mc.AddRecvOnly(webrtc.RTPCodecTypeVideo); err != nil {
			return fmt.Errorf("recv video: %w", err)
		}
	}
	return nil
}

// attachTracks adds the local tracks l does not carry yet and reports
// whether anything was added.
func (m *Manager) attachTracks(l *peerLink) (bool, error) {
	var audio, video *media.Track
	if m.local != nil {
		audio = m.local.Audio()
		video = m.local.Video()
	}
	if m.screen != nil {
		video = m.screen.Video()
	}

	added := false
	if audio != nil && l.audioSender == nil {
		s, err := l.mc.AddTrack(audio.Local())
		if err != nil {
			return added, fmt.Errorf("add audio: %w", err)
		}
		l.audioSender = s
		added = true
	}
	if video != nil && l.videoSender == nil {
		s, err := l.mc.AddTrack(video.Local())
		if err != nil {
			return added, fmt.Errorf("add video: %w", err)
		}
		l.videoSender = s
		added = true
	}
	return added, nil
}

func (m *Manager) onICEState(l *peerLink, s webrtc.ICEConnectionState) {
	if m.links[l.peer] != l {
		return
	}
	switch s {
	case webrtc.ICEConnectionStateConnected, webrtc.ICEConnectionStateCompleted:
		l.stopGrace()
		if l.state != LinkConnected {
			l.state = LinkConnected
			m.logger.Info().Str("peer", l.peer).Msg("link connected")
			m.changed()
		}
	case webrtc.ICEConnectionStateDisconnected:
		if l.state != LinkConnected {
			return
		}
		l.state = LinkDisconnected
		m.logger.Info().Str("peer", l.peer).Msg("link disconnected")
		l.grace = m.clock.AfterFunc(m.opts.DisconnectGrace, func() {
			m.conn.Post(func() {
				if m.links[l.peer] == l && l.state == LinkDisconnected {
					m.logger.Info().Str("peer", l.peer).Msg("link did not recover")
					m.removeLink(l, LinkFailed)
				}
			})
		})
		if l.offerer && !l.mc.PendingLocalOffer() {
			offer, err := l.mc.CreateOffer(true)
			if err != nil {
				m.logger.Warn().Err(err).Str("peer", l.peer).Msg("ICE restart offer")
			} else {
				m.send(protocol.Offer(l.peer, offer))
			}
		}
		m.changed()
	case webrtc.ICEConnectionStateFailed:
		m.removeLink(l, LinkFailed)
	case webrtc.ICEConnectionStateClosed:
		m.removeLink(l, LinkClosed)
	}
}

// renegotiate sends a fresh offer on an existing link after a sender was added.
func (m *Manager) renegotiate(l *peerLink) {
	if l.mc.PendingLocalOffer() {
		return
	}
	offer, err := l.mc.CreateOffer(false)
	if err != nil {
		m.logger.Warn().Err(err).Str("peer", l.peer).Msg("renegotiation offer")
		return
	}
	m.send(protocol.Offer(l.peer, offer))
}

func (m *Manager) removeLink(l *peerLink, final LinkState) {
	if m.links[l.peer] != l {
		return
	}
	delete(m.links, l.peer)
	l.stopGrace()
	l.state = final
	l.pending = nil
	if err := l.mc.Close(); err != nil {
		m.logger.Debug().Err(err).Str("peer", l.peer).Msg("close link")
	}
	m.logger.Debug().Str("peer", l.peer).Str("state", final.String()).Msg("link removed")
	m.changed()
}

// drain reads a remote track until it ends so its buffers never fill.
func drain(tr core.RemoteTrack) {
	for {
		if _, _, err := tr.ReadRTP(); err != nil {
			return
		}
	}
}
