package call

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"testing"

	"github.com/dkeye/StudyRoom/internal/client/media"
	"github.com/dkeye/StudyRoom/internal/core"
	"github.com/pion/interceptor"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
	"github.com/stretchr/testify/require"
)

type fakeSender struct {
	mu     sync.Mutex
	tracks []webrtc.TrackLocal
}

func (s *fakeSender) ReplaceTrack(t webrtc.TrackLocal) error {
	s.mu.Lock()
	s.tracks = append(s.tracks, t)
	s.mu.Unlock()
	return nil
}

func (s *fakeSender) current() webrtc.TrackLocal {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.tracks) == 0 {
		return nil
	}
	return s.tracks[len(s.tracks)-1]
}

// fakeMedia is a MediaConnection that keeps signaling state only.
type fakeMedia struct {
	peer string

	mu           sync.Mutex
	added        []webrtc.TrackLocal
	senders      []*fakeSender
	recvOnly     []webrtc.RTPCodecType
	offers       int
	restarts     int
	answers      int
	remote       bool
	pendingLocal bool
	candidates   []webrtc.ICECandidateInit
	closed       bool

	onICE   func(webrtc.ICECandidateInit)
	onState func(webrtc.ICEConnectionState)
	onTrack func(core.RemoteTrack)
}

var _ core.MediaConnection = (*fakeMedia)(nil)

func (f *fakeMedia) AddTrack(t webrtc.TrackLocal) (core.TrackSender, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s := &fakeSender{tracks: []webrtc.TrackLocal{t}}
	f.added = append(f.added, t)
	f.senders = append(f.senders, s)
	return s, nil
}

func (f *fakeMedia) AddRecvOnly(kind webrtc.RTPCodecType) error {
	f.mu.Lock()
	f.recvOnly = append(f.recvOnly, kind)
	f.mu.Unlock()
	return nil
}

func (f *fakeMedia) CreateOffer(iceRestart bool) (webrtc.SessionDescription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.offers++
	if iceRestart {
		f.restarts++
	}
	f.pendingLocal = true
	return webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: fmt.Sprintf("offer-%s-%d", f.peer, f.offers)}, nil
}

func (f *fakeMedia) ApplyOffer(offer webrtc.SessionDescription) (webrtc.SessionDescription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.pendingLocal {
		return webrtc.SessionDescription{}, errors.New("have-local-offer")
	}
	f.remote = true
	f.answers++
	return webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: "answer-to-" + offer.SDP}, nil
}

func (f *fakeMedia) ApplyAnswer(webrtc.SessionDescription) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.pendingLocal {
		return errors.New("no local offer")
	}
	f.pendingLocal = false
	f.remote = true
	return nil
}

func (f *fakeMedia) Rollback() error {
	f.mu.Lock()
	f.pendingLocal = false
	f.mu.Unlock()
	return nil
}

func (f *fakeMedia) HasRemoteDescription() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.remote
}

func (f *fakeMedia) PendingLocalOffer() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.pendingLocal
}

func (f *fakeMedia) AddICECandidate(c webrtc.ICECandidateInit) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.remote {
		return errors.New("no remote description")
	}
	f.candidates = append(f.candidates, c)
	return nil
}

func (f *fakeMedia) OnICECandidate(fn func(webrtc.ICECandidateInit)) {
	f.mu.Lock()
	f.onICE = fn
	f.mu.Unlock()
}

func (f *fakeMedia) OnICEStateChange(fn func(webrtc.ICEConnectionState)) {
	f.mu.Lock()
	f.onState = fn
	f.mu.Unlock()
}

func (f *fakeMedia) OnTrack(fn func(core.RemoteTrack)) {
	f.mu.Lock()
	f.onTrack = fn
	f.mu.Unlock()
}

func (f *fakeMedia) Close() error {
	f.mu.Lock()
	f.closed = true
	f.mu.Unlock()
	return nil
}

func (f *fakeMedia) state(s webrtc.ICEConnectionState) {
	f.mu.Lock()
	fn := f.onState
	f.mu.Unlock()
	fn(s)
}

func (f *fakeMedia) candidate(c string) {
	f.mu.Lock()
	fn := f.onICE
	f.mu.Unlock()
	fn(webrtc.ICECandidateInit{Candidate: c})
}

func (f *fakeMedia) track(tr core.RemoteTrack) {
	f.mu.Lock()
	fn := f.onTrack
	f.mu.Unlock()
	fn(tr)
}

func (f *fakeMedia) isClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

func (f *fakeMedia) appliedCandidates() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for _, c := range f.candidates {
		out = append(out, c.Candidate)
	}
	return out
}

func (f *fakeMedia) videoSender() *fakeSender {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i, t := range f.added {
		if t.Kind() == webrtc.RTPCodecTypeVideo {
			return f.senders[i]
		}
	}
	return nil
}

// fakeFactory hands out fakeMedia and remembers each one per peer.
type fakeFactory struct {
	mu    sync.Mutex
	conns map[string][]*fakeMedia
}

func newFakeFactory() *fakeFactory {
	return &fakeFactory{conns: make(map[string][]*fakeMedia)}
}

func (f *fakeFactory) open(peer string) (core.MediaConnection, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	mc := &fakeMedia{peer: peer}
	f.conns[peer] = append(f.conns[peer], mc)
	return mc, nil
}

func (f *fakeFactory) last(t *testing.T, peer string) *fakeMedia {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	all := f.conns[peer]
	require.NotEmpty(t, all, "no connection to %s", peer)
	return all[len(all)-1]
}

func (f *fakeFactory) count(peer string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.conns[peer])
}

// blockingSource yields nothing until closed.
type blockingSource struct {
	once   sync.Once
	closed chan struct{}
}

func newBlockingSource() *blockingSource {
	return &blockingSource{closed: make(chan struct{})}
}

func (s *blockingSource) ReadRTP() (*rtp.Packet, interceptor.Attributes, error) {
	<-s.closed
	return nil, nil, io.EOF
}

func (s *blockingSource) Close() error {
	s.once.Do(func() { close(s.closed) })
	return nil
}

// fakeDevices builds streams from blocking sources.
type fakeDevices struct {
	mu         sync.Mutex
	noCamera   bool
	noMic      bool
	screenErr  error
	screenSrc  *blockingSource
	userCalls  int
	gate       chan struct{}
	lastStream *media.Stream
}

func localTrack(kind webrtc.RTPCodecType, id string) *webrtc.TrackLocalStaticRTP {
	codec := webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8, ClockRate: 90000}
	if kind == webrtc.RTPCodecTypeAudio {
		codec = webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus, ClockRate: 48000, Channels: 2}
	}
	t, err := webrtc.NewTrackLocalStaticRTP(codec, id, "local")
	if err != nil {
		panic(err)
	}
	return t
}

func (d *fakeDevices) UserMedia(ctx context.Context, c media.Constraints) (*media.Stream, error) {
	d.mu.Lock()
	d.userCalls++
	gate := d.gate
	noCamera, noMic := d.noCamera, d.noMic
	d.mu.Unlock()
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if (c.Video && noCamera) || (c.Audio && noMic) {
		return nil, media.ErrDeviceUnavailable
	}
	var tracks []*media.Track
	if c.Audio {
		tracks = append(tracks, media.NewTrack(localTrack(webrtc.RTPCodecTypeAudio, "audio"), newBlockingSource()))
	}
	if c.Video {
		tracks = append(tracks, media.NewTrack(localTrack(webrtc.RTPCodecTypeVideo, "video"), newBlockingSource()))
	}
	s := media.NewStream("local", tracks...)
	d.mu.Lock()
	d.lastStream = s
	d.mu.Unlock()
	return s, nil
}

func (d *fakeDevices) DisplayMedia(ctx context.Context) (*media.Stream, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.screenErr != nil {
		return nil, d.screenErr
	}
	d.screenSrc = newBlockingSource()
	return media.NewStream("screen", media.NewTrack(localTrack(webrtc.RTPCodecTypeVideo, "screen"), d.screenSrc)), nil
}

// remoteTrack ends right away.
type remoteTrack struct{}

func (remoteTrack) ReadRTP() (*rtp.Packet, interceptor.Attributes, error) { return nil, nil, io.EOF }
func (remoteTrack) ID() string                                             { return "remote" }
func (remoteTrack) StreamID() string                                       { return "remote-stream" }
func (remoteTrack) Kind() webrtc.RTPCodecType                              { return webrtc.RTPCodecTypeVideo }
