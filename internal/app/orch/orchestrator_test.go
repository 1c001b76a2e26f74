package orch

import (
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/dkeye/StudyRoom/internal/app"
	"github.com/dkeye/StudyRoom/internal/core"
	"github.com/dkeye/StudyRoom/internal/domain"
	"github.com/dkeye/StudyRoom/internal/protocol"
	"github.com/pion/webrtc/v4"
	"github.com/stretchr/testify/require"
)

type recSignal struct {
	mu     sync.Mutex
	got    []protocol.Envelope
	full   bool
	closed bool
}

func (r *recSignal) TrySend(f core.Frame) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return core.ErrConnClosed
	}
	if r.full {
		return errors.New("backpressure")
	}
	env, err := protocol.Decode(f)
	if err != nil {
		return err
	}
	r.got = append(r.got, env)
	return nil
}

func (r *recSignal) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
}

func (r *recSignal) envelopes() []protocol.Envelope {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]protocol.Envelope(nil), r.got...)
}

func (r *recSignal) kinds() []protocol.Kind {
	var out []protocol.Kind
	for _, e := range r.envelopes() {
		out = append(out, e.Type)
	}
	return out
}

func (r *recSignal) ofKind(k protocol.Kind) []protocol.Envelope {
	var out []protocol.Envelope
	for _, e := range r.envelopes() {
		if e.Type == k {
			out = append(out, e)
		}
	}
	return out
}

func (r *recSignal) reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.got = nil
}

func (r *recSignal) isClosed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.closed
}

type harness struct {
	o     *Orchestrator
	clock *clock.Mock
	seq   int
}

func newHarness() *harness {
	mock := clock.NewMock()
	mock.Set(time.Unix(10_000, 0))
	return &harness{
		clock: mock,
		o: &Orchestrator{
			Registry:     app.NewRegistry(),
			Rooms:        app.NewRoomManager(),
			Policy:       app.SimplePolicy{},
			Clock:        mock,
			HeartbeatTTL: 60 * time.Second,
			HardTimeout:  120 * time.Second,
		},
	}
}

func (h *harness) join(t *testing.T, room, user string) (core.SessionID, *recSignal) {
	t.Helper()
	u, err := domain.NewUser(user, "name-"+user)
	require.NoError(t, err)
	sig := &recSignal{}
	h.seq++
	sid := core.SessionID(fmt.Sprintf("%s/%s/%d", room, user, h.seq))
	sess := core.NewMemberSession(domain.NewMember(u, domain.RoomID(room), h.clock.Now()), sig)
	h.o.Register(sid, sess, sig.Close)
	return sid, sig
}

func TestEmptyRoomGetPeers(t *testing.T) {
	h := newHarness()
	a, aSig := h.join(t, "R1", "a")

	h.o.Route(a, protocol.GetPeers())

	lists := aSig.ofKind(protocol.KindPeersList)
	require.Len(t, lists, 1)
	require.Empty(t, lists[0].Peers)
	require.Empty(t, aSig.ofKind(protocol.KindOffer))
}

func TestJoinAnnouncesAndPeersListExcludesSender(t *testing.T) {
	h := newHarness()
	_, aSig := h.join(t, "R1", "a")
	b, bSig := h.join(t, "R1", "b")

	joined := aSig.ofKind(protocol.KindPeerJoined)
	require.Len(t, joined, 1)
	require.Equal(t, "b", joined[0].UserID)
	require.Equal(t, "name-b", joined[0].DisplayName)
	require.Empty(t, bSig.ofKind(protocol.KindPeerJoined))

	h.o.Route(b, protocol.GetPeers())
	lists := bSig.ofKind(protocol.KindPeersList)
	require.Len(t, lists, 1)
	require.Equal(t, []protocol.Peer{{UserID: "a", DisplayName: "name-a"}}, lists[0].Peers)
}

func TestUnicastStampsSenderAndKeepsOrder(t *testing.T) {
	h := newHarness()
	a, _ := h.join(t, "R1", "a")
	_, bSig := h.join(t, "R1", "b")
	_, cSig := h.join(t, "R1", "c")
	bSig.reset()

	offer := protocol.Offer("b", webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: "v=0"})
	offer.UserID = "spoofed"
	h.o.Route(a, offer)
	for i := 0; i < 5; i++ {
		h.o.Route(a, protocol.ICE("b", webrtc.ICECandidateInit{Candidate: "c" + string(rune('0'+i))}))
	}

	got := bSig.envelopes()
	require.Len(t, got, 6)
	require.Equal(t, protocol.KindOffer, got[0].Type)
	require.Equal(t, "a", got[0].UserID)
	require.Equal(t, "name-a", got[0].DisplayName)
	for i := 1; i < 6; i++ {
		require.Equal(t, "c"+string(rune('0'+i-1)), got[i].Candidate.Candidate)
	}
	require.Empty(t, cSig.ofKind(protocol.KindOffer))
	require.Empty(t, cSig.ofKind(protocol.KindICE))
}

func TestUnicastToAbsentPeerDropped(t *testing.T) {
	h := newHarness()
	a, aSig := h.join(t, "R1", "a")
	aSig.reset()

	h.o.Route(a, protocol.Answer("ghost", webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: "v=0"}))
	require.Empty(t, aSig.envelopes())
	require.Equal(t, 1, h.o.Registry.Count())
}

func TestBroadcastNoEchoAndRoomIsolation(t *testing.T) {
	h := newHarness()
	a, aSig := h.join(t, "R1", "a")
	_, bSig := h.join(t, "R1", "b")
	_, cSig := h.join(t, "R2", "c")
	aSig.reset()

	draw := protocol.Draw(protocol.DrawData{X: 10, Y: 10, Color: "#fff", Size: 3, Tool: protocol.ToolPen})
	h.o.Route(a, draw)

	require.Empty(t, aSig.ofKind(protocol.KindCanvasDraw))
	got := bSig.ofKind(protocol.KindCanvasDraw)
	require.Len(t, got, 1)
	require.Equal(t, *draw.DrawData, *got[0].DrawData)
	require.Equal(t, "a", got[0].UserID)
	require.Empty(t, cSig.ofKind(protocol.KindCanvasDraw))
}

func TestClientCannotForgeRegistryMessages(t *testing.T) {
	h := newHarness()
	a, _ := h.join(t, "R1", "a")
	_, bSig := h.join(t, "R1", "b")

	h.o.Route(a, protocol.PeerLeft("b"))
	require.Empty(t, bSig.ofKind(protocol.KindPeerLeft))
}

func TestUnregisterBroadcastsPeerLeftOnce(t *testing.T) {
	h := newHarness()
	_, aSig := h.join(t, "R1", "a")
	b, _ := h.join(t, "R1", "b")

	h.o.Unregister(b)
	h.o.Unregister(b)

	left := aSig.ofKind(protocol.KindPeerLeft)
	require.Len(t, left, 1)
	require.Equal(t, "b", left[0].UserID)

	updates := aSig.ofKind(protocol.KindPresenceUpdate)
	require.Equal(t, []string{"a"}, updates[len(updates)-1].Online)
}

func TestEmptyRoomRemoved(t *testing.T) {
	h := newHarness()
	a, _ := h.join(t, "R1", "a")
	h.o.Unregister(a)
	_, ok := h.o.Rooms.Get("R1")
	require.False(t, ok)
	require.Equal(t, Stats{}, h.o.Stats())
}

func TestSlowConsumerIsImplicitlyUnregistered(t *testing.T) {
	h := newHarness()
	a, aSig := h.join(t, "R1", "a")
	_, bSig := h.join(t, "R1", "b")
	bSig.mu.Lock()
	bSig.full = true
	bSig.mu.Unlock()

	h.o.Route(a, protocol.TypingStart())

	require.Equal(t, 1, h.o.Registry.Count())
	require.True(t, bSig.isClosed())
	left := aSig.ofKind(protocol.KindPeerLeft)
	require.Len(t, left, 1)
	require.Equal(t, "b", left[0].UserID)
}

func TestDuplicateIdentityReplacesEarlierConnection(t *testing.T) {
	h := newHarness()
	_, aSig := h.join(t, "R1", "a")
	_, b1Sig := h.join(t, "R1", "b")
	aSig.reset()

	_, b2Sig := h.join(t, "R1", "b")

	require.True(t, b1Sig.isClosed())
	require.False(t, b2Sig.isClosed())
	require.Equal(t, []protocol.Kind{
		protocol.KindPeerLeft,
		protocol.KindPresenceUpdate,
		protocol.KindPeerJoined,
		protocol.KindPresenceUpdate,
	}, aSig.kinds())

	members, ok := h.o.Members("R1")
	require.True(t, ok)
	require.Len(t, members, 2)
}

func TestPresenceTTL(t *testing.T) {
	h := newHarness()
	a, aSig := h.join(t, "R1", "a")
	b, _ := h.join(t, "R1", "b")

	h.clock.Add(50 * time.Second)
	h.o.Route(a, protocol.Heartbeat())
	h.clock.Add(20 * time.Second)

	aSig.reset()
	h.o.SweepPresence()

	updates := aSig.ofKind(protocol.KindPresenceUpdate)
	require.Len(t, updates, 1)
	require.Equal(t, []string{"a"}, updates[0].Online)

	members, _ := h.o.Members("R1")
	for _, m := range members {
		require.Equal(t, m.UserID == "a", m.Online)
	}

	// past the hard timeout b is dropped from the roster entirely
	h.clock.Add(60 * time.Second)
	h.o.Heartbeat(a)
	h.o.SweepPresence()
	_, _, ok := h.o.Registry.RoomOf(b)
	require.False(t, ok)
	require.NotEmpty(t, aSig.ofKind(protocol.KindPeerLeft))
}
