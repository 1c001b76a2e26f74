package transport_test

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/dkeye/StudyRoom/internal/client/clienttest"
	"github.com/dkeye/StudyRoom/internal/client/transport"
	"github.com/dkeye/StudyRoom/internal/protocol"
	"github.com/pion/webrtc/v4"
	"github.com/stretchr/testify/require"
)

func dial(t *testing.T, server, room, user string) *transport.Transport {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	tr, err := transport.Dial(ctx, transport.Options{
		Server:      server,
		Room:        room,
		UserID:      user,
		DisplayName: "Name " + user,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = tr.Close() })
	return tr
}

// collector gathers envelopes of one kind as they are dispatched.
type collector struct {
	mu   sync.Mutex
	envs []protocol.Envelope
}

func (c *collector) handle(env protocol.Envelope) {
	c.mu.Lock()
	c.envs = append(c.envs, env)
	c.mu.Unlock()
}

func (c *collector) get() []protocol.Envelope {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]protocol.Envelope(nil), c.envs...)
}

func TestRoomURL(t *testing.T) {
	u, err := transport.RoomURL("http://localhost:8080", "R 1", "alice", "Alice A")
	require.NoError(t, err)
	require.Equal(t, "ws://localhost:8080/ws/room/R%201?display_name=Alice+A&user_id=alice", u)

	u, err = transport.RoomURL("https://example.com/base/", "R1", "bob", "")
	require.NoError(t, err)
	require.Equal(t, "wss://example.com/base/ws/room/R1?user_id=bob", u)

	_, err = transport.RoomURL("ftp://x", "R1", "bob", "")
	require.Error(t, err)
}

func TestTransportSubscribeAndFIFO(t *testing.T) {
	srv, _ := clienttest.NewRegistry(t)

	a := dial(t, srv.URL, "R1", "alice")
	joined := &collector{}
	ice := &collector{}
	a.Subscribe(protocol.KindPeerJoined, joined.handle)
	a.Subscribe(protocol.KindICE, ice.handle)

	peers := &collector{}
	a.Subscribe(protocol.KindPeersList, peers.handle)
	require.NoError(t, a.Send(protocol.GetPeers()))
	require.Eventually(t, func() bool { return len(peers.get()) == 1 }, 3*time.Second, 10*time.Millisecond)
	require.Empty(t, peers.get()[0].Peers)

	b := dial(t, srv.URL, "R1", "bob")
	require.Eventually(t, func() bool { return len(joined.get()) == 1 }, 3*time.Second, 10*time.Millisecond)
	require.Equal(t, protocol.Peer{UserID: "bob", DisplayName: "Name bob"}, joined.get()[0].From())

	const n = 50
	for i := 0; i < n; i++ {
		require.NoError(t, b.Send(protocol.ICE("alice", webrtc.ICECandidateInit{Candidate: fmt.Sprint(i)})))
	}
	require.Eventually(t, func() bool { return len(ice.get()) == n }, 3*time.Second, 10*time.Millisecond)
	for i, env := range ice.get() {
		require.Equal(t, fmt.Sprint(i), env.Candidate.Candidate)
		require.Equal(t, "bob", env.UserID)
	}
}

func TestTransportCloseNotifiesAndRejectsSends(t *testing.T) {
	srv, _ := clienttest.NewRegistry(t)
	a := dial(t, srv.URL, "R1", "alice")
	require.Equal(t, transport.StateConnected, a.State())

	states := make(chan transport.State, 1)
	a.OnStateChange(func(s transport.State) { states <- s })

	require.NoError(t, a.Close())
	select {
	case <-a.Done():
	case <-time.After(3 * time.Second):
		t.Fatal("transport did not shut down")
	}
	require.Equal(t, transport.StateDisconnected, <-states)
	require.Equal(t, transport.StateDisconnected, a.State())
	require.ErrorIs(t, a.Send(protocol.Heartbeat()), transport.ErrClosed)
	require.ErrorIs(t, a.Do(context.Background(), func() {}), transport.ErrClosed)
}

func TestTransportServerLossDisconnects(t *testing.T) {
	srv, o := clienttest.NewRegistry(t)
	a := dial(t, srv.URL, "R1", "alice")

	require.Eventually(t, func() bool { return o.Stats().Sessions == 1 }, 3*time.Second, 10*time.Millisecond)
	o.EvictRoom("R1")

	select {
	case <-a.Done():
	case <-time.After(3 * time.Second):
		t.Fatal("transport did not notice the lost connection")
	}
	require.Equal(t, transport.StateDisconnected, a.State())
}

func TestSendRejectsInvalidEnvelope(t *testing.T) {
	srv, _ := clienttest.NewRegistry(t)
	a := dial(t, srv.URL, "R1", "alice")
	require.ErrorIs(t, a.Send(protocol.Envelope{Type: protocol.KindOffer}), protocol.ErrMissingTarget)
}
