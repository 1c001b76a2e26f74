package core

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/dkeye/StudyRoom/internal/domain"
	"github.com/stretchr/testify/require"
)

type fakeSignal struct {
	mu     sync.Mutex
	frames []string
	full   bool
}

func (f *fakeSignal) TrySend(fr Frame) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.full {
		return errors.New("full")
	}
	f.frames = append(f.frames, string(fr))
	return nil
}

func (f *fakeSignal) Close() {}

func (f *fakeSignal) got() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.frames...)
}

func newSession(t *testing.T, id string, at time.Time) (MemberSession, *fakeSignal) {
	t.Helper()
	u, err := domain.NewUser(id, id)
	require.NoError(t, err)
	sig := &fakeSignal{}
	return NewMemberSession(domain.NewMember(u, "R1", at), sig), sig
}

func TestRoomJoinAnnouncesToOthersOnly(t *testing.T) {
	now := time.Unix(1000, 0)
	room := NewRoomService(&domain.Room{ID: "R1"})
	a, aSig := newSession(t, "a", now)
	b, bSig := newSession(t, "b", now.Add(time.Second))

	_, res := room.Join("sa", a, now, Frame("joined-a"))
	require.Equal(t, 0, res.SendTo)

	_, res = room.Join("sb", b, now, Frame("joined-b"))
	require.Equal(t, 1, res.SendTo)
	require.Equal(t, []string{"joined-b"}, aSig.got())
	require.Empty(t, bSig.got())

	snap := room.MembersSnapshot("sb")
	require.Len(t, snap, 1)
	require.Equal(t, domain.UserID("a"), snap[0].ID)
}

func TestRoomBroadcastNeverEchoes(t *testing.T) {
	now := time.Unix(1000, 0)
	room := NewRoomService(&domain.Room{ID: "R1"})
	a, aSig := newSession(t, "a", now)
	b, bSig := newSession(t, "b", now)
	room.Join("sa", a, now, nil)
	room.Join("sb", b, now, nil)

	res := room.Broadcast("sa", Frame("hello"))
	require.Equal(t, 1, res.SendTo)
	require.Empty(t, aSig.got())
	require.Equal(t, []string{"hello"}, bSig.got())
}

func TestRoomSendToAbsentUser(t *testing.T) {
	room := NewRoomService(&domain.Room{ID: "R1"})
	_, ok := room.SendTo("ghost", Frame("x"))
	require.False(t, ok)
}

func TestRoomDroppedOnFullQueue(t *testing.T) {
	now := time.Unix(1000, 0)
	room := NewRoomService(&domain.Room{ID: "R1"})
	a, _ := newSession(t, "a", now)
	b, bSig := newSession(t, "b", now)
	bSig.full = true
	room.Join("sa", a, now, nil)
	room.Join("sb", b, now, nil)

	res := room.Broadcast("sa", Frame("x"))
	require.Equal(t, []SessionID{"sb"}, res.Dropped)

	res, ok := room.SendTo("b", Frame("y"))
	require.True(t, ok)
	require.Equal(t, []SessionID{"sb"}, res.Dropped)
}

func TestRoomReplaceSameUser(t *testing.T) {
	now := time.Unix(1000, 0)
	room := NewRoomService(&domain.Room{ID: "R1"})
	a1, _ := newSession(t, "a", now)
	a2, a2Sig := newSession(t, "a", now)

	room.Join("s1", a1, now, nil)
	replaced, _ := room.Join("s2", a2, now, nil)
	require.Equal(t, SessionID("s1"), replaced)
	require.Equal(t, 1, room.MemberCount())

	// the stale session leaving must not evict the new one
	removed, _ := room.Leave("s1", Frame("left"))
	require.False(t, removed)
	sid, ok := room.SessionOf("a")
	require.True(t, ok)
	require.Equal(t, SessionID("s2"), sid)

	room.SendTo("a", Frame("hi"))
	require.Equal(t, []string{"hi"}, a2Sig.got())
}

func TestRoomLeaveAnnounces(t *testing.T) {
	now := time.Unix(1000, 0)
	room := NewRoomService(&domain.Room{ID: "R1"})
	a, aSig := newSession(t, "a", now)
	b, _ := newSession(t, "b", now)
	room.Join("sa", a, now, nil)
	room.Join("sb", b, now, nil)

	removed, res := room.Leave("sb", Frame("left-b"))
	require.True(t, removed)
	require.Equal(t, 1, res.SendTo)
	require.Equal(t, []string{"left-b"}, aSig.got())

	removed, _ = room.Leave("sb", Frame("left-b"))
	require.False(t, removed)
}

func TestRoomOnlineAndStale(t *testing.T) {
	t0 := time.Unix(1000, 0)
	room := NewRoomService(&domain.Room{ID: "R1"})
	a, _ := newSession(t, "a", t0)
	b, _ := newSession(t, "b", t0)
	room.Join("sa", a, t0, nil)
	room.Join("sb", b, t0, nil)

	require.True(t, room.Touch("sa", t0.Add(50*time.Second)))
	require.False(t, room.Touch("nobody", t0))

	now := t0.Add(70 * time.Second)
	require.Equal(t, []domain.UserID{"a"}, room.Online(now.Add(-60*time.Second)))
	require.Equal(t, []SessionID{"sb"}, room.Stale(now.Add(-60*time.Second)))
}
