package app

import (
	"testing"
	"time"

	"github.com/dkeye/StudyRoom/internal/core"
	"github.com/dkeye/StudyRoom/internal/domain"
	"github.com/stretchr/testify/require"
)

type nopSignal struct{}

func (nopSignal) TrySend(core.Frame) error { return nil }
func (nopSignal) Close()                   {}

func TestRegistryUnbindOnce(t *testing.T) {
	reg := NewRegistry()
	u, err := domain.NewUser("a", "A")
	require.NoError(t, err)
	sess := core.NewMemberSession(domain.NewMember(u, "R1", time.Now()), nopSignal{})

	canceled := 0
	reg.BindSession("s1", "R1", sess, func() { canceled++ })
	require.Equal(t, 1, reg.Count())

	room, _, ok := reg.RoomOf("s1")
	require.True(t, ok)
	require.Equal(t, domain.RoomID("R1"), room)

	require.True(t, reg.Cancel("s1"))
	require.Equal(t, 1, canceled)

	_, _, ok = reg.Unbind("s1")
	require.True(t, ok)
	_, _, ok = reg.Unbind("s1")
	require.False(t, ok)
	require.False(t, reg.Cancel("s1"))
}

func TestRoomManagerRemoveIfEmpty(t *testing.T) {
	m := NewRoomManager()
	room := m.GetOrCreate("R1")
	require.Same(t, room, m.GetOrCreate("R1"))

	u, err := domain.NewUser("a", "A")
	require.NoError(t, err)
	sess := core.NewMemberSession(domain.NewMember(u, "R1", time.Now()), nopSignal{})
	room.Join("s1", sess, time.Now(), nil)

	require.False(t, m.RemoveIfEmpty("R1"))
	require.Equal(t, []core.RoomInfo{{ID: "R1", MemberCount: 1}}, m.List())

	room.Leave("s1", nil)
	require.True(t, m.RemoveIfEmpty("R1"))
	_, ok := m.Get("R1")
	require.False(t, ok)
}

func TestSimplePolicyKicks(t *testing.T) {
	require.Equal(t, KickMember, SimplePolicy{}.OnBackPressure(nil, "s1"))
}
