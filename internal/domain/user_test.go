package domain

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewUser(t *testing.T) {
	u, err := NewUser(" alice ", "")
	require.NoError(t, err)
	require.Equal(t, UserID("alice"), u.ID)
	require.Equal(t, DefaultDisplayName, u.DisplayName)

	_, err = NewUser("", "Bob")
	require.ErrorIs(t, err, ErrUserIDEmpty)

	_, err = NewUser(strings.Repeat("x", MaxUserIDLen+1), "Bob")
	require.ErrorIs(t, err, ErrUserIDTooLong)

	_, err = NewUser("bob", strings.Repeat("x", MaxDisplayNameLen+1))
	require.ErrorIs(t, err, ErrDisplayNameTooLong)
}

func TestParseRoomID(t *testing.T) {
	id, err := ParseRoomID("R1")
	require.NoError(t, err)
	require.Equal(t, RoomID("R1"), id)

	_, err = ParseRoomID("  ")
	require.ErrorIs(t, err, ErrRoomIDEmpty)
}
