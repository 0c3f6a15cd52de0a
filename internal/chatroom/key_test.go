package chatroom

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDeriveIsCommutative(t *testing.T) {
	pairs := [][2]uint{{10, 20}, {20, 10}, {1, 999}, {999, 1}}
	require.Equal(t, "chat_10_20", Derive(10, 20))
	for _, pair := range pairs {
		require.Equal(t, Derive(pair[1], pair[0]), Derive(pair[0], pair[1]))
	}
}

func TestParseRoundTrip(t *testing.T) {
	a, b, err := Parse(Derive(42, 7))
	require.NoError(t, err)
	require.Equal(t, uint(7), a)
	require.Equal(t, uint(42), b)
}

func TestParseRejectsMalformedKeys(t *testing.T) {
	for _, key := range []string{
		"",
		"chat_",
		"chat_10",
		"chat_10_",
		"chat__20",
		"chat_abc_20",
		"chat_10_abc",
		"chat_20_10",
		"chat_10_10",
		"room_10_20",
		"chat_-1_20",
		"chat_01_2",
		"chat_1_02",
		"chat_+1_2",
	} {
		_, _, err := Parse(key)
		require.ErrorIs(t, err, ErrMalformedKey, "key %q", key)
	}
}

func TestHasMember(t *testing.T) {
	key := Derive(10, 20)
	require.True(t, HasMember(key, 10))
	require.True(t, HasMember(key, 20))
	require.False(t, HasMember(key, 30))
	require.False(t, HasMember("chat_broken", 10))
}
