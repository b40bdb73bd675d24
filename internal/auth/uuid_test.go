package auth

import (
	"regexp"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOfflineUUIDKnownValues(t *testing.T) {
	// ids the game server already has on record; the scheme must never drift
	cases := map[string]string{
		"Notch":  "b50ad385-829d-3141-a216-7e7d7539ba7f",
		"jeb_":   "a762f560-4fce-3236-812a-b80efff0b62b",
		"Player": "a01e3843-e521-3998-958a-f459800e4d11",
	}
	for username, want := range cases {
		assert.Equal(t, want, OfflineUUID(username), "username %q", username)
	}
}

func TestOfflineUUIDDeterministic(t *testing.T) {
	for _, username := range []string{"alice", "Bob", "Éléonore", "x", ""} {
		first := OfflineUUID(username)
		second := OfflineUUID(username)
		require.Equal(t, first, second, "username %q", username)
	}
}

func TestOfflineUUIDLayout(t *testing.T) {
	format := regexp.MustCompile(`^[0-9a-f]{8}-[0-9a-f]{4}-3[0-9a-f]{3}-[89ab][0-9a-f]{3}-[0-9a-f]{12}$`)
	for _, username := range []string{"alice", "bob", "somebody_else", "UPPER", "with space"} {
		id := OfflineUUID(username)
		require.Regexp(t, format, id, "username %q", username)
	}
}

func TestOfflineUUIDDistinctUsers(t *testing.T) {
	assert.NotEqual(t, OfflineUUID("alice"), OfflineUUID("bob"))
	// usernames are case sensitive in this scheme
	assert.NotEqual(t, OfflineUUID("alice"), OfflineUUID("Alice"))
}
