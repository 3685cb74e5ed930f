package publisher

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alfredjeanlab/zapline/internal/model"
	"github.com/alfredjeanlab/zapline/internal/nostr"
	"github.com/alfredjeanlab/zapline/internal/zaperr"
)

func TestNoteTags(t *testing.T) {
	g := testGame()
	tags := NoteTags("https://games.example/", &g, t0)
	assert.Equal(t, nostr.Tags{
		{"d", "g1"},
		{"title", "Space Miner"},
		{"summary", "Mine asteroids"},
		{"r", "https://games.example/games/space-miner"},
		{"published_at", "1700000000"},
		{"lud16", "dev@getalby.com"},
		{"zap", "dev@getalby.com", "lud16"},
	}, tags)

	bare := model.Game{ID: "g2", Title: "Bare"}
	assert.Equal(t, nostr.Tags{
		{"d", "g2"},
		{"title", "Bare"},
		{"r", "https://games.example/games/g2"},
		{"published_at", "1700000000"},
	}, NoteTags("https://games.example", &bare, t0))
}

func TestBuildNote(t *testing.T) {
	keys, err := nostr.ParseSecretKey(testSecret)
	require.NoError(t, err)
	g := testGame()

	ev, err := BuildNote(keys, "https://games.example", &g, t0)
	require.NoError(t, err)
	assert.Equal(t, nostr.KindLongFormArticle, ev.Kind)
	assert.Equal(t, t0.Unix(), ev.CreatedAt)
	assert.Equal(t, g.ReleaseNotes, ev.Content)
	require.NoError(t, nostr.VerifySignedEvent(ev))

	g.ReleaseNotes = "  "
	_, err = BuildNote(keys, "https://games.example", &g, t0)
	assert.True(t, zaperr.Is(err, zaperr.KindMalformedInput))
}
