package publisher

import (
	"strconv"
	"strings"
	"time"

	"github.com/alfredjeanlab/zapline/internal/model"
	"github.com/alfredjeanlab/zapline/internal/nostr"
	"github.com/alfredjeanlab/zapline/internal/zaperr"
)

// CanonicalURL is the public page of a game under siteURL.
func CanonicalURL(siteURL string, g *model.Game) string {
	return strings.TrimRight(siteURL, "/") + "/games/" + g.PathSegment()
}

// NoteTags builds the kind-30023 tag list for a game's release note.
func NoteTags(siteURL string, g *model.Game, publishedAt time.Time) nostr.Tags {
	tags := nostr.Tags{
		{"d", g.ID},
		{"title", g.Title},
	}
	if g.Summary != "" {
		tags = append(tags, nostr.Tag{"summary", g.Summary})
	}
	if g.ImageURL != "" {
		tags = append(tags, nostr.Tag{"image", g.ImageURL})
	}
	tags = append(tags,
		nostr.Tag{"r", CanonicalURL(siteURL, g)},
		nostr.Tag{"published_at", strconv.FormatInt(publishedAt.Unix(), 10)},
	)
	if g.LightningAddress != "" {
		tags = append(tags,
			nostr.Tag{"lud16", g.LightningAddress},
			nostr.Tag{"zap", g.LightningAddress, "lud16"},
		)
	}
	return tags
}

// BuildNote signs the release note for g as of publishedAt.
func BuildNote(keys nostr.Keys, siteURL string, g *model.Game, publishedAt time.Time) (nostr.Event, error) {
	const op = "publisher.BuildNote"
	if strings.TrimSpace(g.Title) == "" {
		return nostr.Event{}, zaperr.Newf(zaperr.KindMalformedInput, op, "game %s has no title", g.ID)
	}
	if strings.TrimSpace(g.ReleaseNotes) == "" {
		return nostr.Event{}, zaperr.Newf(zaperr.KindMalformedInput, op, "game %s has no release notes", g.ID)
	}
	return keys.SignEvent(publishedAt.Unix(), nostr.KindLongFormArticle, NoteTags(siteURL, g, publishedAt), g.ReleaseNotes)
}
