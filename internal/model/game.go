package model

import "time"

// Game is the subset of the marketplace game record that release notes use.
type Game struct {
	ID               string `json:"id"`
	Slug             string `json:"slug,omitempty"`
	Title            string `json:"title"`
	Summary          string `json:"summary,omitempty"`
	ImageURL         string `json:"image_url,omitempty"`
	ReleaseNotes     string `json:"release_notes,omitempty"`
	LightningAddress string `json:"lightning_address,omitempty"`

	ReleaseNoteEventID     string     `json:"release_note_event_id,omitempty"`
	ReleaseNotePublishedAt *time.Time `json:"release_note_published_at,omitempty"`
}

// PathSegment is the slug when set, else the id.
func (g *Game) PathSegment() string {
	if g.Slug != "" {
		return g.Slug
	}
	return g.ID
}
