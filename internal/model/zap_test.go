package model

import (
	"testing"
	"time"
)

func TestParseTargetType(t *testing.T) {
	for _, tc := range []struct {
		in     string
		want   TargetType
		wantOK bool
	}{
		{"GAME", TargetGame, true},
		{"game", TargetGame, true},
		{" Platform ", TargetPlatform, true},
		{"", "", false},
		{"USER", "", false},
	} {
		got, ok := ParseTargetType(tc.in)
		if ok != tc.wantOK || (ok && got != tc.want) {
			t.Errorf("ParseTargetType(%q) = %q, %v; want %q, %v", tc.in, got, ok, tc.want, tc.wantOK)
		}
	}
}

func TestParseZapSource(t *testing.T) {
	for _, tc := range []struct {
		in     string
		want   ZapSource
		wantOK bool
	}{
		{"", SourceDirect, true},
		{"DIRECT", SourceDirect, true},
		{"forwarded", SourceForwarded, true},
		{"MULTI_HOP", SourceForwarded, true},
		{"SIDEWAYS", "", false},
	} {
		got, ok := ParseZapSource(tc.in)
		if ok != tc.wantOK || got != tc.want {
			t.Errorf("ParseZapSource(%q) = %q, %v; want %q, %v", tc.in, got, ok, tc.want, tc.wantOK)
		}
	}
}

func TestZapSource_IsValid(t *testing.T) {
	if !SourceDirect.IsValid() || !SourceForwarded.IsValid() {
		t.Fatal("known sources must be valid")
	}
	if ZapSource("MULTI_HOP").IsValid() {
		t.Error("MULTI_HOP is an alias, not a stored source")
	}
}

func TestContributionTotalKey(t *testing.T) {
	c := ZapContribution{TargetType: TargetGame, TargetID: "g1", AmountMsats: 10, Source: SourceForwarded}
	want := TotalKey{TargetType: TargetGame, TargetID: "g1", Source: SourceForwarded}
	if got := c.TotalKey(); got != want {
		t.Errorf("TotalKey() = %+v, want %+v", got, want)
	}
}

func TestRelayCheckpoint_After(t *testing.T) {
	cp := RelayCheckpoint{LastEventCreatedAt: 100, LastEventID: "bb"}
	for _, tc := range []struct {
		createdAt int64
		id        string
		want      bool
	}{
		{101, "00", true},
		{99, "ff", false},
		{100, "bc", true},
		{100, "bb", false},
		{100, "ba", false},
	} {
		if got := cp.After(tc.createdAt, tc.id); got != tc.want {
			t.Errorf("After(%d, %q) = %v, want %v", tc.createdAt, tc.id, got, tc.want)
		}
	}
}

func TestGame_PathSegment(t *testing.T) {
	g := &Game{ID: "g1"}
	if got := g.PathSegment(); got != "g1" {
		t.Errorf("PathSegment() = %q, want g1", got)
	}
	g.Slug = "space-miner"
	if got := g.PathSegment(); got != "space-miner" {
		t.Errorf("PathSegment() = %q, want space-miner", got)
	}
	now := time.Now()
	g.ReleaseNotePublishedAt = &now
	if g.PathSegment() != "space-miner" {
		t.Error("publish stamp must not affect the path")
	}
}
