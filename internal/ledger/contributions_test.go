package ledger

import (
	"testing"

	"github.com/alfredjeanlab/zapline/internal/model"
	"github.com/alfredjeanlab/zapline/internal/nostr"
	"github.com/alfredjeanlab/zapline/internal/zaperr"
)

func TestParseContributions(t *testing.T) {
	for _, tc := range []struct {
		name string
		tags nostr.Tags
		want []model.ZapContribution
	}{
		{
			name: "game direct",
			tags: nostr.Tags{{TagZapTarget, "GAME", "g1", "21000"}},
			want: []model.ZapContribution{{TargetType: model.TargetGame, TargetID: "g1", AmountMsats: 21000, Source: model.SourceDirect}},
		},
		{
			name: "platform default id and lower case",
			tags: nostr.Tags{{TagZapTarget, "platform", "", "5", "forwarded"}},
			want: []model.ZapContribution{{TargetType: model.TargetPlatform, TargetID: "platform", AmountMsats: 5, Source: model.SourceForwarded}},
		},
		{
			name: "multi hop alias and unrelated tags",
			tags: nostr.Tags{
				{"p", "abc"},
				{TagZapTarget, "GAME", "g1", "7", "MULTI_HOP"},
				{TagZapTarget, "GAME", "g1", "3", ""},
			},
			want: []model.ZapContribution{
				{TargetType: model.TargetGame, TargetID: "g1", AmountMsats: 7, Source: model.SourceForwarded},
				{TargetType: model.TargetGame, TargetID: "g1", AmountMsats: 3, Source: model.SourceDirect},
			},
		},
		{
			name: "amount tag equal to sum",
			tags: nostr.Tags{{"amount", "10"}, {TagZapTarget, "GAME", "g", "4"}, {TagZapTarget, "PLATFORM", "", "6"}},
			want: []model.ZapContribution{
				{TargetType: model.TargetGame, TargetID: "g", AmountMsats: 4, Source: model.SourceDirect},
				{TargetType: model.TargetPlatform, TargetID: "platform", AmountMsats: 6, Source: model.SourceDirect},
			},
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			got, err := ParseContributions(nostr.Event{Tags: tc.tags})
			if err != nil {
				t.Fatalf("ParseContributions: %v", err)
			}
			if len(got) != len(tc.want) {
				t.Fatalf("got %d contributions, want %d", len(got), len(tc.want))
			}
			for i := range got {
				if got[i] != tc.want[i] {
					t.Errorf("[%d] = %+v, want %+v", i, got[i], tc.want[i])
				}
			}
		})
	}
}

func TestParseContributionsRejects(t *testing.T) {
	for _, tc := range []struct {
		name string
		tags nostr.Tags
	}{
		{"none", nostr.Tags{{"p", "x"}}},
		{"short", nostr.Tags{{TagZapTarget, "GAME", "g1"}}},
		{"unknown type", nostr.Tags{{TagZapTarget, "USER", "u", "1"}}},
		{"empty game id", nostr.Tags{{TagZapTarget, "GAME", "", "1"}}},
		{"zero", nostr.Tags{{TagZapTarget, "GAME", "g", "0"}}},
		{"negative", nostr.Tags{{TagZapTarget, "GAME", "g", "-1"}}},
		{"plus sign", nostr.Tags{{TagZapTarget, "GAME", "g", "+1"}}},
		{"decimal", nostr.Tags{{TagZapTarget, "GAME", "g", "1.5"}}},
		{"overflow", nostr.Tags{{TagZapTarget, "GAME", "g", "9223372036854775808"}}},
		{"sum overflow", nostr.Tags{{TagZapTarget, "GAME", "g", "9223372036854775807"}, {TagZapTarget, "GAME", "g", "1"}}},
		{"unknown source", nostr.Tags{{TagZapTarget, "GAME", "g", "1", "TELEPORT"}}},
		{"one bad voids all", nostr.Tags{{TagZapTarget, "GAME", "g", "1"}, {TagZapTarget, "GAME", "g", "x"}}},
		{"exceeds amount", nostr.Tags{{"amount", "5"}, {TagZapTarget, "GAME", "g", "6"}}},
	} {
		t.Run(tc.name, func(t *testing.T) {
			_, err := ParseContributions(nostr.Event{Tags: tc.tags})
			if !zaperr.Is(err, zaperr.KindMalformedInput) {
				t.Fatalf("err = %v, want MALFORMED_INPUT", err)
			}
		})
	}
}

func TestReceiptAmountAbsent(t *testing.T) {
	_, ok, err := ReceiptAmount(nostr.Event{Tags: nostr.Tags{{"p", "x"}}})
	if ok || err != nil {
		t.Fatalf("ok=%v err=%v", ok, err)
	}
}
