package sync

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/alfredjeanlab/zapline/internal/model"
	"github.com/alfredjeanlab/zapline/internal/store/memstore"
)

func seedLedger(t *testing.T, ms *memstore.MemStore) {
	t.Helper()
	ctx := context.Background()
	at := time.Unix(1700000000, 0).UTC()
	for _, ev := range []*model.ZapLedgerEvent{
		{EventID: "bb", SenderPubkey: "pk", TotalMsats: 3000, PartCount: 2, EventCreatedAt: at, RecordedAt: at.Add(time.Second)},
		{EventID: "aa", SenderPubkey: "pk", TotalMsats: 1000, PartCount: 1, EventCreatedAt: at, RecordedAt: at},
	} {
		if _, err := ms.InsertZapLedgerEvent(ctx, ev); err != nil {
			t.Fatal(err)
		}
	}
	for _, c := range []model.ZapContribution{
		{TargetType: model.TargetGame, TargetID: "g1", AmountMsats: 2000, Source: model.SourceDirect},
		{TargetType: model.TargetPlatform, TargetID: model.PlatformTargetID, AmountMsats: 1000, Source: model.SourceDirect},
	} {
		if _, err := ms.ApplyZapContribution(ctx, c, "bb", at); err != nil {
			t.Fatal(err)
		}
	}
}

func TestExportJSONL_Empty(t *testing.T) {
	var buf bytes.Buffer
	at := time.Unix(1700000000, 0)
	if err := ExportJSONL(context.Background(), memstore.New(), &buf, at); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	lines := nonEmptyLines(buf.String())
	if len(lines) != 1 {
		t.Fatalf("expected 1 line (header only), got %d", len(lines))
	}

	var h header
	if err := json.Unmarshal([]byte(lines[0]), &h); err != nil {
		t.Fatalf("unmarshal header: %v", err)
	}
	if h.Version != "1" || h.Type != "header" || h.TotalCount != 0 || h.EventCount != 0 {
		t.Fatalf("unexpected header: %+v", h)
	}
	if !h.Timestamp.Equal(at) {
		t.Fatalf("timestamp = %v, want %v", h.Timestamp, at)
	}
}

func TestExportJSONL_TotalsThenEvents(t *testing.T) {
	ms := memstore.New()
	seedLedger(t, ms)

	var buf bytes.Buffer
	if err := ExportJSONL(context.Background(), ms, &buf, time.Now()); err != nil {
		t.Fatal(err)
	}
	lines := nonEmptyLines(buf.String())
	// 1 header + 2 totals + 2 events
	if len(lines) != 5 {
		t.Fatalf("expected 5 lines, got %d:\n%s", len(lines), buf.String())
	}

	var h header
	if err := json.Unmarshal([]byte(lines[0]), &h); err != nil {
		t.Fatal(err)
	}
	if h.TotalCount != 2 || h.EventCount != 2 {
		t.Fatalf("header = %+v", h)
	}

	var types []string
	for _, line := range lines[1:] {
		var r struct {
			Type string          `json:"type"`
			Data json.RawMessage `json:"data"`
		}
		if err := json.Unmarshal([]byte(line), &r); err != nil {
			t.Fatalf("unmarshal record: %v", err)
		}
		types = append(types, r.Type)
	}
	if strings.Join(types, ",") != "total,total,event,event" {
		t.Fatalf("record order = %v", types)
	}

	var first struct {
		Data model.ZapLedgerTotal `json:"data"`
	}
	if err := json.Unmarshal([]byte(lines[1]), &first); err != nil {
		t.Fatal(err)
	}
	if first.Data.TargetType != model.TargetGame || first.Data.TotalMsats != 2000 {
		t.Fatalf("first total = %+v", first.Data)
	}

	var ev struct {
		Data model.ZapLedgerEvent `json:"data"`
	}
	if err := json.Unmarshal([]byte(lines[3]), &ev); err != nil {
		t.Fatal(err)
	}
	if ev.Data.EventID != "aa" {
		t.Fatalf("events should be in recorded order, got %s first", ev.Data.EventID)
	}
}

func nonEmptyLines(s string) []string {
	var out []string
	for _, line := range strings.Split(s, "\n") {
		if strings.TrimSpace(line) != "" {
			out = append(out, line)
		}
	}
	return out
}
