package server

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/alfredjeanlab/zapline/internal/ledger"
	"github.com/alfredjeanlab/zapline/internal/metrics"
	"github.com/alfredjeanlab/zapline/internal/model"
	"github.com/alfredjeanlab/zapline/internal/store"
	"github.com/alfredjeanlab/zapline/internal/store/memstore"
)

func newTestServer(t *testing.T, st store.Store) (*OpsServer, http.Handler) {
	t.Helper()
	m := metrics.New()
	ops := NewOpsServer(st, ledger.New(m, nil, nil), m, nil)
	return ops, ops.NewHTTPHandler("")
}

func get(t *testing.T, h http.Handler, path string) (*httptest.ResponseRecorder, map[string]json.RawMessage) {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	var body map[string]json.RawMessage
	if strings.HasPrefix(rec.Header().Get("Content-Type"), "application/json") {
		if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
			t.Fatalf("decode %s: %v", path, err)
		}
	}
	return rec, body
}

func TestHealthAndReady(t *testing.T) {
	_, h := newTestServer(t, memstore.New())

	rec, _ := get(t, h, "/healthz")
	if rec.Code != http.StatusOK {
		t.Fatalf("healthz = %d", rec.Code)
	}
	rec, body := get(t, h, "/readyz")
	if rec.Code != http.StatusOK || string(body["status"]) != `"ready"` {
		t.Fatalf("readyz = %d %s", rec.Code, rec.Body.String())
	}
}

type brokenStore struct{ store.Store }

func (brokenStore) RunInTransaction(context.Context, func(store.Store) error) error {
	return errors.New("connection refused")
}

func TestReadyFailsWhenStoreIsDown(t *testing.T) {
	_, h := newTestServer(t, brokenStore{memstore.New()})
	rec, _ := get(t, h, "/readyz")
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("readyz = %d, want 503", rec.Code)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	m := metrics.New()
	m.ZapEventsRecorded.Inc()
	ops := NewOpsServer(memstore.New(), ledger.New(m, nil, nil), m, nil)

	rec := httptest.NewRecorder()
	ops.NewHTTPHandler("secret").ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("metrics = %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "zapline_zap_events_recorded_total 1") {
		t.Fatalf("metrics body missing counter:\n%s", rec.Body.String())
	}
}

func TestTotalsEndpoint(t *testing.T) {
	ctx := context.Background()
	ms := memstore.New()
	at := time.Unix(1700000000, 0)
	for _, c := range []model.ZapContribution{
		{TargetType: model.TargetGame, TargetID: "g1", AmountMsats: 2000, Source: model.SourceDirect},
		{TargetType: model.TargetGame, TargetID: "g1", AmountMsats: 500, Source: model.SourceForwarded},
		{TargetType: model.TargetGame, TargetID: "g2", AmountMsats: 9000, Source: model.SourceDirect},
		{TargetType: model.TargetPlatform, TargetID: model.PlatformTargetID, AmountMsats: 100, Source: model.SourceDirect},
	} {
		if _, err := ms.ApplyZapContribution(ctx, c, "ev", at); err != nil {
			t.Fatal(err)
		}
	}
	_, h := newTestServer(t, ms)

	for _, tc := range []struct {
		path  string
		code  int
		count int
		sum   string
	}{
		{"/v1/totals/GAME?target_id=g1", http.StatusOK, 2, "2500"},
		{"/v1/totals/game?target_id=g1&source=forwarded", http.StatusOK, 1, "500"},
		{"/v1/totals/GAME", http.StatusOK, 3, "11500"},
		{"/v1/totals/PLATFORM", http.StatusOK, 1, "100"},
		{"/v1/totals/GAME?target_id=missing", http.StatusOK, 0, "0"},
		{"/v1/totals/USER", http.StatusBadRequest, 0, ""},
		{"/v1/totals/GAME?source=sideways", http.StatusBadRequest, 0, ""},
	} {
		t.Run(tc.path, func(t *testing.T) {
			rec, body := get(t, h, tc.path)
			if rec.Code != tc.code {
				t.Fatalf("status = %d, want %d: %s", rec.Code, tc.code, rec.Body.String())
			}
			if tc.code != http.StatusOK {
				return
			}
			var totals []model.ZapLedgerTotal
			if err := json.Unmarshal(body["totals"], &totals); err != nil {
				t.Fatal(err)
			}
			if len(totals) != tc.count || string(body["total_msats"]) != tc.sum {
				t.Fatalf("got %d totals summing %s, want %d / %s", len(totals), body["total_msats"], tc.count, tc.sum)
			}
		})
	}
}

func TestRepliesEndpointHidesHidden(t *testing.T) {
	ctx := context.Background()
	ms := memstore.New()
	for _, r := range []*model.IngestedReply{
		{GameID: "g1", EventID: "r1", Content: "gg", EventCreatedAt: 10},
		{GameID: "g1", EventID: "r2", Content: "spam", EventCreatedAt: 11, IsHidden: true},
		{GameID: "g2", EventID: "r3", Content: "other", EventCreatedAt: 12},
	} {
		if _, err := ms.InsertReply(ctx, r); err != nil {
			t.Fatal(err)
		}
	}
	_, h := newTestServer(t, ms)

	rec, body := get(t, h, "/v1/games/g1/replies")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var replies []model.IngestedReply
	if err := json.Unmarshal(body["replies"], &replies); err != nil {
		t.Fatal(err)
	}
	if len(replies) != 1 || replies[0].EventID != "r1" {
		t.Fatalf("replies = %+v", replies)
	}
}

func TestGRPCHealth(t *testing.T) {
	ops, _ := newTestServer(t, memstore.New())
	srv := NewGRPCServer(ops, "secret")
	lis, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	go func() { _ = srv.Serve(lis) }()
	t.Cleanup(srv.Stop)

	conn, err := grpc.NewClient(lis.Addr().String(), grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { conn.Close() })
	client := healthpb.NewHealthClient(conn)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	check := func(service string) healthpb.HealthCheckResponse_ServingStatus {
		t.Helper()
		resp, err := client.Check(ctx, &healthpb.HealthCheckRequest{Service: service})
		if err != nil {
			t.Fatalf("Check(%q): %v", service, err)
		}
		return resp.GetStatus()
	}

	if got := check(ServiceName); got != healthpb.HealthCheckResponse_NOT_SERVING {
		t.Fatalf("before SetServing = %v", got)
	}
	ops.SetServing(true)
	if got := check(""); got != healthpb.HealthCheckResponse_SERVING {
		t.Fatalf("after SetServing = %v", got)
	}
	ops.Shutdown()
	if got := check(ServiceName); got != healthpb.HealthCheckResponse_NOT_SERVING {
		t.Fatalf("after Shutdown = %v", got)
	}
}
