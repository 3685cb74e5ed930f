package ingest

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/alfredjeanlab/zapline/internal/events"
	"github.com/alfredjeanlab/zapline/internal/metrics"
	"github.com/alfredjeanlab/zapline/internal/model"
	"github.com/alfredjeanlab/zapline/internal/nostr"
	"github.com/alfredjeanlab/zapline/internal/queue"
	"github.com/alfredjeanlab/zapline/internal/relay"
	"github.com/alfredjeanlab/zapline/internal/store/memstore"
	"github.com/alfredjeanlab/zapline/internal/zaperr"
)

const (
	relayA     = "https://relay-a.example"
	relayB     = "https://relay-b.example"
	noteID     = "5c83da77af1dec6d7289834998ad7aafbd9e2191396d75ec3cc27f5a77226f36"
	testSecret = "0000000000000000000000000000000000000000000000000000000000000003"
)

type mockRelay struct {
	mock.Mock
}

func (m *mockRelay) Publish(ctx context.Context, relayURL string, ev nostr.Event) error {
	return m.Called(ctx, relayURL, ev).Error(0)
}

func (m *mockRelay) Query(ctx context.Context, relayURL string, q relay.QueryRequest) ([]json.RawMessage, error) {
	args := m.Called(ctx, relayURL, q)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]json.RawMessage), args.Error(1)
}

func reply(t *testing.T, createdAt int64, content string, tags ...nostr.Tag) (nostr.Event, json.RawMessage) {
	t.Helper()
	keys, err := nostr.ParseSecretKey(testSecret)
	require.NoError(t, err)
	ev, err := keys.SignEvent(createdAt, nostr.KindTextNote, nostr.Tags(tags), content)
	require.NoError(t, err)
	raw, err := ev.MarshalJSON()
	require.NoError(t, err)
	return ev, raw
}

func down(url string) error {
	return zaperr.Wrap(zaperr.KindTransientNetwork, "relay.query", &relay.APIError{RelayURL: url, StatusCode: 502, Message: "bad gateway"})
}

type harness struct {
	in      *Ingestor
	relay   *mockRelay
	store   *memstore.MemStore
	queue   *queue.MemoryQueue
	events  *events.RecordingPublisher
	metrics *metrics.Metrics
	now     time.Time
}

func (h *harness) clock() time.Time { return h.now }

func (h *harness) advance(d time.Duration) { h.now = h.now.Add(d) }

func newHarness(t *testing.T, relays ...string) *harness {
	t.Helper()
	if len(relays) == 0 {
		relays = []string{relayA, relayB}
	}
	h := &harness{
		relay:   new(mockRelay),
		store:   memstore.New(),
		queue:   queue.NewMemoryQueue(1),
		events:  &events.RecordingPublisher{},
		metrics: metrics.New(),
		now:     time.Unix(1700001000, 0),
	}
	h.queue.SetClock(h.clock)
	var err error
	h.in, err = New(Config{Relays: relays, LookbackSeconds: 600, QueryLimit: 50}, h.relay, h.store, h.queue,
		WithEvents(h.events),
		WithMetrics(h.metrics),
		WithClock(h.clock),
	)
	require.NoError(t, err)
	return h
}

func (h *harness) enqueue(t *testing.T, id string) {
	t.Helper()
	require.NoError(t, h.queue.Enqueue(context.Background(), model.ReplyJob{
		ID: id, GameID: "g1", ReleaseNoteEventID: noteID, PublishedAt: 1700000000,
	}))
}

func TestProcessNextEmptyShard(t *testing.T) {
	h := newHarness(t)
	worked, err := h.in.ProcessNext(context.Background(), 0, 1)
	require.NoError(t, err)
	assert.False(t, worked)
	assert.Empty(t, h.relay.Calls)
}

func TestProcessNextRejectsBadShard(t *testing.T) {
	h := newHarness(t)
	for _, tc := range [][2]int{{1, 1}, {-1, 2}, {0, 0}} {
		_, err := h.in.ProcessNext(context.Background(), tc[0], tc[1])
		assert.True(t, zaperr.Is(err, zaperr.KindConfiguration), "shard %v: %v", tc, err)
	}
}

func TestProcessNextPartialSuccess(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.enqueue(t, "job-1")

	first, rawFirst := reply(t, 1700000100, "nice update", nostr.Tag{"e", noteID})
	second, rawSecond := reply(t, 1700000200, "<3", nostr.Tag{"p", "x"}, nostr.Tag{"e", noteID, "", "reply"})
	_, unrelated := reply(t, 1700000300, "other thread", nostr.Tag{"e", "ff"})
	malformed := json.RawMessage(`{"id":"abc","content":"missing fields"}`)

	h.relay.On("Query", mock.Anything, relayA, relay.QueryRequest{EventID: noteID, Since: 1700000000 - 600, Limit: 50}).
		Return([]json.RawMessage{rawFirst, malformed, unrelated, rawSecond}, nil).Once()
	h.relay.On("Query", mock.Anything, relayB, mock.Anything).Return(nil, down(relayB)).Once()

	worked, err := h.in.ProcessNext(ctx, 0, 1)
	require.NoError(t, err)
	require.True(t, worked)
	h.relay.AssertExpectations(t)

	assert.Equal(t, 0, h.queue.Len(0), "job with one good relay is acked")
	assert.Equal(t, 0, h.queue.InFlight())

	replies, err := h.store.ListReplies(ctx, "g1")
	require.NoError(t, err)
	require.Len(t, replies, 2)
	assert.Equal(t, first.ID, replies[0].EventID)
	assert.Equal(t, second.ID, replies[1].EventID)
	assert.Equal(t, relayA, replies[0].RelayURL)
	assert.False(t, replies[0].IsHidden)

	cp, err := h.store.GetRelayCheckpoint(ctx, relayA)
	require.NoError(t, err)
	assert.Equal(t, int64(1700000200), cp.LastEventCreatedAt)
	assert.Equal(t, second.ID, cp.LastEventID)
	_, err = h.store.GetRelayCheckpoint(ctx, relayB)
	assert.Error(t, err, "failed relay gets no checkpoint")

	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.ReplyParseFailures))
	assert.Equal(t, 2.0, testutil.ToFloat64(h.metrics.RepliesStored))
	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.RelayQueryTotal.WithLabelValues(relayB, metrics.ResultFailure)))
	assert.Len(t, h.events.Topic(events.TopicReplyIngested), 2)
}

func TestProcessNextAllRelaysFailedNacks(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.enqueue(t, "job-1")
	h.relay.On("Query", mock.Anything, mock.Anything, mock.Anything).Return(nil, down("any"))

	worked, err := h.in.ProcessNext(ctx, 0, 1)
	require.NoError(t, err)
	require.True(t, worked)

	require.Equal(t, 1, h.queue.Len(0))
	d, err := h.queue.Dequeue(ctx, 0, 1)
	require.NoError(t, err)
	assert.Nil(t, d, "nacked job is held back for the backoff")

	h.advance(h.in.Backoff(1))
	d, err = h.queue.Dequeue(ctx, 0, 1)
	require.NoError(t, err)
	require.NotNil(t, d)
	assert.Equal(t, "job-1", d.Job.ID)
	assert.Equal(t, 1, d.Job.Attempt)
	assert.Equal(t, queue.ReasonAllRelaysFailed, d.Job.Reason)
	assert.Equal(t, h.now.Unix(), d.Job.NotBefore)
	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.ReplyJobsNacked))
}

func callsTo(r *mockRelay, url string) int {
	n := 0
	for _, c := range r.Calls {
		if c.Method == "Query" && c.Arguments.String(1) == url {
			n++
		}
	}
	return n
}

func TestRunDoesNotSpinOnFailingRelay(t *testing.T) {
	h := newHarness(t, relayA)
	h.enqueue(t, "job-1")
	h.relay.On("Query", mock.Anything, relayA, mock.Anything).Return(nil, down(relayA))

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	require.NoError(t, h.in.Run(ctx, 0, 1, time.Hour))

	assert.Equal(t, 1, callsTo(h.relay, relayA))
	assert.Equal(t, 1, h.queue.Len(0))
}

func TestFailingRelayIsSkippedUntilBackoffPasses(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.relay.On("Query", mock.Anything, relayA, mock.Anything).Return(nil, down(relayA))
	h.relay.On("Query", mock.Anything, relayB, mock.Anything).Return([]json.RawMessage{}, nil)

	h.enqueue(t, "job-1")
	_, err := h.in.ProcessNext(ctx, 0, 1)
	require.NoError(t, err)

	h.enqueue(t, "job-2")
	_, err = h.in.ProcessNext(ctx, 0, 1)
	require.NoError(t, err)
	assert.Equal(t, 1, callsTo(h.relay, relayA), "relay inside its backoff window is not queried")
	assert.Equal(t, 2, callsTo(h.relay, relayB))
	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.RelayQueryTotal.WithLabelValues(relayA, metrics.ResultSkipped)))

	// The second failure doubles the window.
	h.advance(h.in.Backoff(1))
	h.enqueue(t, "job-3")
	_, err = h.in.ProcessNext(ctx, 0, 1)
	require.NoError(t, err)
	assert.Equal(t, 2, callsTo(h.relay, relayA))

	h.advance(h.in.Backoff(1))
	h.enqueue(t, "job-4")
	_, err = h.in.ProcessNext(ctx, 0, 1)
	require.NoError(t, err)
	assert.Equal(t, 2, callsTo(h.relay, relayA))
	assert.Equal(t, 0, h.queue.Len(0), "jobs with one healthy relay are acked")
}

func TestCheckpointNeverRegresses(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, relayA)

	newer, rawNewer := reply(t, 1700000500, "newer", nostr.Tag{"e", noteID})
	_, rawOlder := reply(t, 1700000100, "older", nostr.Tag{"e", noteID})

	h.enqueue(t, "job-1")
	h.relay.On("Query", mock.Anything, relayA, mock.MatchedBy(func(q relay.QueryRequest) bool {
		return q.Since == 1700000000-600
	})).Return([]json.RawMessage{rawNewer}, nil).Once()
	_, err := h.in.ProcessNext(ctx, 0, 1)
	require.NoError(t, err)

	h.enqueue(t, "job-2")
	h.relay.On("Query", mock.Anything, relayA, mock.MatchedBy(func(q relay.QueryRequest) bool {
		return q.Since == 1700000500
	})).Return([]json.RawMessage{rawOlder}, nil).Once()
	_, err = h.in.ProcessNext(ctx, 0, 1)
	require.NoError(t, err)
	h.relay.AssertExpectations(t)

	cp, err := h.store.GetRelayCheckpoint(ctx, relayA)
	require.NoError(t, err)
	assert.Equal(t, int64(1700000500), cp.LastEventCreatedAt)
	assert.Equal(t, newer.ID, cp.LastEventID)

	replies, _ := h.store.ListReplies(ctx, "g1")
	assert.Len(t, replies, 2, "older replies are still stored")
}

func TestDuplicateRepliesAcrossRelaysStoredOnce(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.enqueue(t, "job-1")
	_, raw := reply(t, 1700000100, "same", nostr.Tag{"e", noteID})
	h.relay.On("Query", mock.Anything, mock.Anything, mock.Anything).Return([]json.RawMessage{raw}, nil)

	_, err := h.in.ProcessNext(ctx, 0, 1)
	require.NoError(t, err)

	replies, _ := h.store.ListReplies(ctx, "g1")
	assert.Len(t, replies, 1)
	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.RepliesStored))
	for _, url := range []string{relayA, relayB} {
		cp, err := h.store.GetRelayCheckpoint(ctx, url)
		require.NoError(t, err, url)
		assert.Equal(t, int64(1700000100), cp.LastEventCreatedAt)
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	h := newHarness(t)
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	assert.NoError(t, h.in.Run(ctx, 0, 1, 5*time.Millisecond))
}

func TestRunRejectsBadShard(t *testing.T) {
	h := newHarness(t)
	err := h.in.Run(context.Background(), 3, 2, time.Millisecond)
	assert.True(t, zaperr.Is(err, zaperr.KindConfiguration))
}

func TestNewRequiresRelays(t *testing.T) {
	_, err := New(Config{}, new(mockRelay), memstore.New(), queue.NewMemoryQueue(1))
	assert.True(t, zaperr.Is(err, zaperr.KindConfiguration))
}
