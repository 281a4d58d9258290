package eventservice

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/telhawk-systems/eventfeed/internal/mockfeed"
	"github.com/telhawk-systems/eventfeed/pkg/autopoll"
	"github.com/telhawk-systems/eventfeed/pkg/correlation"
	"github.com/telhawk-systems/eventfeed/pkg/credentials"
	"github.com/telhawk-systems/eventfeed/pkg/dispatcher"
	"github.com/telhawk-systems/eventfeed/pkg/model"
	"github.com/telhawk-systems/eventfeed/pkg/sdkerr"
	"github.com/telhawk-systems/eventfeed/pkg/session"
)

type recorder struct {
	mu           sync.Mutex
	events       []model.Record
	correlations []model.L2Correlation
	pcaps        int
}

func (r *recorder) Handle(ctx context.Context, topic dispatcher.Topic, msg *dispatcher.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	switch topic {
	case dispatcher.TopicEvent:
		r.events = append(r.events, msg.Events...)
	case dispatcher.TopicCorrelation:
		r.correlations = append(r.correlations, msg.Correlations...)
	case dispatcher.TopicPcap:
		r.pcaps++
	}
	return nil
}

func (r *recorder) snapshot() (events, correlations, pcaps int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.events), len(r.correlations), r.pcaps
}

type fixture struct {
	mock *mockfeed.Server
	svc  *Service
}

func newFixture(t *testing.T, mockCfg mockfeed.Config, poll PollOptions, correlate bool) *fixture {
	t.Helper()
	mockCfg.Seed = 1
	mock := mockfeed.New(mockCfg)
	ts := httptest.NewServer(mock.Handler())
	t.Cleanup(ts.Close)

	cred, err := credentials.New(context.Background(), credentials.Options{
		ClientID:     mock.ClientID(),
		ClientSecret: mock.ClientSecret(),
		RefreshToken: mock.IssueRefreshToken(),
		TokenURL:     ts.URL + mockfeed.TokenPath,
		RevokeURL:    ts.URL + mockfeed.RevokePath,
	})
	require.NoError(t, err)

	opts := session.Options{}
	if correlate {
		cfg := correlation.DefaultConfig()
		opts.Correlation = &cfg
	}
	sess := session.New(BaseURL(ts.URL, ""), cred, opts)
	svc := New(sess, Options{Poll: poll, Sleep: 10 * time.Millisecond})
	t.Cleanup(func() {
		svc.Pause()
		svc.sched.Wait()
	})
	return &fixture{mock: mock, svc: svc}
}

func TestBaseURL(t *testing.T) {
	assert.Equal(t, "https://api.example.com/event-service/v1/channels/EventFilter", BaseURL("https://api.example.com/", ""))
	assert.Equal(t, "https://api.example.com/event-service/v1/channels/custom", BaseURL("https://api.example.com", "custom"))
}

func TestSetAndGetFilters(t *testing.T) {
	f := newFixture(t, mockfeed.Config{}, PollOptions{}, false)
	ctx := context.Background()

	err := f.svc.FilterBuilder(ctx, BuilderConfig{Filters: []TableSpec{
		{Table: model.LogTypeTraffic, Where: "action = 'allow'", BatchSize: 500},
	}})
	require.NoError(t, err)

	got, err := f.svc.GetFilters(ctx)
	require.NoError(t, err)
	require.Len(t, got.Filters, 1)
	assert.Equal(t, "SELECT * FROM `panw.traffic` WHERE action = 'allow'", got.Filters[0][model.LogTypeTraffic].Filter)
	assert.Equal(t, 500, got.Filters[0][model.LogTypeTraffic].BatchSize)

	// No handler given, so auto-poll stays idle.
	assert.Equal(t, autopoll.Stopped, f.svc.State())
}

func TestFilterBuilder_InvalidIsConfigError(t *testing.T) {
	f := newFixture(t, mockfeed.Config{}, PollOptions{}, false)

	err := f.svc.FilterBuilder(context.Background(), BuilderConfig{Filters: []TableSpec{{}}})
	require.Error(t, err)
	assert.True(t, sdkerr.IsKind(err, sdkerr.KindConfig))
}

func TestPoll(t *testing.T) {
	f := newFixture(t, mockfeed.Config{}, PollOptions{}, false)
	ctx := context.Background()

	batches, err := f.svc.Poll(ctx)
	require.NoError(t, err)
	assert.Nil(t, batches)

	f.mock.Enqueue(DefaultChannelID, "panw.system", map[string]any{"eventid": "auth-fail"})
	f.mock.Enqueue(DefaultChannelID, "panw.config", map[string]any{"cmd": "set"}, map[string]any{"cmd": "commit"})

	batches, err = f.svc.Poll(ctx)
	require.NoError(t, err)
	require.Len(t, batches, 2)
	assert.Equal(t, Source, batches[0].Source)
	assert.Equal(t, model.LogTypeSystem, batches[0].LogType)
	assert.Equal(t, "auth-fail", batches[0].Records[0].String("eventid"))
	assert.Len(t, batches[1].Records, 2)
}

func TestPoll_ApplicationError(t *testing.T) {
	f := newFixture(t, mockfeed.Config{}, PollOptions{}, false)
	f.mock.FailNext(http.StatusServiceUnavailable)

	_, err := f.svc.Poll(context.Background())
	require.Error(t, err)

	var afe *sdkerr.ApplicationFrameworkError
	require.ErrorAs(t, err, &afe)
	assert.Equal(t, http.StatusServiceUnavailable, afe.StatusCode)
}

func TestCycle_AcksOnlyNonEmptyBatches(t *testing.T) {
	f := newFixture(t, mockfeed.Config{RequireAck: true}, PollOptions{Ack: true}, false)
	ctx := context.Background()

	require.NoError(t, f.svc.cycle(ctx))
	assert.Zero(t, f.mock.Counters().Acks)

	f.mock.Enqueue(DefaultChannelID, "panw.system", map[string]any{"eventid": "1"})
	require.NoError(t, f.svc.cycle(ctx))

	c := f.mock.Counters()
	assert.Equal(t, 1, c.Acks)
	assert.Zero(t, c.InFlight)
}

func TestCycle_NoAckLeavesBatchInFlight(t *testing.T) {
	f := newFixture(t, mockfeed.Config{RequireAck: true}, PollOptions{}, false)
	rec := &recorder{}
	f.svc.Session().Subscribe(dispatcher.TopicEvent, rec)

	f.mock.Enqueue(DefaultChannelID, "panw.system", map[string]any{"eventid": "1"})
	require.NoError(t, f.svc.cycle(context.Background()))
	require.NoError(t, f.svc.cycle(context.Background()))

	// Redelivered, so dispatched twice.
	events, _, _ := rec.snapshot()
	assert.Equal(t, 2, events)
	assert.Equal(t, 1, f.mock.Counters().InFlight)

	require.NoError(t, f.svc.Nack(context.Background()))
	assert.Equal(t, 1, f.mock.Counters().Pending)
}

func TestAutoPoll_CorrelatesTraffic(t *testing.T) {
	f := newFixture(t, mockfeed.Config{RequireAck: true}, PollOptions{Ack: true}, true)
	rec := &recorder{}
	ctx := context.Background()

	err := f.svc.SetFilters(ctx, FilterConfig{
		Filter: Filter{Filters: []map[model.LogType]TableFilter{
			{model.LogTypeTraffic: {Filter: "SELECT * FROM `panw.traffic`"}},
			{model.LogTypeThreat: {Filter: "SELECT * FROM `panw.threat`"}},
		}},
		Options: FilterOptions{Handlers: Handlers{Event: rec, Pcap: rec, Correlation: rec}},
	})
	require.NoError(t, err)
	assert.Equal(t, autopoll.Polling, f.svc.State())

	f.mock.GenerateTraffic(DefaultChannelID, 1)
	f.mock.GenerateThreats(DefaultChannelID, 1)

	require.Eventually(t, func() bool {
		events, correlations, pcaps := rec.snapshot()
		return events == 2 && correlations == 1 && pcaps == 1
	}, 2*time.Second, 10*time.Millisecond)

	rec.mu.Lock()
	l2 := rec.correlations[0]
	rec.mu.Unlock()
	assert.NotEmpty(t, l2.MAC)
	assert.NotEmpty(t, l2.MACStc)
	assert.NotEmpty(t, l2.SessionID)

	require.Eventually(t, func() bool {
		return f.mock.Counters().Acks >= 1
	}, time.Second, 10*time.Millisecond)

	stats := f.svc.Stats()
	assert.Equal(t, int64(1), stats.CorrelationEmitted)
	assert.Equal(t, int64(1), stats.PcapsEmitted)
	assert.Positive(t, stats.PollCycles)
	require.NotNil(t, stats.Correlation)
	assert.Equal(t, int64(1), stats.Correlation.Matched)
}

func TestSetFilters_PollLoopOutlivesRequestContext(t *testing.T) {
	f := newFixture(t, mockfeed.Config{}, PollOptions{}, false)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)

	err := f.svc.SetFilters(ctx, FilterConfig{Options: FilterOptions{Handlers: Handlers{Event: &recorder{}}}})
	require.NoError(t, err)
	cancel()

	polls := f.mock.Counters().Polls
	require.Eventually(t, func() bool {
		return f.mock.Counters().Polls >= polls+2
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, autopoll.Polling, f.svc.State())

	f.svc.Pause()
	f.svc.sched.Wait()
	assert.Equal(t, autopoll.Stopped, f.svc.State())
}

func TestClearFilterPausesAutoPoll(t *testing.T) {
	f := newFixture(t, mockfeed.Config{}, PollOptions{}, false)
	ctx := context.Background()

	err := f.svc.SetFilters(ctx, FilterConfig{Options: FilterOptions{Handlers: Handlers{Event: &recorder{}}}})
	require.NoError(t, err)
	assert.Equal(t, autopoll.Polling, f.svc.State())

	require.NoError(t, f.svc.ClearFilter(ctx, true))
	f.svc.sched.Wait()
	assert.Equal(t, autopoll.Stopped, f.svc.State())

	got, err := f.svc.GetFilters(ctx)
	require.NoError(t, err)
	assert.Empty(t, got.Filters)
}

func TestClose_FlushesHeldPartials(t *testing.T) {
	f := newFixture(t, mockfeed.Config{}, PollOptions{}, true)
	rec := &recorder{}
	f.svc.Session().Subscribe(dispatcher.TopicEvent, rec)

	f.mock.Enqueue(DefaultChannelID, string(model.LogTypeTraffic), map[string]any{
		model.FieldTimeGenerated: time.Now().Unix(),
		model.FieldSessionID:     "77",
		model.FieldMAC:           "00:11:22:33:44:55",
	})
	require.NoError(t, f.svc.cycle(context.Background()))

	events, _, _ := rec.snapshot()
	assert.Zero(t, events)

	f.svc.Close(context.Background())
	events, _, _ = rec.snapshot()
	assert.Equal(t, 1, events)
}

func TestResumeIsIdempotent(t *testing.T) {
	f := newFixture(t, mockfeed.Config{}, PollOptions{}, false)
	ctx := context.Background()

	assert.True(t, f.svc.Resume(ctx))
	assert.False(t, f.svc.Resume(ctx))
	f.svc.Pause()
	f.svc.sched.Wait()
	assert.Equal(t, autopoll.Stopped, f.svc.State())
}
