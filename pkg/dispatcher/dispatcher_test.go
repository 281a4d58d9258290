package dispatcher

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/telhawk-systems/eventfeed/pkg/model"
)

type recorder struct {
	name  string
	calls *[]string
}

func (r recorder) Handle(ctx context.Context, topic Topic, msg *Message) error {
	*r.calls = append(*r.calls, r.name)
	return nil
}

type sliceHandler []string

func (s sliceHandler) Handle(ctx context.Context, topic Topic, msg *Message) error { return nil }

func eventMsg(n int) *Message {
	records := make([]model.Record, n)
	for i := range records {
		records[i] = model.Record{"seq": i}
	}
	return &Message{Source: "test", LogType: model.LogTypeTraffic, Events: records}
}

func TestSubscribe_RejectsDuplicate(t *testing.T) {
	d := New(Options{})
	calls := 0
	h := Func(func(ctx context.Context, topic Topic, msg *Message) error {
		calls++
		return nil
	})

	assert.True(t, d.Subscribe(TopicEvent, h))
	assert.False(t, d.Subscribe(TopicEvent, h))
	assert.True(t, d.Subscribe(TopicPcap, h), "same handler on another topic is allowed")

	d.Publish(context.Background(), TopicEvent, eventMsg(1))
	assert.Equal(t, 1, calls)
	assert.Equal(t, 1, d.Subscribers(TopicEvent))
}

func TestSubscribe_AllowDuplicates(t *testing.T) {
	d := New(Options{AllowDuplicates: true})
	calls := 0
	h := Func(func(ctx context.Context, topic Topic, msg *Message) error {
		calls++
		return nil
	})

	assert.True(t, d.Subscribe(TopicEvent, h))
	assert.True(t, d.Subscribe(TopicEvent, h))

	d.Publish(context.Background(), TopicEvent, eventMsg(1))
	assert.Equal(t, 2, calls)
}

func TestUnsubscribe_RemovesOneDuplicate(t *testing.T) {
	d := New(Options{AllowDuplicates: true})
	var calls []string
	a := &recorder{name: "a", calls: &calls}
	b := &recorder{name: "b", calls: &calls}

	require.True(t, d.Subscribe(TopicEvent, a))
	require.True(t, d.Subscribe(TopicEvent, b))
	require.True(t, d.Subscribe(TopicEvent, a))

	d.Unsubscribe(TopicEvent, a)
	assert.Equal(t, 2, d.Subscribers(TopicEvent))
	d.Publish(context.Background(), TopicEvent, eventMsg(1))
	assert.Equal(t, []string{"a", "b"}, calls, "the last registration is removed first")

	d.Unsubscribe(TopicEvent, a)
	d.Unsubscribe(TopicEvent, a)
	assert.Equal(t, 1, d.Subscribers(TopicEvent))
	assert.True(t, d.HasSubscribers(TopicEvent))

	d.Unsubscribe(TopicEvent, b)
	assert.False(t, d.HasSubscribers(TopicEvent))
}

func TestSubscribe_DistinctFuncHandles(t *testing.T) {
	d := New(Options{})
	fn := func(ctx context.Context, topic Topic, msg *Message) error { return nil }

	assert.True(t, d.Subscribe(TopicEvent, Func(fn)))
	assert.True(t, d.Subscribe(TopicEvent, Func(fn)), "each Func call is its own handle")
	assert.False(t, d.Subscribe(TopicEvent, nil))
}

func TestSubscribe_NonComparableHandler(t *testing.T) {
	d := New(Options{})
	h := sliceHandler{"a"}

	assert.True(t, d.Subscribe(TopicEvent, h))
	assert.True(t, d.Subscribe(TopicEvent, h))
	assert.NotPanics(t, func() { d.Unsubscribe(TopicEvent, h) })
}

func TestHasSubscribers(t *testing.T) {
	d := New(Options{})
	h := Func(func(ctx context.Context, topic Topic, msg *Message) error { return nil })

	for _, topic := range Topics {
		assert.False(t, d.HasSubscribers(topic))
	}

	d.Subscribe(TopicPcap, h)
	assert.True(t, d.HasSubscribers(TopicPcap))
	assert.False(t, d.HasSubscribers(TopicEvent))

	d.Unsubscribe(TopicPcap, h)
	assert.False(t, d.HasSubscribers(TopicPcap))

	// Idempotent
	d.Unsubscribe(TopicPcap, h)
	d.Unsubscribe(TopicCorrelation, h)
	assert.False(t, d.HasSubscribers(TopicCorrelation))
}

func TestPublish_RegistrationOrder(t *testing.T) {
	d := New(Options{})
	var calls []string
	for _, name := range []string{"first", "second", "third"} {
		require.True(t, d.Subscribe(TopicEvent, recorder{name: name, calls: &calls}))
	}

	d.Publish(context.Background(), TopicEvent, eventMsg(2))
	assert.Equal(t, []string{"first", "second", "third"}, calls)
}

func TestPublish_IsolatesFailures(t *testing.T) {
	d := New(Options{})
	var calls []string

	d.Subscribe(TopicEvent, recorder{name: "before", calls: &calls})
	d.Subscribe(TopicEvent, Func(func(ctx context.Context, topic Topic, msg *Message) error {
		return errors.New("sink down")
	}))
	d.Subscribe(TopicEvent, Func(func(ctx context.Context, topic Topic, msg *Message) error {
		panic("bad subscriber")
	}))
	d.Subscribe(TopicEvent, recorder{name: "after", calls: &calls})

	assert.NotPanics(t, func() {
		d.Publish(context.Background(), TopicEvent, eventMsg(1))
	})
	assert.Equal(t, []string{"before", "after"}, calls)
}

func TestPublish_CountsRecordsNotSubscribers(t *testing.T) {
	d := New(Options{})
	noop := func(ctx context.Context, topic Topic, msg *Message) error { return nil }
	d.Subscribe(TopicEvent, Func(noop))
	d.Subscribe(TopicEvent, Func(noop))
	d.Subscribe(TopicCorrelation, Func(noop))

	d.Publish(context.Background(), TopicEvent, eventMsg(5))
	d.Publish(context.Background(), TopicPcap, &Message{Source: "test", Pcap: []byte{1, 2}})
	d.Publish(context.Background(), TopicCorrelation, &Message{
		Source:       "test",
		Correlations: []model.L2Correlation{{SessionID: "1"}, {SessionID: "2"}},
	})

	stats := d.Stats()
	assert.Equal(t, int64(5), stats.EventsEmitted)
	assert.Equal(t, int64(1), stats.PcapsEmitted)
	assert.Equal(t, int64(2), stats.CorrelationEmitted)
}

func TestUnsubscribe_DuringPublishDoesNotAffectCurrentRound(t *testing.T) {
	d := New(Options{})
	var calls []string
	second := recorder{name: "second", calls: &calls}

	d.Subscribe(TopicEvent, Func(func(ctx context.Context, topic Topic, msg *Message) error {
		calls = append(calls, "first")
		d.Unsubscribe(TopicEvent, second)
		return nil
	}))
	d.Subscribe(TopicEvent, second)

	d.Publish(context.Background(), TopicEvent, eventMsg(1))
	assert.Equal(t, []string{"first", "second"}, calls)

	calls = nil
	d.Publish(context.Background(), TopicEvent, eventMsg(1))
	assert.Equal(t, []string{"first"}, calls)
}
