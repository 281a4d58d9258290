// Package dispatcher routes emitted messages to per-topic subscribers.
package dispatcher

import (
	"context"
	"fmt"
	"log/slog"
	"reflect"
	"sync"
	"sync/atomic"

	"github.com/telhawk-systems/eventfeed/common/logging"
	"github.com/telhawk-systems/eventfeed/internal/metrics"
	"github.com/telhawk-systems/eventfeed/pkg/model"
)

// Topic names a message stream.
type Topic string

const (
	TopicEvent       Topic = "event"
	TopicPcap        Topic = "pcap"
	TopicCorrelation Topic = "correlation"
)

// Topics lists every topic in a stable order.
var Topics = []Topic{TopicEvent, TopicPcap, TopicCorrelation}

// Message is the payload delivered to subscribers. Which field is set
// depends on the topic: Events for event, Pcap for pcap, Correlations for
// correlation.
type Message struct {
	Source       string                `json:"source"`
	LogType      model.LogType         `json:"logType,omitempty"`
	Events       []model.Record        `json:"event,omitempty"`
	Pcap         []byte                `json:"pcap,omitempty"`
	Correlations []model.L2Correlation `json:"correlation,omitempty"`
}

// Handler receives messages for the topics it is subscribed to.
type Handler interface {
	Handle(ctx context.Context, topic Topic, msg *Message) error
}

type funcHandler struct {
	fn func(ctx context.Context, topic Topic, msg *Message) error
}

func (f *funcHandler) Handle(ctx context.Context, topic Topic, msg *Message) error {
	return f.fn(ctx, topic, msg)
}

// Func wraps fn in a Handler. Each call returns a distinct handle; keep it
// to unsubscribe later.
func Func(fn func(ctx context.Context, topic Topic, msg *Message) error) Handler {
	return &funcHandler{fn: fn}
}

// Stats holds emitted-record counters.
type Stats struct {
	EventsEmitted      int64 `json:"eventsEmitted"`
	PcapsEmitted       int64 `json:"pcapsEmitted"`
	CorrelationEmitted int64 `json:"correlationEmitted"`
}

// Options configures a Dispatcher.
type Options struct {
	// AllowDuplicates accepts the same handler more than once per topic.
	AllowDuplicates bool
	Logger          *slog.Logger
}

// Dispatcher is a topic-keyed registry of handlers. Publish is synchronous
// and delivers in registration order.
type Dispatcher struct {
	allowDup bool
	logger   *slog.Logger

	mu       sync.RWMutex
	handlers map[Topic][]Handler
	// listening mirrors len(handlers[topic]) > 0 for lock-free reads.
	listening map[Topic]*atomic.Bool

	eventsEmitted      atomic.Int64
	pcapsEmitted       atomic.Int64
	correlationEmitted atomic.Int64
}

// New creates an empty Dispatcher.
func New(opts Options) *Dispatcher {
	d := &Dispatcher{
		allowDup:  opts.AllowDuplicates,
		logger:    logging.OrDiscard(opts.Logger),
		handlers:  make(map[Topic][]Handler),
		listening: make(map[Topic]*atomic.Bool),
	}
	for _, t := range Topics {
		d.listening[t] = &atomic.Bool{}
	}
	return d
}

// Subscribe registers h on topic. It returns false when h is already
// registered on topic and duplicates are not allowed.
func (d *Dispatcher) Subscribe(topic Topic, h Handler) bool {
	if h == nil {
		return false
	}
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.allowDup {
		for _, existing := range d.handlers[topic] {
			if sameHandler(existing, h) {
				d.logger.Warn("duplicate subscription rejected", logging.Topic(string(topic)))
				return false
			}
		}
	}
	d.handlers[topic] = append(d.handlers[topic], h)
	d.recompute(topic)
	return true
}

// Unsubscribe removes the most recent registration of h on topic, so a
// handler subscribed twice with duplicates allowed needs two calls.
// Unknown handlers are ignored.
func (d *Dispatcher) Unsubscribe(topic Topic, h Handler) {
	d.mu.Lock()
	defer d.mu.Unlock()

	current := d.handlers[topic]
	idx := -1
	for i := len(current) - 1; i >= 0; i-- {
		if sameHandler(current[i], h) {
			idx = i
			break
		}
	}
	if idx < 0 {
		return
	}
	// Publish may be iterating the old slice; build a new one.
	kept := make([]Handler, 0, len(current)-1)
	kept = append(kept, current[:idx]...)
	kept = append(kept, current[idx+1:]...)
	if len(kept) == 0 {
		delete(d.handlers, topic)
	} else {
		d.handlers[topic] = kept
	}
	d.recompute(topic)
}

func (d *Dispatcher) recompute(topic Topic) {
	flag, ok := d.listening[topic]
	if !ok {
		flag = &atomic.Bool{}
		d.listening[topic] = flag
	}
	flag.Store(len(d.handlers[topic]) > 0)
}

// HasSubscribers reports whether anyone listens on topic.
func (d *Dispatcher) HasSubscribers(topic Topic) bool {
	d.mu.RLock()
	flag, ok := d.listening[topic]
	d.mu.RUnlock()
	return ok && flag.Load()
}

// Subscribers returns the number of registrations on topic.
func (d *Dispatcher) Subscribers(topic Topic) int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.handlers[topic])
}

// Publish delivers msg to every handler of topic in registration order.
// A handler that fails or panics is logged and skipped; the rest still run.
func (d *Dispatcher) Publish(ctx context.Context, topic Topic, msg *Message) {
	d.count(topic, msg)

	d.mu.RLock()
	handlers := append([]Handler(nil), d.handlers[topic]...)
	d.mu.RUnlock()

	for _, h := range handlers {
		if err := d.deliver(ctx, h, topic, msg); err != nil {
			metrics.SubscriberFailures.WithLabelValues(string(topic)).Inc()
			logging.FromContext(ctx, d.logger).Error("subscriber failed",
				logging.Topic(string(topic)),
				logging.Source(msg.Source),
				logging.Error(err),
			)
		}
	}
}

func (d *Dispatcher) deliver(ctx context.Context, h Handler, topic Topic, msg *Message) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("subscriber panic: %v", r)
		}
	}()
	return h.Handle(ctx, topic, msg)
}

func (d *Dispatcher) count(topic Topic, msg *Message) {
	var n int
	switch topic {
	case TopicEvent:
		n = len(msg.Events)
		d.eventsEmitted.Add(int64(n))
	case TopicPcap:
		n = 1
		d.pcapsEmitted.Add(1)
	case TopicCorrelation:
		n = len(msg.Correlations)
		d.correlationEmitted.Add(int64(n))
	}
	metrics.RecordsEmitted.WithLabelValues(string(topic)).Add(float64(n))
}

// Stats returns a snapshot of the emitted counters.
func (d *Dispatcher) Stats() Stats {
	return Stats{
		EventsEmitted:      d.eventsEmitted.Load(),
		PcapsEmitted:       d.pcapsEmitted.Load(),
		CorrelationEmitted: d.correlationEmitted.Load(),
	}
}

// sameHandler compares handler identity. Handlers of non-comparable
// dynamic types are never considered equal.
func sameHandler(a, b Handler) bool {
	ta, tb := reflect.TypeOf(a), reflect.TypeOf(b)
	if ta != tb || !ta.Comparable() {
		return false
	}
	return a == b
}
