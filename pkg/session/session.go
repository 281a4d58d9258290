// Package session bundles the capabilities shared by every feed service:
// the credential, the transport, the dispatcher and the emission pipeline.
// Services hold a *Session; they do not embed it.
package session

import (
	"context"
	"log/slog"

	"github.com/telhawk-systems/eventfeed/common/logging"
	"github.com/telhawk-systems/eventfeed/pkg/correlation"
	"github.com/telhawk-systems/eventfeed/pkg/dispatcher"
	"github.com/telhawk-systems/eventfeed/pkg/model"
	"github.com/telhawk-systems/eventfeed/pkg/pcap"
	"github.com/telhawk-systems/eventfeed/pkg/transport"
)

// Options configures a Session.
type Options struct {
	Transport       transport.Options
	AllowDuplicates bool
	// Correlation enables the session correlator when non-nil.
	Correlation *correlation.Config
	Logger      *slog.Logger
}

// Stats aggregates the counters of every component.
type Stats struct {
	APITransactions    int64              `json:"apiTransactions"`
	EventsEmitted      int64              `json:"eventsEmitted"`
	PcapsEmitted       int64              `json:"pcapsEmitted"`
	CorrelationEmitted int64              `json:"correlationEmitted"`
	Correlation        *correlation.Stats `json:"correlationStats,omitempty"`
}

// Session is the capability object handed to services.
type Session struct {
	tokens     transport.TokenSource
	transport  *transport.Client
	dispatcher *dispatcher.Dispatcher
	engine     *correlation.Engine
	logger     *slog.Logger
}

// New creates a Session whose transport resolves paths against baseURL.
func New(baseURL string, tokens transport.TokenSource, opts Options) *Session {
	logger := logging.OrDiscard(opts.Logger)
	if opts.Transport.Logger == nil {
		opts.Transport.Logger = logger
	}

	s := &Session{
		tokens:    tokens,
		transport: transport.New(baseURL, tokens, opts.Transport),
		dispatcher: dispatcher.New(dispatcher.Options{
			AllowDuplicates: opts.AllowDuplicates,
			Logger:          logger,
		}),
		logger: logger,
	}
	if opts.Correlation != nil {
		s.engine = correlation.New(*opts.Correlation, correlation.WithLogger(logger))
	}
	return s
}

// Transport returns the session transport.
func (s *Session) Transport() *transport.Client { return s.transport }

// Dispatcher returns the session dispatcher.
func (s *Session) Dispatcher() *dispatcher.Dispatcher { return s.dispatcher }

// Tokens returns the credential used by the transport.
func (s *Session) Tokens() transport.TokenSource { return s.tokens }

// Logger returns the session logger.
func (s *Session) Logger() *slog.Logger { return s.logger }

// CorrelationEnabled reports whether batches go through the correlator.
func (s *Session) CorrelationEnabled() bool { return s.engine != nil }

// Subscribe registers h on topic.
func (s *Session) Subscribe(topic dispatcher.Topic, h dispatcher.Handler) bool {
	return s.dispatcher.Subscribe(topic, h)
}

// Unsubscribe removes h from topic.
func (s *Session) Unsubscribe(topic dispatcher.Topic, h dispatcher.Handler) {
	s.dispatcher.Unsubscribe(topic, h)
}

// Emit routes one batch to subscribers. Work for a topic is skipped when
// the topic has no subscribers. With correlation enabled the event topic
// receives joined records first, then plain ones; partial records are held
// back until they match, expire or are flushed.
func (s *Session) Emit(ctx context.Context, batch model.EventBatch) {
	if s.dispatcher.HasSubscribers(dispatcher.TopicPcap) {
		s.emitPcap(ctx, batch)
	}

	plain := batch.Records
	var correlated []correlation.Match
	if s.engine != nil {
		res := s.engine.Process(batch.Records)
		plain, correlated = res.Plain, res.Correlated

		if len(correlated) > 0 && s.dispatcher.HasSubscribers(dispatcher.TopicCorrelation) {
			summaries := make([]model.L2Correlation, len(correlated))
			for i, m := range correlated {
				summaries[i] = m.L2
			}
			s.dispatcher.Publish(ctx, dispatcher.TopicCorrelation, &dispatcher.Message{
				Source:       batch.Source,
				LogType:      batch.LogType,
				Correlations: summaries,
			})
		}
	}

	if !s.dispatcher.HasSubscribers(dispatcher.TopicEvent) {
		return
	}
	if len(correlated) > 0 {
		merged := make([]model.Record, len(correlated))
		for i, m := range correlated {
			merged[i] = m.Record
		}
		s.dispatcher.Publish(ctx, dispatcher.TopicEvent, &dispatcher.Message{
			Source:  batch.Source,
			LogType: batch.LogType,
			Events:  merged,
		})
	}
	if len(plain) > 0 {
		s.dispatcher.Publish(ctx, dispatcher.TopicEvent, &dispatcher.Message{
			Source:  batch.Source,
			LogType: batch.LogType,
			Events:  plain,
		})
	}
}

func (s *Session) emitPcap(ctx context.Context, batch model.EventBatch) {
	for _, r := range batch.Records {
		file, ok, err := pcap.FromRecord(r)
		if err != nil {
			logging.FromContext(ctx, s.logger).Warn("skipping undecodable capture",
				logging.Source(batch.Source),
				logging.Error(err),
			)
			continue
		}
		if !ok {
			continue
		}
		s.dispatcher.Publish(ctx, dispatcher.TopicPcap, &dispatcher.Message{
			Source:  batch.Source,
			LogType: batch.LogType,
			Pcap:    file,
		})
	}
}

// FlushCorrelation empties the correlator and emits everything it held on
// the event topic. It is a no-op when correlation is disabled.
func (s *Session) FlushCorrelation(ctx context.Context, source string) int {
	if s.engine == nil {
		return 0
	}
	res := s.engine.Flush()
	if len(res.Plain) > 0 && s.dispatcher.HasSubscribers(dispatcher.TopicEvent) {
		s.dispatcher.Publish(ctx, dispatcher.TopicEvent, &dispatcher.Message{
			Source: source,
			Events: res.Plain,
		})
	}
	s.logger.Info("correlation buffer flushed", logging.Count(len(res.Plain)))
	return len(res.Plain)
}

// Stats returns a snapshot of every counter.
func (s *Session) Stats() Stats {
	ds := s.dispatcher.Stats()
	st := Stats{
		APITransactions:    s.transport.Stats().APITransactions,
		EventsEmitted:      ds.EventsEmitted,
		PcapsEmitted:       ds.PcapsEmitted,
		CorrelationEmitted: ds.CorrelationEmitted,
	}
	if s.engine != nil {
		cs := s.engine.Stats()
		st.Correlation = &cs
	}
	return st
}
