// Package eventservice is the client of the event-service channel API:
// filter management, poll, ack, nack, flush and timer-driven auto-poll.
package eventservice

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/telhawk-systems/eventfeed/common/logging"
	"github.com/telhawk-systems/eventfeed/pkg/autopoll"
	"github.com/telhawk-systems/eventfeed/pkg/dispatcher"
	"github.com/telhawk-systems/eventfeed/pkg/model"
	"github.com/telhawk-systems/eventfeed/pkg/sdkerr"
	"github.com/telhawk-systems/eventfeed/pkg/session"
)

// Defaults
const (
	DefaultChannelID    = "EventFilter"
	DefaultPollTimeout  = time.Second
	DefaultFetchTimeout = 45 * time.Second
	DefaultSleep        = 200 * time.Millisecond

	// Source labels every batch emitted by this service.
	Source = "EventService"
)

const (
	pathFilters = "/filters"
	pathPoll    = "/poll"
	pathAck     = "/ack"
	pathNack    = "/nack"
	pathFlush   = "/flush"
)

// BaseURL returns the channel URL under entryPoint.
func BaseURL(entryPoint, channelID string) string {
	if channelID == "" {
		channelID = DefaultChannelID
	}
	return strings.TrimRight(entryPoint, "/") + "/event-service/v1/channels/" + channelID
}

// PollOptions tune each poll request. Durations are in milliseconds on
// the wire.
type PollOptions struct {
	PollTimeout  time.Duration `json:"pollTimeout" yaml:"pollTimeout"`
	FetchTimeout time.Duration `json:"fetchTimeout" yaml:"fetchTimeout"`
	// Ack acknowledges every non-empty batch once it has been dispatched.
	Ack bool `json:"ack" yaml:"ack"`
}

// Options configures a Service.
type Options struct {
	Poll  PollOptions
	Sleep time.Duration
}

// Stats adds poll loop counters to the session stats.
type Stats struct {
	session.Stats
	State        string `json:"state"`
	PollCycles   int64  `json:"pollCycles"`
	PollFailures int64  `json:"pollFailures"`
}

// Service talks to one event-service channel through a Session.
type Service struct {
	sess   *session.Session
	sched  *autopoll.Scheduler
	logger *slog.Logger

	mu    sync.Mutex
	poll  PollOptions
	sleep time.Duration
}

// New creates a Service. The session transport must point at BaseURL.
func New(sess *session.Session, opts Options) *Service {
	if opts.Poll.PollTimeout <= 0 {
		opts.Poll.PollTimeout = DefaultPollTimeout
	}
	if opts.Poll.FetchTimeout <= 0 {
		opts.Poll.FetchTimeout = DefaultFetchTimeout
	}
	if opts.Sleep <= 0 {
		opts.Sleep = DefaultSleep
	}

	s := &Service{
		sess:   sess,
		poll:   opts.Poll,
		sleep:  opts.Sleep,
		logger: sess.Logger().With(logging.Service("event-service")),
	}
	s.sched = autopoll.New(s.cycle, s.logger)
	return s
}

// Session returns the underlying session.
func (s *Service) Session() *session.Session { return s.sess }

// GetFilters returns the channel filter.
func (s *Service) GetFilters(ctx context.Context) (*Filter, error) {
	var f Filter
	if err := s.sess.Transport().Do(ctx, http.MethodGet, pathFilters, nil, &f); err != nil {
		return nil, err
	}
	return &f, nil
}

// SetFilters replaces the channel filter. Given handlers are subscribed to
// their topics and auto-poll is resumed. ctx bounds the filter request
// only: the poll loop it starts outlives ctx and runs until Pause,
// ClearFilter or Close.
func (s *Service) SetFilters(ctx context.Context, cfg FilterConfig) error {
	if cfg.Filter.Filters == nil {
		cfg.Filter.Filters = []map[model.LogType]TableFilter{}
	}
	if _, err := s.sess.Transport().Post(ctx, pathFilters, cfg.Filter); err != nil {
		return err
	}
	s.logger.Info("filter set", logging.Count(len(cfg.Filter.Filters)), slog.Bool("flush", cfg.Filter.Flush))

	opts := cfg.Options
	s.mu.Lock()
	if opts.Poll != nil {
		s.poll = *opts.Poll
		if s.poll.PollTimeout <= 0 {
			s.poll.PollTimeout = DefaultPollTimeout
		}
		if s.poll.FetchTimeout <= 0 {
			s.poll.FetchTimeout = DefaultFetchTimeout
		}
	}
	if opts.Sleep > 0 {
		s.sleep = opts.Sleep
	}
	s.mu.Unlock()
	if !opts.Handlers.any() {
		return nil
	}

	if opts.Handlers.Event != nil {
		s.sess.Subscribe(dispatcher.TopicEvent, opts.Handlers.Event)
	}
	if opts.Handlers.Pcap != nil {
		s.sess.Subscribe(dispatcher.TopicPcap, opts.Handlers.Pcap)
	}
	if opts.Handlers.Correlation != nil {
		s.sess.Subscribe(dispatcher.TopicCorrelation, opts.Handlers.Correlation)
	}
	s.Resume(context.WithoutCancel(ctx))
	return nil
}

// FilterBuilder builds a filter from table specs and sets it.
func (s *Service) FilterBuilder(ctx context.Context, cfg BuilderConfig) error {
	f, err := cfg.Build()
	if err != nil {
		return sdkerr.Config("eventservice.FilterBuilder", "invalid filter description", err)
	}
	return s.SetFilters(ctx, FilterConfig{Filter: f, Options: cfg.Options})
}

// ClearFilter sets an empty filter and pauses auto-poll.
func (s *Service) ClearFilter(ctx context.Context, flush bool) error {
	s.Pause()
	return s.SetFilters(ctx, FilterConfig{Filter: Filter{Flush: flush}})
}

type pollGroup struct {
	LogType model.LogType  `json:"logType"`
	Event   []model.Record `json:"event"`
}

// Poll requests the pending events. An empty answer yields no batches.
func (s *Service) Poll(ctx context.Context) ([]model.EventBatch, error) {
	popts := s.pollOptions()
	body := map[string]int64{"pollTimeout": popts.PollTimeout.Milliseconds()}
	raw, err := s.sess.Transport().Request(ctx, http.MethodPost, pathPoll, body, popts.FetchTimeout)
	if err != nil {
		return nil, err
	}
	if raw == nil {
		return nil, nil
	}

	var groups []pollGroup
	if err := json.Unmarshal(raw, &groups); err != nil {
		return nil, sdkerr.Parser("eventservice.Poll", "unexpected poll response shape", err)
	}

	batches := make([]model.EventBatch, 0, len(groups))
	for _, g := range groups {
		batches = append(batches, model.EventBatch{Source: Source, LogType: g.LogType, Records: g.Event})
	}
	return batches, nil
}

// Ack commits the last polled batch.
func (s *Service) Ack(ctx context.Context) error {
	_, err := s.sess.Transport().Post(ctx, pathAck, nil)
	return err
}

// Nack asks the channel to redeliver the last polled batch.
func (s *Service) Nack(ctx context.Context) error {
	_, err := s.sess.Transport().Post(ctx, pathNack, nil)
	return err
}

// Flush drops the channel backlog.
func (s *Service) Flush(ctx context.Context) error {
	_, err := s.sess.Transport().Post(ctx, pathFlush, nil)
	return err
}

// Resume starts auto-poll. It is a no-op when already polling. Cancelling
// ctx stops the loop.
func (s *Service) Resume(ctx context.Context) bool {
	s.mu.Lock()
	sleep := s.sleep
	s.mu.Unlock()
	return s.sched.Resume(ctx, sleep)
}

func (s *Service) pollOptions() PollOptions {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.poll
}

// Pause stops auto-poll after the in-flight cycle, if any.
func (s *Service) Pause() {
	s.sched.Pause()
}

// State returns the auto-poll state.
func (s *Service) State() autopoll.State {
	return s.sched.State()
}

// Close pauses auto-poll, waits for the in-flight cycle and flushes the
// correlation buffer to event subscribers.
func (s *Service) Close(ctx context.Context) {
	s.sched.Pause()
	s.sched.Wait()
	s.sess.FlushCorrelation(ctx, Source)
}

// Stats returns session and poll loop counters.
func (s *Service) Stats() Stats {
	m := s.sched.GetMetrics()
	return Stats{
		Stats:        s.sess.Stats(),
		State:        s.sched.State().String(),
		PollCycles:   m.Cycles,
		PollFailures: m.Failures,
	}
}

// cycle polls once, dispatches every group and, in ack mode, acknowledges
// the batch only after dispatch returned.
func (s *Service) cycle(ctx context.Context) error {
	batches, err := s.Poll(ctx)
	if err != nil {
		return err
	}

	var records int
	for _, b := range batches {
		s.sess.Emit(ctx, b)
		records += len(b.Records)
	}
	if records > 0 {
		s.logger.Debug("poll cycle dispatched", logging.Count(records))
	}

	if s.pollOptions().Ack && records > 0 {
		return s.Ack(ctx)
	}
	return nil
}
