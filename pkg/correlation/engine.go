// Package correlation joins the two sightings of a session, one carrying
// the source MAC and one carrying the destination MAC, into a single
// correlated record.
//
// Partial records wait in a buffer keyed by session id. A buffered entry
// leaves the buffer in one of four ways:
//
//	matched    the complementary sighting arrived within the window
//	replaced   a newer sighting of the same side arrived (last write wins)
//	expired    the window elapsed; emitted as plain
//	collected  the buffer grew past GCMultiplier x ExpectedSize; oldest first, emitted as plain
package correlation

import (
	"container/list"
	"log/slog"
	"sync"
	"time"

	"github.com/telhawk-systems/eventfeed/common/logging"
	"github.com/telhawk-systems/eventfeed/internal/metrics"
	"github.com/telhawk-systems/eventfeed/pkg/model"
)

// Defaults
const (
	DefaultTimeWindow   = 120 * time.Second
	DefaultGCMultiplier = 10
	DefaultExpectedSize = 1000
)

// Config tunes an Engine.
type Config struct {
	TimeWindow time.Duration
	// AbsoluteTime ages entries by wall clock. When false, entries are aged
	// by the newest time_generated seen so far; batches without readable
	// times do not advance that clock.
	AbsoluteTime bool
	GCMultiplier int
	// ExpectedSize is the steady-state buffer size. Zero uses the size of
	// the last non-empty batch.
	ExpectedSize int
}

// DefaultConfig returns the default engine configuration.
func DefaultConfig() Config {
	return Config{
		TimeWindow:   DefaultTimeWindow,
		GCMultiplier: DefaultGCMultiplier,
		ExpectedSize: DefaultExpectedSize,
	}
}

// Match is a joined pair.
type Match struct {
	Record model.Record
	L2     model.L2Correlation
}

// Result is the output of one Process or Flush call.
type Result struct {
	Plain      []model.Record
	Correlated []Match
}

// Stats holds engine counters.
type Stats struct {
	BufferSize int   `json:"bufferSize"`
	Matched    int64 `json:"matched"`
	Replaced   int64 `json:"replaced"`
	Evicted    int64 `json:"evicted"`
	GCEvicted  int64 `json:"gcEvicted"`
	Flushed    int64 `json:"flushed"`
}

type side int

const (
	sideNone side = iota
	sideSrc       // carries extended-traffic-log-mac
	sideDst       // carries extended-traffic-log-mac-stc
)

type entry struct {
	key       string
	side      side
	record    model.Record
	firstSeen time.Time
}

// Option customizes an Engine.
type Option func(*Engine)

// WithClock overrides the wall clock.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithLogger sets the engine logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.logger = logging.OrDiscard(l) }
}

// Engine is the session correlator. Its buffer is only touched by Process
// and Flush.
type Engine struct {
	cfg    Config
	now    func() time.Time
	logger *slog.Logger

	mu    sync.Mutex
	order *list.List // of *entry, oldest first
	index map[string]*list.Element
	stats Stats

	logClock  time.Time // newest time_generated seen, relative mode only
	lastBatch int       // size of the last non-empty batch
}

// New creates an Engine. Zero config fields take their defaults, except
// ExpectedSize where zero is meaningful.
func New(cfg Config, opts ...Option) *Engine {
	if cfg.TimeWindow <= 0 {
		cfg.TimeWindow = DefaultTimeWindow
	}
	if cfg.GCMultiplier <= 0 {
		cfg.GCMultiplier = DefaultGCMultiplier
	}
	if cfg.ExpectedSize < 0 {
		cfg.ExpectedSize = DefaultExpectedSize
	}
	e := &Engine{
		cfg:    cfg,
		now:    time.Now,
		logger: logging.Discard(),
		order:  list.New(),
		index:  make(map[string]*list.Element),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Process runs one batch through the engine. Records are handled in
// arrival order. Self-contained records and records without a session id
// come back in Plain unchanged, as do buffered entries that expired or
// were collected.
func (e *Engine) Process(records []model.Record) Result {
	e.mu.Lock()
	defer e.mu.Unlock()

	var res Result
	now := e.batchTime(records)
	res.Plain = e.expire(now, res.Plain)

	for _, r := range records {
		key, s := classify(r)
		if s == sideNone {
			res.Plain = append(res.Plain, r)
			continue
		}

		seen := now
		if !e.cfg.AbsoluteTime {
			if ts, ok := recordTime(r); ok {
				seen = ts
			}
		}

		if elem, ok := e.index[key]; ok {
			buffered := elem.Value.(*entry)
			if buffered.side != s {
				e.remove(elem)
				res.Correlated = append(res.Correlated, join(buffered.record, r))
				e.stats.Matched++
				metrics.CorrelationMatches.Inc()
				continue
			}
			// Same side again: keep only the most recent sighting.
			buffered.record = r
			buffered.firstSeen = seen
			e.order.MoveToBack(elem)
			e.stats.Replaced++
			continue
		}

		e.index[key] = e.order.PushBack(&entry{key: key, side: s, record: r, firstSeen: seen})
	}

	res.Plain = e.collect(len(records), res.Plain)
	e.stats.BufferSize = e.order.Len()
	metrics.CorrelationBufferSize.Set(float64(e.order.Len()))
	return res
}

// Flush empties the buffer and returns every entry as plain, oldest first.
func (e *Engine) Flush() Result {
	e.mu.Lock()
	defer e.mu.Unlock()

	var res Result
	for elem := e.order.Front(); elem != nil; elem = elem.Next() {
		res.Plain = append(res.Plain, elem.Value.(*entry).record)
	}
	e.stats.Flushed += int64(e.order.Len())
	e.order.Init()
	e.index = make(map[string]*list.Element)
	e.stats.BufferSize = 0
	metrics.CorrelationBufferSize.Set(0)
	return res
}

// Stats returns a snapshot of the counters.
func (e *Engine) Stats() Stats {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.stats
}

// Len returns the number of buffered partial records.
func (e *Engine) Len() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.order.Len()
}

// batchTime is the reference time used to age the buffer: the wall clock
// in absolute mode, otherwise the newest time_generated seen so far. The
// wall clock is only used before any record time has been seen.
func (e *Engine) batchTime(records []model.Record) time.Time {
	if e.cfg.AbsoluteTime {
		return e.now()
	}
	for _, r := range records {
		if ts, ok := recordTime(r); ok && ts.After(e.logClock) {
			e.logClock = ts
		}
	}
	if e.logClock.IsZero() {
		return e.now()
	}
	return e.logClock
}

// expire evicts every entry older than the window. The whole buffer is
// scanned: relative-mode timestamps are not ordered by insertion.
func (e *Engine) expire(now time.Time, plain []model.Record) []model.Record {
	var expired int
	for elem := e.order.Front(); elem != nil; {
		next := elem.Next()
		ent := elem.Value.(*entry)
		if now.Sub(ent.firstSeen) > e.cfg.TimeWindow {
			plain = append(plain, ent.record)
			e.remove(elem)
			expired++
		}
		elem = next
	}
	if expired > 0 {
		e.stats.Evicted += int64(expired)
		metrics.CorrelationEvictions.WithLabelValues("expired").Add(float64(expired))
		e.logger.Debug("correlation entries expired", logging.Count(expired))
	}
	return plain
}

// collect evicts the oldest entries while the buffer is above threshold.
func (e *Engine) collect(batchSize int, plain []model.Record) []model.Record {
	if batchSize > 0 {
		e.lastBatch = batchSize
	}
	expected := e.cfg.ExpectedSize
	if expected == 0 {
		expected = e.lastBatch
	}
	if expected == 0 {
		return plain
	}
	threshold := e.cfg.GCMultiplier * expected
	if e.order.Len() <= threshold {
		return plain
	}

	var collected int
	for e.order.Len() > threshold {
		elem := e.order.Front()
		plain = append(plain, elem.Value.(*entry).record)
		e.remove(elem)
		collected++
	}
	e.stats.GCEvicted += int64(collected)
	metrics.CorrelationEvictions.WithLabelValues("gc").Add(float64(collected))
	e.logger.Warn("correlation buffer over threshold, oldest entries collected",
		logging.Count(collected),
		slog.Int("threshold", threshold),
	)
	return plain
}

func (e *Engine) remove(elem *list.Element) {
	ent := e.order.Remove(elem).(*entry)
	delete(e.index, ent.key)
}

// sessionKey reads sessionid, falling back to session_id.
func sessionKey(r model.Record) string {
	if k := r.String(model.FieldSessionID); k != "" {
		return k
	}
	return r.String(model.FieldSessionIDAlt)
}

// classify returns the session key and which half r carries. A record with
// both MAC fields, neither, or no session key is self-contained.
func classify(r model.Record) (string, side) {
	key := sessionKey(r)
	if key == "" {
		return "", sideNone
	}
	mac := r.String(model.FieldMAC) != ""
	stc := r.String(model.FieldMACStc) != ""
	switch {
	case mac && !stc:
		return key, sideSrc
	case stc && !mac:
		return key, sideDst
	default:
		return key, sideNone
	}
}

// join merges the buffered sighting with the one that completed it. Fields
// of the first sighting win; the second fills the gaps.
func join(first, second model.Record) Match {
	merged := first.Clone()
	for k, v := range second {
		if existing, ok := merged[k]; !ok || existing == nil || existing == "" {
			merged[k] = v
		}
	}
	return Match{
		Record: merged,
		L2: model.L2Correlation{
			TimeGenerated: merged.String(model.FieldTimeGenerated),
			SessionID:     sessionKey(merged),
			Src:           merged.String(model.FieldSrc),
			Dst:           merged.String(model.FieldDst),
			MAC:           merged.String(model.FieldMAC),
			MACStc:        merged.String(model.FieldMACStc),
		},
	}
}
