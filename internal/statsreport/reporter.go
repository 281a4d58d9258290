package statsreport

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/telhawk-systems/eventfeed/common/logging"
)

// Source produces the snapshot to report.
type Source func() Snapshot

// Reporter writes a snapshot to Redis every interval and once more on Stop.
type Reporter struct {
	client   *Client
	source   Source
	interval time.Duration
	ttl      time.Duration
	logger   *slog.Logger

	mu       sync.Mutex
	failures int

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewReporter starts reporting. A ttl of zero keeps snapshots forever.
func NewReporter(client *Client, source Source, interval, ttl time.Duration, logger *slog.Logger) *Reporter {
	if interval <= 0 {
		interval = 10 * time.Second
	}

	ctx, cancel := context.WithCancel(context.Background())
	r := &Reporter{
		client:   client,
		source:   source,
		interval: interval,
		ttl:      ttl,
		logger:   logging.OrDiscard(logger).With(logging.Service("statsreport")),
		ctx:      ctx,
		cancel:   cancel,
	}

	r.wg.Add(1)
	go r.flushLoop()
	return r
}

func (r *Reporter) flushLoop() {
	defer r.wg.Done()

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-r.ctx.Done():
			// Final report on shutdown
			r.flush()
			return
		case <-ticker.C:
			r.flush()
		}
	}
}

func (r *Reporter) flush() {
	snap := r.source()
	snap.InstanceID = r.client.InstanceID()
	if snap.ReportedAt.IsZero() {
		snap.ReportedAt = time.Now()
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := r.client.Write(ctx, snap, r.ttl); err != nil {
		r.mu.Lock()
		r.failures++
		r.mu.Unlock()
		r.logger.Error("failed to report stats", logging.Error(err))
		return
	}
	r.logger.Debug("stats reported", slog.Int64("events_emitted", snap.EventsEmitted))
}

// FlushNow forces an immediate report.
func (r *Reporter) FlushNow() {
	r.flush()
}

// Failures returns the number of reports that could not be written.
func (r *Reporter) Failures() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.failures
}

// Stop stops the reporter after a final report.
func (r *Reporter) Stop() {
	r.cancel()
	r.wg.Wait()
}
