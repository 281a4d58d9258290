// Package autopoll drives a poll cycle on a timer, turning a
// request/response feed into a pushed stream.
package autopoll

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/telhawk-systems/eventfeed/common/logging"
	"github.com/telhawk-systems/eventfeed/internal/metrics"
)

// State is the scheduler state.
type State int

const (
	Stopped State = iota
	Polling
)

func (s State) String() string {
	switch s {
	case Polling:
		return "polling"
	default:
		return "stopped"
	}
}

// Cycle is one poll, dispatch and ack round.
type Cycle func(ctx context.Context) error

// Metrics tracks cycle outcomes.
type Metrics struct {
	Cycles        int64
	Failures      int64
	LastCycleTime time.Time
	LastError     string
}

// Scheduler runs a Cycle every sleep interval while Polling. The timer is
// re-armed only after a cycle returns, so cycles never overlap, including
// across a Pause followed by a quick Resume.
type Scheduler struct {
	cycle  Cycle
	logger *slog.Logger

	mu     sync.Mutex
	state  State
	stopCh chan struct{}
	wg     sync.WaitGroup

	cycleMu sync.Mutex

	metricsMu sync.RWMutex
	metrics   Metrics
}

// New creates a stopped Scheduler.
func New(cycle Cycle, logger *slog.Logger) *Scheduler {
	return &Scheduler{
		cycle:  cycle,
		logger: logging.OrDiscard(logger),
	}
}

// Resume starts polling every sleep. It returns false when already
// polling. Cycles run with ctx; cancelling ctx stops the loop.
func (s *Scheduler) Resume(ctx context.Context, sleep time.Duration) bool {
	if sleep <= 0 {
		sleep = time.Millisecond
	}

	s.mu.Lock()
	if s.state == Polling {
		s.mu.Unlock()
		return false
	}
	s.state = Polling
	stopCh := make(chan struct{})
	s.stopCh = stopCh
	s.mu.Unlock()

	s.logger.Info("auto-poll started", slog.Duration("sleep", sleep))

	s.wg.Add(1)
	go s.run(ctx, stopCh, sleep)
	return true
}

// Pause stops the timer. A cycle already running is left to finish and
// still dispatches its results. Pausing a stopped scheduler is a no-op.
func (s *Scheduler) Pause() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == Stopped {
		return
	}
	s.state = Stopped
	close(s.stopCh)
	s.stopCh = nil
	s.logger.Info("auto-poll paused")
}

// State returns the current state.
func (s *Scheduler) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Wait blocks until every loop started by Resume has exited, including a
// cycle that was in flight at Pause.
func (s *Scheduler) Wait() {
	s.wg.Wait()
}

// GetMetrics returns a snapshot of the cycle counters.
func (s *Scheduler) GetMetrics() Metrics {
	s.metricsMu.RLock()
	defer s.metricsMu.RUnlock()
	return s.metrics
}

func (s *Scheduler) run(ctx context.Context, stopCh chan struct{}, sleep time.Duration) {
	defer s.wg.Done()

	timer := time.NewTimer(sleep)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			s.stopFor(stopCh)
			return
		case <-stopCh:
			return
		case <-timer.C:
		}

		s.runCycle(ctx)

		select {
		case <-ctx.Done():
			s.stopFor(stopCh)
			return
		case <-stopCh:
			return
		default:
		}
		timer.Reset(sleep)
	}
}

// stopFor moves to Stopped if stopCh still belongs to the current run.
func (s *Scheduler) stopFor(stopCh chan struct{}) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopCh == stopCh {
		s.state = Stopped
		close(s.stopCh)
		s.stopCh = nil
	}
}

func (s *Scheduler) runCycle(ctx context.Context) {
	s.cycleMu.Lock()
	defer s.cycleMu.Unlock()

	start := time.Now()
	err := s.safeCycle(ctx)
	metrics.PollDuration.Observe(time.Since(start).Seconds())

	s.metricsMu.Lock()
	s.metrics.Cycles++
	s.metrics.LastCycleTime = start
	if err != nil {
		s.metrics.Failures++
		s.metrics.LastError = err.Error()
	}
	s.metricsMu.Unlock()

	if err != nil {
		metrics.PollCycles.WithLabelValues(metrics.OutcomeFailure).Inc()
		s.logger.Error("poll cycle failed", logging.Error(err))
		return
	}
	metrics.PollCycles.WithLabelValues(metrics.OutcomeSuccess).Inc()
}

func (s *Scheduler) safeCycle(ctx context.Context) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("poll cycle panic: %v", r)
		}
	}()
	return s.cycle(ctx)
}
