package batch

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/warp/leave-engine/leave"
)

// =============================================================================
// SCHEDULER - Periodic recalculation + brought-forward expiry
// =============================================================================
//
// On every tick the scheduler:
//   1. finds the absence period containing today
//   2. recalculates it (overridden balances are skipped)
//   3. expires brought-forward days whose expiry date has passed
//
// It runs once immediately on Start.
//
// USAGE:
//   s := batch.NewScheduler(runner, service, clock, log)
//   s.Interval = 6 * time.Hour
//   s.Start()
//   defer s.Stop()

// Scheduler runs the Runner and brought-forward expiry on a ticker.
type Scheduler struct {
	Runner   *Runner
	Service  *leave.Service
	Clock    leave.Clock
	Log      logrus.FieldLogger
	Interval time.Duration
	Enabled  bool

	ticker *time.Ticker
	stop   chan struct{}
	cancel context.CancelFunc
	wg     sync.WaitGroup
	mu     sync.Mutex
}

// NewScheduler creates a scheduler with a 1 hour interval.
func NewScheduler(runner *Runner, service *leave.Service, clock leave.Clock, log logrus.FieldLogger) *Scheduler {
	if clock == nil {
		clock = leave.SystemClock()
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Scheduler{
		Runner:   runner,
		Service:  service,
		Clock:    clock,
		Log:      log,
		Interval: time.Hour,
		Enabled:  true,
	}
}

// Start begins the scheduler.
func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.Enabled {
		s.Log.Info("Scheduler disabled, not starting")
		return
	}
	if s.ticker != nil {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.stop = make(chan struct{})
	s.ticker = time.NewTicker(s.Interval)
	s.wg.Add(1)

	go s.run(ctx)

	s.Log.WithField("interval", s.Interval.String()).Info("Scheduler started")
}

// Stop stops the scheduler and waits for the current tick to finish.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.ticker == nil {
		return
	}
	s.ticker.Stop()
	s.cancel()
	close(s.stop)
	s.wg.Wait()
	s.ticker = nil
	s.Log.Info("Scheduler stopped")
}

func (s *Scheduler) run(ctx context.Context) {
	defer s.wg.Done()

	s.RunOnce(ctx)

	for {
		select {
		case <-s.ticker.C:
			s.RunOnce(ctx)
		case <-s.stop:
			return
		}
	}
}

// RunOnce performs a single tick synchronously.
func (s *Scheduler) RunOnce(ctx context.Context) {
	today := s.Clock.Today()
	log := s.Log.WithField("today", today.String())

	period, err := s.Runner.Directory.CurrentPeriod(ctx, today)
	switch {
	case err != nil:
		log.WithError(err).Error("Failed to find the current absence period")
	case period == nil:
		log.Warn("No absence period contains today, skipping recalculation")
	default:
		if _, err := s.Runner.RecalculatePeriod(ctx, period.ID); err != nil {
			log.WithError(err).WithField("period_id", period.ID).Error("Recalculation failed")
		}
	}

	n, err := s.Service.ExpireBroughtForward(ctx, today)
	if err != nil {
		log.WithError(err).Error("Brought forward expiry failed")
		return
	}
	if n > 0 {
		log.WithField("expired", n).Info("Expired brought forward entries")
	}
}
