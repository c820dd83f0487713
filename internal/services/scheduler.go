package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/imyashkale/mcpdeploy/internal/lease"
	"github.com/imyashkale/mcpdeploy/internal/logger"
	"github.com/imyashkale/mcpdeploy/internal/metrics"
	"github.com/imyashkale/mcpdeploy/internal/models"
	"github.com/imyashkale/mcpdeploy/internal/repository"
	"golang.org/x/sync/errgroup"
)

// SchedulerConfig tunes the polling loop
type SchedulerConfig struct {
	// Interval between rounds while any record is transient
	Interval time.Duration
	// MaxBackoff caps the delay applied to a record after failed polls
	MaxBackoff time.Duration
	// MaxAttempts stops polling a record after this many consecutive failures; 0 disables the cutoff
	MaxAttempts int
	// LeaseTTL is how long a replica owns a record while polling it
	LeaseTTL time.Duration
}

func (c SchedulerConfig) withDefaults() SchedulerConfig {
	if c.Interval <= 0 {
		c.Interval = 5 * time.Second
	}
	if c.MaxBackoff <= 0 {
		c.MaxBackoff = 5 * time.Minute
	}
	if c.MaxBackoff < c.Interval {
		c.MaxBackoff = c.Interval
	}
	if c.LeaseTTL <= 0 {
		c.LeaseTTL = time.Minute
	}
	return c
}

// RoundReport summarizes one polling round
type RoundReport struct {
	Selected int
	Polled   int
	Changed  int
	Failed   int
	Skipped  int
}

type pollBackoff struct {
	failures    int
	nextAttempt time.Time
}

// Scheduler periodically reconciles every record whose deployment is still in progress
type Scheduler struct {
	repo       repository.ServiceRepository
	reconciler RecordReconciler
	locker     lease.Locker
	cfg        SchedulerConfig
	metrics    *metrics.Metrics
	notify     chan struct{}
	now        func() time.Time

	mu       sync.Mutex
	inflight map[string]context.CancelFunc
	backoff  map[string]*pollBackoff
	stopped  bool
}

// NewScheduler creates a scheduler. locker may be nil when a single replica runs.
func NewScheduler(
	repo repository.ServiceRepository,
	reconciler RecordReconciler,
	locker lease.Locker,
	cfg SchedulerConfig,
	m *metrics.Metrics,
) *Scheduler {
	return &Scheduler{
		repo:       repo,
		reconciler: reconciler,
		locker:     locker,
		cfg:        cfg.withDefaults(),
		metrics:    m,
		notify:     make(chan struct{}, 1),
		now:        time.Now,
		inflight:   make(map[string]context.CancelFunc),
		backoff:    make(map[string]*pollBackoff),
	}
}

// Select returns the records that still need polling
func Select(records []*models.ServiceRecord) []*models.ServiceRecord {
	selected := make([]*models.ServiceRecord, 0, len(records))
	for _, r := range records {
		if r.Status.IsTransient() {
			selected = append(selected, r)
		}
	}
	return selected
}

// Notify wakes an idle scheduler, e.g. after a service was created
func (s *Scheduler) Notify() {
	select {
	case s.notify <- struct{}{}:
	default:
	}
}

// Run polls until ctx is cancelled. While no record is transient it holds no
// timer and waits for Notify. It returns a configuration error as soon as one
// is reported and nil on cancellation.
func (s *Scheduler) Run(ctx context.Context) error {
	defer s.stop()

	logger.WithFields(map[string]interface{}{
		"interval":     s.cfg.Interval.String(),
		"max_backoff":  s.cfg.MaxBackoff.String(),
		"max_attempts": s.cfg.MaxAttempts,
	}).Info("Reconciliation scheduler started")

	for {
		report, err := s.PollOnce(ctx)
		if ctx.Err() != nil {
			logger.Info("Reconciliation scheduler stopped")
			return nil
		}
		if err != nil {
			if errors.Is(err, ErrMissingCredential) {
				logger.WithField("error", err.Error()).Error("Reconciliation scheduler stopped on configuration error")
				return err
			}
			logger.WithField("error", err.Error()).Warn("Reconciliation round failed")
		}

		if err == nil && report.Selected == 0 {
			logger.Debug("No deployments in progress, scheduler idle")
			select {
			case <-ctx.Done():
				logger.Info("Reconciliation scheduler stopped")
				return nil
			case <-s.notify:
				continue
			}
		}

		timer := time.NewTimer(s.cfg.Interval)
		select {
		case <-ctx.Done():
			timer.Stop()
			logger.Info("Reconciliation scheduler stopped")
			return nil
		case <-timer.C:
		}
	}
}

// PollOnce runs one round: every due transient record is reconciled
// concurrently and the round waits for all of them
func (s *Scheduler) PollOnce(ctx context.Context) (*RoundReport, error) {
	start := s.now()

	records, err := s.repo.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list service records: %w", err)
	}

	selected := Select(records)
	s.forget(selected)

	report := &RoundReport{Selected: len(selected)}
	var reportMu sync.Mutex
	count := func(field *int) {
		reportMu.Lock()
		*field++
		reportMu.Unlock()
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, rec := range selected {
		if !s.due(rec.Id) {
			count(&report.Skipped)
			continue
		}
		pollCtx, ok := s.begin(gctx, rec.Id)
		if !ok {
			count(&report.Skipped)
			continue
		}

		g.Go(func() error {
			defer s.end(rec.Id)
			return s.poll(pollCtx, rec, report, count)
		})
	}
	err = g.Wait()

	s.metrics.ObserveRound(s.now().Sub(start), len(selected))
	if report.Polled > 0 {
		logger.WithFields(map[string]interface{}{
			"selected": report.Selected,
			"polled":   report.Polled,
			"changed":  report.Changed,
			"failed":   report.Failed,
			"skipped":  report.Skipped,
		}).Debug("Reconciliation round completed")
	}

	return report, err
}

func (s *Scheduler) poll(ctx context.Context, rec *models.ServiceRecord, report *RoundReport, count func(*int)) error {
	if s.locker != nil {
		key := "record:" + rec.Id
		acquired, err := s.locker.Acquire(ctx, key, s.cfg.LeaseTTL)
		if err != nil {
			logger.WithFields(map[string]interface{}{
				"record_id": rec.Id,
				"error":     err.Error(),
			}).Warn("Failed to acquire poll lease")
			count(&report.Skipped)
			return nil
		}
		if !acquired {
			count(&report.Skipped)
			return nil
		}
		defer func() {
			releaseCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := s.locker.Release(releaseCtx, key); err != nil {
				logger.WithField("record_id", rec.Id).Warn("Failed to release poll lease")
			}
		}()
	}

	if ctx.Err() != nil {
		count(&report.Skipped)
		return nil
	}

	count(&report.Polled)
	res, err := s.reconciler.ReconcileOnce(ctx, rec)
	if err != nil {
		if errors.Is(err, ErrMissingCredential) {
			return err
		}
		count(&report.Failed)
		s.recordFailure(rec.Id)
		logger.WithFields(map[string]interface{}{
			"record_id":  rec.Id,
			"service_id": rec.ServiceId,
			"error":      err.Error(),
		}).Warn("Deployment status poll failed")
		return nil
	}

	s.recordSuccess(rec.Id)
	if res.Changed {
		count(&report.Changed)
	}
	return nil
}

// begin registers an in-flight poll for id. It refuses when the scheduler is
// stopping, ctx is done, or the record is already being polled.
func (s *Scheduler) begin(parent context.Context, id string) (context.Context, bool) {
	if parent.Err() != nil {
		return nil, false
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped {
		return nil, false
	}
	if _, busy := s.inflight[id]; busy {
		return nil, false
	}

	ctx, cancel := context.WithCancel(parent)
	s.inflight[id] = cancel
	return ctx, true
}

func (s *Scheduler) end(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if cancel, ok := s.inflight[id]; ok {
		cancel()
		delete(s.inflight, id)
	}
}

// stop cancels every outstanding poll and refuses new ones
func (s *Scheduler) stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.stopped = true
	for id, cancel := range s.inflight {
		cancel()
		delete(s.inflight, id)
	}
}

// InFlight returns the number of polls currently running
func (s *Scheduler) InFlight() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.inflight)
}

func (s *Scheduler) due(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	b, ok := s.backoff[id]
	if !ok {
		return true
	}
	if s.cfg.MaxAttempts > 0 && b.failures >= s.cfg.MaxAttempts {
		return false
	}
	return !s.now().Before(b.nextAttempt)
}

func (s *Scheduler) recordFailure(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	b, ok := s.backoff[id]
	if !ok {
		b = &pollBackoff{}
		s.backoff[id] = b
	}
	b.failures++

	delay := s.cfg.Interval
	for i := 0; i < b.failures && delay < s.cfg.MaxBackoff; i++ {
		delay *= 2
	}
	if delay > s.cfg.MaxBackoff {
		delay = s.cfg.MaxBackoff
	}
	b.nextAttempt = s.now().Add(delay)

	if s.cfg.MaxAttempts > 0 && b.failures == s.cfg.MaxAttempts {
		logger.WithFields(map[string]interface{}{
			"record_id": id,
			"failures":  b.failures,
		}).Error("Giving up polling deployment status")
	}
}

func (s *Scheduler) recordSuccess(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.backoff, id)
}

// forget drops backoff state of records that are no longer transient
func (s *Scheduler) forget(selected []*models.ServiceRecord) {
	keep := make(map[string]struct{}, len(selected))
	for _, r := range selected {
		keep[r.Id] = struct{}{}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for id := range s.backoff {
		if _, ok := keep[id]; !ok {
			delete(s.backoff, id)
		}
	}
}
