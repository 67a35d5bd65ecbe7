package auth

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"github.com/bloomkart/backend/internal/audit"
	"github.com/bloomkart/backend/internal/blacklist"
	"github.com/bloomkart/backend/internal/metrics"
)

// DefaultCleanupSpec runs the sweep nightly at 02:00, the deployment's
// low-traffic window.
const DefaultCleanupSpec = "0 2 * * *"

// CleanupScheduler periodically purges expired blacklist entries. Only table
// growth depends on it: token validity is enforced independently by
// signature/expiry checks, so a skipped or delayed run just leaves more rows
// for the next one.
type CleanupScheduler struct {
	store   blacklist.Store
	spec    string
	log     logrus.FieldLogger
	metrics *metrics.Metrics
	audit   *audit.Dispatcher

	cron    *cron.Cron
	running atomic.Bool
}

// NewCleanupScheduler validates the cron spec eagerly so a bad schedule is a
// startup failure, not a silent no-op.
func NewCleanupScheduler(store blacklist.Store, spec string, opts Options) (*CleanupScheduler, error) {
	if spec == "" {
		spec = DefaultCleanupSpec
	}
	if _, err := cron.ParseStandard(spec); err != nil {
		return nil, fmt.Errorf("auth: invalid cleanup schedule %q: %w", spec, err)
	}
	log := opts.Logger
	if log == nil {
		logger := logrus.New()
		logger.SetLevel(logrus.WarnLevel)
		log = logger
	}

	return &CleanupScheduler{
		store:   store,
		spec:    spec,
		log:     log.WithField("component", "cleanup"),
		metrics: opts.Metrics,
		audit:   opts.Audit,
	}, nil
}

// Start registers the sweep and begins the timer. Safe to call once.
func (s *CleanupScheduler) Start() error {
	if s.cron != nil {
		return nil
	}
	s.cron = cron.New()
	if _, err := s.cron.AddFunc(s.spec, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
		defer cancel()
		if _, err := s.RunOnce(ctx); err != nil {
			s.log.WithError(err).Error("scheduled blacklist sweep failed")
		}
	}); err != nil {
		return err
	}
	s.cron.Start()
	s.log.WithField("schedule", s.spec).Info("blacklist cleanup scheduled")
	return nil
}

// Stop halts the timer and waits for an in-flight sweep to finish.
func (s *CleanupScheduler) Stop() {
	if s.cron == nil {
		return
	}
	<-s.cron.Stop().Done()
}

// RunOnce performs a single sweep. Concurrent invocations are collapsed:
// if a sweep is already in flight the call returns immediately with no work
// done (skip-if-running).
func (s *CleanupScheduler) RunOnce(ctx context.Context) (int64, error) {
	if !s.running.CompareAndSwap(false, true) {
		s.log.Debug("sweep already running; skipping")
		return 0, nil
	}
	defer s.running.Store(false)

	started := time.Now()
	removed, err := s.store.DeleteExpired(ctx, started)
	if err != nil {
		return removed, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	s.metrics.Inc(metrics.CleanupRuns)
	s.metrics.Add(metrics.CleanupRowsRemoved, uint64(removed))
	if s.audit != nil {
		s.audit.Emit(audit.Event{
			Timestamp: time.Now(),
			Action:    audit.ActionCleanup,
			Success:   true,
			Metadata: map[string]string{
				"rows_removed": fmt.Sprintf("%d", removed),
				"elapsed":      time.Since(started).String(),
			},
		})
	}
	s.log.WithFields(logrus.Fields{"rows_removed": removed, "elapsed": time.Since(started)}).
		Info("blacklist sweep completed")
	return removed, nil
}
