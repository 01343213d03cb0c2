package session

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"github.com/platinummonkey/turnstile/pkg/observability"
)

// Expirer deletes sessions idle for longer than maxAge
type Expirer interface {
	DeleteExpired(ctx context.Context, maxAge time.Duration) (int64, error)
}

// Sweeper periodically removes expired session rows
type Sweeper struct {
	store   Expirer
	maxAge  time.Duration
	timeout time.Duration
	logger  logrus.FieldLogger
	metrics *observability.Metrics
	cron    *cron.Cron
}

// NewSweeper creates a sweeper removing sessions older than maxAge
func NewSweeper(store Expirer, maxAge time.Duration, logger logrus.FieldLogger, metrics *observability.Metrics) *Sweeper {
	if metrics == nil {
		metrics = observability.NewMetrics(nil)
	}
	return &Sweeper{
		store:   store,
		maxAge:  maxAge,
		timeout: time.Minute,
		logger:  logger,
		metrics: metrics,
	}
}

// Sweep runs one pass
func (s *Sweeper) Sweep(ctx context.Context) (int64, error) {
	n, err := s.store.DeleteExpired(ctx, s.maxAge)
	if err != nil {
		return 0, err
	}
	s.metrics.SessionsExpiredTotal.Add(float64(n))
	s.logger.WithField("deleted", n).Info("Expired sessions removed")
	return n, nil
}

// Start schedules Sweep with a standard five-field cron expression
func (s *Sweeper) Start(schedule string) error {
	cronLogger := cron.PrintfLogger(s.logger)
	c := cron.New(cron.WithLogger(cronLogger), cron.WithChain(cron.Recover(cronLogger)))

	_, err := c.AddFunc(schedule, func() {
		ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
		defer cancel()
		if _, err := s.Sweep(ctx); err != nil {
			s.logger.WithError(err).Error("Session sweep failed")
		}
	})
	if err != nil {
		return fmt.Errorf("invalid sweep schedule %q: %w", schedule, err)
	}

	s.cron = c
	c.Start()
	s.logger.WithField("schedule", schedule).Info("Session sweeper started")
	return nil
}

// Stop halts the schedule and waits for a running sweep, up to ctx
func (s *Sweeper) Stop(ctx context.Context) error {
	if s.cron == nil {
		return nil
	}
	select {
	case <-s.cron.Stop().Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
