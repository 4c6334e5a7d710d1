package sync

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/iudanet/offsync/internal/netmon"
	"github.com/iudanet/offsync/internal/retry"
)

//go:generate moq -out syncer_mock.go . Syncer

// Syncer запускает один цикл синхронизации
type Syncer interface {
	TriggerSync(ctx context.Context) (*Result, error)
}

// runner фоновая задача монитора (например netmon.ProbeMonitor)
type runner interface {
	Run(ctx context.Context) error
}

// Scheduler запускает циклы по таймеру, при восстановлении сети и по ручному запросу.
// Запросы, пришедшие во время цикла, схлопываются в один.
type Scheduler struct {
	syncer   Syncer
	monitor  netmon.Monitor
	logger   *slog.Logger
	trigger  chan struct{}
	policy   retry.Policy
	interval time.Duration
	failures int
}

// NewScheduler создает планировщик
func NewScheduler(syncer Syncer, monitor netmon.Monitor, interval time.Duration, policy retry.Policy, logger *slog.Logger) *Scheduler {
	if interval <= 0 {
		interval = time.Minute
	}
	return &Scheduler{
		syncer:   syncer,
		monitor:  monitor,
		logger:   logger,
		trigger:  make(chan struct{}, 1),
		policy:   policy,
		interval: interval,
	}
}

// Trigger запрашивает внеочередной цикл, не блокируясь
func (s *Scheduler) Trigger() {
	select {
	case s.trigger <- struct{}{}:
	default:
	}
}

// Run работает до отмены ctx. Если монитор умеет опрашивать сервер сам,
// он запускается в той же группе.
func (s *Scheduler) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	if r, ok := s.monitor.(runner); ok {
		g.Go(func() error {
			return r.Run(gctx)
		})
	}
	g.Go(func() error {
		return s.loop(gctx)
	})

	return g.Wait()
}

func (s *Scheduler) loop(ctx context.Context) error {
	updates, unsubscribe := s.monitor.Subscribe()
	defer unsubscribe()

	timer := time.NewTimer(s.interval)
	defer timer.Stop()

	s.logger.Info("Sync scheduler started", "interval", s.interval)

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("Sync scheduler stopped")
			return nil
		case online, ok := <-updates:
			if !ok {
				updates = nil
				continue
			}
			if !online {
				continue
			}
			s.logger.Info("Network is back, synchronizing")
		case <-s.trigger:
		case <-timer.C:
		}

		s.runOnce(ctx)
		timer.Reset(s.nextDelay())
	}
}

func (s *Scheduler) runOnce(ctx context.Context) {
	result, err := s.syncer.TriggerSync(ctx)
	switch {
	case err != nil:
		s.failures++
		s.logger.Error("Sync cycle failed", "error", err)
	case result.Outcome.Failed():
		s.failures++
		s.logger.Warn("Sync cycle unsuccessful", "outcome", result.Outcome, "error", result.Err)
	case result.Outcome == OutcomeAlreadySyncing:
	default:
		s.failures = 0
	}
}

// nextDelay задержка до следующего периодического цикла
func (s *Scheduler) nextDelay() time.Duration {
	if s.failures == 0 {
		return s.interval
	}
	delay := s.policy.DelayForAttempt(s.failures - 1)
	if delay > s.interval {
		return s.interval
	}
	return delay
}
