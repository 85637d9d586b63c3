// SPDX-FileCopyrightText: 2025 Exedra Development, S.L.
// SPDX-License-Identifier: Apache-2.0

package discovery

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/exedra-dev/xrgate/model"
	"github.com/xmidt-org/sallust"
	"go.uber.org/zap"
)

// DefaultRefreshInterval is how often the scheduler re-runs discovery.
const DefaultRefreshInterval = 5 * time.Minute

// Scheduler periodically refreshes a principal's catalog. Ticks that arrive
// while a refresh is still in flight are skipped entirely rather than
// queued, so two catalog rewrites for the same principal can never overlap.
type Scheduler struct {
	refresher *Refresher
	principal model.PrincipalRef
	interval  time.Duration
	logger    *zap.Logger

	running atomic.Bool
	stop    chan struct{}
	done    chan struct{}
}

func NewScheduler(refresher *Refresher, principal model.PrincipalRef, interval time.Duration, logger *zap.Logger) *Scheduler {
	if interval <= 0 {
		interval = DefaultRefreshInterval
	}
	if logger == nil {
		logger = sallust.Default()
	}
	return &Scheduler{
		refresher: refresher,
		principal: principal,
		interval:  interval,
		logger:    logger,
		stop:      make(chan struct{}),
		done:      make(chan struct{}),
	}
}

// Start launches the refresh loop. Call Stop to terminate it.
func (s *Scheduler) Start() {
	ticker := time.NewTicker(s.interval)
	go func() {
		defer close(s.done)
		defer ticker.Stop()
		for {
			select {
			case <-s.stop:
				return
			case <-ticker.C:
				s.Tick(context.Background())
			}
		}
	}()
	s.logger.Info("catalog auto-refresh scheduler started",
		zap.String("principal", string(s.principal)),
		zap.Duration("interval", s.interval))
}

// Tick runs one guarded refresh. It returns false when a refresh was already
// in flight and the tick was skipped.
func (s *Scheduler) Tick(ctx context.Context) bool {
	if !s.running.CompareAndSwap(false, true) {
		s.logger.Debug("skipping refresh tick, previous run still in flight",
			zap.String("principal", string(s.principal)))
		return false
	}
	defer s.running.Store(false)

	result, err := s.refresher.Refresh(ctx, s.principal)
	if err != nil {
		s.logger.Warn("scheduled catalog refresh failed",
			zap.String("principal", string(s.principal)), zap.Error(err))
		return true
	}
	s.logger.Info("scheduled catalog refresh complete",
		zap.String("principal", string(s.principal)),
		zap.Int("discovered", result.Discovered),
		zap.Int("withServices", result.WithServices))
	return true
}

// Stop terminates the loop and waits for it to exit. A refresh already
// dispatched runs to completion or timeout; there is no mid-flight
// cancellation.
func (s *Scheduler) Stop() {
	close(s.stop)
	<-s.done
}
