/*
scheduler.go - Periodic cached-balance reconciliation

PURPOSE:
  Runs engine.Reconcile on a fixed interval while the server is up, so a
  cached balance edited outside the engine is repaired without an
  operator running "merit-ledger reconcile".

DESIGN:
  - One background goroutine driven by a ticker
  - Runs once immediately on Start
  - A failed run is logged and retried on the next tick
  - Disabled when the interval is zero

USAGE:
  scheduler := NewReconcileScheduler(engine, time.Hour, 4, logger)
  scheduler.Start()
  // ... later
  scheduler.Stop()

SEE ALSO:
  - ledger/balance.go: Reconcile
  - cli/reconcile.go: One-shot command
*/
package api

import (
	"context"
	"sync"
	"time"

	"github.com/warp/merit-ledger/ledger"
	"github.com/warp/merit-ledger/logging"
)

// ReconcileRun records the outcome of one scheduled reconciliation.
type ReconcileRun struct {
	StartedAt time.Time
	Duration  time.Duration
	Refreshed int
	Err       error
}

// ReconcileScheduler refreshes every cached balance periodically.
type ReconcileScheduler struct {
	Engine        *ledger.Engine
	CheckInterval time.Duration
	Concurrency   int

	log     *logging.Logger
	ticker  *time.Ticker
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	mu      sync.Mutex
	lastRun *ReconcileRun
}

// NewReconcileScheduler creates a scheduler. A zero interval disables it.
func NewReconcileScheduler(engine *ledger.Engine, interval time.Duration, concurrency int, logger *logging.Logger) *ReconcileScheduler {
	if logger == nil {
		logger = logging.Nop()
	}
	return &ReconcileScheduler{
		Engine:        engine,
		CheckInterval: interval,
		Concurrency:   concurrency,
		log:           logger.WithComponent(logging.ComponentLedger).With(logging.FieldOperation, "scheduled_reconcile"),
	}
}

// Enabled reports whether Start will run anything.
func (rs *ReconcileScheduler) Enabled() bool {
	return rs.CheckInterval > 0
}

// Start begins the scheduler.
func (rs *ReconcileScheduler) Start() {
	rs.mu.Lock()
	defer rs.mu.Unlock()

	if !rs.Enabled() {
		rs.log.Info("scheduler disabled")
		return
	}
	if rs.ticker != nil {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	rs.cancel = cancel
	rs.ticker = time.NewTicker(rs.CheckInterval)
	rs.wg.Add(1)
	go rs.run(ctx, rs.ticker.C)

	rs.log.Info("scheduler started", "interval", rs.CheckInterval)
}

// Stop stops the scheduler and waits for a running reconciliation to end.
func (rs *ReconcileScheduler) Stop() {
	rs.mu.Lock()
	if rs.ticker == nil {
		rs.mu.Unlock()
		return
	}
	rs.ticker.Stop()
	rs.cancel()
	rs.ticker = nil
	rs.mu.Unlock()

	rs.wg.Wait()
	rs.log.Info("scheduler stopped")
}

func (rs *ReconcileScheduler) run(ctx context.Context, ticks <-chan time.Time) {
	defer rs.wg.Done()

	rs.RunNow(ctx)

	for {
		select {
		case <-ticks:
			rs.RunNow(ctx)
		case <-ctx.Done():
			return
		}
	}
}

// RunNow reconciles immediately and records the run.
func (rs *ReconcileScheduler) RunNow(ctx context.Context) ReconcileRun {
	run := ReconcileRun{StartedAt: time.Now()}
	run.Refreshed, run.Err = rs.Engine.Reconcile(ctx, rs.Concurrency)
	run.Duration = time.Since(run.StartedAt)

	if run.Err != nil {
		rs.log.Error("reconcile failed", logging.FieldError, run.Err, "refreshed", run.Refreshed)
	} else {
		rs.log.Debug("reconcile completed", "refreshed", run.Refreshed, "duration", run.Duration)
	}

	rs.mu.Lock()
	rs.lastRun = &run
	rs.mu.Unlock()
	return run
}

// LastRun returns the most recent run, or nil before the first one.
func (rs *ReconcileScheduler) LastRun() *ReconcileRun {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	if rs.lastRun == nil {
		return nil
	}
	run := *rs.lastRun
	return &run
}

// NextRunTime returns when the next scheduled run will occur.
func (rs *ReconcileScheduler) NextRunTime() time.Time {
	last := rs.LastRun()
	if last == nil || !rs.Enabled() {
		return time.Time{}
	}
	return last.StartedAt.Add(rs.CheckInterval)
}
