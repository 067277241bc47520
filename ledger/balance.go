/*
balance.go - Balance aggregation and cached-balance refresh

PURPOSE:
  The ledger rows are the authority. A person's available balance is

    available = Σ effective grants − Σ redemptions

  For points the effective sum is reported split into merit (value > 0)
  and demerit (value < 0). Overtime grants are never negative, so its
  demerit is always zero.

CACHED BALANCE:
  Person.Points and Person.Overtime are a materialized copy of
  available. refresh recomputes and persists it, and is called inside the
  same transaction as every effective transition and every redemption, so
  the copy matches the ledger after each committed mutation. Summarize
  also refreshes (idempotent, last writer wins).

RECONCILE:
  Reconcile refreshes every person for every kind with bounded
  parallelism. It repairs caches after manual database edits; it is an
  operator command, not a background job.

SEE ALSO:
  - redeem.go: Uses computeSummary under the person lock
  - workflow.go: Calls refresh on effective transitions
*/
package ledger

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/warp/merit-ledger/logging"
	"github.com/warp/merit-ledger/metrics"
)

// Summary is a person's balance for one kind, computed from ledger rows.
type Summary struct {
	Person    PersonID
	Kind      KindID
	Merit     int64 // Σ effective grants with value > 0
	Demerit   int64 // Σ effective grants with value < 0 (zero or negative)
	Redeemed  int64 // Σ redemptions
	Available int64 // Merit + Demerit − Redeemed
}

// Earned is the net effective grant total.
func (s Summary) Earned() int64 {
	return s.Merit + s.Demerit
}

// Hours is the available balance expressed in hours. Meaningful for
// minute-denominated kinds only.
func (s Summary) Hours() decimal.Decimal {
	return Hours(s.Available)
}

var minutesPerHour = decimal.NewFromInt(60)

// Hours expresses a minute quantity in hours, rounded to two places.
func Hours(minutes int64) decimal.Decimal {
	return decimal.NewFromInt(minutes).Div(minutesPerHour).Round(2)
}

func computeSummary(ctx context.Context, s Store, kind Kind, person PersonID) (Summary, error) {
	pos, neg, err := s.SumEffectiveGrants(ctx, kind.ID, person, kind.EffectiveState())
	if err != nil {
		return Summary{}, fmt.Errorf("sum %s grants: %w", kind.ID, err)
	}
	used, err := s.SumRedemptions(ctx, kind.ID, person)
	if err != nil {
		return Summary{}, fmt.Errorf("sum %s redemptions: %w", kind.ID, err)
	}
	return Summary{
		Person:    person,
		Kind:      kind.ID,
		Merit:     pos,
		Demerit:   neg,
		Redeemed:  used,
		Available: pos + neg - used,
	}, nil
}

// refresh recomputes the person's balance and persists it to the cache.
func (e *Engine) refresh(ctx context.Context, s Store, kind Kind, person PersonID) (Summary, error) {
	defer metrics.ObserveRefresh(string(kind.ID), time.Now())

	sum, err := computeSummary(ctx, s, kind, person)
	if err != nil {
		return Summary{}, err
	}
	if err := s.SetCachedBalance(ctx, kind.ID, person, sum.Available); err != nil {
		return Summary{}, fmt.Errorf("cache %s balance: %w", kind.ID, err)
	}
	return sum, nil
}

// Summarize computes a person's balance and refreshes the cached copy.
func (e *Engine) Summarize(ctx context.Context, kindID KindID, person PersonID) (Summary, error) {
	const op = "summarize"

	kind, err := e.kind(kindID)
	if err != nil {
		return Summary{}, e.fail(ctx, op, kindID, Actor{}, err)
	}

	var sum Summary
	err = e.store.WithTx(ctx, func(s Store) error {
		if _, err := loadActive(ctx, s, person, "the person"); err != nil {
			return err
		}
		sum, err = e.refresh(ctx, s, kind, person)
		return err
	})
	if err != nil {
		return Summary{}, e.fail(ctx, op, kind.ID, Actor{}, err)
	}
	return sum, nil
}

// Reconcile refreshes the cached balances of every person for every kind,
// running at most concurrency refreshes at once. It returns the number of
// balances refreshed.
func (e *Engine) Reconcile(ctx context.Context, concurrency int) (int, error) {
	persons, err := e.store.ListPersons(ctx)
	if err != nil {
		return 0, fmt.Errorf("list persons: %w", err)
	}
	if concurrency < 1 {
		concurrency = 1
	}

	var refreshed atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)

	for _, p := range persons {
		for _, kind := range Kinds() {
			g.Go(func() error {
				err := e.store.WithTx(gctx, func(s Store) error {
					_, err := e.refresh(gctx, s, kind, p.ID)
					return err
				})
				if err != nil {
					return fmt.Errorf("refresh %s for %s: %w", kind.ID, p.ID, err)
				}
				refreshed.Add(1)
				return nil
			})
		}
	}

	err = g.Wait()
	n := int(refreshed.Load())
	e.log.InfoContext(ctx, "reconcile finished",
		logging.FieldOperation, "reconcile",
		"persons", len(persons),
		"refreshed", n,
	)
	return n, err
}
