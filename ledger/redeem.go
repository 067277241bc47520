/*
redeem.go - Redemption validation and recording

PURPOSE:
  A redemption spends part of a person's available balance. It is final
  on insert; there is no approval chain and no edit or delete.

CHECK ORDER:
  1. reason non-blank                       Validation
  2. value > 0                              Validation
  3. actor present                          Unauthenticated
  4. actor not enlisted                     Forbidden
  5. target named and exists                Validation / NotFound
  6. actor holds Admin or Commander         Forbidden
  7. available >= value                     InsufficientBalance

RACE WINDOW:
  Steps 7 and the insert are check-then-act. The store transaction first
  takes LockPerson on the target, so two concurrent redemptions against
  the same person run one after the other and the second sees the first's
  row. Combined overdraw is impossible: at most one of two redemptions
  exceeding the balance succeeds.

SEE ALSO:
  - balance.go: computeSummary, refresh
  - store.go: LockPerson contract
*/
package ledger

import (
	"context"
	"fmt"

	"github.com/warp/merit-ledger/logging"
	"github.com/warp/merit-ledger/metrics"
)

// RedeemRequest carries the caller's input for Redeem.
type RedeemRequest struct {
	Kind   KindID
	Target PersonID
	Value  int64
	Reason string
}

// Redeem records a spend against the target's available balance.
func (e *Engine) Redeem(ctx context.Context, actor Actor, req RedeemRequest) (*Redemption, error) {
	kind, err := e.kind(req.Kind)
	if err != nil {
		return nil, e.fail(ctx, opRedeem, req.Kind, actor, err)
	}
	if err := validateRedeemInput(kind, actor, req); err != nil {
		return nil, e.fail(ctx, opRedeem, kind.ID, actor, err)
	}

	var recorded Redemption
	err = e.store.WithTx(ctx, func(s Store) error {
		if _, err := loadActive(ctx, s, req.Target, "the target"); err != nil {
			return err
		}
		if !actor.Can(PermAdmin, PermCommander) {
			return Errorf(CodeForbidden, "you do not have permission to redeem %s", kind.Unit)
		}
		if err := s.LockPerson(ctx, req.Target); err != nil {
			return fmt.Errorf("lock person: %w", err)
		}

		sum, err := computeSummary(ctx, s, kind, req.Target)
		if err != nil {
			return err
		}
		if sum.Available < req.Value {
			return &InsufficientBalanceError{
				Person:    req.Target,
				Kind:      kind,
				Available: sum.Available,
				Requested: req.Value,
				Shortfall: req.Value - sum.Available,
			}
		}

		recorded = Redemption{
			ID:         RedemptionID(e.newID()),
			Kind:       kind.ID,
			Person:     req.Target,
			RecordedBy: actor.ID,
			Value:      req.Value,
			Reason:     req.Reason,
			CreatedAt:  e.now(),
		}
		if err := s.InsertRedemption(ctx, recorded); err != nil {
			return fmt.Errorf("insert %s redemption: %w", kind.ID, err)
		}
		_, err = e.refresh(ctx, s, kind, req.Target)
		return err
	})
	if err != nil {
		return nil, e.fail(ctx, opRedeem, kind.ID, actor, err)
	}

	metrics.RedeemedUnits.WithLabelValues(string(kind.ID)).Add(float64(recorded.Value))
	e.succeed(ctx, opRedeem, kind.ID, actor,
		logging.FieldPersonID, recorded.Person,
		logging.FieldValue, recorded.Value,
	)
	e.publish(ctx, Event{
		Type:         EventRedemptionRecorded,
		Kind:         kind.ID,
		RedemptionID: recorded.ID,
		Person:       recorded.Person,
		Actor:        actor.ID,
		Value:        recorded.Value,
		At:           recorded.CreatedAt,
	})
	return &recorded, nil
}

func validateRedeemInput(kind Kind, actor Actor, req RedeemRequest) error {
	if err := requireReason(req.Reason, "redemption"); err != nil {
		return err
	}
	if req.Value <= 0 {
		return Errorf(CodeValidation, "value must be at least 1 %s", kind.Unit)
	}
	if err := requireActor(actor); err != nil {
		return err
	}
	if actor.IsEnlisted() {
		return Errorf(CodeForbidden, "enlisted personnel cannot redeem %s", kind.Unit)
	}
	if req.Target == "" {
		return Errorf(CodeValidation, "please enter a target")
	}
	return nil
}
