/*
workflow.go - Grant request and approval-chain transitions

PURPOSE:
  Implements the mutating grant operations. Every check runs before the
  single write, and both happen in one store transaction.

PARTIES:
  receiver  the person credited (requester for enlisted requests)
  giver     first-step verifier (needs Nco)
  approver  second-step approver for overtime (needs Approver)

REQUEST RULES:
  points, enlisted actor:  names a cadre giver; inserted pending
  points, cadre actor:     names a receiver; needs Nco; inserted verified
  overtime:                enlisted only; names giver and approver;
                           approver must hold Approver; inserted pending
  always:                  reason non-blank, value valid for the kind,
                           no granting to yourself

DECISION CHECK ORDER (verify and approve share it):
  1. grant exists                       NotFound
  2. actor is the assigned party        Forbidden
  3. actor is not enlisted              Forbidden
  4. rejection carries a reason         Validation
  5. actor holds the step permission    Forbidden
  6. transition is in the table         InvalidState
  7. conditional update wins            InvalidState (already processed)

SEE ALSO:
  - state.go: Transition tables
  - balance.go: refresh, called when a grant becomes effective
*/
package ledger

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/warp/merit-ledger/logging"
)

// GrantRequest carries the caller's input for RequestGrant.
type GrantRequest struct {
	Kind      KindID
	Receiver  PersonID // cadre-issued points
	Giver     PersonID // enlisted requests
	Approver  PersonID // overtime
	Value     int64
	Reason    string
	GivenAt   *time.Time
	StartedAt *time.Time
	EndedAt   *time.Time
}

// =============================================================================
// REQUEST
// =============================================================================

// RequestGrant validates and records a new grant.
func (e *Engine) RequestGrant(ctx context.Context, actor Actor, req GrantRequest) (*Grant, error) {
	const op = "request"

	kind, err := e.kind(req.Kind)
	if err != nil {
		return nil, e.fail(ctx, op, req.Kind, actor, err)
	}
	if err := validateGrantInput(kind, actor, req); err != nil {
		return nil, e.fail(ctx, op, kind.ID, actor, err)
	}

	var created Grant
	err = e.store.WithTx(ctx, func(s Store) error {
		g, err := e.buildGrant(ctx, s, kind, actor, req)
		if err != nil {
			return err
		}
		if err := s.InsertGrant(ctx, *g); err != nil {
			return fmt.Errorf("insert %s grant: %w", kind.ID, err)
		}
		if kind.Machine().Effective(g.State) {
			if _, err := e.refresh(ctx, s, kind, g.Receiver); err != nil {
				return err
			}
		}
		created = *g
		return nil
	})
	if err != nil {
		return nil, e.fail(ctx, op, kind.ID, actor, err)
	}

	e.succeed(ctx, op, kind.ID, actor,
		logging.FieldGrantID, created.ID,
		logging.FieldPersonID, created.Receiver,
		logging.FieldValue, created.Value,
	)
	e.publish(ctx, Event{
		Type:    EventGrantRequested,
		Kind:    kind.ID,
		GrantID: created.ID,
		Person:  created.Receiver,
		Actor:   actor.ID,
		Value:   created.Value,
		State:   created.State,
		At:      created.CreatedAt,
	})
	return &created, nil
}

// validateGrantInput runs the checks that need no store access.
func validateGrantInput(kind Kind, actor Actor, req GrantRequest) error {
	if err := requireReason(req.Reason, kind.Noun); err != nil {
		return err
	}
	if err := kind.ValidateValue(req.Value); err != nil {
		return err
	}
	if err := requireActor(actor); err != nil {
		return err
	}
	if req.StartedAt != nil && req.EndedAt != nil && !req.EndedAt.After(*req.StartedAt) {
		return Errorf(CodeValidation, "the end time must be after the start time")
	}
	return nil
}

// buildGrant resolves the parties and returns the grant to insert.
func (e *Engine) buildGrant(ctx context.Context, s Store, kind Kind, actor Actor, req GrantRequest) (*Grant, error) {
	now := e.now()
	g := &Grant{
		ID:        GrantID(e.newID()),
		Kind:      kind.ID,
		Value:     req.Value,
		Reason:    req.Reason,
		State:     StatePending,
		CreatedAt: now,
	}

	if kind.DirectIssue && !actor.IsEnlisted() {
		if err := e.resolveIssue(ctx, s, kind, actor, req, g); err != nil {
			return nil, err
		}
	} else if err := e.resolveRequest(ctx, s, kind, actor, req, g); err != nil {
		return nil, err
	}

	if kind.RequiresApprover() {
		g.StartedAt, g.EndedAt = req.StartedAt, req.EndedAt
	} else {
		givenAt := now
		if req.GivenAt != nil {
			givenAt = *req.GivenAt
		}
		g.GivenAt = &givenAt
	}
	return g, nil
}

// resolveIssue handles a cadre issuing a grant directly to a receiver.
// The grant skips the request step and enters the chain already verified.
func (e *Engine) resolveIssue(ctx context.Context, s Store, kind Kind, actor Actor, req GrantRequest, g *Grant) error {
	if req.Receiver == "" {
		return Errorf(CodeValidation, "please enter a receiver")
	}
	if _, err := loadActive(ctx, s, req.Receiver, "the receiver"); err != nil {
		return err
	}
	if req.Receiver == actor.ID {
		return Errorf(CodeValidation, "you cannot grant %s to yourself", kind.Unit)
	}
	if !actor.Can(PermNco) {
		return Errorf(CodeForbidden, "you do not have permission to issue %s", kind.Unit)
	}

	to, ok := kind.Machine().Next(StatePending, ActionVerify)
	if !ok {
		return Errorf(CodeInvalidState, "%s cannot be issued directly", kind.Noun)
	}
	g.Receiver = req.Receiver
	g.Giver = actor.ID
	g.Apply(Transition{From: StatePending, To: to, At: g.CreatedAt})
	return nil
}

// resolveRequest handles an enlisted person requesting a grant for themselves.
func (e *Engine) resolveRequest(ctx context.Context, s Store, kind Kind, actor Actor, req GrantRequest, g *Grant) error {
	if !actor.IsEnlisted() {
		return Errorf(CodeForbidden, "only enlisted personnel can request %s", kind.Noun)
	}
	if req.Giver == "" {
		return Errorf(CodeValidation, "please enter a giver")
	}
	giver, err := loadActive(ctx, s, req.Giver, "the giver")
	if err != nil {
		return err
	}
	if req.Giver == actor.ID {
		return Errorf(CodeValidation, "you cannot grant %s to yourself", kind.Unit)
	}
	if giver.Role != RoleCadre {
		return Errorf(CodeValidation, "the giver must be a cadre member")
	}

	if kind.RequiresApprover() {
		if req.Approver == "" {
			return Errorf(CodeValidation, "please enter an approver")
		}
		approver, err := loadActive(ctx, s, req.Approver, "the approver")
		if err != nil {
			return err
		}
		if !HasPermission(approver.Permissions, []Permission{PermApprover}) {
			return Errorf(CodeValidation, "the approver does not hold the Approver permission")
		}
		g.Approver = req.Approver
	}

	g.Receiver = actor.ID
	g.Giver = req.Giver
	return nil
}

// =============================================================================
// DECISIONS
// =============================================================================

// Verify accepts or rejects a pending grant as its giver.
func (e *Engine) Verify(ctx context.Context, actor Actor, kind KindID, id GrantID, accept bool, reason string) (*Grant, error) {
	return e.decide(ctx, actor, kind, id, VerifyAction(accept), reason)
}

// Approve accepts or rejects a verified grant as its approver.
// Only kinds with a two-step chain have an approval step.
func (e *Engine) Approve(ctx context.Context, actor Actor, kind KindID, id GrantID, accept bool, reason string) (*Grant, error) {
	return e.decide(ctx, actor, kind, id, ApproveAction(accept), reason)
}

type stepRule struct {
	party      func(g *Grant) PersonID
	partyName  string
	permission Permission
	verb       string
}

var stepRules = map[Action]stepRule{
	ActionVerify:     {func(g *Grant) PersonID { return g.Giver }, "giver", PermNco, "verify"},
	ActionReject:     {func(g *Grant) PersonID { return g.Giver }, "giver", PermNco, "verify"},
	ActionApprove:    {func(g *Grant) PersonID { return g.Approver }, "approver", PermApprover, "approve"},
	ActionDisapprove: {func(g *Grant) PersonID { return g.Approver }, "approver", PermApprover, "approve"},
}

func (e *Engine) decide(ctx context.Context, actor Actor, kindID KindID, id GrantID, action Action, reason string) (*Grant, error) {
	op := string(action)

	kind, err := e.kind(kindID)
	if err != nil {
		return nil, e.fail(ctx, op, kindID, actor, err)
	}
	if err := requireActor(actor); err != nil {
		return nil, e.fail(ctx, op, kind.ID, actor, err)
	}
	rule := stepRules[action]
	if rule.permission == PermApprover && !kind.RequiresApprover() {
		return nil, e.fail(ctx, op, kind.ID, actor,
			Errorf(CodeInvalidState, "%s has no approval step", kind.Noun))
	}

	var updated Grant
	err = e.store.WithTx(ctx, func(s Store) error {
		g, err := s.GetGrant(ctx, kind.ID, id)
		if err != nil {
			return fmt.Errorf("load %s grant: %w", kind.ID, err)
		}
		if g == nil {
			return Errorf(CodeNotFound, "the %s does not exist", kind.Noun)
		}
		if err := authorizeStep(kind, actor, g, action, rule, reason); err != nil {
			return err
		}

		to, ok := kind.Machine().Next(g.State, action)
		if !ok {
			return invalidTransition(kind, g.State, action)
		}
		t := Transition{From: g.State, To: to, At: e.now(), Reason: reason}
		if err := s.TransitionGrant(ctx, kind.ID, id, t); err != nil {
			if errors.Is(err, ErrConcurrentModification) {
				return Errorf(CodeInvalidState, "this %s has already been processed", kind.Noun).Wrap(err)
			}
			return fmt.Errorf("transition %s grant: %w", kind.ID, err)
		}
		g.Apply(t)

		if kind.Machine().Effective(g.State) {
			if _, err := e.refresh(ctx, s, kind, g.Receiver); err != nil {
				return err
			}
		}
		updated = *g
		return nil
	})
	if err != nil {
		return nil, e.fail(ctx, op, kind.ID, actor, err)
	}

	e.succeed(ctx, op, kind.ID, actor,
		logging.FieldGrantID, updated.ID,
		logging.FieldPersonID, updated.Receiver,
	)
	e.publish(ctx, Event{
		Type:    transitionEvents[updated.State],
		Kind:    kind.ID,
		GrantID: updated.ID,
		Person:  updated.Receiver,
		Actor:   actor.ID,
		Value:   updated.Value,
		State:   updated.State,
	})
	return &updated, nil
}

func authorizeStep(kind Kind, actor Actor, g *Grant, action Action, rule stepRule, reason string) error {
	if rule.party(g) != actor.ID {
		return Errorf(CodeForbidden, "only the assigned %s can %s this %s", rule.partyName, rule.verb, kind.Noun)
	}
	if actor.IsEnlisted() {
		return Errorf(CodeForbidden, "enlisted personnel cannot %s %s", rule.verb, kind.Noun)
	}
	if (action == ActionReject || action == ActionDisapprove) && strings.TrimSpace(reason) == "" {
		return Errorf(CodeValidation, "please enter a reason for the rejection")
	}
	if !actor.Can(rule.permission) {
		return Errorf(CodeForbidden, "you do not have permission to %s %s", rule.verb, kind.Noun)
	}
	return nil
}

func invalidTransition(kind Kind, from State, action Action) error {
	if from == StatePending && (action == ActionApprove || action == ActionDisapprove) {
		return Errorf(CodeInvalidState, "this %s must be verified before approval", kind.Noun)
	}
	return Errorf(CodeInvalidState, "this %s has already been %s", kind.Noun, from)
}

// =============================================================================
// DELETE
// =============================================================================

// DeleteGrant removes a grant that no one has acted on yet.
// Only its receiver, in the requesting role, may delete it.
func (e *Engine) DeleteGrant(ctx context.Context, actor Actor, kindID KindID, id GrantID) error {
	const op = "delete"

	kind, err := e.kind(kindID)
	if err != nil {
		return e.fail(ctx, op, kindID, actor, err)
	}
	if err := requireActor(actor); err != nil {
		return e.fail(ctx, op, kind.ID, actor, err)
	}
	if !actor.IsEnlisted() {
		return e.fail(ctx, op, kind.ID, actor,
			Errorf(CodeForbidden, "cadre cannot delete %s", kind.Noun))
	}

	var deleted Grant
	err = e.store.WithTx(ctx, func(s Store) error {
		g, err := s.GetGrant(ctx, kind.ID, id)
		if err != nil {
			return fmt.Errorf("load %s grant: %w", kind.ID, err)
		}
		if g == nil {
			return Errorf(CodeNotFound, "the %s does not exist", kind.Noun)
		}
		if g.Receiver != actor.ID {
			return Errorf(CodeForbidden, "you can only delete your own %s", kind.Noun)
		}
		if kind.Machine().Actioned(g.State) {
			return Errorf(CodeInvalidState, "a %s that has already been %s cannot be deleted", kind.Noun, g.State)
		}
		if err := s.DeleteGrant(ctx, kind.ID, id, StatePending); err != nil {
			if errors.Is(err, ErrConcurrentModification) {
				return Errorf(CodeInvalidState, "this %s has already been processed", kind.Noun).Wrap(err)
			}
			return fmt.Errorf("delete %s grant: %w", kind.ID, err)
		}
		deleted = *g
		return nil
	})
	if err != nil {
		return e.fail(ctx, op, kind.ID, actor, err)
	}

	e.succeed(ctx, op, kind.ID, actor, logging.FieldGrantID, deleted.ID)
	e.publish(ctx, Event{
		Type:    EventGrantDeleted,
		Kind:    kind.ID,
		GrantID: deleted.ID,
		Person:  deleted.Receiver,
		Actor:   actor.ID,
		Value:   deleted.Value,
	})
	return nil
}
