package ledger

import (
	"context"
	"fmt"
)

// Counts tallies the grants an actor is party to, by chain position.
type Counts struct {
	Pending     int `json:"pending"`
	NeedApprove int `json:"need_approve"`
	Effective   int `json:"effective"`
	Rejected    int `json:"rejected"` // rejected or disapproved
}

// GetGrant loads one grant.
func (e *Engine) GetGrant(ctx context.Context, kindID KindID, id GrantID) (*Grant, error) {
	kind, err := e.kind(kindID)
	if err != nil {
		return nil, err
	}
	g, err := e.store.GetGrant(ctx, kind.ID, id)
	if err != nil {
		return nil, e.fail(ctx, "get", kind.ID, Actor{}, err)
	}
	if g == nil {
		return nil, Errorf(CodeNotFound, "the %s does not exist", kind.Noun)
	}
	return g, nil
}

// partyFilter selects the grants an actor sees as their own: received
// grants for enlisted, given grants for cadre.
func partyFilter(actor Actor) GrantFilter {
	if actor.IsEnlisted() {
		return GrantFilter{Receiver: actor.ID}
	}
	return GrantFilter{Giver: actor.ID}
}

// ListGrantsFor lists the actor's grants, newest first.
func (e *Engine) ListGrantsFor(ctx context.Context, actor Actor, kindID KindID) ([]Grant, error) {
	return e.list(ctx, actor, kindID, "list", partyFilter(actor))
}

// PendingForGiver lists grants waiting on the actor's verification.
func (e *Engine) PendingForGiver(ctx context.Context, actor Actor, kindID KindID) ([]Grant, error) {
	return e.list(ctx, actor, kindID, "pending", GrantFilter{Giver: actor.ID, States: []State{StatePending}})
}

// AwaitingApproval lists verified grants waiting on the actor's approval.
func (e *Engine) AwaitingApproval(ctx context.Context, actor Actor, kindID KindID) ([]Grant, error) {
	kind, err := e.kind(kindID)
	if err != nil {
		return nil, err
	}
	if !kind.RequiresApprover() {
		return []Grant{}, nil
	}
	return e.list(ctx, actor, kindID, "awaiting_approval", GrantFilter{Approver: actor.ID, States: []State{StateVerified}})
}

func (e *Engine) list(ctx context.Context, actor Actor, kindID KindID, op string, f GrantFilter) ([]Grant, error) {
	kind, err := e.kind(kindID)
	if err != nil {
		return nil, err
	}
	if err := requireActor(actor); err != nil {
		return nil, err
	}
	grants, err := e.store.ListGrants(ctx, kind.ID, f)
	if err != nil {
		return nil, e.fail(ctx, op, kind.ID, actor, fmt.Errorf("list %s grants: %w", kind.ID, err))
	}
	return grants, nil
}

// Counts tallies the actor's grants by state.
func (e *Engine) Counts(ctx context.Context, actor Actor, kindID KindID) (Counts, error) {
	kind, err := e.kind(kindID)
	if err != nil {
		return Counts{}, err
	}
	if err := requireActor(actor); err != nil {
		return Counts{}, err
	}

	base := partyFilter(actor)
	count := func(states ...State) (int, error) {
		f := base
		f.States = states
		return e.store.CountGrants(ctx, kind.ID, f)
	}

	var c Counts
	var errs [4]error
	c.Pending, errs[0] = count(StatePending)
	c.Effective, errs[1] = count(kind.EffectiveState())
	c.Rejected, errs[2] = count(StateRejected, StateDisapproved)
	if kind.RequiresApprover() {
		c.NeedApprove, errs[3] = count(StateVerified)
	}
	for _, err := range errs {
		if err != nil {
			return Counts{}, e.fail(ctx, "counts", kind.ID, actor, fmt.Errorf("count %s grants: %w", kind.ID, err))
		}
	}
	return c, nil
}

// ListRedemptions lists redemptions of one kind matching f, newest first.
func (e *Engine) ListRedemptions(ctx context.Context, kindID KindID, f RedemptionFilter) ([]Redemption, error) {
	kind, err := e.kind(kindID)
	if err != nil {
		return nil, err
	}
	rs, err := e.store.ListRedemptions(ctx, kind.ID, f)
	if err != nil {
		return nil, e.fail(ctx, "list_redemptions", kind.ID, Actor{}, fmt.Errorf("list %s redemptions: %w", kind.ID, err))
	}
	return rs, nil
}

// Templates lists the preset point reasons.
func (e *Engine) Templates(ctx context.Context) ([]Template, error) {
	ts, err := e.store.ListTemplates(ctx)
	if err != nil {
		return nil, e.fail(ctx, "templates", KindPoints, Actor{}, fmt.Errorf("list templates: %w", err))
	}
	return ts, nil
}

// ResolveActor loads the person behind an authenticated subject. Unknown
// or soft-deleted subjects are unauthenticated, never trusted.
func (e *Engine) ResolveActor(ctx context.Context, id PersonID) (*Person, error) {
	if id == "" {
		return nil, Errorf(CodeUnauthenticated, "please log in again")
	}
	p, err := e.store.GetPerson(ctx, id)
	if err != nil {
		return nil, e.fail(ctx, "resolve_actor", "", Actor{ID: id}, fmt.Errorf("load person: %w", err))
	}
	if p == nil || !p.Active() {
		return nil, Errorf(CodeUnauthenticated, "please log in again")
	}
	return p, nil
}
