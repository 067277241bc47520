/*
types.go - Grant and redemption records

PURPOSE:
  Grant is one proposed award of points or overtime minutes, moving through
  the approval chain. Redemption is one final deduction against a person's
  accrued balance; it has no chain and never changes after insert.

GRANT FIELDS BY KIND:
  points:   Receiver, Giver, Value (signed), Reason, GivenAt
  overtime: Receiver, Giver, Approver, Value (minutes), Reason,
            StartedAt / EndedAt (work window)

AUDIT TIMESTAMPS:
  VerifiedAt, RejectedAt(+reason), ApprovedAt, DisapprovedAt(+reason) are
  written by Apply as a consequence of a state transition. At most one of
  {verified, rejected} and one of {approved, disapproved} is ever set.

SEE ALSO:
  - state.go: The state machine that drives Apply
  - store.go: Persistence contract
*/
package ledger

import "time"

// GrantID identifies a grant within its kind.
type GrantID string

// RedemptionID identifies a redemption within its kind.
type RedemptionID string

// =============================================================================
// GRANT
// =============================================================================

// Grant is one point or overtime award and its approval chain.
type Grant struct {
	ID       GrantID
	Kind     KindID
	Receiver PersonID
	Giver    PersonID
	Approver PersonID // overtime only
	Value    int64
	Reason   string
	State    State

	CreatedAt time.Time
	GivenAt   *time.Time // points: when the merit was earned
	StartedAt *time.Time // overtime: work window
	EndedAt   *time.Time

	VerifiedAt        *time.Time
	RejectedAt        *time.Time
	RejectedReason    string
	ApprovedAt        *time.Time
	DisapprovedAt     *time.Time
	DisapprovedReason string
}

// Transition is a conditional state change applied by a store.
// Stores apply it only if the grant is still in From.
type Transition struct {
	From   State
	To     State
	At     time.Time
	Reason string
}

// Apply records the transition on g, including its audit timestamp.
func (g *Grant) Apply(t Transition) {
	at := t.At
	g.State = t.To
	switch t.To {
	case StateVerified:
		g.VerifiedAt = &at
	case StateRejected:
		g.RejectedAt = &at
		g.RejectedReason = t.Reason
	case StateApproved:
		g.ApprovedAt = &at
	case StateDisapproved:
		g.DisapprovedAt = &at
		g.DisapprovedReason = t.Reason
	}
}

// =============================================================================
// REDEMPTION
// =============================================================================

// Redemption is a final deduction recorded against a person's balance.
type Redemption struct {
	ID         RedemptionID
	Kind       KindID
	Person     PersonID
	RecordedBy PersonID
	Value      int64
	Reason     string
	CreatedAt  time.Time
}

// Template is a preset reason and value offered when issuing points.
type Template struct {
	ID      int64
	Reason  string
	Merit   int64
	Demerit int64
}
