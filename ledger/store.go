/*
store.go - Persistence contract for the ledger

PURPOSE:
  Defines the interface between the engine and the transactional
  relational store. The engine never issues SQL; it calls these methods
  inside WithTx so every operation is one atomic unit.

KEY INTERFACES:
  Store:          Reads and writes over persons, grants, redemptions
  TxStore:        Store + WithTx (atomic multi-statement operations)
  DirectoryStore: Person and template upkeep used by seeding tools

CONDITIONAL TRANSITIONS:
  TransitionGrant and DeleteGrant are predicated on the grant's prior
  state. When the predicate fails (another caller got there first) they
  return ErrConcurrentModification and change nothing. This is what makes
  two concurrent verify calls on one grant resolve to exactly one winner.

PER-PERSON LOCK:
  LockPerson takes a write lock on the person for the rest of the
  transaction. Redeem calls it before computing the available balance so
  that check-then-insert cannot interleave with another redemption.

NOT FOUND:
  Get* methods return (nil, nil) when the record does not exist.

IMPLEMENTATIONS:
  - store/sqlite: Production SQLite
  - ledger/store: In-memory for tests and development

SEE ALSO:
  - workflow.go, redeem.go, balance.go: Callers
*/
package ledger

import "context"

// GrantFilter selects grants. Empty fields match everything.
type GrantFilter struct {
	Receiver PersonID
	Giver    PersonID
	Approver PersonID
	States   []State
}

// Matches reports whether g passes the filter.
func (f GrantFilter) Matches(g Grant) bool {
	if f.Receiver != "" && g.Receiver != f.Receiver {
		return false
	}
	if f.Giver != "" && g.Giver != f.Giver {
		return false
	}
	if f.Approver != "" && g.Approver != f.Approver {
		return false
	}
	if len(f.States) == 0 {
		return true
	}
	for _, s := range f.States {
		if g.State == s {
			return true
		}
	}
	return false
}

// RedemptionFilter selects redemptions. Empty fields match everything.
type RedemptionFilter struct {
	Person     PersonID
	RecordedBy PersonID
}

// Matches reports whether r passes the filter.
func (f RedemptionFilter) Matches(r Redemption) bool {
	if f.Person != "" && r.Person != f.Person {
		return false
	}
	return f.RecordedBy == "" || r.RecordedBy == f.RecordedBy
}

// =============================================================================
// STORE
// =============================================================================

// Store is the ledger's view of the backing database.
type Store interface {
	// Persons
	GetPerson(ctx context.Context, id PersonID) (*Person, error)
	ListPersons(ctx context.Context) ([]Person, error)
	LockPerson(ctx context.Context, id PersonID) error
	SetCachedBalance(ctx context.Context, kind KindID, id PersonID, value int64) error

	// Grants
	InsertGrant(ctx context.Context, g Grant) error
	GetGrant(ctx context.Context, kind KindID, id GrantID) (*Grant, error)
	TransitionGrant(ctx context.Context, kind KindID, id GrantID, t Transition) error
	DeleteGrant(ctx context.Context, kind KindID, id GrantID, from State) error
	ListGrants(ctx context.Context, kind KindID, f GrantFilter) ([]Grant, error)
	CountGrants(ctx context.Context, kind KindID, f GrantFilter) (int, error)

	// SumEffectiveGrants sums grant values to person in the given state,
	// split into the positive and negative totals.
	SumEffectiveGrants(ctx context.Context, kind KindID, person PersonID, effective State) (positive, negative int64, err error)

	// Redemptions
	InsertRedemption(ctx context.Context, r Redemption) error
	ListRedemptions(ctx context.Context, kind KindID, f RedemptionFilter) ([]Redemption, error)
	SumRedemptions(ctx context.Context, kind KindID, person PersonID) (int64, error)

	ListTemplates(ctx context.Context) ([]Template, error)
}

// TxStore wraps Store with transaction support.
type TxStore interface {
	Store

	// WithTx executes fn within a transaction.
	// If fn returns error, the transaction is rolled back.
	WithTx(ctx context.Context, fn func(Store) error) error
}

// DirectoryStore maintains persons and templates. Only seeding and admin
// tooling write through it; the engine never does.
type DirectoryStore interface {
	SavePerson(ctx context.Context, p Person) error
	SaveTemplate(ctx context.Context, t Template) error
}
