/*
kind.go - Ledger kind descriptors and registry

PURPOSE:
  Points and overtime share one grant/redemption engine. A Kind describes
  the handful of things that differ between them:

    field        points     overtime
    ---------    -------    --------
    Signed       true       false      (negative values are demerits)
    Steps        1          2          (verify, then approve)
    Unit         points     minutes
    DirectIssue  true       false      (cadre may issue pre-verified)

  The engine never branches on the kind name; it asks the descriptor.

REGISTRY:
  Transports decode "points" / "overtime" from URLs and JSON through
  LookupKind. Both built-in kinds are registered at init.

SEE ALSO:
  - state.go: Transition tables selected by Steps
  - workflow.go: Consumes the descriptor
*/
package ledger

import (
	"fmt"
	"sort"
	"sync"
)

// KindID names a ledger kind.
type KindID string

const (
	KindPoints   KindID = "points"
	KindOvertime KindID = "overtime"
)

// Kind describes one ledger instance.
type Kind struct {
	ID          KindID
	Noun        string // used in user-facing messages
	Unit        string
	Signed      bool
	Steps       int
	DirectIssue bool
}

var (
	Points = Kind{
		ID:          KindPoints,
		Noun:        "point grant",
		Unit:        "points",
		Signed:      true,
		Steps:       1,
		DirectIssue: true,
	}

	Overtime = Kind{
		ID:    KindOvertime,
		Noun:  "overtime",
		Unit:  "minutes",
		Steps: 2,
	}
)

// EffectiveState is the state in which a grant of this kind counts
// toward the receiver's balance.
func (k Kind) EffectiveState() State {
	if k.Steps > 1 {
		return StateApproved
	}
	return StateVerified
}

// Machine returns the transition table for the kind's chain length.
func (k Kind) Machine() *Machine {
	return machineFor(k.Steps)
}

// RequiresApprover reports whether grants of this kind name a second-tier approver.
func (k Kind) RequiresApprover() bool {
	return k.Steps > 1
}

// ValidateValue checks the value rules of the kind.
// Zero is never valid: it is neither merit nor demerit, and a no-op for overtime.
func (k Kind) ValidateValue(v int64) error {
	if v == 0 {
		if k.Signed {
			return Errorf(CodeValidation, "value must be at least 1 or at most -1")
		}
		return Errorf(CodeValidation, "value must be at least 1 %s", k.Unit)
	}
	if v < 0 && !k.Signed {
		return Errorf(CodeValidation, "value must be at least 1 %s", k.Unit)
	}
	return nil
}

// =============================================================================
// KIND REGISTRY
// =============================================================================

var (
	kindRegistry = make(map[KindID]Kind)
	kindMu       sync.RWMutex
)

func init() {
	RegisterKind(Points)
	RegisterKind(Overtime)
}

// RegisterKind adds a kind to the registry.
func RegisterKind(k Kind) {
	kindMu.Lock()
	defer kindMu.Unlock()
	kindRegistry[k.ID] = k
}

// LookupKind finds a registered kind by ID.
func LookupKind(id string) (Kind, bool) {
	kindMu.RLock()
	defer kindMu.RUnlock()
	k, ok := kindRegistry[KindID(id)]
	return k, ok
}

// MustLookupKind finds a registered kind or panics.
func MustLookupKind(id string) Kind {
	k, ok := LookupKind(id)
	if !ok {
		panic(fmt.Sprintf("ledger kind not registered: %s", id))
	}
	return k
}

// Kinds returns all registered kinds ordered by ID.
func Kinds() []Kind {
	kindMu.RLock()
	defer kindMu.RUnlock()
	result := make([]Kind, 0, len(kindRegistry))
	for _, k := range kindRegistry {
		result = append(result, k)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result
}
