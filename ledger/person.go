/*
person.go - Persons, roles, permissions and the resolved actor

PURPOSE:
  The ledger only needs three facts about a person: that they exist (and
  are not soft-deleted), which role they hold, and which permission tags
  they carry. Everything else about the directory lives outside the ledger.

ROLES:
  enlisted: requests grants, receives points and overtime
  cadre:    issues, verifies and approves grants, records redemptions

PERMISSIONS:
  Nco:       may issue point grants and act as verifier
  Approver:  second-tier approval of overtime
  Admin:     may record redemptions
  Commander: may record redemptions
  UserAdmin: directory administration (not used by ledger rules)

ACTOR:
  Actor is resolved server-side for every call and passed explicitly into
  each engine operation. Client-supplied identities are never trusted.

SEE ALSO:
  - workflow.go: Role and permission checks on each transition
  - redeem.go: Spending permission checks
*/
package ledger

import "time"

// PersonID is the unique service number of a person.
type PersonID string

// Role is the coarse rank group of a person.
type Role string

const (
	RoleEnlisted Role = "enlisted"
	RoleCadre    Role = "cadre"
)

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	return r == RoleEnlisted || r == RoleCadre
}

// Permission is a capability tag attached to a person.
type Permission string

const (
	PermNco       Permission = "Nco"
	PermApprover  Permission = "Approver"
	PermAdmin     Permission = "Admin"
	PermCommander Permission = "Commander"
	PermUserAdmin Permission = "UserAdmin"
)

// Valid reports whether p is a known permission.
func (p Permission) Valid() bool {
	switch p {
	case PermNco, PermApprover, PermAdmin, PermCommander, PermUserAdmin:
		return true
	}
	return false
}

// HasPermission reports whether have and required intersect.
func HasPermission(have, required []Permission) bool {
	for _, r := range required {
		for _, h := range have {
			if h == r {
				return true
			}
		}
	}
	return false
}

// =============================================================================
// PERSON
// =============================================================================

// Person is a directory entry as seen by the ledger.
// Points and Overtime are cached balances, never authoritative.
type Person struct {
	ID          PersonID
	Name        string
	Role        Role
	Permissions []Permission
	Points      int64 // cached available points
	Overtime    int64 // cached available overtime minutes
	VerifiedAt  *time.Time
	DeletedAt   *time.Time
	CreatedAt   time.Time
}

// Active reports whether the person has not been soft-deleted.
func (p Person) Active() bool {
	return p.DeletedAt == nil
}

// Cached returns the cached balance for the given kind.
func (p Person) Cached(kind KindID) int64 {
	if kind == KindOvertime {
		return p.Overtime
	}
	return p.Points
}

// Actor returns the acting identity for this person.
func (p Person) Actor() Actor {
	return Actor{ID: p.ID, Role: p.Role, Permissions: p.Permissions}
}

// =============================================================================
// ACTOR
// =============================================================================

// Actor is the authenticated identity performing an operation.
type Actor struct {
	ID          PersonID
	Role        Role
	Permissions []Permission
}

// Can reports whether the actor holds any of the required permissions.
func (a Actor) Can(required ...Permission) bool {
	return HasPermission(a.Permissions, required)
}

func (a Actor) IsEnlisted() bool { return a.Role == RoleEnlisted }
