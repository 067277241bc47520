/*
scenarios.go - Demo scenario loaders for testing and demonstrations

PURPOSE:

	Provides pre-built scenarios that populate the database with a small
	unit and ledger activity. Grants, decisions and redemptions go through
	the engine, so loaded data obeys every ledger rule and the cached
	balances come out consistent.

AVAILABLE SCENARIOS:

	unit:          Five persons and the point templates, no activity
	points-flow:   unit + requested, verified, issued and rejected points
	overtime-flow: unit + a full overtime chain, one awaiting approval,
	               one disapproved, and a redemption

HOW SCENARIOS WORK:
 1. Save the persons and templates (upsert by ID and by reason)
 2. Replay ledger operations as the persons involved

USAGE:

	POST /api/scenarios/load            (UserAdmin only)
	{"scenario_id": "overtime-flow"}

	merit-ledger seed --scenario overtime-flow

NOTE:

	Scenarios add data; they do not reset. The unit scenario can be
	loaded any number of times. A flow scenario refuses to load once
	its kind holds any grant, so a second load cannot double the
	balances.

SEE ALSO:
  - cli/seed.go: Command-line loader
*/
package api

import (
	"context"
	"fmt"
	"net/http"

	"github.com/warp/merit-ledger/ledger"
)

// =============================================================================
// SCENARIO DEFINITIONS
// =============================================================================

var scenarios = []ScenarioDTO{
	{
		ID:          "unit",
		Name:        "Unit",
		Description: "Cadre and enlisted personnel with point templates, no ledger activity",
	},
	{
		ID:          "points-flow",
		Name:        "Points Flow",
		Description: "Requested, verified, directly issued and rejected point grants",
	},
	{
		ID:          "overtime-flow",
		Name:        "Overtime Flow",
		Description: "Two-step overtime approvals, a disapproval and a redemption",
	},
}

var scenarioLoaders = map[string]func(context.Context, *ledger.Engine, ledger.DirectoryStore) error{
	"unit":          loadUnit,
	"points-flow":   loadPointsFlow,
	"overtime-flow": loadOvertimeFlow,
}

// Scenarios returns the available scenarios.
func Scenarios() []ScenarioDTO {
	return append([]ScenarioDTO(nil), scenarios...)
}

// LoadScenario loads the scenario named id.
func LoadScenario(ctx context.Context, engine *ledger.Engine, dir ledger.DirectoryStore, id string) error {
	load, ok := scenarioLoaders[id]
	if !ok {
		return ledger.Errorf(ledger.CodeNotFound, "unknown scenario %q", id)
	}
	return load(ctx, engine, dir)
}

// ListScenarios returns available scenarios.
func (h *Handler) ListScenarios(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, scenarios)
}

// LoadScenario loads a predefined scenario. Requires UserAdmin.
func (h *Handler) LoadScenario(w http.ResponseWriter, r *http.Request) {
	var req LoadScenarioRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if !ActorFrom(r.Context()).Can(ledger.PermUserAdmin) {
		writeError(w, r, ledger.Errorf(ledger.CodeForbidden, "you do not have permission to load scenarios"))
		return
	}
	if h.Directory == nil {
		writeError(w, r, ledger.Errorf(ledger.CodeInvalidState, "scenario loading is disabled"))
		return
	}
	if err := LoadScenario(r.Context(), h.Engine, h.Directory, req.ScenarioID); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ledger.OutcomeOf(nil))
}

// =============================================================================
// UNIT
// =============================================================================

var (
	sergeant   = ledger.Person{ID: "C-1001", Name: "Sgt. Hale", Role: ledger.RoleCadre, Permissions: []ledger.Permission{ledger.PermNco}}
	captain    = ledger.Person{ID: "C-1002", Name: "Cpt. Ruiz", Role: ledger.RoleCadre, Permissions: []ledger.Permission{ledger.PermNco, ledger.PermApprover, ledger.PermCommander}}
	lieutenant = ledger.Person{ID: "C-1003", Name: "Lt. Park", Role: ledger.RoleCadre, Permissions: []ledger.Permission{ledger.PermAdmin, ledger.PermUserAdmin}}
	adams      = ledger.Person{ID: "E-2001", Name: "Pvt. Adams", Role: ledger.RoleEnlisted}
	baker      = ledger.Person{ID: "E-2002", Name: "Pvt. Baker", Role: ledger.RoleEnlisted}
)

var unitTemplates = []ledger.Template{
	{Reason: "Kitchen duty", Merit: 3},
	{Reason: "Guard duty", Merit: 5},
	{Reason: "Late to formation", Demerit: 2},
	{Reason: "Untidy quarters", Demerit: 1},
}

func loadUnit(ctx context.Context, _ *ledger.Engine, dir ledger.DirectoryStore) error {
	for _, p := range []ledger.Person{sergeant, captain, lieutenant, adams, baker} {
		if err := dir.SavePerson(ctx, p); err != nil {
			return fmt.Errorf("save person %s: %w", p.ID, err)
		}
	}
	for _, t := range unitTemplates {
		if err := dir.SaveTemplate(ctx, t); err != nil {
			return fmt.Errorf("save template %q: %w", t.Reason, err)
		}
	}
	return nil
}

// requireEmptyLedger rejects an activity replay when the kind it writes
// already has grants.
func requireEmptyLedger(ctx context.Context, e *ledger.Engine, kind ledger.KindID) error {
	n, err := e.Store().CountGrants(ctx, kind, ledger.GrantFilter{})
	if err != nil {
		return fmt.Errorf("count %s grants: %w", kind, err)
	}
	if n > 0 {
		return ledger.Errorf(ledger.CodeInvalidState,
			"the %s ledger already has activity; load this scenario into an empty database", kind)
	}
	return nil
}

// =============================================================================
// POINTS FLOW
// =============================================================================

func loadPointsFlow(ctx context.Context, e *ledger.Engine, dir ledger.DirectoryStore) error {
	if err := requireEmptyLedger(ctx, e, ledger.KindPoints); err != nil {
		return err
	}
	if err := loadUnit(ctx, e, dir); err != nil {
		return err
	}

	// Adams asks for kitchen duty points, the sergeant verifies
	g, err := e.RequestGrant(ctx, adams.Actor(), ledger.GrantRequest{
		Kind: ledger.KindPoints, Giver: sergeant.ID, Value: 3, Reason: "Kitchen duty",
	})
	if err != nil {
		return err
	}
	if _, err := e.Verify(ctx, sergeant.Actor(), ledger.KindPoints, g.ID, true, ""); err != nil {
		return err
	}

	// Issued directly by the captain: merit for Adams, demerit for Baker
	if _, err := e.RequestGrant(ctx, captain.Actor(), ledger.GrantRequest{
		Kind: ledger.KindPoints, Receiver: adams.ID, Value: 5, Reason: "Guard duty",
	}); err != nil {
		return err
	}
	if _, err := e.RequestGrant(ctx, captain.Actor(), ledger.GrantRequest{
		Kind: ledger.KindPoints, Receiver: baker.ID, Value: -2, Reason: "Late to formation",
	}); err != nil {
		return err
	}

	// Baker's request is rejected, a second one waits
	g, err = e.RequestGrant(ctx, baker.Actor(), ledger.GrantRequest{
		Kind: ledger.KindPoints, Giver: sergeant.ID, Value: 5, Reason: "Guard duty",
	})
	if err != nil {
		return err
	}
	if _, err := e.Verify(ctx, sergeant.Actor(), ledger.KindPoints, g.ID, false, "Not on the roster"); err != nil {
		return err
	}
	_, err = e.RequestGrant(ctx, baker.Actor(), ledger.GrantRequest{
		Kind: ledger.KindPoints, Giver: sergeant.ID, Value: 3, Reason: "Kitchen duty",
	})
	return err
}

// =============================================================================
// OVERTIME FLOW
// =============================================================================

func loadOvertimeFlow(ctx context.Context, e *ledger.Engine, dir ledger.DirectoryStore) error {
	if err := requireEmptyLedger(ctx, e, ledger.KindOvertime); err != nil {
		return err
	}
	if err := loadUnit(ctx, e, dir); err != nil {
		return err
	}

	request := func(who ledger.Person, minutes int64, reason string) (*ledger.Grant, error) {
		return e.RequestGrant(ctx, who.Actor(), ledger.GrantRequest{
			Kind:     ledger.KindOvertime,
			Giver:    sergeant.ID,
			Approver: captain.ID,
			Value:    minutes,
			Reason:   reason,
		})
	}

	// Full chain for Adams, then part of it spent
	g, err := request(adams, 120, "Weekend guard shift")
	if err != nil {
		return err
	}
	if _, err := e.Verify(ctx, sergeant.Actor(), ledger.KindOvertime, g.ID, true, ""); err != nil {
		return err
	}
	if _, err := e.Approve(ctx, captain.Actor(), ledger.KindOvertime, g.ID, true, ""); err != nil {
		return err
	}
	if _, err := e.Redeem(ctx, lieutenant.Actor(), ledger.RedeemRequest{
		Kind: ledger.KindOvertime, Target: adams.ID, Value: 60, Reason: "Early release Friday",
	}); err != nil {
		return err
	}

	// Baker: one verified and waiting on the captain, one disapproved
	g, err = request(baker, 90, "Vehicle maintenance")
	if err != nil {
		return err
	}
	if _, err := e.Verify(ctx, sergeant.Actor(), ledger.KindOvertime, g.ID, true, ""); err != nil {
		return err
	}
	g, err = request(baker, 45, "Inventory count")
	if err != nil {
		return err
	}
	if _, err := e.Verify(ctx, sergeant.Actor(), ledger.KindOvertime, g.ID, true, ""); err != nil {
		return err
	}
	_, err = e.Approve(ctx, captain.Actor(), ledger.KindOvertime, g.ID, false, "Part of regular duty")
	return err
}
