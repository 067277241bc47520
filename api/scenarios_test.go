package api

import (
	"context"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/merit-ledger/ledger"
	"github.com/warp/merit-ledger/ledger/store"
	"github.com/warp/merit-ledger/store/sqlite"
)

func TestScenarios_LoadIntoSQLite(t *testing.T) {
	for _, sc := range Scenarios() {
		t.Run(sc.ID, func(t *testing.T) {
			// GIVEN: an empty database
			db, err := sqlite.New(":memory:")
			require.NoError(t, err)
			defer db.Close()
			engine := ledger.NewEngine(db)
			ctx := context.Background()

			// WHEN: loading the scenario
			require.NoError(t, LoadScenario(ctx, engine, db, sc.ID))

			// THEN: every cached balance equals the ledger sum
			persons, err := db.ListPersons(ctx)
			require.NoError(t, err)
			require.Len(t, persons, 5)
			for _, p := range persons {
				for _, kind := range ledger.Kinds() {
					sum, err := engine.Summarize(ctx, kind.ID, p.ID)
					require.NoError(t, err)
					assert.Equal(t, sum.Available, p.Cached(kind.ID), "%s %s", p.ID, kind.ID)
				}
			}
		})
	}
}

func TestScenarios_Balances(t *testing.T) {
	mem := store.NewMemory()
	engine := ledger.NewEngine(mem)
	ctx := context.Background()

	require.NoError(t, LoadScenario(ctx, engine, mem, "points-flow"))
	require.NoError(t, LoadScenario(ctx, engine, mem, "overtime-flow"))

	adamsPoints, err := engine.Summarize(ctx, ledger.KindPoints, adams.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(8), adamsPoints.Available)

	bakerPoints, err := engine.Summarize(ctx, ledger.KindPoints, baker.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(-2), bakerPoints.Demerit)
	assert.Equal(t, int64(-2), bakerPoints.Available)

	adamsOvertime, err := engine.Summarize(ctx, ledger.KindOvertime, adams.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(120), adamsOvertime.Merit)
	assert.Equal(t, int64(60), adamsOvertime.Redeemed)
	assert.Equal(t, int64(60), adamsOvertime.Available)

	bakerOvertime, err := engine.Summarize(ctx, ledger.KindOvertime, baker.ID)
	require.NoError(t, err)
	assert.Zero(t, bakerOvertime.Available)

	waiting, err := engine.AwaitingApproval(ctx, captain.Actor(), ledger.KindOvertime)
	require.NoError(t, err)
	require.Len(t, waiting, 1)
	assert.Equal(t, int64(90), waiting[0].Value)
}

func TestScenarios_UnitReloadKeepsTemplates(t *testing.T) {
	db, err := sqlite.New(":memory:")
	require.NoError(t, err)
	defer db.Close()
	mem := store.NewMemory()
	ctx := context.Background()

	for name, dir := range map[string]interface {
		ledger.TxStore
		ledger.DirectoryStore
	}{"memory": mem, "sqlite": db} {
		t.Run(name, func(t *testing.T) {
			engine := ledger.NewEngine(dir)

			// WHEN: the unit is loaded twice
			require.NoError(t, LoadScenario(ctx, engine, dir, "unit"))
			require.NoError(t, LoadScenario(ctx, engine, dir, "unit"))

			// THEN: persons and templates are not duplicated
			ts, err := dir.ListTemplates(ctx)
			require.NoError(t, err)
			assert.Len(t, ts, len(unitTemplates))
			persons, err := dir.ListPersons(ctx)
			require.NoError(t, err)
			assert.Len(t, persons, 5)
		})
	}
}

func TestScenarios_FlowReloadIsRejected(t *testing.T) {
	mem := store.NewMemory()
	engine := ledger.NewEngine(mem)
	ctx := context.Background()
	require.NoError(t, LoadScenario(ctx, engine, mem, "points-flow"))
	before, err := engine.Summarize(ctx, ledger.KindPoints, adams.ID)
	require.NoError(t, err)

	// WHEN: the same flow is replayed
	err = LoadScenario(ctx, engine, mem, "points-flow")

	// THEN: it is refused and balances stay put
	require.Error(t, err)
	assert.Equal(t, ledger.CodeInvalidState, ledger.CodeOf(err))
	after, err := engine.Summarize(ctx, ledger.KindPoints, adams.ID)
	require.NoError(t, err)
	assert.Equal(t, before.Available, after.Available)

	// AND: the other flow still loads next to it
	require.NoError(t, LoadScenario(ctx, engine, mem, "overtime-flow"))
}

func TestScenarios_Unknown(t *testing.T) {
	mem := store.NewMemory()

	err := LoadScenario(context.Background(), ledger.NewEngine(mem), mem, "nope")

	assert.True(t, ledger.IsNotFound(err))
}

func TestLoadScenarioHandler_RequiresUserAdmin(t *testing.T) {
	s := newTestServer(t)

	rec := s.do("POST", "/api/scenarios/load", "C-1002", LoadScenarioRequest{ScenarioID: "points-flow"})
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = s.do("POST", "/api/scenarios/load", "C-1003", LoadScenarioRequest{ScenarioID: "points-flow"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = s.do("GET", "/api/points/grants", "E-2002", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[[]GrantDTO](t, rec), 3)

	rec = s.do("POST", "/api/scenarios/load", "C-1003", LoadScenarioRequest{ScenarioID: "points-flow"})
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = s.do("GET", "/api/scenarios", "E-2001", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[[]ScenarioDTO](t, rec), 3)
}
