package api

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/merit-ledger/ledger"
	"github.com/warp/merit-ledger/ledger/store"
)

func TestReconcileScheduler_RepairsCacheOnStart(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemory()
	engine := ledger.NewEngine(mem)
	require.NoError(t, LoadScenario(ctx, engine, mem, "points-flow"))

	// GIVEN: a cache edited outside the engine
	require.NoError(t, mem.SetCachedBalance(ctx, ledger.KindPoints, adams.ID, 500))

	// WHEN: the scheduler starts
	rs := NewReconcileScheduler(engine, time.Hour, 2, nil)
	rs.Start()
	require.Eventually(t, func() bool { return rs.LastRun() != nil }, 5*time.Second, 10*time.Millisecond)
	rs.Stop()

	// THEN: the first run repaired it
	last := rs.LastRun()
	require.NoError(t, last.Err)
	assert.Equal(t, 10, last.Refreshed)
	assert.Equal(t, last.StartedAt.Add(time.Hour), rs.NextRunTime())

	p, err := mem.GetPerson(ctx, adams.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(8), p.Points)
}

func TestReconcileScheduler_DisabledWithZeroInterval(t *testing.T) {
	rs := NewReconcileScheduler(ledger.NewEngine(store.NewMemory()), 0, 1, nil)

	rs.Start()
	rs.Stop()

	assert.False(t, rs.Enabled())
	assert.Nil(t, rs.LastRun())
	assert.True(t, rs.NextRunTime().IsZero())
}

func TestReconcileScheduler_RunNow(t *testing.T) {
	mem := store.NewMemory()
	engine := ledger.NewEngine(mem)
	require.NoError(t, LoadScenario(context.Background(), engine, mem, "unit"))
	rs := NewReconcileScheduler(engine, time.Minute, 1, nil)

	run := rs.RunNow(context.Background())

	require.NoError(t, run.Err)
	assert.Equal(t, 10, run.Refreshed)
	assert.NotNil(t, rs.LastRun())
}
