package ledger_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/merit-ledger/ledger"
)

func TestSummary_SplitsMeritAndDemerit(t *testing.T) {
	f := newFixture(t)
	f.issuePoints(sergeant, private1.ID, 5)
	f.issuePoints(captain, private1.ID, -2)
	f.issuePoints(sergeant, private1.ID, -1)
	f.requestPoints(private1, sergeant.ID, 10) // pending, ignored
	_, err := f.engine.Redeem(f.ctx, captain.Actor(), ledger.RedeemRequest{
		Kind: ledger.KindPoints, Target: private1.ID, Value: 1, Reason: "Pass",
	})
	require.NoError(t, err)

	sum, err := f.engine.Summarize(f.ctx, ledger.KindPoints, private1.ID)
	require.NoError(t, err)

	assert.Equal(t, int64(5), sum.Merit)
	assert.Equal(t, int64(-3), sum.Demerit)
	assert.Equal(t, int64(2), sum.Earned())
	assert.Equal(t, int64(1), sum.Redeemed)
	assert.Equal(t, int64(1), sum.Available)
}

func TestSummary_UnknownPerson(t *testing.T) {
	f := newFixture(t)

	_, err := f.engine.Summarize(f.ctx, ledger.KindPoints, "nobody")

	requireCode(t, err, ledger.CodeNotFound, "the person does not exist")
}

func TestHours(t *testing.T) {
	tests := []struct {
		minutes int64
		want    string
	}{
		{0, "0"},
		{30, "0.5"},
		{90, "1.5"},
		{100, "1.67"},
		{-45, "-0.75"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ledger.Hours(tt.minutes).String(), "%d minutes", tt.minutes)
	}
}

func TestReconcile_RepairsDriftedCache(t *testing.T) {
	f := newFixture(t)
	f.issuePoints(sergeant, private1.ID, 4)
	f.approvedOvertime(private2, 75)

	// GIVEN: caches edited behind the engine's back
	require.NoError(t, f.mem.SetCachedBalance(f.ctx, ledger.KindPoints, private1.ID, 999))
	require.NoError(t, f.mem.SetCachedBalance(f.ctx, ledger.KindOvertime, private2.ID, -1))

	// WHEN: reconciling
	n, err := f.engine.Reconcile(f.ctx, 3)
	require.NoError(t, err)

	// THEN: every person and kind was refreshed
	assert.Equal(t, 6*len(ledger.Kinds()), n)
	assert.Equal(t, int64(4), f.cached(private1.ID, ledger.KindPoints))
	assert.Equal(t, int64(75), f.cached(private2.ID, ledger.KindOvertime))
	f.assertCacheConsistent()
}

func TestCache_FollowsEveryMutation(t *testing.T) {
	f := newFixture(t)

	steps := []func(){
		func() { f.issuePoints(sergeant, private1.ID, 3) },
		func() { f.approvedOvertime(private1, 50) },
		func() {
			_, err := f.engine.Redeem(f.ctx, admin.Actor(), ledger.RedeemRequest{
				Kind: ledger.KindOvertime, Target: private1.ID, Value: 20, Reason: "x",
			})
			require.NoError(t, err)
		},
		func() {
			g := f.requestPoints(private2, sergeant.ID, 2)
			_, err := f.engine.Verify(f.ctx, sergeant.Actor(), ledger.KindPoints, g.ID, true, "")
			require.NoError(t, err)
		},
	}
	for _, step := range steps {
		step()
		f.assertCacheConsistent()
	}
}
