package ledger_test

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"

	"github.com/warp/merit-ledger/ledger"
	"github.com/warp/merit-ledger/metrics"
)

// =============================================================================
// METRIC LABELS
// =============================================================================

func TestMetrics_UnregisteredKindsShareOneSeries(t *testing.T) {
	f := newFixture(t)
	requests := metrics.GrantOperations.WithLabelValues(metrics.UnknownKind, "request", string(ledger.CodeValidation))
	redeems := metrics.Redemptions.WithLabelValues(metrics.UnknownKind, string(ledger.CodeValidation))

	beforeSeries := testutil.CollectAndCount(metrics.GrantOperations)
	beforeRedeemSeries := testutil.CollectAndCount(metrics.Redemptions)
	beforeRequests := testutil.ToFloat64(requests)
	beforeRedeems := testutil.ToFloat64(redeems)

	// WHEN: requests and redemptions name kinds nobody registered
	for _, kind := range []ledger.KindID{"junk-a", "junk-b", "junk-c"} {
		_, err := f.engine.RequestGrant(f.ctx, private1.Actor(), ledger.GrantRequest{
			Kind: kind, Giver: sergeant.ID, Value: 1, Reason: "Kitchen duty",
		})
		requireCode(t, err, ledger.CodeValidation, "")

		_, err = f.engine.Redeem(f.ctx, admin.Actor(), ledger.RedeemRequest{
			Kind: kind, Target: private1.ID, Value: 1, Reason: "Early release",
		})
		requireCode(t, err, ledger.CodeValidation, "")
	}

	// THEN: every failure lands on the shared label, adding at most one series
	assert.LessOrEqual(t, testutil.CollectAndCount(metrics.GrantOperations)-beforeSeries, 1)
	assert.LessOrEqual(t, testutil.CollectAndCount(metrics.Redemptions)-beforeRedeemSeries, 1)
	assert.Equal(t, beforeRequests+3, testutil.ToFloat64(requests))
	assert.Equal(t, beforeRedeems+3, testutil.ToFloat64(redeems))
}

func TestMetrics_RegisteredKindKeepsItsLabel(t *testing.T) {
	f := newFixture(t)
	ok := metrics.GrantOperations.WithLabelValues(string(ledger.KindOvertime), "request", metrics.OutcomeOK)
	before := testutil.ToFloat64(ok)

	f.requestOvertime(private1, 60)

	assert.Equal(t, before+1, testutil.ToFloat64(ok))
}
