package ledger_test

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/merit-ledger/ledger"
	"github.com/warp/merit-ledger/ledger/store"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

var (
	sergeant = ledger.Person{ID: "C1", Name: "Sgt. One", Role: ledger.RoleCadre, Permissions: []ledger.Permission{ledger.PermNco}}
	captain  = ledger.Person{ID: "C2", Name: "Cpt. Two", Role: ledger.RoleCadre, Permissions: []ledger.Permission{ledger.PermNco, ledger.PermApprover, ledger.PermCommander}}
	admin    = ledger.Person{ID: "C3", Name: "Lt. Three", Role: ledger.RoleCadre, Permissions: []ledger.Permission{ledger.PermAdmin}}
	clerk    = ledger.Person{ID: "C4", Name: "Cpl. Four", Role: ledger.RoleCadre}
	private1 = ledger.Person{ID: "E1", Name: "Pvt. One", Role: ledger.RoleEnlisted}
	private2 = ledger.Person{ID: "E2", Name: "Pvt. Two", Role: ledger.RoleEnlisted}
)

var t0 = time.Date(2025, time.March, 3, 8, 0, 0, 0, time.UTC)

type fixture struct {
	t      *testing.T
	ctx    context.Context
	mem    *store.Memory
	engine *ledger.Engine
	events *eventLog
}

type eventLog struct {
	mu     sync.Mutex
	events []ledger.Event
}

func (l *eventLog) Publish(_ context.Context, e ledger.Event) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, e)
	return nil
}

func (l *eventLog) types() []ledger.EventType {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]ledger.EventType, len(l.events))
	for i, e := range l.events {
		out[i] = e.Type
	}
	return out
}

// newFixture returns an engine over a memory store holding the test unit.
// The clock advances one minute per read and IDs are sequential.
func newFixture(t *testing.T, opts ...ledger.Option) *fixture {
	t.Helper()
	ctx := context.Background()
	mem := store.NewMemory()
	for _, p := range []ledger.Person{sergeant, captain, admin, clerk, private1, private2} {
		require.NoError(t, mem.SavePerson(ctx, p))
	}

	var tick, seq atomic.Int64
	events := &eventLog{}
	base := []ledger.Option{
		ledger.WithClock(func() time.Time { return t0.Add(time.Duration(tick.Add(1)) * time.Minute) }),
		ledger.WithIDGenerator(func() string { return fmt.Sprintf("id-%04d", seq.Add(1)) }),
		ledger.WithPublisher(events),
	}
	return &fixture{
		t:      t,
		ctx:    ctx,
		mem:    mem,
		engine: ledger.NewEngine(mem, append(base, opts...)...),
		events: events,
	}
}

func (f *fixture) requestPoints(as ledger.Person, giver ledger.PersonID, value int64) *ledger.Grant {
	f.t.Helper()
	g, err := f.engine.RequestGrant(f.ctx, as.Actor(), ledger.GrantRequest{
		Kind: ledger.KindPoints, Giver: giver, Value: value, Reason: "Kitchen duty",
	})
	require.NoError(f.t, err)
	return g
}

func (f *fixture) issuePoints(as ledger.Person, receiver ledger.PersonID, value int64) *ledger.Grant {
	f.t.Helper()
	g, err := f.engine.RequestGrant(f.ctx, as.Actor(), ledger.GrantRequest{
		Kind: ledger.KindPoints, Receiver: receiver, Value: value, Reason: "Inspection",
	})
	require.NoError(f.t, err)
	return g
}

func (f *fixture) requestOvertime(as ledger.Person, minutes int64) *ledger.Grant {
	f.t.Helper()
	g, err := f.engine.RequestGrant(f.ctx, as.Actor(), ledger.GrantRequest{
		Kind: ledger.KindOvertime, Giver: sergeant.ID, Approver: captain.ID, Value: minutes, Reason: "Night shift",
	})
	require.NoError(f.t, err)
	return g
}

// approvedOvertime runs a full two-step chain and returns the approved grant.
func (f *fixture) approvedOvertime(as ledger.Person, minutes int64) *ledger.Grant {
	f.t.Helper()
	g := f.requestOvertime(as, minutes)
	_, err := f.engine.Verify(f.ctx, sergeant.Actor(), ledger.KindOvertime, g.ID, true, "")
	require.NoError(f.t, err)
	g, err = f.engine.Approve(f.ctx, captain.Actor(), ledger.KindOvertime, g.ID, true, "")
	require.NoError(f.t, err)
	return g
}

func (f *fixture) cached(id ledger.PersonID, kind ledger.KindID) int64 {
	f.t.Helper()
	p, err := f.mem.GetPerson(f.ctx, id)
	require.NoError(f.t, err)
	require.NotNil(f.t, p)
	return p.Cached(kind)
}

// assertCacheConsistent checks that every cached balance equals the
// balance computed from ledger rows.
func (f *fixture) assertCacheConsistent() {
	f.t.Helper()
	persons, err := f.mem.ListPersons(f.ctx)
	require.NoError(f.t, err)
	for _, p := range persons {
		for _, kind := range ledger.Kinds() {
			sum, err := f.engine.Summarize(f.ctx, kind.ID, p.ID)
			require.NoError(f.t, err)
			assert.Equal(f.t, sum.Available, p.Cached(kind.ID), "%s %s", p.ID, kind.ID)
		}
	}
}

// requireCode asserts err is classified as code and carries message.
func requireCode(t *testing.T, err error, code ledger.Code, message string) {
	t.Helper()
	require.Error(t, err)
	assert.Equal(t, code, ledger.CodeOf(err), err.Error())
	if message != "" {
		assert.Equal(t, message, ledger.MessageFor(err))
	}
}
