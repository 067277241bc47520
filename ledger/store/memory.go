// Package store provides an in-memory ledger.TxStore.
package store

import (
	"context"
	"sort"
	"sync"

	"github.com/warp/merit-ledger/ledger"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

// Memory is a ledger.TxStore held in process memory. Transactions are
// serialised by one mutex and rolled back by restoring a snapshot.
type Memory struct {
	mu   sync.Mutex
	data *memoryData
}

var (
	_ ledger.TxStore        = (*Memory)(nil)
	_ ledger.DirectoryStore = (*Memory)(nil)
	_ ledger.Store          = (*memoryData)(nil)
)

type memoryData struct {
	persons     map[ledger.PersonID]ledger.Person
	grants      map[ledger.KindID][]ledger.Grant // insertion order
	redemptions map[ledger.KindID][]ledger.Redemption
	templates   []ledger.Template
}

func newMemoryData() *memoryData {
	return &memoryData{
		persons:     make(map[ledger.PersonID]ledger.Person),
		grants:      make(map[ledger.KindID][]ledger.Grant),
		redemptions: make(map[ledger.KindID][]ledger.Redemption),
	}
}

// NewMemory returns an empty store.
func NewMemory() *Memory {
	return &Memory{data: newMemoryData()}
}

// WithTx executes fn within a transaction.
// For memory store, this is simulated with a snapshot + rollback on error.
func (m *Memory) WithTx(ctx context.Context, fn func(ledger.Store) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	snapshot := m.data.clone()
	if err := fn(m.data); err != nil {
		m.data = snapshot
		return err
	}
	return nil
}

func (d *memoryData) clone() *memoryData {
	c := newMemoryData()
	for k, v := range d.persons {
		c.persons[k] = v
	}
	for k, v := range d.grants {
		c.grants[k] = append([]ledger.Grant(nil), v...)
	}
	for k, v := range d.redemptions {
		c.redemptions[k] = append([]ledger.Redemption(nil), v...)
	}
	c.templates = append([]ledger.Template(nil), d.templates...)
	return c
}

// locked runs fn against the live data under the store mutex.
func (m *Memory) locked(fn func(d *memoryData)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	fn(m.data)
}

// =============================================================================
// STORE METHODS (outside a transaction)
// =============================================================================

func (m *Memory) GetPerson(ctx context.Context, id ledger.PersonID) (p *ledger.Person, err error) {
	m.locked(func(d *memoryData) { p, err = d.GetPerson(ctx, id) })
	return
}

func (m *Memory) ListPersons(ctx context.Context) (ps []ledger.Person, err error) {
	m.locked(func(d *memoryData) { ps, err = d.ListPersons(ctx) })
	return
}

func (m *Memory) LockPerson(ctx context.Context, id ledger.PersonID) error {
	return nil
}

func (m *Memory) SetCachedBalance(ctx context.Context, kind ledger.KindID, id ledger.PersonID, value int64) (err error) {
	m.locked(func(d *memoryData) { err = d.SetCachedBalance(ctx, kind, id, value) })
	return
}

func (m *Memory) InsertGrant(ctx context.Context, g ledger.Grant) (err error) {
	m.locked(func(d *memoryData) { err = d.InsertGrant(ctx, g) })
	return
}

func (m *Memory) GetGrant(ctx context.Context, kind ledger.KindID, id ledger.GrantID) (g *ledger.Grant, err error) {
	m.locked(func(d *memoryData) { g, err = d.GetGrant(ctx, kind, id) })
	return
}

func (m *Memory) TransitionGrant(ctx context.Context, kind ledger.KindID, id ledger.GrantID, t ledger.Transition) (err error) {
	m.locked(func(d *memoryData) { err = d.TransitionGrant(ctx, kind, id, t) })
	return
}

func (m *Memory) DeleteGrant(ctx context.Context, kind ledger.KindID, id ledger.GrantID, from ledger.State) (err error) {
	m.locked(func(d *memoryData) { err = d.DeleteGrant(ctx, kind, id, from) })
	return
}

func (m *Memory) ListGrants(ctx context.Context, kind ledger.KindID, f ledger.GrantFilter) (gs []ledger.Grant, err error) {
	m.locked(func(d *memoryData) { gs, err = d.ListGrants(ctx, kind, f) })
	return
}

func (m *Memory) CountGrants(ctx context.Context, kind ledger.KindID, f ledger.GrantFilter) (n int, err error) {
	m.locked(func(d *memoryData) { n, err = d.CountGrants(ctx, kind, f) })
	return
}

func (m *Memory) SumEffectiveGrants(ctx context.Context, kind ledger.KindID, person ledger.PersonID, effective ledger.State) (pos, neg int64, err error) {
	m.locked(func(d *memoryData) { pos, neg, err = d.SumEffectiveGrants(ctx, kind, person, effective) })
	return
}

func (m *Memory) InsertRedemption(ctx context.Context, r ledger.Redemption) (err error) {
	m.locked(func(d *memoryData) { err = d.InsertRedemption(ctx, r) })
	return
}

func (m *Memory) ListRedemptions(ctx context.Context, kind ledger.KindID, f ledger.RedemptionFilter) (rs []ledger.Redemption, err error) {
	m.locked(func(d *memoryData) { rs, err = d.ListRedemptions(ctx, kind, f) })
	return
}

func (m *Memory) SumRedemptions(ctx context.Context, kind ledger.KindID, person ledger.PersonID) (n int64, err error) {
	m.locked(func(d *memoryData) { n, err = d.SumRedemptions(ctx, kind, person) })
	return
}

func (m *Memory) ListTemplates(ctx context.Context) (ts []ledger.Template, err error) {
	m.locked(func(d *memoryData) { ts, err = d.ListTemplates(ctx) })
	return
}

// SavePerson inserts or replaces a person. Cached balances are only
// written on insert.
func (m *Memory) SavePerson(ctx context.Context, p ledger.Person) error {
	m.locked(func(d *memoryData) {
		if old, ok := d.persons[p.ID]; ok {
			p.Points, p.Overtime, p.CreatedAt = old.Points, old.Overtime, old.CreatedAt
		}
		p.Permissions = append([]ledger.Permission(nil), p.Permissions...)
		d.persons[p.ID] = p
	})
	return nil
}

// SaveTemplate upserts a point template by reason. New templates get the
// next ID; existing ones keep theirs.
func (m *Memory) SaveTemplate(ctx context.Context, t ledger.Template) error {
	m.locked(func(d *memoryData) {
		for i, old := range d.templates {
			if old.Reason == t.Reason {
				t.ID = old.ID
				d.templates[i] = t
				return
			}
		}
		t.ID = int64(len(d.templates) + 1)
		d.templates = append(d.templates, t)
	})
	return nil
}

// =============================================================================
// DATA - unlocked implementation shared by Memory and its transactions
// =============================================================================

func (d *memoryData) GetPerson(_ context.Context, id ledger.PersonID) (*ledger.Person, error) {
	p, ok := d.persons[id]
	if !ok {
		return nil, nil
	}
	p.Permissions = append([]ledger.Permission(nil), p.Permissions...)
	return &p, nil
}

func (d *memoryData) ListPersons(_ context.Context) ([]ledger.Person, error) {
	result := make([]ledger.Person, 0, len(d.persons))
	for _, p := range d.persons {
		result = append(result, p)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result, nil
}

func (d *memoryData) LockPerson(context.Context, ledger.PersonID) error {
	return nil
}

func (d *memoryData) SetCachedBalance(_ context.Context, kind ledger.KindID, id ledger.PersonID, value int64) error {
	p, ok := d.persons[id]
	if !ok {
		return nil
	}
	if kind == ledger.KindOvertime {
		p.Overtime = value
	} else {
		p.Points = value
	}
	d.persons[id] = p
	return nil
}

func (d *memoryData) InsertGrant(_ context.Context, g ledger.Grant) error {
	d.grants[g.Kind] = append(d.grants[g.Kind], g)
	return nil
}

func (d *memoryData) find(kind ledger.KindID, id ledger.GrantID) int {
	for i, g := range d.grants[kind] {
		if g.ID == id {
			return i
		}
	}
	return -1
}

func (d *memoryData) GetGrant(_ context.Context, kind ledger.KindID, id ledger.GrantID) (*ledger.Grant, error) {
	i := d.find(kind, id)
	if i < 0 {
		return nil, nil
	}
	g := d.grants[kind][i]
	return &g, nil
}

func (d *memoryData) TransitionGrant(_ context.Context, kind ledger.KindID, id ledger.GrantID, t ledger.Transition) error {
	i := d.find(kind, id)
	if i < 0 || d.grants[kind][i].State != t.From {
		return ledger.ErrConcurrentModification
	}
	d.grants[kind][i].Apply(t)
	return nil
}

func (d *memoryData) DeleteGrant(_ context.Context, kind ledger.KindID, id ledger.GrantID, from ledger.State) error {
	i := d.find(kind, id)
	if i < 0 || d.grants[kind][i].State != from {
		return ledger.ErrConcurrentModification
	}
	gs := d.grants[kind]
	d.grants[kind] = append(gs[:i:i], gs[i+1:]...)
	return nil
}

func (d *memoryData) ListGrants(_ context.Context, kind ledger.KindID, f ledger.GrantFilter) ([]ledger.Grant, error) {
	gs := d.grants[kind]
	result := make([]ledger.Grant, 0)
	for i := len(gs) - 1; i >= 0; i-- {
		if f.Matches(gs[i]) {
			result = append(result, gs[i])
		}
	}
	return result, nil
}

func (d *memoryData) CountGrants(ctx context.Context, kind ledger.KindID, f ledger.GrantFilter) (int, error) {
	gs, err := d.ListGrants(ctx, kind, f)
	return len(gs), err
}

func (d *memoryData) SumEffectiveGrants(_ context.Context, kind ledger.KindID, person ledger.PersonID, effective ledger.State) (int64, int64, error) {
	var pos, neg int64
	for _, g := range d.grants[kind] {
		if g.Receiver != person || g.State != effective {
			continue
		}
		if g.Value > 0 {
			pos += g.Value
		} else {
			neg += g.Value
		}
	}
	return pos, neg, nil
}

func (d *memoryData) InsertRedemption(_ context.Context, r ledger.Redemption) error {
	d.redemptions[r.Kind] = append(d.redemptions[r.Kind], r)
	return nil
}

func (d *memoryData) ListRedemptions(_ context.Context, kind ledger.KindID, f ledger.RedemptionFilter) ([]ledger.Redemption, error) {
	rs := d.redemptions[kind]
	result := make([]ledger.Redemption, 0)
	for i := len(rs) - 1; i >= 0; i-- {
		if f.Matches(rs[i]) {
			result = append(result, rs[i])
		}
	}
	return result, nil
}

func (d *memoryData) SumRedemptions(_ context.Context, kind ledger.KindID, person ledger.PersonID) (int64, error) {
	var total int64
	for _, r := range d.redemptions[kind] {
		if r.Person == person {
			total += r.Value
		}
	}
	return total, nil
}

func (d *memoryData) ListTemplates(_ context.Context) ([]ledger.Template, error) {
	return append([]ledger.Template{}, d.templates...), nil
}
