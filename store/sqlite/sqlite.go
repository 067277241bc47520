/*
Package sqlite provides a SQLite-backed implementation of ledger.TxStore.

PURPOSE:
  Implements the ledger persistence contract (persons, grants,
  redemptions, templates) on SQLite through database/sql and
  mattn/go-sqlite3. The same statements run on PostgreSQL with only
  placeholder and upsert dialect changes.

KEY TABLES:
  persons:         Directory entries and the two cached balances
  permissions:     Permission tags per person
  grants:          Point and overtime grants with their chain state
  redemptions:     Immutable spends
  point_templates: Preset point reasons

CONDITIONAL TRANSITIONS:
  TransitionGrant issues

    UPDATE grants SET state = ?, <step>_at = ? ... WHERE kind = ? AND id = ? AND state = ?

  and treats zero affected rows as ledger.ErrConcurrentModification. Two
  concurrent verify calls on one grant therefore resolve to one winner.

CONCURRENCY:
  Every transaction is opened with BEGIN IMMEDIATE (_txlock=immediate),
  taking SQLite's single write lock up front. Together with one pooled
  connection this serialises read-check-write sequences such as
  redemption, which is stronger than the per-person lock the engine asks
  for. LockPerson still issues a no-op row update so the same code takes
  a row lock on engines with deferred transactions.

WAL MODE:
  File databases are opened with WAL and a busy timeout so a second
  process (the CLI reconcile command) waits instead of failing.

MIGRATION:
  Versioned migrations are embedded from migrations/ and applied with
  golang-migrate on New(). ":memory:" maps to a uniquely named
  shared-cache database so the migration connection and the store's
  connection see the same schema.

USAGE:
  store, err := sqlite.New("./data/merit.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

  engine := ledger.NewEngine(store)

SEE ALSO:
  - ledger/store.go: Interface definitions
  - ledger/store/memory.go: In-memory implementation for testing
*/
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"github.com/warp/merit-ledger/ledger"
)

var (
	_ ledger.TxStore        = (*Store)(nil)
	_ ledger.DirectoryStore = (*Store)(nil)
)

// Store implements ledger.TxStore using SQLite.
type Store struct {
	*conn
	db      *sql.DB
	version uint
}

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// conn implements ledger.Store over a querier. The Store uses the pool;
// WithTx hands fn a conn bound to the transaction.
type conn struct {
	q querier
}

// dataSourceName builds the driver DSN for path. The second result
// reports whether the database lives only in memory.
func dataSourceName(path string) (string, bool) {
	const opts = "_foreign_keys=on&_txlock=immediate&_busy_timeout=5000"
	if path == ":memory:" || path == "" {
		return fmt.Sprintf("file:memdb-%s?mode=memory&cache=shared&%s", uuid.NewString(), opts), true
	}
	return fmt.Sprintf("file:%s?_journal_mode=WAL&%s", path, opts), false
}

// New opens (creating if needed) the database at path and migrates it.
// Use ":memory:" for an in-memory database.
func New(path string) (*Store, error) {
	dsn, _ := dataSourceName(path)

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// One connection: SQLite has one writer anyway, and an in-memory
	// database lives only as long as a connection holds it open.
	db.SetMaxOpenConns(1)
	db.SetConnMaxLifetime(0)
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	version, err := runMigrations(dsn)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return &Store{conn: &conn{q: db}, db: db, version: version}, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping checks the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// SchemaVersion returns the migration version applied at open.
func (s *Store) SchemaVersion() uint {
	return s.version
}

// WithTx executes fn within a transaction.
func (s *Store) WithTx(ctx context.Context, fn func(ledger.Store) error) error {
	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	if err := fn(&conn{q: sqlTx}); err != nil {
		return err
	}
	return sqlTx.Commit()
}

// =============================================================================
// PERSONS
// =============================================================================

const personColumns = `id, name, role, points, overtime, verified_at, deleted_at, created_at`

func (c *conn) GetPerson(ctx context.Context, id ledger.PersonID) (*ledger.Person, error) {
	row := c.q.QueryRowContext(ctx, `SELECT `+personColumns+` FROM persons WHERE id = ?`, id)
	p, err := scanPerson(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	perms, err := c.permissions(ctx, "WHERE person_id = ?", id)
	if err != nil {
		return nil, err
	}
	p.Permissions = perms[p.ID]
	return &p, nil
}

func (c *conn) ListPersons(ctx context.Context) ([]ledger.Person, error) {
	rows, err := c.q.QueryContext(ctx, `SELECT `+personColumns+` FROM persons ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []ledger.Person
	for rows.Next() {
		p, err := scanPerson(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	perms, err := c.permissions(ctx, "")
	if err != nil {
		return nil, err
	}
	for i := range result {
		result[i].Permissions = perms[result[i].ID]
	}
	return result, nil
}

func (c *conn) permissions(ctx context.Context, where string, args ...any) (map[ledger.PersonID][]ledger.Permission, error) {
	rows, err := c.q.QueryContext(ctx, `SELECT person_id, value FROM permissions `+where+` ORDER BY value`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := make(map[ledger.PersonID][]ledger.Permission)
	for rows.Next() {
		var id, value string
		if err := rows.Scan(&id, &value); err != nil {
			return nil, err
		}
		result[ledger.PersonID(id)] = append(result[ledger.PersonID(id)], ledger.Permission(value))
	}
	return result, rows.Err()
}

// LockPerson takes the write lock on the person's row for the rest of the transaction.
func (c *conn) LockPerson(ctx context.Context, id ledger.PersonID) error {
	_, err := c.q.ExecContext(ctx, `UPDATE persons SET points = points WHERE id = ?`, id)
	return err
}

func (c *conn) SetCachedBalance(ctx context.Context, kind ledger.KindID, id ledger.PersonID, value int64) error {
	column := "points"
	if kind == ledger.KindOvertime {
		column = "overtime"
	}
	_, err := c.q.ExecContext(ctx, `UPDATE persons SET `+column+` = ? WHERE id = ?`, value, id)
	return err
}

// SavePerson inserts or replaces a person and their permissions.
// Cached balances are only written on insert.
func (s *Store) SavePerson(ctx context.Context, p ledger.Person) error {
	return s.WithTx(ctx, func(st ledger.Store) error {
		return st.(*conn).savePerson(ctx, p)
	})
}

func (c *conn) savePerson(ctx context.Context, p ledger.Person) error {
	createdAt := p.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	_, err := c.q.ExecContext(ctx, `
		INSERT INTO persons (`+personColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			role = excluded.role,
			verified_at = excluded.verified_at,
			deleted_at = excluded.deleted_at`,
		p.ID, p.Name, p.Role, p.Points, p.Overtime,
		nullTime(p.VerifiedAt), nullTime(p.DeletedAt), formatTime(createdAt),
	)
	if err != nil {
		return fmt.Errorf("failed to save person: %w", err)
	}

	if _, err := c.q.ExecContext(ctx, `DELETE FROM permissions WHERE person_id = ?`, p.ID); err != nil {
		return fmt.Errorf("failed to clear permissions: %w", err)
	}
	for _, perm := range p.Permissions {
		if _, err := c.q.ExecContext(ctx,
			`INSERT OR IGNORE INTO permissions (person_id, value) VALUES (?, ?)`, p.ID, perm); err != nil {
			return fmt.Errorf("failed to save permission: %w", err)
		}
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanPerson(row scanner) (ledger.Person, error) {
	var (
		p                   ledger.Person
		verified, deleted   sql.NullString
		createdAt, role, id string
	)
	if err := row.Scan(&id, &p.Name, &role, &p.Points, &p.Overtime, &verified, &deleted, &createdAt); err != nil {
		return ledger.Person{}, err
	}
	p.ID = ledger.PersonID(id)
	p.Role = ledger.Role(role)
	p.VerifiedAt = parseNullTime(verified)
	p.DeletedAt = parseNullTime(deleted)
	p.CreatedAt = parseTime(createdAt)
	return p, nil
}

// =============================================================================
// GRANTS
// =============================================================================

const grantColumns = `id, kind, receiver_id, giver_id, approver_id, value, reason, state,
	created_at, given_at, started_at, ended_at,
	verified_at, rejected_at, rejected_reason, approved_at, disapproved_at, disapproved_reason`

func (c *conn) InsertGrant(ctx context.Context, g ledger.Grant) error {
	_, err := c.q.ExecContext(ctx, `INSERT INTO grants (`+grantColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		g.ID, g.Kind, g.Receiver, g.Giver, nullString(string(g.Approver)), g.Value, g.Reason, g.State,
		formatTime(g.CreatedAt), nullTime(g.GivenAt), nullTime(g.StartedAt), nullTime(g.EndedAt),
		nullTime(g.VerifiedAt), nullTime(g.RejectedAt), nullString(g.RejectedReason),
		nullTime(g.ApprovedAt), nullTime(g.DisapprovedAt), nullString(g.DisapprovedReason),
	)
	return err
}

func (c *conn) GetGrant(ctx context.Context, kind ledger.KindID, id ledger.GrantID) (*ledger.Grant, error) {
	row := c.q.QueryRowContext(ctx, `SELECT `+grantColumns+` FROM grants WHERE kind = ? AND id = ?`, kind, id)
	g, err := scanGrant(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &g, nil
}

// transitionColumns names the audit columns written when a grant enters a state.
var transitionColumns = map[ledger.State]struct{ at, reason string }{
	ledger.StateVerified:    {at: "verified_at"},
	ledger.StateRejected:    {at: "rejected_at", reason: "rejected_reason"},
	ledger.StateApproved:    {at: "approved_at"},
	ledger.StateDisapproved: {at: "disapproved_at", reason: "disapproved_reason"},
}

func (c *conn) TransitionGrant(ctx context.Context, kind ledger.KindID, id ledger.GrantID, t ledger.Transition) error {
	cols, ok := transitionColumns[t.To]
	if !ok {
		return fmt.Errorf("no transition into state %q", t.To)
	}

	set := "state = ?, " + cols.at + " = ?"
	args := []any{t.To, formatTime(t.At)}
	if cols.reason != "" {
		set += ", " + cols.reason + " = ?"
		args = append(args, nullString(t.Reason))
	}
	args = append(args, kind, id, t.From)

	res, err := c.q.ExecContext(ctx,
		`UPDATE grants SET `+set+` WHERE kind = ? AND id = ? AND state = ?`, args...)
	if err != nil {
		return err
	}
	return expectOneRow(res)
}

func (c *conn) DeleteGrant(ctx context.Context, kind ledger.KindID, id ledger.GrantID, from ledger.State) error {
	res, err := c.q.ExecContext(ctx,
		`DELETE FROM grants WHERE kind = ? AND id = ? AND state = ?`, kind, id, from)
	if err != nil {
		return err
	}
	return expectOneRow(res)
}

func expectOneRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ledger.ErrConcurrentModification
	}
	return nil
}

func grantWhere(kind ledger.KindID, f ledger.GrantFilter) (string, []any) {
	clauses := []string{"kind = ?"}
	args := []any{kind}
	if f.Receiver != "" {
		clauses = append(clauses, "receiver_id = ?")
		args = append(args, f.Receiver)
	}
	if f.Giver != "" {
		clauses = append(clauses, "giver_id = ?")
		args = append(args, f.Giver)
	}
	if f.Approver != "" {
		clauses = append(clauses, "approver_id = ?")
		args = append(args, f.Approver)
	}
	if len(f.States) > 0 {
		clauses = append(clauses, "state IN ("+placeholders(len(f.States))+")")
		for _, s := range f.States {
			args = append(args, s)
		}
	}
	return " WHERE " + strings.Join(clauses, " AND "), args
}

func (c *conn) ListGrants(ctx context.Context, kind ledger.KindID, f ledger.GrantFilter) ([]ledger.Grant, error) {
	where, args := grantWhere(kind, f)
	rows, err := c.q.QueryContext(ctx,
		`SELECT `+grantColumns+` FROM grants`+where+` ORDER BY created_at DESC, rowid DESC`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := make([]ledger.Grant, 0)
	for rows.Next() {
		g, err := scanGrant(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, g)
	}
	return result, rows.Err()
}

func (c *conn) CountGrants(ctx context.Context, kind ledger.KindID, f ledger.GrantFilter) (int, error) {
	where, args := grantWhere(kind, f)
	var n int
	err := c.q.QueryRowContext(ctx, `SELECT COUNT(*) FROM grants`+where, args...).Scan(&n)
	return n, err
}

func (c *conn) SumEffectiveGrants(ctx context.Context, kind ledger.KindID, person ledger.PersonID, effective ledger.State) (int64, int64, error) {
	var pos, neg int64
	err := c.q.QueryRowContext(ctx, `
		SELECT
			COALESCE(SUM(CASE WHEN value > 0 THEN value END), 0),
			COALESCE(SUM(CASE WHEN value < 0 THEN value END), 0)
		FROM grants
		WHERE kind = ? AND receiver_id = ? AND state = ?`,
		kind, person, effective,
	).Scan(&pos, &neg)
	return pos, neg, err
}

func scanGrant(row scanner) (ledger.Grant, error) {
	var (
		g                                   ledger.Grant
		id, kind, receiver, giver, state    string
		createdAt                           string
		approver, rejectedReason, disReason sql.NullString
		givenAt, startedAt, endedAt         sql.NullString
		verifiedAt, rejectedAt              sql.NullString
		approvedAt, disapprovedAt           sql.NullString
	)
	err := row.Scan(&id, &kind, &receiver, &giver, &approver, &g.Value, &g.Reason, &state,
		&createdAt, &givenAt, &startedAt, &endedAt,
		&verifiedAt, &rejectedAt, &rejectedReason, &approvedAt, &disapprovedAt, &disReason)
	if err != nil {
		return ledger.Grant{}, err
	}
	g.ID = ledger.GrantID(id)
	g.Kind = ledger.KindID(kind)
	g.Receiver = ledger.PersonID(receiver)
	g.Giver = ledger.PersonID(giver)
	g.Approver = ledger.PersonID(approver.String)
	g.State = ledger.State(state)
	g.CreatedAt = parseTime(createdAt)
	g.GivenAt = parseNullTime(givenAt)
	g.StartedAt = parseNullTime(startedAt)
	g.EndedAt = parseNullTime(endedAt)
	g.VerifiedAt = parseNullTime(verifiedAt)
	g.RejectedAt = parseNullTime(rejectedAt)
	g.RejectedReason = rejectedReason.String
	g.ApprovedAt = parseNullTime(approvedAt)
	g.DisapprovedAt = parseNullTime(disapprovedAt)
	g.DisapprovedReason = disReason.String
	return g, nil
}

// =============================================================================
// REDEMPTIONS
// =============================================================================

const redemptionColumns = `id, kind, person_id, recorded_by, value, reason, created_at`

func (c *conn) InsertRedemption(ctx context.Context, r ledger.Redemption) error {
	_, err := c.q.ExecContext(ctx, `INSERT INTO redemptions (`+redemptionColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.Kind, r.Person, r.RecordedBy, r.Value, r.Reason, formatTime(r.CreatedAt),
	)
	return err
}

func (c *conn) ListRedemptions(ctx context.Context, kind ledger.KindID, f ledger.RedemptionFilter) ([]ledger.Redemption, error) {
	query := `SELECT ` + redemptionColumns + ` FROM redemptions WHERE kind = ?`
	args := []any{kind}
	if f.Person != "" {
		query += ` AND person_id = ?`
		args = append(args, f.Person)
	}
	if f.RecordedBy != "" {
		query += ` AND recorded_by = ?`
		args = append(args, f.RecordedBy)
	}
	rows, err := c.q.QueryContext(ctx, query+` ORDER BY created_at DESC, rowid DESC`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := make([]ledger.Redemption, 0)
	for rows.Next() {
		var (
			r                               ledger.Redemption
			id, kind, person, by, createdAt string
		)
		if err := rows.Scan(&id, &kind, &person, &by, &r.Value, &r.Reason, &createdAt); err != nil {
			return nil, err
		}
		r.ID = ledger.RedemptionID(id)
		r.Kind = ledger.KindID(kind)
		r.Person = ledger.PersonID(person)
		r.RecordedBy = ledger.PersonID(by)
		r.CreatedAt = parseTime(createdAt)
		result = append(result, r)
	}
	return result, rows.Err()
}

func (c *conn) SumRedemptions(ctx context.Context, kind ledger.KindID, person ledger.PersonID) (int64, error) {
	var total int64
	err := c.q.QueryRowContext(ctx,
		`SELECT COALESCE(SUM(value), 0) FROM redemptions WHERE kind = ? AND person_id = ?`,
		kind, person,
	).Scan(&total)
	return total, err
}

// =============================================================================
// TEMPLATES
// =============================================================================

func (c *conn) ListTemplates(ctx context.Context) ([]ledger.Template, error) {
	rows, err := c.q.QueryContext(ctx, `SELECT id, reason, merit, demerit FROM point_templates ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := make([]ledger.Template, 0)
	for rows.Next() {
		var t ledger.Template
		if err := rows.Scan(&t.ID, &t.Reason, &t.Merit, &t.Demerit); err != nil {
			return nil, err
		}
		result = append(result, t)
	}
	return result, rows.Err()
}

// SaveTemplate inserts a point template, or updates the values of the
// template that already carries the same reason.
func (s *Store) SaveTemplate(ctx context.Context, t ledger.Template) error {
	return s.WithTx(ctx, func(st ledger.Store) error {
		c := st.(*conn)
		res, err := c.q.ExecContext(ctx,
			`UPDATE point_templates SET merit = ?, demerit = ? WHERE reason = ?`,
			t.Merit, t.Demerit, t.Reason)
		if err != nil {
			return fmt.Errorf("failed to update template: %w", err)
		}
		if n, err := res.RowsAffected(); err != nil || n > 0 {
			return err
		}
		if _, err := c.q.ExecContext(ctx,
			`INSERT INTO point_templates (reason, merit, demerit) VALUES (?, ?, ?)`,
			t.Reason, t.Merit, t.Demerit); err != nil {
			return fmt.Errorf("failed to insert template: %w", err)
		}
		return nil
	})
}

// =============================================================================
// HELPERS
// =============================================================================

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func nullTime(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: formatTime(*t), Valid: true}
}

func parseTime(s string) time.Time {
	t, _ := time.Parse(time.RFC3339Nano, s)
	return t
}

func parseNullTime(s sql.NullString) *time.Time {
	if !s.Valid {
		return nil
	}
	t := parseTime(s.String)
	return &t
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}
