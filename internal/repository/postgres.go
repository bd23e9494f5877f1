package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Shivanand-hulikatti/vendor-directory/internal/model"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// gateLockKey identifies the transaction-scoped advisory lock that serialises
// every slot-consuming or waitlist-admitting write.
const gateLockKey int64 = 0x76656e646f72

const uniqueViolation = "23505"

// querier is satisfied by both *pgxpool.Pool and pgx.Tx.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PostgresStore handles persistence on PostgreSQL.
type PostgresStore struct {
	pgQueries
	pool *pgxpool.Pool
}

// NewPostgresStore constructs a PostgresStore.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pgQueries: pgQueries{db: pool}, pool: pool}
}

// WithGate runs fn inside a transaction that first takes the gate lock.
//
// ─────────────────────────────────────────────────────────────────────────────
// WHY A GATE
// ─────────────────────────────────────────────────────────────────────────────
//
// Registration near the ceiling is a count-then-insert:
//
//	tx A: SELECT COUNT(*) FROM vendors WHERE is_active  → 299
//	tx B: SELECT COUNT(*) FROM vendors WHERE is_active  → 299
//	tx A: 299 < 300 → INSERT vendor
//	tx B: 299 < 300 → INSERT vendor
//	Result: 301 active vendors.
//
// There is no single row to SELECT … FOR UPDATE, so the transaction takes
// pg_advisory_xact_lock on a fixed key instead. The second transaction blocks
// until the first COMMITs or ROLLBACKs and then, under READ COMMITTED, its
// COUNT sees the committed insert. The lock is released with the transaction.
//
// ─────────────────────────────────────────────────────────────────────────────
func (s *PostgresStore) WithGate(ctx context.Context, fn func(q Queries) error) (err error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	if _, err = tx.Exec(ctx, `SELECT pg_advisory_xact_lock($1)`, gateLockKey); err != nil {
		return fmt.Errorf("acquire registration gate: %w", err)
	}

	if err = fn(pgQueries{db: tx}); err != nil {
		return err
	}

	if err = tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// Ping checks connectivity.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Close releases the pool.
func (s *PostgresStore) Close() {
	s.pool.Close()
}

// pgQueries runs statements against either the pool or an open transaction.
type pgQueries struct {
	db querier
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}

// ─── Vendors ──────────────────────────────────────────────────────────────────

const vendorColumns = `id, email, company_name, category_id, password_hash, phone, website,
	description, is_active, created_at, updated_at`

func scanVendor(row pgx.Row) (*model.Vendor, error) {
	var v model.Vendor
	err := row.Scan(&v.ID, &v.Email, &v.CompanyName, &v.CategoryID, &v.PasswordHash, &v.Phone,
		&v.Website, &v.Description, &v.IsActive, &v.CreatedAt, &v.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &v, nil
}

// CountActiveVendors returns the number of occupied slots.
func (q pgQueries) CountActiveVendors(ctx context.Context) (int, error) {
	var n int
	if err := q.db.QueryRow(ctx, `SELECT COUNT(*) FROM vendors WHERE is_active`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count active vendors: %w", err)
	}
	return n, nil
}

// CountActiveVendorsByCategory returns occupied slots keyed by category id.
// Categories without active vendors are absent from the map.
func (q pgQueries) CountActiveVendorsByCategory(ctx context.Context) (map[string]int, error) {
	rows, err := q.db.Query(ctx,
		`SELECT category_id, COUNT(*)
		 FROM vendors
		 WHERE is_active
		 GROUP BY category_id`,
	)
	if err != nil {
		return nil, fmt.Errorf("count vendors by category: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var id string
		var n int
		if err := rows.Scan(&id, &n); err != nil {
			return nil, fmt.Errorf("scan category count: %w", err)
		}
		counts[id] = n
	}
	return counts, rows.Err()
}

// GetVendor returns a single vendor or ErrNotFound.
func (q pgQueries) GetVendor(ctx context.Context, id string) (*model.Vendor, error) {
	v, err := scanVendor(q.db.QueryRow(ctx,
		`SELECT `+vendorColumns+` FROM vendors WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get vendor: %w", err)
	}
	return v, nil
}

// VendorEmailExists reports whether any vendor, active or not, uses email.
func (q pgQueries) VendorEmailExists(ctx context.Context, email string) (bool, error) {
	var exists bool
	err := q.db.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM vendors WHERE lower(email) = lower($1))`, email,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check vendor email: %w", err)
	}
	return exists, nil
}

// InsertVendor stores a new vendor. A clashing email yields ErrDuplicate.
func (q pgQueries) InsertVendor(ctx context.Context, v *model.Vendor) error {
	_, err := q.db.Exec(ctx,
		`INSERT INTO vendors (`+vendorColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		v.ID, v.Email, v.CompanyName, v.CategoryID, v.PasswordHash, v.Phone, v.Website,
		v.Description, v.IsActive, v.CreatedAt, v.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicate
		}
		return fmt.Errorf("insert vendor: %w", err)
	}
	return nil
}

// SetVendorActive flips the vendor's slot-holding flag.
func (q pgQueries) SetVendorActive(ctx context.Context, id string, active bool, at time.Time) error {
	tag, err := q.db.Exec(ctx,
		`UPDATE vendors SET is_active = $2, updated_at = $3 WHERE id = $1`,
		id, active, at,
	)
	if err != nil {
		return fmt.Errorf("update vendor: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// ─── Categories ───────────────────────────────────────────────────────────────

// ListCategories returns all categories ordered by name.
func (q pgQueries) ListCategories(ctx context.Context) ([]model.Category, error) {
	rows, err := q.db.Query(ctx,
		`SELECT id, name, slug, created_at FROM categories ORDER BY name ASC`)
	if err != nil {
		return nil, fmt.Errorf("list categories: %w", err)
	}
	defer rows.Close()

	var categories []model.Category
	for rows.Next() {
		var c model.Category
		if err := rows.Scan(&c.ID, &c.Name, &c.Slug, &c.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan category: %w", err)
		}
		categories = append(categories, c)
	}
	return categories, rows.Err()
}

// GetCategory returns a single category or ErrNotFound.
func (q pgQueries) GetCategory(ctx context.Context, id string) (*model.Category, error) {
	var c model.Category
	err := q.db.QueryRow(ctx,
		`SELECT id, name, slug, created_at FROM categories WHERE id = $1`, id,
	).Scan(&c.ID, &c.Name, &c.Slug, &c.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get category: %w", err)
	}
	return &c, nil
}

// InsertCategory stores a new category. A clashing slug yields ErrDuplicate.
func (q pgQueries) InsertCategory(ctx context.Context, c *model.Category) error {
	_, err := q.db.Exec(ctx,
		`INSERT INTO categories (id, name, slug, created_at) VALUES ($1, $2, $3, $4)`,
		c.ID, c.Name, c.Slug, c.CreatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicate
		}
		return fmt.Errorf("insert category: %w", err)
	}
	return nil
}

// ─── Waitlist ─────────────────────────────────────────────────────────────────

// waitlistSelect computes position as 1 + the number of WAITING entries that
// sort strictly before the row; nothing rank-like is ever stored.
const waitlistSelect = `SELECT w.id, w.email, w.company_name, w.category_id, w.message, w.status,
	w.notified_at, w.expires_at, w.seq, w.created_at, w.updated_at,
	CASE WHEN w.status = 'WAITING' THEN (
		SELECT COUNT(*) + 1 FROM waitlist_entries o
		WHERE o.status = 'WAITING' AND (o.created_at, o.seq) < (w.created_at, w.seq)
	) ELSE 0 END AS position
	FROM waitlist_entries w`

func scanWaitlistEntry(row pgx.Row) (*model.WaitlistEntry, error) {
	var (
		e      model.WaitlistEntry
		status string
	)
	err := row.Scan(&e.ID, &e.Email, &e.CompanyName, &e.CategoryID, &e.Message, &status,
		&e.NotifiedAt, &e.ExpiresAt, &e.Seq, &e.CreatedAt, &e.UpdatedAt, &e.Position)
	if err != nil {
		return nil, err
	}
	if e.Status, err = model.ParseStatus(status); err != nil {
		return nil, err
	}
	return &e, nil
}

func (q pgQueries) queryEntry(ctx context.Context, what, where string, args ...any) (*model.WaitlistEntry, error) {
	e, err := scanWaitlistEntry(q.db.QueryRow(ctx, waitlistSelect+" "+where, args...))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("%s: %w", what, err)
	}
	return e, nil
}

// InsertWaitlistEntry stores a new entry. The partial unique index on active
// emails turns a concurrent duplicate into ErrDuplicate.
func (q pgQueries) InsertWaitlistEntry(ctx context.Context, e *model.WaitlistEntry) error {
	_, err := q.db.Exec(ctx,
		`INSERT INTO waitlist_entries
		   (id, email, company_name, category_id, message, status, notified_at, expires_at, seq, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		e.ID, e.Email, e.CompanyName, e.CategoryID, e.Message, e.Status.String(),
		e.NotifiedAt, e.ExpiresAt, e.Seq, e.CreatedAt, e.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicate
		}
		return fmt.Errorf("insert waitlist entry: %w", err)
	}
	return nil
}

// GetWaitlistEntry returns an entry with its position, or ErrNotFound.
func (q pgQueries) GetWaitlistEntry(ctx context.Context, id string) (*model.WaitlistEntry, error) {
	return q.queryEntry(ctx, "get waitlist entry", `WHERE w.id = $1`, id)
}

// ActiveWaitlistEntryByEmail returns the WAITING or NOTIFIED entry for email.
func (q pgQueries) ActiveWaitlistEntryByEmail(ctx context.Context, email string) (*model.WaitlistEntry, error) {
	return q.queryEntry(ctx, "get active waitlist entry",
		`WHERE lower(w.email) = lower($1) AND w.status IN ('WAITING', 'NOTIFIED')`, email)
}

// OldestWaiting returns the head of the queue, optionally within a category.
func (q pgQueries) OldestWaiting(ctx context.Context, categoryID string) (*model.WaitlistEntry, error) {
	return q.queryEntry(ctx, "select oldest waiting entry",
		`WHERE w.status = 'WAITING' AND ($1::text = '' OR w.category_id = $1)
		 ORDER BY w.created_at ASC, w.seq ASC
		 LIMIT 1`, categoryID)
}

// ListWaitlist returns entries grouped by status, FIFO within each group.
func (q pgQueries) ListWaitlist(ctx context.Context, filter model.WaitlistFilter) ([]model.WaitlistEntry, error) {
	rows, err := q.db.Query(ctx,
		waitlistSelect+`
		 WHERE ($1::text = '' OR w.status = $1) AND ($2::text = '' OR w.category_id = $2)
		 ORDER BY CASE w.status
		     WHEN 'WAITING' THEN 0 WHEN 'NOTIFIED' THEN 1 WHEN 'PROMOTED' THEN 2
		     WHEN 'EXPIRED' THEN 3 ELSE 4 END,
		   w.created_at ASC, w.seq ASC`,
		filter.Status.String(), filter.CategoryID,
	)
	if err != nil {
		return nil, fmt.Errorf("list waitlist: %w", err)
	}
	defer rows.Close()

	var entries []model.WaitlistEntry
	for rows.Next() {
		e, err := scanWaitlistEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("scan waitlist entry: %w", err)
		}
		entries = append(entries, *e)
	}
	return entries, rows.Err()
}

// CountOpenClaims counts claim windows that have not lapsed at now.
func (q pgQueries) CountOpenClaims(ctx context.Context, now time.Time) (int, error) {
	var n int
	err := q.db.QueryRow(ctx,
		`SELECT COUNT(*) FROM waitlist_entries WHERE status = 'NOTIFIED' AND expires_at >= $1`, now,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count open claims: %w", err)
	}
	return n, nil
}

// TransitionWaitlistEntry performs a guarded status update.
func (q pgQueries) TransitionWaitlistEntry(ctx context.Context, id string, from, to model.Status, at time.Time, expiresAt *time.Time) (*model.WaitlistEntry, error) {
	if err := checkTransition(from, to, expiresAt); err != nil {
		return nil, err
	}
	var tag pgconn.CommandTag
	var err error
	if to == model.StatusNotified {
		tag, err = q.db.Exec(ctx,
			`UPDATE waitlist_entries
			 SET status = $3, notified_at = $4, expires_at = $5, updated_at = $4
			 WHERE id = $1 AND status = $2`,
			id, from.String(), to.String(), at, expiresAt,
		)
	} else {
		tag, err = q.db.Exec(ctx,
			`UPDATE waitlist_entries
			 SET status = $3, updated_at = $4
			 WHERE id = $1 AND status = $2`,
			id, from.String(), to.String(), at,
		)
	}
	if err != nil {
		return nil, fmt.Errorf("update waitlist status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		if _, err := q.GetWaitlistEntry(ctx, id); err != nil {
			return nil, err
		}
		return nil, ErrStaleTransition
	}
	return q.GetWaitlistEntry(ctx, id)
}

// ExpireNotified marks lapsed claims EXPIRED in a single statement.
func (q pgQueries) ExpireNotified(ctx context.Context, now time.Time) ([]string, error) {
	rows, err := q.db.Query(ctx,
		`UPDATE waitlist_entries
		 SET status = 'EXPIRED', updated_at = $1
		 WHERE status = 'NOTIFIED' AND expires_at < $1
		 RETURNING id`,
		now,
	)
	if err != nil {
		return nil, fmt.Errorf("expire notified entries: %w", err)
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("collect expired ids: %w", err)
	}
	return ids, nil
}
