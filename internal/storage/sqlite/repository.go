// Package sqlite provides a SQLite-backed implementation of
// storage.Repository.
//
// WAL mode is enabled on Open so that readers never block writers and vice
// versa — the HTTP handlers read split state while webhook deliveries write
// payment records concurrently.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/brkn-labs/splitpay/internal/domain"
	"github.com/brkn-labs/splitpay/internal/storage"

	// Register the pure-Go SQLite driver.
	// modernc.org/sqlite avoids CGO, keeping Docker (Alpine) builds simple.
	_ "modernc.org/sqlite"
)

// schema is the DDL executed once on startup. Timestamps are RFC3339 TEXT,
// the SQLite idiom. Cart and groups snapshots are JSON blobs decoded only at
// this boundary.
const schema = `
CREATE TABLE IF NOT EXISTS stores (
    id                     INTEGER PRIMARY KEY AUTOINCREMENT,
    platform_store_id      TEXT    UNIQUE NOT NULL,
    commerce_access_token  TEXT    NOT NULL,
    payments_access_token  TEXT,
    created_at             TEXT    NOT NULL
);

CREATE TABLE IF NOT EXISTS rules (
    id               INTEGER PRIMARY KEY AUTOINCREMENT,
    store_id         INTEGER NOT NULL,
    scope            TEXT    NOT NULL CHECK(scope IN ('product','category','global')),
    reference_id     TEXT,
    max_installments INTEGER NOT NULL,
    active           INTEGER NOT NULL DEFAULT 1,
    created_at       TEXT    NOT NULL,
    FOREIGN KEY(store_id) REFERENCES stores(id) ON DELETE CASCADE
);

CREATE INDEX IF NOT EXISTS idx_rules_store_id ON rules(store_id, id);

CREATE TABLE IF NOT EXISTS splits (
    id                     TEXT    PRIMARY KEY,
    store_id               INTEGER NOT NULL,
    buyer_email            TEXT,
    status                 TEXT    NOT NULL DEFAULT 'created',
    shipping_method        TEXT,
    shipping_cost          INTEGER NOT NULL DEFAULT 0,
    shipping_paid_in_group TEXT,
    cart_json              TEXT    NOT NULL,
    groups_json            TEXT    NOT NULL,
    created_at             TEXT    NOT NULL,
    FOREIGN KEY(store_id) REFERENCES stores(id) ON DELETE CASCADE
);

CREATE TABLE IF NOT EXISTS split_payments (
    id            INTEGER PRIMARY KEY AUTOINCREMENT,
    split_id      TEXT    NOT NULL,
    group_key     TEXT    NOT NULL,
    preference_id TEXT,
    checkout_url  TEXT,
    payment_id    TEXT,
    status        TEXT    NOT NULL DEFAULT 'created',
    created_at    TEXT    NOT NULL,
    FOREIGN KEY(split_id) REFERENCES splits(id) ON DELETE CASCADE
);

CREATE INDEX IF NOT EXISTS idx_split_payments_split_id ON split_payments(split_id, id);
`

// Repository is the SQLite implementation of storage.Repository.
type Repository struct {
	db *sql.DB
}

var _ storage.Repository = (*Repository)(nil)

// Open opens (or creates) the SQLite database at the given path and applies
// the schema.
//
//	repo, err := sqlite.Open("./data/splitpay.db")
func Open(path string) (*Repository, error) {
	// The pure-Go driver takes _pragma query parameters. WAL enables
	// concurrent readers; busy_timeout waits for locks instead of failing.
	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=foreign_keys(on)&_pragma=busy_timeout(5000)", path)

	// Use "sqlite", not "sqlite3", for the modernc driver.
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlite: open %q: %w", path, err)
	}

	// SQLite performs best with a single writer connection. This also
	// serializes racing reconciliation transactions for the same split.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite: apply schema: %w", err)
	}

	return &Repository{db: db}, nil
}

// Close releases the database connection. Call it with defer in main().
func (r *Repository) Close() error {
	return r.db.Close()
}

// ── Stores ──────────────────────────────────────────────────────────────────

func (r *Repository) UpsertStore(ctx context.Context, store *domain.Store) (int64, error) {
	const q = `
		INSERT INTO stores (platform_store_id, commerce_access_token, payments_access_token, created_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(platform_store_id) DO UPDATE SET
			commerce_access_token = excluded.commerce_access_token,
			payments_access_token = COALESCE(excluded.payments_access_token, payments_access_token)
		RETURNING id`

	var id int64
	err := r.db.QueryRowContext(ctx, q,
		store.PlatformStoreID,
		store.CommerceToken,
		nullableString(store.PaymentsToken),
		formatTime(time.Now()),
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("sqlite: upsert store %q: %w", store.PlatformStoreID, err)
	}
	return id, nil
}

func (r *Repository) GetStoreByPlatformID(ctx context.Context, platformStoreID string) (*domain.Store, error) {
	const q = `
		SELECT id, platform_store_id, commerce_access_token, COALESCE(payments_access_token,''), created_at
		FROM   stores
		WHERE  platform_store_id = ?`
	return r.scanStore(r.db.QueryRowContext(ctx, q, platformStoreID), platformStoreID)
}

func (r *Repository) GetStoreByID(ctx context.Context, id int64) (*domain.Store, error) {
	const q = `
		SELECT id, platform_store_id, commerce_access_token, COALESCE(payments_access_token,''), created_at
		FROM   stores
		WHERE  id = ?`
	return r.scanStore(r.db.QueryRowContext(ctx, q, id), fmt.Sprint(id))
}

func (r *Repository) scanStore(row *sql.Row, ref string) (*domain.Store, error) {
	var s domain.Store
	var createdAt string
	err := row.Scan(&s.ID, &s.PlatformStoreID, &s.CommerceToken, &s.PaymentsToken, &createdAt)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("sqlite: store %q: %w", ref, domain.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("sqlite: get store %q: %w", ref, err)
	}
	if s.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	return &s, nil
}

func (r *Repository) ListStores(ctx context.Context) ([]domain.Store, error) {
	const q = `
		SELECT id, platform_store_id, commerce_access_token, COALESCE(payments_access_token,''), created_at
		FROM   stores
		ORDER  BY id`

	rows, err := r.db.QueryContext(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("sqlite: list stores: %w", err)
	}
	defer rows.Close()

	var out []domain.Store
	for rows.Next() {
		var s domain.Store
		var createdAt string
		if err := rows.Scan(&s.ID, &s.PlatformStoreID, &s.CommerceToken, &s.PaymentsToken, &createdAt); err != nil {
			return nil, fmt.Errorf("sqlite: scan store: %w", err)
		}
		if s.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// ── Rules ───────────────────────────────────────────────────────────────────

func (r *Repository) AddRule(ctx context.Context, rule *domain.Rule) (int64, error) {
	const q = `
		INSERT INTO rules (store_id, scope, reference_id, max_installments, active, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`

	res, err := r.db.ExecContext(ctx, q,
		rule.StoreID,
		string(rule.Scope),
		nullableString(rule.ReferenceID),
		rule.MaxInstallments,
		boolToInt(rule.Active),
		formatTime(time.Now()),
	)
	if err != nil {
		return 0, fmt.Errorf("sqlite: add rule for store %d: %w", rule.StoreID, err)
	}
	return res.LastInsertId()
}

func (r *Repository) ListRules(ctx context.Context, storeID int64) ([]domain.Rule, error) {
	return r.listRules(ctx, storeID, false)
}

func (r *Repository) ListActiveRules(ctx context.Context, storeID int64) ([]domain.Rule, error) {
	return r.listRules(ctx, storeID, true)
}

func (r *Repository) listRules(ctx context.Context, storeID int64, activeOnly bool) ([]domain.Rule, error) {
	q := `
		SELECT id, store_id, scope, COALESCE(reference_id,''), max_installments, active, created_at
		FROM   rules
		WHERE  store_id = ?`
	if activeOnly {
		q += ` AND active = 1`
	}
	// Insertion order: the resolver's first-match tie-break depends on it.
	q += ` ORDER BY id`

	rows, err := r.db.QueryContext(ctx, q, storeID)
	if err != nil {
		return nil, fmt.Errorf("sqlite: list rules for store %d: %w", storeID, err)
	}
	defer rows.Close()

	var out []domain.Rule
	for rows.Next() {
		var rule domain.Rule
		var active int
		var createdAt string
		if err := rows.Scan(&rule.ID, &rule.StoreID, &rule.Scope, &rule.ReferenceID, &rule.MaxInstallments, &active, &createdAt); err != nil {
			return nil, fmt.Errorf("sqlite: scan rule: %w", err)
		}
		rule.Active = active == 1
		if rule.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, err
		}
		out = append(out, rule)
	}
	return out, rows.Err()
}

func (r *Repository) ToggleRule(ctx context.Context, storeID, ruleID int64) (bool, error) {
	const q = `
		UPDATE rules SET active = 1 - active
		WHERE  id = ? AND store_id = ?
		RETURNING active`

	var active int
	err := r.db.QueryRowContext(ctx, q, ruleID, storeID).Scan(&active)
	if err == sql.ErrNoRows {
		return false, fmt.Errorf("sqlite: rule %d for store %d: %w", ruleID, storeID, domain.ErrNotFound)
	}
	if err != nil {
		return false, fmt.Errorf("sqlite: toggle rule %d: %w", ruleID, err)
	}
	return active == 1, nil
}

// ── Splits ──────────────────────────────────────────────────────────────────

func (r *Repository) CreateSplit(ctx context.Context, split *domain.Split) error {
	cartJSON, err := json.Marshal(split.Cart)
	if err != nil {
		return fmt.Errorf("sqlite: encode cart for split %q: %w", split.ID, err)
	}
	groupsJSON, err := json.Marshal(split.Groups)
	if err != nil {
		return fmt.Errorf("sqlite: encode groups for split %q: %w", split.ID, err)
	}

	const q = `
		INSERT INTO splits
			(id, store_id, buyer_email, status, shipping_method, shipping_cost, shipping_paid_in_group, cart_json, groups_json, created_at)
		VALUES
			(?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err = r.db.ExecContext(ctx, q,
		split.ID,
		split.StoreID,
		nullableString(split.BuyerEmail),
		string(split.Status),
		nullableString(split.ShippingMethod),
		split.ShippingCost,
		nullableString(string(split.ShippingPaidInGroup)),
		string(cartJSON),
		string(groupsJSON),
		formatTime(split.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("sqlite: create split %q: %w", split.ID, err)
	}
	return nil
}

func (r *Repository) GetSplit(ctx context.Context, id string) (*domain.Split, error) {
	const q = `
		SELECT id, store_id, COALESCE(buyer_email,''), status,
		       COALESCE(shipping_method,''), shipping_cost, COALESCE(shipping_paid_in_group,''),
		       cart_json, groups_json, created_at
		FROM   splits
		WHERE  id = ?`

	row := r.db.QueryRowContext(ctx, q, id)

	var s domain.Split
	var cartJSON, groupsJSON, createdAt string
	err := row.Scan(&s.ID, &s.StoreID, &s.BuyerEmail, &s.Status,
		&s.ShippingMethod, &s.ShippingCost, &s.ShippingPaidInGroup,
		&cartJSON, &groupsJSON, &createdAt)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("sqlite: split %q: %w", id, domain.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("sqlite: get split %q: %w", id, err)
	}

	if err := json.Unmarshal([]byte(cartJSON), &s.Cart); err != nil {
		return nil, fmt.Errorf("sqlite: decode cart for split %q: %w", id, err)
	}
	if err := json.Unmarshal([]byte(groupsJSON), &s.Groups); err != nil {
		return nil, fmt.Errorf("sqlite: decode groups for split %q: %w", id, err)
	}
	if s.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	return &s, nil
}

func (r *Repository) SetShipping(ctx context.Context, splitID, method string, cost int64, paidInGroup domain.GroupKey) error {
	const q = `
		UPDATE splits
		SET    shipping_method = ?, shipping_cost = ?, shipping_paid_in_group = ?
		WHERE  id = ?`

	res, err := r.db.ExecContext(ctx, q, method, cost, nullableString(string(paidInGroup)), splitID)
	if err != nil {
		return fmt.Errorf("sqlite: set shipping for split %q: %w", splitID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("sqlite: split %q: %w", splitID, domain.ErrNotFound)
	}
	return nil
}

// ── Payment records ─────────────────────────────────────────────────────────

func (r *Repository) DeletePayments(ctx context.Context, splitID string) error {
	const q = `DELETE FROM split_payments WHERE split_id = ?`
	if _, err := r.db.ExecContext(ctx, q, splitID); err != nil {
		return fmt.Errorf("sqlite: delete payments for split %q: %w", splitID, err)
	}
	return nil
}

func (r *Repository) InsertPayment(ctx context.Context, rec *domain.PaymentRecord) error {
	const q = `
		INSERT INTO split_payments (split_id, group_key, preference_id, checkout_url, payment_id, status, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`

	res, err := r.db.ExecContext(ctx, q,
		rec.SplitID,
		string(rec.GroupKey),
		nullableString(rec.PreferenceID),
		nullableString(rec.CheckoutURL),
		nullableString(rec.PaymentID),
		rec.Status,
		formatTime(rec.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("sqlite: insert payment for split %q group %q: %w", rec.SplitID, rec.GroupKey, err)
	}
	rec.ID, _ = res.LastInsertId()
	return nil
}

func (r *Repository) ListPayments(ctx context.Context, splitID string) ([]domain.PaymentRecord, error) {
	rows, err := r.db.QueryContext(ctx, paymentSelect+` WHERE split_id = ? ORDER BY id`, splitID)
	if err != nil {
		return nil, fmt.Errorf("sqlite: list payments for split %q: %w", splitID, err)
	}
	defer rows.Close()

	var out []domain.PaymentRecord
	for rows.Next() {
		rec, err := scanPayment(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *rec)
	}
	return out, rows.Err()
}

const paymentSelect = `
	SELECT id, split_id, group_key, COALESCE(preference_id,''), COALESCE(checkout_url,''),
	       COALESCE(payment_id,''), status, created_at
	FROM   split_payments`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPayment(row rowScanner) (*domain.PaymentRecord, error) {
	var rec domain.PaymentRecord
	var createdAt string
	err := row.Scan(&rec.ID, &rec.SplitID, &rec.GroupKey, &rec.PreferenceID, &rec.CheckoutURL,
		&rec.PaymentID, &rec.Status, &createdAt)
	if err != nil {
		return nil, fmt.Errorf("sqlite: scan payment: %w", err)
	}
	if rec.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	return &rec, nil
}

// Reconcile applies one notification's persistence steps in a single
// transaction: stamp the payment record, then recompute split completion
// from the full record set. A crash between the two cannot leave the
// aggregate half-updated.
func (r *Repository) Reconcile(ctx context.Context, splitID string, groupKey domain.GroupKey, paymentID, status string) (storage.ReconcileResult, error) {
	var result storage.ReconcileResult

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return result, fmt.Errorf("sqlite: begin reconcile for split %q: %w", splitID, err)
	}
	defer tx.Rollback()

	const update = `
		UPDATE split_payments SET payment_id = ?, status = ?
		WHERE  split_id = ? AND group_key = ?`

	res, err := tx.ExecContext(ctx, update, paymentID, status, splitID, string(groupKey))
	if err != nil {
		return result, fmt.Errorf("sqlite: update payment %q for split %q: %w", paymentID, splitID, err)
	}
	n, _ := res.RowsAffected()
	result.Updated = n > 0

	const statuses = `SELECT status FROM split_payments WHERE split_id = ?`
	rows, err := tx.QueryContext(ctx, statuses, splitID)
	if err != nil {
		return result, fmt.Errorf("sqlite: load payment statuses for split %q: %w", splitID, err)
	}
	allApproved := false
	count := 0
	for rows.Next() {
		var st string
		if err := rows.Scan(&st); err != nil {
			rows.Close()
			return result, fmt.Errorf("sqlite: scan payment status: %w", err)
		}
		if count == 0 {
			allApproved = true
		}
		count++
		if st != domain.PaymentStatusApproved {
			allApproved = false
		}
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return result, fmt.Errorf("sqlite: iterate payment statuses: %w", err)
	}

	if count > 0 && allApproved {
		const complete = `UPDATE splits SET status = ? WHERE id = ?`
		if _, err := tx.ExecContext(ctx, complete, string(domain.SplitCompleted), splitID); err != nil {
			return result, fmt.Errorf("sqlite: complete split %q: %w", splitID, err)
		}
		result.Completed = true
	}

	if err := tx.Commit(); err != nil {
		return storage.ReconcileResult{}, fmt.Errorf("sqlite: commit reconcile for split %q: %w", splitID, err)
	}
	return result, nil
}

// nullableString returns nil for empty strings so SQLite stores NULL instead
// of an empty TEXT.
func nullableString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
