package order

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/mstgnz/storepay/infra/logger"
	"github.com/shopspring/decimal"

	_ "github.com/mattn/go-sqlite3"
)

// SQLiteStore persists orders, returns and refunds in SQLite. Multiple replicas
// may share the file; writes use immediate transactions in WAL mode.
type SQLiteStore struct {
	db   *sql.DB
	path string
	mu   sync.Mutex
}

const maxBusyRetries = 3

// retryOperation executes a database operation, retrying on SQLITE_BUSY
func (s *SQLiteStore) retryOperation(operation func() error) error {
	var lastErr error

	for attempt := 0; attempt <= maxBusyRetries; attempt++ {
		err := operation()
		if err == nil {
			return nil
		}
		if !isBusy(err) {
			return err
		}

		lastErr = err
		if attempt < maxBusyRetries {
			// 10ms, 20ms, 40ms
			backoff := time.Duration(10*(1<<attempt)) * time.Millisecond
			logger.Warn("SQLite busy, retrying", logger.LogContext{Fields: map[string]any{
				"backoff": backoff.String(),
				"attempt": attempt + 1,
			}})
			time.Sleep(backoff)
		}
	}

	return fmt.Errorf("operation failed after %d retries, last error: %w", maxBusyRetries+1, lastErr)
}

func isBusy(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "SQLITE_BUSY") || strings.Contains(msg, "database is locked")
}

// NewSQLiteStore opens (creating if needed) the database at dbPath
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create directory %s: %w", dir, err)
	}

	connStr := fmt.Sprintf("%s?_journal_mode=WAL&_synchronous=NORMAL&_cache_size=1000&_timeout=20000&_txlock=immediate&_foreign_keys=on", dbPath)

	db, err := sql.Open("sqlite3", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(0)

	store := &SQLiteStore{db: db, path: dbPath}

	if err := store.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	logger.Info("SQLite order store initialized", logger.LogContext{Fields: map[string]any{"path": dbPath}})
	return store, nil
}

func (s *SQLiteStore) initSchema() error {
	query := `
	CREATE TABLE IF NOT EXISTS orders (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		total TEXT NOT NULL,
		payment_method TEXT NOT NULL,
		payment_status TEXT NOT NULL DEFAULT 'pending',
		payment_id TEXT NOT NULL DEFAULT '',
		payment_details TEXT NOT NULL DEFAULT '{}',
		payment_attempts INTEGER NOT NULL DEFAULT 0,
		customer TEXT NOT NULL DEFAULT '{}',
		shipping_address TEXT,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_orders_payment_status ON orders(payment_status);

	CREATE TABLE IF NOT EXISTS return_orders (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		order_id INTEGER NOT NULL REFERENCES orders(id),
		reason TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL DEFAULT '',
		refunded_at DATETIME,
		created_at DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS return_items (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		return_id INTEGER NOT NULL REFERENCES return_orders(id),
		quantity INTEGER NOT NULL,
		unit_price TEXT NOT NULL,
		approved INTEGER NOT NULL DEFAULT 0
	);

	CREATE INDEX IF NOT EXISTS idx_return_items_return ON return_items(return_id);

	CREATE TABLE IF NOT EXISTS refunds (
		id TEXT PRIMARY KEY,
		order_id INTEGER NOT NULL REFERENCES orders(id),
		return_id INTEGER NOT NULL DEFAULT 0,
		amount TEXT NOT NULL,
		reason TEXT NOT NULL DEFAULT '',
		gateway_refund_id TEXT NOT NULL DEFAULT '',
		created_at DATETIME NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_refunds_order ON refunds(order_id);
	CREATE UNIQUE INDEX IF NOT EXISTS idx_refunds_return ON refunds(return_id) WHERE return_id <> 0;
	`

	_, err := s.db.Exec(query)
	return err
}

func (s *SQLiteStore) CreateOrder(ctx context.Context, o *Order) error {
	stampOrder(o)

	details, err := encodeDetails(o.PaymentDetails)
	if err != nil {
		return fmt.Errorf("failed to marshal payment details: %w", err)
	}
	customer, err := json.Marshal(o.Customer)
	if err != nil {
		return fmt.Errorf("failed to marshal customer: %w", err)
	}
	var shipping sql.NullString
	if o.ShippingAddress != nil {
		b, err := json.Marshal(o.ShippingAddress)
		if err != nil {
			return fmt.Errorf("failed to marshal shipping address: %w", err)
		}
		shipping = sql.NullString{String: string(b), Valid: true}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	return s.retryOperation(func() error {
		var id any
		if o.ID != 0 {
			id = o.ID
		}
		res, err := s.db.ExecContext(ctx, `
		INSERT INTO orders (id, total, payment_method, payment_status, payment_id, payment_details,
			payment_attempts, customer, shipping_address, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			id, o.Total.StringFixed(2), o.PaymentMethod, string(o.PaymentStatus), o.PaymentID, details,
			o.PaymentAttempts, string(customer), shipping, o.CreatedAt.UTC(), o.UpdatedAt.UTC(),
		)
		if err != nil {
			return fmt.Errorf("failed to insert order: %w", err)
		}
		if o.ID == 0 {
			if o.ID, err = res.LastInsertId(); err != nil {
				return fmt.Errorf("failed to read order id: %w", err)
			}
		}
		return nil
	})
}

const orderColumns = `id, total, payment_method, payment_status, payment_id, payment_details,
	payment_attempts, customer, shipping_address, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanOrder(row rowScanner) (*Order, error) {
	var (
		o        Order
		total    string
		status   string
		details  string
		customer string
		shipping sql.NullString
	)
	if err := row.Scan(&o.ID, &total, &o.PaymentMethod, &status, &o.PaymentID, &details,
		&o.PaymentAttempts, &customer, &shipping, &o.CreatedAt, &o.UpdatedAt); err != nil {
		return nil, err
	}

	var err error
	if o.Total, err = decimal.NewFromString(total); err != nil {
		return nil, fmt.Errorf("order %d: bad total %q: %w", o.ID, total, err)
	}
	o.PaymentStatus = PaymentStatus(status)
	if o.PaymentDetails, err = decodeDetails(details); err != nil {
		return nil, fmt.Errorf("order %d: bad payment details: %w", o.ID, err)
	}
	if err := json.Unmarshal([]byte(customer), &o.Customer); err != nil {
		return nil, fmt.Errorf("order %d: bad customer: %w", o.ID, err)
	}
	if shipping.Valid && shipping.String != "" {
		if err := json.Unmarshal([]byte(shipping.String), &o.ShippingAddress); err != nil {
			return nil, fmt.Errorf("order %d: bad shipping address: %w", o.ID, err)
		}
	}
	o.CreatedAt = o.CreatedAt.UTC()
	o.UpdatedAt = o.UpdatedAt.UTC()
	return &o, nil
}

func (s *SQLiteStore) GetOrder(ctx context.Context, id int64) (*Order, error) {
	var o *Order
	err := s.retryOperation(func() error {
		var err error
		o, err = scanOrder(s.db.QueryRowContext(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = ?`, id))
		if errors.Is(err, sql.ErrNoRows) {
			return ErrNotFound
		}
		return err
	})
	return o, err
}

// TransitionPayment relies on the WHERE clause for the guard: of two concurrent
// confirmations only one sees a row affected.
func (s *SQLiteStore) TransitionPayment(ctx context.Context, id int64, from, to PaymentStatus, update PaymentUpdate) (bool, error) {
	if err := checkTransition(from, to); err != nil {
		return false, err
	}

	var details sql.NullString
	if update.Details != nil {
		raw, err := encodeDetails(update.Details)
		if err != nil {
			return false, fmt.Errorf("failed to marshal payment details: %w", err)
		}
		details = sql.NullString{String: raw, Valid: true}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var applied bool
	err := s.retryOperation(func() error {
		res, err := s.db.ExecContext(ctx, `
		UPDATE orders SET
			payment_status = ?,
			payment_id = CASE WHEN ? = '' THEN payment_id ELSE ? END,
			payment_details = COALESCE(?, payment_details),
			updated_at = ?
		WHERE id = ? AND payment_status = ?`,
			string(to), update.PaymentID, update.PaymentID, details, now(), id, string(from),
		)
		if err != nil {
			return fmt.Errorf("failed to update payment status: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("failed to get rows affected: %w", err)
		}
		applied = n > 0
		return nil
	})
	if err != nil || applied {
		return applied, err
	}

	// nothing changed: tell a missing order apart from a lost race
	if _, err := s.getStatus(ctx, id); err != nil {
		return false, err
	}
	return false, nil
}

func (s *SQLiteStore) getStatus(ctx context.Context, id int64) (PaymentStatus, error) {
	var status string
	err := s.db.QueryRowContext(ctx, `SELECT payment_status FROM orders WHERE id = ?`, id).Scan(&status)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	return PaymentStatus(status), err
}

func (s *SQLiteStore) MergePaymentDetails(ctx context.Context, id int64, details map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.retryOperation(func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("failed to begin transaction: %w", err)
		}
		defer tx.Rollback()

		var raw string
		err = tx.QueryRowContext(ctx, `SELECT payment_details FROM orders WHERE id = ?`, id).Scan(&raw)
		if errors.Is(err, sql.ErrNoRows) {
			return ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("failed to load payment details: %w", err)
		}

		current, err := decodeDetails(raw)
		if err != nil {
			return fmt.Errorf("failed to decode payment details: %w", err)
		}
		merged, err := encodeDetails(MergeDetails(current, details))
		if err != nil {
			return fmt.Errorf("failed to marshal payment details: %w", err)
		}

		if _, err := tx.ExecContext(ctx, `UPDATE orders SET payment_details = ?, updated_at = ? WHERE id = ?`,
			merged, now(), id); err != nil {
			return fmt.Errorf("failed to save payment details: %w", err)
		}
		return tx.Commit()
	})
}

func (s *SQLiteStore) IncrementAttempts(ctx context.Context, id int64) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var attempts int
	err := s.retryOperation(func() error {
		res, err := s.db.ExecContext(ctx,
			`UPDATE orders SET payment_attempts = payment_attempts + 1, updated_at = ? WHERE id = ?`, now(), id)
		if err != nil {
			return fmt.Errorf("failed to increment attempts: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return ErrNotFound
		}
		return s.db.QueryRowContext(ctx, `SELECT payment_attempts FROM orders WHERE id = ?`, id).Scan(&attempts)
	})
	return attempts, err
}

// StalePending compares timestamps in Go; SQLite stores them as text.
func (s *SQLiteStore) StalePending(ctx context.Context, cutoff time.Time) ([]Order, error) {
	var out []Order
	err := s.retryOperation(func() error {
		out = nil
		rows, err := s.db.QueryContext(ctx, `SELECT `+orderColumns+` FROM orders
			WHERE payment_status = ? AND payment_attempts > 0 ORDER BY id`, string(StatusPending))
		if err != nil {
			return fmt.Errorf("failed to query pending orders: %w", err)
		}
		defer rows.Close()

		for rows.Next() {
			o, err := scanOrder(rows)
			if err != nil {
				return fmt.Errorf("failed to scan order: %w", err)
			}
			if o.UpdatedAt.Before(cutoff) {
				out = append(out, *o)
			}
		}
		return rows.Err()
	})
	return out, err
}

func (s *SQLiteStore) AddRefund(ctx context.Context, r *Refund) error {
	stampRefund(r)

	s.mu.Lock()
	defer s.mu.Unlock()

	return s.retryOperation(func() error {
		_, err := s.db.ExecContext(ctx, `
		INSERT INTO refunds (id, order_id, return_id, amount, reason, gateway_refund_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
			r.ID, r.OrderID, r.ReturnID, r.Amount.StringFixed(2), r.Reason, r.GatewayRefundID, r.CreatedAt.UTC(),
		)
		if err != nil {
			if strings.Contains(err.Error(), "FOREIGN KEY") {
				return ErrNotFound
			}
			if strings.Contains(err.Error(), "UNIQUE") {
				return ErrDuplicateRefund
			}
			return fmt.Errorf("failed to insert refund: %w", err)
		}
		return nil
	})
}

// RefundedTotal sums in Go so amounts stay exact decimals
func (s *SQLiteStore) RefundedTotal(ctx context.Context, orderID int64) (decimal.Decimal, error) {
	total := decimal.Zero
	err := s.retryOperation(func() error {
		total = decimal.Zero
		rows, err := s.db.QueryContext(ctx, `SELECT amount FROM refunds WHERE order_id = ?`, orderID)
		if err != nil {
			return fmt.Errorf("failed to query refunds: %w", err)
		}
		defer rows.Close()

		for rows.Next() {
			var raw string
			if err := rows.Scan(&raw); err != nil {
				return fmt.Errorf("failed to scan refund: %w", err)
			}
			amount, err := decimal.NewFromString(raw)
			if err != nil {
				return fmt.Errorf("bad refund amount %q: %w", raw, err)
			}
			total = total.Add(amount)
		}
		return rows.Err()
	})
	return total, err
}

func (s *SQLiteStore) ReturnRefund(ctx context.Context, returnID int64) (*Refund, error) {
	var (
		r         Refund
		amount    string
		createdAt time.Time
	)
	err := s.retryOperation(func() error {
		err := s.db.QueryRowContext(ctx, `
		SELECT id, order_id, return_id, amount, reason, gateway_refund_id, created_at
		FROM refunds WHERE return_id = ? AND return_id <> 0`, returnID,
		).Scan(&r.ID, &r.OrderID, &r.ReturnID, &amount, &r.Reason, &r.GatewayRefundID, &createdAt)
		if errors.Is(err, sql.ErrNoRows) {
			return ErrRefundNotFound
		}
		if err != nil {
			return fmt.Errorf("failed to query return refund: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	r.Amount, err = decimal.NewFromString(amount)
	if err != nil {
		return nil, fmt.Errorf("bad refund amount %q: %w", amount, err)
	}
	r.CreatedAt = createdAt.UTC()
	return &r, nil
}

func (s *SQLiteStore) CreateReturn(ctx context.Context, r *ReturnOrder) error {
	if r.CreatedAt.IsZero() {
		r.CreatedAt = now()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	return s.retryOperation(func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("failed to begin transaction: %w", err)
		}
		defer tx.Rollback()

		var id any
		if r.ID != 0 {
			id = r.ID
		}
		res, err := tx.ExecContext(ctx, `
		INSERT INTO return_orders (id, order_id, reason, status, refunded_at, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
			id, r.OrderID, r.Reason, r.Status, nullTime(r.RefundedAt), r.CreatedAt.UTC(),
		)
		if err != nil {
			if strings.Contains(err.Error(), "FOREIGN KEY") {
				return ErrNotFound
			}
			return fmt.Errorf("failed to insert return order: %w", err)
		}
		returnID := r.ID
		if returnID == 0 {
			if returnID, err = res.LastInsertId(); err != nil {
				return fmt.Errorf("failed to read return id: %w", err)
			}
		}

		itemIDs := make([]int64, len(r.Items))
		for i, item := range r.Items {
			res, err := tx.ExecContext(ctx, `
			INSERT INTO return_items (return_id, quantity, unit_price, approved) VALUES (?, ?, ?, ?)`,
				returnID, item.Quantity, item.UnitPrice.String(), item.Approved,
			)
			if err != nil {
				return fmt.Errorf("failed to insert return item: %w", err)
			}
			if itemIDs[i], err = res.LastInsertId(); err != nil {
				return fmt.Errorf("failed to read return item id: %w", err)
			}
		}

		if err := tx.Commit(); err != nil {
			return err
		}
		r.ID = returnID
		for i := range r.Items {
			r.Items[i].ID = itemIDs[i]
		}
		return nil
	})
}

func (s *SQLiteStore) GetReturn(ctx context.Context, id int64) (*ReturnOrder, error) {
	var r *ReturnOrder
	err := s.retryOperation(func() error {
		out := ReturnOrder{}
		var refundedAt sql.NullTime
		err := s.db.QueryRowContext(ctx,
			`SELECT id, order_id, reason, status, refunded_at, created_at FROM return_orders WHERE id = ?`, id,
		).Scan(&out.ID, &out.OrderID, &out.Reason, &out.Status, &refundedAt, &out.CreatedAt)
		if errors.Is(err, sql.ErrNoRows) {
			return ErrReturnNotFound
		}
		if err != nil {
			return fmt.Errorf("failed to load return order: %w", err)
		}
		if refundedAt.Valid {
			at := refundedAt.Time.UTC()
			out.RefundedAt = &at
		}
		out.CreatedAt = out.CreatedAt.UTC()

		rows, err := s.db.QueryContext(ctx,
			`SELECT id, quantity, unit_price, approved FROM return_items WHERE return_id = ? ORDER BY id`, id)
		if err != nil {
			return fmt.Errorf("failed to query return items: %w", err)
		}
		defer rows.Close()

		for rows.Next() {
			var item ReturnItem
			var price string
			if err := rows.Scan(&item.ID, &item.Quantity, &price, &item.Approved); err != nil {
				return fmt.Errorf("failed to scan return item: %w", err)
			}
			if item.UnitPrice, err = decimal.NewFromString(price); err != nil {
				return fmt.Errorf("bad unit price %q: %w", price, err)
			}
			out.Items = append(out.Items, item)
		}
		if err := rows.Err(); err != nil {
			return err
		}
		r = &out
		return nil
	})
	return r, err
}

func (s *SQLiteStore) MarkReturnRefunded(ctx context.Context, id int64, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.retryOperation(func() error {
		res, err := s.db.ExecContext(ctx, `UPDATE return_orders SET refunded_at = ? WHERE id = ?`, at.UTC(), id)
		if err != nil {
			return fmt.Errorf("failed to mark return refunded: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return ErrReturnNotFound
		}
		return nil
	})
}

func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}
