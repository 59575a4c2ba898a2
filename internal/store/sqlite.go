// Package store implements core.PersistentStore against SQLite: the
// signal/order/equity-snapshot ledger every dispatch and reconcile pass
// reads and writes through.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"

	"github.com/opensqt/perpcore/internal/core"
)

const schema = `
CREATE TABLE IF NOT EXISTS signals (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	alert_id TEXT NOT NULL UNIQUE,
	source TEXT NOT NULL,
	coin TEXT NOT NULL,
	side TEXT NOT NULL,
	entry_price TEXT NOT NULL,
	stop_loss TEXT NOT NULL,
	take_profits TEXT NOT NULL,
	risk_check_passed INTEGER NOT NULL,
	risk_check_reason TEXT NOT NULL DEFAULT '',
	created_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS orders (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	signal_id INTEGER NOT NULL,
	exchange_order_id TEXT NOT NULL DEFAULT '',
	coin TEXT NOT NULL,
	side TEXT NOT NULL,
	size TEXT NOT NULL,
	price TEXT NOT NULL,
	type TEXT NOT NULL,
	tag TEXT NOT NULL,
	status TEXT NOT NULL,
	mode TEXT NOT NULL,
	filled_at INTEGER,
	created_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_orders_status ON orders(status);
CREATE INDEX IF NOT EXISTS idx_orders_coin_created ON orders(coin, created_at);

CREATE TABLE IF NOT EXISTS equity_snapshots (
	ts INTEGER NOT NULL,
	equity TEXT NOT NULL,
	open_positions INTEGER NOT NULL
);
`

// Store implements core.PersistentStore against a single SQLite file in
// WAL mode, matching a well-known crash-recovery discipline: every write
// is a single serializable-isolation transaction.
type Store struct {
	db *sql.DB
}

// Open creates or attaches to the SQLite database at path and ensures the
// schema exists.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		return nil, fmt.Errorf("enable WAL mode: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error { return s.db.Close() }

func marshalTPs(tps []core.TakeProfit) string {
	out := ""
	for i, tp := range tps {
		if i > 0 {
			out += ";"
		}
		out += tp.Price.String() + "," + tp.Fraction.String()
	}
	return out
}

func unmarshalTPs(s string) []core.TakeProfit {
	if s == "" {
		return nil
	}
	var out []core.TakeProfit
	start := 0
	for i := 0; i <= len(s); i++ {
		if i == len(s) || s[i] == ';' {
			part := s[start:i]
			start = i + 1
			if part == "" {
				continue
			}
			var priceStr, fracStr string
			for j := 0; j < len(part); j++ {
				if part[j] == ',' {
					priceStr = part[:j]
					fracStr = part[j+1:]
					break
				}
			}
			price, _ := decimal.NewFromString(priceStr)
			frac, _ := decimal.NewFromString(fracStr)
			out = append(out, core.TakeProfit{Price: price, Fraction: frac})
		}
	}
	return out
}

func (s *Store) InsertSignal(ctx context.Context, rec core.SignalRecord) (int64, error) {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return 0, err
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx, `INSERT INTO signals
		(alert_id, source, coin, side, entry_price, stop_loss, take_profits, risk_check_passed, risk_check_reason, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.AlertID, string(rec.Source), rec.Coin, string(rec.Side),
		rec.EntryPrice.String(), rec.StopLoss.String(), marshalTPs(rec.TakeProfits),
		boolToInt(rec.RiskCheckPassed), rec.RiskCheckReason, nowMillis())
	if err != nil {
		return 0, fmt.Errorf("insert signal: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}
	return id, tx.Commit()
}

func (s *Store) HasSignal(ctx context.Context, alertID string) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(1) FROM signals WHERE alert_id = ?`, alertID).Scan(&n)
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (s *Store) InsertOrder(ctx context.Context, rec core.OrderRecord) (int64, error) {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return 0, err
	}
	defer func() { _ = tx.Rollback() }()

	var filledAt sql.NullInt64
	if rec.FilledAt != nil {
		filledAt = sql.NullInt64{Int64: rec.FilledAt.UnixMilli(), Valid: true}
	}

	res, err := tx.ExecContext(ctx, `INSERT INTO orders
		(signal_id, exchange_order_id, coin, side, size, price, type, tag, status, mode, filled_at, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.SignalID, rec.ExchangeOrderID, rec.Coin, string(rec.Side),
		rec.Size.String(), rec.Price.String(), string(rec.Type), string(rec.Tag),
		string(rec.Status), string(rec.Mode), filledAt, nowMillis())
	if err != nil {
		return 0, fmt.Errorf("insert order: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}
	return id, tx.Commit()
}

func (s *Store) UpdateOrderStatus(ctx context.Context, id int64, status core.OrderStatus, exchangeOrderID string) error {
	var filledAt interface{}
	if status == core.OrderFilled {
		filledAt = nowMillis()
	}
	_, err := s.db.ExecContext(ctx, `UPDATE orders SET status = ?, exchange_order_id = COALESCE(NULLIF(?, ''), exchange_order_id), filled_at = COALESCE(?, filled_at) WHERE id = ?`,
		string(status), exchangeOrderID, filledAt, id)
	return err
}

func (s *Store) GetPendingOrders(ctx context.Context) ([]core.OrderRecord, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, signal_id, exchange_order_id, coin, side, size, price, type, tag, status, mode, filled_at, created_at FROM orders WHERE status = ?`, string(core.OrderPending))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanOrders(rows)
}

func (s *Store) GetRecentOrders(ctx context.Context, limit int) ([]core.OrderRecord, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, signal_id, exchange_order_id, coin, side, size, price, type, tag, status, mode, filled_at, created_at FROM orders ORDER BY created_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanOrders(rows)
}

func scanOrders(rows *sql.Rows) ([]core.OrderRecord, error) {
	var out []core.OrderRecord
	for rows.Next() {
		var rec core.OrderRecord
		var side, typ, tag, status, mode string
		var size, price string
		var filledAt sql.NullInt64
		var createdAtMs int64
		if err := rows.Scan(&rec.ID, &rec.SignalID, &rec.ExchangeOrderID, &rec.Coin, &side, &size, &price, &typ, &tag, &status, &mode, &filledAt, &createdAtMs); err != nil {
			return nil, err
		}
		rec.Side = core.Side(side)
		rec.Size, _ = decimal.NewFromString(size)
		rec.Price, _ = decimal.NewFromString(price)
		rec.Type = core.OrderType(typ)
		rec.Tag = core.OrderTag(tag)
		rec.Status = core.OrderStatus(status)
		rec.Mode = core.Mode(mode)
		rec.CreatedAt = time.UnixMilli(createdAtMs)
		if filledAt.Valid {
			t := time.UnixMilli(filledAt.Int64)
			rec.FilledAt = &t
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (s *Store) InsertEquitySnapshot(ctx context.Context, snap core.EquitySnapshot) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO equity_snapshots (ts, equity, open_positions) VALUES (?, ?, ?)`,
		snap.Ts.UnixMilli(), snap.Equity.String(), snap.OpenPositions)
	return err
}

func (s *Store) GetTodayRealizedPnl(ctx context.Context, coin string) (decimal.Decimal, error) {
	since := startOfDay().UnixMilli()
	rows, err := s.db.QueryContext(ctx, `SELECT side, size, price, tag FROM orders WHERE coin = ? AND status = ? AND created_at >= ?`,
		coin, string(core.OrderFilled), since)
	if err != nil {
		return decimal.Zero, err
	}
	defer rows.Close()

	total := decimal.Zero
	for rows.Next() {
		var side, size, price, tag string
		if err := rows.Scan(&side, &size, &price, &tag); err != nil {
			return decimal.Zero, err
		}
		// Exit legs (sl/tp*/trailing-sl) realize pnl; entry legs don't.
		if tag == string(core.TagEntry) {
			continue
		}
		sz, _ := decimal.NewFromString(size)
		px, _ := decimal.NewFromString(price)
		signed := sz.Mul(px)
		if side == string(core.Sell) {
			total = total.Add(signed)
		} else {
			total = total.Sub(signed)
		}
	}
	return total, rows.Err()
}

func (s *Store) GetTodayTradeCount(ctx context.Context, coin string) (int, error) {
	since := startOfDay().UnixMilli()
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(1) FROM orders WHERE coin = ? AND tag = ? AND created_at >= ?`,
		coin, string(core.TagEntry), since).Scan(&n)
	return n, err
}

func (s *Store) GetTrailingStopOrder(ctx context.Context, coin string) (string, bool, error) {
	var exchangeOrderID string
	err := s.db.QueryRowContext(ctx, `SELECT exchange_order_id FROM orders WHERE coin = ? AND tag = ? AND status = ? ORDER BY created_at DESC LIMIT 1`,
		coin, string(core.TagTrailingSL), string(core.OrderPending)).Scan(&exchangeOrderID)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return exchangeOrderID, exchangeOrderID != "", nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func nowMillis() int64 {
	return time.Now().UnixMilli()
}

func startOfDay() time.Time {
	now := time.Now().UTC()
	return time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
}

var _ core.PersistentStore = (*Store)(nil)
