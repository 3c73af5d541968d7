package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/lib/pq"

	"github.com/coinrun/baseline-trader/internal/candle"
	"github.com/coinrun/baseline-trader/internal/journal"
	"github.com/coinrun/baseline-trader/internal/order"
	"github.com/coinrun/baseline-trader/internal/position"
)

// Transaction context key
type txKey struct{}

// WithTransaction adds a transaction to the context
func WithTransaction(ctx context.Context, tx *sql.Tx) context.Context {
	return context.WithValue(ctx, txKey{}, tx)
}

// GetTransaction retrieves a transaction from context, or returns nil if not present
func GetTransaction(ctx context.Context) *sql.Tx {
	if tx, ok := ctx.Value(txKey{}).(*sql.Tx); ok {
		return tx
	}
	return nil
}

// PostgresStorage persists orders, trades, events and candles.
type PostgresStorage struct {
	db *sql.DB
}

func NewPostgres(connStr string) (*PostgresStorage, error) {
	db, err := sql.Open("postgres", connStr)
	if err != nil {
		return nil, fmt.Errorf("opening postgres: %w", err)
	}
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("pinging postgres: %w", err)
	}
	p := &PostgresStorage{db: db}
	if err := p.initSchema(); err != nil {
		return nil, err
	}
	return p, nil
}

func (p *PostgresStorage) GetDB() *sql.DB { return p.db }

func (p *PostgresStorage) Close() error { return p.db.Close() }

func (p *PostgresStorage) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS candles (
		symbol TEXT NOT NULL,
		granularity TEXT NOT NULL,
		timestamp TIMESTAMPTZ NOT NULL,
		open DOUBLE PRECISION NOT NULL,
		high DOUBLE PRECISION NOT NULL,
		low DOUBLE PRECISION NOT NULL,
		close DOUBLE PRECISION NOT NULL,
		volume DOUBLE PRECISION NOT NULL,
		source TEXT NOT NULL,
		PRIMARY KEY (symbol, granularity, timestamp, source)
	);
	CREATE TABLE IF NOT EXISTS orders (
		instance_id TEXT NOT NULL,
		id TEXT NOT NULL,
		exchange_id TEXT,
		bracket_id TEXT,
		symbol TEXT NOT NULL,
		side TEXT NOT NULL,
		kind TEXT NOT NULL,
		price DOUBLE PRECISION NOT NULL,
		size DOUBLE PRECISION NOT NULL,
		status TEXT NOT NULL,
		placed_at TIMESTAMPTZ,
		filled_at TIMESTAMPTZ,
		filled_price DOUBLE PRECISION,
		PRIMARY KEY (instance_id, id)
	);
	CREATE TABLE IF NOT EXISTS trades (
		instance_id TEXT NOT NULL,
		entry_order_id TEXT NOT NULL,
		exit_order_id TEXT NOT NULL,
		symbol TEXT NOT NULL,
		entry_price DOUBLE PRECISION NOT NULL,
		exit_price DOUBLE PRECISION NOT NULL,
		size DOUBLE PRECISION NOT NULL,
		entry_time TIMESTAMPTZ NOT NULL,
		exit_time TIMESTAMPTZ NOT NULL,
		pnl DOUBLE PRECISION NOT NULL,
		fees DOUBLE PRECISION NOT NULL,
		exit_reason TEXT NOT NULL,
		duration_ms BIGINT NOT NULL,
		PRIMARY KEY (instance_id, entry_order_id, exit_order_id)
	);
	CREATE TABLE IF NOT EXISTS events (
		id BIGSERIAL PRIMARY KEY,
		time TIMESTAMPTZ NOT NULL,
		type TEXT NOT NULL,
		description TEXT,
		data JSONB
	);
	CREATE INDEX IF NOT EXISTS idx_events_type_time ON events (type, time);
	`
	if _, err := p.db.Exec(schema); err != nil {
		return fmt.Errorf("initializing schema: %w", err)
	}
	return nil
}

// executeWithTransaction executes a function with proper transaction management.
// If a transaction exists in context, it uses that. Otherwise, it creates a new one.
func (p *PostgresStorage) executeWithTransaction(ctx context.Context, fn func(*sql.Tx) error) error {
	if tx := GetTransaction(ctx); tx != nil {
		return fn(tx)
	}

	tx, err := p.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	if fnErr := fn(tx); fnErr != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return fmt.Errorf("transaction rollback failed: %w (original error: %v)", rbErr, fnErr)
		}
		return fnErr
	}
	if commitErr := tx.Commit(); commitErr != nil {
		return fmt.Errorf("transaction commit failed: %w", commitErr)
	}
	return nil
}

func (p *PostgresStorage) queryWithTransaction(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	if tx := GetTransaction(ctx); tx != nil {
		return tx.QueryContext(ctx, query, args...)
	}
	return p.db.QueryContext(ctx, query, args...)
}

func (p *PostgresStorage) SaveCandles(ctx context.Context, candles []candle.Candle) error {
	if len(candles) == 0 {
		return nil
	}
	for i, c := range candles {
		if err := c.Validate(); err != nil {
			return fmt.Errorf("invalid candle at index %d for %s %s at %s: %w",
				i, c.Symbol, c.Granularity, c.Timestamp, err)
		}
	}

	return p.executeWithTransaction(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO candles (symbol, granularity, timestamp, open, high, low, close, volume, source)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
			ON CONFLICT (symbol, granularity, timestamp, source) DO UPDATE SET
				open=EXCLUDED.open, high=EXCLUDED.high, low=EXCLUDED.low,
				close=EXCLUDED.close, volume=EXCLUDED.volume`)
		if err != nil {
			return fmt.Errorf("failed to prepare insert statement: %w", err)
		}
		defer stmt.Close()

		for i, c := range candles {
			if _, err := stmt.ExecContext(ctx,
				c.Symbol, c.Granularity, c.Timestamp, c.Open, c.High, c.Low, c.Close, c.Volume, c.Source); err != nil {
				return fmt.Errorf("failed to save candle at index %d (%s %s at %s): %w",
					i, c.Symbol, c.Granularity, c.Timestamp, err)
			}
		}
		return nil
	})
}

func (p *PostgresStorage) GetCandles(ctx context.Context, symbol, granularity string, start, end time.Time) ([]candle.Candle, error) {
	rows, err := p.queryWithTransaction(ctx, `
		SELECT symbol, granularity, timestamp, open, high, low, close, volume, source
		FROM candles
		WHERE symbol=$1 AND granularity=$2 AND timestamp BETWEEN $3 AND $4
		ORDER BY timestamp ASC`,
		symbol, granularity, start, end)
	if err != nil {
		return nil, fmt.Errorf("querying candles: %w", err)
	}
	defer rows.Close()

	var out []candle.Candle
	for rows.Next() {
		var c candle.Candle
		if err := rows.Scan(&c.Symbol, &c.Granularity, &c.Timestamp, &c.Open, &c.High, &c.Low, &c.Close, &c.Volume, &c.Source); err != nil {
			return nil, fmt.Errorf("scanning candle: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (p *PostgresStorage) SaveOrder(ctx context.Context, instanceID string, o order.Order) error {
	return p.executeWithTransaction(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO orders (instance_id, id, exchange_id, bracket_id, symbol, side, kind, price, size, status, placed_at, filled_at, filled_price)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)
			ON CONFLICT (instance_id, id) DO UPDATE SET
				exchange_id=EXCLUDED.exchange_id, status=EXCLUDED.status,
				filled_at=EXCLUDED.filled_at, filled_price=EXCLUDED.filled_price`,
			instanceID, o.ID, o.ExchangeID, o.BracketID, o.Symbol, string(o.Side), o.Kind.String(),
			o.Price, o.Size, o.Status.String(), nullTime(o.PlacedAt), nullTime(o.FilledAt), o.FilledPrice)
		if err != nil {
			return fmt.Errorf("failed to save order %s: %w", o.ID, err)
		}
		return nil
	})
}

func (p *PostgresStorage) GetOrders(ctx context.Context, instanceID string) ([]order.Order, error) {
	rows, err := p.queryWithTransaction(ctx, `
		SELECT id, exchange_id, bracket_id, symbol, side, kind, price, size, status, placed_at, filled_at, filled_price
		FROM orders WHERE instance_id=$1 ORDER BY placed_at ASC NULLS LAST`,
		instanceID)
	if err != nil {
		return nil, fmt.Errorf("querying orders: %w", err)
	}
	defer rows.Close()

	var out []order.Order
	for rows.Next() {
		var o order.Order
		var side, kind, status string
		var placedAt, filledAt sql.NullTime
		if err := rows.Scan(&o.ID, &o.ExchangeID, &o.BracketID, &o.Symbol, &side, &kind, &o.Price, &o.Size, &status, &placedAt, &filledAt, &o.FilledPrice); err != nil {
			return nil, fmt.Errorf("scanning order: %w", err)
		}
		o.Side = order.Side(side)
		o.Kind = parseKind(kind)
		o.Status = parseStatus(status)
		if placedAt.Valid {
			o.PlacedAt = placedAt.Time
		}
		if filledAt.Valid {
			o.FilledAt = filledAt.Time
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

func (p *PostgresStorage) SaveTrade(ctx context.Context, instanceID string, tr position.Trade) error {
	return p.executeWithTransaction(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO trades (instance_id, entry_order_id, exit_order_id, symbol, entry_price, exit_price, size, entry_time, exit_time, pnl, fees, exit_reason, duration_ms)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)
			ON CONFLICT (instance_id, entry_order_id, exit_order_id) DO NOTHING`,
			instanceID, tr.EntryOrderID, tr.ExitOrderID, tr.Symbol, tr.EntryPrice, tr.ExitPrice,
			tr.Size, tr.EntryTime, tr.ExitTime, tr.PnL, tr.Fees, tr.ExitReason, tr.Duration.Milliseconds())
		if err != nil {
			return fmt.Errorf("failed to save trade %s/%s: %w", tr.EntryOrderID, tr.ExitOrderID, err)
		}
		return nil
	})
}

func (p *PostgresStorage) GetTrades(ctx context.Context, instanceID string) ([]position.Trade, error) {
	rows, err := p.queryWithTransaction(ctx, `
		SELECT entry_order_id, exit_order_id, symbol, entry_price, exit_price, size, entry_time, exit_time, pnl, fees, exit_reason, duration_ms
		FROM trades WHERE instance_id=$1 ORDER BY exit_time ASC`,
		instanceID)
	if err != nil {
		return nil, fmt.Errorf("querying trades: %w", err)
	}
	defer rows.Close()

	var out []position.Trade
	for rows.Next() {
		var tr position.Trade
		var durationMs int64
		if err := rows.Scan(&tr.EntryOrderID, &tr.ExitOrderID, &tr.Symbol, &tr.EntryPrice, &tr.ExitPrice,
			&tr.Size, &tr.EntryTime, &tr.ExitTime, &tr.PnL, &tr.Fees, &tr.ExitReason, &durationMs); err != nil {
			return nil, fmt.Errorf("scanning trade: %w", err)
		}
		tr.Duration = time.Duration(durationMs) * time.Millisecond
		out = append(out, tr)
	}
	return out, rows.Err()
}

func (p *PostgresStorage) LogEvent(ctx context.Context, event journal.Event) error {
	data, err := json.Marshal(event.Data)
	if err != nil {
		return fmt.Errorf("marshaling event data: %w", err)
	}
	return p.executeWithTransaction(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO events (time, type, description, data) VALUES ($1,$2,$3,$4)`,
			event.Time, event.Type, event.Description, data)
		if err != nil {
			return fmt.Errorf("failed to save event: %w", err)
		}
		return nil
	})
}

func (p *PostgresStorage) GetEvents(ctx context.Context, eventType string, start, end time.Time) ([]journal.Event, error) {
	rows, err := p.queryWithTransaction(ctx, `
		SELECT time, type, description, data
		FROM events
		WHERE ($1 = '' OR type = $1) AND time BETWEEN $2 AND $3
		ORDER BY time ASC`,
		eventType, start, end)
	if err != nil {
		return nil, fmt.Errorf("querying events: %w", err)
	}
	defer rows.Close()

	var out []journal.Event
	for rows.Next() {
		var ev journal.Event
		var data []byte
		if err := rows.Scan(&ev.Time, &ev.Type, &ev.Description, &data); err != nil {
			return nil, fmt.Errorf("scanning event: %w", err)
		}
		if len(data) > 0 {
			if err := json.Unmarshal(data, &ev.Data); err != nil {
				return nil, fmt.Errorf("unmarshaling event data: %w", err)
			}
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}

func nullTime(t time.Time) sql.NullTime {
	return sql.NullTime{Time: t, Valid: !t.IsZero()}
}

func parseKind(s string) order.Kind {
	switch s {
	case "exit":
		return order.Exit
	case "stop-loss":
		return order.StopLoss
	case "take-profit":
		return order.TakeProfit
	default:
		return order.Entry
	}
}

func parseStatus(s string) order.Status {
	switch s {
	case "filled":
		return order.Filled
	case "cancelled":
		return order.Cancelled
	case "timed-out":
		return order.TimedOut
	default:
		return order.Pending
	}
}
