package ledger

import (
	"context"
	"database/sql"
	"fmt"
	"sync"

	"github.com/looptrader/riskengine/internal/models"
	_ "modernc.org/sqlite"
)

// Minimal schema needed to evaluate a position. Matches the upstream
// bot fleet's tables; migrations beyond this are out of scope.
const schema = `
CREATE TABLE IF NOT EXISTS positions (
    id         INTEGER PRIMARY KEY AUTOINCREMENT,
    active     INTEGER  NOT NULL,
    opened_at  DATETIME NOT NULL,
    closed_at  DATETIME,
    account_id INTEGER  NOT NULL,
    bot_id     INTEGER  NOT NULL,
    bot_name   TEXT     NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS orders (
    id               INTEGER PRIMARY KEY AUTOINCREMENT,
    position_id      INTEGER NOT NULL REFERENCES positions(id),
    broker_order_id  TEXT,
    status           TEXT,
    order_type       TEXT,
    price            REAL,
    quantity         REAL,
    filled_quantity  REAL,
    is_open_position INTEGER NOT NULL DEFAULT 0,
    entered_at       DATETIME
);

CREATE TABLE IF NOT EXISTS order_legs (
    id          INTEGER PRIMARY KEY AUTOINCREMENT,
    order_id    INTEGER NOT NULL REFERENCES orders(id),
    instruction TEXT,
    quantity    REAL
);

CREATE TABLE IF NOT EXISTS instruments (
    id                INTEGER PRIMARY KEY AUTOINCREMENT,
    leg_id            INTEGER NOT NULL REFERENCES order_legs(id),
    symbol            TEXT,
    underlying_symbol TEXT,
    put_call          TEXT,
    delta             REAL
);

CREATE INDEX IF NOT EXISTS idx_positions_active ON positions(active);
CREATE INDEX IF NOT EXISTS idx_orders_position  ON orders(position_id);
CREATE INDEX IF NOT EXISTS idx_legs_order       ON order_legs(order_id);
CREATE INDEX IF NOT EXISTS idx_instruments_leg  ON instruments(leg_id);
`

// SQLiteLedger implements Interface on a local sqlite database
// (pure Go driver, no CGo).
type SQLiteLedger struct {
	db *sql.DB
	mu sync.RWMutex
}

// NewSQLiteLedger opens (or creates) the ledger database at path and
// applies the schema.
func NewSQLiteLedger(path string) (*SQLiteLedger, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("ledger: open %q: %w", path, err)
	}
	// SQLite is single-writer
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ledger: apply schema: %w", err)
	}

	return &SQLiteLedger{db: db}, nil
}

// Close releases the database handle.
func (l *SQLiteLedger) Close() error {
	return l.db.Close()
}

// GetActivePositions returns open positions with their order trees.
func (l *SQLiteLedger) GetActivePositions(ctx context.Context) ([]models.Position, error) {
	return l.queryPositions(ctx, `SELECT id, active, opened_at, closed_at, account_id, bot_id, bot_name
		FROM positions WHERE active = 1 ORDER BY opened_at DESC`)
}

// GetAllPositions returns every position with its order tree.
func (l *SQLiteLedger) GetAllPositions(ctx context.Context) ([]models.Position, error) {
	return l.queryPositions(ctx, `SELECT id, active, opened_at, closed_at, account_id, bot_id, bot_name
		FROM positions ORDER BY opened_at DESC`)
}

// GetPositionByID returns one position or ErrPositionNotFound.
func (l *SQLiteLedger) GetPositionByID(ctx context.Context, id int64) (*models.Position, error) {
	positions, err := l.queryPositions(ctx, `SELECT id, active, opened_at, closed_at, account_id, bot_id, bot_name
		FROM positions WHERE id = ?`, id)
	if err != nil {
		return nil, err
	}
	if len(positions) == 0 {
		return nil, ErrPositionNotFound
	}
	return &positions[0], nil
}

func (l *SQLiteLedger) queryPositions(ctx context.Context, query string, args ...interface{}) ([]models.Position, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	rows, err := l.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("ledger: query positions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var positions []models.Position
	for rows.Next() {
		var (
			p        models.Position
			active   int
			closedAt sql.NullTime
		)
		if err := rows.Scan(&p.ID, &active, &p.OpenedAt, &closedAt, &p.AccountID, &p.BotID, &p.BotName); err != nil {
			return nil, fmt.Errorf("ledger: scan position: %w", err)
		}
		p.Active = active != 0
		if closedAt.Valid {
			p.ClosedAt = closedAt.Time
		}
		positions = append(positions, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ledger: iterate positions: %w", err)
	}

	for i := range positions {
		if err := l.attachOrders(ctx, &positions[i]); err != nil {
			return nil, err
		}
	}
	return positions, nil
}

// attachOrders loads a position's orders, legs, and instruments. The
// order side is classified here, once at ingestion into the domain
// model, so downstream math never re-scans the raw order-type string.
func (l *SQLiteLedger) attachOrders(ctx context.Context, p *models.Position) error {
	rows, err := l.db.QueryContext(ctx, `SELECT id, broker_order_id, status, order_type, price,
		quantity, filled_quantity, is_open_position, entered_at
		FROM orders WHERE position_id = ? ORDER BY id`, p.ID)
	if err != nil {
		return fmt.Errorf("ledger: query orders for position %d: %w", p.ID, err)
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var (
			o         models.Order
			brokerID  sql.NullString
			status    sql.NullString
			orderType sql.NullString
			price     sql.NullFloat64
			qty       sql.NullFloat64
			filled    sql.NullFloat64
			isOpen    int
			entered   sql.NullTime
		)
		if err := rows.Scan(&o.ID, &brokerID, &status, &orderType, &price, &qty, &filled, &isOpen, &entered); err != nil {
			return fmt.Errorf("ledger: scan order: %w", err)
		}
		o.PositionID = p.ID
		o.BrokerOrderID = brokerID.String
		o.Status = models.OrderStatus(status.String)
		o.OrderType = orderType.String
		o.Side = models.ClassifySide(orderType.String)
		o.Price = price.Float64
		o.Quantity = qty.Float64
		o.FilledQuantity = filled.Float64
		o.IsOpenPosition = isOpen != 0
		if entered.Valid {
			o.EnteredAt = entered.Time
		}
		p.Orders = append(p.Orders, o)
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("ledger: iterate orders: %w", err)
	}

	for i := range p.Orders {
		if err := l.attachLegs(ctx, &p.Orders[i]); err != nil {
			return err
		}
	}
	return nil
}

func (l *SQLiteLedger) attachLegs(ctx context.Context, o *models.Order) error {
	rows, err := l.db.QueryContext(ctx, `SELECT l.id, l.instruction, l.quantity,
		i.id, i.symbol, i.underlying_symbol, i.put_call, i.delta
		FROM order_legs l
		LEFT JOIN instruments i ON i.leg_id = l.id
		WHERE l.order_id = ? ORDER BY l.id`, o.ID)
	if err != nil {
		return fmt.Errorf("ledger: query legs for order %d: %w", o.ID, err)
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var (
			leg         models.OrderLeg
			instruction sql.NullString
			qty         sql.NullFloat64
			instID      sql.NullInt64
			symbol      sql.NullString
			underlying  sql.NullString
			putCall     sql.NullString
			delta       sql.NullFloat64
		)
		if err := rows.Scan(&leg.ID, &instruction, &qty, &instID, &symbol, &underlying, &putCall, &delta); err != nil {
			return fmt.Errorf("ledger: scan leg: %w", err)
		}
		leg.OrderID = o.ID
		leg.Instruction = instruction.String
		leg.Quantity = qty.Float64
		if instID.Valid {
			leg.Instrument = models.Instrument{
				ID:               instID.Int64,
				LegID:            leg.ID,
				Symbol:           symbol.String,
				UnderlyingSymbol: underlying.String,
				PutCall:          putCall.String,
			}
			if delta.Valid {
				d := delta.Float64
				leg.Instrument.Delta = &d
			}
		}
		o.Legs = append(o.Legs, leg)
	}
	return rows.Err()
}

// SavePosition inserts a position with its full order tree in one
// transaction, assigning generated ids back onto the models.
func (l *SQLiteLedger) SavePosition(ctx context.Context, p *models.Position) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("ledger: begin save: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var closedAt interface{}
	if !p.ClosedAt.IsZero() {
		closedAt = p.ClosedAt.UTC()
	}
	res, err := tx.ExecContext(ctx, `INSERT INTO positions (active, opened_at, closed_at, account_id, bot_id, bot_name)
		VALUES (?, ?, ?, ?, ?, ?)`,
		boolToInt(p.Active), p.OpenedAt.UTC(), closedAt, p.AccountID, p.BotID, p.BotName)
	if err != nil {
		return fmt.Errorf("ledger: insert position: %w", err)
	}
	if p.ID, err = res.LastInsertId(); err != nil {
		return fmt.Errorf("ledger: position id: %w", err)
	}

	for i := range p.Orders {
		o := &p.Orders[i]
		o.PositionID = p.ID
		var enteredAt interface{}
		if !o.EnteredAt.IsZero() {
			enteredAt = o.EnteredAt.UTC()
		}
		res, err := tx.ExecContext(ctx, `INSERT INTO orders (position_id, broker_order_id, status, order_type,
			price, quantity, filled_quantity, is_open_position, entered_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			p.ID, o.BrokerOrderID, string(o.Status), o.OrderType,
			o.Price, o.Quantity, o.FilledQuantity, boolToInt(o.IsOpenPosition), enteredAt)
		if err != nil {
			return fmt.Errorf("ledger: insert order: %w", err)
		}
		if o.ID, err = res.LastInsertId(); err != nil {
			return fmt.Errorf("ledger: order id: %w", err)
		}
		o.Side = models.ClassifySide(o.OrderType)

		for j := range o.Legs {
			leg := &o.Legs[j]
			leg.OrderID = o.ID
			res, err := tx.ExecContext(ctx, `INSERT INTO order_legs (order_id, instruction, quantity) VALUES (?, ?, ?)`,
				o.ID, leg.Instruction, leg.Quantity)
			if err != nil {
				return fmt.Errorf("ledger: insert leg: %w", err)
			}
			if leg.ID, err = res.LastInsertId(); err != nil {
				return fmt.Errorf("ledger: leg id: %w", err)
			}

			inst := &leg.Instrument
			inst.LegID = leg.ID
			var delta interface{}
			if inst.Delta != nil {
				delta = *inst.Delta
			}
			res, err = tx.ExecContext(ctx, `INSERT INTO instruments (leg_id, symbol, underlying_symbol, put_call, delta)
				VALUES (?, ?, ?, ?, ?)`,
				leg.ID, inst.Symbol, inst.UnderlyingSymbol, inst.PutCall, delta)
			if err != nil {
				return fmt.Errorf("ledger: insert instrument: %w", err)
			}
			if inst.ID, err = res.LastInsertId(); err != nil {
				return fmt.Errorf("ledger: instrument id: %w", err)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("ledger: commit save: %w", err)
	}
	return nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
