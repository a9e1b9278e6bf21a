// Package store persists bots, bins, products, orders, bin locks and the
// event log in SQLite.
//
// The in-memory coordinator is authoritative while the process runs; the
// store is written through on every state change so a restart can restore
// the fleet and the order manager can reconcile pending orders.
package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/Iron-Ham/autostore/internal/errors"
	"github.com/Iron-Ham/autostore/internal/grid"
	"github.com/Iron-Ham/autostore/internal/model"
)

// Store manages all SQLite operations with WAL mode for concurrent access.
type Store struct {
	db *sql.DB
}

// New opens (or creates) the SQLite database at path and initializes the
// schema. The parent directory is created if needed.
func New(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create store dir: %w", err)
		}
	}

	dsn := path + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(60000)&_pragma=synchronous(NORMAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	db.SetMaxOpenConns(4)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(30 * time.Minute)

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error { return s.db.Close() }

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS bots (
		id                INTEGER PRIMARY KEY,
		name              TEXT NOT NULL,
		x                 INTEGER NOT NULL,
		y                 INTEGER NOT NULL,
		z                 INTEGER NOT NULL DEFAULT 0,
		status            TEXT NOT NULL,
		parking_x         INTEGER NOT NULL,
		parking_y         INTEGER NOT NULL,
		assigned_order_id INTEGER NOT NULL DEFAULT 0,
		carried_bin_id    INTEGER NOT NULL DEFAULT 0,
		path              TEXT NOT NULL DEFAULT '[]',
		full_path         TEXT NOT NULL DEFAULT '[]',
		updated_at        TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS bins (
		id         INTEGER PRIMARY KEY,
		x          INTEGER NOT NULL,
		y          INTEGER NOT NULL,
		z          INTEGER NOT NULL DEFAULT 0,
		status     TEXT NOT NULL,
		home_x     INTEGER NOT NULL,
		home_y     INTEGER NOT NULL,
		home_z     INTEGER NOT NULL DEFAULT 0,
		updated_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS products (
		sku    TEXT PRIMARY KEY,
		name   TEXT NOT NULL,
		bin_id INTEGER NOT NULL REFERENCES bins(id)
	);

	CREATE TABLE IF NOT EXISTS orders (
		id              INTEGER PRIMARY KEY AUTOINCREMENT,
		status          TEXT NOT NULL,
		assigned_bot_id INTEGER NOT NULL DEFAULT 0,
		created_at      TEXT NOT NULL,
		updated_at      TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_orders_status ON orders(status, created_at);

	CREATE TABLE IF NOT EXISTS order_items (
		order_id  INTEGER NOT NULL REFERENCES orders(id) ON DELETE CASCADE,
		idx       INTEGER NOT NULL,
		product   TEXT NOT NULL,
		quantity  INTEGER NOT NULL,
		bin_id    INTEGER NOT NULL DEFAULT 0,
		delivered INTEGER NOT NULL DEFAULT 0,
		PRIMARY KEY (order_id, idx)
	);

	CREATE TABLE IF NOT EXISTS bin_locks (
		bin_id     INTEGER PRIMARY KEY,
		holder_id  INTEGER NOT NULL DEFAULT 0,
		status     TEXT NOT NULL,
		waiting    TEXT NOT NULL DEFAULT '[]',
		updated_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS events (
		id         INTEGER PRIMARY KEY AUTOINCREMENT,
		kind       TEXT NOT NULL,
		entity     TEXT,
		entity_id  INTEGER NOT NULL DEFAULT 0,
		payload    TEXT NOT NULL,
		created_at TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_events_entity ON events(entity, entity_id);
	`
	_, err := s.db.Exec(schema)
	return err
}

// ---------------------------------------------------------------------------
// Provisioning
// ---------------------------------------------------------------------------

// Provision inserts the configured bots, bins and products. Existing rows
// are left untouched so a restart keeps persisted positions and statuses.
func (s *Store) Provision(bots []model.Bot, bins []model.Bin, products []model.Product) error {
	err := retryOnContention(func() error {
		tx, err := s.db.Begin()
		if err != nil {
			return fmt.Errorf("begin tx: %w", err)
		}
		defer tx.Rollback() //nolint:errcheck // rollback after commit is a no-op

		for _, b := range bins {
			if _, err := tx.Exec(
				`INSERT INTO bins (id, x, y, z, status, home_x, home_y, home_z, updated_at)
				 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?) ON CONFLICT(id) DO NOTHING`,
				b.ID, b.X, b.Y, b.Z, string(b.Status), b.Home.X, b.Home.Y, b.HomeZ, formatTime(b.UpdatedAt),
			); err != nil {
				return fmt.Errorf("insert bin %d: %w", b.ID, err)
			}
		}
		for _, b := range bots {
			path, full, err := encodePaths(b)
			if err != nil {
				return err
			}
			if _, err := tx.Exec(
				`INSERT INTO bots (id, name, x, y, z, status, parking_x, parking_y,
				                   assigned_order_id, carried_bin_id, path, full_path, updated_at)
				 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?) ON CONFLICT(id) DO NOTHING`,
				b.ID, b.Name, b.X, b.Y, b.Z, string(b.Status), b.Parking.X, b.Parking.Y,
				b.AssignedOrderID, b.CarriedBinID, path, full, formatTime(b.UpdatedAt),
			); err != nil {
				return fmt.Errorf("insert bot %d: %w", b.ID, err)
			}
		}
		for _, p := range products {
			if _, err := tx.Exec(
				`INSERT INTO products (sku, name, bin_id) VALUES (?, ?, ?)
				 ON CONFLICT(sku) DO UPDATE SET name = excluded.name, bin_id = excluded.bin_id`,
				p.SKU, p.Name, p.BinID,
			); err != nil {
				return fmt.Errorf("insert product %s: %w", p.SKU, err)
			}
		}
		return tx.Commit()
	})
	if err != nil {
		return errors.NewStoreError("provision", err)
	}
	return nil
}

// ---------------------------------------------------------------------------
// Bots
// ---------------------------------------------------------------------------

// SaveBot creates or replaces a bot row.
func (s *Store) SaveBot(b model.Bot) error {
	path, full, err := encodePaths(b)
	if err != nil {
		return errors.NewStoreError("save bot", err)
	}
	err = retryOnContention(func() error {
		_, err := s.db.Exec(
			`INSERT INTO bots (id, name, x, y, z, status, parking_x, parking_y,
			                   assigned_order_id, carried_bin_id, path, full_path, updated_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			 ON CONFLICT(id) DO UPDATE SET
			   name = excluded.name, x = excluded.x, y = excluded.y, z = excluded.z,
			   status = excluded.status, parking_x = excluded.parking_x, parking_y = excluded.parking_y,
			   assigned_order_id = excluded.assigned_order_id, carried_bin_id = excluded.carried_bin_id,
			   path = excluded.path, full_path = excluded.full_path, updated_at = excluded.updated_at`,
			b.ID, b.Name, b.X, b.Y, b.Z, string(b.Status), b.Parking.X, b.Parking.Y,
			b.AssignedOrderID, b.CarriedBinID, path, full, formatTime(b.UpdatedAt),
		)
		return err
	})
	if err != nil {
		return errors.NewStoreError("save bot", err)
	}
	return nil
}

const botColumns = `id, name, x, y, z, status, parking_x, parking_y,
	assigned_order_id, carried_bin_id, path, full_path, updated_at`

// GetBot retrieves a bot by id.
func (s *Store) GetBot(id int64) (*model.Bot, error) {
	row := s.db.QueryRow(`SELECT `+botColumns+` FROM bots WHERE id = ?`, id)
	b, err := scanBot(row)
	if err == sql.ErrNoRows {
		return nil, errors.NewNotFoundError("bot", strconv.FormatInt(id, 10)).WithCause(errors.ErrBotNotFound)
	}
	if err != nil {
		return nil, errors.NewStoreError("get bot", err)
	}
	return b, nil
}

// ListBots returns every bot ordered by id.
func (s *Store) ListBots() ([]model.Bot, error) {
	rows, err := s.db.Query(`SELECT ` + botColumns + ` FROM bots ORDER BY id`)
	if err != nil {
		return nil, errors.NewStoreError("list bots", err)
	}
	defer rows.Close()

	var bots []model.Bot
	for rows.Next() {
		b, err := scanBot(rows)
		if err != nil {
			return nil, errors.NewStoreError("list bots", err)
		}
		bots = append(bots, *b)
	}
	return bots, rows.Err()
}

func scanBot(sc scanner) (*model.Bot, error) {
	var b model.Bot
	var status, path, full, updated string
	if err := sc.Scan(&b.ID, &b.Name, &b.X, &b.Y, &b.Z, &status, &b.Parking.X, &b.Parking.Y,
		&b.AssignedOrderID, &b.CarriedBinID, &path, &full, &updated); err != nil {
		return nil, err
	}
	b.Status = model.BotStatus(status)
	if err := json.Unmarshal([]byte(path), &b.Path); err != nil {
		return nil, fmt.Errorf("decode path for bot %d: %w", b.ID, err)
	}
	if err := json.Unmarshal([]byte(full), &b.FullPath); err != nil {
		return nil, fmt.Errorf("decode full_path for bot %d: %w", b.ID, err)
	}
	var err error
	if b.UpdatedAt, err = parseTime(updated); err != nil {
		return nil, fmt.Errorf("parse updated_at for bot %d: %w", b.ID, err)
	}
	return &b, nil
}

func encodePaths(b model.Bot) (string, string, error) {
	path, err := json.Marshal(nonNilPoints(b.Path))
	if err != nil {
		return "", "", fmt.Errorf("encode path: %w", err)
	}
	full, err := json.Marshal(nonNilPoints(b.FullPath))
	if err != nil {
		return "", "", fmt.Errorf("encode full_path: %w", err)
	}
	return string(path), string(full), nil
}

func nonNilPoints(p []grid.Point) []grid.Point {
	if p == nil {
		return []grid.Point{}
	}
	return p
}

// ---------------------------------------------------------------------------
// Bins and products
// ---------------------------------------------------------------------------

// SaveBin creates or replaces a bin row.
func (s *Store) SaveBin(b model.Bin) error {
	err := retryOnContention(func() error {
		_, err := s.db.Exec(
			`INSERT INTO bins (id, x, y, z, status, home_x, home_y, home_z, updated_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
			 ON CONFLICT(id) DO UPDATE SET
			   x = excluded.x, y = excluded.y, z = excluded.z, status = excluded.status,
			   home_x = excluded.home_x, home_y = excluded.home_y, home_z = excluded.home_z,
			   updated_at = excluded.updated_at`,
			b.ID, b.X, b.Y, b.Z, string(b.Status), b.Home.X, b.Home.Y, b.HomeZ, formatTime(b.UpdatedAt),
		)
		return err
	})
	if err != nil {
		return errors.NewStoreError("save bin", err)
	}
	return nil
}

const binColumns = `id, x, y, z, status, home_x, home_y, home_z, updated_at`

// GetBin retrieves a bin by id.
func (s *Store) GetBin(id int64) (*model.Bin, error) {
	row := s.db.QueryRow(`SELECT `+binColumns+` FROM bins WHERE id = ?`, id)
	b, err := scanBin(row)
	if err == sql.ErrNoRows {
		return nil, errors.NewNotFoundError("bin", strconv.FormatInt(id, 10)).WithCause(errors.ErrBinNotFound)
	}
	if err != nil {
		return nil, errors.NewStoreError("get bin", err)
	}
	return b, nil
}

// ListBins returns every bin ordered by id.
func (s *Store) ListBins() ([]model.Bin, error) {
	rows, err := s.db.Query(`SELECT ` + binColumns + ` FROM bins ORDER BY id`)
	if err != nil {
		return nil, errors.NewStoreError("list bins", err)
	}
	defer rows.Close()

	var bins []model.Bin
	for rows.Next() {
		b, err := scanBin(rows)
		if err != nil {
			return nil, errors.NewStoreError("list bins", err)
		}
		bins = append(bins, *b)
	}
	return bins, rows.Err()
}

func scanBin(sc scanner) (*model.Bin, error) {
	var b model.Bin
	var status, updated string
	if err := sc.Scan(&b.ID, &b.X, &b.Y, &b.Z, &status, &b.Home.X, &b.Home.Y, &b.HomeZ, &updated); err != nil {
		return nil, err
	}
	b.Status = model.BinStatus(status)
	var err error
	if b.UpdatedAt, err = parseTime(updated); err != nil {
		return nil, fmt.Errorf("parse updated_at for bin %d: %w", b.ID, err)
	}
	return &b, nil
}

// GetProduct resolves a product reference to its catalog entry.
func (s *Store) GetProduct(sku string) (*model.Product, error) {
	var p model.Product
	err := s.db.QueryRow(`SELECT sku, name, bin_id FROM products WHERE sku = ?`, sku).
		Scan(&p.SKU, &p.Name, &p.BinID)
	if err == sql.ErrNoRows {
		return nil, errors.NewNotFoundError("product", sku).WithCause(errors.ErrProductNotFound)
	}
	if err != nil {
		return nil, errors.NewStoreError("get product", err)
	}
	return &p, nil
}

// ListProducts returns the catalog ordered by sku.
func (s *Store) ListProducts() ([]model.Product, error) {
	rows, err := s.db.Query(`SELECT sku, name, bin_id FROM products ORDER BY sku`)
	if err != nil {
		return nil, errors.NewStoreError("list products", err)
	}
	defer rows.Close()

	var products []model.Product
	for rows.Next() {
		var p model.Product
		if err := rows.Scan(&p.SKU, &p.Name, &p.BinID); err != nil {
			return nil, errors.NewStoreError("list products", err)
		}
		products = append(products, p)
	}
	return products, rows.Err()
}

// ---------------------------------------------------------------------------
// Orders
// ---------------------------------------------------------------------------

// CreateOrder inserts o with its items and returns the generated id.
func (s *Store) CreateOrder(o model.Order) (int64, error) {
	var id int64
	err := retryOnContention(func() error {
		tx, err := s.db.Begin()
		if err != nil {
			return fmt.Errorf("begin tx: %w", err)
		}
		defer tx.Rollback() //nolint:errcheck // rollback after commit is a no-op

		res, err := tx.Exec(
			`INSERT INTO orders (status, assigned_bot_id, created_at, updated_at) VALUES (?, ?, ?, ?)`,
			string(o.Status), o.AssignedBotID, formatTime(o.CreatedAt), formatTime(o.UpdatedAt),
		)
		if err != nil {
			return err
		}
		if id, err = res.LastInsertId(); err != nil {
			return err
		}
		if err := insertItems(tx, id, o.Items); err != nil {
			return err
		}
		return tx.Commit()
	})
	if err != nil {
		return 0, errors.NewStoreError("create order", err)
	}
	return id, nil
}

// SaveOrder updates an existing order's status, assignment and items.
func (s *Store) SaveOrder(o model.Order) error {
	err := retryOnContention(func() error {
		tx, err := s.db.Begin()
		if err != nil {
			return fmt.Errorf("begin tx: %w", err)
		}
		defer tx.Rollback() //nolint:errcheck // rollback after commit is a no-op

		res, err := tx.Exec(
			`UPDATE orders SET status = ?, assigned_bot_id = ?, updated_at = ? WHERE id = ?`,
			string(o.Status), o.AssignedBotID, formatTime(o.UpdatedAt), o.ID,
		)
		if err != nil {
			return err
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return errors.NewNotFoundError("order", strconv.FormatInt(o.ID, 10)).WithCause(errors.ErrOrderNotFound)
		}
		if _, err := tx.Exec(`DELETE FROM order_items WHERE order_id = ?`, o.ID); err != nil {
			return err
		}
		if err := insertItems(tx, o.ID, o.Items); err != nil {
			return err
		}
		return tx.Commit()
	})
	if errors.IsNotFound(err) {
		return err
	}
	if err != nil {
		return errors.NewStoreError("save order", err)
	}
	return nil
}

func insertItems(tx *sql.Tx, orderID int64, items []model.OrderItem) error {
	for i, it := range items {
		if _, err := tx.Exec(
			`INSERT INTO order_items (order_id, idx, product, quantity, bin_id, delivered)
			 VALUES (?, ?, ?, ?, ?, ?)`,
			orderID, i, it.ProductRef, it.Quantity, it.BinID, boolToInt(it.Delivered),
		); err != nil {
			return fmt.Errorf("insert item %d: %w", i, err)
		}
	}
	return nil
}

// GetOrder retrieves an order with its items.
func (s *Store) GetOrder(id int64) (*model.Order, error) {
	row := s.db.QueryRow(
		`SELECT id, status, assigned_bot_id, created_at, updated_at FROM orders WHERE id = ?`, id,
	)
	o, err := scanOrder(row)
	if err == sql.ErrNoRows {
		return nil, errors.NewNotFoundError("order", strconv.FormatInt(id, 10)).WithCause(errors.ErrOrderNotFound)
	}
	if err != nil {
		return nil, errors.NewStoreError("get order", err)
	}
	if o.Items, err = s.listItems(id); err != nil {
		return nil, errors.NewStoreError("get order", err)
	}
	return o, nil
}

// ListOrders returns orders with any of the given statuses (all when none
// are given), oldest first.
func (s *Store) ListOrders(statuses ...model.OrderStatus) ([]model.Order, error) {
	query := `SELECT id, status, assigned_bot_id, created_at, updated_at FROM orders`
	args := make([]any, 0, len(statuses))
	if len(statuses) > 0 {
		query += ` WHERE status IN (?` + strings.Repeat(`, ?`, len(statuses)-1) + `)`
		for _, st := range statuses {
			args = append(args, string(st))
		}
	}
	query += ` ORDER BY created_at ASC, id ASC`

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, errors.NewStoreError("list orders", err)
	}
	var orders []model.Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			rows.Close()
			return nil, errors.NewStoreError("list orders", err)
		}
		orders = append(orders, *o)
	}
	err = rows.Err()
	rows.Close()
	if err != nil {
		return nil, errors.NewStoreError("list orders", err)
	}

	for i := range orders {
		if orders[i].Items, err = s.listItems(orders[i].ID); err != nil {
			return nil, errors.NewStoreError("list orders", err)
		}
	}
	return orders, nil
}

func (s *Store) listItems(orderID int64) ([]model.OrderItem, error) {
	rows, err := s.db.Query(
		`SELECT product, quantity, bin_id, delivered FROM order_items WHERE order_id = ? ORDER BY idx`, orderID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []model.OrderItem
	for rows.Next() {
		var it model.OrderItem
		var delivered int
		if err := rows.Scan(&it.ProductRef, &it.Quantity, &it.BinID, &delivered); err != nil {
			return nil, err
		}
		it.Delivered = delivered != 0
		items = append(items, it)
	}
	return items, rows.Err()
}

func scanOrder(sc scanner) (*model.Order, error) {
	var o model.Order
	var status, created, updated string
	if err := sc.Scan(&o.ID, &status, &o.AssignedBotID, &created, &updated); err != nil {
		return nil, err
	}
	o.Status = model.OrderStatus(status)
	var err error
	if o.CreatedAt, err = parseTime(created); err != nil {
		return nil, fmt.Errorf("parse created_at for order %d: %w", o.ID, err)
	}
	if o.UpdatedAt, err = parseTime(updated); err != nil {
		return nil, fmt.Errorf("parse updated_at for order %d: %w", o.ID, err)
	}
	return &o, nil
}

// ClearOrders deletes every order and returns how many were removed.
func (s *Store) ClearOrders() (int64, error) {
	var n int64
	err := retryOnContention(func() error {
		tx, err := s.db.Begin()
		if err != nil {
			return fmt.Errorf("begin tx: %w", err)
		}
		defer tx.Rollback() //nolint:errcheck // rollback after commit is a no-op

		if _, err := tx.Exec(`DELETE FROM order_items`); err != nil {
			return err
		}
		res, err := tx.Exec(`DELETE FROM orders`)
		if err != nil {
			return err
		}
		n, _ = res.RowsAffected()
		return tx.Commit()
	})
	if err != nil {
		return 0, errors.NewStoreError("clear orders", err)
	}
	return n, nil
}

// ---------------------------------------------------------------------------
// Bin locks
// ---------------------------------------------------------------------------

// SaveBinLock creates or replaces a bin lock row.
func (s *Store) SaveBinLock(l model.BinLock) error {
	waiting := l.Waiting
	if waiting == nil {
		waiting = []int64{}
	}
	encoded, err := json.Marshal(waiting)
	if err != nil {
		return errors.NewStoreError("save bin lock", err)
	}
	err = retryOnContention(func() error {
		_, err := s.db.Exec(
			`INSERT INTO bin_locks (bin_id, holder_id, status, waiting, updated_at)
			 VALUES (?, ?, ?, ?, ?)
			 ON CONFLICT(bin_id) DO UPDATE SET
			   holder_id = excluded.holder_id, status = excluded.status,
			   waiting = excluded.waiting, updated_at = excluded.updated_at`,
			l.BinID, l.HolderID, string(l.Status), string(encoded), formatTime(l.UpdatedAt),
		)
		return err
	})
	if err != nil {
		return errors.NewStoreError("save bin lock", err)
	}
	return nil
}

// ListBinLocks returns every bin lock ordered by bin id.
func (s *Store) ListBinLocks() ([]model.BinLock, error) {
	rows, err := s.db.Query(`SELECT bin_id, holder_id, status, waiting, updated_at FROM bin_locks ORDER BY bin_id`)
	if err != nil {
		return nil, errors.NewStoreError("list bin locks", err)
	}
	defer rows.Close()

	var locks []model.BinLock
	for rows.Next() {
		var l model.BinLock
		var status, waiting, updated string
		if err := rows.Scan(&l.BinID, &l.HolderID, &status, &waiting, &updated); err != nil {
			return nil, errors.NewStoreError("list bin locks", err)
		}
		l.Status = model.LockStatus(status)
		if err := json.Unmarshal([]byte(waiting), &l.Waiting); err != nil {
			return nil, errors.NewStoreError("list bin locks", fmt.Errorf("decode waiting list for bin %d: %w", l.BinID, err))
		}
		if l.UpdatedAt, err = parseTime(updated); err != nil {
			return nil, errors.NewStoreError("list bin locks", err)
		}
		locks = append(locks, l)
	}
	return locks, rows.Err()
}

// DeleteBinLocks removes every bin lock row.
func (s *Store) DeleteBinLocks() error {
	err := retryOnContention(func() error {
		_, err := s.db.Exec(`DELETE FROM bin_locks`)
		return err
	})
	if err != nil {
		return errors.NewStoreError("delete bin locks", err)
	}
	return nil
}

// ---------------------------------------------------------------------------
// Events
// ---------------------------------------------------------------------------

// AppendEvent adds an entry to the event log and returns its id.
func (s *Store) AppendEvent(rec model.EventRecord) (int64, error) {
	var id int64
	err := retryOnContention(func() error {
		res, err := s.db.Exec(
			`INSERT INTO events (kind, entity, entity_id, payload, created_at) VALUES (?, ?, ?, ?, ?)`,
			rec.Kind, rec.Entity, rec.EntityID, rec.Payload, formatTime(rec.CreatedAt),
		)
		if err != nil {
			return err
		}
		id, err = res.LastInsertId()
		return err
	})
	if err != nil {
		return 0, errors.NewStoreError("append event", err)
	}
	return id, nil
}

// ListEvents returns events with id > sinceID in insertion order.
func (s *Store) ListEvents(sinceID int64, limit int) ([]model.EventRecord, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.Query(
		`SELECT id, kind, COALESCE(entity, ''), entity_id, payload, created_at
		 FROM events WHERE id > ? ORDER BY id ASC LIMIT ?`,
		sinceID, limit,
	)
	if err != nil {
		return nil, errors.NewStoreError("list events", err)
	}
	defer rows.Close()

	var events []model.EventRecord
	for rows.Next() {
		var e model.EventRecord
		var created string
		if err := rows.Scan(&e.ID, &e.Kind, &e.Entity, &e.EntityID, &e.Payload, &created); err != nil {
			return nil, errors.NewStoreError("list events", err)
		}
		if e.CreatedAt, err = parseTime(created); err != nil {
			return nil, errors.NewStoreError("list events", err)
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

// CountEvents returns the number of logged events.
func (s *Store) CountEvents() int64 {
	var n int64
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM events`).Scan(&n); err != nil {
		return 0
	}
	return n
}

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

type scanner interface {
	Scan(dest ...any) error
}

// timeLayout is fixed width so that text ordering matches time ordering.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func formatTime(t time.Time) string {
	if t.IsZero() {
		t = time.Now()
	}
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	return time.Parse(timeLayout, s)
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
