package repository

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"station-system/internal/domain"
	"station-system/internal/outbox"
)

//go:embed schema.sql
var Schema string

const changesChannel = "order_changes"

type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type Postgres struct {
	pool *pgxpool.Pool
}

func NewPostgres(pool *pgxpool.Pool) *Postgres { return &Postgres{pool: pool} }

// Migrate applies the schema. Every statement is idempotent.
func (p *Postgres) Migrate(ctx context.Context) error {
	if _, err := p.pool.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

// ---- transactions ----

func (p *Postgres) InTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	tx, err := p.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := fn(ctx, &pgTx{tx: tx}); err != nil {
		return mapPgError(err)
	}
	if err := tx.Commit(ctx); err != nil {
		return mapPgError(fmt.Errorf("commit: %w", err))
	}
	return nil
}

// mapPgError turns serialization failures and deadlocks into ErrConflict so
// the caller retries them like a lost version check.
func mapPgError(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "40001", "40P01":
			return fmt.Errorf("%s: %w", pgErr.Message, domain.ErrConflict)
		case "23505":
			return fmt.Errorf("%s: %w", pgErr.Message, domain.ErrPreconditionFailed)
		}
	}
	return err
}

type pgTx struct {
	tx pgx.Tx
}

func (t *pgTx) GetOrder(ctx context.Context, id string) (domain.Order, error) {
	return loadOrder(ctx, t.tx, id)
}

func (t *pgTx) InsertOrder(ctx context.Context, o domain.Order) error {
	if _, err := t.tx.Exec(ctx, `
		INSERT INTO orders (id, table_number, status, version, created_at, updated_at)
		VALUES ($1, $2, $3, 1, now(), now())
	`, o.ID, o.TableNumber, string(o.Status)); err != nil {
		return fmt.Errorf("insert order %s: %w", o.ID, err)
	}

	batch := &pgx.Batch{}
	for i, line := range o.Items {
		customizations := line.Customizations
		if customizations == nil {
			customizations = []string{}
		}
		batch.Queue(`
			INSERT INTO order_items (order_id, position, name, quantity, unit_price, customizations)
			VALUES ($1, $2, $3, $4, $5::numeric, $6)
		`, o.ID, i, line.Name, line.Quantity, line.UnitPrice.String(), customizations)
	}
	if err := t.tx.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("insert order items %s: %w", o.ID, err)
	}
	if err := t.insertPrepared(ctx, o); err != nil {
		return err
	}
	return t.notify(ctx, o.ID)
}

func (t *pgTx) UpdateOrder(ctx context.Context, o domain.Order) error {
	tag, err := t.tx.Exec(ctx, `
		UPDATE orders SET status=$2, version=version+1, updated_at=now()
		WHERE id=$1 AND version=$3
	`, o.ID, string(o.Status), o.Version)
	if err != nil {
		return fmt.Errorf("update order %s: %w", o.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("order %s version %d: %w", o.ID, o.Version, domain.ErrConflict)
	}
	if err := t.insertPrepared(ctx, o); err != nil {
		return err
	}
	return t.notify(ctx, o.ID)
}

func (t *pgTx) insertPrepared(ctx context.Context, o domain.Order) error {
	batch := &pgx.Batch{}
	for st, names := range o.Prepared {
		for _, name := range names {
			batch.Queue(`
				INSERT INTO order_prepared_items (order_id, station, item_name)
				VALUES ($1, $2, $3) ON CONFLICT DO NOTHING
			`, o.ID, string(st), name)
		}
	}
	if batch.Len() == 0 {
		return nil
	}
	if err := t.tx.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("insert prepared items %s: %w", o.ID, err)
	}
	return nil
}

func (t *pgTx) DeleteOrder(ctx context.Context, o domain.Order) error {
	tag, err := t.tx.Exec(ctx, `DELETE FROM orders WHERE id=$1 AND version=$2`, o.ID, o.Version)
	if err != nil {
		return fmt.Errorf("delete order %s: %w", o.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("order %s version %d: %w", o.ID, o.Version, domain.ErrConflict)
	}
	return t.notify(ctx, o.ID)
}

func (t *pgTx) GetInventory(ctx context.Context, ids []string) (map[string]domain.InventoryItem, error) {
	rows, err := t.tx.Query(ctx, `
		SELECT id, name, stock::text, unit, min_threshold::text, version
		FROM inventory WHERE id = ANY($1)
	`, ids)
	if err != nil {
		return nil, fmt.Errorf("read inventory: %w", err)
	}
	items, err := scanInventory(rows)
	if err != nil {
		return nil, err
	}
	out := make(map[string]domain.InventoryItem, len(items))
	for _, it := range items {
		out[it.ID] = it
	}
	for _, id := range ids {
		if _, ok := out[id]; !ok {
			return nil, fmt.Errorf("inventory item %s: %w", id, domain.ErrNotFound)
		}
	}
	return out, nil
}

func (t *pgTx) UpdateInventory(ctx context.Context, item domain.InventoryItem) error {
	tag, err := t.tx.Exec(ctx, `
		UPDATE inventory SET stock=$2::numeric, version=version+1
		WHERE id=$1 AND version=$3
	`, item.ID, item.Stock.String(), item.Version)
	if err != nil {
		return fmt.Errorf("update inventory %s: %w", item.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("inventory %s version %d: %w", item.ID, item.Version, domain.ErrConflict)
	}
	return nil
}

func (t *pgTx) AppendStatus(ctx context.Context, c domain.StatusChange) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO order_status_log (order_id, status, changed_by, changed_at, notes)
		VALUES ($1, $2, $3, $4, $5)
	`, c.OrderID, string(c.Status), c.ChangedBy, c.ChangedAt, c.Notes)
	return err
}

func (t *pgTx) Enqueue(ctx context.Context, ev outbox.Event) error {
	headers := ev.Headers
	if headers == nil {
		headers = map[string]string{}
	}
	_, err := t.tx.Exec(ctx, `
		INSERT INTO outbox (aggregate_id, type, payload, headers, status)
		VALUES ($1, $2, $3, $4, 'pending')
	`, ev.AggregateID, ev.Type, ev.Payload, headers)
	return err
}

func (t *pgTx) notify(ctx context.Context, id string) error {
	_, err := t.tx.Exec(ctx, `SELECT pg_notify($1, $2)`, changesChannel, id)
	return err
}

// ---- reads ----

func loadOrder(ctx context.Context, q querier, id string) (domain.Order, error) {
	var (
		o      domain.Order
		status string
	)
	err := q.QueryRow(ctx, `
		SELECT id, table_number, status, version, created_at, updated_at
		FROM orders WHERE id=$1
	`, id).Scan(&o.ID, &o.TableNumber, &status, &o.Version, &o.CreatedAt, &o.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Order{}, fmt.Errorf("order %s: %w", id, domain.ErrNotFound)
	}
	if err != nil {
		return domain.Order{}, fmt.Errorf("read order %s: %w", id, err)
	}
	o.Status = domain.OrderStatus(status)

	rows, err := q.Query(ctx, `
		SELECT name, quantity, unit_price::text, customizations
		FROM order_items WHERE order_id=$1 ORDER BY position
	`, id)
	if err != nil {
		return domain.Order{}, fmt.Errorf("read order items %s: %w", id, err)
	}
	for rows.Next() {
		var (
			line  domain.OrderLine
			price string
		)
		if err := rows.Scan(&line.Name, &line.Quantity, &price, &line.Customizations); err != nil {
			rows.Close()
			return domain.Order{}, err
		}
		if line.UnitPrice, err = decimal.NewFromString(price); err != nil {
			rows.Close()
			return domain.Order{}, err
		}
		o.Items = append(o.Items, line)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return domain.Order{}, err
	}

	rows, err = q.Query(ctx, `
		SELECT station, item_name FROM order_prepared_items
		WHERE order_id=$1 ORDER BY station, item_name
	`, id)
	if err != nil {
		return domain.Order{}, fmt.Errorf("read prepared items %s: %w", id, err)
	}
	defer rows.Close()
	o.Prepared = make(map[domain.Station][]string)
	for rows.Next() {
		var st, name string
		if err := rows.Scan(&st, &name); err != nil {
			return domain.Order{}, err
		}
		o.Prepared[domain.Station(st)] = append(o.Prepared[domain.Station(st)], name)
	}
	return o, rows.Err()
}

func scanInventory(rows pgx.Rows) ([]domain.InventoryItem, error) {
	defer rows.Close()
	var out []domain.InventoryItem
	for rows.Next() {
		var (
			it               domain.InventoryItem
			stock, threshold string
		)
		if err := rows.Scan(&it.ID, &it.Name, &stock, &it.Unit, &threshold, &it.Version); err != nil {
			return nil, err
		}
		var err error
		if it.Stock, err = decimal.NewFromString(stock); err != nil {
			return nil, err
		}
		if it.MinThreshold, err = decimal.NewFromString(threshold); err != nil {
			return nil, err
		}
		out = append(out, it)
	}
	return out, rows.Err()
}

func (p *Postgres) GetOrder(ctx context.Context, id string) (domain.Order, error) {
	return loadOrder(ctx, p.pool, id)
}

func (p *Postgres) ListActiveOrders(ctx context.Context) ([]domain.Order, error) {
	rows, err := p.pool.Query(ctx, `
		SELECT id FROM orders WHERE status IN ('placed','preparing')
		ORDER BY created_at, id
	`)
	if err != nil {
		return nil, err
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, err
	}
	out := make([]domain.Order, 0, len(ids))
	for _, id := range ids {
		o, err := loadOrder(ctx, p.pool, id)
		if errors.Is(err, domain.ErrNotFound) {
			continue // cancelled between the two reads
		}
		if err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, nil
}

func (p *Postgres) Timeline(ctx context.Context, id string, limit, offset int) ([]domain.StatusChange, error) {
	rows, err := p.pool.Query(ctx, `
		SELECT order_id, status, changed_by, changed_at, notes
		FROM order_status_log WHERE order_id=$1
		ORDER BY changed_at, id
		LIMIT $2 OFFSET $3
	`, id, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []domain.StatusChange
	for rows.Next() {
		var (
			c      domain.StatusChange
			status string
		)
		if err := rows.Scan(&c.OrderID, &status, &c.ChangedBy, &c.ChangedAt, &c.Notes); err != nil {
			return nil, err
		}
		c.Status = domain.OrderStatus(status)
		out = append(out, c)
	}
	return out, rows.Err()
}

func (p *Postgres) InventoryItem(ctx context.Context, id string) (domain.InventoryItem, error) {
	rows, err := p.pool.Query(ctx, `
		SELECT id, name, stock::text, unit, min_threshold::text, version
		FROM inventory WHERE id=$1
	`, id)
	if err != nil {
		return domain.InventoryItem{}, err
	}
	items, err := scanInventory(rows)
	if err != nil {
		return domain.InventoryItem{}, err
	}
	if len(items) == 0 {
		return domain.InventoryItem{}, fmt.Errorf("inventory item %s: %w", id, domain.ErrNotFound)
	}
	return items[0], nil
}

func (p *Postgres) ListInventory(ctx context.Context) ([]domain.InventoryItem, error) {
	rows, err := p.pool.Query(ctx, `
		SELECT id, name, stock::text, unit, min_threshold::text, version
		FROM inventory ORDER BY id
	`)
	if err != nil {
		return nil, err
	}
	return scanInventory(rows)
}

func (p *Postgres) MenuItem(ctx context.Context, name string) (domain.MenuItem, error) {
	var (
		it    domain.MenuItem
		price string
	)
	err := p.pool.QueryRow(ctx, `SELECT name, category, price::text FROM menu_items WHERE name=$1`, name).
		Scan(&it.Name, &it.Category, &price)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.MenuItem{}, fmt.Errorf("menu item %q: %w", name, domain.ErrNotFound)
	}
	if err != nil {
		return domain.MenuItem{}, err
	}
	if it.Price, err = decimal.NewFromString(price); err != nil {
		return domain.MenuItem{}, err
	}

	rows, err := p.pool.Query(ctx, `
		SELECT ingredient_id, quantity_per_unit::text FROM recipe_entries
		WHERE menu_item=$1 ORDER BY position
	`, name)
	if err != nil {
		return domain.MenuItem{}, err
	}
	defer rows.Close()
	for rows.Next() {
		var (
			e   domain.RecipeEntry
			qty string
		)
		if err := rows.Scan(&e.IngredientID, &qty); err != nil {
			return domain.MenuItem{}, err
		}
		if e.QuantityPerUnit, err = decimal.NewFromString(qty); err != nil {
			return domain.MenuItem{}, err
		}
		it.Recipe = append(it.Recipe, e)
	}
	return it, rows.Err()
}

func (p *Postgres) OccupyTable(ctx context.Context, number int) error {
	_, err := p.pool.Exec(ctx, `
		INSERT INTO restaurant_tables (number, occupied) VALUES ($1, true)
		ON CONFLICT (number) DO UPDATE SET occupied=true
	`, number)
	return err
}

func (p *Postgres) ReleaseTable(ctx context.Context, number int) error {
	_, err := p.pool.Exec(ctx, `UPDATE restaurant_tables SET occupied=false WHERE number=$1`, number)
	return err
}

// PutMenuItem upserts a menu item and replaces its recipe.
func (p *Postgres) PutMenuItem(ctx context.Context, item domain.MenuItem) error {
	return pgx.BeginFunc(ctx, p.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `
			INSERT INTO menu_items (name, category, price) VALUES ($1, $2, $3::numeric)
			ON CONFLICT (name) DO UPDATE SET category=$2, price=$3::numeric
		`, item.Name, item.Category, item.Price.String()); err != nil {
			return err
		}
		if _, err := tx.Exec(ctx, `DELETE FROM recipe_entries WHERE menu_item=$1`, item.Name); err != nil {
			return err
		}
		for i, e := range item.Recipe {
			if _, err := tx.Exec(ctx, `
				INSERT INTO recipe_entries (menu_item, position, ingredient_id, quantity_per_unit)
				VALUES ($1, $2, $3, $4::numeric)
			`, item.Name, i, e.IngredientID, e.QuantityPerUnit.String()); err != nil {
				return err
			}
		}
		return nil
	})
}

func (p *Postgres) PutInventoryItem(ctx context.Context, item domain.InventoryItem) error {
	_, err := p.pool.Exec(ctx, `
		INSERT INTO inventory (id, name, stock, unit, min_threshold)
		VALUES ($1, $2, $3::numeric, $4, $5::numeric)
		ON CONFLICT (id) DO UPDATE SET name=$2, stock=$3::numeric, unit=$4,
			min_threshold=$5::numeric, version=inventory.version+1
	`, item.ID, item.Name, item.Stock.String(), item.Unit, item.MinThreshold.String())
	return err
}

// ---- change feed ----

func (p *Postgres) Subscribe(ctx context.Context) (<-chan struct{}, error) {
	conn, err := p.pool.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	if _, err := conn.Exec(ctx, "LISTEN "+changesChannel); err != nil {
		conn.Release()
		return nil, err
	}
	ch := make(chan struct{}, 1)
	go func() {
		defer close(ch)
		defer conn.Release()
		for {
			if _, err := conn.Conn().WaitForNotification(ctx); err != nil {
				return
			}
			select {
			case ch <- struct{}{}:
			default:
			}
		}
	}()
	return ch, nil
}

// ---- outbox ----

func (p *Postgres) LockBatch(ctx context.Context, relayID string, batchSize int, lease time.Duration) ([]outbox.Event, error) {
	tx, err := p.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	rows, err := tx.Query(ctx, `
		SELECT id, aggregate_id, type, payload, headers, created_at, retry_count
		FROM outbox
		WHERE status = 'pending'
		   OR (status = 'failed' AND retry_count < $2)
		   OR (status = 'in_progress' AND lease_until < now())
		ORDER BY id
		FOR UPDATE SKIP LOCKED
		LIMIT $1
	`, batchSize, outbox.MaxAttempts)
	if err != nil {
		return nil, err
	}
	var events []outbox.Event
	for rows.Next() {
		var ev outbox.Event
		if err := rows.Scan(&ev.ID, &ev.AggregateID, &ev.Type, &ev.Payload, &ev.Headers, &ev.CreatedAt, &ev.RetryCount); err != nil {
			rows.Close()
			return nil, err
		}
		ev.Status = outbox.StatusInProgress
		events = append(events, ev)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(events) == 0 {
		return nil, tx.Commit(ctx)
	}

	ids := make([]int64, 0, len(events))
	for _, ev := range events {
		ids = append(ids, ev.ID)
	}
	if _, err := tx.Exec(ctx, `
		UPDATE outbox SET status='in_progress', relay_id=$1, lease_until=now() + make_interval(secs => $2)
		WHERE id = ANY($3)
	`, relayID, lease.Seconds(), ids); err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return events, nil
}

func (p *Postgres) MarkSent(ctx context.Context, ids []int64) error {
	_, err := p.pool.Exec(ctx, `UPDATE outbox SET status='sent' WHERE id = ANY($1)`, ids)
	return err
}

func (p *Postgres) MarkFailed(ctx context.Context, id int64, errMsg string) error {
	_, err := p.pool.Exec(ctx, `
		UPDATE outbox SET status='failed', last_error=$2, retry_count=retry_count+1 WHERE id=$1
	`, id, errMsg)
	return err
}
