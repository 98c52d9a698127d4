package repository

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"station-system/internal/domain"
	"station-system/internal/outbox"
)

// Memory is an in-process Store with optimistic concurrency: transactions
// read committed copies, stage their writes, and commit only if every
// written document still has the version that was read.
type Memory struct {
	mu        sync.RWMutex
	orders    map[string]domain.Order
	inventory map[string]domain.InventoryItem
	menu      map[string]domain.MenuItem
	tables    map[int]bool
	timeline  []domain.StatusChange
	events    []outbox.Event
	nextEvent int64

	subMu sync.Mutex
	subs  map[chan struct{}]struct{}

	// beforeCommit runs between staging and validation; tests use it to
	// interleave a competing commit.
	beforeCommit func()
}

func NewMemory() *Memory {
	return &Memory{
		orders:    make(map[string]domain.Order),
		inventory: make(map[string]domain.InventoryItem),
		menu:      make(map[string]domain.MenuItem),
		tables:    make(map[int]bool),
		subs:      make(map[chan struct{}]struct{}),
	}
}

func (m *Memory) PutMenuItem(item domain.MenuItem) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.menu[item.Name] = item
}

func (m *Memory) PutInventoryItem(item domain.InventoryItem) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.inventory[item.ID] = item
}

func (m *Memory) TableOccupied(number int) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.tables[number]
}

// ---- reads ----

func (m *Memory) GetOrder(_ context.Context, id string) (domain.Order, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	o, ok := m.orders[id]
	if !ok {
		return domain.Order{}, fmt.Errorf("order %s: %w", id, domain.ErrNotFound)
	}
	return o.Clone(), nil
}

func (m *Memory) ListActiveOrders(_ context.Context) ([]domain.Order, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]domain.Order, 0)
	for _, o := range m.orders {
		if o.Status.Active() {
			out = append(out, o.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (m *Memory) Timeline(_ context.Context, id string, limit, offset int) ([]domain.StatusChange, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var all []domain.StatusChange
	for _, c := range m.timeline {
		if c.OrderID == id {
			all = append(all, c)
		}
	}
	if offset >= len(all) {
		return nil, nil
	}
	all = all[offset:]
	if limit > 0 && limit < len(all) {
		all = all[:limit]
	}
	return all, nil
}

func (m *Memory) InventoryItem(_ context.Context, id string) (domain.InventoryItem, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	it, ok := m.inventory[id]
	if !ok {
		return domain.InventoryItem{}, fmt.Errorf("inventory item %s: %w", id, domain.ErrNotFound)
	}
	return it, nil
}

func (m *Memory) ListInventory(_ context.Context) ([]domain.InventoryItem, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]domain.InventoryItem, 0, len(m.inventory))
	for _, it := range m.inventory {
		out = append(out, it)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *Memory) MenuItem(_ context.Context, name string) (domain.MenuItem, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	it, ok := m.menu[name]
	if !ok {
		return domain.MenuItem{}, fmt.Errorf("menu item %q: %w", name, domain.ErrNotFound)
	}
	it.Recipe = append([]domain.RecipeEntry(nil), it.Recipe...)
	return it, nil
}

func (m *Memory) OccupyTable(_ context.Context, number int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tables[number] = true
	return nil
}

func (m *Memory) ReleaseTable(_ context.Context, number int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tables[number] = false
	return nil
}

// ---- change feed ----

func (m *Memory) Subscribe(ctx context.Context) (<-chan struct{}, error) {
	ch := make(chan struct{}, 1)
	m.subMu.Lock()
	m.subs[ch] = struct{}{}
	m.subMu.Unlock()
	go func() {
		<-ctx.Done()
		m.subMu.Lock()
		delete(m.subs, ch)
		close(ch)
		m.subMu.Unlock()
	}()
	return ch, nil
}

func (m *Memory) notify() {
	m.subMu.Lock()
	defer m.subMu.Unlock()
	for ch := range m.subs {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}

// ---- outbox ----

func (m *Memory) LockBatch(_ context.Context, _ string, batchSize int, _ time.Duration) ([]outbox.Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []outbox.Event
	for i := range m.events {
		if len(out) >= batchSize {
			break
		}
		e := &m.events[i]
		if e.Status == outbox.StatusPending || (e.Status == outbox.StatusFailed && e.RetryCount < outbox.MaxAttempts) {
			e.Status = outbox.StatusInProgress
			out = append(out, *e)
		}
	}
	return out, nil
}

func (m *Memory) MarkSent(_ context.Context, ids []int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, id := range ids {
		if e := m.event(id); e != nil {
			e.Status = outbox.StatusSent
		}
	}
	return nil
}

func (m *Memory) MarkFailed(_ context.Context, id int64, errMsg string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if e := m.event(id); e != nil {
		e.Status = outbox.StatusFailed
		e.RetryCount++
		e.LastError = &errMsg
	}
	return nil
}

func (m *Memory) event(id int64) *outbox.Event {
	for i := range m.events {
		if m.events[i].ID == id {
			return &m.events[i]
		}
	}
	return nil
}

// Events returns a copy of every outbox event, in commit order.
func (m *Memory) Events() []outbox.Event {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]outbox.Event(nil), m.events...)
}

// ---- transactions ----

func (m *Memory) InTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	tx := &memTx{
		m:        m,
		readOrd:  make(map[string]int64),
		orders:   make(map[string]domain.Order),
		inserted: make(map[string]bool),
		deleted:  make(map[string]int64),
		readInv:  make(map[string]int64),
		inv:      make(map[string]domain.InventoryItem),
	}
	if err := fn(ctx, tx); err != nil {
		return err
	}
	return tx.commit()
}

type memTx struct {
	m *Memory

	readOrd  map[string]int64
	orders   map[string]domain.Order
	inserted map[string]bool
	deleted  map[string]int64

	readInv map[string]int64
	inv     map[string]domain.InventoryItem

	logs   []domain.StatusChange
	events []outbox.Event
}

func (t *memTx) GetOrder(_ context.Context, id string) (domain.Order, error) {
	if _, gone := t.deleted[id]; gone {
		return domain.Order{}, fmt.Errorf("order %s: %w", id, domain.ErrNotFound)
	}
	if o, ok := t.orders[id]; ok {
		return o.Clone(), nil
	}
	t.m.mu.RLock()
	o, ok := t.m.orders[id]
	t.m.mu.RUnlock()
	if !ok {
		return domain.Order{}, fmt.Errorf("order %s: %w", id, domain.ErrNotFound)
	}
	t.readOrd[id] = o.Version
	return o.Clone(), nil
}

func (t *memTx) InsertOrder(_ context.Context, o domain.Order) error {
	if o.ID == "" {
		return fmt.Errorf("order id: %w", domain.ErrInvalidInput)
	}
	o = o.Clone()
	o.Version = 0
	t.orders[o.ID] = o
	t.inserted[o.ID] = true
	return nil
}

func (t *memTx) UpdateOrder(_ context.Context, o domain.Order) error {
	if seen, ok := t.readOrd[o.ID]; ok && seen != o.Version {
		return fmt.Errorf("order %s version %d, read %d: %w", o.ID, o.Version, seen, domain.ErrConflict)
	}
	if _, ok := t.readOrd[o.ID]; !ok && !t.inserted[o.ID] {
		t.readOrd[o.ID] = o.Version
	}
	t.orders[o.ID] = o.Clone()
	return nil
}

func (t *memTx) DeleteOrder(_ context.Context, o domain.Order) error {
	delete(t.orders, o.ID)
	t.deleted[o.ID] = o.Version
	return nil
}

func (t *memTx) GetInventory(_ context.Context, ids []string) (map[string]domain.InventoryItem, error) {
	out := make(map[string]domain.InventoryItem, len(ids))
	t.m.mu.RLock()
	defer t.m.mu.RUnlock()
	for _, id := range ids {
		if it, ok := t.inv[id]; ok {
			out[id] = it
			continue
		}
		it, ok := t.m.inventory[id]
		if !ok {
			return nil, fmt.Errorf("inventory item %s: %w", id, domain.ErrNotFound)
		}
		t.readInv[id] = it.Version
		out[id] = it
	}
	return out, nil
}

func (t *memTx) UpdateInventory(_ context.Context, item domain.InventoryItem) error {
	if seen, ok := t.readInv[item.ID]; ok && seen != item.Version {
		return fmt.Errorf("inventory %s version %d, read %d: %w", item.ID, item.Version, seen, domain.ErrConflict)
	}
	if _, ok := t.readInv[item.ID]; !ok {
		t.readInv[item.ID] = item.Version
	}
	t.inv[item.ID] = item
	return nil
}

func (t *memTx) AppendStatus(_ context.Context, c domain.StatusChange) error {
	t.logs = append(t.logs, c)
	return nil
}

func (t *memTx) Enqueue(_ context.Context, ev outbox.Event) error {
	t.events = append(t.events, ev)
	return nil
}

func (t *memTx) commit() error {
	if t.m.beforeCommit != nil {
		t.m.beforeCommit()
	}

	m := t.m
	m.mu.Lock()
	// validate the write set
	for id := range t.orders {
		cur, exists := m.orders[id]
		if t.inserted[id] {
			if exists {
				m.mu.Unlock()
				return fmt.Errorf("order %s already exists: %w", id, domain.ErrPreconditionFailed)
			}
			continue
		}
		if !exists || cur.Version != t.readOrd[id] {
			m.mu.Unlock()
			return fmt.Errorf("order %s changed concurrently: %w", id, domain.ErrConflict)
		}
	}
	for id, v := range t.deleted {
		cur, exists := m.orders[id]
		if !exists || cur.Version != v {
			m.mu.Unlock()
			return fmt.Errorf("order %s changed concurrently: %w", id, domain.ErrConflict)
		}
	}
	for id := range t.inv {
		cur, exists := m.inventory[id]
		if !exists || cur.Version != t.readInv[id] {
			m.mu.Unlock()
			return fmt.Errorf("inventory %s changed concurrently: %w", id, domain.ErrConflict)
		}
	}

	// apply
	now := time.Now().UTC()
	for id, o := range t.orders {
		if t.inserted[id] {
			o.Version = 1
			if o.CreatedAt.IsZero() {
				o.CreatedAt = now
			}
		} else {
			o.Version = m.orders[id].Version + 1
		}
		o.UpdatedAt = now
		m.orders[id] = o
	}
	for id := range t.deleted {
		delete(m.orders, id)
	}
	for id, it := range t.inv {
		it.Version = m.inventory[id].Version + 1
		m.inventory[id] = it
	}
	m.timeline = append(m.timeline, t.logs...)
	for _, ev := range t.events {
		m.nextEvent++
		ev.ID = m.nextEvent
		m.events = append(m.events, ev)
	}
	changed := len(t.orders) > 0 || len(t.deleted) > 0
	m.mu.Unlock()

	if changed {
		m.notify()
	}
	return nil
}
