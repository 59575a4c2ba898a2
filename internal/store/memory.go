package store

import (
	"context"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/opensqt/perpcore/internal/core"
)

// MemoryStore is an in-process core.PersistentStore used by tests; it has
// no crash-recovery properties and exists purely to exercise dispatcher,
// strategy and reconcile logic without a filesystem dependency.
type MemoryStore struct {
	mu        sync.Mutex
	signals   []core.SignalRecord
	orders    []core.OrderRecord
	snapshots []core.EquitySnapshot
	nextID    int64
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (m *MemoryStore) InsertSignal(ctx context.Context, rec core.SignalRecord) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	rec.ID = m.nextID
	rec.CreatedAt = time.Now()
	m.signals = append(m.signals, rec)
	return rec.ID, nil
}

func (m *MemoryStore) HasSignal(ctx context.Context, alertID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range m.signals {
		if s.AlertID == alertID {
			return true, nil
		}
	}
	return false, nil
}

func (m *MemoryStore) InsertOrder(ctx context.Context, rec core.OrderRecord) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	rec.ID = m.nextID
	rec.CreatedAt = time.Now()
	m.orders = append(m.orders, rec)
	return rec.ID, nil
}

func (m *MemoryStore) UpdateOrderStatus(ctx context.Context, id int64, status core.OrderStatus, exchangeOrderID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.orders {
		if m.orders[i].ID == id {
			m.orders[i].Status = status
			if exchangeOrderID != "" {
				m.orders[i].ExchangeOrderID = exchangeOrderID
			}
			if status == core.OrderFilled {
				now := time.Now()
				m.orders[i].FilledAt = &now
			}
			return nil
		}
	}
	return nil
}

func (m *MemoryStore) GetPendingOrders(ctx context.Context) ([]core.OrderRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []core.OrderRecord
	for _, o := range m.orders {
		if o.Status == core.OrderPending {
			out = append(out, o)
		}
	}
	return out, nil
}

func (m *MemoryStore) GetRecentOrders(ctx context.Context, limit int) ([]core.OrderRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := len(m.orders)
	if limit > 0 && limit < n {
		return append([]core.OrderRecord{}, m.orders[n-limit:]...), nil
	}
	return append([]core.OrderRecord{}, m.orders...), nil
}

func (m *MemoryStore) InsertEquitySnapshot(ctx context.Context, snap core.EquitySnapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.snapshots = append(m.snapshots, snap)
	return nil
}

func (m *MemoryStore) GetTodayRealizedPnl(ctx context.Context, coin string) (decimal.Decimal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	total := decimal.Zero
	since := startOfDay()
	for _, o := range m.orders {
		if o.Coin != coin || o.Status != core.OrderFilled || o.Tag == core.TagEntry || o.CreatedAt.Before(since) {
			continue
		}
		signed := o.Size.Mul(o.Price)
		if o.Side == core.Sell {
			total = total.Add(signed)
		} else {
			total = total.Sub(signed)
		}
	}
	return total, nil
}

func (m *MemoryStore) GetTodayTradeCount(ctx context.Context, coin string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	since := startOfDay()
	count := 0
	for _, o := range m.orders {
		if o.Coin == coin && o.Tag == core.TagEntry && !o.CreatedAt.Before(since) {
			count++
		}
	}
	return count, nil
}

func (m *MemoryStore) GetTrailingStopOrder(ctx context.Context, coin string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := len(m.orders) - 1; i >= 0; i-- {
		o := m.orders[i]
		if o.Coin == coin && o.Tag == core.TagTrailingSL && o.Status == core.OrderPending {
			return o.ExchangeOrderID, o.ExchangeOrderID != "", nil
		}
	}
	return "", false, nil
}

func (m *MemoryStore) Close() error { return nil }

var _ core.PersistentStore = (*MemoryStore)(nil)
