package order

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"
)

// MemoryStore is an in-memory order store for demo/development mode.
type MemoryStore struct {
	orders map[int64]*Order
	nextID int64
	mu     sync.RWMutex
}

// NewMemoryStore creates a new in-memory order store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		orders: make(map[int64]*Order),
		nextID: 1,
	}
}

func (m *MemoryStore) Create(ctx context.Context, o *Order) error {
	if len(o.Items) == 0 {
		return ErrEmptyOrder
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now().UTC()
	o.ID = m.nextID
	m.nextID++
	o.CreatedAt = now
	o.UpdatedAt = now
	if o.Status == "" {
		o.Status = StatusCreated
	}
	m.orders[o.ID] = copyOrder(o)
	return nil
}

func (m *MemoryStore) Get(ctx context.Context, id int64) (*Order, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	o, ok := m.orders[id]
	if !ok {
		return nil, ErrOrderNotFound
	}
	return copyOrder(o), nil
}

func (m *MemoryStore) GetByContract(ctx context.Context, contractAddr string) (*Order, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, o := range m.orders {
		if strings.EqualFold(o.ContractAddr, contractAddr) && o.ContractAddr != "" {
			return copyOrder(o), nil
		}
	}
	return nil, ErrOrderNotFound
}

func (m *MemoryStore) ListByCustomer(ctx context.Context, customerEmail string) ([]*Order, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []*Order
	for _, o := range m.orders {
		if o.CustomerEmail == customerEmail {
			result = append(result, copyOrder(o))
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})
	return result, nil
}

func (m *MemoryStore) ListByStatus(ctx context.Context, status Status, limit int) ([]*Order, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []*Order
	for _, o := range m.orders {
		if o.Status == status {
			result = append(result, copyOrder(o))
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.Before(result[j].CreatedAt)
	})
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (m *MemoryStore) UpdateStatus(ctx context.Context, id int64, from, to Status) error {
	if !CanAdvance(from, to) {
		return ErrStatusConflict
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	o, ok := m.orders[id]
	if !ok {
		return ErrOrderNotFound
	}
	if o.Status != from {
		return ErrStatusConflict
	}
	o.Status = to
	o.UpdatedAt = time.Now().UTC()
	return nil
}

func (m *MemoryStore) SetContract(ctx context.Context, id int64, contractAddr string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	o, ok := m.orders[id]
	if !ok {
		return ErrOrderNotFound
	}
	if o.ContractAddr != "" {
		return ErrContractConflict
	}
	o.ContractAddr = contractAddr
	o.UpdatedAt = time.Now().UTC()
	return nil
}

func (m *MemoryStore) SetCourier(ctx context.Context, id int64, courierEmail, courierAddr string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	o, ok := m.orders[id]
	if !ok {
		return ErrOrderNotFound
	}
	if courierEmail != "" {
		o.CourierEmail = courierEmail
	}
	o.CourierAddr = courierAddr
	o.UpdatedAt = time.Now().UTC()
	return nil
}

func (m *MemoryStore) ListUnfinished(ctx context.Context, limit int) ([]*Order, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []*Order
	for _, o := range m.orders {
		if o.Status != StatusComplete && o.ContractAddr != "" {
			result = append(result, copyOrder(o))
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.Before(result[j].CreatedAt)
	})
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

// copyOrder returns a deep copy to prevent races on the shared pointer.
// Shallow copy shares the Items backing array, so an append on the copy
// can mutate the stored order.
func copyOrder(o *Order) *Order {
	cp := *o
	if o.Items != nil {
		cp.Items = make([]Item, len(o.Items))
		copy(cp.Items, o.Items)
	}
	return &cp
}
