package catalog

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/mvasiljev/orderchain/internal/order"
)

// MemoryStore is an in-memory catalog store for demo/development mode.
// Statistics are computed from the order store it is paired with.
type MemoryStore struct {
	products map[int64]*Product
	nextID   int64
	orders   order.Store
	mu       sync.RWMutex
}

// NewMemoryStore creates a new in-memory catalog store. The order store
// may be nil when statistics are not needed.
func NewMemoryStore(orders order.Store) *MemoryStore {
	return &MemoryStore{
		products: make(map[int64]*Product),
		nextID:   1,
		orders:   orders,
	}
}

func (m *MemoryStore) AddProducts(ctx context.Context, products []*Product) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, product := range products {
		for _, existing := range m.products {
			if existing.Name == product.Name {
				return &ProductExistsError{Name: product.Name}
			}
		}
	}
	for _, product := range products {
		product.ID = m.nextID
		m.nextID++
		m.products[product.ID] = copyProduct(product)
	}
	return nil
}

func (m *MemoryStore) Get(ctx context.Context, id int64) (*Product, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	product, ok := m.products[id]
	if !ok {
		return nil, ErrProductNotFound
	}
	return copyProduct(product), nil
}

func (m *MemoryStore) Search(ctx context.Context, name, category string) (*SearchResult, error) {
	result := &SearchResult{Categories: []string{}, Products: []Product{}}
	if name == "" && category == "" {
		return result, nil
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	nameLower := strings.ToLower(name)
	categoryLower := strings.ToLower(category)

	var ids []int64
	for id := range m.products {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	categorySet := make(map[string]bool)
	for _, id := range ids {
		product := m.products[id]
		nameMatch := name == "" || strings.Contains(strings.ToLower(product.Name), nameLower)
		categoryMatch := category == ""
		for _, c := range product.Categories {
			if category != "" && strings.Contains(strings.ToLower(c), categoryLower) {
				categoryMatch = true
			}
		}
		if nameMatch && categoryMatch {
			result.Products = append(result.Products, *copyProduct(product))
		}

		// A category matches when its name contains the category filter
		// and, if a product filter is set, some matching product carries it.
		for _, c := range product.Categories {
			if category != "" && !strings.Contains(strings.ToLower(c), categoryLower) {
				continue
			}
			if name != "" && !strings.Contains(strings.ToLower(product.Name), nameLower) {
				continue
			}
			categorySet[c] = true
		}
	}

	for c := range categorySet {
		result.Categories = append(result.Categories, c)
	}
	sort.Strings(result.Categories)
	return result, nil
}

func (m *MemoryStore) ProductStats(ctx context.Context) ([]ProductStat, error) {
	sold, waiting, err := m.tallyQuantities(ctx)
	if err != nil {
		return nil, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	var ids []int64
	for id := range m.products {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	var stats []ProductStat
	for _, id := range ids {
		product := m.products[id]
		s, w := sold[id], waiting[id]
		if s+w == 0 {
			continue
		}
		stats = append(stats, ProductStat{Name: product.Name, Sold: s, Waiting: w})
	}
	return stats, nil
}

func (m *MemoryStore) CategoryStats(ctx context.Context) ([]string, error) {
	sold, _, err := m.tallyQuantities(ctx)
	if err != nil {
		return nil, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	delivered := make(map[string]int64)
	for id, product := range m.products {
		for _, c := range product.Categories {
			delivered[c] += sold[id]
		}
	}

	names := make([]string, 0, len(delivered))
	for name := range delivered {
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool {
		if delivered[names[i]] != delivered[names[j]] {
			return delivered[names[i]] > delivered[names[j]]
		}
		return names[i] < names[j]
	})
	return names, nil
}

// tallyQuantities sums ordered quantities per product, split by whether
// the order completed.
func (m *MemoryStore) tallyQuantities(ctx context.Context) (sold, waiting map[int64]int64, err error) {
	sold = make(map[int64]int64)
	waiting = make(map[int64]int64)
	if m.orders == nil {
		return sold, waiting, nil
	}

	for _, status := range []order.Status{order.StatusCreated, order.StatusPending, order.StatusComplete} {
		orders, err := m.orders.ListByStatus(ctx, status, 0)
		if err != nil {
			return nil, nil, err
		}
		for _, o := range orders {
			for _, item := range o.Items {
				if o.Status == order.StatusComplete {
					sold[item.ProductID] += item.Quantity
				} else {
					waiting[item.ProductID] += item.Quantity
				}
			}
		}
	}
	return sold, waiting, nil
}

func copyProduct(p *Product) *Product {
	cp := *p
	if p.Categories != nil {
		cp.Categories = make([]string, len(p.Categories))
		copy(cp.Categories, p.Categories)
	}
	return &cp
}
