// Package catalog manages the product and category inventory.
//
// Products arrive in bulk through CSV import, each line carrying its
// category list, name, and price. Search and sales statistics read
// from the same tables the order ledger writes.
package catalog

import (
	"context"
	"errors"
	"fmt"
)

var (
	ErrProductNotFound = errors.New("product not found")
)

// ProductExistsError reports a duplicate product name during import.
type ProductExistsError struct {
	Name string
}

func (e *ProductExistsError) Error() string {
	return fmt.Sprintf("product %s already exists", e.Name)
}

// Product is a purchasable catalog entry.
type Product struct {
	ID         int64    `json:"id"`
	Name       string   `json:"name"`
	Price      string   `json:"price"` // Decimal string, e.g. "10.00"
	Categories []string `json:"categories"`
}

// SearchResult holds matching categories and products.
type SearchResult struct {
	Categories []string  `json:"categories"`
	Products   []Product `json:"products"`
}

// ProductStat summarizes sold and waiting quantities for one product.
// Sold counts completed orders; waiting counts everything else.
type ProductStat struct {
	Name    string `json:"name"`
	Sold    int64  `json:"sold"`
	Waiting int64  `json:"waiting"`
}

// Store persists catalog data.
type Store interface {
	// AddProducts inserts products, creating missing categories.
	// The whole batch fails on the first duplicate name.
	AddProducts(ctx context.Context, products []*Product) error

	Get(ctx context.Context, id int64) (*Product, error)

	// Search returns products whose names contain name and categories
	// whose names contain category, each filter narrowing the other
	// side's join. Both filters empty yields an empty result.
	Search(ctx context.Context, name, category string) (*SearchResult, error)

	// ProductStats returns per-product sold/waiting quantities,
	// omitting products that were never ordered.
	ProductStats(ctx context.Context) ([]ProductStat, error)

	// CategoryStats returns all category names ordered by delivered
	// quantity descending, then name ascending.
	CategoryStats(ctx context.Context) ([]string, error)
}
