package catalog

import (
	"context"
	"database/sql"
	"strconv"

	"github.com/lib/pq"
)

// PostgresStore persists catalog data in PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL-backed catalog store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (p *PostgresStore) AddProducts(ctx context.Context, products []*Product) error {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	for _, product := range products {
		var exists bool
		if err := tx.QueryRowContext(ctx,
			`SELECT EXISTS(SELECT 1 FROM products WHERE name = $1)`, product.Name).Scan(&exists); err != nil {
			return err
		}
		if exists {
			return &ProductExistsError{Name: product.Name}
		}

		err = tx.QueryRowContext(ctx, `
			INSERT INTO products (name, price) VALUES ($1, $2::NUMERIC(20,2))
			RETURNING id`, product.Name, product.Price).Scan(&product.ID)
		if err != nil {
			if pqErr, ok := err.(*pq.Error); ok && pqErr.Code.Name() == "unique_violation" {
				return &ProductExistsError{Name: product.Name}
			}
			return err
		}

		for _, category := range product.Categories {
			var categoryID int64
			err = tx.QueryRowContext(ctx, `
				INSERT INTO categories (name) VALUES ($1)
				ON CONFLICT (name) DO UPDATE SET name = EXCLUDED.name
				RETURNING id`, category).Scan(&categoryID)
			if err != nil {
				return err
			}
			_, err = tx.ExecContext(ctx, `
				INSERT INTO product_categories (product_id, category_id)
				VALUES ($1, $2) ON CONFLICT DO NOTHING`, product.ID, categoryID)
			if err != nil {
				return err
			}
		}
	}

	return tx.Commit()
}

func (p *PostgresStore) Get(ctx context.Context, id int64) (*Product, error) {
	var product Product
	err := p.db.QueryRowContext(ctx,
		`SELECT id, name, price FROM products WHERE id = $1`, id).
		Scan(&product.ID, &product.Name, &product.Price)
	if err == sql.ErrNoRows {
		return nil, ErrProductNotFound
	}
	if err != nil {
		return nil, err
	}
	if err := p.loadCategories(ctx, &product); err != nil {
		return nil, err
	}
	return &product, nil
}

func (p *PostgresStore) Search(ctx context.Context, name, category string) (*SearchResult, error) {
	result := &SearchResult{Categories: []string{}, Products: []Product{}}
	if name == "" && category == "" {
		return result, nil
	}

	productQuery := `
		SELECT DISTINCT p.id, p.name, p.price
		FROM products p`
	var productArgs []interface{}
	where := ` WHERE 1=1`
	if category != "" {
		productQuery += `
		JOIN product_categories pc ON pc.product_id = p.id
		JOIN categories c ON c.id = pc.category_id`
		productArgs = append(productArgs, "%"+category+"%")
		where += ` AND c.name ILIKE $` + strconv.Itoa(len(productArgs))
	}
	if name != "" {
		productArgs = append(productArgs, "%"+name+"%")
		where += ` AND p.name ILIKE $` + strconv.Itoa(len(productArgs))
	}
	productQuery += where + ` ORDER BY p.id`

	rows, err := p.db.QueryContext(ctx, productQuery, productArgs...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var product Product
		if err := rows.Scan(&product.ID, &product.Name, &product.Price); err != nil {
			return nil, err
		}
		result.Products = append(result.Products, product)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for i := range result.Products {
		if err := p.loadCategories(ctx, &result.Products[i]); err != nil {
			return nil, err
		}
	}

	categoryQuery := `
		SELECT DISTINCT c.id, c.name
		FROM categories c`
	var categoryArgs []interface{}
	where = ` WHERE 1=1`
	if name != "" {
		categoryQuery += `
		JOIN product_categories pc ON pc.category_id = c.id
		JOIN products p ON p.id = pc.product_id`
		categoryArgs = append(categoryArgs, "%"+name+"%")
		where += ` AND p.name ILIKE $` + strconv.Itoa(len(categoryArgs))
	}
	if category != "" {
		categoryArgs = append(categoryArgs, "%"+category+"%")
		where += ` AND c.name ILIKE $` + strconv.Itoa(len(categoryArgs))
	}
	categoryQuery += where + ` ORDER BY c.id`

	catRows, err := p.db.QueryContext(ctx, categoryQuery, categoryArgs...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = catRows.Close() }()

	for catRows.Next() {
		var id int64
		var catName string
		if err := catRows.Scan(&id, &catName); err != nil {
			return nil, err
		}
		result.Categories = append(result.Categories, catName)
	}
	return result, catRows.Err()
}

func (p *PostgresStore) ProductStats(ctx context.Context) ([]ProductStat, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT p.name,
		       COALESCE(SUM(CASE WHEN o.status = 'COMPLETE' THEN oi.quantity ELSE 0 END), 0) AS sold,
		       COALESCE(SUM(CASE WHEN o.status <> 'COMPLETE' THEN oi.quantity ELSE 0 END), 0) AS waiting
		FROM products p
		JOIN order_items oi ON oi.product_id = p.id
		JOIN orders o ON o.id = oi.order_id
		GROUP BY p.id, p.name
		HAVING SUM(oi.quantity) > 0
		ORDER BY p.id`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var stats []ProductStat
	for rows.Next() {
		var s ProductStat
		if err := rows.Scan(&s.Name, &s.Sold, &s.Waiting); err != nil {
			return nil, err
		}
		stats = append(stats, s)
	}
	return stats, rows.Err()
}

func (p *PostgresStore) CategoryStats(ctx context.Context) ([]string, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT c.name
		FROM categories c
		LEFT JOIN product_categories pc ON pc.category_id = c.id
		LEFT JOIN products p ON p.id = pc.product_id
		LEFT JOIN order_items oi ON oi.product_id = p.id
		LEFT JOIN orders o ON o.id = oi.order_id
		GROUP BY c.id, c.name
		ORDER BY COALESCE(SUM(CASE WHEN o.status = 'COMPLETE' THEN oi.quantity ELSE 0 END), 0) DESC,
		         c.name ASC`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

func (p *PostgresStore) loadCategories(ctx context.Context, product *Product) error {
	rows, err := p.db.QueryContext(ctx, `
		SELECT c.name
		FROM categories c
		JOIN product_categories pc ON pc.category_id = c.id
		WHERE pc.product_id = $1
		ORDER BY c.name`, product.ID)
	if err != nil {
		return err
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return err
		}
		product.Categories = append(product.Categories, name)
	}
	return rows.Err()
}
