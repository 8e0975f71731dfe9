package order

import (
	"context"
	"database/sql"
	"time"
)

// PostgresStore persists orders in PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL-backed order store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const orderColumns = `id, customer_email, customer_addr, courier_email, courier_addr,
		       contract_addr, total, status, created_at, updated_at`

func (p *PostgresStore) Create(ctx context.Context, o *Order) error {
	if len(o.Items) == 0 {
		return ErrEmptyOrder
	}

	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	now := time.Now().UTC()
	o.CreatedAt = now
	o.UpdatedAt = now
	if o.Status == "" {
		o.Status = StatusCreated
	}

	err = tx.QueryRowContext(ctx, `
		INSERT INTO orders (
			customer_email, customer_addr, courier_email, courier_addr,
			contract_addr, total, status, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6::NUMERIC(20,2), $7, $8, $9)
		RETURNING id`,
		o.CustomerEmail, o.CustomerAddr, nullString(o.CourierEmail), nullString(o.CourierAddr),
		nullString(o.ContractAddr), o.Total, string(o.Status), o.CreatedAt, o.UpdatedAt,
	).Scan(&o.ID)
	if err != nil {
		return err
	}

	for _, item := range o.Items {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO order_items (order_id, product_id, name, quantity, unit_price)
			VALUES ($1, $2, $3, $4, $5::NUMERIC(20,2))`,
			o.ID, item.ProductID, item.Name, item.Quantity, item.UnitPrice)
		if err != nil {
			return err
		}
	}

	return tx.Commit()
}

func (p *PostgresStore) Get(ctx context.Context, id int64) (*Order, error) {
	row := p.db.QueryRowContext(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = $1`, id)
	o, err := scanOrder(row)
	if err == sql.ErrNoRows {
		return nil, ErrOrderNotFound
	}
	if err != nil {
		return nil, err
	}
	if err := p.loadItems(ctx, o); err != nil {
		return nil, err
	}
	return o, nil
}

func (p *PostgresStore) GetByContract(ctx context.Context, contractAddr string) (*Order, error) {
	row := p.db.QueryRowContext(ctx, `SELECT `+orderColumns+` FROM orders WHERE contract_addr = $1`, contractAddr)
	o, err := scanOrder(row)
	if err == sql.ErrNoRows {
		return nil, ErrOrderNotFound
	}
	if err != nil {
		return nil, err
	}
	if err := p.loadItems(ctx, o); err != nil {
		return nil, err
	}
	return o, nil
}

func (p *PostgresStore) ListByCustomer(ctx context.Context, customerEmail string) ([]*Order, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT `+orderColumns+`
		FROM orders
		WHERE customer_email = $1
		ORDER BY created_at DESC`, customerEmail)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	return p.scanAndLoad(ctx, rows)
}

func (p *PostgresStore) ListByStatus(ctx context.Context, status Status, limit int) ([]*Order, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT `+orderColumns+`
		FROM orders
		WHERE status = $1
		ORDER BY created_at ASC
		LIMIT $2`, string(status), limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	return p.scanAndLoad(ctx, rows)
}

func (p *PostgresStore) UpdateStatus(ctx context.Context, id int64, from, to Status) error {
	if !CanAdvance(from, to) {
		return ErrStatusConflict
	}

	result, err := p.db.ExecContext(ctx, `
		UPDATE orders SET status = $1, updated_at = $2
		WHERE id = $3 AND status = $4`,
		string(to), time.Now().UTC(), id, string(from))
	if err != nil {
		return err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		// Distinguish a missing row from a lost race.
		var exists bool
		if err := p.db.QueryRowContext(ctx,
			`SELECT EXISTS(SELECT 1 FROM orders WHERE id = $1)`, id).Scan(&exists); err != nil {
			return err
		}
		if !exists {
			return ErrOrderNotFound
		}
		return ErrStatusConflict
	}
	return nil
}

func (p *PostgresStore) SetContract(ctx context.Context, id int64, contractAddr string) error {
	result, err := p.db.ExecContext(ctx, `
		UPDATE orders SET contract_addr = $1, updated_at = $2
		WHERE id = $3 AND contract_addr IS NULL`,
		contractAddr, time.Now().UTC(), id)
	if err != nil {
		return err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		var exists bool
		if err := p.db.QueryRowContext(ctx,
			`SELECT EXISTS(SELECT 1 FROM orders WHERE id = $1)`, id).Scan(&exists); err != nil {
			return err
		}
		if !exists {
			return ErrOrderNotFound
		}
		return ErrContractConflict
	}
	return nil
}

func (p *PostgresStore) SetCourier(ctx context.Context, id int64, courierEmail, courierAddr string) error {
	result, err := p.db.ExecContext(ctx, `
		UPDATE orders
		SET courier_email = COALESCE(NULLIF($1, ''), courier_email),
		    courier_addr = $2, updated_at = $3
		WHERE id = $4`,
		courierEmail, courierAddr, time.Now().UTC(), id)
	if err != nil {
		return err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrOrderNotFound
	}
	return nil
}

func (p *PostgresStore) ListUnfinished(ctx context.Context, limit int) ([]*Order, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT `+orderColumns+`
		FROM orders
		WHERE status <> 'COMPLETE' AND contract_addr IS NOT NULL
		ORDER BY created_at ASC
		LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	return p.scanAndLoad(ctx, rows)
}

func (p *PostgresStore) loadItems(ctx context.Context, o *Order) error {
	rows, err := p.db.QueryContext(ctx, `
		SELECT product_id, name, quantity, unit_price
		FROM order_items
		WHERE order_id = $1
		ORDER BY product_id`, o.ID)
	if err != nil {
		return err
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var item Item
		if err := rows.Scan(&item.ProductID, &item.Name, &item.Quantity, &item.UnitPrice); err != nil {
			return err
		}
		o.Items = append(o.Items, item)
	}
	return rows.Err()
}

func (p *PostgresStore) scanAndLoad(ctx context.Context, rows *sql.Rows) ([]*Order, error) {
	var orders []*Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		orders = append(orders, o)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for _, o := range orders {
		if err := p.loadItems(ctx, o); err != nil {
			return nil, err
		}
	}
	return orders, nil
}

type scannable interface {
	Scan(dest ...interface{}) error
}

func scanOrder(row scannable) (*Order, error) {
	var o Order
	var courierEmail, courierAddr, contractAddr sql.NullString
	var status string

	err := row.Scan(
		&o.ID, &o.CustomerEmail, &o.CustomerAddr, &courierEmail, &courierAddr,
		&contractAddr, &o.Total, &status, &o.CreatedAt, &o.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	o.CourierEmail = courierEmail.String
	o.CourierAddr = courierAddr.String
	o.ContractAddr = contractAddr.String
	o.Status = Status(status)
	return &o, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
