package orders

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ariefcatur/go-saga-orders/internal/postgres"
)

// Repo is the Postgres order store. Idempotent creation relies on the
// unique external_id column.
type Repo struct{ DB *pgxpool.Pool }

func NewRepo(pool *pgxpool.Pool) *Repo { return &Repo{DB: pool} }

func (r *Repo) WithTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return postgres.WithTx(ctx, r.DB, fn)
}

const orderColumns = `id::text, order_number, COALESCE(external_id, ''), customer, shipping_address,
	subtotal, tax, shipping_cost, total, currency, status, payment_method, notes, cancel_reason,
	created_at, updated_at`

func (r *Repo) Create(ctx context.Context, o Order) error {
	customer, address, err := encodeJSON(o)
	if err != nil {
		return err
	}
	var externalID *string
	if o.ExternalID != "" {
		externalID = &o.ExternalID
	}

	return r.WithTx(ctx, func(ctx context.Context) error {
		conn := postgres.Conn(ctx, r.DB)
		_, err := conn.Exec(ctx, `
			INSERT INTO orders(id, order_number, external_id, customer, shipping_address,
				subtotal, tax, shipping_cost, total, currency, status, payment_method, notes, cancel_reason,
				created_at, updated_at)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16)`,
			o.ID, o.OrderNumber, externalID, customer, address,
			o.Subtotal, o.Tax, o.ShippingCost, o.Total, o.Currency, string(o.Status), o.PaymentMethod, o.Notes, o.CancelReason,
			o.CreatedAt, o.UpdatedAt)
		if postgres.IsUniqueViolation(err) {
			return ErrAlreadyExists
		}
		if err != nil {
			return fmt.Errorf("insert order: %w", err)
		}

		for i, it := range o.Items {
			if _, err := conn.Exec(ctx, `
				INSERT INTO order_items(order_id, line_no, product_id, product_name, quantity, unit_price, line_total)
				VALUES ($1,$2,$3,$4,$5,$6,$7)`,
				o.ID, i+1, it.ProductID, it.ProductName, it.Quantity, it.UnitPrice, it.LineTotal); err != nil {
				return fmt.Errorf("insert order item: %w", err)
			}
		}
		return nil
	})
}

func (r *Repo) Get(ctx context.Context, id string) (Order, error) {
	return r.getOne(ctx, `WHERE id = $1`, id)
}

func (r *Repo) GetForUpdate(ctx context.Context, id string) (Order, error) {
	return r.getOne(ctx, `WHERE id = $1 FOR UPDATE`, id)
}

func (r *Repo) GetByNumber(ctx context.Context, number string) (Order, error) {
	return r.getOne(ctx, `WHERE order_number = $1`, number)
}

func (r *Repo) GetByExternalID(ctx context.Context, externalID string) (Order, error) {
	return r.getOne(ctx, `WHERE external_id = $1`, externalID)
}

func (r *Repo) getOne(ctx context.Context, where string, arg string) (Order, error) {
	conn := postgres.Conn(ctx, r.DB)
	o, err := scanOrder(conn.QueryRow(ctx, `SELECT `+orderColumns+` FROM orders `+where, arg))
	if postgres.IsNoRows(err) {
		return Order{}, ErrNotFound
	}
	if err != nil {
		return Order{}, err
	}
	if o.Items, err = r.items(ctx, o.ID); err != nil {
		return Order{}, err
	}
	return o, nil
}

func (r *Repo) List(ctx context.Context, f ListFilter) ([]Order, error) {
	var (
		conds []string
		args  []any
	)
	if f.Status != "" {
		args = append(args, string(f.Status))
		conds = append(conds, fmt.Sprintf("status = $%d", len(args)))
	}
	if f.CustomerID != "" {
		args = append(args, f.CustomerID)
		conds = append(conds, fmt.Sprintf("customer->>'customerId' = $%d", len(args)))
	}
	q := `SELECT ` + orderColumns + ` FROM orders`
	if len(conds) > 0 {
		q += ` WHERE ` + strings.Join(conds, " AND ")
	}
	q += ` ORDER BY created_at DESC`
	if f.Limit > 0 {
		args = append(args, f.Limit)
		q += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	rows, err := postgres.Conn(ctx, r.DB).Query(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	var out []Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		out = append(out, o)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range out {
		if out[i].Items, err = r.items(ctx, out[i].ID); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func (r *Repo) Update(ctx context.Context, o Order) error {
	_, address, err := encodeJSON(o)
	if err != nil {
		return err
	}
	tag, err := postgres.Conn(ctx, r.DB).Exec(ctx, `
		UPDATE orders
		SET status = $2, shipping_address = $3, notes = $4, cancel_reason = $5, updated_at = $6
		WHERE id = $1`,
		o.ID, string(o.Status), address, o.Notes, o.CancelReason, o.UpdatedAt)
	if err != nil {
		return fmt.Errorf("update order: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *Repo) items(ctx context.Context, orderID string) ([]Item, error) {
	rows, err := postgres.Conn(ctx, r.DB).Query(ctx, `
		SELECT product_id, product_name, quantity, unit_price, line_total
		FROM order_items WHERE order_id = $1 ORDER BY line_no`, orderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Item
	for rows.Next() {
		var it Item
		if err := rows.Scan(&it.ProductID, &it.ProductName, &it.Quantity, &it.UnitPrice, &it.LineTotal); err != nil {
			return nil, err
		}
		out = append(out, it)
	}
	return out, rows.Err()
}

func scanOrder(row pgx.Row) (Order, error) {
	var (
		o                 Order
		status            string
		customer, address []byte
	)
	err := row.Scan(&o.ID, &o.OrderNumber, &o.ExternalID, &customer, &address,
		&o.Subtotal, &o.Tax, &o.ShippingCost, &o.Total, &o.Currency, &status, &o.PaymentMethod, &o.Notes, &o.CancelReason,
		&o.CreatedAt, &o.UpdatedAt)
	if err != nil {
		return Order{}, err
	}
	o.Status = Status(status)
	if err := json.Unmarshal(customer, &o.Customer); err != nil {
		return Order{}, fmt.Errorf("decode customer: %w", err)
	}
	if err := json.Unmarshal(address, &o.ShippingAddress); err != nil {
		return Order{}, fmt.Errorf("decode shipping address: %w", err)
	}
	return o, nil
}

func encodeJSON(o Order) (customer, address []byte, err error) {
	if customer, err = json.Marshal(o.Customer); err != nil {
		return nil, nil, err
	}
	if address, err = json.Marshal(o.ShippingAddress); err != nil {
		return nil, nil, err
	}
	return customer, address, nil
}
