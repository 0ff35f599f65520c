package inventory

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ariefcatur/go-saga-orders/internal/postgres"
)

type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

func (s *PostgresStore) WithTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return postgres.WithTx(ctx, s.pool, fn)
}

const productColumns = `id, sku, name, category, price, stock_quantity, reserved_quantity,
	low_stock_threshold, active, created_at, updated_at`

func scanProduct(row pgx.Row) (Product, error) {
	var p Product
	err := row.Scan(&p.ID, &p.SKU, &p.Name, &p.Category, &p.Price, &p.StockQuantity, &p.ReservedQuantity,
		&p.LowStockThreshold, &p.Active, &p.CreatedAt, &p.UpdatedAt)
	return p, err
}

func (s *PostgresStore) GetProduct(ctx context.Context, id string) (Product, error) {
	p, err := scanProduct(postgres.Conn(ctx, s.pool).QueryRow(ctx,
		`SELECT `+productColumns+` FROM products WHERE id = $1`, id))
	if postgres.IsNoRows(err) {
		return Product{}, ErrProductNotFound
	}
	return p, err
}

// GetProductsForUpdate locks rows in id order so concurrent transactions
// touching overlapping products queue up instead of deadlocking.
func (s *PostgresStore) GetProductsForUpdate(ctx context.Context, ids []string) (map[string]Product, error) {
	rows, err := postgres.Conn(ctx, s.pool).Query(ctx,
		`SELECT `+productColumns+` FROM products WHERE id = ANY($1) ORDER BY id FOR UPDATE`, ids)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string]Product, len(ids))
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, err
		}
		out[p.ID] = p
	}
	return out, rows.Err()
}

func (s *PostgresStore) ListProducts(ctx context.Context) ([]Product, error) {
	rows, err := postgres.Conn(ctx, s.pool).Query(ctx, `SELECT `+productColumns+` FROM products ORDER BY sku`)
	if err != nil {
		return nil, err
	}
	return collectProducts(rows)
}

func (s *PostgresStore) SearchProducts(ctx context.Context, term string, limit int) ([]Product, error) {
	pattern := "%" + escapeLike(term) + "%"
	rows, err := postgres.Conn(ctx, s.pool).Query(ctx, `
		SELECT `+productColumns+` FROM products
		WHERE active AND (name ILIKE $1 OR sku ILIKE $1 OR category ILIKE $1)
		ORDER BY sku
		LIMIT $2`, pattern, limit)
	if err != nil {
		return nil, err
	}
	return collectProducts(rows)
}

func collectProducts(rows pgx.Rows) ([]Product, error) {
	defer rows.Close()
	var out []Product
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func escapeLike(s string) string { return likeEscaper.Replace(s) }

func (s *PostgresStore) SaveProduct(ctx context.Context, p Product) error {
	_, err := postgres.Conn(ctx, s.pool).Exec(ctx, `
		INSERT INTO products (`+productColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (id) DO UPDATE SET
			sku = EXCLUDED.sku,
			name = EXCLUDED.name,
			category = EXCLUDED.category,
			price = EXCLUDED.price,
			stock_quantity = EXCLUDED.stock_quantity,
			reserved_quantity = EXCLUDED.reserved_quantity,
			low_stock_threshold = EXCLUDED.low_stock_threshold,
			active = EXCLUDED.active,
			updated_at = EXCLUDED.updated_at`,
		p.ID, p.SKU, p.Name, p.Category, p.Price, p.StockQuantity, p.ReservedQuantity,
		p.LowStockThreshold, p.Active, p.CreatedAt, p.UpdatedAt)
	if err != nil {
		return fmt.Errorf("save product %s: %w", p.ID, err)
	}
	return nil
}

const reservationColumns = `id, order_id, customer_id, items, status, reason, expires_at, created_at, updated_at`

func scanReservation(row pgx.Row) (Reservation, error) {
	var (
		r      Reservation
		items  []byte
		status string
	)
	if err := row.Scan(&r.ID, &r.OrderID, &r.CustomerID, &items, &status, &r.Reason, &r.ExpiresAt, &r.CreatedAt, &r.UpdatedAt); err != nil {
		return Reservation{}, err
	}
	r.Status = ReservationStatus(status)
	if err := json.Unmarshal(items, &r.Items); err != nil {
		return Reservation{}, fmt.Errorf("decode reservation items: %w", err)
	}
	return r, nil
}

func (s *PostgresStore) GetReservation(ctx context.Context, orderID string) (Reservation, error) {
	r, err := scanReservation(postgres.Conn(ctx, s.pool).QueryRow(ctx,
		`SELECT `+reservationColumns+` FROM reservations WHERE order_id = $1`, orderID))
	if postgres.IsNoRows(err) {
		return Reservation{}, ErrReservationNotFound
	}
	return r, err
}

func (s *PostgresStore) GetReservationForUpdate(ctx context.Context, orderID string) (Reservation, error) {
	r, err := scanReservation(postgres.Conn(ctx, s.pool).QueryRow(ctx,
		`SELECT `+reservationColumns+` FROM reservations WHERE order_id = $1 FOR UPDATE`, orderID))
	if postgres.IsNoRows(err) {
		return Reservation{}, ErrReservationNotFound
	}
	return r, err
}

func (s *PostgresStore) ListReservations(ctx context.Context, f ReservationFilter) ([]Reservation, error) {
	rows, err := postgres.Conn(ctx, s.pool).Query(ctx, `
		SELECT `+reservationColumns+` FROM reservations
		WHERE ($1 = '' OR customer_id = $1) AND ($2 = '' OR status = $2)
		ORDER BY created_at`, f.CustomerID, string(f.Status))
	if err != nil {
		return nil, err
	}
	return collectReservations(rows)
}

func collectReservations(rows pgx.Rows) ([]Reservation, error) {
	defer rows.Close()
	var out []Reservation
	for rows.Next() {
		r, err := scanReservation(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *PostgresStore) SaveReservation(ctx context.Context, r Reservation) error {
	items, err := json.Marshal(r.Items)
	if err != nil {
		return err
	}
	_, err = postgres.Conn(ctx, s.pool).Exec(ctx, `
		INSERT INTO reservations (`+reservationColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (id) DO UPDATE SET
			status = EXCLUDED.status,
			reason = EXCLUDED.reason,
			updated_at = EXCLUDED.updated_at`,
		r.ID, r.OrderID, r.CustomerID, items, string(r.Status), r.Reason, r.ExpiresAt, r.CreatedAt, r.UpdatedAt)
	if err != nil {
		return fmt.Errorf("save reservation %s: %w", r.ID, err)
	}
	return nil
}

func (s *PostgresStore) ListExpiredReservations(ctx context.Context, now time.Time, limit int) ([]Reservation, error) {
	rows, err := postgres.Conn(ctx, s.pool).Query(ctx, `
		SELECT `+reservationColumns+` FROM reservations
		WHERE status = 'pending' AND expires_at < $1
		ORDER BY expires_at
		LIMIT $2`, now, limit)
	if err != nil {
		return nil, err
	}
	return collectReservations(rows)
}

func (s *PostgresStore) GetRequestOutcome(ctx context.Context, orderID string) (RequestOutcome, bool, error) {
	var outcome string
	err := postgres.Conn(ctx, s.pool).QueryRow(ctx,
		`SELECT outcome FROM reservation_requests WHERE order_id = $1`, orderID).Scan(&outcome)
	if postgres.IsNoRows(err) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return RequestOutcome(outcome), true, nil
}

// SaveRequestOutcome fails with a unique violation when another transaction
// recorded the order first; the caller's transaction then rolls back.
func (s *PostgresStore) SaveRequestOutcome(ctx context.Context, orderID string, outcome RequestOutcome, at time.Time) error {
	_, err := postgres.Conn(ctx, s.pool).Exec(ctx,
		`INSERT INTO reservation_requests (order_id, outcome, created_at) VALUES ($1, $2, $3)`,
		orderID, string(outcome), at)
	return err
}
