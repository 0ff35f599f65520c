package payment

import (
	"context"
	"encoding/json"
	"fmt"

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

const paymentColumns = `payment_intent_id, order_id, customer_id, customer_email, amount, currency, status,
	processor_intent_id, client_secret, payment_method_id, items, error_message,
	refund_id, refund_amount, refund_reason, paid_at, failed_at, refunded_at, cancelled_at,
	created_at, updated_at`

func scanPayment(row pgx.Row) (Payment, error) {
	var (
		p      Payment
		status string
		items  []byte
	)
	err := row.Scan(&p.PaymentIntentID, &p.OrderID, &p.CustomerID, &p.CustomerEmail, &p.Amount, &p.Currency, &status,
		&p.ProcessorIntentID, &p.ClientSecret, &p.PaymentMethodID, &items, &p.ErrorMessage,
		&p.RefundID, &p.RefundAmount, &p.RefundReason, &p.PaidAt, &p.FailedAt, &p.RefundedAt, &p.CancelledAt,
		&p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return Payment{}, err
	}
	p.Status = Status(status)
	if err := json.Unmarshal(items, &p.Items); err != nil {
		return Payment{}, fmt.Errorf("decode payment items: %w", err)
	}
	return p, nil
}

func (s *PostgresStore) getBy(ctx context.Context, column, value string) (Payment, error) {
	p, err := scanPayment(postgres.Conn(ctx, s.pool).QueryRow(ctx,
		`SELECT `+paymentColumns+` FROM payments WHERE `+column+` = $1`, value))
	if postgres.IsNoRows(err) {
		return Payment{}, ErrNotFound
	}
	return p, err
}

func (s *PostgresStore) Get(ctx context.Context, id string) (Payment, error) {
	return s.getBy(ctx, "payment_intent_id", id)
}

func (s *PostgresStore) GetByProcessorIntent(ctx context.Context, processorIntentID string) (Payment, error) {
	return s.getBy(ctx, "processor_intent_id", processorIntentID)
}

func (s *PostgresStore) List(ctx context.Context, f ListFilter) ([]Payment, error) {
	var limit *int
	if f.Limit > 0 {
		limit = &f.Limit
	}
	rows, err := postgres.Conn(ctx, s.pool).Query(ctx,
		`SELECT `+paymentColumns+` FROM payments
		WHERE ($1 = '' OR order_id = $1) AND ($2 = '' OR customer_id = $2)
		ORDER BY created_at, payment_intent_id
		LIMIT $3`, f.OrderID, f.CustomerID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Payment
	for rows.Next() {
		p, err := scanPayment(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *PostgresStore) Save(ctx context.Context, p Payment) error {
	items, err := json.Marshal(p.Items)
	if err != nil {
		return err
	}
	if p.Items == nil {
		items = []byte("[]")
	}
	_, err = postgres.Conn(ctx, s.pool).Exec(ctx, `
		INSERT INTO payments (`+paymentColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21)
		ON CONFLICT (payment_intent_id) DO UPDATE SET
			status = EXCLUDED.status,
			processor_intent_id = EXCLUDED.processor_intent_id,
			client_secret = EXCLUDED.client_secret,
			payment_method_id = EXCLUDED.payment_method_id,
			error_message = EXCLUDED.error_message,
			refund_id = EXCLUDED.refund_id,
			refund_amount = EXCLUDED.refund_amount,
			refund_reason = EXCLUDED.refund_reason,
			paid_at = EXCLUDED.paid_at,
			failed_at = EXCLUDED.failed_at,
			refunded_at = EXCLUDED.refunded_at,
			cancelled_at = EXCLUDED.cancelled_at,
			updated_at = EXCLUDED.updated_at`,
		p.PaymentIntentID, p.OrderID, p.CustomerID, p.CustomerEmail, p.Amount, p.Currency, string(p.Status),
		p.ProcessorIntentID, p.ClientSecret, p.PaymentMethodID, items, p.ErrorMessage,
		p.RefundID, p.RefundAmount, p.RefundReason, p.PaidAt, p.FailedAt, p.RefundedAt, p.CancelledAt,
		p.CreatedAt, p.UpdatedAt)
	if err != nil {
		return fmt.Errorf("save payment %s: %w", p.PaymentIntentID, err)
	}
	return nil
}
