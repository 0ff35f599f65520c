package outbox

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ariefcatur/go-saga-orders/internal/postgres"
)

// claimLease hides claimed rows from other relays while they are published.
const claimLease = 30 * time.Second

type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

func (s *PostgresStore) Enqueue(ctx context.Context, msgs ...Message) error {
	q := postgres.Conn(ctx, s.pool)
	for _, m := range msgs {
		headers, err := json.Marshal(m.Headers)
		if err != nil {
			return fmt.Errorf("encode headers: %w", err)
		}
		if _, err := q.Exec(ctx, `
			INSERT INTO outbox_messages (id, topic, msg_key, payload, headers, status, available_at, created_at)
			VALUES ($1, $2, $3, $4, $5, 'pending', $6, $7)`,
			m.ID, m.Topic, m.Key, m.Payload, headers, m.AvailableAt, m.CreatedAt,
		); err != nil {
			return fmt.Errorf("insert outbox message: %w", err)
		}
	}
	return nil
}

func (s *PostgresStore) FetchPending(ctx context.Context, limit int, now time.Time) ([]Message, error) {
	rows, err := s.pool.Query(ctx, `
		UPDATE outbox_messages o
		SET available_at = $3
		FROM (
			SELECT id FROM outbox_messages
			WHERE status = 'pending' AND available_at <= $1
			ORDER BY created_at
			LIMIT $2
			FOR UPDATE SKIP LOCKED
		) claimed
		WHERE o.id = claimed.id
		RETURNING o.id, o.topic, o.msg_key, o.payload, o.headers, o.status, o.attempts,
		          COALESCE(o.last_error, ''), o.created_at`,
		now, limit, now.Add(claimLease),
	)
	if err != nil {
		return nil, fmt.Errorf("claim outbox batch: %w", err)
	}
	defer rows.Close()

	var out []Message
	for rows.Next() {
		var (
			m       Message
			headers []byte
			status  string
		)
		if err := rows.Scan(&m.ID, &m.Topic, &m.Key, &m.Payload, &headers, &status, &m.Attempts, &m.LastError, &m.CreatedAt); err != nil {
			return nil, err
		}
		m.Status = Status(status)
		if err := json.Unmarshal(headers, &m.Headers); err != nil {
			return nil, fmt.Errorf("decode headers of %s: %w", m.ID, err)
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	// RETURNING does not keep the subquery order.
	sortByCreated(out)
	return out, nil
}

func (s *PostgresStore) MarkPublished(ctx context.Context, id string, at time.Time) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE outbox_messages SET status = 'published', published_at = $2 WHERE id = $1`, id, at)
	return err
}

func (s *PostgresStore) MarkFailed(ctx context.Context, id string, cause error, retryAt time.Time) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE outbox_messages
		SET attempts = attempts + 1, last_error = $2, available_at = $3
		WHERE id = $1`, id, cause.Error(), retryAt)
	return err
}

func (s *PostgresStore) MarkDead(ctx context.Context, id string, cause error) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE outbox_messages
		SET attempts = attempts + 1, last_error = $2, status = 'dead'
		WHERE id = $1`, id, cause.Error())
	return err
}
