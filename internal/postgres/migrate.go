package postgres

import (
	"context"
	"embed"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

//go:embed schema/*.sql
var schemaFS embed.FS

// Schema names one embedded schema file.
type Schema string

const (
	SchemaOutbox    Schema = "outbox"
	SchemaOrders    Schema = "orders"
	SchemaInventory Schema = "inventory"
	SchemaPayment   Schema = "payment"
)

// Migrate applies the named schemas. The files are idempotent DDL.
func Migrate(ctx context.Context, pool *pgxpool.Pool, schemas ...Schema) error {
	for _, s := range schemas {
		ddl, err := schemaFS.ReadFile(fmt.Sprintf("schema/%s.sql", s))
		if err != nil {
			return fmt.Errorf("read schema %s: %w", s, err)
		}
		if _, err := pool.Exec(ctx, string(ddl)); err != nil {
			return fmt.Errorf("apply schema %s: %w", s, err)
		}
	}
	return nil
}
